package model

import (
	"testing"
	"time"

	"github.com/mriview/viewer/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableNames(t *testing.T) {
	assert.Equal(t, "annotation_records", (&AnnotationRecord{}).TableName())
}

func TestAnnotationRecord_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	set := core.NewAnnotationSet(core.Key{SeriesID: "series_001", ImageIndex: 4}, 0.5, now)
	set.Markers = append(set.Markers, core.Marker{ID: "m1", Number: 1, X: 10, Y: 20, Label: "Point 1", Color: "#ff3b30"})
	set.Crosshairs = append(set.Crosshairs, core.Crosshair{ID: "c1", X: 5, Y: 6})

	rec, err := NewAnnotationRecord(set)
	require.NoError(t, err)
	assert.Equal(t, "series_001-4", rec.Key)
	assert.Equal(t, 1, rec.Markers)
	assert.Equal(t, 0, rec.Measurements)
	assert.Equal(t, 1, rec.Crosshairs)

	got, err := rec.AnnotationSet()
	require.NoError(t, err)
	assert.Equal(t, set, got)
}

func TestDecodeAnnotationSet_Corrupt(t *testing.T) {
	_, err := DecodeAnnotationSet([]byte(`{not json`))
	assert.Error(t, err)

	_, err = DecodeAnnotationSet([]byte(`{"imageIndex": 2}`))
	assert.Error(t, err)
}

func TestDecodeAnnotationSet_FillsMissingLists(t *testing.T) {
	set, err := DecodeAnnotationSet([]byte(`{"seriesId":"s","imageIndex":0,"pixelSpacing":0.1}`))
	require.NoError(t, err)
	assert.NotNil(t, set.Markers)
	assert.NotNil(t, set.Measurements)
	assert.NotNil(t, set.Crosshairs)
}
