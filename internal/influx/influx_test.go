package influx

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/mriview/viewer/internal/config"
	"github.com/mriview/viewer/internal/store"
	"github.com/mriview/viewer/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestChangePoint(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()
	p := ChangePoint(store.Change{
		Key:  core.Key{SeriesID: "series_001", ImageIndex: 3},
		Kind: core.KindMarker,
		Op:   store.OpAdd,
		ID:   "m1",
	}, at)

	line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
	assert.Contains(t, line, "annotation_change,")
	assert.Contains(t, line, "kind=marker")
	assert.Contains(t, line, "op=add")
	assert.Contains(t, line, "series=series_001")
	assert.Contains(t, line, `id="m1"`)
	assert.Contains(t, line, "image=3i")
	assert.Contains(t, line, " 1700000000000000000")
}

func TestChangePoint_ImportHasNoKind(t *testing.T) {
	p := ChangePoint(store.Change{Key: core.Key{SeriesID: "A"}, Op: store.OpImport}, time.Now())
	line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
	assert.Contains(t, line, "kind=set")
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(zerolog.Nop(), config.InfluxConfig{})
	assert.Error(t, m.Connect(context.Background()))
	assert.False(t, m.IsValid)
}

func TestWritePoint_NoSink(t *testing.T) {
	m := NewManager(zerolog.Nop(), config.InfluxConfig{})
	err := m.WritePoint(ChangePoint(store.Change{Key: core.Key{SeriesID: "A"}}, time.Now()))
	assert.Error(t, err)
}

func TestWritePoint_Backup(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(zerolog.Nop(), config.InfluxConfig{})
	m.UseBackup(nopCloser{&buf})

	c := store.Change{Key: core.Key{SeriesID: "A", ImageIndex: 1}, Kind: core.KindCrosshair, Op: store.OpDelete, ID: "c9"}
	require.NoError(t, m.WritePoint(ChangePoint(c, time.Unix(10, 0))))
	require.NoError(t, m.Close())

	gz, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)

	assert.Contains(t, string(data), "kind=crosshair")
	assert.Contains(t, string(data), `id="c9"`)
	assert.True(t, bytes.HasSuffix(data, []byte("\n")))
}
