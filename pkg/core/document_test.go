package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDocument(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewAnnotationSet(Key{SeriesID: "b", ImageIndex: 0}, 0.1, now)
	b := NewAnnotationSet(Key{SeriesID: "a", ImageIndex: 3}, 0.1, now)
	c := NewAnnotationSet(Key{SeriesID: "a", ImageIndex: 1}, 0.1, now)

	doc := NewDocument([]*AnnotationSet{a, nil, b, c})

	assert.Equal(t, DocumentVersion, doc.Version)
	assert.Equal(t, []*AnnotationSet{c, b, a}, doc.Annotations)
}

func TestNewDocument_Empty(t *testing.T) {
	doc := NewDocument(nil)
	assert.NotNil(t, doc.Annotations)
	assert.Empty(t, doc.Annotations)
}
