package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mriview/viewer/pkg/core"
	"gorm.io/datatypes"
)

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&AnnotationRecord{},
}

// AnnotationRecord is the persisted form of one image's annotation set.
// The whole set is stored as a JSON document keyed by "{seriesId}-{imageIndex}".
type AnnotationRecord struct {
	Key          string         `json:"key" gorm:"primaryKey;size:255"`
	SeriesID     string         `json:"seriesId" gorm:"size:127;index"`
	ImageIndex   int            `json:"imageIndex" gorm:"index"`
	PixelSpacing float64        `json:"pixelSpacing"`
	Markers      int            `json:"markers"`
	Measurements int            `json:"measurements"`
	Crosshairs   int            `json:"crosshairs"`
	Payload      datatypes.JSON `json:"payload"`
	CreatedAt    time.Time      `json:"createdAt"`
	ModifiedAt   time.Time      `json:"modifiedAt" gorm:"index"`
}

func (*AnnotationRecord) TableName() string {
	return "annotation_records"
}

// NewAnnotationRecord serializes set into a record.
func NewAnnotationRecord(set *core.AnnotationSet) (AnnotationRecord, error) {
	payload, err := json.Marshal(set)
	if err != nil {
		return AnnotationRecord{}, fmt.Errorf("failed to encode annotation set %s: %w", set.Key(), err)
	}
	return AnnotationRecord{
		Key:          set.Key().String(),
		SeriesID:     set.SeriesID,
		ImageIndex:   set.ImageIndex,
		PixelSpacing: set.PixelSpacing,
		Markers:      len(set.Markers),
		Measurements: len(set.Measurements),
		Crosshairs:   len(set.Crosshairs),
		Payload:      datatypes.JSON(payload),
		CreatedAt:    set.CreatedAt,
		ModifiedAt:   set.ModifiedAt,
	}, nil
}

// AnnotationSet decodes the stored document.
func (r AnnotationRecord) AnnotationSet() (*core.AnnotationSet, error) {
	return DecodeAnnotationSet(r.Payload)
}

// DecodeAnnotationSet parses a persisted annotation document. A document that
// is not valid JSON or lacks a series id is reported as an error.
func DecodeAnnotationSet(data []byte) (*core.AnnotationSet, error) {
	var set core.AnnotationSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to decode annotation set: %w", err)
	}
	if set.SeriesID == "" {
		return nil, fmt.Errorf("annotation set has no series id")
	}
	set.Normalize()
	return &set, nil
}
