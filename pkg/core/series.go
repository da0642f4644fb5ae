package core

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// DefaultSliceThickness is used when a series carries no usable thickness.
const DefaultSliceThickness = 1.0

// Thickness is a slice thickness in millimetres as found in series metadata.
// It decodes from either a JSON string or a JSON number and keeps the raw text.
type Thickness string

// UnmarshalJSON accepts "2.5", 2.5 and null.
func (t *Thickness) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Thickness(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = Thickness(n.String())
	return nil
}

// Millimetres returns the parsed thickness, falling back to
// DefaultSliceThickness when missing, non-numeric, non-finite or not positive.
func (t Thickness) Millimetres() float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return DefaultSliceThickness
	}
	return v
}

// PixelSpacing converts a thickness into mm per image pixel.
func (t Thickness) PixelSpacing() float64 {
	return t.Millimetres() / 10
}

// ValidSeriesID reports whether id is non-empty and safe to use as a single
// path element.
func ValidSeriesID(id string) bool {
	return id != "" && id != "." && !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

// Series is an ordered stack of images from one acquisition.
type Series struct {
	ID             string    `json:"id"`
	Description    string    `json:"description,omitempty"`
	Modality       string    `json:"modality,omitempty"`
	BodyPart       string    `json:"body_part,omitempty"`
	Orientation    string    `json:"orientation,omitempty"`
	SliceThickness Thickness `json:"slice_thickness,omitempty"`
	ImagePath      string    `json:"imagePath,omitempty"`
	Images         []string  `json:"images"`
}

// PixelSpacing returns the mm-per-pixel factor for annotations on this series.
func (s *Series) PixelSpacing() float64 {
	if s == nil {
		return Thickness("").PixelSpacing()
	}
	return s.SliceThickness.PixelSpacing()
}
