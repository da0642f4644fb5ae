// pkg/core/annotation.go
package core

import (
	"fmt"
	"strconv"
	"time"

	"github.com/peterstace/simplefeatures/geom"
	"gonum.org/v1/gonum/floats/scalar"
)

// Kind identifies one of the closed set of annotation variants.
type Kind string

const (
	KindMarker      Kind = "marker"
	KindMeasurement Kind = "measurement"
	KindCrosshair   Kind = "crosshair"
)

// Kinds lists every annotation kind in draw order.
var Kinds = []Kind{KindMarker, KindMeasurement, KindCrosshair}

// ParseKind converts a wire name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMarker, KindMeasurement, KindCrosshair:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown annotation kind: %q", s)
	}
}

// Annotation is implemented by Marker, Measurement and Crosshair only.
type Annotation interface {
	AnnotationID() string
	AnnotationKind() Kind
	sealed()
}

// Point is a position in image-pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Marker is a numbered point annotation.
type Marker struct {
	ID     string  `json:"id"`
	Number int     `json:"number"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Label  string  `json:"label"`
	Color  string  `json:"color"`
}

func (m Marker) AnnotationID() string { return m.ID }
func (Marker) AnnotationKind() Kind   { return KindMarker }
func (Marker) sealed()                {}

// MarkerLabel returns the display label for the marker with the given ordinal.
func MarkerLabel(number int) string {
	return "Point " + strconv.Itoa(number)
}

// Measurement is a completed two-point distance annotation.
// Distances are computed once at completion and never recomputed.
type Measurement struct {
	ID            string  `json:"id"`
	StartX        float64 `json:"startX"`
	StartY        float64 `json:"startY"`
	EndX          float64 `json:"endX"`
	EndY          float64 `json:"endY"`
	PixelDistance float64 `json:"pixelDistance"`
	MMDistance    float64 `json:"mmDistance"`
	Label         string  `json:"label"`
}

func (m Measurement) AnnotationID() string { return m.ID }
func (Measurement) AnnotationKind() Kind   { return KindMeasurement }
func (Measurement) sealed()                {}

// Start returns the first endpoint.
func (m Measurement) Start() Point { return Point{X: m.StartX, Y: m.StartY} }

// End returns the second endpoint.
func (m Measurement) End() Point { return Point{X: m.EndX, Y: m.EndY} }

// NewMeasurement builds a measurement between two image points. Both distances
// are rounded to one decimal; the millimetre distance is derived from the
// unrounded pixel length.
func NewMeasurement(id string, start, end Point, pixelSpacing float64) Measurement {
	raw := segmentLength(start, end)
	mm := scalar.Round(raw*pixelSpacing, 1)
	return Measurement{
		ID:            id,
		StartX:        start.X,
		StartY:        start.Y,
		EndX:          end.X,
		EndY:          end.Y,
		PixelDistance: scalar.Round(raw, 1),
		MMDistance:    mm,
		Label:         MeasurementLabel(mm),
	}
}

// MeasurementLabel formats a millimetre distance for display, e.g. "25 mm" or "12.5 mm".
func MeasurementLabel(mm float64) string {
	return strconv.FormatFloat(mm, 'f', -1, 64) + " mm"
}

func segmentLength(a, b Point) float64 {
	seq := geom.NewSequence([]float64{a.X, a.Y, b.X, b.Y}, geom.DimXY)
	ls, err := geom.NewLineString(seq)
	if err != nil {
		return 0
	}
	return ls.Length()
}

// Crosshair is a point-of-interest target.
type Crosshair struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

func (c Crosshair) AnnotationID() string { return c.ID }
func (Crosshair) AnnotationKind() Kind   { return KindCrosshair }
func (Crosshair) sealed()                {}

// ActiveMeasurement is the transient, in-progress measurement preview.
type ActiveMeasurement struct {
	Start Point
	End   Point
}

// Key identifies the annotation set of one image in one series.
type Key struct {
	SeriesID   string
	ImageIndex int
}

// String returns the persistence key "{seriesId}-{imageIndex}".
func (k Key) String() string {
	return fmt.Sprintf("%s-%d", k.SeriesID, k.ImageIndex)
}

// Valid reports whether the key names a usable series id and a non-negative
// image index. Keys become file names in some backends.
func (k Key) Valid() bool {
	return ValidSeriesID(k.SeriesID) && k.ImageIndex >= 0
}

// AnnotationSet holds all annotations placed on a single image.
type AnnotationSet struct {
	SeriesID     string        `json:"seriesId"`
	ImageIndex   int           `json:"imageIndex"`
	Markers      []Marker      `json:"markers"`
	Measurements []Measurement `json:"measurements"`
	Crosshairs   []Crosshair   `json:"crosshairs"`
	PixelSpacing float64       `json:"pixelSpacing"`
	CreatedAt    time.Time     `json:"createdAt"`
	ModifiedAt   time.Time     `json:"modifiedAt"`
}

// NewAnnotationSet creates an empty set for key with the given spacing.
func NewAnnotationSet(key Key, pixelSpacing float64, now time.Time) *AnnotationSet {
	return &AnnotationSet{
		SeriesID:     key.SeriesID,
		ImageIndex:   key.ImageIndex,
		Markers:      []Marker{},
		Measurements: []Measurement{},
		Crosshairs:   []Crosshair{},
		PixelSpacing: pixelSpacing,
		CreatedAt:    now,
		ModifiedAt:   now,
	}
}

// Key returns the identity of the set.
func (s *AnnotationSet) Key() Key {
	return Key{SeriesID: s.SeriesID, ImageIndex: s.ImageIndex}
}

// Empty reports whether the set holds no annotations.
func (s *AnnotationSet) Empty() bool {
	return len(s.Markers) == 0 && len(s.Measurements) == 0 && len(s.Crosshairs) == 0
}

// Clone returns a deep copy.
func (s *AnnotationSet) Clone() *AnnotationSet {
	if s == nil {
		return nil
	}
	c := *s
	c.Markers = append(make([]Marker, 0, len(s.Markers)), s.Markers...)
	c.Measurements = append(make([]Measurement, 0, len(s.Measurements)), s.Measurements...)
	c.Crosshairs = append(make([]Crosshair, 0, len(s.Crosshairs)), s.Crosshairs...)
	return &c
}

// Renumber assigns markers ordinals 1..N by list position and regenerates labels.
func (s *AnnotationSet) Renumber() {
	for i := range s.Markers {
		s.Markers[i].Number = i + 1
		s.Markers[i].Label = MarkerLabel(i + 1)
	}
}

// Normalize replaces nil slices with empty ones so the record always
// serializes all three lists.
func (s *AnnotationSet) Normalize() {
	if s.Markers == nil {
		s.Markers = []Marker{}
	}
	if s.Measurements == nil {
		s.Measurements = []Measurement{}
	}
	if s.Crosshairs == nil {
		s.Crosshairs = []Crosshair{}
	}
}

// Annotations returns every annotation in draw order.
func (s *AnnotationSet) Annotations() []Annotation {
	out := make([]Annotation, 0, len(s.Markers)+len(s.Measurements)+len(s.Crosshairs))
	for _, m := range s.Markers {
		out = append(out, m)
	}
	for _, m := range s.Measurements {
		out = append(out, m)
	}
	for _, c := range s.Crosshairs {
		out = append(out, c)
	}
	return out
}

// Remove deletes the annotation of the given kind and id. It returns false
// when no such annotation exists. Removing a marker renumbers the rest.
func (s *AnnotationSet) Remove(kind Kind, id string) bool {
	switch kind {
	case KindMarker:
		i := indexOf(s.Markers, id)
		if i < 0 {
			return false
		}
		s.Markers = append(s.Markers[:i], s.Markers[i+1:]...)
		s.Renumber()
	case KindMeasurement:
		i := indexOf(s.Measurements, id)
		if i < 0 {
			return false
		}
		s.Measurements = append(s.Measurements[:i], s.Measurements[i+1:]...)
	case KindCrosshair:
		i := indexOf(s.Crosshairs, id)
		if i < 0 {
			return false
		}
		s.Crosshairs = append(s.Crosshairs[:i], s.Crosshairs[i+1:]...)
	default:
		return false
	}
	return true
}

func indexOf[T Annotation](items []T, id string) int {
	for i, it := range items {
		if it.AnnotationID() == id {
			return i
		}
	}
	return -1
}
