// Package render turns an annotation set into a Scene: a flat, ordered list
// of drawing primitives in overlay space. Surface adapters in the svg,
// raster and pdf subpackages draw a Scene; none of them repeat the geometry.
package render

import (
	"encoding/json"
	"math"

	"github.com/mriview/viewer/pkg/core"
	"gonum.org/v1/gonum/spatial/r2"
)

// Projector maps image-pixel coordinates into overlay space.
// transform.Projection satisfies it.
type Projector interface {
	ImageToOverlay(p core.Point) r2.Vec
}

// ProjectorFunc adapts a function to Projector.
type ProjectorFunc func(p core.Point) r2.Vec

func (f ProjectorFunc) ImageToOverlay(p core.Point) r2.Vec { return f(p) }

// Style holds the cosmetic constants of the glyphs. All lengths are in
// overlay units, so glyphs keep a constant on-screen size under zoom.
type Style struct {
	MarkerColor     string
	PinHeadRadius   float64
	PinHeight       float64
	RulerColor      string
	PreviewColor    string
	EndpointRadius  float64
	LabelOffset     float64
	CrossHalfLength float64
	CrossGap        float64
	CrossHColor     string
	CrossVColor     string
	CrossHitRadius  float64
	HitTolerance    float64
}

// DefaultStyle returns the standard look.
func DefaultStyle() Style {
	return Style{
		MarkerColor:     "#ff3b30",
		PinHeadRadius:   10,
		PinHeight:       26,
		RulerColor:      "#ffd60a",
		PreviewColor:    "#ffd60a",
		EndpointRadius:  3,
		LabelOffset:     12,
		CrossHalfLength: 5000,
		CrossGap:        6,
		CrossHColor:     "#00e5ff",
		CrossVColor:     "#ff2d95",
		CrossHitRadius:  12,
		HitTolerance:    6,
	}
}

// Primitive is one drawable element. It is implemented by Pin, Ruler and
// Cross only.
type Primitive interface {
	Kind() core.Kind
	SourceID() string
	hit(p r2.Vec) bool
}

// Pin is a marker glyph. Its tip sits on the marker position and its round
// head, directly above the tip, shows the ordinal.
type Pin struct {
	ID         string  `json:"id"`
	Tip        r2.Vec  `json:"tip"`
	HeadCenter r2.Vec  `json:"headCenter"`
	HeadRadius float64 `json:"headRadius"`
	Number     int     `json:"number"`
	Color      string  `json:"color"`
}

func (Pin) Kind() core.Kind    { return core.KindMarker }
func (p Pin) SourceID() string { return p.ID }

func (p Pin) hit(v r2.Vec) bool {
	if r2.Norm(r2.Sub(v, p.HeadCenter)) <= p.HeadRadius {
		return true
	}
	return segmentDistance(v, p.HeadCenter, p.Tip) <= p.HeadRadius/2
}

// Outline returns the left and right points where the pin body leaves the
// head circle, the tangent points from the tip.
func (p Pin) Outline() (left, right r2.Vec) {
	d := r2.Sub(p.Tip, p.HeadCenter)
	dist := r2.Norm(d)
	if dist <= p.HeadRadius {
		return p.HeadCenter, p.HeadCenter
	}
	theta := math.Acos(p.HeadRadius / dist)
	base := math.Atan2(d.Y, d.X)
	left = r2.Add(p.HeadCenter, r2.Vec{X: p.HeadRadius * math.Cos(base+theta), Y: p.HeadRadius * math.Sin(base+theta)})
	right = r2.Add(p.HeadCenter, r2.Vec{X: p.HeadRadius * math.Cos(base-theta), Y: p.HeadRadius * math.Sin(base-theta)})
	return left, right
}

// Ruler is a measurement: a line, a dot at each end and a label beside the
// midpoint. A Preview ruler is the in-progress measurement and has no ID.
type Ruler struct {
	ID             string  `json:"id,omitempty"`
	Start          r2.Vec  `json:"start"`
	End            r2.Vec  `json:"end"`
	EndpointRadius float64 `json:"endpointRadius"`
	LabelPos       r2.Vec  `json:"labelPos"`
	Label          string  `json:"label"`
	Color          string  `json:"color"`
	Preview        bool    `json:"preview,omitempty"`
	Tolerance      float64 `json:"-"`
}

func (Ruler) Kind() core.Kind    { return core.KindMeasurement }
func (r Ruler) SourceID() string { return r.ID }

func (r Ruler) hit(v r2.Vec) bool {
	if r.Preview {
		return false
	}
	return segmentDistance(v, r.Start, r.End) <= math.Max(r.Tolerance, r.EndpointRadius)
}

// Cross is a crosshair: a horizontal and a vertical segment through Center,
// each interrupted by a gap of Gap on either side of the center.
type Cross struct {
	ID         string  `json:"id"`
	Center     r2.Vec  `json:"center"`
	HalfLength float64 `json:"halfLength"`
	Gap        float64 `json:"gap"`
	HColor     string  `json:"hColor"`
	VColor     string  `json:"vColor"`
	HitRadius  float64 `json:"hitRadius"`
}

func (Cross) Kind() core.Kind    { return core.KindCrosshair }
func (c Cross) SourceID() string { return c.ID }

func (c Cross) hit(v r2.Vec) bool {
	return r2.Norm(r2.Sub(v, c.Center)) <= c.HitRadius
}

// Segments returns the four visible line pieces: left, right, top, bottom.
func (c Cross) Segments() [4][2]r2.Vec {
	x, y := c.Center.X, c.Center.Y
	return [4][2]r2.Vec{
		{{X: x - c.HalfLength, Y: y}, {X: x - c.Gap, Y: y}},
		{{X: x + c.Gap, Y: y}, {X: x + c.HalfLength, Y: y}},
		{{X: x, Y: y - c.HalfLength}, {X: x, Y: y - c.Gap}},
		{{X: x, Y: y + c.Gap}, {X: x, Y: y + c.HalfLength}},
	}
}

// Scene is the complete drawing for one image in draw order.
type Scene struct {
	Key   core.Key
	Items []Primitive
}

type taggedItem struct {
	Kind core.Kind `json:"kind"`
	Data Primitive `json:"data"`
}

// MarshalJSON tags every item with its kind.
func (s Scene) MarshalJSON() ([]byte, error) {
	items := make([]taggedItem, len(s.Items))
	for i, it := range s.Items {
		items[i] = taggedItem{Kind: it.Kind(), Data: it}
	}
	return json.Marshal(struct {
		SeriesID   string       `json:"seriesId"`
		ImageIndex int          `json:"imageIndex"`
		Items      []taggedItem `json:"items"`
	}{s.Key.SeriesID, s.Key.ImageIndex, items})
}

// Empty reports whether nothing is drawn.
func (s Scene) Empty() bool { return len(s.Items) == 0 }

// HitTest returns the kind and id of the topmost primitive under p. The
// preview ruler is never hit.
func (s Scene) HitTest(p r2.Vec) (core.Kind, string, bool) {
	for i := len(s.Items) - 1; i >= 0; i-- {
		it := s.Items[i]
		if it.SourceID() != "" && it.hit(p) {
			return it.Kind(), it.SourceID(), true
		}
	}
	return "", "", false
}

// Renderer builds scenes with a fixed style.
type Renderer struct {
	Style Style
}

// New returns a renderer with the given style.
func New(style Style) *Renderer {
	return &Renderer{Style: style}
}

// Render produces the scene for set and the in-progress measurement. A nil
// set renders only the preview, if any. The result depends on nothing but
// its arguments.
func (r *Renderer) Render(key core.Key, set *core.AnnotationSet, active *core.ActiveMeasurement, proj Projector) Scene {
	scene := Scene{Key: key}
	if proj == nil {
		return scene
	}
	spacing := core.Thickness("").PixelSpacing()

	if set != nil {
		spacing = set.PixelSpacing
		for _, m := range set.Markers {
			scene.Items = append(scene.Items, r.pin(m, proj))
		}
		for _, m := range set.Measurements {
			scene.Items = append(scene.Items, r.ruler(m.ID, m.Start(), m.End(), m.Label, false, proj))
		}
	}
	if active != nil {
		preview := core.NewMeasurement("", active.Start, active.End, spacing)
		scene.Items = append(scene.Items, r.ruler("", active.Start, active.End, preview.Label, true, proj))
	}
	if set != nil {
		for _, c := range set.Crosshairs {
			scene.Items = append(scene.Items, r.cross(c, proj))
		}
	}
	return scene
}

func (r *Renderer) pin(m core.Marker, proj Projector) Pin {
	tip := proj.ImageToOverlay(core.Point{X: m.X, Y: m.Y})
	color := m.Color
	if color == "" {
		color = r.Style.MarkerColor
	}
	return Pin{
		ID:         m.ID,
		Tip:        tip,
		HeadCenter: r2.Vec{X: tip.X, Y: tip.Y - r.Style.PinHeight},
		HeadRadius: r.Style.PinHeadRadius,
		Number:     m.Number,
		Color:      color,
	}
}

func (r *Renderer) ruler(id string, start, end core.Point, label string, preview bool, proj Projector) Ruler {
	a := proj.ImageToOverlay(start)
	b := proj.ImageToOverlay(end)
	color := r.Style.RulerColor
	if preview {
		color = r.Style.PreviewColor
	}
	return Ruler{
		ID:             id,
		Start:          a,
		End:            b,
		EndpointRadius: r.Style.EndpointRadius,
		LabelPos:       labelPosition(a, b, r.Style.LabelOffset),
		Label:          label,
		Color:          color,
		Preview:        preview,
		Tolerance:      r.Style.HitTolerance,
	}
}

func (r *Renderer) cross(c core.Crosshair, proj Projector) Cross {
	return Cross{
		ID:         c.ID,
		Center:     proj.ImageToOverlay(core.Point{X: c.X, Y: c.Y}),
		HalfLength: r.Style.CrossHalfLength,
		Gap:        r.Style.CrossGap,
		HColor:     r.Style.CrossHColor,
		VColor:     r.Style.CrossVColor,
		HitRadius:  r.Style.CrossHitRadius,
	}
}

// labelPosition offsets the midpoint of a→b perpendicular to the line, on
// the upper side of the screen.
func labelPosition(a, b r2.Vec, offset float64) r2.Vec {
	mid := r2.Scale(0.5, r2.Add(a, b))
	d := r2.Sub(b, a)
	if r2.Norm(d) == 0 {
		return r2.Vec{X: mid.X, Y: mid.Y - offset}
	}
	n := r2.Unit(r2.Vec{X: -d.Y, Y: d.X})
	if n.Y > 0 || (n.Y == 0 && n.X < 0) {
		n = r2.Scale(-1, n)
	}
	return r2.Add(mid, r2.Scale(offset, n))
}

// segmentDistance is the distance from p to the segment a-b.
func segmentDistance(p, a, b r2.Vec) float64 {
	ab := r2.Sub(b, a)
	l2 := r2.Dot(ab, ab)
	if l2 == 0 {
		return r2.Norm(r2.Sub(p, a))
	}
	t := math.Max(0, math.Min(1, r2.Dot(r2.Sub(p, a), ab)/l2))
	return r2.Norm(r2.Sub(p, r2.Add(a, r2.Scale(t, ab))))
}
