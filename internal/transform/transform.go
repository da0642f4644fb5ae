// Package transform maps points between viewport, image-pixel and overlay space.
//
// The displayed image sits inside a layout box whose center is the transform
// origin. Zoom and pan are applied around that origin as scale(zoom) followed by
// translate(pan), so a point p relative to the origin is displayed at
// zoom*(p+pan). The overlay shares the canvas origin but is not itself
// transformed, which keeps annotation glyphs at a constant on-screen size.
package transform

import (
	"errors"
	"math"

	"github.com/mriview/viewer/pkg/core"
	"gonum.org/v1/gonum/spatial/r2"
)

var (
	// ErrNoLayout is returned when the layout source has nothing to report yet.
	ErrNoLayout = errors.New("layout not available")
	// ErrDegenerateLayout is returned for zero-sized images or a non-positive zoom.
	ErrDegenerateLayout = errors.New("degenerate layout")
)

// ViewState is the user's current zoom and pan.
type ViewState struct {
	Zoom float64 `json:"zoom"`
	Pan  r2.Vec  `json:"pan"`
}

// DefaultViewState is the unzoomed, unpanned view.
func DefaultViewState() ViewState {
	return ViewState{Zoom: 1}
}

// Rect is an axis-aligned box in viewport coordinates.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Origin returns the top-left corner.
func (r Rect) Origin() r2.Vec { return r2.Vec{X: r.X, Y: r.Y} }

// Center returns the midpoint.
func (r Rect) Center() r2.Vec { return r2.Vec{X: r.X + r.W/2, Y: r.Y + r.H/2} }

// Layout is the live geometry reported by the display surface.
type Layout struct {
	// Canvas is the overlay canvas box.
	Canvas Rect `json:"canvas"`
	// Image is the displayed image box before zoom and pan are applied.
	Image         Rect    `json:"image"`
	NaturalWidth  float64 `json:"naturalWidth"`
	NaturalHeight float64 `json:"naturalHeight"`
}

// Identity returns a layout in which overlay space coincides with image
// pixels of a natural-size image. Used when burning annotations into copies.
func Identity(width, height float64) Layout {
	box := Rect{W: width, H: height}
	return Layout{Canvas: box, Image: box, NaturalWidth: width, NaturalHeight: height}
}

// ImagePoint is a converted image-pixel position.
type ImagePoint struct {
	X     float64
	Y     float64
	Valid bool
}

// Point returns the position as a core.Point.
func (p ImagePoint) Point() core.Point { return core.Point{X: p.X, Y: p.Y} }

// Projection pairs one layout snapshot with one view state.
type Projection struct {
	Layout Layout
	View   ViewState
}

// NewProjection validates the geometry and returns a projection over it.
func NewProjection(layout Layout, view ViewState) (Projection, error) {
	if !finitePositive(layout.NaturalWidth) || !finitePositive(layout.NaturalHeight) ||
		!finitePositive(layout.Image.W) || !finitePositive(layout.Image.H) ||
		!finitePositive(view.Zoom) {
		return Projection{}, ErrDegenerateLayout
	}
	return Projection{Layout: layout, View: view}, nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// scale returns displayed size divided by natural size per axis.
func (p Projection) scale() r2.Vec {
	return r2.Vec{
		X: p.Layout.Image.W / p.Layout.NaturalWidth,
		Y: p.Layout.Image.H / p.Layout.NaturalHeight,
	}
}

// center returns the transform origin relative to the canvas.
func (p Projection) center() r2.Vec {
	return r2.Sub(p.Layout.Image.Center(), p.Layout.Canvas.Origin())
}

func (p Projection) halfNatural() r2.Vec {
	return r2.Vec{X: p.Layout.NaturalWidth / 2, Y: p.Layout.NaturalHeight / 2}
}

// ViewportToImage converts a viewport position into image pixels. The result
// is valid only when it falls inside the natural image bounds.
func (p Projection) ViewportToImage(x, y float64) ImagePoint {
	rel := r2.Sub(r2.Vec{X: x, Y: y}, p.Layout.Canvas.Origin())
	d := r2.Sub(rel, p.center())
	d = r2.Scale(1/p.View.Zoom, d)
	d = r2.Sub(d, p.View.Pan)
	s := p.scale()
	img := r2.Add(r2.Vec{X: d.X / s.X, Y: d.Y / s.Y}, p.halfNatural())

	valid := img.X >= 0 && img.X <= p.Layout.NaturalWidth &&
		img.Y >= 0 && img.Y <= p.Layout.NaturalHeight
	return ImagePoint{X: img.X, Y: img.Y, Valid: valid}
}

// ImageToOverlay converts image pixels into overlay coordinates.
func (p Projection) ImageToOverlay(pt core.Point) r2.Vec {
	s := p.scale()
	d := r2.Sub(r2.Vec{X: pt.X, Y: pt.Y}, p.halfNatural())
	d = r2.Vec{X: d.X * s.X, Y: d.Y * s.Y}
	d = r2.Scale(p.View.Zoom, r2.Add(d, p.View.Pan))
	return r2.Add(d, p.center())
}

// OverlayToViewport converts overlay coordinates back into the viewport.
func (p Projection) OverlayToViewport(v r2.Vec) r2.Vec {
	return r2.Add(v, p.Layout.Canvas.Origin())
}

// LayoutSource reports the current display geometry. ok is false while
// the image has not been laid out.
type LayoutSource interface {
	Layout() (Layout, bool)
}

// LayoutFunc adapts a function to LayoutSource.
type LayoutFunc func() (Layout, bool)

// Layout calls f.
func (f LayoutFunc) Layout() (Layout, bool) { return f() }

// Transformer re-reads the layout on every conversion; nothing is cached
// between calls.
type Transformer struct {
	source LayoutSource
}

// New creates a Transformer backed by source.
func New(source LayoutSource) *Transformer {
	return &Transformer{source: source}
}

// Projection snapshots the current layout under view.
func (t *Transformer) Projection(view ViewState) (Projection, error) {
	if t == nil || t.source == nil {
		return Projection{}, ErrNoLayout
	}
	layout, ok := t.source.Layout()
	if !ok {
		return Projection{}, ErrNoLayout
	}
	return NewProjection(layout, view)
}

// ViewportToImage converts a viewport position into image pixels. An
// unavailable or degenerate layout yields an invalid zero point.
func (t *Transformer) ViewportToImage(view ViewState, x, y float64) ImagePoint {
	p, err := t.Projection(view)
	if err != nil {
		return ImagePoint{}
	}
	return p.ViewportToImage(x, y)
}

// ImageToOverlay converts image pixels into overlay coordinates. ok is false
// when no usable layout is available.
func (t *Transformer) ImageToOverlay(view ViewState, pt core.Point) (r2.Vec, bool) {
	p, err := t.Projection(view)
	if err != nil {
		return r2.Vec{}, false
	}
	return p.ImageToOverlay(pt), true
}
