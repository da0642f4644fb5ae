package transform

import (
	"testing"

	"github.com/mriview/viewer/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

func testLayout() Layout {
	return Layout{
		Canvas:        Rect{X: 10, Y: 20, W: 800, H: 600},
		Image:         Rect{X: 110, Y: 70, W: 600, H: 500},
		NaturalWidth:  512,
		NaturalHeight: 427,
	}
}

func staticSource(l Layout) LayoutSource {
	return LayoutFunc(func() (Layout, bool) { return l, true })
}

func TestRoundTrip(t *testing.T) {
	views := map[string]ViewState{
		"identity": DefaultViewState(),
		"zoomed":   {Zoom: 2, Pan: r2.Vec{X: 50, Y: -30}},
	}
	points := []core.Point{{X: 0.5, Y: 0.5}, {X: 256, Y: 200}, {X: 511.5, Y: 12.25}, {X: 500, Y: 420}}

	for name, view := range views {
		t.Run(name, func(t *testing.T) {
			p, err := NewProjection(testLayout(), view)
			require.NoError(t, err)

			for _, pt := range points {
				vp := p.OverlayToViewport(p.ImageToOverlay(pt))
				back := p.ViewportToImage(vp.X, vp.Y)
				assert.True(t, back.Valid)
				assert.InDelta(t, pt.X, back.X, 1e-9)
				assert.InDelta(t, pt.Y, back.Y, 1e-9)
			}
		})
	}
}

func TestViewportToImage_KnownValues(t *testing.T) {
	layout := Identity(512, 512)

	p, err := NewProjection(layout, DefaultViewState())
	require.NoError(t, err)
	got := p.ViewportToImage(100, 200)
	assert.Equal(t, ImagePoint{X: 100, Y: 200, Valid: true}, got)

	p, err = NewProjection(layout, ViewState{Zoom: 2, Pan: r2.Vec{X: 50, Y: -30}})
	require.NoError(t, err)
	got = p.ViewportToImage(256, 256)
	assert.InDelta(t, 206, got.X, 1e-9)
	assert.InDelta(t, 286, got.Y, 1e-9)
	assert.True(t, got.Valid)
}

func TestViewportToImage_DisplayScale(t *testing.T) {
	// 1024 natural pixels shown in a 512 box: one screen pixel is two image pixels.
	layout := Layout{
		Canvas:        Rect{W: 512, H: 512},
		Image:         Rect{W: 512, H: 512},
		NaturalWidth:  1024,
		NaturalHeight: 1024,
	}
	p, err := NewProjection(layout, DefaultViewState())
	require.NoError(t, err)

	got := p.ViewportToImage(10, 20)
	assert.InDelta(t, 20, got.X, 1e-9)
	assert.InDelta(t, 40, got.Y, 1e-9)
}

func TestViewportToImage_OutsideIsInvalid(t *testing.T) {
	p, err := NewProjection(Identity(100, 100), DefaultViewState())
	require.NoError(t, err)

	assert.False(t, p.ViewportToImage(-1, 50).Valid)
	assert.False(t, p.ViewportToImage(50, 100.5).Valid)
	assert.True(t, p.ViewportToImage(100, 100).Valid)
}

func TestIdentity_OverlayEqualsImage(t *testing.T) {
	p, err := NewProjection(Identity(640, 480), DefaultViewState())
	require.NoError(t, err)

	assert.Equal(t, r2.Vec{X: 12, Y: 34}, p.ImageToOverlay(core.Point{X: 12, Y: 34}))
}

func TestNewProjection_Degenerate(t *testing.T) {
	_, err := NewProjection(Identity(0, 100), DefaultViewState())
	assert.ErrorIs(t, err, ErrDegenerateLayout)

	_, err = NewProjection(Identity(100, 100), ViewState{Zoom: 0})
	assert.ErrorIs(t, err, ErrDegenerateLayout)
}

func TestTransformer_RereadsLayout(t *testing.T) {
	layout := Identity(100, 100)
	calls := 0
	tr := New(LayoutFunc(func() (Layout, bool) {
		calls++
		return layout, true
	}))

	first := tr.ViewportToImage(DefaultViewState(), 10, 10)
	layout = Layout{Canvas: Rect{W: 50, H: 50}, Image: Rect{W: 50, H: 50}, NaturalWidth: 100, NaturalHeight: 100}
	second := tr.ViewportToImage(DefaultViewState(), 10, 10)

	assert.Equal(t, 2, calls)
	assert.InDelta(t, 10, first.X, 1e-9)
	assert.InDelta(t, 20, second.X, 1e-9)
}

func TestTransformer_NoLayout(t *testing.T) {
	tr := New(LayoutFunc(func() (Layout, bool) { return Layout{}, false }))

	assert.Equal(t, ImagePoint{}, tr.ViewportToImage(DefaultViewState(), 1, 1))
	_, ok := tr.ImageToOverlay(DefaultViewState(), core.Point{X: 1, Y: 1})
	assert.False(t, ok)

	_, err := tr.Projection(DefaultViewState())
	assert.ErrorIs(t, err, ErrNoLayout)

	var nilT *Transformer
	assert.False(t, nilT.ViewportToImage(DefaultViewState(), 1, 1).Valid)
}

func TestTransformer_StaticSource(t *testing.T) {
	tr := New(staticSource(testLayout()))
	v, ok := tr.ImageToOverlay(DefaultViewState(), core.Point{X: 256, Y: 213.5})
	require.True(t, ok)
	// natural center maps onto the image box center relative to the canvas
	assert.InDelta(t, 400, v.X, 1e-9)
	assert.InDelta(t, 300, v.Y, 1e-9)
}
