package raster

import (
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"github.com/mriview/viewer/internal/render"
	"github.com/mriview/viewer/internal/transform"
	"github.com/mriview/viewer/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blank(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	return img
}

func isBlack(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r == 0 && g == 0 && b == 0
}

func TestFace(t *testing.T) {
	face := Face(12)
	require.NotNil(t, face)
	m := face.Metrics()
	assert.Greater(t, m.Height.Ceil(), 0)
}

func TestBurn_DrawsAtImageCoordinates(t *testing.T) {
	key := core.Key{SeriesID: "A", ImageIndex: 0}
	set := core.NewAnnotationSet(key, 0.1, time.Time{})
	set.Markers = []core.Marker{{ID: "m1", Number: 1, X: 40, Y: 80, Color: "#ff0000"}}
	set.Crosshairs = []core.Crosshair{{ID: "c1", X: 150, Y: 150}}

	proj, err := transform.NewProjection(transform.Identity(200, 200), transform.DefaultViewState())
	require.NoError(t, err)
	scene := render.New(render.DefaultStyle()).Render(key, set, nil, proj)

	src := blank(200, 200)
	out := Burn(src, scene)

	assert.Equal(t, src.Bounds(), out.Bounds())
	// the source is left untouched
	assert.True(t, isBlack(src.At(40, 78)))

	// pin body just above the tip
	assert.False(t, isBlack(out.At(40, 76)))
	// crosshair arms, away from the center gap
	assert.False(t, isBlack(out.At(170, 150)))
	assert.False(t, isBlack(out.At(150, 120)))
	// the gap itself stays clear
	assert.True(t, isBlack(out.At(150, 150)))
	// untouched corner
	assert.True(t, isBlack(out.At(5, 195)))
}

func TestDraw_EmptyScene(t *testing.T) {
	src := blank(10, 10)
	out := Burn(src, render.Scene{})
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			require.True(t, isBlack(out.At(x, y)))
		}
	}
}
