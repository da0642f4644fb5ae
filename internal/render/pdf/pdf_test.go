package pdf

import (
	"bytes"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/mriview/viewer/internal/render"
	"github.com/mriview/viewer/internal/transform"
	"github.com/mriview/viewer/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRGB(t *testing.T) {
	tests := []struct {
		in      string
		r, g, b int
	}{
		{"#ff3b30", 255, 59, 48},
		{"00e5ff", 0, 229, 255},
		{"#fff", 255, 255, 255},
		{"#12", 0, 0, 0},
		{"#zzzzzz", 0, 0, 0},
	}
	for _, tt := range tests {
		r, g, b := rgb(tt.in)
		assert.Equal(t, [3]int{tt.r, tt.g, tt.b}, [3]int{r, g, b}, tt.in)
	}
}

func TestFit(t *testing.T) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(false, 10)

	pageW, pageH := pdf.GetPageSize()
	availW, availH := pageW-20, pageH-20

	p := Fit(pdf, 512, 512)
	assert.InDelta(t, availW/512, p.Scale, 1e-9)
	assert.InDelta(t, 10, p.X, 1e-9)
	assert.InDelta(t, 10+(availH-availW)/2, p.Y, 1e-9)

	// a tall image is limited by the height
	tall := Fit(pdf, 100, 1000)
	assert.InDelta(t, availH/1000, tall.Scale, 1e-9)
}

func TestFontSize(t *testing.T) {
	assert.Equal(t, 4.0, fontSize(0.1))
	assert.InDelta(t, 72, fontSize(25.4), 1e-9)
}

func TestDraw(t *testing.T) {
	key := core.Key{SeriesID: "A", ImageIndex: 0}
	set := core.NewAnnotationSet(key, 0.5, time.Unix(0, 0).UTC())
	set.Markers = []core.Marker{{ID: "m1", Number: 1, X: 40, Y: 80, Color: "#ff3b30"}}
	set.Measurements = []core.Measurement{
		core.NewMeasurement("d1", core.Point{X: 0, Y: 0}, core.Point{X: 30, Y: 40}, 0.5),
	}
	set.Crosshairs = []core.Crosshair{{ID: "c1", X: 100, Y: 100}}
	proj, err := transform.NewProjection(transform.Identity(256, 256), transform.DefaultViewState())
	require.NoError(t, err)
	scene := render.New(render.DefaultStyle()).Render(key, set,
		&core.ActiveMeasurement{End: core.Point{X: 10, Y: 10}}, proj)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	Draw(pdf, scene, Fit(pdf, 256, 256))
	require.NoError(t, pdf.Error())

	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}
