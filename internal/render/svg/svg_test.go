package svg

import (
	"strings"
	"testing"
	"time"

	"github.com/mriview/viewer/internal/render"
	"github.com/mriview/viewer/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

var key = core.Key{SeriesID: "A", ImageIndex: 2}

func scene(active *core.ActiveMeasurement) render.Scene {
	set := core.NewAnnotationSet(key, 0.5, time.Unix(0, 0).UTC())
	set.Markers = []core.Marker{{ID: "m1", Number: 1, X: 50, Y: 60, Label: "Point 1", Color: "#ff3b30"}}
	set.Measurements = []core.Measurement{
		core.NewMeasurement("d1", core.Point{X: 0, Y: 0}, core.Point{X: 30, Y: 40}, 0.5),
	}
	set.Crosshairs = []core.Crosshair{{ID: "c1", X: 10.004, Y: -0.001}}
	identity := render.ProjectorFunc(func(p core.Point) r2.Vec { return r2.Vec{X: p.X, Y: p.Y} })
	return render.New(render.DefaultStyle()).Render(key, set, active, identity)
}

func TestBuild_Groups(t *testing.T) {
	root := Build(scene(nil))

	assert.Equal(t, "g", root.Tag)
	series, _ := root.Attr("data-series")
	image, _ := root.Attr("data-image")
	assert.Equal(t, "A", series)
	assert.Equal(t, "2", image)

	require.Len(t, root.Children, 3)
	var got []string
	for _, c := range root.Children {
		kind, _ := c.Attr("data-kind")
		id, _ := c.Attr("data-id")
		got = append(got, kind+":"+id)
	}
	assert.Equal(t, []string{"marker:m1", "measurement:d1", "crosshair:c1"}, got)
}

func TestBuild_Pin(t *testing.T) {
	g := Build(scene(nil)).Children[0]
	require.Len(t, g.Children, 2)

	path := g.Children[0]
	d, _ := path.Attr("d")
	assert.True(t, strings.HasPrefix(d, "M 50 60 L "), d)
	assert.Contains(t, d, " A 10 10 0 1 1 ")

	assert.Equal(t, "text", g.Children[1].Tag)
	assert.Equal(t, "1", g.Children[1].Text)
	y, _ := g.Children[1].Attr("y")
	assert.Equal(t, "34", y)
}

func TestBuild_Ruler(t *testing.T) {
	g := Build(scene(nil)).Children[1]
	require.Len(t, g.Children, 4)
	assert.Equal(t, "line", g.Children[0].Tag)
	assert.Equal(t, "circle", g.Children[1].Tag)
	assert.Equal(t, "circle", g.Children[2].Tag)
	assert.Equal(t, "25 mm", g.Children[3].Text)

	_, dashed := g.Children[0].Attr("stroke-dasharray")
	assert.False(t, dashed)
}

func TestBuild_Preview(t *testing.T) {
	root := Build(scene(&core.ActiveMeasurement{End: core.Point{X: 10, Y: 0}}))
	require.Len(t, root.Children, 4)

	preview := root.Children[2]
	_, hasID := preview.Attr("data-id")
	assert.False(t, hasID)
	dash, ok := preview.Children[0].Attr("stroke-dasharray")
	assert.True(t, ok)
	assert.Equal(t, "6 4", dash)
}

func TestBuild_Cross(t *testing.T) {
	g := Build(scene(nil)).Children[2]
	require.Len(t, g.Children, 5)

	colors := map[string]int{}
	for _, line := range g.Children[:4] {
		c, _ := line.Attr("stroke")
		colors[c]++
	}
	style := render.DefaultStyle()
	assert.Equal(t, map[string]int{style.CrossHColor: 2, style.CrossVColor: 2}, colors)

	hit := g.Children[4]
	fill, _ := hit.Attr("fill")
	assert.Equal(t, "transparent", fill)
	cx, _ := hit.Attr("cx")
	cy, _ := hit.Attr("cy")
	assert.Equal(t, "10", cx)
	assert.Equal(t, "0", cy)
}

func TestBuild_EmptyScene(t *testing.T) {
	root := Build(render.Scene{Key: key})
	assert.Empty(t, root.Children)
	assert.Equal(t, `<g class="annotations" data-series="A" data-image="2"/>`, root.String())
}

func TestNode_StringEscapes(t *testing.T) {
	n := el("text", "data-id", `a"<b>`)
	n.Text = "1 < 2 & 3"
	assert.Equal(t, `<text data-id="a&#34;&lt;b&gt;">1 &lt; 2 &amp; 3</text>`, n.String())
}

func TestDocument(t *testing.T) {
	doc := Document(scene(nil), 512, 427)
	out := doc.String()
	assert.True(t, strings.HasPrefix(out, `<svg xmlns="http://www.w3.org/2000/svg" width="512" height="427" viewBox="0 0 512 427">`))
	assert.True(t, strings.HasSuffix(out, "</svg>"))
	assert.Equal(t, 1, strings.Count(out, `data-id="m1"`))
}
