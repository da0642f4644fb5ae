package render

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/mriview/viewer/internal/transform"
	"github.com/mriview/viewer/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

var key = core.Key{SeriesID: "A", ImageIndex: 3}

var identity = ProjectorFunc(func(p core.Point) r2.Vec { return r2.Vec{X: p.X, Y: p.Y} })

func sampleSet() *core.AnnotationSet {
	set := core.NewAnnotationSet(key, 0.5, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	set.Markers = []core.Marker{
		{ID: "m1", Number: 1, X: 100, Y: 100, Label: "Point 1", Color: "#00ff00"},
		{ID: "m2", Number: 2, X: 200, Y: 150, Label: "Point 2"},
	}
	set.Measurements = []core.Measurement{
		core.NewMeasurement("d1", core.Point{X: 0, Y: 0}, core.Point{X: 30, Y: 40}, 0.5),
	}
	set.Crosshairs = []core.Crosshair{{ID: "c1", X: 300, Y: 300}}
	return set
}

func kinds(s Scene) []core.Kind {
	out := make([]core.Kind, len(s.Items))
	for i, it := range s.Items {
		out[i] = it.Kind()
	}
	return out
}

func TestRender_DrawOrder(t *testing.T) {
	r := New(DefaultStyle())
	active := &core.ActiveMeasurement{Start: core.Point{X: 10, Y: 10}, End: core.Point{X: 10, Y: 50}}

	scene := r.Render(key, sampleSet(), active, identity)

	assert.Equal(t, []core.Kind{
		core.KindMarker, core.KindMarker,
		core.KindMeasurement, core.KindMeasurement,
		core.KindCrosshair,
	}, kinds(scene))

	preview, ok := scene.Items[3].(Ruler)
	require.True(t, ok)
	assert.True(t, preview.Preview)
	assert.Empty(t, preview.ID)
	assert.Equal(t, "20 mm", preview.Label)
}

func TestRender_Pin(t *testing.T) {
	style := DefaultStyle()
	scene := New(style).Render(key, sampleSet(), nil, identity)

	pin := scene.Items[0].(Pin)
	assert.Equal(t, r2.Vec{X: 100, Y: 100}, pin.Tip)
	assert.Equal(t, r2.Vec{X: 100, Y: 100 - style.PinHeight}, pin.HeadCenter)
	assert.Equal(t, 1, pin.Number)
	assert.Equal(t, "#00ff00", pin.Color)

	// markers without a color use the style's
	assert.Equal(t, style.MarkerColor, scene.Items[1].(Pin).Color)

	left, right := pin.Outline()
	assert.InDelta(t, pin.HeadRadius, r2.Norm(r2.Sub(left, pin.HeadCenter)), 1e-9)
	assert.InDelta(t, pin.HeadRadius, r2.Norm(r2.Sub(right, pin.HeadCenter)), 1e-9)
	assert.Less(t, left.X, right.X+1e-9)
	assert.Greater(t, left.Y, pin.HeadCenter.Y)
}

func TestRender_ProjectsThroughTransform(t *testing.T) {
	layout := transform.Layout{
		Canvas:        transform.Rect{X: 0, Y: 0, W: 800, H: 600},
		Image:         transform.Rect{X: 144, Y: 44, W: 512, H: 512},
		NaturalWidth:  512,
		NaturalHeight: 512,
	}
	proj, err := transform.NewProjection(layout, transform.ViewState{Zoom: 2, Pan: r2.Vec{X: 50, Y: -30}})
	require.NoError(t, err)

	scene := New(DefaultStyle()).Render(key, sampleSet(), nil, proj)
	pin := scene.Items[0].(Pin)

	p := proj.ViewportToImage(pin.Tip.X, pin.Tip.Y)
	assert.InDelta(t, 100, p.X, 1e-9)
	assert.InDelta(t, 100, p.Y, 1e-9)
}

func TestRender_Idempotent(t *testing.T) {
	r := New(DefaultStyle())
	set := sampleSet()
	active := &core.ActiveMeasurement{Start: core.Point{X: 1, Y: 2}, End: core.Point{X: 3, Y: 4}}

	first := r.Render(key, set, active, identity)
	second := r.Render(key, set, active, identity)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("render not idempotent (-first +second):\n%s", diff)
	}
}

func TestRender_Empty(t *testing.T) {
	r := New(DefaultStyle())

	assert.True(t, r.Render(key, nil, nil, identity).Empty())
	assert.True(t, r.Render(key, sampleSet(), nil, nil).Empty())

	only := r.Render(key, nil, &core.ActiveMeasurement{End: core.Point{X: 30, Y: 40}}, identity)
	require.Len(t, only.Items, 1)
	assert.Equal(t, "5 mm", only.Items[0].(Ruler).Label)
}

func TestRender_KeyIsolation(t *testing.T) {
	r := New(DefaultStyle())
	other := core.Key{SeriesID: "A", ImageIndex: 4}

	scene := r.Render(other, nil, nil, identity)
	assert.Equal(t, other, scene.Key)
	assert.True(t, scene.Empty())
}

func TestLabelPosition(t *testing.T) {
	tests := []struct {
		name string
		a, b r2.Vec
		want r2.Vec
	}{
		{"horizontal", r2.Vec{X: 0, Y: 0}, r2.Vec{X: 100, Y: 0}, r2.Vec{X: 50, Y: -12}},
		{"horizontal reversed", r2.Vec{X: 100, Y: 0}, r2.Vec{X: 0, Y: 0}, r2.Vec{X: 50, Y: -12}},
		{"vertical", r2.Vec{X: 0, Y: 0}, r2.Vec{X: 0, Y: 100}, r2.Vec{X: 12, Y: 50}},
		{"degenerate", r2.Vec{X: 5, Y: 5}, r2.Vec{X: 5, Y: 5}, r2.Vec{X: 5, Y: -7}},
	}
	approx := cmpopts.EquateApprox(0, 1e-9)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := labelPosition(tt.a, tt.b, 12)
			if diff := cmp.Diff(tt.want, got, approx); diff != "" {
				t.Errorf("labelPosition mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRender_LabelIsPerpendicular(t *testing.T) {
	scene := New(DefaultStyle()).Render(key, sampleSet(), nil, identity)
	ruler := scene.Items[2].(Ruler)

	mid := r2.Scale(0.5, r2.Add(ruler.Start, ruler.End))
	offset := r2.Sub(ruler.LabelPos, mid)
	assert.InDelta(t, 0, r2.Dot(offset, r2.Sub(ruler.End, ruler.Start)), 1e-9)
	assert.InDelta(t, DefaultStyle().LabelOffset, r2.Norm(offset), 1e-9)
	assert.Equal(t, "25 mm", ruler.Label)
}

func TestCross_Segments(t *testing.T) {
	c := Cross{Center: r2.Vec{X: 10, Y: 20}, HalfLength: 100, Gap: 4}
	segs := c.Segments()

	assert.Equal(t, [2]r2.Vec{{X: -90, Y: 20}, {X: 6, Y: 20}}, segs[0])
	assert.Equal(t, [2]r2.Vec{{X: 14, Y: 20}, {X: 110, Y: 20}}, segs[1])
	assert.Equal(t, [2]r2.Vec{{X: 10, Y: -80}, {X: 10, Y: 16}}, segs[2])
	assert.Equal(t, [2]r2.Vec{{X: 10, Y: 24}, {X: 10, Y: 120}}, segs[3])
	for _, s := range segs {
		assert.Greater(t, math.Max(r2.Norm(r2.Sub(s[0], c.Center)), r2.Norm(r2.Sub(s[1], c.Center))), c.Gap)
	}
}

func TestScene_HitTest(t *testing.T) {
	set := sampleSet()
	// a crosshair drawn over the first marker's head
	set.Crosshairs = append(set.Crosshairs, core.Crosshair{ID: "c2", X: 100, Y: 74})
	active := &core.ActiveMeasurement{Start: core.Point{X: 400, Y: 400}, End: core.Point{X: 450, Y: 400}}
	scene := New(DefaultStyle()).Render(key, set, active, identity)

	tests := []struct {
		name string
		at   r2.Vec
		kind core.Kind
		id   string
		hit  bool
	}{
		{"pin tip", r2.Vec{X: 100, Y: 100}, core.KindMarker, "m1", true},
		{"topmost wins", r2.Vec{X: 100, Y: 74}, core.KindCrosshair, "c2", true},
		{"measurement line", r2.Vec{X: 15, Y: 21}, core.KindMeasurement, "d1", true},
		{"crosshair hit region", r2.Vec{X: 308, Y: 305}, core.KindCrosshair, "c1", true},
		{"preview is not hit", r2.Vec{X: 425, Y: 400}, "", "", false},
		{"empty space", r2.Vec{X: 600, Y: 10}, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, id, ok := scene.HitTest(tt.at)
			assert.Equal(t, tt.hit, ok)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestScene_MarshalJSON(t *testing.T) {
	scene := New(DefaultStyle()).Render(key, sampleSet(), nil, identity)
	data, err := json.Marshal(scene)
	require.NoError(t, err)

	var decoded struct {
		SeriesID   string `json:"seriesId"`
		ImageIndex int    `json:"imageIndex"`
		Items      []struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "A", decoded.SeriesID)
	assert.Equal(t, 3, decoded.ImageIndex)
	require.Len(t, decoded.Items, 4)
	assert.Equal(t, "marker", decoded.Items[0].Kind)
	assert.Contains(t, string(decoded.Items[2].Data), `"label":"25 mm"`)
}
