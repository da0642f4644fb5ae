// Package svg turns a render.Scene into an SVG node tree for the live
// overlay. Every annotation group carries data-kind and data-id attributes
// so the client can map a secondary click back to the model.
package svg

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/mriview/viewer/internal/render"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r2"
)

// Attr is a single attribute. Order is preserved.
type Attr struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Node is an SVG element.
type Node struct {
	Tag      string `json:"tag"`
	Attrs    []Attr `json:"attrs,omitempty"`
	Text     string `json:"text,omitempty"`
	Children []Node `json:"children,omitempty"`
}

// Attr returns the value of the named attribute.
func (n Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// String serializes the tree as SVG markup.
func (n Node) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n Node) write(b *strings.Builder) {
	b.WriteByte('<')
	b.WriteString(n.Tag)
	for _, a := range n.Attrs {
		b.WriteByte(' ')
		b.WriteString(a.Name)
		b.WriteString(`="`)
		escape(b, a.Value)
		b.WriteByte('"')
	}
	if n.Text == "" && len(n.Children) == 0 {
		b.WriteString("/>")
		return
	}
	b.WriteByte('>')
	escape(b, n.Text)
	for _, c := range n.Children {
		c.write(b)
	}
	b.WriteString("</")
	b.WriteString(n.Tag)
	b.WriteByte('>')
}

func escape(b *strings.Builder, s string) {
	_ = xml.EscapeText(b, []byte(s))
}

func num(v float64) string {
	// adding 0 turns -0 into 0
	return strconv.FormatFloat(scalar.Round(v, 2)+0, 'f', -1, 64)
}

func el(tag string, attrs ...string) Node {
	n := Node{Tag: tag}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attrs = append(n.Attrs, Attr{Name: attrs[i], Value: attrs[i+1]})
	}
	return n
}

// Build returns the overlay group for scene. An empty scene yields an
// empty group, which clears whatever the client drew before.
func Build(scene render.Scene) Node {
	root := el("g",
		"class", "annotations",
		"data-series", scene.Key.SeriesID,
		"data-image", strconv.Itoa(scene.Key.ImageIndex),
	)
	for _, it := range scene.Items {
		switch p := it.(type) {
		case render.Pin:
			root.Children = append(root.Children, pin(p))
		case render.Ruler:
			root.Children = append(root.Children, ruler(p))
		case render.Cross:
			root.Children = append(root.Children, cross(p))
		}
	}
	return root
}

// Document wraps the overlay group in a standalone <svg> element.
func Document(scene render.Scene, width, height float64) Node {
	doc := el("svg",
		"xmlns", "http://www.w3.org/2000/svg",
		"width", num(width),
		"height", num(height),
		"viewBox", "0 0 "+num(width)+" "+num(height),
	)
	doc.Children = []Node{Build(scene)}
	return doc
}

func group(kind, id string) Node {
	return el("g", "class", "annotation "+kind, "data-kind", kind, "data-id", id)
}

func pin(p render.Pin) Node {
	g := group(string(p.Kind()), p.ID)
	left, right := p.Outline()
	r := num(p.HeadRadius)
	d := "M " + pt(p.Tip) +
		" L " + pt(left) +
		" A " + r + " " + r + " 0 1 1 " + pt(right) +
		" Z"
	g.Children = append(g.Children,
		el("path", "d", d, "fill", p.Color, "stroke", "#ffffff", "stroke-width", "1.5"),
	)
	label := el("text",
		"x", num(p.HeadCenter.X),
		"y", num(p.HeadCenter.Y),
		"text-anchor", "middle",
		"dominant-baseline", "central",
		"font-size", "11",
		"font-weight", "bold",
		"fill", "#ffffff",
	)
	label.Text = strconv.Itoa(p.Number)
	g.Children = append(g.Children, label)
	return g
}

func ruler(r render.Ruler) Node {
	g := group(string(r.Kind()), r.ID)
	if r.Preview {
		g = el("g", "class", "annotation measurement preview", "data-kind", string(r.Kind()))
	}
	line := el("line",
		"x1", num(r.Start.X), "y1", num(r.Start.Y),
		"x2", num(r.End.X), "y2", num(r.End.Y),
		"stroke", r.Color, "stroke-width", "2",
	)
	if r.Preview {
		line.Attrs = append(line.Attrs, Attr{Name: "stroke-dasharray", Value: "6 4"})
	}
	g.Children = append(g.Children, line)
	for _, end := range []r2.Vec{r.Start, r.End} {
		g.Children = append(g.Children, el("circle",
			"cx", num(end.X), "cy", num(end.Y), "r", num(r.EndpointRadius), "fill", r.Color,
		))
	}
	label := el("text",
		"x", num(r.LabelPos.X),
		"y", num(r.LabelPos.Y),
		"text-anchor", "middle",
		"font-size", "12",
		"fill", r.Color,
		"stroke", "#000000",
		"stroke-width", "0.5",
		"paint-order", "stroke",
	)
	label.Text = r.Label
	g.Children = append(g.Children, label)
	return g
}

func cross(c render.Cross) Node {
	g := group(string(c.Kind()), c.ID)
	for i, s := range c.Segments() {
		color := c.HColor
		if i >= 2 {
			color = c.VColor
		}
		g.Children = append(g.Children, el("line",
			"x1", num(s[0].X), "y1", num(s[0].Y),
			"x2", num(s[1].X), "y2", num(s[1].Y),
			"stroke", color, "stroke-width", "1.5",
		))
	}
	g.Children = append(g.Children, el("circle",
		"cx", num(c.Center.X), "cy", num(c.Center.Y), "r", num(c.HitRadius),
		"fill", "transparent", "pointer-events", "all",
	))
	return g
}

func pt(v r2.Vec) string {
	return num(v.X) + " " + num(v.Y)
}
