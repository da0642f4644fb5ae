// Package pdf draws a render.Scene onto a gofpdf page.
package pdf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/mriview/viewer/internal/render"
	"gonum.org/v1/gonum/spatial/r2"
)

// Placement maps scene pixels onto the page: a scene point v lands at
// (X + v.X*Scale, Y + v.Y*Scale) in page units. W and H are the image size
// in pixels; drawing is clipped to that box.
type Placement struct {
	X, Y  float64
	W, H  float64
	Scale float64
}

// Fit returns the placement that centers a w×h pixel image inside the
// page's margins, keeping its aspect ratio.
func Fit(pdf *gofpdf.Fpdf, w, h float64) Placement {
	pageW, pageH := pdf.GetPageSize()
	left, top, right, bottom := pdf.GetMargins()
	availW := pageW - left - right
	availH := pageH - top - bottom

	scale := availW / w
	if h*scale > availH {
		scale = availH / h
	}
	return Placement{
		X:     left + (availW-w*scale)/2,
		Y:     top + (availH-h*scale)/2,
		W:     w,
		H:     h,
		Scale: scale,
	}
}

func (p Placement) at(v r2.Vec) (float64, float64) {
	return p.X + v.X*p.Scale, p.Y + v.Y*p.Scale
}

// Draw paints every primitive in scene order. Lengths that are in overlay
// units in the scene are scaled the same way as positions.
func Draw(pdf *gofpdf.Fpdf, scene render.Scene, p Placement) {
	if p.W > 0 && p.H > 0 {
		pdf.ClipRect(p.X, p.Y, p.W*p.Scale, p.H*p.Scale, false)
		defer pdf.ClipEnd()
	}
	for _, it := range scene.Items {
		switch v := it.(type) {
		case render.Pin:
			drawPin(pdf, v, p)
		case render.Ruler:
			drawRuler(pdf, v, p)
		case render.Cross:
			drawCross(pdf, v, p)
		}
	}
	pdf.SetDashPattern([]float64{}, 0)
}

func drawPin(pdf *gofpdf.Fpdf, pin render.Pin, p Placement) {
	left, right := pin.Outline()
	setFill(pdf, pin.Color)
	setDraw(pdf, "#ffffff")
	pdf.SetLineWidth(0.3)

	pts := make([]gofpdf.PointType, 0, 3)
	for _, v := range []r2.Vec{pin.Tip, left, right} {
		x, y := p.at(v)
		pts = append(pts, gofpdf.PointType{X: x, Y: y})
	}
	pdf.Polygon(pts, "F")
	cx, cy := p.at(pin.HeadCenter)
	pdf.Circle(cx, cy, pin.HeadRadius*p.Scale, "FD")

	label := strconv.Itoa(pin.Number)
	pdf.SetFont("Helvetica", "B", fontSize(pin.HeadRadius*1.1*p.Scale))
	pdf.SetTextColor(255, 255, 255)
	centerText(pdf, label, cx, cy)
}

func drawRuler(pdf *gofpdf.Fpdf, r render.Ruler, p Placement) {
	setDraw(pdf, r.Color)
	setFill(pdf, r.Color)
	pdf.SetLineWidth(0.4)
	if r.Preview {
		pdf.SetDashPattern([]float64{1.5, 1}, 0)
	} else {
		pdf.SetDashPattern([]float64{}, 0)
	}
	x1, y1 := p.at(r.Start)
	x2, y2 := p.at(r.End)
	pdf.Line(x1, y1, x2, y2)
	pdf.SetDashPattern([]float64{}, 0)

	pdf.Circle(x1, y1, r.EndpointRadius*p.Scale, "F")
	pdf.Circle(x2, y2, r.EndpointRadius*p.Scale, "F")

	lx, ly := p.at(r.LabelPos)
	pdf.SetFont("Helvetica", "", fontSize(12*p.Scale))
	red, green, blue := rgb(r.Color)
	pdf.SetTextColor(red, green, blue)
	centerText(pdf, r.Label, lx, ly)
}

func drawCross(pdf *gofpdf.Fpdf, c render.Cross, p Placement) {
	pdf.SetLineWidth(0.3)
	pdf.SetDashPattern([]float64{}, 0)

	for i, s := range c.Segments() {
		if i < 2 {
			setDraw(pdf, c.HColor)
		} else {
			setDraw(pdf, c.VColor)
		}
		x1, y1 := p.at(s[0])
		x2, y2 := p.at(s[1])
		pdf.Line(x1, y1, x2, y2)
	}
}

// fontSize converts a glyph height in page millimetres to points.
func fontSize(mm float64) float64 {
	pt := mm * 72 / 25.4
	if pt < 4 {
		return 4
	}
	return pt
}

func centerText(pdf *gofpdf.Fpdf, s string, x, y float64) {
	w := pdf.GetStringWidth(s)
	_, h := pdf.GetFontSize()
	pdf.Text(x-w/2, y+h*0.35, s)
}

func setDraw(pdf *gofpdf.Fpdf, hex string) {
	r, g, b := rgb(hex)
	pdf.SetDrawColor(r, g, b)
}

func setFill(pdf *gofpdf.Fpdf, hex string) {
	r, g, b := rgb(hex)
	pdf.SetFillColor(r, g, b)
}

// rgb parses "#rrggbb" or "#rgb". Anything else is black.
func rgb(hex string) (int, int, int) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) == 3 {
		hex = fmt.Sprintf("%c%c%c%c%c%c", hex[0], hex[0], hex[1], hex[1], hex[2], hex[2])
	}
	if len(hex) != 6 {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
