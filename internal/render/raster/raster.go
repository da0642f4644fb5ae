// Package raster burns a render.Scene onto a bitmap with gg.
package raster

import (
	"image"
	"strconv"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/mriview/viewer/internal/render"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	fontOnce sync.Once
	ttf      *truetype.Font
)

// Face returns a Go Regular face of the given size, or the built-in
// 7x13 bitmap face if the TrueType font cannot be parsed.
func Face(size float64) font.Face {
	fontOnce.Do(func() {
		ttf, _ = truetype.Parse(goregular.TTF)
	})
	if ttf == nil {
		return basicfont.Face7x13
	}
	return truetype.NewFace(ttf, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// Burn returns a copy of img with the scene drawn on top. Scene coordinates
// are image pixels, so the scene must come from an identity layout.
func Burn(img image.Image, scene render.Scene) image.Image {
	dc := gg.NewContextForImage(img)
	Draw(dc, scene)
	return dc.Image()
}

// Draw paints every primitive in scene order.
func Draw(dc *gg.Context, scene render.Scene) {
	for _, it := range scene.Items {
		switch p := it.(type) {
		case render.Pin:
			drawPin(dc, p)
		case render.Ruler:
			drawRuler(dc, p)
		case render.Cross:
			drawCross(dc, p)
		}
	}
}

func drawPin(dc *gg.Context, p render.Pin) {
	left, right := p.Outline()

	dc.NewSubPath()
	dc.MoveTo(p.Tip.X, p.Tip.Y)
	dc.LineTo(left.X, left.Y)
	dc.LineTo(right.X, right.Y)
	dc.ClosePath()
	dc.DrawCircle(p.HeadCenter.X, p.HeadCenter.Y, p.HeadRadius)
	dc.SetHexColor(p.Color)
	dc.FillPreserve()
	dc.SetHexColor("#ffffff")
	dc.SetLineWidth(1.5)
	dc.Stroke()

	dc.SetFontFace(Face(p.HeadRadius * 1.1))
	dc.SetHexColor("#ffffff")
	dc.DrawStringAnchored(strconv.Itoa(p.Number), p.HeadCenter.X, p.HeadCenter.Y, 0.5, 0.35)
}

func drawRuler(dc *gg.Context, r render.Ruler) {
	dc.SetHexColor(r.Color)
	dc.SetLineWidth(2)
	if r.Preview {
		dc.SetDash(6, 4)
	}
	dc.DrawLine(r.Start.X, r.Start.Y, r.End.X, r.End.Y)
	dc.Stroke()
	dc.SetDash()

	dc.DrawCircle(r.Start.X, r.Start.Y, r.EndpointRadius)
	dc.DrawCircle(r.End.X, r.End.Y, r.EndpointRadius)
	dc.Fill()

	dc.SetFontFace(Face(12))
	dc.DrawStringAnchored(r.Label, r.LabelPos.X, r.LabelPos.Y, 0.5, 0.35)
}

func drawCross(dc *gg.Context, c render.Cross) {
	dc.SetLineWidth(1.5)
	for i, s := range c.Segments() {
		if i < 2 {
			dc.SetHexColor(c.HColor)
		} else {
			dc.SetHexColor(c.VColor)
		}
		dc.DrawLine(s[0].X, s[0].Y, s[1].X, s[1].Y)
		dc.Stroke()
	}
}
