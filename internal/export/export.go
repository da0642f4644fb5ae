// Package export burns stored annotations onto copies of the series images.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fogleman/gg"
	"github.com/jung-kurt/gofpdf"
	"github.com/mriview/viewer/internal/render"
	pdfdraw "github.com/mriview/viewer/internal/render/pdf"
	"github.com/mriview/viewer/internal/render/raster"
	"github.com/mriview/viewer/internal/transform"
	"github.com/mriview/viewer/pkg/core"
)

// Format is the output file type.
type Format string

const (
	FormatPNG Format = "png"
	FormatPDF Format = "pdf"
)

// ErrUnsupportedFormat is returned for formats other than png and pdf.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat validates s; an empty string selects PNG.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatPNG:
		return FormatPNG, nil
	case FormatPDF:
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// SeriesSource returns the annotated sets of a series.
type SeriesSource interface {
	Series(seriesID string) ([]*core.AnnotationSet, error)
}

// ImageResolver locates the image file of one series image.
type ImageResolver interface {
	ImagePath(seriesID string, index int) (string, error)
}

// Request selects what to export.
type Request struct {
	Series []string `json:"series"`
	Format string   `json:"format"`
}

// Result lists the files written by one export.
type Result struct {
	Files   []string `json:"files"`
	Skipped []string `json:"skipped,omitempty"`
}

// Options configures an Exporter.
type Options struct {
	Source    SeriesSource
	Images    ImageResolver
	Style     render.Style
	OutputDir string
	Logger    *slog.Logger
	Now       func() time.Time
}

// Exporter writes annotated image copies into an output directory.
type Exporter struct {
	source    SeriesSource
	images    ImageResolver
	renderer  *render.Renderer
	outputDir string
	log       *slog.Logger
	now       func() time.Time
}

// New returns an Exporter.
func New(opts Options) *Exporter {
	e := &Exporter{
		source:    opts.Source,
		images:    opts.Images,
		renderer:  render.New(opts.Style),
		outputDir: opts.OutputDir,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.outputDir == "" {
		e.outputDir = "exports"
	}
	return e
}

// Export renders every annotated image of the requested series. Images whose
// file cannot be found or decoded are skipped and reported in the result.
func (e *Exporter) Export(ctx context.Context, req Request) (Result, error) {
	format, err := ParseFormat(req.Format)
	if err != nil {
		return Result{}, err
	}
	if len(req.Series) == 0 {
		return Result{}, errors.New("no series selected")
	}

	dir := filepath.Join(e.outputDir, e.now().Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create export directory: %w", err)
	}

	var res Result
	var all []*core.AnnotationSet
	for _, id := range req.Series {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sets, err := e.source.Series(id)
		if err != nil {
			return res, fmt.Errorf("failed to load annotations for %s: %w", id, err)
		}
		all = append(all, sets...)
		if len(sets) == 0 {
			continue
		}

		switch format {
		case FormatPNG:
			err = e.writePNGs(ctx, dir, id, sets, &res)
		case FormatPDF:
			err = e.writePDF(ctx, dir, id, sets, &res)
		}
		if err != nil {
			return res, err
		}
	}

	docPath := filepath.Join(dir, "annotations.json")
	if err := writeDocument(docPath, core.NewDocument(all)); err != nil {
		return res, err
	}
	res.Files = append(res.Files, docPath)

	e.log.Info("Export finished", "dir", dir, "format", format, "files", len(res.Files), "skipped", len(res.Skipped))
	return res, nil
}

// scene renders set in image-pixel space for an image of the given size.
func (e *Exporter) scene(set *core.AnnotationSet, w, h int) (render.Scene, error) {
	proj, err := transform.NewProjection(transform.Identity(float64(w), float64(h)), transform.DefaultViewState())
	if err != nil {
		return render.Scene{}, err
	}
	return e.renderer.Render(set.Key(), set, nil, proj), nil
}

func (e *Exporter) load(set *core.AnnotationSet) (string, image.Image, bool) {
	path, err := e.images.ImagePath(set.SeriesID, set.ImageIndex)
	if err != nil {
		e.log.Warn("Skipping image", "key", set.Key().String(), "error", err)
		return "", nil, false
	}
	img, err := gg.LoadImage(path)
	if err != nil {
		e.log.Warn("Skipping unreadable image", "path", path, "error", err)
		return path, nil, false
	}
	return path, img, true
}

func (e *Exporter) writePNGs(ctx context.Context, dir, seriesID string, sets []*core.AnnotationSet, res *Result) error {
	seriesDir := filepath.Join(dir, seriesID)
	if err := os.MkdirAll(seriesDir, 0755); err != nil {
		return fmt.Errorf("failed to create series directory: %w", err)
	}
	for _, set := range sets {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, img, ok := e.load(set)
		if !ok {
			res.Skipped = append(res.Skipped, set.Key().String())
			continue
		}
		b := img.Bounds()
		scene, err := e.scene(set, b.Dx(), b.Dy())
		if err != nil {
			res.Skipped = append(res.Skipped, set.Key().String())
			continue
		}
		out := filepath.Join(seriesDir, fmt.Sprintf("%04d_annotated.png", set.ImageIndex))
		if err := gg.SavePNG(out, raster.Burn(img, scene)); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		res.Files = append(res.Files, out)
	}
	return nil
}

func (e *Exporter) writePDF(ctx context.Context, dir, seriesID string, sets []*core.AnnotationSet, res *Result) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(seriesID, true)
	pdf.SetCreator("mriview", true)
	pages := 0

	for _, set := range sets {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, img, ok := e.load(set)
		if !ok {
			res.Skipped = append(res.Skipped, set.Key().String())
			continue
		}
		b := img.Bounds()
		scene, err := e.scene(set, b.Dx(), b.Dy())
		if err != nil {
			res.Skipped = append(res.Skipped, set.Key().String())
			continue
		}

		pdf.AddPage()
		place := pdfdraw.Fit(pdf, float64(b.Dx()), float64(b.Dy()))
		opts := gofpdf.ImageOptions{ReadDpi: false}
		pdf.ImageOptions(path, place.X, place.Y, place.W*place.Scale, place.H*place.Scale, false, opts, 0, "")
		pdfdraw.Draw(pdf, scene, place)

		pdf.SetFont("Helvetica", "", 9)
		pdf.SetTextColor(0, 0, 0)
		left, top, _, _ := pdf.GetMargins()
		pdf.Text(left, top-3, fmt.Sprintf("%s  image %d", seriesID, set.ImageIndex+1))
		pages++
	}
	if pages == 0 {
		return nil
	}

	out := filepath.Join(dir, seriesID+"_annotated.pdf")
	if err := pdf.OutputFileAndClose(out); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	res.Files = append(res.Files, out)
	return nil
}

func writeDocument(path string, doc core.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode annotations: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
