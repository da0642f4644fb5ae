// Package series loads the series catalog and resolves image files.
package series

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mriview/viewer/pkg/core"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrUnknownSeries is returned for series ids not in the catalog.
var ErrUnknownSeries = errors.New("unknown series")

// Catalog is the set of series available under a data root. It is safe for
// concurrent use.
type Catalog struct {
	root   string
	log    *slog.Logger
	mu     sync.RWMutex
	series []core.Series
	byID   map[string]int
}

type catalogFile struct {
	Series []core.Series `json:"series"`
}

// New returns an empty catalog rooted at root.
func New(root string, log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{root: root, log: log, byID: make(map[string]int)}
}

// Load reads the catalog file at root/file. Series without a slice
// thickness take it from the first DICOM header found in their directory.
func Load(root, file string, log *slog.Logger) (*Catalog, error) {
	c := New(root, log)
	if err := c.Reload(file); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces the catalog with the contents of root/file.
func (c *Catalog) Reload(file string) error {
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.root, file)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read series catalog: %w", err)
	}

	var cf catalogFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse series catalog %s: %w", path, err)
	}

	byID := make(map[string]int, len(cf.Series))
	list := make([]core.Series, 0, len(cf.Series))
	for _, s := range cf.Series {
		if s.ID == "" {
			c.log.Warn("Skipping series without id", "catalog", path)
			continue
		}
		if _, dup := byID[s.ID]; dup {
			c.log.Warn("Skipping duplicate series", "series", s.ID)
			continue
		}
		if s.SliceThickness == "" {
			if th, err := c.thicknessFromDICOM(s); err == nil {
				s.SliceThickness = core.Thickness(th)
			} else if !errors.Is(err, fs.ErrNotExist) {
				c.log.Warn("Failed to read slice thickness from DICOM", "series", s.ID, "error", err)
			}
		}
		byID[s.ID] = len(list)
		list = append(list, s)
	}

	c.mu.Lock()
	c.series = list
	c.byID = byID
	c.mu.Unlock()

	c.log.Info("Loaded series catalog", "path", path, "series", len(list))
	return nil
}

// List returns every series in catalog order.
func (c *Catalog) List() []core.Series {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Series, len(c.series))
	copy(out, c.series)
	return out
}

// Get returns the series with the given id.
func (c *Catalog) Get(id string) (core.Series, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return core.Series{}, false
	}
	return c.series[i], true
}

// PixelSpacing returns mm per pixel for the series; unknown series get the
// default.
func (c *Catalog) PixelSpacing(id string) float64 {
	s, ok := c.Get(id)
	if !ok {
		return (*core.Series)(nil).PixelSpacing()
	}
	return s.PixelSpacing()
}

// Dir returns the directory holding the series' images.
func (c *Catalog) Dir(s core.Series) string {
	if s.ImagePath != "" {
		if filepath.IsAbs(s.ImagePath) {
			return s.ImagePath
		}
		return filepath.Join(c.root, filepath.FromSlash(s.ImagePath))
	}
	return filepath.Join(c.root, s.ID)
}

// ImagePath resolves the file of one image.
func (c *Catalog) ImagePath(id string, index int) (string, error) {
	s, ok := c.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSeries, id)
	}
	if index < 0 || index >= len(s.Images) {
		return "", fmt.Errorf("image index %d out of range for series %s (%d images)", index, id, len(s.Images))
	}
	name := filepath.Base(filepath.FromSlash(s.Images[index]))
	return filepath.Join(c.Dir(s), name), nil
}

// thicknessFromDICOM reads SliceThickness from the first .dcm file in the
// series directory.
func (c *Catalog) thicknessFromDICOM(s core.Series) (string, error) {
	entries, err := os.ReadDir(c.Dir(s))
	if err != nil {
		return "", err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".dcm") {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return "", fs.ErrNotExist
	}
	sort.Strings(files)
	return ReadSliceThickness(filepath.Join(c.Dir(s), files[0]))
}

// ReadSliceThickness returns the SliceThickness value of a DICOM file.
func ReadSliceThickness(path string) (string, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", path, err)
	}
	elem, err := ds.FindElementByTag(tag.SliceThickness)
	if err != nil {
		return "", fmt.Errorf("no SliceThickness in %s: %w", path, err)
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return "", fmt.Errorf("unexpected SliceThickness value in %s", path)
	}
	return strings.TrimSpace(values[0]), nil
}
