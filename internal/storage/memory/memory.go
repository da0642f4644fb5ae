// internal/storage/memory/memory.go
package memory

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mriview/viewer/internal/config"
	"github.com/mriview/viewer/internal/model"
	"github.com/mriview/viewer/internal/storage"
	"github.com/mriview/viewer/pkg/core"
)

// Backend keeps serialized annotation records in memory and, when an output
// directory is configured, mirrors every record to "{key}.json" (or
// "{key}.json.gz") so annotations survive restarts.
type Backend struct {
	cfg     config.MemoryConfig
	records map[string][]byte
	mu      sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:     cfg,
		records: make(map[string][]byte),
	}
}

// Init creates the output directory if one is configured.
func (b *Backend) Init() error {
	if b.cfg.OutputDir == "" {
		return nil
	}
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// Save serializes the set and stores it under its key.
func (b *Backend) Save(set *core.AnnotationSet) error {
	if !set.Key().Valid() {
		return fmt.Errorf("%w: %q", storage.ErrInvalidKey, set.Key().String())
	}
	rec, err := model.NewAnnotationRecord(set)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.records[rec.Key] = []byte(rec.Payload)
	b.mu.Unlock()

	if b.cfg.OutputDir != "" {
		if err := b.writeFile(rec.Key, rec.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Load returns the record for key, reading it from the output directory when
// it is not resident.
func (b *Backend) Load(key core.Key) (*core.AnnotationSet, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidKey, key.String())
	}
	b.mu.RLock()
	data, ok := b.records[key.String()]
	b.mu.RUnlock()

	if !ok {
		var err error
		data, err = b.readFile(key.String())
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.records[key.String()] = data
		b.mu.Unlock()
	}

	set, err := model.DecodeAnnotationSet(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", storage.ErrCorrupt, key, err)
	}
	return set, nil
}

// LoadSeries returns every decodable record belonging to seriesID.
func (b *Backend) LoadSeries(seriesID string) ([]*core.AnnotationSet, error) {
	if !core.ValidSeriesID(seriesID) {
		// nothing can have been saved under it
		return nil, nil
	}
	payloads := make(map[string][]byte)

	if b.cfg.OutputDir != "" {
		keys, err := b.listFiles(seriesID)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if data, err := b.readFile(k); err == nil {
				payloads[k] = data
			}
		}
	}

	b.mu.RLock()
	for k, data := range b.records {
		if strings.HasPrefix(k, seriesID+"-") {
			payloads[k] = data
		}
	}
	b.mu.RUnlock()

	var out []*core.AnnotationSet
	for _, data := range payloads {
		set, err := model.DecodeAnnotationSet(data)
		if err != nil || set.SeriesID != seriesID {
			continue
		}
		out = append(out, set)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImageIndex < out[j].ImageIndex })
	return out, nil
}

func (b *Backend) fileName(key string) string {
	name := key + ".json"
	if b.cfg.CompressOutput {
		name += ".gz"
	}
	return filepath.Join(b.cfg.OutputDir, name)
}

func (b *Backend) writeFile(key string, payload []byte) error {
	data := payload
	if b.cfg.CompressOutput {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(payload); err != nil {
			return fmt.Errorf("failed to compress %s: %w", key, err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to compress %s: %w", key, err)
		}
		data = buf.Bytes()
	}

	path := b.fileName(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func (b *Backend) readFile(key string) ([]byte, error) {
	if b.cfg.OutputDir == "" {
		return nil, storage.ErrNotFound
	}

	path := b.fileName(key)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if b.cfg.CompressOutput {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", storage.ErrCorrupt, key, err)
		}
		defer gz.Close()
		r = gz
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", storage.ErrCorrupt, key, err)
	}
	return data, nil
}

func (b *Backend) listFiles(seriesID string) ([]string, error) {
	entries, err := os.ReadDir(b.cfg.OutputDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", b.cfg.OutputDir, err)
	}

	suffix := ".json"
	if b.cfg.CompressOutput {
		suffix += ".gz"
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) || !strings.HasPrefix(name, seriesID+"-") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, suffix))
	}
	return keys, nil
}
