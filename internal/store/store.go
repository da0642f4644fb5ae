// Package store owns every annotation set of the session. Mutations apply to
// the resident set first and are then written through to a storage.Backend;
// storage failures are logged and never undo the in-memory change.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mriview/viewer/internal/cache"
	"github.com/mriview/viewer/internal/storage"
	"github.com/mriview/viewer/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/mriview/viewer/internal/store"

// DefaultMarkerColor is used when no marker color is configured.
const DefaultMarkerColor = "#ff3b30"

// Op describes what a mutation did.
type Op string

const (
	OpAdd    Op = "add"
	OpDelete Op = "delete"
	OpImport Op = "import"
)

// Change is delivered to subscribers after every mutation.
type Change struct {
	Key  core.Key
	Kind core.Kind
	Op   Op
	ID   string
}

// SpacingResolver supplies the mm-per-pixel factor for a series.
type SpacingResolver interface {
	PixelSpacing(seriesID string) float64
}

// SpacingFunc adapts a function to SpacingResolver.
type SpacingFunc func(seriesID string) float64

func (f SpacingFunc) PixelSpacing(seriesID string) float64 { return f(seriesID) }

// Options configures a Store.
type Options struct {
	Backend     storage.Backend
	Spacing     SpacingResolver
	Logger      *slog.Logger
	MarkerColor string

	// NewID and Now are replaceable for tests.
	NewID func() string
	Now   func() time.Time
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	backend storage.Backend
	spacing SpacingResolver
	log     *slog.Logger
	color   string
	newID   func() string
	now     func() time.Time
	sets    *cache.SetCache

	subMu  sync.RWMutex
	subs   map[int]func(Change)
	nextID int

	mutations metric.Int64Counter
	failures  metric.Int64Counter
}

// New creates a Store. A nil backend keeps annotations in memory only.
func New(opts Options) *Store {
	s := &Store{
		backend: opts.Backend,
		spacing: opts.Spacing,
		log:     opts.Logger,
		color:   opts.MarkerColor,
		newID:   opts.NewID,
		now:     opts.Now,
		sets:    cache.NewSetCache(),
		subs:    make(map[int]func(Change)),
	}
	if s.spacing == nil {
		s.spacing = SpacingFunc(func(string) float64 { return core.Thickness("").PixelSpacing() })
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.color == "" {
		s.color = DefaultMarkerColor
	}
	if s.newID == nil {
		s.newID = newID
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	s.initMetrics()
	return s
}

// newID returns a time-ordered UUID so ids sort in generation order.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Store) initMetrics() {
	m := otel.Meter(instrumentationName)
	var err error
	s.mutations, err = m.Int64Counter("annotations.mutations",
		metric.WithDescription("Annotation mutations applied"))
	if err != nil {
		s.log.Warn("failed to create mutations counter", "error", err)
	}
	s.failures, err = m.Int64Counter("annotations.persist.failures",
		metric.WithDescription("Annotation sets that failed to persist"))
	if err != nil {
		s.log.Warn("failed to create persist failure counter", "error", err)
	}
}

// Subscribe registers fn to be called after every mutation. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.subMu.RLock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// lookup returns the resident set, hydrating from the backend on first
// access. Missing and corrupt records both come back as absent.
// Caller must hold s.mu.
func (s *Store) lookup(key core.Key) *core.AnnotationSet {
	if set, known := s.sets.Lookup(key); known {
		return set
	}
	if s.backend == nil {
		s.sets.MarkAbsent(key)
		return nil
	}

	set, err := s.backend.Load(key)
	switch {
	case err == nil && set.Key() == key:
		s.sets.Put(set)
		return set
	case err == nil:
		s.log.Warn("Stored annotation set has a mismatched key", "key", key.String(), "stored", set.Key().String())
	case errors.Is(err, storage.ErrNotFound):
	case errors.Is(err, storage.ErrCorrupt):
		s.log.Warn("Ignoring corrupt annotation record", "key", key.String(), "error", err)
	default:
		s.log.Error("Failed to load annotation set", "key", key.String(), "error", err)
	}
	s.sets.MarkAbsent(key)
	return nil
}

// Get returns a copy of the set for key.
func (s *Store) Get(key core.Key) (*core.AnnotationSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.lookup(key)
	if set == nil {
		return nil, false
	}
	return set.Clone(), true
}

// GetOrCreate returns a copy of the set for key, creating an empty resident
// set with the series' current pixel spacing if there is none. The new set
// is not persisted until something is placed on it.
func (s *Store) GetOrCreate(key core.Key) *core.AnnotationSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(key).Clone()
}

func (s *Store) getOrCreate(key core.Key) *core.AnnotationSet {
	if set := s.lookup(key); set != nil {
		return set
	}
	set := core.NewAnnotationSet(key, s.spacing.PixelSpacing(key.SeriesID), s.now())
	s.sets.Put(set)
	return set
}

// persist writes the set through to the backend. Failures are logged and
// counted only.
func (s *Store) persist(set *core.AnnotationSet) {
	if s.backend == nil {
		return
	}
	if err := s.backend.Save(set); err != nil {
		s.log.Error("Failed to persist annotation set", "key", set.Key().String(), "error", err)
		if s.failures != nil {
			s.failures.Add(context.Background(), 1)
		}
	}
}

func (s *Store) record(c Change) {
	if s.mutations != nil {
		s.mutations.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("kind", string(c.Kind)),
			attribute.String("op", string(c.Op)),
		))
	}
}

// mutate applies fn to the set for key under the lock, persists it when fn
// reports a change and notifies subscribers after the lock is released.
func (s *Store) mutate(key core.Key, create bool, fn func(set *core.AnnotationSet) (Change, bool)) bool {
	s.mu.Lock()
	var set *core.AnnotationSet
	if create {
		set = s.getOrCreate(key)
	} else {
		set = s.lookup(key)
	}
	if set == nil {
		s.mu.Unlock()
		return false
	}

	change, changed := fn(set)
	if changed {
		set.ModifiedAt = s.now()
		s.persist(set)
	}
	s.mu.Unlock()

	if changed {
		s.record(change)
		s.notify(change)
	}
	return changed
}

// AddMarker appends a marker numbered after the existing ones.
func (s *Store) AddMarker(key core.Key, x, y float64) core.Marker {
	var m core.Marker
	s.mutate(key, true, func(set *core.AnnotationSet) (Change, bool) {
		n := len(set.Markers) + 1
		m = core.Marker{
			ID:     s.newID(),
			Number: n,
			X:      x,
			Y:      y,
			Label:  core.MarkerLabel(n),
			Color:  s.color,
		}
		set.Markers = append(set.Markers, m)
		return Change{Key: key, Kind: core.KindMarker, Op: OpAdd, ID: m.ID}, true
	})
	return m
}

// DeleteMarker removes the marker and renumbers the rest. Unknown ids are
// ignored.
func (s *Store) DeleteMarker(key core.Key, id string) bool {
	return s.Delete(key, core.KindMarker, id)
}

// AddMeasurement stores a completed measurement, computing its distances
// with the set's pixel spacing.
func (s *Store) AddMeasurement(key core.Key, start, end core.Point) core.Measurement {
	var m core.Measurement
	s.mutate(key, true, func(set *core.AnnotationSet) (Change, bool) {
		m = core.NewMeasurement(s.newID(), start, end, set.PixelSpacing)
		set.Measurements = append(set.Measurements, m)
		return Change{Key: key, Kind: core.KindMeasurement, Op: OpAdd, ID: m.ID}, true
	})
	return m
}

// DeleteMeasurement removes a measurement. Unknown ids are ignored.
func (s *Store) DeleteMeasurement(key core.Key, id string) bool {
	return s.Delete(key, core.KindMeasurement, id)
}

// AddCrosshair appends a crosshair.
func (s *Store) AddCrosshair(key core.Key, x, y float64) core.Crosshair {
	var c core.Crosshair
	s.mutate(key, true, func(set *core.AnnotationSet) (Change, bool) {
		c = core.Crosshair{ID: s.newID(), X: x, Y: y}
		set.Crosshairs = append(set.Crosshairs, c)
		return Change{Key: key, Kind: core.KindCrosshair, Op: OpAdd, ID: c.ID}, true
	})
	return c
}

// DeleteCrosshair removes a crosshair. Unknown ids are ignored.
func (s *Store) DeleteCrosshair(key core.Key, id string) bool {
	return s.Delete(key, core.KindCrosshair, id)
}

// Delete removes the annotation of any kind. It reports whether something
// was removed.
func (s *Store) Delete(key core.Key, kind core.Kind, id string) bool {
	return s.mutate(key, false, func(set *core.AnnotationSet) (Change, bool) {
		return Change{Key: key, Kind: kind, Op: OpDelete, ID: id}, set.Remove(kind, id)
	})
}

// Import replaces the resident and stored sets with the given ones. Sets
// with an invalid key are skipped; a missing pixel spacing is taken from the
// series and missing timestamps are set to now.
func (s *Store) Import(sets []*core.AnnotationSet) int {
	n := 0
	for _, in := range sets {
		if in == nil || !in.Key().Valid() {
			continue
		}
		set := in.Clone()
		set.Normalize()
		set.Renumber()
		if !(set.PixelSpacing > 0) {
			set.PixelSpacing = s.spacing.PixelSpacing(set.SeriesID)
		}
		now := s.now()
		if set.CreatedAt.IsZero() {
			set.CreatedAt = now
		}
		if set.ModifiedAt.IsZero() {
			set.ModifiedAt = set.CreatedAt
		}

		s.mu.Lock()
		s.sets.Put(set)
		s.persist(set)
		s.mu.Unlock()

		c := Change{Key: set.Key(), Op: OpImport}
		s.record(c)
		s.notify(c)
		n++
	}
	return n
}

// Series returns copies of every non-empty set of a series: stored sets
// overlaid with the resident ones, ordered by image index.
func (s *Store) Series(seriesID string) ([]*core.AnnotationSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend != nil {
		stored, err := s.backend.LoadSeries(seriesID)
		if err != nil {
			return nil, err
		}
		for _, set := range stored {
			if cur, _ := s.sets.Lookup(set.Key()); cur == nil {
				s.sets.Put(set)
			}
		}
	}

	var out []*core.AnnotationSet
	for _, set := range s.sets.Series(seriesID) {
		if !set.Empty() {
			out = append(out, set.Clone())
		}
	}
	return out, nil
}
