// internal/storage/storage.go
package storage

import (
	"errors"

	"github.com/mriview/viewer/pkg/core"
)

var (
	// ErrNotFound is returned by Load when no record exists for the key.
	ErrNotFound = errors.New("annotation record not found")
	// ErrCorrupt is returned by Load when the stored record cannot be decoded.
	ErrCorrupt = errors.New("annotation record corrupt")
	// ErrInvalidKey is returned for keys that cannot name a record, such as
	// a series id containing a path separator.
	ErrInvalidKey = errors.New("invalid annotation key")
)

// Backend is the interface all storage implementations must satisfy.
// Each record holds the full annotation set of one image, keyed by
// core.Key.String().
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Load returns the stored set for key, ErrNotFound when none exists and
	// an error wrapping ErrCorrupt when the record cannot be decoded.
	Load(key core.Key) (*core.AnnotationSet, error)

	// Save replaces the stored record for the set's key.
	Save(set *core.AnnotationSet) error

	// LoadSeries returns every decodable record of a series ordered by image
	// index. Corrupt records are skipped.
	LoadSeries(seriesID string) ([]*core.AnnotationSet, error)
}
