// Package worker processes annotation change events off the session
// goroutines: each change is recorded as an audit point.
package worker

import (
	"sync/atomic"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/mriview/viewer/internal/logging"
)

// PointWriter receives audit points.
type PointWriter interface {
	WritePoint(point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	LogManager *logging.SlogManager
	// Points may be nil, in which case changes are only logged.
	Points PointWriter
}

// Manager handles change events delivered through the dispatcher.
type Manager struct {
	deps Dependencies

	handled   atomic.Int64
	lastWrite atomic.Int64
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies) *Manager {
	return &Manager{deps: deps}
}

// Handled returns how many change events were processed.
func (m *Manager) Handled() int64 {
	return m.handled.Load()
}

// LastWrite returns when the last audit point was written, or the zero time.
func (m *Manager) LastWrite() time.Time {
	ns := m.lastWrite.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
