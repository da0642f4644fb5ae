package worker

import (
	"fmt"

	"github.com/mriview/viewer/internal/dispatcher"
	"github.com/mriview/viewer/internal/influx"
	"github.com/mriview/viewer/internal/store"
)

// EventAnnotationChanged carries a store.Change.
const EventAnnotationChanged = ":ANNOTATION:CHANGED:"

// RegisterHandlers registers the change handler with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// audit writes never hold up the session that made the change
	d.Register(EventAnnotationChanged, m.handleAnnotationChanged, dispatcher.Buffered(1000), dispatcher.Logged())
}

// Forward returns a store subscriber that routes every change into d.
func (m *Manager) Forward(d *dispatcher.Dispatcher) func(store.Change) {
	return func(c store.Change) {
		e, err := dispatcher.NewEvent(EventAnnotationChanged, c)
		if err != nil {
			m.writeLog("Forward", err.Error(), "ERROR")
			return
		}
		if _, err := d.Dispatch(e); err != nil {
			m.writeLog("Forward", err.Error(), "WARN")
		}
	}
}

func (m *Manager) handleAnnotationChanged(e dispatcher.Event) (any, error) {
	c, err := dispatcher.Decode[store.Change](e)
	if err != nil {
		return nil, err
	}
	m.handled.Add(1)

	if m.deps.Points == nil {
		return nil, nil
	}
	if err := m.deps.Points.WritePoint(influx.ChangePoint(c, e.Timestamp)); err != nil {
		return nil, fmt.Errorf("failed to write audit point for %s: %w", c.Key, err)
	}
	m.lastWrite.Store(e.Timestamp.UnixNano())
	return nil, nil
}

func (m *Manager) writeLog(function, data, level string) {
	if m.deps.LogManager == nil {
		return
	}
	m.deps.LogManager.WriteLog(function, data, level)
}
