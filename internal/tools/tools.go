// Package tools implements the placement state machines for markers,
// measurements and crosshairs. Tools receive points already converted to
// image-pixel space and ignore anything that fell outside the image.
package tools

import (
	"errors"
	"fmt"

	"github.com/mriview/viewer/internal/transform"
	"github.com/mriview/viewer/pkg/core"
)

// ErrMeasurementPending is returned when a measurement is started while
// another one is still in progress.
var ErrMeasurementPending = errors.New("a measurement is already in progress")

// Mode is the active tool.
type Mode string

const (
	ModeNone        Mode = "none"
	ModeMarker      Mode = "marker"
	ModeMeasurement Mode = "measurement"
	ModeCrosshair   Mode = "crosshair"
)

// ParseMode converts a wire name into a Mode. The empty string selects no tool.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeNone, nil
	case ModeNone, ModeMarker, ModeMeasurement, ModeCrosshair:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown tool: %q", s)
	}
}

// Placer is the part of the annotation store the tools write to.
type Placer interface {
	AddMarker(key core.Key, x, y float64) core.Marker
	AddMeasurement(key core.Key, start, end core.Point) core.Measurement
	AddCrosshair(key core.Key, x, y float64) core.Crosshair
}

// Tool reacts to pointer input on one image. The returned bool reports
// whether anything visible changed.
type Tool interface {
	Mode() Mode
	PointerDown(key core.Key, p transform.ImagePoint) bool
	PointerMove(key core.Key, p transform.ImagePoint) bool
	Cancel() bool
}

// MarkerTool places a numbered marker on every valid click.
type MarkerTool struct {
	Store Placer
}

func (MarkerTool) Mode() Mode { return ModeMarker }

func (t MarkerTool) PointerDown(key core.Key, p transform.ImagePoint) bool {
	if !p.Valid {
		return false
	}
	t.Store.AddMarker(key, p.X, p.Y)
	return true
}

func (MarkerTool) PointerMove(core.Key, transform.ImagePoint) bool { return false }
func (MarkerTool) Cancel() bool                                    { return false }

// CrosshairTool places a crosshair on every valid click.
type CrosshairTool struct {
	Store Placer
}

func (CrosshairTool) Mode() Mode { return ModeCrosshair }

func (t CrosshairTool) PointerDown(key core.Key, p transform.ImagePoint) bool {
	if !p.Valid {
		return false
	}
	t.Store.AddCrosshair(key, p.X, p.Y)
	return true
}

func (CrosshairTool) PointerMove(core.Key, transform.ImagePoint) bool { return false }
func (CrosshairTool) Cancel() bool                                    { return false }

// MeasurementTool is idle until the first valid click, pending until the
// second, and then commits the measurement to the store. At most one
// measurement is ever pending.
type MeasurementTool struct {
	Store Placer

	key    core.Key
	active *core.ActiveMeasurement
}

// NewMeasurementTool returns an idle measurement tool.
func NewMeasurementTool(store Placer) *MeasurementTool {
	return &MeasurementTool{Store: store}
}

func (*MeasurementTool) Mode() Mode { return ModeMeasurement }

// Pending reports whether a measurement is in progress.
func (t *MeasurementTool) Pending() bool {
	return t.active != nil
}

// Active returns a copy of the in-progress measurement for key, or nil.
func (t *MeasurementTool) Active(key core.Key) *core.ActiveMeasurement {
	if t.active == nil || t.key != key {
		return nil
	}
	a := *t.active
	return &a
}

// Begin starts a measurement at p.
func (t *MeasurementTool) Begin(key core.Key, p core.Point) error {
	if t.active != nil {
		return ErrMeasurementPending
	}
	t.key = key
	t.active = &core.ActiveMeasurement{Start: p, End: p}
	return nil
}

// Complete commits the pending measurement ending at p.
func (t *MeasurementTool) Complete(p core.Point) (core.Measurement, bool) {
	if t.active == nil {
		return core.Measurement{}, false
	}
	start, key := t.active.Start, t.key
	t.active = nil
	return t.Store.AddMeasurement(key, start, p), true
}

func (t *MeasurementTool) PointerDown(key core.Key, p transform.ImagePoint) bool {
	if !p.Valid {
		return false
	}
	if t.active != nil && t.key != key {
		t.Cancel()
	}
	if t.active == nil {
		return t.Begin(key, p.Point()) == nil
	}
	_, ok := t.Complete(p.Point())
	return ok
}

func (t *MeasurementTool) PointerMove(key core.Key, p transform.ImagePoint) bool {
	if t.active == nil || t.key != key || !p.Valid {
		return false
	}
	t.active.End = p.Point()
	return true
}

// Cancel discards the pending measurement without committing it.
func (t *MeasurementTool) Cancel() bool {
	if t.active == nil {
		return false
	}
	t.active = nil
	return true
}
