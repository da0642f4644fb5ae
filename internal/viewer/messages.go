package viewer

import (
	"encoding/json"

	"github.com/mriview/viewer/internal/render"
	"github.com/mriview/viewer/internal/render/svg"
	"github.com/mriview/viewer/internal/transform"
	"github.com/mriview/viewer/pkg/core"
)

// Client event types.
const (
	EventSelectImage   = "select_image"
	EventImageLoaded   = "image_loaded"
	EventLayout        = "layout"
	EventPointerDown   = "pointer_down"
	EventPointerMove   = "pointer_move"
	EventKeyDown       = "key_down"
	EventSetTool       = "set_tool"
	EventSetView       = "set_view"
	EventCancel        = "cancel"
	EventConfirmDelete = "confirm_delete"
)

// Server message types.
const (
	MessageScene   = "scene"
	MessageConfirm = "confirm"
	MessageError   = "error"
)

// Envelope is one message on the session channel in either direction.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Output is a message for the client.
type Output struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Pointer buttons as reported by the browser.
const (
	ButtonPrimary   = 0
	ButtonSecondary = 2
)

type SelectImage struct {
	SeriesID   string `json:"seriesId"`
	ImageIndex int    `json:"imageIndex"`
}

type ImageLoaded struct {
	SeriesID   string           `json:"seriesId"`
	ImageIndex int              `json:"imageIndex"`
	Layout     transform.Layout `json:"layout"`
}

// Pointer is a pointer event in viewport coordinates.
type Pointer struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Button int     `json:"button"`
}

type KeyDown struct {
	Key string `json:"key"`
}

type SetTool struct {
	Tool string `json:"tool"`
}

type ConfirmDelete struct {
	Kind      core.Kind `json:"kind"`
	ID        string    `json:"id"`
	Confirmed bool      `json:"confirmed"`
}

// ScenePayload carries the overlay both as primitives and as an SVG tree.
type ScenePayload struct {
	Scene render.Scene `json:"scene"`
	SVG   svg.Node     `json:"svg"`
}

// ConfirmPayload asks the client to confirm a deletion.
type ConfirmPayload struct {
	Kind    core.Kind `json:"kind"`
	ID      string    `json:"id"`
	Message string    `json:"message"`
}

type ErrorPayload struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}
