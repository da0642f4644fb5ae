package logging

import (
	"context"
	"log/slog"

	"github.com/mriview/viewer/pkg/core"
)

// ImageProvider reports the image a viewer session is showing. ok is false
// before any image has been selected.
type ImageProvider func() (key core.Key, ok bool)

// ViewerHandler stamps every record with the session's current series and
// image, read at log time so navigation is reflected immediately.
type ViewerHandler struct {
	inner   slog.Handler
	current ImageProvider
}

// NewViewerHandler wraps inner.
func NewViewerHandler(inner slog.Handler, current ImageProvider) *ViewerHandler {
	return &ViewerHandler{inner: inner, current: current}
}

// WithViewer returns a logger derived from base that carries session context.
func WithViewer(base *slog.Logger, sessionID string, current ImageProvider) *slog.Logger {
	return slog.New(NewViewerHandler(base.Handler(), current)).With("session", sessionID)
}

func (h *ViewerHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ViewerHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.current != nil {
		if key, ok := h.current(); ok {
			r.AddAttrs(slog.String("series", key.SeriesID), slog.Int("image", key.ImageIndex))
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *ViewerHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ViewerHandler{inner: h.inner.WithAttrs(attrs), current: h.current}
}

func (h *ViewerHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ViewerHandler{inner: h.inner.WithGroup(name), current: h.current}
}
