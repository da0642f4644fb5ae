package logging

import (
	"fmt"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGELFHandler returns a handler that ships JSON records to a Graylog
// GELF UDP input at addr. Close the returned writer on shutdown.
func NewGELFHandler(addr string, opts *slog.HandlerOptions) (slog.Handler, *gelf.Writer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GELF writer: %w", err)
	}
	w.Facility = "mriview"
	return slog.NewJSONHandler(w, opts), w, nil
}
