// Package server exposes the series catalog, the annotation store, export
// and live viewer sessions over HTTP.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/mriview/viewer/internal/export"
	"github.com/mriview/viewer/internal/render"
	"github.com/mriview/viewer/internal/store"
	"github.com/mriview/viewer/internal/viewer"
	"github.com/mriview/viewer/pkg/core"
)

const maxImportSize = 32 << 20

// Catalog lists the available series and locates their image files.
type Catalog interface {
	List() []core.Series
	Get(id string) (core.Series, bool)
	ImagePath(seriesID string, index int) (string, error)
}

// Exporter writes annotated copies of series images.
type Exporter interface {
	Export(ctx context.Context, req export.Request) (export.Result, error)
}

// Dependencies holds everything the handlers use.
type Dependencies struct {
	Store         *store.Store
	Catalog       Catalog
	Exporter      Exporter
	Style         render.Style
	ConfirmDelete bool
	Logger        *slog.Logger
}

// SessionInfo describes a connected viewer.
type SessionInfo struct {
	ID         string `json:"id"`
	SeriesID   string `json:"seriesId,omitempty"`
	ImageIndex int    `json:"imageIndex"`
	Selected   bool   `json:"selected"`
}

// Server serves the HTTP API.
type Server struct {
	deps     Dependencies
	log      *slog.Logger
	upgrader ws.Upgrader

	mu       sync.RWMutex
	sessions map[string]*viewer.Controller
	conns    map[string]*session
	closed   bool
	active   sync.WaitGroup
}

// New creates a Server.
func New(deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		deps: deps,
		log:  log,
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*viewer.Controller),
		conns:    make(map[string]*session),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the WebSocket upgrade through the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		level := slog.LevelDebug
		if lrw.statusCode >= 500 {
			level = slog.LevelError
		}
		log.Log(r.Context(), level, "HTTP request",
			"method", r.Method,
			"uri", r.RequestURI,
			"status", lrw.statusCode,
			"duration_ms", float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.log, s.ServeMux())
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthcheck", s.healthcheck)
	mux.HandleFunc("GET /api/series", s.listSeries)
	mux.HandleFunc("GET /api/series/{series}/images/{index}", s.serveImage)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/annotations", s.getAnnotations)
	mux.HandleFunc("POST /api/annotations", s.importAnnotations)
	mux.HandleFunc("GET /api/annotations/{series}/{index}", s.getAnnotationSet)
	mux.HandleFunc("DELETE /api/annotations/{series}/{index}/{kind}/{id}", s.deleteAnnotation)
	mux.HandleFunc("POST /api/export", s.export)
	mux.HandleFunc("GET /ws", s.serveSession)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) healthcheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listSeries(w http.ResponseWriter, r *http.Request) {
	list := []core.Series{}
	if s.deps.Catalog != nil {
		list = append(list, s.deps.Catalog.List()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"series": list})
}

// serveImage sends the image file of one series image.
func (s *Server) serveImage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		writeJSONError(w, http.StatusNotFound, "No series catalog")
		return
	}
	key, err := parseKey(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := s.deps.Catalog.ImagePath(key.SeriesID, key.ImageIndex)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Sessions())
}

// getAnnotations returns the annotation document for the series named in
// the query, or for every catalog series when none is named.
func (s *Server) getAnnotations(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["series"]
	if len(ids) == 0 && s.deps.Catalog != nil {
		for _, series := range s.deps.Catalog.List() {
			ids = append(ids, series.ID)
		}
	}

	var sets []*core.AnnotationSet
	for _, id := range ids {
		found, err := s.deps.Store.Series(id)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to load annotations for %s: %v", id, err))
			return
		}
		sets = append(sets, found...)
	}
	writeJSON(w, http.StatusOK, core.NewDocument(sets))
}

func (s *Server) importAnnotations(w http.ResponseWriter, r *http.Request) {
	var doc core.Document
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportSize))
	if err := dec.Decode(&doc); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid annotation document")
		return
	}
	if doc.Version != "" && doc.Version != core.DocumentVersion {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported document version %q", doc.Version))
		return
	}
	for _, set := range doc.Annotations {
		if set == nil {
			continue
		}
		if err := s.checkKey(set.Key()); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	n := s.deps.Store.Import(doc.Annotations)
	s.log.Info("Imported annotations", "sets", n)
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// checkSeries accepts ids that are safe path elements and, when a catalog is
// configured, name a catalog series.
func (s *Server) checkSeries(id string) error {
	if !core.ValidSeriesID(id) {
		return fmt.Errorf("invalid series id %q", id)
	}
	if s.deps.Catalog != nil {
		if _, ok := s.deps.Catalog.Get(id); !ok {
			return fmt.Errorf("unknown series %q", id)
		}
	}
	return nil
}

// checkKey accepts keys naming an image of a known series.
func (s *Server) checkKey(key core.Key) error {
	if err := s.checkSeries(key.SeriesID); err != nil {
		return err
	}
	if key.ImageIndex < 0 {
		return fmt.Errorf("invalid image index %d", key.ImageIndex)
	}
	if s.deps.Catalog != nil {
		series, _ := s.deps.Catalog.Get(key.SeriesID)
		if key.ImageIndex >= len(series.Images) {
			return fmt.Errorf("image index %d out of range for series %q", key.ImageIndex, key.SeriesID)
		}
	}
	return nil
}

func parseKey(r *http.Request) (core.Key, error) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		return core.Key{}, fmt.Errorf("invalid image index %q", r.PathValue("index"))
	}
	return core.Key{SeriesID: r.PathValue("series"), ImageIndex: index}, nil
}

func (s *Server) getAnnotationSet(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	set, ok := s.deps.Store.Get(key)
	if !ok || set.Empty() {
		writeJSONError(w, http.StatusNotFound, "No annotations for "+key.String())
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) deleteAnnotation(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := core.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.deps.Store.Delete(key, kind, r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exporter == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Export is not configured")
		return
	}
	var req export.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid export request")
		return
	}
	if len(req.Series) == 0 {
		writeJSONError(w, http.StatusBadRequest, "No series selected")
		return
	}
	for _, id := range req.Series {
		if err := s.checkSeries(id); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	res, err := s.deps.Exporter.Export(r.Context(), req)
	switch {
	case errors.Is(err, export.ErrUnsupportedFormat):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Export failed: %v", err))
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// serveSession upgrades to a WebSocket and runs one viewer session on it
// until the client disconnects.
func (s *Server) serveSession(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	sess := newSession(conn, s.log.With("session", id))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sess.shutdown()
		return
	}
	s.active.Add(1)
	s.conns[id] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		s.active.Done()
	}()

	ctrl, err := viewer.New(viewer.Options{
		SessionID:     id,
		Store:         s.deps.Store,
		Catalog:       s.deps.Catalog,
		Style:         s.deps.Style,
		ConfirmDelete: s.deps.ConfirmDelete,
		Logger:        s.log,
		Send:          sess.send,
	})
	if err != nil {
		s.log.Error("Failed to start viewer session", "error", err)
		return
	}

	s.mu.Lock()
	s.sessions[id] = ctrl
	s.mu.Unlock()
	s.log.Info("Viewer session opened", "session", id, "remote", r.RemoteAddr)

	written := make(chan struct{})
	ran := make(chan struct{})
	go func() {
		defer close(ran)
		ctrl.Run()
	}()
	go func() {
		defer close(written)
		sess.writeLoop()
	}()

	sess.readLoop(func(env viewer.Envelope) {
		if err := ctrl.Handle(env); err != nil {
			s.log.Debug("Session event rejected", "session", id, "type", env.Type, "error", err)
		}
	})

	sess.close()
	<-written
	ctrl.Close()
	<-ran

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	s.log.Info("Viewer session closed", "session", id)
}

// Close disconnects every viewer session and waits until each one has
// stopped touching the store. Later upgrade requests are refused.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*session, 0, len(s.conns))
	for _, sess := range s.conns {
		conns = append(conns, sess)
	}
	s.mu.Unlock()

	for _, sess := range conns {
		sess.shutdown()
	}
	s.active.Wait()
}

// Sessions lists the connected viewers and the image each one shows.
func (s *Server) Sessions() []SessionInfo {
	s.mu.RLock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for id, ctrl := range s.sessions {
		info := SessionInfo{ID: id}
		if key, ok := ctrl.Current(); ok {
			info.SeriesID = key.SeriesID
			info.ImageIndex = key.ImageIndex
			info.Selected = true
		}
		out = append(out, info)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Session returns the controller of a connected viewer.
func (s *Server) Session(id string) (*viewer.Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctrl, ok := s.sessions[id]
	return ctrl, ok
}
