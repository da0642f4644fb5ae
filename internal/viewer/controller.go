// Package viewer runs one viewer session: it owns the view state, the active
// tool and the selected image, turns client events into store mutations and
// pushes a fresh scene whenever the current image's annotations change.
package viewer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mriview/viewer/internal/dispatcher"
	"github.com/mriview/viewer/internal/logging"
	"github.com/mriview/viewer/internal/render"
	"github.com/mriview/viewer/internal/render/svg"
	"github.com/mriview/viewer/internal/store"
	"github.com/mriview/viewer/internal/tools"
	"github.com/mriview/viewer/internal/transform"
	"github.com/mriview/viewer/pkg/core"
	"gonum.org/v1/gonum/spatial/r2"
)

// ErrNoImage is returned for events that need a selected image.
var ErrNoImage = errors.New("no image selected")

// Catalog is the part of the series catalog a session needs.
type Catalog interface {
	Get(id string) (core.Series, bool)
}

// Options configures a Controller.
type Options struct {
	SessionID     string
	Store         *store.Store
	Catalog       Catalog
	Style         render.Style
	ConfirmDelete bool
	Logger        *slog.Logger
	// Send delivers messages to the client. It is called with the session
	// lock held and must not call back into the controller.
	Send func(Output)
}

type deleteRequest struct {
	key  core.Key
	kind core.Kind
	id   string
}

// Controller is one viewer session. Handle must be called from a single
// goroutine; store changes made elsewhere are applied by Run.
type Controller struct {
	id            string
	store         *store.Store
	catalog       Catalog
	renderer      *render.Renderer
	confirmDelete bool
	log           *slog.Logger
	send          func(Output)
	disp          *dispatcher.Dispatcher
	current       *Context

	mu        sync.Mutex
	view      transform.ViewState
	layout    transform.Layout
	hasLayout bool
	loaded    bool
	tool      tools.Tool
	measure   *tools.MeasurementTool
	scene     render.Scene
	pending   *deleteRequest

	changes     chan core.Key
	done        chan struct{}
	closeOnce   sync.Once
	unsubscribe func()
}

// New creates a session and subscribes it to store changes.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, errors.New("viewer: store is required")
	}
	c := &Controller{
		id:            opts.SessionID,
		store:         opts.Store,
		catalog:       opts.Catalog,
		renderer:      render.New(opts.Style),
		confirmDelete: opts.ConfirmDelete,
		send:          opts.Send,
		current:       NewContext(),
		view:          transform.DefaultViewState(),
		measure:       tools.NewMeasurementTool(opts.Store),
		changes:       make(chan core.Key, 32),
		done:          make(chan struct{}),
	}
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	c.log = logging.WithViewer(base, c.id, c.current.Current)
	if c.send == nil {
		c.send = func(Output) {}
	}

	disp, err := dispatcher.New(logging.NewDispatcherLogger(c.log))
	if err != nil {
		return nil, fmt.Errorf("viewer: %w", err)
	}
	c.disp = disp
	c.register()

	c.unsubscribe = c.store.Subscribe(c.onChange)
	return c, nil
}

func (c *Controller) register() {
	c.disp.Register(EventSelectImage, c.handleSelectImage, dispatcher.Logged())
	c.disp.Register(EventImageLoaded, c.handleImageLoaded, dispatcher.Logged())
	c.disp.Register(EventLayout, c.handleLayout)
	c.disp.Register(EventPointerDown, c.handlePointerDown, dispatcher.Logged())
	c.disp.Register(EventPointerMove, c.handlePointerMove)
	c.disp.Register(EventKeyDown, c.handleKeyDown, dispatcher.Logged())
	c.disp.Register(EventSetTool, c.handleSetTool, dispatcher.Logged())
	c.disp.Register(EventSetView, c.handleSetView)
	c.disp.Register(EventCancel, c.handleCancel, dispatcher.Logged())
	c.disp.Register(EventConfirmDelete, c.handleConfirmDelete, dispatcher.Logged())
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Current returns the series and image the session is showing.
func (c *Controller) Current() (core.Key, bool) { return c.current.Current() }

// Context exposes the session's current-image holder.
func (c *Controller) Context() *Context { return c.current }

// Mode returns the active tool.
func (c *Controller) Mode() tools.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tool == nil {
		return tools.ModeNone
	}
	return c.tool.Mode()
}

// View returns the current zoom and pan.
func (c *Controller) View() transform.ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Scene returns the last scene sent to the client.
func (c *Controller) Scene() render.Scene {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scene
}

// Handle processes one client message. Failures are also reported to the
// client as an error message.
func (c *Controller) Handle(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.disp.Dispatch(dispatcher.Event{Type: env.Type, Payload: env.Payload, Timestamp: time.Now()})
	if err != nil {
		c.send(Output{Type: MessageError, Payload: ErrorPayload{Event: env.Type, Error: err.Error()}})
	}
	return err
}

// Run applies store changes made outside this session until Close.
func (c *Controller) Run() {
	for {
		select {
		case <-c.done:
			return
		case key := <-c.changes:
			c.mu.Lock()
			if k, ok := c.current.Current(); ok && k == key {
				c.refresh(false)
			}
			c.mu.Unlock()
		}
	}
}

// Close unsubscribes from the store and stops Run.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		close(c.done)
		c.disp.Close()
	})
}

func (c *Controller) onChange(ch store.Change) {
	select {
	case c.changes <- ch.Key:
	default:
		// Run is behind; a later refresh renders the latest state anyway
	}
}

func (c *Controller) selectImage(key core.Key) error {
	if key.SeriesID == "" || key.ImageIndex < 0 {
		return fmt.Errorf("invalid image %s", key)
	}
	var series core.Series
	if c.catalog != nil {
		s, ok := c.catalog.Get(key.SeriesID)
		if !ok {
			return fmt.Errorf("unknown series %q", key.SeriesID)
		}
		if key.ImageIndex >= len(s.Images) {
			return fmt.Errorf("image index %d out of range for series %s", key.ImageIndex, key.SeriesID)
		}
		series = s
	}

	if cur, ok := c.current.Current(); ok && cur == key {
		return nil
	}
	c.measure.Cancel()
	c.pending = nil
	c.loaded = false
	c.current.Set(key, series)
	c.scene = render.Scene{Key: key}
	c.push()
	return nil
}

func (c *Controller) handleSelectImage(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[SelectImage](e)
	if err != nil {
		return nil, err
	}
	return nil, c.selectImage(core.Key{SeriesID: p.SeriesID, ImageIndex: p.ImageIndex})
}

func (c *Controller) handleImageLoaded(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[ImageLoaded](e)
	if err != nil {
		return nil, err
	}
	key, ok := c.current.Current()
	if !ok || key != (core.Key{SeriesID: p.SeriesID, ImageIndex: p.ImageIndex}) {
		c.log.Debug("Ignoring load report for another image", "loaded", p.SeriesID, "index", p.ImageIndex)
		return nil, nil
	}
	c.layout = p.Layout
	c.hasLayout = true
	c.loaded = true
	c.refresh(true)
	return nil, nil
}

func (c *Controller) handleLayout(e dispatcher.Event) (any, error) {
	layout, err := dispatcher.Decode[transform.Layout](e)
	if err != nil {
		return nil, err
	}
	c.layout = layout
	c.hasLayout = true
	c.refresh(false)
	return nil, nil
}

func (c *Controller) handleSetView(e dispatcher.Event) (any, error) {
	view, err := dispatcher.Decode[transform.ViewState](e)
	if err != nil {
		return nil, err
	}
	if view.Zoom <= 0 {
		return nil, fmt.Errorf("invalid zoom %v", view.Zoom)
	}
	c.view = view
	c.refresh(false)
	return nil, nil
}

func (c *Controller) handleSetTool(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[SetTool](e)
	if err != nil {
		return nil, err
	}
	mode, err := tools.ParseMode(p.Tool)
	if err != nil {
		return nil, err
	}
	if c.measure.Cancel() {
		c.refresh(false)
	}
	switch mode {
	case tools.ModeMarker:
		c.tool = tools.MarkerTool{Store: c.store}
	case tools.ModeMeasurement:
		c.tool = c.measure
	case tools.ModeCrosshair:
		c.tool = tools.CrosshairTool{Store: c.store}
	default:
		c.tool = nil
	}
	return mode, nil
}

func (c *Controller) handlePointerDown(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[Pointer](e)
	if err != nil {
		return nil, err
	}
	key, ok := c.current.Current()
	if !ok {
		return nil, ErrNoImage
	}
	if !c.loaded {
		return false, nil
	}
	if p.Button == ButtonSecondary {
		return c.requestDelete(key, p), nil
	}
	if p.Button != ButtonPrimary || c.tool == nil {
		return false, nil
	}

	proj, err := transform.NewProjection(c.layout, c.view)
	if err != nil {
		return false, nil
	}
	changed := c.tool.PointerDown(key, proj.ViewportToImage(p.X, p.Y))
	if changed {
		c.refresh(false)
	}
	return changed, nil
}

func (c *Controller) handlePointerMove(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[Pointer](e)
	if err != nil {
		return nil, err
	}
	key, ok := c.current.Current()
	if !ok || !c.loaded || c.tool == nil {
		return false, nil
	}
	proj, err := transform.NewProjection(c.layout, c.view)
	if err != nil {
		return false, nil
	}
	changed := c.tool.PointerMove(key, proj.ViewportToImage(p.X, p.Y))
	if changed {
		c.refresh(false)
	}
	return changed, nil
}

func (c *Controller) handleKeyDown(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[KeyDown](e)
	if err != nil {
		return nil, err
	}
	switch p.Key {
	case "Escape":
		c.cancel()
	case "ArrowUp", "ArrowLeft", "PageUp":
		return nil, c.step(-1)
	case "ArrowDown", "ArrowRight", "PageDown":
		return nil, c.step(1)
	}
	return nil, nil
}

func (c *Controller) handleCancel(dispatcher.Event) (any, error) {
	c.cancel()
	return nil, nil
}

func (c *Controller) cancel() {
	c.pending = nil
	if c.measure.Cancel() {
		c.refresh(false)
	}
}

// step moves to a neighbouring image of the current series. Moving past
// either end does nothing.
func (c *Controller) step(delta int) error {
	key, ok := c.current.Current()
	if !ok {
		return nil
	}
	next := key.ImageIndex + delta
	if next < 0 {
		return nil
	}
	if s, ok := c.current.Series(); ok && c.catalog != nil && next >= len(s.Images) {
		return nil
	}
	return c.selectImage(core.Key{SeriesID: key.SeriesID, ImageIndex: next})
}

// requestDelete hit-tests the last scene at p and deletes what it finds,
// or asks the client first when confirmation is enabled.
func (c *Controller) requestDelete(key core.Key, p Pointer) bool {
	if !c.hasLayout {
		return false
	}
	at := r2.Sub(r2.Vec{X: p.X, Y: p.Y}, c.layout.Canvas.Origin())
	kind, id, ok := c.scene.HitTest(at)
	if !ok {
		return false
	}
	if !c.confirmDelete {
		return c.delete(key, kind, id)
	}
	c.pending = &deleteRequest{key: key, kind: kind, id: id}
	c.send(Output{Type: MessageConfirm, Payload: ConfirmPayload{
		Kind:    kind,
		ID:      id,
		Message: fmt.Sprintf("Delete this %s?", kind),
	}})
	return false
}

func (c *Controller) handleConfirmDelete(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[ConfirmDelete](e)
	if err != nil {
		return nil, err
	}
	req := c.pending
	c.pending = nil
	if req == nil || req.kind != p.Kind || req.id != p.ID || !p.Confirmed {
		return false, nil
	}
	return c.delete(req.key, req.kind, req.id), nil
}

func (c *Controller) delete(key core.Key, kind core.Kind, id string) bool {
	if !c.store.Delete(key, kind, id) {
		return false
	}
	c.refresh(false)
	return true
}

// refresh re-renders the current image once it has loaded. The scene is
// sent when it differs from the last one, or always when force is set.
func (c *Controller) refresh(force bool) {
	key, ok := c.current.Current()
	if !ok || !c.loaded {
		return
	}
	proj, err := transform.NewProjection(c.layout, c.view)
	if err != nil {
		c.log.Debug("Skipping render", "error", err)
		return
	}

	active := c.measure.Active(key)
	var set *core.AnnotationSet
	if active != nil {
		set = c.store.GetOrCreate(key)
	} else if s, ok := c.store.Get(key); ok {
		set = s
	}

	scene := c.renderer.Render(key, set, active, proj)
	if !force && cmp.Equal(scene, c.scene) {
		return
	}
	c.scene = scene
	c.push()
}

func (c *Controller) push() {
	c.send(Output{Type: MessageScene, Payload: ScenePayload{
		Scene: c.scene,
		SVG:   svg.Document(c.scene, c.layout.Canvas.W, c.layout.Canvas.H),
	}})
}
