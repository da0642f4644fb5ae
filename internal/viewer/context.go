package viewer

import (
	"sync"

	"github.com/mriview/viewer/pkg/core"
)

// Context holds the image a session is showing. Other goroutines read it,
// such as the log handler and the analysis collaborator.
type Context struct {
	mu     sync.RWMutex
	key    core.Key
	series core.Series
	ok     bool
}

// NewContext creates a Context with nothing selected.
func NewContext() *Context {
	return &Context{}
}

// Current returns the selected image.
func (c *Context) Current() (core.Key, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key, c.ok
}

// Series returns the metadata of the selected series.
func (c *Context) Series() (core.Series, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.series, c.ok
}

// Set selects an image.
func (c *Context) Set(key core.Key, series core.Series) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
	c.series = series
	c.ok = true
}

// Clear drops the selection.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = core.Key{}
	c.series = core.Series{}
	c.ok = false
}
