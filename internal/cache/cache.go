package cache

import (
	"sort"
	"sync"

	"github.com/mriview/viewer/pkg/core"
)

// SetCache keeps every annotation set loaded during the session resident so
// repeated reads never go back to storage. Keys that storage reported as
// absent are remembered too. There is no eviction.
type SetCache struct {
	m      sync.Mutex
	Sets   map[core.Key]*core.AnnotationSet
	absent map[core.Key]struct{}
}

func NewSetCache() *SetCache {
	return &SetCache{
		m:      sync.Mutex{},
		Sets:   make(map[core.Key]*core.AnnotationSet),
		absent: make(map[core.Key]struct{}),
	}
}

func (c *SetCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.Sets = make(map[core.Key]*core.AnnotationSet)
	c.absent = make(map[core.Key]struct{})
}

// Lookup returns the resident set for key. known is true when the key is
// resident or was already found absent, so storage need not be consulted.
func (c *SetCache) Lookup(key core.Key) (set *core.AnnotationSet, known bool) {
	c.m.Lock()
	defer c.m.Unlock()
	if s, ok := c.Sets[key]; ok {
		return s, true
	}
	_, known = c.absent[key]
	return nil, known
}

func (c *SetCache) Put(set *core.AnnotationSet) {
	c.m.Lock()
	defer c.m.Unlock()
	key := set.Key()
	c.Sets[key] = set
	delete(c.absent, key)
}

func (c *SetCache) MarkAbsent(key core.Key) {
	c.m.Lock()
	defer c.m.Unlock()
	if _, ok := c.Sets[key]; !ok {
		c.absent[key] = struct{}{}
	}
}

// Series returns the resident sets of one series ordered by image index.
func (c *SetCache) Series(seriesID string) []*core.AnnotationSet {
	c.m.Lock()
	defer c.m.Unlock()
	var out []*core.AnnotationSet
	for k, s := range c.Sets {
		if k.SeriesID == seriesID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImageIndex < out[j].ImageIndex })
	return out
}

func (c *SetCache) Len() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.Sets)
}
