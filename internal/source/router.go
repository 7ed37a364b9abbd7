package source

import (
	"fmt"
	"sort"
	"sync"
)

// Router maps collection IDs to their registered Collectors.
type Router struct {
	mu         sync.RWMutex
	collectors map[string]*Collector
}

func NewRouter() *Router {
	return &Router{collectors: make(map[string]*Collector)}
}

// Register associates a collection ID with a Collector.
func (r *Router) Register(c *Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[c.Collection()] = c
}

// CollectorFor returns the Collector for the given collection ID.
func (r *Router) CollectorFor(collection string) (*Collector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[collection]
	if !ok {
		return nil, fmt.Errorf("no collector registered for collection %q", collection)
	}
	return c, nil
}

// Collections returns all registered collection IDs, sorted.
func (r *Router) Collections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.collectors))
	for id := range r.collectors {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
