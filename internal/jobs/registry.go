package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler performs the work of one job type. The returned value must be JSON
// serializable and becomes the job result. A returned error fails the job.
type Handler func(ctx context.Context, t *Task) (any, error)

// Registry maps job types to handlers. It is filled at startup and frozen
// before workers start.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	frozen   bool
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register panics on an empty type, a duplicate type or a frozen registry.
// These are wiring mistakes that must surface at startup.
func (r *Registry) Register(typ string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		panic(fmt.Sprintf("jobs: register %q on frozen registry", typ))
	}
	if typ == "" || h == nil {
		panic("jobs: register requires a type and a handler")
	}
	if _, ok := r.handlers[typ]; ok {
		panic(fmt.Sprintf("jobs: handler for %q already registered", typ))
	}
	r.handlers[typ] = h
}

func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Lookup(typ string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typ]
	return h, ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
