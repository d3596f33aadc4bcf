package jobs

import (
	"context"
	"fmt"
	"sync"
)

// Handler runs one kind of job. OnFailure is called once when the job fails
// for good (fatal error or retries exhausted); it may be nil.
type Handler struct {
	Run       func(ctx context.Context, env *Envelope) error
	OnFailure func(ctx context.Context, env *Envelope, err error)
}

// Registry is the dispatch table from kind to handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

func NewRegistry() *Registry { return &Registry{handlers: make(map[Kind]Handler)} }

// Register binds h to kind. Registering a kind twice panics.
func (r *Registry) Register(kind Kind, h Handler) {
	if h.Run == nil {
		panic(fmt.Sprintf("jobs: nil handler for %s", kind))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[kind]; dup {
		panic(fmt.Sprintf("jobs: handler for %s registered twice", kind))
	}
	r.handlers[kind] = h
}

func (r *Registry) Lookup(kind Kind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}
