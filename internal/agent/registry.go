package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type Factory func(ctx context.Context, kind Kind) (Dispatcher, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
	fallback  Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]Factory)}
}

// NewHTTPRegistry routes every known kind to POST {baseURL}/api/chat/{kind}.
// Each kind gets one dispatcher, so turns share its connection pool.
func NewHTTPRegistry(baseURL string, timeout time.Duration) *Registry {
	r := NewRegistry()
	for _, k := range Kinds {
		d := NewHTTPDispatcher(baseURL, k, timeout)
		r.Register(k, func(context.Context, Kind) (Dispatcher, error) {
			return d, nil
		})
	}
	return r
}

func normalize(kind Kind) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(string(kind))))
}

func (r *Registry) Register(kind Kind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(kind)] = f
}

// SetFallback serves any valid kind without its own factory.
func (r *Registry) SetFallback(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = f
}

func (r *Registry) Get(ctx context.Context, kind Kind) (Dispatcher, error) {
	kind = normalize(kind)
	r.mu.RLock()
	f, ok := r.factories[kind]
	fallback := r.fallback
	r.mu.RUnlock()
	if !ok {
		if fallback == nil || !kind.Valid() {
			return nil, fmt.Errorf("unknown agent kind: %s", kind)
		}
		f = fallback
	}
	return f(ctx, kind)
}
