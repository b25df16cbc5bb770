// Package views resolves controller ids to controllers.
//
// Each id is bound to a Factory. A factory runs at most once per id; later
// loads return the cached controller, so a view is a long-lived module whose
// Start runs on every dispatch.
package views

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/navwatch/internal/router"
)

var ErrUnknownController = errors.New("views: unknown controller")

// Factory builds a controller on first load.
type Factory func(ctx context.Context) (router.Controller, error)

// Stats describes a controller's activation history.
type Stats struct {
	ID          string    `json:"id"`
	Loaded      bool      `json:"loaded"`
	Activations int64     `json:"activations"`
	LastStarted time.Time `json:"last_started,omitempty"`
}

// StatsReporter is implemented by controllers that track activations.
type StatsReporter interface {
	Stats() Stats
}

type binding struct {
	factory Factory
	mu      sync.Mutex
	ctrl    router.Controller
}

// Registry is a router.Loader over registered factories.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]*binding
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]*binding)}
}

// Register binds id to factory, replacing any previous binding.
func (r *Registry) Register(id string, factory Factory) *Registry {
	id = strings.TrimSpace(id)
	r.mu.Lock()
	r.bindings[id] = &binding{factory: factory}
	r.mu.Unlock()
	return r
}

// RegisterController binds id to an already built controller.
func (r *Registry) RegisterController(id string, ctrl router.Controller) *Registry {
	return r.Register(id, func(context.Context) (router.Controller, error) { return ctrl, nil })
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bindings[id]
	return ok
}

func (r *Registry) Load(ctx context.Context, id string) (router.Controller, error) {
	r.mu.RLock()
	b, ok := r.bindings[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownController, id)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctrl != nil {
		return b.ctrl, nil
	}
	if b.factory == nil {
		return nil, fmt.Errorf("views: controller %q has no factory", id)
	}
	ctrl, err := b.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("views: build controller %q: %w", id, err)
	}
	if ctrl == nil {
		return nil, fmt.Errorf("views: factory for %q returned nil", id)
	}
	b.ctrl = ctrl
	slog.Debug("views controller loaded", "controller", id)
	return ctrl, nil
}

// Stats lists every registered id, sorted, with activation data for loaded
// controllers that report it.
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	ids := make([]string, 0, len(r.bindings))
	for id := range r.bindings {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	out := make([]Stats, 0, len(ids))
	for _, id := range ids {
		r.mu.RLock()
		b := r.bindings[id]
		r.mu.RUnlock()
		if b == nil {
			continue
		}
		b.mu.Lock()
		ctrl := b.ctrl
		b.mu.Unlock()

		st := Stats{ID: id}
		if rep, ok := ctrl.(StatsReporter); ok {
			st = rep.Stats()
			st.ID = id
		}
		st.Loaded = ctrl != nil
		out = append(out, st)
	}
	return out
}
