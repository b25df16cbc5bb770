package views

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PageView is a controller that records each activation. Hook, when set,
// runs on every Start and its error fails the dispatch.
type PageView struct {
	name string
	Hook func(ctx context.Context) error

	mu          sync.Mutex
	activations int64
	lastStarted time.Time
}

func NewPageView(name string) *PageView {
	return &PageView{name: name}
}

func (v *PageView) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.Hook != nil {
		if err := v.Hook(ctx); err != nil {
			return err
		}
	}

	v.mu.Lock()
	v.activations++
	v.lastStarted = time.Now().UTC()
	n := v.activations
	v.mu.Unlock()

	slog.Info("view activated", "view", v.name, "activations", n)
	return nil
}

func (v *PageView) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Stats{ID: v.name, Activations: v.activations, LastStarted: v.lastStarted}
}
