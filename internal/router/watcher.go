// Package router watches a page's fragment and history state and dispatches
// the controller bound to the current route.
//
// The watcher samples the history source on a fixed interval and diffs the
// (fragment, state) pair against its snapshot. A change whose fragment matches
// a route loads that route's controller asynchronously; the first matching
// route wins and unmatched fragments are ignored.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultInterval     = 200 * time.Millisecond
	DefaultRootFragment = "#home"
)

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithRootFragment sets the fragment used by RedirectToRoot.
func WithRootFragment(fragment string) Option {
	return func(w *Watcher) {
		if f := strings.TrimSpace(fragment); f != "" {
			w.root = f
		}
	}
}

// WithPublisher sets the sink for watcher events.
func WithPublisher(p Publisher) Option {
	return func(w *Watcher) {
		if p != nil {
			w.publisher = p
		}
	}
}

type discardPublisher struct{}

func (discardPublisher) Publish(Event) {}

// Watcher owns the route table, the poll loop and the navigation snapshot.
type Watcher struct {
	routes    []Route
	history   History
	loader    Loader
	publisher Publisher
	interval  time.Duration
	root      string

	// tickMu serializes ticks and guards snap.
	tickMu sync.Mutex
	snap   Snapshot

	runMu   sync.Mutex
	started bool
	stopped bool
	done    chan struct{}

	ctx        context.Context
	cancel     context.CancelFunc
	dispatches sync.WaitGroup
}

// New builds a watcher over a copy of routes.
func New(routes []Route, history History, loader Loader, opts ...Option) (*Watcher, error) {
	if history == nil {
		return nil, fmt.Errorf("router: history is required")
	}
	if loader == nil {
		return nil, fmt.Errorf("router: loader is required")
	}
	table := make([]Route, 0, len(routes))
	for i, r := range routes {
		r.Fragment = strings.TrimSpace(r.Fragment)
		r.ControllerID = strings.TrimSpace(r.ControllerID)
		if r.Fragment == "" {
			return nil, fmt.Errorf("%w: routes[%d] missing fragment", ErrInvalidRoute, i)
		}
		if r.ControllerID == "" {
			return nil, fmt.Errorf("%w: routes[%d] (%s) missing controller", ErrInvalidRoute, i, r.Fragment)
		}
		table = append(table, r)
	}

	w := &Watcher{
		routes:    table,
		history:   history,
		loader:    loader,
		publisher: discardPublisher{},
		interval:  DefaultInterval,
		root:      DefaultRootFragment,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	return w, nil
}

// Start launches the poll loop. It fails on a second call and after Stop.
// The loop ends when ctx is done or Stop is called; either way the watcher
// is stopped afterwards.
func (w *Watcher) Start(ctx context.Context) error {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true
	w.done = make(chan struct{})

	var changes <-chan struct{}
	if n, ok := w.history.(ChangeNotifier); ok {
		changes = n.Changes()
	}

	go w.loop(ctx, changes)
	slog.Info("navigation watcher started", "interval_ms", w.interval.Milliseconds(), "routes", len(w.routes), "root", w.root, "change_notify", changes != nil)
	return nil
}

func (w *Watcher) loop(ctx context.Context, changes <-chan struct{}) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.markStopped()
			slog.Info("navigation watcher context done", "error", ctx.Err())
			return
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
		}
		if _, err := w.Poll(w.ctx); err != nil {
			if w.ctx.Err() != nil {
				return
			}
			slog.Warn("navigation poll failed", "error", err)
			w.publish(Event{Kind: EventPollFailed, Error: err.Error()})
		}
	}
}

// markStopped flips the lifecycle to stopped and cancels in-flight work. It
// reports whether this call did the transition.
func (w *Watcher) markStopped() bool {
	w.runMu.Lock()
	already := w.stopped
	w.stopped = true
	w.runMu.Unlock()
	w.cancel()
	return !already
}

// Stop ends the poll loop and waits for in-flight controller dispatches. It is
// safe to call more than once and after the Start context has ended.
func (w *Watcher) Stop() {
	first := w.markStopped()

	w.runMu.Lock()
	done := w.done
	w.runMu.Unlock()
	if done != nil {
		<-done
	}
	// Wait out a tick already in progress; later ticks see the cancelled context.
	w.tickMu.Lock()
	w.tickMu.Unlock()
	w.dispatches.Wait()
	if first {
		slog.Info("navigation watcher stopped")
	}
}

// Running reports whether the poll loop has been started and not stopped.
func (w *Watcher) Running() bool {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	return w.started && !w.stopped
}

// Snapshot returns the last reconciled fragment and state.
func (w *Watcher) Snapshot() Snapshot {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()
	return Snapshot{Fragment: w.snap.Fragment, State: cloneState(w.snap.State)}
}

// Routes returns a copy of the route table.
func (w *Watcher) Routes() []Route {
	out := make([]Route, len(w.routes))
	copy(out, w.routes)
	return out
}

// RootFragment returns the fragment RedirectToRoot navigates to.
func (w *Watcher) RootFragment() string { return w.root }

// Redirect pushes a history entry for url carrying state. The controller is
// dispatched by the next poll tick, not by Redirect.
func (w *Watcher) Redirect(ctx context.Context, url string, state State) error {
	if err := w.history.PushState(ctx, state, url); err != nil {
		return fmt.Errorf("router: redirect to %q: %w", url, err)
	}
	slog.Debug("navigation redirect", "url", url, "state", state.String())
	return nil
}

// RedirectToRoot navigates to the root fragment with a null state.
func (w *Watcher) RedirectToRoot(ctx context.Context) error {
	return w.Redirect(ctx, w.root, nil)
}

// Poll runs one reconciliation tick.
func (w *Watcher) Poll(ctx context.Context) (TickResult, error) {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()
	if w.ctx.Err() != nil {
		return TickResult{}, ErrStopped
	}

	loc, err := w.history.Read(ctx)
	if err != nil {
		return TickResult{}, fmt.Errorf("router: read location: %w", err)
	}

	if !loc.StateDefined {
		if err := w.RedirectToRoot(ctx); err != nil {
			return TickResult{}, err
		}
		slog.Info("navigation bootstrapped", "fragment", loc.Fragment, "root", w.root)
		w.publish(Event{Kind: EventBootstrapped, Fragment: loc.Fragment})
		return TickResult{Outcome: OutcomeBootstrapped, Fragment: loc.Fragment}, nil
	}

	if loc.Fragment == w.snap.Fragment && loc.State.Equal(w.snap.State) {
		return TickResult{Outcome: OutcomeUnchanged, Fragment: loc.Fragment}, nil
	}

	previous := w.snap.Fragment
	w.snap.Fragment = loc.Fragment

	route, ok := w.match(loc.Fragment)
	if !ok {
		if previous != loc.Fragment {
			slog.Debug("navigation fragment unmatched", "fragment", loc.Fragment)
			w.publish(Event{Kind: EventUnmatched, Fragment: loc.Fragment})
		}
		return TickResult{Outcome: OutcomeUnmatched, Fragment: loc.Fragment}, nil
	}

	dispatchID := w.dispatch(route, loc.Fragment)

	if loc.State.IsNull() {
		if err := w.history.PushState(ctx, w.snap.State, ""); err != nil {
			return TickResult{}, fmt.Errorf("router: stamp state on %q: %w", loc.Fragment, err)
		}
	} else {
		w.snap.State = cloneState(loc.State)
	}

	return TickResult{Outcome: OutcomeDispatched, Fragment: loc.Fragment, Route: &route, DispatchID: dispatchID}, nil
}

func (w *Watcher) match(fragment string) (Route, bool) {
	for _, r := range w.routes {
		if r.Fragment == fragment {
			return r, true
		}
	}
	return Route{}, false
}

// dispatch loads and starts the route's controller without waiting for it.
func (w *Watcher) dispatch(route Route, fragment string) string {
	id := uuid.NewString()
	slog.Info("navigation dispatch", "fragment", fragment, "controller", route.ControllerID, "dispatch_id", id)
	w.publish(Event{Kind: EventDispatched, Fragment: fragment, ControllerID: route.ControllerID, DispatchID: id})

	w.dispatches.Add(1)
	go func() {
		defer w.dispatches.Done()
		ctx := w.ctx

		ctrl, err := w.loader.Load(ctx, route.ControllerID)
		if err == nil && ctrl == nil {
			err = fmt.Errorf("loader returned no controller")
		}
		if err != nil {
			w.failDispatch(route, fragment, id, fmt.Errorf("load controller %s: %w", route.ControllerID, err))
			return
		}
		if err := ctrl.Start(ctx); err != nil {
			w.failDispatch(route, fragment, id, fmt.Errorf("start controller %s: %w", route.ControllerID, err))
			return
		}
		slog.Debug("navigation controller started", "controller", route.ControllerID, "dispatch_id", id)
		w.publish(Event{Kind: EventControllerStarted, Fragment: fragment, ControllerID: route.ControllerID, DispatchID: id})
	}()
	return id
}

func (w *Watcher) failDispatch(route Route, fragment, dispatchID string, err error) {
	slog.Error("navigation controller failed", "controller", route.ControllerID, "fragment", fragment, "dispatch_id", dispatchID, "error", err)
	w.publish(Event{Kind: EventControllerFailed, Fragment: fragment, ControllerID: route.ControllerID, DispatchID: dispatchID, Error: err.Error()})
}

func (w *Watcher) publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	w.publisher.Publish(evt)
}

func cloneState(s State) State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	copy(out, s)
	return out
}
