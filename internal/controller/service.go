// Package controller is the facade the HTTP API drives: it validates input and
// forwards to the navigation watcher, the view registry and, for the memory
// backend, the simulated history.
package controller

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dgnsrekt/navwatch/internal/cdpcontrol"
	"github.com/dgnsrekt/navwatch/internal/history"
	"github.com/dgnsrekt/navwatch/internal/router"
	"github.com/dgnsrekt/navwatch/internal/views"
)

// Watcher is the subset of *router.Watcher the service needs.
type Watcher interface {
	Snapshot() router.Snapshot
	Running() bool
	Routes() []router.Route
	RootFragment() string
	Redirect(ctx context.Context, url string, state router.State) error
	RedirectToRoot(ctx context.Context) error
	Poll(ctx context.Context) (router.TickResult, error)
}

// Simulator drives a simulated history. Only the memory backend provides one.
type Simulator interface {
	SetFragment(fragment string)
	Back() bool
	Forward() bool
	Reload()
	Entries() ([]history.Entry, int)
}

// NavigationStatus is the watcher's current view of the page.
type NavigationStatus struct {
	Fragment     string       `json:"fragment"`
	State        router.State `json:"state"`
	Running      bool         `json:"running"`
	RootFragment string       `json:"root_fragment"`
	Backend      string       `json:"backend"`
}

// HistoryStatus lists simulated history entries and the cursor.
type HistoryStatus struct {
	Entries []history.Entry `json:"entries"`
	Cursor  int             `json:"cursor"`
	Moved   bool            `json:"moved"`
}

type Service struct {
	watcher  Watcher
	registry *views.Registry
	sim      Simulator
	backend  string
}

func NewService(watcher Watcher, registry *views.Registry, backend string) *Service {
	return &Service{watcher: watcher, registry: registry, backend: backend}
}

// WithSimulator enables the simulated-history operations.
func (s *Service) WithSimulator(sim Simulator) *Service {
	s.sim = sim
	return s
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func (s *Service) Navigation(ctx context.Context) (NavigationStatus, error) {
	snap := s.watcher.Snapshot()
	return NavigationStatus{
		Fragment:     snap.Fragment,
		State:        snap.State,
		Running:      s.watcher.Running(),
		RootFragment: s.watcher.RootFragment(),
		Backend:      s.backend,
	}, nil
}

// Redirect pushes url with state. A nil or empty state is sent as null.
func (s *Service) Redirect(ctx context.Context, url string, state json.RawMessage) error {
	if err := s.requireNonEmpty(url, "url"); err != nil {
		return err
	}
	url = strings.TrimSpace(url)
	if !strings.Contains(url, "#") {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "url must contain a fragment"}
	}
	if len(state) > 0 && !json.Valid(state) {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "state must be valid JSON"}
	}
	return s.watcher.Redirect(ctx, url, router.State(state))
}

func (s *Service) RedirectToRoot(ctx context.Context) error {
	return s.watcher.RedirectToRoot(ctx)
}

func (s *Service) Poll(ctx context.Context) (router.TickResult, error) {
	return s.watcher.Poll(ctx)
}

func (s *Service) Routes(ctx context.Context) ([]router.Route, error) {
	return s.watcher.Routes(), nil
}

func (s *Service) Views(ctx context.Context) ([]views.Stats, error) {
	if s.registry == nil {
		return []views.Stats{}, nil
	}
	return s.registry.Stats(), nil
}

func (s *Service) requireSimulator() error {
	if s.sim == nil {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeUnsupported, Message: "history simulation requires the memory backend (backend=" + s.backend + ")"}
	}
	return nil
}

func (s *Service) History(ctx context.Context) (HistoryStatus, error) {
	if err := s.requireSimulator(); err != nil {
		return HistoryStatus{}, err
	}
	entries, cursor := s.sim.Entries()
	return HistoryStatus{Entries: entries, Cursor: cursor}, nil
}

// SetFragment simulates the user editing the address bar fragment.
func (s *Service) SetFragment(ctx context.Context, fragment string) (HistoryStatus, error) {
	if err := s.requireSimulator(); err != nil {
		return HistoryStatus{}, err
	}
	if err := s.requireNonEmpty(fragment, "fragment"); err != nil {
		return HistoryStatus{}, err
	}
	s.sim.SetFragment(strings.TrimSpace(fragment))
	out, err := s.History(ctx)
	out.Moved = true
	return out, err
}

// Traverse moves the simulated history: direction is back, forward or reload.
func (s *Service) Traverse(ctx context.Context, direction string) (HistoryStatus, error) {
	if err := s.requireSimulator(); err != nil {
		return HistoryStatus{}, err
	}
	var moved bool
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "back":
		moved = s.sim.Back()
	case "forward":
		moved = s.sim.Forward()
	case "reload":
		s.sim.Reload()
		moved = true
	default:
		return HistoryStatus{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "direction must be back, forward or reload"}
	}
	out, err := s.History(ctx)
	out.Moved = moved
	return out, err
}
