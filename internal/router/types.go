package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"
)

var (
	ErrAlreadyStarted = errors.New("router: watcher already started")
	ErrStopped        = errors.New("router: watcher stopped")
	ErrInvalidRoute   = errors.New("router: invalid route")
)

// Route binds an exact fragment (including the leading '#') to a controller id.
type Route struct {
	Fragment     string `json:"fragment" yaml:"fragment"`
	ControllerID string `json:"controller" yaml:"controller"`
}

// State is an opaque JSON value stored with a history entry.
// A nil, empty or literal null State is treated as null.
type State json.RawMessage

// NewState encodes v as a State. A nil v yields a null State.
func NewState(v any) (State, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(State); ok {
		return s, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return State(raw), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return State(b), nil
}

// IsNull reports whether the state carries no value.
func (s State) IsNull() bool {
	t := bytes.TrimSpace(s)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// Equal compares two states by JSON value, not by encoding.
func (s State) Equal(other State) bool {
	if s.IsNull() || other.IsNull() {
		return s.IsNull() && other.IsNull()
	}
	if bytes.Equal(s, other) {
		return true
	}
	var a, b any
	if json.Unmarshal(s, &a) != nil || json.Unmarshal(other, &b) != nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func (s State) String() string {
	if s.IsNull() {
		return "null"
	}
	return string(s)
}

func (s State) MarshalJSON() ([]byte, error) {
	if s.IsNull() {
		return []byte("null"), nil
	}
	return s, nil
}

func (s *State) UnmarshalJSON(data []byte) error {
	if s == nil {
		return errors.New("router: UnmarshalJSON on nil State")
	}
	*s = append((*s)[0:0], data...)
	return nil
}

// Location is one observation of the history source.
// StateDefined is false when the current entry has no history state at all,
// which is the case for a page loaded without router-managed navigation.
type Location struct {
	Fragment     string `json:"fragment"`
	State        State  `json:"state"`
	StateDefined bool   `json:"state_defined"`
}

// Snapshot is the watcher's memory of the last reconciled navigation.
type Snapshot struct {
	Fragment string `json:"fragment"`
	State    State  `json:"state"`
}

// History is the navigation source the watcher samples and writes to.
type History interface {
	Read(ctx context.Context) (Location, error)
	// PushState appends an entry carrying state. An empty url keeps the
	// current URL.
	PushState(ctx context.Context, state State, url string) error
}

// ChangeNotifier is implemented by histories that can signal navigation
// without being polled. Signals only wake the watcher early; detection still
// compares fragment and state.
type ChangeNotifier interface {
	Changes() <-chan struct{}
}

// Controller is the unit of page behavior bound to a route.
type Controller interface {
	Start(ctx context.Context) error
}

// Loader resolves a controller by id.
type Loader interface {
	Load(ctx context.Context, id string) (Controller, error)
}

// EventKind classifies watcher events.
type EventKind string

const (
	EventBootstrapped      EventKind = "bootstrapped"
	EventDispatched        EventKind = "dispatched"
	EventUnmatched         EventKind = "unmatched"
	EventControllerStarted EventKind = "controller_started"
	EventControllerFailed  EventKind = "controller_failed"
	EventPollFailed        EventKind = "poll_failed"
)

// Event is published for every observable navigation decision.
type Event struct {
	ID           string    `json:"id"`
	Kind         EventKind `json:"kind"`
	Fragment     string    `json:"fragment"`
	ControllerID string    `json:"controller,omitempty"`
	DispatchID   string    `json:"dispatch_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	Time         time.Time `json:"time"`
}

// Publisher receives watcher events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// Outcome is the result class of a single poll tick.
type Outcome string

const (
	OutcomeUnchanged    Outcome = "unchanged"
	OutcomeBootstrapped Outcome = "bootstrapped"
	OutcomeDispatched   Outcome = "dispatched"
	OutcomeUnmatched    Outcome = "unmatched"
)

// TickResult describes what a poll tick did.
type TickResult struct {
	Outcome    Outcome `json:"outcome"`
	Fragment   string  `json:"fragment"`
	Route      *Route  `json:"route,omitempty"`
	DispatchID string  `json:"dispatch_id,omitempty"`
}
