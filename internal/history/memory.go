// Package history provides an in-process navigation history that behaves like
// a browser tab's session history: an entry stack with a cursor, pushState,
// back/forward and raw fragment edits.
package history

import (
	"context"
	"strings"
	"sync"

	"github.com/dgnsrekt/navwatch/internal/router"
)

// Entry is one session-history entry.
type Entry struct {
	Fragment     string       `json:"fragment"`
	State        router.State `json:"state"`
	StateDefined bool         `json:"state_defined"`
}

// Memory is a concurrency-safe simulated history. The zero value is not usable;
// call NewMemory.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	cursor  int
	changes chan struct{}
}

// NewMemory returns a history holding a single entry for initialURL with no
// history state, as after a direct page load.
func NewMemory(initialURL string) *Memory {
	return &Memory{
		entries: []Entry{{Fragment: FragmentOf(initialURL)}},
		changes: make(chan struct{}, 1),
	}
}

// FragmentOf returns the part of url starting at '#', or "" when url has none.
func FragmentOf(url string) string {
	if i := strings.IndexByte(url, '#'); i >= 0 {
		return url[i:]
	}
	return ""
}

func (m *Memory) Read(ctx context.Context) (router.Location, error) {
	if err := ctx.Err(); err != nil {
		return router.Location{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[m.cursor]
	return router.Location{Fragment: e.Fragment, State: e.State, StateDefined: e.StateDefined}, nil
}

// PushState drops any forward entries and appends a new current entry.
// An empty url keeps the current fragment.
func (m *Memory) PushState(ctx context.Context, state router.State, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	fragment := m.entries[m.cursor].Fragment
	if url != "" {
		fragment = FragmentOf(url)
	}
	m.pushLocked(Entry{Fragment: fragment, State: state, StateDefined: true})
	m.mu.Unlock()
	m.notify()
	return nil
}

// SetFragment simulates the user editing the address fragment: a new entry
// with a null state.
func (m *Memory) SetFragment(fragment string) {
	if fragment != "" && !strings.HasPrefix(fragment, "#") {
		fragment = "#" + fragment
	}
	m.mu.Lock()
	m.pushLocked(Entry{Fragment: fragment, StateDefined: true})
	m.mu.Unlock()
	m.notify()
}

// Reload simulates a hard refresh of the current entry: the URL survives but
// the entry reports no history state.
func (m *Memory) Reload() {
	m.mu.Lock()
	m.entries[m.cursor].State = nil
	m.entries[m.cursor].StateDefined = false
	m.mu.Unlock()
	m.notify()
}

// Back moves the cursor one entry back. It reports false at the first entry.
func (m *Memory) Back() bool { return m.Go(-1) }

// Forward moves the cursor one entry forward. It reports false at the last entry.
func (m *Memory) Forward() bool { return m.Go(1) }

// Go moves the cursor by delta entries. Out-of-range moves are ignored.
func (m *Memory) Go(delta int) bool {
	m.mu.Lock()
	next := m.cursor + delta
	if delta == 0 || next < 0 || next >= len(m.entries) {
		m.mu.Unlock()
		return false
	}
	m.cursor = next
	m.mu.Unlock()
	m.notify()
	return true
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Entries returns a copy of the stack and the cursor position.
func (m *Memory) Entries() ([]Entry, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, m.cursor
}

// Changes signals after every mutation. Signals coalesce.
func (m *Memory) Changes() <-chan struct{} {
	return m.changes
}

func (m *Memory) pushLocked(e Entry) {
	m.entries = append(m.entries[:m.cursor+1], e)
	m.cursor = len(m.entries) - 1
}

func (m *Memory) notify() {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}
