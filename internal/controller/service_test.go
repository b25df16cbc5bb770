package controller

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dgnsrekt/navwatch/internal/cdpcontrol"
	"github.com/dgnsrekt/navwatch/internal/history"
	"github.com/dgnsrekt/navwatch/internal/router"
	"github.com/dgnsrekt/navwatch/internal/views"
)

func newTestService(t *testing.T) (*Service, *history.Memory, *router.Watcher) {
	t.Helper()
	mem := history.NewMemory("http://localhost/")
	reg := views.NewRegistry().RegisterController("HomeView", views.NewPageView("HomeView"))
	w, err := router.New([]router.Route{{Fragment: "#home", ControllerID: "HomeView"}}, mem, reg)
	if err != nil {
		t.Fatalf("router.New() error = %v", err)
	}
	t.Cleanup(w.Stop)
	return NewService(w, reg, "memory").WithSimulator(mem), mem, w
}

func requireCode(t *testing.T, name string, err error, code string) {
	t.Helper()
	var got *cdpcontrol.CodedError
	if !errors.As(err, &got) {
		t.Fatalf("%s error type = %T; want *cdpcontrol.CodedError", name, err)
	}
	if got.Code != code {
		t.Fatalf("%s code = %q; want %q", name, got.Code, code)
	}
}

func TestRequireNonEmpty(t *testing.T) {
	s := &Service{}
	if err := s.requireNonEmpty("#home", "url"); err != nil {
		t.Fatalf("requireNonEmpty() = %v; want nil", err)
	}

	err := s.requireNonEmpty("   ", "url")
	requireCode(t, "requireNonEmpty()", err, cdpcontrol.CodeValidation)
	if got := err.(*cdpcontrol.CodedError).Message; got != "url is required" {
		t.Fatalf("requireNonEmpty() message = %q; want %q", got, "url is required")
	}
}

func TestRedirect_Validation(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	requireCode(t, "Redirect(empty)", s.Redirect(ctx, "  ", nil), cdpcontrol.CodeValidation)
	requireCode(t, "Redirect(no fragment)", s.Redirect(ctx, "http://localhost/", nil), cdpcontrol.CodeValidation)
	requireCode(t, "Redirect(bad state)", s.Redirect(ctx, "#home", json.RawMessage(`{x:`)), cdpcontrol.CodeValidation)
}

func TestRedirectThenPoll(t *testing.T) {
	s, mem, _ := newTestService(t)
	ctx := context.Background()

	if err := s.Redirect(ctx, "#home", json.RawMessage(`{"x":1}`)); err != nil {
		t.Fatalf("Redirect() = %v; want nil", err)
	}
	loc, _ := mem.Read(ctx)
	if loc.Fragment != "#home" {
		t.Fatalf("history fragment = %q; want %q", loc.Fragment, "#home")
	}

	res, err := s.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if res.Outcome != router.OutcomeDispatched {
		t.Fatalf("Poll() outcome = %q; want %q", res.Outcome, router.OutcomeDispatched)
	}

	nav, err := s.Navigation(ctx)
	if err != nil {
		t.Fatalf("Navigation() error = %v", err)
	}
	if nav.Fragment != "#home" || nav.State.String() != `{"x":1}` {
		t.Fatalf("Navigation() = %+v; want #home with {\"x\":1}", nav)
	}
	if nav.Running {
		t.Fatalf("Navigation().Running = true; want false before Start")
	}
	if nav.Backend != "memory" {
		t.Fatalf("Navigation().Backend = %q; want memory", nav.Backend)
	}
}

func TestTraverse(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.SetFragment(ctx, "#other"); err != nil {
		t.Fatalf("SetFragment() error = %v", err)
	}
	st, err := s.Traverse(ctx, "back")
	if err != nil {
		t.Fatalf("Traverse(back) error = %v", err)
	}
	if !st.Moved || st.Cursor != 0 || len(st.Entries) != 2 {
		t.Fatalf("Traverse(back) = %+v; want moved to cursor 0 of 2", st)
	}
	st, err = s.Traverse(ctx, "back")
	if err != nil {
		t.Fatalf("Traverse(back) error = %v", err)
	}
	if st.Moved {
		t.Fatalf("Traverse(back) at first entry moved = true; want false")
	}

	_, err = s.Traverse(ctx, "sideways")
	requireCode(t, "Traverse(sideways)", err, cdpcontrol.CodeValidation)
}

func TestSimulatorRequired(t *testing.T) {
	s, _, w := newTestService(t)
	s = NewService(w, nil, "cdp")

	_, err := s.History(context.Background())
	requireCode(t, "History()", err, cdpcontrol.CodeUnsupported)

	got, err := s.Views(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("Views() = %v, %v; want empty, nil", got, err)
	}
}
