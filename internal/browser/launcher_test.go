package browser

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func cdpServer(t *testing.T) (*httptest.Server, string, int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"Browser":"Chrome/140.0","Protocol-Version":"1.3","webSocketDebuggerUrl":"ws://x/devtools/browser/1"}`))
	}))
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return srv, host, port
}

func TestLaunchReusesRunningBrowser(t *testing.T) {
	srv, host, port := cdpServer(t)
	defer srv.Close()

	l := NewLauncher(Config{CDPAddress: host, CDPPort: port, ReadyTimeout: 2 * time.Second})
	l.lookup = func() (string, error) {
		t.Fatalf("lookup called; want existing browser reused")
		return "", nil
	}
	v, err := l.Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if v.Browser != "Chrome/140.0" {
		t.Fatalf("Launch() browser = %q, want %q", v.Browser, "Chrome/140.0")
	}
	if l.Running() {
		t.Fatalf("Running() = true, want false for a reused browser")
	}
}

func TestLaunchNoBrowser(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	wantErr := errors.New("no browser")
	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: port})
	l.lookup = func() (string, error) { return "", wantErr }
	if _, err := l.Launch(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("Launch() error = %v, want %v", err, wantErr)
	}
}

func TestArgs(t *testing.T) {
	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: 9220, ProfileDir: "/tmp/p", StartURL: "http://localhost/#home", Headless: true})
	args := l.args()
	if got := args[len(args)-1]; got != "http://localhost/#home" {
		t.Fatalf("last arg = %q, want start url", got)
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{"--remote-debugging-port=9220", "--user-data-dir=/tmp/p", "--headless=new"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args = %q, missing %q", joined, want)
		}
	}
}
