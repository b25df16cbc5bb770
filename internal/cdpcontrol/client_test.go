package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/navwatch/internal/router"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// fakeBrowser serves the DevTools HTTP endpoints and a browser WebSocket that
// keeps a single history entry in memory.
type fakeBrowser struct {
	srv *httptest.Server

	mu       sync.Mutex
	fragment string
	state    json.RawMessage
	methods  []string
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{fragment: "#home", state: json.RawMessage("null")}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		wsURL := "ws" + strings.TrimPrefix(fb.srv.URL, "http") + "/devtools/browser/1"
		_ = json.NewEncoder(w).Encode(map[string]string{"webSocketDebuggerUrl": wsURL})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"W1","type":"service_worker","url":"http://localhost/sw.js"},
			{"id":"T0","type":"page","url":"https://example.com/"},
			{"id":"T1","type":"page","title":"App","url":"http://localhost/app#home"}
		]`))
	})
	mux.HandleFunc("/devtools/browser/1", fb.serveWS)
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBrowser) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var req struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &req) != nil {
			continue
		}
		fb.mu.Lock()
		fb.methods = append(fb.methods, req.Method)
		fb.mu.Unlock()

		var result any = map[string]any{}
		var event []byte
		switch req.Method {
		case "Target.attachToTarget":
			result = map[string]string{"sessionId": "S1"}
		case "Runtime.evaluate":
			var p struct {
				Expression string `json:"expression"`
			}
			_ = json.Unmarshal(req.Params, &p)
			result = map[string]any{"result": map[string]any{"type": "string", "value": fb.evaluate(p.Expression)}}
			if strings.Contains(p.Expression, "pushState") {
				event, _ = json.Marshal(map[string]any{
					"method":    "Page.navigatedWithinDocument",
					"sessionId": "S1",
					"params":    map[string]string{"frameId": "F1", "url": "http://localhost/app" + fb.fragment},
				})
			}
		}
		resp, _ := json.Marshal(map[string]any{"id": req.ID, "result": result})
		if err := wsutil.WriteServerText(conn, resp); err != nil {
			return
		}
		if event != nil {
			_ = wsutil.WriteServerText(conn, event)
		}
	}
}

// evaluate fakes the two scripts by pattern: a push takes the fragment from
// the url argument and the state from the _next literal.
func (fb *fakeBrowser) evaluate(js string) string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if strings.Contains(js, "pushState") {
		start := strings.Index(js, "var _next = ") + len("var _next = ")
		end := strings.Index(js[start:], ";\n")
		fb.state = json.RawMessage(js[start : start+end])
		if i := strings.Index(js, `pushState(_next, "", "`); i >= 0 {
			rest := js[i+len(`pushState(_next, "", "`):]
			fb.fragment = rest[:strings.Index(rest, `"`)]
		}
	}
	out, _ := json.Marshal(map[string]any{
		"ok":   true,
		"data": map[string]any{"fragment": fb.fragment, "state_defined": true, "state": fb.state},
	})
	return string(out)
}

func TestClientReadAndPush(t *testing.T) {
	fb := newFakeBrowser(t)
	c := NewClient(fb.srv.URL, "localhost", 2*time.Second)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if got := c.Tab().TargetID; got != "T1" {
		t.Fatalf("Tab().TargetID = %q; want T1", got)
	}

	loc, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if loc.Fragment != "#home" || !loc.StateDefined || !loc.State.IsNull() {
		t.Fatalf("Read() = %+v; want #home null", loc)
	}

	if err := c.PushState(ctx, router.State(`{"x":1}`), "#list"); err != nil {
		t.Fatalf("PushState() error = %v", err)
	}
	select {
	case <-c.Changes():
	case <-time.After(2 * time.Second):
		t.Fatalf("Changes() not signalled after pushState")
	}

	loc, err = c.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if loc.Fragment != "#list" || !loc.State.Equal(router.State(`{"x":1}`)) {
		t.Fatalf("Read() after push = %+v; want #list {\"x\":1}", loc)
	}

	fb.mu.Lock()
	methods := strings.Join(fb.methods, ",")
	fb.mu.Unlock()
	if !strings.HasPrefix(methods, "Target.attachToTarget,Page.enable,Runtime.evaluate") {
		t.Fatalf("CDP methods = %s; want attach, Page.enable, evaluate", methods)
	}
}

func TestClientNoMatchingTab(t *testing.T) {
	fb := newFakeBrowser(t)
	c := NewClient(fb.srv.URL, "nomatch.example", time.Second)
	err := c.Connect(context.Background())
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != CodeTabNotFound {
		t.Fatalf("Connect() error = %v; want %s", err, CodeTabNotFound)
	}
}

func TestClientNotConnected(t *testing.T) {
	c := NewClient("", "", time.Second)
	_, err := c.Read(context.Background())
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != CodeCDPUnavailable {
		t.Fatalf("Read() error = %v; want %s", err, CodeCDPUnavailable)
	}

	err = c.PushState(context.Background(), nil, "#a\n#b")
	if !errors.As(err, &coded) || coded.Code != CodeValidation {
		t.Fatalf("PushState(multiline) error = %v; want %s", err, CodeValidation)
	}
}

func TestListTargetsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := newRawCDP(srv.URL + "/")
	if _, err := r.listTargets(context.Background()); err == nil || !strings.Contains(err.Error(), "HTTP 503") {
		t.Fatalf("listTargets() error = %v; want HTTP 503", err)
	}
	if _, err := r.browserWSURL(context.Background()); err == nil {
		t.Fatalf("browserWSURL() error = nil; want error")
	}
}

func TestClientCancelledReadKeepsSession(t *testing.T) {
	fb := newFakeBrowser(t)
	c := NewClient(fb.srv.URL, "localhost", 2*time.Second)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Read(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Read(cancelled) error = %v; want context.Canceled", err)
	}
	var coded *CodedError
	if errors.As(err, &coded) && coded.Code == CodeCDPUnavailable {
		t.Fatalf("Read(cancelled) error = %v; want no %s", err, CodeCDPUnavailable)
	}

	if got := c.Tab().TargetID; got != "T1" {
		t.Fatalf("Tab().TargetID after cancelled read = %q; want T1", got)
	}
	if _, err := c.Read(context.Background()); err != nil {
		t.Fatalf("Read() after cancelled read error = %v", err)
	}

	fb.mu.Lock()
	methods := strings.Join(fb.methods, ",")
	fb.mu.Unlock()
	if strings.Contains(methods, "Target.detachFromTarget") {
		t.Fatalf("CDP methods = %s; want no detach", methods)
	}
	if n := strings.Count(methods, "Target.attachToTarget"); n != 1 {
		t.Fatalf("attachToTarget calls = %d; want 1", n)
	}
}
