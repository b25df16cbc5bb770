// Package cdpcontrol binds the navigation watcher to a browser tab over a raw
// DevTools WebSocket. The Client implements router.History and
// router.ChangeNotifier for the first page target whose URL matches a filter.
package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/navwatch/internal/router"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session). A
// caller's own cancellation is never one of them.
var transientHints = []string{
	"target closed",
	"session closed",
	"no session",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"not connected",
}

type Client struct {
	cdpURL      string
	tabFilter   string
	evalTimeout time.Duration

	mu         sync.Mutex
	cdp        *rawCDP
	tab        TabInfo
	sessionID  string
	unregister []func()

	// notifySession mirrors sessionID for the event handlers, which run on the
	// read loop and must not take mu.
	notifySession atomic.Value
	changes       chan struct{}
}

func NewClient(cdpURL, tabFilter string, evalTimeout time.Duration) *Client {
	if evalTimeout <= 0 {
		evalTimeout = 5 * time.Second
	}
	return &Client{
		cdpURL:      cdpURL,
		tabFilter:   strings.ToLower(strings.TrimSpace(tabFilter)),
		evalTimeout: evalTimeout,
		changes:     make(chan struct{}, 1),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL, "tab_url_filter", c.tabFilter)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	if err := c.attachLocked(ctx); err != nil {
		slog.Error("cdpcontrol attach failed", "error", err)
		c.cleanupLocked()
		return err
	}

	slog.Info("cdpcontrol connect ok", "target_id", c.tab.TargetID, "url", truncateURL(c.tab.URL))
	return nil
}

// attachLocked picks the first matching page target, opens a flat session
// and subscribes to same-document navigation events on it.
func (c *Client) attachLocked(ctx context.Context) error {
	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	var picked *TabInfo
	for _, t := range targets {
		if t == nil || t.Type != "page" {
			continue
		}
		if !c.matchesTabURL(t.URL) {
			slog.Debug("cdpcontrol skipping tab (url filter)", "url", truncateURL(t.URL))
			continue
		}
		picked = &TabInfo{TargetID: string(t.TargetID), URL: t.URL, Title: t.Title}
		break
	}
	if picked == nil {
		return newError(CodeTabNotFound, "no page target matches tab filter "+c.tabFilter, nil)
	}

	sessionID, err := c.cdp.attachToTarget(ctx, picked.TargetID)
	if err != nil {
		return newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	if err := c.cdp.enablePageDomain(ctx, sessionID); err != nil {
		slog.Warn("cdpcontrol Page.enable failed, change notifications disabled", "target_id", picked.TargetID, "error", err)
	}

	c.tab = *picked
	c.sessionID = sessionID
	c.notifySession.Store(sessionID)
	for _, method := range []string{"Page.navigatedWithinDocument", "Page.frameNavigated"} {
		c.unregister = append(c.unregister, c.cdp.onEvent(method, c.onNavigation))
	}
	return nil
}

func (c *Client) onNavigation(sessionID string, params json.RawMessage) {
	if current, _ := c.notifySession.Load().(string); current == "" || current != sessionID {
		return
	}
	var evt struct {
		URL   string `json:"url"`
		Frame struct {
			ParentID string `json:"parentId"`
			URL      string `json:"url"`
		} `json:"frame"`
	}
	if err := json.Unmarshal(params, &evt); err == nil && evt.Frame.ParentID != "" {
		return
	}
	slog.Debug("cdpcontrol tab navigated", "url", truncateURL(evt.URL+evt.Frame.URL))
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	for _, fn := range c.unregister {
		fn()
	}
	c.unregister = nil
	if c.cdp != nil {
		if c.sessionID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := c.cdp.detachFromTarget(ctx, c.sessionID); err != nil {
				slog.Debug("cdpcontrol detach failed", "error", err)
			}
			cancel()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.sessionID = ""
	c.notifySession.Store("")
	c.tab = TabInfo{}
}

// Tab returns the page target the client is attached to.
func (c *Client) Tab() TabInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tab
}

// Changes signals when the attached tab navigates within or across documents.
func (c *Client) Changes() <-chan struct{} {
	return c.changes
}

func (c *Client) Read(ctx context.Context) (router.Location, error) {
	var out locationPayload
	if err := c.eval(ctx, jsReadLocation(), &out); err != nil {
		return router.Location{}, err
	}
	return out.location(), nil
}

func (c *Client) PushState(ctx context.Context, state router.State, url string) error {
	if strings.ContainsAny(url, "\n\r") {
		return newError(CodeValidation, "url must be a single line", nil)
	}
	var out locationPayload
	if err := c.eval(ctx, jsPushState(state, url), &out); err != nil {
		return err
	}
	slog.Debug("cdpcontrol pushState", "url", url, "fragment", out.Fragment)
	return nil
}

// eval runs js on the attached tab, retrying once after a transient failure.
// A cancelled or expired ctx is returned as is and leaves the session alone.
func (c *Client) eval(ctx context.Context, js string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.evalLocked(ctx, js, out)
	if err == nil || ctx.Err() != nil || !c.shouldRetry(err) {
		return err
	}

	slog.Warn("cdpcontrol eval retry after transient failure", "error", err)
	if recErr := c.connectLocked(ctx); recErr != nil {
		slog.Error("cdpcontrol reconnect failed during retry", "error", recErr)
		return recErr
	}
	return c.evalLocked(ctx, js, out)
}

func (c *Client) evalLocked(ctx context.Context, js string, out any) error {
	if c.cdp == nil || !c.cdp.connected() || c.sessionID == "" {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()

	raw, err := c.cdp.evaluate(evalCtx, c.sessionID, js)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}
	return decodeEnvelope(raw, out)
}

func decodeEnvelope(raw string, out any) error {
	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation payload", err)
	}
	return nil
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	if coded.Code == CodeCDPUnavailable {
		return true
	}
	if coded.Code != CodeEvalFailure || coded.Cause == nil {
		return false
	}
	msg := strings.ToLower(coded.Cause.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

func (c *Client) matchesTabURL(url string) bool {
	if c.tabFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), c.tabFilter)
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
