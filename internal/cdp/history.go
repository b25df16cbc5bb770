// Package cdp drives the page history through full chromedp sessions. It is
// the heavier alternative to cdpcontrol for browsers that tolerate chromedp's
// session initialisation.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/navwatch/internal/cdpcontrol"
	"github.com/dgnsrekt/navwatch/internal/router"
)

// History implements router.History and router.ChangeNotifier on a tab
// attached with chromedp.
type History struct {
	cdpURL      string
	tabFilter   string
	evalTimeout time.Duration

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	tab         cdpcontrol.TabInfo

	changes chan struct{}
}

func NewHistory(cdpURL, tabFilter string, evalTimeout time.Duration) *History {
	if evalTimeout <= 0 {
		evalTimeout = 5 * time.Second
	}
	return &History{
		cdpURL:      cdpURL,
		tabFilter:   strings.ToLower(strings.TrimSpace(tabFilter)),
		evalTimeout: evalTimeout,
		changes:     make(chan struct{}, 1),
	}
}

func (h *History) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	slog.Info("Connecting to Chromium", "url", h.cdpURL)
	h.closeLocked()
	h.allocCtx, h.allocCancel = chromedp.NewRemoteAllocator(context.Background(), h.cdpURL)

	tempCtx, tempCancel := chromedp.NewContext(h.allocCtx)
	defer tempCancel()
	stop := context.AfterFunc(ctx, tempCancel)
	defer stop()

	if err := chromedp.Run(tempCtx); err != nil {
		h.allocCancel()
		return cdpcontrol.NewError(cdpcontrol.CodeCDPUnavailable, "failed to connect to browser", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		h.allocCancel()
		return cdpcontrol.NewError(cdpcontrol.CodeCDPUnavailable, "failed to enumerate targets", err)
	}
	slog.Info("Found browser targets", "count", len(targets))

	var picked *target.Info
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if !h.matchesTabURL(t.URL) {
			slog.Debug("Skipping tab (url filter)", "url", t.URL)
			continue
		}
		picked = t
		break
	}
	if picked == nil {
		h.allocCancel()
		return cdpcontrol.NewError(cdpcontrol.CodeTabNotFound, fmt.Sprintf("no tab matches filter %q", h.tabFilter), nil)
	}

	return h.attachLocked(picked)
}

func (h *History) attachLocked(t *target.Info) error {
	tabCtx, tabCancel := chromedp.NewContext(h.allocCtx, chromedp.WithTargetID(t.TargetID))
	if err := chromedp.Run(tabCtx, page.Enable()); err != nil {
		tabCancel()
		h.allocCancel()
		return cdpcontrol.NewError(cdpcontrol.CodeCDPUnavailable, "failed to enable page domain", err)
	}

	h.tabCtx, h.tabCancel = tabCtx, tabCancel
	h.tab = cdpcontrol.TabInfo{TargetID: string(t.TargetID), URL: t.URL, Title: t.Title}
	chromedp.ListenTarget(tabCtx, h.onEvent)

	slog.Info("Attached to tab", "target_id", t.TargetID, "url", truncateURL(t.URL))
	return nil
}

func (h *History) onEvent(ev any) {
	switch e := ev.(type) {
	case *page.EventNavigatedWithinDocument:
		slog.Debug("Tab navigated (SPA)", "url", truncateURL(e.URL))
	case *page.EventFrameNavigated:
		if e.Frame.ParentID != "" {
			return
		}
		slog.Debug("Tab navigated (full)", "url", truncateURL(e.Frame.URL))
	default:
		return
	}
	select {
	case h.changes <- struct{}{}:
	default:
	}
}

func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked()
	slog.Info("CDP history closed")
	return nil
}

func (h *History) closeLocked() {
	if h.tabCancel != nil {
		h.tabCancel()
		h.tabCancel = nil
	}
	if h.allocCancel != nil {
		h.allocCancel()
		h.allocCancel = nil
	}
	h.tabCtx = nil
}

// Tab returns the attached page target.
func (h *History) Tab() cdpcontrol.TabInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tab
}

func (h *History) Changes() <-chan struct{} {
	return h.changes
}

func (h *History) Read(ctx context.Context) (router.Location, error) {
	raw, err := h.evaluate(ctx, cdpcontrol.ReadLocationScript())
	if err != nil {
		return router.Location{}, err
	}
	return cdpcontrol.DecodeLocation(raw)
}

func (h *History) PushState(ctx context.Context, state router.State, url string) error {
	raw, err := h.evaluate(ctx, cdpcontrol.PushStateScript(state, url))
	if err != nil {
		return err
	}
	_, err = cdpcontrol.DecodeLocation(raw)
	return err
}

// evaluate runs js on the tab, bounded by the eval timeout and by ctx.
func (h *History) evaluate(ctx context.Context, js string) (string, error) {
	h.mu.Lock()
	tabCtx := h.tabCtx
	h.mu.Unlock()
	if tabCtx == nil {
		return "", cdpcontrol.NewError(cdpcontrol.CodeCDPUnavailable, "chromedp history not connected", nil)
	}

	evalCtx, cancel := context.WithTimeout(tabCtx, h.evalTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var raw string
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(js, &raw)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return "", cdpcontrol.NewError(cdpcontrol.CodeEvalTimeout, "evaluation timed out", err)
		}
		return "", cdpcontrol.NewError(cdpcontrol.CodeEvalFailure, "evaluation failed", err)
	}
	return raw, nil
}

func (h *History) matchesTabURL(url string) bool {
	if h.tabFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), h.tabFilter)
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
