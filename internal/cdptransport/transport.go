// Package cdptransport wraps chromedp's per-tab contexts with the timeout,
// error-classification, and event-subscription rules the rest of the core
// is built against. Other packages still build their own chromedp actions
// and cdproto commands; they run them through Send/SendOp.
package cdptransport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"openchrome/internal/core"
)

// DefaultTimeout is used when Send is called with timeout <= 0.
const DefaultTimeout = 30 * time.Second

// ScreenshotTimeout is the shorter deadline the session layer should pass
// explicitly for Page.captureScreenshot calls (spec §4.4).
const ScreenshotTimeout = 15 * time.Second

// Tab is a single chromedp target context plus the bookkeeping Send needs
// to mark it suspect after a timeout.
type Tab struct {
	Ctx      context.Context
	Cancel   context.CancelFunc
	TargetID target.ID

	suspect atomic.Bool
}

// Suspect reports whether this tab timed out on a previous call and should
// be treated with suspicion by the pool (candidate for eager recycling).
func (t *Tab) Suspect() bool { return t.suspect.Load() }

// Hooks receives per-call CDP latency/outcome for metrics recording.
// Satisfied by *pkg/metrics.MetricsCollector directly, without this
// package importing pkg/metrics.
type Hooks interface {
	RecordCDPOp(op string, d time.Duration, err error)
}

// Transport issues CDP calls against Tab contexts with uniform timeout and
// error-kind handling.
type Transport struct {
	mu        sync.Mutex
	listeners map[target.ID][]func(ev any)
	hooks     Hooks
}

// New returns a ready Transport.
func New() *Transport {
	return &Transport{listeners: make(map[target.ID][]func(ev any))}
}

// SetHooks installs h to receive subsequent SendOp timings. Send (no op
// label) never reports through hooks.
func (tr *Transport) SetHooks(h Hooks) {
	tr.mu.Lock()
	tr.hooks = h
	tr.mu.Unlock()
}

// NewTab creates a new CDP target context from allocCtx (the browser-level
// allocator context from the launcher) and wires ListenTarget so On
// subscribers registered afterwards receive its events.
func NewTab(allocCtx context.Context) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, core.Wrap(core.KindCDPProtocol, "create tab context", err)
	}
	c := chromedp.FromContext(tabCtx)
	var id target.ID
	if c != nil && c.Target != nil {
		id = c.Target.TargetID
	}
	return &Tab{Ctx: tabCtx, Cancel: cancel, TargetID: id}, nil
}

// Send runs action against tab with the given timeout (DefaultTimeout if
// timeout <= 0), classifying context-deadline failures as cdp.timeout (and
// marking the tab suspect) and everything else as cdp.protocol (spec §7).
func (tr *Transport) Send(tab *Tab, timeout time.Duration, action chromedp.Action) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(tab.Ctx, timeout)
	defer cancel()

	var err error
	if chromedp.FromContext(cctx) != nil {
		err = chromedp.Run(cctx, action)
	} else {
		// Not a chromedp tab context: run the action directly so it still
		// gets the timeout and error classification below.
		err = action.Do(cctx)
	}
	if err == nil {
		return nil
	}

	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		tab.suspect.Store(true)
		return core.Wrap(core.KindCDPTimeout, fmt.Sprintf("cdp call timed out after %v", timeout), err)
	}
	return core.Wrap(core.KindCDPProtocol, "cdp call failed", err)
}

// SendOp is Send plus a latency/outcome record against op, for callers that
// have a natural operation label to report (spec §4.4's "CDP call
// latency" signal).
func (tr *Transport) SendOp(tab *Tab, timeout time.Duration, action chromedp.Action, op string) error {
	start := time.Now()
	err := tr.Send(tab, timeout, action)

	tr.mu.Lock()
	h := tr.hooks
	tr.mu.Unlock()
	if h != nil {
		h.RecordCDPOp(op, time.Since(start), err)
	}
	return err
}

// On registers handler for every CDP event delivered to tab for as long as
// tab's context remains alive. Multiple handlers may be registered on the
// same tab; all are invoked for every event, matching chromedp's own
// ListenTarget fan-out semantics.
func (tr *Transport) On(tab *Tab, handler func(ev any)) {
	chromedp.ListenTarget(tab.Ctx, handler)

	tr.mu.Lock()
	tr.listeners[tab.TargetID] = append(tr.listeners[tab.TargetID], handler)
	tr.mu.Unlock()
}

// Close cancels the tab's context, tearing down its CDP session.
func (t *Tab) Close() {
	if t.Cancel != nil {
		t.Cancel()
	}
}
