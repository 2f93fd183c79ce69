// Package domdelta wraps an action with a DOM mutation observer and
// reports what the action changed, short-circuiting to a navigation
// notice when the action caused the page to navigate (spec §4.10).
package domdelta

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"openchrome/internal/cdptransport"
)

// Options controls a single WithDelta call.
type Options struct {
	SettleMs int
	MaxChars int
}

// DefaultOptions matches the spec's stated defaults.
func DefaultOptions() Options {
	return Options{SettleMs: 150, MaxChars: 500}
}

// Result is returned by WithDelta.
type Result struct {
	Value any
	Delta string
}

type pageState struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
}

type rawMutation struct {
	Kind     string `json:"kind"`
	Tag      string `json:"tag"`
	Role     string `json:"role"`
	Text     string `json:"text"`
	ID       string `json:"id"`
	Attr     string `json:"attr"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

type collected struct {
	Mutations []rawMutation `json:"mutations"`
	Initial   pageState     `json:"initial"`
	Final     pageState     `json:"final"`
}

// WithDelta installs a mutation observer, subscribes to main-frame
// navigation for the duration of the call, runs action, and reports what
// changed (or a navigation notice if action caused one).
func WithDelta(ctx context.Context, tr *cdptransport.Transport, tab *cdptransport.Tab, action func(ctx context.Context) (any, error), opts Options) (Result, error) {
	if opts.SettleMs <= 0 {
		opts.SettleMs = DefaultOptions().SettleMs
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultOptions().MaxChars
	}

	listenCtx, stopListening := context.WithCancel(tab.Ctx)
	defer stopListening()
	var navigated atomic.Bool
	chromedp.ListenTarget(listenCtx, func(ev any) {
		if fn, ok := ev.(*page.EventFrameNavigated); ok {
			if fn.Frame != nil && fn.Frame.ParentID == "" {
				navigated.Store(true)
			}
		}
	})

	if err := runScript(tr, tab, installScript); err != nil {
		return Result{}, err
	}

	value, actionErr := action(ctx)
	if actionErr != nil {
		_ = runScript(tr, tab, collectScript)
		return Result{}, actionErr
	}

	time.Sleep(time.Duration(opts.SettleMs) * time.Millisecond)

	raw, err := runScriptJSON(tr, tab, collectScript)
	if err != nil {
		return Result{}, err
	}
	var c collected
	if err := json.Unmarshal(raw, &c); err != nil {
		return Result{Value: value}, nil
	}

	if navigated.Load() || c.Final.URL != c.Initial.URL {
		title := safeTitle(c.Final.Title)
		return Result{Value: value, Delta: fmt.Sprintf("[Page navigated: %s]%s", c.Final.URL, title)}, nil
	}

	delta := formatDelta(c, opts.MaxChars)
	return Result{Value: value, Delta: delta}, nil
}

func safeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}
	return " " + title
}

func runScript(tr *cdptransport.Transport, tab *cdptransport.Tab, script string) error {
	return tr.SendOp(tab, 0, chromedp.ActionFunc(func(cctx context.Context) error {
		_, exc, err := runtime.Evaluate(script).Do(cctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("domdelta: script threw: %s", exc.Text)
		}
		return nil
	}), "mutate.script")
}

func runScriptJSON(tr *cdptransport.Transport, tab *cdptransport.Tab, script string) (json.RawMessage, error) {
	var out json.RawMessage
	err := tr.SendOp(tab, 0, chromedp.ActionFunc(func(cctx context.Context) error {
		obj, exc, err := runtime.Evaluate(script).WithReturnByValue(true).Do(cctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("domdelta: script threw: %s", exc.Text)
		}
		out = obj.Value
		return nil
	}), "mutate.scriptJSON")
	return out, err
}

type dedupeKey struct {
	kind, label, text, attr string
}

// formatDelta dedupes mutations by (type, label, text, attr), caps at 10
// per kind, and renders one line per change plus any url/title/scroll
// deltas, bounded by maxChars.
func formatDelta(c collected, maxChars int) string {
	seen := make(map[dedupeKey]bool)
	counts := map[string]int{}
	var lines []string

	for _, m := range c.Mutations {
		label := m.Tag
		if m.Role != "" {
			label = m.Tag + "[role=" + m.Role + "]"
		}
		key := dedupeKey{kind: m.Kind, label: label, text: m.Text, attr: m.Attr}
		if seen[key] {
			continue
		}
		if counts[m.Kind] >= 10 {
			continue
		}
		seen[key] = true
		counts[m.Kind]++

		switch m.Kind {
		case "add":
			lines = append(lines, fmt.Sprintf("+ %s %q", m.Tag, m.Text))
		case "remove":
			lines = append(lines, fmt.Sprintf("- %s %q", m.Tag, m.Text))
		case "attr":
			id := m.Tag
			if m.ID != "" {
				id = m.Tag + "#" + m.ID
			}
			lines = append(lines, fmt.Sprintf("~ %s: %s %s→%s", id, m.Attr, m.OldValue, m.NewValue))
		}
	}

	if c.Final.URL != c.Initial.URL {
		lines = append(lines, fmt.Sprintf("~ url: %s→%s", c.Initial.URL, c.Final.URL))
	}
	if c.Final.Title != c.Initial.Title {
		lines = append(lines, fmt.Sprintf("~ title: %q→%q", c.Initial.Title, c.Final.Title))
	}
	if c.Final.ScrollX != c.Initial.ScrollX || c.Final.ScrollY != c.Initial.ScrollY {
		lines = append(lines, fmt.Sprintf("~ scroll: (%g,%g)→(%g,%g)", c.Initial.ScrollX, c.Initial.ScrollY, c.Final.ScrollX, c.Final.ScrollY))
	}

	out := strings.Join(lines, "\n")
	if len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}
