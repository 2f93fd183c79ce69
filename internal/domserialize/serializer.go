// Package domserialize renders a page's DOM as compact indented text meant
// for consumption by a language model (spec §4.8).
package domserialize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"openchrome/internal/cdptransport"
	"openchrome/internal/core"
	"openchrome/internal/domutil"
)

// Options controls a single Serialize call; zero value is not valid, use
// DefaultOptions.
type Options struct {
	MaxDepth        int // -1 = unlimited
	MaxOutputChars  int
	IncludePageStats bool
	PierceIframes   bool
	InteractiveOnly bool
}

// DefaultOptions matches the spec's stated defaults.
func DefaultOptions() Options {
	return Options{
		MaxDepth:         -1,
		MaxOutputChars:   50_000,
		IncludePageStats: true,
		PierceIframes:    true,
		InteractiveOnly:  false,
	}
}

// PageStats is the single in-page evaluation captured before traversal.
type PageStats struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	ScrollX        float64 `json:"scrollX"`
	ScrollY        float64 `json:"scrollY"`
	ViewportWidth  float64 `json:"viewportWidth"`
	ViewportHeight float64 `json:"viewportHeight"`
	ScrollWidth    float64 `json:"scrollWidth"`
	ScrollHeight   float64 `json:"scrollHeight"`
}

// Result is the output of Serialize.
type Result struct {
	Content   string
	PageStats PageStats
	Truncated bool
}

type nodeMeta struct {
	Depth       int               `json:"depth"`
	Tag         string            `json:"tag"`
	Attrs       map[string]string `json:"attrs"`
	Text        string            `json:"text"`
	Interactive bool              `json:"interactive"`
	IframeSrc   *string           `json:"iframeSrc"`
}

var keptAttrOrder = []string{
	"id", "name", "type", "value", "placeholder", "aria-label", "role",
	"href", "src", "alt", "title", "data-testid", "disabled", "checked",
	"selected", "required", "class",
}

// Serialize runs the walk script on tab and renders its output per the
// truncation and formatting rules of spec §4.8.
func Serialize(ctx context.Context, tr *cdptransport.Transport, tab *cdptransport.Tab, opts Options) (Result, error) {
	script := walkScript(opts.MaxDepth, opts.PierceIframes, opts.InteractiveOnly)

	var obj *runtime.RemoteObject
	evalErr := tr.SendOp(tab, 0, chromedp.ActionFunc(func(cctx context.Context) error {
		var exc *runtime.ExceptionDetails
		var err error
		obj, exc, err = runtime.Evaluate(script).WithReturnByValue(false).Do(cctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("domserialize: page script threw: %s", exc.Text)
		}
		return nil
	}), "serialize.walk")
	if evalErr != nil {
		return Result{}, evalErr
	}
	if obj == nil || obj.ObjectID == "" {
		return Result{}, core.NewError(core.KindCDPProtocol, "domserialize: walk script returned no object")
	}

	var stats PageStats
	var metas []nodeMeta
	var elementsObjID runtime.RemoteObjectID

	propErr := tr.SendOp(tab, 0, chromedp.ActionFunc(func(cctx context.Context) error {
		props, err := runtime.GetProperties(obj.ObjectID).WithOwnProperties(true).Do(cctx)
		if err != nil {
			return err
		}
		for _, p := range props {
			if p.Value == nil {
				continue
			}
			switch p.Name {
			case "statsJSON":
				var raw string
				if err := json.Unmarshal(p.Value.Value, &raw); err == nil {
					_ = json.Unmarshal([]byte(raw), &stats)
				}
			case "metaJSON":
				var raw string
				if err := json.Unmarshal(p.Value.Value, &raw); err == nil {
					_ = json.Unmarshal([]byte(raw), &metas)
				}
			case "elements":
				elementsObjID = p.Value.ObjectID
			}
		}
		return nil
	}), "serialize.props")
	if propErr != nil {
		return Result{}, propErr
	}

	var backendIDs []int64
	if elementsObjID != "" {
		var resolved []cdp.BackendNodeID
		resolveErr := tr.SendOp(tab, 0, chromedp.ActionFunc(func(cctx context.Context) error {
			var err error
			resolved, err = domutil.ResolveBackendIDs(cctx, elementsObjID)
			return err
		}), "serialize.resolveBackendIDs")
		if resolveErr != nil {
			return Result{}, core.Wrap(core.KindCDPProtocol, "resolve backend node ids", resolveErr)
		}
		backendIDs = make([]int64, len(resolved))
		for i, id := range resolved {
			backendIDs[i] = int64(id)
		}
	}

	return render(stats, metas, backendIDs, opts), nil
}

func render(stats PageStats, metas []nodeMeta, backendIDs []int64, opts Options) Result {
	var b strings.Builder
	total := 0
	truncated := false

	appendLine := func(line string) bool {
		needed := len(line) + 1
		if total+needed > opts.MaxOutputChars {
			note := fmt.Sprintf("\n\n[Output truncated at %d chars. Use depth parameter to limit scope.]", total)
			b.WriteString(note)
			truncated = true
			return false
		}
		b.WriteString(line)
		b.WriteString("\n")
		total += needed
		return true
	}

	if opts.IncludePageStats {
		line := fmt.Sprintf("[page_stats] url=%s title=%q scroll=(%g,%g) viewport=(%gx%g) scrollExtent=(%gx%g)",
			stats.URL, stats.Title, stats.ScrollX, stats.ScrollY, stats.ViewportWidth, stats.ViewportHeight, stats.ScrollWidth, stats.ScrollHeight)
		if !appendLine(line) {
			return Result{Content: b.String(), PageStats: stats, Truncated: true}
		}
	}

	for i, m := range metas {
		indent := strings.Repeat("  ", m.Depth)
		var line string
		if m.Tag == "--iframe-separator--" {
			src := ""
			if m.IframeSrc != nil {
				src = *m.IframeSrc
			}
			line = fmt.Sprintf("%s--page-separator-- iframe: %s", indent, src)
		} else {
			var backendID int64
			if i < len(backendIDs) {
				backendID = backendIDs[i]
			}
			line = fmt.Sprintf("%s[%d]<%s%s/>%s", indent, backendID, m.Tag, renderAttrs(m.Attrs), m.Text)
		}
		if !appendLine(line) {
			return Result{Content: b.String(), PageStats: stats, Truncated: true}
		}
	}

	return Result{Content: b.String(), PageStats: stats, Truncated: truncated}
}

func renderAttrs(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, k := range keptAttrOrder {
		v, ok := attrs[k]
		if !ok {
			continue
		}
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(v)
		b.WriteString(`"`)
	}
	return b.String()
}
