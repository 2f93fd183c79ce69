// Package finder resolves a natural-language query to a single best
// element on a tab (spec §4.9).
package finder

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

// matchThreshold is the minimum score a candidate needs to be returned.
const matchThreshold = 10

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "to": true, "for": true,
	"of": true, "in": true, "on": true, "at": true, "and": true, "or": true,
}

var roleBonusSet = map[string]bool{
	"button": true, "link": true, "checkbox": true, "radio": true,
	"menuitem": true, "tab": true, "option": true, "switch": true,
	"combobox": true, "listbox": true, "slider": true, "treeitem": true,
}

// roleKeyword maps a query keyword to the roles/tags/input-types that
// satisfy it, per the table in spec §4.9.
type roleKeyword struct {
	keywords   []string
	roles      map[string]bool
	tags       map[string]bool
	inputTypes map[string]bool
}

var roleKeywordTable = []roleKeyword{
	{keywords: []string{"button"}, roles: map[string]bool{"button": true}, tags: map[string]bool{"button": true}},
	{keywords: []string{"link"}, roles: map[string]bool{"link": true}, tags: map[string]bool{"a": true}},
	{keywords: []string{"radio"}, roles: map[string]bool{"radio": true}, inputTypes: map[string]bool{"radio": true}},
	{keywords: []string{"checkbox"}, roles: map[string]bool{"checkbox": true}, inputTypes: map[string]bool{"checkbox": true}},
	{keywords: []string{"input", "textarea"}, tags: map[string]bool{"input": true, "textarea": true}},
	{keywords: []string{"switch", "toggle"}, roles: map[string]bool{"switch": true}},
	{keywords: []string{"dropdown", "select"}, roles: map[string]bool{"combobox": true, "listbox": true}, tags: map[string]bool{"select": true}},
	{keywords: []string{"slider"}, roles: map[string]bool{"slider": true}},
}

type candidate struct {
	Role        string  `json:"role"`
	Name        string  `json:"name"`
	Tag         string  `json:"tag"`
	InputType   string  `json:"inputType"`
	Placeholder string  `json:"placeholder"`
	AriaLabel   string  `json:"ariaLabel"`
	TextPrefix  string  `json:"textPrefix"`
	Combined    string  `json:"combined"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`

	backendNodeID int64
}

// Candidate is the resolved result of a successful Find.
type Candidate struct {
	BackendNodeID int64
	Role          string
	Name          string
	Tag           string
	TextPrefix    string
	X, Y          float64
	Score         int
}

// Find scores every harvested candidate against query and returns the
// highest scorer, or a finder.no-match error naming the best candidate
// found (for diagnostics) when nothing clears matchThreshold.
func Find(ctx context.Context, tr *cdptransport.Transport, tab *cdptransport.Tab, query string) (Candidate, error) {
	script := candidateScript(query)

	var obj *runtime.RemoteObject
	evalErr := tr.SendOp(tab, 0, chromedp.ActionFunc(func(cctx context.Context) error {
		var exc *runtime.ExceptionDetails
		var err error
		obj, exc, err = runtime.Evaluate(script).WithReturnByValue(false).Do(cctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("finder: page script threw: %s", exc.Text)
		}
		return nil
	}), "find.walk")
	if evalErr != nil {
		return Candidate{}, evalErr
	}
	if obj == nil || obj.ObjectID == "" {
		return Candidate{}, core.NewError(core.KindCDPProtocol, "finder: candidate script returned no object")
	}

	var candidates []candidate
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
			case "metaJSON":
				var raw string
				if err := json.Unmarshal(p.Value.Value, &raw); err == nil {
					_ = json.Unmarshal([]byte(raw), &candidates)
				}
			case "elements":
				elementsObjID = p.Value.ObjectID
			}
		}
		return nil
	}), "find.props")
	if propErr != nil {
		return Candidate{}, propErr
	}

	if elementsObjID != "" {
		var backendIDs []cdp.BackendNodeID
		resolveErr := tr.SendOp(tab, 0, chromedp.ActionFunc(func(cctx context.Context) error {
			var err error
			backendIDs, err = domutil.ResolveBackendIDs(cctx, elementsObjID)
			return err
		}), "find.resolveBackendIDs")
		if resolveErr != nil {
			return Candidate{}, core.Wrap(core.KindCDPProtocol, "resolve backend node ids", resolveErr)
		}
		for i := range candidates {
			if i < len(backendIDs) {
				candidates[i].backendNodeID = int64(backendIDs[i])
			}
		}
	}

	return pickBest(candidates, query)
}

func pickBest(candidates []candidate, query string) (Candidate, error) {
	tokens := tokenize(query)
	qLower := strings.ToLower(strings.TrimSpace(query))

	bestScore := -1 << 31
	var best candidate
	found := false

	for _, c := range candidates {
		score := scoreCandidate(c, qLower, tokens)
		if score > bestScore {
			bestScore = score
			best = c
			found = true
		}
	}

	if !found || bestScore < matchThreshold {
		name := ""
		if found {
			name = best.Name
			if name == "" {
				name = best.TextPrefix
			}
		}
		return Candidate{}, core.NewError(core.KindFinderNoMatch,
			fmt.Sprintf("no element matched %q (best candidate: %q, score %d)", query, name, bestScore))
	}

	return Candidate{
		BackendNodeID: best.backendNodeID,
		Role:          best.Role,
		Name:          best.Name,
		Tag:           best.Tag,
		TextPrefix:    best.TextPrefix,
		X:             best.X,
		Y:             best.Y,
		Score:         bestScore,
	}, nil
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	var tokens []string
	for _, f := range fields {
		if len(f) <= 1 {
			continue
		}
		if stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func scoreCandidate(c candidate, qLower string, tokens []string) int {
	score := 0

	name := strings.ToLower(c.Name)
	text := strings.ToLower(c.TextPrefix)
	aria := strings.ToLower(c.AriaLabel)

	nameOrText := name
	if nameOrText == "" {
		nameOrText = text
	}

	if nameOrText != "" && nameOrText == qLower {
		score += 100
	}
	if aria != "" && aria == qLower {
		score += 90
	}
	if nameOrText != "" && strings.Contains(nameOrText, qLower) {
		score += 50
	}
	if aria != "" && strings.Contains(aria, qLower) {
		score += 45
	}

	for _, tok := range tokens {
		if strings.Contains(c.Combined, tok) {
			score += 15
		}
	}

	if matchesRoleKeyword(qLower, c) {
		score += 30
	}

	if roleBonusSet[strings.ToLower(c.Role)] {
		score += 20
	}

	if c.Width > 50 && c.Height > 20 {
		score += 10
	}
	if c.Width < 10 || c.Height < 10 {
		score -= 20
	}

	return score
}

func matchesRoleKeyword(qLower string, c candidate) bool {
	role := strings.ToLower(c.Role)
	tag := strings.ToLower(c.Tag)
	inputType := strings.ToLower(c.InputType)

	for _, rk := range roleKeywordTable {
		matched := false
		for _, kw := range rk.keywords {
			if strings.Contains(qLower, kw) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if rk.roles[role] || rk.tags[tag] || rk.inputTypes[inputType] {
			return true
		}
	}
	return false
}
