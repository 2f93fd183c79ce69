// Package reftable assigns stable, short-lived string references to DOM
// elements so callers can act on an element across CDP calls without ever
// seeing a raw backend node id (spec §4.6).
package reftable

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const staleAfter = 30 * time.Second
const maxBackendNodeID = 1<<31 - 1

// Entry is one generated reference.
type Entry struct {
	BackendNodeID int64
	Role          string
	Name          string
	TagName       string
	TextPrefix    string
	CreatedAt     time.Time
}

type tabKey struct {
	session string
	tab     string
}

type tabTable struct {
	entries map[string]Entry
	order   []string
	counter int
}

// Table holds ref entries partitioned by (session, tab).
type Table struct {
	mu     sync.Mutex
	tables map[tabKey]*tabTable
}

// New returns an empty Table.
func New() *Table {
	return &Table{tables: make(map[tabKey]*tabTable)}
}

func (t *Table) tabFor(session, tab string) *tabTable {
	k := tabKey{session, tab}
	tt, ok := t.tables[k]
	if !ok {
		tt = &tabTable{entries: make(map[string]Entry)}
		t.tables[k] = tt
	}
	return tt
}

// Generate records a new entry and returns its ref id ("ref_N"), N
// monotonically increasing per (session, tab) since the last clearTab.
func (t *Table) Generate(session, tab string, backendNodeID int64, role, name, tagName, textPrefix string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	tt := t.tabFor(session, tab)
	tt.counter++
	ref := fmt.Sprintf("ref_%d", tt.counter)
	tt.entries[ref] = Entry{
		BackendNodeID: backendNodeID,
		Role:          role,
		Name:          name,
		TagName:       tagName,
		TextPrefix:    truncate(textPrefix, 30),
		CreatedAt:     time.Now(),
	}
	tt.order = append(tt.order, ref)
	return ref
}

// Resolve accepts "ref_N", a plain positive decimal integer, or
// "node_<integer>" and returns the backend node id it names, per spec
// §4.6. A plain/node integer is rejected if non-positive, not in canonical
// decimal form (leading zeros, signs, or whitespace), or greater than
// 2^31-1.
func (t *Table) Resolve(session, tab, input string) (int64, bool) {
	if strings.HasPrefix(input, "ref_") {
		t.mu.Lock()
		defer t.mu.Unlock()
		tt, ok := t.tables[tabKey{session, tab}]
		if !ok {
			return 0, false
		}
		e, ok := tt.entries[input]
		if !ok {
			return 0, false
		}
		return e.BackendNodeID, true
	}

	numeric := input
	if strings.HasPrefix(input, "node_") {
		numeric = strings.TrimPrefix(input, "node_")
	}
	return parseCanonicalBackendID(numeric)
}

// parseCanonicalBackendID accepts only a plain positive decimal integer with
// no leading zeros, sign, or surrounding whitespace, capped at 2^31-1.
func parseCanonicalBackendID(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	if s[0] == '0' && len(s) > 1 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 || n > maxBackendNodeID {
		return 0, false
	}
	return n, true
}

// ValidateResult is the outcome of Validate.
type ValidateResult struct {
	Valid  bool
	Stale  bool
	Reason string
}

// Validate compares the ref's stored tag (case-insensitive) and the first
// 30 trimmed chars of its text content against current readings, and flags
// staleness separately from validity (spec §4.6: a stale ref is still
// valid, just caller-warned).
func (t *Table) Validate(session, tab, ref, currentTag, currentTextPrefix string) ValidateResult {
	t.mu.Lock()
	tt, ok := t.tables[tabKey{session, tab}]
	if !ok {
		t.mu.Unlock()
		return ValidateResult{Valid: false, Reason: "ref.unknown-tab"}
	}
	e, ok := tt.entries[ref]
	t.mu.Unlock()
	if !ok {
		return ValidateResult{Valid: false, Reason: "ref.not-found"}
	}

	if !strings.EqualFold(e.TagName, currentTag) {
		return ValidateResult{Valid: false, Reason: "ref.tag-mismatch"}
	}
	if e.TextPrefix != truncate(strings.TrimSpace(currentTextPrefix), 30) {
		return ValidateResult{Valid: false, Reason: "ref.text-mismatch"}
	}

	result := ValidateResult{Valid: true}
	if time.Since(e.CreatedAt) > staleAfter {
		result.Stale = true
	}
	return result
}

// ClearTab drops all refs for (session, tab) and resets its counter, so the
// next Generate call starts again at ref_1.
func (t *Table) ClearTab(session, tab string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tables, tabKey{session, tab})
}

// ClearSession drops every tab's refs for session.
func (t *Table) ClearSession(session string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.tables {
		if k.session == session {
			delete(t.tables, k)
		}
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
