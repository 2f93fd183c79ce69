package finder

import (
	"testing"

	"openchrome/internal/core"
)

func TestTokenizeDropsStopwordsAndShortTokens(t *testing.T) {
	got := tokenize("Click on the Submit button to go")
	want := []string{"click", "submit", "button", "go"}
	if len(got) != len(want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestScoreExactNameMatch(t *testing.T) {
	c := candidate{Name: "Submit", Combined: "submit", Width: 80, Height: 30}
	score := scoreCandidate(c, "submit", tokenize("submit"))
	// +100 exact, +50 contains, +15 token match, +10 size bonus.
	want := 100 + 50 + 15 + 10
	if score != want {
		t.Errorf("score = %d, want %d", score, want)
	}
}

func TestScoreRoleKeywordBonus(t *testing.T) {
	c := candidate{Role: "button", Tag: "button", Name: "OK", Combined: "ok", Width: 80, Height: 30}
	score := scoreCandidate(c, "click the ok button", tokenize("click the ok button"))
	if score < 30+20 {
		t.Errorf("expected role-keyword bonus (+30) and role-set bonus (+20) to apply, got %d", score)
	}
}

func TestScoreSmallElementPenalty(t *testing.T) {
	c := candidate{Name: "x", Combined: "x", Width: 4, Height: 4}
	score := scoreCandidate(c, "x", tokenize("x"))
	// +100 exact, +50 contains, -20 size penalty ("x" is too short to be a token).
	want := 100 + 50 - 20
	if score != want {
		t.Errorf("score = %d, want %d (size penalty applied)", score, want)
	}
}

func TestPickBestReturnsHighestScorer(t *testing.T) {
	candidates := []candidate{
		{Name: "Cancel", Combined: "cancel", Width: 80, Height: 30, backendNodeID: 1},
		{Name: "Submit", Combined: "submit", Width: 80, Height: 30, backendNodeID: 2},
	}
	got, err := pickBest(candidates, "submit")
	if err != nil {
		t.Fatalf("pickBest: %v", err)
	}
	if got.BackendNodeID != 2 {
		t.Errorf("expected the Submit candidate to win, got backend id %d", got.BackendNodeID)
	}
}

func TestPickBestNoMatchReportsBestCandidate(t *testing.T) {
	candidates := []candidate{
		{Name: "Unrelated thing", Combined: "unrelated thing", Width: 4, Height: 4},
	}
	_, err := pickBest(candidates, "completely different query")
	kind, ok := core.KindOf(err)
	if !ok || kind != core.KindFinderNoMatch {
		t.Fatalf("expected finder.no-match, got %v", err)
	}
}

func TestMatchesRoleKeywordTable(t *testing.T) {
	cases := []struct {
		query string
		c     candidate
		want  bool
	}{
		{"click the link", candidate{Tag: "a"}, true},
		{"click the link", candidate{Tag: "button"}, false},
		{"select the dropdown", candidate{Role: "combobox"}, true},
		{"toggle the switch", candidate{Role: "switch"}, true},
		{"check the checkbox", candidate{InputType: "checkbox"}, true},
		{"just some text", candidate{Tag: "div"}, false},
	}
	for _, tc := range cases {
		got := matchesRoleKeyword(tc.query, tc.c)
		if got != tc.want {
			t.Errorf("matchesRoleKeyword(%q, %+v) = %v, want %v", tc.query, tc.c, got, tc.want)
		}
	}
}
