package domdelta

import "testing"

func TestFormatDeltaSimpleClick(t *testing.T) {
	c := collected{
		Mutations: []rawMutation{
			{Kind: "add", Tag: "div", Text: "Item added"},
			{Kind: "attr", Tag: "button", ID: "submit", Attr: "disabled", OldValue: "", NewValue: "true"},
		},
		Initial: pageState{URL: "https://example.com", Title: "Example"},
		Final:   pageState{URL: "https://example.com", Title: "Example"},
	}
	got := formatDelta(c, 500)
	want := "+ div \"Item added\"\n~ button#submit: disabled →true"
	if got != want {
		t.Errorf("formatDelta = %q, want %q", got, want)
	}
}

func TestFormatDeltaDedupesIdenticalMutations(t *testing.T) {
	var mutations []rawMutation
	for i := 0; i < 15; i++ {
		mutations = append(mutations, rawMutation{Kind: "add", Tag: "li", Text: "same item"})
	}
	c := collected{Mutations: mutations}
	got := formatDelta(c, 500)
	if got != `+ li "same item"` {
		t.Errorf("duplicate mutations should collapse to one line, got %q", got)
	}
}

func TestFormatDeltaCapsAtTenDistinctPerKind(t *testing.T) {
	var mutations []rawMutation
	for i := 0; i < 15; i++ {
		mutations = append(mutations, rawMutation{Kind: "add", Tag: "li", Text: string(rune('a' + i))})
	}
	c := collected{Mutations: mutations}
	got := formatDelta(c, 5000)
	lines := 0
	for _, r := range got {
		if r == '\n' {
			lines++
		}
	}
	if lines+1 != 10 {
		t.Errorf("expected exactly 10 distinct add lines, got %d", lines+1)
	}
}

func TestFormatDeltaIncludesURLAndTitleChanges(t *testing.T) {
	c := collected{
		Initial: pageState{URL: "https://example.com/a", Title: "A"},
		Final:   pageState{URL: "https://example.com/a", Title: "B"},
	}
	got := formatDelta(c, 500)
	want := `~ title: "A"→"B"`
	if got != want {
		t.Errorf("formatDelta = %q, want %q", got, want)
	}
}

func TestFormatDeltaRespectsMaxChars(t *testing.T) {
	c := collected{Mutations: []rawMutation{{Kind: "add", Tag: "div", Text: "this is a fairly long text preview that pads the line out"}}}
	got := formatDelta(c, 10)
	if len(got) != 10 {
		t.Errorf("expected output clipped to 10 chars, got %d: %q", len(got), got)
	}
}

func TestSafeTitleTrimsAndPrefixes(t *testing.T) {
	if got := safeTitle("  My Page  "); got != " My Page" {
		t.Errorf("safeTitle = %q", got)
	}
	if got := safeTitle("   "); got != "" {
		t.Errorf("safeTitle of blank title should be empty, got %q", got)
	}
}
