package reftable

import (
	"testing"
	"time"
)

func TestRefDeterminismAfterClear(t *testing.T) {
	tbl := New()
	tbl.Generate("s1", "t1", 1, "button", "A", "button", "A")
	tbl.Generate("s1", "t1", 2, "button", "B", "button", "B")
	tbl.ClearTab("s1", "t1")

	got := make([]string, 3)
	for i := 0; i < 3; i++ {
		got[i] = tbl.Generate("s1", "t1", int64(100+i), "button", "X", "button", "X")
	}
	want := []string{"ref_1", "ref_2", "ref_3"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}

func TestResolveAllThreeForms(t *testing.T) {
	tbl := New()
	ref := tbl.Generate("s", "t", 142, "button", "OK", "button", "OK")
	if ref != "ref_1" {
		t.Fatalf("Generate returned %q", ref)
	}

	cases := map[string]int64{"ref_1": 142, "142": 142, "node_142": 142}
	for input, want := range cases {
		got, ok := tbl.Resolve("s", "t", input)
		if !ok || got != want {
			t.Errorf("Resolve(%q) = %d, %v; want %d, true", input, got, ok, want)
		}
	}

	if _, ok := tbl.Resolve("s", "t", "totally_invalid"); ok {
		t.Errorf("expected resolve failure for garbage input")
	}
}

func TestResolveRejectsNonCanonicalIntegers(t *testing.T) {
	tbl := New()
	bad := []string{"0", "-5", "007", "2147483648", " 5", "5 ", "+5"}
	for _, input := range bad {
		if _, ok := tbl.Resolve("s", "t", input); ok {
			t.Errorf("Resolve(%q) should be rejected", input)
		}
	}
	if _, ok := tbl.Resolve("s", "t", "2147483647"); !ok {
		t.Errorf("Resolve(max int32) should succeed")
	}
}

func TestValidateTagAndTextMismatch(t *testing.T) {
	tbl := New()
	ref := tbl.Generate("s", "t", 1, "button", "OK", "BUTTON", "Submit form now")

	res := tbl.Validate("s", "t", ref, "button", "Submit form now")
	if !res.Valid {
		t.Errorf("expected valid match (case-insensitive tag): %+v", res)
	}

	res = tbl.Validate("s", "t", ref, "div", "Submit form now")
	if res.Valid {
		t.Errorf("expected tag mismatch to invalidate")
	}

	res = tbl.Validate("s", "t", ref, "button", "Completely different text")
	if res.Valid {
		t.Errorf("expected text mismatch to invalidate")
	}
}

func TestValidateStaleButValid(t *testing.T) {
	tbl := New()
	ref := tbl.Generate("s", "t", 1, "button", "OK", "button", "OK")
	tbl.mu.Lock()
	e := tbl.tables[tabKey{"s", "t"}].entries[ref]
	e.CreatedAt = time.Now().Add(-time.Minute)
	tbl.tables[tabKey{"s", "t"}].entries[ref] = e
	tbl.mu.Unlock()

	res := tbl.Validate("s", "t", ref, "button", "OK")
	if !res.Valid || !res.Stale {
		t.Errorf("expected valid+stale, got %+v", res)
	}
}

func TestClearSessionDropsAllTabs(t *testing.T) {
	tbl := New()
	tbl.Generate("s", "t1", 1, "a", "a", "a", "a")
	tbl.Generate("s", "t2", 2, "a", "a", "a", "a")
	tbl.ClearSession("s")

	if _, ok := tbl.Resolve("s", "t1", "ref_1"); ok {
		t.Errorf("expected t1 refs cleared")
	}
	if _, ok := tbl.Resolve("s", "t2", "ref_1"); ok {
		t.Errorf("expected t2 refs cleared")
	}
}
