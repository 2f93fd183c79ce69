package logger

import (
	"context"
	"testing"
)

func TestNewRejectsInvalidFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Format = "xml"
	if _, err := New(cfg); err == nil {
		t.Error("expected an error for an unsupported format")
	}
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "deafening"
	if _, err := New(cfg); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestNewNopDoesNotPanic(t *testing.T) {
	l := NewNop()
	l.Info("should be discarded")
	l.Error("also discarded")
	if err := l.Sync(); err != nil {
		t.Errorf("Sync on a nop logger should not error, got %v", err)
	}
}

func TestWithContextAccumulatesFields(t *testing.T) {
	l := NewNop()
	ctx := context.Background()
	ctx = l.WithSessionID(ctx, "sess-1")
	ctx = l.WithTabID(ctx, "tab-1")
	ctx = l.WithOp(ctx, "dom.serialize")

	fields := getContextFields(ctx)
	if len(fields) != 3 {
		t.Fatalf("expected 3 accumulated fields, got %d: %+v", len(fields), fields)
	}

	keys := map[string]bool{}
	for _, f := range fields {
		keys[f.Key] = true
	}
	for _, want := range []string{"session_id", "tab_id", "op"} {
		if !keys[want] {
			t.Errorf("expected accumulated field %q, got %+v", want, fields)
		}
	}
}

func TestGetContextFieldsNilContextReturnsNil(t *testing.T) {
	if fields := getContextFields(nil); fields != nil {
		t.Errorf("expected nil fields for nil context, got %+v", fields)
	}
}
