package engine

import (
	"context"
	"errors"
	"testing"

	"openchrome/internal/launcher"
)

func TestActionFuncDelegatesToWrappedFunc(t *testing.T) {
	called := false
	wantErr := errors.New("boom")

	a := evalAction(func(ctx context.Context) error {
		called = true
		return wantErr
	})

	if err := a.Do(context.Background()); err != wantErr {
		t.Errorf("Do() = %v, want %v", err, wantErr)
	}
	if !called {
		t.Error("expected wrapped func to be invoked")
	}
}

func TestLauncherEndpointsSynthesizesFromPort(t *testing.T) {
	e := &Engine{launched: &launcher.Instance{Port: 9222}}
	got := e.LauncherEndpoints()
	if got.Attached {
		t.Error("expected Attached=false when a local port is known")
	}
	if got.HTTPEndpoint != "http://127.0.0.1:9222" {
		t.Errorf("HTTPEndpoint = %q", got.HTTPEndpoint)
	}
	if got.WSEndpoint != "ws://127.0.0.1:9222" {
		t.Errorf("WSEndpoint = %q", got.WSEndpoint)
	}
}

func TestLauncherEndpointsReportsAttachedWhenNoPort(t *testing.T) {
	e := &Engine{launched: &launcher.Instance{}}
	got := e.LauncherEndpoints()
	if !got.Attached {
		t.Error("expected Attached=true when Port is zero")
	}
	if got.HTTPEndpoint != "" || got.WSEndpoint != "" {
		t.Errorf("expected empty endpoints for an attached instance, got %+v", got)
	}
}

func TestSessionAndTabExposeIDs(t *testing.T) {
	s := &Session{id: "sess-1"}
	if got := s.ID(); got != "sess-1" {
		t.Errorf("Session.ID() = %q, want sess-1", got)
	}

	tb := &Tab{id: "tab-1", sessionID: "sess-1"}
	if got := tb.ID(); got != "tab-1" {
		t.Errorf("Tab.ID() = %q, want tab-1", got)
	}
}
