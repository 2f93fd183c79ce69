// Package core defines the discriminated error kinds every other package
// in this module returns instead of opaque error strings (spec §7). It is
// intentionally narrow: cdptransport imports it to classify CDP failures,
// so it cannot itself depend on cdptransport or anything built on top of
// it. The facade that wires those packages together lives in
// internal/engine.
package core

import (
	"errors"
	"fmt"
)

// Kind discriminates the structured error values the core returns, per the
// error handling design (spec §7). Handlers at the RPC boundary serialize a
// Kind to a stable string; nothing downstream should switch on err.Error().
type Kind string

const (
	KindSessionIsolation   Kind = "session.isolation"
	KindSessionNotFound    Kind = "session.not-found"
	KindTabNotFound        Kind = "tab.not-found"
	KindQueueTimeout       Kind = "queue.timeout"
	KindQueueCancelled     Kind = "queue.cancelled"
	KindCDPTimeout         Kind = "cdp.timeout"
	KindCDPProtocol        Kind = "cdp.protocol"
	KindSnapshotNonAtomic  Kind = "profile.snapshot-non-atomic"
	KindLauncherPortUnreach Kind = "launcher.port-unreachable"
	KindFinderNoMatch      Kind = "finder.no-match"
	KindFinderLowConfidence Kind = "finder.low-confidence"
	KindRefStale           Kind = "ref.stale"
	KindConfigCorrupted    Kind = "config.corrupted"
)

// Error is the discriminated sum every core surface returns instead of an
// opaque error string. It wraps an optional underlying cause so
// errors.Is/errors.As keep working against both the Kind and the cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, &Error{Kind: K}) match on Kind alone, regardless of
// Message/Cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// NewError builds a *Error with no wrapped cause.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a *Error carrying an underlying cause, preserving its message
// via Unwrap/errors.As chains.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
