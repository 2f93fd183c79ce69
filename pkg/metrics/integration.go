// Package metrics (this file) wires the collector into the components
// that generate events: the tab pool, request queues, and CDP calls.
package metrics

import (
	"context"
	"time"
)

// PoolHooks adapts tabpool lifecycle events onto the collector.
type PoolHooks struct {
	collector *MetricsCollector
}

// NewPoolHooks returns hooks bound to collector.
func NewPoolHooks(collector *MetricsCollector) *PoolHooks {
	return &PoolHooks{collector: collector}
}

// OnAcquire records a completed pool acquisition.
func (h *PoolHooks) OnAcquire(wait time.Duration) {
	h.collector.RecordTabAcquire(wait)
}

// OnResetFailure records a tab discarded instead of reset on release.
func (h *PoolHooks) OnResetFailure() {
	h.collector.RecordTabResetFailure()
}

// OnPoolSize reports the pool's current active/idle split.
func (h *PoolHooks) OnPoolSize(active, idle int) {
	h.collector.SetTabCounts(int64(active), int64(idle))
}

// QueueHooks adapts per-session queue events onto the collector.
type QueueHooks struct {
	collector *MetricsCollector
}

// NewQueueHooks returns hooks bound to collector.
func NewQueueHooks(collector *MetricsCollector) *QueueHooks {
	return &QueueHooks{collector: collector}
}

// OnDepthChange reports the aggregate queue depth across all sessions.
func (h *QueueHooks) OnDepthChange(depth int) {
	h.collector.SetQueueDepth(int64(depth))
}

// OnDequeue records how long an item waited before it ran.
func (h *QueueHooks) OnDequeue(wait time.Duration) {
	h.collector.RecordQueueWait(wait)
}

// OnTimeout records an item that hit its deadline before running.
func (h *QueueHooks) OnTimeout() {
	h.collector.RecordQueueTimeout()
}

// SessionHooks adapts session manager lifecycle events onto the collector.
type SessionHooks struct {
	collector *MetricsCollector
}

// NewSessionHooks returns hooks bound to collector.
func NewSessionHooks(collector *MetricsCollector) *SessionHooks {
	return &SessionHooks{collector: collector}
}

// OnCreated records a new session given the post-creation active count.
func (h *SessionHooks) OnCreated(activeNow int) {
	h.collector.RecordSessionCreated(int64(activeNow))
}

// OnExpired records a cleaned-up session (TTL sweep or explicit close)
// given the post-cleanup active count.
func (h *SessionHooks) OnExpired(activeNow int) {
	h.collector.RecordSessionExpired(int64(activeNow))
}

// ctxKey carries the collector through a context, for call sites too deep
// to thread it through as a parameter.
type ctxKey string

const metricsKey ctxKey = "metrics"

// WithContext attaches collector to ctx.
func WithContext(ctx context.Context, collector *MetricsCollector) context.Context {
	return context.WithValue(ctx, metricsKey, collector)
}

// FromContext retrieves the collector attached by WithContext, or nil.
func FromContext(ctx context.Context) *MetricsCollector {
	if v := ctx.Value(metricsKey); v != nil {
		if mc, ok := v.(*MetricsCollector); ok {
			return mc
		}
	}
	return nil
}

// CDPTimer measures one CDP-backed operation and records it on Stop.
type CDPTimer struct {
	start     time.Time
	collector *MetricsCollector
	op        string
}

// StartCDPTimer starts timing a CDP operation labeled op (e.g. "evaluate",
// "serialize", "find", "navigate").
func StartCDPTimer(collector *MetricsCollector, op string) *CDPTimer {
	return &CDPTimer{start: time.Now(), collector: collector, op: op}
}

// Stop records the elapsed duration and err against the timer's op label.
func (t *CDPTimer) Stop(err error) time.Duration {
	d := time.Since(t.start)
	t.collector.RecordCDPOp(t.op, d, err)
	return d
}
