package metrics

import (
	"errors"
	"testing"
	"time"
)

func newTestCollector() *MetricsCollector {
	// Prometheus panics on duplicate registration within one process, so
	// tests share a single collector created at package initialization
	// instead of constructing a fresh one per test.
	return sharedTestCollector
}

var sharedTestCollector = NewMetricsCollector()

func TestSetTabCountsUpdatesSnapshot(t *testing.T) {
	mc := newTestCollector()
	mc.SetTabCounts(3, 7)

	snap := mc.GetSnapshot()
	if snap.TabsActive != 3 || snap.TabsIdle != 7 {
		t.Errorf("snapshot = %+v, want active=3 idle=7", snap)
	}
}

func TestRecordSessionLifecycleUpdatesCounts(t *testing.T) {
	mc := newTestCollector()
	mc.RecordSessionCreated(1)
	mc.RecordSessionExpired(0)

	snap := mc.GetSnapshot()
	if snap.SessionsCreated == 0 {
		t.Errorf("expected SessionsCreated > 0, got %+v", snap)
	}
	if snap.SessionsExpired == 0 {
		t.Errorf("expected SessionsExpired > 0, got %+v", snap)
	}
	if snap.SessionsActive != 0 {
		t.Errorf("SessionsActive = %d, want 0 after expiry", snap.SessionsActive)
	}
}

func TestCDPTimerStopReturnsElapsedDuration(t *testing.T) {
	mc := newTestCollector()
	timer := StartCDPTimer(mc, "evaluate-test")
	time.Sleep(time.Millisecond)
	d := timer.Stop(errors.New("boom"))

	if d <= 0 {
		t.Errorf("expected positive elapsed duration, got %v", d)
	}
}

func TestQueueHooksForwardToCollector(t *testing.T) {
	mc := newTestCollector()
	h := NewQueueHooks(mc)
	h.OnDepthChange(5)

	if snap := mc.GetSnapshot(); snap.QueueDepth != 5 {
		t.Errorf("QueueDepth = %d, want 5", snap.QueueDepth)
	}
}
