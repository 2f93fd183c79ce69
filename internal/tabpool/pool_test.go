package tabpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"openchrome/internal/cdptransport"
)

func fakeTab() *PooledTab {
	now := time.Now()
	return &PooledTab{
		Tab:          &cdptransport.Tab{Ctx: context.Background(), Cancel: func() {}},
		createdAt:    now,
		lastReturned: now,
	}
}

func newTestPool(cfg Config) *Pool {
	p := &Pool{
		cfg:      cfg,
		allocCtx: context.Background(),
		log:      func(string, ...any) {},
		stopCh:   make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	// Stands in for defaultCreateTab, including its count of created tabs.
	p.newTabFn = func() (*PooledTab, error) {
		atomic.AddInt64(&p.created, 1)
		return fakeTab(), nil
	}
	p.resetFn = func(*PooledTab) error { return nil }
	p.wg.Add(1)
	go p.maintenanceLoop()
	return p
}

func TestAcquireCreatesUpToMax(t *testing.T) {
	p := newTestPool(Config{MinPoolSize: 1, MaxPoolSize: 2, PageIdleTimeout: time.Hour, MaintenanceWindow: time.Hour})
	defer p.Close()

	t1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	t2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}
	if t1 == t2 {
		t.Fatalf("expected distinct tabs")
	}
	stats := p.Stats()
	if stats.InUse != 2 || stats.Created != 2 {
		t.Errorf("got stats %+v", stats)
	}
}

func TestAcquireBlocksAtMaxThenUnblocksOnRelease(t *testing.T) {
	p := newTestPool(Config{MinPoolSize: 0, MaxPoolSize: 1, PageIdleTimeout: time.Hour, MaintenanceWindow: time.Hour})
	defer p.Close()

	tab, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		result <- err
	}()

	select {
	case <-result:
		t.Fatalf("second Acquire should have blocked while pool is at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(tab)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("blocked Acquire failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked Acquire never unblocked after Release")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p := newTestPool(Config{MinPoolSize: 0, MaxPoolSize: 1, PageIdleTimeout: time.Hour, MaintenanceWindow: time.Hour})
	defer p.Close()

	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestReleaseReusesMostRecentlyReturnedTab(t *testing.T) {
	p := newTestPool(Config{MinPoolSize: 0, MaxPoolSize: 3, PageIdleTimeout: time.Hour, MaintenanceWindow: time.Hour})
	defer p.Close()

	a, _ := p.Acquire(context.Background())
	b, _ := p.Acquire(context.Background())

	p.Release(a)
	p.Release(b)

	got, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got != b {
		t.Errorf("expected MRU reuse of the last-released tab")
	}
}

func TestReleaseClosesTabOnResetFailure(t *testing.T) {
	p := newTestPool(Config{MinPoolSize: 0, MaxPoolSize: 2, PageIdleTimeout: time.Hour, MaintenanceWindow: time.Hour})
	defer p.Close()
	p.resetFn = func(*PooledTab) error { return errors.New("reset failed") }

	tab, _ := p.Acquire(context.Background())
	p.Release(tab)

	stats := p.Stats()
	if stats.Available != 0 {
		t.Errorf("expected tab to be closed rather than returned, stats=%+v", stats)
	}

	// total should have dropped so a new tab can be created up to max again.
	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after failed release: %v", err)
	}
}

func TestReclaimIdleNeverGoesBelowMin(t *testing.T) {
	p := newTestPool(Config{MinPoolSize: 1, MaxPoolSize: 3, PageIdleTimeout: time.Millisecond, MaintenanceWindow: time.Hour})
	defer p.Close()

	a, _ := p.Acquire(context.Background())
	b, _ := p.Acquire(context.Background())
	p.Release(a)
	p.Release(b)
	time.Sleep(5 * time.Millisecond)

	p.reclaimIdle()

	stats := p.Stats()
	if stats.Available < p.cfg.MinPoolSize {
		t.Errorf("reclaimIdle went below MinPoolSize: %+v", stats)
	}
}

type recordingHooks struct {
	acquired      int
	resetFailures int
	active, idle  int
}

func (h *recordingHooks) OnAcquire(time.Duration)  { h.acquired++ }
func (h *recordingHooks) OnResetFailure()          { h.resetFailures++ }
func (h *recordingHooks) OnPoolSize(a, i int)      { h.active, h.idle = a, i }

func TestAcquireReportsThroughHooks(t *testing.T) {
	p := newTestPool(Config{MinPoolSize: 0, MaxPoolSize: 1, PageIdleTimeout: time.Hour, MaintenanceWindow: time.Hour})
	defer p.Close()
	hooks := &recordingHooks{}
	p.SetHooks(hooks)

	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if hooks.acquired != 1 {
		t.Errorf("hooks.acquired = %d, want 1", hooks.acquired)
	}
}

func TestReleaseReportsResetFailureThroughHooks(t *testing.T) {
	p := newTestPool(Config{MinPoolSize: 0, MaxPoolSize: 2, PageIdleTimeout: time.Hour, MaintenanceWindow: time.Hour})
	defer p.Close()
	p.resetFn = func(*PooledTab) error { return errors.New("reset failed") }
	hooks := &recordingHooks{}
	p.SetHooks(hooks)

	tab, _ := p.Acquire(context.Background())
	p.Release(tab)

	if hooks.resetFailures != 1 {
		t.Errorf("hooks.resetFailures = %d, want 1", hooks.resetFailures)
	}
}

func TestCloseDrainsAvailableTabs(t *testing.T) {
	p := newTestPool(Config{MinPoolSize: 0, MaxPoolSize: 2, PageIdleTimeout: time.Hour, MaintenanceWindow: time.Hour})
	tab, _ := p.Acquire(context.Background())
	p.Release(tab)

	p.Close()

	if _, err := p.Acquire(context.Background()); err == nil {
		t.Errorf("expected Acquire to fail after Close")
	}
}
