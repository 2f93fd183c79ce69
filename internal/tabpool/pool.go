// Package tabpool pools CDP tab contexts against the single shared Chrome
// process the launcher starts, so acquiring a tab is cheap even though
// starting Chrome itself is not (spec §4.5). Unlike a process pool, every
// pooled tab shares one browser-level storage partition, so Release resets
// a tab's cookies and storage before it goes back in rotation.
package tabpool

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"openchrome/internal/cdptransport"
	"openchrome/internal/core"
)

// Config controls pool sizing (spec §4.5 defaults).
type Config struct {
	MinPoolSize       int
	MaxPoolSize       int
	PageIdleTimeout   time.Duration
	PreWarm           bool
	MaintenanceWindow time.Duration
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		MinPoolSize:       2,
		MaxPoolSize:       10,
		PageIdleTimeout:   300 * time.Second,
		PreWarm:           true,
		MaintenanceWindow: 30 * time.Second,
	}
}

// PooledTab is a pool-managed chromedp tab context.
type PooledTab struct {
	Tab          *cdptransport.Tab
	createdAt    time.Time
	lastReturned time.Time
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Available       int
	InUse           int
	Created         int64
	Reused          int64
	CreatedOnDemand int64
	AvgAcquireTime  time.Duration
}

// Pool manages a bounded set of tabs against a single allocator context.
type Pool struct {
	cfg      Config
	allocCtx context.Context
	transport *cdptransport.Transport
	log      logFunc

	mu        sync.Mutex
	cond      *sync.Cond
	available []*PooledTab // stack; last element is most recently returned
	total     int
	closed    bool

	created      int64
	reused       int64
	onDemand     int64
	acquireCount int64
	acquireNanos int64

	stopCh chan struct{}
	wg     sync.WaitGroup

	// newTabFn creates a tab; a field (rather than calling cdptransport
	// directly) so tests can substitute a fake without a real browser.
	newTabFn func() (*PooledTab, error)
	// resetFn resets a tab before it's returned to the pool; overridable
	// for the same reason as newTabFn.
	resetFn func(*PooledTab) error

	hooks Hooks
}

type logFunc func(format string, args ...any)

// Hooks receives pool events for metrics recording. A nil Hooks is valid;
// callers check for it before use. Satisfied by *pkg/metrics.PoolHooks
// without this package importing pkg/metrics directly.
type Hooks interface {
	OnAcquire(wait time.Duration)
	OnResetFailure()
	OnPoolSize(active, idle int)
}

// SetHooks installs h to receive subsequent pool events.
func (p *Pool) SetHooks(h Hooks) {
	p.mu.Lock()
	p.hooks = h
	p.mu.Unlock()
}

// New constructs a Pool and, if cfg.PreWarm is set, eagerly creates
// MinPoolSize tabs before returning.
func New(allocCtx context.Context, transport *cdptransport.Transport, cfg Config, log logFunc) (*Pool, error) {
	if cfg.MinPoolSize <= 0 {
		cfg.MinPoolSize = 2
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 10
	}
	if cfg.MinPoolSize > cfg.MaxPoolSize {
		cfg.MinPoolSize = cfg.MaxPoolSize
	}
	if cfg.PageIdleTimeout <= 0 {
		cfg.PageIdleTimeout = 300 * time.Second
	}
	if cfg.MaintenanceWindow <= 0 {
		cfg.MaintenanceWindow = 30 * time.Second
	}
	if log == nil {
		log = func(string, ...any) {}
	}

	p := &Pool{
		cfg:       cfg,
		allocCtx:  allocCtx,
		transport: transport,
		log:       log,
		stopCh:    make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.newTabFn = p.defaultCreateTab
	p.resetFn = p.defaultResetTab

	if cfg.PreWarm {
		for i := 0; i < cfg.MinPoolSize; i++ {
			tab, err := p.newTabFn()
			if err != nil {
				p.log("tabpool: pre-warm tab %d failed: %v", i, err)
				continue
			}
			p.available = append(p.available, tab)
			p.total++
		}
	}

	p.wg.Add(1)
	go p.maintenanceLoop()

	return p, nil
}

// Acquire pops the most-recently-returned idle tab (warmest cache/session
// state), creates a fresh one if under MaxPoolSize, or blocks until one of
// those becomes possible or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*PooledTab, error) {
	start := time.Now()
	defer func() {
		wait := time.Since(start)
		atomic.AddInt64(&p.acquireCount, 1)
		atomic.AddInt64(&p.acquireNanos, int64(wait))
		p.mu.Lock()
		h := p.hooks
		p.mu.Unlock()
		if h != nil {
			h.OnAcquire(wait)
		}
	}()

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, core.NewError(core.KindTabNotFound, "tabpool: pool is closed")
		}
		if n := len(p.available); n > 0 {
			tab := p.available[n-1]
			p.available = p.available[:n-1]
			p.mu.Unlock()
			atomic.AddInt64(&p.reused, 1)
			return tab, nil
		}
		if p.total < p.cfg.MaxPoolSize {
			p.total++
			p.mu.Unlock()
			tab, err := p.newTabFn()
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, err
			}
			atomic.AddInt64(&p.onDemand, 1)
			return tab, nil
		}

		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return nil, err
		}

		done := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			p.mu.Lock()
			close(done)
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		p.cond.Wait()
		stop()
		select {
		case <-done:
		default:
		}
	}
}

// Release returns tab to the pool after resetting its storage, or closes it
// outright if the reset fails or the pool has been closed.
func (p *Pool) Release(tab *PooledTab) {
	if tab == nil {
		return
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.closeTab(tab)
		return
	}

	if err := p.resetFn(tab); err != nil {
		p.log("tabpool: reset failed, closing tab: %v", err)
		p.mu.Lock()
		h := p.hooks
		p.mu.Unlock()
		if h != nil {
			h.OnResetFailure()
		}
		p.closeTab(tab)
		return
	}

	tab.lastReturned = time.Now()
	p.mu.Lock()
	p.available = append(p.available, tab)
	p.mu.Unlock()
	p.cond.Broadcast()
}

// defaultResetTab clears cookies and all-origin storage and navigates to a
// blank page, so the next session to acquire this tab starts from a clean
// slate.
func (p *Pool) defaultResetTab(pt *PooledTab) error {
	ctx, cancel := context.WithTimeout(pt.Tab.Ctx, 5*time.Second)
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.Navigate("about:blank")); err != nil {
		return err
	}

	if err := network.ClearBrowserCookies().Do(ctx); err != nil {
		return err
	}

	err := storage.ClearDataForOrigin("*", "all").Do(ctx)
	if err != nil && !isUnsupportedStorageType(err) {
		return err
	}

	return nil
}

// isUnsupportedStorageType ignores the subset of storage types a headless
// or sandboxed Chrome build sometimes refuses to clear (e.g. quota-managed
// storage without a quota manager backing it); the clear of everything else
// already happened before CDP reported the failure.
func isUnsupportedStorageType(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "not supported") || strings.Contains(msg, "storage type")
}

func (p *Pool) closeTab(tab *PooledTab) {
	tab.Tab.Close()
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *Pool) defaultCreateTab() (*PooledTab, error) {
	tab, err := cdptransport.NewTab(p.allocCtx)
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&p.created, 1)
	now := time.Now()
	return &PooledTab{Tab: tab, createdAt: now, lastReturned: now}, nil
}

// maintenanceLoop reclaims tabs that have sat idle past PageIdleTimeout,
// never shrinking the pool below MinPoolSize.
func (p *Pool) maintenanceLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.MaintenanceWindow)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reclaimIdle()
		}
	}
}

func (p *Pool) reclaimIdle() {
	now := time.Now()
	p.mu.Lock()
	var keep, reclaim []*PooledTab
	for _, t := range p.available {
		if now.Sub(t.lastReturned) > p.cfg.PageIdleTimeout && p.total-len(reclaim) > p.cfg.MinPoolSize {
			reclaim = append(reclaim, t)
		} else {
			keep = append(keep, t)
		}
	}
	p.available = keep
	p.mu.Unlock()

	for _, t := range reclaim {
		p.closeTab(t)
	}
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	avail := len(p.available)
	total := p.total
	p.mu.Unlock()

	count := atomic.LoadInt64(&p.acquireCount)
	var avg time.Duration
	if count > 0 {
		avg = time.Duration(atomic.LoadInt64(&p.acquireNanos) / count)
	}

	return Stats{
		Available:       avail,
		InUse:           total - avail,
		Created:         atomic.LoadInt64(&p.created),
		Reused:          atomic.LoadInt64(&p.reused),
		CreatedOnDemand: atomic.LoadInt64(&p.onDemand),
		AvgAcquireTime:  avg,
	}
}

// Close stops maintenance and closes every idle tab; tabs still checked out
// are closed when they are released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	avail := p.available
	p.available = nil
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	p.cond.Broadcast()

	for _, t := range avail {
		t.Tab.Close()
	}
}
