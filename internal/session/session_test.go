package session

import (
	"context"
	"testing"
	"time"

	"openchrome/internal/cdptransport"
	"openchrome/internal/core"
	"openchrome/internal/queue"
	"openchrome/internal/reftable"
	"openchrome/internal/tabpool"
)

type fakePool struct {
	released []*tabpool.PooledTab
}

func (p *fakePool) Acquire(ctx context.Context) (*tabpool.PooledTab, error) {
	return &tabpool.PooledTab{Tab: &cdptransport.Tab{Ctx: context.Background(), Cancel: func() {}}}, nil
}

func (p *fakePool) Release(tab *tabpool.PooledTab) {
	p.released = append(p.released, tab)
}

func newTestManager() (*Manager, *fakePool) {
	fp := &fakePool{}
	m := &Manager{
		sessions:  make(map[string]*Session),
		pool:      fp,
		transport: cdptransport.New(),
		queues:    queue.NewManager(),
		refs:      reftable.New(),
	}
	return m, fp
}

func TestCreateTabRequiresNoNavigationWhenURLEmpty(t *testing.T) {
	m, _ := newTestManager()
	s := m.CreateSession("s1", time.Hour)
	created, err := m.CreateTab(context.Background(), s.ID, "", "")
	if err != nil {
		t.Fatalf("CreateTab: %v", err)
	}
	if created.TabID == "" || created.Tab == nil {
		t.Fatalf("expected populated CreatedTab, got %+v", created)
	}
}

func TestGetTabEnforcesSessionIsolation(t *testing.T) {
	m, _ := newTestManager()
	s1 := m.CreateSession("s1", time.Hour)
	s2 := m.CreateSession("s2", time.Hour)

	created, err := m.CreateTab(context.Background(), s1.ID, "", "")
	if err != nil {
		t.Fatalf("CreateTab: %v", err)
	}

	if _, err := m.GetTab(s2.ID, created.TabID); err == nil {
		t.Fatalf("expected session.isolation error from the wrong session")
	} else if kind, ok := core.KindOf(err); !ok || kind != core.KindSessionIsolation {
		t.Fatalf("expected session.isolation, got %v", err)
	}

	if _, err := m.GetTab(s1.ID, created.TabID); err != nil {
		t.Fatalf("owning session should be able to get its own tab: %v", err)
	}
}

func TestCreateSessionReturnsExistingForSameID(t *testing.T) {
	m, _ := newTestManager()
	s1 := m.CreateSession("dup", time.Hour)
	s2 := m.CreateSession("dup", time.Hour)
	if s1 != s2 {
		t.Errorf("expected the same session instance for a repeated id")
	}
}

func TestCleanupSessionReleasesTabsAndClearsState(t *testing.T) {
	m, fp := newTestManager()
	s := m.CreateSession("s1", time.Hour)
	created, err := m.CreateTab(context.Background(), s.ID, "", "")
	if err != nil {
		t.Fatalf("CreateTab: %v", err)
	}

	var events []Event
	m.Subscribe(func(ev Event) { events = append(events, ev) })

	m.CleanupSession(s.ID)

	if len(fp.released) != 1 {
		t.Errorf("expected 1 released tab, got %d", len(fp.released))
	}
	if _, err := m.GetTab(s.ID, created.TabID); err == nil {
		t.Errorf("session should be gone after cleanup")
	}
	found := false
	for _, ev := range events {
		if ev.Kind == EventTabRemoved && ev.TabID == created.TabID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a tab-removed event for %s, got %+v", created.TabID, events)
	}
}

type recordingHooks struct {
	created []int
	expired []int
}

func (h *recordingHooks) OnCreated(n int) { h.created = append(h.created, n) }
func (h *recordingHooks) OnExpired(n int) { h.expired = append(h.expired, n) }

func TestHooksReportCreateAndCleanup(t *testing.T) {
	m, _ := newTestManager()
	hooks := &recordingHooks{}
	m.SetHooks(hooks, nil)

	s := m.CreateSession("s1", time.Hour)
	if len(hooks.created) != 1 || hooks.created[0] != 1 {
		t.Fatalf("hooks.created = %v, want [1]", hooks.created)
	}

	// A repeated CreateSession call for the same id must not fire OnCreated
	// again; it returns the existing session.
	m.CreateSession("s1", time.Hour)
	if len(hooks.created) != 1 {
		t.Errorf("hooks.created = %v, want unchanged on repeat CreateSession", hooks.created)
	}

	m.CleanupSession(s.ID)
	if len(hooks.expired) != 1 || hooks.expired[0] != 0 {
		t.Fatalf("hooks.expired = %v, want [0]", hooks.expired)
	}
}

func TestSessionCountAndQueueDepth(t *testing.T) {
	m, _ := newTestManager()
	m.CreateSession("s1", time.Hour)
	m.CreateSession("s2", time.Hour)

	if got := m.SessionCount(); got != 2 {
		t.Errorf("SessionCount() = %d, want 2", got)
	}

	m.Queue("s1").Enqueue(func(ctx context.Context) (any, error) {
		return nil, nil
	}, time.Second)

	// QueueDepth reads the live aggregate; it's allowed to already be 0 by
	// the time we check since the FIFO worker runs items immediately, so
	// this only asserts it doesn't panic on a populated queue manager.
	_ = m.QueueDepth()
}

func TestSweepExpiredCleansUpStaleSessions(t *testing.T) {
	m, _ := newTestManager()
	s := m.CreateSession("stale", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	m.SweepExpired()

	m.mu.RLock()
	_, ok := m.sessions[s.ID]
	m.mu.RUnlock()
	if ok {
		t.Errorf("expected expired session to be swept")
	}
}
