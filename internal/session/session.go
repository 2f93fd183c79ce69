// Package session is the Session Manager (spec §4.11): it owns the set of
// live sessions, the tabs each one created, and the cleanup cascade that
// runs when a session ends.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"openchrome/internal/cdptransport"
	"openchrome/internal/core"
	"openchrome/internal/queue"
	"openchrome/internal/reftable"
	"openchrome/internal/tabpool"
)

// DefaultTTL is used when CreateSession is called without an explicit ttl.
const DefaultTTL = 30 * time.Minute

// EventKind discriminates the small pub/sub stream delivered through
// Subscribe (the RPC server forwards it to websocket clients).
type EventKind string

const (
	EventTabClosed   EventKind = "tab-closed"
	EventTabRemoved  EventKind = "tab-removed"
)

// Event is published on the Manager's stream.
type Event struct {
	Kind      EventKind
	SessionID string
	TabID     string
}

type tabEntry struct {
	pooled    *tabpool.PooledTab
	workerID  string
	createdAt time.Time
}

// Session is one caller-visible session: a FIFO queue, a ref table
// partition, and the set of tabs it owns.
type Session struct {
	ID           string
	CreatedAt    time.Time
	ttl          time.Duration
	mu           sync.Mutex
	tabs         map[string]*tabEntry
	lastActivity time.Time
}

// touch records activity for TTL sweeps.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the session's last recorded activity time.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// tabAcquirer is the subset of *tabpool.Pool the session manager needs,
// factored out so tests can substitute a fake pool instead of spawning a
// real browser.
type tabAcquirer interface {
	Acquire(ctx context.Context) (*tabpool.PooledTab, error)
	Release(tab *tabpool.PooledTab)
}

// Manager creates and destroys sessions, and owns the tab pool, ref
// table, and per-session request queues every session shares.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	pool      tabAcquirer
	transport *cdptransport.Transport
	queues    *queue.Manager
	refs      *reftable.Table
	hooks     Hooks

	subMu       sync.Mutex
	subscribers []func(Event)
}

// New wires a Manager against the shared tab pool, transport, and ref
// table the rest of the core uses.
func New(pool *tabpool.Pool, transport *cdptransport.Transport, refs *reftable.Table) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		pool:      pool,
		transport: transport,
		queues:    queue.NewManager(),
		refs:      refs,
	}
}

// GetCDP returns the shared CDP transport (spec's SessionManager.getCDP).
func (m *Manager) GetCDP() *cdptransport.Transport { return m.transport }

// Hooks receives session lifecycle events for metrics recording. Satisfied
// by *pkg/metrics.SessionHooks without this package importing pkg/metrics.
type Hooks interface {
	OnCreated(activeNow int)
	OnExpired(activeNow int)
}

// SetHooks installs h to receive subsequent session lifecycle events, and
// forwards queue.Hooks to the underlying queue manager.
func (m *Manager) SetHooks(h Hooks, qh queue.Hooks) {
	m.mu.Lock()
	m.hooks = h
	m.mu.Unlock()
	m.queues.SetHooks(qh)
}

// CreateSession returns the existing session for id if present, otherwise
// creates one. An empty id generates a fresh uuid. ttl <= 0 uses DefaultTTL.
func (m *Manager) CreateSession(id string, ttl time.Duration) *Session {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m.mu.Lock()

	if id != "" {
		if s, ok := m.sessions[id]; ok {
			m.mu.Unlock()
			return s
		}
	} else {
		id = uuid.NewString()
	}

	s := &Session{
		ID:           id,
		CreatedAt:    time.Now(),
		ttl:          ttl,
		tabs:         make(map[string]*tabEntry),
		lastActivity: time.Now(),
	}
	m.sessions[id] = s
	activeNow := len(m.sessions)
	hooks := m.hooks
	m.mu.Unlock()

	if hooks != nil {
		hooks.OnCreated(activeNow)
	}
	return s
}

// Queue returns sessionID's FIFO request queue, creating it lazily.
func (m *Manager) Queue(sessionID string) *queue.Queue {
	return m.queues.For(sessionID)
}

// CreatedTab is returned by CreateTab.
type CreatedTab struct {
	TabID    string
	WorkerID string
	Tab      *cdptransport.Tab
}

// CreateTab acquires a tab from the pool, records it as owned by
// sessionID, and navigates to url if non-empty.
func (m *Manager) CreateTab(ctx context.Context, sessionID, url, workerID string) (CreatedTab, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return CreatedTab{}, err
	}
	s.touch()

	pooled, err := m.pool.Acquire(ctx)
	if err != nil {
		return CreatedTab{}, err
	}

	if url != "" {
		if navErr := navigate(ctx, m.transport, pooled.Tab, url); navErr != nil {
			m.pool.Release(pooled)
			return CreatedTab{}, navErr
		}
	}

	if workerID == "" {
		workerID = uuid.NewString()
	}
	tabID := uuid.NewString()

	s.mu.Lock()
	s.tabs[tabID] = &tabEntry{pooled: pooled, workerID: workerID, createdAt: time.Now()}
	s.mu.Unlock()

	return CreatedTab{TabID: tabID, WorkerID: workerID, Tab: pooled.Tab}, nil
}

// GetTab resolves tabID within sessionID, failing with session.isolation
// if the tab was not created by that session.
func (m *Manager) GetTab(sessionID, tabID string) (*cdptransport.Tab, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	s.touch()

	s.mu.Lock()
	entry, ok := s.tabs[tabID]
	s.mu.Unlock()
	if !ok {
		return nil, core.NewError(core.KindSessionIsolation, "tab not owned by this session")
	}
	return entry.pooled.Tab, nil
}

// CloseTab forgets tabID, releases its underlying pooled tab (closing it
// instead if suspect), and publishes tab-closed followed by tab-removed.
func (m *Manager) CloseTab(sessionID, tabID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	entry, ok := s.tabs[tabID]
	delete(s.tabs, tabID)
	s.mu.Unlock()
	if !ok {
		return core.NewError(core.KindSessionIsolation, "tab not owned by this session")
	}

	if entry.pooled.Tab.Suspect() {
		entry.pooled.Tab.Close()
	} else {
		m.pool.Release(entry.pooled)
	}

	m.publish(Event{Kind: EventTabClosed, SessionID: sessionID, TabID: tabID})
	m.publish(Event{Kind: EventTabRemoved, SessionID: sessionID, TabID: tabID})
	return nil
}

// CleanupSession cancels pending queued work, releases every tab the
// session owns back to the pool (closing suspect ones instead), clears
// the session's ref table partitions, and removes its request queue.
func (m *Manager) CleanupSession(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	activeNow := len(m.sessions)
	hooks := m.hooks
	m.mu.Unlock()
	if !ok {
		return
	}
	if hooks != nil {
		hooks.OnExpired(activeNow)
	}

	m.queues.Remove(sessionID)

	s.mu.Lock()
	tabs := s.tabs
	s.tabs = nil
	s.mu.Unlock()

	for tabID, entry := range tabs {
		if entry.pooled.Tab.Suspect() {
			entry.pooled.Tab.Close()
		} else {
			m.pool.Release(entry.pooled)
		}
		m.publish(Event{Kind: EventTabRemoved, SessionID: sessionID, TabID: tabID})
	}

	if m.refs != nil {
		m.refs.ClearSession(sessionID)
	}
}

// Subscribe registers fn to receive every Event this Manager publishes.
func (m *Manager) Subscribe(fn func(Event)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

func (m *Manager) publish(ev Event) {
	m.subMu.Lock()
	subs := m.subscribers
	m.subMu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// SessionCount returns the number of sessions currently tracked.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// QueueDepth returns the total number of pending operations across every
// session's FIFO queue.
func (m *Manager) QueueDepth() int {
	return m.queues.TotalDepth()
}

// SweepExpired removes sessions whose ttl has elapsed since last
// activity, running their normal cleanup cascade.
func (m *Manager) SweepExpired() {
	m.mu.RLock()
	var expired []string
	now := time.Now()
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity()) > s.ttl {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.CleanupSession(id)
	}
}

func (m *Manager) get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, core.NewError(core.KindSessionNotFound, "unknown session: "+sessionID)
	}
	return s, nil
}
