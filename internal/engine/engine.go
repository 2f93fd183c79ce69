// Package engine wires the execution substrate (profile, launcher, tab
// pool, session manager, and the page-observation helpers) into the four
// surfaces everything else consumes: Engine.AcquireSession, Session.Run,
// Session.GetTab, and Tab.Evaluate/Serialize/Mutate.
//
// This lives outside internal/core because internal/core's Kind/Error
// machinery is imported by cdptransport (for classifying CDP failures)
// and by nearly every other package below this one; a facade that wires
// those packages together cannot also live in the package they import
// without an import cycle. Engine plays the role spec §6 calls "Core".
package engine

import (
	"context"
	"fmt"
	"time"

	"openchrome/internal/cdptransport"
	"openchrome/internal/config"
	"openchrome/internal/domdelta"
	"openchrome/internal/domserialize"
	"openchrome/internal/finder"
	"openchrome/internal/launcher"
	"openchrome/internal/profile"
	"openchrome/internal/reftable"
	"openchrome/internal/session"
	"openchrome/internal/storagestate"
	"openchrome/internal/tabpool"
	"openchrome/pkg/logger"
	"openchrome/pkg/metrics"
)

// Engine owns the single shared Chrome process and every session
// multiplexed over it.
type Engine struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.MetricsCollector

	profileRes profile.Resolution
	launched   *launcher.Instance
	transport  *cdptransport.Transport
	pool       *tabpool.Pool
	sessions   *session.Manager
	refs       *reftable.Table
	storage    *storagestate.Manager

	sweepStop chan struct{}
}

// New resolves the Chrome profile, launches (or attaches to) Chrome, and
// wires the tab pool, session manager, and ref table against it.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, mc *metrics.MetricsCollector) (*Engine, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if mc == nil {
		mc = metrics.GetGlobalCollector()
	}

	profMgr := profile.New(log)
	res, err := profMgr.Resolve(profile.Options{
		ExplicitDir:    cfg.Profile.ExplicitDir,
		ForceTemp:      cfg.Profile.ForceTemp,
		HeadlessShell:  cfg.Profile.HeadlessShell,
		RealProfileDir: cfg.Profile.RealProfileDir,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: resolve profile: %w", err)
	}

	inst, err := launcher.Launch(ctx, launcher.Options{
		ProfileDir:  res.Dir,
		ProfileType: res.Type,
		Headless:    cfg.Launcher.Headless,
		DebugPort:   cfg.Launcher.DebugPort,
		RemoteURL:   cfg.Launcher.RemoteURL,
		ChromePath:  cfg.Launcher.ChromePath,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: launch chrome: %w", err)
	}

	transport := cdptransport.New()
	transport.SetHooks(mc)
	poolCfg := tabpool.Config{
		MinPoolSize:       cfg.Pool.MinSize,
		MaxPoolSize:       cfg.Pool.MaxSize,
		PageIdleTimeout:   cfg.Pool.IdleTimeout,
		PreWarm:           cfg.Pool.PreWarm,
		MaintenanceWindow: cfg.Pool.MaintenanceWindow,
	}
	pool, err := tabpool.New(inst.AllocCtx, transport, poolCfg, func(format string, args ...any) {
		log.Infof(format, args...)
	})
	if err != nil {
		inst.Stop()
		return nil, fmt.Errorf("engine: start tab pool: %w", err)
	}

	refs := reftable.New()
	sessions := session.New(pool, transport, refs)

	pool.SetHooks(metrics.NewPoolHooks(mc))
	sessions.SetHooks(metrics.NewSessionHooks(mc), metrics.NewQueueHooks(mc))

	e := &Engine{
		cfg:        cfg,
		log:        log,
		metrics:    mc,
		profileRes: res,
		launched:   inst,
		transport:  transport,
		pool:       pool,
		sessions:   sessions,
		refs:       refs,
		storage:    storagestate.New(transport),
		sweepStop:  make(chan struct{}),
	}

	go e.sweepLoop()
	return e, nil
}

// Close stops the session sweep loop, the tab pool, and the browser
// process (or releases the remote allocator, if attached).
func (e *Engine) Close() error {
	close(e.sweepStop)
	e.pool.Close()
	return e.launched.Stop()
}

func (e *Engine) sweepLoop() {
	interval := e.cfg.Session.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	metricsTicker := time.NewTicker(15 * time.Second)
	defer metricsTicker.Stop()

	poolHooks := metrics.NewPoolHooks(e.metrics)
	queueHooks := metrics.NewQueueHooks(e.metrics)

	for {
		select {
		case <-e.sweepStop:
			return
		case <-ticker.C:
			e.sessions.SweepExpired()
		case <-metricsTicker.C:
			st := e.pool.Stats()
			poolHooks.OnPoolSize(st.InUse, st.Available)
			queueHooks.OnDepthChange(e.sessions.QueueDepth())
		}
	}
}

// ProfileResolution exposes the profile directory decision Close-adjacent
// callers (diagnostics, health checks) may want to report.
func (e *Engine) ProfileResolution() profile.Resolution { return e.profileRes }

// LauncherEndpoints reports how the running Chrome instance can be reached,
// per spec §6's Launcher.ensure contract. launcher.Instance only tracks the
// debug port it waited on (or nothing, for an attached remote instance), so
// the HTTP/websocket endpoint strings are synthesized here rather than
// adding fields to Instance that spawnLocal/attachRemote would have no
// uniform way to populate.
type LauncherEndpoints struct {
	HTTPEndpoint string
	WSEndpoint   string
	Port         int
	Attached     bool
}

func (e *Engine) LauncherEndpoints() LauncherEndpoints {
	if e.launched.Port == 0 {
		return LauncherEndpoints{Attached: true}
	}
	base := fmt.Sprintf("127.0.0.1:%d", e.launched.Port)
	return LauncherEndpoints{
		HTTPEndpoint: "http://" + base,
		WSEndpoint:   "ws://" + base,
		Port:         e.launched.Port,
	}
}

// Subscribe forwards session lifecycle events (tab closed/removed) to fn,
// letting a transport layer broadcast them without reaching into the
// session manager directly.
func (e *Engine) Subscribe(fn func(session.Event)) {
	e.sessions.Subscribe(fn)
}

// Session is the facade's per-caller handle: a FIFO queue plus the tabs
// it owns, matching spec §6's Session.run/Session.getTab surface.
type Session struct {
	id      string
	engine  *Engine
	session *session.Session
}

// AcquireSession returns the existing session for id, or creates one with
// the given ttl (DefaultTTL if ttl<=0, a fresh uuid if id is empty).
func (e *Engine) AcquireSession(id string, ttl time.Duration) *Session {
	s := e.sessions.CreateSession(id, ttl)
	return &Session{id: s.ID, engine: e, session: s}
}

// ID returns the session's id.
func (s *Session) ID() string { return s.id }

// Run enqueues fn on the session's FIFO queue and blocks for its result,
// per spec §6's Session.queue.enqueue(op) -> future<result>.
func (s *Session) Run(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	q := s.engine.sessions.Queue(s.id)
	future := q.Enqueue(fn, timeout)
	return future.Wait()
}

// CreateTab acquires a tab from the pool under this session, navigating to
// url first if non-empty.
func (s *Session) CreateTab(ctx context.Context, url, workerID string) (session.CreatedTab, error) {
	return s.engine.sessions.CreateTab(ctx, s.id, url, workerID)
}

// GetTab resolves tabID, failing with core.KindSessionIsolation if it was
// not created by this session.
func (s *Session) GetTab(tabID string) (*Tab, error) {
	t, err := s.engine.sessions.GetTab(s.id, tabID)
	if err != nil {
		return nil, err
	}
	return &Tab{id: tabID, sessionID: s.id, raw: t, engine: s.engine}, nil
}

// CloseTab releases tabID back to the pool (or closes it, if suspect).
func (s *Session) CloseTab(tabID string) error {
	return s.engine.sessions.CloseTab(s.id, tabID)
}

// Close cancels queued work, releases every tab this session owns, and
// clears its ref table partitions.
func (s *Session) Close() {
	s.engine.sessions.CleanupSession(s.id)
}

// Tab is a handle to one browser page, scoped to the session that owns it.
type Tab struct {
	id        string
	sessionID string
	raw       *cdptransport.Tab
	engine    *Engine
}

// ID returns the tab's opaque identifier.
func (t *Tab) ID() string { return t.id }

// Evaluate runs a raw CDP action against the tab, wrapping it in the
// transport's timeout/error-kind handling (spec §4.4).
func (t *Tab) Evaluate(timeout time.Duration, fn func(ctx context.Context) error) error {
	return t.engine.transport.SendOp(t.raw, timeout, evalAction(fn), "evaluate")
}

// Serialize renders the tab's DOM to text per spec §4.8.
func (t *Tab) Serialize(ctx context.Context, opts domserialize.Options) (domserialize.Result, error) {
	return domserialize.Serialize(ctx, t.engine.transport, t.raw, opts)
}

// Find resolves the best-matching interactive element for query, per
// spec §4.9.
func (t *Tab) Find(ctx context.Context, query string) (finder.Candidate, error) {
	return finder.Find(ctx, t.engine.transport, t.raw, query)
}

// Mutate wraps action, reporting what the DOM/page did while it ran, per
// spec §4.10.
func (t *Tab) Mutate(ctx context.Context, action func(ctx context.Context) (any, error), opts domdelta.Options) (domdelta.Result, error) {
	return domdelta.WithDelta(ctx, t.engine.transport, t.raw, action, opts)
}

// GenerateRef assigns a stable reference to a just-observed element.
func (t *Tab) GenerateRef(backendNodeID int64, role, name, tagName, textPrefix string) string {
	return t.engine.refs.Generate(t.sessionID, t.id, backendNodeID, role, name, tagName, textPrefix)
}

// ResolveRef resolves a caller-supplied ref/node id to a backend node id.
func (t *Tab) ResolveRef(input string) (int64, bool) {
	return t.engine.refs.Resolve(t.sessionID, t.id, input)
}

// ValidateRef checks a ref against current tag/text readings.
func (t *Tab) ValidateRef(ref, currentTag, currentTextPrefix string) reftable.ValidateResult {
	return t.engine.refs.Validate(t.sessionID, t.id, ref, currentTag, currentTextPrefix)
}

// ClearRefs drops every ref generated for this tab, typically called at
// the start of a fresh page read.
func (t *Tab) ClearRefs() {
	t.engine.refs.ClearTab(t.sessionID, t.id)
}

// SaveStorageState writes cookies/localStorage to path.
func (t *Tab) SaveStorageState(ctx context.Context, path string) error {
	return t.engine.storage.Save(ctx, t.raw, path)
}

// RestoreStorageState applies cookies/localStorage from path, if present.
func (t *Tab) RestoreStorageState(ctx context.Context, path string) (bool, error) {
	return t.engine.storage.Restore(ctx, t.raw, path)
}

// WatchStorageState starts a periodic resave of this tab's storage state
// until ctx is done.
func (t *Tab) WatchStorageState(ctx context.Context, path string) {
	t.engine.storage.StartWatchdog(ctx, t.raw, path, storagestate.WatchdogOptions{
		Interval: t.engine.cfg.Storage.WatchdogInterval,
	})
}

func evalAction(fn func(ctx context.Context) error) actionFunc {
	return actionFunc(fn)
}

// actionFunc adapts a plain context func into a chromedp.Action without
// importing chromedp here; cdptransport.Transport.Send accepts anything
// satisfying chromedp.Action (a Do(context.Context) error method).
type actionFunc func(ctx context.Context) error

func (f actionFunc) Do(ctx context.Context) error { return f(ctx) }
