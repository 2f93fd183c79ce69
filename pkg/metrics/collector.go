// Package metrics provides Prometheus-compatible metrics collection for
// the tab pool, request queues, sessions, and CDP call latency.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace for all metrics.
const namespace = "openchrome"

// MetricsCollector holds every metric the server exposes.
type MetricsCollector struct {
	// Tab pool
	TabAcquireTotal   prometheus.Counter
	TabAcquireWait    prometheus.Histogram
	TabsActive        prometheus.Gauge
	TabsIdle          prometheus.Gauge
	TabResetFailures  prometheus.Counter

	// Request queue
	QueueDepth    prometheus.Gauge
	QueueWaitTime prometheus.Histogram
	QueueTimeouts prometheus.Counter

	// Sessions
	SessionsActive prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsExpired prometheus.Counter

	// CDP operations, labeled by kind (evaluate/serialize/find/navigate/...)
	CDPOpLatency *prometheus.HistogramVec
	CDPOpErrors  *prometheus.CounterVec

	// RPC surface
	RPCRequestsTotal *prometheus.CounterVec
	RPCErrorsTotal   *prometheus.CounterVec

	mu        sync.RWMutex
	startTime time.Time

	tabsActiveCount  int64
	tabsIdleCount    int64
	queueDepthCount  int64
	sessionsActiveN  int64
	sessionsCreated  int64
	sessionsExpired  int64
}

// NewMetricsCollector creates, registers, and returns a ready collector.
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{startTime: time.Now()}

	mc.TabAcquireTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "tab_acquire_total", Help: "Total tab pool acquisitions.",
	})
	mc.TabAcquireWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "tab_acquire_wait_seconds", Help: "Time spent waiting for a pooled tab.",
		Buckets: prometheus.DefBuckets,
	})
	mc.TabsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "tabs_active", Help: "Tabs currently checked out of the pool.",
	})
	mc.TabsIdle = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "tabs_idle", Help: "Tabs sitting idle in the pool.",
	})
	mc.TabResetFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "tab_reset_failures_total", Help: "Tabs discarded instead of reset on release.",
	})

	mc.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "queue_depth", Help: "Items currently queued across all sessions.",
	})
	mc.QueueWaitTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "queue_wait_seconds", Help: "Time an item waited in its session queue before running.",
		Buckets: prometheus.DefBuckets,
	})
	mc.QueueTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "queue_timeouts_total", Help: "Queued items that hit their deadline before running.",
	})

	mc.SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "sessions_active", Help: "Live sessions.",
	})
	mc.SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "sessions_created_total", Help: "Sessions created.",
	})
	mc.SessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "sessions_expired_total", Help: "Sessions cleaned up, by the TTL sweep or an explicit close.",
	})

	mc.CDPOpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "cdp_op_latency_seconds", Help: "CDP operation latency by kind.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"op"})
	mc.CDPOpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "cdp_op_errors_total", Help: "CDP operation failures by kind.",
	}, []string{"op"})

	mc.RPCRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "rpc_requests_total", Help: "RPC requests handled, by method.",
	}, []string{"method"})
	mc.RPCErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "rpc_errors_total", Help: "RPC requests that returned an error, by method and error kind.",
	}, []string{"method", "kind"})

	mc.register()
	return mc
}

func (mc *MetricsCollector) register() {
	prometheus.MustRegister(
		mc.TabAcquireTotal, mc.TabAcquireWait, mc.TabsActive, mc.TabsIdle, mc.TabResetFailures,
		mc.QueueDepth, mc.QueueWaitTime, mc.QueueTimeouts,
		mc.SessionsActive, mc.SessionsCreated, mc.SessionsExpired,
		mc.CDPOpLatency, mc.CDPOpErrors,
		mc.RPCRequestsTotal, mc.RPCErrorsTotal,
	)
}

// RecordTabAcquire records one pool acquisition and how long it waited.
func (mc *MetricsCollector) RecordTabAcquire(wait time.Duration) {
	mc.TabAcquireTotal.Inc()
	mc.TabAcquireWait.Observe(wait.Seconds())
}

// RecordTabResetFailure records a tab discarded on release instead of reset.
func (mc *MetricsCollector) RecordTabResetFailure() {
	mc.TabResetFailures.Inc()
}

// SetTabCounts updates the active/idle pool gauges.
func (mc *MetricsCollector) SetTabCounts(active, idle int64) {
	mc.TabsActive.Set(float64(active))
	mc.TabsIdle.Set(float64(idle))
	mc.mu.Lock()
	mc.tabsActiveCount, mc.tabsIdleCount = active, idle
	mc.mu.Unlock()
}

// SetQueueDepth updates the aggregate queue depth gauge.
func (mc *MetricsCollector) SetQueueDepth(depth int64) {
	mc.QueueDepth.Set(float64(depth))
	mc.mu.Lock()
	mc.queueDepthCount = depth
	mc.mu.Unlock()
}

// RecordQueueWait records how long an item waited before its turn.
func (mc *MetricsCollector) RecordQueueWait(wait time.Duration) {
	mc.QueueWaitTime.Observe(wait.Seconds())
}

// RecordQueueTimeout records an item that hit its deadline unserved.
func (mc *MetricsCollector) RecordQueueTimeout() {
	mc.QueueTimeouts.Inc()
}

// RecordSessionCreated records a new session and updates the active gauge.
func (mc *MetricsCollector) RecordSessionCreated(activeNow int64) {
	mc.SessionsCreated.Inc()
	mc.SessionsActive.Set(float64(activeNow))
	mc.mu.Lock()
	mc.sessionsCreated++
	mc.sessionsActiveN = activeNow
	mc.mu.Unlock()
}

// RecordSessionExpired records a cleaned-up session (TTL sweep or explicit
// close) and updates the active gauge.
func (mc *MetricsCollector) RecordSessionExpired(activeNow int64) {
	mc.SessionsExpired.Inc()
	mc.SessionsActive.Set(float64(activeNow))
	mc.mu.Lock()
	mc.sessionsExpired++
	mc.sessionsActiveN = activeNow
	mc.mu.Unlock()
}

// RecordCDPOp records one CDP-backed operation's latency and outcome.
func (mc *MetricsCollector) RecordCDPOp(op string, d time.Duration, err error) {
	mc.CDPOpLatency.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		mc.CDPOpErrors.WithLabelValues(op).Inc()
	}
}

// RecordRPCRequest records one handled RPC request, and its error kind if any.
func (mc *MetricsCollector) RecordRPCRequest(method, errKind string) {
	mc.RPCRequestsTotal.WithLabelValues(method).Inc()
	if errKind != "" {
		mc.RPCErrorsTotal.WithLabelValues(method, errKind).Inc()
	}
}

// GetSnapshot returns a point-in-time view of the gauge-backed counters,
// for the JSON dashboard endpoint.
func (mc *MetricsCollector) GetSnapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return Snapshot{
		Timestamp:       time.Now(),
		TabsActive:      mc.tabsActiveCount,
		TabsIdle:        mc.tabsIdleCount,
		QueueDepth:      mc.queueDepthCount,
		SessionsActive:  mc.sessionsActiveN,
		SessionsCreated: mc.sessionsCreated,
		SessionsExpired: mc.sessionsExpired,
		UptimeSeconds:   time.Since(mc.startTime).Seconds(),
	}
}

// Snapshot is a point-in-time metrics snapshot, served as JSON.
type Snapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	TabsActive      int64     `json:"tabs_active"`
	TabsIdle        int64     `json:"tabs_idle"`
	QueueDepth      int64     `json:"queue_depth"`
	SessionsActive  int64     `json:"sessions_active"`
	SessionsCreated int64     `json:"sessions_created"`
	SessionsExpired int64     `json:"sessions_expired"`
	UptimeSeconds   float64   `json:"uptime_seconds"`
}

// MetricsHandler returns the Prometheus scrape handler.
func (mc *MetricsCollector) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// JSONHandler returns the snapshot as JSON, for lightweight dashboards
// that don't want to parse the Prometheus exposition format.
func (mc *MetricsCollector) JSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mc.GetSnapshot())
	}
}

// Close is a no-op retained for API symmetry with components that do
// hold background resources; MetricsCollector currently doesn't.
func (mc *MetricsCollector) Close() {}

var (
	globalCollector *MetricsCollector
	globalOnce      sync.Once
)

// GetGlobalCollector returns the process-wide collector, creating it on
// first use.
func GetGlobalCollector() *MetricsCollector {
	globalOnce.Do(func() {
		globalCollector = NewMetricsCollector()
	})
	return globalCollector
}

// SetGlobalCollector overrides the global collector, for tests.
func SetGlobalCollector(mc *MetricsCollector) {
	globalCollector = mc
}
