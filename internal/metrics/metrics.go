// Package metrics exposes Prometheus counters/gauges for decisions,
// sync runs, and heartbeat runs. Recording a metric never blocks or
// fails a caller — every method here is fire-and-forget.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the controller's Prometheus collectors.
type Metrics struct {
	decisions         *prometheus.CounterVec
	syncRuns          *prometheus.CounterVec
	heartbeatRuns     *prometheus.CounterVec
	masterCardEvents  *prometheus.CounterVec
	cacheAgeSeconds   prometheus.Gauge
	doorUnlockedGauge prometheus.Gauge
}

// New registers and returns the controller's collectors against reg
// (tests can pass a throwaway registry; production wires it to
// prometheus.DefaultRegisterer via NewDefault).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Count of access decisions by result and reason.",
		}, []string{"result", "reason"}),
		syncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Count of Synchronizer runs by result.",
		}, []string{"result"}),
		heartbeatRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "heartbeat_runs_total",
			Help: "Count of Heartbeat runs by result.",
		}, []string{"result"}),
		masterCardEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "master_card_events_total",
			Help: "Count of master-card table mutations by action.",
		}, []string{"action"}),
		cacheAgeSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cache_age_seconds",
			Help: "Seconds since the access cache was last synced.",
		}),
		doorUnlockedGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "door_unlocked_persistent",
			Help: "1 if the door is currently persistently unlocked, else 0.",
		}),
	}
}

// NewDefault registers against the global default registry.
func NewDefault() *Metrics { return New(prometheus.DefaultRegisterer) }

// RecordDecision increments the decision counter for a grant or deny.
func (m *Metrics) RecordDecision(granted bool, reason string) {
	result := "deny"
	if granted {
		result = "grant"
		reason = ""
	}
	m.decisions.WithLabelValues(result, reason).Inc()
}

// RecordSync increments the sync-run counter.
func (m *Metrics) RecordSync(ok bool) {
	m.syncRuns.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordHeartbeat increments the heartbeat-run counter.
func (m *Metrics) RecordHeartbeat(ok bool) {
	m.heartbeatRuns.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordMasterCardEvent increments the master-card event counter
// ("added" or "revoked").
func (m *Metrics) RecordMasterCardEvent(action string) {
	m.masterCardEvents.WithLabelValues(action).Inc()
}

// SetCacheAge sets the cache-age gauge in seconds.
func (m *Metrics) SetCacheAge(seconds float64) {
	m.cacheAgeSeconds.Set(seconds)
}

// SetDoorUnlockedPersistent sets the persistent-unlock gauge.
func (m *Metrics) SetDoorUnlockedPersistent(unlocked bool) {
	if unlocked {
		m.doorUnlockedGauge.Set(1)
	} else {
		m.doorUnlockedGauge.Set(0)
	}
}

// Handler returns the HTTP handler to serve on the optional
// metrics_addr config key.
func Handler() http.Handler { return promhttp.Handler() }

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
