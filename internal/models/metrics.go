package models

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "keyspace"

// Metrics holds the routing table and lookup collectors. A nil *Metrics
// records nothing, so components can be built without a registry.
type Metrics struct {
	TablePeers        prometheus.Gauge
	TableEvictions    prometheus.Counter
	TableReplacements prometheus.Counter
	Lookups           *prometheus.CounterVec
	LookupRounds      prometheus.Histogram
	LookupQueries     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TablePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "table",
			Name:      "peers",
			Help:      "Number of peers held in routing tables.",
		}),
		TableEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "table",
			Name:      "evictions_total",
			Help:      "Unresponsive peers evicted from full buckets.",
		}),
		TableReplacements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "table",
			Name:      "replacements_total",
			Help:      "Peers parked in a bucket replacement cache.",
		}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "lookup",
			Name:      "total",
			Help:      "Completed lookups by result.",
		}, []string{"result"}),
		LookupRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "lookup",
			Name:      "rounds",
			Help:      "Rounds needed per lookup.",
			Buckets:   prometheus.LinearBuckets(1, 1, 16),
		}),
		LookupQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "lookup",
			Name:      "queries_total",
			Help:      "FIND_NODE queries sent by outcome.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TablePeers,
			m.TableEvictions,
			m.TableReplacements,
			m.Lookups,
			m.LookupRounds,
			m.LookupQueries,
		)
	}
	return m
}

func (m *Metrics) peerAdded() {
	if m != nil {
		m.TablePeers.Inc()
	}
}

func (m *Metrics) peerRemoved() {
	if m != nil {
		m.TablePeers.Dec()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.TableEvictions.Inc()
	}
}

func (m *Metrics) replacementCached() {
	if m != nil {
		m.TableReplacements.Inc()
	}
}

func (m *Metrics) query(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.LookupQueries.WithLabelValues("ok").Inc()
	} else {
		m.LookupQueries.WithLabelValues("failed").Inc()
	}
}

func (m *Metrics) lookupDone(result LookupResult, err error) {
	if m == nil {
		return
	}
	label := "converged"
	switch {
	case err != nil:
		label = "error"
	case !result.Converged:
		label = "bounded"
	}
	m.Lookups.WithLabelValues(label).Inc()
	m.LookupRounds.Observe(float64(result.Rounds))
}
