package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queryDurationBuckets = []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

// Metrics holds the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	SwitchTotal    *prometheus.CounterVec
	RetiredTotal   prometheus.Counter
	InFlight       *prometheus.GaugeVec
	QueryDuration  *prometheus.HistogramVec
	CacheEvictions *prometheus.CounterVec
	CacheLookups   *prometheus.CounterVec
}

// New registers the collectors with reg. Pass a fresh prometheus.Registry in
// tests to avoid duplicate registration against the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SwitchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cyfm_datasource_switch_total",
			Help: "datasource switch attempts by result",
		}, []string{"result"}),
		RetiredTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "cyfm_datasource_retired_total",
			Help: "superseded connection pools closed",
		}),
		InFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cyfm_datasource_inflight",
			Help: "statements currently running per connection pool",
		}, []string{"pool"}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cyfm_datasource_query_duration_seconds",
			Help:    "statement latency per dialect",
			Buckets: queryDurationBuckets,
		}, []string{"dialect"}),
		CacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cyfm_cache_evictions_total",
			Help: "second-level cache region evictions",
		}, []string{"region"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cyfm_cache_lookups_total",
			Help: "cache lookups by level and outcome",
		}, []string{"level", "outcome"}),
	}
}

func (m *Metrics) ObserveSwitch(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.SwitchTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRetired() {
	if m == nil {
		return
	}
	m.RetiredTotal.Inc()
}

func (m *Metrics) InFlightInc(pool string) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(pool).Inc()
}

func (m *Metrics) InFlightDec(pool string) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(pool).Dec()
}

// ForgetPool drops the per-pool series once a pool is closed.
func (m *Metrics) ForgetPool(pool string) {
	if m == nil {
		return
	}
	m.InFlight.DeleteLabelValues(pool)
}

func (m *Metrics) ObserveQuery(dialect string, seconds float64) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(dialect).Observe(seconds)
}

func (m *Metrics) ObserveEviction(region string) {
	if m == nil {
		return
	}
	m.CacheEvictions.WithLabelValues(region).Inc()
}

func (m *Metrics) ObserveCacheLookup(level string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookups.WithLabelValues(level, outcome).Inc()
}
