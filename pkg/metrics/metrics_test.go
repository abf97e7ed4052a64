package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSwitch(true)
	m.ObserveSwitch(true)
	m.ObserveSwitch(false)
	m.ObserveRetired()
	m.ObserveEviction("entity")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SwitchTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SwitchTotal.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetiredTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheEvictions.WithLabelValues("entity")))
}

func TestMetrics_InFlight(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.InFlightInc("primary")
	m.InFlightInc("primary")
	m.InFlightDec("primary")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InFlight.WithLabelValues("primary")))

	m.ForgetPool("primary")
	assert.Equal(t, 0, testutil.CollectAndCount(m.InFlight))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveSwitch(true)
		m.ObserveRetired()
		m.InFlightInc("x")
		m.InFlightDec("x")
		m.ForgetPool("x")
		m.ObserveQuery("postgresql", 0.1)
		m.ObserveEviction("query")
		m.ObserveCacheLookup("l1", true)
	})
}
