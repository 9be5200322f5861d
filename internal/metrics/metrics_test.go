package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("tuition", "approved")
		m.Hire()
		m.HireConflict()
		m.MessageSent()
		m.ClientConnected()
		m.ClientDisconnected()
		m.HTTPRequest("GET", "/api/tuitions", 200)
		m.RateLimited()
		m.Job("payment.confirm", "ok")
	})
}

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Hire()
	m.Hire()
	m.Transition("application", "approved")
	m.ClientConnected()
	m.ClientConnected()
	m.ClientDisconnected()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.hires))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("application", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.wsClients))

	n, err := testutil.GatherAndCount(reg, "tutormarket_hires_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
