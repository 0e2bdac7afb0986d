package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("java", "accepted", true, time.Now())
	m.ObserveRequest("java", "accepted", true, time.Now())
	m.ObserveRequest("bedrock", "already_whitelisted", false, time.Now())
	m.ObserveLogin("java", false)
	m.SetMembers(3, 1)
	m.IncrementReload(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("java", "accepted", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("bedrock", "already_whitelisted", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Logins.WithLabelValues("java", "deny")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Members.WithLabelValues("java")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Members.WithLabelValues("bedrock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reloads.WithLabelValues("ok")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("java", "accepted", false, time.Now())
		m.ObserveLogin("bedrock", true)
		m.SetMembers(1, 1)
		m.IncrementReload(false)
	})
}
