package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncTransition("request", "forwarded")
	m.IncTransition("request", "forwarded")
	m.IncClaim("won")
	m.IncEscalation("not_eligible")
	m.IncMessage("ordinary")
	m.ObserveOperation("post_message", 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("request", "forwarded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Claims.WithLabelValues("won")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Escalations.WithLabelValues("not_eligible")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Messages.WithLabelValues("ordinary")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncTransition("request", "completed")
	m.IncClaim("lost")
	m.IncEscalation("created")
	m.IncMessage("system")
	m.ObserveOperation("x", time.Second)
}
