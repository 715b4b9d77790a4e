package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestEngineCounters(t *testing.T) {
	m := Engine()
	require.Same(t, m, Engine())

	before := testutil.ToFloat64(m.quotesRejected.WithLabelValues("cap_exceeded"))
	m.ObserveQuoteRejected("cap_exceeded")
	require.Equal(t, before+1, testutil.ToFloat64(m.quotesRejected.WithLabelValues("cap_exceeded")))

	before = testutil.ToFloat64(m.settlements.WithLabelValues("unknown"))
	m.ObserveSettlement("", time.Now())
	require.Equal(t, before+1, testutil.ToFloat64(m.settlements.WithLabelValues("unknown")))

	before = testutil.ToFloat64(m.capResets)
	m.AddCapResets(0)
	m.AddCapResets(3)
	require.Equal(t, before+3, testutil.ToFloat64(m.capResets))
}

func TestNilEngineIsSafe(t *testing.T) {
	var m *EngineMetrics
	require.NotPanics(t, func() {
		m.ObserveQuoteIssued("x")
		m.ObserveQuoteRejected("x")
		m.ObserveSettlement("x", time.Now())
		m.AddUsdSettled("x", 1)
		m.ObserveOracleFailure("x")
		m.ObserveVerifier(time.Now())
		m.AddCapResets(1)
	})
}
