package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics holds the collectors for quote issuance, settlement and the
// price oracle. Methods are nil-safe.
type EngineMetrics struct {
	quotesIssued      *prometheus.CounterVec
	quotesRejected    *prometheus.CounterVec
	settlements       *prometheus.CounterVec
	settlementLatency prometheus.Histogram
	usdBurned         *prometheus.CounterVec
	oracleFailures    *prometheus.CounterVec
	verifierLatency   prometheus.Histogram
	capResets         prometheus.Counter
}

var (
	engineOnce     sync.Once
	engineRegistry *EngineMetrics
)

// Engine returns the lazily registered metrics singleton.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			quotesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "burn_quotes_issued_total",
				Help: "Count of burn quotes issued by asset.",
			}, []string{"asset"}),
			quotesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "burn_quotes_rejected_total",
				Help: "Count of quote requests rejected by failure kind.",
			}, []string{"kind"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "burn_settlements_total",
				Help: "Count of settlement attempts by outcome.",
			}, []string{"outcome"}),
			settlementLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "burn_settlement_duration_seconds",
				Help:    "End-to-end settlement latency including verification.",
				Buckets: prometheus.DefBuckets,
			}),
			usdBurned: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "burn_usd_settled_total",
				Help: "USD value settled by asset.",
			}, []string{"asset"}),
			oracleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "burn_oracle_failures_total",
				Help: "Price source failures by source.",
			}, []string{"source"}),
			verifierLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "burn_verifier_duration_seconds",
				Help:    "Transaction verifier call latency.",
				Buckets: prometheus.DefBuckets,
			}),
			capResets: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "burn_daily_cap_resets_total",
				Help: "Asset daily counters reset by the day-boundary job.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.quotesIssued,
			engineRegistry.quotesRejected,
			engineRegistry.settlements,
			engineRegistry.settlementLatency,
			engineRegistry.usdBurned,
			engineRegistry.oracleFailures,
			engineRegistry.verifierLatency,
			engineRegistry.capResets,
		)
	})
	return engineRegistry
}

func (m *EngineMetrics) ObserveQuoteIssued(asset string) {
	if m == nil {
		return
	}
	m.quotesIssued.WithLabelValues(label(asset)).Inc()
}

func (m *EngineMetrics) ObserveQuoteRejected(kind string) {
	if m == nil {
		return
	}
	m.quotesRejected.WithLabelValues(label(kind)).Inc()
}

// ObserveSettlement records one Settle call. outcome is "settled" or a failure kind.
func (m *EngineMetrics) ObserveSettlement(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(label(outcome)).Inc()
	m.settlementLatency.Observe(time.Since(started).Seconds())
}

func (m *EngineMetrics) AddUsdSettled(asset string, usd float64) {
	if m == nil {
		return
	}
	m.usdBurned.WithLabelValues(label(asset)).Add(usd)
}

func (m *EngineMetrics) ObserveOracleFailure(source string) {
	if m == nil {
		return
	}
	m.oracleFailures.WithLabelValues(label(source)).Inc()
}

func (m *EngineMetrics) ObserveVerifier(started time.Time) {
	if m == nil {
		return
	}
	m.verifierLatency.Observe(time.Since(started).Seconds())
}

func (m *EngineMetrics) AddCapResets(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.capResets.Add(float64(n))
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
