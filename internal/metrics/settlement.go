package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "posledger"

// Outcome labels for settlement attempts.
const (
	OutcomeSettled = "settled"
)

// LedgerMetrics records settlement and stock receipt activity.
type LedgerMetrics struct {
	settlements     *prometheus.CounterVec
	conflictRetries prometheus.Counter
	duration        *prometheus.HistogramVec
	stockReceived   prometheus.Counter
}

// NewLedgerMetrics registers the ledger collectors on reg. A nil registerer
// yields a recorder that drops everything.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlements_total",
		Help:      "Sale settlements by outcome.",
	}, []string{"outcome"})
	conflictRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_conflict_retries_total",
		Help:      "Settlement attempts retried after a storage conflict.",
	})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "settlement_duration_seconds",
		Help:      "Wall time of a settlement including retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})
	stockReceived := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_received_units_total",
		Help:      "Units added to the ledger through stock receipts.",
	})
	reg.MustRegister(settlements, conflictRetries, duration, stockReceived)
	return &LedgerMetrics{
		settlements:     settlements,
		conflictRetries: conflictRetries,
		duration:        duration,
		stockReceived:   stockReceived,
	}
}

// ObserveSettlement counts one finished settlement and its latency.
func (m *LedgerMetrics) ObserveSettlement(outcome string, elapsed time.Duration) {
	if m == nil || m.settlements == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	m.settlements.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *LedgerMetrics) IncConflictRetry() {
	if m == nil || m.conflictRetries == nil {
		return
	}
	m.conflictRetries.Inc()
}

func (m *LedgerMetrics) AddStockReceived(units int) {
	if m == nil || m.stockReceived == nil || units <= 0 {
		return
	}
	m.stockReceived.Add(float64(units))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
