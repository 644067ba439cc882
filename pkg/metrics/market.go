package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const namespace = "keymarket"

// MarketMetrics tracks order transitions and money movement.
type MarketMetrics struct {
	orderTransitions *prometheus.CounterVec
	ledgerPostings   *prometheus.CounterVec
	ledgerAmount     *prometheus.CounterVec
	earnings         *prometheus.CounterVec
}

// NewMarketMetrics registers marketplace metrics on reg. A nil registerer yields a no-op recorder.
func NewMarketMetrics(reg prometheus.Registerer) *MarketMetrics {
	if reg == nil {
		return &MarketMetrics{}
	}
	m := &MarketMetrics{
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order state transitions by target status and payment method.",
		}, []string{"status", "payment_method"}),
		ledgerPostings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_postings_total",
			Help:      "Ledger entries written, by direction and reason.",
		}, []string{"direction", "reason"}),
		ledgerAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_posted_amount_total",
			Help:      "Sum of posted ledger amounts, by direction and reason.",
		}, []string{"direction", "reason"}),
		earnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_earnings_processed_total",
			Help:      "Pending earnings moved out of pending, by resulting status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.orderTransitions, m.ledgerPostings, m.ledgerAmount, m.earnings)
	return m
}

func (m *MarketMetrics) OrderTransition(status, paymentMethod string) {
	if m == nil || m.orderTransitions == nil {
		return
	}
	m.orderTransitions.WithLabelValues(normalizeLabel(status), normalizeLabel(paymentMethod)).Inc()
}

func (m *MarketMetrics) LedgerPosting(direction, reason string, amount decimal.Decimal) {
	if m == nil || m.ledgerPostings == nil {
		return
	}
	m.ledgerPostings.WithLabelValues(normalizeLabel(direction), normalizeLabel(reason)).Inc()
	m.ledgerAmount.WithLabelValues(normalizeLabel(direction), normalizeLabel(reason)).Add(amount.InexactFloat64())
}

func (m *MarketMetrics) EarningProcessed(status string) {
	if m == nil || m.earnings == nil {
		return
	}
	m.earnings.WithLabelValues(normalizeLabel(status)).Inc()
}
