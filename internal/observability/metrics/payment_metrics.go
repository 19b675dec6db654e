package metrics

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks payment state machine outcomes.
type PaymentMetrics struct {
	makeOutcomes     *prometheus.CounterVec
	webhookOutcomes  *prometheus.CounterVec
	settlementLag    *prometheus.HistogramVec
	pendingSettled   *prometheus.CounterVec
}

var (
	paymentMetricsOnce sync.Once
	paymentMetrics     *PaymentMetrics
)

// Payment returns the process-wide payment metrics, registering them on
// first use.
func Payment() *PaymentMetrics {
	paymentMetricsOnce.Do(func() {
		paymentMetrics = newPaymentMetrics(prometheus.DefaultRegisterer)
	})
	return paymentMetrics
}

// ResetPaymentMetricsForTest clears the singleton between test runs.
func ResetPaymentMetricsForTest() {
	paymentMetricsOnce = sync.Once{}
	paymentMetrics = nil
}

func newPaymentMetrics(registerer prometheus.Registerer) *PaymentMetrics {
	m := &PaymentMetrics{
		makeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_make_total",
			Help: "Initiate outcomes by provider, direction and action tag.",
		}, []string{"provider", "direction", "action"}),
		webhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_webhook_total",
			Help: "Webhook processing outcomes by provider and result.",
		}, []string{"provider", "outcome"}),
		settlementLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payment_settlement_lag_seconds",
			Help:    "Time between invoice creation and terminal settlement.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"provider"}),
		pendingSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_replayed_webhook_total",
			Help: "Webhook deliveries observed after the invoice left pending.",
		}, []string{"provider"}),
	}

	for _, collector := range []prometheus.Collector{
		m.makeOutcomes, m.webhookOutcomes, m.settlementLag, m.pendingSettled,
	} {
		if err := registerer.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}
	return m
}

// ObserveMake records an initiate outcome.
func (m *PaymentMetrics) ObserveMake(provider, direction, action string) {
	if m == nil {
		return
	}
	m.makeOutcomes.WithLabelValues(normalizeLabel(provider), normalizeLabel(direction), normalizeLabel(action)).Inc()
}

// ObserveWebhook records a webhook processing result.
func (m *PaymentMetrics) ObserveWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

// ObserveSettlementLag records how long an invoice stayed pending.
func (m *PaymentMetrics) ObserveSettlementLag(provider string, lag time.Duration) {
	if m == nil || lag < 0 {
		return
	}
	m.settlementLag.WithLabelValues(normalizeLabel(provider)).Observe(lag.Seconds())
}

// ObserveReplay records a webhook that arrived after settlement.
func (m *PaymentMetrics) ObserveReplay(provider string) {
	if m == nil {
		return
	}
	m.pendingSettled.WithLabelValues(normalizeLabel(provider)).Inc()
}

func normalizeLabel(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "unknown"
	}
	return value
}
