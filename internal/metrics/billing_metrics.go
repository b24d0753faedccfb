package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы обработки webhook события.
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// BillingMetrics интерфейс для метрик сверки подписок
type BillingMetrics interface {
	IncWebhookEvent(eventType, outcome string)
	ObserveWebhookDuration(eventType string, d time.Duration)
	IncNotification(channel, outcome string)
	IncCancellationAction(action string)
	IncPriceChange()
}

type billingMetrics struct {
	webhookEvents       *prometheus.CounterVec
	webhookDuration     *prometheus.HistogramVec
	notifications       *prometheus.CounterVec
	cancellationActions *prometheus.CounterVec
	priceChanges        prometheus.Counter
}

// NewRegistry создает реестр со стандартными Go/process коллекторами.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// NewBillingMetrics регистрирует метрики в переданном реестре.
func NewBillingMetrics(registry prometheus.Registerer) BillingMetrics {
	factory := promauto.With(registry)

	return &billingMetrics{
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhook_events_total",
				Help: "Stripe webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		webhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_webhook_duration_seconds",
				Help:    "Time spent reconciling a webhook event",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_notifications_total",
				Help: "Cache invalidation notifications by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		cancellationActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_cancellation_actions_total",
				Help: "Coach decisions on cancellation requests",
			},
			[]string{"action"},
		),
		priceChanges: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_plan_price_changes_total",
				Help: "Plan updates that replaced the Stripe price",
			},
		),
	}
}

func (m *billingMetrics) IncWebhookEvent(eventType, outcome string) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *billingMetrics) ObserveWebhookDuration(eventType string, d time.Duration) {
	m.webhookDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

func (m *billingMetrics) IncNotification(channel, outcome string) {
	m.notifications.WithLabelValues(channel, outcome).Inc()
}

func (m *billingMetrics) IncCancellationAction(action string) {
	m.cancellationActions.WithLabelValues(action).Inc()
}

func (m *billingMetrics) IncPriceChange() {
	m.priceChanges.Inc()
}

// Nop метрики-заглушка для тестов и запуска без Prometheus.
type Nop struct{}

func (Nop) IncWebhookEvent(string, string)               {}
func (Nop) ObserveWebhookDuration(string, time.Duration) {}
func (Nop) IncNotification(string, string)               {}
func (Nop) IncCancellationAction(string)                 {}
func (Nop) IncPriceChange()                              {}
