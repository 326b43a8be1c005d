package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeProcessed = "processed"
	outcomeFailed    = "failed"
	outcomeReplay    = "replay"
)

// WebhookMetrics tracks inbound payment-processor events by type and outcome.
type WebhookMetrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Inbound webhook events by type and outcome.",
	}, []string{"event_type", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "webhook_handle_duration_seconds",
		Help:      "Time spent handling a webhook event.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})
	reg.MustRegister(events, duration)
	return &WebhookMetrics{events: events, duration: duration}
}

// IncProcessed counts an event handled to completion.
func (w *WebhookMetrics) IncProcessed(eventType string) {
	w.inc(eventType, outcomeProcessed)
}

// IncFailed counts an event whose handler returned an error.
func (w *WebhookMetrics) IncFailed(eventType string) {
	w.inc(eventType, outcomeFailed)
}

// IncReplay counts a redelivery short-circuited by the replay guard.
func (w *WebhookMetrics) IncReplay(eventType string) {
	w.inc(eventType, outcomeReplay)
}

// ObserveDuration records how long an event took to handle.
func (w *WebhookMetrics) ObserveDuration(eventType string, duration time.Duration) {
	if w == nil || w.duration == nil {
		return
	}
	w.duration.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
}

func (w *WebhookMetrics) inc(eventType, outcome string) {
	if w == nil || w.events == nil {
		return
	}
	w.events.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}
