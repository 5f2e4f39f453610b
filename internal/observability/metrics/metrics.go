package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the operational counters for the webhook and outbox paths.
type Metrics struct {
	WebhookReceived  *prometheus.CounterVec
	OrderTransitions *prometheus.CounterVec
	OutboxEnqueued   prometheus.Counter
	OutboxDelivered  prometheus.Counter
	OutboxRetried    prometheus.Counter
	OutboxDead       prometheus.Counter
	IncidentsFlagged *prometheus.CounterVec

	httpDuration *prometheus.HistogramVec
}

// Webhook outcome labels.
const (
	WebhookOutcomeApplied          = "applied"
	WebhookOutcomeDuplicate        = "duplicate"
	WebhookOutcomeInvalidSignature = "invalid_signature"
	WebhookOutcomeMalformed        = "malformed"
	WebhookOutcomeUnknownInvoice   = "unknown_invoice"
	WebhookOutcomeConflict         = "conflict"
	WebhookOutcomeError            = "error"
)

func New() *Metrics {
	return &Metrics{
		WebhookReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitvend",
			Name:      "webhook_received_total",
			Help:      "Gateway webhook deliveries by outcome.",
		}, []string{"outcome"}),
		OrderTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitvend",
			Name:      "order_transitions_total",
			Help:      "Order state transitions by target state.",
		}, []string{"state"}),
		OutboxEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "bitvend",
			Name:      "outbox_enqueued_total",
			Help:      "Outbox entries written.",
		}),
		OutboxDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "bitvend",
			Name:      "outbox_delivered_total",
			Help:      "Outbox entries acknowledged after delivery.",
		}),
		OutboxRetried: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "bitvend",
			Name:      "outbox_retried_total",
			Help:      "Outbox delivery attempts rescheduled.",
		}),
		OutboxDead: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "bitvend",
			Name:      "outbox_dead_total",
			Help:      "Outbox entries parked for manual intervention.",
		}),
		IncidentsFlagged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitvend",
			Name:      "incidents_flagged_total",
			Help:      "Payloads flagged for manual review by reason.",
		}, []string{"reason"}),
		httpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bitvend",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

// GinMiddleware records request latency per route.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpDuration.WithLabelValues(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}
