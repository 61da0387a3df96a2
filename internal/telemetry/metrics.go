package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	PostsProcessed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "posts_processed_total", Help: "Event posts dequeued and processed"})
	PostsParseErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "posts_parse_errors_total", Help: "Event posts discarded because the body could not be parsed"})
	EventsProcessed  = prometheus.NewCounter(prometheus.CounterOpts{Name: "events_processed_total", Help: "Events that completed the processing pipeline"})
	EventsRetried    = prometheus.NewCounter(prometheus.CounterOpts{Name: "events_retried_total", Help: "Events re-enqueued as single-item units after a pipeline failure"})
	EventsDiscarded  = prometheus.NewCounter(prometheus.CounterOpts{Name: "events_discarded_total", Help: "Events dropped for validation failures or quota"})
	EventsBlocked    = prometheus.NewCounter(prometheus.CounterOpts{Name: "events_blocked_total", Help: "Events truncated by organization quota"})

	NotificationsThrottled = prometheus.NewCounter(prometheus.CounterOpts{Name: "notifications_throttled_total", Help: "Notifications suppressed by the throttle gate"})
	WebhooksDelivered      = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhooks_delivered_total", Help: "Webhook payloads delivered successfully"})
	WebhooksFailed         = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhooks_failed_total", Help: "Webhook delivery attempts that failed"})
	WebhooksDisabled       = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhooks_disabled_total", Help: "Webhook integrations auto-disabled"})

	SessionsClosed = prometheus.NewCounter(prometheus.CounterOpts{Name: "sessions_closed_total", Help: "Session-start events closed by reconciliation"})
	EventsExpired  = prometheus.NewCounter(prometheus.CounterOpts{Name: "events_expired_total", Help: "Events removed by retention cleanup"})

	JobsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobs_skipped_total", Help: "Job cycles skipped because the lock was held elsewhere"}, []string{"job"})
	JobsFailed  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobs_failed_total", Help: "Job cycles that ended in failure"}, []string{"job"})

	QueueDepthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "queue_depth", Help: "Ready queue depth"}, []string{"queue"})
	InFlightGauge   = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "queue_inflight", Help: "Entries currently leased"}, []string{"queue"})
	DeadLettered    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "queue_dead_letter_total", Help: "Entries moved to the dead letter list"}, []string{"queue"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			PostsProcessed,
			PostsParseErrors,
			EventsProcessed,
			EventsRetried,
			EventsDiscarded,
			EventsBlocked,
			NotificationsThrottled,
			WebhooksDelivered,
			WebhooksFailed,
			WebhooksDisabled,
			SessionsClosed,
			EventsExpired,
			JobsSkipped,
			JobsFailed,
			QueueDepthGauge,
			InFlightGauge,
			DeadLettered,
		)
	})
	return promhttp.Handler()
}
