package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Live connection metrics
	LiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gotmail_live_connections",
		Help: "Number of live push connections currently registered",
	})
	LiveEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gotmail_live_evictions_total",
		Help: "Total number of stale connections evicted by a newer connection of the same user",
	})
	LiveRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gotmail_live_rejected_total",
		Help: "Total number of live connections rejected at the identity check",
	})
	PushDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gotmail_push_delivered_total",
		Help: "Total number of push events handed to a subscriber queue",
	})
	PushDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gotmail_push_dropped_total",
		Help: "Total number of push events dropped because a subscriber queue was full",
	})

	// Dispatch metrics
	EmailsDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gotmail_emails_dispatched_total",
		Help: "Total number of emails run through the dispatch pipeline",
	})
	NotificationsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gotmail_notifications_created_total",
		Help: "Total number of notifications persisted by dispatch",
	})
	DispatchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gotmail_dispatch_failures_total",
		Help: "Total number of per-member dispatch failures grouped by stage",
	}, []string{"stage"})
	AutoReplies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gotmail_auto_replies_total",
		Help: "Total number of auto-reply emails created",
	})

	// Outbound mail metrics
	MailSendSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gotmail_mail_send_success_total",
		Help: "Total number of outbound mails sent successfully",
	})
	MailSendFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gotmail_mail_send_failure_total",
		Help: "Total number of outbound mails that failed after retries",
	})

	// HTTP metrics
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gotmail_http_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(LiveConnections)
	prometheus.MustRegister(LiveEvictions)
	prometheus.MustRegister(LiveRejected)
	prometheus.MustRegister(PushDelivered)
	prometheus.MustRegister(PushDropped)
	prometheus.MustRegister(EmailsDispatched)
	prometheus.MustRegister(NotificationsCreated)
	prometheus.MustRegister(DispatchFailures)
	prometheus.MustRegister(AutoReplies)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(RateLimited)
}

// MetricsHandler returns the prometheus scrape handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
