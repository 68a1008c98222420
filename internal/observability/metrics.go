package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Scheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_scheduled_total", Help: "Messages scheduled per channel"},
		[]string{"channel"},
	)
	Blocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_blocked_total", Help: "Sends blocked per gate"},
		[]string{"gate"},
	)
	Enqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_enqueue_total", Help: "Dispatch enqueue results"},
		[]string{"result"},
	)
	ProviderSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_provider_send_total", Help: "Provider send outcomes"},
		[]string{"channel", "result", "http_status"},
	)
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "outreach_provider_send_latency_seconds", Help: "Provider send latency"},
		[]string{"channel"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_webhook_events_total", Help: "Delivery webhook events"},
		[]string{"provider", "status"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Scheduled, Blocked, Enqueues, ProviderSend, ProviderLatency, WebhookEvents)
}
