package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wabridge"

type moduleMetrics struct {
	activeSessions prometheus.Gauge
	sessionsState  *prometheus.CounterVec

	eventsRelayed       *prometheus.CounterVec
	subscriberDelivered *prometheus.CounterVec

	webhookDispatchTotal    *prometheus.CounterVec
	webhookDispatchDuration prometheus.Histogram

	commandTotal    *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	reconnectTotal *prometheus.CounterVec

	gatewayClients prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_sessions",
					Help:      "Current number of registered sessions.",
				},
			),
			sessionsState: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_transitions_total",
					Help:      "Session state transitions by target state.",
				},
				[]string{"state"},
			),
			eventsRelayed: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "events_relayed_total",
					Help:      "Normalized backend events relayed by kind.",
				},
				[]string{"kind"},
			),
			subscriberDelivered: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "subscriber_deliveries_total",
					Help:      "Subscriber push attempts by status (success, error, unbound).",
				},
				[]string{"status"},
			),
			webhookDispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "webhook_dispatch_total",
					Help:      "Outbound webhook POSTs by status.",
				},
				[]string{"status"},
			),
			webhookDispatchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "webhook_dispatch_duration_seconds",
					Help:      "Outbound webhook POST duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			commandTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "command_total",
					Help:      "Commands handled by name and status.",
				},
				[]string{"command", "status"},
			),
			commandDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "command_duration_seconds",
					Help:      "Command duration in seconds by name.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"command"},
			),
			reconnectTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "reconnect_total",
					Help:      "Reconnection attempts by plan and status.",
				},
				[]string{"plan", "status"},
			),
			gatewayClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "gateway_clients",
					Help:      "Currently connected websocket subscribers.",
				},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionsState,
			m.eventsRelayed,
			m.subscriberDelivered,
			m.webhookDispatchTotal,
			m.webhookDispatchDuration,
			m.commandTotal,
			m.commandDuration,
			m.reconnectTotal,
			m.gatewayClients,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordStateTransition(state string) {
	getMetrics().sessionsState.WithLabelValues(state).Inc()
}

func RecordEventRelayed(kind string) {
	getMetrics().eventsRelayed.WithLabelValues(kind).Inc()
}

// RecordSubscriberDelivery takes "success", "error" or "unbound".
func RecordSubscriberDelivery(outcome string) {
	getMetrics().subscriberDelivered.WithLabelValues(outcome).Inc()
}

func RecordWebhookDispatch(duration time.Duration, success bool) {
	m := getMetrics()
	m.webhookDispatchTotal.WithLabelValues(status(success)).Inc()
	m.webhookDispatchDuration.Observe(duration.Seconds())
}

func RecordCommand(command string, duration time.Duration, success bool) {
	m := getMetrics()
	m.commandTotal.WithLabelValues(command, status(success)).Inc()
	m.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func RecordReconnect(plan string, success bool) {
	getMetrics().reconnectTotal.WithLabelValues(plan, status(success)).Inc()
}

func SetGatewayClients(count int) {
	getMetrics().gatewayClients.Set(float64(count))
}
