package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vprtutor"

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions   prometheus.Gauge
	sessionEvictions prometheus.Counter

	completionTotal    *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec
	completionRetries  *prometheus.CounterVec

	repliesTotal *prometheus.CounterVec

	telegramReceived *prometheus.CounterVec
	telegramSent     prometheus.Counter
	telegramErrors   *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "queue_pending",
					Help:      "Tasks queued or running, by queue.",
				},
				[]string{"queue"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "queue_enqueue_total",
					Help:      "Total enqueue operations by queue.",
				},
				[]string{"queue"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "queue_dequeue_total",
					Help:      "Total completed tasks by queue and status.",
				},
				[]string{"queue", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "queue_task_duration_seconds",
					Help:      "Task execution duration in seconds by queue.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"queue"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_sessions",
					Help:      "Sessions currently held in memory.",
				},
			),
			sessionEvictions: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_evictions_total",
					Help:      "Sessions evicted for idleness.",
				},
			),
			completionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "completion_total",
					Help:      "Completion calls by provider and outcome (success or failure kind).",
				},
				[]string{"provider", "outcome"},
			),
			completionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "completion_duration_seconds",
					Help:      "Completion duration in seconds including retries, by provider.",
					Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
				},
				[]string{"provider"},
			),
			completionRetries: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "completion_retries_total",
					Help:      "Completion retries by provider and failure kind.",
				},
				[]string{"provider", "kind"},
			),
			repliesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "replies_total",
					Help:      "Replies sent to students by kind.",
				},
				[]string{"kind"},
			),
			telegramReceived: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "telegram_updates_received_total",
					Help:      "Inbound Telegram updates by kind.",
				},
				[]string{"kind"},
			),
			telegramSent: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "telegram_messages_sent_total",
					Help:      "Outbound Telegram messages.",
				},
			),
			telegramErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "telegram_errors_total",
					Help:      "Telegram API errors by operation.",
				},
				[]string{"op"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeSessions,
			m.sessionEvictions,
			m.completionTotal,
			m.completionDuration,
			m.completionRetries,
			m.repliesTotal,
			m.telegramReceived,
			m.telegramSent,
			m.telegramErrors,
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

func RecordQueueEnqueue(queue string, pending int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(queue).Inc()
	m.queueSize.WithLabelValues(queue).Set(float64(pending))
}

func SetQueueSize(queue string, pending int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(queue).Set(float64(pending))
}

func RecordQueueCompletion(queue string, duration time.Duration, success bool, pending int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(queue, status).Inc()
	m.taskDuration.WithLabelValues(queue).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(queue).Set(float64(pending))
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordSessionEvictions(count int) {
	if count <= 0 {
		return
	}
	m := getMetrics()
	m.sessionEvictions.Add(float64(count))
}

// RecordCompletion records one Complete call; outcome is "success" or a failure kind.
func RecordCompletion(provider, outcome string, duration time.Duration) {
	m := getMetrics()
	m.completionTotal.WithLabelValues(provider, outcome).Inc()
	m.completionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordCompletionRetry(provider, kind string) {
	m := getMetrics()
	m.completionRetries.WithLabelValues(provider, kind).Inc()
}

func RecordReply(kind string) {
	m := getMetrics()
	m.repliesTotal.WithLabelValues(kind).Inc()
}

func RecordTelegramReceived(kind string) {
	m := getMetrics()
	m.telegramReceived.WithLabelValues(kind).Inc()
}

func RecordTelegramSent() {
	m := getMetrics()
	m.telegramSent.Inc()
}

func RecordTelegramError(op string) {
	m := getMetrics()
	m.telegramErrors.WithLabelValues(op).Inc()
}
