package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC metrics
	rpcCallsTotal   *prometheus.CounterVec
	rpcCallDuration *prometheus.HistogramVec

	// Broadcast metrics
	broadcastsTotal *prometheus.CounterVec

	// Confirmation metrics
	confirmationsTotal   *prometheus.CounterVec
	confirmationDuration *prometheus.HistogramVec
	statusPollsTotal     *prometheus.CounterVec
	statusPollDuration   *prometheus.HistogramVec
	subscriptionsTotal   *prometheus.CounterVec

	// Submission metrics
	submissionsInFlight prometheus.Gauge
	timeoutsTotal       *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),

		broadcastsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_broadcasts_total",
				Help: "Total number of raw transaction broadcasts by outcome",
			},
			[]string{"outcome"},
		),

		confirmationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_confirmations_total",
				Help: "Total number of confirmation outcomes by result",
			},
			[]string{"result"},
		),
		confirmationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_confirmation_duration_seconds",
				Help:    "Time from first broadcast to terminal confirmation outcome",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"result"},
		),
		statusPollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signature_status_polls_total",
				Help: "Total number of signature status polls by status",
			},
			[]string{"status"},
		),
		statusPollDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signature_status_poll_duration_seconds",
				Help:    "Duration of signature status polls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"status"},
		),
		subscriptionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signature_subscriptions_total",
				Help: "Total number of signature subscription attempts by status",
			},
			[]string{"status"},
		),

		submissionsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "transaction_submissions_in_flight",
				Help: "Number of submissions currently awaiting a terminal outcome",
			},
		),
		timeoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_timeouts_total",
				Help: "Total number of submissions that hit their timeout policy",
			},
			[]string{"policy"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status string, duration float64) {
	m.rpcCallsTotal.WithLabelValues(method, status).Inc()
	m.rpcCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordBroadcast records a raw transaction broadcast attempt.
// Outcome is one of "sent", "duplicate", "error".
func (m *Metrics) RecordBroadcast(outcome string) {
	m.broadcastsTotal.WithLabelValues(outcome).Inc()
}

// Confirmation metric helpers

// RecordConfirmation records a terminal confirmation outcome.
// Result is one of "confirmed", "failed", "timeout", "aborted".
func (m *Metrics) RecordConfirmation(result string, duration float64) {
	m.confirmationsTotal.WithLabelValues(result).Inc()
	m.confirmationDuration.WithLabelValues(result).Observe(duration)
}

// RecordStatusPoll records one signature status poll.
func (m *Metrics) RecordStatusPoll(status string, duration float64) {
	m.statusPollsTotal.WithLabelValues(status).Inc()
	m.statusPollDuration.WithLabelValues(status).Observe(duration)
}

// RecordSubscription records a signature subscription attempt.
func (m *Metrics) RecordSubscription(status string) {
	m.subscriptionsTotal.WithLabelValues(status).Inc()
}

// Submission metric helpers

// RecordSubmissionChange adjusts the in-flight submission gauge.
func (m *Metrics) RecordSubmissionChange(delta float64) {
	m.submissionsInFlight.Add(delta)
}

// RecordTimeout records a submission that hit its timeout policy.
func (m *Metrics) RecordTimeout(policy string) {
	m.timeoutsTotal.WithLabelValues(policy).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}
