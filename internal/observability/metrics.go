package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the counters and histograms the service exposes.
//
// All record methods are safe on a nil receiver so components can run
// without metrics in tests.
type Metrics struct {
	// RequestsSubmitted counts submissions by result.
	// Labels: result (created|resubmitted|duplicate_requester|duplicate_target|invalid_username|error)
	RequestsSubmitted *prometheus.CounterVec

	// DecisionsProcessed counts moderator decisions by outcome and result.
	// Labels: outcome (approved|rejected), result (applied|already_processed|remote_failure|error)
	DecisionsProcessed *prometheus.CounterVec

	// RemoteCommands counts allow-list console commands by command and status.
	// Labels: command (add|remove|list|parent_set), status (success|in_progress|rejected|ambiguous|unavailable)
	RemoteCommands *prometheus.CounterVec

	// RemotePollDuration measures how long an add spent polling for
	// presence, in seconds. Buckets cover the 30s poll budget.
	RemotePollDuration prometheus.Histogram

	// IndexRebuildUnmatched is the number of pending requests left
	// without a routing message after the last index rebuild.
	IndexRebuildUnmatched prometheus.Gauge
}

// NewMetrics creates and registers the metric set with the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_requests_submitted_total",
			Help: "Whitelist request submissions by result.",
		}, []string{"result"}),
		DecisionsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_decisions_processed_total",
			Help: "Moderator decisions by outcome and result.",
		}, []string{"outcome", "result"}),
		RemoteCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_remote_commands_total",
			Help: "Allow-list console commands by command and status.",
		}, []string{"command", "status"}),
		RemotePollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_remote_poll_duration_seconds",
			Help:    "Time spent polling the allow-list for presence after an add.",
			Buckets: []float64{1, 5, 10, 15, 20, 30, 45, 60},
		}),
		IndexRebuildUnmatched: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_index_rebuild_unmatched",
			Help: "Pending requests without a routing message after the last rebuild.",
		}),
	}
}

// RecordSubmission records a submission result.
func (m *Metrics) RecordSubmission(result string) {
	if m == nil {
		return
	}
	m.RequestsSubmitted.WithLabelValues(result).Inc()
}

// RecordDecision records a decision outcome and how it was applied.
func (m *Metrics) RecordDecision(outcome, result string) {
	if m == nil {
		return
	}
	m.DecisionsProcessed.WithLabelValues(outcome, result).Inc()
}

// RecordRemoteCommand records one console command and its classified status.
func (m *Metrics) RecordRemoteCommand(command, status string) {
	if m == nil {
		return
	}
	m.RemoteCommands.WithLabelValues(command, status).Inc()
}

// RecordPollDuration records how long an add spent waiting on presence.
func (m *Metrics) RecordPollDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RemotePollDuration.Observe(d.Seconds())
}

// RecordRebuildUnmatched records the unmatched count from an index rebuild.
func (m *Metrics) RecordRebuildUnmatched(n int) {
	if m == nil {
		return
	}
	m.IndexRebuildUnmatched.Set(float64(n))
}
