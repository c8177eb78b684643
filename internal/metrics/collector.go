package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/squadflow/types"
)

// Collector records engine metrics. Collectors register with the default
// Prometheus registry; create at most one per process.
type Collector struct {
	conversationsInitiated prometheus.Counter
	stateTransitions       *prometheus.CounterVec
	resolutions            *prometheus.CounterVec
	resolutionDuration     prometheus.Histogram

	escalations    *prometheus.CounterVec
	followUpsSent  prometheus.Counter
	cantHelpTotal  *prometheus.CounterVec

	sweepRuns     *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepScanned  prometheus.Counter
	sweepErrors   prometheus.Counter

	messagesSent *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates and registers a metrics collector.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.conversationsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversations_initiated_total",
		Help:      "Total number of conversations initiated",
	})

	c.stateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of conversation state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Total number of conversations reaching a terminal state",
		},
		[]string{"state"},
	)

	c.resolutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "resolution_duration_seconds",
		Help:      "Time from initiation to terminal state",
		Buckets:   []float64{60, 300, 600, 1800, 3600, 7200, 21600, 86400},
	})

	c.escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Total number of escalations",
		},
		[]string{"reason"},
	)

	c.followUpsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "follow_ups_sent_total",
		Help:      "Total number of follow-up reminders sent",
	})

	c.cantHelpTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cant_help_total",
			Help:      "Total number of cant-help declarations",
		},
		[]string{"outcome"},
	)

	c.sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Total number of sweeper runs",
		},
		[]string{"status"},
	)

	c.sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Sweeper run duration in seconds",
		Buckets:   prometheus.DefBuckets,
	})

	c.sweepScanned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_conversations_scanned_total",
		Help:      "Total number of overdue conversations scanned",
	})

	c.sweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_errors_total",
		Help:      "Total number of per-conversation sweep failures",
	})

	c.messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of outbound messages",
		},
		[]string{"type"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordInitiation records one conversation initiation.
func (c *Collector) RecordInitiation() {
	c.conversationsInitiated.Inc()
}

// RecordTransition records one state transition.
func (c *Collector) RecordTransition(from, to types.ConversationState) {
	c.stateTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordResolution records a conversation reaching a terminal state along
// with its lifetime.
func (c *Collector) RecordResolution(state types.ConversationState, lifetime time.Duration) {
	c.resolutions.WithLabelValues(string(state)).Inc()
	c.resolutionDuration.Observe(lifetime.Seconds())
}

// RecordEscalation records one escalation by reason.
func (c *Collector) RecordEscalation(reason string) {
	c.escalations.WithLabelValues(reason).Inc()
}

// RecordFollowUp records one follow-up reminder.
func (c *Collector) RecordFollowUp() {
	c.followUpsSent.Inc()
}

// RecordCantHelp records one cant-help declaration by outcome.
func (c *Collector) RecordCantHelp(outcome string) {
	c.cantHelpTotal.WithLabelValues(outcome).Inc()
}

// RecordSweep records one sweeper run.
func (c *Collector) RecordSweep(status string, duration time.Duration, scanned, errors int) {
	c.sweepRuns.WithLabelValues(status).Inc()
	c.sweepDuration.Observe(duration.Seconds())
	c.sweepScanned.Add(float64(scanned))
	c.sweepErrors.Add(float64(errors))
}

// RecordMessage records one outbound message by type.
func (c *Collector) RecordMessage(messageType string) {
	c.messagesSent.WithLabelValues(messageType).Inc()
}
