package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Trigger manager metrics
	triggersRequestedTotal *prometheus.CounterVec
	triggerOutcomesTotal   *prometheus.CounterVec
	executionAttemptsTotal *prometheus.CounterVec
	ledgerWriteDuration    prometheus.Histogram

	// Confirmation worker metrics
	confirmationsTotal  *prometheus.CounterVec
	confirmationLatency prometheus.Histogram
	submittedBacklog    prometheus.Gauge
	fallbackChecksTotal *prometheus.CounterVec

	// Audit metrics
	redriveBacklog   prometheus.Gauge
	terminalFailures prometheus.Gauge

	// Leader election metrics
	leaderStatus        prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initManagerMetrics(reg)
	s.initConfirmMetrics(reg)
	s.initAuditMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initManagerMetrics(reg prometheus.Registerer) {
	s.triggersRequestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_triggers_requested_total",
		Help: "Total number of trigger execution requests by trigger type.",
	}, []string{"trigger_type"})

	s.triggerOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_trigger_outcomes_total",
		Help: "Total number of trigger outcomes by final status.",
	}, []string{"status"})

	s.executionAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_execution_attempts_total",
		Help: "Total number of ledger write attempts; error_type is empty on success.",
	}, []string{"attempt", "error_type"})

	s.ledgerWriteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "oracle_ledger_write_duration_seconds",
		Help:    "Ledger write latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.register(reg, s.triggersRequestedTotal, "oracle_triggers_requested_total")
	s.register(reg, s.triggerOutcomesTotal, "oracle_trigger_outcomes_total")
	s.register(reg, s.executionAttemptsTotal, "oracle_execution_attempts_total")
	s.register(reg, s.ledgerWriteDuration, "oracle_ledger_write_duration_seconds")
}

func (s *PrometheusSink) initConfirmMetrics(reg prometheus.Registerer) {
	s.confirmationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_confirmations_total",
		Help: "Total number of confirmation resolutions by path.",
	}, []string{"path"})

	s.confirmationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "oracle_confirmation_latency_seconds",
		Help:    "Time from submission to confirmation in seconds.",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
	})

	s.submittedBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "oracle_submitted_backlog",
		Help: "Number of submitted triggers awaiting confirmation.",
	})

	s.fallbackChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_fallback_checks_total",
		Help: "On-chain fallback check decisions by rate-limit outcome.",
	}, []string{"allowed"})

	s.register(reg, s.confirmationsTotal, "oracle_confirmations_total")
	s.register(reg, s.confirmationLatency, "oracle_confirmation_latency_seconds")
	s.register(reg, s.submittedBacklog, "oracle_submitted_backlog")
	s.register(reg, s.fallbackChecksTotal, "oracle_fallback_checks_total")
}

func (s *PrometheusSink) initAuditMetrics(reg prometheus.Registerer) {
	s.redriveBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "oracle_redrive_backlog",
		Help: "Number of triggers in exhausted_needs_redrive.",
	})
	s.terminalFailures = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "oracle_terminal_failures",
		Help: "Number of triggers in terminal_failure.",
	})

	s.register(reg, s.redriveBacklog, "oracle_redrive_backlog")
	s.register(reg, s.terminalFailures, "oracle_terminal_failures")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "oracle_leader_status",
		Help: "1 when this instance is the leader, 0 otherwise.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oracle_leader_acquired_total",
		Help: "Total number of times this instance acquired leadership.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_leader_lost_total",
		Help: "Total number of times this instance lost leadership, by reason.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "oracle_leader_status")
	s.register(reg, s.leaderAcquiredTotal, "oracle_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "oracle_leader_lost_total")
}

// register attempts to register a collector, logging any errors without
// propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Trigger manager metrics implementation

func (s *PrometheusSink) TriggerRequested(triggerType string) {
	s.triggersRequestedTotal.WithLabelValues(triggerType).Inc()
}

func (s *PrometheusSink) TriggerOutcome(status string) {
	s.triggerOutcomesTotal.WithLabelValues(status).Inc()
}

func (s *PrometheusSink) ExecutionAttempt(attempt int, errorType string) {
	s.executionAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), errorType).Inc()
}

func (s *PrometheusSink) LedgerWriteDuration(d time.Duration) {
	s.ledgerWriteDuration.Observe(d.Seconds())
}

// Confirmation worker metrics implementation

func (s *PrometheusSink) ConfirmationOutcome(path string) {
	s.confirmationsTotal.WithLabelValues(path).Inc()
}

func (s *PrometheusSink) ConfirmationLatency(d time.Duration) {
	s.confirmationLatency.Observe(d.Seconds())
}

func (s *PrometheusSink) SubmittedBacklogUpdate(count int) {
	s.submittedBacklog.Set(float64(count))
}

func (s *PrometheusSink) FallbackCheck(allowed bool) {
	label := "false"
	if allowed {
		label = "true"
	}
	s.fallbackChecksTotal.WithLabelValues(label).Inc()
}

// Audit metrics implementation

func (s *PrometheusSink) RedriveBacklogUpdate(count int) {
	s.redriveBacklog.Set(float64(count))
}

func (s *PrometheusSink) TerminalFailuresUpdate(count int) {
	s.terminalFailures.Set(float64(count))
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
