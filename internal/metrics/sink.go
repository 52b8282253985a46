package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log warnings and continue.
type Sink interface {
	// Trigger manager metrics
	TriggerRequested(triggerType string)
	TriggerOutcome(status string)
	ExecutionAttempt(attempt int, errorType string)
	LedgerWriteDuration(d time.Duration)

	// Confirmation worker metrics
	ConfirmationOutcome(path string)
	ConfirmationLatency(d time.Duration)
	SubmittedBacklogUpdate(count int)
	FallbackCheck(allowed bool)

	// Audit metrics
	RedriveBacklogUpdate(count int)
	TerminalFailuresUpdate(count int)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Confirmation path constants for ConfirmationOutcome.
const (
	PathIndexer     = "indexer"
	PathOnChain     = "on_chain"
	PathHardTimeout = "hard_timeout"
)
