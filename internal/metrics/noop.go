package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TriggerRequested(triggerType string)            {}
func (n *NoopSink) TriggerOutcome(status string)                   {}
func (n *NoopSink) ExecutionAttempt(attempt int, errorType string) {}
func (n *NoopSink) LedgerWriteDuration(d time.Duration)            {}
func (n *NoopSink) ConfirmationOutcome(path string)                {}
func (n *NoopSink) ConfirmationLatency(d time.Duration)            {}
func (n *NoopSink) SubmittedBacklogUpdate(count int)               {}
func (n *NoopSink) FallbackCheck(allowed bool)                     {}
func (n *NoopSink) RedriveBacklogUpdate(count int)                 {}
func (n *NoopSink) TerminalFailuresUpdate(count int)               {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)              {}
func (n *NoopSink) LeaderAcquired()                                {}
func (n *NoopSink) LeaderLost(reason string)                       {}
