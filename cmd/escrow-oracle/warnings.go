package main

import (
	"log"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/config"
)

// logConfigWarnings flags configurations that are valid but risky in
// production. P0 warnings mean operators will miss failures; P1 warnings
// mean reduced visibility.
func logConfigWarnings(cfg *config.Config) {
	if cfg.NotifyWebhookURL == "" {
		log.Println("WARNING [P0]: NOTIFY_WEBHOOK_URL not set. Hard-timeout escalations and " +
			"redrive backlog alerts will only appear in logs. Operators will not be paged " +
			"when a submitted trigger cannot be confirmed.")
	}

	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("WARNING [P0]: CIRCUIT_BREAKER_THRESHOLD=0 disables the ledger circuit " +
			"breaker. Retries will keep hammering a degraded signer instead of failing fast.")
	}

	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false. Submitted backlog, confirmation " +
			"latency and redrive counts will not be exported.")
	}

	if cfg.ApprovalRequired {
		log.Println("INFO: APPROVAL_REQUIRED=true. Every new trigger parks in pending_approval " +
			"until an operator approves it; no ledger write happens automatically.")
	}

	if cfg.MaxAttempts == 1 {
		log.Println("INFO: MAX_ATTEMPTS=1. Transient ledger failures go straight to " +
			"exhausted_needs_redrive with no retry.")
	}
}
