package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError describes a single invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates all configuration problems so operators
// see the full list in one pass instead of fixing them one at a time.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "invalid configuration:\n  - " + strings.Join(msgs, "\n  - ")
}

// Validate checks the configuration and returns all problems found.
func (c Config) Validate() error {
	var errs ValidationErrors

	if c.DatabaseURL == "" {
		errs = append(errs, ValidationError{"DATABASE_URL", "required"})
	} else if !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		errs = append(errs, ValidationError{"DATABASE_URL", "must be a postgres:// or postgresql:// URL"})
	}

	errs = append(errs, validateBaseURL("LEDGER_URL", c.LedgerURL)...)
	errs = append(errs, validateBaseURL("INDEXER_URL", c.IndexerURL)...)

	if c.NotifyWebhookURL != "" {
		if u, err := url.Parse(c.NotifyWebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{"NOTIFY_WEBHOOK_URL", "must be an absolute URL"})
		}
		if c.NotifySecret == "" {
			errs = append(errs, ValidationError{"NOTIFY_SECRET", "required when NOTIFY_WEBHOOK_URL is set"})
		}
	}

	for _, d := range []struct {
		field string
		raw   string
		val   time.Duration
	}{
		{"DB_OP_TIMEOUT", c.DBOpTimeoutStr, c.DBOpTimeout},
		{"DB_CONN_MAX_LIFETIME", c.DBConnMaxLifetimeStr, c.DBConnMaxLifetime},
		{"HTTP_SHUTDOWN_TIMEOUT", c.HTTPShutdownTimeoutStr, c.HTTPShutdownTimeout},
		{"RETRY_BACKOFF_BASE", c.RetryBackoffBaseStr, c.RetryBackoffBase},
		{"CONFIRM_POLL_INTERVAL", c.ConfirmPollIntervalStr, c.ConfirmPollInterval},
		{"CONFIRM_SOFT_TIMEOUT", c.ConfirmSoftTimeoutStr, c.ConfirmSoftTimeout},
		{"CONFIRM_FALLBACK_AFTER", c.ConfirmFallbackAfterStr, c.ConfirmFallbackAfter},
		{"CONFIRM_HARD_TIMEOUT", c.ConfirmHardTimeoutStr, c.ConfirmHardTimeout},
		{"CONFIRM_FALLBACK_MIN_INTERVAL", c.ConfirmFallbackMinIntervalStr, c.ConfirmFallbackMinInterval},
		{"LEADER_RETRY_INTERVAL", c.LeaderRetryIntervalStr, c.LeaderRetryInterval},
		{"LEADER_HEARTBEAT_INTERVAL", c.LeaderHeartbeatIntervalStr, c.LeaderHeartbeatInterval},
	} {
		if d.val <= 0 {
			errs = append(errs, ValidationError{d.field, fmt.Sprintf("invalid duration %q", d.raw)})
		}
	}

	// Jitter may legitimately be zero but never negative or unparseable.
	if c.RetryJitterMax < 0 || (c.RetryJitterMax == 0 && c.RetryJitterMaxStr != "0" && c.RetryJitterMaxStr != "0s" && c.RetryJitterMaxStr != "0ms") {
		errs = append(errs, ValidationError{"RETRY_JITTER_MAX", fmt.Sprintf("invalid duration %q", c.RetryJitterMaxStr)})
	}
	// StaleAfter of zero disables stranded-row recovery.
	if c.ConfirmStaleAfter < 0 || (c.ConfirmStaleAfter == 0 && c.ConfirmStaleAfterStr != "0" && c.ConfirmStaleAfterStr != "0s" && c.ConfirmStaleAfterStr != "0m") {
		errs = append(errs, ValidationError{"CONFIRM_STALE_AFTER", fmt.Sprintf("invalid duration %q", c.ConfirmStaleAfterStr)})
	}
	if c.CircuitBreakerThreshold > 0 && c.CircuitBreakerCooldown <= 0 {
		errs = append(errs, ValidationError{"CIRCUIT_BREAKER_COOLDOWN", fmt.Sprintf("invalid duration %q", c.CircuitBreakerCooldownStr)})
	}

	if c.ConfirmSoftTimeout > 0 && c.ConfirmFallbackAfter > 0 && c.ConfirmSoftTimeout >= c.ConfirmFallbackAfter {
		errs = append(errs, ValidationError{"CONFIRM_SOFT_TIMEOUT", "must be less than CONFIRM_FALLBACK_AFTER"})
	}
	if c.ConfirmFallbackAfter > 0 && c.ConfirmHardTimeout > 0 && c.ConfirmFallbackAfter >= c.ConfirmHardTimeout {
		errs = append(errs, ValidationError{"CONFIRM_FALLBACK_AFTER", "must be less than CONFIRM_HARD_TIMEOUT"})
	}

	if c.MaxAttempts < 1 {
		errs = append(errs, ValidationError{"MAX_ATTEMPTS", "must be at least 1"})
	}
	if c.DBMaxIdleConns > c.DBMaxOpenConns {
		errs = append(errs, ValidationError{"DB_MAX_IDLE_CONNS", "must not exceed DB_MAX_OPEN_CONNS"})
	}

	if c.AuditTimezone != "" {
		if _, err := time.LoadLocation(c.AuditTimezone); err != nil {
			errs = append(errs, ValidationError{"AUDIT_TIMEZONE", fmt.Sprintf("unknown timezone %q", c.AuditTimezone)})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateBaseURL(field, value string) ValidationErrors {
	if value == "" {
		return ValidationErrors{{field, "required"}}
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ValidationErrors{{field, "must be an absolute URL"}}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ValidationErrors{{field, "scheme must be http or https"}}
	}
	return nil
}
