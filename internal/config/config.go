package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the escrow oracle.
// Values are loaded from environment variables; see the serve command's
// usage text for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	LedgerURL   string `json:"ledger_url"`
	IndexerURL  string `json:"indexer_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	NotifyWebhookURL string `json:"notify_webhook_url,omitempty"`
	NotifySecret     string `json:"notify_secret,omitempty"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	// Retry executor
	MaxAttempts         int           `json:"max_attempts"`
	RetryBackoffBase    time.Duration `json:"-"`
	RetryBackoffBaseStr string        `json:"retry_backoff_base"`
	RetryJitterMax      time.Duration `json:"-"`
	RetryJitterMaxStr   string        `json:"retry_jitter_max"`
	ApprovalRequired    bool          `json:"approval_required"`

	// Confirmation worker
	ConfirmPollInterval           time.Duration `json:"-"`
	ConfirmPollIntervalStr        string        `json:"confirm_poll_interval"`
	ConfirmBatchSize              int           `json:"confirm_batch_size"`
	ConfirmSoftTimeout            time.Duration `json:"-"`
	ConfirmSoftTimeoutStr         string        `json:"confirm_soft_timeout"`
	ConfirmFallbackAfter          time.Duration `json:"-"`
	ConfirmFallbackAfterStr       string        `json:"confirm_fallback_after"`
	ConfirmHardTimeout            time.Duration `json:"-"`
	ConfirmHardTimeoutStr         string        `json:"confirm_hard_timeout"`
	ConfirmFallbackMinInterval    time.Duration `json:"-"`
	ConfirmFallbackMinIntervalStr string        `json:"confirm_fallback_min_interval"`
	ConfirmStaleAfter             time.Duration `json:"-"`
	ConfirmStaleAfterStr          string        `json:"confirm_stale_after"`

	// Audit sweep
	AuditSchedule string `json:"audit_schedule"`
	AuditTimezone string `json:"audit_timezone"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// LeaderLockKey: all instances sharing the same database must use the
	// same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		LedgerURL:        os.Getenv("LEDGER_URL"),
		IndexerURL:       os.Getenv("INDEXER_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		HTTPAddr:         os.Getenv("HTTP_ADDR"),
		NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifySecret:     os.Getenv("NOTIFY_SECRET"),
		MetricsEnabled:   os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:      os.Getenv("METRICS_PATH"),
		MetricsPort:      os.Getenv("METRICS_PORT"),
		ApprovalRequired: os.Getenv("APPROVAL_REQUIRED") == "true",
		AuditSchedule:    os.Getenv("AUDIT_SCHEDULE"),
		AuditTimezone:    os.Getenv("AUDIT_TIMEZONE"),
	}

	cfg.MaxAttempts = loadInt("MAX_ATTEMPTS", 3)
	cfg.ConfirmBatchSize = loadInt("CONFIRM_BATCH_SIZE", 50)
	cfg.DBMaxOpenConns = loadInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = loadInt("DB_MAX_IDLE_CONNS", 5)
	cfg.CircuitBreakerThreshold = 5
	if s := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", s)
		}
	}

	cfg.LeaderLockKey = 842917
	if s := os.Getenv("LEADER_LOCK_KEY"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			cfg.LeaderLockKey = n
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 842917", s)
		}
	}

	cfg.DBOpTimeoutStr, cfg.DBOpTimeout = loadDuration("DB_OP_TIMEOUT", "5s")
	cfg.DBConnMaxLifetimeStr, cfg.DBConnMaxLifetime = loadDuration("DB_CONN_MAX_LIFETIME", "30m")
	cfg.HTTPShutdownTimeoutStr, cfg.HTTPShutdownTimeout = loadDuration("HTTP_SHUTDOWN_TIMEOUT", "10s")
	cfg.RetryBackoffBaseStr, cfg.RetryBackoffBase = loadDuration("RETRY_BACKOFF_BASE", "2s")
	cfg.RetryJitterMaxStr, cfg.RetryJitterMax = loadDuration("RETRY_JITTER_MAX", "500ms")
	cfg.ConfirmPollIntervalStr, cfg.ConfirmPollInterval = loadDuration("CONFIRM_POLL_INTERVAL", "10s")
	cfg.ConfirmSoftTimeoutStr, cfg.ConfirmSoftTimeout = loadDuration("CONFIRM_SOFT_TIMEOUT", "5m")
	cfg.ConfirmFallbackAfterStr, cfg.ConfirmFallbackAfter = loadDuration("CONFIRM_FALLBACK_AFTER", "20m")
	cfg.ConfirmHardTimeoutStr, cfg.ConfirmHardTimeout = loadDuration("CONFIRM_HARD_TIMEOUT", "30m")
	cfg.ConfirmFallbackMinIntervalStr, cfg.ConfirmFallbackMinInterval = loadDuration("CONFIRM_FALLBACK_MIN_INTERVAL", "5m")
	cfg.ConfirmStaleAfterStr, cfg.ConfirmStaleAfter = loadDuration("CONFIRM_STALE_AFTER", "30m")
	cfg.CircuitBreakerCooldownStr, cfg.CircuitBreakerCooldown = loadDuration("CIRCUIT_BREAKER_COOLDOWN", "2m")
	cfg.LeaderRetryIntervalStr, cfg.LeaderRetryInterval = loadDuration("LEADER_RETRY_INTERVAL", "5s")
	cfg.LeaderHeartbeatIntervalStr, cfg.LeaderHeartbeatInterval = loadDuration("LEADER_HEARTBEAT_INTERVAL", "2s")

	// Support platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.AuditSchedule == "" {
		cfg.AuditSchedule = "0 6 * * *"
	}
	if cfg.AuditTimezone == "" {
		cfg.AuditTimezone = "UTC"
	}

	return cfg
}

// loadDuration reads an env var, falling back to def. The raw string is
// kept so Validate can report what the operator actually set.
func loadDuration(name, def string) (string, time.Duration) {
	s := os.Getenv(name)
	if s == "" {
		s = def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		// Validation reports the error; the zero value marks it unset.
		return s, 0
	}
	return s, d
}

func loadInt(name string, def int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		log.Printf("config: invalid %s %q (must be a positive integer), using default %d", name, s, def)
		return def
	}
	return n
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.NotifySecret = maskValue(c.NotifySecret)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if
// present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}

func maskValue(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
