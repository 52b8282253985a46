package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/analytics"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/api"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/audit"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/circuitbreaker"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/config"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/confirm"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/indexer"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/leaderelection"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/ledger"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/metrics"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/notify"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/schedule"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/store/postgres"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/trigger"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`escrow-oracle - off-chain trigger orchestrator for the escrow ledger

Usage:
  escrow-oracle <command>

Commands:
  serve      Start the trigger API, confirmation worker and audit sweep
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  LEDGER_URL                Ledger signer base URL (required)
  INDEXER_URL               Event indexer base URL (required)
  REDIS_ADDR                Redis address for trigger analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  MAX_ATTEMPTS              Ledger write attempts per request (default: "3")
  RETRY_BACKOFF_BASE        First retry delay, doubled per attempt (default: "2s")
  RETRY_JITTER_MAX          Max random jitter added to each delay (default: "500ms")
  APPROVAL_REQUIRED         Gate triggers behind manual approval (default: "false")

  CONFIRM_POLL_INTERVAL     Submitted-trigger poll interval (default: "10s")
  CONFIRM_BATCH_SIZE        Max submitted triggers per cycle (default: "50")
  CONFIRM_SOFT_TIMEOUT      Age before a lag warning is logged (default: "5m")
  CONFIRM_FALLBACK_AFTER    Age before direct on-chain checks start (default: "20m")
  CONFIRM_HARD_TIMEOUT      Age before escalation to operators (default: "30m")
  CONFIRM_FALLBACK_MIN_INTERVAL  Min gap between on-chain checks per trade (default: "5m")
  CONFIRM_STALE_AFTER       Age before crash-stranded triggers are escalated ("0" disables, default: "30m")

  AUDIT_SCHEDULE            Backlog audit cron expression (default: "0 6 * * *")
  AUDIT_TIMEZONE            Timezone for the audit schedule (default: "UTC")

  CIRCUIT_BREAKER_THRESHOLD Consecutive ledger failures before opening ("0" disables, default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Open-state cooldown before a probe (default: "2m")

  LEADER_LOCK_KEY           Advisory lock key shared by all instances (default: "842917")
  LEADER_RETRY_INTERVAL     Lock acquisition retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Held-lock liveness check interval (default: "2s")

  NOTIFY_WEBHOOK_URL        Operator notification webhook (optional)
  NOTIFY_SECRET             HMAC secret for webhook signatures`)
}

func runServe() int {
	cfg := config.Load()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	log.Printf("escrow-oracle: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("escrow-oracle: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("escrow-oracle: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("escrow-oracle: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("escrow-oracle: METRICS_ENABLED not set; metrics disabled")
	}

	// Ledger client, optionally guarded by a circuit breaker
	ledgerClient := ledger.NewClient(cfg.LedgerURL)
	if cfg.CircuitBreakerThreshold > 0 {
		cb := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
		ledgerClient = ledgerClient.WithCircuitBreaker(cb)
		log.Printf("escrow-oracle: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	} else {
		log.Println("escrow-oracle: CIRCUIT_BREAKER_THRESHOLD is 0; circuit breaker disabled")
	}

	indexerClient := indexer.NewClient(cfg.IndexerURL)

	// Operator notifications (optional)
	var notifier *notify.WebhookNotifier
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifySecret)
		log.Printf("escrow-oracle: notifications enabled (webhook=%s)", cfg.NotifyWebhookURL)
	} else {
		log.Println("escrow-oracle: NOTIFY_WEBHOOK_URL not set; notifications disabled")
	}

	manager := trigger.NewManager(
		trigger.Config{
			MaxAttempts:      cfg.MaxAttempts,
			BackoffBase:      cfg.RetryBackoffBase,
			JitterMax:        cfg.RetryJitterMax,
			ApprovalRequired: cfg.ApprovalRequired,
		},
		store,
		ledgerClient,
	)
	if metricsSink != nil {
		manager = manager.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient)
		manager = manager.WithAnalytics(sink)
		log.Printf("escrow-oracle: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("escrow-oracle: REDIS_ADDR not set; analytics disabled")
	}

	if cfg.ApprovalRequired {
		log.Println("escrow-oracle: approval mode enabled; new triggers require operator approval")
	}

	auditSchedule, err := schedule.Parse(cfg.AuditSchedule, cfg.AuditTimezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid audit schedule: %v\n", err)
		return exitInvalidConfig
	}

	// Leader duties: the confirmation worker and audit sweeper run only on
	// the instance holding the advisory lock. The API serves on every
	// instance.
	var leaderWg sync.WaitGroup
	elector := leaderelection.New(
		db,
		leaderelection.Config{
			LockKey:           cfg.LeaderLockKey,
			RetryInterval:     cfg.LeaderRetryInterval,
			HeartbeatInterval: cfg.LeaderHeartbeatInterval,
		},
		func(leaderCtx context.Context) {
			worker := confirm.New(
				confirm.Config{
					PollInterval:        cfg.ConfirmPollInterval,
					BatchSize:           cfg.ConfirmBatchSize,
					SoftTimeout:         cfg.ConfirmSoftTimeout,
					FallbackAfter:       cfg.ConfirmFallbackAfter,
					HardTimeout:         cfg.ConfirmHardTimeout,
					FallbackMinInterval: cfg.ConfirmFallbackMinInterval,
					StaleAfter:          cfg.ConfirmStaleAfter,
				},
				store,
				ledgerClient,
				indexerClient,
			)
			sweeper := audit.New(auditSchedule, store)
			if notifier != nil {
				worker = worker.WithNotifier(notifier)
				sweeper = sweeper.WithNotifier(notifier)
			}
			if metricsSink != nil {
				worker = worker.WithMetrics(metricsSink)
				sweeper = sweeper.WithMetrics(metricsSink)
			}

			leaderWg.Add(2)
			go func() {
				defer leaderWg.Done()
				worker.Run(leaderCtx)
			}()
			go func() {
				defer leaderWg.Done()
				sweeper.Run(leaderCtx)
			}()
		},
		func() {
			leaderWg.Wait()
		},
	)
	if metricsSink != nil {
		elector = elector.WithMetrics(metricsSink)
	}

	electorCtx, cancelElector := context.WithCancel(context.Background())
	var electorWg sync.WaitGroup
	electorWg.Add(1)
	go func() {
		defer electorWg.Done()
		elector.Run(electorCtx)
	}()

	// API handler reuses the same store instance
	apiHandler := api.NewHandler(manager, store).WithHealthChecker(db)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("escrow-oracle: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("escrow-oracle: http server error: %v", err)
		}
	}()

	log.Printf("escrow-oracle: started (http=%s, max_attempts=%d, confirm_poll=%s)",
		cfg.HTTPAddr, cfg.MaxAttempts, cfg.ConfirmPollInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("escrow-oracle: received signal %v, shutting down", received)

	// Phase 1: Stop accepting new triggers
	log.Println("escrow-oracle: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("escrow-oracle: http server shutdown error: %v", err)
	}
	log.Println("escrow-oracle: http server stopped")

	// Phase 2: Release leadership and stop the confirmation worker and
	// audit sweeper. In-flight triggers are already recorded; the next
	// leader's reconciliation picks them up.
	log.Println("escrow-oracle: stopping leader duties...")
	cancelElector()
	electorWg.Wait()
	leaderWg.Wait()
	log.Println("escrow-oracle: leader duties stopped")

	// Phase 3: Stop metrics server if running
	if metricsServer != nil {
		log.Println("escrow-oracle: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("escrow-oracle: metrics server shutdown error: %v", err)
		}
		log.Println("escrow-oracle: metrics server stopped")
	}

	log.Println("escrow-oracle: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("escrow-oracle version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
