// Package leaderelection elects exactly one oracle instance to run the
// background duties (confirmation worker, audit sweeper) using a Postgres
// session advisory lock. Every instance keeps serving the API; only the
// lock holder polls the indexer and ledger, so a fleet does not multiply
// load on either. Duplicate confirmation attempts would be harmless anyway
// because the store's guarded transitions reject stale updates, but they
// would be wasted work.
//
// The lock lives for the lifetime of one dedicated database connection.
// There is no renewal and no TTL: if the connection dies, Postgres drops
// the lock server-side and another instance wins the next campaign. The
// heartbeat ping only detects local connection death so a demoted leader
// stops its duties promptly.
package leaderelection

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// demotionReason explains why a leadership term ended.
type demotionReason string

const (
	reasonNone     demotionReason = ""          // lock never acquired
	reasonShutdown demotionReason = "shutdown"  // process is stopping
	reasonConnLost demotionReason = "conn_lost" // dedicated connection died
)

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // reason: "shutdown", "conn_lost"
}

// Config holds the election tunables.
type Config struct {
	LockKey           int64
	RetryInterval     time.Duration // follower: delay between campaigns
	HeartbeatInterval time.Duration // leader: ping cadence on the lock connection
}

// Elector runs repeated campaigns for the advisory lock and dispatches
// leadership callbacks.
type Elector struct {
	db        *sql.DB
	cfg       Config
	onElected func(ctx context.Context)
	onDemoted func()
	metrics   MetricsSink // optional, nil = disabled
}

// New creates an Elector.
//
// onElected is called in a new goroutine when this instance wins a
// campaign. The provided context is cancelled when the term ends. It
// should start the leader duties and return quickly.
//
// onDemoted is called synchronously after the term ends. It should block
// until the duties are fully stopped, and must be idempotent.
func New(db *sql.DB, cfg Config, onElected func(ctx context.Context), onDemoted func()) *Elector {
	return &Elector{
		db:        db,
		cfg:       cfg,
		onElected: onElected,
		onDemoted: onDemoted,
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run campaigns for the lock until ctx is cancelled, sleeping
// RetryInterval between terms and between failed campaigns.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("election: loop started (lock_key=%d, retry=%s, heartbeat=%s)",
		e.cfg.LockKey, e.cfg.RetryInterval, e.cfg.HeartbeatInterval)

	for {
		reason := e.campaign(ctx)

		if ctx.Err() != nil {
			log.Println("election: loop stopped")
			return
		}
		if reason != reasonNone {
			log.Printf("election: term ended (reason=%s), next campaign in %s", reason, e.cfg.RetryInterval)
		}

		select {
		case <-ctx.Done():
			log.Println("election: loop stopped")
			return
		case <-time.After(e.cfg.RetryInterval):
		}
	}
}

// campaign makes one non-blocking attempt at the advisory lock and, if it
// wins, serves a full leadership term. Returns reasonNone when the lock
// was not acquired.
func (e *Elector) campaign(ctx context.Context) demotionReason {
	if ctx.Err() != nil {
		return reasonNone
	}

	// The advisory lock is session-scoped, so it must live on its own
	// connection, not the pool.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		log.Printf("election: dedicated connection unavailable: %v", err)
		return reasonNone
	}
	defer conn.Close()

	var won bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.cfg.LockKey).Scan(&won); err != nil {
		log.Printf("election: advisory lock query failed: %v", err)
		return reasonNone
	}
	if !won {
		log.Printf("election: lock %d held elsewhere, next campaign in %s", e.cfg.LockKey, e.cfg.RetryInterval)
		return reasonNone
	}

	log.Printf("election: won advisory lock %d, assuming leader duties", e.cfg.LockKey)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	termCtx, endTerm := context.WithCancel(ctx)
	go e.onElected(termCtx)

	reason := e.watchConn(ctx, conn)

	endTerm()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(string(reason))
	}

	log.Printf("election: surrendered advisory lock %d", e.cfg.LockKey)
	return reason
}

// watchConn pings the lock connection on the heartbeat interval and blocks
// until the term ends. The ping does not renew anything; it only notices a
// dead connection before Postgres-side cleanup would.
func (e *Elector) watchConn(ctx context.Context, conn *sql.Conn) demotionReason {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return reasonShutdown
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return reasonShutdown
				}
				log.Printf("election: lock connection ping failed: %v", err)
				return reasonConnLost
			}
		}
	}
}
