// Package analytics records trigger outcomes in Redis as hourly counters.
// Best-effort: a Redis outage affects dashboards, never orchestration.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
)

// DefaultRetention is how long outcome counters are kept.
const DefaultRetention = 7 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
	clock     func() time.Time
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{
		client:    client,
		retention: DefaultRetention,
		clock:     time.Now,
	}
}

// Record increments the hourly counter for one trigger outcome. Errors are
// logged and swallowed.
func (s *RedisSink) Record(ctx context.Context, tradeID int64, typ domain.TriggerType, outcome domain.TriggerStatus) {
	key := buildKey(tradeID, typ, outcome, s.clock())

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline: %v", err)
	}
}

func buildKey(tradeID int64, typ domain.TriggerType, outcome domain.TriggerStatus, t time.Time) string {
	bucket := t.UTC().Format("2006010215")
	return fmt.Sprintf("trade:%d:%s:%s:%s", tradeID, typ, outcome, bucket)
}
