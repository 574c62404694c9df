package redis

import (
	"context"
	"fmt"
	"time"

	"ms-settlement/internal/config"
	"ms-settlement/internal/logger"

	"github.com/go-redis/redis/v8"
)

const (
	settleLockPrefix = "settle_lock:"
	eventSeenPrefix  = "webhook_event:"
)

// releaseScript deletes the lock only while it still holds our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	Client    *redis.Client
	Logger    *logger.Logger
	LockTTL   time.Duration
	DedupeTTL time.Duration
}

func NewRedis(client *redis.Client, cfg config.RedisConfig, log *logger.Logger) *Redis {
	r := &Redis{
		Client:    client,
		Logger:    log,
		LockTTL:   cfg.SettlementLock,
		DedupeTTL: cfg.EventDedupeTTL,
	}
	if r.LockTTL <= 0 {
		r.LockTTL = 30 * time.Second
	}
	if r.DedupeTTL <= 0 {
		r.DedupeTTL = 72 * time.Hour
	}
	log.Info("REDIS", fmt.Sprintf("Settlement lock TTL %s, webhook dedupe TTL %s", r.LockTTL, r.DedupeTTL))
	return r
}

// AcquireSettlement takes the per-order lock. false means another worker
// holds it. The lock only keeps duplicate deliveries from doing the same work
// at once; the ledger guard still decides.
func (r *Redis) AcquireSettlement(ctx context.Context, key, owner string) (bool, error) {
	return r.Client.SetNX(ctx, settleLockPrefix+key, owner, r.LockTTL).Result()
}

func (r *Redis) ReleaseSettlement(ctx context.Context, key, owner string) error {
	err := releaseScript.Run(ctx, r.Client, []string{settleLockPrefix + key}, owner).Err()
	if err == redis.Nil {
		return nil // already expired
	}
	return err
}

// Seen reports whether a provider event id was recorded by MarkSeen.
func (r *Redis) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := r.Client.Exists(ctx, eventSeenPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSeen records a provider event id for DedupeTTL. Callers mark only once
// the event has been settled.
func (r *Redis) MarkSeen(ctx context.Context, eventID string) error {
	return r.Client.Set(ctx, eventSeenPrefix+eventID, time.Now().UTC().Format(time.RFC3339), r.DedupeTTL).Err()
}
