package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	id "crono/pkg/domain"
)

// genTTL bounds generation counters so abandoned stages do not leak keys
// forever. Losing a counter is safe: it restarts at zero, which only causes
// one recompute.
const genTTL = 24 * time.Hour

// Redis is the shared cache tier for multi-instance deployments. Every
// operation fails open: a backend fault is logged and reads as a miss.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

func (r *Redis) genKey(stageID id.StageID) string {
	return "classify:gen:" + stageID.String()
}

func (r *Redis) generation(ctx context.Context, stageID id.StageID) (uint64, bool) {
	gen, err := r.client.Get(ctx, r.genKey(stageID)).Uint64()
	if err == redis.Nil {
		return 0, true
	}
	if err != nil {
		r.logger.Warn("classification cache generation read failed", "stage_id", stageID, "error", err)
		return 0, false
	}
	return gen, true
}

func (r *Redis) Get(ctx context.Context, key Key) ([]byte, bool) {
	gen, ok := r.generation(ctx, key.StageID)
	if !ok {
		return nil, false
	}
	payload, err := r.client.Get(ctx, key.encode(gen)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		r.logger.Warn("classification cache read failed", "stage_id", key.StageID, "error", err)
		return nil, false
	}
	return payload, true
}

func (r *Redis) Set(ctx context.Context, key Key, payload []byte, ttl time.Duration) {
	gen, ok := r.generation(ctx, key.StageID)
	if !ok {
		return
	}
	if err := r.client.Set(ctx, key.encode(gen), payload, ttl).Err(); err != nil {
		r.logger.Warn("classification cache write failed", "stage_id", key.StageID, "error", err)
	}
}

func (r *Redis) Invalidate(ctx context.Context, stageID id.StageID) {
	pipe := r.client.Pipeline()
	pipe.Incr(ctx, r.genKey(stageID))
	pipe.Expire(ctx, r.genKey(stageID), genTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("classification cache invalidation failed", "stage_id", stageID, "error", err)
	}
}
