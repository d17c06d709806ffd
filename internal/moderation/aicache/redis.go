package aicache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate/pkg/logger"
	"github.com/Significant-Gravitas/AutoModerate/pkg/redis"
)

const redisKeyPrefix = "aiverdict:"

// Redis is a Cache backed by a shared Redis instance so replicas reuse
// each other's AI verdicts. Redis errors degrade to cache misses.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
	logger *slog.Logger
}

// NewRedis creates a Redis-backed cache with the given entry TTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
		logger: logger.WithComponent("ai-result-cache"),
	}
}

func (r *Redis) Get(ctx context.Context, key string) (moderation.EvaluationOutcome, bool) {
	var out moderation.EvaluationOutcome
	data, err := r.client.Get(ctx, redisKeyPrefix+key)
	if err != nil {
		if !redis.IsNilError(err) {
			r.logger.Warn("cache read failed", "error", err)
		}
		r.misses.Add(1)
		return out, false
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		r.logger.Warn("cache entry corrupt, discarding", "key", key, "error", err)
		r.misses.Add(1)
		return out, false
	}
	r.hits.Add(1)
	return out, true
}

func (r *Redis) Put(ctx context.Context, key string, out moderation.EvaluationOutcome) {
	data, err := json.Marshal(out)
	if err != nil {
		r.logger.Warn("cache marshal failed", "error", err)
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, string(data), r.ttl); err != nil {
		r.logger.Warn("cache write failed", "error", err)
	}
}

func (r *Redis) Flush(ctx context.Context) error {
	deleted, err := r.client.FlushByPattern(ctx, redisKeyPrefix+"*")
	if err != nil {
		return err
	}
	r.logger.Info("result cache flushed", "entries", deleted)
	return nil
}

func (r *Redis) Stats() (hits, misses int64) {
	return r.hits.Load(), r.misses.Load()
}
