package pipeline

import (
	"context"
	"fmt"
	"time"

	"medical-ai-platform/pkg/logger"
	"medical-ai-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard admits a pipeline run across API instances. The returned release
// func must be called exactly once when the run ends.
type Guard interface {
	Acquire(ctx context.Context, studioID, recordingID string) (release func(), err error)
}

// NopGuard admits every run. Row-level claims still serialize runs per recording.
type NopGuard struct{}

func (NopGuard) Acquire(context.Context, string, string) (func(), error) { return func() {}, nil }

// RedisGuard holds a per-recording lock and a per-studio concurrency slot for
// the duration of a run. Both expire after ttl if the process dies.
type RedisGuard struct {
	rdb         *redis.Client
	studioLimit int
	ttl         time.Duration
}

func NewRedisGuard(rdb *redis.Client, studioLimit int, ttl time.Duration) *RedisGuard {
	return &RedisGuard{rdb: rdb, studioLimit: studioLimit, ttl: ttl}
}

func lockKey(recordingID string) string { return "referto:pipeline:lock:" + recordingID }
func capKey(studioID string) string     { return "referto:pipeline:studio:" + studioID }

func (g *RedisGuard) Acquire(ctx context.Context, studioID, recordingID string) (func(), error) {
	token := uuid.NewString()
	ok, err := utils.AcquireLock(ctx, g.rdb, lockKey(recordingID), token, g.ttl)
	if err != nil {
		return nil, fmt.Errorf("pipeline: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyProcessing
	}

	ok, err = utils.AcquireConcurrencyCap(ctx, g.rdb, capKey(studioID), g.studioLimit, g.ttl)
	if err != nil || !ok {
		g.releaseLock(ctx, recordingID, token)
		if err != nil {
			return nil, fmt.Errorf("pipeline: acquire studio slot: %w", err)
		}
		return nil, ErrBusy
	}

	return func() {
		err := detached(ctx, func(c context.Context) error {
			return utils.ReleaseConcurrencyCap(c, g.rdb, capKey(studioID))
		})
		if err != nil {
			logger.From(ctx).Warn("release studio slot failed", "studio_id", studioID, "err", err)
		}
		g.releaseLock(ctx, recordingID, token)
	}, nil
}

func (g *RedisGuard) releaseLock(ctx context.Context, recordingID, token string) {
	err := detached(ctx, func(c context.Context) error {
		return utils.ReleaseLock(c, g.rdb, lockKey(recordingID), token)
	})
	if err != nil {
		logger.From(ctx).Warn("release pipeline lock failed", "recording_id", recordingID, "err", err)
	}
}

// detached runs fn on a short context that survives cancellation of ctx, so
// that leases and claims are returned even when the run timed out.
func detached(ctx context.Context, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return fn(c)
}
