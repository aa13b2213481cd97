package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	delayedKey = "settlement:jobs:delayed" // ZSET scored by ready time
	readyKey   = "settlement:jobs:ready"   // LIST of jobs due for delivery
)

// RedisQueue is the broker-backed queue used in production. Delayed jobs
// sit in a sorted set scored by their ready time and are promoted to a
// list the consumer blocks on. A job is re-enqueued when its handler
// errors. A crash mid-handling loses at most the in-flight delivery; the
// scheduler's stale sweep re-queues the stranded record.
type RedisQueue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisQueue creates a Redis-backed queue and verifies connectivity
func NewRedisQueue(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisQueue{
		client: client,
		logger: logger.Named("queue"),
	}, nil
}

// Close releases the underlying connection pool
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Enqueue schedules a job for delivery after delay
func (q *RedisQueue) Enqueue(ctx context.Context, job Job, delay time.Duration) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if delay <= 0 {
		if err := q.client.LPush(ctx, readyKey, payload).Err(); err != nil {
			return fmt.Errorf("failed to push job: %w", err)
		}
		return nil
	}

	score := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, delayedKey, redis.Z{Score: score, Member: payload}).Err(); err != nil {
		return fmt.Errorf("failed to schedule delayed job: %w", err)
	}
	return nil
}

// Consume promotes due jobs and delivers them until ctx is cancelled
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		q.promoteDue(ctx)

		// Block briefly for a ready job, then loop to promote again
		result, err := q.client.BRPop(ctx, time.Second, readyKey).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				q.logger.Error("Failed to pop job", zap.Error(err))
			}
			continue
		}

		// BRPop returns [key, value]
		if len(result) < 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			q.logger.Error("Failed to decode job payload, dropping", zap.Error(err))
			continue
		}

		q.dispatch(ctx, job, handler)
	}
}

// promoteDue moves jobs whose delay has elapsed from the delayed set to
// the ready list.
func (q *RedisQueue) promoteDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	members, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil || len(members) == 0 {
		return
	}

	for _, member := range members {
		// Only the remover promotes: ZRem returning 0 means another
		// consumer claimed it first.
		removed, err := q.client.ZRem(ctx, delayedKey, member).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, readyKey, member).Err(); err != nil {
			q.logger.Error("Failed to promote delayed job", zap.Error(err))
		}
	}
}

func (q *RedisQueue) dispatch(ctx context.Context, job Job, handler Handler) {
	if err := handler(ctx, job); err != nil {
		job.Attempt++
		if job.Attempt >= MaxAttempts {
			q.logger.Error("Job exhausted retries, dropping",
				zap.String("job_id", job.ID),
				zap.String("transaction_id", job.TransactionID),
				zap.Error(err))
			return
		}

		q.logger.Warn("Job failed, scheduling retry",
			zap.String("job_id", job.ID),
			zap.String("transaction_id", job.TransactionID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err))

		if err := q.Enqueue(ctx, job, RetryDelay); err != nil {
			q.logger.Error("Failed to requeue job", zap.Error(err))
		}
	}
}
