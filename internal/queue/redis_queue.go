package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrEmpty is returned by Dequeue when nothing arrived before the wait elapsed.
var ErrEmpty = errors.New("queue empty")

const DefaultName = "payouts:reconcile"

// RedisQueue is a reliable list queue of batch ids. Dequeue moves a message onto
// a processing list atomically; it stays there until Ack, so a consumer that dies
// mid-run leaves the message to be requeued on the next start.
type RedisQueue struct {
	redis      redis.Cmdable
	name       string
	processing string
}

func NewRedisQueue(client redis.Cmdable, name string) *RedisQueue {
	if name == "" {
		name = DefaultName
	}
	return &RedisQueue{redis: client, name: name, processing: name + ":processing"}
}

// Enqueue schedules a reconciliation run for batchID.
func (q *RedisQueue) Enqueue(ctx context.Context, batchID uuid.UUID) error {
	if err := q.redis.LPush(ctx, q.name, batchID.String()).Err(); err != nil {
		return fmt.Errorf("enqueue batch %s: %w", batchID, err)
	}
	return nil
}

// Dequeue blocks for up to wait for the next batch id.
func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (uuid.UUID, error) {
	val, err := q.redis.BLMove(ctx, q.name, q.processing, "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrEmpty
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("dequeue: %w", err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		// Drop garbage so it does not come back on every restart.
		zap.L().Error("dropping malformed queue message", zap.String("queue", q.name), zap.String("message", val))
		_ = q.redis.LRem(ctx, q.processing, 1, val).Err()
		return uuid.Nil, fmt.Errorf("malformed message %q: %w", val, err)
	}
	return id, nil
}

// Ack removes a finished message from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, batchID uuid.UUID) error {
	if err := q.redis.LRem(ctx, q.processing, 1, batchID.String()).Err(); err != nil {
		return fmt.Errorf("ack batch %s: %w", batchID, err)
	}
	return nil
}

// RequeueInFlight moves every message left on the processing list back onto the
// queue. Call it once at startup, before consumers run.
func (q *RedisQueue) RequeueInFlight(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.redis.LMove(ctx, q.processing, q.name, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("requeue in-flight: %w", err)
		}
		moved++
	}
}

// Depth returns the number of waiting messages.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.redis.LLen(ctx, q.name).Result()
}

// Ping checks the connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.redis.Ping(ctx).Err()
}
