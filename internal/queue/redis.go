package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue publishes jobs to a Redis list. Delayed jobs park in a sorted set
// scored by delivery time; a mover goroutine promotes due members onto the
// list. Delivery timing is approximate, which is acceptable for the staggered
// scoring fan-out.
type RedisQueue struct {
	rdb      *redis.Client
	queueKey string
	delayKey string
	log      *slog.Logger

	stop chan struct{}
	done sync.WaitGroup
}

const moverInterval = time.Second

func NewRedisQueue(rdb *redis.Client, queueKey, delayKey string, logger *slog.Logger) *RedisQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &RedisQueue{
		rdb:      rdb,
		queueKey: queueKey,
		delayKey: delayKey,
		log:      logger,
		stop:     make(chan struct{}),
	}
	q.done.Add(1)
	go q.mover()
	return q
}

func (q *RedisQueue) Publish(ctx context.Context, job Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if delay <= 0 {
		if err := q.rdb.LPush(ctx, q.queueKey, payload).Err(); err != nil {
			q.log.Error("queue.publish.failed", "search_id", job.SearchID, "error", err)
			return fmt.Errorf("lpush job: %w", err)
		}
		return nil
	}
	deliverAt := time.Now().Add(delay)
	if err := q.rdb.ZAdd(ctx, q.delayKey, redis.Z{
		Score:  float64(deliverAt.UnixMilli()),
		Member: payload,
	}).Err(); err != nil {
		q.log.Error("queue.publish.delayed_failed", "search_id", job.SearchID, "error", err)
		return fmt.Errorf("zadd delayed job: %w", err)
	}
	q.log.Debug("queue.publish.delayed", "search_id", job.SearchID, "deliver_at", deliverAt)
	return nil
}

// mover promotes due delayed jobs onto the delivery list.
func (q *RedisQueue) mover() {
	defer q.done.Done()
	ticker := time.NewTicker(moverInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.promoteDue(context.Background())
		}
	}
}

func (q *RedisQueue) promoteDue(ctx context.Context) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := q.rdb.ZRangeByScore(ctx, q.delayKey, &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil {
		q.log.Warn("queue.mover.range_failed", "error", err)
		return
	}
	for _, m := range members {
		// Remove-then-push: a job lost between the two commands would violate
		// at-least-once, so push first and tolerate the rare duplicate.
		if err := q.rdb.LPush(ctx, q.queueKey, m).Err(); err != nil {
			q.log.Warn("queue.mover.push_failed", "error", err)
			continue
		}
		if err := q.rdb.ZRem(ctx, q.delayKey, m).Err(); err != nil {
			q.log.Warn("queue.mover.rem_failed", "error", err)
		}
	}
}

func (q *RedisQueue) Shutdown(ctx context.Context) {
	close(q.stop)
	waitCh := make(chan struct{})
	go func() {
		q.done.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-ctx.Done():
	}
}
