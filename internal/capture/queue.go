package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Queue is the fallback buffer for records the primary path could not land.
// Push never blocks: a full queue evicts its oldest record. Pop returns
// (nil, nil) when the queue is empty.
type Queue interface {
	Push(ctx context.Context, rec *Record) error
	Pop(ctx context.Context) (*Record, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// MemoryQueue is a bounded in-process ring. Records older than ttl are
// discarded at Pop.
type MemoryQueue struct {
	mu         sync.Mutex
	items      []*Record
	size       int
	ttl        time.Duration
	evicted    int
	onOverflow func(n int)
}

// NewMemoryQueue builds a queue holding at most size records. onOverflow, if
// non-nil, is invoked with the number of records discarded each time
// drop-oldest fires; callers use it to tick an overflow counter.
func NewMemoryQueue(size int, ttl time.Duration, onOverflow func(n int)) *MemoryQueue {
	return &MemoryQueue{size: size, ttl: ttl, onOverflow: onOverflow}
}

var _ Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Push(_ context.Context, rec *Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.size {
		// Drop-oldest keeps the freshest traffic under sustained outage.
		q.items = q.items[1:]
		q.evicted++
		if q.onOverflow != nil {
			q.onOverflow(1)
		}
	}
	q.items = append(q.items, rec)
	return nil
}

func (q *MemoryQueue) Pop(_ context.Context) (*Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	for len(q.items) > 0 {
		rec := q.items[0]
		q.items = q.items[1:]
		if q.ttl > 0 && !rec.EnqueuedAt.IsZero() && now.Sub(rec.EnqueuedAt) > q.ttl {
			log.Warn().Str("request_id", rec.RequestID).Msg("fallback record expired")
			continue
		}
		return rec, nil
	}
	return nil, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Evicted reports how many records drop-oldest discarded.
func (q *MemoryQueue) Evicted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

func (q *MemoryQueue) Close() error { return nil }

// fallbackKey is the Redis list holding parked records.
const fallbackKey = "codepromptu:capture:fallback"

// RedisQueue parks records in a Redis list so they survive restarts.
// The list is trimmed to the size bound on every push and carries the TTL
// as a key expiry, refreshed on activity.
type RedisQueue struct {
	client     *redis.Client
	size       int
	ttl        time.Duration
	onOverflow func(n int)
}

// NewRedisQueue connects to Redis and verifies the connection. onOverflow has
// the same contract as in NewMemoryQueue.
func NewRedisQueue(ctx context.Context, addr string, size int, ttl time.Duration, onOverflow func(n int)) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisQueue{client: client, size: size, ttl: ttl, onOverflow: onOverflow}, nil
}

// NewRedisQueueWithClient wires an existing client; used by tests.
func NewRedisQueueWithClient(client *redis.Client, size int, ttl time.Duration, onOverflow func(n int)) *RedisQueue {
	return &RedisQueue{client: client, size: size, ttl: ttl, onOverflow: onOverflow}
}

var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) Push(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal fallback record: %w", err)
	}

	pipe := q.client.TxPipeline()
	pushCmd := pipe.RPush(ctx, fallbackKey, payload)
	// Trim from the left so the oldest records go first.
	pipe.LTrim(ctx, fallbackKey, int64(-q.size), -1)
	if q.ttl > 0 {
		pipe.Expire(ctx, fallbackKey, q.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push failed: %w", err)
	}
	// RPUSH reports the pre-trim length; anything beyond the bound was
	// discarded by the LTRIM in the same transaction.
	if dropped := pushCmd.Val() - int64(q.size); dropped > 0 && q.onOverflow != nil {
		q.onOverflow(int(dropped))
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (*Record, error) {
	for {
		payload, err := q.client.LPop(ctx, fallbackKey).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis pop failed: %w", err)
		}

		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			log.Warn().Err(err).Msg("discarding undecodable fallback record")
			continue
		}
		if q.ttl > 0 && !rec.EnqueuedAt.IsZero() && time.Since(rec.EnqueuedAt) > q.ttl {
			log.Warn().Str("request_id", rec.RequestID).Msg("fallback record expired")
			continue
		}
		return &rec, nil
	}
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, fallbackKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen failed: %w", err)
	}
	return int(n), nil
}

func (q *RedisQueue) Close() error { return q.client.Close() }
