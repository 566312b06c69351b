package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptCounter counts connection attempts per user since the last
// successful registration. It is a soft guard against reconnect storms.
type AttemptCounter interface {
	Incr(ctx context.Context, userID string) (int64, error)
	Reset(ctx context.Context, userID string) error
	// Clear forgets every counter; called from the periodic sweep.
	Clear(ctx context.Context) error
}

// MemoryAttempts keeps counters in process memory; they are lost on restart.
type MemoryAttempts struct {
	mu sync.Mutex
	m  map[string]int64
}

func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{m: make(map[string]int64)}
}

func (a *MemoryAttempts) Incr(_ context.Context, userID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m[userID]++
	return a.m[userID], nil
}

func (a *MemoryAttempts) Reset(_ context.Context, userID string) error {
	a.mu.Lock()
	delete(a.m, userID)
	a.mu.Unlock()
	return nil
}

func (a *MemoryAttempts) Clear(context.Context) error {
	a.mu.Lock()
	a.m = make(map[string]int64)
	a.mu.Unlock()
	return nil
}

// RedisAttempts shares counters between server instances. Keys expire after
// ttl, which plays the role of Clear.
type RedisAttempts struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisAttempts(client redis.Cmdable, ttl time.Duration) *RedisAttempts {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisAttempts{client: client, prefix: "ws:attempts:", ttl: ttl}
}

func (a *RedisAttempts) Incr(ctx context.Context, userID string) (int64, error) {
	key := a.prefix + userID
	var incr *redis.IntCmd
	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, a.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (a *RedisAttempts) Reset(ctx context.Context, userID string) error {
	return a.client.Del(ctx, a.prefix+userID).Err()
}

func (a *RedisAttempts) Clear(context.Context) error {
	return nil
}
