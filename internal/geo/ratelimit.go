package geo

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter guards the geocoding proxy per client IP so we respect the
// Nominatim usage policy even under abusive traffic.
type Limiter interface {
	Allow(ctx context.Context, ip string) bool
}

// RedisLimiter implements a sliding window over a sorted set of request
// timestamps per IP.
type RedisLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

func NewRedisLimiter(addr, password string, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		max:    max,
		window: window,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, ip string) bool {
	key := "geo:rl:" + ip
	now := time.Now()
	cutoff := now.Add(-l.window)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixNano(), 10))
	count := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		// fail open: a broken limiter should not take geocoding down
		return true
	}
	if int(count.Val()) >= l.max {
		return false
	}
	member := strconv.FormatInt(now.UnixNano(), 10)
	l.client.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	l.client.Expire(ctx, key, l.window*2)
	return true
}

// MemoryLimiter is the in-process fallback, same sliding window over a map.
type MemoryLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	max    int
	window time.Duration
	now    func() time.Time
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{hits: make(map[string][]time.Time), max: max, window: window, now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.hits[ip][:0]
	for _, t := range l.hits[ip] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.max {
		l.hits[ip] = kept
		return false
	}
	l.hits[ip] = append(kept, now)
	return true
}
