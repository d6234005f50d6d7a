package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key. A bucket's capacity and refill
// rate are fixed by the first call for its key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{buckets: make(map[string]*rate.Limiter), now: time.Now}
}

func (l *Limiter) bucket(key string, capacity, refillPerSec float64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		burst := int(capacity)
		if burst < 1 {
			burst = 1
		}
		b = rate.NewLimiter(rate.Limit(refillPerSec), burst)
		l.buckets[key] = b
	}
	return b
}

// Allow consumes one token for key when available.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	return l.bucket(key, capacity, refillPerSec).AllowN(l.now(), 1)
}

// Wait blocks until a token for key is available. It fails fast when ctx
// would expire before the token arrives.
func (l *Limiter) Wait(ctx context.Context, key string, capacity, refillPerSec float64) error {
	return l.bucket(key, capacity, refillPerSec).Wait(ctx)
}
