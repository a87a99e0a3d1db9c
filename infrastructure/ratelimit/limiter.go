// Package ratelimit throttles commands per key with token buckets.
package ratelimit

import (
	"chat-sync/errors"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Limiter interface {
	Allow(key string) bool
	Close() error
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter holds one token bucket per key. Buckets untouched for longer
// than the idle TTL are evicted by a background sweep.
type KeyedLimiter struct {
	interval  time.Duration
	burst     int
	ttl       time.Duration
	mu        sync.Mutex
	buckets   map[string]*bucket
	closed    bool
	stopClean chan struct{}
	cleanOnce sync.Once
	now       func() time.Time
}

// NewKeyedLimiter allows one event per interval per key with the given burst.
// A zero interval disables throttling.
func NewKeyedLimiter(interval time.Duration, burst int, ttl time.Duration) *KeyedLimiter {
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	l := &KeyedLimiter{
		interval:  interval,
		burst:     burst,
		ttl:       ttl,
		buckets:   make(map[string]*bucket),
		stopClean: make(chan struct{}),
		now:       time.Now,
	}
	go l.cleanupExpired(context.Background())
	return l
}

func (l *KeyedLimiter) Allow(key string) bool {
	if l.interval <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(l.interval), l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Len is the number of keys currently tracked.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *KeyedLimiter) cleanupExpired(ctx context.Context) {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeExpired()
		case <-l.stopClean:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *KeyedLimiter) removeExpired() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, key)
		}
	}
}

func (l *KeyedLimiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.ErrLimiterClosed
	}
	l.closed = true
	l.cleanOnce.Do(func() {
		close(l.stopClean)
	})
	return nil
}
