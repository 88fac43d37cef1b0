// Package ratelimiter provides a keyed token-bucket limiter used by
// the dev server to cap per-sender message and typing traffic.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type CleanupOpts struct {
	// TTL is how long an idle key's limiter is kept.
	TTL time.Duration
	// Interval is how often idle keys are swept.
	Interval time.Duration
}

// KeyLimiter maintains one rate.Limiter per key, evicting keys that go
// quiet so the map does not grow without bound.
type KeyLimiter struct {
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	mu       sync.Mutex
	Cancel   context.CancelFunc
	rate     rate.Limit
	burst    int
	CleanupOpts
}

// NewKeyLimiter allows `requests` events per `window` per key.
func NewKeyLimiter(requests int, window time.Duration, cleanupOpts CleanupOpts) *KeyLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	kl := &KeyLimiter{
		limiters:    make(map[string]*rate.Limiter),
		lastSeen:    make(map[string]time.Time),
		Cancel:      cancel,
		rate:        rate.Every(window / time.Duration(requests)),
		burst:       requests,
		CleanupOpts: cleanupOpts,
	}

	go kl.cleanup(ctx)

	return kl
}

// Allow reports whether the key may proceed now.
func (kl *KeyLimiter) Allow(key string) bool {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	lim, ok := kl.limiters[key]
	if !ok {
		lim = rate.NewLimiter(kl.rate, kl.burst)
		kl.limiters[key] = lim
	}
	kl.lastSeen[key] = time.Now()

	return lim.Allow()
}

func (kl *KeyLimiter) cleanup(ctx context.Context) {
	if kl.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(kl.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kl.mu.Lock()

			for key, ls := range kl.lastSeen {
				if time.Since(ls) > kl.TTL {
					delete(kl.limiters, key)
					delete(kl.lastSeen, key)
				}
			}

			kl.mu.Unlock()
		}
	}
}
