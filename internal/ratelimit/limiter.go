// Package ratelimit provides keyed token-bucket limiting: session launches
// are paced per target host, and serve mode limits callers per remote address.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the rate limiting configuration.
type Config struct {
	RPS             float64       // Tokens per second for each key
	Burst           int           // Bucket size for each key
	CleanupInterval time.Duration // How often to drop idle limiters
}

// DefaultLaunchConfig paces browser launches against one target host.
var DefaultLaunchConfig = Config{
	RPS:             2,
	Burst:           4,
	CleanupInterval: 10 * time.Minute,
}

// DefaultRequestConfig limits serve-mode callers.
var DefaultRequestConfig = Config{
	RPS:             5,
	Burst:           10,
	CleanupInterval: time.Hour,
}

// limiterEntry holds a rate limiter and tracks its last usage.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Limiter manages one token bucket per key.
type Limiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	config   Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLimiter creates a keyed limiter and starts its cleanup goroutine.
func NewLimiter(config Config) *Limiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}
	rl := &Limiter{
		limiters: make(map[string]*limiterEntry),
		config:   config,
		stopCh:   make(chan struct{}),
	}

	rl.wg.Add(1)
	go rl.cleanupLoop()

	return rl
}

// Allow reports whether one event for key may happen now.
func (rl *Limiter) Allow(key string) bool {
	return rl.GetLimiter(key).Allow()
}

// Wait blocks until one event for key may happen, or ctx ends.
func (rl *Limiter) Wait(ctx context.Context, key string) error {
	if err := rl.GetLimiter(key).Wait(ctx); err != nil {
		return fmt.Errorf("wait for %s launch slot: %w", key, err)
	}
	return nil
}

// GetLimiter returns the limiter for key, creating one if necessary.
func (rl *Limiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[key]
	if exists {
		entry.lastUsed = time.Now()
		return entry.limiter
	}

	limit := rate.Limit(rl.config.RPS)
	if rl.config.RPS <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, rl.config.Burst)
	rl.limiters[key] = &limiterEntry{
		limiter:  limiter,
		lastUsed: time.Now(),
	}
	return limiter
}

// Cleanup removes limiters idle for longer than the cleanup interval.
func (rl *Limiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.config.CleanupInterval)
	for key, entry := range rl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

func (rl *Limiter) cleanupLoop() {
	defer rl.wg.Done()

	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine and waits for it to finish. Safe to call twice.
func (rl *Limiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
	rl.wg.Wait()
}

// Len returns the number of live limiters.
func (rl *Limiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// HostKey maps a target URL to its launch key: the lowercased host with port.
// Unparseable or relative URLs share the empty-host key.
func HostKey(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
