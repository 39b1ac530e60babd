package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Budget caps model calls per provider and in total over a rolling day.
// A zero limit means unlimited.
type Budget struct {
	mu         sync.Mutex
	counts     map[string]int
	limits     map[string]int
	totalCount int
	maxTotal   int
	resetTime  time.Time
	period     time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func NewBudget(limits map[string]int, maxTotal int) *Budget {
	b := &Budget{
		counts:   make(map[string]int),
		limits:   make(map[string]int, len(limits)),
		maxTotal: maxTotal,
		period:   24 * time.Hour,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for k, v := range limits {
		b.limits[k] = v
	}
	b.resetTime = b.now().Add(b.period)
	return b
}

// WithClock replaces the time source, for tests.
func (b *Budget) WithClock(now func() time.Time) *Budget {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	b.resetTime = now().Add(b.period)
	return b
}

// Allow reports whether provider may make another call.
func (b *Budget) Allow(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()
	return b.allowLocked(provider)
}

// Use records one call for provider, failing when the budget is spent.
func (b *Budget) Use(provider string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()
	if !b.allowLocked(provider) {
		return fmt.Errorf("%s request budget exhausted", provider)
	}

	b.counts[provider]++
	b.totalCount++

	b.logger.Debug("model budget used",
		"provider", provider,
		"used", b.counts[provider],
		"limit", b.limits[provider],
		"total", b.totalCount,
		"total_limit", b.maxTotal)
	return nil
}

func (b *Budget) allowLocked(provider string) bool {
	if max := b.limits[provider]; max > 0 && b.counts[provider] >= max {
		return false
	}
	if b.maxTotal > 0 && b.totalCount >= b.maxTotal {
		return false
	}
	return true
}

func (b *Budget) GetStats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := map[string]interface{}{
		"total_used":  b.totalCount,
		"total_limit": b.maxTotal,
		"reset_time":  b.resetTime.Format(time.RFC3339),
	}
	for p, n := range b.counts {
		stats[p+"_used"] = n
	}
	for p, n := range b.limits {
		stats[p+"_limit"] = n
	}
	return stats
}

func (b *Budget) checkReset() {
	if b.now().After(b.resetTime) {
		b.logger.Info("resetting model budget", "total_used", b.totalCount)
		b.counts = make(map[string]int)
		b.totalCount = 0
		b.resetTime = b.now().Add(b.period)
	}
}
