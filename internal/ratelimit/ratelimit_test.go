package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget_ProviderAndTotalLimits(t *testing.T) {
	b := NewBudget(map[string]int{"gemini": 2}, 3)

	require.NoError(t, b.Use("gemini"))
	require.NoError(t, b.Use("gemini"))
	assert.False(t, b.Allow("gemini"))
	assert.Error(t, b.Use("gemini"))

	assert.True(t, b.Allow("openai"))
	require.NoError(t, b.Use("openai"))
	assert.False(t, b.Allow("openai"), "total limit reached")

	stats := b.GetStats()
	assert.Equal(t, 3, stats["total_used"])
	assert.Equal(t, 2, stats["gemini_used"])
}

func TestBudget_ResetsAfterPeriod(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	b := NewBudget(map[string]int{"gemini": 1}, 0).WithClock(func() time.Time { return now })

	require.NoError(t, b.Use("gemini"))
	assert.False(t, b.Allow("gemini"))

	now = now.Add(25 * time.Hour)
	assert.True(t, b.Allow("gemini"))
}

func TestBudget_ZeroMeansUnlimited(t *testing.T) {
	b := NewBudget(nil, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, b.Use("gemini"))
	}
}

func TestHostLimiter_SpacesSameHost(t *testing.T) {
	h := NewHostLimiter(30 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, h.WaitForHost(ctx, "https://g1.globo.com/rss"))
	require.NoError(t, h.WaitForHost(ctx, "https://g1.globo.com/rss/economia"))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	start = time.Now()
	require.NoError(t, h.WaitForHost(ctx, "https://folha.uol.com.br/rss"))
	assert.Less(t, time.Since(start), 25*time.Millisecond)
}

func TestHostLimiter_MissingHost(t *testing.T) {
	h := NewHostLimiter(time.Millisecond)
	assert.Error(t, h.WaitForHost(context.Background(), "/relative/path"))
}

func TestPacer(t *testing.T) {
	p := NewPacer(20 * time.Millisecond)
	ctx := context.Background()
	start := time.Now()
	require.NoError(t, p.Wait(ctx))
	require.NoError(t, p.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	zero := NewPacer(0)
	start = time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, zero.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}
