package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_ExpiresOnRead(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	c := New[string](time.Hour).WithClock(func() time.Time { return now })

	c.Set("tecnologia", "https://feeds.example.com/tech")
	v, ok := c.Get("tecnologia")
	assert.True(t, ok)
	assert.Equal(t, "https://feeds.example.com/tech", v)

	now = now.Add(59 * time.Minute)
	_, ok = c.Get("tecnologia")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("tecnologia")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_DeleteAndPurge(t *testing.T) {
	c := New[int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.Set("k", i)
		}(i)
		go func() {
			defer wg.Done()
			c.Get("k")
		}()
	}
	wg.Wait()
	_, ok := c.Get("k")
	assert.True(t, ok)
}
