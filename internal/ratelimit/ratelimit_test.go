package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLimiter() (*FixedWindow, *clock) {
	c := &clock{now: time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)}
	l := New()
	l.now = c.Now
	return l, c
}

func TestFixedWindow_Allow(t *testing.T) {
	l, c := newLimiter()

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("ip:10.0.0.1", 10, time.Minute), "request %d", i+1)
	}
	assert.False(t, l.Allow("ip:10.0.0.1", 10, time.Minute))
	assert.True(t, l.Allow("ip:10.0.0.2", 10, time.Minute), "keys are independent")

	c.Advance(30 * time.Second)
	assert.False(t, l.Allow("ip:10.0.0.1", 10, time.Minute))
	assert.Equal(t, 30*time.Second, l.RetryAfter("ip:10.0.0.1"))

	c.Advance(30 * time.Second)
	assert.True(t, l.Allow("ip:10.0.0.1", 10, time.Minute), "window resets")
}

func TestFixedWindow_ZeroLimit(t *testing.T) {
	l, _ := newLimiter()
	assert.False(t, l.Allow("k", 0, time.Minute))
	assert.Equal(t, time.Duration(0), l.RetryAfter("k"))
}

func TestFixedWindow_Prune(t *testing.T) {
	l, c := newLimiter()
	l.Allow("a", 5, time.Minute)
	l.Allow("b", 5, 10*time.Minute)
	assert.Equal(t, 2, l.Len())

	c.Advance(2 * time.Minute)
	assert.Equal(t, 1, l.Prune(c.Now()))
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 8*time.Minute, l.RetryAfter("b"))
}

func TestFixedWindow_Concurrent(t *testing.T) {
	l, _ := newLimiter()

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("webhook_key:1", 60, time.Minute) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(60), allowed.Load())
}
