package classifier

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("test", 3, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	b := NewBreaker("test", 1, 10*time.Second)
	b.clock = clock

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())

	clock.now = clock.now.Add(11 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())

	// Failed probe reopens
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())

	clock.now = clock.now.Add(11 * time.Second)
	assert.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenLetsOneCallThrough(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	b := NewBreaker("test", 1, 10*time.Second)
	b.clock = clock

	b.RecordFailure()
	clock.now = clock.now.Add(11 * time.Second)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), allowed.Load())
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.False(t, b.Allow())

	// a failed trial reopens; the next one after the timeout is let through again
	b.RecordFailure()
	assert.False(t, b.Allow())
	clock.now = clock.now.Add(11 * time.Second)
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())

	b.RecordSuccess()
	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
}

func TestBreaker_Defaults(t *testing.T) {
	b := NewBreaker("test", 0, 0)
	assert.Equal(t, 3, b.threshold)
	assert.Equal(t, 30*time.Second, b.resetTimeout)
}
