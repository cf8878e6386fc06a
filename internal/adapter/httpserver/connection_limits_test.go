package httpserver

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func newLimits(clock clockwork.Clock, global int64, perIP int, perSec float64, burst int) *ConnectionLimits {
	return NewConnectionLimits(clock, ConnectionLimitsConfig{
		MaxConnections:      global,
		MaxConnectionsPerIP: perIP,
		ConnectionsPerSec:   perSec,
		Burst:               burst,
	})
}

func TestConnectionLimits_PerIP(t *testing.T) {
	limits := newLimits(clockwork.NewFakeClock(), 10, 2, 100, 100)

	for range 2 {
		ok, _ := limits.Acquire("1.1.1.1")
		assert.True(t, ok)
	}
	ok, reason := limits.Acquire("1.1.1.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerIP, reason)
	assert.Equal(t, int64(2), limits.Current(), "failed per-IP acquire rolls back the global slot")

	ok, _ = limits.Acquire("2.2.2.2")
	assert.True(t, ok)

	limits.Release("1.1.1.1")
	assert.Equal(t, 1, limits.perIP.count("1.1.1.1"))
	ok, _ = limits.Acquire("1.1.1.1")
	assert.True(t, ok)
}

func TestConnectionLimits_Global(t *testing.T) {
	limits := newLimits(clockwork.NewFakeClock(), 2, 10, 100, 100)

	assert.True(t, first(limits.Acquire("a")))
	assert.True(t, first(limits.Acquire("b")))
	ok, reason := limits.Acquire("c")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonGlobal, reason)

	limits.Release("a")
	assert.True(t, first(limits.Acquire("c")))
}

func TestConnectionLimits_RateRefillsWithClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limits := newLimits(clock, 100, 100, 1, 2)

	assert.True(t, first(limits.Acquire("a")))
	assert.True(t, first(limits.Acquire("a")))
	ok, reason := limits.Acquire("a")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonRate, reason)

	clock.Advance(time.Second)
	assert.True(t, first(limits.Acquire("a")))
}

func TestConnectionLimits_IdleRateBucketsExpire(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limits := newLimits(clock, 100, 100, 1, 1)

	limits.Acquire("a")
	limits.Acquire("b")
	assert.Equal(t, 2, limits.rate.tracked())

	clock.Advance(rateLimiterIdleAfter + rateLimiterCleanupEvery)
	limits.Acquire("c")
	assert.Equal(t, 1, limits.rate.tracked())
}

func TestConnectionLimits_ConcurrentGlobal(t *testing.T) {
	limits := newLimits(clockwork.NewFakeClock(), 50, 1000, 1e6, 1e6)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for range 200 {
		wg.Go(func() {
			if ok, _ := limits.Acquire("1.1.1.1"); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	assert.Equal(t, 50, granted)
	assert.Equal(t, int64(50), limits.Current())
}

func first(ok bool, _ LimitReason) bool { return ok }
