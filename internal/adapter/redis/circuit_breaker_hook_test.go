package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/adapter/metrics"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func succeedWith(value string) goredis.ProcessHook {
	return func(_ context.Context, cmd goredis.Cmder) error {
		if c, ok := cmd.(*goredis.StringCmd); ok {
			c.SetVal(value)
		}
		return nil
	}
}

func failWith(err error) goredis.ProcessHook {
	return func(_ context.Context, cmd goredis.Cmder) error {
		cmd.SetErr(err)
		return err
	}
}

func tripBreaker(t *testing.T, hook *CircuitBreakerHook) {
	t.Helper()
	ctx := context.Background()
	process := hook.ProcessHook(failWith(errors.New("connection refused")))
	for range 5 {
		_ = process(ctx, goredis.NewStringCmd(ctx, "set", "k", "v"))
	}
	require.Equal(t, circuitbreaker.OpenState, hook.State())
}

func TestCircuitBreakerHook_StaysClosedOnSuccess(t *testing.T) {
	hook := NewCircuitBreakerHook(clockwork.NewFakeClock(), nil)
	ctx := context.Background()

	process := hook.ProcessHook(succeedWith("v"))
	for range 10 {
		require.NoError(t, process(ctx, goredis.NewStringCmd(ctx, "get", "key")))
	}
	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_NilIsNotAFailure(t *testing.T) {
	hook := NewCircuitBreakerHook(clockwork.NewFakeClock(), nil)
	ctx := context.Background()

	process := hook.ProcessHook(failWith(goredis.Nil))
	for range 10 {
		err := process(ctx, goredis.NewStringCmd(ctx, "get", "missing"))
		assert.ErrorIs(t, err, goredis.Nil)
	}
	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_OpensAndFailsFast(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRedisMetrics(reg)
	hook := NewCircuitBreakerHook(clockwork.NewFakeClock(), m)
	tripBreaker(t, hook)

	called := false
	ctx := context.Background()
	process := hook.ProcessHook(func(context.Context, goredis.Cmder) error {
		called = true
		return nil
	})
	err := process(ctx, goredis.NewStringCmd(ctx, "set", "k", "v"))
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.False(t, called, "open circuit must not reach redis")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitStateChanges.WithLabelValues(circuitbreaker.OpenState.String())))
}

func TestCircuitBreakerHook_ServesCachedGetWhileOpen(t *testing.T) {
	clock := clockwork.NewFakeClock()
	hook := NewCircuitBreakerHook(clock, nil)
	ctx := context.Background()

	require.NoError(t, hook.ProcessHook(succeedWith("device_42"))(ctx, goredis.NewStringCmd(ctx, "get", "auth:token:abc")))
	tripBreaker(t, hook)

	unreachable := hook.ProcessHook(func(context.Context, goredis.Cmder) error {
		t.Fatal("open circuit must not reach redis")
		return nil
	})

	cmd := goredis.NewStringCmd(ctx, "get", "auth:token:abc")
	require.NoError(t, unreachable(ctx, cmd))
	assert.Equal(t, "device_42", cmd.Val())

	err := unreachable(ctx, goredis.NewStringCmd(ctx, "get", "auth:token:unknown"))
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)

	clock.Advance(cacheTTL + time.Second)
	err = unreachable(ctx, goredis.NewStringCmd(ctx, "get", "auth:token:abc"))
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen, "expired entries are not served")
}

func TestCircuitBreakerHook_DeleteAndMissEvictCache(t *testing.T) {
	hook := NewCircuitBreakerHook(clockwork.NewFakeClock(), nil)
	ctx := context.Background()

	ok := hook.ProcessHook(succeedWith("device_42"))
	require.NoError(t, ok(ctx, goredis.NewStringCmd(ctx, "get", "a")))
	require.NoError(t, ok(ctx, goredis.NewStringCmd(ctx, "get", "b")))

	require.NoError(t, hook.ProcessHook(failWith(nil))(ctx, goredis.NewIntCmd(ctx, "del", "a")))
	_ = hook.ProcessHook(failWith(goredis.Nil))(ctx, goredis.NewStringCmd(ctx, "get", "b"))

	_, found := hook.lookup(goredis.NewStringCmd(ctx, "get", "a"))
	assert.False(t, found)
	_, found = hook.lookup(goredis.NewStringCmd(ctx, "get", "b"))
	assert.False(t, found)
}

func TestCircuitBreakerHook_PipelineFailsFastWhenOpen(t *testing.T) {
	hook := NewCircuitBreakerHook(clockwork.NewFakeClock(), nil)
	tripBreaker(t, hook)

	pipeline := hook.ProcessPipelineHook(func(context.Context, []goredis.Cmder) error { return nil })
	err := pipeline(context.Background(), nil)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestStateToFloat(t *testing.T) {
	assert.Equal(t, 0.0, stateToFloat(circuitbreaker.ClosedState))
	assert.Equal(t, 1.0, stateToFloat(circuitbreaker.HalfOpenState))
	assert.Equal(t, 2.0, stateToFloat(circuitbreaker.OpenState))
}
