package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/adapter/metrics"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

// Cached GET results are served while the circuit is open, so token lookups
// keep working for identities seen recently.
const cacheTTL = 5 * time.Minute

// CircuitBreakerHook implements redis.Hook and guards every Redis operation with
// a circuit breaker so an unavailable Redis fails fast instead of stalling handshakes.
type CircuitBreakerHook struct {
	cb      circuitbreaker.CircuitBreaker[any]
	clock   clockwork.Clock
	metrics *metrics.RedisMetrics

	mu    sync.RWMutex
	cache map[string]cachedValue
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

type cachedValue struct {
	data     string
	storedAt time.Time
}

// NewCircuitBreakerHook opens the circuit at a 60% failure rate over at least 5
// requests in a 10s window, half-opens after 30s and closes on the first success.
// m may be nil.
func NewCircuitBreakerHook(clock clockwork.Clock, m *metrics.RedisMetrics) *CircuitBreakerHook {
	h := &CircuitBreakerHook{
		clock:   clock,
		metrics: m,
		cache:   make(map[string]cachedValue),
	}
	h.cb = circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "redis",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			if h.metrics != nil {
				h.metrics.CircuitStateChanges.WithLabelValues(e.NewState.String()).Inc()
				h.metrics.CircuitState.Set(stateToFloat(e.NewState))
			}
		}).
		Build()
	return h
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !h.cb.TryAcquirePermit() {
			return nil, fmt.Errorf("circuit breaker dial failed: %w", circuitbreaker.ErrOpen)
		}
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.cb.RecordError(err)
			return nil, fmt.Errorf("circuit breaker dial failed: %w", err)
		}
		h.cb.RecordSuccess()
		return conn, nil
	}
}

func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return h.fallback(cmd)
		}

		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, goredis.Nil) {
			h.cb.RecordError(err)
			return fmt.Errorf("circuit breaker process failed: %w", err)
		}
		h.cb.RecordSuccess()
		h.remember(cmd)
		return err
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return fmt.Errorf("redis circuit breaker open: %w", circuitbreaker.ErrOpen)
		}
		err := next(ctx, cmds)
		if err != nil {
			h.cb.RecordError(err)
			return fmt.Errorf("circuit breaker pipeline failed: %w", err)
		}
		h.cb.RecordSuccess()
		return nil
	}
}

// fallback serves a cached GET while the circuit is open. Everything else fails fast.
func (h *CircuitBreakerHook) fallback(cmd goredis.Cmder) error {
	if cmd.Name() == "get" {
		if value, ok := h.lookup(cmd); ok {
			if c, ok := cmd.(*goredis.StringCmd); ok {
				slog.Debug("Circuit breaker open, serving from cache", "command", cmd.Name())
				c.SetVal(value)
				return nil
			}
		}
		return fmt.Errorf("redis circuit breaker open and no cached value: %w", circuitbreaker.ErrOpen)
	}
	return fmt.Errorf("redis circuit breaker open: %w", circuitbreaker.ErrOpen)
}

func (h *CircuitBreakerHook) remember(cmd goredis.Cmder) {
	if cmd.Name() == "del" {
		h.mu.Lock()
		for _, key := range cmd.Args()[1:] {
			delete(h.cache, fmt.Sprint(key))
		}
		h.mu.Unlock()
		return
	}

	key, ok := cacheKey(cmd)
	if !ok {
		return
	}
	c, ok := cmd.(*goredis.StringCmd)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	value, err := c.Result()
	if err != nil {
		// A miss or a deleted key must not keep serving a stale value.
		delete(h.cache, key)
		return
	}
	h.cache[key] = cachedValue{data: value, storedAt: h.clock.Now()}
}

func (h *CircuitBreakerHook) lookup(cmd goredis.Cmder) (string, bool) {
	key, ok := cacheKey(cmd)
	if !ok {
		return "", false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	cached, ok := h.cache[key]
	if !ok || h.clock.Since(cached.storedAt) > cacheTTL {
		return "", false
	}
	return cached.data, true
}

func cacheKey(cmd goredis.Cmder) (string, bool) {
	if cmd.Name() != "get" {
		return "", false
	}
	args := cmd.Args()
	if len(args) < 2 {
		return "", false
	}
	return fmt.Sprint(args[1]), true
}

// State returns the current circuit breaker state.
func (h *CircuitBreakerHook) State() circuitbreaker.State {
	return h.cb.State()
}
