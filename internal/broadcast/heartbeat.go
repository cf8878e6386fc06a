package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/adapter/metrics"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Minute
)

// HeartbeatMonitor periodically evicts connections that stayed silent longer than the timeout
// and sends a heartbeat to the survivors.
type HeartbeatMonitor struct {
	registry    *Registry
	broadcaster *Broadcaster
	clock       clockwork.Clock
	interval    time.Duration
	timeout     time.Duration
	metrics     *metrics.WebSocketMetrics

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHeartbeatMonitor(registry *Registry, broadcaster *Broadcaster, clock clockwork.Clock, interval, timeout time.Duration, m *metrics.WebSocketMetrics) *HeartbeatMonitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &HeartbeatMonitor{
		registry:    registry,
		broadcaster: broadcaster,
		clock:       clock,
		interval:    interval,
		timeout:     timeout,
		metrics:     m,
	}
}

// Start runs sweeps every interval until ctx is done or Stop is called. Starting twice is a no-op.
func (h *HeartbeatMonitor) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}

	ctx, h.cancel = context.WithCancel(ctx)
	ticker := h.clock.NewTicker(h.interval)

	h.wg.Go(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				h.Sweep()
			case <-ctx.Done():
				return
			}
		}
	})
	slog.Info("Heartbeat monitor started", "interval", h.interval, "timeout", h.timeout)
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (h *HeartbeatMonitor) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	h.wg.Wait()
}

// Sweep evicts every connection idle for strictly longer than the timeout, then
// sends a heartbeat envelope to each remaining connection. It returns the number evicted.
func (h *HeartbeatMonitor) Sweep() int {
	start := h.clock.Now()
	evicted := 0

	for _, c := range h.registry.All() {
		if start.Sub(c.LastActivity()) > h.timeout {
			if h.registry.Evict(c.ID(), metrics.EvictHeartbeatTimeout) {
				evicted++
			}
			continue
		}
		if err := h.broadcaster.sendTo(c, domain.TypeHeartbeat, nil); err != nil {
			slog.Debug("Heartbeat not delivered", "connection_id", c.ID(), "error", err)
		}
	}

	if h.metrics != nil {
		h.metrics.HeartbeatSweeps.Inc()
		h.metrics.SweepDuration.Observe(h.clock.Since(start).Seconds())
	}
	if evicted > 0 {
		slog.Info("Heartbeat sweep evicted idle connections", "evicted", evicted, "remaining", h.registry.Len())
	}
	return evicted
}
