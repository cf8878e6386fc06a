package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/adapter/metrics"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Broadcaster delivers envelopes to targeted connections. Delivery is best effort:
// a connection that cannot accept a frame is evicted and never retried.
type Broadcaster struct {
	registry *Registry
	clock    clockwork.Clock
	relay    domain.Relay
	metrics  *metrics.WebSocketMetrics
}

type BroadcasterOption func(*Broadcaster)

// WithRelay routes Publish through a cross-instance relay.
func WithRelay(relay domain.Relay) BroadcasterOption {
	return func(b *Broadcaster) { b.relay = relay }
}

func WithBroadcasterMetrics(m *metrics.WebSocketMetrics) BroadcasterOption {
	return func(b *Broadcaster) { b.metrics = m }
}

func NewBroadcaster(registry *Registry, clock clockwork.Clock, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{registry: registry, clock: clock}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Send wraps payload in an envelope and queues it to every connection matching target.
// It returns the number of connections the frame was queued to. Errors are returned
// only for invalid targets or unencodable payloads, never for individual peers.
func (b *Broadcaster) Send(msgType domain.MessageType, payload any, target domain.Target) (int, error) {
	env, err := domain.NewEnvelope(msgType, payload, b.clock.Now())
	if err != nil {
		return 0, err
	}
	return b.SendEnvelope(env, target)
}

// SendEnvelope queues an already built envelope to every connection matching target.
func (b *Broadcaster) SendEnvelope(env domain.Envelope, target domain.Target) (int, error) {
	if err := target.Validate(); err != nil {
		return 0, err
	}
	frame, err := env.Encode()
	if err != nil {
		return 0, err
	}

	var conns []*Connection
	switch target.Kind {
	case domain.TargetAll:
		conns = b.registry.All()
	case domain.TargetTopic:
		conns = b.registry.ConnectionsForTopic(target.Value)
	case domain.TargetIdentity:
		conns = b.registry.ConnectionsForIdentity(target.Value)
	}

	delivered := b.deliver(env.Type, frame, conns)
	if b.metrics != nil {
		b.metrics.BroadcastFanout.Observe(float64(delivered))
	}
	return delivered, nil
}

// SendToConnection queues an envelope to a single connection.
func (b *Broadcaster) SendToConnection(id string, msgType domain.MessageType, payload any) error {
	c, ok := b.registry.Get(id)
	if !ok {
		return domain.ErrUnknownConnection
	}
	return b.sendTo(c, msgType, payload)
}

// Publish fans an envelope out through the relay so every instance delivers it.
// Without a relay it is equivalent to Send.
func (b *Broadcaster) Publish(ctx context.Context, msgType domain.MessageType, payload any, target domain.Target) (int, error) {
	if b.relay == nil {
		return b.Send(msgType, payload, target)
	}
	if err := target.Validate(); err != nil {
		return 0, err
	}
	env, err := domain.NewEnvelope(msgType, payload, b.clock.Now())
	if err != nil {
		return 0, err
	}
	if err := b.relay.Publish(ctx, env, target); err != nil {
		return 0, fmt.Errorf("relay %s to %s: %w", msgType, target, err)
	}
	return 0, nil
}

func (b *Broadcaster) sendTo(c *Connection, msgType domain.MessageType, payload any) error {
	env, err := domain.NewEnvelope(msgType, payload, b.clock.Now())
	if err != nil {
		return err
	}
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	if b.deliver(msgType, frame, []*Connection{c}) == 0 {
		return domain.ErrConnectionClosed
	}
	return nil
}

func (b *Broadcaster) deliver(msgType domain.MessageType, frame []byte, conns []*Connection) int {
	delivered := 0
	for _, c := range conns {
		if err := c.Enqueue(frame); err != nil {
			reason := metrics.EvictWriteFailure
			if errors.Is(err, domain.ErrBufferFull) {
				reason = metrics.EvictSlowConsumer
			}
			slog.Warn("Dropping connection after failed send", "connection_id", c.ID(), "type", msgType, "error", err)
			b.registry.Evict(c.ID(), reason)
			continue
		}
		delivered++
	}
	if b.metrics != nil && delivered > 0 {
		b.metrics.MessagesSent.WithLabelValues(string(msgType)).Add(float64(delivered))
	}
	return delivered
}

// Relayed reports whether Publish goes through a cross-instance relay.
func (b *Broadcaster) Relayed() bool {
	return b.relay != nil
}
