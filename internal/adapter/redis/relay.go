package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/adapter/metrics"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/platform/retry"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const DefaultRelayChannel = "devicehub:broadcast"

// Deliverer hands a relayed envelope to the local connections.
type Deliverer interface {
	SendEnvelope(env domain.Envelope, target domain.Target) (int, error)
}

// relayMessage is the JSON published on the relay channel.
type relayMessage struct {
	Origin   string          `json:"origin"`
	Target   domain.Target   `json:"target"`
	Envelope domain.Envelope `json:"envelope"`
}

// Relay fans envelopes out to every server instance via Redis Pub/Sub.
// The publishing instance receives its own messages and delivers them like any other.
type Relay struct {
	rdb     *goredis.Client
	channel string
	origin  string
	policy  retry.Policy
	metrics *metrics.RelayMetrics

	mu  sync.Mutex
	sub *goredis.PubSub
	wg  sync.WaitGroup
}

var _ domain.Relay = (*Relay)(nil)

type RelayOption func(*Relay)

func WithRelayChannel(channel string) RelayOption {
	return func(r *Relay) { r.channel = channel }
}

func WithRelayMetrics(m *metrics.RelayMetrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

// WithPublishRetry overrides the retry policy used for PUBLISH.
func WithPublishRetry(p retry.Policy) RelayOption {
	return func(r *Relay) { r.policy = p }
}

func NewRelay(rdb *goredis.Client, opts ...RelayOption) *Relay {
	r := &Relay{
		rdb:     rdb,
		channel: DefaultRelayChannel,
		origin:  uuid.NewString(),
		policy:  retry.Policy{MaxAttempts: 3, InitialBackoff: 50 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish sends env to every instance subscribed to the relay channel.
func (r *Relay) Publish(ctx context.Context, env domain.Envelope, target domain.Target) error {
	data, err := json.Marshal(relayMessage{Origin: r.origin, Target: target, Envelope: env})
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}

	err = retry.DoVoid(ctx, r.policy, classifyPublish, func(ctx context.Context) error {
		return r.rdb.Publish(ctx, r.channel, data).Err()
	})
	r.countPublished(err)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.channel, err)
	}
	return nil
}

func classifyPublish(err error) retry.Action {
	if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	return retry.Retry
}

// Start subscribes to the relay channel and delivers incoming envelopes to d until Close.
// It returns once the subscription is confirmed, so messages published afterwards are seen.
func (r *Relay) Start(ctx context.Context, d Deliverer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return errors.New("relay already started")
	}

	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.sub = sub

	msgs := sub.Channel()
	r.wg.Go(func() {
		for msg := range msgs {
			r.handle(d, msg.Payload)
		}
	})
	slog.Info("Relay subscribed", "channel", r.channel, "origin", r.origin)
	return nil
}

func (r *Relay) handle(d Deliverer, payload string) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		slog.Warn("Dropping malformed relay message", "channel", r.channel, "error", err)
		r.countReceived("malformed")
		return
	}

	delivered, err := d.SendEnvelope(msg.Envelope, msg.Target)
	if err != nil {
		slog.Warn("Relay message rejected", "origin", msg.Origin, "target", msg.Target.String(), "error", err)
		r.countReceived("rejected")
		return
	}
	r.countReceived("delivered")
	slog.Debug("Relay message delivered", "origin", msg.Origin, "type", msg.Envelope.Type, "target", msg.Target.String(), "delivered", delivered)
}

// Close unsubscribes and waits for the delivery loop to finish.
func (r *Relay) Close() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Close()
	r.wg.Wait()
	return err
}

func (r *Relay) countPublished(err error) {
	if r.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.metrics.Published.WithLabelValues(result).Inc()
}

func (r *Relay) countReceived(result string) {
	if r.metrics != nil {
		r.metrics.Received.WithLabelValues(result).Inc()
	}
}
