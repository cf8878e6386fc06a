package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/adapter/metrics"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const defaultReadLimit = 64 * 1024

// InboundHandler processes domain envelopes sent by a client.
type InboundHandler interface {
	HandleInbound(ctx context.Context, conn *Connection, env domain.Envelope) error
}

type InboundHandlerFunc func(ctx context.Context, conn *Connection, env domain.Envelope) error

func (f InboundHandlerFunc) HandleInbound(ctx context.Context, conn *Connection, env domain.Envelope) error {
	return f(ctx, conn, env)
}

// LogInbound accepts known domain types and logs them. Anything else is rejected.
var LogInbound = InboundHandlerFunc(func(_ context.Context, conn *Connection, env domain.Envelope) error {
	if !env.Type.IsDomain() {
		return fmt.Errorf("unsupported message type %q", env.Type)
	}
	slog.Info("Inbound message", "connection_id", conn.ID(), "identity", conn.Identity().ID, "type", env.Type)
	return nil
})

// Welcome is the data of the connection_established envelope.
type Welcome struct {
	ConnectionID string `json:"connection_id"`
	Identity     string `json:"identity,omitempty"`
}

type HandlerConfig struct {
	WriteTimeout   time.Duration
	OutboundBuffer int
	ReadLimit      int64
	Inbound        InboundHandler
	Metrics        *metrics.WebSocketMetrics
}

// ConnectionHandler owns the read side of upgraded connections.
type ConnectionHandler struct {
	registry    *Registry
	broadcaster *Broadcaster
	clock       clockwork.Clock
	cfg         HandlerConfig
}

func NewConnectionHandler(registry *Registry, broadcaster *Broadcaster, clock clockwork.Clock, cfg HandlerConfig) *ConnectionHandler {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	return &ConnectionHandler{registry: registry, broadcaster: broadcaster, clock: clock, cfg: cfg}
}

// Serve registers ws and runs its read loop until the peer disconnects or the
// connection is evicted. The connection is always unregistered on return.
func (h *ConnectionHandler) Serve(ctx context.Context, ws *websocket.Conn, identity domain.Identity) error {
	conn := NewConnection(ws, ConnectionOptions{
		Identity:     identity,
		RemoteAddr:   ws.RemoteAddr().String(),
		Clock:        h.clock,
		WriteTimeout: h.cfg.WriteTimeout,
		BufferSize:   h.cfg.OutboundBuffer,
		Metrics:      h.cfg.Metrics,
	})

	id, err := h.registry.Register(conn)
	if err != nil {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(closeWriteTimeout))
		_ = ws.Close()
		return fmt.Errorf("register connection: %w", err)
	}
	defer h.registry.Unregister(id)

	ws.SetReadLimit(h.cfg.ReadLimit)
	ws.SetPongHandler(func(string) error {
		conn.Touch()
		return nil
	})

	if err := h.broadcaster.sendTo(conn, domain.TypeConnectionEstablished, Welcome{ConnectionID: id, Identity: identity.ID}); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("Connection closed unexpectedly", "connection_id", id, "error", err)
			}
			return nil
		}
		conn.Touch()
		h.handleFrame(ctx, conn, frame)
	}
}

func (h *ConnectionHandler) handleFrame(ctx context.Context, conn *Connection, frame []byte) {
	env, err := domain.DecodeEnvelope(frame)
	if err != nil {
		if h.cfg.Metrics != nil {
			h.cfg.Metrics.MalformedReceived.Inc()
		}
		slog.Warn("Ignoring malformed frame", "connection_id", conn.ID(), "error", err)
		h.replyError(conn, "malformed message")
		return
	}
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.MessagesReceived.WithLabelValues(string(env.Type)).Inc()
	}

	switch env.Type {
	case domain.TypeHeartbeat:
		// Activity was already recorded.
	case domain.TypeSubscription:
		topic, err := domain.DecodeTopic(env)
		if err != nil {
			h.replyError(conn, err.Error())
			return
		}
		if err := h.registry.Subscribe(conn.ID(), topic); err != nil {
			if !errors.Is(err, domain.ErrUnknownConnection) {
				h.replyError(conn, err.Error())
			}
			return
		}
		_ = h.broadcaster.sendTo(conn, domain.TypeSubscription, domain.SubscriptionAck{Topic: topic, Status: "subscribed", Topics: h.registry.Topics(conn.ID())})
	case domain.TypeUnsubscription:
		topic, err := domain.DecodeTopic(env)
		if err != nil {
			h.replyError(conn, err.Error())
			return
		}
		h.registry.Unsubscribe(conn.ID(), topic)
		_ = h.broadcaster.sendTo(conn, domain.TypeUnsubscription, domain.SubscriptionAck{Topic: topic, Status: "unsubscribed", Topics: h.registry.Topics(conn.ID())})
	default:
		if h.cfg.Inbound == nil {
			slog.Debug("Dropping inbound message without handler", "connection_id", conn.ID(), "type", env.Type)
			return
		}
		if err := h.cfg.Inbound.HandleInbound(ctx, conn, env); err != nil {
			slog.Warn("Inbound message rejected", "connection_id", conn.ID(), "type", env.Type, "error", err)
			h.replyError(conn, err.Error())
		}
	}
}

func (h *ConnectionHandler) replyError(conn *Connection, message string) {
	_ = h.broadcaster.sendTo(conn, domain.TypeError, domain.ErrorPayload{Message: message})
}
