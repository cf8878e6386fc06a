package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies the payload carried by an Envelope.
type MessageType string

// Control types.
const (
	TypeHeartbeat             MessageType = "heartbeat"
	TypeSubscription          MessageType = "subscription"
	TypeUnsubscription        MessageType = "unsubscription"
	TypeConnectionEstablished MessageType = "connection_established"
	TypeError                 MessageType = "error"
)

// Domain event types. Payload schemas are owned by the producing service.
const (
	TypeDeviceStatus    MessageType = "device_status"
	TypeLiveMetrics     MessageType = "live_metrics"
	TypeNotification    MessageType = "notification"
	TypeSecurityAlert   MessageType = "security_alert"
	TypeDeviceAction    MessageType = "device_action"
	TypeSystemMessage   MessageType = "system_message"
	TypePerformanceData MessageType = "performance_data"
)

var domainTypes = map[MessageType]struct{}{
	TypeDeviceStatus:    {},
	TypeLiveMetrics:     {},
	TypeNotification:    {},
	TypeSecurityAlert:   {},
	TypeDeviceAction:    {},
	TypeSystemMessage:   {},
	TypePerformanceData: {},
}

// IsControl reports whether t is handled by the connection layer itself.
func (t MessageType) IsControl() bool {
	switch t {
	case TypeHeartbeat, TypeSubscription, TypeUnsubscription, TypeConnectionEstablished, TypeError:
		return true
	default:
		return false
	}
}

// IsDomain reports whether t is one of the known domain event types.
func (t MessageType) IsDomain() bool {
	_, ok := domainTypes[t]
	return ok
}

// Envelope is the typed wrapper around every transmitted message.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope marshals payload into an Envelope stamped with now.
// A nil payload produces an envelope without data.
func NewEnvelope(msgType MessageType, payload any, now time.Time) (Envelope, error) {
	env := Envelope{Type: msgType, Timestamp: now.UTC()}
	if payload == nil {
		return env, nil
	}

	if raw, ok := payload.(json.RawMessage); ok {
		env.Data = raw
		return env, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env.Data = data
	return env, nil
}

// Encode returns the JSON wire form of the envelope.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a wire frame. Frames without a type are malformed.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if strings.TrimSpace(string(env.Type)) == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	return env, nil
}

// SubscriptionRequest is the data of subscription and unsubscription envelopes.
type SubscriptionRequest struct {
	Topic string `json:"topic"`
}

// SubscriptionAck is sent back for every processed subscription change. Topics lists
// the connection's subscriptions after the change.
type SubscriptionAck struct {
	Topic  string   `json:"topic"`
	Status string   `json:"status"`
	Topics []string `json:"topics,omitempty"`
}

// ErrorPayload is the data of an error envelope.
type ErrorPayload struct {
	Message string `json:"message"`
}

// DecodeTopic extracts and validates the topic of a subscription envelope.
func DecodeTopic(env Envelope) (string, error) {
	var req SubscriptionRequest
	if len(env.Data) == 0 {
		return "", fmt.Errorf("%w: missing data", ErrInvalidTopic)
	}
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return "", fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	return topic, nil
}
