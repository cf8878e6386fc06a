package domain

import "fmt"

// TargetKind selects how a broadcast target resolves to connections.
type TargetKind string

const (
	TargetAll      TargetKind = "all"
	TargetTopic    TargetKind = "topic"
	TargetIdentity TargetKind = "identity"
)

// Target describes the recipients of a broadcast.
type Target struct {
	Kind  TargetKind `json:"kind"`
	Value string     `json:"value,omitempty"`
}

// All targets every registered connection.
func All() Target { return Target{Kind: TargetAll} }

// Topic targets the subscribers of topic.
func Topic(topic string) Target { return Target{Kind: TargetTopic, Value: topic} }

// ForIdentity targets every connection owned by identityID.
func ForIdentity(identityID string) Target { return Target{Kind: TargetIdentity, Value: identityID} }

// Validate rejects unknown kinds and empty topic/identity values.
func (t Target) Validate() error {
	switch t.Kind {
	case TargetAll:
		return nil
	case TargetTopic, TargetIdentity:
		if t.Value == "" {
			return fmt.Errorf("target %s requires a value", t.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown target kind %q", t.Kind)
	}
}

func (t Target) String() string {
	if t.Kind == TargetAll {
		return string(TargetAll)
	}
	return string(t.Kind) + ":" + t.Value
}
