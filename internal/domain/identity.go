package domain

import "context"

// Identity is the validated owner of a connection. The zero value is anonymous.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Anonymous reports whether no identity was established at handshake time.
func (i Identity) Anonymous() bool { return i.ID == "" }

// IdentityValidator resolves a handshake credential to an identity.
// Implementations return ErrInvalidCredential (possibly wrapped) for rejected credentials.
type IdentityValidator interface {
	Validate(ctx context.Context, credential string) (Identity, error)
}

// Relay forwards an encoded envelope to every server instance, including the caller.
type Relay interface {
	Publish(ctx context.Context, env Envelope, target Target) error
}
