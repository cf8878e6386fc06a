// Package auth resolves handshake credentials to identities.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"golang.org/x/sync/singleflight"
)

// StaticValidator accepts a fixed set of tokens, typically loaded from AUTH_TOKENS.
type StaticValidator struct {
	tokens map[string]string
}

var _ domain.IdentityValidator = (*StaticValidator)(nil)

// NewStaticValidator copies tokens, a token to identity id map.
func NewStaticValidator(tokens map[string]string) *StaticValidator {
	copied := make(map[string]string, len(tokens))
	for token, identityID := range tokens {
		copied[token] = identityID
	}
	return &StaticValidator{tokens: copied}
}

func (v *StaticValidator) Validate(_ context.Context, credential string) (domain.Identity, error) {
	identityID, ok := v.tokens[strings.TrimSpace(credential)]
	if !ok || credential == "" {
		return domain.Identity{}, domain.ErrInvalidCredential
	}
	return domain.Identity{ID: identityID}, nil
}

// Chain asks each validator in order. A credential rejected by one validator is
// offered to the next; any other error stops the chain.
type Chain []domain.IdentityValidator

func (c Chain) Validate(ctx context.Context, credential string) (domain.Identity, error) {
	for _, v := range c {
		identity, err := v.Validate(ctx, credential)
		if err == nil {
			return identity, nil
		}
		if !errors.Is(err, domain.ErrInvalidCredential) {
			return domain.Identity{}, err
		}
	}
	return domain.Identity{}, domain.ErrInvalidCredential
}

// Deduplicated collapses concurrent validations of the same credential into one
// call to the wrapped validator. A reconnect storm of one device hits Redis once.
type Deduplicated struct {
	next  domain.IdentityValidator
	group singleflight.Group
}

func NewDeduplicated(next domain.IdentityValidator) *Deduplicated {
	return &Deduplicated{next: next}
}

func (d *Deduplicated) Validate(ctx context.Context, credential string) (domain.Identity, error) {
	result, err, _ := d.group.Do(credential, func() (any, error) {
		// Waiters share this call, so one caller's cancellation must not fail the others.
		return d.next.Validate(context.WithoutCancel(ctx), credential)
	})
	if err != nil {
		return domain.Identity{}, err
	}
	return result.(domain.Identity), nil
}
