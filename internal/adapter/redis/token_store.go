package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const tokenKeyPrefix = "auth:token:"

func tokenKey(token string) string {
	return tokenKeyPrefix + token
}

// TokenStore keeps handshake credentials in Redis. Each token is a string key
// holding the identity id it authenticates.
type TokenStore struct {
	rdb *goredis.Client
}

var _ domain.IdentityValidator = (*TokenStore)(nil)

func NewTokenStore(rdb *goredis.Client) *TokenStore {
	return &TokenStore{rdb: rdb}
}

// Validate resolves a token to its identity. Unknown tokens yield domain.ErrInvalidCredential;
// any other error means Redis could not be asked.
func (s *TokenStore) Validate(ctx context.Context, credential string) (domain.Identity, error) {
	if strings.TrimSpace(credential) == "" {
		return domain.Identity{}, domain.ErrInvalidCredential
	}

	identityID, err := s.rdb.Get(ctx, tokenKey(credential)).Result()
	if errors.Is(err, goredis.Nil) {
		return domain.Identity{}, domain.ErrInvalidCredential
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to look up token: %w", err)
	}
	if identityID == "" {
		return domain.Identity{}, domain.ErrInvalidCredential
	}
	return domain.Identity{ID: identityID}, nil
}

// Put stores token for identityID. A zero ttl keeps the token until revoked.
func (s *TokenStore) Put(ctx context.Context, token, identityID string, ttl time.Duration) error {
	if token == "" || identityID == "" {
		return errors.New("token and identity must not be empty")
	}
	if err := s.rdb.Set(ctx, tokenKey(token), identityID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// Revoke deletes token. Revoking an unknown token is a no-op.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, tokenKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}
