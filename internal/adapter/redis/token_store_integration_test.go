package redis

import (
	"context"
	"testing"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStore_ValidateKnownToken(t *testing.T) {
	store := NewTokenStore(setupTestClient(t))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "secret", "device_42", 0))

	identity, err := store.Validate(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{ID: "device_42"}, identity)
}

func TestTokenStore_RejectsUnknownAndEmpty(t *testing.T) {
	store := NewTokenStore(setupTestClient(t))
	ctx := context.Background()

	_, err := store.Validate(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)

	_, err = store.Validate(ctx, "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestTokenStore_Revoke(t *testing.T) {
	store := NewTokenStore(setupTestClient(t))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "secret", "device_42", time.Minute))
	require.NoError(t, store.Revoke(ctx, "secret"))
	require.NoError(t, store.Revoke(ctx, "never-existed"))

	_, err := store.Validate(ctx, "secret")
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestTokenStore_PutRejectsEmpty(t *testing.T) {
	store := NewTokenStore(setupTestClient(t))
	assert.Error(t, store.Put(context.Background(), "", "device_42", 0))
	assert.Error(t, store.Put(context.Background(), "secret", "", 0))
}
