package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsblox/cloud/internal/store"
)

func TestOAuthClientRegisterAndIssueToken(t *testing.T) {
	s := store.NewMemoryStore()
	clients := NewOAuthClients(s)
	ctx := context.Background()

	id, secret, err := clients.Register(ctx, "bob", "MyApp", "https://example.com/callback")
	require.NoError(t, err)
	assert.NotEmpty(t, secret)

	token, exp, err := clients.IssueToken(ctx, id, secret, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, exp.After(time.Now()))

	c, err := clients.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
}

func TestOAuthClientIssueTokenWrongSecret(t *testing.T) {
	s := store.NewMemoryStore()
	clients := NewOAuthClients(s)
	ctx := context.Background()

	id, _, err := clients.Register(ctx, "bob", "MyApp", "https://example.com/callback")
	require.NoError(t, err)

	_, _, err = clients.IssueToken(ctx, id, "totally-wrong-secret", time.Hour)
	assert.Error(t, err)
}

func TestOAuthClientRevokeRevokesExistingTokens(t *testing.T) {
	s := store.NewMemoryStore()
	clients := NewOAuthClients(s)
	ctx := context.Background()

	id, secret, err := clients.Register(ctx, "bob", "MyApp", "https://example.com/callback")
	require.NoError(t, err)

	token, _, err := clients.IssueToken(ctx, id, secret, time.Hour)
	require.NoError(t, err)

	require.NoError(t, clients.Revoke(ctx, id))

	_, err = clients.ValidateToken(ctx, token)
	assert.Error(t, err)

	_, _, err = clients.IssueToken(ctx, id, secret, time.Hour)
	assert.Error(t, err)
}

func TestOAuthClientValidateTokenUnknown(t *testing.T) {
	s := store.NewMemoryStore()
	clients := NewOAuthClients(s)

	_, err := clients.ValidateToken(context.Background(), "no-such-token")
	assert.Error(t, err)
}
