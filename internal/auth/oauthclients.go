package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/store"
	"github.com/netsblox/cloud/internal/usererr"
)

const oauthSecretBytes = 48

// OAuthClients implements client credential issuance and revocation
// against the metadata store's oauthClients/oauthTokens collections. A
// secret is shown to the caller exactly once and only its bcrypt hash is
// ever persisted.
type OAuthClients struct {
	metadata store.MetadataStore
}

func NewOAuthClients(metadata store.MetadataStore) *OAuthClients {
	return &OAuthClients{metadata: metadata}
}

// Register mints a new client id/secret pair for an authorized host
// integration. The plain secret is returned once and never stored.
func (o *OAuthClients) Register(ctx context.Context, owner, name, redirectURI string) (id model.OAuthClientID, secret string, err error) {
	plain, hash, err := generateSecret()
	if err != nil {
		return "", "", usererr.Wrap(usererr.DatabaseConnection, err)
	}
	clientID := model.OAuthClientID(uuid.NewString())
	c := model.OAuthClient{
		ID:          clientID,
		SecretHash:  hash,
		Owner:       owner,
		Name:        name,
		RedirectURI: redirectURI,
		Created:     time.Now(),
	}
	if err := o.metadata.CreateOAuthClient(ctx, c); err != nil {
		return "", "", usererr.DatabaseError(err)
	}
	return clientID, plain, nil
}

// Revoke marks a client and every token it has issued as revoked.
func (o *OAuthClients) Revoke(ctx context.Context, id model.OAuthClientID) error {
	if err := o.metadata.RevokeOAuthClient(ctx, id); err != nil {
		return usererr.DatabaseError(err)
	}
	if err := o.metadata.RevokeOAuthTokensForClient(ctx, id); err != nil {
		return usererr.DatabaseError(err)
	}
	return nil
}

// IssueToken validates a client's secret and mints a bearer token with
// the given lifetime; the returned token is the only copy of its id that
// exists outside the store.
func (o *OAuthClients) IssueToken(ctx context.Context, id model.OAuthClientID, secret string, ttl time.Duration) (token string, expiresAt time.Time, err error) {
	c, err := o.metadata.GetOAuthClient(ctx, id)
	if err != nil {
		return "", time.Time{}, usererr.New(usererr.UserNotFound, "unknown oauth client")
	}
	if c.Revoked {
		return "", time.Time{}, usererr.New(usererr.Permissions, "oauth client revoked")
	}
	if bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)) != nil {
		return "", time.Time{}, usererr.New(usererr.IncorrectPassword, "invalid client secret")
	}

	tokenID := uuid.NewString()
	exp := time.Now().Add(ttl)
	t := model.OAuthToken{ID: tokenID, ClientID: id, ExpiresAt: exp}
	if err := o.metadata.CreateOAuthToken(ctx, t); err != nil {
		return "", time.Time{}, usererr.DatabaseError(err)
	}
	return tokenID, exp, nil
}

// ValidateToken checks that a bearer token is unrevoked and unexpired,
// returning the client it belongs to.
func (o *OAuthClients) ValidateToken(ctx context.Context, token string) (*model.OAuthClient, error) {
	t, err := o.metadata.GetOAuthToken(ctx, token)
	if err != nil {
		return nil, usererr.New(usererr.LoginRequired, "invalid token")
	}
	if t.Revoked || time.Now().After(t.ExpiresAt) {
		return nil, usererr.New(usererr.LoginRequired, "token expired or revoked")
	}
	c, err := o.metadata.GetOAuthClient(ctx, t.ClientID)
	if err != nil || c.Revoked {
		return nil, usererr.New(usererr.LoginRequired, "client revoked")
	}
	return c, nil
}

func generateSecret() (plain, hash string, err error) {
	b := make([]byte, oauthSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	plain = base64.URLEncoding.EncodeToString(b)
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return plain, string(hashed), nil
}
