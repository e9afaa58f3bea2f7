package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/store"
	"github.com/netsblox/cloud/internal/usererr"
)

const magicLinkTTL = 15 * time.Minute

// MagicLinks implements passwordless login: single-use, short-lived
// tokens exchanged for a session.
type MagicLinks struct {
	metadata store.MetadataStore
	sender   store.EmailSender
}

func NewMagicLinks(metadata store.MetadataStore, sender store.EmailSender) *MagicLinks {
	return &MagicLinks{metadata: metadata, sender: sender}
}

// Issue mints a fresh single-use token for username and emails it. The
// caller authorizes the request with TrySetPasswordToken or an equivalent
// login-flow witness before calling this.
func (m *MagicLinks) Issue(ctx context.Context, username, email, linkBaseURL string) error {
	id := model.MagicLinkID(uuid.NewString())
	if err := m.metadata.CreateMagicLink(ctx, id, username, time.Now().Add(magicLinkTTL)); err != nil {
		return usererr.DatabaseError(err)
	}
	if m.sender == nil {
		return nil
	}
	body := "Use this link to sign in: " + linkBaseURL + "?token=" + string(id)
	if err := m.sender.Send(ctx, email, "Your NetsBlox sign-in link", body); err != nil {
		return usererr.Wrap(usererr.EmailBuild, err)
	}
	return nil
}

// Consume redeems a token exactly once; a second redemption fails.
func (m *MagicLinks) Consume(ctx context.Context, token model.MagicLinkID) (string, error) {
	username, err := m.metadata.ConsumeMagicLink(ctx, token)
	if err != nil {
		return "", usererr.New(usererr.InviteNotFound, "magic link not found or already used")
	}
	return username, nil
}
