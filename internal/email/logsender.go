// Package email provides the one EmailSender this build ships: rendering
// and delivery are out of scope, so magic-link and notification emails
// are just logged.
package email

import (
	"context"

	"go.uber.org/zap"

	"github.com/netsblox/cloud/internal/logging"
)

// LogSender implements store.EmailSender by logging the message instead
// of delivering it.
type LogSender struct{}

func NewLogSender() *LogSender { return &LogSender{} }

func (LogSender) Send(ctx context.Context, to, subject, body string) error {
	logging.Info(ctx, "email send (logged, not delivered)",
		zap.String("to", to), zap.String("subject", subject))
	return nil
}
