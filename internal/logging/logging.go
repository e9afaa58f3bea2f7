// Package logging wraps a process-global zap logger and pulls
// request-scoped identifiers out of context so call sites don't have to.
package logging

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	UsernameKey      contextKey = "username"
	ProjectIDKey     contextKey = "project_id"
	ClientIDKey      contextKey = "client_id"
)

// Initialize sets up the global logger based on the environment. Safe to
// call more than once; only the first call takes effect.
func Initialize(development bool) error {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		logger, err = cfg.Build(zap.AddCallerSkip(1))
	})
	return err
}

// GetLogger returns the global logger, building a development fallback if
// Initialize was never called (unit tests).
func GetLogger() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Info(msg, appendContextFields(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, appendContextFields(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Error(msg, appendContextFields(ctx, fields)...)
}

func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, appendContextFields(ctx, fields)...)
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if cid, ok := ctx.Value(CorrelationIDKey).(string); ok {
		fields = append(fields, zap.String("correlation_id", cid))
	}
	if u, ok := ctx.Value(UsernameKey).(string); ok {
		fields = append(fields, zap.String("username", u))
	}
	if pid, ok := ctx.Value(ProjectIDKey).(string); ok {
		fields = append(fields, zap.String("project_id", pid))
	}
	if cl, ok := ctx.Value(ClientIDKey).(string); ok {
		fields = append(fields, zap.String("client_id", cl))
	}
	fields = append(fields, zap.String("service", "netsblox-cloud"))
	return fields
}

// RedactEmail masks the local part of an email address for log lines.
func RedactEmail(email string) string {
	if len(email) == 0 {
		return ""
	}
	for i, c := range email {
		if c == '@' {
			if i > 0 {
				return "***" + email[i:]
			}
			return "***"
		}
	}
	return "***"
}
