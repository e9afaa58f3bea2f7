package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"JWT_SECRET", "PORT", "MONGO_URI", "REDIS_ENABLED", "REDIS_ADDR", "REDIS_PASSWORD",
		"BLOB_DRIVER", "S3_BUCKET", "S3_REGION", "GO_ENV", "LOG_LEVEL", "DEVELOPMENT_MODE",
		"ALLOWED_ORIGINS", "AUTHORIZED_HOST_HEADER",
	} {
		t.Setenv(k, "")
	}
}

func TestValidateEnvRequiresJWTSecret(t *testing.T) {
	clearEnv(t)
	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
}

func TestValidateEnvRejectsShortSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "tooshort")
	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET must be at least 32 characters")
}

func TestValidateEnvDefaultsPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "01234567890123456789012345678901")
	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, "7080", cfg.Port)
	assert.Equal(t, "memory", cfg.BlobDriver)
	assert.False(t, cfg.RedisEnabled)
}

func TestValidateEnvRejectsInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "01234567890123456789012345678901")
	t.Setenv("PORT", "not-a-port")
	_, err := ValidateEnv()
	assert.Error(t, err)
}

func TestValidateEnvRequiresS3BucketWhenS3Driver(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "01234567890123456789012345678901")
	t.Setenv("BLOB_DRIVER", "s3")
	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3_BUCKET is required")
}

func TestValidateEnvRedisAddrValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "01234567890123456789012345678901")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "not-valid")
	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR must be in format")
}

func TestValidateEnvRedisDefaultsWhenEnabledButUnset(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "01234567890123456789012345678901")
	t.Setenv("REDIS_ENABLED", "true")
	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestRedactSecretShortensLongValues(t *testing.T) {
	assert.Equal(t, "***", redactSecret("short"))
	assert.Equal(t, "01234567***", redactSecret("01234567890123456789"))
}
