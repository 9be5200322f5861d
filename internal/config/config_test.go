package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("PAYMENT_PENDING_TTL", "")
	t.Setenv("ADMIN_EMAILS", "")

	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.False(t, cfg.Production())
	assert.Equal(t, 30*time.Minute, cfg.PaymentPendingTTL)
	assert.Equal(t, "bdt", cfg.PaymentCurrency)
	assert.Empty(t, cfg.AdminEmails)
	assert.Equal(t, DevSigningKey, cfg.JWTSigningKey)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ADMIN_EMAILS", " Root@X.com, ,ops@x.com")
	t.Setenv("RATE_LIMIT_PER_MIN", "10")
	t.Setenv("RECONCILE_INTERVAL", "bogus")
	t.Setenv("MIGRATE_ON_START", "false")

	cfg := Load()
	assert.True(t, cfg.Production())
	assert.Equal(t, []string{"root@x.com", "ops@x.com"}, cfg.AdminEmails)
	assert.Equal(t, 10, cfg.RateLimitPerMin)
	assert.Equal(t, 5*time.Minute, cfg.ReconcileInterval)
	assert.False(t, cfg.MigrateOnStart)
}

func TestValidateRefusesDevSigningKeyInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SIGNING_KEY", "")

	cfg := Load()
	require.Error(t, cfg.Validate())

	cfg.JWTSigningKey = ""
	require.Error(t, cfg.Validate())

	t.Setenv("JWT_SIGNING_KEY", "a-long-private-key")
	assert.NoError(t, Load().Validate())
}
