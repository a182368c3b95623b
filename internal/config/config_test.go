package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"SLA_MINUTES", "RECALL_MINUTES", "AUDIT_CAP", "TICK_INTERVAL", "ADMIN_EMAILS", "DEFAULT_RETURN_ZONE"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Minute, cfg.SLA)
	assert.Equal(t, 15*time.Minute, cfg.Recall)
	assert.Equal(t, 200, cfg.AuditCap)
	assert.Equal(t, 30*time.Second, cfg.TickInterval)
	assert.Equal(t, DefaultReturnZone, cfg.DefaultReturnZone)
	assert.Equal(t, DefaultAdminEmails, cfg.AdminEmails)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SLA_MINUTES", "60")
	t.Setenv("RECALL_MINUTES", "10")
	t.Setenv("AUDIT_CAP", "250")
	t.Setenv("TICK_INTERVAL", "5s")
	t.Setenv("ADMIN_EMAILS", " a@example.com , b@example.com ,")
	t.Setenv("JWT_EXPIRY", "2h")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 60*time.Minute, cfg.SLA)
	assert.Equal(t, 10*time.Minute, cfg.Recall)
	assert.Equal(t, 250, cfg.AuditCap)
	assert.Equal(t, 5*time.Second, cfg.TickInterval)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.AdminEmails)
	assert.Equal(t, 2*time.Hour, cfg.JWTExpiry)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("AUDIT_CAP", "-3")
	t.Setenv("TICK_INTERVAL", "soon")
	t.Setenv("SLA_MINUTES", "ninety")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultAuditCap, cfg.AuditCap)
	assert.Equal(t, DefaultTickInterval, cfg.TickInterval)
	assert.Equal(t, 90*time.Minute, cfg.SLA)
}

func TestLoadConfig_NonPositiveTimersFallBack(t *testing.T) {
	t.Setenv("SLA_MINUTES", "0")
	t.Setenv("RECALL_MINUTES", "-5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Minute, cfg.SLA)
	assert.Equal(t, 15*time.Minute, cfg.Recall)
}
