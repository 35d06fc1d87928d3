package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoadPrecedence(t *testing.T) {
	cfg, err := load(
		[]string{"-a", ":9000", "-s", "flag-secret", "-d", "postgres://flag"},
		env(map[string]string{
			"DATABASE_URI":  "postgres://env",
			"KAFKA_BROKERS": "k1:9092,k2:9092",
			"NOTIFY_SINK":   "kafka",
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Handler.ServerAddr)
	assert.Equal(t, "flag-secret", cfg.Auth.Secret)
	assert.Equal(t, "postgres://env", cfg.Store.DBDsn)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Notify.Brokers)
	assert.Equal(t, "kafka", cfg.Notify.Sink)
	assert.Equal(t, "info", cfg.Logger.LogLevel)
	assert.Equal(t, 4*time.Minute, cfg.Lifecycle.ClaimWindow)
}

func TestLoadRequiresSecret(t *testing.T) {
	_, err := load(nil, env(nil))
	require.Error(t, err)
}

func TestPolicyOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
lifecycle:
  prep_window: 5m
balance:
  standard_price: 120
quota:
  ceiling: 20
  mvp_ties: skip
escalation:
  tiers:
    - strikes: 3
      duration: 72h
    - strikes: 6
      duration: 168h
  permanent_at: 9
  reset_strikes_on_unban: true
`), 0o600))

	cfg, err := load([]string{"-p", path}, env(map[string]string{"JWT_SECRET": "x"}))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Lifecycle.PrepWindow)
	assert.Equal(t, 4*time.Minute, cfg.Lifecycle.ClaimWindow)
	assert.Equal(t, 120, cfg.Balance.StandardPrice)
	assert.Equal(t, 50, cfg.Balance.MemberPrice)
	assert.Equal(t, 20, cfg.Quota.Ceiling)
	assert.Equal(t, "skip", cfg.Quota.MVPTies)
	assert.Equal(t, 2, cfg.Quota.MaxFailures)
	require.Len(t, cfg.Policy.Tiers, 2)
	assert.Equal(t, 72*time.Hour, cfg.Policy.Tiers[0].Duration)
	assert.True(t, cfg.Policy.ResetStrikesOnUnban)
}

func TestPolicyOverlayMissingFile(t *testing.T) {
	_, err := load(nil, env(map[string]string{"JWT_SECRET": "x", "POLICY_FILE": "/nonexistent/policy.yaml"}))
	require.Error(t, err)
}
