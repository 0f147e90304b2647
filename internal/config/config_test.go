package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
ingest:
  handles: [kol_alpha]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 80.0, cfg.Ingest.AlertThreshold)
	assert.Equal(t, "@every 1m", cfg.Ingest.Schedule)
	assert.Equal(t, "0.01", cfg.Trade.Sizing.AmountMin)
	assert.Equal(t, "0.25", cfg.Trade.Sizing.SlippageMax)
	assert.Equal(t, "10", cfg.Trade.TargetMultiplier)
	assert.Equal(t, "0.15", cfg.Trade.RetentionFraction)
	assert.Equal(t, uint64(5000), cfg.Solana.Fees.FallbackMin)
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_BEARER", "secret-token")

	path := writeConfig(t, `
social:
  bearer_token: ${TEST_BEARER}
ingest:
  handles: [kol_alpha]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.Social.BearerToken)
}

func TestValidate_RequiresHandles(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: info
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handle")
}

func TestValidate_WalletKey(t *testing.T) {
	bad := writeConfig(t, `
ingest:
  handles: [kol_alpha]
trade:
  enabled: true
  wallet_key: not-a-key
`)
	_, err := Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet_key")

	key := solanago.NewWallet().PrivateKey.String()
	good := writeConfig(t, `
ingest:
  handles: [kol_alpha]
trade:
  enabled: true
  wallet_key: `+key+`
`)
	_, err = Load(good)
	require.NoError(t, err)
}

func TestValidate_LiveTradingRequiresKey(t *testing.T) {
	path := writeConfig(t, `
ingest:
  handles: [kol_alpha]
trade:
  enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet_key")
}

func TestValidate_DryRunAllowsMissingKey(t *testing.T) {
	path := writeConfig(t, `
ingest:
  handles: [kol_alpha]
trade:
  enabled: true
  dry_run: true
`)
	_, err := Load(path)
	require.NoError(t, err)

	// A key that is present must still parse, dry run or not.
	bad := writeConfig(t, `
ingest:
  handles: [kol_alpha]
trade:
  enabled: true
  dry_run: true
  wallet_key: not-a-key
`)
	_, err = Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet_key")
}

func TestDurationConversions(t *testing.T) {
	path := writeConfig(t, `
social:
  timeout_sec: 7
ingest:
  handles: [kol_alpha]
trade:
  confirm_poll_ms: 250
  monitor_deadline_min: 90
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7*time.Second, cfg.SocialHTTP().Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Executor().ConfirmPollInterval)
	assert.Equal(t, 90*time.Minute, cfg.Controller().MonitorDeadline)
}

func TestValidate_BadLogLevel(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: loud
ingest:
  handles: [kol_alpha]
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}
