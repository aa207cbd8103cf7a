package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "equity-engine/internal/errors"
)

func TestLoadWritesTemplateOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	require.Error(t, err, "first load reports the freshly written template")
	assert.FileExists(t, filepath.Join(dir, "engine.toml"))

	// The template itself is a loadable configuration.
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.IsPaperMode())
	assert.Equal(t, ApprovalManual, cfg.Approval.Mode)
	assert.Equal(t, TimeoutReject, cfg.Approval.OnTimeout)
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "engine.toml"), []byte("[engine]\nmode = \"paper\"\n"), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Engine.CycleSeconds)
	assert.Equal(t, 30*time.Minute, cfg.CashMaxAge())
	assert.Equal(t, 30*time.Second, cfg.OrderTimeout())
	assert.Equal(t, 60*time.Minute, cfg.ApprovalTimeout())
	assert.Equal(t, 20, cfg.Conditional.MaxActiveOrders)
	assert.Equal(t, map[string]float64{"0": 6.0, "60": 4.0, "240": 2.0}, cfg.ROI)
	assert.False(t, cfg.DCA.Enabled)
	assert.True(t, cfg.Trailing.Enabled)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	write := func(t *testing.T, body string) string {
		t.Helper()
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "engine.toml"), []byte(body), 0644))
		return dir
	}

	cases := []struct {
		name string
		body string
	}{
		{"bad mode", "[engine]\nmode = \"demo\"\n"},
		{"bad approval mode", "[approval]\nmode = \"maybe\"\n"},
		{"bad timeout policy", "[approval]\non_timeout = \"shrug\"\n"},
		{"oversized position", "[risk]\nmax_position_percent = 150.0\n"},
		{"inverted stop bounds", "[risk]\nmin_stoploss_percent = 10.0\nmax_stoploss_percent = 2.0\n"},
		{"zero cycle", "[engine]\ncycle_seconds = 0\n"},
		{"dca without rounds", "[dca]\nenabled = true\nmax_rounds = 0\n"},
		{"descending partial tiers", "[partial]\nenabled = true\n[[partial.tiers]]\nprofit_percent = 20.0\nsell_percent = 25.0\n[[partial.tiers]]\nprofit_percent = 10.0\nsell_percent = 25.0\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(write(t, tc.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
		})
	}
}

func TestLoadParsesPartialTiers(t *testing.T) {
	dir := t.TempDir()
	body := `[partial]
enabled = true

[[partial.tiers]]
profit_percent = 10.0
sell_percent = 25.0

[[partial.tiers]]
profit_percent = 20.0
sell_percent = 50.0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "engine.toml"), []byte(body), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Partial.Tiers, 2)
	assert.Equal(t, 10.0, cfg.Partial.Tiers[0].ProfitPercent)
	assert.Equal(t, 50.0, cfg.Partial.Tiers[1].SellPercent)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "engine.toml"), []byte("[engine]\nmode = \"paper\"\n"), 0644))

	t.Setenv("ENGINE_DATABASE_PATH", "/tmp/override.db")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok123")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Engine.DatabasePath)
	assert.Equal(t, "tok123", cfg.Notifications.Telegram.BotToken)
}
