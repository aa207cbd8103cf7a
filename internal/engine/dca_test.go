package engine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity-engine/internal/config"
	"equity-engine/internal/models"
)

func testDCA(cfg config.DCAConfig) *DCAManager {
	return NewDCAManager(cfg, nil, zerolog.Nop())
}

func dcaConfig() config.DCAConfig {
	return config.DCAConfig{
		Enabled:               true,
		MaxRounds:             3,
		DropPercentPerRound:   5.0,
		SizeMultiplier:        1.0,
		MinTimeBetweenMinutes: 60,
	}
}

func freshPosition(shares int, entry float64) *models.Position {
	now := time.Now().Add(-2 * time.Hour)
	return &models.Position{
		Symbol:        "ACME",
		Shares:        shares,
		AvgEntryPrice: entry,
		TotalInvested: entry * float64(shares),
		OpenedAt:      now,
		LastBuyAt:     now,
	}
}

func TestDCAFirstRoundRequiresDrop(t *testing.T) {
	d := testDCA(dcaConfig())
	pos := freshPosition(100, 100)
	now := time.Now()

	// 4% down: not enough for round one's 5% gate.
	_, ok := d.EvaluatePosition(pos, 96, 1e6, now)
	assert.False(t, ok)

	// Exactly 5% down qualifies.
	decision, ok := d.EvaluatePosition(pos, 95, 1e6, now)
	require.True(t, ok)
	assert.Equal(t, 100, decision.Shares)
	assert.InDelta(t, 97.5, decision.NewAverage, 1e-9)
}

func TestDCADropScalesWithRound(t *testing.T) {
	d := testDCA(dcaConfig())
	pos := freshPosition(200, 97.5)
	// One completed round: 100 original shares bought at 100, 100 more at 95.
	pos.DCACount = 1
	pos.TotalInvested = 100*100 + 100*95.0

	now := time.Now()

	// Round two gates at 10% below the original 100 entry, not the average.
	_, ok := d.EvaluatePosition(pos, 91, 1e6, now)
	assert.False(t, ok)

	decision, ok := d.EvaluatePosition(pos, 90, 1e6, now)
	require.True(t, ok)
	assert.Equal(t, 100, decision.Shares)
}

func TestDCAMultiplierGrowsRounds(t *testing.T) {
	cfg := dcaConfig()
	cfg.SizeMultiplier = 2.0
	d := testDCA(cfg)

	pos := freshPosition(100, 100)
	decision, ok := d.EvaluatePosition(pos, 95, 1e6, time.Now())
	require.True(t, ok)
	assert.Equal(t, 100, decision.Shares, "round one matches the original size")

	// After round one: 100 + 200 shares, invested 100*100 + 200*95.
	pos.DCACount = 1
	pos.Shares = 300
	pos.TotalInvested = 10000 + 200*95.0
	pos.AvgEntryPrice = pos.TotalInvested / 300

	decision, ok = d.EvaluatePosition(pos, 90, 1e6, time.Now())
	require.True(t, ok)
	assert.Equal(t, 200, decision.Shares, "round two doubles again")
}

func TestDCARespectsMaxRounds(t *testing.T) {
	d := testDCA(dcaConfig())
	pos := freshPosition(100, 100)
	pos.DCACount = 3

	_, ok := d.EvaluatePosition(pos, 50, 1e6, time.Now())
	assert.False(t, ok)
}

func TestDCATimeGate(t *testing.T) {
	d := testDCA(dcaConfig())
	pos := freshPosition(100, 100)
	pos.LastBuyAt = time.Now().Add(-30 * time.Minute)

	_, ok := d.EvaluatePosition(pos, 90, 1e6, time.Now())
	assert.False(t, ok, "30 minutes since last buy, gate is 60")

	pos.LastBuyAt = time.Now().Add(-61 * time.Minute)
	_, ok = d.EvaluatePosition(pos, 90, 1e6, time.Now())
	assert.True(t, ok)
}

func TestDCACashGate(t *testing.T) {
	d := testDCA(dcaConfig())
	pos := freshPosition(100, 100)

	_, ok := d.EvaluatePosition(pos, 90, 8999, time.Now())
	assert.False(t, ok, "round needs 100 shares at 90")

	_, ok = d.EvaluatePosition(pos, 90, 9000, time.Now())
	assert.True(t, ok)
}

func TestDCADisabled(t *testing.T) {
	cfg := dcaConfig()
	cfg.Enabled = false
	d := testDCA(cfg)

	_, ok := d.EvaluatePosition(freshPosition(100, 100), 50, 1e6, time.Now())
	assert.False(t, ok)
}
