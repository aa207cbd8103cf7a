package engine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity-engine/internal/config"
	"equity-engine/internal/models"
)

func partialConfig() config.PartialConfig {
	return config.PartialConfig{
		Enabled: true,
		Tiers: []config.PartialTier{
			{ProfitPercent: 10.0, SellPercent: 25.0},
			{ProfitPercent: 20.0, SellPercent: 50.0},
		},
	}
}

func profitPosition(shares int, pnlPct float64) *models.Position {
	return &models.Position{
		Symbol:     "ACME",
		Shares:     shares,
		PnLPercent: pnlPct,
	}
}

func TestPartialTierProgression(t *testing.T) {
	p := NewPartialExitManager(partialConfig(), nil, nil, zerolog.Nop())

	// Below the first tier: nothing to do.
	_, ok := p.EvaluatePosition(profitPosition(100, 9.9))
	assert.False(t, ok)

	// First tier at exactly 10% trims a quarter.
	decision, ok := p.EvaluatePosition(profitPosition(100, 10.0))
	require.True(t, ok)
	assert.Equal(t, 25, decision.Shares)
	assert.Equal(t, 0, decision.Tier)

	// With tier one consumed, 15% is not yet tier two.
	pos := profitPosition(75, 15.0)
	pos.PartialExitCount = 1
	_, ok = p.EvaluatePosition(pos)
	assert.False(t, ok)

	// Tier two sells half of what remains.
	pos.PnLPercent = 20.0
	decision, ok = p.EvaluatePosition(pos)
	require.True(t, ok)
	assert.Equal(t, 37, decision.Shares, "floor of 75 * 50%")
	assert.Equal(t, 1, decision.Tier)
}

func TestPartialSkipsConsumedTiers(t *testing.T) {
	p := NewPartialExitManager(partialConfig(), nil, nil, zerolog.Nop())

	// A 25% run-up with tier one unconsumed still fires tier one first.
	decision, ok := p.EvaluatePosition(profitPosition(100, 25.0))
	require.True(t, ok)
	assert.Equal(t, 0, decision.Tier)

	// All tiers consumed: no further trims however far it runs.
	pos := profitPosition(40, 80.0)
	pos.PartialExitCount = 2
	_, ok = p.EvaluatePosition(pos)
	assert.False(t, ok)
}

func TestPartialSubShareTrimBlocked(t *testing.T) {
	p := NewPartialExitManager(partialConfig(), nil, nil, zerolog.Nop())

	// 3 shares at 25% floors to zero; the tier waits.
	_, ok := p.EvaluatePosition(profitPosition(3, 12.0))
	assert.False(t, ok)

	decision, ok := p.EvaluatePosition(profitPosition(4, 12.0))
	require.True(t, ok)
	assert.Equal(t, 1, decision.Shares)
}

func TestPartialDisabled(t *testing.T) {
	cfg := partialConfig()
	cfg.Enabled = false
	p := NewPartialExitManager(cfg, nil, nil, zerolog.Nop())

	_, ok := p.EvaluatePosition(profitPosition(100, 50.0))
	assert.False(t, ok)

	p = NewPartialExitManager(config.PartialConfig{Enabled: true}, nil, nil, zerolog.Nop())
	_, ok = p.EvaluatePosition(profitPosition(100, 50.0))
	assert.False(t, ok, "no tiers configured")
}
