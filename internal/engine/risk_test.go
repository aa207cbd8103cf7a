package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"equity-engine/internal/config"
	"equity-engine/internal/models"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxConcurrentPositions: 5,
		MaxPositionPercent:     10.0,
		MaxSectorExposure:      30.0,
		MaxCorrelation:         0.8,
		MinStopLossPercent:     1.0,
		MaxStopLossPercent:     15.0,
		MinRiskReward:          1.5,
		DailyLossLimitPercent:  3.0,
		CooldownMinutes:        120,
		CooldownSizeFactor:     0.5,
		LossStreakThreshold:    3,
		LossStreakSizeFactor:   0.75,
		MinSizeFactor:          0.25,
		DrawdownAlertPercent:   10.0,
	}
}

type breachRecorder struct {
	mu    sync.Mutex
	calls []float64
}

func (b *breachRecorder) HandleHardBreach(ctx context.Context, dailyPnLPercent float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, dailyPnLPercent)
}

func portfolio(openCount int, dailyPnLPct float64) *models.PortfolioState {
	return &models.PortfolioState{
		TotalValue:        100000,
		OpenPositionCount: openCount,
		DailyPnLPercent:   dailyPnLPct,
		SectorExposure:    map[string]float64{"tech": 25.0},
	}
}

func TestValidateTradeGateOrder(t *testing.T) {
	g := NewGuard(testRiskConfig(), nil, zerolog.Nop())

	cases := []struct {
		name     string
		proposal TradeProposal
		pf       *models.PortfolioState
		gate     string
	}{
		{
			name:     "position count",
			proposal: TradeProposal{Side: models.SideBuy, SizePercent: 5, StopPercent: 5},
			pf:       portfolio(5, 0),
			gate:     "position_count",
		},
		{
			name:     "position size",
			proposal: TradeProposal{Side: models.SideBuy, SizePercent: 12, StopPercent: 5},
			pf:       portfolio(0, 0),
			gate:     "position_size",
		},
		{
			name:     "sector exposure",
			proposal: TradeProposal{Side: models.SideBuy, SizePercent: 8, Sector: "tech", StopPercent: 5},
			pf:       portfolio(0, 0),
			gate:     "sector_exposure",
		},
		{
			name:     "correlation",
			proposal: TradeProposal{Side: models.SideBuy, SizePercent: 5, Correlation: 0.9, StopPercent: 5},
			pf:       portfolio(0, 0),
			gate:     "correlation",
		},
		{
			name:     "stop too tight",
			proposal: TradeProposal{Side: models.SideBuy, SizePercent: 5, StopPercent: 0.5},
			pf:       portfolio(0, 0),
			gate:     "stop_bounds",
		},
		{
			name:     "stop too wide",
			proposal: TradeProposal{Side: models.SideBuy, SizePercent: 5, StopPercent: 20},
			pf:       portfolio(0, 0),
			gate:     "stop_bounds",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := g.ValidateTrade(tc.proposal, tc.pf)
			assert.False(t, d.Allowed)
			assert.Equal(t, tc.gate, d.Gate)
		})
	}

	ok := g.ValidateTrade(TradeProposal{Side: models.SideBuy, SizePercent: 5, StopPercent: 5}, portfolio(0, 0))
	assert.True(t, ok.Allowed)
}

func TestCorrelationGateSkippedForSell(t *testing.T) {
	g := NewGuard(testRiskConfig(), nil, zerolog.Nop())
	d := g.ValidateTrade(TradeProposal{Side: models.SideSell, SizePercent: 5, Correlation: 0.95, StopPercent: 5}, portfolio(0, 0))
	assert.True(t, d.Allowed)
}

func TestSizeMultiplierLossStreak(t *testing.T) {
	g := NewGuard(testRiskConfig(), nil, zerolog.Nop())
	assert.Equal(t, 1.0, g.SizeMultiplier())

	g.RecordTradeResult(-10)
	g.RecordTradeResult(-10)
	assert.Equal(t, 1.0, g.SizeMultiplier(), "below threshold keeps full size")

	g.RecordTradeResult(-10)
	assert.InDelta(t, 0.75, g.SizeMultiplier(), 1e-9)

	g.RecordTradeResult(-10)
	assert.InDelta(t, 0.75*0.75, g.SizeMultiplier(), 1e-9)

	g.RecordTradeResult(50)
	assert.Equal(t, 0, g.LossStreak())
	assert.Equal(t, 1.0, g.SizeMultiplier(), "win resets the streak")
}

func TestSizeMultiplierFloor(t *testing.T) {
	g := NewGuard(testRiskConfig(), nil, zerolog.Nop())
	for i := 0; i < 20; i++ {
		g.RecordTradeResult(-1)
	}
	assert.Equal(t, 0.25, g.SizeMultiplier())
}

func TestCheckDailyLossCooldownThenHardBreach(t *testing.T) {
	rec := &breachRecorder{}
	g := NewGuard(testRiskConfig(), rec, zerolog.Nop())
	ctx := context.Background()

	// First breach enters cool-down with halved sizing.
	g.CheckDailyLoss(ctx, portfolio(0, -3.5))
	assert.True(t, g.InCooldown())
	assert.InDelta(t, 0.5, g.SizeMultiplier(), 1e-9)
	assert.Empty(t, rec.calls)

	// Deeper loss while cooling, but short of twice the limit: no breach.
	g.CheckDailyLoss(ctx, portfolio(0, -5.0))
	assert.Empty(t, rec.calls)

	// Twice the limit while cooling fires the handler exactly once.
	g.CheckDailyLoss(ctx, portfolio(0, -6.5))
	assert.Len(t, rec.calls, 1)
	g.CheckDailyLoss(ctx, portfolio(0, -7.0))
	assert.Len(t, rec.calls, 1, "hard breach fires once")
}

func TestCheckDailyLossBelowLimitDoesNothing(t *testing.T) {
	rec := &breachRecorder{}
	g := NewGuard(testRiskConfig(), rec, zerolog.Nop())

	g.CheckDailyLoss(context.Background(), portfolio(0, -2.0))
	assert.False(t, g.InCooldown())
	assert.Empty(t, rec.calls)
}

func TestResetDailyClearsState(t *testing.T) {
	rec := &breachRecorder{}
	g := NewGuard(testRiskConfig(), rec, zerolog.Nop())
	ctx := context.Background()

	g.CheckDailyLoss(ctx, portfolio(0, -4.0))
	assert.True(t, g.InCooldown())

	g.ResetDaily()
	assert.False(t, g.InCooldown())

	// After reset a deep loss re-enters cool-down instead of hard-breaching.
	g.CheckDailyLoss(ctx, portfolio(0, -6.5))
	assert.Empty(t, rec.calls)
	assert.True(t, g.InCooldown())
}

func TestCheckDrawdown(t *testing.T) {
	g := NewGuard(testRiskConfig(), nil, zerolog.Nop())

	pf := &models.PortfolioState{TotalValue: 95000, PeakValue: 100000}
	dd, alert := g.CheckDrawdown(pf)
	assert.InDelta(t, 5.0, dd, 1e-9)
	assert.False(t, alert)

	pf = &models.PortfolioState{TotalValue: 88000, PeakValue: 100000}
	dd, alert = g.CheckDrawdown(pf)
	assert.InDelta(t, 12.0, dd, 1e-9)
	assert.True(t, alert)
}

func TestCooldownExpires(t *testing.T) {
	cfg := testRiskConfig()
	cfg.CooldownMinutes = 0
	g := NewGuard(cfg, nil, zerolog.Nop())

	g.CheckDailyLoss(context.Background(), portfolio(0, -4.0))
	time.Sleep(time.Millisecond)
	assert.False(t, g.InCooldown())
}
