package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"equity-engine/internal/config"
	"equity-engine/internal/models"
)

// HardBreachHandler is invoked when daily losses reach twice the configured
// limit while already cooling down. The handler is expected to close all
// positions and pause the engine.
type HardBreachHandler interface {
	HandleHardBreach(ctx context.Context, dailyPnLPercent float64)
}

// TradeProposal is what the risk guard validates before a plan is created
// and again before it is executed.
type TradeProposal struct {
	Symbol      string
	Side        models.Side
	SizePercent float64 // of portfolio value
	Sector      string
	StopPercent float64
	Correlation float64 // max correlation with existing holdings
}

// Decision is the outcome of a risk validation.
type Decision struct {
	Allowed bool
	Gate    string
	Reason  string
}

// Guard validates trade proposals against portfolio-level constraints and
// holds the small running state behind the two sizing throttles: the
// losing-streak multiplier and the daily-loss cool-down.
type Guard struct {
	cfg    config.RiskConfig
	breach HardBreachHandler
	logger zerolog.Logger

	mu            sync.Mutex
	lossStreak    int
	cooldownUntil time.Time
	hardBreached  bool
}

// NewGuard creates a new risk guard.
func NewGuard(cfg config.RiskConfig, breach HardBreachHandler, logger zerolog.Logger) *Guard {
	return &Guard{
		cfg:    cfg,
		breach: breach,
		logger: logger.With().Str("component", "risk").Logger(),
	}
}

// ValidateTrade runs the ordered gate against a proposal, short-circuiting
// on the first failure. Order: position count, single-position size, sector
// exposure, correlation (BUY only), stop-loss bounds.
func (g *Guard) ValidateTrade(proposal TradeProposal, pf *models.PortfolioState) Decision {
	if pf.OpenPositionCount >= g.cfg.MaxConcurrentPositions {
		return Decision{
			Gate: "position_count",
			Reason: fmt.Sprintf("open positions %d at limit %d",
				pf.OpenPositionCount, g.cfg.MaxConcurrentPositions),
		}
	}

	if proposal.SizePercent > g.cfg.MaxPositionPercent {
		return Decision{
			Gate: "position_size",
			Reason: fmt.Sprintf("size %.2f%% exceeds limit %.2f%%",
				proposal.SizePercent, g.cfg.MaxPositionPercent),
		}
	}

	if proposal.Sector != "" {
		resulting := pf.SectorExposure[proposal.Sector] + proposal.SizePercent
		if resulting > g.cfg.MaxSectorExposure {
			return Decision{
				Gate: "sector_exposure",
				Reason: fmt.Sprintf("sector %s exposure %.2f%% would exceed limit %.2f%%",
					proposal.Sector, resulting, g.cfg.MaxSectorExposure),
			}
		}
	}

	if proposal.Side == models.SideBuy && proposal.Correlation > g.cfg.MaxCorrelation {
		return Decision{
			Gate: "correlation",
			Reason: fmt.Sprintf("correlation %.2f exceeds limit %.2f",
				proposal.Correlation, g.cfg.MaxCorrelation),
		}
	}

	if proposal.StopPercent < g.cfg.MinStopLossPercent || proposal.StopPercent > g.cfg.MaxStopLossPercent {
		return Decision{
			Gate: "stop_bounds",
			Reason: fmt.Sprintf("stop %.2f%% outside [%.2f%%, %.2f%%]",
				proposal.StopPercent, g.cfg.MinStopLossPercent, g.cfg.MaxStopLossPercent),
		}
	}

	return Decision{Allowed: true}
}

// SizeMultiplier returns the current sizing factor in (0, 1]. Consecutive
// losses past the streak threshold shrink it geometrically; an active
// cool-down shrinks it further. Never below the configured minimum.
func (g *Guard) SizeMultiplier() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	factor := 1.0

	if g.cfg.LossStreakThreshold > 0 && g.lossStreak >= g.cfg.LossStreakThreshold {
		excess := g.lossStreak - g.cfg.LossStreakThreshold + 1
		for i := 0; i < excess; i++ {
			factor *= g.cfg.LossStreakSizeFactor
		}
	}

	if time.Now().Before(g.cooldownUntil) {
		factor *= g.cfg.CooldownSizeFactor
	}

	if factor < g.cfg.MinSizeFactor {
		factor = g.cfg.MinSizeFactor
	}
	return factor
}

// RecordTradeResult feeds a closed trade's P&L back into the streak state.
// A win resets the streak.
func (g *Guard) RecordTradeResult(pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if pnl < 0 {
		g.lossStreak++
		g.logger.Info().Int("loss_streak", g.lossStreak).Msg("Losing streak extended")
	} else {
		if g.lossStreak > 0 {
			g.logger.Info().Int("loss_streak", g.lossStreak).Msg("Losing streak reset")
		}
		g.lossStreak = 0
	}
}

// LossStreak returns the current consecutive-loss count.
func (g *Guard) LossStreak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lossStreak
}

// InCooldown reports whether the daily-loss cool-down is active.
func (g *Guard) InCooldown() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return time.Now().Before(g.cooldownUntil)
}

// CheckDailyLoss inspects today's P&L against the configured limit. A first
// breach enters the cool-down (reduced sizing, trading continues). A loss
// reaching twice the limit while already cooling down is a hard breach:
// the handler closes everything and pauses, bypassing a second cool-down.
func (g *Guard) CheckDailyLoss(ctx context.Context, pf *models.PortfolioState) {
	limit := g.cfg.DailyLossLimitPercent
	if limit <= 0 {
		return
	}
	loss := -pf.DailyPnLPercent
	if loss < limit {
		return
	}

	g.mu.Lock()
	cooling := time.Now().Before(g.cooldownUntil)

	if cooling && loss >= 2*limit && !g.hardBreached {
		g.hardBreached = true
		g.mu.Unlock()

		g.logger.Error().
			Float64("daily_pnl_pct", pf.DailyPnLPercent).
			Float64("hard_limit_pct", -2*limit).
			Msg("Hard daily-loss breach, closing all positions")
		if g.breach != nil {
			g.breach.HandleHardBreach(ctx, pf.DailyPnLPercent)
		}
		return
	}

	if !cooling {
		g.cooldownUntil = time.Now().Add(time.Duration(g.cfg.CooldownMinutes) * time.Minute)
		until := g.cooldownUntil
		g.mu.Unlock()

		g.logger.Warn().
			Float64("daily_pnl_pct", pf.DailyPnLPercent).
			Float64("limit_pct", -limit).
			Time("cooldown_until", until).
			Msg("Daily loss limit breached, entering cool-down")
		return
	}

	g.mu.Unlock()
}

// CheckDrawdown compares portfolio value to its rolling peak. It reports,
// never blocks: the return is the drawdown percent and whether it passed
// the alert threshold.
func (g *Guard) CheckDrawdown(pf *models.PortfolioState) (float64, bool) {
	dd := pf.DrawdownPercent()
	if g.cfg.DrawdownAlertPercent > 0 && dd >= g.cfg.DrawdownAlertPercent {
		g.logger.Warn().
			Float64("drawdown_pct", dd).
			Float64("threshold_pct", g.cfg.DrawdownAlertPercent).
			Msg("Drawdown past alert threshold")
		return dd, true
	}
	return dd, false
}

// ResetDaily clears the cool-down and hard-breach state at the start of a
// new trading day.
func (g *Guard) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldownUntil = time.Time{}
	g.hardBreached = false
}
