package engine

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"equity-engine/internal/config"
	"equity-engine/internal/models"
	"equity-engine/internal/store"
)

// SizeScaler supplies the factor applied to suggested position sizes. The
// risk guard implements it; a streak of losses or an active cool-down
// shrinks every new plan.
type SizeScaler interface {
	SizeMultiplier() float64
}

// Planner converts accepted signals into fully-sized, persisted trade plans.
type Planner struct {
	risk            config.RiskConfig
	approvalTimeout time.Duration
	store           store.DataStore
	scaler          SizeScaler
	logger          zerolog.Logger
}

// NewPlanner creates a new trade planner.
func NewPlanner(risk config.RiskConfig, approvalTimeout time.Duration, st store.DataStore, scaler SizeScaler, logger zerolog.Logger) *Planner {
	return &Planner{
		risk:            risk,
		approvalTimeout: approvalTimeout,
		store:           st,
		scaler:          scaler,
		logger:          logger.With().Str("component", "planner").Logger(),
	}
}

// CreatePlan sizes a signal against the portfolio and persists the
// resulting plan. Returns (nil, nil) when the signal does not produce a
// viable plan: zero shares after flooring, or a BUY below the minimum
// risk/reward. Failing plans are never persisted.
func (p *Planner) CreatePlan(ctx context.Context, sig *models.Signal, price float64, pf *models.PortfolioState) (*models.TradePlan, error) {
	log := p.logger.With().Str("symbol", sig.Symbol).Logger()

	if price <= 0 {
		log.Warn().Float64("price", price).Msg("No usable price for signal")
		return nil, nil
	}

	sizePct := sig.SuggestedSizePct
	if p.scaler != nil {
		sizePct *= p.scaler.SizeMultiplier()
	}

	shares := int(pf.TotalValue * sizePct / price)
	if shares <= 0 {
		log.Info().
			Float64("size_pct", sizePct).
			Float64("portfolio_value", pf.TotalValue).
			Msg("Sized to zero shares, skipping plan")
		return nil, nil
	}

	var stop, target, riskReward float64
	if sig.Decision == models.SideBuy {
		stop = price * (1 - sig.SuggestedStopLossPct)
		target = price * (1 + sig.SuggestedTargetPct)
		if price-stop > 0 {
			riskReward = (target - price) / (price - stop)
		}
		if riskReward < p.risk.MinRiskReward {
			log.Info().
				Float64("risk_reward", riskReward).
				Float64("min", p.risk.MinRiskReward).
				Msg("Risk/reward below minimum, skipping plan")
			return nil, nil
		}
	} else {
		stop = price * (1 + sig.SuggestedStopLossPct)
		target = price * (1 - sig.SuggestedTargetPct)
		if stop-price > 0 {
			riskReward = (price - target) / (stop - price)
		}
	}

	maxLoss := (price - stop) * float64(shares)
	if maxLoss < 0 {
		maxLoss = -maxLoss
	}

	now := time.Now()
	plan := &models.TradePlan{
		ID:            ulid.Make().String(),
		Symbol:        sig.Symbol,
		BrokerTicker:  sig.BrokerTicker,
		Side:          sig.Decision,
		EntryPrice:    price,
		Shares:        shares,
		Value:         price * float64(shares),
		SizePercent:   sizePct * 100,
		StopPrice:     stop,
		StopPercent:   sig.SuggestedStopLossPct * 100,
		TargetPrice:   target,
		TargetPercent: sig.SuggestedTargetPct * 100,
		MaxLoss:       maxLoss,
		RiskReward:    riskReward,
		MaxHoldDays:   p.risk.MaxHoldDays,
		Conviction:    sig.Conviction,
		SubScores:     sig.SubScores,
		Reasoning:     sig.Reasoning,
		AccountType:   sig.AccountType,
		Status:        models.PlanPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(p.approvalTimeout),
	}

	if err := p.store.SavePlan(ctx, plan); err != nil {
		return nil, err
	}

	log.Info().
		Str("plan_id", plan.ID).
		Str("side", string(plan.Side)).
		Int("shares", plan.Shares).
		Float64("entry", plan.EntryPrice).
		Float64("stop", plan.StopPrice).
		Float64("target", plan.TargetPrice).
		Float64("risk_reward", plan.RiskReward).
		Msg("Trade plan created")

	return plan, nil
}
