package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"equity-engine/internal/config"
	"equity-engine/internal/models"
	"equity-engine/internal/store"
)

// PartialExitManager takes tiered profits out of winners. Each configured
// tier fires at most once per position, tracked by the position's partial
// exit counter; stop and target on the remainder stay untouched.
type PartialExitManager struct {
	cfg    config.PartialConfig
	store  store.DataStore
	orders *OrderManager
	logger zerolog.Logger
}

// NewPartialExitManager creates a new partial-exit manager.
func NewPartialExitManager(cfg config.PartialConfig, st store.DataStore, orders *OrderManager, logger zerolog.Logger) *PartialExitManager {
	return &PartialExitManager{
		cfg:    cfg,
		store:  st,
		orders: orders,
		logger: logger.With().Str("component", "partial").Logger(),
	}
}

// PartialDecision describes a profit tier ready to be consumed.
type PartialDecision struct {
	Shares int
	Tier   int
	Reason string
}

// EvaluatePosition reports whether the position's next unconsumed profit
// tier has been reached, and how many shares to trim.
func (p *PartialExitManager) EvaluatePosition(pos *models.Position) (PartialDecision, bool) {
	if !p.cfg.Enabled || len(p.cfg.Tiers) == 0 {
		return PartialDecision{}, false
	}
	if pos.PartialExitCount >= len(p.cfg.Tiers) {
		return PartialDecision{}, false
	}

	tier := p.cfg.Tiers[pos.PartialExitCount]
	if pos.PnLPercent < tier.ProfitPercent {
		return PartialDecision{}, false
	}

	shares := int(math.Floor(float64(pos.Shares) * tier.SellPercent / 100))
	if shares < 1 {
		return PartialDecision{}, false
	}
	if shares > pos.Shares {
		shares = pos.Shares
	}

	return PartialDecision{
		Shares: shares,
		Tier:   pos.PartialExitCount,
		Reason: fmt.Sprintf("profit tier %d at %.2f%%", pos.PartialExitCount+1, tier.ProfitPercent),
	}, true
}

// ExecutePartialExit trims the position and advances the tier counter.
func (p *PartialExitManager) ExecutePartialExit(ctx context.Context, pos *models.Position, decision PartialDecision) (*models.Trade, error) {
	trade, err := p.orders.ExecuteClose(ctx, pos, decision.Shares, models.ExitPartial)
	if err != nil {
		return nil, err
	}

	if pos.Shares > 0 {
		pos.PartialExitCount++
		if err := p.store.SavePosition(ctx, pos); err != nil {
			return nil, err
		}
	}

	p.logger.Info().
		Str("symbol", pos.Symbol).
		Int("tier", decision.Tier+1).
		Int("shares", decision.Shares).
		Int("remaining", pos.Shares).
		Str("reason", decision.Reason).
		Msg("Partial exit executed")

	return trade, nil
}
