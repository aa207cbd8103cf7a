package engine

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"equity-engine/internal/config"
	"equity-engine/internal/models"
)

// DCAManager decides whether to average into a losing position. Round
// sizing and the required price drop are both anchored to the original
// entry, reconstructed from invested capital rather than the blended
// average, which DCA fills keep dragging down.
type DCAManager struct {
	cfg    config.DCAConfig
	orders *OrderManager
	logger zerolog.Logger
}

// NewDCAManager creates a new DCA manager.
func NewDCAManager(cfg config.DCAConfig, orders *OrderManager, logger zerolog.Logger) *DCAManager {
	return &DCAManager{
		cfg:    cfg,
		orders: orders,
		logger: logger.With().Str("component", "dca").Logger(),
	}
}

// DCADecision describes an approved averaging round.
type DCADecision struct {
	Shares     int
	NewAverage float64
}

// originalShares estimates the round-zero share count by unwinding the
// multiplier series across completed rounds.
func (d *DCAManager) originalShares(pos *models.Position) float64 {
	bought := float64(pos.TotalBoughtShares())
	denom := 0.0
	for i := 0; i <= pos.DCACount; i++ {
		denom += math.Pow(d.cfg.SizeMultiplier, float64(i))
	}
	if denom <= 0 {
		return bought
	}
	return bought / denom
}

// originalEntry reconstructs the round-zero fill price. Each completed
// round i bought originalShares×multiplier^i at roughly entry×(1−drop×i),
// so dividing invested capital by that series recovers the entry the
// blended average has been dragged away from.
func (d *DCAManager) originalEntry(pos *models.Position, original float64) float64 {
	denom := 0.0
	for i := 0; i <= pos.DCACount; i++ {
		denom += math.Pow(d.cfg.SizeMultiplier, float64(i)) * (1 - d.cfg.DropPercentPerRound/100*float64(i))
	}
	if denom <= 0 {
		return pos.AvgEntryPrice
	}
	return pos.TotalInvested / (original * denom)
}

// EvaluatePosition reports whether the position qualifies for its next
// averaging round at the given price, and with how many shares.
func (d *DCAManager) EvaluatePosition(pos *models.Position, price, cash float64, now time.Time) (DCADecision, bool) {
	if !d.cfg.Enabled || price <= 0 {
		return DCADecision{}, false
	}
	if pos.DCACount >= d.cfg.MaxRounds {
		return DCADecision{}, false
	}

	original := d.originalShares(pos)
	if original <= 0 {
		return DCADecision{}, false
	}
	originalEntry := d.originalEntry(pos, original)

	round := pos.DCACount + 1
	requiredDrop := d.cfg.DropPercentPerRound / 100 * float64(round)
	if price > originalEntry*(1-requiredDrop) {
		return DCADecision{}, false
	}

	if now.Sub(pos.LastBuyAt) < time.Duration(d.cfg.MinTimeBetweenMinutes)*time.Minute {
		return DCADecision{}, false
	}

	shares := int(math.Floor(original * math.Pow(d.cfg.SizeMultiplier, float64(pos.DCACount))))
	if shares < 1 {
		return DCADecision{}, false
	}

	if cash < price*float64(shares) {
		d.logger.Debug().
			Str("symbol", pos.Symbol).
			Float64("needed", price*float64(shares)).
			Float64("cash", cash).
			Msg("Insufficient cash for DCA round")
		return DCADecision{}, false
	}

	newAvg := (pos.AvgEntryPrice*float64(pos.Shares) + price*float64(shares)) / float64(pos.Shares+shares)
	return DCADecision{Shares: shares, NewAverage: newAvg}, true
}

// ExecuteDCA runs an approved averaging round through the order manager.
func (d *DCAManager) ExecuteDCA(ctx context.Context, pos *models.Position, decision DCADecision) (*models.Position, error) {
	updated, err := d.orders.ExecuteDCA(ctx, pos, decision.Shares)
	if err != nil {
		return nil, err
	}

	d.logger.Info().
		Str("symbol", updated.Symbol).
		Int("round", updated.DCACount).
		Int("shares", decision.Shares).
		Float64("new_avg", updated.AvgEntryPrice).
		Msg("DCA round executed")

	return updated, nil
}
