package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"equity-engine/internal/broker"
	"equity-engine/internal/config"
	"equity-engine/internal/models"
	"equity-engine/internal/store"
)

// Tracker is the periodic position monitor. Each cycle it refreshes prices,
// ratchets trailing stops, and evaluates exit conditions in precedence
// order: stop-loss, trailing stop, take-profit, ROI schedule, model exit
// flag. At most one exit fires per position per cycle, and one symbol's
// failure never aborts the rest.
type Tracker struct {
	store      store.DataStore
	quotes     broker.QuoteProvider
	orders     *OrderManager
	roi        *Schedule
	trailing   config.TrailingConfig
	risk       *Guard
	protection *Ledger
	logger     zerolog.Logger

	// onClose runs after every successful close, before the next symbol.
	onClose func(ctx context.Context, trade *models.Trade)

	mu         sync.Mutex
	modelExits map[string]bool
}

// NewTracker creates a new position tracker.
func NewTracker(st store.DataStore, quotes broker.QuoteProvider, orders *OrderManager, roi *Schedule, trailing config.TrailingConfig, risk *Guard, protection *Ledger, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:      st,
		quotes:     quotes,
		orders:     orders,
		roi:        roi,
		trailing:   trailing,
		risk:       risk,
		protection: protection,
		logger:     logger.With().Str("component", "tracker").Logger(),
		modelExits: make(map[string]bool),
	}
}

// SetCloseHook registers a callback invoked after each successful close.
func (t *Tracker) SetCloseHook(hook func(ctx context.Context, trade *models.Trade)) {
	t.onClose = hook
}

// FlagModelExit marks a symbol for exit on the next cycle, on behalf of an
// external re-evaluation.
func (t *Tracker) FlagModelExit(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modelExits[symbol] = true
}

// CycleResult summarizes one tracker pass.
type CycleResult struct {
	Checked int
	Exited  int
	Failed  int
}

// RunCycle processes every open position once.
func (t *Tracker) RunCycle(ctx context.Context) (CycleResult, error) {
	positions, err := t.store.GetPositions(ctx)
	if err != nil {
		return CycleResult{}, err
	}

	var result CycleResult
	for i := range positions {
		result.Checked++
		exited, err := t.trackOne(ctx, &positions[i])
		if err != nil {
			result.Failed++
			t.logger.Error().Err(err).Str("symbol", positions[i].Symbol).Msg("Tracking failed for symbol")
			continue
		}
		if exited {
			result.Exited++
		}
	}
	return result, nil
}

func (t *Tracker) trackOne(ctx context.Context, pos *models.Position) (bool, error) {
	// A missing quote is tolerated; the prior price carries the cycle.
	quote, err := t.quotes.GetQuote(ctx, pos.Symbol)
	if err != nil {
		t.logger.Debug().Err(err).Str("symbol", pos.Symbol).Msg("Quote unavailable, keeping prior price")
	} else {
		pos.CurrentPrice = quote.Price
	}

	if pos.CurrentPrice > 0 && pos.AvgEntryPrice > 0 {
		pos.PnL = (pos.CurrentPrice - pos.AvgEntryPrice) * float64(pos.Shares)
		pos.PnLPercent = (pos.CurrentPrice - pos.AvgEntryPrice) / pos.AvgEntryPrice * 100
	}

	t.ratchetTrailing(pos)

	if err := t.store.SavePosition(ctx, pos); err != nil {
		return false, err
	}

	reason, ok := t.evaluateExit(ctx, pos)
	if !ok {
		return false, nil
	}

	trade, err := t.orders.ExecuteClose(ctx, pos, pos.Shares, reason)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	delete(t.modelExits, pos.Symbol)
	t.mu.Unlock()

	if t.risk != nil {
		t.risk.RecordTradeResult(trade.PnL)
	}
	if t.protection != nil {
		if _, err := t.protection.EvaluateAfterClose(ctx, pos.Symbol, reason, trade.PnLPercent); err != nil {
			t.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("Protection evaluation failed")
		}
	}
	if t.onClose != nil {
		t.onClose(ctx, trade)
	}

	return true, nil
}

// ratchetTrailing activates and raises the trailing stop. Once set it never
// moves down, regardless of pullbacks.
func (t *Tracker) ratchetTrailing(pos *models.Position) {
	if !t.trailing.Enabled || pos.CurrentPrice <= 0 {
		return
	}

	if pos.TrailingStop == nil {
		if pos.PnLPercent < t.trailing.ActivationPercent {
			return
		}
		candidate := pos.CurrentPrice * (1 - t.trailing.TrailPercent/100)
		pos.TrailingStop = &candidate
		t.logger.Info().
			Str("symbol", pos.Symbol).
			Float64("trailing_stop", candidate).
			Msg("Trailing stop activated")
		return
	}

	candidate := pos.CurrentPrice * (1 - t.trailing.TrailPercent/100)
	if candidate > *pos.TrailingStop {
		pos.TrailingStop = &candidate
	}
}

// evaluateExit returns the first matching exit condition, in precedence
// order.
func (t *Tracker) evaluateExit(ctx context.Context, pos *models.Position) (models.ExitReason, bool) {
	price := pos.CurrentPrice
	if price <= 0 {
		return "", false
	}

	if pos.StopLoss > 0 && price <= pos.StopLoss {
		return models.ExitStopLoss, true
	}

	if pos.TrailingStop != nil && price <= *pos.TrailingStop {
		return models.ExitTrailingStop, true
	}

	if pos.TakeProfit > 0 && price >= pos.TakeProfit {
		return models.ExitTakeProfit, true
	}

	if t.roi != nil && !t.roi.Empty() {
		age := int(time.Since(pos.OpenedAt).Minutes())
		if t.roi.ShouldExit(age, pos.PnLPercent) {
			return models.ExitROISchedule, true
		}
	}

	t.mu.Lock()
	flagged := t.modelExits[pos.Symbol]
	t.mu.Unlock()
	if flagged {
		return models.ExitModelSignal, true
	}

	if reason, ok := t.checkMaxHold(ctx, pos); ok {
		return reason, true
	}

	return "", false
}

// checkMaxHold enforces a plan's optional max-hold-days.
func (t *Tracker) checkMaxHold(ctx context.Context, pos *models.Position) (models.ExitReason, bool) {
	if pos.PlanID == "" {
		return "", false
	}
	plan, err := t.store.GetPlanByID(ctx, pos.PlanID)
	if err != nil || plan == nil || plan.MaxHoldDays <= 0 {
		return "", false
	}
	if time.Since(pos.OpenedAt) >= time.Duration(plan.MaxHoldDays)*24*time.Hour {
		return models.ExitMaxHoldTime, true
	}
	return "", false
}
