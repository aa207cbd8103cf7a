package engine

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"equity-engine/internal/broker"
	apperrors "equity-engine/internal/errors"
	"equity-engine/internal/models"
	"equity-engine/internal/store"
)

// OrderManager is the only broker-facing component. It converts approved
// plans and close requests into filled Order/Trade/Position records, awaits
// terminal order states within a timeout, and surfaces partial fills and
// rejections as typed failures instead of silently updating state.
type OrderManager struct {
	store   store.DataStore
	broker  broker.Broker
	timeout time.Duration
	logger  zerolog.Logger
}

// NewOrderManager creates a new order manager.
func NewOrderManager(st store.DataStore, b broker.Broker, timeout time.Duration, logger zerolog.Logger) *OrderManager {
	return &OrderManager{
		store:   st,
		broker:  b,
		timeout: timeout,
		logger:  logger.With().Str("component", "orders").Logger(),
	}
}

// ExecuteBuy opens the position for an approved plan. On success the plan
// transitions to executed and the new position is returned.
func (m *OrderManager) ExecuteBuy(ctx context.Context, plan *models.TradePlan) (*models.Position, error) {
	ticker := plan.BrokerTicker
	if ticker == "" {
		ticker = plan.Symbol
	}

	result, err := m.placeAndAwait(ctx, broker.OrderRequest{
		Symbol: ticker,
		Side:   plan.Side,
		Shares: plan.Shares,
		Tag:    models.TagEntry,
	})
	if err != nil {
		return nil, apperrors.NewOrderError("", plan.Symbol, "buy", "entry order failed", err)
	}

	now := time.Now()
	order := &models.Order{
		ID:            ulid.Make().String(),
		BrokerOrderID: result.OrderID,
		Symbol:        plan.Symbol,
		Side:          plan.Side,
		Shares:        plan.Shares,
		Price:         plan.EntryPrice,
		FilledPrice:   result.FilledPrice,
		FilledShares:  result.FilledShares,
		Status:        result.Status,
		Tag:           models.TagEntry,
		PlanID:        plan.ID,
		PlacedAt:      now,
		FilledAt:      &now,
	}
	if err := m.store.SaveOrder(ctx, order); err != nil {
		return nil, err
	}

	if result.Status != models.OrderFilled {
		return nil, m.failureFor(order, result)
	}

	pos := &models.Position{
		Symbol:        plan.Symbol,
		Shares:        result.FilledShares,
		AvgEntryPrice: result.FilledPrice,
		StopLoss:      plan.StopPrice,
		TakeProfit:    plan.TargetPrice,
		TotalInvested: result.FilledPrice * float64(result.FilledShares),
		PlanID:        plan.ID,
		CurrentPrice:  result.FilledPrice,
		OpenedAt:      now,
		LastBuyAt:     now,
	}
	if err := m.store.SavePosition(ctx, pos); err != nil {
		return nil, err
	}

	if _, err := m.store.UpdatePlanStatusIf(ctx, plan.ID, models.PlanApproved, models.PlanExecuted, ""); err != nil {
		m.logger.Error().Err(err).Str("plan_id", plan.ID).Msg("Plan executed transition failed")
	}

	m.logger.Info().
		Str("symbol", plan.Symbol).
		Str("plan_id", plan.ID).
		Int("shares", result.FilledShares).
		Float64("fill", result.FilledPrice).
		Float64("slippage", result.FilledPrice-plan.EntryPrice).
		Msg("Entry order filled")

	return pos, nil
}

// ExecuteClose sells the given number of shares out of a position. A full
// close deletes the position; a partial close reduces it, leaving stop and
// target on the remainder unchanged. Returns the recorded trade.
func (m *OrderManager) ExecuteClose(ctx context.Context, pos *models.Position, shares int, reason models.ExitReason) (*models.Trade, error) {
	if shares <= 0 || shares > pos.Shares {
		return nil, apperrors.NewValidationError("shares", shares, "must be within the position")
	}

	result, err := m.placeAndAwait(ctx, broker.OrderRequest{
		Symbol: pos.Symbol,
		Side:   models.SideSell,
		Shares: shares,
		Tag:    tagFor(reason),
	})
	if err != nil {
		return nil, apperrors.NewOrderError("", pos.Symbol, "close", "exit order failed", err)
	}

	intended := pos.CurrentPrice
	if intended <= 0 {
		intended = result.FilledPrice
	}

	now := time.Now()
	order := &models.Order{
		ID:            ulid.Make().String(),
		BrokerOrderID: result.OrderID,
		Symbol:        pos.Symbol,
		Side:          models.SideSell,
		Shares:        shares,
		Price:         intended,
		FilledPrice:   result.FilledPrice,
		FilledShares:  result.FilledShares,
		Status:        result.Status,
		Tag:           tagFor(reason),
		PlanID:        pos.PlanID,
		PlacedAt:      now,
		FilledAt:      &now,
	}
	if err := m.store.SaveOrder(ctx, order); err != nil {
		return nil, err
	}

	if result.Status != models.OrderFilled {
		return nil, m.failureFor(order, result)
	}

	pnl := (result.FilledPrice - pos.AvgEntryPrice) * float64(shares)
	pnlPct := 0.0
	if pos.AvgEntryPrice > 0 {
		pnlPct = (result.FilledPrice - pos.AvgEntryPrice) / pos.AvgEntryPrice * 100
	}

	trade := &models.Trade{
		ID:           ulid.Make().String(),
		Symbol:       pos.Symbol,
		Side:         models.SideSell,
		Shares:       shares,
		EntryPrice:   pos.AvgEntryPrice,
		ExitPrice:    result.FilledPrice,
		PnL:          pnl,
		PnLPercent:   pnlPct,
		Reason:       reason,
		Tag:          tagFor(reason),
		Slippage:     intended - result.FilledPrice,
		IsPaper:      m.broker.IsPaper(),
		PlanID:       pos.PlanID,
		OrderIDs:     []string{order.ID},
		OpenedAt:     pos.OpenedAt,
		ClosedAt:     now,
		HoldDuration: now.Sub(pos.OpenedAt),
	}
	if err := m.store.LogTrade(ctx, trade); err != nil {
		return nil, err
	}

	if shares == pos.Shares {
		if err := m.store.DeletePosition(ctx, pos.Symbol); err != nil {
			return nil, err
		}
		pos.Shares = 0
	} else {
		pos.Shares -= shares
		if err := m.store.SavePosition(ctx, pos); err != nil {
			return nil, err
		}
	}

	m.logger.Info().
		Str("symbol", pos.Symbol).
		Str("reason", string(reason)).
		Int("shares", shares).
		Float64("fill", result.FilledPrice).
		Float64("pnl", pnl).
		Float64("pnl_pct", pnlPct).
		Msg("Close order filled")

	return trade, nil
}

// ExecuteDCA buys additional shares into an existing position and folds the
// fill into its blended average. The averaging round is recorded as a
// DCA-tagged trade with no realized P&L.
func (m *OrderManager) ExecuteDCA(ctx context.Context, pos *models.Position, shares int) (*models.Position, error) {
	if shares <= 0 {
		return nil, apperrors.NewValidationError("shares", shares, "must be positive")
	}

	result, err := m.placeAndAwait(ctx, broker.OrderRequest{
		Symbol: pos.Symbol,
		Side:   models.SideBuy,
		Shares: shares,
		Tag:    models.TagDCA,
	})
	if err != nil {
		return nil, apperrors.NewOrderError("", pos.Symbol, "dca", "averaging order failed", err)
	}

	now := time.Now()
	order := &models.Order{
		ID:            ulid.Make().String(),
		BrokerOrderID: result.OrderID,
		Symbol:        pos.Symbol,
		Side:          models.SideBuy,
		Shares:        shares,
		Price:         result.FilledPrice,
		FilledPrice:   result.FilledPrice,
		FilledShares:  result.FilledShares,
		Status:        result.Status,
		Tag:           models.TagDCA,
		PlanID:        pos.PlanID,
		PlacedAt:      now,
		FilledAt:      &now,
	}
	if err := m.store.SaveOrder(ctx, order); err != nil {
		return nil, err
	}

	if result.Status != models.OrderFilled {
		return nil, m.failureFor(order, result)
	}

	cost := result.FilledPrice * float64(result.FilledShares)
	totalShares := pos.Shares + result.FilledShares
	pos.AvgEntryPrice = (pos.AvgEntryPrice*float64(pos.Shares) + cost) / float64(totalShares)
	pos.Shares = totalShares
	pos.TotalInvested += cost
	pos.DCACount++
	pos.LastBuyAt = now

	if err := m.store.SavePosition(ctx, pos); err != nil {
		return nil, err
	}

	trade := &models.Trade{
		ID:         ulid.Make().String(),
		Symbol:     pos.Symbol,
		Side:       models.SideBuy,
		Shares:     result.FilledShares,
		EntryPrice: result.FilledPrice,
		Reason:     "",
		Tag:        models.TagDCA,
		IsPaper:    m.broker.IsPaper(),
		PlanID:     pos.PlanID,
		OrderIDs:   []string{order.ID},
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   now,
	}
	if err := m.store.LogTrade(ctx, trade); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("symbol", pos.Symbol).
		Int("round", pos.DCACount).
		Int("shares", result.FilledShares).
		Float64("fill", result.FilledPrice).
		Float64("new_avg", pos.AvgEntryPrice).
		Msg("DCA order filled")

	return pos, nil
}

// placeAndAwait submits an order and polls until it reaches a terminal
// state or the timeout elapses. A timed-out attempt is treated as failed,
// never hung.
func (m *OrderManager) placeAndAwait(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	result, err := m.broker.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.Status.IsTerminal() {
		return result, nil
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, apperrors.Wrapf(apperrors.ErrTimeout, "order %s not terminal", result.OrderID)
		case <-ticker.C:
			current, err := m.broker.GetOrder(ctx, result.OrderID)
			if err != nil {
				continue
			}
			if current.Status.IsTerminal() {
				return current, nil
			}
		}
	}
}

func (m *OrderManager) failureFor(order *models.Order, result *broker.OrderResult) error {
	switch result.Status {
	case models.OrderPartiallyFilled:
		return apperrors.NewOrderError(order.ID, order.Symbol, string(order.Tag),
			"partial fill", apperrors.ErrPartialFill)
	default:
		return apperrors.NewOrderError(order.ID, order.Symbol, string(order.Tag),
			result.Message, apperrors.ErrOrderRejected)
	}
}

func tagFor(reason models.ExitReason) models.OrderTag {
	switch reason {
	case models.ExitStopLoss, models.ExitTrailingStop:
		return models.TagStopLoss
	case models.ExitTakeProfit, models.ExitROISchedule:
		return models.TagTakeProfit
	case models.ExitPartial:
		return models.TagPartialExit
	default:
		return models.TagExit
	}
}
