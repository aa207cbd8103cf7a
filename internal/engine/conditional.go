package engine

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"equity-engine/internal/config"
	apperrors "equity-engine/internal/errors"
	"equity-engine/internal/models"
	"equity-engine/internal/store"
)

// ConditionalEngine manages price- and time-triggered orders evaluated by
// the engine itself, including one-cancels-other pairs. Trigger boundaries
// are inclusive, and every status change is a compare-and-swap so repeated
// checks against unchanged state produce no extra transitions.
type ConditionalEngine struct {
	cfg    config.ConditionalConfig
	store  store.DataStore
	logger zerolog.Logger
}

// NewConditionalEngine creates a new conditional order engine.
func NewConditionalEngine(cfg config.ConditionalConfig, st store.DataStore, logger zerolog.Logger) *ConditionalEngine {
	return &ConditionalEngine{
		cfg:    cfg,
		store:  st,
		logger: logger.With().Str("component", "conditional").Logger(),
	}
}

func (c *ConditionalEngine) activeCount(ctx context.Context) (int, error) {
	pending, err := c.store.GetConditionalOrders(ctx, store.ConditionalFilter{Status: models.ConditionalPending})
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

func (c *ConditionalEngine) validate(order *models.ConditionalOrder, now time.Time) error {
	if order.Symbol == "" {
		return apperrors.NewValidationError("symbol", order.Symbol, "required")
	}
	if order.Action.Shares <= 0 {
		return apperrors.NewValidationError("shares", order.Action.Shares, "must be positive")
	}
	switch order.Trigger {
	case models.TriggerPriceAbove, models.TriggerPriceBelow:
		if order.TriggerPrice <= 0 {
			return apperrors.NewValidationError("trigger_price", order.TriggerPrice, "must be positive")
		}
	case models.TriggerTime:
		if order.TriggerAt == nil {
			return apperrors.NewValidationError("trigger_at", nil, "required for time trigger")
		}
	case models.TriggerIndicator:
		if order.Indicator == "" {
			return apperrors.NewValidationError("indicator", order.Indicator, "required for indicator trigger")
		}
	default:
		return apperrors.NewValidationError("trigger", string(order.Trigger), "unknown trigger type")
	}
	if order.ExpiresAt != nil && !order.ExpiresAt.After(now) {
		return apperrors.NewValidationError("expires_at", *order.ExpiresAt, "already past")
	}
	return nil
}

// CreateOrder validates and persists a single conditional order, enforcing
// the global active-order cap.
func (c *ConditionalEngine) CreateOrder(ctx context.Context, order *models.ConditionalOrder) error {
	now := time.Now()
	if err := c.validate(order, now); err != nil {
		return err
	}

	active, err := c.activeCount(ctx)
	if err != nil {
		return err
	}
	if active >= c.cfg.MaxActiveOrders {
		return apperrors.ErrOrderCapReached
	}

	order.ID = ulid.Make().String()
	order.Status = models.ConditionalPending
	order.CreatedAt = now

	if err := c.store.SaveConditionalOrder(ctx, order); err != nil {
		return err
	}

	c.logger.Info().
		Str("order_id", order.ID).
		Str("symbol", order.Symbol).
		Str("trigger", string(order.Trigger)).
		Msg("Conditional order created")
	return nil
}

// CreateOCOPair persists two conditional orders as a one-cancels-other
// group. The legs must share a symbol; they get a common group id and
// cross-referencing sibling ids.
func (c *ConditionalEngine) CreateOCOPair(ctx context.Context, first, second *models.ConditionalOrder) error {
	now := time.Now()
	if first.Symbol != second.Symbol {
		return apperrors.NewValidationError("symbol", second.Symbol, "OCO legs must share a symbol")
	}
	if err := c.validate(first, now); err != nil {
		return err
	}
	if err := c.validate(second, now); err != nil {
		return err
	}

	active, err := c.activeCount(ctx)
	if err != nil {
		return err
	}
	if active+2 > c.cfg.MaxActiveOrders {
		return apperrors.ErrOrderCapReached
	}

	groupID := ulid.Make().String()
	first.ID = ulid.Make().String()
	second.ID = ulid.Make().String()
	first.OCOGroupID, second.OCOGroupID = groupID, groupID
	first.SiblingID, second.SiblingID = second.ID, first.ID
	first.Status, second.Status = models.ConditionalPending, models.ConditionalPending
	first.CreatedAt, second.CreatedAt = now, now

	if err := c.store.SaveConditionalOrder(ctx, first); err != nil {
		return err
	}
	if err := c.store.SaveConditionalOrder(ctx, second); err != nil {
		return err
	}

	c.logger.Info().
		Str("group_id", groupID).
		Str("symbol", first.Symbol).
		Msg("OCO pair created")
	return nil
}

// CheckTriggers evaluates every pending order against the given prices and
// the clock. A triggering order flips to triggered, its OCO sibling is
// cancelled in the same pass, and its action payload is returned for
// execution.
func (c *ConditionalEngine) CheckTriggers(ctx context.Context, prices map[string]float64) ([]models.ConditionalOrder, error) {
	pending, err := c.store.GetConditionalOrders(ctx, store.ConditionalFilter{Status: models.ConditionalPending})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var triggered []models.ConditionalOrder
	for _, order := range pending {
		if !c.shouldTrigger(&order, prices, now) {
			continue
		}

		ok, err := c.store.UpdateConditionalStatusIf(ctx, order.ID, models.ConditionalPending, models.ConditionalTriggered)
		if err != nil {
			c.logger.Error().Err(err).Str("order_id", order.ID).Msg("Trigger transition failed")
			continue
		}
		if !ok {
			continue
		}

		order.Status = models.ConditionalTriggered
		order.TriggeredAt = &now

		if order.SiblingID != "" {
			c.cancelSibling(ctx, order.SiblingID)
		}

		c.logger.Info().
			Str("order_id", order.ID).
			Str("symbol", order.Symbol).
			Str("trigger", string(order.Trigger)).
			Msg("Conditional order triggered")
		triggered = append(triggered, order)
	}

	return triggered, nil
}

func (c *ConditionalEngine) shouldTrigger(order *models.ConditionalOrder, prices map[string]float64, now time.Time) bool {
	if order.ExpiresAt != nil && !now.Before(*order.ExpiresAt) {
		return false
	}

	switch order.Trigger {
	case models.TriggerPriceAbove:
		price, ok := prices[order.Symbol]
		return ok && price >= order.TriggerPrice
	case models.TriggerPriceBelow:
		price, ok := prices[order.Symbol]
		return ok && price <= order.TriggerPrice
	case models.TriggerTime:
		return order.TriggerAt != nil && !now.Before(*order.TriggerAt)
	}
	return false
}

// cancelSibling cancels the other OCO leg. Already-transitioned siblings
// are left alone, so cancelling a group twice is a no-op.
func (c *ConditionalEngine) cancelSibling(ctx context.Context, siblingID string) {
	ok, err := c.store.UpdateConditionalStatusIf(ctx, siblingID, models.ConditionalPending, models.ConditionalCancelled)
	if err != nil {
		c.logger.Error().Err(err).Str("order_id", siblingID).Msg("Sibling cancel failed")
		return
	}
	if ok {
		c.logger.Info().Str("order_id", siblingID).Msg("OCO sibling cancelled")
	}
}

// CancelOrder cancels a pending conditional order and, when it belongs to
// an OCO group, its sibling.
func (c *ConditionalEngine) CancelOrder(ctx context.Context, id string) error {
	order, err := c.store.GetConditionalOrderByID(ctx, id)
	if err != nil {
		return err
	}
	if order == nil {
		return apperrors.ErrInvalidOrder
	}

	ok, err := c.store.UpdateConditionalStatusIf(ctx, id, models.ConditionalPending, models.ConditionalCancelled)
	if err != nil {
		return err
	}
	if ok && order.SiblingID != "" {
		c.cancelSibling(ctx, order.SiblingID)
	}
	return nil
}

// MarkExecuted records that a triggered order's action has been carried
// out.
func (c *ConditionalEngine) MarkExecuted(ctx context.Context, id string) error {
	ok, err := c.store.UpdateConditionalStatusIf(ctx, id, models.ConditionalTriggered, models.ConditionalExecuted)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrAlreadyTerminal
	}
	return nil
}

// ExpireOldOrders sweeps pending orders past their expiry. Idempotent.
func (c *ConditionalEngine) ExpireOldOrders(ctx context.Context) (int, error) {
	pending, err := c.store.GetConditionalOrders(ctx, store.ConditionalFilter{Status: models.ConditionalPending})
	if err != nil {
		return 0, err
	}

	now := time.Now()
	expired := 0
	for _, order := range pending {
		if order.ExpiresAt == nil || now.Before(*order.ExpiresAt) {
			continue
		}
		ok, err := c.store.UpdateConditionalStatusIf(ctx, order.ID, models.ConditionalPending, models.ConditionalExpired)
		if err != nil {
			c.logger.Error().Err(err).Str("order_id", order.ID).Msg("Expiry transition failed")
			continue
		}
		if ok {
			expired++
		}
	}

	if expired > 0 {
		c.logger.Info().Int("expired", expired).Msg("Swept expired conditional orders")
	}
	return expired, nil
}
