// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"equity-engine/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Trade Plans
	SavePlan(ctx context.Context, plan *models.TradePlan) error
	GetPlans(ctx context.Context, filter PlanFilter) ([]models.TradePlan, error)
	GetPlanByID(ctx context.Context, id string) (*models.TradePlan, error)
	// UpdatePlanStatusIf transitions a plan's status only if its current
	// status matches expected. Returns false with no error when the guard
	// fails, so re-entrant sweeps are safe.
	UpdatePlanStatusIf(ctx context.Context, id string, expected, next models.PlanStatus, by string) (bool, error)

	// Positions
	SavePosition(ctx context.Context, pos *models.Position) error
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetPosition(ctx context.Context, symbol string) (*models.Position, error)
	DeletePosition(ctx context.Context, symbol string) error

	// Orders
	SaveOrder(ctx context.Context, order *models.Order) error
	GetOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)

	// Trades
	LogTrade(ctx context.Context, trade *models.Trade) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)

	// Conditional Orders
	SaveConditionalOrder(ctx context.Context, order *models.ConditionalOrder) error
	GetConditionalOrders(ctx context.Context, filter ConditionalFilter) ([]models.ConditionalOrder, error)
	GetConditionalOrderByID(ctx context.Context, id string) (*models.ConditionalOrder, error)
	// UpdateConditionalStatusIf is the conditional-order counterpart of
	// UpdatePlanStatusIf.
	UpdateConditionalStatusIf(ctx context.Context, id string, expected, next models.ConditionalStatus) (bool, error)

	// Pair Locks
	SaveLock(ctx context.Context, lock *models.PairLock) (int64, error)
	GetActiveLocks(ctx context.Context) ([]models.PairLock, error)
	DeactivateLock(ctx context.Context, id int64, by string) error
	DeactivateExpiredLocks(ctx context.Context, now time.Time) (int, error)

	// Lifecycle
	Close() error
}

// PlanFilter represents filters for querying trade plans.
type PlanFilter struct {
	Symbol    string
	Status    models.PlanStatus
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// OrderFilter represents filters for querying orders.
type OrderFilter struct {
	Symbol string
	Status models.OrderStatus
	Tag    models.OrderTag
	PlanID string
	Limit  int
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	Symbol    string
	Reason    models.ExitReason
	StartDate time.Time
	EndDate   time.Time
	IsPaper   *bool
	Limit     int
}

// ConditionalFilter represents filters for querying conditional orders.
type ConditionalFilter struct {
	Symbol     string
	Status     models.ConditionalStatus
	OCOGroupID string
	Limit      int
}
