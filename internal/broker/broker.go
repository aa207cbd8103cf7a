// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"

	"equity-engine/internal/models"
)

// Broker defines the interface for broker operations. The engine talks to
// the broker only through this interface; live and simulated implementations
// produce identical bookkeeping.
type Broker interface {
	// Orders
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOrder(ctx context.Context, brokerOrderID string) (*OrderResult, error)
	GetOrders(ctx context.Context) ([]OrderResult, error)

	// Market Data
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)

	// Account
	GetCash(ctx context.Context) (float64, error)

	// IsPaper reports whether fills are simulated.
	IsPaper() bool
}

// QuoteProvider supplies market quotes. The paper broker consumes one so it
// can simulate fills against live-looking prices.
type QuoteProvider interface {
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)
}

// OrderRequest describes an order to place.
type OrderRequest struct {
	Symbol     string
	Side       models.Side
	Shares     int
	LimitPrice float64 // 0 means market
	Tag        models.OrderTag
}

// OrderResult represents the broker-side state of an order.
type OrderResult struct {
	OrderID      string
	Symbol       string
	Side         models.Side
	Shares       int
	Status       models.OrderStatus
	FilledPrice  float64
	FilledShares int
	Message      string
}
