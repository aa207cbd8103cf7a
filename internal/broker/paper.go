package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "equity-engine/internal/errors"
	"equity-engine/internal/models"
)

// PaperBroker implements the Broker interface for simulated trading. Fills
// happen at the quoted price plus a configurable slippage, after an optional
// simulated latency, so the engine's timeout and slippage bookkeeping runs
// exactly as it would live.
type PaperBroker struct {
	quotes QuoteProvider

	slippagePct float64
	latency     time.Duration

	cash         float64
	shares       map[string]int
	orders       map[string]*OrderResult
	orderCounter int

	priceCache map[string]float64

	mu sync.RWMutex
}

// PaperBrokerConfig holds configuration for the paper broker.
type PaperBrokerConfig struct {
	Quotes          QuoteProvider
	StartingCash    float64
	SlippagePercent float64
	LatencyMs       int
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	cash := cfg.StartingCash
	if cash == 0 {
		cash = 100000
	}

	return &PaperBroker{
		quotes:      cfg.Quotes,
		slippagePct: cfg.SlippagePercent,
		latency:     time.Duration(cfg.LatencyMs) * time.Millisecond,
		cash:        cash,
		shares:      make(map[string]int),
		orders:      make(map[string]*OrderResult),
		priceCache:  make(map[string]float64),
	}
}

// IsPaper returns true.
func (p *PaperBroker) IsPaper() bool {
	return true
}

// GetQuote fetches a quote from the configured provider, falling back to the
// last cached price when no provider is set.
func (p *PaperBroker) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if p.quotes != nil {
		quote, err := p.quotes.GetQuote(ctx, symbol)
		if err == nil {
			p.mu.Lock()
			p.priceCache[symbol] = quote.Price
			p.mu.Unlock()
		}
		return quote, err
	}

	p.mu.RLock()
	price, ok := p.priceCache[symbol]
	p.mu.RUnlock()
	if !ok {
		return nil, apperrors.ErrQuoteUnavailable
	}
	return &models.Quote{Symbol: symbol, Price: price, Timestamp: time.Now()}, nil
}

// PlaceOrder simulates order placement with slippage.
func (p *PaperBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Shares <= 0 {
		return nil, apperrors.NewValidationError("shares", req.Shares, "must be positive")
	}

	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	price := req.LimitPrice
	if price == 0 {
		quote, err := p.GetQuote(ctx, req.Symbol)
		if err != nil {
			return nil, apperrors.NewBrokerError("NO_QUOTE", "cannot price market order", err)
		}
		price = quote.Price
	}

	// Slippage works against the taker in both directions.
	fillPrice := price
	if p.slippagePct > 0 {
		if req.Side == models.SideBuy {
			fillPrice = price * (1 + p.slippagePct/100)
		} else {
			fillPrice = price * (1 - p.slippagePct/100)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	orderValue := fillPrice * float64(req.Shares)
	if req.Side == models.SideBuy && p.cash < orderValue {
		return nil, apperrors.NewBrokerError("INSUFFICIENT_FUNDS",
			fmt.Sprintf("need %.2f, have %.2f", orderValue, p.cash),
			apperrors.ErrInsufficientFunds)
	}
	if req.Side == models.SideSell && p.shares[req.Symbol] < req.Shares {
		return nil, apperrors.NewBrokerError("INSUFFICIENT_SHARES",
			fmt.Sprintf("need %d, have %d", req.Shares, p.shares[req.Symbol]),
			apperrors.ErrOrderRejected)
	}

	p.orderCounter++
	orderID := fmt.Sprintf("PAPER_%d_%d", time.Now().Unix(), p.orderCounter)

	if req.Side == models.SideBuy {
		p.cash -= orderValue
		p.shares[req.Symbol] += req.Shares
	} else {
		p.cash += orderValue
		p.shares[req.Symbol] -= req.Shares
		if p.shares[req.Symbol] == 0 {
			delete(p.shares, req.Symbol)
		}
	}
	p.priceCache[req.Symbol] = price

	result := &OrderResult{
		OrderID:      orderID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Shares:       req.Shares,
		Status:       models.OrderFilled,
		FilledPrice:  fillPrice,
		FilledShares: req.Shares,
		Message:      "Paper order filled",
	}
	p.orders[orderID] = result

	return result, nil
}

// CancelOrder simulates order cancellation. Paper orders fill immediately,
// so anything found here is already terminal.
func (p *PaperBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("order not found: %s", brokerOrderID)
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("cannot cancel order with status: %s", order.Status)
	}

	order.Status = models.OrderCancelled
	return nil
}

// GetOrder returns a paper order by broker id.
func (p *PaperBroker) GetOrder(ctx context.Context, brokerOrderID string) (*OrderResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	order, ok := p.orders[brokerOrderID]
	if !ok {
		return nil, fmt.Errorf("order not found: %s", brokerOrderID)
	}
	copied := *order
	return &copied, nil
}

// GetOrders returns all paper orders.
func (p *PaperBroker) GetOrders(ctx context.Context) ([]OrderResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	orders := make([]OrderResult, 0, len(p.orders))
	for _, o := range p.orders {
		orders = append(orders, *o)
	}
	return orders, nil
}

// GetCash returns the simulated cash balance.
func (p *PaperBroker) GetCash(ctx context.Context) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash, nil
}

// UpdatePrice updates the cached price for a symbol.
func (p *PaperBroker) UpdatePrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priceCache[symbol] = price
}

// Reset resets the paper broker to its initial state.
func (p *PaperBroker) Reset(startingCash float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cash = startingCash
	p.shares = make(map[string]int)
	p.orders = make(map[string]*OrderResult)
	p.priceCache = make(map[string]float64)
	p.orderCounter = 0
}

// Ensure PaperBroker implements Broker interface
var _ Broker = (*PaperBroker)(nil)
