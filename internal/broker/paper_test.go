package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "equity-engine/internal/errors"
	"equity-engine/internal/models"
)

func paperBroker(startingCash float64, slippagePct float64) *PaperBroker {
	return NewPaperBroker(PaperBrokerConfig{
		StartingCash:    startingCash,
		SlippagePercent: slippagePct,
	})
}

func TestPaperBuyThenSell(t *testing.T) {
	p := paperBroker(100000, 0)
	p.UpdatePrice("ACME", 100)
	ctx := context.Background()

	result, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "ACME", Side: models.SideBuy, Shares: 50})
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, result.Status)
	assert.Equal(t, 50, result.FilledShares)
	assert.Equal(t, 100.0, result.FilledPrice)

	cash, err := p.GetCash(ctx)
	require.NoError(t, err)
	assert.Equal(t, 95000.0, cash)

	p.UpdatePrice("ACME", 110)
	result, err = p.PlaceOrder(ctx, OrderRequest{Symbol: "ACME", Side: models.SideSell, Shares: 50})
	require.NoError(t, err)
	assert.Equal(t, 110.0, result.FilledPrice)

	cash, err = p.GetCash(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100500.0, cash)
}

func TestPaperSlippageWorksAgainstTaker(t *testing.T) {
	p := paperBroker(100000, 0.1)
	p.UpdatePrice("ACME", 100)
	ctx := context.Background()

	buy, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "ACME", Side: models.SideBuy, Shares: 10})
	require.NoError(t, err)
	assert.InDelta(t, 100.1, buy.FilledPrice, 1e-9, "buys fill above the quote")

	sell, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "ACME", Side: models.SideSell, Shares: 10})
	require.NoError(t, err)
	assert.InDelta(t, 99.9, sell.FilledPrice, 1e-9, "sells fill below the quote")
}

func TestPaperLimitOrderSkipsQuote(t *testing.T) {
	p := paperBroker(100000, 0)
	ctx := context.Background()

	// No quote cached for the symbol; the limit price carries the fill.
	result, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "ACME", Side: models.SideBuy, Shares: 10, LimitPrice: 95})
	require.NoError(t, err)
	assert.Equal(t, 95.0, result.FilledPrice)

	// The fill seeds the price cache.
	quote, err := p.GetQuote(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 95.0, quote.Price)
}

func TestPaperInsufficientFunds(t *testing.T) {
	p := paperBroker(1000, 0)
	p.UpdatePrice("ACME", 100)

	_, err := p.PlaceOrder(context.Background(), OrderRequest{Symbol: "ACME", Side: models.SideBuy, Shares: 11})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	cash, _ := p.GetCash(context.Background())
	assert.Equal(t, 1000.0, cash, "failed order touches nothing")
}

func TestPaperInsufficientShares(t *testing.T) {
	p := paperBroker(100000, 0)
	p.UpdatePrice("ACME", 100)
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "ACME", Side: models.SideBuy, Shares: 10})
	require.NoError(t, err)

	_, err = p.PlaceOrder(ctx, OrderRequest{Symbol: "ACME", Side: models.SideSell, Shares: 11})
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
}

func TestPaperMarketOrderWithoutQuote(t *testing.T) {
	p := paperBroker(100000, 0)

	_, err := p.PlaceOrder(context.Background(), OrderRequest{Symbol: "GLOBO", Side: models.SideBuy, Shares: 10})
	assert.Error(t, err)
}

func TestPaperRejectsNonPositiveShares(t *testing.T) {
	p := paperBroker(100000, 0)

	_, err := p.PlaceOrder(context.Background(), OrderRequest{Symbol: "ACME", Side: models.SideBuy, Shares: 0})
	assert.Error(t, err)
}

func TestPaperOrderLookup(t *testing.T) {
	p := paperBroker(100000, 0)
	p.UpdatePrice("ACME", 100)
	ctx := context.Background()

	result, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "ACME", Side: models.SideBuy, Shares: 10})
	require.NoError(t, err)

	got, err := p.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, result.OrderID, got.OrderID)

	_, err = p.GetOrder(ctx, "missing")
	assert.Error(t, err)

	all, err := p.GetOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Filled immediately, so there is nothing left to cancel.
	assert.Error(t, p.CancelOrder(ctx, result.OrderID))
}

func TestPaperReset(t *testing.T) {
	p := paperBroker(100000, 0)
	p.UpdatePrice("ACME", 100)
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "ACME", Side: models.SideBuy, Shares: 10})
	require.NoError(t, err)

	p.Reset(50000)
	cash, _ := p.GetCash(ctx)
	assert.Equal(t, 50000.0, cash)

	all, _ := p.GetOrders(ctx)
	assert.Empty(t, all)
}
