package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity-engine/internal/config"
	apperrors "equity-engine/internal/errors"
	"equity-engine/internal/models"
	"equity-engine/internal/store"
)

func testConditional(t *testing.T, maxActive int) (*ConditionalEngine, store.DataStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewConditionalEngine(config.ConditionalConfig{MaxActiveOrders: maxActive}, st, zerolog.Nop()), st
}

func priceOrder(symbol string, trigger models.TriggerType, at float64) *models.ConditionalOrder {
	return &models.ConditionalOrder{
		Symbol:       symbol,
		Trigger:      trigger,
		TriggerPrice: at,
		Action:       models.ConditionalAction{Side: models.SideSell, Shares: 25},
	}
}

func TestCreateOrderValidation(t *testing.T) {
	c, _ := testConditional(t, 10)
	ctx := context.Background()

	err := c.CreateOrder(ctx, priceOrder("", models.TriggerPriceAbove, 110))
	assert.Error(t, err)

	err = c.CreateOrder(ctx, priceOrder("ACME", models.TriggerPriceAbove, 0))
	assert.Error(t, err)

	order := priceOrder("ACME", models.TriggerPriceAbove, 110)
	order.Action.Shares = 0
	assert.Error(t, c.CreateOrder(ctx, order))

	past := time.Now().Add(-time.Hour)
	order = priceOrder("ACME", models.TriggerPriceAbove, 110)
	order.ExpiresAt = &past
	assert.Error(t, c.CreateOrder(ctx, order), "already past its expiry")

	order = &models.ConditionalOrder{
		Symbol:  "ACME",
		Trigger: models.TriggerTime,
		Action:  models.ConditionalAction{Side: models.SideSell, Shares: 25},
	}
	assert.Error(t, c.CreateOrder(ctx, order), "time trigger needs trigger_at")
}

func TestCreateOrderCap(t *testing.T) {
	c, _ := testConditional(t, 2)
	ctx := context.Background()

	require.NoError(t, c.CreateOrder(ctx, priceOrder("ACME", models.TriggerPriceAbove, 110)))
	require.NoError(t, c.CreateOrder(ctx, priceOrder("ACME", models.TriggerPriceBelow, 90)))

	err := c.CreateOrder(ctx, priceOrder("GLOBO", models.TriggerPriceAbove, 50))
	assert.ErrorIs(t, err, apperrors.ErrOrderCapReached)

	// An OCO pair needs room for both legs.
	c2, _ := testConditional(t, 3)
	require.NoError(t, c2.CreateOrder(ctx, priceOrder("ACME", models.TriggerPriceAbove, 110)))
	require.NoError(t, c2.CreateOrder(ctx, priceOrder("ACME", models.TriggerPriceBelow, 90)))
	err = c2.CreateOCOPair(ctx,
		priceOrder("GLOBO", models.TriggerPriceAbove, 60),
		priceOrder("GLOBO", models.TriggerPriceBelow, 40))
	assert.ErrorIs(t, err, apperrors.ErrOrderCapReached)
}

func TestCheckTriggersInclusiveBoundaries(t *testing.T) {
	c, _ := testConditional(t, 10)
	ctx := context.Background()

	require.NoError(t, c.CreateOrder(ctx, priceOrder("ACME", models.TriggerPriceAbove, 110)))
	require.NoError(t, c.CreateOrder(ctx, priceOrder("GLOBO", models.TriggerPriceBelow, 90)))

	triggered, err := c.CheckTriggers(ctx, map[string]float64{"ACME": 109.99, "GLOBO": 90.01})
	require.NoError(t, err)
	assert.Empty(t, triggered)

	triggered, err = c.CheckTriggers(ctx, map[string]float64{"ACME": 110, "GLOBO": 90})
	require.NoError(t, err)
	assert.Len(t, triggered, 2, "boundary prices fire")

	// Re-running the check against unchanged state transitions nothing.
	triggered, err = c.CheckTriggers(ctx, map[string]float64{"ACME": 110, "GLOBO": 90})
	require.NoError(t, err)
	assert.Empty(t, triggered)
}

func TestCheckTriggersTime(t *testing.T) {
	c, _ := testConditional(t, 10)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	due := &models.ConditionalOrder{
		Symbol:    "ACME",
		Trigger:   models.TriggerTime,
		TriggerAt: &past,
		Action:    models.ConditionalAction{Side: models.SideSell, Shares: 10},
	}
	notYet := &models.ConditionalOrder{
		Symbol:    "ACME",
		Trigger:   models.TriggerTime,
		TriggerAt: &future,
		Action:    models.ConditionalAction{Side: models.SideSell, Shares: 10},
	}
	require.NoError(t, c.CreateOrder(ctx, due))
	require.NoError(t, c.CreateOrder(ctx, notYet))

	triggered, err := c.CheckTriggers(ctx, nil)
	require.NoError(t, err)
	require.Len(t, triggered, 1)
	assert.Equal(t, due.ID, triggered[0].ID)
}

func TestOCOTriggerCancelsSibling(t *testing.T) {
	c, st := testConditional(t, 10)
	ctx := context.Background()

	above := priceOrder("ACME", models.TriggerPriceAbove, 110)
	below := priceOrder("ACME", models.TriggerPriceBelow, 90)
	require.NoError(t, c.CreateOCOPair(ctx, above, below))
	assert.Equal(t, above.OCOGroupID, below.OCOGroupID)
	assert.Equal(t, above.ID, below.SiblingID)
	assert.Equal(t, below.ID, above.SiblingID)

	triggered, err := c.CheckTriggers(ctx, map[string]float64{"ACME": 112})
	require.NoError(t, err)
	require.Len(t, triggered, 1)
	assert.Equal(t, above.ID, triggered[0].ID)

	sibling, err := st.GetConditionalOrderByID(ctx, below.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConditionalCancelled, sibling.Status)

	// The cancelled leg never fires, even at its own trigger price.
	triggered, err = c.CheckTriggers(ctx, map[string]float64{"ACME": 85})
	require.NoError(t, err)
	assert.Empty(t, triggered)
}

func TestOCOLegsMustShareSymbol(t *testing.T) {
	c, _ := testConditional(t, 10)
	err := c.CreateOCOPair(context.Background(),
		priceOrder("ACME", models.TriggerPriceAbove, 110),
		priceOrder("GLOBO", models.TriggerPriceBelow, 90))
	assert.Error(t, err)
}

func TestCancelOrderCancelsGroup(t *testing.T) {
	c, st := testConditional(t, 10)
	ctx := context.Background()

	above := priceOrder("ACME", models.TriggerPriceAbove, 110)
	below := priceOrder("ACME", models.TriggerPriceBelow, 90)
	require.NoError(t, c.CreateOCOPair(ctx, above, below))

	require.NoError(t, c.CancelOrder(ctx, above.ID))

	for _, id := range []string{above.ID, below.ID} {
		got, err := st.GetConditionalOrderByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.ConditionalCancelled, got.Status)
	}

	// Cancelling the group again is a no-op.
	require.NoError(t, c.CancelOrder(ctx, above.ID))
	assert.Error(t, c.CancelOrder(ctx, "missing"))
}

func TestMarkExecuted(t *testing.T) {
	c, _ := testConditional(t, 10)
	ctx := context.Background()

	order := priceOrder("ACME", models.TriggerPriceAbove, 110)
	require.NoError(t, c.CreateOrder(ctx, order))

	// Still pending: execution has nothing to record.
	assert.ErrorIs(t, c.MarkExecuted(ctx, order.ID), apperrors.ErrAlreadyTerminal)

	_, err := c.CheckTriggers(ctx, map[string]float64{"ACME": 115})
	require.NoError(t, err)

	require.NoError(t, c.MarkExecuted(ctx, order.ID))
	assert.ErrorIs(t, c.MarkExecuted(ctx, order.ID), apperrors.ErrAlreadyTerminal)
}

func TestExpireOldOrders(t *testing.T) {
	c, _ := testConditional(t, 10)
	ctx := context.Background()

	soon := time.Now().Add(50 * time.Millisecond)
	order := priceOrder("ACME", models.TriggerPriceAbove, 110)
	order.ExpiresAt = &soon
	require.NoError(t, c.CreateOrder(ctx, order))
	require.NoError(t, c.CreateOrder(ctx, priceOrder("GLOBO", models.TriggerPriceAbove, 50)))

	time.Sleep(60 * time.Millisecond)

	// A past-expiry order no longer fires.
	triggered, err := c.CheckTriggers(ctx, map[string]float64{"ACME": 120})
	require.NoError(t, err)
	assert.Empty(t, triggered)

	n, err := c.ExpireOldOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.ExpireOldOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second sweep finds nothing")
}
