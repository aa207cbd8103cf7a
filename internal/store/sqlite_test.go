package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "equity-engine/internal/errors"
	"equity-engine/internal/models"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func samplePlan(symbol string) *models.TradePlan {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.TradePlan{
		ID:            ulid.Make().String(),
		Symbol:        symbol,
		Side:          models.SideBuy,
		EntryPrice:    100,
		Shares:        50,
		Value:         5000,
		SizePercent:   10,
		StopPrice:     95,
		StopPercent:   5,
		TargetPrice:   115,
		TargetPercent: 15,
		MaxLoss:       250,
		RiskReward:    3.0,
		Status:        models.PlanPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(30 * time.Minute),
	}
}

func TestNewSQLiteStoreBadPath(t *testing.T) {
	// A directory is not a database file; schema init must fail.
	_, err := NewSQLiteStore(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDatabaseError)
}

func TestPlanRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	plan := samplePlan("ACME")
	plan.SubScores = map[string]float64{"momentum": 0.8, "value": 0.3}
	require.NoError(t, st.SavePlan(ctx, plan))

	got, err := st.GetPlanByID(ctx, plan.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, plan.Symbol, got.Symbol)
	assert.Equal(t, plan.Shares, got.Shares)
	assert.Equal(t, plan.RiskReward, got.RiskReward)
	assert.Equal(t, models.PlanPending, got.Status)
	assert.Equal(t, plan.SubScores, got.SubScores)
	assert.Nil(t, got.ApprovedAt)
}

func TestGetPlanByIDMissing(t *testing.T) {
	st := testStore(t)

	got, err := st.GetPlanByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdatePlanStatusIfCAS(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	plan := samplePlan("ACME")
	require.NoError(t, st.SavePlan(ctx, plan))

	// Guard mismatch: no transition, no error.
	ok, err := st.UpdatePlanStatusIf(ctx, plan.ID, models.PlanApproved, models.PlanExecuted, "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.UpdatePlanStatusIf(ctx, plan.ID, models.PlanPending, models.PlanApproved, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.GetPlanByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanApproved, got.Status)
	assert.Equal(t, "alice", got.ApprovedBy)
	assert.NotNil(t, got.ApprovedAt)

	// Replaying the same swap loses: the plan already moved on.
	ok, err = st.UpdatePlanStatusIf(ctx, plan.ID, models.PlanPending, models.PlanRejected, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = st.GetPlanByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanApproved, got.Status)
	assert.Equal(t, "alice", got.ApprovedBy, "losing swap leaves approver untouched")
}

func TestGetPlansFilter(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	a := samplePlan("ACME")
	b := samplePlan("GLOBO")
	require.NoError(t, st.SavePlan(ctx, a))
	require.NoError(t, st.SavePlan(ctx, b))

	_, err := st.UpdatePlanStatusIf(ctx, b.ID, models.PlanPending, models.PlanRejected, "")
	require.NoError(t, err)

	pending, err := st.GetPlans(ctx, PlanFilter{Status: models.PlanPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)

	bySymbol, err := st.GetPlans(ctx, PlanFilter{Symbol: "GLOBO"})
	require.NoError(t, err)
	require.Len(t, bySymbol, 1)
	assert.Equal(t, models.PlanRejected, bySymbol[0].Status)
}

func TestPositionRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	trailing := 102.5
	pos := &models.Position{
		Symbol:        "ACME",
		Shares:        50,
		AvgEntryPrice: 100,
		StopLoss:      95,
		TrailingStop:  &trailing,
		TakeProfit:    115,
		DCACount:      1,
		TotalInvested: 5000,
		OpenedAt:      now,
		LastBuyAt:     now,
	}
	require.NoError(t, st.SavePosition(ctx, pos))

	got, err := st.GetPosition(ctx, "ACME")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.TrailingStop)
	assert.Equal(t, 102.5, *got.TrailingStop)
	assert.Equal(t, 1, got.DCACount)

	// Saving again replaces, keeping one live holding per symbol.
	pos.Shares = 75
	require.NoError(t, st.SavePosition(ctx, pos))
	all, err := st.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 75, all[0].Shares)

	require.NoError(t, st.DeletePosition(ctx, "ACME"))
	got, err = st.GetPosition(ctx, "ACME")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateConditionalStatusIfCAS(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	order := &models.ConditionalOrder{
		ID:           ulid.Make().String(),
		Symbol:       "ACME",
		Trigger:      models.TriggerPriceAbove,
		TriggerPrice: 110,
		Action:       models.ConditionalAction{Side: models.SideSell, Shares: 25},
		Status:       models.ConditionalPending,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, st.SaveConditionalOrder(ctx, order))

	ok, err := st.UpdateConditionalStatusIf(ctx, order.ID, models.ConditionalPending, models.ConditionalTriggered)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.GetConditionalOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConditionalTriggered, got.Status)
	assert.NotNil(t, got.TriggeredAt)

	// A racing cancel arrives after the trigger won.
	ok, err = st.UpdateConditionalStatusIf(ctx, order.ID, models.ConditionalPending, models.ConditionalCancelled)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockLifecycle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	id, err := st.SaveLock(ctx, &models.PairLock{
		Symbol:      "ACME",
		Reason:      models.LockCooldown,
		LockedUntil: now.Add(time.Hour),
		Active:      true,
		CreatedAt:   now,
	})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	expiredID, err := st.SaveLock(ctx, &models.PairLock{
		Symbol:      "GLOBO",
		Reason:      models.LockStopLossGuard,
		LockedUntil: now.Add(-time.Minute),
		Active:      true,
		CreatedAt:   now.Add(-time.Hour),
	})
	require.NoError(t, err)

	active, err := st.GetActiveLocks(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	// The sweep only touches locks past their window.
	n, err := st.DeactivateExpiredLocks(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = st.DeactivateExpiredLocks(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second sweep finds nothing")

	active, err = st.GetActiveLocks(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "ACME", active[0].Symbol)

	require.NoError(t, st.DeactivateLock(ctx, id, "operator"))
	assert.Error(t, st.DeactivateLock(ctx, id, "operator"), "already inactive")
	assert.Error(t, st.DeactivateLock(ctx, expiredID, "operator"))

	active, err = st.GetActiveLocks(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestTradeLogAndQuery(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	trade := &models.Trade{
		ID:           ulid.Make().String(),
		Symbol:       "ACME",
		Side:         models.SideSell,
		Shares:       50,
		EntryPrice:   100,
		ExitPrice:    110,
		PnL:          500,
		PnLPercent:   10,
		Reason:       models.ExitTakeProfit,
		IsPaper:      true,
		OrderIDs:     []string{"o1", "o2"},
		OpenedAt:     now.Add(-2 * time.Hour),
		ClosedAt:     now,
		HoldDuration: 2 * time.Hour,
	}
	require.NoError(t, st.LogTrade(ctx, trade))

	paper := true
	got, err := st.GetTrades(ctx, TradeFilter{Symbol: "ACME", IsPaper: &paper})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.ExitTakeProfit, got[0].Reason)
	assert.Equal(t, []string{"o1", "o2"}, got[0].OrderIDs)
	assert.Equal(t, 2*time.Hour, got[0].HoldDuration)

	live := false
	got, err = st.GetTrades(ctx, TradeFilter{IsPaper: &live})
	require.NoError(t, err)
	assert.Empty(t, got)
}
