package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity-engine/internal/config"
	apperrors "equity-engine/internal/errors"
	"equity-engine/internal/models"
	"equity-engine/internal/store"
)

func testApprovalStore(t *testing.T) store.DataStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func pendingPlan(t *testing.T, st store.DataStore, expiresIn time.Duration) *models.TradePlan {
	t.Helper()
	now := time.Now().UTC()
	plan := &models.TradePlan{
		ID:         ulid.Make().String(),
		Symbol:     "ACME",
		Side:       models.SideBuy,
		EntryPrice: 100,
		Shares:     50,
		Status:     models.PlanPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(expiresIn),
	}
	require.NoError(t, st.SavePlan(context.Background(), plan))
	return plan
}

type notifyRecorder struct {
	mu    sync.Mutex
	plans []string
}

func (n *notifyRecorder) NotifyPlanPending(ctx context.Context, plan *models.TradePlan) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.plans = append(n.plans, plan.ID)
}

func TestAutoModeApprovesImmediately(t *testing.T) {
	st := testApprovalStore(t)
	a := NewApprovalManager(config.ApprovalConfig{Mode: config.ApprovalAuto}, st, nil, zerolog.Nop())

	plan := pendingPlan(t, st, 30*time.Minute)
	shouldExecute, err := a.ProcessNewPlan(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, shouldExecute)
	assert.Equal(t, models.PlanApproved, plan.Status)

	got, err := st.GetPlanByID(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanApproved, got.Status)
	assert.Equal(t, "auto", got.ApprovedBy)
}

func TestManualModeNotifiesAndWaits(t *testing.T) {
	st := testApprovalStore(t)
	rec := &notifyRecorder{}
	a := NewApprovalManager(config.ApprovalConfig{Mode: config.ApprovalManual}, st, rec, zerolog.Nop())

	plan := pendingPlan(t, st, 30*time.Minute)
	shouldExecute, err := a.ProcessNewPlan(context.Background(), plan)
	require.NoError(t, err)
	assert.False(t, shouldExecute)
	assert.Equal(t, []string{plan.ID}, rec.plans)

	got, err := st.GetPlanByID(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanPending, got.Status)
}

func TestHandleApprovalExactlyOnce(t *testing.T) {
	st := testApprovalStore(t)
	a := NewApprovalManager(config.ApprovalConfig{Mode: config.ApprovalManual}, st, nil, zerolog.Nop())
	ctx := context.Background()

	plan := pendingPlan(t, st, 30*time.Minute)

	approved, err := a.HandleApproval(ctx, plan.ID, true, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.PlanApproved, approved.Status)
	assert.Equal(t, "alice", approved.ApprovedBy)

	// Second confirmation finds the plan already settled.
	_, err = a.HandleApproval(ctx, plan.ID, true, "bob")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyTerminal)

	// So does a late rejection.
	_, err = a.HandleApproval(ctx, plan.ID, false, "carol")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyTerminal)

	got, err := st.GetPlanByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ApprovedBy)
}

func TestHandleApprovalReject(t *testing.T) {
	st := testApprovalStore(t)
	a := NewApprovalManager(config.ApprovalConfig{Mode: config.ApprovalManual}, st, nil, zerolog.Nop())

	plan := pendingPlan(t, st, 30*time.Minute)
	rejected, err := a.HandleApproval(context.Background(), plan.ID, false, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.PlanRejected, rejected.Status)
}

func TestHandleApprovalUnknownPlan(t *testing.T) {
	st := testApprovalStore(t)
	a := NewApprovalManager(config.ApprovalConfig{Mode: config.ApprovalManual}, st, nil, zerolog.Nop())

	_, err := a.HandleApproval(context.Background(), "missing", true, "alice")
	assert.ErrorIs(t, err, apperrors.ErrPlanNotFound)
}

func TestCheckExpiredPlansRejectPolicy(t *testing.T) {
	st := testApprovalStore(t)
	a := NewApprovalManager(config.ApprovalConfig{
		Mode:      config.ApprovalManual,
		OnTimeout: config.TimeoutReject,
	}, st, nil, zerolog.Nop())
	ctx := context.Background()

	expired := pendingPlan(t, st, -time.Minute)
	fresh := pendingPlan(t, st, 30*time.Minute)

	toExecute, err := a.CheckExpiredPlans(ctx)
	require.NoError(t, err)
	assert.Empty(t, toExecute, "reject policy never queues execution")

	got, err := st.GetPlanByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanRejected, got.Status)
	assert.Equal(t, "timeout", got.ApprovedBy)

	got, err = st.GetPlanByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanPending, got.Status)
}

func TestCheckExpiredPlansExecutePolicy(t *testing.T) {
	st := testApprovalStore(t)
	a := NewApprovalManager(config.ApprovalConfig{
		Mode:      config.ApprovalManual,
		OnTimeout: config.TimeoutExecute,
	}, st, nil, zerolog.Nop())
	ctx := context.Background()

	expired := pendingPlan(t, st, -time.Minute)

	toExecute, err := a.CheckExpiredPlans(ctx)
	require.NoError(t, err)
	require.Len(t, toExecute, 1)
	assert.Equal(t, expired.ID, toExecute[0].ID)
	assert.Equal(t, models.PlanApproved, toExecute[0].Status)

	// Re-running the sweep against unchanged state transitions nothing.
	toExecute, err = a.CheckExpiredPlans(ctx)
	require.NoError(t, err)
	assert.Empty(t, toExecute)
}
