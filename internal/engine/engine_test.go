package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity-engine/internal/broker"
	"equity-engine/internal/config"
	apperrors "equity-engine/internal/errors"
	"equity-engine/internal/models"
	"equity-engine/internal/store"
)

func testEngine(t *testing.T) (*Engine, store.DataStore, *broker.PaperBroker) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Engine: config.EngineConfig{
			Mode:                "paper",
			CycleSeconds:        60,
			OrderTimeoutSeconds: 5,
			CashMaxAgeMinutes:   30,
		},
		Approval: config.ApprovalConfig{
			Mode:           config.ApprovalManual,
			TimeoutMinutes: 60,
			OnTimeout:      config.TimeoutExecute,
		},
		Risk: config.RiskConfig{
			MaxConcurrentPositions: 5,
			MaxPositionPercent:     20,
			MaxSectorExposure:      40,
			MaxCorrelation:         0.7,
			MinStopLossPercent:     1,
			MaxStopLossPercent:     10,
			MinRiskReward:          2.0,
		},
		ROI: map[string]float64{"0": 6},
	}

	b := broker.NewPaperBroker(broker.PaperBrokerConfig{StartingCash: 100000})
	eng, err := New(cfg, st, b, nil, nil, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	return eng, st, b
}

func saveGuardLock(t *testing.T, st store.DataStore, symbol string) {
	t.Helper()
	_, err := st.SaveLock(context.Background(), &models.PairLock{
		Symbol:      symbol,
		Side:        models.SideBuy,
		Reason:      models.LockStopLossGuard,
		LockedUntil: time.Now().UTC().Add(12 * time.Hour),
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestApprovePlanExecutesWhenUnlocked(t *testing.T) {
	e, st, b := testEngine(t)
	b.UpdatePrice("ACME", 100)
	ctx := context.Background()

	plan := pendingPlan(t, st, 30*time.Minute)
	got, err := e.ApprovePlan(ctx, plan.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.PlanExecuted, got.Status)

	pos, err := st.GetPosition(ctx, "ACME")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 50, pos.Shares)
}

func TestApprovePlanBlockedByLockCreatedAfterPlanning(t *testing.T) {
	e, st, b := testEngine(t)
	b.UpdatePrice("ACME", 100)
	ctx := context.Background()

	// The lock lands between plan creation and the human approval.
	plan := pendingPlan(t, st, 30*time.Minute)
	saveGuardLock(t, st, "ACME")

	_, err := e.ApprovePlan(ctx, plan.ID, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPairLocked)

	pos, err := st.GetPosition(ctx, "ACME")
	require.NoError(t, err)
	assert.Nil(t, pos, "locked symbol must not be bought")
}

func TestApprovalSweepCadence(t *testing.T) {
	e, _, _ := testEngine(t)

	// Zero cadence sweeps every cycle.
	assert.True(t, e.dueForApprovalSweep())
	assert.True(t, e.dueForApprovalSweep())

	e.cfg.Approval.SweepMinutes = 5
	assert.True(t, e.dueForApprovalSweep(), "first sweep of the window")
	assert.False(t, e.dueForApprovalSweep(), "inside the cadence window")
}

func TestTimeoutExecutionBlockedByLock(t *testing.T) {
	e, st, b := testEngine(t)
	b.UpdatePrice("ACME", 100)
	ctx := context.Background()

	pendingPlan(t, st, -time.Minute) // already past its approval window
	saveGuardLock(t, st, "ACME")

	e.sweepApprovals(ctx, false)

	pos, err := st.GetPosition(ctx, "ACME")
	require.NoError(t, err)
	assert.Nil(t, pos, "timeout execution honors the lock")
}
