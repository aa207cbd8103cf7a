package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity-engine/internal/config"
	"equity-engine/internal/models"
	"equity-engine/internal/store"
)

func testTracker(t *testing.T, trailing config.TrailingConfig, roi map[string]float64) *Tracker {
	t.Helper()
	sched, err := NewSchedule(roi)
	require.NoError(t, err)
	return NewTracker(nil, nil, nil, sched, trailing, nil, nil, zerolog.Nop())
}

func openPosition(entry, price float64) *models.Position {
	pos := &models.Position{
		Symbol:        "ACME",
		Shares:        100,
		AvgEntryPrice: entry,
		CurrentPrice:  price,
		OpenedAt:      time.Now(),
	}
	pos.PnL = (price - entry) * float64(pos.Shares)
	pos.PnLPercent = (price - entry) / entry * 100
	return pos
}

func TestRatchetTrailingActivation(t *testing.T) {
	tr := testTracker(t, config.TrailingConfig{Enabled: true, ActivationPercent: 5.0, TrailPercent: 3.0}, nil)

	pos := openPosition(100, 104)
	tr.ratchetTrailing(pos)
	assert.Nil(t, pos.TrailingStop, "below activation threshold")

	pos = openPosition(100, 105)
	tr.ratchetTrailing(pos)
	require.NotNil(t, pos.TrailingStop)
	assert.InDelta(t, 105*0.97, *pos.TrailingStop, 1e-9)
}

func TestRatchetTrailingNeverLowers(t *testing.T) {
	tr := testTracker(t, config.TrailingConfig{Enabled: true, ActivationPercent: 5.0, TrailPercent: 3.0}, nil)

	pos := openPosition(100, 110)
	tr.ratchetTrailing(pos)
	require.NotNil(t, pos.TrailingStop)
	high := *pos.TrailingStop

	// Pullback: the stop holds.
	pos.CurrentPrice = 106
	pos.PnLPercent = 6
	tr.ratchetTrailing(pos)
	assert.Equal(t, high, *pos.TrailingStop)

	// New high: the stop rises.
	pos.CurrentPrice = 115
	pos.PnLPercent = 15
	tr.ratchetTrailing(pos)
	assert.Greater(t, *pos.TrailingStop, high)
}

func TestRatchetTrailingDisabled(t *testing.T) {
	tr := testTracker(t, config.TrailingConfig{Enabled: false}, nil)
	pos := openPosition(100, 150)
	tr.ratchetTrailing(pos)
	assert.Nil(t, pos.TrailingStop)
}

// Property: over any price path, an activated trailing stop is
// non-decreasing.
func TestProperty_TrailingStopMonotone(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	tr := testTracker(t, config.TrailingConfig{Enabled: true, ActivationPercent: 2.0, TrailPercent: 5.0}, nil)

	properties.Property("trailing stop never decreases", prop.ForAll(
		func(prices []float64) bool {
			pos := openPosition(100, 100)
			var last float64
			for _, price := range prices {
				pos.CurrentPrice = price
				pos.PnLPercent = (price - pos.AvgEntryPrice) / pos.AvgEntryPrice * 100
				tr.ratchetTrailing(pos)
				if pos.TrailingStop == nil {
					continue
				}
				if last != 0 && *pos.TrailingStop < last {
					return false
				}
				last = *pos.TrailingStop
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(50.0, 200.0)),
	))

	properties.TestingRun(t)
}

func TestEvaluateExitPrecedence(t *testing.T) {
	tr := testTracker(t, config.TrailingConfig{Enabled: true, ActivationPercent: 2.0, TrailPercent: 3.0},
		map[string]float64{"0": 6.0})

	// Stop-loss beats everything.
	pos := openPosition(100, 90)
	pos.StopLoss = 95
	pos.TakeProfit = 120
	trail := 96.0
	pos.TrailingStop = &trail
	reason, ok := tr.evaluateExit(nil, pos)
	require.True(t, ok)
	assert.Equal(t, models.ExitStopLoss, reason)

	// Trailing beats take-profit.
	pos = openPosition(100, 96)
	pos.StopLoss = 90
	pos.TakeProfit = 96
	pos.TrailingStop = &trail
	reason, ok = tr.evaluateExit(nil, pos)
	require.True(t, ok)
	assert.Equal(t, models.ExitTrailingStop, reason)

	// Take-profit beats ROI.
	pos = openPosition(100, 120)
	pos.StopLoss = 90
	pos.TakeProfit = 115
	reason, ok = tr.evaluateExit(nil, pos)
	require.True(t, ok)
	assert.Equal(t, models.ExitTakeProfit, reason)

	// ROI schedule: 20% return past the 6% requirement, no other trigger.
	pos = openPosition(100, 112)
	pos.StopLoss = 90
	pos.TakeProfit = 150
	reason, ok = tr.evaluateExit(nil, pos)
	require.True(t, ok)
	assert.Equal(t, models.ExitROISchedule, reason)
}

func TestEvaluateExitModelFlag(t *testing.T) {
	tr := testTracker(t, config.TrailingConfig{}, nil)

	pos := openPosition(100, 101)
	pos.StopLoss = 90
	pos.TakeProfit = 150

	_, ok := tr.evaluateExit(nil, pos)
	assert.False(t, ok)

	tr.FlagModelExit("ACME")
	reason, ok := tr.evaluateExit(nil, pos)
	require.True(t, ok)
	assert.Equal(t, models.ExitModelSignal, reason)
}

func TestEvaluateExitInclusiveBoundaries(t *testing.T) {
	tr := testTracker(t, config.TrailingConfig{}, nil)

	pos := openPosition(100, 95)
	pos.StopLoss = 95
	reason, ok := tr.evaluateExit(nil, pos)
	require.True(t, ok)
	assert.Equal(t, models.ExitStopLoss, reason, "price equal to stop exits")

	pos = openPosition(100, 115)
	pos.StopLoss = 90
	pos.TakeProfit = 115
	reason, ok = tr.evaluateExit(nil, pos)
	require.True(t, ok)
	assert.Equal(t, models.ExitTakeProfit, reason, "price equal to target exits")
}

func TestEvaluateExitMaxHold(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sched, err := NewSchedule(nil)
	require.NoError(t, err)
	tr := NewTracker(st, nil, nil, sched, config.TrailingConfig{}, nil, nil, zerolog.Nop())
	ctx := context.Background()

	now := time.Now().UTC()
	plan := &models.TradePlan{
		ID:          ulid.Make().String(),
		Symbol:      "ACME",
		Side:        models.SideBuy,
		EntryPrice:  100,
		Shares:      100,
		MaxHoldDays: 2,
		Status:      models.PlanExecuted,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	require.NoError(t, st.SavePlan(ctx, plan))

	// Flat price, held past the limit.
	pos := openPosition(100, 101)
	pos.PlanID = plan.ID
	pos.StopLoss = 90
	pos.TakeProfit = 150
	pos.OpenedAt = now.Add(-3 * 24 * time.Hour)
	reason, ok := tr.evaluateExit(ctx, pos)
	require.True(t, ok)
	assert.Equal(t, models.ExitMaxHoldTime, reason)

	// Inside the window nothing fires.
	pos.OpenedAt = now.Add(-24 * time.Hour)
	_, ok = tr.evaluateExit(ctx, pos)
	assert.False(t, ok)
}
