package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"equity-engine/internal/config"
	apperrors "equity-engine/internal/errors"
	"equity-engine/internal/models"
	"equity-engine/internal/store"
)

// PlanNotifier is the human-in-the-loop channel for manual approval mode.
type PlanNotifier interface {
	NotifyPlanPending(ctx context.Context, plan *models.TradePlan)
}

// ApprovalManager gates a plan's pending-to-approved transition, either
// immediately (auto mode) or via external confirmation with a timeout
// policy. All transitions go through compare-and-swap so re-entrant sweeps
// and racing confirmations resolve to exactly one outcome.
type ApprovalManager struct {
	cfg      config.ApprovalConfig
	store    store.DataStore
	notifier PlanNotifier
	logger   zerolog.Logger
}

// NewApprovalManager creates a new approval manager.
func NewApprovalManager(cfg config.ApprovalConfig, st store.DataStore, notifier PlanNotifier, logger zerolog.Logger) *ApprovalManager {
	return &ApprovalManager{
		cfg:      cfg,
		store:    st,
		notifier: notifier,
		logger:   logger.With().Str("component", "approval").Logger(),
	}
}

// ProcessNewPlan handles a freshly created plan. In auto mode the plan is
// approved immediately and the caller should execute it; in manual mode it
// stays pending and the human channel is notified.
func (a *ApprovalManager) ProcessNewPlan(ctx context.Context, plan *models.TradePlan) (shouldExecute bool, err error) {
	if a.cfg.Mode == config.ApprovalAuto {
		ok, err := a.store.UpdatePlanStatusIf(ctx, plan.ID, models.PlanPending, models.PlanApproved, "auto")
		if err != nil {
			return false, err
		}
		if !ok {
			return false, apperrors.ErrAlreadyTerminal
		}
		plan.Status = models.PlanApproved
		plan.ApprovedBy = "auto"
		a.logger.Info().Str("plan_id", plan.ID).Str("symbol", plan.Symbol).Msg("Plan auto-approved")
		return true, nil
	}

	a.logger.Info().
		Str("plan_id", plan.ID).
		Str("symbol", plan.Symbol).
		Time("expires_at", plan.ExpiresAt).
		Msg("Plan pending manual approval")
	if a.notifier != nil {
		a.notifier.NotifyPlanPending(ctx, plan)
	}
	return false, nil
}

// HandleApproval applies an external confirmation to a pending plan.
// Exactly one transition happens; a second confirmation for the same plan
// returns ErrAlreadyTerminal.
func (a *ApprovalManager) HandleApproval(ctx context.Context, planID string, approved bool, by string) (*models.TradePlan, error) {
	next := models.PlanApproved
	if !approved {
		next = models.PlanRejected
	}

	ok, err := a.store.UpdatePlanStatusIf(ctx, planID, models.PlanPending, next, by)
	if err != nil {
		return nil, err
	}
	if !ok {
		plan, err := a.store.GetPlanByID(ctx, planID)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return nil, apperrors.ErrPlanNotFound
		}
		return nil, apperrors.ErrAlreadyTerminal
	}

	plan, err := a.store.GetPlanByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Str("plan_id", planID).
		Bool("approved", approved).
		Str("by", by).
		Msg("Plan approval handled")

	return plan, nil
}

// CheckExpiredPlans sweeps pending plans past their expiry, applying the
// configured timeout policy. It returns the plans that became approved and
// should now execute (timeout-execute policy only). Re-running the sweep
// against unchanged state transitions nothing.
func (a *ApprovalManager) CheckExpiredPlans(ctx context.Context) ([]models.TradePlan, error) {
	pending, err := a.store.GetPlans(ctx, store.PlanFilter{Status: models.PlanPending})
	if err != nil {
		return nil, err
	}

	next := models.PlanRejected
	if a.cfg.OnTimeout == config.TimeoutExecute {
		next = models.PlanApproved
	}

	now := time.Now()
	var toExecute []models.TradePlan
	for _, plan := range pending {
		if now.Before(plan.ExpiresAt) {
			continue
		}

		ok, err := a.store.UpdatePlanStatusIf(ctx, plan.ID, models.PlanPending, next, "timeout")
		if err != nil {
			a.logger.Error().Err(err).Str("plan_id", plan.ID).Msg("Expiry transition failed")
			continue
		}
		if !ok {
			// Someone else transitioned it between the read and the swap.
			continue
		}

		a.logger.Info().
			Str("plan_id", plan.ID).
			Str("symbol", plan.Symbol).
			Str("outcome", string(next)).
			Msg("Pending plan expired")

		if next == models.PlanApproved {
			plan.Status = models.PlanApproved
			plan.ApprovedBy = "timeout"
			toExecute = append(toExecute, plan)
		}
	}

	return toExecute, nil
}
