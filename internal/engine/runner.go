package engine

import (
	"context"
	"time"

	"equity-engine/internal/audit"
	"equity-engine/internal/models"
	"equity-engine/internal/store"
	"equity-engine/internal/stream"
)

// Run drives the engine until the context ends. All periodic work runs on
// one goroutine: positions are single-writer state, and the cycle cadence
// is minutes, not milliseconds.
func (e *Engine) Run(ctx context.Context) error {
	if e.hub != nil {
		e.hub.Start(ctx)
	}

	interval := time.Duration(e.cfg.Engine.CycleSeconds) * time.Second
	e.logger.Info().
		Dur("interval", interval).
		Bool("paper", e.broker.IsPaper()).
		Msg("Engine loop started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Engine loop stopped")
			return ctx.Err()
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle executes one pass of all periodic work. Each stage is isolated:
// a failing stage logs and the rest of the cycle still runs.
func (e *Engine) RunCycle(ctx context.Context) {
	started := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.ObserveCycle(time.Since(started))
		}
	}()

	e.syncControl(ctx)

	pf, err := e.Snapshot(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Portfolio snapshot failed, skipping cycle")
		return
	}

	e.risk.CheckDailyLoss(ctx, pf)
	e.risk.CheckDrawdown(pf)
	if lock, err := e.protection.CheckMaxDrawdown(ctx, pf); err != nil {
		e.logger.Error().Err(err).Msg("Drawdown check failed")
	} else if lock != nil {
		if e.metrics != nil {
			e.metrics.LocksCreated.WithLabelValues(string(lock.Reason)).Inc()
		}
		e.auditLog.LogLock(ctx, audit.EventLockCreated, lock.Symbol, string(lock.Reason), "engine")
		e.publish(stream.EventLockCreated, lock.Symbol, map[string]interface{}{"reason": string(lock.Reason)})
	}

	paused, _ := e.IsPaused()

	if !paused {
		if result, err := e.tracker.RunCycle(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Tracker cycle failed")
		} else if result.Checked > 0 {
			e.logger.Debug().
				Int("checked", result.Checked).
				Int("exited", result.Exited).
				Int("failed", result.Failed).
				Msg("Tracker cycle done")
		}

		e.runAveraging(ctx, pf)
		e.runPartialExits(ctx)
		e.runConditionals(ctx)
	}

	if e.dueForApprovalSweep() {
		e.sweepApprovals(ctx, paused)
	}

	if _, err := e.protection.SweepExpired(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Lock sweep failed")
	}
	if _, err := e.conditional.ExpireOldOrders(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Conditional expiry sweep failed")
	}
}

// runAveraging evaluates every open position for its next DCA round.
func (e *Engine) runAveraging(ctx context.Context, pf *models.PortfolioState) {
	if !e.cfg.DCA.Enabled {
		return
	}

	positions, err := e.store.GetPositions(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Loading positions for DCA failed")
		return
	}

	cash := pf.Cash
	now := time.Now()
	for i := range positions {
		pos := &positions[i]
		if locked, _, err := e.protection.IsLocked(ctx, pos.Symbol, models.SideBuy); err != nil || locked {
			continue
		}

		decision, ok := e.dca.EvaluatePosition(pos, pos.CurrentPrice, cash, now)
		if !ok {
			continue
		}

		updated, err := e.dca.ExecuteDCA(ctx, pos, decision)
		if err != nil {
			e.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("DCA round failed")
			continue
		}

		cash -= pos.CurrentPrice * float64(decision.Shares)
		if e.metrics != nil {
			e.metrics.DCARounds.Inc()
		}
		e.auditLog.LogTrade(ctx, audit.EventDCARound, updated.Symbol, updated.PlanID,
			decision.Shares, updated.AvgEntryPrice, 0, "dca")
		e.publish(stream.EventDCARound, updated.Symbol, map[string]interface{}{
			"round":   updated.DCACount,
			"shares":  decision.Shares,
			"new_avg": updated.AvgEntryPrice,
		})
	}
}

// runPartialExits evaluates every open position for its next profit tier.
func (e *Engine) runPartialExits(ctx context.Context) {
	if !e.cfg.Partial.Enabled {
		return
	}

	positions, err := e.store.GetPositions(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Loading positions for partial exits failed")
		return
	}

	for i := range positions {
		pos := &positions[i]
		decision, ok := e.partial.EvaluatePosition(pos)
		if !ok {
			continue
		}

		trade, err := e.partial.ExecutePartialExit(ctx, pos, decision)
		if err != nil {
			e.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("Partial exit failed")
			continue
		}

		if e.metrics != nil {
			e.metrics.PartialExits.Inc()
		}
		e.auditLog.LogTrade(ctx, audit.EventPartialExit, trade.Symbol, trade.PlanID,
			trade.Shares, trade.ExitPrice, trade.PnL, string(trade.Reason))
		e.publish(stream.EventPartialExit, trade.Symbol, map[string]interface{}{
			"tier":      decision.Tier + 1,
			"shares":    trade.Shares,
			"remaining": pos.Shares,
		})
	}
}

// runConditionals checks pending conditional orders against fresh prices
// and executes any that fired.
func (e *Engine) runConditionals(ctx context.Context) {
	pending, err := e.store.GetConditionalOrders(ctx, store.ConditionalFilter{Status: models.ConditionalPending})
	if err != nil {
		e.logger.Error().Err(err).Msg("Loading conditional orders failed")
		return
	}
	if len(pending) == 0 {
		return
	}

	prices := make(map[string]float64)
	for _, order := range pending {
		if _, seen := prices[order.Symbol]; seen {
			continue
		}
		quote, err := e.broker.GetQuote(ctx, order.Symbol)
		if err != nil {
			continue
		}
		prices[order.Symbol] = quote.Price
	}

	triggered, err := e.conditional.CheckTriggers(ctx, prices)
	if err != nil {
		e.logger.Error().Err(err).Msg("Conditional trigger check failed")
		return
	}

	for i := range triggered {
		if err := e.executeConditional(ctx, &triggered[i]); err != nil {
			e.logger.Error().Err(err).
				Str("order_id", triggered[i].ID).
				Str("symbol", triggered[i].Symbol).
				Msg("Conditional execution failed")
			continue
		}
		if err := e.conditional.MarkExecuted(ctx, triggered[i].ID); err != nil {
			e.logger.Error().Err(err).Str("order_id", triggered[i].ID).Msg("Conditional executed transition failed")
		}
	}
}

// executeConditional carries out a triggered order's action. Sell actions
// close into the held position; buy actions add to it as an averaging
// fill. A buy with no position has nothing to anchor sizing or stops and
// is skipped.
func (e *Engine) executeConditional(ctx context.Context, order *models.ConditionalOrder) error {
	pos, err := e.store.GetPosition(ctx, order.Symbol)
	if err != nil {
		return err
	}

	switch order.Action.Side {
	case models.SideSell:
		if pos == nil {
			e.logger.Warn().Str("order_id", order.ID).Msg("Conditional sell with no position, skipping")
			return nil
		}
		shares := order.Action.Shares
		if shares > pos.Shares {
			shares = pos.Shares
		}
		if quote, err := e.broker.GetQuote(ctx, order.Symbol); err == nil {
			pos.CurrentPrice = quote.Price
		}
		trade, err := e.orders.ExecuteClose(ctx, pos, shares, models.ExitManual)
		if err != nil {
			return err
		}
		if pos.Shares == 0 {
			e.risk.RecordTradeResult(trade.PnL)
		}
		e.onTradeClosed(ctx, trade)
		return nil

	case models.SideBuy:
		if pos == nil {
			e.logger.Warn().Str("order_id", order.ID).Msg("Conditional buy with no position, skipping")
			return nil
		}
		_, err := e.orders.ExecuteDCA(ctx, pos, order.Action.Shares)
		return err
	}
	return nil
}

// dueForApprovalSweep rate-limits the expiry sweep to the configured
// cadence. A zero cadence sweeps every cycle.
func (e *Engine) dueForApprovalSweep() bool {
	mins := e.cfg.Approval.SweepMinutes
	if mins <= 0 {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if time.Since(e.lastApprovalSweep) < time.Duration(mins)*time.Minute {
		return false
	}
	e.lastApprovalSweep = time.Now()
	return true
}

// sweepApprovals expires overdue pending plans and executes any the
// timeout policy approved. Timeout executions honor the pause flag.
func (e *Engine) sweepApprovals(ctx context.Context, paused bool) {
	approved, err := e.approval.CheckExpiredPlans(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Approval sweep failed")
		return
	}

	for i := range approved {
		plan := &approved[i]
		e.auditLog.LogPlan(ctx, audit.EventPlanExpired, plan.ID, plan.Symbol, "timeout")
		e.publish(stream.EventPlanExpired, plan.Symbol, map[string]interface{}{
			"plan_id": plan.ID,
			"outcome": string(plan.Status),
		})

		if paused {
			e.logger.Warn().Str("plan_id", plan.ID).Msg("Timeout-approved plan held, engine paused")
			continue
		}
		if err := e.executePlan(ctx, plan); err != nil {
			e.logger.Error().Err(err).Str("plan_id", plan.ID).Msg("Timeout execution failed")
		}
	}
}
