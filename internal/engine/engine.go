package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"equity-engine/internal/audit"
	"equity-engine/internal/broker"
	"equity-engine/internal/config"
	apperrors "equity-engine/internal/errors"
	"equity-engine/internal/logging"
	"equity-engine/internal/metrics"
	"equity-engine/internal/models"
	"equity-engine/internal/notify"
	"equity-engine/internal/store"
	"equity-engine/internal/stream"
)

// Engine owns the full trade lifecycle: signal intake, risk gating,
// planning, approval, execution, position tracking, and the protective
// machinery around all of it. One engine drives one broker account.
type Engine struct {
	cfg    *config.Config
	store  store.DataStore
	broker broker.Broker

	planner     *Planner
	risk        *Guard
	approval    *ApprovalManager
	orders      *OrderManager
	tracker     *Tracker
	dca         *DCAManager
	partial     *PartialExitManager
	conditional *ConditionalEngine
	protection  *Ledger

	notifier notify.Notifier
	auditLog *audit.Logger
	hub      *stream.Hub
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu                sync.Mutex
	controlPath       string
	paused            bool
	pauseReason       string
	cash              float64
	cashAt            time.Time
	dayStart          time.Time
	dayBaseline       float64
	peakValue         float64
	lastApprovalSweep time.Time
	sectors           map[string]string
}

// New wires a complete engine. The notifier, audit logger, hub, and
// metrics may be nil; the trading core does not depend on them.
func New(cfg *config.Config, st store.DataStore, b broker.Broker, notifier notify.Notifier, auditLog *audit.Logger, hub *stream.Hub, m *metrics.Metrics, logger zerolog.Logger) (*Engine, error) {
	roi, err := NewSchedule(cfg.ROI)
	if err != nil {
		return nil, apperrors.Wrap(err, "parsing ROI schedule")
	}

	e := &Engine{
		cfg:      cfg,
		store:    st,
		broker:   b,
		notifier: notifier,
		auditLog: auditLog,
		hub:      hub,
		metrics:  m,
		logger:   logger.With().Str("component", "engine").Logger(),
		sectors:  make(map[string]string),
	}

	e.risk = NewGuard(cfg.Risk, e, logger)
	e.protection = NewLedger(cfg.Protection, st, logger)
	e.planner = NewPlanner(cfg.Risk, cfg.ApprovalTimeout(), st, e.risk, logger)
	e.approval = NewApprovalManager(cfg.Approval, st, notifier, logger)
	e.orders = NewOrderManager(st, b, cfg.OrderTimeout(), logger)
	e.tracker = NewTracker(st, b, e.orders, roi, cfg.Trailing, e.risk, e.protection, logger)
	e.tracker.SetCloseHook(e.onTradeClosed)
	e.dca = NewDCAManager(cfg.DCA, e.orders, logger)
	e.partial = NewPartialExitManager(cfg.Partial, st, e.orders, logger)
	e.conditional = NewConditionalEngine(cfg.Conditional, st, logger)

	return e, nil
}

// Conditional exposes the conditional order engine for the CLI surface.
func (e *Engine) Conditional() *ConditionalEngine { return e.conditional }

// Protection exposes the protection ledger for the CLI surface.
func (e *Engine) Protection() *Ledger { return e.protection }

// Risk exposes the risk guard for the CLI surface.
func (e *Engine) Risk() *Guard { return e.risk }

// ProcessSignal runs one signal through the full entry path: pause and
// lock checks, risk gating, plan creation, and approval. In auto mode the
// approved plan is executed before returning. A nil plan with a nil error
// means the signal was evaluated and produced nothing actionable.
func (e *Engine) ProcessSignal(ctx context.Context, sig *models.Signal) (*models.TradePlan, error) {
	log := e.logger.With().Str("symbol", sig.Symbol).Logger()

	if paused, reason := e.IsPaused(); paused {
		return nil, apperrors.Wrapf(apperrors.ErrEnginePaused, "engine paused: %s", reason)
	}

	if sig.Sector != "" {
		e.mu.Lock()
		e.sectors[sig.Symbol] = sig.Sector
		e.mu.Unlock()
	}

	// A SELL against a held position is an exit instruction, not a new
	// trade; the tracker closes it on its next cycle.
	if sig.Decision == models.SideSell {
		pos, err := e.store.GetPosition(ctx, sig.Symbol)
		if err != nil {
			return nil, err
		}
		if pos != nil {
			e.tracker.FlagModelExit(sig.Symbol)
			log.Info().Msg("Sell signal flagged for model exit")
			e.countSignal("model_exit")
			return nil, nil
		}
	}

	locked, lock, err := e.protection.IsLocked(ctx, sig.Symbol, sig.Decision)
	if err != nil {
		return nil, err
	}
	if locked {
		logging.LogRiskDecision(log, sig.Symbol, false, "pair_lock", string(lock.Reason))
		e.countSignal("locked")
		return nil, apperrors.Wrapf(apperrors.ErrPairLocked, "%s locked until %s (%s)",
			sig.Symbol, lock.LockedUntil.Format(time.RFC3339), lock.Reason)
	}

	quote, err := e.broker.GetQuote(ctx, sig.Symbol)
	if err != nil {
		return nil, apperrors.Wrapf(err, "quoting %s", sig.Symbol)
	}

	pf, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	proposal := TradeProposal{
		Symbol:      sig.Symbol,
		Side:        sig.Decision,
		SizePercent: sig.SuggestedSizePct * e.risk.SizeMultiplier() * 100,
		Sector:      sig.Sector,
		StopPercent: sig.SuggestedStopLossPct * 100,
		Correlation: e.correlationWith(sig.Symbol),
	}
	decision := e.risk.ValidateTrade(proposal, pf)
	if !decision.Allowed {
		logging.LogRiskDecision(log, sig.Symbol, false, decision.Gate, decision.Reason)
		e.countSignal("risk_rejected")
		return nil, apperrors.NewRiskError(decision.Gate, 0, 0, decision.Reason)
	}

	plan, err := e.planner.CreatePlan(ctx, sig, quote.Price, pf)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		e.countSignal("not_viable")
		return nil, nil
	}

	e.countSignal("planned")
	if e.metrics != nil {
		e.metrics.PlansCreated.Inc()
	}
	e.auditLog.LogPlan(ctx, audit.EventPlanCreated, plan.ID, plan.Symbol, "engine")
	e.publish(stream.EventPlanCreated, plan.Symbol, map[string]interface{}{
		"plan_id": plan.ID,
		"side":    string(plan.Side),
		"shares":  plan.Shares,
	})

	shouldExecute, err := e.approval.ProcessNewPlan(ctx, plan)
	if err != nil {
		return plan, err
	}
	if shouldExecute {
		e.auditLog.LogPlan(ctx, audit.EventPlanApproved, plan.ID, plan.Symbol, plan.ApprovedBy)
		if err := e.executePlan(ctx, plan); err != nil {
			return plan, err
		}
	}

	return plan, nil
}

// executePlan opens the position for an approved plan and records the
// outcome across audit, stream, and metrics. Locks and the correlation
// gate are re-checked here: approval takes time, and a lock created
// after planning still blocks the buy.
func (e *Engine) executePlan(ctx context.Context, plan *models.TradePlan) error {
	locked, lock, err := e.protection.IsLocked(ctx, plan.Symbol, plan.Side)
	if err != nil {
		return err
	}
	if locked {
		logging.LogRiskDecision(e.logger, plan.Symbol, false, "pair_lock", string(lock.Reason))
		e.auditLog.LogOrderFailure(ctx, "", plan.Symbol, "entry", apperrors.ErrPairLocked)
		return apperrors.Wrapf(apperrors.ErrPairLocked, "%s locked until %s (%s)",
			plan.Symbol, lock.LockedUntil.Format(time.RFC3339), lock.Reason)
	}

	if corr := e.correlationWith(plan.Symbol); plan.Side == models.SideBuy && corr > e.cfg.Risk.MaxCorrelation {
		logging.LogRiskDecision(e.logger, plan.Symbol, false, "correlation",
			fmt.Sprintf("correlation %.2f exceeds limit %.2f", corr, e.cfg.Risk.MaxCorrelation))
		return apperrors.NewRiskError("correlation", corr, e.cfg.Risk.MaxCorrelation, "correlation limit at execution")
	}

	if e.metrics != nil {
		e.metrics.OrdersPlaced.WithLabelValues(string(models.TagEntry)).Inc()
	}

	pos, err := e.orders.ExecuteBuy(ctx, plan)
	if err != nil {
		if e.metrics != nil {
			e.metrics.OrdersFailed.WithLabelValues(string(models.TagEntry)).Inc()
		}
		e.auditLog.LogOrderFailure(ctx, "", plan.Symbol, "entry", err)
		if e.notifier != nil {
			e.notifier.SendError(ctx, err, fmt.Sprintf("entry order for %s", plan.Symbol))
		}
		return err
	}

	if e.metrics != nil {
		e.metrics.PlanOutcomes.WithLabelValues(string(models.PlanExecuted)).Inc()
	}
	e.auditLog.LogTrade(ctx, audit.EventPositionOpen, pos.Symbol, plan.ID, pos.Shares, pos.AvgEntryPrice, 0, "entry")
	e.publish(stream.EventPositionOpened, pos.Symbol, map[string]interface{}{
		"plan_id": plan.ID,
		"shares":  pos.Shares,
		"entry":   pos.AvgEntryPrice,
	})
	return nil
}

// onTradeClosed fans a closed trade out to the ambient surfaces. Wired as
// the tracker's close hook and reused by manual closes.
func (e *Engine) onTradeClosed(ctx context.Context, trade *models.Trade) {
	if e.metrics != nil {
		e.metrics.TradesClosed.WithLabelValues(string(trade.Reason)).Inc()
	}
	e.auditLog.LogTrade(ctx, audit.EventPositionClose, trade.Symbol, trade.PlanID,
		trade.Shares, trade.ExitPrice, trade.PnL, string(trade.Reason))
	if e.notifier != nil {
		e.notifier.SendTrade(ctx, trade)
	}
	e.publish(stream.EventPositionClosed, trade.Symbol, map[string]interface{}{
		"shares":  trade.Shares,
		"pnl":     trade.PnL,
		"pnl_pct": trade.PnLPercent,
		"reason":  string(trade.Reason),
	})
}

// ApprovePlan applies a manual approval and executes the plan.
func (e *Engine) ApprovePlan(ctx context.Context, planID, by string) (*models.TradePlan, error) {
	plan, err := e.approval.HandleApproval(ctx, planID, true, by)
	if err != nil {
		return nil, err
	}

	e.auditLog.LogPlan(ctx, audit.EventPlanApproved, plan.ID, plan.Symbol, by)
	e.publish(stream.EventPlanApproved, plan.Symbol, map[string]interface{}{"plan_id": plan.ID, "by": by})
	logging.LogControlAction(e.logger, "approve_plan", by, plan.ID)

	if err := e.executePlan(ctx, plan); err != nil {
		return plan, err
	}
	return plan, nil
}

// RejectPlan applies a manual rejection.
func (e *Engine) RejectPlan(ctx context.Context, planID, by string) (*models.TradePlan, error) {
	plan, err := e.approval.HandleApproval(ctx, planID, false, by)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.PlanOutcomes.WithLabelValues(string(models.PlanRejected)).Inc()
	}
	e.auditLog.LogPlan(ctx, audit.EventPlanRejected, plan.ID, plan.Symbol, by)
	e.publish(stream.EventPlanRejected, plan.Symbol, map[string]interface{}{"plan_id": plan.ID, "by": by})
	logging.LogControlAction(e.logger, "reject_plan", by, plan.ID)
	return plan, nil
}

// Pause halts new entries and automated exits. Already-open positions
// keep their stored stops at the broker, nothing else moves.
func (e *Engine) Pause(ctx context.Context, reason, actor string) {
	e.mu.Lock()
	e.paused = true
	e.pauseReason = reason
	e.mu.Unlock()

	e.writeControlFile(reason, actor)
	if e.metrics != nil {
		e.metrics.EnginePaused.Set(1)
	}
	e.auditLog.LogControl(ctx, audit.EventEnginePaused, actor, reason)
	e.publish(stream.EventEnginePaused, "", map[string]interface{}{"reason": reason, "actor": actor})
	logging.LogControlAction(e.logger, "pause", actor, reason)
}

// Resume lifts a pause.
func (e *Engine) Resume(ctx context.Context, actor string) {
	e.mu.Lock()
	e.paused = false
	e.pauseReason = ""
	e.mu.Unlock()

	e.removeControlFile()
	if e.metrics != nil {
		e.metrics.EnginePaused.Set(0)
	}
	e.auditLog.LogControl(ctx, audit.EventEngineResumed, actor, "")
	e.publish(stream.EventEngineResumed, "", map[string]interface{}{"actor": actor})
	logging.LogControlAction(e.logger, "resume", actor, "")
}

// IsPaused reports the pause flag and its reason.
func (e *Engine) IsPaused() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused, e.pauseReason
}

// ForceClose closes one position at market immediately, bypassing exit
// evaluation.
func (e *Engine) ForceClose(ctx context.Context, symbol, actor string) (*models.Trade, error) {
	pos, err := e.store.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, apperrors.ErrPositionNotFound
	}

	if quote, err := e.broker.GetQuote(ctx, symbol); err == nil {
		pos.CurrentPrice = quote.Price
	}

	trade, err := e.orders.ExecuteClose(ctx, pos, pos.Shares, models.ExitManual)
	if err != nil {
		return nil, err
	}

	e.risk.RecordTradeResult(trade.PnL)
	if _, err := e.protection.EvaluateAfterClose(ctx, symbol, models.ExitManual, trade.PnLPercent); err != nil {
		e.logger.Error().Err(err).Str("symbol", symbol).Msg("Protection evaluation failed")
	}
	e.onTradeClosed(ctx, trade)
	logging.LogControlAction(e.logger, "force_close", actor, symbol)
	return trade, nil
}

// CloseAllPositions liquidates every open position at market. One
// symbol's failure never stops the rest; the counts say how far it got.
func (e *Engine) CloseAllPositions(ctx context.Context, reason models.ExitReason) (closed, total int) {
	positions, err := e.store.GetPositions(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Loading positions for close-all failed")
		return 0, 0
	}

	total = len(positions)
	for i := range positions {
		pos := &positions[i]
		if quote, err := e.broker.GetQuote(ctx, pos.Symbol); err == nil {
			pos.CurrentPrice = quote.Price
		}

		trade, err := e.orders.ExecuteClose(ctx, pos, pos.Shares, reason)
		if err != nil {
			e.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("Close-all failed for symbol")
			continue
		}
		closed++
		e.risk.RecordTradeResult(trade.PnL)
		e.onTradeClosed(ctx, trade)
	}

	e.logger.Warn().
		Str("reason", string(reason)).
		Int("closed", closed).
		Int("total", total).
		Msg("Close-all completed")
	return closed, total
}

// EmergencyStop pauses the engine and liquidates everything.
func (e *Engine) EmergencyStop(ctx context.Context, actor string) (closed, total int) {
	e.Pause(ctx, "emergency stop", actor)
	closed, total = e.CloseAllPositions(ctx, models.ExitEmergency)

	e.auditLog.LogControl(ctx, audit.EventEmergencyStop, actor,
		fmt.Sprintf("closed %d/%d positions", closed, total))
	e.publish(stream.EventEmergencyStop, "", map[string]interface{}{
		"actor": actor, "closed": closed, "total": total,
	})
	return closed, total
}

// HandleHardBreach implements the risk guard's hard daily-loss response:
// liquidate everything and pause until a human resumes.
func (e *Engine) HandleHardBreach(ctx context.Context, dailyPnLPercent float64) {
	closed, total := e.CloseAllPositions(ctx, models.ExitHardLimit)
	e.Pause(ctx, fmt.Sprintf("hard daily-loss breach at %.2f%%", dailyPnLPercent), "risk")

	e.auditLog.LogControl(ctx, audit.EventHardBreach, "risk",
		fmt.Sprintf("daily pnl %.2f%%, closed %d/%d positions", dailyPnLPercent, closed, total))
	if e.notifier != nil {
		e.notifier.SendError(ctx, apperrors.ErrEnginePaused,
			fmt.Sprintf("hard daily-loss breach at %.2f%%", dailyPnLPercent))
	}
}

// UnlockPair manually releases a protective lock.
func (e *Engine) UnlockPair(ctx context.Context, lockID int64, by string) error {
	if err := e.protection.Unlock(ctx, lockID, by); err != nil {
		return err
	}
	e.auditLog.LogLock(ctx, audit.EventLockReleased, "", fmt.Sprintf("lock %d", lockID), by)
	return nil
}

// Snapshot assembles the current portfolio state. Cash comes from a
// bounded-freshness cache: a broker failure falls back to the cached
// figure while it is younger than the configured maximum, and pauses the
// engine once it is not. Trading on stale money is the one thing this
// never does.
func (e *Engine) Snapshot(ctx context.Context) (*models.PortfolioState, error) {
	cash, err := e.freshCash(ctx)
	if err != nil {
		return nil, err
	}

	positions, err := e.store.GetPositions(ctx)
	if err != nil {
		return nil, err
	}

	total := cash
	exposure := make(map[string]float64)
	for i := range positions {
		value := positions[i].CurrentPrice * float64(positions[i].Shares)
		if positions[i].CurrentPrice <= 0 {
			value = positions[i].AvgEntryPrice * float64(positions[i].Shares)
		}
		total += value

		e.mu.Lock()
		sector := e.sectors[positions[i].Symbol]
		e.mu.Unlock()
		if sector != "" {
			exposure[sector] += value
		}
	}
	if total > 0 {
		for sector := range exposure {
			exposure[sector] = exposure[sector] / total * 100
		}
	}

	now := time.Now()
	e.mu.Lock()
	if e.dayStart.IsZero() || now.YearDay() != e.dayStart.YearDay() || now.Year() != e.dayStart.Year() {
		e.dayStart = now
		e.dayBaseline = total
		e.mu.Unlock()
		e.risk.ResetDaily()
		e.mu.Lock()
	}
	if total > e.peakValue {
		e.peakValue = total
	}
	baseline := e.dayBaseline
	peak := e.peakValue
	e.mu.Unlock()

	pf := &models.PortfolioState{
		Cash:              cash,
		TotalValue:        total,
		OpenPositionCount: len(positions),
		DailyPnL:          total - baseline,
		SectorExposure:    exposure,
		PeakValue:         peak,
		AsOf:              now,
	}
	if baseline > 0 {
		pf.DailyPnLPercent = (total - baseline) / baseline * 100
	}

	if e.metrics != nil {
		e.metrics.OpenPositions.Set(float64(len(positions)))
		e.metrics.PortfolioValue.Set(total)
		e.metrics.DailyPnLPct.Set(pf.DailyPnLPercent)
		e.metrics.SizeMultiplier.Set(e.risk.SizeMultiplier())
	}
	return pf, nil
}

// freshCash returns the broker cash figure, served from cache on broker
// failure while the cache is within its freshness bound.
func (e *Engine) freshCash(ctx context.Context) (float64, error) {
	cash, err := e.broker.GetCash(ctx)
	if err == nil {
		e.mu.Lock()
		e.cash = cash
		e.cashAt = time.Now()
		e.mu.Unlock()
		return cash, nil
	}

	e.mu.Lock()
	cached, at := e.cash, e.cashAt
	e.mu.Unlock()

	if at.IsZero() || time.Since(at) > e.cfg.CashMaxAge() {
		e.Pause(ctx, "cash figure stale beyond freshness bound", "engine")
		return 0, apperrors.Wrapf(apperrors.ErrStaleData, "cash unavailable since %s", at.Format(time.RFC3339))
	}

	e.logger.Warn().Err(err).Time("cached_at", at).Msg("Broker cash unavailable, using cached figure")
	return cached, nil
}

// correlationWith returns the proposal's correlation against current
// holdings, checked at planning and again at execution. Pairwise return
// series are not tracked yet, so the figure is zero until a data source
// supplies one.
func (e *Engine) correlationWith(symbol string) float64 {
	return 0
}

func (e *Engine) countSignal(outcome string) {
	if e.metrics != nil {
		e.metrics.SignalsTotal.WithLabelValues(outcome).Inc()
	}
}

func (e *Engine) publish(eventType stream.EventType, symbol string, data map[string]interface{}) {
	if e.hub == nil {
		return
	}
	e.hub.Publish(stream.Event{Type: eventType, Symbol: symbol, Data: data})
}
