package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"equity-engine/internal/config"
	"equity-engine/internal/models"
	"equity-engine/internal/store"
)

// Ledger creates and expires time-bounded trading locks after adverse
// outcomes. Every entry path consults it; an active lock is a hard block,
// not an error.
type Ledger struct {
	cfg    config.ProtectionConfig
	store  store.DataStore
	logger zerolog.Logger
}

// NewLedger creates a new protection ledger.
func NewLedger(cfg config.ProtectionConfig, st store.DataStore, logger zerolog.Logger) *Ledger {
	return &Ledger{
		cfg:    cfg,
		store:  st,
		logger: logger.With().Str("component", "protection").Logger(),
	}
}

// IsLocked reports whether trading the symbol/side is currently blocked,
// returning the blocking lock when it is.
func (l *Ledger) IsLocked(ctx context.Context, symbol string, side models.Side) (bool, *models.PairLock, error) {
	locks, err := l.store.GetActiveLocks(ctx)
	if err != nil {
		return false, nil, err
	}

	now := time.Now()
	for i := range locks {
		if locks[i].Blocks(symbol, side, now) {
			return true, &locks[i], nil
		}
	}
	return false, nil, nil
}

// EvaluateAfterClose inspects recent history after a close and may create
// protective locks: a re-entry cooldown on every close, a stoploss guard
// after repeated stop-outs, and a low-profit guard when the symbol's recent
// average return is poor. Returns the locks created.
func (l *Ledger) EvaluateAfterClose(ctx context.Context, symbol string, reason models.ExitReason, pnlPct float64) ([]models.PairLock, error) {
	var created []models.PairLock
	now := time.Now()

	if l.cfg.CooldownMinutes > 0 {
		lock, err := l.createLock(ctx, symbol, models.LockCooldown,
			now.Add(time.Duration(l.cfg.CooldownMinutes)*time.Minute),
			fmt.Sprintf("re-entry cooldown after %s close", reason))
		if err != nil {
			return created, err
		}
		created = append(created, *lock)
	}

	if lock, err := l.checkStopLossGuard(ctx, symbol, now); err != nil {
		return created, err
	} else if lock != nil {
		created = append(created, *lock)
	}

	if lock, err := l.checkLowProfit(ctx, symbol, now); err != nil {
		return created, err
	} else if lock != nil {
		created = append(created, *lock)
	}

	return created, nil
}

func (l *Ledger) checkStopLossGuard(ctx context.Context, symbol string, now time.Time) (*models.PairLock, error) {
	if l.cfg.StopLossGuardCount <= 0 {
		return nil, nil
	}

	windowStart := now.Add(-time.Duration(l.cfg.StopLossGuardWindowMins) * time.Minute)
	trades, err := l.store.GetTrades(ctx, store.TradeFilter{
		Symbol:    symbol,
		StartDate: windowStart,
	})
	if err != nil {
		return nil, err
	}

	stopOuts := 0
	for _, t := range trades {
		if t.Reason == models.ExitStopLoss || t.Reason == models.ExitTrailingStop {
			stopOuts++
		}
	}
	if stopOuts < l.cfg.StopLossGuardCount {
		return nil, nil
	}

	return l.createLock(ctx, symbol, models.LockStopLossGuard,
		now.Add(time.Duration(l.cfg.StopLossGuardLockMins)*time.Minute),
		fmt.Sprintf("%d stop-losses within window", stopOuts))
}

func (l *Ledger) checkLowProfit(ctx context.Context, symbol string, now time.Time) (*models.PairLock, error) {
	if l.cfg.LowProfitTradeCount <= 0 {
		return nil, nil
	}

	trades, err := l.store.GetTrades(ctx, store.TradeFilter{
		Symbol: symbol,
		Limit:  l.cfg.LowProfitTradeCount,
	})
	if err != nil {
		return nil, err
	}
	if len(trades) < l.cfg.LowProfitTradeCount {
		return nil, nil
	}

	var sum float64
	for _, t := range trades {
		sum += t.PnLPercent
	}
	avg := sum / float64(len(trades))
	if avg >= l.cfg.LowProfitThreshold {
		return nil, nil
	}

	return l.createLock(ctx, symbol, models.LockLowProfit,
		now.Add(time.Duration(l.cfg.LowProfitLockMins)*time.Minute),
		fmt.Sprintf("average return %.2f%% over last %d trades", avg, len(trades)))
}

// CheckMaxDrawdown locks all trading when portfolio drawdown from its
// rolling peak passes the configured limit. A second call while a drawdown
// lock is already active is a no-op.
func (l *Ledger) CheckMaxDrawdown(ctx context.Context, pf *models.PortfolioState) (*models.PairLock, error) {
	if l.cfg.MaxDrawdownPercent <= 0 {
		return nil, nil
	}
	dd := pf.DrawdownPercent()
	if dd < l.cfg.MaxDrawdownPercent {
		return nil, nil
	}

	locks, err := l.store.GetActiveLocks(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range locks {
		if locks[i].Reason == models.LockMaxDrawdown && !locks[i].Expired(now) {
			return nil, nil
		}
	}

	return l.createLock(ctx, models.GlobalLockSymbol, models.LockMaxDrawdown,
		now.Add(time.Duration(l.cfg.MaxDrawdownLockMins)*time.Minute),
		fmt.Sprintf("drawdown %.2f%% past limit %.2f%%", dd, l.cfg.MaxDrawdownPercent))
}

func (l *Ledger) createLock(ctx context.Context, symbol string, reason models.LockReason, until time.Time, note string) (*models.PairLock, error) {
	lock := &models.PairLock{
		Symbol:      symbol,
		Side:        models.SideBuy,
		Reason:      reason,
		LockedUntil: until,
		Active:      true,
		Note:        note,
		CreatedAt:   time.Now(),
	}

	if _, err := l.store.SaveLock(ctx, lock); err != nil {
		return nil, err
	}

	l.logger.Warn().
		Str("symbol", symbol).
		Str("reason", string(reason)).
		Time("locked_until", until).
		Str("note", note).
		Msg("Pair lock created")

	return lock, nil
}

// SweepExpired deactivates locks past their end time. Idempotent.
func (l *Ledger) SweepExpired(ctx context.Context) (int, error) {
	n, err := l.store.DeactivateExpiredLocks(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Info().Int("expired", n).Msg("Swept expired pair locks")
	}
	return n, nil
}

// Unlock manually releases a lock, recording who did it.
func (l *Ledger) Unlock(ctx context.Context, id int64, by string) error {
	if err := l.store.DeactivateLock(ctx, id, by); err != nil {
		return err
	}
	l.logger.Warn().Int64("lock_id", id).Str("by", by).Msg("Pair lock manually released")
	return nil
}
