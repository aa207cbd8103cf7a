package models

import (
	"fmt"
	"time"
)

// GlobalLockSymbol marks a lock that applies to every symbol.
const GlobalLockSymbol = "*"

// LockReason records why a pair lock was created.
type LockReason string

const (
	LockCooldown      LockReason = "cooldown"
	LockStopLossGuard LockReason = "stoploss_guard"
	LockMaxDrawdown   LockReason = "max_drawdown"
	LockLowProfit     LockReason = "low_profit"
)

// ParseLockReason validates and normalizes a lock reason string.
func ParseLockReason(s string) (LockReason, error) {
	switch LockReason(s) {
	case LockCooldown, LockStopLossGuard, LockMaxDrawdown, LockLowProfit:
		return LockReason(s), nil
	}
	return "", fmt.Errorf("invalid lock reason: %q", s)
}

// PairLock is a time-bounded restriction preventing new trades on a symbol
// (or globally, when Symbol is "*"). Every entry path treats an active lock
// as a hard block.
type PairLock struct {
	ID          int64
	Symbol      string
	Side        Side // which direction is blocked; empty blocks both
	Reason      LockReason
	LockedUntil time.Time
	Active      bool
	Note        string
	CreatedAt   time.Time
	UnlockedBy  string
}

// Expired reports whether the lock window has passed.
func (l *PairLock) Expired(now time.Time) bool {
	return !now.Before(l.LockedUntil)
}

// Blocks reports whether this lock forbids trading the given symbol/side.
func (l *PairLock) Blocks(symbol string, side Side, now time.Time) bool {
	if !l.Active || l.Expired(now) {
		return false
	}
	if l.Symbol != GlobalLockSymbol && l.Symbol != symbol {
		return false
	}
	return l.Side == "" || l.Side == side
}
