package models

import (
	"fmt"
	"time"
)

// PlanStatus represents the lifecycle state of a trade plan.
type PlanStatus string

const (
	PlanPending  PlanStatus = "PENDING"
	PlanApproved PlanStatus = "APPROVED"
	PlanExecuted PlanStatus = "EXECUTED"
	PlanRejected PlanStatus = "REJECTED"
	PlanExpired  PlanStatus = "EXPIRED"
)

// ParsePlanStatus validates and normalizes a plan status string.
func ParsePlanStatus(s string) (PlanStatus, error) {
	switch PlanStatus(s) {
	case PlanPending, PlanApproved, PlanExecuted, PlanRejected, PlanExpired:
		return PlanStatus(s), nil
	}
	return "", fmt.Errorf("invalid plan status: %q", s)
}

// IsTerminal reports whether the status admits no further transition.
// APPROVED still transitions to EXECUTED; everything else is final.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanExecuted || s == PlanRejected || s == PlanExpired
}

// TradePlan is an immutable blueprint for entering a position. Sizing and
// price levels are fixed at creation; only the status and approval fields
// change afterwards.
type TradePlan struct {
	ID            string
	Symbol        string
	BrokerTicker  string
	Side          Side
	EntryPrice    float64
	Shares        int
	Value         float64 // shares * entry price
	SizePercent   float64 // of portfolio value
	StopPrice     float64
	StopPercent   float64
	TargetPrice   float64
	TargetPercent float64
	MaxLoss       float64 // (entry - stop) * shares
	RiskReward    float64
	MaxHoldDays   int // 0 means no limit
	Conviction    float64
	SubScores     map[string]float64
	Reasoning     string
	AccountType   AccountType
	Status        PlanStatus
	ApprovedBy    string
	CreatedAt     time.Time
	ApprovedAt    *time.Time
	ExpiresAt     time.Time
}
