package models

import "time"

// Position represents the single live holding for a symbol. At most one
// position exists per symbol; it is destroyed when shares reach zero.
type Position struct {
	Symbol           string
	Shares           int
	AvgEntryPrice    float64 // volume-weighted across entry + DCA fills
	StopLoss         float64
	TrailingStop     *float64 // nil until activated, never lowered after
	TakeProfit       float64
	DCACount         int
	TotalInvested    float64 // cumulative capital across all buys
	PartialExitCount int
	StopOrderID      string
	TargetOrderID    string
	PlanID           string
	CurrentPrice     float64
	PnL              float64
	PnLPercent       float64
	OpenedAt         time.Time
	LastBuyAt        time.Time
}

// TotalBoughtShares returns the share count acquired across the initial
// entry and all DCA rounds, before any partial exits.
func (p *Position) TotalBoughtShares() int {
	if p.AvgEntryPrice <= 0 {
		return p.Shares
	}
	return int(p.TotalInvested/p.AvgEntryPrice + 0.5)
}

// ExitReason classifies why a position (or part of one) was closed.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitTakeProfit   ExitReason = "take_profit"
	ExitROISchedule  ExitReason = "roi_schedule"
	ExitModelSignal  ExitReason = "model_signal"
	ExitPartial      ExitReason = "partial_exit"
	ExitManual       ExitReason = "manual"
	ExitEmergency    ExitReason = "emergency_stop"
	ExitHardLimit    ExitReason = "hard_limit"
	ExitMaxHoldTime  ExitReason = "max_hold_time"
)

// Trade represents a completed round trip (or a partial close).
type Trade struct {
	ID           string
	Symbol       string
	Side         Side
	Shares       int
	EntryPrice   float64
	ExitPrice    float64
	PnL          float64
	PnLPercent   float64
	Reason       ExitReason
	Tag          OrderTag
	Slippage     float64
	IsPaper      bool
	PlanID       string
	OrderIDs     []string
	OpenedAt     time.Time
	ClosedAt     time.Time
	HoldDuration time.Duration
}
