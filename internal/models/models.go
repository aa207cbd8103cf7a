// Package models provides domain records for the trading engine.
package models

import (
	"fmt"
	"time"
)

// Side represents the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide validates and normalizes a side string.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideBuy, SideSell:
		return Side(s), nil
	}
	return "", fmt.Errorf("invalid side: %q", s)
}

// AccountType represents the account a trade is booked against.
type AccountType string

const (
	AccountCash   AccountType = "CASH"
	AccountMargin AccountType = "MARGIN"
)

// Quote represents a market quote for a symbol.
type Quote struct {
	Symbol        string
	Price         float64
	Open          float64
	High          float64
	Low           float64
	PrevClose     float64
	Volume        int64
	ChangePercent float64
	Timestamp     time.Time
}

// Signal is the output of an external scoring process. The engine consumes
// it as-is; how the scores were produced is not its concern.
type Signal struct {
	Symbol               string
	BrokerTicker         string
	Decision             Side
	Conviction           float64 // 0-100
	SubScores            map[string]float64
	SuggestedStopLossPct float64
	SuggestedSizePct     float64
	SuggestedTargetPct   float64
	Urgency              string
	ExitConditions       string
	Risks                []string
	Sector               string
	Reasoning            string
	AccountType          AccountType
}

// PortfolioState is a derived snapshot of account-level figures used for
// sizing and risk gating.
type PortfolioState struct {
	Cash              float64
	TotalValue        float64
	OpenPositionCount int
	DailyPnL          float64
	DailyPnLPercent   float64
	SectorExposure    map[string]float64 // sector -> percent of portfolio
	PeakValue         float64            // rolling peak for drawdown
	AsOf              time.Time
}

// DrawdownPercent returns the current drawdown from the rolling peak.
func (p *PortfolioState) DrawdownPercent() float64 {
	if p.PeakValue <= 0 {
		return 0
	}
	return (p.PeakValue - p.TotalValue) / p.PeakValue * 100
}
