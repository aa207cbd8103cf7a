package models

import (
	"fmt"
	"time"
)

// TriggerType represents what fires a conditional order.
type TriggerType string

const (
	TriggerPriceAbove TriggerType = "price_above"
	TriggerPriceBelow TriggerType = "price_below"
	TriggerTime       TriggerType = "time"
	TriggerIndicator  TriggerType = "indicator"
)

// ParseTriggerType validates and normalizes a trigger type string.
func ParseTriggerType(s string) (TriggerType, error) {
	switch TriggerType(s) {
	case TriggerPriceAbove, TriggerPriceBelow, TriggerTime, TriggerIndicator:
		return TriggerType(s), nil
	}
	return "", fmt.Errorf("invalid trigger type: %q", s)
}

// ConditionalStatus represents the lifecycle state of a conditional order.
type ConditionalStatus string

const (
	ConditionalPending   ConditionalStatus = "pending"
	ConditionalTriggered ConditionalStatus = "triggered"
	ConditionalExecuted  ConditionalStatus = "executed"
	ConditionalCancelled ConditionalStatus = "cancelled"
	ConditionalExpired   ConditionalStatus = "expired"
)

// ParseConditionalStatus validates and normalizes a conditional status string.
func ParseConditionalStatus(s string) (ConditionalStatus, error) {
	switch ConditionalStatus(s) {
	case ConditionalPending, ConditionalTriggered, ConditionalExecuted,
		ConditionalCancelled, ConditionalExpired:
		return ConditionalStatus(s), nil
	}
	return "", fmt.Errorf("invalid conditional order status: %q", s)
}

// ConditionalAction is the order to place when a trigger fires.
type ConditionalAction struct {
	Side       Side
	Shares     int
	LimitPrice float64 // 0 means market
	Tag        OrderTag
}

// ConditionalOrder is a price- or time-triggered instruction evaluated by
// the engine rather than the broker. Orders in the same OCO group share a
// group id and cross-reference each other via SiblingID.
type ConditionalOrder struct {
	ID           string
	Symbol       string
	Trigger      TriggerType
	TriggerPrice float64
	TriggerAt    *time.Time
	Indicator    string
	Action       ConditionalAction
	Status       ConditionalStatus
	OCOGroupID   string
	SiblingID    string
	CreatedAt    time.Time
	TriggeredAt  *time.Time
	ExpiresAt    *time.Time
}
