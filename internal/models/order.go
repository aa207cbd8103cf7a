package models

import (
	"fmt"
	"time"
)

// OrderStatus represents the broker-side state of an order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderOpen            OrderStatus = "open"
	OrderFilled          OrderStatus = "filled"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderExpired         OrderStatus = "expired"
	OrderFailed          OrderStatus = "failed"
)

// ParseOrderStatus validates and normalizes an order status string.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderPending, OrderOpen, OrderFilled, OrderPartiallyFilled,
		OrderCancelled, OrderExpired, OrderFailed:
		return OrderStatus(s), nil
	}
	return "", fmt.Errorf("invalid order status: %q", s)
}

// IsTerminal reports whether the order will see no further fills.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderPartiallyFilled, OrderCancelled, OrderExpired, OrderFailed:
		return true
	}
	return false
}

// OrderTag classifies the intent behind an order.
type OrderTag string

const (
	TagEntry       OrderTag = "entry"
	TagExit        OrderTag = "exit"
	TagDCA         OrderTag = "dca"
	TagStopLoss    OrderTag = "stoploss"
	TagTakeProfit  OrderTag = "take_profit"
	TagPartialExit OrderTag = "partial_exit"
)

// ParseOrderTag validates and normalizes an order tag string.
func ParseOrderTag(s string) (OrderTag, error) {
	switch OrderTag(s) {
	case TagEntry, TagExit, TagDCA, TagStopLoss, TagTakeProfit, TagPartialExit:
		return OrderTag(s), nil
	}
	return "", fmt.Errorf("invalid order tag: %q", s)
}

// Order represents a single broker instruction. A replaced order keeps its
// record and points forward via ReplacedByID, forming a chain.
type Order struct {
	ID            string
	BrokerOrderID string
	Symbol        string
	Side          Side
	Shares        int
	Price         float64 // intended price
	FilledPrice   float64
	FilledShares  int
	Status        OrderStatus
	Tag           OrderTag
	ReplacedByID  string
	PlanID        string
	PlacedAt      time.Time
	FilledAt      *time.Time
}
