// Package domain defines the core types shared across the daybot trading
// system: trading-day phases, signals, orders, fills, and positions.
package domain

import "time"

// Phase is a named, time-bounded segment of the trading day. Exactly one
// phase is active at any instant during a session; transitions are monotonic
// within a single day.
type Phase string

const (
	PhasePreMarket        Phase = "pre_market"
	PhaseOpening          Phase = "opening"
	PhaseMidday           Phase = "midday"
	PhaseClosingPrep      Phase = "closing_prep"
	PhaseClosingExecution Phase = "closing_execution"
	PhasePostMarket       Phase = "post_market"
	PhaseHalted           Phase = "halted"
)

// Before reports whether p is strictly earlier than q in the intraday phase
// order. Halted sorts after everything since it is terminal.
func (p Phase) Before(q Phase) bool {
	return phaseRank(p) < phaseRank(q)
}

func phaseRank(p Phase) int {
	switch p {
	case PhasePreMarket:
		return 0
	case PhaseOpening:
		return 1
	case PhaseMidday:
		return 2
	case PhaseClosingPrep:
		return 3
	case PhaseClosingExecution:
		return 4
	case PhasePostMarket:
		return 5
	default:
		return 6
	}
}

// Well-known strategy ids used by the engine itself.
const (
	// CarryoverStrategyID tags positions loaded from the broker snapshot at
	// session start, whose opening strategy is unknown.
	CarryoverStrategyID = "carryover"
	// LiquidationStrategyID tags engine-initiated forced sells.
	LiquidationStrategyID = "liquidation"
)

// Side is the direction of a signal or order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the broker-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// Terminal reports whether the status ends an order's lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return false
}

// Signal is a strategy's proposed trade. Signals are ephemeral: produced and
// consumed within one scheduling tick, never persisted past the decision.
type Signal struct {
	StrategyID string
	Symbol     string
	Side       Side
	Quantity   int64
	OrderType  OrderType
	LimitPrice float64 // only for OrderTypeLimit
	Reason     string  // free-form, for logs and notifications
}

// Order is a validated, broker-submitted request derived from exactly one
// Signal. ClientOrderID is assigned locally before submission and doubles as
// the idempotency key; BrokerID is assigned by the broker on acceptance.
type Order struct {
	ClientOrderID  string
	BrokerID       string
	StrategyID     string
	Symbol         string
	Side           Side
	Type           OrderType
	Quantity       int64
	LimitPrice     float64
	Status         OrderStatus
	FilledQty      int64
	FilledNotional float64 // cumulative price*qty across applied fills
	SubmittedAt    time.Time
	UpdatedAt      time.Time
}

// Fill is an immutable broker-confirmed execution event against an Order.
// Fills are the sole authorized input to cash and position mutation.
type Fill struct {
	ID        string // broker execution id, unique per fill
	OrderID   string // broker order id
	Symbol    string
	Side      Side
	Quantity  int64
	Price     float64
	Timestamp time.Time
}

// Position is a held quantity of a symbol with its weighted-average cost and
// the strategy that opened it. Quantity is never negative; a position at zero
// is removed from the ledger.
type Position struct {
	Symbol     string
	Quantity   int64
	AvgCost    float64
	StrategyID string
	OpenedAt   time.Time
}

// Quote is a point-in-time price observation for a symbol, with enough
// daily context (previous close, cumulative volume) for intraday signals.
type Quote struct {
	Symbol    string
	Price     float64
	PrevClose float64 // previous session's closing price, 0 if unknown
	DayVolume int64   // cumulative volume for the current session
	Timestamp time.Time
}

// AccountSnapshot is the broker's view of the account, fetched at session
// start to seed the ledger.
type AccountSnapshot struct {
	Cash      float64
	Equity    float64
	Positions []Position
}
