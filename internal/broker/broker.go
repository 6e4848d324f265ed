// Package broker defines the Broker interface for order execution and
// account queries, with a live Alpaca implementation, an in-memory
// simulator, and cross-cutting decorators for retries and quote caching.
package broker

import (
	"context"
	"time"

	"daybot/internal/domain"
)

// OrderRequest is a broker-bound order. ClientOrderID is a caller-supplied
// idempotency key: submitting the same id twice must not create two live
// orders.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          domain.Side
	Quantity      int64
	Type          domain.OrderType
	LimitPrice    float64 // required for limit orders
}

// OrderUpdate is the broker's current view of an order. FilledQty and
// AvgFillPrice are cumulative; callers derive new fills from the delta
// against their own record.
type OrderUpdate struct {
	BrokerID      string
	ClientOrderID string
	Status        domain.OrderStatus
	FilledQty     int64
	AvgFillPrice  float64
	UpdatedAt     time.Time
}

// Broker abstracts brokerage operations. Implementations classify failures:
// retryable ones satisfy domain.IsTransient, rejections that must not be
// retried satisfy domain.IsPermanent.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "sim").
	Name() string

	// GetQuote returns the latest trade price for a symbol.
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)

	// GetAccount returns the account's cash and equity.
	GetAccount(ctx context.Context) (domain.AccountSnapshot, error)

	// GetPositions returns all positions held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// PlaceOrder submits an order and returns the broker-assigned id.
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)

	// GetOrderStatus returns the current state of an order by broker id.
	GetOrderStatus(ctx context.Context, brokerID string) (OrderUpdate, error)

	// FindOrderByClientID looks an order up by its idempotency key. The
	// boolean is false when no such order exists at the broker.
	FindOrderByClientID(ctx context.Context, clientOrderID string) (OrderUpdate, bool, error)

	// CancelOrder requests cancellation of an open order by broker id.
	CancelOrder(ctx context.Context, brokerID string) error
}
