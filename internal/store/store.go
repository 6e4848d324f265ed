// Package store persists the trading journal — orders, fills, and closed
// trades — and exports end-of-day audit files.
package store

import (
	"context"
	"time"

	"daybot/internal/domain"
)

// Journal records the durable history of a trading session.
type Journal interface {
	// RecordOrder inserts a newly submitted order.
	RecordOrder(ctx context.Context, order *domain.Order) error

	// UpdateOrder persists a status or filled-quantity change for an order,
	// keyed by its client order id.
	UpdateOrder(ctx context.Context, clientOrderID string, status domain.OrderStatus, filledQty int64) error

	// RecordFill inserts a fill. Re-recording the same fill id is a no-op.
	RecordFill(ctx context.Context, fill domain.Fill) error

	// RecordClosedTrade inserts a round trip closed by a sell fill.
	RecordClosedTrade(ctx context.Context, trade ClosedTrade) error

	// ClosedTrades returns the most recent closed trades for a strategy,
	// newest first, up to limit. An empty strategyID matches all strategies.
	ClosedTrades(ctx context.Context, strategyID string, limit int) ([]ClosedTrade, error)

	// FillsForDay returns every fill recorded on the given calendar day,
	// in fill-time order.
	FillsForDay(ctx context.Context, day time.Time) ([]domain.Fill, error)

	// DaySummary aggregates the given calendar day's activity.
	DaySummary(ctx context.Context, day time.Time) (DaySummary, error)

	// Close releases the underlying storage.
	Close() error
}

// ClosedTrade is one completed round trip: a position opened and then
// fully or partially closed, with the realized result.
type ClosedTrade struct {
	StrategyID string
	Symbol     string
	Quantity   int64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	ClosedAt   time.Time
}

// Win reports whether the trade realized a profit.
func (t ClosedTrade) Win() bool { return t.PnL > 0 }

// DaySummary aggregates one calendar day of journal activity.
type DaySummary struct {
	Day         time.Time
	Orders      int
	Fills       int
	Trades      int // closed round trips
	Wins        int
	Losses      int
	RealizedPnL float64
	Notional    float64 // gross traded value across fills
}

// WinRate returns wins over closed trades, or 0 with no trades.
func (s DaySummary) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}
