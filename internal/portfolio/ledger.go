// Package portfolio holds the authoritative in-memory record of cash,
// positions, and in-flight orders for one trading session. The ledger is a
// write-through cache of the broker account: it is seeded from a broker
// snapshot at session start and mutated only by confirmed fills.
package portfolio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"daybot/internal/domain"
)

// View is the read-only surface handed to strategies and the order manager.
type View interface {
	Cash() float64
	Position(symbol string) (domain.Position, bool)
	Positions() []domain.Position
	HasOpenOrder(strategyID, symbol string) bool
}

// Ledger is the single authoritative portfolio instance for a session. All
// access is serialized through one mutex; fills are the only operation that
// changes cash or positions.
type Ledger struct {
	mu        sync.Mutex
	cash      float64
	positions map[string]*domain.Position
	// open orders keyed by client order id, with a broker-id index for
	// fill attribution.
	open     map[string]*domain.Order
	byBroker map[string]string
	// fill ids already folded in, so reconciliation polls are idempotent.
	applied map[string]struct{}

	log *slog.Logger
}

var _ View = (*Ledger)(nil)

// NewFromSnapshot seeds a ledger from the broker's account snapshot.
// Positions carried over from before this session are tagged with the
// "carryover" strategy id so the open liquidation pass can claim them.
func NewFromSnapshot(snap domain.AccountSnapshot) *Ledger {
	l := &Ledger{
		cash:      snap.Cash,
		positions: make(map[string]*domain.Position, len(snap.Positions)),
		open:      make(map[string]*domain.Order),
		byBroker:  make(map[string]string),
		applied:   make(map[string]struct{}),
		log:       slog.Default().With("component", "ledger"),
	}
	for _, p := range snap.Positions {
		if p.Quantity <= 0 {
			continue
		}
		pos := p
		if pos.StrategyID == "" {
			pos.StrategyID = domain.CarryoverStrategyID
		}
		l.positions[p.Symbol] = &pos
	}
	l.log.Info("ledger seeded", "cash", snap.Cash, "positions", len(l.positions))
	return l
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Cash returns the current free cash.
func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Position returns a copy of the position for symbol.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Positions returns copies of all held positions.
func (l *Ledger) Positions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// HasOpenOrder reports whether an in-flight order exists for the strategy
// and symbol pair.
func (l *Ledger) HasOpenOrder(strategyID, symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasOpenLocked(strategyID, symbol)
}

func (l *Ledger) hasOpenLocked(strategyID, symbol string) bool {
	for _, o := range l.open {
		if o.StrategyID == strategyID && o.Symbol == symbol {
			return true
		}
	}
	return false
}

// OpenOrders returns copies of all in-flight orders.
func (l *Ledger) OpenOrders() []domain.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Order, 0, len(l.open))
	for _, o := range l.open {
		out = append(out, *o)
	}
	return out
}

// ---------------------------------------------------------------------------
// Open-order registration
// ---------------------------------------------------------------------------

// RegisterOrder records an order as in-flight before submission. It fails
// with ErrDuplicateOrder if an order for the same (strategy, symbol) is
// already open; the check and the insert are one atomic step so a
// concurrent reconciliation removal cannot be missed.
func (l *Ledger) RegisterOrder(o *domain.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hasOpenLocked(o.StrategyID, o.Symbol) {
		return domain.ErrDuplicateOrder
	}
	cp := *o
	l.open[o.ClientOrderID] = &cp
	if o.BrokerID != "" {
		l.byBroker[o.BrokerID] = o.ClientOrderID
	}
	return nil
}

// ConfirmOrder attaches the broker-assigned id to a registered order once
// submission succeeds.
func (l *Ledger) ConfirmOrder(clientOrderID, brokerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.open[clientOrderID]
	if !ok {
		l.log.Warn("confirm for unknown order", "clientOrderID", clientOrderID)
		return
	}
	o.BrokerID = brokerID
	o.Status = domain.OrderStatusPending
	l.byBroker[brokerID] = clientOrderID
}

// RemoveOrder drops an in-flight order, either because submission failed or
// because it reached a terminal state. It returns the removed order.
func (l *Ledger) RemoveOrder(clientOrderID string) (domain.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.open[clientOrderID]
	if !ok {
		return domain.Order{}, false
	}
	delete(l.open, clientOrderID)
	if o.BrokerID != "" {
		delete(l.byBroker, o.BrokerID)
	}
	return *o, true
}

// ---------------------------------------------------------------------------
// Fill application — the only mutation path for cash and positions
// ---------------------------------------------------------------------------

// FillResult reports the ledger effect of one applied fill.
type FillResult struct {
	Applied     bool // false when the fill id was already folded in
	StrategyID  string
	RealizedPnL float64 // non-zero only for sells against a known cost basis
}

// ApplyFill folds a confirmed fill into cash and positions. Buys decrease
// cash and recompute the weighted-average cost; sells increase cash and
// shrink or remove the position. Duplicate fill ids are ignored. A fill
// that would push cumulative filled quantity past the order's requested
// quantity, or drive cash or quantity negative, is a CorruptionError and
// the ledger is left untouched.
func (l *Ledger) ApplyFill(f domain.Fill) (FillResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, seen := l.applied[f.ID]; seen {
		return FillResult{Applied: false}, nil
	}
	if f.Quantity <= 0 || f.Price <= 0 {
		return FillResult{}, &domain.CorruptionError{
			Detail: fmt.Sprintf("fill %s has non-positive quantity or price", f.ID),
		}
	}

	var order *domain.Order
	if clientID, ok := l.byBroker[f.OrderID]; ok {
		order = l.open[clientID]
	}
	strategyID := domain.CarryoverStrategyID
	if order != nil {
		strategyID = order.StrategyID
		if order.FilledQty+f.Quantity > order.Quantity {
			return FillResult{}, &domain.CorruptionError{
				Detail: fmt.Sprintf("order %s: fills %d exceed requested quantity %d",
					f.OrderID, order.FilledQty+f.Quantity, order.Quantity),
			}
		}
	}

	amount := float64(f.Quantity) * f.Price
	res := FillResult{Applied: true, StrategyID: strategyID}

	switch f.Side {
	case domain.SideBuy:
		if l.cash-amount < 0 {
			return FillResult{}, &domain.CorruptionError{
				Detail: fmt.Sprintf("buy fill %s would drive cash negative (%.2f - %.2f)", f.ID, l.cash, amount),
			}
		}
		l.cash -= amount
		if pos, ok := l.positions[f.Symbol]; ok {
			totalQty := pos.Quantity + f.Quantity
			totalCost := float64(pos.Quantity)*pos.AvgCost + amount
			pos.Quantity = totalQty
			pos.AvgCost = totalCost / float64(totalQty)
			// Ownership stays with the strategy that opened the position.
		} else {
			l.positions[f.Symbol] = &domain.Position{
				Symbol:     f.Symbol,
				Quantity:   f.Quantity,
				AvgCost:    f.Price,
				StrategyID: strategyID,
				OpenedAt:   f.Timestamp,
			}
		}

	case domain.SideSell:
		pos, ok := l.positions[f.Symbol]
		if !ok || pos.Quantity < f.Quantity {
			held := int64(0)
			if ok {
				held = pos.Quantity
			}
			return FillResult{}, &domain.CorruptionError{
				Detail: fmt.Sprintf("sell fill %s for %d exceeds held quantity %d of %s", f.ID, f.Quantity, held, f.Symbol),
			}
		}
		l.cash += amount
		res.RealizedPnL = (f.Price - pos.AvgCost) * float64(f.Quantity)
		pos.Quantity -= f.Quantity
		if pos.Quantity == 0 {
			delete(l.positions, f.Symbol)
		}

	default:
		return FillResult{}, &domain.CorruptionError{
			Detail: fmt.Sprintf("fill %s has unknown side %q", f.ID, f.Side),
		}
	}

	if order != nil {
		order.FilledQty += f.Quantity
		order.FilledNotional += amount
		order.UpdatedAt = f.Timestamp
	}
	l.applied[f.ID] = struct{}{}

	l.log.Info("fill applied",
		"fill", f.ID,
		"symbol", f.Symbol,
		"side", f.Side,
		"qty", f.Quantity,
		"price", f.Price,
		"cash", l.cash,
	)
	return res, nil
}

// MarkOrderStatus updates the tracked status of an in-flight order without
// touching cash or positions.
func (l *Ledger) MarkOrderStatus(clientOrderID string, status domain.OrderStatus, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.open[clientOrderID]; ok {
		o.Status = status
		o.UpdatedAt = at
	}
}
