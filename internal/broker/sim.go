package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"daybot/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimBroker)(nil)

// SimBroker implements the Broker interface in memory, for paper trading
// and tests. Orders fill fully at the current quote on the next status
// poll unless auto-fill is disabled, and transient submission failures can
// be injected.
type SimBroker struct {
	mu       sync.Mutex
	quotes   map[string]domain.Quote
	cash     float64
	startPos []domain.Position
	orders   map[string]*simOrder
	byClient map[string]string
	seq      int

	autoFill bool
	// remaining PlaceOrder calls that fail transiently before one succeeds
	placeFailures int
	// when true, injected failures still register the order, simulating a
	// submit whose response was lost on the wire
	failAfterAccept bool
}

type simOrder struct {
	req       OrderRequest
	brokerID  string
	status    domain.OrderStatus
	filledQty int64
	fillPrice float64
	placedAt  time.Time
}

// NewSimBroker creates a SimBroker with the given starting cash.
func NewSimBroker(cash float64) *SimBroker {
	return &SimBroker{
		quotes:   make(map[string]domain.Quote),
		cash:     cash,
		orders:   make(map[string]*simOrder),
		byClient: make(map[string]string),
		autoFill: true,
	}
}

// Name returns "sim".
func (b *SimBroker) Name() string { return "sim" }

// SetQuote fixes the simulated price for a symbol.
func (b *SimBroker) SetQuote(symbol string, price float64) {
	b.SetQuoteDetail(domain.Quote{Symbol: symbol, Price: price})
}

// SetQuoteDetail fixes the full simulated quote for a symbol.
func (b *SimBroker) SetQuoteDetail(q domain.Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[q.Symbol] = q
}

// SetPositions seeds the positions reported by GetPositions.
func (b *SimBroker) SetPositions(positions []domain.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startPos = positions
}

// SetAutoFill controls whether orders fill on the next status poll.
func (b *SimBroker) SetAutoFill(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoFill = on
}

// FailNextPlaceOrders makes the next n PlaceOrder calls fail transiently.
// With lostResponse, the order is accepted anyway and only the response is
// dropped, mimicking a timeout after the broker booked the order.
func (b *SimBroker) FailNextPlaceOrders(n int, lostResponse bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placeFailures = n
	b.failAfterAccept = lostResponse
}

// FillPartial advances an order by qty shares at the given price, keeping
// the cumulative average a broker would report across tranches. Disable
// auto-fill first.
func (b *SimBroker) FillPartial(brokerID string, qty int64, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[brokerID]
	if !ok {
		return
	}
	total := float64(o.filledQty)*o.fillPrice + float64(qty)*price
	o.filledQty += qty
	o.fillPrice = total / float64(o.filledQty)
	if o.filledQty >= o.req.Quantity {
		o.status = domain.OrderStatusFilled
	} else {
		o.status = domain.OrderStatusPartiallyFilled
	}
}

// GetQuote returns the configured price for a symbol.
func (b *SimBroker) GetQuote(_ context.Context, symbol string) (domain.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.quotes[symbol]
	if !ok {
		return domain.Quote{}, domain.Permanent(fmt.Errorf("no quote for symbol %s", symbol))
	}
	q.Timestamp = time.Now()
	return q, nil
}

// GetAccount returns the simulated cash balance.
func (b *SimBroker) GetAccount(_ context.Context) (domain.AccountSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.AccountSnapshot{Cash: b.cash, Equity: b.cash}, nil
}

// GetPositions returns the seeded starting positions.
func (b *SimBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Position, len(b.startPos))
	copy(out, b.startPos)
	return out, nil
}

// PlaceOrder books the order in memory. The same client order id never
// creates a second order.
func (b *SimBroker) PlaceOrder(_ context.Context, req OrderRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Idempotency: re-submission of a known client id returns the
	// original order.
	if id, ok := b.byClient[req.ClientOrderID]; ok {
		return id, nil
	}

	if b.placeFailures > 0 {
		b.placeFailures--
		if b.failAfterAccept {
			b.bookLocked(req)
		}
		return "", domain.Transient(errors.New("simulated submit timeout"))
	}

	return b.bookLocked(req), nil
}

func (b *SimBroker) bookLocked(req OrderRequest) string {
	b.seq++
	id := fmt.Sprintf("sim-%d", b.seq)
	price := req.LimitPrice
	if req.Type == domain.OrderTypeMarket {
		price = b.quotes[req.Symbol].Price
	}
	b.orders[id] = &simOrder{
		req:       req,
		brokerID:  id,
		status:    domain.OrderStatusPending,
		fillPrice: price,
		placedAt:  time.Now(),
	}
	b.byClient[req.ClientOrderID] = id
	return id
}

// GetOrderStatus reports (and with auto-fill, advances) an order's state.
func (b *SimBroker) GetOrderStatus(_ context.Context, brokerID string) (OrderUpdate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[brokerID]
	if !ok {
		return OrderUpdate{}, domain.Permanent(fmt.Errorf("unknown order %s", brokerID))
	}

	if b.autoFill && o.status == domain.OrderStatusPending {
		o.filledQty = o.req.Quantity
		o.status = domain.OrderStatusFilled
		if o.fillPrice == 0 {
			o.fillPrice = b.quotes[o.req.Symbol].Price
		}
	}

	return b.updateLocked(o), nil
}

// FindOrderByClientID looks an order up by its idempotency key.
func (b *SimBroker) FindOrderByClientID(_ context.Context, clientOrderID string) (OrderUpdate, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.byClient[clientOrderID]
	if !ok {
		return OrderUpdate{}, false, nil
	}
	return b.updateLocked(b.orders[id]), true, nil
}

// CancelOrder marks a pending order cancelled.
func (b *SimBroker) CancelOrder(_ context.Context, brokerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[brokerID]
	if !ok {
		return domain.Permanent(fmt.Errorf("unknown order %s", brokerID))
	}
	if !o.status.Terminal() {
		o.status = domain.OrderStatusCancelled
	}
	return nil
}

func (b *SimBroker) updateLocked(o *simOrder) OrderUpdate {
	return OrderUpdate{
		BrokerID:      o.brokerID,
		ClientOrderID: o.req.ClientOrderID,
		Status:        o.status,
		FilledQty:     o.filledQty,
		AvgFillPrice:  o.fillPrice,
		UpdatedAt:     time.Now(),
	}
}
