package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"daybot/internal/broker"
	"daybot/internal/domain"
	"daybot/internal/notify"
	"daybot/internal/portfolio"
	"daybot/internal/store"
)

// Window is a strategy's trading window in minutes after local midnight,
// end exclusive.
type Window struct {
	Start int
	End   int
}

// Contains reports whether the local wall time falls inside the window.
func (w Window) Contains(now time.Time) bool {
	m := now.Hour()*60 + now.Minute()
	return m >= w.Start && m < w.End
}

// Overlaps reports whether two windows share any minute.
func (w Window) Overlaps(o Window) bool {
	return w.Start < o.End && o.Start < w.End
}

// OrderManager is the only path by which a signal becomes an order. It
// gates, dedups, sizes, and submits, and registers the resulting order
// with the ledger before the broker call so a concurrent duplicate is
// impossible.
type OrderManager struct {
	broker   broker.Broker
	ledger   *portfolio.Ledger
	journal  store.Journal
	sizer    *Sizer
	notifier notify.Notifier
	slippage float64
	windows  map[string]Window // strategy id → trading window
	log      *slog.Logger
}

// NewOrderManager wires an OrderManager. windows must hold an entry per
// configured strategy; liquidation submissions bypass the gate entirely.
func NewOrderManager(
	b broker.Broker,
	ledger *portfolio.Ledger,
	journal store.Journal,
	sizer *Sizer,
	notifier notify.Notifier,
	slippage float64,
	windows map[string]Window,
) *OrderManager {
	return &OrderManager{
		broker:   b,
		ledger:   ledger,
		journal:  journal,
		sizer:    sizer,
		notifier: notifier,
		slippage: slippage,
		windows:  windows,
		log:      slog.Default().With("component", "orders"),
	}
}

// Submit validates a strategy signal and turns it into a live order.
// Rejections come back as typed errors and are never fatal: the signal is
// dropped, the reason logged and notified.
func (m *OrderManager) Submit(ctx context.Context, sig domain.Signal, now time.Time) (*domain.Order, error) {
	w, ok := m.windows[sig.StrategyID]
	if !ok || !w.Contains(now) {
		return nil, m.reject(sig, domain.ErrOutsideTradingWindow)
	}
	return m.submit(ctx, sig, now)
}

// SubmitLiquidation submits an engine-initiated liquidation sell. It skips
// the time gate — liquidation happens exactly when the engine says, at a
// window deadline or at the open for carryover positions.
func (m *OrderManager) SubmitLiquidation(ctx context.Context, sig domain.Signal, now time.Time) (*domain.Order, error) {
	return m.submit(ctx, sig, now)
}

func (m *OrderManager) submit(ctx context.Context, sig domain.Signal, now time.Time) (*domain.Order, error) {
	if m.ledger.HasOpenOrder(sig.StrategyID, sig.Symbol) {
		return nil, m.reject(sig, domain.ErrDuplicateOrder)
	}

	qty := sig.Quantity
	switch sig.Side {
	case domain.SideSell:
		pos, held := m.ledger.Position(sig.Symbol)
		if !held || pos.Quantity == 0 {
			return nil, m.reject(sig, domain.ErrNoPosition)
		}
		// Zero means the whole position; never sell more than held.
		if qty == 0 || qty > pos.Quantity {
			qty = pos.Quantity
		}

	case domain.SideBuy:
		quote, err := m.broker.GetQuote(ctx, sig.Symbol)
		if err != nil {
			return nil, m.reject(sig, fmt.Errorf("%w: quoting %s: %v", domain.ErrSubmissionFailed, sig.Symbol, err))
		}
		cash := m.ledger.Cash()
		if qty > 0 {
			required := float64(qty) * quote.Price * (1 + m.slippage)
			if required > cash {
				return nil, m.reject(sig, fmt.Errorf("%w: need %.2f, have %.2f", domain.ErrInsufficientFunds, required, cash))
			}
		}
		// Sizing only shrinks: a requested quantity is a ceiling, zero
		// delegates entirely to the policy.
		sized := m.sizer.Size(ctx, sig.StrategyID, cash, quote.Price)
		if qty == 0 || sized < qty {
			qty = sized
		}
		if qty == 0 {
			return nil, m.reject(sig, domain.ErrSizeZero)
		}

	default:
		return nil, m.reject(sig, fmt.Errorf("%w: unknown side %q", domain.ErrSubmissionFailed, sig.Side))
	}

	order := &domain.Order{
		ClientOrderID: ulid.Make().String(),
		StrategyID:    sig.StrategyID,
		Symbol:        sig.Symbol,
		Side:          sig.Side,
		Type:          sig.OrderType,
		Quantity:      qty,
		LimitPrice:    sig.LimitPrice,
		Status:        domain.OrderStatusPending,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}

	// Register before the network call: the dedup check and the insert are
	// one atomic step, so no concurrent signal can slip a second order in
	// while this one is in flight.
	if err := m.ledger.RegisterOrder(order); err != nil {
		return nil, m.reject(sig, err)
	}

	brokerID, err := m.broker.PlaceOrder(ctx, broker.OrderRequest{
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		Type:          order.Type,
		LimitPrice:    order.LimitPrice,
	})
	if err != nil {
		m.ledger.RemoveOrder(order.ClientOrderID)
		return nil, m.reject(sig, fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err))
	}

	order.BrokerID = brokerID
	m.ledger.ConfirmOrder(order.ClientOrderID, brokerID)
	if err := m.journal.RecordOrder(ctx, order); err != nil {
		m.log.Error("journal write failed", "order", order.ClientOrderID, "error", err)
	}

	m.log.Info("order submitted",
		"strategy", order.StrategyID,
		"symbol", order.Symbol,
		"side", order.Side,
		"qty", order.Quantity,
		"brokerID", brokerID,
		"reason", sig.Reason,
	)
	m.notifier.Notify(notify.SeverityInfo,
		fmt.Sprintf("%s %d %s", order.Side, order.Quantity, order.Symbol),
		fmt.Sprintf("strategy %s: %s", order.StrategyID, sig.Reason))
	return order, nil
}

func (m *OrderManager) reject(sig domain.Signal, err error) error {
	m.log.Warn("signal rejected",
		"strategy", sig.StrategyID,
		"symbol", sig.Symbol,
		"side", sig.Side,
		"reason", err,
	)
	m.notifier.Notify(notify.SeverityWarning,
		fmt.Sprintf("rejected: %s %s", sig.Side, sig.Symbol),
		fmt.Sprintf("strategy %s: %v", sig.StrategyID, err))
	return err
}
