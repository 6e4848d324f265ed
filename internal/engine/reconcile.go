package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"daybot/internal/broker"
	"daybot/internal/domain"
	"daybot/internal/notify"
	"daybot/internal/portfolio"
	"daybot/internal/store"
)

// reconciler closes the loop between submitted orders and confirmed fills.
// It runs on its own, shorter interval than the main tick so fills land in
// the ledger before the next liquidation or strategy decision.
type reconciler struct {
	broker         broker.Broker
	ledger         *portfolio.Ledger
	journal        store.Journal
	notifier       notify.Notifier
	pendingTimeout time.Duration
	autoCancel     bool
	log            *slog.Logger

	escalated map[string]bool // client order ids already alerted as stale
}

func newReconciler(
	b broker.Broker,
	ledger *portfolio.Ledger,
	journal store.Journal,
	notifier notify.Notifier,
	pendingTimeout time.Duration,
	autoCancel bool,
) *reconciler {
	return &reconciler{
		broker:         b,
		ledger:         ledger,
		journal:        journal,
		notifier:       notifier,
		pendingTimeout: pendingTimeout,
		autoCancel:     autoCancel,
		log:            slog.Default().With("component", "reconcile"),
		escalated:      make(map[string]bool),
	}
}

// reconcile polls every open order once. Poll failures for one order are
// logged and skipped; only a ledger corruption error comes back, because
// that must halt the engine.
func (r *reconciler) reconcile(ctx context.Context, now time.Time) error {
	for _, o := range r.ledger.OpenOrders() {
		if o.BrokerID == "" {
			// Submission still in flight.
			continue
		}

		update, err := r.broker.GetOrderStatus(ctx, o.BrokerID)
		if err != nil {
			r.log.Warn("status poll failed", "order", o.BrokerID, "error", err)
			continue
		}

		if err := r.applyUpdate(ctx, o, update); err != nil {
			return err
		}

		if update.Status.Terminal() {
			r.ledger.RemoveOrder(o.ClientOrderID)
			delete(r.escalated, o.ClientOrderID)
		} else {
			r.ledger.MarkOrderStatus(o.ClientOrderID, update.Status, update.UpdatedAt)
			r.escalateStale(ctx, o, now)
		}

		if err := r.journal.UpdateOrder(ctx, o.ClientOrderID, update.Status, update.FilledQty); err != nil {
			r.log.Error("journal update failed", "order", o.ClientOrderID, "error", err)
		}
	}
	return nil
}

// applyUpdate folds the cumulative fill delta into the ledger. The broker
// reports totals, not executions, so the delta since the last poll becomes
// one synthetic fill whose id embeds the cumulative quantity — polling
// twice at the same fill level applies nothing. The delta is priced from
// the cumulative notional difference rather than the running average, so
// that across tranches the ledger's cash and cost basis match the broker
// exactly.
func (r *reconciler) applyUpdate(ctx context.Context, o domain.Order, update broker.OrderUpdate) error {
	delta := update.FilledQty - o.FilledQty
	if delta <= 0 {
		return nil
	}

	notional := float64(update.FilledQty)*update.AvgFillPrice - o.FilledNotional
	fill := domain.Fill{
		ID:        fmt.Sprintf("%s:%d", o.BrokerID, update.FilledQty),
		OrderID:   o.BrokerID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Quantity:  delta,
		Price:     notional / float64(delta),
		Timestamp: update.UpdatedAt,
	}

	res, err := r.ledger.ApplyFill(fill)
	if err != nil {
		var corrupt *domain.CorruptionError
		if errors.As(err, &corrupt) {
			return err
		}
		r.log.Error("fill rejected", "fill", fill.ID, "error", err)
		return nil
	}
	if !res.Applied {
		return nil
	}

	if err := r.journal.RecordFill(ctx, fill); err != nil {
		r.log.Error("journal fill write failed", "fill", fill.ID, "error", err)
	}
	if o.Side == domain.SideSell {
		entry := fill.Price - res.RealizedPnL/float64(fill.Quantity)
		if err := r.journal.RecordClosedTrade(ctx, store.ClosedTrade{
			StrategyID: res.StrategyID,
			Symbol:     fill.Symbol,
			Quantity:   fill.Quantity,
			EntryPrice: entry,
			ExitPrice:  fill.Price,
			PnL:        res.RealizedPnL,
			ClosedAt:   fill.Timestamp,
		}); err != nil {
			r.log.Error("journal trade write failed", "fill", fill.ID, "error", err)
		}
	}

	r.notifier.Notify(notify.SeverityInfo,
		fmt.Sprintf("fill: %s %d %s @ %.2f", fill.Side, fill.Quantity, fill.Symbol, fill.Price),
		fmt.Sprintf("strategy %s, order %s", res.StrategyID, o.BrokerID))
	return nil
}

// escalateStale alerts once per order stuck PENDING past the timeout and,
// when configured, cancels it.
func (r *reconciler) escalateStale(ctx context.Context, o domain.Order, now time.Time) {
	if r.pendingTimeout <= 0 || now.Sub(o.SubmittedAt) < r.pendingTimeout {
		return
	}
	if !r.escalated[o.ClientOrderID] {
		r.escalated[o.ClientOrderID] = true
		r.log.Warn("order stale", "order", o.BrokerID, "age", now.Sub(o.SubmittedAt))
		r.notifier.Notify(notify.SeverityWarning,
			fmt.Sprintf("order stuck pending: %s %d %s", o.Side, o.Quantity, o.Symbol),
			fmt.Sprintf("order %s pending for over %s", o.BrokerID, r.pendingTimeout))
	}
	if r.autoCancel {
		if err := r.broker.CancelOrder(ctx, o.BrokerID); err != nil {
			r.log.Warn("cancel failed", "order", o.BrokerID, "error", err)
		}
	}
}
