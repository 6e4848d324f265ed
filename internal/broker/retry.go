package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"daybot/internal/domain"
	"daybot/internal/notify"
	"daybot/internal/util"
)

// Compile-time interface check.
var _ Broker = (*Retrier)(nil)

// RetryConfig carries per-call-class retry policies. Reads are cheap to
// repeat; order submission is not, because a retried submit can create a
// duplicate live order. Submission therefore gets a single attempt per
// round plus an idempotency probe by client order id between rounds.
type RetryConfig struct {
	Read   util.RetryPolicy // quotes, account, positions, status polls
	Submit util.RetryPolicy // PlaceOrder rounds (probe between rounds)
	Cancel util.RetryPolicy
}

// DefaultRetryConfig mirrors how the call classes differ: reads retry fast
// and often, submissions twice with long delays, cancels in between.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Read: util.RetryPolicy{
			MaxAttempts: 5,
			BaseDelay:   200 * time.Millisecond,
			Multiplier:  2,
			MaxDelay:    3 * time.Second,
			Jitter:      0.2,
		},
		Submit: util.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			Multiplier:  2,
			Jitter:      0.2,
		},
		Cancel: util.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			Multiplier:  2,
			Jitter:      0.2,
		},
	}
}

// Retrier decorates a Broker with retry-with-backoff on transient failures
// and an alert on final exhaustion. Permanent rejections pass through
// untouched.
type Retrier struct {
	inner    Broker
	cfg      RetryConfig
	notifier notify.Notifier
	log      *slog.Logger
}

// NewRetrier wraps inner with the given policies.
func NewRetrier(inner Broker, cfg RetryConfig, notifier notify.Notifier) *Retrier {
	return &Retrier{
		inner:    inner,
		cfg:      cfg,
		notifier: notifier,
		log:      slog.Default().With("component", "broker-retry", "broker", inner.Name()),
	}
}

// Name returns the wrapped broker's identifier.
func (r *Retrier) Name() string { return r.inner.Name() }

// GetQuote retries transient quote failures.
func (r *Retrier) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	var q domain.Quote
	err := r.retry(ctx, r.cfg.Read, "GetQuote", func() error {
		var err error
		q, err = r.inner.GetQuote(ctx, symbol)
		return err
	})
	return q, err
}

// GetAccount retries transient account failures.
func (r *Retrier) GetAccount(ctx context.Context) (domain.AccountSnapshot, error) {
	var snap domain.AccountSnapshot
	err := r.retry(ctx, r.cfg.Read, "GetAccount", func() error {
		var err error
		snap, err = r.inner.GetAccount(ctx)
		return err
	})
	return snap, err
}

// GetPositions retries transient position failures.
func (r *Retrier) GetPositions(ctx context.Context) ([]domain.Position, error) {
	var positions []domain.Position
	err := r.retry(ctx, r.cfg.Read, "GetPositions", func() error {
		var err error
		positions, err = r.inner.GetPositions(ctx)
		return err
	})
	return positions, err
}

// PlaceOrder submits with duplicate protection: after any transient
// failure it first probes for the order by client id — a timed-out submit
// may have been booked — and only re-submits when the probe comes back
// empty. The broker's own client-order-id dedup backstops the probe.
func (r *Retrier) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	var brokerID string
	attempts := 0

	err := util.Retry(ctx, r.cfg.Submit, retryTransient, func() error {
		if attempts > 0 {
			// Previous round failed in flight; the order may exist anyway.
			if update, found, probeErr := r.inner.FindOrderByClientID(ctx, req.ClientOrderID); probeErr == nil && found {
				r.log.Warn("submit response was lost but order exists, adopting it",
					"clientOrderID", req.ClientOrderID,
					"brokerID", update.BrokerID,
				)
				brokerID = update.BrokerID
				return nil
			}
		}
		attempts++

		var err error
		brokerID, err = r.inner.PlaceOrder(ctx, req)
		return err
	})
	if err != nil {
		r.alert("PlaceOrder", fmt.Sprintf("%s %d %s: %v", req.Side, req.Quantity, req.Symbol, err))
		return "", err
	}
	return brokerID, nil
}

// GetOrderStatus retries transient status-poll failures.
func (r *Retrier) GetOrderStatus(ctx context.Context, brokerID string) (OrderUpdate, error) {
	var u OrderUpdate
	err := r.retry(ctx, r.cfg.Read, "GetOrderStatus", func() error {
		var err error
		u, err = r.inner.GetOrderStatus(ctx, brokerID)
		return err
	})
	return u, err
}

// FindOrderByClientID retries transient lookup failures.
func (r *Retrier) FindOrderByClientID(ctx context.Context, clientOrderID string) (OrderUpdate, bool, error) {
	var (
		u     OrderUpdate
		found bool
	)
	err := r.retry(ctx, r.cfg.Read, "FindOrderByClientID", func() error {
		var err error
		u, found, err = r.inner.FindOrderByClientID(ctx, clientOrderID)
		return err
	})
	return u, found, err
}

// CancelOrder retries transient cancellation failures.
func (r *Retrier) CancelOrder(ctx context.Context, brokerID string) error {
	return r.retry(ctx, r.cfg.Cancel, "CancelOrder", func() error {
		return r.inner.CancelOrder(ctx, brokerID)
	})
}

func (r *Retrier) retry(ctx context.Context, p util.RetryPolicy, op string, fn func() error) error {
	err := util.Retry(ctx, p, retryTransient, fn)
	if err != nil && domain.IsTransient(err) {
		r.alert(op, err.Error())
	}
	return err
}

func (r *Retrier) alert(op, detail string) {
	r.log.Error("broker call exhausted retries", "op", op, "detail", detail)
	if r.notifier != nil {
		r.notifier.Notify(notify.SeverityError, "broker "+op+" failed after retries", detail)
	}
}

// retryTransient is the shouldRetry predicate: only errors marked
// transient are worth another attempt.
func retryTransient(err error) bool {
	return domain.IsTransient(err)
}
