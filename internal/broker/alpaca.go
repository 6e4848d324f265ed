package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"daybot/internal/domain"
	"daybot/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface against the Alpaca trading
// and market-data APIs. All calls pass through a shared rate limiter.
type AlpacaBroker struct {
	trading *alpaca.Client
	data    *marketdata.Client
	limiter *util.RateLimiter
}

// NewAlpacaBroker creates an AlpacaBroker from credentials and endpoints.
// ratePerSec bounds outbound API calls.
func NewAlpacaBroker(apiKey, apiSecret, baseURL, dataURL string, ratePerSec float64) *AlpacaBroker {
	return &AlpacaBroker{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   dataURL,
		}),
		limiter: util.NewRateLimiter(ratePerSec, 3),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string { return "alpaca" }

// GetQuote returns the latest trade price for a symbol, with the previous
// close and the session's cumulative volume from the daily snapshot.
func (b *AlpacaBroker) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return domain.Quote{}, err
	}
	snap, err := b.data.GetSnapshot(symbol, marketdata.GetSnapshotRequest{})
	if err != nil {
		return domain.Quote{}, classify(fmt.Errorf("GetSnapshot %s: %w", symbol, err))
	}
	if snap == nil || snap.LatestTrade == nil {
		return domain.Quote{}, domain.Permanent(fmt.Errorf("no trade data for %s", symbol))
	}

	q := domain.Quote{
		Symbol:    symbol,
		Price:     snap.LatestTrade.Price,
		Timestamp: snap.LatestTrade.Timestamp,
	}
	if snap.PrevDailyBar != nil {
		q.PrevClose = snap.PrevDailyBar.Close
	}
	if snap.DailyBar != nil {
		q.DayVolume = int64(snap.DailyBar.Volume)
	}
	return q, nil
}

// GetAccount returns cash and equity.
func (b *AlpacaBroker) GetAccount(ctx context.Context) (domain.AccountSnapshot, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return domain.AccountSnapshot{}, err
	}
	acct, err := b.trading.GetAccount()
	if err != nil {
		return domain.AccountSnapshot{}, classify(fmt.Errorf("GetAccount: %w", err))
	}
	return domain.AccountSnapshot{
		Cash:   acct.Cash.InexactFloat64(),
		Equity: acct.Equity.InexactFloat64(),
	}, nil
}

// GetPositions returns all positions held in the account.
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	positions, err := b.trading.GetPositions()
	if err != nil {
		return nil, classify(fmt.Errorf("GetPositions: %w", err))
	}
	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, domain.Position{
			Symbol:   p.Symbol,
			Quantity: p.Qty.IntPart(),
			AvgCost:  p.AvgEntryPrice.InexactFloat64(),
		})
	}
	return out, nil
}

// PlaceOrder submits a day order and returns the broker-assigned id.
func (b *AlpacaBroker) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	qty := decimal.NewFromInt(req.Quantity)
	par := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(req.Side),
		Type:          alpaca.OrderType(req.Type),
		TimeInForce:   alpaca.Day,
		ClientOrderID: req.ClientOrderID,
	}
	if req.Type == domain.OrderTypeLimit {
		limit := decimal.NewFromFloat(req.LimitPrice)
		par.LimitPrice = &limit
	}

	order, err := b.trading.PlaceOrder(par)
	if err != nil {
		return "", classify(fmt.Errorf("PlaceOrder %s %s: %w", req.Side, req.Symbol, err))
	}
	return order.ID, nil
}

// GetOrderStatus returns the current state of an order.
func (b *AlpacaBroker) GetOrderStatus(ctx context.Context, brokerID string) (OrderUpdate, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return OrderUpdate{}, err
	}
	order, err := b.trading.GetOrder(brokerID)
	if err != nil {
		return OrderUpdate{}, classify(fmt.Errorf("GetOrder %s: %w", brokerID, err))
	}
	return toUpdate(order), nil
}

// FindOrderByClientID probes for an order by idempotency key. A 404 means
// the order never reached the broker.
func (b *AlpacaBroker) FindOrderByClientID(ctx context.Context, clientOrderID string) (OrderUpdate, bool, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return OrderUpdate{}, false, err
	}
	order, err := b.trading.GetOrderByClientOrderID(clientOrderID)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return OrderUpdate{}, false, nil
		}
		return OrderUpdate{}, false, classify(fmt.Errorf("GetOrderByClientOrderID %s: %w", clientOrderID, err))
	}
	return toUpdate(order), true, nil
}

// CancelOrder requests cancellation of an open order.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, brokerID string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := b.trading.CancelOrder(brokerID); err != nil {
		return classify(fmt.Errorf("CancelOrder %s: %w", brokerID, err))
	}
	return nil
}

func toUpdate(o *alpaca.Order) OrderUpdate {
	u := OrderUpdate{
		BrokerID:      o.ID,
		ClientOrderID: o.ClientOrderID,
		Status:        mapStatus(string(o.Status)),
		FilledQty:     o.FilledQty.IntPart(),
		UpdatedAt:     o.UpdatedAt,
	}
	if o.FilledAvgPrice != nil {
		u.AvgFillPrice = o.FilledAvgPrice.InexactFloat64()
	}
	return u
}

func mapStatus(s string) domain.OrderStatus {
	switch strings.ToLower(s) {
	case "filled":
		return domain.OrderStatusFilled
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled
	case "canceled", "pending_cancel", "done_for_day":
		return domain.OrderStatusCancelled
	case "rejected", "expired", "stopped", "suspended":
		return domain.OrderStatusRejected
	default:
		// new, accepted, pending_new, held, etc.
		return domain.OrderStatusPending
	}
}

// classify sorts SDK errors into the retry taxonomy: rate limits and server
// errors are transient, other API responses are permanent rejections, and
// anything below the HTTP layer (timeouts, resets) is transient.
func classify(err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return domain.Transient(err)
		}
		return domain.Permanent(err)
	}
	return domain.Transient(err)
}
