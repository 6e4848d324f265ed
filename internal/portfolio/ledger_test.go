package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daybot/internal/domain"
)

func seeded(cash float64, positions ...domain.Position) *Ledger {
	return NewFromSnapshot(domain.AccountSnapshot{Cash: cash, Positions: positions})
}

func registered(t *testing.T, l *Ledger, clientID, brokerID, strategyID, symbol string, side domain.Side, qty int64) {
	t.Helper()
	require.NoError(t, l.RegisterOrder(&domain.Order{
		ClientOrderID: clientID,
		StrategyID:    strategyID,
		Symbol:        symbol,
		Side:          side,
		Quantity:      qty,
		Status:        domain.OrderStatusPending,
	}))
	l.ConfirmOrder(clientID, brokerID)
}

func TestBuyFillUpdatesCashAndPosition(t *testing.T) {
	l := seeded(100_000)
	registered(t, l, "c1", "b1", "opening-breakout", "AAPL", domain.SideBuy, 10)

	res, err := l.ApplyFill(domain.Fill{
		ID: "f1", OrderID: "b1", Symbol: "AAPL", Side: domain.SideBuy,
		Quantity: 10, Price: 150, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, "opening-breakout", res.StrategyID)

	assert.Equal(t, 98_500.0, l.Cash())
	pos, ok := l.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(10), pos.Quantity)
	assert.Equal(t, 150.0, pos.AvgCost)
	assert.Equal(t, "opening-breakout", pos.StrategyID)
}

func TestBuyFillAveragesCost(t *testing.T) {
	l := seeded(100_000, domain.Position{Symbol: "AAPL", Quantity: 10, AvgCost: 100, StrategyID: "s1"})
	registered(t, l, "c1", "b1", "s1", "AAPL", domain.SideBuy, 10)

	_, err := l.ApplyFill(domain.Fill{
		ID: "f1", OrderID: "b1", Symbol: "AAPL", Side: domain.SideBuy,
		Quantity: 10, Price: 200, Timestamp: time.Now(),
	})
	require.NoError(t, err)

	pos, _ := l.Position("AAPL")
	assert.Equal(t, int64(20), pos.Quantity)
	assert.Equal(t, 150.0, pos.AvgCost)
	assert.Equal(t, "s1", pos.StrategyID, "ownership stays with the opening strategy")
}

func TestSellFillRealizesPnLAndRemovesAtZero(t *testing.T) {
	l := seeded(1_000, domain.Position{Symbol: "AAPL", Quantity: 10, AvgCost: 100, StrategyID: "s1"})
	registered(t, l, "c1", "b1", "s1", "AAPL", domain.SideSell, 10)

	res, err := l.ApplyFill(domain.Fill{
		ID: "f1", OrderID: "b1", Symbol: "AAPL", Side: domain.SideSell,
		Quantity: 10, Price: 110, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.RealizedPnL)
	assert.Equal(t, 2_100.0, l.Cash())

	_, ok := l.Position("AAPL")
	assert.False(t, ok, "position at zero quantity is removed")
}

func TestDuplicateFillIgnored(t *testing.T) {
	l := seeded(100_000)
	registered(t, l, "c1", "b1", "s1", "AAPL", domain.SideBuy, 10)

	f := domain.Fill{ID: "f1", OrderID: "b1", Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, Price: 100, Timestamp: time.Now()}

	res, err := l.ApplyFill(f)
	require.NoError(t, err)
	assert.True(t, res.Applied)

	res, err = l.ApplyFill(f)
	require.NoError(t, err)
	assert.False(t, res.Applied, "same fill id must fold in only once")
	assert.Equal(t, 99_000.0, l.Cash())
}

func TestOverfillIsCorruption(t *testing.T) {
	l := seeded(100_000)
	registered(t, l, "c1", "b1", "s1", "AAPL", domain.SideBuy, 10)

	_, err := l.ApplyFill(domain.Fill{
		ID: "f1", OrderID: "b1", Symbol: "AAPL", Side: domain.SideBuy,
		Quantity: 11, Price: 100, Timestamp: time.Now(),
	})
	var cerr *domain.CorruptionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 100_000.0, l.Cash(), "ledger untouched on corruption")
}

func TestOverSellIsCorruption(t *testing.T) {
	l := seeded(1_000, domain.Position{Symbol: "AAPL", Quantity: 5, AvgCost: 100, StrategyID: "s1"})
	registered(t, l, "c1", "b1", "s1", "AAPL", domain.SideSell, 10)

	_, err := l.ApplyFill(domain.Fill{
		ID: "f1", OrderID: "b1", Symbol: "AAPL", Side: domain.SideSell,
		Quantity: 10, Price: 100, Timestamp: time.Now(),
	})
	var cerr *domain.CorruptionError
	require.ErrorAs(t, err, &cerr)

	pos, ok := l.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(5), pos.Quantity)
}

func TestBuyDrivingCashNegativeIsCorruption(t *testing.T) {
	l := seeded(500)
	registered(t, l, "c1", "b1", "s1", "AAPL", domain.SideBuy, 10)

	_, err := l.ApplyFill(domain.Fill{
		ID: "f1", OrderID: "b1", Symbol: "AAPL", Side: domain.SideBuy,
		Quantity: 10, Price: 100, Timestamp: time.Now(),
	})
	var cerr *domain.CorruptionError
	require.ErrorAs(t, err, &cerr)
}

func TestRegisterOrderRejectsDuplicate(t *testing.T) {
	l := seeded(100_000)
	registered(t, l, "c1", "b1", "s1", "AAPL", domain.SideBuy, 10)

	err := l.RegisterOrder(&domain.Order{
		ClientOrderID: "c2", StrategyID: "s1", Symbol: "AAPL",
		Side: domain.SideBuy, Quantity: 5,
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)

	// A different strategy on the same symbol is allowed.
	err = l.RegisterOrder(&domain.Order{
		ClientOrderID: "c3", StrategyID: "s2", Symbol: "AAPL",
		Side: domain.SideBuy, Quantity: 5,
	})
	assert.NoError(t, err)
}

func TestRemoveOrderFreesDuplicateSlot(t *testing.T) {
	l := seeded(100_000)
	registered(t, l, "c1", "b1", "s1", "AAPL", domain.SideBuy, 10)

	_, ok := l.RemoveOrder("c1")
	require.True(t, ok)
	assert.False(t, l.HasOpenOrder("s1", "AAPL"))

	assert.NoError(t, l.RegisterOrder(&domain.Order{
		ClientOrderID: "c2", StrategyID: "s1", Symbol: "AAPL",
		Side: domain.SideBuy, Quantity: 5,
	}))
}

func TestCarryoverPositionsTagged(t *testing.T) {
	l := seeded(10_000, domain.Position{Symbol: "MSFT", Quantity: 3, AvgCost: 400})

	pos, ok := l.Position("MSFT")
	require.True(t, ok)
	assert.Equal(t, domain.CarryoverStrategyID, pos.StrategyID)
}
