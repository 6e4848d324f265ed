package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daybot/internal/domain"
	"daybot/internal/store"
)

func TestBuildAndRender(t *testing.T) {
	ctx := context.Background()
	j, err := store.NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	day := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordOrder(ctx, &domain.Order{
		ClientOrderID: "c-1", BrokerID: "b-1", StrategyID: "alpha",
		Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Quantity: 10, Status: domain.OrderStatusFilled, FilledQty: 10,
		SubmittedAt: day, UpdatedAt: day,
	}))
	require.NoError(t, j.RecordFill(ctx, domain.Fill{
		ID: "b-1:10", OrderID: "b-1", Symbol: "AAPL",
		Side: domain.SideBuy, Quantity: 10, Price: 150, Timestamp: day,
	}))
	require.NoError(t, j.RecordClosedTrade(ctx, store.ClosedTrade{
		StrategyID: "alpha", Symbol: "AAPL", Quantity: 10,
		EntryPrice: 140, ExitPrice: 150, PnL: 100, ClosedAt: day,
	}))

	r, err := Build(ctx, j, day)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Summary.Orders)
	assert.Len(t, r.Fills, 1)

	assert.Equal(t, "session 2026-07-01: PnL +100.00", r.Title())

	text := r.String()
	assert.Contains(t, text, "Trading day 2026-07-01")
	assert.Contains(t, text, "realized PnL:  +100.00")
	assert.Contains(t, text, "AAPL")
	assert.Contains(t, text, "win rate 100%")
}

func TestRenderEmptyDay(t *testing.T) {
	ctx := context.Background()
	j, err := store.NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	day := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	r, err := Build(ctx, j, day)
	require.NoError(t, err)

	text := r.String()
	assert.Contains(t, text, "closed trades: 0")
	assert.NotContains(t, text, "executions")
}
