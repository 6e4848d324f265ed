package engine

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daybot/internal/broker"
	"daybot/internal/clock"
	"daybot/internal/config"
	"daybot/internal/domain"
	"daybot/internal/notify"
	"daybot/internal/portfolio"
	"daybot/internal/store"
	"daybot/internal/strategy"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

// scriptedStrategy returns queued signals and counts evaluations.
type scriptedStrategy struct {
	mu      sync.Mutex
	name    string
	queued  []domain.Signal
	evals   int
	repeats bool // re-emit queued signals every evaluation
}

func (s *scriptedStrategy) Name() string { return s.name }

func (s *scriptedStrategy) Evaluate(context.Context, strategy.Market, portfolio.View, time.Time) ([]domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evals++
	out := s.queued
	if !s.repeats {
		s.queued = nil
	}
	return out, nil
}

func (s *scriptedStrategy) evalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evals
}

func testConfig(strategies ...config.StrategyConfig) *config.Config {
	return &config.Config{
		Session: config.Session{
			Timezone:         "UTC",
			MarketOpen:       "09:00",
			OpeningEnd:       "09:30",
			ClosingPrepStart: "15:40",
			ClosingExecStart: "15:50",
			MarketClose:      "16:00",
		},
		Trading: config.Trading{
			TickInterval:      config.Duration(30 * time.Second),
			ReconcileInterval: config.Duration(time.Second),
			SlippageBuffer:    0.07,
			MaxPositionPct:    1.0,
			PendingTimeout:    config.Duration(5 * time.Minute),
			ErrorBurstLimit:   5,
		},
		Strategies: strategies,
	}
}

type testRig struct {
	engine  *Engine
	sim     *broker.SimBroker
	ledger  *portfolio.Ledger
	journal *store.SQLiteJournal
	strat   *scriptedStrategy
}

// newTestRig wires an engine around a sim broker, a real journal in a
// temp dir, and one scripted strategy active in the opening window.
func newTestRig(t *testing.T, cfg *config.Config, snap domain.AccountSnapshot) *testRig {
	t.Helper()

	mc, err := clock.New(cfg.Session)
	require.NoError(t, err)

	journal, err := store.NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	sim := broker.NewSimBroker(snap.Cash)
	sim.SetPositions(snap.Positions)

	strat := &scriptedStrategy{name: "alpha"}
	registry := strategy.NewRegistry()
	registry.Register("alpha", func(config.StrategyConfig) (strategy.Strategy, error) {
		return strat, nil
	})

	ledger := portfolio.NewFromSnapshot(snap)
	eng, err := New(cfg, mc, sim, nil, ledger, journal, nil, &notify.LogNotifier{}, registry)
	require.NoError(t, err)

	return &testRig{engine: eng, sim: sim, ledger: ledger, journal: journal, strat: strat}
}

func alphaWindow(start, end string) config.StrategyConfig {
	return config.StrategyConfig{
		Name:        "alpha",
		WindowStart: start,
		WindowEnd:   end,
		Symbols:     []string{"AAPL"},
	}
}

// Wednesday.
func sessionTime(hh, mm, ss int) time.Time {
	return time.Date(2026, 7, 1, hh, mm, ss, 0, time.UTC)
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewRejectsOverlappingWindows(t *testing.T) {
	cfg := testConfig(
		alphaWindow("09:00", "09:30"),
		config.StrategyConfig{Name: "alpha", WindowStart: "09:20", WindowEnd: "10:00"},
	)
	mc, err := clock.New(cfg.Session)
	require.NoError(t, err)

	registry := strategy.NewRegistry()
	registry.Register("alpha", func(config.StrategyConfig) (strategy.Strategy, error) {
		return &scriptedStrategy{name: "alpha"}, nil
	})

	_, err = New(cfg, mc, broker.NewSimBroker(0), nil,
		portfolio.NewFromSnapshot(domain.AccountSnapshot{}), nil, nil,
		&notify.LogNotifier{}, registry)
	require.Error(t, err)

	var ce *domain.ConfigError
	assert.ErrorAs(t, err, &ce)
}

// ---------------------------------------------------------------------------
// Tick behavior
// ---------------------------------------------------------------------------

func TestTickBeforeSessionDoesNothing(t *testing.T) {
	rig := newTestRig(t, testConfig(alphaWindow("09:00", "09:30")),
		domain.AccountSnapshot{Cash: 100_000})

	require.NoError(t, rig.engine.Tick(context.Background(), sessionTime(8, 30, 0)))
	assert.Zero(t, rig.strat.evalCount())
	assert.Empty(t, rig.ledger.OpenOrders())
}

func TestTickInsideWindowEvaluatesStrategy(t *testing.T) {
	rig := newTestRig(t, testConfig(alphaWindow("09:00", "09:30")),
		domain.AccountSnapshot{Cash: 100_000})

	require.NoError(t, rig.engine.Tick(context.Background(), sessionTime(9, 5, 0)))
	assert.Equal(t, 1, rig.strat.evalCount())
}

func TestTickOutsideWindowSkipsStrategy(t *testing.T) {
	rig := newTestRig(t, testConfig(alphaWindow("09:00", "09:30")),
		domain.AccountSnapshot{Cash: 100_000})

	require.NoError(t, rig.engine.Tick(context.Background(), sessionTime(10, 0, 0)))
	assert.Zero(t, rig.strat.evalCount())
}

func TestTickIdempotentSameInstant(t *testing.T) {
	rig := newTestRig(t, testConfig(alphaWindow("09:00", "09:30")),
		domain.AccountSnapshot{Cash: 100_000})
	rig.sim.SetQuote("AAPL", 150)
	rig.strat.queued = []domain.Signal{{
		StrategyID: "alpha", Symbol: "AAPL", Side: domain.SideBuy,
		Quantity: 10, OrderType: domain.OrderTypeMarket,
	}}
	rig.strat.repeats = true

	now := sessionTime(9, 5, 0)
	require.NoError(t, rig.engine.Tick(context.Background(), now))
	require.NoError(t, rig.engine.Tick(context.Background(), now))

	// The second tick's identical signal hits the duplicate gate.
	assert.Len(t, rig.ledger.OpenOrders(), 1)
}

func TestWindowDeadlineLiquidationBeatsStrategy(t *testing.T) {
	rig := newTestRig(t, testConfig(alphaWindow("09:00", "09:30")),
		domain.AccountSnapshot{
			Cash: 100_000,
			Positions: []domain.Position{
				{Symbol: "AAPL", Quantity: 10, AvgCost: 150, StrategyID: "alpha"},
			},
		})
	rig.sim.SetQuote("AAPL", 151)
	rig.strat.queued = []domain.Signal{{
		StrategyID: "alpha", Symbol: "MSFT", Side: domain.SideBuy,
		Quantity: 5, OrderType: domain.OrderTypeMarket,
	}}
	rig.strat.repeats = true

	// Skip the market-open carryover pass on an earlier tick.
	require.NoError(t, rig.engine.Tick(context.Background(), sessionTime(9, 28, 0)))
	before := rig.strat.evalCount()

	// Last tick of the window: liquidate, do not evaluate.
	require.NoError(t, rig.engine.Tick(context.Background(), sessionTime(9, 29, 55)))
	assert.Equal(t, before, rig.strat.evalCount())

	open := rig.ledger.OpenOrders()
	var sells []domain.Order
	for _, o := range open {
		if o.Side == domain.SideSell && o.Symbol == "AAPL" {
			sells = append(sells, o)
		}
	}
	require.Len(t, sells, 1)
	assert.Equal(t, int64(10), sells[0].Quantity)
	assert.Equal(t, domain.OrderTypeMarket, sells[0].Type)
}

func TestLiquidationRetriedAfterFailedSubmit(t *testing.T) {
	rig := newTestRig(t, testConfig(alphaWindow("09:00", "09:30")),
		domain.AccountSnapshot{
			Cash: 100_000,
			Positions: []domain.Position{
				{Symbol: "AAPL", Quantity: 10, AvgCost: 150, StrategyID: "alpha"},
			},
		})
	rig.sim.SetQuote("AAPL", 151)
	rig.sim.SetAutoFill(false)
	rig.sim.FailNextPlaceOrders(1, false)

	// Deadline tick while the broker is down: nothing books.
	require.NoError(t, rig.engine.Tick(context.Background(), sessionTime(9, 29, 55)))
	assert.Empty(t, rig.ledger.OpenOrders())

	// Broker recovered: the next tick re-emits the forced sell.
	require.NoError(t, rig.engine.Tick(context.Background(), sessionTime(9, 30, 25)))
	open := rig.ledger.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, domain.SideSell, open[0].Side)
	assert.Equal(t, "AAPL", open[0].Symbol)
	assert.Equal(t, int64(10), open[0].Quantity)
}

func TestCarryoverLiquidationRetriedAfterFailedSubmit(t *testing.T) {
	rig := newTestRig(t, testConfig(alphaWindow("09:00", "09:30")),
		domain.AccountSnapshot{
			Cash: 100_000,
			Positions: []domain.Position{
				{Symbol: "TSLA", Quantity: 7, AvgCost: 200},
			},
		})
	rig.sim.SetQuote("TSLA", 210)
	rig.sim.SetAutoFill(false)
	rig.sim.FailNextPlaceOrders(1, false)

	require.NoError(t, rig.engine.Tick(context.Background(), sessionTime(9, 1, 0)))
	assert.Empty(t, rig.ledger.OpenOrders())

	require.NoError(t, rig.engine.Tick(context.Background(), sessionTime(9, 1, 30)))
	open := rig.ledger.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, domain.SideSell, open[0].Side)
	assert.Equal(t, "TSLA", open[0].Symbol)
}

func TestCarryoverLiquidatedAtFirstSessionTick(t *testing.T) {
	rig := newTestRig(t, testConfig(alphaWindow("09:00", "09:30")),
		domain.AccountSnapshot{
			Cash: 100_000,
			Positions: []domain.Position{
				// Untagged: the ledger marks it carryover.
				{Symbol: "TSLA", Quantity: 7, AvgCost: 200},
			},
		})
	rig.sim.SetQuote("TSLA", 210)

	require.NoError(t, rig.engine.Tick(context.Background(), sessionTime(9, 1, 0)))

	open := rig.ledger.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, domain.SideSell, open[0].Side)
	assert.Equal(t, "TSLA", open[0].Symbol)
	assert.Equal(t, int64(7), open[0].Quantity)

	// Second tick must not liquidate again.
	require.NoError(t, rig.engine.Tick(context.Background(), sessionTime(9, 2, 0)))
	assert.Len(t, rig.ledger.OpenOrders(), 1)
}

func TestLiquidationSubmittedBeforeStrategySignals(t *testing.T) {
	rig := newTestRig(t, testConfig(alphaWindow("09:00", "09:30")),
		domain.AccountSnapshot{
			Cash: 100_000,
			Positions: []domain.Position{
				{Symbol: "TSLA", Quantity: 7, AvgCost: 200},
			},
		})
	rig.sim.SetQuote("TSLA", 210)
	rig.sim.SetQuote("AAPL", 150)
	rig.sim.SetAutoFill(false)
	rig.strat.queued = []domain.Signal{{
		StrategyID: "alpha", Symbol: "AAPL", Side: domain.SideBuy,
		Quantity: 10, OrderType: domain.OrderTypeMarket,
	}}

	require.NoError(t, rig.engine.Tick(context.Background(), sessionTime(9, 1, 0)))

	// Sim broker ids are sequential: the liquidation sell went out first.
	update, found, err := rig.sim.FindOrderByClientID(context.Background(), openOrderClientID(rig.ledger, "TSLA"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "sim-1", update.BrokerID)
}

func openOrderClientID(l *portfolio.Ledger, symbol string) string {
	for _, o := range l.OpenOrders() {
		if o.Symbol == symbol {
			return o.ClientOrderID
		}
	}
	return ""
}

func TestPostMarketPipelineRunsOnce(t *testing.T) {
	rig := newTestRig(t, testConfig(alphaWindow("09:00", "09:30")),
		domain.AccountSnapshot{Cash: 100_000})

	var mu sync.Mutex
	var titles []string
	rig.engine.notifier = notifyFunc(func(_ notify.Severity, title, _ string) {
		mu.Lock()
		titles = append(titles, title)
		mu.Unlock()
	})

	require.NoError(t, rig.engine.Tick(context.Background(), sessionTime(16, 5, 0)))
	require.NoError(t, rig.engine.Tick(context.Background(), sessionTime(16, 6, 0)))

	mu.Lock()
	defer mu.Unlock()
	count := 0
	for _, title := range titles {
		if strings.HasPrefix(title, "session ") {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

type notifyFunc func(notify.Severity, string, string)

func (f notifyFunc) Notify(s notify.Severity, title, body string) { f(s, title, body) }

// ---------------------------------------------------------------------------
// Circuit breaker
// ---------------------------------------------------------------------------

func TestRecordErrorTripsOnBurst(t *testing.T) {
	rig := newTestRig(t, testConfig(alphaWindow("09:00", "09:30")),
		domain.AccountSnapshot{Cash: 100_000})

	now := sessionTime(9, 5, 0)
	tripped := false
	for i := 0; i < 5; i++ {
		tripped = rig.engine.recordError(now.Add(time.Duration(i)*time.Second), assert.AnError)
	}
	assert.True(t, tripped)
}

func TestRecordErrorForgetsOldErrors(t *testing.T) {
	rig := newTestRig(t, testConfig(alphaWindow("09:00", "09:30")),
		domain.AccountSnapshot{Cash: 100_000})

	now := sessionTime(9, 5, 0)
	for i := 0; i < 4; i++ {
		assert.False(t, rig.engine.recordError(now.Add(time.Duration(i)*time.Second), assert.AnError))
	}
	// Five minutes later the burst window is clear again.
	assert.False(t, rig.engine.recordError(now.Add(5*time.Minute), assert.AnError))
}

func TestRecordErrorCorruptionTripsImmediately(t *testing.T) {
	rig := newTestRig(t, testConfig(alphaWindow("09:00", "09:30")),
		domain.AccountSnapshot{Cash: 100_000})

	err := &domain.CorruptionError{Detail: "negative cash"}
	assert.True(t, rig.engine.recordError(sessionTime(9, 5, 0), err))
}

func TestHaltedEngineRefusesTicks(t *testing.T) {
	rig := newTestRig(t, testConfig(alphaWindow("09:00", "09:30")),
		domain.AccountSnapshot{Cash: 100_000})

	rig.engine.halt(assert.AnError)
	err := rig.engine.Tick(context.Background(), sessionTime(9, 5, 0))
	assert.ErrorIs(t, err, ErrHalted)
}
