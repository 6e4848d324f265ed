// Package engine drives the trading day: the phase state machine, strategy
// dispatch inside configured windows, forced liquidation at deadlines, and
// the fill-reconciliation loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"daybot/internal/broker"
	"daybot/internal/clock"
	"daybot/internal/config"
	"daybot/internal/domain"
	"daybot/internal/notify"
	"daybot/internal/portfolio"
	"daybot/internal/report"
	"daybot/internal/store"
	"daybot/internal/strategy"
)

// ErrHalted is returned by Tick and Run once the engine has tripped on
// corruption or an error burst. Only a restart clears it.
var ErrHalted = errors.New("engine halted")

// errorBurstWindow is the span over which tick errors count toward the
// circuit breaker.
const errorBurstWindow = time.Minute

// boundStrategy pairs a strategy instance with its engine-enforced window.
// carryOvernight exempts it from the window-deadline liquidation; its
// positions survive to the next session and unwind as carryover.
type boundStrategy struct {
	impl           strategy.Strategy
	window         Window
	carryOvernight bool
}

// sessionState carries the per-day flags. A fresh value replaces it when
// the engine first ticks on a new calendar day, so nothing leaks across
// sessions.
type sessionState struct {
	day            string
	postMarketDone bool
	heartbeatsSent map[string]bool // "HH:MM" checkpoints already announced
}

func newSessionState(day string) *sessionState {
	return &sessionState{
		day:            day,
		heartbeatsSent: make(map[string]bool),
	}
}

// Engine owns the trading-day state machine. Tick is driven by Run on the
// configured interval; reconciliation runs concurrently on a shorter one.
type Engine struct {
	cfg        *config.Config
	clock      *clock.MarketClock
	broker     broker.Broker
	quotes     *broker.QuoteCache
	ledger     *portfolio.Ledger
	orders     *OrderManager
	rec        *reconciler
	journal    store.Journal
	audit      *store.AuditExporter
	notifier   notify.Notifier
	strategies []boundStrategy
	heartbeats []string // "HH:MM"

	session  *sessionState
	halted   bool
	errTimes []time.Time
	stop     chan struct{} // closed when shutdown-after-close fires
	log      *slog.Logger
}

// New wires an Engine. Strategy windows are validated here: a window that
// overlaps another, or that reaches outside the trading session, is a
// startup configuration error.
func New(
	cfg *config.Config,
	mc *clock.MarketClock,
	b broker.Broker,
	quotes *broker.QuoteCache,
	ledger *portfolio.Ledger,
	journal store.Journal,
	audit *store.AuditExporter,
	notifier notify.Notifier,
	registry *strategy.Registry,
) (*Engine, error) {
	windows := make(map[string]Window, len(cfg.Strategies))
	var bound []boundStrategy
	for _, sc := range cfg.Strategies {
		w, err := windowOf(sc)
		if err != nil {
			return nil, err
		}
		for name, other := range windows {
			if w.Overlaps(other) {
				return nil, &domain.ConfigError{
					Detail: fmt.Sprintf("strategy windows overlap: %s and %s", sc.Name, name),
				}
			}
		}
		windows[sc.Name] = w

		impl, err := registry.New(sc)
		if err != nil {
			return nil, err
		}
		bound = append(bound, boundStrategy{
			impl:           impl,
			window:         w,
			carryOvernight: sc.Params["carry_overnight"] == "true",
		})
	}

	sizer := NewSizer(journal, cfg.Trading.MaxPositionPct, cfg.Trading.SlippageBuffer)
	orders := NewOrderManager(b, ledger, journal, sizer, notifier, cfg.Trading.SlippageBuffer, windows)
	rec := newReconciler(b, ledger, journal, notifier,
		cfg.Trading.PendingTimeout.Std(), cfg.Trading.AutoCancelStale)

	return &Engine{
		cfg:        cfg,
		clock:      mc,
		broker:     b,
		quotes:     quotes,
		ledger:     ledger,
		orders:     orders,
		rec:        rec,
		journal:    journal,
		audit:      audit,
		notifier:   notifier,
		strategies: bound,
		heartbeats: cfg.Notify.HeartbeatTimes,
		session:    newSessionState(""),
		stop:       make(chan struct{}),
		log:        slog.Default().With("component", "engine"),
	}, nil
}

func windowOf(sc config.StrategyConfig) (Window, error) {
	start, err := config.ParseMinutes(sc.WindowStart)
	if err != nil {
		return Window{}, &domain.ConfigError{Detail: fmt.Sprintf("strategy %s window_start: %v", sc.Name, err)}
	}
	end, err := config.ParseMinutes(sc.WindowEnd)
	if err != nil {
		return Window{}, &domain.ConfigError{Detail: fmt.Sprintf("strategy %s window_end: %v", sc.Name, err)}
	}
	if start >= end {
		return Window{}, &domain.ConfigError{Detail: fmt.Sprintf("strategy %s window is empty", sc.Name)}
	}
	return Window{Start: start, End: end}, nil
}

// ---------------------------------------------------------------------------
// Tick
// ---------------------------------------------------------------------------

// Tick advances the state machine for one instant. It is idempotent: the
// same now with no intervening fills produces no new orders. The phase
// always comes from absolute wall time against the session bounds — never
// from a "wake time passed" shortcut, which is how whole days get skipped.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	if e.halted {
		return ErrHalted
	}
	now = now.In(e.clock.Location())
	e.ensureSession(now)

	if !e.clock.IsTradingDay(now) {
		return nil
	}

	phase := e.clock.PhaseAt(now)
	switch phase {
	case domain.PhasePreMarket:
		// Before the session: wait, accumulate nothing.
		return nil
	case domain.PhasePostMarket:
		return e.postMarket(ctx, now)
	}

	// In session. Each tick sees one consistent price per symbol.
	if e.quotes != nil {
		e.quotes.Invalidate()
	}
	e.sendHeartbeats(now)

	// Liquidation is re-derived from the positions still held, never from
	// a consumed flag: a sell that failed to submit is re-attempted every
	// tick until the position is gone. The in-flight order check keeps the
	// retries from duplicating a sell the broker already has.
	e.liquidateCarryover(ctx, now)

	for i := range e.strategies {
		bs := &e.strategies[i]
		name := bs.impl.Name()

		if !bs.carryOvernight && e.liquidationDue(bs.window, now) {
			e.liquidateStrategy(ctx, name, now)
			// No new entries once the window is closing.
			continue
		}
		if !bs.window.Contains(now) {
			continue
		}
		e.evaluate(ctx, bs.impl, now)
	}
	return nil
}

// ensureSession swaps in fresh per-day flags on the first tick of a new
// calendar day.
func (e *Engine) ensureSession(now time.Time) {
	day := now.Format("2006-01-02")
	if day != e.session.day {
		e.session = newSessionState(day)
	}
}

// liquidationDue reports whether now is the last tick of a window (or the
// window already ended): time to flatten that strategy's positions.
func (e *Engine) liquidationDue(w Window, now time.Time) bool {
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
		Add(time.Duration(w.End) * time.Minute)
	return !now.Before(end.Add(-e.cfg.Trading.TickInterval.Std()))
}

// liquidateCarryover flattens positions carried in overnight before any
// strategy acts. They were tagged at snapshot time; today's session starts
// from cash.
func (e *Engine) liquidateCarryover(ctx context.Context, now time.Time) {
	for _, pos := range e.ledger.Positions() {
		if pos.StrategyID != domain.CarryoverStrategyID {
			continue
		}
		e.submitLiquidation(ctx, pos, "market-open liquidation of carryover position", now)
	}
}

// liquidateStrategy flattens every position owned by a strategy at its
// window deadline. These sells go out before any strategy-generated signal
// in the same tick.
func (e *Engine) liquidateStrategy(ctx context.Context, strategyID string, now time.Time) {
	for _, pos := range e.ledger.Positions() {
		if pos.StrategyID != strategyID {
			continue
		}
		e.submitLiquidation(ctx, pos, "window-deadline liquidation", now)
	}
}

func (e *Engine) submitLiquidation(ctx context.Context, pos domain.Position, reason string, now time.Time) {
	if e.ledger.HasOpenOrder(pos.StrategyID, pos.Symbol) {
		// A sell for these shares is already with the broker.
		return
	}
	sig := domain.Signal{
		StrategyID: pos.StrategyID,
		Symbol:     pos.Symbol,
		Side:       domain.SideSell,
		Quantity:   pos.Quantity,
		OrderType:  domain.OrderTypeMarket,
		Reason:     reason,
	}
	if _, err := e.orders.SubmitLiquidation(ctx, sig, now); err != nil {
		e.log.Warn("liquidation rejected", "symbol", pos.Symbol, "strategy", pos.StrategyID, "error", err)
	}
}

// evaluate runs one strategy with panic and error isolation: a broken
// strategy loses its turn, not the whole tick loop.
func (e *Engine) evaluate(ctx context.Context, s strategy.Strategy, now time.Time) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("strategy panicked", "strategy", s.Name(), "panic", p)
			e.notifier.Notify(notify.SeverityError, "strategy panicked",
				fmt.Sprintf("%s: %v", s.Name(), p))
		}
	}()

	signals, err := s.Evaluate(ctx, e.broker, e.ledger, now)
	if err != nil {
		e.log.Error("strategy failed", "strategy", s.Name(), "error", err)
		e.notifier.Notify(notify.SeverityError, "strategy failed",
			fmt.Sprintf("%s: %v", s.Name(), err))
		return
	}
	for _, sig := range signals {
		// Rejections were already logged and notified by the manager.
		_, _ = e.orders.Submit(ctx, sig, now)
	}
}

// postMarket runs the end-of-day pipeline once: audit export, summary
// notification, optional shutdown.
func (e *Engine) postMarket(ctx context.Context, now time.Time) error {
	if e.session.postMarketDone {
		return nil
	}
	e.session.postMarketDone = true

	rep, err := report.Build(ctx, e.journal, now)
	if err != nil {
		e.log.Error("day report failed", "error", err)
	} else {
		e.notifier.Notify(notify.SeverityInfo, rep.Title(), rep.String())
		if e.audit != nil {
			if path, err := e.audit.ExportFills(now, rep.Fills); err != nil {
				e.log.Error("audit export failed", "error", err)
			} else if path != "" {
				e.log.Info("audit exported", "path", path, "fills", len(rep.Fills))
			}
		}
	}

	if e.cfg.Trading.ShutdownAfterClose {
		select {
		case <-e.stop:
		default:
			close(e.stop)
		}
	}
	return nil
}

// sendHeartbeats announces configured checkpoints once each per day.
func (e *Engine) sendHeartbeats(now time.Time) {
	hhmm := now.Format("15:04")
	for _, at := range e.heartbeats {
		if e.session.heartbeatsSent[at] || hhmm < at {
			continue
		}
		e.session.heartbeatsSent[at] = true
		e.notifier.Notify(notify.SeverityInfo, "heartbeat "+at, fmt.Sprintf(
			"cash %.2f, positions %d, open orders %d",
			e.ledger.Cash(), len(e.ledger.Positions()), len(e.ledger.OpenOrders())))
	}
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

// Run drives Tick on the configured interval and the reconciler on its
// shorter one, until ctx is cancelled, the post-market shutdown fires, or
// the engine halts. A stop request lets the current tick finish; in-flight
// broker calls are not hard-cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine starting",
		"tick", e.cfg.Trading.TickInterval.Std(),
		"reconcile", e.cfg.Trading.ReconcileInterval.Std(),
		"strategies", len(e.strategies),
	)

	recDone := make(chan error, 1)
	recCtx, cancelRec := context.WithCancel(context.Background())
	defer cancelRec()
	go e.runReconciler(recCtx, recDone)

	ticker := time.NewTicker(e.cfg.Trading.TickInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopping", "reason", ctx.Err())
			cancelRec()
			<-recDone
			return nil
		case <-e.stop:
			e.log.Info("engine stopping after close")
			cancelRec()
			<-recDone
			return nil
		case err := <-recDone:
			return e.halt(err)
		case now := <-ticker.C:
			if err := e.Tick(ctx, now); err != nil {
				if e.recordError(now, err) {
					cancelRec()
					<-recDone
					return e.halt(err)
				}
			}
		}
	}
}

func (e *Engine) runReconciler(ctx context.Context, done chan<- error) {
	ticker := time.NewTicker(e.cfg.Trading.ReconcileInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			done <- nil
			return
		case now := <-ticker.C:
			if err := e.rec.reconcile(ctx, now); err != nil {
				// Only corruption escapes reconcile; it must halt trading.
				done <- err
				return
			}
		}
	}
}

// recordError counts tick errors toward the burst breaker and reports
// whether the threshold tripped. Corruption trips immediately.
func (e *Engine) recordError(now time.Time, err error) bool {
	e.log.Error("tick failed", "error", err)

	var corrupt *domain.CorruptionError
	if errors.As(err, &corrupt) {
		return true
	}
	limit := e.cfg.Trading.ErrorBurstLimit
	if limit <= 0 {
		return false
	}

	cutoff := now.Add(-errorBurstWindow)
	kept := e.errTimes[:0]
	for _, t := range e.errTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.errTimes = append(kept, now)
	return len(e.errTimes) >= limit
}

// halt marks the engine unusable and fires the highest-severity alert.
func (e *Engine) halt(err error) error {
	if err == nil {
		return nil
	}
	e.halted = true
	e.log.Error("engine halted", "error", err)
	e.notifier.Notify(notify.SeverityCritical, "trading halted", err.Error())
	return fmt.Errorf("%w: %v", ErrHalted, err)
}
