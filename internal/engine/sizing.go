package engine

import (
	"context"
	"math"

	"daybot/internal/store"
)

const (
	// minTradeHistory is how many closed trades a strategy needs before
	// its own statistics replace the default fraction.
	minTradeHistory = 5
	// kellyLookback bounds how far back the statistics reach.
	kellyLookback = 30
	// defaultFraction is used while a strategy has too little history.
	defaultFraction = 0.05
	// halfKelly damps the raw Kelly fraction; full Kelly overbets badly
	// when the win-rate estimate is noisy.
	halfKelly = 0.5
)

// Sizer converts available cash into a position size using a half-Kelly
// fraction derived from the strategy's recent closed trades.
type Sizer struct {
	journal        store.Journal
	maxPositionPct float64
	slippage       float64
}

// NewSizer builds a Sizer. maxPositionPct caps the fraction regardless of
// what the Kelly estimate says; slippage pads the per-share price the same
// way the order manager's cash check does.
func NewSizer(journal store.Journal, maxPositionPct, slippage float64) *Sizer {
	return &Sizer{journal: journal, maxPositionPct: maxPositionPct, slippage: slippage}
}

// Size returns how many shares of a symbol at the given price the strategy
// may buy. The result is capped so the padded notional fits in cash; it
// can be 0 when the fraction or the price leaves no room.
func (s *Sizer) Size(ctx context.Context, strategyID string, cash, price float64) int64 {
	if price <= 0 || cash <= 0 {
		return 0
	}
	budget := cash * s.Fraction(ctx, strategyID)
	padded := price * (1 + s.slippage)
	qty := int64(math.Floor(budget / padded))
	if maxAffordable := int64(math.Floor(cash / padded)); qty > maxAffordable {
		qty = maxAffordable
	}
	return qty
}

// Fraction returns the half-Kelly cash fraction for a strategy, clamped to
// [0, maxPositionPct]. Strategies without enough history get the default.
func (s *Sizer) Fraction(ctx context.Context, strategyID string) float64 {
	trades, err := s.journal.ClosedTrades(ctx, strategyID, kellyLookback)
	if err != nil || len(trades) < minTradeHistory {
		return s.clamp(defaultFraction)
	}

	var (
		wins, losses        int
		winTotal, lossTotal float64
	)
	for _, t := range trades {
		if t.Win() {
			wins++
			winTotal += t.PnL
		} else {
			losses++
			lossTotal += -t.PnL
		}
	}
	if wins == 0 {
		return 0
	}
	if losses == 0 || lossTotal == 0 {
		// Undefeated so far; the cap is the only sane bound.
		return s.maxPositionPct
	}

	p := float64(wins) / float64(len(trades))
	b := (winTotal / float64(wins)) / (lossTotal / float64(losses))
	f := (p*b - (1 - p)) / b
	return s.clamp(f * halfKelly)
}

func (s *Sizer) clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > s.maxPositionPct {
		return s.maxPositionPct
	}
	return f
}
