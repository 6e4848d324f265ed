package builtins

import (
	"context"
	"fmt"
	"time"

	"daybot/internal/config"
	"daybot/internal/domain"
	"daybot/internal/portfolio"
	"daybot/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*ClosingPrice)(nil)

// ClosingPrice buys into the close when a symbol trades at a discount to
// its previous close. It never exits: its positions carry overnight and
// the next session's open liquidation unwinds them.
//
// Params: dip (fraction below previous close, default 0.005).
type ClosingPrice struct {
	name    string
	symbols []string
	dip     float64

	day      string
	signaled map[string]bool
}

// NewClosingPrice builds the strategy from its configuration.
func NewClosingPrice(cfg config.StrategyConfig) *ClosingPrice {
	return &ClosingPrice{
		name:     cfg.Name,
		symbols:  cfg.Symbols,
		dip:      strategy.ParamFloat(cfg.Params, "dip", 0.005),
		signaled: make(map[string]bool),
	}
}

// Name returns the configured instance name.
func (s *ClosingPrice) Name() string { return s.name }

// Evaluate emits end-of-day entries on dips below the previous close.
func (s *ClosingPrice) Evaluate(ctx context.Context, market strategy.Market, view portfolio.View, now time.Time) ([]domain.Signal, error) {
	s.resetDay(now)

	var signals []domain.Signal
	for _, symbol := range s.symbols {
		if s.signaled[symbol] {
			continue
		}
		if _, ok := view.Position(symbol); ok {
			continue
		}

		q, err := market.GetQuote(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("quoting %s: %w", symbol, err)
		}
		if q.PrevClose <= 0 {
			continue
		}

		dip := 1 - q.Price/q.PrevClose
		if dip >= s.dip {
			signals = append(signals, domain.Signal{
				StrategyID: s.name,
				Symbol:     symbol,
				Side:       domain.SideBuy,
				OrderType:  domain.OrderTypeMarket,
				Reason:     fmt.Sprintf("closing dip %.2f%% below previous close", dip*100),
			})
			s.signaled[symbol] = true
		}
	}
	return signals, nil
}

func (s *ClosingPrice) resetDay(now time.Time) {
	day := now.Format("2006-01-02")
	if day != s.day {
		s.day = day
		s.signaled = make(map[string]bool)
	}
}
