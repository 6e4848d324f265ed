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
var _ strategy.Strategy = (*OpeningBreakout)(nil)

// OpeningBreakout buys symbols that gapped up from the previous close with
// meaningful early volume, then exits on a take-profit or stop-loss. One
// entry per symbol per day.
//
// Params: gap_min (fraction over previous close, default 0.01), min_volume
// (default 100000), take_profit (default 0.015), stop_loss (default 0.01).
type OpeningBreakout struct {
	name       string
	symbols    []string
	gapMin     float64
	minVolume  int64
	takeProfit float64
	stopLoss   float64

	day      string
	signaled map[string]bool
}

// NewOpeningBreakout builds the strategy from its configuration.
func NewOpeningBreakout(cfg config.StrategyConfig) *OpeningBreakout {
	return &OpeningBreakout{
		name:       cfg.Name,
		symbols:    cfg.Symbols,
		gapMin:     strategy.ParamFloat(cfg.Params, "gap_min", 0.01),
		minVolume:  int64(strategy.ParamFloat(cfg.Params, "min_volume", 100_000)),
		takeProfit: strategy.ParamFloat(cfg.Params, "take_profit", 0.015),
		stopLoss:   strategy.ParamFloat(cfg.Params, "stop_loss", 0.01),
		signaled:   make(map[string]bool),
	}
}

// Name returns the configured instance name.
func (s *OpeningBreakout) Name() string { return s.name }

// Evaluate emits entries for fresh gap-ups and exits for held positions.
func (s *OpeningBreakout) Evaluate(ctx context.Context, market strategy.Market, view portfolio.View, now time.Time) ([]domain.Signal, error) {
	s.resetDay(now)

	var signals []domain.Signal
	for _, symbol := range s.symbols {
		q, err := market.GetQuote(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("quoting %s: %w", symbol, err)
		}

		// A held symbol is off limits for entries even when another
		// strategy owns it; exits only apply to our own shares.
		if pos, ok := view.Position(symbol); ok {
			if pos.StrategyID == s.name {
				if sig, exit := exitSignal(s.name, pos, q.Price, s.takeProfit, s.stopLoss); exit {
					signals = append(signals, sig)
				}
			}
			continue
		}

		if s.signaled[symbol] || q.PrevClose <= 0 {
			continue
		}
		gap := q.Price/q.PrevClose - 1
		if gap >= s.gapMin && q.DayVolume >= s.minVolume {
			signals = append(signals, domain.Signal{
				StrategyID: s.name,
				Symbol:     symbol,
				Side:       domain.SideBuy,
				OrderType:  domain.OrderTypeMarket,
				Reason:     fmt.Sprintf("gap up %.2f%% on volume %d", gap*100, q.DayVolume),
			})
			s.signaled[symbol] = true
		}
	}
	return signals, nil
}

func (s *OpeningBreakout) resetDay(now time.Time) {
	day := now.Format("2006-01-02")
	if day != s.day {
		s.day = day
		s.signaled = make(map[string]bool)
	}
}

// exitSignal returns a full-position sell when price has crossed the
// take-profit or stop-loss bound relative to average cost.
func exitSignal(strategyID string, pos domain.Position, price, takeProfit, stopLoss float64) (domain.Signal, bool) {
	if pos.AvgCost <= 0 {
		return domain.Signal{}, false
	}
	ret := price/pos.AvgCost - 1
	var reason string
	switch {
	case ret >= takeProfit:
		reason = fmt.Sprintf("take profit %.2f%%", ret*100)
	case ret <= -stopLoss:
		reason = fmt.Sprintf("stop loss %.2f%%", ret*100)
	default:
		return domain.Signal{}, false
	}
	return domain.Signal{
		StrategyID: strategyID,
		Symbol:     pos.Symbol,
		Side:       domain.SideSell,
		OrderType:  domain.OrderTypeMarket,
		Reason:     reason,
	}, true
}
