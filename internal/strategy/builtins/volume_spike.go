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
var _ strategy.Strategy = (*VolumeSpike)(nil)

// minVolumeObservations is how many volume deltas must accumulate before
// the spike baseline means anything.
const minVolumeObservations = 3

// VolumeSpike watches the per-tick increase in cumulative session volume
// and buys when one tick's increase dwarfs the recent baseline while the
// price trades above the previous close. Exits on take-profit/stop-loss.
//
// Params: multiplier (spike vs baseline, default 3), take_profit (default
// 0.01), stop_loss (default 0.008).
type VolumeSpike struct {
	name       string
	symbols    []string
	multiplier float64
	takeProfit float64
	stopLoss   float64

	day      string
	signaled map[string]bool
	lastVol  map[string]int64
	deltas   map[string][]int64
}

// NewVolumeSpike builds the strategy from its configuration.
func NewVolumeSpike(cfg config.StrategyConfig) *VolumeSpike {
	return &VolumeSpike{
		name:       cfg.Name,
		symbols:    cfg.Symbols,
		multiplier: strategy.ParamFloat(cfg.Params, "multiplier", 3),
		takeProfit: strategy.ParamFloat(cfg.Params, "take_profit", 0.01),
		stopLoss:   strategy.ParamFloat(cfg.Params, "stop_loss", 0.008),
		signaled:   make(map[string]bool),
		lastVol:    make(map[string]int64),
		deltas:     make(map[string][]int64),
	}
}

// Name returns the configured instance name.
func (s *VolumeSpike) Name() string { return s.name }

// Evaluate emits entries on volume surges and exits for held positions.
func (s *VolumeSpike) Evaluate(ctx context.Context, market strategy.Market, view portfolio.View, now time.Time) ([]domain.Signal, error) {
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

		spike := s.observe(symbol, q.DayVolume)
		if s.signaled[symbol] || !spike {
			continue
		}
		if q.PrevClose > 0 && q.Price > q.PrevClose {
			signals = append(signals, domain.Signal{
				StrategyID: s.name,
				Symbol:     symbol,
				Side:       domain.SideBuy,
				OrderType:  domain.OrderTypeMarket,
				Reason:     fmt.Sprintf("volume spike at %d shares", q.DayVolume),
			})
			s.signaled[symbol] = true
		}
	}
	return signals, nil
}

// observe folds the latest cumulative volume into the per-symbol baseline
// and reports whether this tick's increase is a spike.
func (s *VolumeSpike) observe(symbol string, dayVolume int64) bool {
	last, seen := s.lastVol[symbol]
	s.lastVol[symbol] = dayVolume
	if !seen || dayVolume <= last {
		return false
	}
	delta := dayVolume - last

	history := s.deltas[symbol]
	defer func() { s.deltas[symbol] = append(history, delta) }()

	if len(history) < minVolumeObservations {
		return false
	}
	var sum int64
	for _, d := range history {
		sum += d
	}
	baseline := float64(sum) / float64(len(history))
	return baseline > 0 && float64(delta) >= s.multiplier*baseline
}

func (s *VolumeSpike) resetDay(now time.Time) {
	day := now.Format("2006-01-02")
	if day != s.day {
		s.day = day
		s.signaled = make(map[string]bool)
		s.lastVol = make(map[string]int64)
		s.deltas = make(map[string][]int64)
	}
}
