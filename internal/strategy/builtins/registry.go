// Package builtins provides the built-in intraday strategies.
package builtins

import (
	"daybot/internal/config"
	"daybot/internal/strategy"
)

// DefaultRegistry returns a Registry with every built-in strategy
// registered under its canonical name.
func DefaultRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register("opening-breakout", func(cfg config.StrategyConfig) (strategy.Strategy, error) {
		return NewOpeningBreakout(cfg), nil
	})
	r.Register("volume-spike", func(cfg config.StrategyConfig) (strategy.Strategy, error) {
		return NewVolumeSpike(cfg), nil
	})
	r.Register("closing-price", func(cfg config.StrategyConfig) (strategy.Strategy, error) {
		return NewClosingPrice(cfg), nil
	})
	return r
}
