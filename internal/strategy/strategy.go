// Package strategy defines the Strategy interface for intraday signal
// producers and a Registry mapping configured names to factories.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"daybot/internal/config"
	"daybot/internal/domain"
	"daybot/internal/portfolio"
)

// Market is the read-only market access handed to strategies. Quotes come
// through the engine's per-tick cache, so strategies may call it freely.
type Market interface {
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)
}

// Strategy produces zero or more signals per evaluation. Evaluate is called
// once per engine tick while the strategy's configured window is active.
//
// A buy signal with Quantity 0 asks the order manager to size the position;
// a sell signal with Quantity 0 closes the whole position.
type Strategy interface {
	// Name returns the instance identifier used as the signal's StrategyID.
	Name() string

	// Evaluate inspects the market and the portfolio view and returns the
	// signals to act on this tick.
	Evaluate(ctx context.Context, market Market, view portfolio.View, now time.Time) ([]domain.Signal, error)
}

// Factory builds a strategy instance from its configuration.
type Factory func(cfg config.StrategyConfig) (Strategy, error)

// Registry maps stable strategy names to factories. Lookups happen once at
// startup when the configured strategies are instantiated.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the given name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// New instantiates the strategy named by cfg.Name. An unknown name is a
// startup configuration error.
func (r *Registry) New(cfg config.StrategyConfig) (Strategy, error) {
	f, ok := r.factories[cfg.Name]
	if !ok {
		return nil, &domain.ConfigError{Detail: fmt.Sprintf("unknown strategy %q (registered: %v)", cfg.Name, r.List())}
	}
	return f(cfg)
}

// List returns the sorted registered names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParamFloat reads a float parameter from a strategy's config, falling back
// to def when absent or malformed.
func ParamFloat(params map[string]string, key string, def float64) float64 {
	raw, ok := params[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}
