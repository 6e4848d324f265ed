// Package report renders end-of-day session summaries from the journal.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"daybot/internal/domain"
	"daybot/internal/store"
)

// Report is one trading day's activity, ready to render.
type Report struct {
	Summary store.DaySummary
	Fills   []domain.Fill
}

// Build assembles the report for a calendar day from the journal.
func Build(ctx context.Context, journal store.Journal, day time.Time) (Report, error) {
	summary, err := journal.DaySummary(ctx, day)
	if err != nil {
		return Report{}, fmt.Errorf("summarizing %s: %w", day.Format("2006-01-02"), err)
	}
	fills, err := journal.FillsForDay(ctx, day)
	if err != nil {
		return Report{}, fmt.Errorf("reading fills for %s: %w", day.Format("2006-01-02"), err)
	}
	return Report{Summary: summary, Fills: fills}, nil
}

// Title returns the one-line header used for notifications.
func (r Report) Title() string {
	return fmt.Sprintf("session %s: PnL %+.2f", r.Summary.Day.Format("2006-01-02"), r.Summary.RealizedPnL)
}

// String renders the report as human-readable text.
func (r Report) String() string {
	s := r.Summary
	var b strings.Builder
	fmt.Fprintf(&b, "Trading day %s\n", s.Day.Format("2006-01-02"))
	fmt.Fprintf(&b, "  orders:        %d\n", s.Orders)
	fmt.Fprintf(&b, "  fills:         %d (notional %.2f)\n", s.Fills, s.Notional)
	fmt.Fprintf(&b, "  closed trades: %d (%d won, %d lost", s.Trades, s.Wins, s.Losses)
	if s.Trades > 0 {
		fmt.Fprintf(&b, ", win rate %.0f%%", s.WinRate()*100)
	}
	b.WriteString(")\n")
	fmt.Fprintf(&b, "  realized PnL:  %+.2f\n", s.RealizedPnL)

	if len(r.Fills) > 0 {
		b.WriteString("  executions:\n")
		for _, f := range r.Fills {
			fmt.Fprintf(&b, "    %s  %-4s %5d %-6s @ %.2f\n",
				f.Timestamp.Format("15:04:05"), f.Side, f.Quantity, f.Symbol, f.Price)
		}
	}
	return b.String()
}
