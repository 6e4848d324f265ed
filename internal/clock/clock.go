// Package clock provides market-hours awareness: trading-day detection,
// phase boundaries, and idle-sleep scheduling for the engine.
package clock

import (
	"fmt"
	"time"

	"daybot/internal/config"
	"daybot/internal/domain"
)

// preOpenLead is how long before the market open the engine wakes up.
const preOpenLead = 40 * time.Minute

// MarketClock answers "what phase is it", "is this a trading day", and
// "when should the engine wake next" as pure functions of wall-clock time
// and a holiday calendar.
type MarketClock struct {
	loc         *time.Location
	open        int // minutes after midnight
	openingEnd  int
	closingPrep int
	closingExec int
	close       int
	holidays    map[string]struct{}
}

// New builds a MarketClock from the session configuration.
func New(s config.Session) (*MarketClock, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", s.Timezone, err)
	}

	mc := &MarketClock{loc: loc, holidays: make(map[string]struct{}, len(s.Holidays))}

	for dst, src := range map[*int]string{
		&mc.open:        s.MarketOpen,
		&mc.openingEnd:  s.OpeningEnd,
		&mc.closingPrep: s.ClosingPrepStart,
		&mc.closingExec: s.ClosingExecStart,
		&mc.close:       s.MarketClose,
	} {
		m, err := config.ParseMinutes(src)
		if err != nil {
			return nil, err
		}
		*dst = m
	}

	for _, h := range s.Holidays {
		mc.holidays[h] = struct{}{}
	}

	return mc, nil
}

// Location returns the market timezone.
func (mc *MarketClock) Location() *time.Location { return mc.loc }

// IsTradingDay reports whether t's date (in market time) is a trading day:
// a weekday that is not a configured holiday.
func (mc *MarketClock) IsTradingDay(t time.Time) bool {
	t = t.In(mc.loc)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := mc.holidays[t.Format("2006-01-02")]
	return !holiday
}

// PhaseAt computes the active phase for an instant of a trading day. The
// phase is derived from absolute wall time against the session boundaries:
// an instant inside today's session is never classified as "wait for
// tomorrow". Callers must check IsTradingDay first; on non-trading days the
// result is PhasePostMarket.
func (mc *MarketClock) PhaseAt(now time.Time) domain.Phase {
	if !mc.IsTradingDay(now) {
		return domain.PhasePostMarket
	}

	m := minutesOf(now.In(mc.loc))
	switch {
	case m < mc.open:
		return domain.PhasePreMarket
	case m < mc.openingEnd:
		return domain.PhaseOpening
	case m < mc.closingPrep:
		return domain.PhaseMidday
	case m < mc.closingExec:
		return domain.PhaseClosingPrep
	case m < mc.close:
		return domain.PhaseClosingExecution
	default:
		return domain.PhasePostMarket
	}
}

// InSession reports whether now is inside the trading session [open, close)
// of a trading day.
func (mc *MarketClock) InSession(now time.Time) bool {
	if !mc.IsTradingDay(now) {
		return false
	}
	m := minutesOf(now.In(mc.loc))
	return m >= mc.open && m < mc.close
}

// SessionBounds returns the open and close instants of the session on t's
// date, regardless of whether it is a trading day.
func (mc *MarketClock) SessionBounds(t time.Time) (open, close time.Time) {
	t = t.In(mc.loc)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, mc.loc)
	return midnight.Add(time.Duration(mc.open) * time.Minute),
		midnight.Add(time.Duration(mc.close) * time.Minute)
}

// NextWakeUp returns when the engine should next be active. The decision is
// made from session bounds, not from a "has the wake time passed" flag: if
// now falls on a trading day before the close, today's session still counts
// and the wake time is now (or the pre-open lead if the open is still
// ahead). Only after the close, or on a non-trading day, does the clock roll
// to the next trading day.
func (mc *MarketClock) NextWakeUp(now time.Time) time.Time {
	now = now.In(mc.loc)
	open, close := mc.SessionBounds(now)
	wake := open.Add(-preOpenLead)

	if mc.IsTradingDay(now) && now.Before(close) {
		if now.Before(wake) {
			return wake
		}
		return now
	}

	day := now.AddDate(0, 0, 1)
	for !mc.IsTradingDay(day) {
		day = day.AddDate(0, 0, 1)
	}
	open, _ = mc.SessionBounds(day)
	return open.Add(-preOpenLead)
}

// LastTradingDay returns the most recent trading day whose session has
// already closed as of now.
func (mc *MarketClock) LastTradingDay(now time.Time) time.Time {
	now = now.In(mc.loc)
	day := now
	for {
		if mc.IsTradingDay(day) {
			_, close := mc.SessionBounds(day)
			if now.After(close) || !sameDate(day, now) {
				return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, mc.loc)
			}
		}
		day = day.AddDate(0, 0, -1)
	}
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func minutesOf(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
