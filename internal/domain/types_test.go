package domain

import (
	"errors"
	"testing"
)

func TestPhaseOrdering(t *testing.T) {
	ordered := []Phase{
		PhasePreMarket,
		PhaseOpening,
		PhaseMidday,
		PhaseClosingPrep,
		PhaseClosingExecution,
		PhasePostMarket,
	}
	for i := 0; i < len(ordered)-1; i++ {
		if !ordered[i].Before(ordered[i+1]) {
			t.Errorf("%s should sort before %s", ordered[i], ordered[i+1])
		}
		if ordered[i+1].Before(ordered[i]) {
			t.Errorf("%s should not sort before %s", ordered[i+1], ordered[i])
		}
	}
	if PhaseHalted.Before(PhasePostMarket) {
		t.Error("halted must sort after every regular phase")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []OrderStatus{OrderStatusPending, OrderStatusPartiallyFilled}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTransientAndPermanentWrapping(t *testing.T) {
	base := errors.New("connection reset")

	te := Transient(base)
	if !IsTransient(te) {
		t.Error("Transient(err) should satisfy IsTransient")
	}
	if IsPermanent(te) {
		t.Error("Transient(err) should not satisfy IsPermanent")
	}
	if !errors.Is(te, base) {
		t.Error("wrapped transient error should unwrap to the base error")
	}

	pe := Permanent(base)
	if !IsPermanent(pe) {
		t.Error("Permanent(err) should satisfy IsPermanent")
	}
	if IsTransient(pe) {
		t.Error("Permanent(err) should not satisfy IsTransient")
	}

	if Transient(nil) != nil || Permanent(nil) != nil {
		t.Error("wrapping nil should return nil")
	}
}
