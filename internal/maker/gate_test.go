package maker

import (
	"testing"
	"time"
)

func TestGateAcceptsFirstTick(t *testing.T) {
	gate := NewGate(500*time.Millisecond, 5)
	now := time.Now()
	decision := gate.Admit(100, 0, time.Time{}, now)
	if !decision.Accept {
		t.Fatalf("expected first tick accepted, got %q", decision.Reason)
	}
}

func TestGateRejectsNonPositivePrice(t *testing.T) {
	gate := NewGate(500*time.Millisecond, 5)
	now := time.Now()
	for _, price := range []float64{0, -1} {
		decision := gate.Admit(price, 0, time.Time{}, now)
		if decision.Accept {
			t.Fatalf("expected price %v rejected", price)
		}
		if decision.Reason != ReasonNonPositive {
			t.Fatalf("expected reason %q, got %q", ReasonNonPositive, decision.Reason)
		}
	}
}

func TestGateRejectsPriceCollapse(t *testing.T) {
	gate := NewGate(500*time.Millisecond, 5)
	now := time.Now()
	decision := gate.Admit(0.5, 100, now.Add(-time.Second), now)
	if decision.Accept {
		t.Fatalf("expected >99%% drop rejected")
	}
	if decision.Reason != ReasonCollapse {
		t.Fatalf("expected reason %q, got %q", ReasonCollapse, decision.Reason)
	}
}

func TestGateAcceptsLargeLegitimateDrop(t *testing.T) {
	gate := NewGate(500*time.Millisecond, 5)
	now := time.Now()
	// 98% drop is extreme but above the collapse cutoff.
	decision := gate.Admit(2, 100, now.Add(-time.Second), now)
	if !decision.Accept {
		t.Fatalf("expected drop accepted, got %q", decision.Reason)
	}
}

func TestGateDebouncesRapidTicks(t *testing.T) {
	gate := NewGate(500*time.Millisecond, 5)
	now := time.Now()
	decision := gate.Admit(101, 100, now.Add(-100*time.Millisecond), now)
	if decision.Accept {
		t.Fatalf("expected tick inside debounce window rejected")
	}
	if decision.Reason != ReasonDebounced {
		t.Fatalf("expected reason %q, got %q", ReasonDebounced, decision.Reason)
	}
}

func TestGateRejectsSmallChange(t *testing.T) {
	gate := NewGate(500*time.Millisecond, 5)
	now := time.Now()
	// 1 bps move against a 5 bps threshold.
	decision := gate.Admit(100.01, 100, now.Add(-time.Second), now)
	if decision.Accept {
		t.Fatalf("expected sub-threshold change rejected")
	}
	if decision.Reason != ReasonBelowThreshold {
		t.Fatalf("expected reason %q, got %q", ReasonBelowThreshold, decision.Reason)
	}
}

func TestGateAcceptsSignificantChange(t *testing.T) {
	gate := NewGate(500*time.Millisecond, 5)
	now := time.Now()
	decision := gate.Admit(100.1, 100, now.Add(-time.Second), now)
	if !decision.Accept {
		t.Fatalf("expected 10 bps change accepted, got %q", decision.Reason)
	}
}

func TestGateZeroThresholdAcceptsAnyChange(t *testing.T) {
	gate := NewGate(0, 0)
	now := time.Now()
	decision := gate.Admit(100.0001, 100, now, now)
	if !decision.Accept {
		t.Fatalf("expected tick accepted with zero threshold, got %q", decision.Reason)
	}
}
