package maker

import (
	"math"
	"time"
)

const (
	// A tick below 1% of the previous price is treated as a corrupt feed
	// value rather than a market move.
	collapseRatio = 0.01
)

// Gate filters oracle ticks before they reach the quoting cycle. It holds
// only configuration; the caller owns the last accepted price and the time
// of the last accepted update and passes both in.
type Gate struct {
	debounce     time.Duration
	thresholdBps float64
}

func NewGate(debounce time.Duration, thresholdBps float64) *Gate {
	return &Gate{debounce: debounce, thresholdBps: thresholdBps}
}

// Decision reports whether a tick was admitted. Reason is set on rejection.
type Decision struct {
	Accept bool
	Reason string
}

const (
	ReasonNonPositive    = "non-positive price"
	ReasonCollapse       = "price collapse"
	ReasonDebounced      = "debounced"
	ReasonBelowThreshold = "below change threshold"
)

// Admit checks a proposed price against the previous accepted price and the
// time of the last accepted update. prevPrice == 0 and a zero lastUpdate
// mean nothing has been accepted yet; only the positivity rule applies then.
func (g *Gate) Admit(price, prevPrice float64, lastUpdate, now time.Time) Decision {
	if price <= 0 {
		return Decision{Reason: ReasonNonPositive}
	}
	if prevPrice > 0 && price < prevPrice*collapseRatio {
		return Decision{Reason: ReasonCollapse}
	}
	if !lastUpdate.IsZero() && now.Sub(lastUpdate) < g.debounce {
		return Decision{Reason: ReasonDebounced}
	}
	if prevPrice > 0 {
		changeBps := math.Abs(price-prevPrice) / prevPrice * 10000
		if changeBps < g.thresholdBps {
			return Decision{Reason: ReasonBelowThreshold}
		}
	}
	return Decision{Accept: true}
}
