package maker

import (
	"fmt"
	"math"
)

// Quote is a two-sided quote expressed as bps offsets from the oracle
// price: the bid rests below the oracle, the ask above.
type Quote struct {
	BidOffsetBps float64
	AskOffsetBps float64
	BidSize      float64
	AskSize      float64
}

// ComputeQuote derives offsets from inventory. Skew widens the side that
// would grow the position and tightens the side that reduces it. The
// position ratio is not clamped: inventory beyond MaxPosition can push the
// reducing offset to zero or below, which Validate surfaces so the cycle is
// dropped instead of crossing the book.
func ComputeQuote(position float64, cfg Config) Quote {
	half := cfg.BaseSpreadBps / 2
	ratio := 0.0
	if cfg.MaxPosition != 0 {
		ratio = position / cfg.MaxPosition
	}
	skew := math.Abs(ratio) * cfg.MaxSkewBps
	quote := Quote{
		BidOffsetBps: half,
		AskOffsetBps: half,
		BidSize:      cfg.OrderSize,
		AskSize:      cfg.OrderSize,
	}
	switch {
	case position > 0:
		quote.BidOffsetBps = half + skew
		quote.AskOffsetBps = half - skew
	case position < 0:
		quote.BidOffsetBps = half - skew
		quote.AskOffsetBps = half + skew
	}
	return quote
}

func (q Quote) Validate() error {
	if q.BidOffsetBps <= 0 {
		return fmt.Errorf("bid offset %.4f bps must be > 0", q.BidOffsetBps)
	}
	if q.AskOffsetBps <= 0 {
		return fmt.Errorf("ask offset %.4f bps must be > 0", q.AskOffsetBps)
	}
	if q.BidSize <= 0 || q.AskSize <= 0 {
		return fmt.Errorf("quote sizes must be > 0, got bid %.8f ask %.8f", q.BidSize, q.AskSize)
	}
	return nil
}

func (q Quote) BidPrice(oracle float64) float64 {
	return oracle * (1 - q.BidOffsetBps/10000)
}

func (q Quote) AskPrice(oracle float64) float64 {
	return oracle * (1 + q.AskOffsetBps/10000)
}
