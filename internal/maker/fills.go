package maker

import (
	"errors"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Lots below this remaining size are considered fully consumed.
const matchEpsilon = 1e-6

var (
	errFillMissingAmounts = errors.New("fill event missing base and quote amounts")
	errFillMissingBase    = errors.New("fill event missing base amount")
)

// Classify decides whether a raw order action is a fill for our account on
// the given market. The bool reports ownership; events that are ours but
// cannot be sized return an error. Direction follows the matching party's
// dir string: "long" buys, anything else sells.
func Classify(raw RawFill, market, account string) (Fill, bool, error) {
	if raw.Action != "" && !strings.EqualFold(raw.Action, "fill") {
		return Fill{}, false, nil
	}
	if !strings.EqualFold(raw.Market, market) {
		return Fill{}, false, nil
	}
	var dir string
	switch {
	case account != "" && strings.EqualFold(raw.Maker, account):
		dir = raw.MakerDir
	case account != "" && strings.EqualFold(raw.Taker, account):
		dir = raw.TakerDir
	default:
		return Fill{}, false, nil
	}
	if raw.BaseAmount <= 0 && raw.QuoteAmount <= 0 {
		return Fill{}, true, errFillMissingAmounts
	}
	if raw.BaseAmount <= 0 {
		return Fill{}, true, errFillMissingBase
	}
	side := SideSell
	if strings.EqualFold(dir, "long") {
		side = SideBuy
	}
	return Fill{
		Side:  side,
		Size:  raw.BaseAmount,
		Price: raw.QuoteAmount / raw.BaseAmount,
		Time:  raw.Time,
	}, true, nil
}

type fillLot struct {
	size  float64
	price float64
}

// TrackerStats is a point-in-time snapshot of the tracker.
type TrackerStats struct {
	RealizedPnl  float64
	TotalMatches uint64
	OpenBuys     int
	OpenSells    int
}

// FillTracker matches buys against sells in FIFO order and accumulates
// realized P&L for the session. Nothing is persisted; a restart starts the
// count from zero.
type FillTracker struct {
	log *zap.Logger

	mu       sync.Mutex
	buys     []fillLot
	sells    []fillLot
	realized float64
	matches  uint64
}

func NewFillTracker(log *zap.Logger) *FillTracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &FillTracker{log: log}
}

// Record appends the fill to its side's queue and drains any matches.
func (t *FillTracker) Record(fill Fill) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lot := fillLot{size: fill.Size, price: fill.Price}
	if fill.Side == SideBuy {
		t.buys = append(t.buys, lot)
	} else {
		t.sells = append(t.sells, lot)
	}
	t.drain()
}

// drain matches queue heads until one side empties. Each iteration matches
// min(heads), books (sellPx - buyPx) * matched and pops heads consumed down
// to the epsilon. Caller holds the lock.
func (t *FillTracker) drain() {
	for len(t.buys) > 0 && len(t.sells) > 0 {
		buy := &t.buys[0]
		sell := &t.sells[0]
		matched := math.Min(buy.size, sell.size)
		pnl := (sell.price - buy.price) * matched
		t.realized += pnl
		t.matches++
		buy.size -= matched
		sell.size -= matched
		t.log.Debug("fifo match",
			zap.Float64("size", matched),
			zap.Float64("buy_price", buy.price),
			zap.Float64("sell_price", sell.price),
			zap.Float64("pnl", pnl))
		if buy.size <= matchEpsilon {
			t.buys = t.buys[1:]
		}
		if sell.size <= matchEpsilon {
			t.sells = t.sells[1:]
		}
	}
}

func (t *FillTracker) RealizedPnl() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.realized
}

func (t *FillTracker) TotalMatches() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.matches
}

func (t *FillTracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TrackerStats{
		RealizedPnl:  t.realized,
		TotalMatches: t.matches,
		OpenBuys:     len(t.buys),
		OpenSells:    len(t.sells),
	}
}

// openLots returns copies of the queues for tests and status reporting.
func (t *FillTracker) openLots() ([]fillLot, []fillLot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	buys := make([]fillLot, len(t.buys))
	copy(buys, t.buys)
	sells := make([]fillLot, len(t.sells))
	copy(sells, t.sells)
	return buys, sells
}
