package exec

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"hl-oracle-maker/internal/hl/exchange"
	"hl-oracle-maker/internal/maker"
	"hl-oracle-maker/internal/market"
	"hl-oracle-maker/internal/state"

	"go.uber.org/zap"
)

const cloidSeqKey = "exec:cloid_seq"

// Exchange posts signed actions to the venue.
type Exchange interface {
	PlaceOrders(ctx context.Context, orders []exchange.OrderWire) (map[string]any, error)
	CancelOrders(ctx context.Context, asset int, orderIDs []int64) (map[string]any, error)
}

// Markets resolves coins to asset metadata and reference prices.
type Markets interface {
	RefreshContexts(ctx context.Context) error
	Context(coin string) (market.PerpContext, bool)
	OraclePrice(ctx context.Context) (float64, error)
}

// OrderLister reports resting order ids, covering strays placed before a
// restart that the gateway never tracked.
type OrderLister interface {
	OpenOrderIDs(ctx context.Context, market string) ([]int64, error)
}

// Gateway turns order specs into signed venue actions. Placements are not
// retried; a failed quote pair is simply replaced on the next cycle.
type Gateway struct {
	exchange    Exchange
	markets     Markets
	lister      OrderLister
	store       state.Store
	log         *zap.Logger
	slippageBps float64

	cloidSeq    atomic.Uint64
	persistWarn atomic.Bool
	mu          sync.Mutex
	tracked     []int64
}

func New(ex Exchange, markets Markets, lister OrderLister, store state.Store, slippageBps float64, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{
		exchange:    ex,
		markets:     markets,
		lister:      lister,
		store:       store,
		log:         log,
		slippageBps: slippageBps,
	}
	g.seedCloidSeq()
	return g
}

// seedCloidSeq continues the persisted client order id sequence so ids from
// a previous run are never reused.
func (g *Gateway) seedCloidSeq() {
	if g.store == nil {
		return
	}
	raw, ok, err := g.store.Get(context.Background(), cloidSeqKey)
	if err != nil {
		g.log.Warn("cloid sequence read failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	seq, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		g.log.Warn("invalid persisted cloid sequence", zap.String("value", raw))
		return
	}
	g.cloidSeq.Store(seq)
}

func (g *Gateway) nextCloid() string {
	seq := g.cloidSeq.Add(1)
	if g.store != nil {
		if err := g.store.Set(context.Background(), cloidSeqKey, strconv.FormatUint(seq, 10)); err != nil {
			if g.persistWarn.CompareAndSwap(false, true) {
				g.log.Warn("cloid sequence persistence failed", zap.Error(err))
			}
		}
	}
	return fmt.Sprintf("0x%032x", seq)
}

// Place submits one order. Limit orders carry the spec price; market orders
// get an aggressive IOC limit at the reference price widened by the
// configured slippage bound.
func (g *Gateway) Place(ctx context.Context, spec maker.OrderSpec) error {
	perp, err := g.resolve(ctx, spec.Market)
	if err != nil {
		return err
	}
	price := spec.Price
	tif := exchange.TifGtc
	switch {
	case spec.Type == maker.OrderTypeMarket:
		tif = exchange.TifIoc
		ref := spec.Price
		if ref <= 0 {
			ref, err = g.markets.OraclePrice(ctx)
			if err != nil {
				return fmt.Errorf("reference price: %w", err)
			}
		}
		slip := g.slippageBps / 10000
		if spec.Side == maker.SideBuy {
			price = ref * (1 + slip)
		} else {
			price = ref * (1 - slip)
		}
	case spec.PostOnly:
		tif = exchange.TifAlo
	}
	price = normalizePrice(price, perp.SzDecimals)
	size := normalizeSize(spec.Size, perp.SzDecimals)
	if price <= 0 {
		return fmt.Errorf("price %f normalizes to zero", spec.Price)
	}
	if size <= 0 {
		return fmt.Errorf("size %f rounds below the lot size", spec.Size)
	}
	wire, err := exchange.LimitOrderWire(perp.Index, spec.Side == maker.SideBuy, size, price, spec.ReduceOnly, tif, g.nextCloid())
	if err != nil {
		return err
	}
	resp, err := g.exchange.PlaceOrders(ctx, []exchange.OrderWire{wire})
	if err != nil {
		return err
	}
	if err := exchange.ResponseError(resp); err != nil {
		return err
	}
	g.track(exchange.OrderIDsFromResponse(resp))
	return nil
}

// CancelAll cancels the tracked orders plus anything the venue still lists
// for the market, in one batch.
func (g *Gateway) CancelAll(ctx context.Context, coin string) error {
	perp, err := g.resolve(ctx, coin)
	if err != nil {
		return err
	}
	g.mu.Lock()
	ids := append([]int64(nil), g.tracked...)
	g.mu.Unlock()
	if g.lister != nil {
		listed, err := g.lister.OpenOrderIDs(ctx, coin)
		if err != nil {
			return fmt.Errorf("list open orders: %w", err)
		}
		ids = mergeIDs(ids, listed)
	}
	if len(ids) == 0 {
		g.clearTracked()
		return nil
	}
	resp, err := g.exchange.CancelOrders(ctx, perp.Index, ids)
	if err != nil {
		return err
	}
	if err := exchange.ResponseError(resp); err != nil && !benignCancelError(err) {
		return err
	}
	g.clearTracked()
	return nil
}

func (g *Gateway) resolve(ctx context.Context, coin string) (market.PerpContext, error) {
	if err := g.markets.RefreshContexts(ctx); err != nil {
		return market.PerpContext{}, err
	}
	perp, ok := g.markets.Context(coin)
	if !ok {
		return market.PerpContext{}, fmt.Errorf("unknown market %q", coin)
	}
	return perp, nil
}

func (g *Gateway) track(ids []int64) {
	if len(ids) == 0 {
		return
	}
	g.mu.Lock()
	g.tracked = append(g.tracked, ids...)
	g.mu.Unlock()
}

func (g *Gateway) clearTracked() {
	g.mu.Lock()
	g.tracked = nil
	g.mu.Unlock()
}

// TrackedOrders returns the order ids the gateway believes are resting.
func (g *Gateway) TrackedOrders() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.tracked...)
}

func mergeIDs(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	merged := make([]int64, 0, len(a)+len(b))
	for _, list := range [][]int64{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	return merged
}

// benignCancelError matches rejections for orders that are already gone. A
// replace cycle racing a fill makes these routine.
func benignCancelError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "never placed") ||
		strings.Contains(msg, "already canceled") ||
		strings.Contains(msg, "filled")
}

// normalizePrice rounds to the venue's perp price grid: at most five
// significant figures and 6-szDecimals decimal places.
func normalizePrice(px float64, szDecimals int) float64 {
	if px <= 0 {
		return px
	}
	decimals := 6 - szDecimals
	if szDecimals < 0 {
		decimals = 6
	}
	if exponent := int(math.Floor(math.Log10(px))); 4-exponent < decimals {
		decimals = 4 - exponent
	}
	if decimals < 0 {
		decimals = 0
	}
	return roundTo(px, decimals)
}

func normalizeSize(size float64, szDecimals int) float64 {
	if szDecimals < 0 {
		return size
	}
	return roundTo(size, szDecimals)
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}
