package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hl-oracle-maker/internal/hl/rest"
	"hl-oracle-maker/internal/hl/ws"
	"hl-oracle-maker/internal/maker"

	"go.uber.org/zap"
)

const (
	refreshWindow  = 30 * time.Second
	tickBufferSize = 64
)

// PerpContext carries per-asset metadata and prices from metaAndAssetCtxs.
type PerpContext struct {
	Index       int
	SzDecimals  int
	FundingRate float64
	OraclePrice float64
	MarkPrice   float64
}

// Feed streams oracle price ticks for one coin over the websocket and keeps
// a cached view of the perp contexts for asset resolution. Ticks are pushed
// on a buffered channel and dropped when the consumer lags; the gate
// debounces anyway, so a dropped tick only delays the next quote.
type Feed struct {
	rest *rest.Client
	ws   *ws.Client
	coin string
	log  *zap.Logger

	ticks      chan maker.Tick
	dropped    atomic.Uint64
	dropWarned atomic.Bool

	mu          sync.RWMutex
	contexts    map[string]PerpContext
	refreshedAt time.Time
}

func New(restClient *rest.Client, wsClient *ws.Client, coin string, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		rest:     restClient,
		ws:       wsClient,
		coin:     coin,
		log:      log,
		ticks:    make(chan maker.Tick, tickBufferSize),
		contexts: make(map[string]PerpContext),
	}
}

func (f *Feed) Ticks() <-chan maker.Tick {
	return f.ticks
}

func (f *Feed) subscription() map[string]any {
	return map[string]any{"type": "activeAssetCtx", "coin": f.coin}
}

// Start registers the oracle subscription. The shared ws client replays it
// on reconnect.
func (f *Feed) Start(ctx context.Context) error {
	if f.ws == nil {
		return nil
	}
	return f.ws.Subscribe(ctx, map[string]any{"method": "subscribe", "subscription": f.subscription()})
}

// Unsubscribe removes the oracle subscription on shutdown.
func (f *Feed) Unsubscribe(ctx context.Context) error {
	if f.ws == nil {
		return nil
	}
	return f.ws.Unsubscribe(ctx, f.subscription())
}

// HandleMessage consumes one decoded ws payload. Non-oracle channels and
// other coins are ignored.
func (f *Feed) HandleMessage(msg map[string]any) {
	if stringFromAny(msg["channel"]) != "activeAssetCtx" {
		return
	}
	coin, price, ok := parseActiveAssetCtx(msg)
	if !ok || !strings.EqualFold(coin, f.coin) {
		return
	}
	tick := maker.Tick{Market: f.coin, Price: price, Time: time.Now()}
	select {
	case f.ticks <- tick:
	default:
		dropped := f.dropped.Add(1)
		if f.dropWarned.CompareAndSwap(false, true) {
			f.log.Warn("tick buffer full, dropping oracle updates", zap.Uint64("dropped", dropped))
		}
	}
}

// DroppedTicks reports how many oracle updates were shed on backpressure.
func (f *Feed) DroppedTicks() uint64 {
	return f.dropped.Load()
}

// RefreshContexts fetches metaAndAssetCtxs unless the cache is fresh.
func (f *Feed) RefreshContexts(ctx context.Context) error {
	f.mu.RLock()
	fresh := time.Since(f.refreshedAt) < refreshWindow && len(f.contexts) > 0
	f.mu.RUnlock()
	if fresh {
		return nil
	}
	payload, err := f.rest.InfoAny(ctx, map[string]any{"type": "metaAndAssetCtxs"})
	if err != nil {
		return fmt.Errorf("metaAndAssetCtxs: %w", err)
	}
	contexts, err := parsePerpContexts(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.contexts = contexts
	f.refreshedAt = time.Now()
	f.mu.Unlock()
	return nil
}

func (f *Feed) Context(coin string) (PerpContext, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ctx, ok := f.contexts[coin]
	return ctx, ok
}

// OraclePrice returns a fresh REST oracle price for the feed's coin.
func (f *Feed) OraclePrice(ctx context.Context) (float64, error) {
	if err := f.RefreshContexts(ctx); err != nil {
		return 0, err
	}
	perp, ok := f.Context(f.coin)
	if !ok {
		return 0, fmt.Errorf("no perp context for %s", f.coin)
	}
	if perp.OraclePrice <= 0 {
		return 0, errors.New("oracle price unavailable")
	}
	return perp.OraclePrice, nil
}
