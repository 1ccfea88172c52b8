package maker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ReasonRequoteInFlight marks ticks dropped because a requote was already
// running when they arrived. Unlike the gate reasons it is a controller
// decision, not a price check.
const ReasonRequoteInFlight = "requote in flight"

// PositionSource reports the current signed position for a market. Reads
// are expected to hit the venue, not a cache.
type PositionSource interface {
	Position(ctx context.Context, market string) (float64, error)
}

// FeedCloser tears down market data subscriptions on shutdown.
type FeedCloser interface {
	Close(ctx context.Context) error
}

// Hooks receive domain events for telemetry. All fields are optional.
type Hooks struct {
	TickAccepted func(Tick)
	TickRejected func(Tick, string)
	QuotePlaced  func(quote Quote, oracle, position float64)
	FillRecorded func(Fill, TrackerStats)
	FillDropped  func(reason string)
}

// ShutdownResult aggregates the outcome of the three shutdown steps. Each
// step runs regardless of earlier failures.
type ShutdownResult struct {
	CancelErr      error
	FlattenErr     error
	UnsubscribeErr error
}

func (r ShutdownResult) Err() error {
	return errors.Join(r.CancelErr, r.FlattenErr, r.UnsubscribeErr)
}

// Controller owns the bot lifecycle. It consumes decoded tick and fill
// messages from channels, drives the gate / quote / replace cycle and
// handles shutdown. At most one requote runs at a time; ticks arriving
// while one is in flight are dropped, never queued.
type Controller struct {
	cfg       Config
	account   string
	gate      *Gate
	orders    *OrderManager
	fills     *FillTracker
	positions PositionSource
	feeds     FeedCloser
	hooks     Hooks
	log       *zap.Logger
	now       func() time.Time

	machine *StateMachine

	mu          sync.Mutex
	oraclePrice float64
	prevOracle  float64
	lastUpdate  time.Time
	stopResult  ShutdownResult

	processing atomic.Bool
	wg         sync.WaitGroup
}

func NewController(cfg Config, account string, orders *OrderManager, fills *FillTracker, positions PositionSource, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		cfg:       cfg,
		account:   account,
		gate:      NewGate(cfg.Debounce, cfg.ChangeThresholdBps),
		orders:    orders,
		fills:     fills,
		positions: positions,
		log:       log,
		now:       time.Now,
		machine:   NewStateMachine(),
	}
}

// SetFeedCloser wires the subscription teardown used by Stop.
func (c *Controller) SetFeedCloser(feeds FeedCloser) {
	c.feeds = feeds
}

func (c *Controller) SetHooks(hooks Hooks) {
	c.hooks = hooks
}

func (c *Controller) State() State {
	return c.machine.State()
}

func (c *Controller) OraclePrice() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.oraclePrice
}

// Run consumes tick and fill messages until ctx is cancelled or both feeds
// close. Stop is a separate call; Run returning does not cancel orders.
func (c *Controller) Run(ctx context.Context, ticks <-chan Tick, fills <-chan RawFill) error {
	if state := c.machine.Apply(EventStart); state != StateRunning {
		return fmt.Errorf("controller cannot start from %s", state)
	}
	c.log.Info("controller running",
		zap.String("market", c.cfg.Market),
		zap.Duration("debounce", c.cfg.Debounce),
		zap.Float64("change_threshold_bps", c.cfg.ChangeThresholdBps))
	for {
		if ticks == nil && fills == nil {
			return errors.New("event feeds closed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			c.HandleTick(ctx, tick)
		case raw, ok := <-fills:
			if !ok {
				fills = nil
				continue
			}
			c.HandleFill(raw)
		}
	}
}

// HandleTick runs gate admission and, when the tick is accepted and the
// requote slot is free, commits the price state and kicks off an
// asynchronous requote. Price state moves only together with a requote: a
// tick that cannot claim the slot leaves the gate's reference price
// untouched, so the same level is re-admitted once the slot frees up.
func (c *Controller) HandleTick(ctx context.Context, tick Tick) {
	if c.machine.State() != StateRunning {
		return
	}
	c.mu.Lock()
	decision := c.gate.Admit(tick.Price, c.oraclePrice, c.lastUpdate, c.now())
	if !decision.Accept {
		c.mu.Unlock()
		c.log.Debug("tick rejected",
			zap.Float64("price", tick.Price),
			zap.String("reason", decision.Reason))
		if c.hooks.TickRejected != nil {
			c.hooks.TickRejected(tick, decision.Reason)
		}
		return
	}
	if !c.processing.CompareAndSwap(false, true) {
		c.mu.Unlock()
		c.log.Debug("requote in flight, tick dropped", zap.Float64("price", tick.Price))
		if c.hooks.TickRejected != nil {
			c.hooks.TickRejected(tick, ReasonRequoteInFlight)
		}
		return
	}
	c.prevOracle = c.oraclePrice
	c.oraclePrice = tick.Price
	c.lastUpdate = c.now()
	c.mu.Unlock()
	if c.hooks.TickAccepted != nil {
		c.hooks.TickAccepted(tick)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.processing.Store(false)
		c.requote(ctx, tick.Price)
	}()
}

func (c *Controller) requote(ctx context.Context, oracle float64) {
	position, err := c.positions.Position(ctx, c.cfg.Market)
	if err != nil {
		c.log.Warn("position query failed, keeping resting orders", zap.Error(err))
		return
	}
	quote := ComputeQuote(position, c.cfg)
	if err := quote.Validate(); err != nil {
		c.log.Warn("quote dropped",
			zap.Float64("position", position),
			zap.Error(err))
		return
	}
	if err := c.orders.Replace(ctx, quote, oracle); err != nil {
		c.log.Warn("order replace failed", zap.Error(err))
		return
	}
	c.log.Debug("quotes replaced",
		zap.Float64("oracle", oracle),
		zap.Float64("position", position),
		zap.Float64("bid_offset_bps", quote.BidOffsetBps),
		zap.Float64("ask_offset_bps", quote.AskOffsetBps))
	if c.hooks.QuotePlaced != nil {
		c.hooks.QuotePlaced(quote, oracle, position)
	}
}

// HandleFill classifies a raw order action and records it when it is ours.
func (c *Controller) HandleFill(raw RawFill) {
	fill, ours, err := Classify(raw, c.cfg.Market, c.account)
	if err != nil {
		c.log.Warn("malformed fill event dropped",
			zap.String("market", raw.Market),
			zap.Error(err))
		if c.hooks.FillDropped != nil {
			c.hooks.FillDropped("malformed")
		}
		return
	}
	if !ours {
		if c.hooks.FillDropped != nil {
			c.hooks.FillDropped("ignored")
		}
		return
	}
	c.fills.Record(fill)
	stats := c.fills.Stats()
	c.log.Info("fill recorded",
		zap.String("side", string(fill.Side)),
		zap.Float64("size", fill.Size),
		zap.Float64("price", fill.Price),
		zap.Float64("realized_pnl", stats.RealizedPnl),
		zap.Uint64("matches", stats.TotalMatches))
	if c.hooks.FillRecorded != nil {
		c.hooks.FillRecorded(fill, stats)
	}
}

// Stop winds the bot down: cancel resting orders, flatten inventory,
// unsubscribe feeds. Every step runs even when an earlier one fails and the
// result carries each step's error. Repeat calls are no-ops returning the
// recorded result.
func (c *Controller) Stop(ctx context.Context) ShutdownResult {
	switch c.machine.State() {
	case StateStopping, StateStopped:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.stopResult
	case StateIdle:
		c.machine.Apply(EventStop)
		return ShutdownResult{}
	}
	c.machine.Apply(EventStop)

	// Let an in-flight requote finish so the final cancel sees its orders.
	c.wg.Wait()

	c.mu.Lock()
	oracle := c.oraclePrice
	c.mu.Unlock()

	var result ShutdownResult
	if err := c.orders.CancelAll(ctx); err != nil {
		c.log.Warn("shutdown cancel failed", zap.Error(err))
		result.CancelErr = err
	}
	if position, err := c.positions.Position(ctx, c.cfg.Market); err != nil {
		c.log.Warn("shutdown position query failed, skipping flatten", zap.Error(err))
		result.FlattenErr = err
	} else if err := c.orders.Flatten(ctx, position, oracle); err != nil {
		c.log.Warn("shutdown flatten failed", zap.Error(err))
		result.FlattenErr = err
	}
	if c.feeds != nil {
		if err := c.feeds.Close(ctx); err != nil {
			c.log.Warn("shutdown unsubscribe failed", zap.Error(err))
			result.UnsubscribeErr = err
		}
	}

	c.mu.Lock()
	c.stopResult = result
	c.mu.Unlock()
	c.machine.Apply(EventStopDone)
	c.log.Info("controller stopped",
		zap.Bool("cancel_ok", result.CancelErr == nil),
		zap.Bool("flatten_ok", result.FlattenErr == nil),
		zap.Bool("unsubscribe_ok", result.UnsubscribeErr == nil))
	return result
}
