package maker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubPositions struct {
	mu       sync.Mutex
	position float64
	err      error
	calls    int
	entered  chan struct{}
	release  chan struct{}
}

func (s *stubPositions) Position(ctx context.Context, market string) (float64, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position, s.err
}

func (s *stubPositions) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubCloser struct {
	mu     sync.Mutex
	closed int
	err    error
}

func (s *stubCloser) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.err
}

func controllerConfig() Config {
	return Config{
		Market:             "ETH",
		OrderSize:          0.1,
		MaxPosition:        1,
		BaseSpreadBps:      10,
		MaxSkewBps:         4,
		Debounce:           500 * time.Millisecond,
		ChangeThresholdBps: 5,
	}
}

func newTestController(gateway *mockGateway, positions *stubPositions) *Controller {
	orders := NewOrderManager(gateway, "ETH", zap.NewNop())
	fills := NewFillTracker(zap.NewNop())
	return NewController(controllerConfig(), testAccount, orders, fills, positions, zap.NewNop())
}

func TestControllerTickTriggersReplace(t *testing.T) {
	gateway := &mockGateway{}
	positions := &stubPositions{}
	c := newTestController(gateway, positions)
	c.machine.SetState(StateRunning)

	c.HandleTick(context.Background(), Tick{Market: "ETH", Price: 100})
	c.wg.Wait()

	if positions.callCount() != 1 {
		t.Fatalf("expected one position query, got %d", positions.callCount())
	}
	if len(gateway.placedOrders()) != 2 {
		t.Fatalf("expected bid and ask placed, got %d", len(gateway.placedOrders()))
	}
	if !c.orders.HasActiveOrders() {
		t.Fatalf("expected active orders after requote")
	}
}

func TestControllerIgnoresTicksWhenNotRunning(t *testing.T) {
	gateway := &mockGateway{}
	c := newTestController(gateway, &stubPositions{})

	c.HandleTick(context.Background(), Tick{Market: "ETH", Price: 100})
	c.wg.Wait()

	if len(gateway.placedOrders()) != 0 {
		t.Fatalf("expected no orders while idle, got %d", len(gateway.placedOrders()))
	}
}

func TestControllerRejectedTickDoesNotReplace(t *testing.T) {
	gateway := &mockGateway{}
	c := newTestController(gateway, &stubPositions{})
	c.machine.SetState(StateRunning)

	var rejectedReason string
	c.SetHooks(Hooks{TickRejected: func(tick Tick, reason string) { rejectedReason = reason }})

	c.HandleTick(context.Background(), Tick{Market: "ETH", Price: -1})
	c.wg.Wait()

	if rejectedReason != ReasonNonPositive {
		t.Fatalf("expected rejection reason %q, got %q", ReasonNonPositive, rejectedReason)
	}
	if len(gateway.placedOrders()) != 0 {
		t.Fatalf("expected no orders for rejected tick, got %d", len(gateway.placedOrders()))
	}
}

func TestControllerDebouncesThroughHeldState(t *testing.T) {
	gateway := &mockGateway{}
	c := newTestController(gateway, &stubPositions{})
	c.machine.SetState(StateRunning)

	current := time.Now()
	c.now = func() time.Time { return current }

	var reasons []string
	c.SetHooks(Hooks{TickRejected: func(tick Tick, reason string) { reasons = append(reasons, reason) }})

	c.HandleTick(context.Background(), Tick{Market: "ETH", Price: 100})
	c.wg.Wait()
	current = current.Add(100 * time.Millisecond)
	c.HandleTick(context.Background(), Tick{Market: "ETH", Price: 101})
	c.wg.Wait()

	if len(reasons) != 1 || reasons[0] != ReasonDebounced {
		t.Fatalf("expected one debounce rejection, got %v", reasons)
	}
	if len(gateway.placedOrders()) != 2 {
		t.Fatalf("expected a single replace, got %d orders", len(gateway.placedOrders()))
	}
}

func TestControllerDropsTickWhileRequoteInFlight(t *testing.T) {
	gateway := &mockGateway{}
	positions := &stubPositions{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	c := newTestController(gateway, positions)
	c.machine.SetState(StateRunning)

	current := time.Now()
	c.now = func() time.Time { return current }

	accepted := 0
	var rejections []string
	c.SetHooks(Hooks{
		TickAccepted: func(tick Tick) { accepted++ },
		TickRejected: func(tick Tick, reason string) { rejections = append(rejections, reason) },
	})

	c.HandleTick(context.Background(), Tick{Market: "ETH", Price: 100})
	<-positions.entered

	current = current.Add(time.Second)
	c.HandleTick(context.Background(), Tick{Market: "ETH", Price: 200})

	close(positions.release)
	c.wg.Wait()

	if accepted != 1 {
		t.Fatalf("expected only the first tick accepted, got %d", accepted)
	}
	if len(rejections) != 1 || rejections[0] != ReasonRequoteInFlight {
		t.Fatalf("expected one in-flight rejection, got %v", rejections)
	}
	if positions.callCount() != 1 {
		t.Fatalf("expected exactly one requote, got %d position queries", positions.callCount())
	}
	if len(gateway.placedOrders()) != 2 {
		t.Fatalf("expected one replace worth of orders, got %d", len(gateway.placedOrders()))
	}
	if price := c.OraclePrice(); price != 100 {
		t.Fatalf("expected oracle state to stay at the quoted price, got %v", price)
	}
}

func TestControllerRequotesDroppedPriceOnNextTick(t *testing.T) {
	gateway := &mockGateway{}
	positions := &stubPositions{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	c := newTestController(gateway, positions)
	c.machine.SetState(StateRunning)

	current := time.Now()
	c.now = func() time.Time { return current }

	c.HandleTick(context.Background(), Tick{Market: "ETH", Price: 100})
	<-positions.entered

	// Arrives while the first requote is still running: dropped without
	// touching the gate's reference price.
	current = current.Add(time.Second)
	c.HandleTick(context.Background(), Tick{Market: "ETH", Price: 101})

	close(positions.release)
	c.wg.Wait()

	// The same level repeats after the debounce. Measured against the
	// quoted price of 100 it clears the 5 bps threshold and requotes.
	current = current.Add(time.Second)
	c.HandleTick(context.Background(), Tick{Market: "ETH", Price: 101})
	c.wg.Wait()

	if positions.callCount() != 2 {
		t.Fatalf("expected two requotes, got %d position queries", positions.callCount())
	}
	if len(gateway.placedOrders()) != 4 {
		t.Fatalf("expected two replaces worth of orders, got %d", len(gateway.placedOrders()))
	}
	if price := c.OraclePrice(); price != 101 {
		t.Fatalf("expected oracle state at 101 after the requote, got %v", price)
	}
}

func TestControllerKeepsOrdersWhenPositionQueryFails(t *testing.T) {
	gateway := &mockGateway{}
	positions := &stubPositions{err: errors.New("info timeout")}
	c := newTestController(gateway, positions)
	c.machine.SetState(StateRunning)

	c.HandleTick(context.Background(), Tick{Market: "ETH", Price: 100})
	c.wg.Wait()

	if len(gateway.placedOrders()) != 0 {
		t.Fatalf("expected no replace on position failure, got %d", len(gateway.placedOrders()))
	}
	if gateway.cancelCount() != 0 {
		t.Fatalf("expected no cancel on position failure, got %d", gateway.cancelCount())
	}
}

func TestControllerDropsInvalidQuote(t *testing.T) {
	gateway := &mockGateway{}
	// Position at twice the max drives the ask offset negative.
	positions := &stubPositions{position: 2}
	c := newTestController(gateway, positions)
	c.machine.SetState(StateRunning)

	c.HandleTick(context.Background(), Tick{Market: "ETH", Price: 100})
	c.wg.Wait()

	if len(gateway.placedOrders()) != 0 {
		t.Fatalf("expected invalid quote dropped, got %d orders", len(gateway.placedOrders()))
	}
}

func TestControllerFillRecording(t *testing.T) {
	gateway := &mockGateway{}
	c := newTestController(gateway, &stubPositions{})
	c.machine.SetState(StateRunning)

	var dropped []string
	c.SetHooks(Hooks{FillDropped: func(reason string) { dropped = append(dropped, reason) }})

	c.HandleFill(RawFill{Market: "ETH", Maker: testAccount, MakerDir: "long", BaseAmount: 1, QuoteAmount: 100})
	c.HandleFill(RawFill{Market: "ETH", Taker: testAccount, TakerDir: "short", BaseAmount: 1, QuoteAmount: 101})
	c.HandleFill(RawFill{Market: "BTC", Maker: testAccount, MakerDir: "long", BaseAmount: 1, QuoteAmount: 100})
	c.HandleFill(RawFill{Market: "ETH", Maker: testAccount, MakerDir: "long"})

	stats := c.fills.Stats()
	if stats.TotalMatches != 1 {
		t.Fatalf("expected one match, got %d", stats.TotalMatches)
	}
	if stats.RealizedPnl != 1 {
		t.Fatalf("expected realized pnl 1, got %v", stats.RealizedPnl)
	}
	if len(dropped) != 2 || dropped[0] != "ignored" || dropped[1] != "malformed" {
		t.Fatalf("expected ignored then malformed drops, got %v", dropped)
	}
}

func TestControllerStopSequence(t *testing.T) {
	gateway := &mockGateway{}
	positions := &stubPositions{position: 0.5}
	closer := &stubCloser{}
	c := newTestController(gateway, positions)
	c.SetFeedCloser(closer)
	c.machine.SetState(StateRunning)

	c.HandleTick(context.Background(), Tick{Market: "ETH", Price: 100})
	c.wg.Wait()

	result := c.Stop(context.Background())
	if err := result.Err(); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	if c.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", c.State())
	}

	placed := gateway.placedOrders()
	last := placed[len(placed)-1]
	if last.Type != OrderTypeMarket || !last.ReduceOnly || last.Side != SideSell {
		t.Fatalf("expected reduce-only market sell flatten, got %+v", last)
	}
	if last.Size != 0.5 {
		t.Fatalf("expected flatten size 0.5, got %v", last.Size)
	}
	closer.mu.Lock()
	closed := closer.closed
	closer.mu.Unlock()
	if closed != 1 {
		t.Fatalf("expected feeds closed once, got %d", closed)
	}

	// Second stop is a no-op returning the recorded result.
	before := len(gateway.placedOrders())
	again := c.Stop(context.Background())
	if again.Err() != nil {
		t.Fatalf("expected recorded result, got %v", again.Err())
	}
	if len(gateway.placedOrders()) != before {
		t.Fatalf("expected no extra orders on repeat stop")
	}
}

func TestControllerStopSkipsFlattenWhenFlat(t *testing.T) {
	gateway := &mockGateway{}
	c := newTestController(gateway, &stubPositions{position: 0})
	c.machine.SetState(StateRunning)

	result := c.Stop(context.Background())
	if err := result.Err(); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	for _, order := range gateway.placedOrders() {
		if order.Type == OrderTypeMarket {
			t.Fatalf("expected no flatten order for flat position, got %+v", order)
		}
	}
}

func TestControllerStopAggregatesErrors(t *testing.T) {
	gateway := &mockGateway{cancelErr: errors.New("cancel down")}
	positions := &stubPositions{err: errors.New("info down")}
	closer := &stubCloser{err: errors.New("ws down")}
	c := newTestController(gateway, positions)
	c.SetFeedCloser(closer)
	c.machine.SetState(StateRunning)

	result := c.Stop(context.Background())
	if result.CancelErr == nil || result.FlattenErr == nil || result.UnsubscribeErr == nil {
		t.Fatalf("expected all steps to record errors, got %+v", result)
	}
	if result.Err() == nil {
		t.Fatalf("expected aggregate error")
	}
	if c.State() != StateStopped {
		t.Fatalf("expected stopped state despite errors, got %s", c.State())
	}
}

func TestControllerStopFromIdle(t *testing.T) {
	gateway := &mockGateway{}
	c := newTestController(gateway, &stubPositions{})

	result := c.Stop(context.Background())
	if result.Err() != nil {
		t.Fatalf("expected empty result from idle stop, got %v", result.Err())
	}
	if c.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", c.State())
	}
	if len(gateway.placedOrders()) != 0 || gateway.cancelCount() != 0 {
		t.Fatalf("expected no venue calls from idle stop")
	}
}

func TestControllerRunStopsOnContextCancel(t *testing.T) {
	c := newTestController(&mockGateway{}, &stubPositions{})
	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan Tick)
	fills := make(chan RawFill)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, ticks, fills) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
	if c.State() != StateRunning {
		t.Fatalf("expected running state until Stop is called, got %s", c.State())
	}
}
