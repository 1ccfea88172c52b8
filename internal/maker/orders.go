package maker

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

// Positions smaller than this are treated as flat.
const flattenEpsilon = 1e-4

// Gateway submits and cancels venue orders.
type Gateway interface {
	Place(ctx context.Context, spec OrderSpec) error
	CancelAll(ctx context.Context, market string) error
}

// OrderManager keeps at most one bid and one ask resting through
// cancel-then-replace. The two legs are not atomic: a failed cancel is
// logged and the flow continues, the venue drops stale post-only orders as
// the book moves.
type OrderManager struct {
	gateway Gateway
	market  string
	log     *zap.Logger

	mu     sync.Mutex
	active bool
}

func NewOrderManager(gateway Gateway, market string, log *zap.Logger) *OrderManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderManager{gateway: gateway, market: market, log: log}
}

func (m *OrderManager) HasActiveOrders() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Replace cancels resting orders and places a fresh post-only pair around
// the oracle price. A placement failure marks the book empty and is not
// retried here; the next accepted tick issues the next attempt.
func (m *OrderManager) Replace(ctx context.Context, quote Quote, oraclePrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gateway.CancelAll(ctx, m.market); err != nil {
		m.log.Warn("cancel before replace failed", zap.Error(err))
	}
	specs := []OrderSpec{
		{
			Market:   m.market,
			Side:     SideBuy,
			Type:     OrderTypeLimit,
			Size:     quote.BidSize,
			Price:    quote.BidPrice(oraclePrice),
			PostOnly: true,
		},
		{
			Market:   m.market,
			Side:     SideSell,
			Type:     OrderTypeLimit,
			Size:     quote.AskSize,
			Price:    quote.AskPrice(oraclePrice),
			PostOnly: true,
		},
	}
	for _, spec := range specs {
		if err := m.gateway.Place(ctx, spec); err != nil {
			m.active = false
			return fmt.Errorf("place %s: %w", spec.Side, err)
		}
	}
	m.active = true
	return nil
}

// CancelAll clears the book on the shutdown path. The flag stays set when
// the cancel fails since orders may still rest.
func (m *OrderManager) CancelAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gateway.CancelAll(ctx, m.market); err != nil {
		return err
	}
	m.active = false
	return nil
}

// Flatten closes the inventory with a single reduce-only aggressive order.
// refPrice anchors the gateway's slippage bound.
func (m *OrderManager) Flatten(ctx context.Context, position, refPrice float64) error {
	if math.Abs(position) < flattenEpsilon {
		return nil
	}
	side := SideSell
	if position < 0 {
		side = SideBuy
	}
	spec := OrderSpec{
		Market:     m.market,
		Side:       side,
		Type:       OrderTypeMarket,
		Size:       math.Abs(position),
		Price:      refPrice,
		ReduceOnly: true,
	}
	m.log.Info("flattening position",
		zap.Float64("position", position),
		zap.String("side", string(side)))
	return m.gateway.Place(ctx, spec)
}
