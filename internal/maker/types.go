package maker

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// Config drives the quoting cycle. Spread and skew are basis points
// relative to the oracle price.
type Config struct {
	Market             string
	OrderSize          float64
	MaxPosition        float64
	BaseSpreadBps      float64
	MaxSkewBps         float64
	Debounce           time.Duration
	ChangeThresholdBps float64
}

// Tick is one oracle price observation for a market.
type Tick struct {
	Market string
	Price  float64
	Time   time.Time
}

// RawFill is a decoded order-action event from the user event feed. The
// event may belong to another account or market; Classify decides.
type RawFill struct {
	Market      string
	Action      string
	Maker       string
	Taker       string
	MakerDir    string
	TakerDir    string
	BaseAmount  float64
	QuoteAmount float64
	Time        time.Time
}

// Fill is a classified fill for our own account.
type Fill struct {
	Side  Side
	Size  float64
	Price float64
	Time  time.Time
}

// OrderSpec describes one order for the gateway. Price is the limit price
// for limit orders and the reference price for market orders, where the
// gateway applies its slippage bound.
type OrderSpec struct {
	Market     string
	Side       Side
	Type       OrderType
	Size       float64
	Price      float64
	PostOnly   bool
	ReduceOnly bool
}
