package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hl_oracle_maker"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry      *prometheus.Registry
	ticksAccepted prometheus.Counter
	ticksRejected prometheus.Counter
	quoteReplaces prometheus.Counter
	ordersPlaced  prometheus.Counter
	ordersFailed  prometheus.Counter
	cancelsFailed prometheus.Counter
	fillsRecorded prometheus.Counter
	fillsDropped  prometheus.Counter
	fillMatches   prometheus.Counter
	realizedPnl   prometheus.Gauge
	position      prometheus.Gauge
	oraclePrice   prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	ticksAccepted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "ticks_accepted_total",
		Help:      "Total number of oracle ticks accepted by the gate.",
	})
	ticksRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "ticks_rejected_total",
		Help:      "Total number of oracle ticks rejected by the gate.",
	})
	quoteReplaces := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "quote_replaces_total",
		Help:      "Total number of completed quote replace cycles.",
	})
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of orders placed.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order placement failures.",
	})
	cancelsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cancels_failed_total",
		Help:      "Total number of cancel failures.",
	})
	fillsRecorded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "fills_recorded_total",
		Help:      "Total number of own fills recorded by the tracker.",
	})
	fillsDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "fills_dropped_total",
		Help:      "Total number of user events ignored or rejected.",
	})
	fillMatches := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "fill_matches_total",
		Help:      "Total number of buy/sell lot matches.",
	})
	realizedPnl := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "realized_pnl",
		Help:      "Realized profit and loss in quote units.",
	})
	position := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "position",
		Help:      "Signed perp position in base units.",
	})
	oraclePrice := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "oracle_price",
		Help:      "Last accepted oracle price.",
	})

	registry.MustRegister(
		ticksAccepted, ticksRejected, quoteReplaces,
		ordersPlaced, ordersFailed, cancelsFailed,
		fillsRecorded, fillsDropped, fillMatches,
		realizedPnl, position, oraclePrice,
	)

	m := &Metrics{
		TicksAccepted: promCounter{ticksAccepted},
		TicksRejected: promCounter{ticksRejected},
		QuoteReplaces: promCounter{quoteReplaces},
		OrdersPlaced:  promCounter{ordersPlaced},
		OrdersFailed:  promCounter{ordersFailed},
		CancelsFailed: promCounter{cancelsFailed},
		FillsRecorded: promCounter{fillsRecorded},
		FillsDropped:  promCounter{fillsDropped},
		FillMatches:   promCounter{fillMatches},
		RealizedPnl:   promGauge{realizedPnl},
		Position:      promGauge{position},
		OraclePrice:   promGauge{oraclePrice},
	}

	return &Prometheus{
		Metrics:       m,
		registry:      registry,
		ticksAccepted: ticksAccepted,
		ticksRejected: ticksRejected,
		quoteReplaces: quoteReplaces,
		ordersPlaced:  ordersPlaced,
		ordersFailed:  ordersFailed,
		cancelsFailed: cancelsFailed,
		fillsRecorded: fillsRecorded,
		fillsDropped:  fillsDropped,
		fillMatches:   fillMatches,
		realizedPnl:   realizedPnl,
		position:      position,
		oraclePrice:   oraclePrice,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
