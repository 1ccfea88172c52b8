package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

type Metrics struct {
	TicksAccepted Counter
	TicksRejected Counter
	QuoteReplaces Counter
	OrdersPlaced  Counter
	OrdersFailed  Counter
	CancelsFailed Counter
	FillsRecorded Counter
	FillsDropped  Counter
	FillMatches   Counter

	RealizedPnl Gauge
	Position    Gauge
	OraclePrice Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	c := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		TicksAccepted: c,
		TicksRejected: c,
		QuoteReplaces: c,
		OrdersPlaced:  c,
		OrdersFailed:  c,
		CancelsFailed: c,
		FillsRecorded: c,
		FillsDropped:  c,
		FillMatches:   c,
		RealizedPnl:   g,
		Position:      g,
		OraclePrice:   g,
	}
}
