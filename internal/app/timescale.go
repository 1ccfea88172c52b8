package app

import (
	"time"

	"hl-oracle-maker/internal/maker"
	"hl-oracle-maker/internal/timescale"
)

func (a *App) recordQuote(quote maker.Quote, oracle, position float64) {
	if a.timescale == nil {
		return
	}
	a.timescale.EnqueueQuote(timescale.QuoteSnapshot{
		Time:        time.Now().UTC(),
		Market:      a.cfg.Maker.Market,
		State:       string(a.controller.State()),
		OraclePrice: oracle,
		Position:    position,
		BidPrice:    quote.BidPrice(oracle),
		AskPrice:    quote.AskPrice(oracle),
		BidSize:     quote.BidSize,
		AskSize:     quote.AskSize,
		RealizedPnl: a.fills.RealizedPnl(),
	})
}

func (a *App) recordFill(fill maker.Fill, stats maker.TrackerStats) {
	if a.timescale == nil {
		return
	}
	a.timescale.EnqueueFill(timescale.FillRecord{
		Time:         fill.Time,
		Market:       a.cfg.Maker.Market,
		Side:         string(fill.Side),
		Size:         fill.Size,
		Price:        fill.Price,
		RealizedPnl:  stats.RealizedPnl,
		TotalMatches: int(stats.TotalMatches),
	})
}
