package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"hl-oracle-maker/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// QuoteSnapshot records one completed quote cycle.
type QuoteSnapshot struct {
	Time        time.Time
	Market      string
	State       string
	OraclePrice float64
	Position    float64
	BidPrice    float64
	AskPrice    float64
	BidSize     float64
	AskSize     float64
	RealizedPnl float64
}

// FillRecord records one classified own fill.
type FillRecord struct {
	Time         time.Time
	Market       string
	Side         string
	Size         float64
	Price        float64
	RealizedPnl  float64
	TotalMatches int
}

type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	quotes    chan QuoteSnapshot
	fills     chan FillRecord
	started   atomic.Bool
	dropQuote atomic.Uint64
	dropFill  atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		quotes: make(chan QuoteSnapshot, queueSize),
		fills:  make(chan FillRecord, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueQuote(snapshot QuoteSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.quotes <- snapshot:
		return
	default:
		if w.dropQuote.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale quote queue full")
		}
	}
}

func (w *Writer) EnqueueFill(record FillRecord) {
	if w == nil {
		return
	}
	select {
	case w.fills <- record:
		return
	default:
		if w.dropFill.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale fill queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.quotes:
			w.writeQuote(ctx, snap)
		case record := <-w.fills:
			w.writeFill(ctx, record)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		market TEXT NOT NULL,
		state TEXT NOT NULL,
		oracle_price DOUBLE PRECISION NOT NULL,
		position DOUBLE PRECISION NOT NULL,
		bid_price DOUBLE PRECISION NOT NULL,
		ask_price DOUBLE PRECISION NOT NULL,
		bid_size DOUBLE PRECISION NOT NULL,
		ask_size DOUBLE PRECISION NOT NULL,
		realized_pnl DOUBLE PRECISION NOT NULL
	)`, w.table("quote_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		market TEXT NOT NULL,
		side TEXT NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		realized_pnl DOUBLE PRECISION NOT NULL,
		total_matches INTEGER NOT NULL
	)`, w.table("fill_matches"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("quote_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("timescale quote_snapshots hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("fill_matches"))); err != nil && w.log != nil {
		w.log.Warn("timescale fill_matches hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeQuote(ctx context.Context, snap QuoteSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, market, state, oracle_price, position, bid_price, ask_price, bid_size, ask_size, realized_pnl
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
	)`, w.table("quote_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Market,
		snap.State,
		snap.OraclePrice,
		snap.Position,
		snap.BidPrice,
		snap.AskPrice,
		snap.BidSize,
		snap.AskSize,
		snap.RealizedPnl,
	); err != nil && w.log != nil {
		w.log.Warn("timescale quote insert failed", zap.Error(err))
	}
}

func (w *Writer) writeFill(ctx context.Context, record FillRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, market, side, size, price, realized_pnl, total_matches
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7
	)`, w.table("fill_matches"))
	if _, err := w.db.ExecContext(ctx, query,
		record.Time,
		record.Market,
		record.Side,
		record.Size,
		record.Price,
		record.RealizedPnl,
		record.TotalMatches,
	); err != nil && w.log != nil {
		w.log.Warn("timescale fill insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
