package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hl-oracle-maker/internal/account"
	"hl-oracle-maker/internal/alerts"
	"hl-oracle-maker/internal/config"
	"hl-oracle-maker/internal/exec"
	"hl-oracle-maker/internal/hl/exchange"
	"hl-oracle-maker/internal/hl/rest"
	"hl-oracle-maker/internal/hl/ws"
	"hl-oracle-maker/internal/maker"
	"hl-oracle-maker/internal/market"
	"hl-oracle-maker/internal/metrics"
	"hl-oracle-maker/internal/state"
	"hl-oracle-maker/internal/state/sqlite"
	"hl-oracle-maker/internal/timescale"

	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	cfg        *config.Config
	log        *zap.Logger
	store      state.Store
	rest       *rest.Client
	marketWS   *ws.Client
	accountWS  *ws.Client
	exchange   *exchange.Client
	feed       *market.Feed
	account    *account.Account
	gateway    *exec.Gateway
	orders     *maker.OrderManager
	fills      *maker.FillTracker
	controller *maker.Controller
	metrics    *metrics.Metrics
	prom       *metrics.Prometheus
	alerts     *alerts.Telegram
	timescale  *timescale.Writer
	metricsSrv *http.Server

	stopCh         chan struct{}
	stopOnce       sync.Once
	operatorWarned bool

	// TotalMatches already counted into the FillMatches metric. Only the
	// controller's fill loop touches this.
	matchesSeen uint64
}

// triggerStop requests a clean shutdown, as if the run context had been
// cancelled.
func (a *App) triggerStop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, log)
	marketWS := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	accountWS := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)

	walletAddress := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	if walletAddress == "" {
		return nil, errors.New("HL_WALLET_ADDRESS is required")
	}
	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if privateKey == "" {
		return nil, errors.New("HL_PRIVATE_KEY is required")
	}
	accountAddress := strings.TrimSpace(os.Getenv("HL_ACCOUNT_ADDRESS"))
	if accountAddress == "" {
		accountAddress = walletAddress
	}
	vaultAddress := strings.TrimSpace(os.Getenv("HL_VAULT_ADDRESS"))
	isMainnet := !strings.Contains(strings.ToLower(cfg.REST.BaseURL), "testnet")
	signer, err := exchange.NewSigner(privateKey, isMainnet)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(walletAddress, signer.Address().Hex()) {
		return nil, fmt.Errorf("wallet address does not match private key: got %s expected %s", walletAddress, signer.Address().Hex())
	}
	exClient, err := exchange.NewClient(cfg.REST.BaseURL, cfg.REST.Timeout, signer, vaultAddress)
	if err != nil {
		return nil, err
	}
	exClient.SetLogger(log)

	feed := market.New(restClient, marketWS, cfg.Maker.Market, log)
	acct := account.New(restClient, accountWS, accountAddress, log)
	gateway := exec.New(exClient, feed, acct, store, cfg.Maker.FlattenSlippageBps, log)

	makerCfg := maker.Config{
		Market:             cfg.Maker.Market,
		OrderSize:          cfg.Maker.OrderSize,
		MaxPosition:        cfg.Maker.MaxPosition,
		BaseSpreadBps:      cfg.Maker.BaseSpreadBps,
		MaxSkewBps:         cfg.Maker.MaxSkewBps,
		Debounce:           cfg.Maker.Debounce,
		ChangeThresholdBps: cfg.Maker.ChangeThresholdBps,
	}
	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	orders := maker.NewOrderManager(&meteredGateway{inner: gateway, metrics: m}, cfg.Maker.Market, log)
	fills := maker.NewFillTracker(log)
	controller := maker.NewController(makerCfg, acct.User(), orders, fills, acct, log)
	controller.SetFeedCloser(&feedCloser{feed: feed, account: acct})

	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		log:        log,
		store:      store,
		rest:       restClient,
		marketWS:   marketWS,
		accountWS:  accountWS,
		exchange:   exClient,
		feed:       feed,
		account:    acct,
		gateway:    gateway,
		orders:     orders,
		fills:      fills,
		controller: controller,
		metrics:    m,
		prom:       prom,
		alerts:     alerts.NewTelegram(cfg.Telegram, log),
		timescale:  writer,
		stopCh:     make(chan struct{}),
	}
	controller.SetHooks(a.hooks())
	return a, nil
}

// meteredGateway counts placement and cancel failures on their way to the
// venue.
type meteredGateway struct {
	inner   maker.Gateway
	metrics *metrics.Metrics
}

func (g *meteredGateway) Place(ctx context.Context, spec maker.OrderSpec) error {
	err := g.inner.Place(ctx, spec)
	if err != nil {
		g.metrics.OrdersFailed.Inc()
	}
	return err
}

func (g *meteredGateway) CancelAll(ctx context.Context, market string) error {
	err := g.inner.CancelAll(ctx, market)
	if err != nil {
		g.metrics.CancelsFailed.Inc()
	}
	return err
}

// feedCloser tears down both ws subscriptions for the shutdown sequence.
type feedCloser struct {
	feed    *market.Feed
	account *account.Account
}

func (f *feedCloser) Close(ctx context.Context) error {
	return errors.Join(f.feed.Unsubscribe(ctx), f.account.Unsubscribe(ctx))
}

func (a *App) hooks() maker.Hooks {
	return maker.Hooks{
		TickAccepted: func(tick maker.Tick) {
			a.metrics.TicksAccepted.Inc()
			a.metrics.OraclePrice.Set(tick.Price)
		},
		TickRejected: func(maker.Tick, string) {
			a.metrics.TicksRejected.Inc()
		},
		QuotePlaced: func(quote maker.Quote, oracle, position float64) {
			a.metrics.QuoteReplaces.Inc()
			// one bid and one ask per completed replace
			a.metrics.OrdersPlaced.Inc()
			a.metrics.OrdersPlaced.Inc()
			a.metrics.Position.Set(position)
			a.recordQuote(quote, oracle, position)
		},
		FillRecorded: func(fill maker.Fill, stats maker.TrackerStats) {
			a.metrics.FillsRecorded.Inc()
			// A fill settles zero or more FIFO matches.
			for ; a.matchesSeen < stats.TotalMatches; a.matchesSeen++ {
				a.metrics.FillMatches.Inc()
			}
			a.metrics.RealizedPnl.Set(stats.RealizedPnl)
			a.recordFill(fill, stats)
		},
		FillDropped: func(string) {
			a.metrics.FillsDropped.Inc()
		},
	}
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go func() {
		select {
		case <-a.stopCh:
			cancelRun()
		case <-ctx.Done():
		}
	}()
	if a.exchange != nil && a.store != nil {
		if err := a.exchange.InitNonceStore(ctx, a.store); err != nil {
			a.log.Warn("nonce store init failed", zap.Error(err))
		} else if state, ok := a.exchange.NonceState(); ok {
			a.log.Info("nonce persistence enabled", zap.String("nonce_key", state.Key), zap.Uint64("nonce_seed", state.Last))
		}
	}
	if err := a.feed.RefreshContexts(ctx); err != nil {
		return fmt.Errorf("initial context refresh: %w", err)
	}
	if _, ok := a.feed.Context(a.cfg.Maker.Market); !ok {
		return fmt.Errorf("market %q not listed on the venue", a.cfg.Maker.Market)
	}

	// Resting orders from a previous run are strays. Clear them before
	// quoting so the venue book matches what the manager believes.
	if err := a.gateway.CancelAll(ctx, a.cfg.Maker.Market); err != nil {
		a.log.Warn("startup stray order cancel failed", zap.Error(err))
	}

	if err := a.marketWS.Connect(ctx); err != nil {
		return fmt.Errorf("market ws connect: %w", err)
	}
	if err := a.accountWS.Connect(ctx); err != nil {
		return fmt.Errorf("account ws connect: %w", err)
	}
	if err := a.feed.Start(ctx); err != nil {
		return err
	}
	if err := a.account.Start(ctx); err != nil {
		return err
	}
	go func() {
		if err := a.marketWS.Run(ctx, dispatchTo(a.feed.HandleMessage)); err != nil && ctx.Err() == nil {
			a.log.Warn("market ws loop ended", zap.Error(err))
		}
	}()
	go func() {
		if err := a.accountWS.Run(ctx, dispatchTo(a.account.HandleMessage)); err != nil && ctx.Err() == nil {
			a.log.Warn("account ws loop ended", zap.Error(err))
		}
	}()

	a.startMetricsServer()
	a.timescale.Start(ctx)
	a.startOperator(ctx)
	if err := a.alerts.Send(ctx, fmt.Sprintf("quoting started on %s", a.cfg.Maker.Market)); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}

	runErr := a.controller.Run(ctx, a.feed.Ticks(), a.account.Fills())
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.log.Warn("controller loop ended", zap.Error(runErr))
	}

	// The run context is gone by now; shutdown gets its own deadline so
	// cancels and the flatten order still reach the venue.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	result := a.controller.Stop(shutdownCtx)
	a.saveSnapshot(shutdownCtx)
	a.notifyShutdown(shutdownCtx, result)
	a.shutdownMetricsServer(shutdownCtx)
	if err := a.timescale.Close(); err != nil {
		a.log.Warn("timescale close failed", zap.Error(err))
	}
	if err := result.Err(); err != nil {
		return err
	}
	return runErr
}

// dispatchTo decodes raw ws frames into maps for a feed handler. Frames
// that are not JSON objects are dropped.
func dispatchTo(handler func(map[string]any)) func(json.RawMessage) {
	return func(raw json.RawMessage) {
		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		handler(msg)
	}
}

func (a *App) startMetricsServer() {
	if a.prom == nil || !a.cfg.Metrics.Enabled {
		return
	}
	path := a.cfg.Metrics.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, a.prom.Handler())
	a.metricsSrv = &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server failed", zap.Error(err))
		}
	}()
	a.log.Info("metrics server listening", zap.String("address", a.cfg.Metrics.Address), zap.String("path", path))
}

func (a *App) shutdownMetricsServer(ctx context.Context) {
	if a.metricsSrv == nil {
		return
	}
	if err := a.metricsSrv.Shutdown(ctx); err != nil {
		a.log.Warn("metrics server shutdown failed", zap.Error(err))
	}
}

func (a *App) saveSnapshot(ctx context.Context) {
	stats := a.fills.Stats()
	snapshot := state.SessionSnapshot{
		Market:       a.cfg.Maker.Market,
		State:        string(a.controller.State()),
		OraclePrice:  a.controller.OraclePrice(),
		RealizedPnl:  stats.RealizedPnl,
		TotalMatches: int(stats.TotalMatches),
		OpenBuys:     stats.OpenBuys,
		OpenSells:    stats.OpenSells,
		UpdatedAtMS:  time.Now().UnixMilli(),
	}
	if position, err := a.account.Position(ctx, a.cfg.Maker.Market); err == nil {
		snapshot.Position = position
	}
	if err := state.SaveSessionSnapshot(ctx, a.store, snapshot); err != nil {
		a.log.Warn("session snapshot save failed", zap.Error(err))
	}
}

func (a *App) notifyShutdown(ctx context.Context, result maker.ShutdownResult) {
	stats := a.fills.Stats()
	lines := []string{
		fmt.Sprintf("quoting stopped on %s", a.cfg.Maker.Market),
		fmt.Sprintf("realized_pnl: %.6f", stats.RealizedPnl),
		fmt.Sprintf("matches: %d", stats.TotalMatches),
		fmt.Sprintf("cancel_ok: %t flatten_ok: %t unsubscribe_ok: %t",
			result.CancelErr == nil, result.FlattenErr == nil, result.UnsubscribeErr == nil),
	}
	if err := a.alerts.Send(ctx, strings.Join(lines, "\n")); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}
}
