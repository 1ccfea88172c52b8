package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hl-oracle-maker/internal/config"
	"hl-oracle-maker/internal/exec"
	"hl-oracle-maker/internal/hl/exchange"
	"hl-oracle-maker/internal/hl/rest"
	"hl-oracle-maker/internal/logging"
	"hl-oracle-maker/internal/maker"
	"hl-oracle-maker/internal/market"
	"hl-oracle-maker/internal/state"
	"hl-oracle-maker/internal/state/sqlite"

	"go.uber.org/zap"
)

const (
	defaultRESTTimeout   = 10 * time.Second
	defaultRESTBaseURL   = "https://api.hyperliquid.xyz"
	defaultVerifyEnvFile = ".env"
)

// verify derives the quote pair the bot would post right now and, unless
// -dry-run is set, places the bid post-only and cancels it again. That
// exercises the whole signing and order path without leaving exposure.
func main() {
	configPath := flag.String("config", "", "optional config path for REST and maker settings")
	marketFlag := flag.String("market", "", "perp market to quote (overrides config)")
	position := flag.Float64("position", 0, "hypothetical signed position for the skew calculation")
	dryRun := flag.Bool("dry-run", false, "print the derived quotes and exit")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}

	logCfg := config.LoggingConfig{Level: "info"}
	baseURL := defaultRESTBaseURL
	timeout := defaultRESTTimeout
	makerCfg := maker.Config{
		OrderSize:     0.01,
		MaxPosition:   1,
		BaseSpreadBps: 2,
		MaxSkewBps:    10,
	}
	statePath := "data/hl-oracle-maker.db"
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
		logCfg = cfg.Log
		if cfg.REST.BaseURL != "" {
			baseURL = cfg.REST.BaseURL
		}
		if cfg.REST.Timeout > 0 {
			timeout = cfg.REST.Timeout
		}
		if cfg.State.SQLitePath != "" {
			statePath = cfg.State.SQLitePath
		}
		makerCfg.Market = cfg.Maker.Market
		makerCfg.OrderSize = cfg.Maker.OrderSize
		makerCfg.MaxPosition = cfg.Maker.MaxPosition
		makerCfg.BaseSpreadBps = cfg.Maker.BaseSpreadBps
		makerCfg.MaxSkewBps = cfg.Maker.MaxSkewBps
	}
	if *marketFlag != "" {
		makerCfg.Market = strings.ToUpper(strings.TrimSpace(*marketFlag))
	}
	if envMarket := strings.TrimSpace(os.Getenv("HL_VERIFY_MARKET")); makerCfg.Market == "" && envMarket != "" {
		makerCfg.Market = strings.ToUpper(envMarket)
	}
	if makerCfg.Market == "" {
		fatal(errors.New("a market is required: pass -market, -config or HL_VERIFY_MARKET"))
	}
	if envVal, ok, err := floatEnv("HL_VERIFY_ORDER_SIZE"); err != nil {
		fatal(err)
	} else if ok {
		makerCfg.OrderSize = envVal
	}

	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	restClient := rest.New(baseURL, timeout, log)
	feed := market.New(restClient, nil, makerCfg.Market, log)
	ctx := context.Background()
	if err := feed.RefreshContexts(ctx); err != nil {
		fatal(err)
	}
	perp, ok := feed.Context(makerCfg.Market)
	if !ok {
		fatal(fmt.Errorf("market %q not listed on the venue", makerCfg.Market))
	}
	oracle, err := feed.OraclePrice(ctx)
	if err != nil {
		fatal(err)
	}

	quote := maker.ComputeQuote(*position, makerCfg)
	fmt.Printf("market=%s asset_index=%d sz_decimals=%d oracle=%.6f position=%.6f\n",
		makerCfg.Market, perp.Index, perp.SzDecimals, oracle, *position)
	fmt.Printf("bid: offset=%.4fbps price=%.6f size=%.6f\n", quote.BidOffsetBps, quote.BidPrice(oracle), quote.BidSize)
	fmt.Printf("ask: offset=%.4fbps price=%.6f size=%.6f\n", quote.AskOffsetBps, quote.AskPrice(oracle), quote.AskSize)
	if err := quote.Validate(); err != nil {
		fatal(fmt.Errorf("quote would be dropped: %w", err))
	}
	if *dryRun {
		return
	}

	wallet := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	if wallet == "" {
		fatal(errors.New("HL_WALLET_ADDRESS is required"))
	}
	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if privateKey == "" {
		fatal(errors.New("HL_PRIVATE_KEY is required"))
	}
	isMainnet := !strings.Contains(strings.ToLower(baseURL), "testnet")
	signer, err := exchange.NewSigner(privateKey, isMainnet)
	if err != nil {
		fatal(err)
	}
	if !strings.EqualFold(wallet, signer.Address().Hex()) {
		fatal(fmt.Errorf("wallet address does not match private key: got %s expected %s", wallet, signer.Address().Hex()))
	}
	exClient, err := exchange.NewClient(baseURL, timeout, signer, "")
	if err != nil {
		fatal(err)
	}
	exClient.SetLogger(log)

	store, err := openStore(statePath, log)
	if err != nil {
		fatal(err)
	}
	if store != nil {
		defer store.Close()
		if err := exClient.InitNonceStore(ctx, store); err != nil {
			log.Warn("nonce store init failed", zap.Error(err))
		}
	}

	var seqStore state.Store
	if store != nil {
		seqStore = store
	}
	gateway := exec.New(exClient, feed, nil, seqStore, 0, log)
	spec := maker.OrderSpec{
		Market:   makerCfg.Market,
		Side:     maker.SideBuy,
		Type:     maker.OrderTypeLimit,
		Size:     makerCfg.OrderSize,
		Price:    quote.BidPrice(oracle),
		PostOnly: true,
	}
	if err := gateway.Place(ctx, spec); err != nil {
		fatal(fmt.Errorf("place verify bid: %w", err))
	}
	fmt.Printf("verify bid placed: order_ids=%v\n", gateway.TrackedOrders())
	if err := gateway.CancelAll(ctx, makerCfg.Market); err != nil {
		fatal(fmt.Errorf("cancel verify bid: %w", err))
	}
	fmt.Println("verify bid canceled")
}

func openStore(path string, log *zap.Logger) (*sqlite.Store, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn("state dir create failed", zap.Error(err))
		return nil, nil
	}
	store, err := sqlite.New(path)
	if err != nil {
		log.Warn("state store open failed", zap.Error(err))
		return nil, nil
	}
	return store, nil
}

func floatEnv(key string) (float64, bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0, false, nil
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, true, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
