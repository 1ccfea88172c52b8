package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	WS        WSConfig        `yaml:"ws"`
	State     StateConfig     `yaml:"state"`
	Maker     MakerConfig     `yaml:"maker"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// MakerConfig drives the quoting engine. Spread and skew values are in
// basis points relative to the oracle price.
type MakerConfig struct {
	Market             string        `yaml:"market"`
	OrderSize          float64       `yaml:"order_size"`
	MaxPosition        float64       `yaml:"max_position"`
	BaseSpreadBps      float64       `yaml:"base_spread_bps"`
	MaxSkewBps         float64       `yaml:"max_skew_bps"`
	Debounce           time.Duration `yaml:"debounce"`
	ChangeThresholdBps float64       `yaml:"change_threshold_bps"`
	FlattenSlippageBps float64       `yaml:"flatten_slippage_bps"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = deriveWSURL(cfg.REST.BaseURL)
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hl-oracle-maker.db"
	}
	if cfg.Maker.BaseSpreadBps == 0 {
		cfg.Maker.BaseSpreadBps = 2
	}
	if cfg.Maker.MaxSkewBps == 0 {
		cfg.Maker.MaxSkewBps = 10
	}
	if cfg.Maker.Debounce == 0 {
		cfg.Maker.Debounce = 500 * time.Millisecond
	}
	if cfg.Maker.ChangeThresholdBps == 0 {
		cfg.Maker.ChangeThresholdBps = 5
	}
	if cfg.Maker.FlattenSlippageBps == 0 {
		cfg.Maker.FlattenSlippageBps = 50
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("HL_TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("HL_TELEGRAM_CHAT_ID")); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(os.Getenv("HL_TIMESCALE_DSN")); v != "" {
		cfg.Timescale.DSN = v
	}
}

func validate(cfg *Config) error {
	if cfg.Maker.Market == "" {
		return errors.New("maker.market is required")
	}
	if cfg.Maker.OrderSize <= 0 {
		return errors.New("maker.order_size must be > 0")
	}
	if cfg.Maker.MaxPosition <= 0 {
		return errors.New("maker.max_position must be > 0")
	}
	if cfg.Maker.BaseSpreadBps <= 0 {
		return errors.New("maker.base_spread_bps must be > 0")
	}
	if cfg.Maker.MaxSkewBps < 0 {
		return errors.New("maker.max_skew_bps must be >= 0")
	}
	if cfg.Maker.Debounce < 0 {
		return errors.New("maker.debounce must be >= 0")
	}
	if cfg.Maker.ChangeThresholdBps < 0 {
		return errors.New("maker.change_threshold_bps must be >= 0")
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale.enabled")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram.enabled")
	}
	return nil
}

func deriveWSURL(baseURL string) string {
	url := strings.TrimSuffix(baseURL, "/")
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/ws"
}
