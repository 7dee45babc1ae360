// Package config defines the top-level configuration for the pair trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PAIRBOT_* environment
// variables.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Groups    []GroupConfig   `toml:"groups"`
	Risk      RiskConfig      `toml:"risk"`
	Binance   BinanceConfig   `toml:"binance"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// EngineConfig holds core loop parameters.
type EngineConfig struct {
	Venue string `toml:"venue"` // "binance" or "sim"
	// QuoteQueueSize bounds the conflating inbound quote queue.
	QuoteQueueSize int `toml:"quote_queue_size"`
	// OrderEventBuffer bounds the order callback channel. Order events are
	// never dropped; the channel only smooths bursts.
	OrderEventBuffer int `toml:"order_event_buffer"`
	// ExpirySweep is how often resting unfilled orders are checked against
	// their opportunity expiry.
	ExpirySweep Duration `toml:"expiry_sweep"`
}

// GroupConfig describes one monitored instrument group: a reference
// instrument and a dependent instrument presumed price-linked.
type GroupConfig struct {
	ID        string           `toml:"id"`
	Reference InstrumentConfig `toml:"reference"`
	Dependent InstrumentConfig `toml:"dependent"`
	// Window is the number of paired observations in the rolling regression.
	Window int `toml:"window"`
	// MinObservations gates signal emission; below it confidence is 0.
	MinObservations int `toml:"min_observations"`
	// ZScoreThreshold is the significance gate on |residual|/residual_std.
	ZScoreThreshold float64 `toml:"zscore_threshold"`
	// MaxStaleness bounds the age of either leg's snapshot when pairing.
	MaxStaleness Duration `toml:"max_staleness"`
	// FeeBps is the assumed taker fee per leg, in basis points.
	FeeBps float64 `toml:"fee_bps"`
	// TradeSize is the requested size per opportunity, in dependent units.
	TradeSize float64 `toml:"trade_size"`
	// MinTTL floors the latency-derived opportunity expiry.
	MinTTL Duration `toml:"min_ttl"`
}

// InstrumentConfig identifies one venue-qualified instrument.
type InstrumentConfig struct {
	Venue        string  `toml:"venue"`
	Symbol       string  `toml:"symbol"`
	TickSize     float64 `toml:"tick_size"`
	MinOrderSize float64 `toml:"min_order_size"`
}

// RiskConfig holds pre-trade exposure limits. Aggregate limits span all
// groups touching a given instrument.
type RiskConfig struct {
	// MaxInstrumentNotional caps absolute exposure per instrument.
	MaxInstrumentNotional float64 `toml:"max_instrument_notional"`
	// MaxAggregateNotional caps summed absolute exposure across instruments.
	MaxAggregateNotional float64 `toml:"max_aggregate_notional"`
	// MaxSnapshotAge rejects trading decisions made from stale prices.
	MaxSnapshotAge Duration `toml:"max_snapshot_age"`
	// RetryBudget bounds query-then-act reconciliation attempts per order.
	RetryBudget int `toml:"retry_budget"`
}

// BinanceConfig holds Binance endpoints and credentials.
type BinanceConfig struct {
	WsHost    string `toml:"ws_host"`
	RestHost  string `toml:"rest_host"`
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
}

// PostgresConfig holds PostgreSQL connection parameters for the event store.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the signal bus.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for telemetry
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// Prefix is prepended to every uploaded object key.
	Prefix string `toml:"prefix"`
	// Retention is how long orders and opportunities stay in Postgres before
	// the retention job archives them to the bucket. Zero disables it.
	Retention Duration `toml:"retention"`
	// DeleteUploaded removes local telemetry files after a successful upload.
	DeleteUploaded bool `toml:"delete_uploaded"`
}

// TelemetryConfig holds the CSV sink parameters.
type TelemetryConfig struct {
	Dir string `toml:"dir"`
	// RotateSize rotates the current file once it exceeds this many bytes.
	RotateSize int64 `toml:"rotate_size"`
	// RotateEvery rotates on a timer regardless of size.
	RotateEvery Duration `toml:"rotate_every"`
	// RecordQuotes enables per-quote rows (high volume; off by default).
	RecordQuotes bool `toml:"record_quotes"`
}

// NotifyConfig holds operator alert channels. A channel is active when its
// credential fields are set; with no channels configured alerting is off.
type NotifyConfig struct {
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`
	DiscordWebhook string `toml:"discord_webhook"`
	// Events lists the telemetry kinds forwarded to the channels. Empty
	// means terminal orders and risk rejections.
	Events []string `toml:"events"`
}

// Duration wraps time.Duration so TOML values like "500ms" parse directly.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Venue:            "sim",
			QuoteQueueSize:   1024,
			OrderEventBuffer: 256,
			ExpirySweep:      Duration{250 * time.Millisecond},
		},
		Risk: RiskConfig{
			MaxInstrumentNotional: 10_000,
			MaxAggregateNotional:  25_000,
			MaxSnapshotAge:        Duration{2 * time.Second},
			RetryBudget:           3,
		},
		Binance: BinanceConfig{
			WsHost:   "wss://stream.binance.com:9443",
			RestHost: "https://api.binance.com",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			StreamMaxLen: 10000,
		},
		Telemetry: TelemetryConfig{
			Dir:         "telemetry",
			RotateSize:  32 << 20,
			RotateEvery: Duration{time.Hour},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// Validate checks the configuration for fatal errors. A failed validation
// prevents process start.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "trade", "monitor", "paper":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Engine.Venue != "binance" && c.Engine.Venue != "sim" {
		return fmt.Errorf("config: unsupported venue %q", c.Engine.Venue)
	}
	if c.Engine.Venue == "binance" && c.Binance.WsHost == "" {
		return fmt.Errorf("config: binance venue requires ws_host")
	}

	if len(c.Groups) == 0 {
		return fmt.Errorf("config: at least one [[groups]] entry is required")
	}
	seen := make(map[string]bool, len(c.Groups))
	for i := range c.Groups {
		g := &c.Groups[i]
		if g.ID == "" {
			return fmt.Errorf("config: groups[%d]: id is required", i)
		}
		if seen[g.ID] {
			return fmt.Errorf("config: duplicate group id %q", g.ID)
		}
		seen[g.ID] = true
		if err := validateInstrument(g.ID, "reference", g.Reference); err != nil {
			return err
		}
		if err := validateInstrument(g.ID, "dependent", g.Dependent); err != nil {
			return err
		}
		if g.Window < 2 {
			return fmt.Errorf("config: group %q: window must be >= 2", g.ID)
		}
		if g.MinObservations < 2 || g.MinObservations > g.Window {
			return fmt.Errorf("config: group %q: min_observations must be in [2, window]", g.ID)
		}
		if g.ZScoreThreshold <= 0 {
			return fmt.Errorf("config: group %q: zscore_threshold must be positive", g.ID)
		}
		if g.MaxStaleness.Duration <= 0 {
			return fmt.Errorf("config: group %q: max_staleness must be positive", g.ID)
		}
		if g.TradeSize <= 0 {
			return fmt.Errorf("config: group %q: trade_size must be positive", g.ID)
		}
		if g.FeeBps < 0 {
			return fmt.Errorf("config: group %q: fee_bps must be non-negative", g.ID)
		}
		if g.MinTTL.Duration <= 0 {
			return fmt.Errorf("config: group %q: min_ttl must be positive", g.ID)
		}
	}

	if c.Risk.MaxInstrumentNotional <= 0 || c.Risk.MaxAggregateNotional <= 0 {
		return fmt.Errorf("config: risk limits must be positive")
	}
	if c.Risk.MaxAggregateNotional < c.Risk.MaxInstrumentNotional {
		return fmt.Errorf("config: aggregate risk limit below per-instrument limit")
	}
	if c.Risk.RetryBudget < 0 {
		return fmt.Errorf("config: retry_budget must be non-negative")
	}

	if c.Postgres.Enabled && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		return fmt.Errorf("config: postgres enabled but no dsn or host")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("config: s3 enabled but no bucket")
	}
	return nil
}

func validateInstrument(group, leg string, ic InstrumentConfig) error {
	if ic.Venue == "" || ic.Symbol == "" {
		return fmt.Errorf("config: group %q: %s instrument needs venue and symbol", group, leg)
	}
	if ic.TickSize < 0 || ic.MinOrderSize < 0 {
		return fmt.Errorf("config: group %q: %s instrument sizes must be non-negative", group, leg)
	}
	return nil
}
