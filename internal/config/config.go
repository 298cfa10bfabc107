package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pairwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Reporting ReportingConfig `mapstructure:"reporting"`
	Retention RetentionConfig `mapstructure:"retention"`
	Exchanges ExchangesConfig `mapstructure:"exchanges"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	StartupAttempts int           `mapstructure:"startup_attempts"`
	StartupBackoff  time.Duration `mapstructure:"startup_backoff"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// IngestionConfig governs the polling loop.
type IngestionConfig struct {
	Exchanges    []string      `mapstructure:"exchanges"`
	ParsingLimit int           `mapstructure:"parsing_limit"`
	Interval     time.Duration `mapstructure:"interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	ArchiveDir   string        `mapstructure:"archive_dir"`
}

// ReportingConfig governs change detection and alert cadence.
type ReportingConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	ThresholdPct    float64       `mapstructure:"threshold_pct"`
	MaxMessageLen   int           `mapstructure:"max_message_len"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// RetentionConfig bounds stored history.
type RetentionConfig struct {
	Window        time.Duration `mapstructure:"window"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// ExchangesConfig holds per-adapter connectivity settings.
type ExchangesConfig struct {
	Aggregated AggregatedConfig `mapstructure:"aggregated"`
	Binance    BinanceConfig    `mapstructure:"binance"`
	Onchain    OnchainConfig    `mapstructure:"onchain"`
}

// AggregatedConfig covers the CoinMarketCap-style market-pairs endpoint.
type AggregatedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// BinanceConfig covers the native Binance API adapter.
type BinanceConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// OnchainConfig covers on-chain price feed access. Feeds maps a symbol to
// its aggregator contract address.
type OnchainConfig struct {
	RPCURL         string            `mapstructure:"rpc_url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// AlertingConfig defines alert routing and delivery limits.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	MaxAttempts int            `mapstructure:"max_attempts"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAIRWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pairwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("ingestion.exchanges", []string{"binance"})
	v.SetDefault("ingestion.parsing_limit", 500)
	v.SetDefault("ingestion.interval", "5m")
	v.SetDefault("ingestion.fetch_timeout", "30s")
	v.SetDefault("ingestion.archive_dir", "")

	v.SetDefault("reporting.interval", "10m")
	v.SetDefault("reporting.threshold_pct", 10.0)
	v.SetDefault("reporting.max_message_len", 4096)
	v.SetDefault("reporting.advisory_lock_key", int64(0x70777463))

	v.SetDefault("retention.window", "24h")
	v.SetDefault("retention.check_interval", "1h")

	v.SetDefault("exchanges.aggregated.base_url", "https://api.coinmarketcap.com/data-api/v3")
	v.SetDefault("exchanges.aggregated.request_timeout", "15s")
	v.SetDefault("exchanges.aggregated.user_agent", "pairwatch/1.0")
	v.SetDefault("exchanges.onchain.request_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.max_attempts", 4)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.query_timeout", "15s")
	v.SetDefault("database.startup_attempts", 5)
	v.SetDefault("database.startup_backoff", "2s")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Ingestion.Exchanges) == 0 {
		return fmt.Errorf("ingestion.exchanges must name at least one exchange")
	}
	if c.Ingestion.ParsingLimit <= 0 {
		return fmt.Errorf("ingestion.parsing_limit must be greater than zero")
	}
	if c.Ingestion.Interval <= 0 {
		return fmt.Errorf("ingestion.interval must be greater than zero")
	}
	if c.Reporting.Interval <= 0 {
		return fmt.Errorf("reporting.interval must be greater than zero")
	}
	if c.Reporting.ThresholdPct < 0 {
		return fmt.Errorf("reporting.threshold_pct cannot be negative")
	}
	if c.Reporting.MaxMessageLen <= 0 {
		return fmt.Errorf("reporting.max_message_len must be greater than zero")
	}
	if c.Retention.Window <= 0 {
		return fmt.Errorf("retention.window must be greater than zero")
	}
	if c.Retention.CheckInterval <= 0 {
		return fmt.Errorf("retention.check_interval must be greater than zero")
	}
	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("database.query_timeout must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
