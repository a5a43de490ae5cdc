package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"x402arcade/internal/logging"
	"x402arcade/internal/x402"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Payment    PaymentConfig    `mapstructure:"payment"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	PrizePool  PrizePoolConfig  `mapstructure:"prize_pool"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig governs the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// PaymentConfig describes what a valid arcade payment looks like.
type PaymentConfig struct {
	Token            string        `mapstructure:"token"`
	Recipient        string        `mapstructure:"recipient"`
	Amount           string        `mapstructure:"amount"`
	Network          string        `mapstructure:"network"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	VerifySignatures bool          `mapstructure:"verify_signatures"`
	Domain           x402.Domain   `mapstructure:"domain"`
}

// ChainConfig covers on-chain data access for balance pre-checks.
type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	BalanceCheck   bool          `mapstructure:"balance_check"`
}

// SettlementConfig tunes the simulated broadcast path.
type SettlementConfig struct {
	Latency     time.Duration `mapstructure:"latency"`
	Jitter      time.Duration `mapstructure:"jitter"`
	FailureRate float64       `mapstructure:"failure_rate"`
	StartBlock  uint64        `mapstructure:"start_block"`
}

// PrizePoolConfig governs fee extraction and payout tiers.
type PrizePoolConfig struct {
	FeePercent       float64   `mapstructure:"fee_percent"`
	Percentages      []float64 `mapstructure:"percentages"`
	MinDistributable float64   `mapstructure:"min_distributable"`
}

// RateLimitConfig bounds per-wallet request rates on payment endpoints.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// NotifyConfig defines prize notification routing.
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram notification parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// JobsConfig drives the background schedulers.
type JobsConfig struct {
	FinalizeInterval time.Duration `mapstructure:"finalize_interval"`
	FinalizeOffset   time.Duration `mapstructure:"finalize_offset"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("X402ARCADE")
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
	v.SetDefault("app.name", "x402arcade")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("payment.token", "0xc01efAaF7C5C61bEbFAeb358E1161b537b8bC0e0")
	v.SetDefault("payment.amount", "10000")
	v.SetDefault("payment.network", "cronos-testnet")
	v.SetDefault("payment.session_ttl", "30m")
	v.SetDefault("payment.verify_signatures", false)
	v.SetDefault("payment.domain.name", "Bridged USDC (Stargate)")
	v.SetDefault("payment.domain.version", "1")
	v.SetDefault("payment.domain.chain_id", int64(338))
	v.SetDefault("payment.domain.verifying_contract", "0xc01efAaF7C5C61bEbFAeb358E1161b537b8bC0e0")

	v.SetDefault("chain.request_timeout", "10s")
	v.SetDefault("chain.balance_check", false)

	v.SetDefault("settlement.latency", "150ms")
	v.SetDefault("settlement.jitter", "100ms")
	v.SetDefault("settlement.failure_rate", 0.0)

	v.SetDefault("prize_pool.fee_percent", 30.0)
	v.SetDefault("prize_pool.percentages", []float64{50, 30, 20})
	v.SetDefault("prize_pool.min_distributable", 1.0)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 10)
	v.SetDefault("rate_limit.window", "15m")

	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("jobs.finalize_interval", "24h")
	v.SetDefault("jobs.finalize_offset", "5m")
	v.SetDefault("jobs.cleanup_interval", "5m")
	v.SetDefault("jobs.advisory_lock_key", int64(0x78343032))
	v.SetDefault("jobs.startup_delay", "0s")
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
	if c.Payment.Recipient == "" {
		return fmt.Errorf("payment.recipient is required")
	}
	if c.Payment.Amount == "" {
		return fmt.Errorf("payment.amount is required")
	}
	if c.Settlement.FailureRate < 0 || c.Settlement.FailureRate > 1 {
		return fmt.Errorf("settlement.failure_rate must be within [0, 1]")
	}
	if c.PrizePool.FeePercent < 0 || c.PrizePool.FeePercent >= 100 {
		return fmt.Errorf("prize_pool.fee_percent must be within [0, 100)")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Requests <= 0 {
			return fmt.Errorf("rate_limit.requests must be greater than zero")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate_limit.window must be greater than zero")
		}
	}
	if c.Jobs.FinalizeInterval <= 0 {
		return fmt.Errorf("jobs.finalize_interval must be greater than zero")
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token is required")
		}
		if c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram.chat_id is required")
		}
	}
	return nil
}
