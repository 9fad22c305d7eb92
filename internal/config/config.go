package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"stock-price-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App            AppConfig            `mapstructure:"app"`
	Logging        logging.Config       `mapstructure:"logging"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Provider       ProviderConfig       `mapstructure:"provider"`
	Quotes         QuotesConfig         `mapstructure:"quotes"`
	OperatingHours OperatingHoursConfig `mapstructure:"operating_hours"`
	Alerting       AlertingConfig       `mapstructure:"alerting"`
	State          StateConfig          `mapstructure:"state"`
	Notifications  NotificationsConfig  `mapstructure:"notifications"`
	Scheduler      SchedulerConfig      `mapstructure:"scheduler"`
	Server         ServerConfig         `mapstructure:"server"`
	Export         ExportConfig         `mapstructure:"export"`
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
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// CacheConfig selects the quote cache backend.
type CacheConfig struct {
	Backend        string        `mapstructure:"backend"`
	StaleRetention time.Duration `mapstructure:"stale_retention"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	Redis          RedisConfig   `mapstructure:"redis"`
}

// RedisConfig covers the optional shared cache tier.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ProviderConfig captures market-data provider connectivity.
type ProviderConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	APIKey             string        `mapstructure:"api_key"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	UserAgent          string        `mapstructure:"user_agent"`
}

// QuotesConfig governs quote freshness and failure handling.
type QuotesConfig struct {
	PollingInterval       time.Duration `mapstructure:"polling_interval"`
	CacheGrace            time.Duration `mapstructure:"cache_grace"`
	FailureSimulation     bool          `mapstructure:"failure_simulation"`
	FailureNotifyThrottle time.Duration `mapstructure:"failure_notify_throttle"`
	HistoryRetention      time.Duration `mapstructure:"history_retention"`
}

// OperatingHoursConfig restricts upstream calls to a daily window.
type OperatingHoursConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	StartHour int    `mapstructure:"start_hour"`
	EndHour   int    `mapstructure:"end_hour"`
	Timezone  string `mapstructure:"timezone"`
}

// AlertingConfig defines alert evaluation behaviour.
type AlertingConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	RearmPct            float64       `mapstructure:"rearm_pct"`
	EvaluationInterval  time.Duration `mapstructure:"evaluation_interval"`
	DispatchConcurrency int           `mapstructure:"dispatch_concurrency"`
	FetchConcurrency    int           `mapstructure:"fetch_concurrency"`
}

// StateConfig governs alert state persistence.
type StateConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// NotificationsConfig configures delivery channels.
type NotificationsConfig struct {
	DefaultChannel string         `mapstructure:"default_channel"`
	Timeout        time.Duration  `mapstructure:"timeout"`
	Expo           ExpoConfig     `mapstructure:"expo"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// ExpoConfig describes the Expo push gateway.
type ExpoConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	APIBase     string `mapstructure:"api_base"`
	AccessToken string `mapstructure:"access_token"`
}

// TelegramConfig describes Telegram delivery.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// SchedulerConfig governs cycle cadence.
type SchedulerConfig struct {
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	PruneAt         string        `mapstructure:"prune_at"`
}

// ServerConfig sets the HTTP API listener.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	cfg, _, err := load(path)
	return cfg, err
}

func load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKALERTS")
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
		return nil, nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
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
	v.SetDefault("app.name", "stockalerts")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service", "stockalerts")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.stale_retention", "24h")
	v.SetDefault("cache.sweep_interval", "10m")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.key_prefix", "stockalerts")

	v.SetDefault("provider.base_url", "https://finnhub.io/api/v1")
	v.SetDefault("provider.request_timeout", "8s")
	v.SetDefault("provider.rate_limit_per_minute", 60)

	v.SetDefault("quotes.polling_interval", "60s")
	v.SetDefault("quotes.cache_grace", "5s")
	v.SetDefault("quotes.failure_simulation", false)
	v.SetDefault("quotes.failure_notify_throttle", "5m")
	v.SetDefault("quotes.history_retention", "720h")

	v.SetDefault("operating_hours.enabled", false)
	v.SetDefault("operating_hours.start_hour", 9)
	v.SetDefault("operating_hours.end_hour", 16)
	v.SetDefault("operating_hours.timezone", "America/New_York")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.cooldown", "15m")
	v.SetDefault("alerting.rearm_pct", 2.0)
	v.SetDefault("alerting.evaluation_interval", "5m")
	v.SetDefault("alerting.dispatch_concurrency", 8)
	v.SetDefault("alerting.fetch_concurrency", 4)

	v.SetDefault("state.flush_interval", "0s")

	v.SetDefault("notifications.default_channel", "expo")
	v.SetDefault("notifications.timeout", "10s")
	v.SetDefault("notifications.expo.enabled", false)
	v.SetDefault("notifications.expo.api_base", "https://exp.host/--/api/v2")
	v.SetDefault("notifications.telegram.enabled", false)
	v.SetDefault("notifications.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x53544b41))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.prune_at", "03:30")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("export.max_data_points", 5000)
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
// Operating hours bounds are deliberately not validated here: a malformed
// window fails open at evaluation time instead of preventing startup.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Quotes.PollingInterval <= 0 {
		return fmt.Errorf("quotes.polling_interval must be greater than zero")
	}
	if c.Quotes.CacheGrace < 0 {
		return fmt.Errorf("quotes.cache_grace cannot be negative")
	}
	if c.Alerting.EvaluationInterval <= 0 {
		return fmt.Errorf("alerting.evaluation_interval must be greater than zero")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Alerting.RearmPct < 0 {
		return fmt.Errorf("alerting.rearm_pct cannot be negative")
	}
	if c.State.FlushInterval < 0 {
		return fmt.Errorf("state.flush_interval cannot be negative")
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	if c.Notifications.Telegram.Enabled && c.Notifications.Telegram.BotToken == "" {
		return fmt.Errorf("notifications.telegram.bot_token must be set when telegram is enabled")
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

// Runtime extracts the subset of settings that may change while running.
func (c *Config) Runtime() Runtime {
	return Runtime{
		PollingInterval:   c.Quotes.PollingInterval,
		CacheGrace:        c.Quotes.CacheGrace,
		FailureSimulation: c.Quotes.FailureSimulation,
		OperatingHours:    c.OperatingHours,
		Cooldown:          c.Alerting.Cooldown,
		RearmPct:          c.Alerting.RearmPct,
	}
}
