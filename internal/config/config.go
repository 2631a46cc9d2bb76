package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"coco-alerts/internal/engine"
	"coco-alerts/internal/logging"
	"coco-alerts/internal/scoring"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig                `mapstructure:"app"`
	Logging     logging.Config           `mapstructure:"logging"`
	Database    DatabaseConfig           `mapstructure:"database"`
	Redis       RedisConfig              `mapstructure:"redis"`
	Server      ServerConfig             `mapstructure:"server"`
	Scheduler   SchedulerConfig          `mapstructure:"scheduler"`
	Monitor     MonitorConfig            `mapstructure:"monitor"`
	Cooldown    engine.CooldownPolicy    `mapstructure:"cooldown"`
	MarketEvent engine.MarketEventPolicy `mapstructure:"market_event"`
	Delivery    engine.DeliveryPolicy    `mapstructure:"delivery"`
	Scoring     ScoringConfig            `mapstructure:"scoring"`
	Email       EmailConfig              `mapstructure:"email"`
	Advisor     AdvisorConfig            `mapstructure:"advisor"`
	Export      ExportConfig             `mapstructure:"export"`
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

// RedisConfig configures the shared snapshot cache. An empty Addr disables it.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

// ServerConfig configures the HTTP trigger endpoints.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CronSecret      string        `mapstructure:"cron_secret"`
}

// SchedulerConfig governs monitoring cadence.
type SchedulerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// MonitorConfig bounds per-cycle collaborator load.
type MonitorConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	InterBatchDelay time.Duration `mapstructure:"inter_batch_delay"`
	CycleTimeout    time.Duration `mapstructure:"cycle_timeout"`
}

// ScoringConfig groups the scorer tunables.
type ScoringConfig struct {
	Consistency scoring.ConsistencyParams `mapstructure:"consistency"`
	Health      scoring.HealthParams      `mapstructure:"health"`
	Composite   scoring.CompositeParams   `mapstructure:"composite"`
}

// EmailConfig describes the transactional mail API.
type EmailConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	APIURL          string        `mapstructure:"api_url"`
	APIKey          string        `mapstructure:"api_key"`
	From            string        `mapstructure:"from"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// AdvisorConfig configures the AI advisor provider chain.
type AdvisorConfig struct {
	Providers   []ProviderConfig `mapstructure:"providers"`
	MaxAttempts int              `mapstructure:"max_attempts"`
	DailyLimit  int              `mapstructure:"daily_limit"`
	Timeout     time.Duration    `mapstructure:"timeout"`
}

// ProviderConfig is one OpenAI-compatible completion endpoint.
type ProviderConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COCOALERTS")
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
	v.SetDefault("app.name", "coco-alerts")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.snapshot_ttl", "2m")
	v.SetDefault("redis.key_prefix", "cocoalerts:snapshot:")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.cron_secret", "")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "30m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("monitor.batch_size", 20)
	v.SetDefault("monitor.inter_batch_delay", "250ms")
	v.SetDefault("monitor.cycle_timeout", "10m")

	cooldown := engine.DefaultCooldownPolicy()
	v.SetDefault("cooldown.health_score", cooldown.HealthScore.String())
	v.SetDefault("cooldown.consistency_score", cooldown.ConsistencyScore.String())
	v.SetDefault("cooldown.price_drop", cooldown.PriceDrop.String())
	v.SetDefault("cooldown.migration", cooldown.Migration.String())
	v.SetDefault("cooldown.delisting", cooldown.Delisting.String())

	market := engine.DefaultMarketEventPolicy()
	v.SetDefault("market_event.total_candidates", market.TotalCandidates)
	v.SetDefault("market_event.price_drop_coins", market.PriceDropCoins)
	v.SetDefault("market_event.price_drop_candidates", market.PriceDropCandidates)
	v.SetDefault("market_event.recent_window", market.RecentWindow.String())
	v.SetDefault("market_event.recent_entries", market.RecentEntries)

	delivery := engine.DefaultDeliveryPolicy()
	v.SetDefault("delivery.max_per_hour", delivery.MaxPerHour)
	v.SetDefault("delivery.rate_window", delivery.RateWindow.String())
	v.SetDefault("delivery.batch_threshold", delivery.BatchThreshold)

	cons := scoring.DefaultConsistencyParams()
	v.SetDefault("scoring.consistency.lookback_days", cons.LookbackDays)
	v.SetDefault("scoring.consistency.developer_freq_baseline", cons.DeveloperFreqBaseline)
	v.SetDefault("scoring.consistency.social_freq_baseline", cons.SocialFreqBaseline)
	v.SetDefault("scoring.consistency.developer_staleness_max", cons.DeveloperStalenessMax)
	v.SetDefault("scoring.consistency.social_staleness_max", cons.SocialStalenessMax)
	v.SetDefault("scoring.consistency.developer_weight", cons.DeveloperWeight)
	v.SetDefault("scoring.consistency.social_weight", cons.SocialWeight)
	v.SetDefault("scoring.consistency.global_blend", cons.GlobalBlend)

	health := scoring.DefaultHealthParams()
	v.SetDefault("scoring.health.volume_weight", health.VolumeWeight)
	v.SetDefault("scoring.health.social_weight", health.SocialWeight)
	v.SetDefault("scoring.health.developer_weight", health.DeveloperWeight)
	v.SetDefault("scoring.health.turnover_saturation", health.TurnoverSaturation)
	v.SetDefault("scoring.health.follower_saturation", health.FollowerSaturation)
	v.SetDefault("scoring.health.star_fork_saturation", health.StarForkSaturation)
	v.SetDefault("scoring.health.social_half_life_days", health.SocialHalfLifeDays)
	v.SetDefault("scoring.health.dev_half_life_days", health.DevHalfLifeDays)

	composite := scoring.DefaultCompositeParams()
	v.SetDefault("scoring.composite.undervaluation_scale", composite.UndervaluationScale)
	v.SetDefault("scoring.composite.low_cap_fraction", composite.LowCapFraction)
	v.SetDefault("scoring.composite.mid_cap_fraction", composite.MidCapFraction)

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.api_url", "")
	v.SetDefault("email.from", "alerts@coco.local")
	v.SetDefault("email.timeout", "10s")
	v.SetDefault("email.rate_per_second", 5.0)
	v.SetDefault("email.burst", 5)
	v.SetDefault("email.breaker_failures", 5)
	v.SetDefault("email.breaker_cooldown", "1m")

	v.SetDefault("advisor.max_attempts", 3)
	v.SetDefault("advisor.daily_limit", 20)
	v.SetDefault("advisor.timeout", "30s")

	v.SetDefault("export.max_data_points", 100000)
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
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Monitor.BatchSize <= 0 {
		return fmt.Errorf("monitor.batch_size must be greater than zero")
	}
	if c.Monitor.InterBatchDelay < 0 {
		return fmt.Errorf("monitor.inter_batch_delay cannot be negative")
	}

	cooldowns := map[string]time.Duration{
		"cooldown.health_score":      c.Cooldown.HealthScore,
		"cooldown.consistency_score": c.Cooldown.ConsistencyScore,
		"cooldown.price_drop":        c.Cooldown.PriceDrop,
		"cooldown.migration":         c.Cooldown.Migration,
		"cooldown.delisting":         c.Cooldown.Delisting,
	}
	for key, d := range cooldowns {
		if d <= 0 {
			return fmt.Errorf("%s must be greater than zero", key)
		}
	}

	if c.MarketEvent.TotalCandidates <= 0 || c.MarketEvent.PriceDropCoins <= 0 ||
		c.MarketEvent.PriceDropCandidates <= 0 || c.MarketEvent.RecentEntries <= 0 {
		return fmt.Errorf("market_event thresholds must be greater than zero")
	}
	if c.MarketEvent.RecentWindow <= 0 {
		return fmt.Errorf("market_event.recent_window must be greater than zero")
	}

	if c.Delivery.MaxPerHour <= 0 {
		return fmt.Errorf("delivery.max_per_hour must be greater than zero")
	}
	if c.Delivery.RateWindow <= 0 {
		return fmt.Errorf("delivery.rate_window must be greater than zero")
	}
	if c.Delivery.BatchThreshold <= 0 {
		return fmt.Errorf("delivery.batch_threshold must be greater than zero")
	}

	weights := map[string]float64{
		"scoring.consistency.developer_weight": c.Scoring.Consistency.DeveloperWeight,
		"scoring.consistency.social_weight":    c.Scoring.Consistency.SocialWeight,
		"scoring.consistency.global_blend":     c.Scoring.Consistency.GlobalBlend,
		"scoring.composite.low_cap_fraction":   c.Scoring.Composite.LowCapFraction,
		"scoring.composite.mid_cap_fraction":   c.Scoring.Composite.MidCapFraction,
	}
	for key, w := range weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be within [0,1]", key)
		}
	}
	if c.Scoring.Consistency.LookbackDays <= 0 {
		return fmt.Errorf("scoring.consistency.lookback_days must be greater than zero")
	}

	if c.Email.Enabled && c.Email.APIURL == "" {
		return fmt.Errorf("email.api_url is required when email is enabled")
	}
	if c.Advisor.MaxAttempts <= 0 {
		return fmt.Errorf("advisor.max_attempts must be greater than zero")
	}
	for i, p := range c.Advisor.Providers {
		if p.BaseURL == "" || p.Model == "" {
			return fmt.Errorf("advisor.providers[%d] requires base_url and model", i)
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
