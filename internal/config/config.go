package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"agilewatch/internal/analysis"
	"agilewatch/internal/logging"
	"agilewatch/internal/rates"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Provider ProviderConfig `mapstructure:"provider"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Database DatabaseConfig `mapstructure:"database"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ProviderConfig identifies the tariff to poll.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	ProductCode    string        `mapstructure:"product_code"`
	TariffCode     string        `mapstructure:"tariff_code"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	PageSize       int           `mapstructure:"page_size"`
}

// ScheduleConfig governs refresh cadence.
type ScheduleConfig struct {
	Timezone         string        `mapstructure:"timezone"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	FetchWindowStart string        `mapstructure:"fetch_window_start"`
	FetchWindowEnd   string        `mapstructure:"fetch_window_end"`
	RetryBase        time.Duration `mapstructure:"retry_base"`
	RetryMax         time.Duration `mapstructure:"retry_max"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
}

// AnalysisConfig holds window durations and classification thresholds.
type AnalysisConfig struct {
	WindowMinutes      []int   `mapstructure:"window_minutes"`
	SlotMinutes        int     `mapstructure:"slot_minutes"`
	CheapThreshold     float64 `mapstructure:"cheap_threshold"`
	ExpensiveThreshold float64 `mapstructure:"expensive_threshold"`
	VeryCheapBand      float64 `mapstructure:"very_cheap_band"`
	VeryExpensiveBand  float64 `mapstructure:"very_expensive_band"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. Persistence is off
// when DSN is empty.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// HTTPConfig configures the query API.
type HTTPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Listen          string        `mapstructure:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AlertingConfig routes change and problem notifications.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// TelegramConfig describes the Telegram sink.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// KafkaConfig describes the Kafka sink.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	RequiredAcks int           `mapstructure:"required_acks"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ExportConfig sets chart export behaviour.
type ExportConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AGILEWATCH")
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
	v.SetDefault("app.name", "agilewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("provider.base_url", "https://api.octopus.energy/v1")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.product_code", "AGILE-24-10-01")
	v.SetDefault("provider.tariff_code", "E-1R-AGILE-24-10-01-C")
	v.SetDefault("provider.request_timeout", "10s")
	v.SetDefault("provider.user_agent", "")
	v.SetDefault("provider.page_size", 100)

	v.SetDefault("schedule.timezone", "Europe/London")
	v.SetDefault("schedule.poll_interval", "30m")
	v.SetDefault("schedule.fetch_window_start", "16:00")
	v.SetDefault("schedule.fetch_window_end", "20:00")
	v.SetDefault("schedule.retry_base", "5m")
	v.SetDefault("schedule.retry_max", "30m")
	v.SetDefault("schedule.startup_delay", "0s")
	v.SetDefault("schedule.advisory_lock_key", int64(0x4147494c))

	v.SetDefault("analysis.window_minutes", []int{30, 60, 120, 180})
	v.SetDefault("analysis.slot_minutes", 30)
	v.SetDefault("analysis.cheap_threshold", 10.0)
	v.SetDefault("analysis.expensive_threshold", 30.0)
	v.SetDefault("analysis.very_cheap_band", 0.25)
	v.SetDefault("analysis.very_expensive_band", 0.75)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.listen", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")
	v.SetDefault("alerting.kafka.enabled", false)
	v.SetDefault("alerting.kafka.brokers", []string{})
	v.SetDefault("alerting.kafka.topic", "agilewatch.rates")
	v.SetDefault("alerting.kafka.required_acks", -1)
	v.SetDefault("alerting.kafka.write_timeout", "10s")

	v.SetDefault("export.width", 1280)
	v.SetDefault("export.height", 480)
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

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Provider.ProductCode == "" || c.Provider.TariffCode == "" {
		return fmt.Errorf("provider.product_code and provider.tariff_code are required")
	}
	if c.Provider.PageSize <= 0 {
		return fmt.Errorf("provider.page_size must be greater than zero")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Schedule.PollInterval <= 0 {
		return fmt.Errorf("schedule.poll_interval must be greater than zero")
	}
	w, err := c.FetchWindow()
	if err != nil {
		return err
	}
	if !w.Start.Before(w.End) {
		return fmt.Errorf("schedule.fetch_window_start %s must be before fetch_window_end %s", w.Start, w.End)
	}
	if c.Schedule.RetryBase <= 0 {
		return fmt.Errorf("schedule.retry_base must be greater than zero")
	}
	if c.Schedule.RetryMax < c.Schedule.RetryBase {
		return fmt.Errorf("schedule.retry_max must be at least schedule.retry_base")
	}
	if _, err := c.WindowDurations(); err != nil {
		return err
	}
	a := c.Analysis
	if a.CheapThreshold > a.ExpensiveThreshold {
		return fmt.Errorf("analysis.cheap_threshold must not exceed analysis.expensive_threshold")
	}
	if a.VeryCheapBand < 0 || a.VeryCheapBand > 1 || a.VeryExpensiveBand < 0 || a.VeryExpensiveBand > 1 {
		return fmt.Errorf("analysis very_cheap_band and very_expensive_band must be within [0,1]")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Alerting.Kafka.Enabled {
		if len(c.Alerting.Kafka.Brokers) == 0 {
			return fmt.Errorf("alerting.kafka.brokers is required")
		}
		if c.Alerting.Kafka.Topic == "" {
			return fmt.Errorf("alerting.kafka.topic is required")
		}
	}
	if c.Export.Width <= 0 || c.Export.Height <= 0 {
		return fmt.Errorf("export.width and export.height must be greater than zero")
	}
	return nil
}

// Location resolves the installation timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone %q: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}

// FetchWindow parses the tomorrow fetch window.
func (c *Config) FetchWindow() (rates.FetchWindow, error) {
	start, err := rates.ParseTimeOfDay(c.Schedule.FetchWindowStart)
	if err != nil {
		return rates.FetchWindow{}, fmt.Errorf("schedule.fetch_window_start: %w", err)
	}
	end, err := rates.ParseTimeOfDay(c.Schedule.FetchWindowEnd)
	if err != nil {
		return rates.FetchWindow{}, fmt.Errorf("schedule.fetch_window_end: %w", err)
	}
	return rates.FetchWindow{Start: start, End: end}, nil
}

// SlotLength returns the provider slot length.
func (c *Config) SlotLength() time.Duration {
	return time.Duration(c.Analysis.SlotMinutes) * time.Minute
}

// WindowDurations validates and converts the configured window lengths.
func (c *Config) WindowDurations() ([]time.Duration, error) {
	if c.Analysis.SlotMinutes <= 0 {
		return nil, &rates.ConfigError{Field: "analysis.slot_minutes", Reason: "must be greater than zero"}
	}
	seen := make(map[int]bool, len(c.Analysis.WindowMinutes))
	out := make([]time.Duration, 0, len(c.Analysis.WindowMinutes))
	for _, m := range c.Analysis.WindowMinutes {
		switch {
		case m <= 0:
			return nil, &rates.ConfigError{Field: "analysis.window_minutes", Reason: fmt.Sprintf("%d must be positive", m)}
		case m%c.Analysis.SlotMinutes != 0:
			return nil, &rates.ConfigError{Field: "analysis.window_minutes", Reason: fmt.Sprintf("%d is not a multiple of %d", m, c.Analysis.SlotMinutes)}
		case seen[m]:
			return nil, &rates.ConfigError{Field: "analysis.window_minutes", Reason: fmt.Sprintf("%d listed twice", m)}
		}
		seen[m] = true
		out = append(out, time.Duration(m)*time.Minute)
	}
	return out, nil
}

// Thresholds returns the initial classification thresholds.
func (c *Config) Thresholds() analysis.Thresholds {
	return analysis.Thresholds{
		Cheap:             c.Analysis.CheapThreshold,
		Expensive:         c.Analysis.ExpensiveThreshold,
		VeryCheapBand:     c.Analysis.VeryCheapBand,
		VeryExpensiveBand: c.Analysis.VeryExpensiveBand,
	}
}
