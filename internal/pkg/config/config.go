package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	NATS          NATSConfig          `mapstructure:"nats"`
	Valkey        ValkeyConfig        `mapstructure:"valkey"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Heatmap       HeatmapConfig       `mapstructure:"heatmap"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Breaker       BreakerConfig       `mapstructure:"breaker"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    int           `mapstructure:"read_timeout"`
	WriteTimeout   int           `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AllowOrigins   string        `mapstructure:"allow_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// Report store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver" validate:"oneof=postgres memory"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

// HeatmapConfig tunes the freshness coordinator and the report query.
type HeatmapConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	Lookback       time.Duration `mapstructure:"lookback"`
}

// Notification drivers.
const (
	DriverNATS     = "nats"
	DriverValkey   = "valkey"
	DriverPostgres = "postgres"
)

// NotificationsConfig selects where report-inserted signals come from.
type NotificationsConfig struct {
	Driver  string `mapstructure:"driver" validate:"oneof=nats valkey postgres"`
	Subject string `mapstructure:"subject" validate:"required"`
	Channel string `mapstructure:"channel" validate:"required"`
}

// BreakerConfig guards the report store.
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

var validate = validator.New()

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	// .env is optional and never overrides variables already set.
	_ = godotenv.Load()

	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.allow_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.driver", StoreDriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "roadreport")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "roadreport")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("heatmap.poll_interval", 90*time.Second)
	v.SetDefault("heatmap.debounce_window", 5*time.Second)
	v.SetDefault("heatmap.lookback", 30*24*time.Hour)
	v.SetDefault("notifications.driver", DriverNATS)
	v.SetDefault("notifications.subject", "reports.inserted")
	v.SetDefault("notifications.channel", "condition_report_inserted")
	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.open_timeout", 30*time.Second)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// Environment variables: ROADREPORT_DATABASE_HOST → database.host
	v.SetEnvPrefix("ROADREPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "server.request_timeout must be positive")
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Heatmap.PollInterval <= 0 {
		errs = append(errs, "heatmap.poll_interval must be positive")
	}
	if c.Heatmap.DebounceWindow <= 0 {
		errs = append(errs, "heatmap.debounce_window must be positive")
	}
	if c.Heatmap.Lookback < 0 {
		errs = append(errs, "heatmap.lookback must not be negative")
	}
	if c.Breaker.MaxFailures == 0 {
		errs = append(errs, "breaker.max_failures must be positive")
	}
	if c.Breaker.OpenTimeout <= 0 {
		errs = append(errs, "breaker.open_timeout must be positive")
	}

	for _, section := range []struct {
		name string
		v    any
	}{
		{"log", c.Log},
		{"database", c.Database},
		{"notifications", c.Notifications},
	} {
		err := validate.Struct(section.v)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("%s.%s: %v is not allowed (%s)",
					section.name, strings.ToLower(fe.Field()), fe.Value(), fe.Tag()))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
