// Package config loads service configuration from an optional .env file, an
// optional YAML file and DIAGNOSURE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"diagnosure/internal/llm"
	"diagnosure/pkg"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "DIAGNOSURE"

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Storage   StorageConfig  `mapstructure:"storage"`
	Oracle    OracleConfig   `mapstructure:"oracle"`
	Auth      AuthConfig     `mapstructure:"auth"`
	Sessions  SessionConfig  `mapstructure:"sessions"`
	Report    ReportConfig   `mapstructure:"report"`
	Logging   LoggingConfig  `mapstructure:"logging"`
	Hospitals []pkg.Hospital `mapstructure:"hospitals"`
	Slots     []string       `mapstructure:"slots"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects the booking store.  Driver is "sqlite" or "postgres".
type StorageConfig struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	Migrate       bool   `mapstructure:"migrate"`
	NotifyChannel string `mapstructure:"notify_channel"`
}

// OracleConfig configures the diagnosis oracle.  APIKey is the default
// credential for new sessions and may be empty.
type OracleConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	llm.Config `mapstructure:",squash"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type SessionConfig struct {
	MaxSessions int           `mapstructure:"max_sessions"`
	IdleTTL     time.Duration `mapstructure:"idle_ttl"`
}

type ReportConfig struct {
	FontPath string `mapstructure:"font_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the configuration.  configFile may be empty, in which case
// config.yaml is looked up in the working directory and ./config.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the conventional OpenAI variable also works
	if err := v.BindEnv("oracle.api_key", EnvPrefix+"_ORACLE_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.sqlite_path", "./data/diagnosure.db")
	v.SetDefault("storage.migrate", true)
	v.SetDefault("storage.notify_channel", "booking_updates")

	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.timeout", 45*time.Second)
	v.SetDefault("oracle.base_url", "")
	v.SetDefault("oracle.model", "gpt-4o-mini")
	v.SetDefault("oracle.temperature", 0.3)
	v.SetDefault("oracle.requests_per_second", 2.0)
	v.SetDefault("oracle.burst", 4)
	v.SetDefault("oracle.http_timeout", 60*time.Second)
	v.SetDefault("oracle.breaker.max_requests", 1)
	v.SetDefault("oracle.breaker.interval", time.Duration(0))
	v.SetDefault("oracle.breaker.timeout", 30*time.Second)
	v.SetDefault("oracle.breaker.failure_threshold", 5)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "diagnosure")

	v.SetDefault("sessions.max_sessions", 1000)
	v.SetDefault("sessions.idle_ttl", 2*time.Hour)

	v.SetDefault("report.font_path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("hospitals", []map[string]string{
		{"name": "City General Hospital", "address": "123 Main St, Chennai, TN 600001", "city": "Chennai"},
		{"name": "Apollo Health Center", "address": "456 Park Ave, Chennai, TN 600002", "city": "Chennai"},
		{"name": "Fortis Medical Center", "address": "789 Health Blvd, Chennai, TN 600003", "city": "Chennai"},
		{"name": "Max Super Specialty", "address": "321 Care St, Chennai, TN 600004", "city": "Chennai"},
	})
	v.SetDefault("slots", []string{"Morning (9AM-12PM)", "Afternoon (1PM-4PM)", "Evening (5PM-8PM)", "Night (8PM-11PM)"})
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid storage driver: %q", c.Storage.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("oracle.timeout must be positive")
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
		return fmt.Errorf("invalid oracle temperature: %v", c.Oracle.Temperature)
	}
	if c.Sessions.MaxSessions <= 0 {
		return fmt.Errorf("sessions.max_sessions must be positive")
	}
	if len(c.Slots) == 0 {
		return fmt.Errorf("at least one booking slot is required")
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

// NewLogger builds the service logger described by the logging section.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if c.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
