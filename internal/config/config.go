// Package config loads service settings from an optional YAML file, a .env
// file and AUDITAI_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata" // timezone names must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "AUDITAI"

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Store   StoreConfig   `mapstructure:"store"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Anomaly AnomalyConfig `mapstructure:"anomaly"`
	Model   ModelConfig   `mapstructure:"model"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StoreConfig struct {
	// Driver is inferred from DSN when empty.
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type CatalogConfig struct {
	Paths  []string `mapstructure:"paths"`
	Strict bool     `mapstructure:"strict"`
	// Cache keeps the parsed catalog between requests and reloads it when a
	// catalog file changes.
	Cache          bool          `mapstructure:"cache"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	ForeignMarkers []string      `mapstructure:"foreign_markers"`
}

type PatternConfig struct {
	Name       string `mapstructure:"name"`
	Expression string `mapstructure:"expression"`
}

type AuditConfig struct {
	Window            time.Duration   `mapstructure:"window"`
	BusinessStartHour int             `mapstructure:"business_start_hour"`
	BusinessEndHour   int             `mapstructure:"business_end_hour"`
	Timezone          string          `mapstructure:"timezone"`
	SensitivePatterns []PatternConfig `mapstructure:"sensitive_patterns"`
}

type AnomalyConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Contamination float64  `mapstructure:"contamination"`
	Trees         int      `mapstructure:"trees"`
	SampleSize    int      `mapstructure:"sample_size"`
	Seed          uint64   `mapstructure:"seed"`
	Features      []string `mapstructure:"features"`
}

type ModelConfig struct {
	Path       string `mapstructure:"path"`
	SigningKey string `mapstructure:"signing_key"`
	Trees      int    `mapstructure:"trees"`
	MaxDepth   int    `mapstructure:"max_depth"`
	Seed       uint64 `mapstructure:"seed"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("store.driver", "")
	v.SetDefault("store.dsn", "auditai.db")
	v.SetDefault("store.max_conns", 10)

	v.SetDefault("catalog.paths", []string{"rules/compliance_rules.json", "rules/compliance_rules_extended.json"})
	v.SetDefault("catalog.strict", false)
	v.SetDefault("catalog.cache", false)
	v.SetDefault("catalog.stale_after", 7*24*time.Hour)
	v.SetDefault("catalog.foreign_markers", []string{"ltd", "inc"})

	v.SetDefault("audit.window", 30*24*time.Hour)
	v.SetDefault("audit.business_start_hour", 8)
	v.SetDefault("audit.business_end_hour", 18)
	v.SetDefault("audit.timezone", "Local")

	v.SetDefault("anomaly.enabled", true)
	v.SetDefault("anomaly.contamination", 0.05)
	v.SetDefault("anomaly.trees", 100)
	v.SetDefault("anomaly.sample_size", 256)
	v.SetDefault("anomaly.seed", 42)
	v.SetDefault("anomaly.features", []string{"amount"})

	v.SetDefault("model.path", "models/classifier.json")
	v.SetDefault("model.signing_key", "")
	v.SetDefault("model.trees", 100)
	v.SetDefault("model.max_depth", 0)
	v.SetDefault("model.seed", 42)
}

// Load reads configuration. path names an explicit config file; when empty,
// auditai.yaml is looked up in the working directory and ./config, and a
// missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("store.dsn", envPrefix+"_STORE_DSN", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("binding store.dsn: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("auditai")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.Store.Driver = cfg.Store.ResolvedDriver()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolvedDriver returns Driver, or the driver implied by DSN when Driver is
// empty.
func (s StoreConfig) ResolvedDriver() string {
	if s.Driver != "" {
		return strings.ToLower(s.Driver)
	}
	switch {
	case s.DSN == "":
		return DriverMemory
	case strings.HasPrefix(s.DSN, "postgres://"), strings.HasPrefix(s.DSN, "postgresql://"):
		return DriverPostgres
	default:
		return DriverSQLite
	}
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if c.Store.Driver != DriverMemory && c.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
	}

	a := c.Audit
	if a.BusinessStartHour < 0 || a.BusinessEndHour > 24 || a.BusinessStartHour >= a.BusinessEndHour {
		errs = append(errs, fmt.Errorf("audit business hours [%d, %d) are invalid", a.BusinessStartHour, a.BusinessEndHour))
	}
	if a.Window <= 0 {
		errs = append(errs, errors.New("audit.window must be positive"))
	}
	if _, err := time.LoadLocation(a.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("audit.timezone: %w", err))
	}

	if c.Anomaly.Contamination <= 0 || c.Anomaly.Contamination > 0.5 {
		errs = append(errs, fmt.Errorf("anomaly.contamination must be in (0, 0.5], got %v", c.Anomaly.Contamination))
	}

	if c.Model.Path == "" {
		errs = append(errs, errors.New("model.path is required"))
	}

	return errors.Join(errs...)
}

// Location returns the zone used for business hours and time features.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Audit.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
