// Package config loads the service configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rl1809/itam/internal/core/domain"
)

type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Server        ServerConfig        `yaml:"server"`
	License       LicenseConfig       `yaml:"license"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// DatabaseConfig selects the entity store. Driver is one of mysql, postgres
// or sqlite.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	TxRetries       int    `yaml:"tx_retries"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	PoolSize int    `yaml:"pool_size"`
}

type ServerConfig struct {
	HTTPAddr        string `yaml:"http_addr"`
	GRPCAddr        string `yaml:"grpc_addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

type LicenseConfig struct {
	// ExceedPolicy is "block" (reject assignments past capacity) or "warn"
	// (allow them and flag the license as exceeded).
	ExceedPolicy string `yaml:"exceed_policy"`
}

type NotificationsConfig struct {
	DefaultRecipient   string `yaml:"default_recipient"`
	LicenseExpiryDays  []int  `yaml:"license_expiry_days"`
	WarrantyExpiryDays []int  `yaml:"warranty_expiry_days"`
	TrailingWindowDays int    `yaml:"trailing_window_days"`
	Interval           string `yaml:"interval"`
	RunOnStart         bool   `yaml:"run_on_start"`
	Concurrency        int    `yaml:"concurrency"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "mysql",
			DSN:             "root:root@tcp(localhost:3306)/itam?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: "5m",
			TxRetries:       3,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize: 100,
		},
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":50051",
			ShutdownTimeout: "5s",
		},
		License: LicenseConfig{
			ExceedPolicy: string(domain.PolicyPermissive),
		},
		Notifications: NotificationsConfig{
			DefaultRecipient:   "1",
			LicenseExpiryDays:  []int{60, 30, 14, 7, 1},
			WarrantyExpiryDays: []int{90, 30, 7},
			TrailingWindowDays: 30,
			Interval:           "24h",
			RunOnStart:         true,
			Concurrency:        5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ITAM_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("ITAM_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("ITAM_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("ITAM_REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Redis.Enabled = enabled
		}
	}
	if v := os.Getenv("ITAM_HTTP_ADDR"); v != "" {
		c.Server.HTTPAddr = v
	}
	if v := os.Getenv("ITAM_GRPC_ADDR"); v != "" {
		c.Server.GRPCAddr = v
	}
	if v := os.Getenv("ITAM_EXCEED_POLICY"); v != "" {
		c.License.ExceedPolicy = v
	}
	if v := os.Getenv("ITAM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want mysql, postgres or sqlite", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if !c.Policy().Valid() {
		errs = append(errs, fmt.Errorf("license.exceed_policy %q: want block or warn", c.License.ExceedPolicy))
	}
	if c.Notifications.DefaultRecipient == "" {
		errs = append(errs, errors.New("notifications.default_recipient is required"))
	}
	for _, d := range append(append([]int{}, c.Notifications.LicenseExpiryDays...), c.Notifications.WarrantyExpiryDays...) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("notification offset %d must be positive", d))
		}
	}
	if c.Notifications.TrailingWindowDays <= 0 {
		errs = append(errs, errors.New("notifications.trailing_window_days must be positive"))
	}
	for name, v := range map[string]string{
		"database.conn_max_lifetime": c.Database.ConnMaxLifetime,
		"server.shutdown_timeout":    c.Server.ShutdownTimeout,
		"notifications.interval":     c.Notifications.Interval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) Policy() domain.CapacityPolicy {
	return domain.CapacityPolicy(c.License.ExceedPolicy)
}

func (c DatabaseConfig) Lifetime() time.Duration {
	return parseDuration(c.ConnMaxLifetime, 5*time.Minute)
}

func (c ServerConfig) Shutdown() time.Duration {
	return parseDuration(c.ShutdownTimeout, 5*time.Second)
}

func (c NotificationsConfig) Every() time.Duration {
	return parseDuration(c.Interval, 24*time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
