// Package config loads node configuration from a YAML file, COMMERCE_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/fortiblox/x1-commerce/pkg/runtime"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

// Keys.
const (
	KeyDataDir          = "data_dir"
	KeyLedgerPath       = "ledger_path"
	KeyComputeUnitLimit = "compute_unit_limit"
	KeyPDACacheSize     = "pda_cache_size"
	KeyLogLevel         = "log_level"
	KeyLogFormat        = "log_format"
	KeyClockStart       = "clock_start"
	KeyMetricsPrefix    = "metrics_prefix"
)

// EnvPrefix prefixes environment overrides, e.g. COMMERCE_LOG_LEVEL.
const EnvPrefix = "COMMERCE"

// DefaultClockStart is 2024-01-01T00:00:00Z.
const DefaultClockStart int64 = 1_704_067_200

var ErrInvalidConfig = errors.New("invalid config")

// Config is the resolved node configuration.
type Config struct {
	DataDir          string `mapstructure:"data_dir"`
	LedgerPath       string `mapstructure:"ledger_path"`
	ComputeUnitLimit uint64 `mapstructure:"compute_unit_limit"`
	PDACacheSize     int    `mapstructure:"pda_cache_size"`
	LogLevel         string `mapstructure:"log_level"`
	LogFormat        string `mapstructure:"log_format"`

	// ClockStart is the unix time of slot 0. The local clock advances one
	// slot per second.
	ClockStart int64 `mapstructure:"clock_start"`

	// MetricsPrefix is prepended to every exported metric name.
	MetricsPrefix string `mapstructure:"metrics_prefix"`
}

// New returns a viper instance with defaults and environment binding set.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyDataDir, "commerce-data")
	v.SetDefault(KeyLedgerPath, "")
	v.SetDefault(KeyComputeUnitLimit, svm.CUDefault)
	v.SetDefault(KeyPDACacheSize, runtime.DefaultConfig().PDACacheSize)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyClockStart, DefaultClockStart)
	v.SetDefault(KeyMetricsPrefix, "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file into v, when set, and returns the validated result. A
// missing file is an error; an empty path reads no file.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidConfig, KeyDataDir)
	}
	if c.ComputeUnitLimit == 0 || c.ComputeUnitLimit > svm.CUMax {
		return fmt.Errorf("%w: %s must be in 1..%d", ErrInvalidConfig, KeyComputeUnitLimit, svm.CUMax)
	}
	if c.PDACacheSize <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, KeyPDACacheSize)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %s must be text or json", ErrInvalidConfig, KeyLogFormat)
	}
	if c.ClockStart < 0 {
		return fmt.Errorf("%w: %s is negative", ErrInvalidConfig, KeyClockStart)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, KeyLogLevel, err)
	}
	return l, nil
}

// Logger builds the process logger writing to w.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// AccountsPath is the badger directory of the accounts database.
func (c *Config) AccountsPath() string {
	return filepath.Join(c.DataDir, "accounts")
}

// LedgerFile is the bbolt file of the transaction ledger.
func (c *Config) LedgerFile() string {
	if c.LedgerPath != "" {
		return c.LedgerPath
	}
	return filepath.Join(c.DataDir, "ledger.db")
}

// Clock returns the clock at slot.
func (c *Config) Clock(slot uint64) svm.Clock {
	return svm.Clock{Slot: slot, UnixTimestamp: c.ClockStart + int64(slot)}
}

// Runtime returns the runtime configuration.
func (c *Config) Runtime(logger *slog.Logger, reg prometheus.Registerer, rec runtime.Recorder) runtime.Config {
	if reg != nil && c.MetricsPrefix != "" {
		reg = prometheus.WrapRegistererWithPrefix(c.MetricsPrefix+"_", reg)
	}
	return runtime.Config{
		ComputeUnitLimit: c.ComputeUnitLimit,
		PDACacheSize:     c.PDACacheSize,
		Logger:           logger,
		Registerer:       reg,
		Recorder:         rec,
	}
}
