// Package config holds the defaults json2csv applies before command-line
// flags: a TOML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	Output  OutputConfig  `toml:"output"`
	Convert ConvertConfig `toml:"convert"`
	Sink    SinkConfig    `toml:"sink"`
	Metrics MetricsConfig `toml:"metrics"`
}

type OutputConfig struct {
	Delimiter string `toml:"delimiter"`
	Encoding  string `toml:"encoding"`
	Strings   bool   `toml:"strings"`
	Header    bool   `toml:"header"`
}

type ConvertConfig struct {
	AllowEmpty bool   `toml:"allow_empty"`
	KeepGoing  bool   `toml:"keep_going"`
	NoScripts  bool   `toml:"no_scripts"`
	Timeout    string `toml:"timeout"` // Go duration, "" or "0" = none
}

type SinkConfig struct {
	Kind  string `toml:"kind"` // "csv", "sqlite", "postgres", "mssql"
	DSN   string `toml:"dsn"`
	Table string `toml:"table"`
}

type MetricsConfig struct {
	Backend string `toml:"backend"` // "none", "datadog"
	Tags    string `toml:"tags"`    // comma separated key:value
}

// Environment variables that override the file.
const (
	EnvConfig         = "JSON2CSV_CONFIG"
	EnvSink           = "JSON2CSV_SINK"
	EnvDSN            = "JSON2CSV_DSN"
	EnvTable          = "JSON2CSV_TABLE"
	EnvEncoding       = "JSON2CSV_ENCODING"
	EnvMetricsBackend = "JSON2CSV_METRICS_BACKEND"
	EnvMetricsTags    = "JSON2CSV_METRICS_TAGS"
)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Output: OutputConfig{
			Delimiter: ",",
			Encoding:  "utf-8",
			Strings:   true,
			Header:    true,
		},
		Sink: SinkConfig{
			Kind:  "csv",
			Table: "json2csv",
		},
		Metrics: MetricsConfig{
			Backend: "none",
		},
	}
}

// Load reads the config file, merging it over the defaults, then applies the
// environment. A missing file is not an error.
func Load() (*Config, error) {
	cfg, err := LoadFile(Path())
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// LoadFile reads one TOML file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if _, err := cfg.Convert.TimeoutDuration(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Path is $JSON2CSV_CONFIG, or ~/.config/json2csv/config.toml.
func Path() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "json2csv", "config.toml")
}

// ApplyEnv overrides fields from non-empty environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Sink.Kind, EnvSink)
	set(&c.Sink.DSN, EnvDSN)
	set(&c.Sink.Table, EnvTable)
	set(&c.Output.Encoding, EnvEncoding)
	set(&c.Metrics.Backend, EnvMetricsBackend)
	set(&c.Metrics.Tags, EnvMetricsTags)
}

// TimeoutDuration parses Timeout. Empty means no timeout.
func (c ConvertConfig) TimeoutDuration() (time.Duration, error) {
	if strings.TrimSpace(c.Timeout) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("convert.timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("convert.timeout: negative duration %s", d)
	}
	return d, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Variables already set win, and missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}
