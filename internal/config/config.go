// Package config loads the default spawn options and observability
// toggles for this module's CLI and library entry points from a YAML
// file.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"serviceName"`
	SampleRate  float64 `yaml:"sampleRate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"` // e.g. ":9090", serving /metrics
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// SpawnDefaults mirrors lifecycle.SpawnOptions' wire-relevant fields so a
// config file can set process-wide defaults without every call site
// constructing SpawnOptions by hand.
type SpawnDefaults struct {
	Serialization         string        `yaml:"serialization"` // "portable" or "rich"
	Timeout               time.Duration `yaml:"timeout"`
	Retries               int           `yaml:"retries"`
	InitializationTimeout time.Duration `yaml:"initializationTimeout"`
	ShutdownTimeout       time.Duration `yaml:"shutdownTimeout"`
	MaxFrameBytes         uint32        `yaml:"maxFrameBytes"`
}

// File is the top-level shape of the YAML config file.
type File struct {
	Spawn   SpawnDefaults `yaml:"spawn"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns the built-in defaults used when no config file is
// supplied.
func Default() *File {
	return &File{
		Spawn: SpawnDefaults{
			Serialization:         "rich",
			Timeout:               10 * time.Second,
			Retries:               2,
			InitializationTimeout: 10 * time.Second,
			ShutdownTimeout:       5 * time.Second,
			MaxFrameBytes:         64 << 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
	}
}

// Load reads and decodes a YAML config file, overlaying it onto Default().
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rpc: open config %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes YAML config content, overlaying it onto Default().
func Parse(r io.Reader) (*File, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("rpc: decode config: %w", err)
	}
	return cfg, nil
}
