package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up when no path is given.
const FileName = "traceoor.yaml"

var (
	// ErrMixedWindow is returned when slot and timestamp bounds are combined.
	ErrMixedWindow = errors.New("slot and time bounds are mutually exclusive")
	// ErrNoStartSlot is returned when a slot window has no start slot.
	ErrNoStartSlot = errors.New("start slot is required")
)

// Loader handles configuration loading from files and flags.
type Loader struct {
	log logrus.FieldLogger
}

// NewLoader creates a new configuration loader.
func NewLoader(log logrus.FieldLogger) *Loader {
	return &Loader{
		log: log.WithField("component", "config"),
	}
}

// FindConfigFile returns the first existing default config file, checking
// the working directory and then $HOME/.traceoor. It returns "" if none
// exists.
func FindConfigFile() string {
	candidates := []string{FileName}

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".traceoor", FileName))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// LoadConfig loads configuration from a YAML file on top of the defaults.
func (l *Loader) LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	l.log.WithField("path", path).Debug("Loaded config file")

	return cfg, nil
}

// LoadConfigFromFlags loads the values explicitly set through flags or the
// environment. Unset keys stay zero so the result can be merged over a
// file or default config.
func (l *Loader) LoadConfigFromFlags(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	if v.IsSet("path") {
		cfg.TracePaths = v.GetStringSlice("path")
	}

	if v.IsSet("alt-store") {
		cfg.AltStorePath = v.GetString("alt-store")
	}

	if v.IsSet("alt-cache-size") {
		cfg.AltCacheSize = v.GetInt("alt-cache-size")
	}

	if v.IsSet("rpc-endpoint") {
		cfg.RPCEndpoint = v.GetString("rpc-endpoint")
	}

	if v.IsSet("log-level") {
		cfg.LogLevel = v.GetString("log-level")
	}

	if v.IsSet("metrics-addr") {
		cfg.MetricsAddr = v.GetString("metrics-addr")
	}

	if v.IsSet("workers") {
		cfg.Workers = v.GetInt("workers")
	}

	cfg.Pprof = v.GetBool("pprof")

	return cfg, nil
}

// ValidateConfig validates the configuration for consistency and completeness.
func ValidateConfig(cfg *Config) error {
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	if cfg.AltCacheSize <= 0 {
		return fmt.Errorf("alt_cache_size must be > 0")
	}

	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}

	if cfg.RPCEndpoint != "" {
		if _, err := url.Parse(cfg.RPCEndpoint); err != nil {
			return fmt.Errorf("rpc_endpoint: invalid URL: %w", err)
		}
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("metrics_addr: %w", err)
		}
	}

	if cfg.Pprof && cfg.MetricsAddr == "" {
		return fmt.Errorf("pprof requires metrics_addr")
	}

	return nil
}

// MergeConfigs merges override config values into the base config.
// Non-zero values in override replace values in base.
func MergeConfigs(base, override *Config) *Config {
	result := *base

	if len(override.TracePaths) > 0 {
		result.TracePaths = override.TracePaths
	}

	if override.AltStorePath != "" {
		result.AltStorePath = override.AltStorePath
	}

	if override.AltCacheSize != 0 {
		result.AltCacheSize = override.AltCacheSize
	}

	if override.RPCEndpoint != "" {
		result.RPCEndpoint = override.RPCEndpoint
	}

	if override.LogLevel != "" {
		result.LogLevel = override.LogLevel
	}

	if override.MetricsAddr != "" {
		result.MetricsAddr = override.MetricsAddr
	}

	if override.Pprof {
		result.Pprof = override.Pprof
	}

	if override.Workers != 0 {
		result.Workers = override.Workers
	}

	return &result
}

func (w WindowConfig) hasSlots() bool {
	return w.StartSlot != nil || w.EndSlot != nil
}

func (w WindowConfig) hasTimes() bool {
	return w.Start != "" || w.End != ""
}

// SlotWindow returns the slot range of the window. The start slot is
// required; a missing end slot selects the start slot only.
func (w WindowConfig) SlotWindow() (SlotWindow, error) {
	if w.hasTimes() {
		return SlotWindow{}, ErrMixedWindow
	}

	if w.StartSlot == nil {
		return SlotWindow{}, ErrNoStartSlot
	}

	window := SlotWindow{Start: *w.StartSlot, End: *w.StartSlot}
	if w.EndSlot != nil {
		window.End = *w.EndSlot
	}

	if window.End < window.Start {
		return SlotWindow{}, fmt.Errorf("end slot %d before start slot %d", window.End, window.Start)
	}

	return window, nil
}

// TimeWindow parses the timestamp bounds of the window. Either bound may be
// omitted.
func (w WindowConfig) TimeWindow() (TimeWindow, error) {
	if w.hasSlots() {
		return TimeWindow{}, ErrMixedWindow
	}

	var window TimeWindow

	if w.Start != "" {
		start, err := time.Parse(time.RFC3339Nano, w.Start)
		if err != nil {
			return TimeWindow{}, fmt.Errorf("start: %w", err)
		}

		window.Start = &start
	}

	if w.End != "" {
		end, err := time.Parse(time.RFC3339Nano, w.End)
		if err != nil {
			return TimeWindow{}, fmt.Errorf("end: %w", err)
		}

		window.End = &end
	}

	if window.Start != nil && window.End != nil && window.End.Before(*window.Start) {
		return TimeWindow{}, fmt.Errorf("end %s before start %s", w.End, w.Start)
	}

	return window, nil
}
