package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the complete daemon configuration. The firmware spec itself
// lives in its own YAML file; this covers everything around it: where
// the spec is, how to reach NATS, where firmware clients connect, and
// how the process reports.
type Config struct {
	SpecPath  string          `json:"spec_path"`
	NATS      NATSConfig      `json:"nats"`
	Transport TransportConfig `json:"transport"`
	Metrics   MetricsConfig   `json:"metrics"`
	Log       LogConfig       `json:"log"`
}

// NATSConfig defines the NATS connection settings.
type NATSConfig struct {
	URL           string        `json:"url,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
}

// TransportConfig defines where firmware clients connect.
type TransportConfig struct {
	Addr string `json:"addr,omitempty"` // listen address, host:port
	Path string `json:"path,omitempty"` // WebSocket upgrade path
}

// MetricsConfig defines the Prometheus/health HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// LogConfig defines process logging.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // text or json
}

// Validate checks the configuration for values that cannot work. It is
// called by Loader.Load when validation is enabled and by the daemon
// before wiring components.
func (c *Config) Validate() error {
	if c.SpecPath == "" {
		return stderrors.New("spec_path is required")
	}

	if c.NATS.URL == "" {
		return stderrors.New("nats.url is required")
	}

	if _, _, err := net.SplitHostPort(c.Transport.Addr); err != nil {
		return fmt.Errorf("transport.addr %q: %w", c.Transport.Addr, err)
	}
	if !strings.HasPrefix(c.Transport.Path, "/") {
		return fmt.Errorf("transport.path %q must start with /", c.Transport.Path)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
		}
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q is not text or json", c.Log.Format)
	}

	return nil
}

// Loader handles configuration loading with file layers and environment
// overrides. Later layers win; environment variables win over all
// layers.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a configuration loader with the FWBRIDGE env
// prefix.
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: "FWBRIDGE",
	}
}

// AddLayer adds a configuration file layer.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables validation during Load.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file, replacing any layers
// added earlier.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, all file layers and environment overrides.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		rawConfig, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, rawConfig)
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Default returns the built-in configuration: local NATS, the standard
// firmware port, metrics on.
func Default() *Config {
	return &Config{
		SpecPath: "firmware.yaml",
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Transport: TransportConfig{
			Addr: ":8765",
			Path: "/fw",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9100,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// loadRawJSON loads one configuration file as a map.
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return nil, err
	}

	l.parseDurations(rawConfig)

	return rawConfig, nil
}

// mergeFromMap merges one raw layer over the base config. Only keys
// present in the layer override.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedMap := deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}

	return &merged
}

// deepMergeMaps recursively merges two maps, override winning.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// parseDurations converts duration strings to nanoseconds so they
// survive the json round-trip into time.Duration fields.
func (l *Loader) parseDurations(data map[string]any) {
	if natsMap, ok := data["nats"].(map[string]any); ok {
		if wait, ok := natsMap["reconnect_wait"].(string); ok {
			if d, err := time.ParseDuration(wait); err == nil {
				natsMap["reconnect_wait"] = d.Nanoseconds()
			}
		}
	}
}

// applyEnvOverrides applies FWBRIDGE_* environment variables on top of
// the merged configuration. Invalid values are ignored rather than
// fatal; the subsequent Validate call reports anything that matters.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := l.envValue("SPEC_PATH"); val != "" {
		cfg.SpecPath = val
	}

	if val := l.envValue("NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}
	if val := l.envValue("NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := l.envValue("NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := l.envValue("NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}

	if val := l.envValue("TRANSPORT_ADDR"); val != "" {
		cfg.Transport.Addr = val
	}
	if val := l.envValue("TRANSPORT_PATH"); val != "" {
		cfg.Transport.Path = val
	}

	if val := l.envValue("METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Port = port
		}
	}

	if val := l.envValue("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := l.envValue("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
}

// envValue reads one prefixed environment variable, dropping values
// that fail basic sanity checks.
func (l *Loader) envValue(suffix string) string {
	key := l.envPrefix + "_" + suffix
	val := os.Getenv(key)
	if err := validateEnvVar(key, val); err != nil {
		return ""
	}
	return val
}

// SaveToFile writes the configuration to a JSON file.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// String returns an indented JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// UnmarshalJSON accepts reconnect_wait both as a duration string
// ("2s") and as nanoseconds.
func (n *NATSConfig) UnmarshalJSON(data []byte) error {
	type Alias NATSConfig
	aux := &struct {
		ReconnectWait any `json:"reconnect_wait,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(n),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	switch v := aux.ReconnectWait.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		n.ReconnectWait = d
	case float64:
		n.ReconnectWait = time.Duration(v)
	}

	return nil
}
