package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds process-level parameters, read once at startup.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`

	// Backend selects the engine variant: spawned, proxy, cli or daemon.
	Backend string `json:"backend" yaml:"backend" toml:"backend"`

	// Spawned-process engine.
	EngineBin   string `json:"engine_bin" yaml:"engine_bin" toml:"engine_bin"`
	EngineHost  string `json:"engine_host" yaml:"engine_host" toml:"engine_host"`
	PortStart   int    `json:"port_start" yaml:"port_start" toml:"port_start"`
	PortEnd     int    `json:"port_end" yaml:"port_end" toml:"port_end"`
	CtxSize     int    `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads     int    `json:"threads" yaml:"threads" toml:"threads"`
	GPULayers   int    `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	Parallel    int    `json:"parallel" yaml:"parallel" toml:"parallel"`
	ReadyMarker string `json:"ready_marker" yaml:"ready_marker" toml:"ready_marker"`

	// Proxy engine.
	ProxyBaseURL string `json:"proxy_base_url" yaml:"proxy_base_url" toml:"proxy_base_url"`

	// Command-line engine.
	CLIBin string `json:"cli_bin" yaml:"cli_bin" toml:"cli_bin"`

	// Daemon engine.
	DaemonBaseURL string `json:"daemon_base_url" yaml:"daemon_base_url" toml:"daemon_base_url"`

	// Health-check loop interval in seconds.
	HealthIntervalSec int `json:"health_interval_sec" yaml:"health_interval_sec" toml:"health_interval_sec"`

	// Request log capacity.
	LogCapacity int `json:"log_capacity" yaml:"log_capacity" toml:"log_capacity"`

	// CORS (the dashboard consumes this API cross-origin).
	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// ApplyDefaults fills unspecified fields with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ModelsDir == "" {
		c.ModelsDir = "~/models/llm"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Backend == "" {
		c.Backend = "spawned"
	}
	if c.EngineBin == "" {
		c.EngineBin = "llama-server"
	}
	if c.EngineHost == "" {
		c.EngineHost = "127.0.0.1"
	}
	if c.CtxSize == 0 {
		c.CtxSize = 2048
	}
	if c.Threads == 0 {
		c.Threads = 4
	}
	if c.DaemonBaseURL == "" {
		c.DaemonBaseURL = "http://localhost:11434"
	}
	if c.HealthIntervalSec == 0 {
		c.HealthIntervalSec = 10
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
