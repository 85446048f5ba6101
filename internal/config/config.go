// Package config loads and merges agentcore's configuration from a YAML (or
// JSON5) file, process environment variables, and CLI flags into a single
// immutable Config value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for agentcore.
type Config struct {
	Version int `yaml:"version"`

	Server       ServerConfig       `yaml:"server"`
	Session      SessionConfig      `yaml:"session"`
	LLM          LLMConfig          `yaml:"llm"`
	Sandbox      SandboxConfig      `yaml:"sandbox"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the `agentcore serve` HTTP/WebSocket listener (C15).
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	WatchConfig    bool          `yaml:"watch_config"`
}

// SessionConfig configures the session log store (C11).
type SessionConfig struct {
	Dir             string `yaml:"dir"`
	MaxMessageBytes int    `yaml:"max_message_bytes"`
}

// SandboxConfig configures the sandbox router and runtime provider pool (C8/C9).
type SandboxConfig struct {
	Backend        string        `yaml:"backend"` // "subprocess" | "playwright"
	WallClockLimit time.Duration `yaml:"wall_clock_limit"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
}

// ObservabilityConfig configures structured logging, metrics, and tracing (C13/C14).
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"` // "text" | "json"
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			Addr:         ":8080",
			MetricsAddr:  ":9090",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			Dir:             "./sessions",
			MaxMessageBytes: 1 << 20,
		},
		LLM: LLMConfig{
			DefaultProvider: "anthropic",
			Providers:       map[string]LLMProviderConfig{},
		},
		Sandbox: SandboxConfig{
			Backend:        "subprocess",
			WallClockLimit: 120 * time.Second,
			MaxConcurrent:  4,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

// Load reads a config file at path (YAML or JSON5, resolving $include
// directives via LoadRaw), merges it onto Default(), then applies
// environment variable overrides. An empty path loads only defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
		merged, err := yaml.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("config: re-marshal %s: %w", path, err)
		}
		if err := yaml.Unmarshal(merged, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if issues := pluginValidationIssues(cfg); len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return cfg, nil
}

// ValidationError reports structural problems found by a registered plugin validator.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "config: invalid"
	}
	msg := "config: invalid:"
	for _, issue := range e.Issues {
		msg += "\n  - " + issue
	}
	return msg
}

// applyEnvOverrides layers process-environment values over the loaded
// config. Only a handful of operational knobs are environment-overridable;
// per-provider credentials are resolved at call time by the credential
// resolver, not baked into Config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTCORE_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AGENTCORE_SESSION_DIR"); v != "" {
		cfg.Session.Dir = v
	}
	if v := os.Getenv("AGENTCORE_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("AGENTCORE_SANDBOX_BACKEND"); v != "" {
		cfg.Sandbox.Backend = v
	}
	if v := os.Getenv("AGENTCORE_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Observability.MetricsEnabled = b
		}
	}
}
