// ABOUTME: Configuration loading and parsing for zap-gateway
// ABOUTME: Supports YAML files with environment variable expansion plus a pure-env fallback

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by FromEnv and as overrides on Load.
const (
	EnvPort       = "ZAP_GATEWAY_PORT"
	EnvAllowedIPs = "ZAP_ALLOWED_IPS"
	EnvWipeSecret = "ZAP_WIPE_SECRET"
)

// Defaults applied when the corresponding field is unset.
const (
	DefaultSendTimeout = 20 * time.Second
	DefaultSendDelay   = 5 * time.Second
	DefaultReadyDelay  = 5 * time.Second
	DefaultDataDir     = "./session"
	DefaultCacheDir    = "./cache"
)

// Config represents the complete zap-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Access   AccessConfig   `yaml:"access"`
	Admin    AdminConfig    `yaml:"admin"`
	Session  SessionConfig  `yaml:"session"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the listening port for the HTTP and WebSocket surface
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Addr returns the listen address for the configured port.
func (s ServerConfig) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

// AccessConfig holds the network allowlist.
// An empty list admits every address (open mode - documented operational risk).
type AccessConfig struct {
	AllowedIPs []string `yaml:"allowed_ips"`
}

// AdminConfig holds the shared secret gating the administrative wipe.
// When empty, the wipe endpoint is permanently disabled.
type AdminConfig struct {
	WipeSecret string `yaml:"wipe_secret"`
}

// SessionConfig holds the on-disk directories owned by the messaging client.
// Both are deleted wholesale by the reset flows, never parsed by the gateway.
type SessionConfig struct {
	DataDir  string `yaml:"data_dir"`
	CacheDir string `yaml:"cache_dir"`
}

// DispatchConfig holds outbound dispatch timing configuration
type DispatchConfig struct {
	SendTimeout time.Duration `yaml:"-"`
	SendDelay   time.Duration `yaml:"-"`
	ReadyDelay  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SendTimeoutRaw string `yaml:"send_timeout"`
	SendDelayRaw   string `yaml:"send_delay"`
	ReadyDelayRaw  string `yaml:"ready_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded. The three
// operational environment variables (port, allowlist, wipe secret) override
// their file counterparts when set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// FromEnv builds a configuration purely from the environment, for deployments
// that ship no config file. The port variable is mandatory.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides copies the recognized environment variables into cfg.
// An invalid port value is an error rather than a silent fallback.
func applyEnvOverrides(cfg *Config) error {
	if raw := os.Getenv(EnvPort); raw != "" {
		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", EnvPort, raw, err)
		}
		cfg.Server.Port = port
	}

	if raw := os.Getenv(EnvAllowedIPs); raw != "" {
		cfg.Access.AllowedIPs = splitList(raw)
	}

	if secret := os.Getenv(EnvWipeSecret); secret != "" {
		cfg.Admin.WipeSecret = secret
	}

	return nil
}

// splitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.Dispatch.SendTimeout == 0 {
		c.Dispatch.SendTimeout = DefaultSendTimeout
	}
	if c.Dispatch.SendDelay == 0 {
		c.Dispatch.SendDelay = DefaultSendDelay
	}
	if c.Dispatch.ReadyDelay == 0 {
		c.Dispatch.ReadyDelay = DefaultReadyDelay
	}
	if c.Session.DataDir == "" {
		c.Session.DataDir = DefaultDataDir
	}
	if c.Session.CacheDir == "" {
		c.Session.CacheDir = DefaultCacheDir
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got %d)", c.Server.Port)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Dispatch.SendTimeoutRaw != "" {
		cfg.Dispatch.SendTimeout, err = time.ParseDuration(cfg.Dispatch.SendTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing send_timeout %q: %w", cfg.Dispatch.SendTimeoutRaw, err)
		}
	}

	if cfg.Dispatch.SendDelayRaw != "" {
		cfg.Dispatch.SendDelay, err = time.ParseDuration(cfg.Dispatch.SendDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing send_delay %q: %w", cfg.Dispatch.SendDelayRaw, err)
		}
	}

	if cfg.Dispatch.ReadyDelayRaw != "" {
		cfg.Dispatch.ReadyDelay, err = time.ParseDuration(cfg.Dispatch.ReadyDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing ready_delay %q: %w", cfg.Dispatch.ReadyDelayRaw, err)
		}
	}

	return nil
}
