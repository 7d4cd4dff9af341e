package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	tserror "github.com/msto63/telshell/pkg/core/error"
)

// EnvConfigPath names the environment variable holding the config file path
const EnvConfigPath = "TELSHELL_CONFIG"

// Config holds the complete application configuration
type Config struct {
	General   GeneralConfig   `toml:"general" yaml:"general"`
	Shell     ShellConfig     `toml:"shell" yaml:"shell"`
	WebSocket WebSocketConfig `toml:"websocket" yaml:"websocket"`
	Admin     AdminConfig     `toml:"admin" yaml:"admin"`
	Audit     AuditConfig     `toml:"audit" yaml:"audit"`
}

// GeneralConfig holds general application settings
type GeneralConfig struct {
	Name        string `toml:"name" yaml:"name"`
	Environment string `toml:"environment" yaml:"environment"`
	LogLevel    string `toml:"log_level" yaml:"log_level"`
	LogFormat   string `toml:"log_format" yaml:"log_format"`
}

// ShellConfig holds the TCP shell listener and session settings
type ShellConfig struct {
	Host         string   `toml:"host" yaml:"host"`
	Port         int      `toml:"port" yaml:"port"`
	MaxClients   int      `toml:"max_clients" yaml:"max_clients"`
	IdleTimeout  Duration `toml:"idle_timeout" yaml:"idle_timeout"`
	PollInterval Duration `toml:"poll_interval" yaml:"poll_interval"`
	User         string   `toml:"user" yaml:"user"`
	Device       string   `toml:"device" yaml:"device"`
	Banner       string   `toml:"banner" yaml:"banner"`
}

// WebSocketConfig holds the optional WebSocket listener settings
type WebSocketConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Host    string `toml:"host" yaml:"host"`
	Port    int    `toml:"port" yaml:"port"`
	Path    string `toml:"path" yaml:"path"`
}

// AdminConfig holds the gRPC admin (health) endpoint settings
type AdminConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Host    string `toml:"host" yaml:"host"`
	Port    int    `toml:"port" yaml:"port"`
}

// AuditConfig holds the session audit store settings
type AuditConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	Path          string `toml:"path" yaml:"path"`
	RetentionDays int    `toml:"retention_days" yaml:"retention_days"`
}

// Duration wraps time.Duration for TOML and YAML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses a duration scalar
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.Shell.IdleTimeout.Duration = 5 * time.Minute
	cfg.Audit.RetentionDays = 30
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a TOML or YAML file, chosen by extension.
// Environment overrides are applied after the defaults.
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tserror.Newf("config file not found: %s", path).
				WithCode(tserror.CodeNotFound).
				WithOperation("config.Load")
		}
		return nil, tserror.Wrap(err, "failed to read config").
			WithCode(tserror.CodeConfigError).
			WithOperation("config.Load")
	}

	// decode over the defaults so keys absent from the file keep them and
	// explicit zeros (idle_timeout = "0s", retention_days = 0) survive
	cfg := *Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		_, err = toml.Decode(string(data), &cfg)
	}
	if err != nil {
		return nil, tserror.Wrap(err, "failed to parse config").
			WithCode(tserror.CodeConfigError).
			WithOperation("config.Load").
			WithDetail("path", path)
	}

	cfg.applyDefaults()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.Audit.Path = os.ExpandEnv(cfg.Audit.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv loads configuration from TELSHELL_CONFIG or a default
// location. With no file anywhere it returns Default() plus env overrides.
func LoadFromEnv() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		defaultPaths := []string{
			"./configs/telshell.toml",
			"./telshell.toml",
			filepath.Join(os.Getenv("HOME"), ".config/telshell/config.toml"),
		}
		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path == "" {
		cfg := Default()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

// applyDefaults fills fields whose zero value is never meaningful. Zeros
// that mean "off" (idle timeout, retention) are seeded by Default instead.
func (c *Config) applyDefaults() {
	if c.General.Name == "" {
		c.General.Name = "telshell"
	}
	if c.General.Environment == "" {
		c.General.Environment = "development"
	}
	if c.General.LogLevel == "" {
		c.General.LogLevel = "info"
	}
	if c.General.LogFormat == "" {
		c.General.LogFormat = "json"
	}

	if c.Shell.Host == "" {
		c.Shell.Host = "0.0.0.0"
	}
	if c.Shell.Port == 0 {
		c.Shell.Port = 2323
	}
	if c.Shell.MaxClients == 0 {
		c.Shell.MaxClients = 5
	}
	if c.Shell.PollInterval.Duration == 0 {
		c.Shell.PollInterval.Duration = 10 * time.Millisecond
	}
	if c.Shell.User == "" {
		c.Shell.User = "root"
	}
	if c.Shell.Device == "" {
		c.Shell.Device = "esp"
	}

	if c.WebSocket.Host == "" {
		c.WebSocket.Host = "0.0.0.0"
	}
	if c.WebSocket.Port == 0 {
		c.WebSocket.Port = 2324
	}
	if c.WebSocket.Path == "" {
		c.WebSocket.Path = "/shell"
	}

	if c.Admin.Host == "" {
		c.Admin.Host = "127.0.0.1"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9323
	}

	if c.Audit.Path == "" {
		c.Audit.Path = "./data/audit.db"
	}
}

// ApplyEnv overrides host, port and log level from the environment
func (c *Config) ApplyEnv() error {
	if host := os.Getenv("TELSHELL_HOST"); host != "" {
		c.Shell.Host = host
	}
	if port := os.Getenv("TELSHELL_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return tserror.Wrap(err, "invalid TELSHELL_PORT").
				WithCode(tserror.CodeConfigError).
				WithOperation("config.ApplyEnv")
		}
		c.Shell.Port = p
	}
	if level := os.Getenv("TELSHELL_LOG_LEVEL"); level != "" {
		c.General.LogLevel = level
	}
	return nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	invalid := func(field string, value interface{}) error {
		return tserror.Newf("invalid %s: %v", field, value).
			WithCode(tserror.CodeConfigError).
			WithOperation("config.Validate").
			WithDetail("field", field)
	}

	if c.Shell.Port < 1 || c.Shell.Port > 65535 {
		return invalid("shell.port", c.Shell.Port)
	}
	if c.Shell.MaxClients < 1 {
		return invalid("shell.max_clients", c.Shell.MaxClients)
	}
	if c.Shell.IdleTimeout.Duration < 0 {
		return invalid("shell.idle_timeout", c.Shell.IdleTimeout.Duration)
	}
	if c.Audit.RetentionDays < 0 {
		return invalid("audit.retention_days", c.Audit.RetentionDays)
	}
	if c.WebSocket.Enabled && !strings.HasPrefix(c.WebSocket.Path, "/") {
		return invalid("websocket.path", c.WebSocket.Path)
	}
	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		return invalid("admin.port", c.Admin.Port)
	}
	return nil
}

// ShellAddress returns host:port of the shell listener
func (c *Config) ShellAddress() string {
	return fmt.Sprintf("%s:%d", c.Shell.Host, c.Shell.Port)
}

// WebSocketAddress returns host:port of the WebSocket listener
func (c *Config) WebSocketAddress() string {
	return fmt.Sprintf("%s:%d", c.WebSocket.Host, c.WebSocket.Port)
}

// AdminAddress returns host:port of the admin gRPC endpoint
func (c *Config) AdminAddress() string {
	return fmt.Sprintf("%s:%d", c.Admin.Host, c.Admin.Port)
}
