// Package config loads the daemon's YAML configuration surface
// (spec.md §6) with environment-variable overrides, grounded on the
// teacher's internal/config Load (YAML/env precedence, duration
// parsing with validation) generalized from Pulse's polling/auth
// settings to this daemon's server/logging/security/plugin settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Server configures the HTTP/WebSocket transport (spec.md §6).
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging configures the daemon's log sinks (spec.md §6).
type Logging struct {
	Level    string `yaml:"level"`
	LogDir   string `yaml:"logDir"`
	MaxFiles int    `yaml:"maxFiles"`
	MaxSize  int    `yaml:"maxSize"` // megabytes
}

// Security configures the admission gate, allowlist, and audit
// behavior (spec.md §6).
type Security struct {
	RequireAuth             bool          `yaml:"requireAuth"`
	AllowedCommands         []string      `yaml:"allowedCommands"`
	MaxConcurrentOperations int           `yaml:"maxConcurrentOperations"`
	CommandTimeout          time.Duration `yaml:"-"`
	CommandTimeoutMS        int           `yaml:"commandTimeout"`
	AuditAll                bool          `yaml:"auditAll"`
}

// UnmarshalYAML accepts security.commandTimeout as a bare integer
// (milliseconds, per spec.md §6) and keeps CommandTimeout in sync for
// the rest of the daemon to use as a time.Duration.
func (s *Security) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Security
	p := plain(*s)
	if err := unmarshal(&p); err != nil {
		return err
	}
	*s = Security(p)
	s.CommandTimeout = time.Duration(s.CommandTimeoutMS) * time.Millisecond
	return nil
}

// MarshalYAML mirrors CommandTimeout back into CommandTimeoutMS before
// encoding, keeping the two fields consistent on round-trip.
func (s Security) MarshalYAML() (interface{}, error) {
	type plain Security
	p := plain(s)
	p.CommandTimeoutMS = int(s.CommandTimeout / time.Millisecond)
	return p, nil
}

// Plugin holds one plugin's enabled flag plus opaque sub-options
// passed through verbatim (spec.md §6: "plugin-specific sub-options
// passed through opaquely").
type Plugin struct {
	Enabled bool                   `yaml:"enabled"`
	Options map[string]interface{} `yaml:",inline"`
}

// Snapshot configures the Snapshot Store's persisted location and the
// fixed set of files/systemd units it captures (spec.md §4.6).
type Snapshot struct {
	Dir      string   `yaml:"dir"`
	Files    []string `yaml:"files"`
	Services []string `yaml:"services"`
}

// Config is the full daemon configuration.
type Config struct {
	Server   Server            `yaml:"server"`
	Logging  Logging           `yaml:"logging"`
	Security Security          `yaml:"security"`
	Snapshot Snapshot          `yaml:"snapshot"`
	Plugins  map[string]Plugin `yaml:"plugins"`
}

// Default returns a Config populated with spec.md §6's defaults.
func Default() *Config {
	return &Config{
		Server: Server{Host: "localhost", Port: 8080},
		Logging: Logging{
			Level:    "info",
			LogDir:   "./logs",
			MaxFiles: 7,
			MaxSize:  100,
		},
		Security: Security{
			RequireAuth:             false,
			AllowedCommands:         nil,
			MaxConcurrentOperations: 10,
			CommandTimeout:          30 * time.Second,
			CommandTimeoutMS:        30000,
			AuditAll:                false,
		},
		Snapshot: Snapshot{Dir: "./snapshots"},
		Plugins:  map[string]Plugin{},
	}
}

// Load reads path (if it exists) as YAML over the defaults, then
// applies environment-variable overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// no config file is not an error — defaults stand.
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HEARTHD_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("HEARTHD_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("HEARTHD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HEARTHD_LOG_DIR"); v != "" {
		cfg.Logging.LogDir = v
	}
	if v := os.Getenv("HEARTHD_ALLOWED_COMMANDS"); v != "" {
		cfg.Security.AllowedCommands = splitCommaList(v)
	}
	if v := os.Getenv("HEARTHD_MAX_CONCURRENT_OPERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Security.MaxConcurrentOperations = n
		}
	}
	if v := os.Getenv("HEARTHD_COMMAND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.CommandTimeout = d
			cfg.Security.CommandTimeoutMS = int(d / time.Millisecond)
		}
	}
	if v := os.Getenv("HEARTHD_AUDIT_ALL"); v != "" {
		cfg.Security.AuditAll = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("HEARTHD_SNAPSHOT_DIR"); v != "" {
		cfg.Snapshot.Dir = v
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate enforces spec.md §6's numeric constraints.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be in 1..65535, got %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("config: logging.level must be one of error|warn|info|debug, got %q", c.Logging.Level)
	}
	if c.Security.MaxConcurrentOperations < 1 {
		return fmt.Errorf("config: security.maxConcurrentOperations must be >= 1, got %d", c.Security.MaxConcurrentOperations)
	}
	if c.Security.CommandTimeout < time.Second {
		return fmt.Errorf("config: security.commandTimeout must be >= 1000ms, got %s", c.Security.CommandTimeout)
	}
	return nil
}
