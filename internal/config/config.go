// Package config provides configuration file loading for the host.
// The configuration file lives at ~/.statshost/config.toml by default, but can be
// overridden with the --config flag. Files ending in .yaml or .yml are parsed as
// YAML; everything else is TOML. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	apperrors "github.com/statshost/host/internal/errors"
)

// Transport modes.
const (
	ModeWebSocket = "websocket" // listen for one IDE connection
	ModePipe      = "pipe"      // framed messages on stdin/stdout, fds kept as-is
	ModeStdio     = "stdio"     // like pipe, but fds 0/1 are detached from the runtime
	ModeConnect   = "connect"   // dial the IDE's WebSocket endpoint
)

// Config represents the host configuration file structure.
type Config struct {
	// Addr is the host:port for the WebSocket listener.
	// Default: 127.0.0.1:7171
	Addr string `toml:"addr" yaml:"addr"`

	// Mode selects the transport: websocket, pipe, stdio or connect.
	// Default: websocket
	Mode string `toml:"mode" yaml:"mode"`

	// ConnectURL is the ws:// or wss:// endpoint dialed in connect mode.
	ConnectURL string `toml:"connect_url" yaml:"connect_url"`

	// TLSCert and TLSKey enable wss:// on the listener when both are set.
	TLSCert string `toml:"tls_cert" yaml:"tls_cert"`
	TLSKey  string `toml:"tls_key" yaml:"tls_key"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level" yaml:"log_level"`

	// LogFormat is text or json.
	LogFormat string `toml:"log_format" yaml:"log_format"`

	// LogFile receives log output instead of stderr when set.
	LogFile string `toml:"log_file" yaml:"log_file"`

	// IdleTimeout shuts the host down after this long without interpreter
	// activity. Zero disables it.
	IdleTimeout time.Duration `toml:"idle_timeout" yaml:"idle_timeout"`

	// HeartbeatInterval is the WebSocket ping period. The peer is declared
	// dead after two intervals without a pong.
	// Default: 30s
	HeartbeatInterval time.Duration `toml:"heartbeat_interval" yaml:"heartbeat_interval"`

	// PlotDir is where rendered plot images are written.
	// Default: <tmp>/statshost-plots
	PlotDir string `toml:"plot_dir" yaml:"plot_dir"`

	// PlotType is the image format of rendered plots: png or jpeg.
	PlotType string `toml:"plot_type" yaml:"plot_type"`

	// Default device geometry, used when the client answers ?PlotDeviceCreate
	// with zeros.
	PlotWidth      float64 `toml:"plot_width" yaml:"plot_width"`
	PlotHeight     float64 `toml:"plot_height" yaml:"plot_height"`
	PlotResolution float64 `toml:"plot_resolution" yaml:"plot_resolution"`

	// DBPath is the SQLite database for blobs and the plot render log.
	// Default: ~/.statshost/statshost.db
	DBPath string `toml:"db_path" yaml:"db_path"`

	// WorkspaceFile is where globals are saved on "!Shutdown [true]".
	// Empty disables workspace saving.
	WorkspaceFile string `toml:"workspace_file" yaml:"workspace_file"`

	// AuthTokenHash is a bcrypt hash of the bearer token WebSocket clients
	// must present. Empty disables authentication.
	AuthTokenHash string `toml:"auth_token_hash" yaml:"auth_token_hash"`

	// MdnsEnabled advertises the WebSocket listener on the local network.
	// Default: false
	MdnsEnabled bool `toml:"mdns_enabled" yaml:"mdns_enabled"`

	// Metrics exposes Prometheus metrics on /metrics of the listener.
	Metrics bool `toml:"metrics" yaml:"metrics"`

	// ProtocolConstraint is a semver constraint the client's declared
	// protocol version must satisfy.
	// Default: ^1.0.0
	ProtocolConstraint string `toml:"protocol_constraint" yaml:"protocol_constraint"`
}

// DefaultConfigPath returns the default config file location: ~/.statshost/config.toml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".statshost", "config.toml"), nil
}

// WriteDefault creates a config file with default values at the given path.
// An existing file is left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# statshost configuration

addr = %q
mode = %q
log_level = "info"
heartbeat_interval = "30s"
plot_type = "png"
plot_width = %g
plot_height = %g
plot_resolution = %g
`, DefaultAddr, ModeWebSocket, DefaultPlotWidth, DefaultPlotHeight, DefaultPlotResolution)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads a config file from the given path and returns a Config with
// defaults applied.
//
// Behavior:
//   - If path is empty, attempts the default location and returns defaults
//     without error when that file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		path = defaultPath
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Mode == "" {
		c.Mode = ModeWebSocket
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.PlotDir == "" {
		c.PlotDir = filepath.Join(os.TempDir(), "statshost-plots")
	}
	if c.PlotType == "" {
		c.PlotType = "png"
	}
	if c.PlotWidth == 0 {
		c.PlotWidth = DefaultPlotWidth
	}
	if c.PlotHeight == 0 {
		c.PlotHeight = DefaultPlotHeight
	}
	if c.PlotResolution == 0 {
		c.PlotResolution = DefaultPlotResolution
	}
	if c.DBPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DBPath = filepath.Join(home, ".statshost", "statshost.db")
		}
	}
	if c.ProtocolConstraint == "" {
		c.ProtocolConstraint = DefaultProtocolConstraint
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeWebSocket, ModePipe, ModeStdio:
	case ModeConnect:
		if c.ConnectURL == "" {
			return apperrors.InvalidConfig("connect_url", "required in connect mode")
		}
	default:
		return apperrors.InvalidConfig("mode", fmt.Sprintf("unknown mode %q", c.Mode))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return apperrors.InvalidConfig("log_level", fmt.Sprintf("unknown level %q", c.LogLevel))
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return apperrors.InvalidConfig("log_format", fmt.Sprintf("unknown format %q", c.LogFormat))
	}

	switch c.PlotType {
	case "png", "jpeg":
	default:
		return apperrors.InvalidConfig("plot_type", fmt.Sprintf("unsupported type %q", c.PlotType))
	}

	if c.PlotWidth <= 0 || c.PlotHeight <= 0 || c.PlotResolution <= 0 {
		return apperrors.InvalidConfig("plot_width/plot_height/plot_resolution", "must be positive")
	}
	if c.IdleTimeout < 0 {
		return apperrors.InvalidConfig("idle_timeout", "must not be negative")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return apperrors.InvalidConfig("tls_cert/tls_key", "both or neither must be set")
	}
	return nil
}
