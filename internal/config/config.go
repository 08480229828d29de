// Package config loads the agent configuration from defaults, an optional
// config file, PLDM_AGENT_* environment variables and bound flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/bridge"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/link/serial"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/logging"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/transport"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
)

// EnvPrefix is prepended to every environment variable the agent reads.
const EnvPrefix = "PLDM_AGENT"

// Link kinds
const (
	LinkSerial   = "serial"
	LinkLoopback = "loopback"
	LinkBridge   = "bridge"
)

// Config is the complete agent configuration
type Config struct {
	LocalEID  int             `mapstructure:"local_eid"`
	Peers     []int           `mapstructure:"peers"`
	Link      LinkConfig      `mapstructure:"link"`
	Transport TransportConfig `mapstructure:"transport"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Trace     TraceConfig     `mapstructure:"trace"`
	Log       LogConfig       `mapstructure:"log"`
}

// LinkConfig selects and parameterises the link under the transport
type LinkConfig struct {
	// Kind is one of serial, loopback or bridge
	Kind string `mapstructure:"kind"`
	// Interface is handed to Link.Open; it names the channel for logs
	Interface string `mapstructure:"interface"`
	// Device is the tty path for serial links
	Device string `mapstructure:"device"`
	Baud   int    `mapstructure:"baud"`
	MTU    int    `mapstructure:"mtu"`
	// BridgeAddress is the host:port of a bridge server for bridge links
	BridgeAddress string `mapstructure:"bridge_address"`
}

// TransportConfig holds the correlation engine's timings
type TransportConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// HTTPConfig configures the HTTP API
type HTTPConfig struct {
	Port      int    `mapstructure:"port"`
	SecretKey string `mapstructure:"secret_key"`
	NoAuth    bool   `mapstructure:"no_auth"`
	// MaxConnections caps concurrent API connections; 0 means no cap
	MaxConnections int `mapstructure:"max_connections"`
	// AdminPasswordHash is a bcrypt hash; see pldm-agent hash-password
	AdminPasswordHash string `mapstructure:"admin_password_hash"`
}

// BridgeConfig configures the bridge server mode
type BridgeConfig struct {
	// Listen is the address the bridge server binds
	Listen string `mapstructure:"listen"`
}

// TraceConfig configures the traffic trace log
type TraceConfig struct {
	Capacity int `mapstructure:"capacity"`
	// Database, when set, archives every record to this SQLite file
	Database string `mapstructure:"database"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level string `mapstructure:"level"`
	// File, when set, receives the JSON log instead of stderr
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		LocalEID: 8,
		Peers:    []int{9},
		Link: LinkConfig{
			Kind:      LinkLoopback,
			Interface: "loopback",
			Baud:      serial.DefaultBaud,
			MTU:       serial.DefaultMTU,
		},
		Transport: TransportConfig{
			DefaultTimeout: 5 * time.Second,
			PollInterval:   10 * time.Millisecond,
			SweepInterval:  100 * time.Millisecond,
		},
		HTTP: HTTPConfig{
			Port:           8080,
			MaxConnections: 256,
		},
		Bridge: BridgeConfig{
			Listen: ":9090",
		},
		Trace: TraceConfig{
			Capacity: 1024,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  logging.DefaultRotation.MaxSizeMB,
			MaxBackups: logging.DefaultRotation.MaxBackups,
			MaxAgeDays: logging.DefaultRotation.MaxAgeDays,
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("local_eid", defaults.LocalEID)
	v.SetDefault("peers", defaults.Peers)

	v.SetDefault("link.kind", defaults.Link.Kind)
	v.SetDefault("link.interface", defaults.Link.Interface)
	v.SetDefault("link.device", defaults.Link.Device)
	v.SetDefault("link.baud", defaults.Link.Baud)
	v.SetDefault("link.mtu", defaults.Link.MTU)
	v.SetDefault("link.bridge_address", defaults.Link.BridgeAddress)

	v.SetDefault("transport.default_timeout", defaults.Transport.DefaultTimeout)
	v.SetDefault("transport.poll_interval", defaults.Transport.PollInterval)
	v.SetDefault("transport.sweep_interval", defaults.Transport.SweepInterval)

	v.SetDefault("http.port", defaults.HTTP.Port)
	v.SetDefault("http.secret_key", defaults.HTTP.SecretKey)
	v.SetDefault("http.no_auth", defaults.HTTP.NoAuth)
	v.SetDefault("http.max_connections", defaults.HTTP.MaxConnections)
	v.SetDefault("http.admin_password_hash", defaults.HTTP.AdminPasswordHash)

	v.SetDefault("bridge.listen", defaults.Bridge.Listen)
	v.SetDefault("trace.capacity", defaults.Trace.Capacity)
	v.SetDefault("trace.database", defaults.Trace.Database)

	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.file", defaults.Log.File)
	v.SetDefault("log.max_size_mb", defaults.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", defaults.Log.MaxBackups)
	v.SetDefault("log.max_age_days", defaults.Log.MaxAgeDays)
	v.SetDefault("log.compress", defaults.Log.Compress)
}

// Load reads the configuration. configFile may be empty.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if errs := c.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &c, nil
}

// PeerEIDs returns the configured peers as endpoint IDs
func (c *Config) PeerEIDs() []link.EID {
	out := make([]link.EID, 0, len(c.Peers))
	for _, p := range c.Peers {
		out = append(out, link.EID(p))
	}
	return out
}

// TransportConfig builds the transport configuration
func (c *Config) TransportConfig() *transport.Config {
	tc := transport.NewConfig(c.LinkInterface(), link.EID(c.LocalEID), c.PeerEIDs()...)
	tc.DefaultTimeout = c.Transport.DefaultTimeout
	tc.PollInterval = c.Transport.PollInterval
	tc.SweepInterval = c.Transport.SweepInterval
	tc.SetDefaults()
	return tc
}

// LinkInterface is the name handed to Link.Open
func (c *Config) LinkInterface() string {
	switch {
	case c.Link.Kind == LinkSerial && c.Link.Device != "":
		return c.Link.Device
	case c.Link.Kind == LinkBridge && c.Link.BridgeAddress != "":
		return c.Link.BridgeAddress
	case c.Link.Interface != "":
		return c.Link.Interface
	default:
		return c.Link.Kind
	}
}

// LogRotation returns the file rotation limits for the logger
func (c *Config) LogRotation() logging.Rotation {
	return logging.Rotation{
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// SerialConfig builds the serial link configuration
func (c *Config) SerialConfig() serial.Config {
	return serial.Config{
		Device: c.Link.Device,
		Baud:   c.Link.Baud,
		MTU:    c.Link.MTU,
	}
}

// BridgeServerConfig builds the bridge server configuration
func (c *Config) BridgeServerConfig() *bridge.Config {
	bc := &bridge.Config{ListenAddress: c.Bridge.Listen}
	bc.SetDefaults()
	return bc
}
