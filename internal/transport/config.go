package transport

import (
	"errors"
	"time"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
)

var (
	// ErrEmptyInterface is returned when no link interface is configured
	ErrEmptyInterface = errors.New("link interface cannot be empty")
	// ErrNegativeInterval is returned when a worker interval is negative
	ErrNegativeInterval = errors.New("worker intervals cannot be negative")
)

// Config holds configuration for the PLDM transport
type Config struct {
	// Interface is passed to Link.Open (tty path, bridge address, ...)
	Interface string

	// LocalEID is this agent's MCTP endpoint ID
	LocalEID link.EID

	// Peers lists the endpoints the link should expect
	Peers []link.EID

	// DefaultTimeout applies to requests sent with a non-positive timeout
	DefaultTimeout time.Duration

	// PollInterval is how long the receive worker sleeps on an empty poll
	PollInterval time.Duration

	// SweepInterval is how often the timeout worker scans for expired requests
	SweepInterval time.Duration

	// ErrorBackoff is how long the receive worker pauses after a link error
	ErrorBackoff time.Duration
}

// NewConfig creates a transport configuration with safe defaults
func NewConfig(iface string, localEID link.EID, peers ...link.EID) *Config {
	c := &Config{
		Interface: iface,
		LocalEID:  localEID,
		Peers:     peers,
	}
	c.SetDefaults()
	return c
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Interface == "" {
		return ErrEmptyInterface
	}
	if c.DefaultTimeout < 0 || c.PollInterval < 0 || c.SweepInterval < 0 || c.ErrorBackoff < 0 {
		return ErrNegativeInterval
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Millisecond
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 100 * time.Millisecond
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 100 * time.Millisecond
	}
}

func (c *Config) linkConfig() link.Config {
	peers := make([]link.EID, len(c.Peers))
	copy(peers, c.Peers)
	return link.Config{
		Interface: c.Interface,
		LocalEID:  c.LocalEID,
		Peers:     peers,
	}
}
