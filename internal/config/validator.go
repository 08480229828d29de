package config

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/link/serial"
)

// Endpoint IDs 0 (null), 1-7 (reserved) and 255 (broadcast) cannot be
// assigned to an endpoint.
const (
	minAssignableEID = 8
	maxAssignableEID = 254
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config key (e.g., "link.baud")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLinkKinds returns the list of valid link kinds
func ValidLinkKinds() []string {
	return []string{LinkSerial, LinkLoopback, LinkBridge}
}

// Validate checks the Config and returns every problem found
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.LocalEID < minAssignableEID || c.LocalEID > maxAssignableEID {
		add("local_eid", c.LocalEID, fmt.Sprintf("must be between %d and %d", minAssignableEID, maxAssignableEID))
	}
	seen := make(map[int]bool, len(c.Peers))
	for _, p := range c.Peers {
		switch {
		case p < minAssignableEID || p > maxAssignableEID:
			add("peers", p, fmt.Sprintf("must be between %d and %d", minAssignableEID, maxAssignableEID))
		case p == c.LocalEID:
			add("peers", p, "must not include local_eid")
		case seen[p]:
			add("peers", p, "duplicate peer")
		}
		seen[p] = true
	}

	if !slices.Contains(ValidLinkKinds(), c.Link.Kind) {
		add("link.kind", c.Link.Kind, fmt.Sprintf("must be one of %s", strings.Join(ValidLinkKinds(), ", ")))
	}
	switch c.Link.Kind {
	case LinkSerial:
		if c.Link.Device == "" && c.Link.Interface == "" {
			add("link.device", c.Link.Device, "required for serial links")
		}
		if c.Link.Baud <= 0 {
			add("link.baud", c.Link.Baud, "must be positive")
		}
		if c.Link.MTU < 1 || c.Link.MTU > serial.MaxMTU {
			add("link.mtu", c.Link.MTU, fmt.Sprintf("must be between 1 and %d", serial.MaxMTU))
		}
	case LinkBridge:
		if c.Link.BridgeAddress == "" {
			add("link.bridge_address", c.Link.BridgeAddress, "required for bridge links")
		}
	}

	if c.Transport.DefaultTimeout <= 0 {
		add("transport.default_timeout", c.Transport.DefaultTimeout, "must be positive")
	}
	if c.Transport.PollInterval <= 0 {
		add("transport.poll_interval", c.Transport.PollInterval, "must be positive")
	}
	if c.Transport.SweepInterval <= 0 {
		add("transport.sweep_interval", c.Transport.SweepInterval, "must be positive")
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		add("http.port", c.HTTP.Port, "must be between 1 and 65535")
	}
	if c.HTTP.MaxConnections < 0 {
		add("http.max_connections", c.HTTP.MaxConnections, "cannot be negative")
	}
	if c.HTTP.AdminPasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(c.HTTP.AdminPasswordHash)); err != nil {
			add("http.admin_password_hash", "<redacted>", "must be a bcrypt hash")
		}
	}
	if c.Trace.Capacity <= 0 {
		add("trace.capacity", c.Trace.Capacity, "must be positive")
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		add("log", fmt.Sprintf("%d/%d/%d", c.Log.MaxSizeMB, c.Log.MaxBackups, c.Log.MaxAgeDays), "rotation limits cannot be negative")
	}
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		add("log.level", c.Log.Level, fmt.Sprintf("must be one of %s", strings.Join(ValidLogLevels(), ", ")))
	}

	return errs
}
