/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package softphonesdk

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Plugin kinds accepted by Config.Plugin
const (
	PluginSIP      = "sip"
	PluginEchoTest = "echotest"
)

// Config holds the configuration shared by every softphone component
type Config struct {
	// GatewayURL is the Janus websocket endpoint (e.g. wss://janus.example.com/ws)
	GatewayURL string

	// ICEServers are the STUN/TURN URIs handed to every PeerConnection
	ICEServers []string

	// APISecret and Token are added to every gateway request when set
	APISecret string
	Token     string

	// Transport
	KeepaliveInterval  time.Duration // Interval between session keepalives
	RequestTimeout     time.Duration // How long to wait for a transaction reply
	HandshakeTimeout   time.Duration // Websocket handshake timeout
	MaxConnectAttempts int           // Session creation attempts before giving up
	RetryBaseDelay     time.Duration // Backoff unit, waits are base × attempt

	// Registration
	RegisterTimeout     time.Duration // Wait for a registered/registration_failed event
	RegisterMaxAttempts int           // REGISTER transmission attempts
	UnregisterTimeout   time.Duration // Unregister wait, expiry counts as success
	RefreshInterval     time.Duration // REGISTER refresh while registered
	RegisterExpires     time.Duration // Expiry requested from the registrar

	// Calls
	CallCooldown       time.Duration // How long ended lingers before idle
	DefaultCountryCode string        // Prefixed to national-format numbers

	// Audio
	AudioHealthInterval time.Duration // Flow check period while a stream is attached
	AudioUnmuteDelay    time.Duration // Delay before unmuting after a muted autoplay
	SilenceThreshold    float64       // Minimum voice-band energy counted as flowing

	// Plugin selects the CallPlugin variant (PluginSIP or PluginEchoTest)
	Plugin string

	// LogLevel is a logrus level name, applied by SetLogLevel
	LogLevel string

	// Logger overrides the shared prefixed logger. Anything implementing
	// logrus.FieldLogger works, including *logrus.Logger and *logrus.Entry.
	Logger logrus.FieldLogger
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		GatewayURL:          "ws://localhost:8188",
		KeepaliveInterval:   25 * time.Second,
		RequestTimeout:      10 * time.Second,
		HandshakeTimeout:    10 * time.Second,
		MaxConnectAttempts:  5,
		RetryBaseDelay:      1 * time.Second,
		RegisterTimeout:     20 * time.Second,
		RegisterMaxAttempts: 3,
		UnregisterTimeout:   5 * time.Second,
		RefreshInterval:     50 * time.Second,
		RegisterExpires:     60 * time.Second,
		CallCooldown:        3 * time.Second,
		DefaultCountryCode:  "44",
		AudioHealthInterval: 5 * time.Second,
		AudioUnmuteDelay:    250 * time.Millisecond,
		SilenceThreshold:    1e-4,
		Plugin:              PluginSIP,
		LogLevel:            "info",
	}
}

// Validate reports configuration values no component can work with
func (c *Config) Validate() error {
	durations := map[string]time.Duration{
		"KeepaliveInterval":   c.KeepaliveInterval,
		"RequestTimeout":      c.RequestTimeout,
		"RegisterTimeout":     c.RegisterTimeout,
		"UnregisterTimeout":   c.UnregisterTimeout,
		"RefreshInterval":     c.RefreshInterval,
		"AudioHealthInterval": c.AudioHealthInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("invalid config: %s must be positive, got %v", name, d)
		}
	}
	if c.MaxConnectAttempts < 1 {
		return fmt.Errorf("invalid config: MaxConnectAttempts must be at least 1, got %d", c.MaxConnectAttempts)
	}
	if c.RegisterMaxAttempts < 1 {
		return fmt.Errorf("invalid config: RegisterMaxAttempts must be at least 1, got %d", c.RegisterMaxAttempts)
	}
	if c.RefreshInterval >= c.RegisterExpires && c.RegisterExpires > 0 {
		return fmt.Errorf("invalid config: RefreshInterval %v must be shorter than RegisterExpires %v", c.RefreshInterval, c.RegisterExpires)
	}
	switch c.Plugin {
	case PluginSIP, PluginEchoTest:
	default:
		return fmt.Errorf("invalid config: unknown plugin %q", c.Plugin)
	}
	return nil
}

// ConnectRetryPolicy returns the retry policy used for gateway session creation
func (c *Config) ConnectRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: c.MaxConnectAttempts,
		Backoff:     LinearBackoff(c.RetryBaseDelay),
	}
}

// RegisterRetryPolicy returns the retry policy used for REGISTER transmission
func (c *Config) RegisterRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: c.RegisterMaxAttempts,
		Backoff:     LinearBackoff(c.RetryBaseDelay),
		Retryable:   IsSignalingError,
	}
}

// LoggerFor returns the logger a component should use. A configured Logger
// wins; otherwise the shared prefixed logger is used.
func (c *Config) LoggerFor(component string) logrus.FieldLogger {
	if c != nil && c.Logger != nil {
		return c.Logger.WithField("prefix", component)
	}
	return NewLogger(component)
}
