/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package softphonesdk

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 50*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 5*time.Second, cfg.UnregisterTimeout)
	assert.Equal(t, 3, cfg.RegisterMaxAttempts)
	assert.Equal(t, PluginSIP, cfg.Plugin)
	assert.Equal(t, "44", cfg.DefaultCountryCode)
	assert.Less(t, cfg.RefreshInterval, cfg.RegisterExpires)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero keepalive", func(c *Config) { c.KeepaliveInterval = 0 }},
		{"negative register timeout", func(c *Config) { c.RegisterTimeout = -time.Second }},
		{"no connect attempts", func(c *Config) { c.MaxConnectAttempts = 0 }},
		{"no register attempts", func(c *Config) { c.RegisterMaxAttempts = 0 }},
		{"refresh after expiry", func(c *Config) { c.RefreshInterval = 2 * time.Minute }},
		{"unknown plugin", func(c *Config) { c.Plugin = "videoroom" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigRetryPolicies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = 100 * time.Millisecond

	connect := cfg.ConnectRetryPolicy()
	assert.Equal(t, cfg.MaxConnectAttempts, connect.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, connect.Backoff(2))

	register := cfg.RegisterRetryPolicy()
	assert.True(t, register.Retryable(NewSignalingError("register", 0, "socket closed", nil)))
	assert.False(t, register.Retryable(NewRegistrationError(403, "Forbidden")))
}

func TestLoggers(t *testing.T) {
	assert.Same(t, NewLogger("janus"), NewLogger("janus"))
	assert.Equal(t, "janus", NewLogger("janus").Data["prefix"])

	require.NoError(t, SetLogLevel("debug"))
	assert.Equal(t, logrus.DebugLevel, base().GetLevel())
	assert.Error(t, SetLogLevel("loud"))
	require.NoError(t, SetLogLevel("info"))

	custom := logrus.New()
	cfg := &Config{Logger: custom}
	entry, ok := cfg.LoggerFor("calling").(*logrus.Entry)
	require.True(t, ok)
	assert.Same(t, custom, entry.Logger)
}
