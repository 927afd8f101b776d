/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	softphone "github.com/tejzpr/janus-sip-go-sdk"
	"github.com/tejzpr/janus-sip-go-sdk/janus/janustest"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadOptions(t *testing.T) {
	t.Run("flags", func(t *testing.T) {
		o, err := loadOptions([]string{
			"-gateway", "wss://janus.example.com/ws",
			"-ice", "stun:stun.example.com:3478, turn:turn.example.com",
			"-user", "alice", "-registrar", "example.com", "-nc",
		}, env(nil), io.Discard)
		require.NoError(t, err)
		assert.Equal(t, "wss://janus.example.com/ws", o.Gateway)
		assert.Equal(t, []string{"stun:stun.example.com:3478", "turn:turn.example.com"}, o.ICEServers)
		assert.Equal(t, "alice", o.Username)
		assert.True(t, o.NoConsole)

		cfg := o.config()
		assert.Equal(t, o.Gateway, cfg.GatewayURL)
		assert.Equal(t, softphonesdk.PluginSIP, cfg.Plugin)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("environment wins", func(t *testing.T) {
		o, err := loadOptions([]string{"-user", "alice", "-tone", "300"}, env(map[string]string{
			"SOFTPHONE_USER":   "bob",
			"SOFTPHONE_TONE":   "440",
			"SOFTPHONE_ANSWER": "true",
			"SOFTPHONE_ICE":    "stun:a,stun:b",
		}), io.Discard)
		require.NoError(t, err)
		assert.Equal(t, "bob", o.Username)
		assert.Equal(t, 440.0, o.ToneHz)
		assert.True(t, o.AutoAnswer)
		assert.Len(t, o.ICEServers, 2)
	})

	t.Run("malformed environment ignored", func(t *testing.T) {
		o, err := loadOptions(nil, env(map[string]string{"SOFTPHONE_TONE": "loud"}), io.Discard)
		require.NoError(t, err)
		assert.Zero(t, o.ToneHz)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := loadOptions([]string{"-bogus"}, env(nil), io.Discard)
		assert.Error(t, err)
	})
}

func TestConsole(t *testing.T) {
	server := janustest.NewServer()
	defer server.Close()
	server.InstallSIP()

	cfg := softphonesdk.DefaultConfig()
	cfg.GatewayURL = server.URL
	cfg.RequestTimeout = 2 * time.Second
	cfg.RegisterTimeout = 2 * time.Second
	cfg.UnregisterTimeout = 500 * time.Millisecond
	cfg.CallCooldown = 100 * time.Millisecond
	phone, err := softphone.New(softphone.Options{Config: cfg})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, phone.Start(ctx))
	defer phone.Stop(ctx)

	var out bytes.Buffer
	c := &console{phone: phone, out: &out}
	run := func(line string) string {
		out.Reset()
		assert.False(t, c.exec(ctx, line))
		return out.String()
	}

	assert.Empty(t, run("   "))
	assert.False(t, phone.Interaction().HasInteracted())

	assert.Contains(t, run("register alice"), "Usage")
	assert.True(t, phone.Interaction().HasInteracted())

	assert.Equal(t, "Registered\n", run("register alice secret example.com Alice Smith"))
	assert.Contains(t, run("status"), "sip:alice@example.com")

	assert.Contains(t, run("dtmf 1"), "Error")
	assert.Contains(t, run("decline abc"), "Invalid code")
	assert.Contains(t, run("frobnicate"), "Unknown command")
	assert.Equal(t, "Hung up\n", run("hangup"))

	assert.Contains(t, run("call 1234"), "Calling 1234")
	require.Eventually(t, func() bool {
		return phone.State().Snapshot().Call == "active"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "Sent 12#\n", run("dtmf 12#"))
	assert.Equal(t, "Muted\n", run("mute"))
	assert.Equal(t, "Hung up\n", run("hangup"))

	assert.True(t, c.exec(ctx, "exit"))
}
