/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package softphone

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/janus-sip-go-sdk/calling"
	"github.com/tejzpr/janus-sip-go-sdk/interaction"
	"github.com/tejzpr/janus-sip-go-sdk/janus/janustest"
	"github.com/tejzpr/janus-sip-go-sdk/metrics"
	"github.com/tejzpr/janus-sip-go-sdk/prefs"
	"github.com/tejzpr/janus-sip-go-sdk/registration"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

var alice = registration.Credentials{Username: "alice", Secret: "secret", Registrar: "example.com:5060"}

func testConfig(url string) *softphonesdk.Config {
	cfg := softphonesdk.DefaultConfig()
	cfg.GatewayURL = url
	cfg.KeepaliveInterval = time.Second
	cfg.RequestTimeout = 2 * time.Second
	cfg.RetryBaseDelay = 20 * time.Millisecond
	cfg.RegisterTimeout = 2 * time.Second
	cfg.UnregisterTimeout = 500 * time.Millisecond
	cfg.CallCooldown = 100 * time.Millisecond
	return cfg
}

func start(t *testing.T) (*Softphone, *janustest.Server) {
	t.Helper()
	server := janustest.NewServer()
	t.Cleanup(server.Close)
	server.InstallSIP()

	phone, err := New(Options{Config: testConfig(server.URL), Metrics: metrics.New(nil)})
	require.NoError(t, err)
	require.NoError(t, phone.Start(context.Background()))
	t.Cleanup(func() { _ = phone.Stop(context.Background()) })
	return phone, server
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		phone, err := New(Options{})
		require.NoError(t, err)
		assert.NotNil(t, phone.Client())
		assert.NotNil(t, phone.Registration())
		assert.NotNil(t, phone.Calls())
		assert.NotNil(t, phone.Audio())
		assert.NotNil(t, phone.Interaction())
		assert.NotNil(t, phone.Preferences())
		assert.Nil(t, phone.Plugin())
		assert.Equal(t, "disconnected", phone.State().Snapshot().Connection)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := softphonesdk.DefaultConfig()
		cfg.Plugin = "videoroom"
		_, err := New(Options{Config: cfg})
		assert.Error(t, err)
	})

	t.Run("shared tracker", func(t *testing.T) {
		tracker := interaction.New()
		phone, err := New(Options{Interaction: tracker})
		require.NoError(t, err)
		assert.Same(t, tracker, phone.Interaction())
	})
}

func TestStartAndLogin(t *testing.T) {
	phone, _ := start(t)
	require.NotNil(t, phone.Plugin())
	assert.Equal(t, softphonesdk.PluginSIP, phone.Plugin().Kind())
	assert.Equal(t, "connected", phone.State().Snapshot().Connection)
	assert.False(t, phone.IsRegistered())

	require.NoError(t, phone.Login(context.Background(), alice))
	assert.True(t, phone.IsRegistered())
	assert.Equal(t, "example.com:5060", phone.Registrar())

	snap := phone.State().Snapshot()
	assert.Equal(t, "registered", snap.Registration)
	assert.Equal(t, "sip:alice@example.com:5060", snap.Identity)

	stored := prefs.Load(phone.Preferences()).SIP
	assert.Equal(t, "alice", stored.Username)
	assert.Equal(t, "example.com:5060", stored.Registrar)

	require.NoError(t, phone.Logout(context.Background()))
	assert.False(t, phone.IsRegistered())
	assert.True(t, prefs.Load(phone.Preferences()).SIP.Complete())

	t.Run("login from preferences", func(t *testing.T) {
		require.NoError(t, phone.LoginFromPreferences(context.Background()))
		assert.True(t, phone.IsRegistered())
	})
}

func TestLoginFromEmptyPreferences(t *testing.T) {
	phone, _ := start(t)
	assert.ErrorIs(t, phone.LoginFromPreferences(context.Background()), softphonesdk.ErrNotRegistered)
}

func TestCallState(t *testing.T) {
	phone, _ := start(t)
	require.NoError(t, phone.Login(context.Background(), alice))
	phone.Interaction().Record(interaction.Click)

	require.NoError(t, phone.Calls().Call(context.Background(), "bob", false))
	require.Eventually(t, func() bool {
		return phone.State().Snapshot().Call == string(calling.StateActive)
	}, 5*time.Second, 20*time.Millisecond)

	snap := phone.State().Snapshot()
	assert.Equal(t, "outgoing", snap.CallDirection)
	assert.Contains(t, snap.CallPeer, "bob@example.com")

	assert.True(t, phone.ToggleMute())
	assert.True(t, phone.State().Snapshot().Muted)

	require.NoError(t, phone.Calls().Hangup(context.Background()))
	require.Eventually(t, func() bool {
		return phone.State().Snapshot().Call == string(calling.StateIdle)
	}, 2*time.Second, 20*time.Millisecond)
	assert.False(t, phone.State().Snapshot().Muted)
}

func TestCallWithoutRegistration(t *testing.T) {
	phone, _ := start(t)
	err := phone.Calls().Call(context.Background(), "bob", false)
	assert.ErrorIs(t, err, softphonesdk.ErrNotRegistered)
}

func TestReconnect(t *testing.T) {
	phone, server := start(t)
	require.NoError(t, phone.Login(context.Background(), alice))
	first := phone.Plugin().HandleID()

	server.DropConnections()

	require.Eventually(t, func() bool {
		p := phone.Plugin()
		return p != nil && p.HandleID() != first && phone.IsRegistered()
	}, 10*time.Second, 50*time.Millisecond)
	assert.Len(t, server.Requests("register"), 2)
	assert.Equal(t, "connected", phone.State().Snapshot().Connection)
}

func TestStop(t *testing.T) {
	phone, server := start(t)
	require.NoError(t, phone.Login(context.Background(), alice))

	require.NoError(t, phone.Stop(context.Background()))
	assert.Len(t, server.Requests("unregister"), 1)
	assert.False(t, phone.Client().IsConnected())
	assert.NoError(t, phone.Stop(context.Background()))
	assert.ErrorIs(t, phone.Start(context.Background()), ErrStopped)
}
