/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/janus-sip-go-sdk/janus"
	"github.com/tejzpr/janus-sip-go-sdk/janus/janustest"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

func testConfig() *softphonesdk.Config {
	cfg := softphonesdk.DefaultConfig()
	cfg.RequestTimeout = 2 * time.Second
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.RetryBaseDelay = 10 * time.Millisecond
	cfg.MaxConnectAttempts = 3
	return cfg
}

func connected(t *testing.T) (*janustest.Server, *janus.Client) {
	t.Helper()
	server := janustest.NewServer()
	t.Cleanup(server.Close)

	client := janus.New(testConfig())
	require.NoError(t, client.Connect(context.Background(), server.URL, []string{"stun:stun.example.com:3478"}, time.Second))
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return server, client
}

func TestNew(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		client := janus.New(nil)
		require.NotNil(t, client)
		assert.Equal(t, janus.StateDisconnected, client.State())
		assert.False(t, client.IsConnected())
		assert.Zero(t, client.SessionID())
	})
}

func TestConnect(t *testing.T) {
	t.Run("creates a session", func(t *testing.T) {
		server, client := connected(t)

		assert.True(t, client.IsConnected())
		assert.Equal(t, janus.StateConnected, client.State())
		assert.NotZero(t, client.SessionID())
		assert.Equal(t, []string{"stun:stun.example.com:3478"}, client.ICEServers())
		assert.Equal(t, 1, server.CountFrames(janus.TypeCreate))
	})

	t.Run("sends api secret and token", func(t *testing.T) {
		server := janustest.NewServer()
		defer server.Close()

		cfg := testConfig()
		cfg.APISecret = "s3cret"
		cfg.Token = "tok"
		client := janus.New(cfg)
		require.NoError(t, client.Connect(context.Background(), server.URL, nil, time.Second))
		defer client.Disconnect(context.Background())

		frames := server.Frames()
		require.NotEmpty(t, frames)
		assert.Equal(t, "s3cret", frames[0].APISecret)
		assert.Equal(t, "tok", frames[0].Token)
	})

	t.Run("retries session creation", func(t *testing.T) {
		server := janustest.NewServer()
		defer server.Close()
		server.FailCreates = 2

		client := janus.New(testConfig())
		require.NoError(t, client.Connect(context.Background(), server.URL, nil, time.Second))
		defer client.Disconnect(context.Background())

		assert.Equal(t, 3, server.CountFrames(janus.TypeCreate))
		assert.True(t, client.IsConnected())
	})

	t.Run("exhausted retries return a connection error", func(t *testing.T) {
		server := janustest.NewServer()
		defer server.Close()
		server.FailCreates = 10

		client := janus.New(testConfig())
		err := client.Connect(context.Background(), server.URL, nil, time.Second)
		require.Error(t, err)
		assert.True(t, softphonesdk.IsConnectionError(err))

		var connErr *softphonesdk.ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, 3, connErr.Attempts)
		assert.Equal(t, janus.StateFailed, client.State())
		assert.False(t, client.IsConnected())
	})

	t.Run("unreachable gateway", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxConnectAttempts = 1
		client := janus.New(cfg)
		err := client.Connect(context.Background(), "ws://127.0.0.1:1/janus", nil, time.Second)
		assert.True(t, softphonesdk.IsConnectionError(err))
	})

	t.Run("reconnect destroys the previous session", func(t *testing.T) {
		server, client := connected(t)
		first := client.SessionID()

		_, err := client.Attach(context.Background(), janustest.SIPPluginName)
		require.NoError(t, err)

		require.NoError(t, client.Connect(context.Background(), server.URL, nil, time.Second))
		assert.NotEqual(t, first, client.SessionID())
		assert.Equal(t, 1, server.CountFrames(janus.TypeDestroy))
		assert.Equal(t, 1, server.CountFrames(janus.TypeDetach))
		assert.Equal(t, 2, server.CountFrames(janus.TypeCreate))
	})

	t.Run("state changes are published", func(t *testing.T) {
		server := janustest.NewServer()
		defer server.Close()

		client := janus.New(testConfig())
		var changes []janus.StateChange
		client.On(janus.EventStateChanged, func(data interface{}) {
			changes = append(changes, data.(janus.StateChange))
		})

		require.NoError(t, client.Connect(context.Background(), server.URL, nil, time.Second))
		require.NoError(t, client.Disconnect(context.Background()))

		require.Len(t, changes, 3)
		assert.Equal(t, janus.StateConnecting, changes[0].To)
		assert.Equal(t, janus.StateConnected, changes[1].To)
		assert.Equal(t, janus.StateDisconnected, changes[2].To)
	})
}

func TestDisconnect(t *testing.T) {
	t.Run("never connected", func(t *testing.T) {
		client := janus.New(testConfig())
		assert.NoError(t, client.Disconnect(context.Background()))
		assert.Equal(t, janus.StateDisconnected, client.State())
	})

	t.Run("idempotent", func(t *testing.T) {
		server, client := connected(t)

		require.NoError(t, client.Disconnect(context.Background()))
		require.NoError(t, client.Disconnect(context.Background()))

		assert.False(t, client.IsConnected())
		assert.Zero(t, client.SessionID())
		assert.Equal(t, 1, server.CountFrames(janus.TypeDestroy))
	})

	t.Run("deliberate disconnect is not a session loss", func(t *testing.T) {
		_, client := connected(t)
		lost := make(chan struct{}, 1)
		client.On(janus.EventSessionLost, func(interface{}) { lost <- struct{}{} })

		require.NoError(t, client.Disconnect(context.Background()))
		select {
		case <-lost:
			t.Fatal("session lost emitted for a deliberate disconnect")
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestSessionLoss(t *testing.T) {
	t.Run("gateway timeout", func(t *testing.T) {
		server, client := connected(t)
		lost := make(chan struct{}, 1)
		client.On(janus.EventSessionLost, func(interface{}) { lost <- struct{}{} })

		server.ExpireSessions()

		select {
		case <-lost:
		case <-time.After(2 * time.Second):
			t.Fatal("expected session lost")
		}
		assert.False(t, client.IsConnected())
		assert.Equal(t, janus.StateFailed, client.State())
	})

	t.Run("socket dropped", func(t *testing.T) {
		server, client := connected(t)
		h, err := client.Attach(context.Background(), janustest.SIPPluginName)
		require.NoError(t, err)

		detached := make(chan struct{}, 1)
		h.On(janus.TypeDetached, func(*janus.Message) { detached <- struct{}{} })
		lost := make(chan struct{}, 1)
		client.On(janus.EventSessionLost, func(interface{}) { lost <- struct{}{} })

		server.DropConnections()

		select {
		case <-lost:
		case <-time.After(2 * time.Second):
			t.Fatal("expected session lost")
		}
		select {
		case <-detached:
		case <-time.After(time.Second):
			t.Fatal("expected handle to be detached")
		}
		assert.True(t, h.IsDetached())
	})

	t.Run("unanswered keepalives", func(t *testing.T) {
		server := janustest.NewServer()
		defer server.Close()
		server.IgnoreKeepalives = true

		cfg := testConfig()
		cfg.RequestTimeout = 100 * time.Millisecond
		client := janus.New(cfg)
		lost := make(chan struct{}, 1)
		client.On(janus.EventSessionLost, func(interface{}) { lost <- struct{}{} })

		require.NoError(t, client.Connect(context.Background(), server.URL, nil, 50*time.Millisecond))

		select {
		case <-lost:
		case <-time.After(3 * time.Second):
			t.Fatal("expected session lost after keepalive failures")
		}
		assert.GreaterOrEqual(t, server.CountFrames(janus.TypeKeepalive), 2)
	})

	t.Run("keepalives are sent", func(t *testing.T) {
		server := janustest.NewServer()
		defer server.Close()

		client := janus.New(testConfig())
		require.NoError(t, client.Connect(context.Background(), server.URL, nil, 30*time.Millisecond))
		defer client.Disconnect(context.Background())

		assert.Eventually(t, func() bool {
			return server.CountFrames(janus.TypeKeepalive) >= 2
		}, 2*time.Second, 10*time.Millisecond)
		assert.True(t, client.IsConnected())
	})
}

func TestAttach(t *testing.T) {
	t.Run("requires a connection", func(t *testing.T) {
		client := janus.New(testConfig())
		_, err := client.Attach(context.Background(), janustest.SIPPluginName)
		require.Error(t, err)
		assert.True(t, softphonesdk.IsAttachError(err))
		assert.ErrorIs(t, err, softphonesdk.ErrNotConnected)
	})

	t.Run("returns a handle", func(t *testing.T) {
		server, client := connected(t)

		h, err := client.Attach(context.Background(), janustest.SIPPluginName)
		require.NoError(t, err)
		assert.NotZero(t, h.ID())
		assert.Equal(t, janustest.SIPPluginName, h.Plugin())
		assert.Equal(t, []uint64{h.ID()}, server.HandleIDs(janustest.SIPPluginName))
	})

	t.Run("gateway rejection", func(t *testing.T) {
		server, client := connected(t)
		server.RejectAttach = true

		_, err := client.Attach(context.Background(), "janus.plugin.nope")
		require.Error(t, err)
		assert.True(t, softphonesdk.IsAttachError(err))

		var gwErr *softphonesdk.GatewayError
		require.ErrorAs(t, err, &gwErr)
		assert.Equal(t, 460, gwErr.Code)
	})
}
