/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package registration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/janus-sip-go-sdk/janus"
	"github.com/tejzpr/janus-sip-go-sdk/janus/janustest"
	"github.com/tejzpr/janus-sip-go-sdk/plugin"
	"github.com/tejzpr/janus-sip-go-sdk/prefs"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

var alice = Credentials{Username: "alice", Secret: "secret", Registrar: "example.com:5060"}

func testConfig() *softphonesdk.Config {
	cfg := softphonesdk.DefaultConfig()
	cfg.RequestTimeout = 2 * time.Second
	cfg.RetryBaseDelay = 10 * time.Millisecond
	cfg.RegisterTimeout = 2 * time.Second
	cfg.UnregisterTimeout = 500 * time.Millisecond
	return cfg
}

type fixture struct {
	server  *janustest.Server
	script  *janustest.SIPScript
	client  *janus.Client
	sip     *plugin.SIP
	manager *Manager
}

func setup(t *testing.T, cfg *softphonesdk.Config) *fixture {
	t.Helper()
	server := janustest.NewServer()
	t.Cleanup(server.Close)
	script := server.InstallSIP()

	client := janus.New(cfg)
	require.NoError(t, client.Connect(context.Background(), server.URL, nil, time.Second))
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	sip, err := plugin.NewAttacher(client, cfg).AttachSIP(context.Background())
	require.NoError(t, err)

	m := New(cfg, nil)
	m.Bind(sip)
	t.Cleanup(m.Close)
	return &fixture{server: server, script: script, client: client, sip: sip, manager: m}
}

// statuses records every transition
func statuses(m *Manager) func() []StatusChange {
	var mu sync.Mutex
	var changes []StatusChange
	m.Subscribe(EventStatus, func(data interface{}) {
		mu.Lock()
		changes = append(changes, data.(StatusChange))
		mu.Unlock()
	})
	return func() []StatusChange {
		mu.Lock()
		defer mu.Unlock()
		return append([]StatusChange(nil), changes...)
	}
}

func TestCredentials(t *testing.T) {
	tests := []struct {
		name     string
		creds    Credentials
		identity string
		proxy    string
	}{
		{"host with port", alice, "sip:alice@example.com:5060", "sip:example.com:5060"},
		{"scheme stripped", Credentials{Username: "sip:bob", Registrar: "pbx.example.com"}, "sip:bob@pbx.example.com", "sip:pbx.example.com"},
		{"embedded domain replaced by registrar", Credentials{Username: "carol@other.org", Registrar: "example.com"}, "sip:carol@example.com", "sip:example.com"},
		{"scheme on registrar", Credentials{Username: "dave", Registrar: "sip:example.com:5080"}, "sip:dave@example.com:5080", "sip:example.com:5080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := tt.creds.Identity()
			require.NoError(t, err)
			assert.Equal(t, tt.identity, identity)

			proxy, err := tt.creds.Proxy()
			require.NoError(t, err)
			assert.Equal(t, tt.proxy, proxy)
		})
	}

	t.Run("validation", func(t *testing.T) {
		_, err := Credentials{Registrar: "example.com"}.Identity()
		assert.ErrorIs(t, err, ErrMissingUsername)
		_, err = Credentials{Username: "alice"}.Identity()
		assert.ErrorIs(t, err, ErrMissingRegistrar)
	})

	t.Run("equality is field by field", func(t *testing.T) {
		other := alice
		assert.True(t, alice.Equal(other))
		other.DisplayName = "Alice"
		assert.False(t, alice.Equal(other))
	})

	t.Run("from preferences", func(t *testing.T) {
		p := prefs.Defaults()
		p.SIP = prefs.SIPCredentials{Username: "alice", Secret: "secret", Registrar: "example.com:5060", AuthUser: "a1"}
		c := CredentialsFromPreferences(p)
		assert.Equal(t, "alice", c.Username)
		assert.Equal(t, "a1", c.AuthUser)
		assert.Equal(t, "example.com:5060", c.Host())
	})
}

func TestRegister(t *testing.T) {
	t.Run("registers and reports the binding", func(t *testing.T) {
		f := setup(t, testConfig())
		changes := statuses(f.manager)

		require.NoError(t, f.manager.Register(context.Background(), alice))

		assert.Equal(t, StatusRegistered, f.manager.Status())
		assert.True(t, f.manager.IsRegistered())
		creds, ok := f.manager.Credentials()
		require.True(t, ok)
		assert.Equal(t, alice, creds)
		assert.Equal(t, "example.com:5060", f.manager.Registrar())
		assert.NoError(t, f.manager.LastError())

		reqs := f.server.Requests("register")
		require.Len(t, reqs, 1)
		assert.Equal(t, "sip:alice@example.com:5060", reqs[0]["username"])
		assert.Equal(t, "sip:example.com:5060", reqs[0]["proxy"])
		assert.Equal(t, "secret", reqs[0]["secret"])
		assert.EqualValues(t, 60, reqs[0]["register_ttl"])

		got := changes()
		require.Len(t, got, 2)
		assert.Equal(t, StatusRegistering, got[0].To)
		assert.Equal(t, StatusRegistered, got[1].To)
		assert.Equal(t, alice, got[1].Credentials)
	})

	t.Run("identical credentials are a no-op", func(t *testing.T) {
		f := setup(t, testConfig())
		require.NoError(t, f.manager.Register(context.Background(), alice))
		before := f.server.CountFrames(janus.TypeMessage)

		require.NoError(t, f.manager.Register(context.Background(), alice))
		require.NoError(t, f.manager.Register(context.Background(), alice))

		assert.Equal(t, before, f.server.CountFrames(janus.TypeMessage))
		assert.Len(t, f.server.Requests("register"), 1)
	})

	t.Run("different credentials unregister first", func(t *testing.T) {
		f := setup(t, testConfig())
		require.NoError(t, f.manager.Register(context.Background(), alice))

		bob := Credentials{Username: "bob", Secret: "pw", Registrar: "example.com:5060"}
		require.NoError(t, f.manager.Register(context.Background(), bob))

		assert.Len(t, f.server.Requests("unregister"), 1)
		assert.Len(t, f.server.Requests("register"), 2)
		creds, ok := f.manager.Credentials()
		require.True(t, ok)
		assert.Equal(t, bob, creds)
	})

	t.Run("newer credentials supersede an in-flight request", func(t *testing.T) {
		f := setup(t, testConfig())
		f.script.Set(func(sc *janustest.SIPScript) { sc.RegisterDelay = 200 * time.Millisecond })

		bob := Credentials{Username: "bob", Secret: "pw", Registrar: "example.com:5060"}
		var bobIssued atomic.Bool
		var aliceAfterBob atomic.Bool
		f.manager.Subscribe(EventStatus, func(data interface{}) {
			change := data.(StatusChange)
			if bobIssued.Load() && change.To == StatusRegistered && change.Credentials.Equal(alice) {
				aliceAfterBob.Store(true)
			}
		})

		aliceErr := make(chan error, 1)
		go func() { aliceErr <- f.manager.Register(context.Background(), alice) }()
		require.Eventually(t, func() bool {
			return len(f.server.Requests("register")) == 1
		}, 2*time.Second, 5*time.Millisecond)

		bobIssued.Store(true)
		require.NoError(t, f.manager.Register(context.Background(), bob))

		assert.ErrorIs(t, <-aliceErr, softphonesdk.ErrSuperseded)
		assert.False(t, aliceAfterBob.Load())
		assert.Len(t, f.server.Requests("unregister"), 1)
		reqs := f.server.Requests("register")
		require.Len(t, reqs, 2)
		assert.Equal(t, "sip:bob@example.com:5060", reqs[1]["username"])
		creds, ok := f.manager.Credentials()
		require.True(t, ok)
		assert.Equal(t, bob, creds)
	})

	t.Run("times out within the configured window", func(t *testing.T) {
		cfg := testConfig()
		cfg.RegisterTimeout = 300 * time.Millisecond
		f := setup(t, cfg)
		f.script.Set(func(sc *janustest.SIPScript) { sc.SilentRegister = true })

		start := time.Now()
		err := f.manager.Register(context.Background(), alice)
		elapsed := time.Since(start)

		require.Error(t, err)
		assert.True(t, softphonesdk.IsRegistrationTimeout(err))
		assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
		assert.Less(t, elapsed, 2*time.Second)
		assert.Equal(t, StatusFailed, f.manager.Status())
		assert.Equal(t, err, f.manager.LastError())
		assert.Len(t, f.server.Requests("register"), 1)
	})

	t.Run("maps registration_failed codes", func(t *testing.T) {
		f := setup(t, testConfig())
		f.script.Set(func(sc *janustest.SIPScript) {
			sc.RegisterFailure = 403
			sc.RegisterReason = "Forbidden"
		})
		changes := statuses(f.manager)

		err := f.manager.Register(context.Background(), alice)
		var regErr *softphonesdk.RegistrationError
		require.True(t, errors.As(err, &regErr))
		assert.Equal(t, softphonesdk.RegistrationForbidden, regErr.Kind)
		assert.Equal(t, 403, regErr.Code)
		assert.NotEmpty(t, regErr.HumanMessage())
		assert.Equal(t, StatusFailed, f.manager.Status())

		got := changes()
		require.NotEmpty(t, got)
		assert.Equal(t, StatusFailed, got[len(got)-1].To)
		assert.Equal(t, err, got[len(got)-1].Err)
	})

	t.Run("already registered unregisters and retries once", func(t *testing.T) {
		f := setup(t, testConfig())
		f.script.Set(func(sc *janustest.SIPScript) {
			sc.RegisterErrorCode = plugin.ErrorCodeAlreadyRegistered
			sc.RegisterError = "Already registered"
			sc.RegisterErrorTimes = 1
		})

		require.NoError(t, f.manager.Register(context.Background(), alice))
		assert.Len(t, f.server.Requests("register"), 2)
		assert.Len(t, f.server.Requests("unregister"), 1)
		assert.True(t, f.manager.IsRegistered())
	})

	t.Run("persistent already registered gives up after one retry", func(t *testing.T) {
		f := setup(t, testConfig())
		f.script.Set(func(sc *janustest.SIPScript) {
			sc.RegisterErrorCode = plugin.ErrorCodeAlreadyRegistered
			sc.RegisterError = "Already registered"
		})

		err := f.manager.Register(context.Background(), alice)
		var regErr *softphonesdk.RegistrationError
		require.True(t, errors.As(err, &regErr))
		assert.Equal(t, softphonesdk.RegistrationAlreadyRegistered, regErr.Kind)
		assert.Len(t, f.server.Requests("register"), 2)
	})

	t.Run("plugin errors of other requests are not registration outcomes", func(t *testing.T) {
		f := setup(t, testConfig())
		f.script.Set(func(sc *janustest.SIPScript) { sc.RegisterDelay = 300 * time.Millisecond })

		done := make(chan error, 1)
		go func() { done <- f.manager.Register(context.Background(), alice) }()
		require.Eventually(t, func() bool {
			return len(f.server.Requests("register")) == 1
		}, 2*time.Second, 5*time.Millisecond)

		f.server.Push(f.sip.HandleID(), map[string]interface{}{
			"sip": "event", "error_code": plugin.ErrorCodeInvalidAddress, "error": "Invalid user address",
		}, nil)

		require.NoError(t, <-done)
		assert.True(t, f.manager.IsRegistered())
		assert.NoError(t, f.manager.LastError())
	})

	t.Run("retries transmission failures", func(t *testing.T) {
		cfg := testConfig()
		f := setup(t, cfg)
		var attempts atomic.Int32
		f.server.Handle(janustest.SIPPluginName, func(ex *janustest.Exchange) {
			if ex.String("request") != "register" {
				ex.Ack()
				return
			}
			if attempts.Add(1) < 3 {
				ex.Error(490, "Gateway busy")
				return
			}
			ex.Ack()
			ex.Event(janustest.SIPResult(map[string]interface{}{"event": "registered"}), nil)
		})

		require.NoError(t, f.manager.Register(context.Background(), alice))
		assert.EqualValues(t, 3, attempts.Load())
	})

	t.Run("rejects incomplete credentials without signaling", func(t *testing.T) {
		f := setup(t, testConfig())
		err := f.manager.Register(context.Background(), Credentials{Registrar: "example.com"})
		assert.ErrorIs(t, err, ErrMissingUsername)
		assert.Empty(t, f.server.Requests("register"))
	})

	t.Run("plugin without registrar", func(t *testing.T) {
		cfg := testConfig()
		server := janustest.NewServer()
		defer server.Close()
		client := janus.New(cfg)
		require.NoError(t, client.Connect(context.Background(), server.URL, nil, time.Second))
		defer client.Disconnect(context.Background())
		echo, err := plugin.NewAttacher(client, cfg).AttachEchoTest(context.Background())
		require.NoError(t, err)

		m := New(cfg, nil)
		m.Bind(echo)
		defer m.Close()
		assert.ErrorIs(t, m.Register(context.Background(), alice), ErrNoRegistrar)
	})
}

func TestUnregister(t *testing.T) {
	t.Run("sends unregister", func(t *testing.T) {
		f := setup(t, testConfig())
		require.NoError(t, f.manager.Register(context.Background(), alice))

		require.NoError(t, f.manager.Unregister(context.Background()))
		assert.Equal(t, StatusUnregistered, f.manager.Status())
		assert.Len(t, f.server.Requests("unregister"), 1)
		_, ok := f.manager.Credentials()
		assert.False(t, ok)
		_, ok = f.manager.LastRequested()
		assert.False(t, ok)
	})

	t.Run("missing reply counts as success", func(t *testing.T) {
		cfg := testConfig()
		cfg.UnregisterTimeout = 150 * time.Millisecond
		f := setup(t, cfg)
		require.NoError(t, f.manager.Register(context.Background(), alice))
		f.script.Set(func(sc *janustest.SIPScript) { sc.SilentUnregister = true })

		start := time.Now()
		require.NoError(t, f.manager.Unregister(context.Background()))
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
		assert.Equal(t, StatusUnregistered, f.manager.Status())
	})

	t.Run("never registered sends nothing", func(t *testing.T) {
		f := setup(t, testConfig())
		require.NoError(t, f.manager.Unregister(context.Background()))
		assert.Empty(t, f.server.Requests("unregister"))
	})
}

func TestRefresh(t *testing.T) {
	t.Run("re-sends register while registered", func(t *testing.T) {
		cfg := testConfig()
		cfg.RefreshInterval = 100 * time.Millisecond
		f := setup(t, cfg)
		require.NoError(t, f.manager.Register(context.Background(), alice))

		require.Eventually(t, func() bool {
			for _, req := range f.server.Requests("register") {
				if req["refresh"] == true {
					return true
				}
			}
			return false
		}, 2*time.Second, 20*time.Millisecond)
		assert.True(t, f.manager.IsRegistered())
	})

	t.Run("stops after unregister", func(t *testing.T) {
		cfg := testConfig()
		cfg.RefreshInterval = 50 * time.Millisecond
		f := setup(t, cfg)
		require.NoError(t, f.manager.Register(context.Background(), alice))
		require.NoError(t, f.manager.Unregister(context.Background()))

		time.Sleep(100 * time.Millisecond)
		count := len(f.server.Requests("register"))
		time.Sleep(200 * time.Millisecond)
		assert.Equal(t, count, len(f.server.Requests("register")))
	})

	t.Run("registrar failure marks the binding failed", func(t *testing.T) {
		f := setup(t, testConfig())
		require.NoError(t, f.manager.Register(context.Background(), alice))

		f.server.Push(f.sip.HandleID(), janustest.SIPResult(map[string]interface{}{
			"event": "registration_failed", "code": 480, "reason": "Temporarily Unavailable",
		}), nil)

		require.Eventually(t, func() bool {
			return f.manager.Status() == StatusFailed
		}, 2*time.Second, 10*time.Millisecond)
		var regErr *softphonesdk.RegistrationError
		require.True(t, errors.As(f.manager.LastError(), &regErr))
		assert.Equal(t, softphonesdk.RegistrationTemporarilyUnavailable, regErr.Kind)
	})
}

func TestReset(t *testing.T) {
	f := setup(t, testConfig())
	require.NoError(t, f.manager.Register(context.Background(), alice))

	f.manager.Reset()
	assert.Equal(t, StatusUnregistered, f.manager.Status())
	last, ok := f.manager.LastRequested()
	require.True(t, ok)
	assert.Equal(t, alice, last)
	assert.Empty(t, f.server.Requests("unregister"))
}
