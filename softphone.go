/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package softphone wires the gateway client, the plugin handle and the
// registration, call and audio managers into one SIP softphone.
package softphone

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tejzpr/janus-sip-go-sdk/audio"
	"github.com/tejzpr/janus-sip-go-sdk/calling"
	"github.com/tejzpr/janus-sip-go-sdk/capture"
	"github.com/tejzpr/janus-sip-go-sdk/interaction"
	"github.com/tejzpr/janus-sip-go-sdk/janus"
	"github.com/tejzpr/janus-sip-go-sdk/metrics"
	"github.com/tejzpr/janus-sip-go-sdk/plugin"
	"github.com/tejzpr/janus-sip-go-sdk/prefs"
	"github.com/tejzpr/janus-sip-go-sdk/registration"
	"github.com/tejzpr/janus-sip-go-sdk/sessionstate"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// ErrStopped is returned by operations on a stopped softphone
var ErrStopped = errors.New("softphone stopped")

// Options configure a Softphone. Nil collaborators get headless defaults.
type Options struct {
	Config *softphonesdk.Config
	// Capturer defaults to a silent synthetic source
	Capturer capture.Capturer
	// AudioPlatform defaults to a headless platform discarding audio
	AudioPlatform audio.Platform
	// Preferences defaults to an in-memory store
	Preferences prefs.Store
	Interaction *interaction.Tracker
	Metrics     *metrics.Collector
}

// Softphone is the top-level client. Every component is a singleton for its
// lifetime.
type Softphone struct {
	config  *softphonesdk.Config
	log     logrus.FieldLogger
	metrics *metrics.Collector

	client       *janus.Client
	attacher     *plugin.Attacher
	registration *registration.Manager
	calls        *calling.Manager
	audio        *audio.Manager
	gestures     *interaction.Tracker
	state        *sessionstate.Store
	preferences  prefs.Store

	// opMu serializes Start, Stop and reconnects
	opMu    sync.Mutex
	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds a softphone; nothing touches the network until Start
func New(opts Options) (*Softphone, error) {
	config := opts.Config
	if config == nil {
		config = softphonesdk.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.LogLevel != "" {
		if err := softphonesdk.SetLogLevel(config.LogLevel); err != nil {
			return nil, err
		}
	}

	s := &Softphone{
		config:      config,
		log:         config.LoggerFor("softphone"),
		metrics:     opts.Metrics,
		gestures:    opts.Interaction,
		preferences: opts.Preferences,
		state:       sessionstate.New(),
	}
	if s.gestures == nil {
		s.gestures = interaction.New()
	}
	if s.preferences == nil {
		s.preferences = prefs.NewMemoryStore(nil)
	}
	capturer := opts.Capturer
	if capturer == nil {
		capturer = capture.NewSynthetic(0)
	}
	platform := opts.AudioPlatform
	if platform == nil {
		platform = audio.NewHeadlessPlatform(nil)
	}

	s.client = janus.New(config)
	s.attacher = plugin.NewAttacher(s.client, config)
	s.registration = registration.New(config, s.metrics)
	s.audio = audio.New(audio.Options{
		Config:      config,
		Platform:    platform,
		Interaction: s.gestures,
		Metrics:     s.metrics,
	})
	s.calls = calling.New(calling.Options{
		Config:       config,
		Capturer:     capturer,
		Registration: s,
		Audio:        s.audio,
		Preferences:  s.preferences,
		Metrics:      s.metrics,
	})
	s.observe()
	return s, nil
}

// Client returns the gateway client
func (s *Softphone) Client() *janus.Client { return s.client }

// Registration returns the registration manager
func (s *Softphone) Registration() *registration.Manager { return s.registration }

// Calls returns the call manager
func (s *Softphone) Calls() *calling.Manager { return s.calls }

// Audio returns the audio output manager
func (s *Softphone) Audio() *audio.Manager { return s.audio }

// Interaction returns the user-gesture tracker
func (s *Softphone) Interaction() *interaction.Tracker { return s.gestures }

// State returns the aggregate state store
func (s *Softphone) State() *sessionstate.Store { return s.state }

// Preferences returns the preference store
func (s *Softphone) Preferences() prefs.Store { return s.preferences }

// Plugin returns the attached plugin handle, nil before Start
func (s *Softphone) Plugin() plugin.CallPlugin { return s.attacher.Current() }

// IsRegistered reports whether calls may be placed. The echo test needs no
// registration.
func (s *Softphone) IsRegistered() bool {
	if s.config.Plugin == softphonesdk.PluginEchoTest {
		return s.client.IsConnected()
	}
	return s.registration.IsRegistered()
}

// Registrar returns the host destinations are dialed through
func (s *Softphone) Registrar() string {
	if r := s.registration.Registrar(); r != "" {
		return r
	}
	return "echotest.invalid"
}

// observe feeds component events into the state store and the logs
func (s *Softphone) observe() {
	s.client.On(janus.EventStateChanged, func(data interface{}) {
		if change, ok := data.(janus.StateChange); ok {
			s.state.SetConnection(string(change.To))
		}
	})
	s.client.On(janus.EventSessionLost, func(data interface{}) {
		err, _ := data.(error)
		s.log.WithError(err).Warn("Gateway session lost, reconnecting")
		s.metrics.SessionLost()
		go s.reconnect()
	})
	s.registration.Subscribe(registration.EventStatus, func(data interface{}) {
		change, ok := data.(registration.StatusChange)
		if !ok {
			return
		}
		identity := ""
		if change.To == registration.StatusRegistered {
			identity, _ = change.Credentials.Identity()
		}
		s.state.SetRegistration(string(change.To), identity)
		if change.Err != nil {
			s.state.SetError(change.Err)
		}
	})
	s.calls.Subscribe(calling.EventState, func(data interface{}) {
		if change, ok := data.(calling.StateChange); ok {
			c := change.Call
			s.state.SetCall(string(change.To), c.ID, c.Peer, string(c.Direction))
		}
	})
	s.calls.Subscribe(calling.EventError, func(data interface{}) {
		if err, ok := data.(error); ok {
			s.state.SetError(err)
		}
	})
	s.audio.Subscribe(audio.EventState, func(data interface{}) {
		if change, ok := data.(audio.StateChange); ok {
			s.state.SetAudio(string(change.To), change.To == audio.StateBlocked)
		}
	})
}

// Start connects to the gateway and attaches the configured plugin. Starting
// a running softphone does nothing.
func (s *Softphone) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	stopped, started := s.stopped, s.started
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	if started {
		return nil
	}

	if err := s.connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	if err := s.audio.Initialize(); err != nil {
		s.log.WithError(err).Warn("Audio output unavailable")
	}
	if out := prefs.Load(s.preferences).AudioOutputID; out != "" {
		if err := s.audio.SetAudioOutput(ctx, out); err != nil {
			s.log.WithError(err).Warn("Stored audio output unavailable")
		}
	}
	return nil
}

// connect establishes the session and binds a fresh handle to the managers
func (s *Softphone) connect(ctx context.Context) error {
	s.metrics.ConnectAttempt()
	if err := s.client.Connect(ctx, s.config.GatewayURL, s.config.ICEServers, s.config.KeepaliveInterval); err != nil {
		s.metrics.ConnectFailed()
		s.state.SetError(err)
		return err
	}
	p, err := s.attacher.Attach(ctx)
	if err != nil {
		s.state.SetError(err)
		if derr := s.client.Disconnect(ctx); derr != nil {
			s.log.WithError(derr).Debug("Disconnect after failed attach failed")
		}
		return err
	}
	s.registration.Bind(p)
	s.calls.Bind(p)
	s.log.WithFields(logrus.Fields{"gateway": s.config.GatewayURL, "plugin": p.Kind()}).Info("Softphone connected")
	return nil
}

// Login stores credentials and registers them
func (s *Softphone) Login(ctx context.Context, c registration.Credentials) error {
	if err := prefs.SaveSIP(s.preferences, prefs.SIPCredentials{
		Username:    c.Username,
		Secret:      c.Secret,
		Registrar:   c.Registrar,
		DisplayName: c.DisplayName,
		AuthUser:    c.AuthUser,
	}); err != nil {
		s.log.WithError(err).Warn("Cannot persist credentials")
	}
	if err := s.registration.Register(ctx, c); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	s.state.SetError(nil)
	return nil
}

// LoginFromPreferences registers the stored credentials
func (s *Softphone) LoginFromPreferences(ctx context.Context) error {
	stored := prefs.Load(s.preferences).SIP
	if !stored.Complete() {
		return softphonesdk.ErrNotRegistered
	}
	return s.Login(ctx, registration.CredentialsFromPreferences(prefs.Load(s.preferences)))
}

// Logout unregisters, keeping the stored credentials
func (s *Softphone) Logout(ctx context.Context) error {
	if err := s.calls.Hangup(ctx); err != nil {
		s.log.WithError(err).Debug("Hangup during logout failed")
	}
	return s.registration.Unregister(ctx)
}

// ToggleMute flips local audio on the current call and records the result
func (s *Softphone) ToggleMute() bool {
	muted := s.calls.ToggleMute()
	s.state.SetMuted(muted)
	return muted
}

// SetAudioOutput routes remote audio to deviceID and remembers the choice
func (s *Softphone) SetAudioOutput(ctx context.Context, deviceID string) error {
	if err := s.audio.SetAudioOutput(ctx, deviceID); err != nil {
		return err
	}
	return s.preferences.Set(prefs.KeyAudioOutput, deviceID)
}

// reconnect restores the session after it was lost and re-registers the
// last requested credentials
func (s *Softphone) reconnect() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	skip := s.stopped || !s.started
	s.mu.Unlock()
	if skip {
		return
	}

	s.registration.Reset()
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ConnectRetryPolicy().TotalBackoff()+
		s.config.RequestTimeout*4+s.config.HandshakeTimeout*2)
	defer cancel()

	// the client retries internally; one more round covers a gateway restart
	err := softphonesdk.RetryPolicy{MaxAttempts: 2, Backoff: softphonesdk.LinearBackoff(s.config.RetryBaseDelay)}.
		Do(ctx, func(ctx context.Context, _ int) error { return s.connect(ctx) })
	if err != nil {
		s.log.WithError(err).Error("Reconnect failed")
		return
	}

	c, ok := s.registration.LastRequested()
	if !ok {
		return
	}
	if err := s.registration.Register(ctx, c); err != nil {
		s.log.WithError(err).Error("Re-registration after reconnect failed")
		return
	}
	s.log.Info("Re-registered after reconnect")
}

// Stop hangs up, unregisters and disconnects. A stopped softphone cannot be
// restarted.
func (s *Softphone) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	var errs []error
	if err := s.calls.Hangup(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.client.IsConnected() {
		if err := s.registration.Unregister(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.calls.Close()
	s.registration.Close()
	s.audio.Close()
	if err := s.attacher.Detach(ctx); err != nil {
		s.log.WithError(err).Debug("Detach on stop failed")
	}
	if err := s.client.Disconnect(ctx); err != nil {
		errs = append(errs, err)
	}
	s.log.Info("Softphone stopped")
	return errors.Join(errs...)
}
