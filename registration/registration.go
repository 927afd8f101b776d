/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package registration binds a SIP identity to a registrar through the
// gateway's SIP plugin and keeps the binding refreshed.
package registration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
	"github.com/tejzpr/janus-sip-go-sdk/metrics"
	"github.com/tejzpr/janus-sip-go-sdk/plugin"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// Status is the registration state
type Status string

const (
	StatusUnregistered Status = "unregistered"
	StatusRegistering  Status = "registering"
	StatusRegistered   Status = "registered"
	StatusFailed       Status = "failed"
)

var allStatuses = []string{
	string(StatusUnregistered), string(StatusRegistering),
	string(StatusRegistered), string(StatusFailed),
}

// state machine events
const (
	evRegister   = "register"
	evRegistered = "registered"
	evFail       = "fail"
	evUnregister = "unregister"
)

// EventStatus carries a StatusChange on every transition
const EventStatus = "status"

// StatusChange describes one transition
type StatusChange struct {
	From        Status
	To          Status
	Credentials Credentials
	// Err is set when To is StatusFailed
	Err error
}

// ErrNoRegistrar is returned when the bound plugin cannot register
var ErrNoRegistrar = errors.New("registration: bound plugin does not support registration")

// Manager owns the REGISTER lifecycle for one plugin handle
type Manager struct {
	// opMu serializes Register and Unregister
	opMu sync.Mutex

	mu        sync.Mutex
	config    *softphonesdk.Config
	log       logrus.FieldLogger
	metrics   *metrics.Collector
	sm        *fsm.FSM
	plugin    plugin.CallPlugin
	registrar plugin.Registrar
	unbind    func()

	// bound is the identity the gateway holds a binding for, if any
	bound *Credentials
	// latest is the most recently requested identity
	latest  *Credentials
	lastErr error
	waiter  chan *plugin.Event

	refreshStop chan struct{}

	emitter *softphonesdk.EventEmitter
}

// New creates a Manager. collector may be nil.
func New(config *softphonesdk.Config, collector *metrics.Collector) *Manager {
	if config == nil {
		config = softphonesdk.DefaultConfig()
	}
	m := &Manager{
		config:  config,
		log:     config.LoggerFor("registration"),
		metrics: collector,
		emitter: softphonesdk.NewEventEmitter(),
	}
	m.sm = fsm.NewFSM(
		string(StatusUnregistered),
		fsm.Events{
			{Name: evRegister, Src: []string{string(StatusUnregistered), string(StatusRegistering), string(StatusFailed), string(StatusRegistered)}, Dst: string(StatusRegistering)},
			{Name: evRegistered, Src: []string{string(StatusRegistering), string(StatusFailed)}, Dst: string(StatusRegistered)},
			{Name: evFail, Src: []string{string(StatusRegistering), string(StatusRegistered)}, Dst: string(StatusFailed)},
			{Name: evUnregister, Src: []string{string(StatusUnregistered), string(StatusRegistering), string(StatusRegistered), string(StatusFailed)}, Dst: string(StatusUnregistered)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.onEnterState(e)
			},
		},
	)
	m.metrics.RegistrationState(string(StatusUnregistered), allStatuses...)
	return m
}

func (m *Manager) onEnterState(e *fsm.Event) {
	change := StatusChange{From: Status(e.Src), To: Status(e.Dst)}
	if len(e.Args) > 0 {
		if c, ok := e.Args[0].(Credentials); ok {
			change.Credentials = c
		}
	}
	if len(e.Args) > 1 {
		if err, ok := e.Args[1].(error); ok {
			change.Err = err
		}
	}
	m.log.WithFields(logrus.Fields{"from": e.Src, "to": e.Dst}).Debug("Registration state changed")
	m.metrics.RegistrationState(e.Dst, allStatuses...)
	m.emitter.Emit(EventStatus, change)
}

// transition fires a state machine event; staying put is not an error
func (m *Manager) transition(event string, c Credentials, cause error) {
	err := m.sm.Event(context.Background(), event, c, cause)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		m.log.WithError(err).WithField("event", event).Debug("Registration transition skipped")
	}
}

// Subscribe registers a handler for EventStatus
func (m *Manager) Subscribe(event string, handler softphonesdk.EventHandler) func() {
	return m.emitter.On(event, handler)
}

// Bind attaches the manager to a freshly attached plugin handle. Any binding
// held through a previous handle is forgotten.
func (m *Manager) Bind(p plugin.CallPlugin) {
	m.mu.Lock()
	if m.unbind != nil {
		m.unbind()
	}
	m.plugin = p
	m.registrar, _ = p.(plugin.Registrar)
	m.unbind = p.Subscribe(plugin.EventMessage, func(data interface{}) {
		if ev, ok := data.(*plugin.Event); ok {
			m.onMessage(ev)
		}
	})
	m.mu.Unlock()

	m.Reset()
}

// Reset drops local registration state without signaling, for when the
// handle or session behind the binding is gone.
func (m *Manager) Reset() {
	m.stopRefresh()
	m.mu.Lock()
	m.bound = nil
	m.mu.Unlock()
	m.transition(evUnregister, Credentials{}, nil)
}

// Status returns the current state
func (m *Manager) Status() Status {
	return Status(m.sm.Current())
}

// IsRegistered reports whether a binding is live
func (m *Manager) IsRegistered() bool {
	return m.Status() == StatusRegistered
}

// Credentials returns the identity currently bound, if registered
func (m *Manager) Credentials() (Credentials, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bound == nil || m.Status() != StatusRegistered {
		return Credentials{}, false
	}
	return *m.bound, true
}

// LastRequested returns the most recently requested credentials, used to
// re-register after a reconnect
func (m *Manager) LastRequested() (Credentials, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return Credentials{}, false
	}
	return *m.latest, true
}

// Registrar returns the registrar host of the current binding
func (m *Manager) Registrar() string {
	if c, ok := m.Credentials(); ok {
		return c.Host()
	}
	return ""
}

// LastError returns the error of the most recent failed attempt
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) isLatest(c Credentials) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest != nil && m.latest.Equal(c)
}

// Register binds c. It returns immediately when c is already registered,
// waits for an in-flight registration, and unregisters a different binding
// first. A caller whose request is overtaken by a newer one with different
// credentials gets ErrSuperseded.
func (m *Manager) Register(ctx context.Context, c Credentials) error {
	if err := c.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	latest := c
	m.latest = &latest
	m.mu.Unlock()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if !m.isLatest(c) {
		return softphonesdk.ErrSuperseded
	}

	m.mu.Lock()
	registrar := m.registrar
	bound := m.bound
	m.mu.Unlock()

	if bound != nil && bound.Equal(c) && m.Status() == StatusRegistered {
		return nil
	}
	if registrar == nil {
		return ErrNoRegistrar
	}

	log := m.log.WithField("registrar", c.Host())
	if bound != nil && !bound.Equal(c) {
		log.WithField("previous", bound.Host()).Info("Credentials changed, unregistering previous identity")
		m.stopRefresh()
		if err := m.sendUnregister(ctx, registrar); err != nil {
			log.WithError(err).Warn("Unregister of previous identity failed")
		}
		m.mu.Lock()
		m.bound = nil
		m.mu.Unlock()
	}

	m.transition(evRegister, c, nil)
	started := time.Now()
	err := m.register(ctx, registrar, c)

	var regErr *softphonesdk.RegistrationError
	if errors.As(err, &regErr) && regErr.Kind == softphonesdk.RegistrationAlreadyRegistered {
		log.Info("Gateway reports handle already registered, unregistering and retrying once")
		if uerr := m.sendUnregister(ctx, registrar); uerr != nil {
			log.WithError(uerr).Warn("Unregister before retry failed")
		}
		err = m.register(ctx, registrar, c)
	}

	if !m.isLatest(c) {
		// a newer request owns the state now
		if err == nil {
			m.mu.Lock()
			m.bound = &c
			m.mu.Unlock()
		}
		m.metrics.RegistrationResult("superseded")
		return softphonesdk.ErrSuperseded
	}

	if err != nil {
		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()
		m.metrics.RegistrationResult(resultLabel(err))
		log.WithError(err).Error("Registration failed")
		m.transition(evFail, c, err)
		return err
	}

	m.mu.Lock()
	m.bound = &c
	m.lastErr = nil
	m.mu.Unlock()
	m.metrics.RegistrationResult("registered")
	m.metrics.RegistrationLatency(time.Since(started))
	log.Info("Registered")
	m.transition(evRegistered, c, nil)
	m.startRefresh(registrar, c)
	return nil
}

func resultLabel(err error) string {
	var regErr *softphonesdk.RegistrationError
	switch {
	case errors.As(err, &regErr):
		return string(regErr.Kind)
	case softphonesdk.IsRegistrationTimeout(err):
		return "timeout"
	case softphonesdk.IsSignalingError(err):
		return "signaling"
	default:
		return "error"
	}
}

func (m *Manager) request(c Credentials, refresh bool) (plugin.RegisterRequest, error) {
	identity, err := c.Identity()
	if err != nil {
		return plugin.RegisterRequest{}, err
	}
	proxy, err := c.Proxy()
	if err != nil {
		return plugin.RegisterRequest{}, err
	}
	return plugin.RegisterRequest{
		Username:    identity,
		Secret:      c.Secret,
		Proxy:       proxy,
		AuthUser:    c.AuthUser,
		DisplayName: c.DisplayName,
		Expires:     int(m.config.RegisterExpires / time.Second),
		Refresh:     refresh,
	}, nil
}

// register transmits REGISTER under the retry policy and waits for the outcome
func (m *Manager) register(ctx context.Context, registrar plugin.Registrar, c Credentials) error {
	req, err := m.request(c, false)
	if err != nil {
		return err
	}

	return m.config.RegisterRetryPolicy().Do(ctx, func(ctx context.Context, attempt int) error {
		w := m.expect()
		defer m.release(w)

		m.log.WithFields(logrus.Fields{"identity": req.Username, "attempt": attempt}).Debug("Sending REGISTER")
		if err := registrar.Register(ctx, req); err != nil {
			return err
		}
		return m.awaitRegistration(ctx, w, req.Username)
	})
}

func (m *Manager) awaitRegistration(ctx context.Context, w chan *plugin.Event, identity string) error {
	timer := time.NewTimer(m.config.RegisterTimeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-w:
			switch ev.Name {
			case plugin.SignalRegistered:
				return nil
			case plugin.SignalRegistrationFailed:
				return softphonesdk.NewRegistrationError(ev.Code, ev.Reason)
			case plugin.SignalError:
				if ev.Answers("register") {
					return softphonesdk.NewRegistrationError(ev.Code, ev.Reason)
				}
			}
		case <-timer.C:
			return softphonesdk.NewRegistrationTimeout(identity, m.config.RegisterTimeout)
		case <-ctx.Done():
			return fmt.Errorf("registration of %s aborted: %w", identity, ctx.Err())
		}
	}
}

// Unregister removes the binding. A missing reply within UnregisterTimeout
// counts as success.
func (m *Manager) Unregister(ctx context.Context) error {
	m.mu.Lock()
	m.latest = nil
	registrar := m.registrar
	m.mu.Unlock()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.stopRefresh()
	var err error
	if registrar != nil && m.Status() != StatusUnregistered {
		err = m.sendUnregister(ctx, registrar)
		if err != nil {
			m.log.WithError(err).Warn("Unregister failed, clearing local state anyway")
		}
	}
	m.mu.Lock()
	m.bound = nil
	m.mu.Unlock()
	m.transition(evUnregister, Credentials{}, nil)
	return err
}

func (m *Manager) sendUnregister(ctx context.Context, registrar plugin.Registrar) error {
	w := m.expect()
	defer m.release(w)

	if err := registrar.Unregister(ctx); err != nil {
		return err
	}
	timer := time.NewTimer(m.config.UnregisterTimeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-w:
			if ev.Name == plugin.SignalUnregistered {
				return nil
			}
		case <-timer.C:
			m.log.Debug("No unregistered event in time, assuming unregistered")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// expect installs the channel that receives registration events
func (m *Manager) expect() chan *plugin.Event {
	w := make(chan *plugin.Event, 8)
	m.mu.Lock()
	m.waiter = w
	m.mu.Unlock()
	return w
}

func (m *Manager) release(w chan *plugin.Event) {
	m.mu.Lock()
	if m.waiter == w {
		m.waiter = nil
	}
	m.mu.Unlock()
}

func (m *Manager) onMessage(ev *plugin.Event) {
	switch ev.Name {
	case plugin.SignalRegistering, plugin.SignalRegistered, plugin.SignalRegistrationFailed,
		plugin.SignalUnregistering, plugin.SignalUnregistered:
	case plugin.SignalError:
		// errors of call requests belong to the call
		if !ev.Answers("register", "unregister") {
			return
		}
	default:
		return
	}

	m.mu.Lock()
	w := m.waiter
	m.mu.Unlock()
	if w != nil {
		select {
		case w <- ev:
		default:
			m.log.WithField("event", ev.Name).Warn("Registration waiter full, dropping event")
		}
		return
	}

	// unsolicited: refresh outcomes and registrar-side changes
	switch ev.Name {
	case plugin.SignalRegistrationFailed:
		if m.Status() != StatusRegistered {
			return
		}
		err := softphonesdk.NewRegistrationError(ev.Code, ev.Reason)
		m.log.WithError(err).Error("Registrar dropped the binding")
		m.stopRefresh()
		m.mu.Lock()
		m.lastErr = err
		c := Credentials{}
		if m.bound != nil {
			c = *m.bound
		}
		m.bound = nil
		m.mu.Unlock()
		m.metrics.RegistrationResult(resultLabel(err))
		m.transition(evFail, c, err)
	case plugin.SignalUnregistered:
		if m.Status() == StatusRegistered {
			m.log.Warn("Gateway reports unregistered")
			m.stopRefresh()
			m.mu.Lock()
			m.bound = nil
			m.mu.Unlock()
			m.transition(evUnregister, Credentials{}, nil)
		}
	}
}

// startRefresh re-sends REGISTER every RefreshInterval while registered
func (m *Manager) startRefresh(registrar plugin.Registrar, c Credentials) {
	m.stopRefresh()

	req, err := m.request(c, true)
	if err != nil {
		return
	}
	stop := make(chan struct{})
	m.mu.Lock()
	m.refreshStop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.config.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
				if err := registrar.Register(ctx, req); err != nil {
					m.log.WithError(err).WithField("identity", req.Username).Warn("Registration refresh failed")
				} else {
					m.log.WithField("identity", req.Username).Debug("Registration refreshed")
				}
				cancel()
			}
		}
	}()
}

// stopRefresh does not wait for an in-flight refresh; it may run on the
// gateway listener goroutine that refresh replies depend on.
func (m *Manager) stopRefresh() {
	m.mu.Lock()
	stop := m.refreshStop
	m.refreshStop = nil
	m.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// Close stops the refresh loop and detaches from the plugin
func (m *Manager) Close() {
	m.stopRefresh()
	m.mu.Lock()
	if m.unbind != nil {
		m.unbind()
		m.unbind = nil
	}
	m.mu.Unlock()
}
