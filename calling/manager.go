/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
	"github.com/tejzpr/janus-sip-go-sdk/capture"
	"github.com/tejzpr/janus-sip-go-sdk/janus"
	"github.com/tejzpr/janus-sip-go-sdk/media"
	"github.com/tejzpr/janus-sip-go-sdk/metrics"
	"github.com/tejzpr/janus-sip-go-sdk/phonenumber"
	"github.com/tejzpr/janus-sip-go-sdk/plugin"
	"github.com/tejzpr/janus-sip-go-sdk/prefs"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// SIP response codes used when refusing calls
const (
	CodeBusyHere          = 486
	CodeNotAcceptableHere = 488
	CodeUnavailable       = 480
	CodeDecline           = 603
)

// state machine events
const (
	evDial    = "dial"
	evRing    = "ring"
	evConnect = "connect"
	evEnd     = "end"
	evReset   = "reset"
)

// Registration reports whether calls may be placed and where to
type Registration interface {
	IsRegistered() bool
	// Registrar is the registrar host, with port, destinations are dialed through
	Registrar() string
}

// AudioOutput renders the remote stream of the current call
type AudioOutput interface {
	SetRemoteStream(stream *media.Stream)
	Detach()
}

// Options are the collaborators of a Manager
type Options struct {
	Config       *softphonesdk.Config
	Capturer     capture.Capturer
	Registration Registration
	// Audio may be nil when nothing renders remote audio
	Audio AudioOutput
	// Preferences supplies device and processing settings; nil means defaults
	Preferences prefs.Store
	Metrics     *metrics.Collector
}

type inbound struct {
	event  *plugin.Event
	stream *media.Stream
	// cleanup is set when the PeerConnection was closed
	cleanup  bool
	detached bool
}

// Manager owns the single call of a softphone
type Manager struct {
	mu      sync.Mutex
	config  *softphonesdk.Config
	log     logrus.FieldLogger
	metrics *metrics.Collector

	capturer     capture.Capturer
	registration Registration
	audio        AudioOutput
	preferences  prefs.Store

	sm      *fsm.FSM
	plugin  plugin.CallPlugin
	unbind  []func()
	current *session

	inbox   *mailbox
	loopOne sync.Once
	done    chan struct{}

	emitter *softphonesdk.EventEmitter
}

// New creates a Manager
func New(opts Options) *Manager {
	config := opts.Config
	if config == nil {
		config = softphonesdk.DefaultConfig()
	}
	m := &Manager{
		config:       config,
		log:          config.LoggerFor("calling"),
		metrics:      opts.Metrics,
		capturer:     opts.Capturer,
		registration: opts.Registration,
		audio:        opts.Audio,
		preferences:  opts.Preferences,
		inbox:        newMailbox(),
		done:         make(chan struct{}),
		emitter:      softphonesdk.NewEventEmitter(),
	}
	m.sm = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: evDial, Src: []string{string(StateIdle)}, Dst: string(StateOutgoing)},
			{Name: evRing, Src: []string{string(StateIdle)}, Dst: string(StateIncoming)},
			{Name: evConnect, Src: []string{string(StateOutgoing), string(StateIncoming)}, Dst: string(StateActive)},
			{Name: evEnd, Src: []string{string(StateOutgoing), string(StateIncoming), string(StateActive)}, Dst: string(StateEnded)},
			{Name: evReset, Src: []string{string(StateEnded)}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				var call Call
				if len(e.Args) > 0 {
					if s, ok := e.Args[0].(*session); ok {
						s.mu.Lock()
						s.call.State = State(e.Dst)
						call = s.call
						s.mu.Unlock()
					}
				}
				m.log.WithFields(logrus.Fields{"from": e.Src, "to": e.Dst, "call": call.ID}).Debug("Call state changed")
				m.emitter.Emit(EventState, StateChange{From: State(e.Src), To: State(e.Dst), Call: call})
			},
		},
	)
	return m
}

func (m *Manager) transition(event string, s *session) error {
	err := m.sm.Event(context.Background(), event, s)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}

// Subscribe registers a handler for one of the Event* names
func (m *Manager) Subscribe(event string, handler softphonesdk.EventHandler) func() {
	return m.emitter.On(event, handler)
}

// Bind routes the events of a freshly attached plugin handle to the manager.
// A call carried by a previous handle is ended locally.
func (m *Manager) Bind(p plugin.CallPlugin) {
	m.mu.Lock()
	for _, off := range m.unbind {
		off()
	}
	m.plugin = p
	m.unbind = []func(){
		p.Subscribe(plugin.EventMessage, func(data interface{}) {
			if ev, ok := data.(*plugin.Event); ok {
				m.inbox.put(inbound{event: ev})
			}
		}),
		p.Subscribe(plugin.EventRemoteStream, func(data interface{}) {
			if stream, ok := data.(*media.Stream); ok {
				m.inbox.put(inbound{stream: stream})
			}
		}),
		p.Subscribe(plugin.EventCleanup, func(interface{}) {
			m.inbox.put(inbound{cleanup: true})
		}),
		p.Subscribe(plugin.EventDetached, func(interface{}) {
			m.inbox.put(inbound{detached: true})
		}),
	}
	s := m.current
	m.mu.Unlock()

	if s != nil && !s.isEnded() {
		m.endCall(s, ReasonFailed, 0, softphonesdk.ErrSessionClosed, false)
	}
	m.loopOne.Do(func() { go m.loop() })
}

func (m *Manager) loop() {
	defer close(m.done)
	m.inbox.drain(func(item interface{}) {
		in := item.(inbound)
		switch {
		case in.event != nil:
			m.onSignal(in.event)
		case in.stream != nil:
			m.onRemoteStream(in.stream)
		case in.cleanup:
			m.onCleanup()
		case in.detached:
			if s := m.active(); s != nil {
				m.endCall(s, ReasonFailed, 0, softphonesdk.ErrSessionClosed, false)
			}
		}
	})
}

// Close ends any call locally and stops event processing
func (m *Manager) Close() {
	if s := m.active(); s != nil {
		m.endCall(s, ReasonCancelled, 0, nil, false)
	}
	m.mu.Lock()
	for _, off := range m.unbind {
		off()
	}
	m.unbind = nil
	if m.current != nil && m.current.cooldown != nil {
		m.current.cooldown.Stop()
	}
	m.mu.Unlock()
	m.inbox.close()
	m.loopOne.Do(func() { close(m.done) })
	<-m.done
}

// State returns the current call state
func (m *Manager) State() State {
	return State(m.sm.Current())
}

// Current returns a snapshot of the current or most recently ended call
func (m *Manager) Current() (Call, bool) {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return Call{}, false
	}
	return s.snapshot(), true
}

// active returns the current session unless it already ended
func (m *Manager) active() *session {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil || s.isEnded() {
		return nil
	}
	return s
}

func (m *Manager) currentPlugin() plugin.CallPlugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plugin
}

func (m *Manager) loadPreferences() prefs.Preferences {
	if m.preferences == nil {
		return prefs.Defaults()
	}
	return prefs.Load(m.preferences)
}

// begin installs a new session, replacing one lingering in its cooldown.
// It fails with ErrCallInProgress while another call is live.
func (m *Manager) begin(ctx context.Context, call Call) (*session, error) {
	m.mu.Lock()
	prev := m.current
	if prev != nil && !prev.isEnded() {
		m.mu.Unlock()
		return nil, softphonesdk.ErrCallInProgress
	}
	if prev != nil && prev.cooldown != nil {
		prev.cooldown.Stop()
	}
	call.ID = uuid.New().String()
	call.StartedAt = time.Now()
	s := &session{call: call, done: make(chan struct{})}
	s.ctx, s.cancel = context.WithCancel(ctx)
	m.current = s
	m.mu.Unlock()

	if prev != nil {
		_ = m.transition(evReset, prev)
	}
	return s, nil
}

// Call dials destination. It returns once the call request was sent; answer
// and failure arrive as events.
func (m *Manager) Call(ctx context.Context, destination string, video bool) error {
	if m.registration == nil || !m.registration.IsRegistered() {
		return softphonesdk.ErrNotRegistered
	}
	p := m.currentPlugin()
	if p == nil {
		return softphonesdk.ErrNotConnected
	}
	if s := m.active(); s != nil {
		return softphonesdk.ErrCallInProgress
	}

	uri, err := phonenumber.Normalize(destination, m.registration.Registrar(), m.config.DefaultCountryCode)
	if err != nil {
		return fmt.Errorf("invalid destination %q: %w", destination, err)
	}

	s, err := m.begin(context.Background(), Call{Direction: DirectionOutgoing, Peer: uri, Video: video})
	if err != nil {
		return err
	}
	stopOnCaller := context.AfterFunc(ctx, s.cancel)
	defer stopOnCaller()

	log := m.log.WithFields(logrus.Fields{"call": s.call.ID, "uri": uri})
	m.metrics.CallStarted(string(DirectionOutgoing))
	if err := m.transition(evDial, s); err != nil {
		return fmt.Errorf("cannot dial: %w", err)
	}

	stream, err := m.capturer.GetUserMedia(s.ctx, capture.FromPreferences(m.loadPreferences(), video))
	if err != nil {
		return m.abort(s, softphonesdk.NewMediaAcquisitionError("call", err), 0)
	}
	if !m.adoptLocal(s, stream) {
		return softphonesdk.ErrCallCancelled
	}

	offer, err := p.CreateOffer(s.ctx, stream, video)
	if err != nil {
		if !softphonesdk.IsOfferCreationError(err) {
			err = softphonesdk.NewOfferCreationError("call", err)
		}
		return m.abort(s, err, 0)
	}
	s.mu.Lock()
	s.call.Offer = offer.SDP
	s.mu.Unlock()

	if s.isCancelled() {
		return softphonesdk.ErrCallCancelled
	}
	log.Info("Sending call request")
	if err := p.Call(s.ctx, uri, video, offer); err != nil {
		return m.abort(s, err, 0)
	}
	m.markSent(s)
	return nil
}

// AcceptCall answers the pending incoming call. offer may be empty to use
// the stored offer; when given it must match it.
func (m *Manager) AcceptCall(ctx context.Context, offer string, video bool) error {
	p := m.currentPlugin()
	s := m.active()
	if s == nil || p == nil {
		return softphonesdk.ErrNoIncomingCall
	}
	s.mu.Lock()
	if s.call.Direction != DirectionIncoming || s.offer == nil || s.call.State != StateIncoming {
		s.mu.Unlock()
		return softphonesdk.ErrNoIncomingCall
	}
	if s.accepting {
		s.mu.Unlock()
		return softphonesdk.ErrCallInProgress
	}
	if offer != "" && offer != s.offer.SDP {
		s.mu.Unlock()
		return softphonesdk.NewUnexpectedJsepError("offer", string(StateIncoming))
	}
	s.accepting = true
	video = video && s.call.Video
	s.call.Video = video
	s.mu.Unlock()

	stopOnCaller := context.AfterFunc(ctx, s.cancel)
	defer stopOnCaller()

	log := m.log.WithFields(logrus.Fields{"call": s.call.ID, "peer": s.call.Peer})
	stream, err := m.capturer.GetUserMedia(s.ctx, capture.FromPreferences(m.loadPreferences(), video))
	if err != nil {
		return m.abort(s, softphonesdk.NewMediaAcquisitionError("accept", err), CodeUnavailable)
	}
	if !m.adoptLocal(s, stream) {
		return softphonesdk.ErrCallCancelled
	}

	answer, err := p.CreateAnswer(s.ctx, stream, video)
	if err != nil {
		if !softphonesdk.IsOfferCreationError(err) {
			err = softphonesdk.NewOfferCreationError("accept", err)
		}
		return m.abort(s, err, CodeNotAcceptableHere)
	}
	s.mu.Lock()
	s.call.Answer = answer.SDP
	s.mu.Unlock()

	if s.isCancelled() {
		return softphonesdk.ErrCallCancelled
	}
	log.Info("Accepting call")
	if err := p.Accept(s.ctx, answer); err != nil {
		return m.abort(s, err, 0)
	}
	m.markSent(s)
	return nil
}

// Decline rejects the pending incoming call; code 0 sends 486 Busy Here
func (m *Manager) Decline(ctx context.Context, code int) error {
	p := m.currentPlugin()
	s := m.active()
	if s == nil || p == nil {
		return softphonesdk.ErrNoIncomingCall
	}
	s.mu.Lock()
	pending := s.call.Direction == DirectionIncoming && s.call.State == StateIncoming && !s.accepting
	s.mu.Unlock()
	if !pending {
		return softphonesdk.ErrNoIncomingCall
	}
	if code == 0 {
		code = CodeBusyHere
	}

	err := p.Decline(ctx, code)
	if err != nil {
		m.log.WithError(err).WithField("call", s.call.ID).Warn("Decline request failed")
	}
	m.endCall(s, ReasonDeclined, code, nil, false)
	return err
}

// Hangup ends the current call from any non-idle state. Local media is
// released even when the termination request fails. Without a call it is
// a no-op.
func (m *Manager) Hangup(ctx context.Context) error {
	s := m.active()
	if s == nil {
		return nil
	}
	p := m.currentPlugin()

	s.mu.Lock()
	incoming := s.call.Direction == DirectionIncoming && s.call.State == StateIncoming && !s.accepting
	s.hangingUp = true
	s.mu.Unlock()
	s.cancel()

	var err error
	if p != nil {
		if incoming {
			err = p.Decline(ctx, CodeDecline)
		} else {
			err = p.Hangup(ctx)
		}
	}
	if err != nil {
		m.log.WithError(err).WithField("call", s.call.ID).Warn("Termination request failed, cleaning up locally")
	}
	m.endCall(s, ReasonLocalHangup, 0, nil, false)
	return err
}

// ToggleMute flips the local audio tracks and returns the new muted flag.
// Nothing is signaled.
func (m *Manager) ToggleMute() bool {
	s := m.active()
	if s == nil {
		return false
	}
	s.mu.Lock()
	s.call.Muted = !s.call.Muted
	muted := s.call.Muted
	local := s.local
	s.mu.Unlock()

	if local != nil {
		for _, t := range local.AudioTracks() {
			t.SetEnabled(!muted)
		}
	}
	m.log.WithField("muted", muted).Debug("Local audio toggled")
	return muted
}

// IsMuted reports the local mute flag of the current call
func (m *Manager) IsMuted() bool {
	s := m.active()
	if s == nil {
		return false
	}
	return s.snapshot().Muted
}

// ValidDTMF reports whether digit is a single DTMF symbol
func ValidDTMF(digit string) bool {
	if len(digit) != 1 {
		return false
	}
	c := digit[0]
	return (c >= '0' && c <= '9') || c == '*' || c == '#'
}

// SendDtmf sends one DTMF digit on the active call
func (m *Manager) SendDtmf(ctx context.Context, digit string) error {
	if !ValidDTMF(digit) {
		return softphonesdk.NewInvalidDtmfError(digit)
	}
	s := m.active()
	p := m.currentPlugin()
	if s == nil || p == nil || s.snapshot().State != StateActive {
		return softphonesdk.ErrNoActiveCall
	}
	if err := p.SendDTMF(ctx, digit); err != nil {
		return err
	}
	m.metrics.DTMFSent()
	return nil
}

// adoptLocal hands acquired media to the session, or stops it when the
// call was hung up meanwhile
func (m *Manager) adoptLocal(s *session, stream *media.Stream) bool {
	s.mu.Lock()
	if s.ended || s.hangingUp {
		s.mu.Unlock()
		stream.Stop()
		return false
	}
	s.local = stream
	s.mu.Unlock()
	return true
}

func (m *Manager) markSent(s *session) {
	s.sentOnce.Do(func() {
		m.emitter.Emit(EventSent, s.snapshot())
	})
}

// abort ends a call whose setup failed. A hangup that raced the setup wins:
// the caller gets ErrCallCancelled. declineCode, when set, refuses the
// pending incoming call.
func (m *Manager) abort(s *session, err error, declineCode int) error {
	if s.isCancelled() {
		return softphonesdk.ErrCallCancelled
	}
	if declineCode != 0 {
		if p := m.currentPlugin(); p != nil {
			ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
			if derr := p.Decline(ctx, declineCode); derr != nil {
				m.log.WithError(derr).Debug("Decline after failed accept failed")
			}
			cancel()
		}
	}
	m.log.WithError(err).WithField("call", s.call.ID).Error("Call setup failed")
	m.endCall(s, ReasonFailed, 0, err, true)
	return err
}

// endCall releases everything a call holds. immediate skips the cooldown.
// A second caller waits until the first has moved the call to ended.
func (m *Manager) endCall(s *session, reason string, code int, cause error, immediate bool) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		m.awaitEnded(s)
		return
	}
	s.ended = true
	s.cancel()
	s.call.EndedAt = time.Now()
	s.call.EndReason = reason
	s.call.EndCode = code
	s.call.Err = cause
	local := s.local
	s.local = nil
	s.remote = nil
	s.offer = nil
	s.mu.Unlock()

	if local != nil {
		local.Stop()
	}
	if m.audio != nil {
		m.audio.Detach()
	}
	if err := m.transition(evEnd, s); err != nil {
		m.log.WithError(err).Debug("End transition skipped")
	}
	close(s.done)

	if p := m.currentPlugin(); p != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
		if err := p.HangupMedia(ctx); err != nil {
			m.log.WithError(err).Debug("Media hangup failed")
		}
		cancel()
	}

	call := s.snapshot()
	m.metrics.CallEnded(reason, call.Duration())
	m.log.WithFields(logrus.Fields{"call": call.ID, "reason": reason, "code": code}).Info("Call ended")
	m.emitter.Emit(EventEnded, call)
	if cause != nil {
		m.emitter.Emit(EventError, &CallError{Call: call, Err: cause})
	}

	if immediate || m.config.CallCooldown <= 0 {
		m.finish(s)
		return
	}
	m.mu.Lock()
	if m.current == s {
		s.cooldown = time.AfterFunc(m.config.CallCooldown, func() { m.finish(s) })
	}
	m.mu.Unlock()
}

// awaitEnded blocks until the call reached ended, bounded by RequestTimeout
func (m *Manager) awaitEnded(s *session) {
	timer := time.NewTimer(m.config.RequestTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		m.log.WithField("call", s.call.ID).Warn("Timed out waiting for call teardown")
	}
}

// finish returns from ended to idle
func (m *Manager) finish(s *session) {
	m.mu.Lock()
	if m.current != s {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.mu.Unlock()
	_ = m.transition(evReset, s)
}

func (m *Manager) onSignal(ev *plugin.Event) {
	switch ev.Name {
	case plugin.SignalIncomingCall:
		m.onIncoming(ev)
	case plugin.SignalCalling:
		if s := m.active(); s != nil {
			s.mu.Lock()
			s.call.GatewayCallID = ev.CallID
			s.mu.Unlock()
		}
	case plugin.SignalRinging, plugin.SignalProgress:
		s := m.active()
		if s == nil {
			return
		}
		m.log.WithFields(logrus.Fields{"call": s.call.ID, "event": ev.Name}).Debug("Call progressing")
		if ev.HasAnswer() {
			// early media
			m.applyAnswer(s, ev.JSEP)
		}
	case plugin.SignalAccepted:
		m.onAccepted(ev)
	case plugin.SignalUpdatingCall:
		m.onUpdate(ev)
	case plugin.SignalHangup:
		if s := m.active(); s != nil {
			reason := ReasonRemoteHangup
			s.mu.Lock()
			if s.hangingUp {
				reason = ReasonLocalHangup
			}
			s.mu.Unlock()
			m.endCall(s, reason, ev.Code, nil, false)
		}
	case plugin.SignalDeclining, plugin.SignalHangingUp:
		m.log.WithField("event", ev.Name).Debug("Gateway confirmed termination")
	case plugin.SignalError:
		m.onPluginError(ev)
	}
}

// callRequests are the plugin requests whose failure leaves no call behind
var callRequests = []string{"call", "accept", "update", "echotest"}

// onPluginError ends the call only when the failed request set it up.
// Errors answering other requests, or no request of ours, leave it alone.
func (m *Manager) onPluginError(ev *plugin.Event) {
	s := m.active()
	if s == nil {
		return
	}
	request := ev.Request
	if request == "" {
		request = "unknown"
	}
	err := softphonesdk.NewSignalingError(request, ev.Code, ev.Reason, nil)
	log := m.log.WithError(err).WithFields(logrus.Fields{"call": s.call.ID, "request": request})
	if !ev.Answers(callRequests...) {
		log.Warn("Plugin error outside call setup, call continues")
		if ev.Request != "" {
			m.emitter.Emit(EventError, &CallError{Call: s.snapshot(), Err: err})
		}
		return
	}
	log.Error("Plugin error during call")
	m.endCall(s, ReasonFailed, ev.Code, err, false)
}

func (m *Manager) onIncoming(ev *plugin.Event) {
	p := m.currentPlugin()
	if p == nil {
		return
	}
	log := m.log.WithFields(logrus.Fields{"caller": ev.Username, "gateway_call": ev.CallID})

	if m.active() != nil {
		// the handle carries the live call, so no decline goes out
		log.Warn("Busy, ignoring incoming call")
		return
	}
	if !ev.HasOffer() {
		log.Warn("Incoming call without an offer, declining")
		ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
		defer cancel()
		_ = p.Decline(ctx, CodeNotAcceptableHere)
		return
	}

	s, err := m.begin(context.Background(), Call{
		Direction:     DirectionIncoming,
		Peer:          ev.Username,
		DisplayName:   ev.DisplayName,
		GatewayCallID: ev.CallID,
		Video:         media.HasVideo(ev.JSEP.SDP),
		Offer:         ev.JSEP.SDP,
	})
	if err != nil {
		return
	}
	s.offer = ev.JSEP
	m.metrics.CallStarted(string(DirectionIncoming))
	_ = m.transition(evRing, s)

	if err := p.HandleRemoteJsep(s.ctx, ev.JSEP); err != nil {
		log.WithError(err).Error("Cannot apply incoming offer")
		ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
		_ = p.Decline(ctx, CodeNotAcceptableHere)
		cancel()
		m.endCall(s, ReasonFailed, CodeNotAcceptableHere, err, true)
		return
	}
	log.Info("Incoming call")
	m.emitter.Emit(EventIncomingCall, s.snapshot())
}

// applyAnswer applies a remote answer; a protocol violation ends the call
func (m *Manager) applyAnswer(s *session, jsep *janus.JSEP) bool {
	p := m.currentPlugin()
	if p == nil {
		return false
	}
	if err := p.HandleRemoteJsep(s.ctx, jsep); err != nil {
		m.log.WithError(err).WithField("call", s.call.ID).Error("Remote SDP out of sequence")
		m.hangupAfterViolation(s, err)
		return false
	}
	s.mu.Lock()
	s.call.Answer = jsep.SDP
	s.mu.Unlock()
	return true
}

func (m *Manager) hangupAfterViolation(s *session, err error) {
	if p := m.currentPlugin(); p != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
		_ = p.Hangup(ctx)
		cancel()
	}
	m.endCall(s, ReasonFailed, 0, err, false)
}

func (m *Manager) onAccepted(ev *plugin.Event) {
	s := m.active()
	if s == nil {
		return
	}
	snap := s.snapshot()
	switch snap.Direction {
	case DirectionOutgoing:
		// an answer applied with early media is not applied twice
		if ev.JSEP != nil && snap.Answer == "" {
			if !m.applyAnswer(s, ev.JSEP) {
				return
			}
		} else if ev.JSEP == nil && snap.Answer == "" {
			m.hangupAfterViolation(s, softphonesdk.NewUnexpectedJsepError("none", string(snap.State)))
			return
		}
	case DirectionIncoming:
		if ev.JSEP != nil {
			m.hangupAfterViolation(s, softphonesdk.NewUnexpectedJsepError(ev.JSEP.Type, string(snap.State)))
			return
		}
		if snap.Answer == "" {
			// accepted before our answer went out
			return
		}
	}

	m.markSent(s)
	s.mu.Lock()
	s.call.ConnectedAt = time.Now()
	s.mu.Unlock()
	if err := m.transition(evConnect, s); err != nil {
		m.log.WithError(err).Debug("Connect transition skipped")
		return
	}
	m.metrics.CallConnected()
	m.log.WithField("call", snap.ID).Info("Call connected")
	m.emitter.Emit(EventConnected, s.snapshot())
}

// onUpdate answers a mid-call offer
func (m *Manager) onUpdate(ev *plugin.Event) {
	s := m.active()
	p := m.currentPlugin()
	if s == nil || p == nil || !ev.HasOffer() {
		return
	}
	snap := s.snapshot()
	if snap.State != StateActive {
		m.hangupAfterViolation(s, softphonesdk.NewUnexpectedJsepError("offer", string(snap.State)))
		return
	}
	s.mu.Lock()
	local := s.local
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, m.config.RequestTimeout)
	defer cancel()
	if err := p.HandleRemoteJsep(ctx, ev.JSEP); err != nil {
		m.hangupAfterViolation(s, err)
		return
	}
	answer, err := p.CreateAnswer(ctx, local, snap.Video)
	if err == nil {
		err = p.Update(ctx, answer)
	}
	if err != nil {
		m.log.WithError(err).WithField("call", snap.ID).Warn("Renegotiation failed")
		m.emitter.Emit(EventError, &CallError{Call: snap, Err: err})
		return
	}
	m.log.WithField("call", snap.ID).Debug("Renegotiated")
}

func (m *Manager) onRemoteStream(stream *media.Stream) {
	s := m.active()
	if s == nil {
		return
	}
	s.mu.Lock()
	s.remote = stream
	s.mu.Unlock()
	if m.audio != nil {
		m.audio.SetRemoteStream(stream)
	}
	m.emitter.Emit(EventRemoteStream, stream)
}

// onCleanup handles the PeerConnection closing underneath a live call
func (m *Manager) onCleanup() {
	s := m.active()
	if s == nil || s.snapshot().State != StateActive {
		return
	}
	m.log.WithField("call", s.call.ID).Warn("Media closed during an active call")
	if p := m.currentPlugin(); p != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
		_ = p.Hangup(ctx)
		cancel()
	}
	m.endCall(s, ReasonFailed, 0, errors.New("media connection closed"), false)
}
