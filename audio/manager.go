/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package audio renders the remote stream of a call through a single sink
// and keeps it playing.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tejzpr/janus-sip-go-sdk/media"
	"github.com/tejzpr/janus-sip-go-sdk/metrics"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// State of playback
type State string

const (
	StateIdle State = "idle"
	// StateDeferred waits for the first user interaction
	StateDeferred State = "deferred"
	StatePlaying  State = "playing"
	// StateBlocked means every automatic strategy failed and the manual
	// controls are shown
	StateBlocked State = "blocked"
)

// Events published by the Manager
const (
	// EventState carries a StateChange
	EventState = "state"
	// EventPlaybackBlocked fires when playback needs a manual user action
	EventPlaybackBlocked = "playback_blocked"
	// EventHealth carries the result string of each health check
	EventHealth = "health"
)

// playback outcomes reported to metrics
const (
	outcomeDeferred = "deferred"
	outcomeUnmuted  = "unmuted"
	outcomeMuted    = "muted_then_unmuted"
	outcomeBlocked  = "blocked"
	outcomeForced   = "forced"
)

// StateChange describes one playback state transition
type StateChange struct {
	From State
	To   State
}

// Interaction reports user gestures
type Interaction interface {
	HasInteracted() bool
	OnFirstInteraction(fn func()) func()
}

// Options are the collaborators of a Manager
type Options struct {
	Config      *softphonesdk.Config
	Platform    Platform
	Interaction Interaction
	Metrics     *metrics.Collector
}

// Manager owns the sink and the playback policy
type Manager struct {
	mu       sync.Mutex
	config   *softphonesdk.Config
	log      logrus.FieldLogger
	metrics  *metrics.Collector
	platform Platform
	gestures Interaction

	sink     Sink
	sinkOff  []func()
	stream   *media.Stream
	watchOff []func()
	outputID string
	state    State

	cancelDeferred func()
	healthStop     chan struct{}
	unmute         *time.Timer
	lastPackets    uint64

	// attempts serializes playback attempts
	attempts sync.Mutex

	emitter *softphonesdk.EventEmitter
}

// New creates a Manager. The sink is created by Initialize or lazily on the
// first stream.
func New(opts Options) *Manager {
	config := opts.Config
	if config == nil {
		config = softphonesdk.DefaultConfig()
	}
	return &Manager{
		config:   config,
		log:      config.LoggerFor("audio"),
		metrics:  opts.Metrics,
		platform: opts.Platform,
		gestures: opts.Interaction,
		state:    StateIdle,
		emitter:  softphonesdk.NewEventEmitter(),
	}
}

// Subscribe registers a handler for one of the Event* names
func (m *Manager) Subscribe(event string, handler softphonesdk.EventHandler) func() {
	return m.emitter.On(event, handler)
}

// State returns the playback state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Sink returns the sink, nil before Initialize
func (m *Manager) Sink() Sink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sink
}

func (m *Manager) setState(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()
	if from == to {
		return
	}
	m.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("Playback state changed")
	m.emitter.Emit(EventState, StateChange{From: from, To: to})
}

// Initialize creates the sink once, removing leftovers first
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializeLocked()
}

func (m *Manager) initializeLocked() error {
	if m.sink != nil {
		return nil
	}
	if m.platform == nil {
		return errors.New("no audio platform configured")
	}
	if n := m.platform.RemoveConflictingSinks(); n > 0 {
		m.log.WithField("removed", n).Info("Removed conflicting audio sinks")
	}
	sink, err := m.platform.CreateSink()
	if err != nil {
		return fmt.Errorf("failed to create audio sink: %w", err)
	}
	m.sink = sink

	for _, ev := range []string{SinkEventPlay, SinkEventPause, SinkEventEnded, SinkEventError, SinkEventSuspend, SinkEventWaiting} {
		event := ev
		m.sinkOff = append(m.sinkOff, sink.On(event, func(data interface{}) {
			m.onSinkEvent(event, data)
		}))
	}
	m.log.WithField("sink", sink.ID()).Debug("Audio sink created")
	return nil
}

func (m *Manager) onSinkEvent(event string, data interface{}) {
	log := m.log.WithField("event", event)
	if err, ok := data.(error); ok {
		log = log.WithError(err)
	}
	log.Debug("Sink event")

	switch event {
	case SinkEventError, SinkEventSuspend:
		if m.State() == StatePlaying {
			// recover off the sink's goroutine
			go m.attempt(context.Background())
		}
	}
}

// SetRemoteStream renders stream, replacing any previous one. Audio tracks
// are forced on and kept on.
func (m *Manager) SetRemoteStream(stream *media.Stream) {
	if stream == nil {
		m.Detach()
		return
	}

	m.mu.Lock()
	if err := m.initializeLocked(); err != nil {
		m.mu.Unlock()
		m.log.WithError(err).Error("Cannot render remote audio")
		return
	}
	m.unwatchLocked()
	m.stream = stream
	for _, t := range stream.AudioTracks() {
		m.watchLocked(stream, t)
	}
	m.watchOff = append(m.watchOff, stream.On(media.StreamEventAddTrack, func(t *media.Track) {
		if t.Kind() != media.KindAudio {
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.stream == stream {
			m.watchLocked(stream, t)
		}
	}))
	sink := m.sink
	outputID := m.outputID
	m.lastPackets = 0
	m.mu.Unlock()

	sink.Attach(stream)
	if outputID != "" && m.platform.SupportsOutputSelection() {
		if err := sink.SetOutputDevice(context.Background(), outputID); err != nil {
			m.log.WithError(err).WithField("device", outputID).Warn("Cannot apply audio output")
		}
	}
	m.log.WithFields(logrus.Fields{"stream": stream.ID(), "tracks": len(stream.AudioTracks())}).Info("Remote audio attached")

	m.startHealth()
	m.attempt(context.Background())
}

// watchLocked keeps a remote track enabled and prunes it once it ends
func (m *Manager) watchLocked(stream *media.Stream, t *media.Track) {
	t.SetEnabled(true)
	m.watchOff = append(m.watchOff,
		t.On(media.TrackEventMute, func(t *media.Track) {
			m.log.WithField("track", t.ID()).Debug("Remote muted a track, keeping it enabled")
			t.SetEnabled(true)
		}),
		t.On(media.TrackEventEnded, func(t *media.Track) {
			if stream.RemoveTrack(t) {
				m.log.WithField("track", t.ID()).Debug("Pruned ended track")
			}
		}),
	)
}

func (m *Manager) unwatchLocked() {
	for _, off := range m.watchOff {
		off()
	}
	m.watchOff = nil
	m.stream = nil
}

// attempt runs the playback policy: wait for a gesture, play unmuted, play
// muted and unmute shortly after, then show manual controls
func (m *Manager) attempt(ctx context.Context) bool {
	m.attempts.Lock()
	defer m.attempts.Unlock()

	m.mu.Lock()
	sink := m.sink
	attached := m.stream != nil
	m.mu.Unlock()
	if sink == nil || !attached {
		return false
	}

	if m.gestures != nil && !m.gestures.HasInteracted() {
		m.deferPlayback()
		return false
	}

	err := m.playUnmuted(ctx, sink)
	if err == nil {
		m.metrics.PlaybackAttempt(outcomeUnmuted)
		return true
	}
	m.log.WithError(err).Debug("Unmuted playback refused")

	sink.SetMuted(true)
	if err = sink.Play(ctx); err == nil {
		m.scheduleUnmute(sink)
		m.playing(sink)
		m.metrics.PlaybackAttempt(outcomeMuted)
		return true
	}
	m.log.WithError(err).Debug("Muted playback refused")

	sink.SetControls(true)
	m.setState(StateBlocked)
	m.metrics.PlaybackAttempt(outcomeBlocked)
	m.log.Warn("Audio playback blocked, manual enable required")
	m.emitter.Emit(EventPlaybackBlocked, nil)
	return false
}

func (m *Manager) playUnmuted(ctx context.Context, sink Sink) error {
	sink.SetMuted(false)
	if err := sink.Play(ctx); err != nil {
		return err
	}
	m.playing(sink)
	return nil
}

func (m *Manager) playing(sink Sink) {
	sink.SetControls(false)
	m.setState(StatePlaying)
}

// deferPlayback parks playback until the first interaction
func (m *Manager) deferPlayback() {
	m.mu.Lock()
	pending := m.cancelDeferred != nil
	m.mu.Unlock()
	m.setState(StateDeferred)
	if pending {
		return
	}
	m.metrics.PlaybackAttempt(outcomeDeferred)
	m.log.Info("Deferring playback until the first user interaction")

	var once sync.Once
	fired := false
	cancel := m.gestures.OnFirstInteraction(func() {
		once.Do(func() {
			m.mu.Lock()
			fired = true
			m.cancelDeferred = nil
			m.mu.Unlock()
			// the gesture handler must not wait for playback
			go m.attempt(context.Background())
		})
	})
	// a callback that already ran leaves nothing to cancel
	m.mu.Lock()
	if m.state == StateDeferred && !fired {
		m.cancelDeferred = cancel
	}
	m.mu.Unlock()
}

func (m *Manager) scheduleUnmute(sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unmute != nil {
		m.unmute.Stop()
	}
	m.unmute = time.AfterFunc(m.config.AudioUnmuteDelay, func() {
		m.mu.Lock()
		current := m.sink == sink && m.stream != nil
		m.mu.Unlock()
		if current {
			sink.SetMuted(false)
			m.log.Debug("Unmuted after muted autoplay")
		}
	})
}

// ForcePlayback plays the attached stream right away and reports whether it
// is playing. It is meant to run from a user gesture and skips the
// interaction deferral.
func (m *Manager) ForcePlayback(ctx context.Context) bool {
	m.attempts.Lock()
	defer m.attempts.Unlock()

	m.mu.Lock()
	sink := m.sink
	attached := m.stream != nil
	cancel := m.cancelDeferred
	m.cancelDeferred = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if sink == nil || !attached {
		return false
	}
	if m.State() == StatePlaying && !sink.Paused() {
		return true
	}

	err := m.playUnmuted(ctx, sink)
	if err != nil {
		sink.SetMuted(true)
		if err = sink.Play(ctx); err == nil {
			m.scheduleUnmute(sink)
			m.playing(sink)
		}
	}
	if err != nil {
		m.log.WithError(err).Warn("Forced playback failed")
		return false
	}
	m.metrics.PlaybackAttempt(outcomeForced)
	return true
}

// SetAudioOutput selects the output device. Platforms without output
// selection ignore it.
func (m *Manager) SetAudioOutput(ctx context.Context, deviceID string) error {
	if m.platform == nil || !m.platform.SupportsOutputSelection() {
		m.log.WithField("device", deviceID).Info("Output device selection unsupported, ignoring")
		return nil
	}
	m.mu.Lock()
	m.outputID = deviceID
	sink := m.sink
	m.mu.Unlock()
	if sink == nil {
		return nil
	}
	if err := sink.SetOutputDevice(ctx, deviceID); err != nil {
		return fmt.Errorf("failed to select audio output %q: %w", deviceID, err)
	}
	m.log.WithField("device", deviceID).Info("Audio output selected")
	return nil
}

// OutputDevice returns the selected output device id
func (m *Manager) OutputDevice() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputID
}

// Detach stops rendering. The sink is kept for the next call.
func (m *Manager) Detach() {
	m.stopHealth()
	m.mu.Lock()
	m.unwatchLocked()
	cancel := m.cancelDeferred
	m.cancelDeferred = nil
	if m.unmute != nil {
		m.unmute.Stop()
		m.unmute = nil
	}
	sink := m.sink
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sink != nil {
		sink.Pause()
		sink.Attach(nil)
		sink.SetControls(false)
	}
	m.setState(StateIdle)
}

// Close detaches and disposes of the sink's listeners
func (m *Manager) Close() {
	m.Detach()
	m.mu.Lock()
	for _, off := range m.sinkOff {
		off()
	}
	m.sinkOff = nil
	m.mu.Unlock()
}

func (m *Manager) startHealth() {
	m.stopHealth()
	if m.config.AudioHealthInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	m.mu.Lock()
	m.healthStop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.config.AudioHealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.CheckHealth(context.Background())
			}
		}
	}()
}

func (m *Manager) stopHealth() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.healthStop != nil {
		close(m.healthStop)
		m.healthStop = nil
	}
}

// CheckHealth verifies that audio flows and re-runs the playback policy
// when it does not. It returns one of the Health* results.
func (m *Manager) CheckHealth(ctx context.Context) string {
	result := m.checkHealth(ctx)
	m.metrics.AudioHealth(result)
	m.emitter.Emit(EventHealth, result)
	return result
}

func (m *Manager) checkHealth(ctx context.Context) string {
	m.mu.Lock()
	sink := m.sink
	attached := m.stream != nil
	state := m.state
	last := m.lastPackets
	m.mu.Unlock()

	if sink == nil || !attached {
		return HealthDetached
	}
	switch state {
	case StateDeferred:
		return HealthDeferred
	case StateBlocked:
		// only a gesture through ForcePlayback can unblock
		return HealthBlocked
	}
	if sink.Paused() {
		m.log.Warn("Sink paused during a call, restarting playback")
		m.attempt(ctx)
		return HealthPaused
	}

	packets := sink.Packets()
	m.mu.Lock()
	m.lastPackets = packets
	m.mu.Unlock()

	samples, rate := sink.Window()
	if BandEnergy(samples, rate, VoiceBandLow, VoiceBandHigh) >= m.config.SilenceThreshold {
		return HealthOK
	}
	if packets > last {
		return HealthQuiet
	}
	m.log.Warn("No audio flowing, restarting playback")
	m.attempt(ctx)
	return HealthSilent
}
