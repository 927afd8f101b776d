/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// Kind is the media kind of a track
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ReadyState mirrors a media track's lifecycle
type ReadyState string

const (
	ReadyStateLive  ReadyState = "live"
	ReadyStateEnded ReadyState = "ended"
)

// Track events
const (
	TrackEventEnded  = "ended"
	TrackEventMute   = "mute"
	TrackEventUnmute = "unmute"
)

// Track is one local or remote media track. Enabled is the application's
// rendering/sending switch; Muted is what the remote side (or the source)
// reports and is never written by the application.
type Track struct {
	id   string
	kind Kind

	mu      sync.Mutex
	enabled bool
	muted   bool
	state   ReadyState
	stop    func()

	local  webrtc.TrackLocal
	remote *webrtc.TrackRemote

	emitter *softphonesdk.EventEmitter
}

// NewTrack creates a live track that is not bound to a PeerConnection
func NewTrack(kind Kind) *Track {
	return &Track{
		id:      uuid.NewString(),
		kind:    kind,
		enabled: true,
		state:   ReadyStateLive,
		emitter: softphonesdk.NewEventEmitter(),
	}
}

// NewLocalTrack wraps a captured track. stop is called once when the track
// is stopped and should release the capture source.
func NewLocalTrack(kind Kind, local webrtc.TrackLocal, stop func()) *Track {
	t := NewTrack(kind)
	if local != nil {
		t.id = local.ID()
	}
	t.local = local
	t.stop = stop
	return t
}

// NewRemoteTrack wraps a track received from the PeerConnection
func NewRemoteTrack(remote *webrtc.TrackRemote) *Track {
	kind := KindAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = KindVideo
	}
	t := NewTrack(kind)
	if id := remote.ID(); id != "" {
		t.id = id
	}
	t.remote = remote
	return t
}

func (t *Track) ID() string { return t.id }

func (t *Track) Kind() Kind { return t.kind }

// Local returns the sending side of a captured track, nil for remote tracks
func (t *Track) Local() webrtc.TrackLocal { return t.local }

// Remote returns the receiving side of a remote track, nil for local tracks
func (t *Track) Remote() *webrtc.TrackRemote { return t.remote }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled switches the track on or off. Ended tracks stay disabled.
func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == ReadyStateEnded {
		return
	}
	t.enabled = enabled
}

func (t *Track) Muted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

// SetMuted records a source-side mute change and notifies listeners
func (t *Track) SetMuted(muted bool) {
	t.mu.Lock()
	if t.muted == muted || t.state == ReadyStateEnded {
		t.mu.Unlock()
		return
	}
	t.muted = muted
	t.mu.Unlock()

	if muted {
		t.emitter.Emit(TrackEventMute, t)
	} else {
		t.emitter.Emit(TrackEventUnmute, t)
	}
}

func (t *Track) ReadyState() ReadyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Live reports whether the track has not ended
func (t *Track) Live() bool {
	return t.ReadyState() == ReadyStateLive
}

// Stop ends the track and releases its source. Safe to call repeatedly.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.state == ReadyStateEnded {
		t.mu.Unlock()
		return
	}
	t.state = ReadyStateEnded
	t.enabled = false
	stop := t.stop
	t.stop = nil
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
	t.emitter.Emit(TrackEventEnded, t)
}

// On subscribes to a track event; the handler receives the *Track
func (t *Track) On(event string, handler func(*Track)) func() {
	return t.emitter.On(event, func(data interface{}) {
		if tr, ok := data.(*Track); ok {
			handler(tr)
		}
	})
}
