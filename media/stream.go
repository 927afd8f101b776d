/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"sync"

	"github.com/google/uuid"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// Stream events, the payload is the *Track
const (
	StreamEventAddTrack    = "addtrack"
	StreamEventRemoveTrack = "removetrack"
)

// Stream is an ordered set of tracks
type Stream struct {
	id string

	mu     sync.Mutex
	tracks []*Track

	emitter *softphonesdk.EventEmitter
}

// NewStream creates a stream holding the given tracks
func NewStream(tracks ...*Track) *Stream {
	return NewStreamWithID(uuid.NewString(), tracks...)
}

// NewStreamWithID creates a stream with a known id (msid of a remote stream)
func NewStreamWithID(id string, tracks ...*Track) *Stream {
	return &Stream{
		id:      id,
		tracks:  append([]*Track(nil), tracks...),
		emitter: softphonesdk.NewEventEmitter(),
	}
}

func (s *Stream) ID() string { return s.id }

// Tracks returns a copy of the track list
func (s *Stream) Tracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Track(nil), s.tracks...)
}

// AudioTracks returns the audio tracks
func (s *Stream) AudioTracks() []*Track {
	return s.byKind(KindAudio)
}

// VideoTracks returns the video tracks
func (s *Stream) VideoTracks() []*Track {
	return s.byKind(KindVideo)
}

func (s *Stream) byKind(kind Kind) []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Track
	for _, t := range s.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// AddTrack appends a track unless it is already present
func (s *Stream) AddTrack(t *Track) {
	s.mu.Lock()
	for _, existing := range s.tracks {
		if existing == t {
			s.mu.Unlock()
			return
		}
	}
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
	s.emitter.Emit(StreamEventAddTrack, t)
}

// RemoveTrack drops a track from the stream without stopping it
func (s *Stream) RemoveTrack(t *Track) bool {
	s.mu.Lock()
	idx := -1
	for i, existing := range s.tracks {
		if existing == t {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.tracks = append(s.tracks[:idx], s.tracks[idx+1:]...)
	s.mu.Unlock()
	s.emitter.Emit(StreamEventRemoveTrack, t)
	return true
}

// HasVideo reports whether any live video track is present
func (s *Stream) HasVideo() bool {
	for _, t := range s.VideoTracks() {
		if t.Live() {
			return true
		}
	}
	return false
}

// Live reports whether at least one track has not ended
func (s *Stream) Live() bool {
	for _, t := range s.Tracks() {
		if t.Live() {
			return true
		}
	}
	return false
}

// Stop stops every track in the stream
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// On subscribes to a stream event
func (s *Stream) On(event string, handler func(*Track)) func() {
	return s.emitter.On(event, func(data interface{}) {
		if tr, ok := data.(*Track); ok {
			handler(tr)
		}
	})
}
