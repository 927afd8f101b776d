/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package sessionstate aggregates connection, registration, call and audio
// state into one snapshot for user interfaces.
package sessionstate

import (
	"errors"
	"sync"
	"time"

	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// EventChanged carries the new Snapshot after every change
const EventChanged = "changed"

// Snapshot is the state a user interface renders
type Snapshot struct {
	Connection   string
	Registration string
	// Identity is the registered SIP URI
	Identity string

	Call          string
	CallID        string
	CallPeer      string
	CallDirection string
	Muted         bool

	Audio        string
	AudioBlocked bool

	// LastError is the most recent user-facing error message
	LastError string
	UpdatedAt time.Time
}

// Store holds the current Snapshot
type Store struct {
	mu      sync.Mutex
	current Snapshot
	emitter *softphonesdk.EventEmitter
}

// New creates a store with everything idle
func New() *Store {
	return &Store{
		current: Snapshot{
			Connection:   "disconnected",
			Registration: "unregistered",
			Call:         "idle",
			Audio:        "idle",
			UpdatedAt:    time.Now(),
		},
		emitter: softphonesdk.NewEventEmitter(),
	}
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe calls fn with every new snapshot
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	return s.emitter.On(EventChanged, func(data interface{}) {
		if snap, ok := data.(Snapshot); ok {
			fn(snap)
		}
	})
}

// Update applies fn and publishes the result when anything changed
func (s *Store) Update(fn func(*Snapshot)) {
	s.mu.Lock()
	next := s.current
	fn(&next)
	next.UpdatedAt = s.current.UpdatedAt
	if next == s.current {
		s.mu.Unlock()
		return
	}
	next.UpdatedAt = time.Now()
	s.current = next
	s.mu.Unlock()

	s.emitter.Emit(EventChanged, next)
}

func (s *Store) SetConnection(state string) {
	s.Update(func(snap *Snapshot) { snap.Connection = state })
}

// SetRegistration records the registration status and identity
func (s *Store) SetRegistration(status, identity string) {
	s.Update(func(snap *Snapshot) {
		snap.Registration = status
		snap.Identity = identity
	})
}

// SetCall records the call state. An empty id keeps the previous call
// details, for the idle state after a call.
func (s *Store) SetCall(state, id, peer, direction string) {
	s.Update(func(snap *Snapshot) {
		snap.Call = state
		if id != "" {
			snap.CallID = id
			snap.CallPeer = peer
			snap.CallDirection = direction
		}
		if state == "idle" || state == "ended" {
			snap.Muted = false
		}
	})
}

func (s *Store) SetMuted(muted bool) {
	s.Update(func(snap *Snapshot) { snap.Muted = muted })
}

// SetAudio records the playback state; blocked shows the manual control
func (s *Store) SetAudio(state string, blocked bool) {
	s.Update(func(snap *Snapshot) {
		snap.Audio = state
		snap.AudioBlocked = blocked
	})
}

// SetError records a user-facing error; nil clears it
func (s *Store) SetError(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
		var human interface{ HumanMessage() string }
		if errors.As(err, &human) {
			msg = human.HumanMessage()
		}
	}
	s.Update(func(snap *Snapshot) { snap.LastError = msg })
}
