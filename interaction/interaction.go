/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package interaction tracks whether the user has produced a gesture that
// unlocks audio playback.
package interaction

import (
	"sync"
	"time"

	"github.com/tevino/abool"
)

// Kind of user input
type Kind string

const (
	Click   Kind = "click"
	Touch   Kind = "touch"
	KeyDown Kind = "keydown"
	// Focus and similar passive inputs never unlock playback
	Focus Kind = "focus"
)

// Qualifies reports whether input of this kind unlocks playback
func (k Kind) Qualifies() bool {
	switch k {
	case Click, Touch, KeyDown:
		return true
	}
	return false
}

// Tracker records the first qualifying interaction. It is shared by every
// component of one softphone.
type Tracker struct {
	interacted *abool.AtomicBool

	mu      sync.Mutex
	first   time.Time
	kind    Kind
	nextID  uint64
	waiters map[uint64]func()
}

// New creates a Tracker with no recorded interaction
func New() *Tracker {
	return &Tracker{
		interacted: abool.New(),
		waiters:    make(map[uint64]func()),
	}
}

// HasInteracted reports whether a qualifying interaction was seen
func (t *Tracker) HasInteracted() bool {
	return t.interacted.IsSet()
}

// First returns the time and kind of the first qualifying interaction
func (t *Tracker) First() (time.Time, Kind, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.first, t.kind, !t.first.IsZero()
}

// Record notes an input event and reports whether it was the first
// qualifying one. Pending OnFirstInteraction callbacks run then, in the
// caller's goroutine.
func (t *Tracker) Record(kind Kind) bool {
	if !kind.Qualifies() {
		return false
	}
	if !t.interacted.SetToIf(false, true) {
		return false
	}

	t.mu.Lock()
	t.first = time.Now()
	t.kind = kind
	waiters := make([]func(), 0, len(t.waiters))
	for id := uint64(0); id < t.nextID; id++ {
		if fn, ok := t.waiters[id]; ok {
			waiters = append(waiters, fn)
		}
	}
	t.waiters = make(map[uint64]func())
	t.mu.Unlock()

	for _, fn := range waiters {
		fn()
	}
	return true
}

// OnFirstInteraction runs fn once on the first qualifying interaction, or
// right away when one was already recorded. The returned func cancels a
// pending callback.
func (t *Tracker) OnFirstInteraction(fn func()) func() {
	t.mu.Lock()
	if t.interacted.IsSet() {
		t.mu.Unlock()
		fn()
		return func() {}
	}
	id := t.nextID
	t.nextID++
	t.waiters[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.waiters, id)
		t.mu.Unlock()
	}
}

// Pending returns how many callbacks wait for the first interaction
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}
