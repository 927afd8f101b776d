/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package audio

import (
	"context"
	"errors"

	"github.com/tejzpr/janus-sip-go-sdk/media"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// Sink events, emitted for diagnostics and recovery
const (
	SinkEventPlay    = "play"
	SinkEventPause   = "pause"
	SinkEventEnded   = "ended"
	SinkEventError   = "error"
	SinkEventSuspend = "suspend"
	SinkEventWaiting = "waiting"
)

var (
	// ErrNoStream is returned by Play when nothing is attached
	ErrNoStream = errors.New("no stream attached to sink")
	// ErrUnknownOutput is returned for an output device the platform lacks
	ErrUnknownOutput = errors.New("unknown audio output device")
)

// Sink is the one element remote audio is rendered through. It is reset
// and reused across calls, never recreated while the softphone lives.
type Sink interface {
	ID() string
	// Attach replaces the rendered stream; nil detaches
	Attach(stream *media.Stream)
	Stream() *media.Stream

	// Play starts rendering; it fails when the host refuses playback
	Play(ctx context.Context) error
	Pause()
	Paused() bool

	SetMuted(muted bool)
	Muted() bool
	SetVolume(volume float64)
	// SetControls shows or hides the manual playback controls
	SetControls(visible bool)
	ControlsVisible() bool
	SetOutputDevice(ctx context.Context, deviceID string) error

	// Window returns the most recent decoded samples, scaled to [-1, 1],
	// and their sample rate
	Window() ([]float64, int)
	// Packets returns how many media packets arrived since attach
	Packets() uint64

	On(event string, handler softphonesdk.EventHandler) func()
	Reset()
}

// Platform creates sinks and knows about output devices
type Platform interface {
	// RemoveConflictingSinks disposes of sinks left over from earlier
	// initializations and returns how many it removed
	RemoveConflictingSinks() int
	CreateSink() (Sink, error)
	SupportsOutputSelection() bool
}
