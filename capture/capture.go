/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package capture acquires local media for calls
package capture

import (
	"context"

	"github.com/tejzpr/janus-sip-go-sdk/media"
	"github.com/tejzpr/janus-sip-go-sdk/prefs"
)

// DeviceKind classifies a media device
type DeviceKind string

const (
	AudioInput  DeviceKind = "audioinput"
	AudioOutput DeviceKind = "audiooutput"
	VideoInput  DeviceKind = "videoinput"
)

// DeviceInfo describes one capture or playback device
type DeviceInfo struct {
	DeviceID string
	Label    string
	Kind     DeviceKind
}

// AudioConstraints select and configure the microphone
type AudioConstraints struct {
	// DeviceID is empty for the platform default
	DeviceID         string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// VideoConstraints select and configure the camera
type VideoConstraints struct {
	DeviceID string
	Width    int
	Height   int
}

// Constraints is what a call asks the capture backend for. Video is nil for
// audio-only calls.
type Constraints struct {
	Audio AudioConstraints
	Video *VideoConstraints
}

// FromPreferences derives capture constraints from stored preferences
func FromPreferences(p prefs.Preferences, video bool) Constraints {
	c := Constraints{
		Audio: AudioConstraints{
			DeviceID:         p.AudioInputID,
			EchoCancellation: p.EchoCancellation,
			NoiseSuppression: p.NoiseSuppression,
			AutoGainControl:  p.AutoGainControl,
		},
	}
	if video {
		c.Video = &VideoConstraints{DeviceID: p.VideoInputID, Width: 640, Height: 480}
	}
	return c
}

// Capturer is the platform media-capture capability. GetUserMedia may block
// for as long as the platform needs (permission prompts) and must honor ctx.
type Capturer interface {
	GetUserMedia(ctx context.Context, c Constraints) (*media.Stream, error)
	EnumerateDevices(ctx context.Context) ([]DeviceInfo, error)
}
