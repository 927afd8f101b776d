/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package device captures microphone and camera media through
// pion/mediadevices. It needs cgo for the opus and vpx encoders and the
// platform capture drivers.
package device

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers camera drivers
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers microphone drivers
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/tejzpr/janus-sip-go-sdk/capture"
	"github.com/tejzpr/janus-sip-go-sdk/media"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// Capturer acquires local media from real devices
type Capturer struct {
	selector *mediadevices.CodecSelector
	log      logrus.FieldLogger
}

var _ capture.Capturer = (*Capturer)(nil)

// New builds a capturer encoding audio with opus and video with VP8
func New() (*Capturer, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP8 params: %w", err)
	}
	vpxParams.BitRate = 300_000

	return &Capturer{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithAudioEncoders(&opusParams),
			mediadevices.WithVideoEncoders(&vpxParams),
		),
		log: softphonesdk.NewLogger("capture"),
	}, nil
}

// GetUserMedia opens the selected devices. The processing toggles are
// recorded but left to the platform driver, which has no switch for them.
func (c *Capturer) GetUserMedia(ctx context.Context, cons capture.Constraints) (*media.Stream, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Audio: func(mc *mediadevices.MediaTrackConstraints) {
			if cons.Audio.DeviceID != "" {
				mc.DeviceID = prop.String(cons.Audio.DeviceID)
			}
			mc.SampleRate = prop.Int(48000)
			mc.ChannelCount = prop.Int(1)
			mc.Latency = prop.Duration(20 * time.Millisecond)
		},
		Codec: c.selector,
	}
	if cons.Video != nil {
		v := *cons.Video
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			if v.DeviceID != "" {
				mc.DeviceID = prop.String(v.DeviceID)
			}
			if v.Width > 0 {
				mc.Width = prop.Int(v.Width)
			}
			if v.Height > 0 {
				mc.Height = prop.Int(v.Height)
			}
		}
	}

	c.log.WithFields(logrus.Fields{
		"audioDevice":      cons.Audio.DeviceID,
		"echoCancellation": cons.Audio.EchoCancellation,
		"noiseSuppression": cons.Audio.NoiseSuppression,
		"autoGainControl":  cons.Audio.AutoGainControl,
		"video":            cons.Video != nil,
	}).Debug("Acquiring local media")

	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := mediadevices.GetUserMedia(constraints)
		done <- result{s, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// release whatever the platform eventually hands back
		go func() {
			if r := <-done; r.err == nil {
				for _, t := range r.stream.GetTracks() {
					_ = t.Close()
				}
			}
		}()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	stream := media.NewStream()
	for _, t := range res.stream.GetTracks() {
		stream.AddTrack(c.wrap(t))
	}
	return stream, nil
}

// wrap adapts a mediadevices track; a disabled audio track is silenced at
// the source so muting never renegotiates
func (c *Capturer) wrap(t mediadevices.Track) *media.Track {
	kind := media.KindAudio
	if t.Kind() == webrtc.RTPCodecTypeVideo {
		kind = media.KindVideo
	}

	tr := media.NewLocalTrack(kind, t, func() {
		if err := t.Close(); err != nil {
			c.log.WithField("track", t.ID()).Debugf("Closing capture track failed: %v", err)
		}
	})
	t.OnEnded(func(err error) {
		if err != nil {
			c.log.WithField("track", t.ID()).Warnf("Capture track ended: %v", err)
		}
		tr.Stop()
	})

	if at, ok := t.(*mediadevices.AudioTrack); ok {
		at.Transform(func(r audio.Reader) audio.Reader {
			return audio.ReaderFunc(func() (wave.Audio, func(), error) {
				chunk, release, err := r.Read()
				if err == nil && !tr.Enabled() {
					silence(chunk)
				}
				return chunk, release, err
			})
		})
	}
	return tr
}

func silence(chunk wave.Audio) {
	switch a := chunk.(type) {
	case *wave.Int16Interleaved:
		for i := range a.Data {
			a.Data[i] = 0
		}
	case *wave.Float32Interleaved:
		for i := range a.Data {
			a.Data[i] = 0
		}
	}
}

func (c *Capturer) EnumerateDevices(context.Context) ([]capture.DeviceInfo, error) {
	var out []capture.DeviceInfo
	for _, d := range mediadevices.EnumerateDevices() {
		var kind capture.DeviceKind
		switch d.Kind {
		case mediadevices.AudioInput:
			kind = capture.AudioInput
		case mediadevices.VideoInput:
			kind = capture.VideoInput
		default:
			continue
		}
		out = append(out, capture.DeviceInfo{DeviceID: d.DeviceID, Label: d.Label, Kind: kind})
	}
	return out, nil
}
