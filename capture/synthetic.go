/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"
	"github.com/tejzpr/janus-sip-go-sdk/media"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
	"github.com/zaf/g711"
)

const (
	syntheticRate  = 8000
	syntheticFrame = 20 * time.Millisecond
	// samples per 20ms frame at 8kHz
	syntheticSamples = syntheticRate / 50
	toneAmplitude    = 8000
)

// Synthetic produces PCMU audio without hardware: a sine tone, or silence
// when ToneHz is zero. It serves headless hosts and tests.
type Synthetic struct {
	ToneHz float64

	log logrus.FieldLogger

	mu   sync.Mutex
	live map[*media.Track]struct{}
}

var _ Capturer = (*Synthetic)(nil)

// NewSynthetic creates a synthetic capturer generating a tone of toneHz
func NewSynthetic(toneHz float64) *Synthetic {
	return &Synthetic{
		ToneHz: toneHz,
		log:    softphonesdk.NewLogger("capture"),
		live:   make(map[*media.Track]struct{}),
	}
}

func (s *Synthetic) GetUserMedia(ctx context.Context, c Constraints) (*media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: syntheticRate},
		"audio", "synthetic",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	done := make(chan struct{})
	var track *media.Track
	track = media.NewLocalTrack(media.KindAudio, audio, func() {
		close(done)
		s.release(track)
	})
	s.track(track)
	go s.generate(audio, track, done)

	stream := media.NewStream(track)

	if c.Video != nil {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", "synthetic",
		)
		if err != nil {
			stream.Stop()
			return nil, fmt.Errorf("failed to create video track: %w", err)
		}
		var vt *media.Track
		vt = media.NewLocalTrack(media.KindVideo, video, func() { s.release(vt) })
		s.track(vt)
		stream.AddTrack(vt)
	}

	s.log.WithFields(logrus.Fields{"tone": s.ToneHz, "video": c.Video != nil}).Debug("Synthetic media acquired")
	return stream, nil
}

func (s *Synthetic) EnumerateDevices(context.Context) ([]DeviceInfo, error) {
	return []DeviceInfo{
		{DeviceID: "synthetic", Label: "Synthetic tone", Kind: AudioInput},
		{DeviceID: "default", Label: "Default output", Kind: AudioOutput},
	}, nil
}

// Live returns how many acquired tracks have not been stopped
func (s *Synthetic) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *Synthetic) track(t *media.Track) {
	s.mu.Lock()
	s.live[t] = struct{}{}
	s.mu.Unlock()
}

func (s *Synthetic) release(t *media.Track) {
	s.mu.Lock()
	delete(s.live, t)
	s.mu.Unlock()
}

// generate writes one PCMU frame per 20ms until the track stops. A disabled
// track sends silence.
func (s *Synthetic) generate(out *webrtc.TrackLocalStaticSample, track *media.Track, done <-chan struct{}) {
	ticker := time.NewTicker(syntheticFrame)
	defer ticker.Stop()

	step := 2 * math.Pi * s.ToneHz / syntheticRate
	phase := 0.0
	pcm := make([]byte, 2*syntheticSamples)
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		on := track.Enabled() && s.ToneHz > 0
		for i := 0; i < syntheticSamples; i++ {
			var sample int16
			if on {
				sample = int16(toneAmplitude * math.Sin(phase))
			}
			phase += step
			binary.LittleEndian.PutUint16(pcm[2*i:], uint16(sample))
		}
		phase = math.Mod(phase, 2*math.Pi)

		if err := out.WriteSample(pionmedia.Sample{Data: g711.EncodeUlaw(pcm), Duration: syntheticFrame}); err != nil {
			s.log.Debugf("Synthetic write failed: %v", err)
		}
	}
}
