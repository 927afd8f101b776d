/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/tevino/abool"
	"github.com/tejzpr/janus-sip-go-sdk/media"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
	"github.com/zaf/g711"
)

const (
	// G.711 sample rate
	pcmRate = 8000
	// analysis window, 128ms at 8kHz
	windowSamples = 1024
)

// PCMSink renders remote G.711 audio as 16-bit little-endian PCM into an
// io.Writer. It serves hosts without an audio element: CLIs, bots, tests.
type PCMSink struct {
	id  string
	log logrus.FieldLogger

	playing  *abool.AtomicBool
	muted    *abool.AtomicBool
	controls *abool.AtomicBool
	packets  atomic.Uint64

	mu       sync.Mutex
	stream   *media.Stream
	streamOn func()
	readers  map[*media.Track]chan struct{}
	volume   float64
	outputs  map[string]io.Writer
	outputID string
	output   io.Writer
	window   []float64

	emitter *softphonesdk.EventEmitter
}

var _ Sink = (*PCMSink)(nil)

// NewPCMSink creates a sink writing to out; nil discards the audio
func NewPCMSink(out io.Writer, log logrus.FieldLogger) *PCMSink {
	if out == nil {
		out = io.Discard
	}
	if log == nil {
		log = softphonesdk.NewLogger("audio")
	}
	return &PCMSink{
		id:       uuid.NewString(),
		log:      log,
		playing:  abool.New(),
		muted:    abool.New(),
		controls: abool.New(),
		readers:  make(map[*media.Track]chan struct{}),
		volume:   1,
		output:   out,
		emitter:  softphonesdk.NewEventEmitter(),
	}
}

func (s *PCMSink) ID() string { return s.id }

// Attach starts reading the audio tracks of stream, including tracks added
// later
func (s *PCMSink) Attach(stream *media.Stream) {
	s.mu.Lock()
	s.detachLocked()
	s.stream = stream
	s.packets.Store(0)
	s.window = s.window[:0]
	if stream != nil {
		for _, t := range stream.AudioTracks() {
			s.readLocked(t)
		}
		s.streamOn = stream.On(media.StreamEventAddTrack, func(t *media.Track) {
			if t.Kind() != media.KindAudio {
				return
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.stream == stream {
				s.readLocked(t)
			}
		})
	}
	s.mu.Unlock()
}

func (s *PCMSink) detachLocked() {
	if s.streamOn != nil {
		s.streamOn()
		s.streamOn = nil
	}
	for t, stop := range s.readers {
		close(stop)
		delete(s.readers, t)
	}
	s.stream = nil
}

// readLocked pumps RTP from a remote track into the sink
func (s *PCMSink) readLocked(t *media.Track) {
	remote := t.Remote()
	if remote == nil {
		return
	}
	if _, ok := s.readers[t]; ok {
		return
	}
	stop := make(chan struct{})
	s.readers[t] = stop
	mime := remote.Codec().MimeType

	go func() {
		for {
			pkt, _, err := remote.ReadRTP()
			if err != nil {
				s.log.WithField("track", t.ID()).Debugf("Remote track read ended: %v", err)
				s.emitter.Emit(SinkEventEnded, t.ID())
				return
			}
			select {
			case <-stop:
				return
			default:
			}
			if !t.Enabled() {
				continue
			}
			if err := s.WritePacket(pkt, mime); err != nil {
				s.emitter.Emit(SinkEventError, err)
				return
			}
		}
	}()
}

func (s *PCMSink) Stream() *media.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// WritePacket decodes one G.711 RTP packet. Audio reaches the output only
// while playing; the analysis window always sees it.
func (s *PCMSink) WritePacket(pkt *rtp.Packet, mimeType string) error {
	var pcm []byte
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypePCMU):
		pcm = g711.DecodeUlaw(pkt.Payload)
	case strings.EqualFold(mimeType, webrtc.MimeTypePCMA):
		pcm = g711.DecodeAlaw(pkt.Payload)
	default:
		return fmt.Errorf("unsupported codec %s", mimeType)
	}
	s.packets.Add(1)

	samples := make([]float64, len(pcm)/2)
	for i := range samples {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
	}

	s.mu.Lock()
	s.window = append(s.window, samples...)
	if over := len(s.window) - windowSamples; over > 0 {
		s.window = append(s.window[:0], s.window[over:]...)
	}
	volume := s.volume
	out := s.output
	s.mu.Unlock()

	if !s.playing.IsSet() {
		return nil
	}
	if s.muted.IsSet() {
		volume = 0
	}
	if volume != 1 {
		for i := range samples {
			v := int16(math.Round(samples[i] * volume * 32767))
			binary.LittleEndian.PutUint16(pcm[2*i:], uint16(v))
		}
	}
	if _, err := out.Write(pcm); err != nil {
		s.emitter.Emit(SinkEventWaiting, err)
		return nil
	}
	return nil
}

func (s *PCMSink) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Stream() == nil {
		return ErrNoStream
	}
	if s.playing.SetToIf(false, true) {
		s.emitter.Emit(SinkEventPlay, nil)
	}
	return nil
}

func (s *PCMSink) Pause() {
	if s.playing.SetToIf(true, false) {
		s.emitter.Emit(SinkEventPause, nil)
	}
}

func (s *PCMSink) Paused() bool { return !s.playing.IsSet() }

func (s *PCMSink) SetMuted(muted bool) { s.muted.SetTo(muted) }

func (s *PCMSink) Muted() bool { return s.muted.IsSet() }

// SetVolume clamps volume to [0, 1]
func (s *PCMSink) SetVolume(volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = math.Max(0, math.Min(1, volume))
}

func (s *PCMSink) SetControls(visible bool) { s.controls.SetTo(visible) }

func (s *PCMSink) ControlsVisible() bool { return s.controls.IsSet() }

// SetOutputDevice switches to one of the writers the platform offers
func (s *PCMSink) SetOutputDevice(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.outputs[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOutput, deviceID)
	}
	s.output = out
	s.outputID = deviceID
	return nil
}

// OutputDevice returns the selected output id, empty for the default
func (s *PCMSink) OutputDevice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputID
}

func (s *PCMSink) Window() ([]float64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.window...), pcmRate
}

func (s *PCMSink) Packets() uint64 { return s.packets.Load() }

func (s *PCMSink) On(event string, handler softphonesdk.EventHandler) func() {
	return s.emitter.On(event, handler)
}

// Reset detaches, pauses and restores defaults. The output stays selected.
func (s *PCMSink) Reset() {
	s.Pause()
	s.mu.Lock()
	s.detachLocked()
	s.window = nil
	s.volume = 1
	s.mu.Unlock()
	s.packets.Store(0)
	s.muted.UnSet()
	s.controls.UnSet()
}

// HeadlessPlatform hands out PCMSinks over a fixed set of output writers
type HeadlessPlatform struct {
	mu      sync.Mutex
	outputs map[string]io.Writer
	sinks   []*PCMSink
	log     logrus.FieldLogger
}

var _ Platform = (*HeadlessPlatform)(nil)

// NewHeadlessPlatform creates a platform. outputs maps device ids to
// writers; the "default" entry, if any, receives audio until another output
// is selected.
func NewHeadlessPlatform(outputs map[string]io.Writer) *HeadlessPlatform {
	return &HeadlessPlatform{outputs: outputs, log: softphonesdk.NewLogger("audio")}
}

func (p *HeadlessPlatform) RemoveConflictingSinks() int {
	p.mu.Lock()
	sinks := p.sinks
	p.sinks = nil
	p.mu.Unlock()
	for _, s := range sinks {
		s.Reset()
	}
	return len(sinks)
}

func (p *HeadlessPlatform) CreateSink() (Sink, error) {
	s := NewPCMSink(p.outputs["default"], p.log)
	s.outputs = p.outputs
	p.mu.Lock()
	p.sinks = append(p.sinks, s)
	p.mu.Unlock()
	return s, nil
}

func (p *HeadlessPlatform) SupportsOutputSelection() bool {
	return len(p.outputs) > 0
}

// Sinks returns how many sinks are live
func (p *HeadlessPlatform) Sinks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sinks)
}
