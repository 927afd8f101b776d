/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// Engine events
const (
	// EventRemoteStream fires with the *Stream each time a remote track joins it
	EventRemoteStream = "remotestream"
	// EventConnectionState fires with the webrtc.PeerConnectionState
	EventConnectionState = "connectionstate"
)

// ErrEngineClosed is returned by operations on a closed engine
var ErrEngineClosed = errors.New("media engine closed")

// EngineConfig holds configuration for the media engine
type EngineConfig struct {
	// ICEServers are STUN/TURN URIs
	ICEServers []string
	Logger     logrus.FieldLogger
}

// OfferOptions selects which media an offer or answer negotiates
type OfferOptions struct {
	Audio bool
	Video bool
}

// Engine manages the WebRTC peer connection of one plugin handle
type Engine struct {
	mu           sync.Mutex
	pc           *webrtc.PeerConnection
	log          logrus.FieldLogger
	emitter      *softphonesdk.EventEmitter
	remoteStream *Stream
	senders      map[*Track]*webrtc.RTPSender
	closed       bool
}

// NewEngine creates a PeerConnection with PCMU/PCMA and opus audio and VP8
// video, plus the default interceptors
func NewEngine(config EngineConfig) (*Engine, error) {
	log := config.Logger
	if log == nil {
		log = softphonesdk.NewLogger("media")
	}

	m := &webrtc.MediaEngine{}
	codecs := []struct {
		params webrtc.RTPCodecParameters
		kind   webrtc.RTPCodecType
	}{
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
			PayloadType:        111,
		}, webrtc.RTPCodecTypeAudio},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
			PayloadType:        0,
		}, webrtc.RTPCodecTypeAudio},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000},
			PayloadType:        8,
		}, webrtc.RTPCodecTypeAudio},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			PayloadType:        96,
		}, webrtc.RTPCodecTypeVideo},
	}
	for _, c := range codecs {
		if err := m.RegisterCodec(c.params, c.kind); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", c.params.MimeType, err)
		}
	}

	// SIP peers may send RTP before the answer is processed
	settings := webrtc.SettingEngine{}
	settings.SetHandleUndeclaredSSRCWithoutAnswer(true)

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(settings),
		webrtc.WithInterceptorRegistry(i),
	)

	pcConfig := webrtc.Configuration{}
	if len(config.ICEServers) > 0 {
		pcConfig.ICEServers = []webrtc.ICEServer{{URLs: config.ICEServers}}
	}

	pc, err := api.NewPeerConnection(pcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	engine := &Engine{
		pc:      pc,
		log:     log,
		emitter: softphonesdk.NewEventEmitter(),
		senders: make(map[*Track]*webrtc.RTPSender),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		engine.log.Debugf("PeerConnection state → %s", s.String())
		engine.emitter.Emit(EventConnectionState, s)
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		engine.log.Debugf("ICE connection state → %s", s.String())
	})
	pc.OnTrack(engine.onTrack)

	return engine, nil
}

func (e *Engine) onTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	e.log.WithFields(logrus.Fields{
		"codec": remote.Codec().MimeType,
		"ssrc":  uint32(remote.SSRC()),
		"kind":  remote.Kind().String(),
	}).Info("Remote track received")

	track := NewRemoteTrack(remote)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.remoteStream == nil {
		id := remote.StreamID()
		if id == "" {
			id = "remote"
		}
		e.remoteStream = NewStreamWithID(id)
	}
	stream := e.remoteStream
	e.mu.Unlock()

	stream.AddTrack(track)
	e.emitter.Emit(EventRemoteStream, stream)
}

// On subscribes to an engine event
func (e *Engine) On(event string, handler softphonesdk.EventHandler) func() {
	return e.emitter.On(event, handler)
}

// AddStream adds every live local track of the stream. Tracks added before
// a remote offer get their own sendrecv transceiver; after a remote offer
// they are paired with the transceivers it created.
func (e *Engine) AddStream(stream *Stream) error {
	if stream == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	answering := e.pc.RemoteDescription() != nil
	for _, t := range stream.Tracks() {
		if t.Local() == nil || !t.Live() {
			continue
		}
		if _, ok := e.senders[t]; ok {
			continue
		}

		var sender *webrtc.RTPSender
		if answering {
			s, err := e.pc.AddTrack(t.Local())
			if err != nil {
				return fmt.Errorf("failed to add %s track: %w", t.Kind(), err)
			}
			sender = s
		} else {
			tr, err := e.pc.AddTransceiverFromTrack(t.Local(),
				webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv},
			)
			if err != nil {
				return fmt.Errorf("failed to add %s transceiver: %w", t.Kind(), err)
			}
			sender = tr.Sender()
		}
		e.senders[t] = sender

		// RTCP must be drained for interceptors to run
		go func(s *webrtc.RTPSender) {
			buf := make([]byte, 1500)
			for {
				if _, _, err := s.Read(buf); err != nil {
					return
				}
			}
		}(sender)
	}
	return nil
}

// ensureReceivers adds recvonly transceivers for requested kinds that have
// no transceiver yet, so an offer without local video can still receive it
func (e *Engine) ensureReceivers(opts OfferOptions) error {
	have := map[webrtc.RTPCodecType]bool{}
	for _, tr := range e.pc.GetTransceivers() {
		have[tr.Kind()] = true
	}
	want := map[webrtc.RTPCodecType]bool{
		webrtc.RTPCodecTypeAudio: opts.Audio,
		webrtc.RTPCodecTypeVideo: opts.Video,
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if !want[kind] || have[kind] {
			continue
		}
		if _, err := e.pc.AddTransceiverFromKind(kind,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly},
		); err != nil {
			return fmt.Errorf("failed to add %s receiver: %w", kind.String(), err)
		}
	}
	return nil
}

// CreateOffer creates a local offer and returns it once ICE gathering has
// completed, so the SDP carries every candidate
func (e *Engine) CreateOffer(ctx context.Context, opts OfferOptions) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}
	if err := e.ensureReceivers(opts); err != nil {
		e.mu.Unlock()
		return "", err
	}

	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		e.mu.Unlock()
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(e.pc)
	if err := e.pc.SetLocalDescription(offer); err != nil {
		e.mu.Unlock()
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	e.mu.Unlock()

	return e.gathered(ctx, gatherComplete)
}

// CreateAnswer answers the remote offer already applied with SetRemoteDescription
func (e *Engine) CreateAnswer(ctx context.Context) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		e.mu.Unlock()
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(e.pc)
	if err := e.pc.SetLocalDescription(answer); err != nil {
		e.mu.Unlock()
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	e.mu.Unlock()

	return e.gathered(ctx, gatherComplete)
}

func (e *Engine) gathered(ctx context.Context, gatherComplete <-chan struct{}) (string, error) {
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrEngineClosed
	}
	localDesc := e.pc.LocalDescription()
	if localDesc == nil {
		return "", fmt.Errorf("local description is nil after gathering")
	}
	return localDesc.SDP, nil
}

// SetRemoteOffer applies a remote offer
func (e *Engine) SetRemoteOffer(sdp string) error {
	return e.setRemote(webrtc.SDPTypeOffer, sdp)
}

// SetRemoteAnswer applies the remote answer to a local offer
func (e *Engine) SetRemoteAnswer(sdp string) error {
	return e.setRemote(webrtc.SDPTypeAnswer, sdp)
}

func (e *Engine) setRemote(typ webrtc.SDPType, sdp string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return fmt.Errorf("failed to set remote %s: %w", typ.String(), err)
	}
	return nil
}

// SignalingState returns the PeerConnection signaling state
func (e *Engine) SignalingState() webrtc.SignalingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pc.SignalingState()
}

// ConnectionState returns the PeerConnection state
func (e *Engine) ConnectionState() webrtc.PeerConnectionState {
	return e.pc.ConnectionState()
}

// RemoteStream returns the stream remote tracks are collected in, nil until
// the first track arrives
func (e *Engine) RemoteStream() *Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteStream
}

// Close closes the PeerConnection and ends every remote track. Local tracks
// belong to whoever captured them and are left running.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	remote := e.remoteStream
	e.senders = make(map[*Track]*webrtc.RTPSender)
	e.mu.Unlock()

	err := e.pc.Close()
	if remote != nil {
		remote.Stop()
	}
	if err != nil {
		return fmt.Errorf("failed to close peer connection: %w", err)
	}
	return nil
}
