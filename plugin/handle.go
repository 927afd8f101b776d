/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tejzpr/janus-sip-go-sdk/janus"
	"github.com/tejzpr/janus-sip-go-sdk/media"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// Negotiation states of the handle's offer/answer exchange
const (
	negotiationStable          = "stable"
	negotiationHaveLocalOffer  = "have-local-offer"
	negotiationHaveRemoteOffer = "have-remote-offer"
)

// maxTracked bounds how many sent transactions are remembered for matching
// plugin events to the request that caused them
const maxTracked = 32

// decodeFunc turns a raw plugin event into an Event
type decodeFunc func(msg *janus.Message) (*Event, error)

// handle is the plugin-independent part of every variant. It owns the
// PeerConnection and enforces offer/answer ordering.
type handle struct {
	kind       string
	h          *janus.Handle
	iceServers []string
	log        logrus.FieldLogger
	emitter    *softphonesdk.EventEmitter
	decode     decodeFunc

	mu          sync.Mutex
	engine      *media.Engine
	engineOff   func()
	local       *media.Stream
	negotiation string
	unsubs      []func()

	// sent maps transactions to request names, oldest first in order
	sent  map[string]string
	order deque.Deque
}

func newHandle(kind string, h *janus.Handle, iceServers []string, log logrus.FieldLogger, decode decodeFunc) *handle {
	b := &handle{
		kind:        kind,
		h:           h,
		iceServers:  append([]string(nil), iceServers...),
		log:         log.WithField("handle", h.ID()),
		emitter:     softphonesdk.NewEventEmitter(),
		decode:      decode,
		negotiation: negotiationStable,
		sent:        make(map[string]string),
	}

	b.unsubs = append(b.unsubs,
		h.On(janus.TypeEvent, b.onEvent),
		h.On(janus.TypeHangup, b.onMediaHangup),
		h.On(janus.TypeDetached, b.onDetached),
		h.On(janus.TypeWebRTCUp, func(*janus.Message) {
			b.log.Info("PeerConnection is up")
			b.emitter.Emit(EventWebRTCUp, nil)
		}),
		h.On(janus.TypeMedia, func(msg *janus.Message) {
			b.emitter.Emit(EventMedia, msg)
		}),
		h.On(janus.TypeSlowLink, func(msg *janus.Message) {
			b.log.WithField("uplink", msg.Uplink != nil && *msg.Uplink).Warn("Gateway reports a slow link")
		}),
	)
	return b
}

func (b *handle) Kind() string { return b.kind }

func (b *handle) HandleID() uint64 { return b.h.ID() }

// IsDetached reports whether the handle is no longer usable
func (b *handle) IsDetached() bool { return b.h.IsDetached() }

func (b *handle) Subscribe(event string, handler softphonesdk.EventHandler) func() {
	return b.emitter.On(event, handler)
}

// Send transmits a plugin request and maps failures to SignalingError
func (b *handle) Send(ctx context.Context, body map[string]interface{}, jsep *janus.JSEP) error {
	request, _ := body["request"].(string)
	if request == "" {
		request = b.kind
	}

	tx := uuid.NewString()
	b.track(tx, request)
	if _, err := b.h.MessageTx(ctx, tx, body, jsep); err != nil {
		code, reason := 0, err.Error()
		var gwErr *softphonesdk.GatewayError
		if errors.As(err, &gwErr) {
			code, reason = gwErr.Code, gwErr.Reason
		}
		b.log.WithFields(logrus.Fields{"request": request, "code": code}).Errorf("Plugin request failed: %v", err)
		return softphonesdk.NewSignalingError(request, code, reason, err)
	}
	return nil
}

// track remembers which request went out under tx
func (b *handle) track(tx, request string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent[tx] = request
	b.order.PushBack(tx)
	for b.order.Len() > maxTracked {
		delete(b.sent, b.order.PopFront().(string))
	}
}

// requestFor returns the request sent under tx, or "" if unknown
func (b *handle) requestFor(tx string) string {
	if tx == "" {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent[tx]
}

// ensureEngineLocked creates the PeerConnection on first use
func (b *handle) ensureEngineLocked() (*media.Engine, error) {
	if b.engine != nil {
		return b.engine, nil
	}
	engine, err := media.NewEngine(media.EngineConfig{ICEServers: b.iceServers, Logger: b.log})
	if err != nil {
		return nil, err
	}
	b.engine = engine
	b.engineOff = engine.On(media.EventRemoteStream, func(data interface{}) {
		b.emitter.Emit(EventRemoteStream, data)
	})
	return engine, nil
}

func (b *handle) CreateOffer(ctx context.Context, local *media.Stream, video bool) (*janus.JSEP, error) {
	b.mu.Lock()
	if b.negotiation == negotiationHaveRemoteOffer {
		state := b.negotiation
		b.mu.Unlock()
		return nil, softphonesdk.NewOfferCreationError("createOffer",
			fmt.Errorf("a remote offer is pending (state %s)", state))
	}
	engine, err := b.ensureEngineLocked()
	if err == nil {
		err = engine.AddStream(local)
	}
	if err != nil {
		b.mu.Unlock()
		return nil, softphonesdk.NewOfferCreationError("createOffer", err)
	}
	b.local = local
	b.mu.Unlock()

	if local != nil {
		b.emitter.Emit(EventLocalStream, local)
	}

	sdp, err := engine.CreateOffer(ctx, media.OfferOptions{Audio: true, Video: video})
	if err != nil {
		return nil, softphonesdk.NewOfferCreationError("createOffer", err)
	}

	b.mu.Lock()
	b.negotiation = negotiationHaveLocalOffer
	b.mu.Unlock()

	b.log.WithField("video", video).Debug("Local offer created")
	return janus.Offer(sdp), nil
}

func (b *handle) CreateAnswer(ctx context.Context, local *media.Stream, video bool) (*janus.JSEP, error) {
	b.mu.Lock()
	if b.negotiation != negotiationHaveRemoteOffer || b.engine == nil {
		state := b.negotiation
		b.mu.Unlock()
		return nil, softphonesdk.NewOfferCreationError("createAnswer",
			fmt.Errorf("no remote offer to answer (state %s)", state))
	}
	engine := b.engine
	if err := engine.AddStream(local); err != nil {
		b.mu.Unlock()
		return nil, softphonesdk.NewOfferCreationError("createAnswer", err)
	}
	b.local = local
	b.mu.Unlock()

	if local != nil {
		b.emitter.Emit(EventLocalStream, local)
	}

	sdp, err := engine.CreateAnswer(ctx)
	if err != nil {
		return nil, softphonesdk.NewOfferCreationError("createAnswer", err)
	}

	b.mu.Lock()
	b.negotiation = negotiationStable
	b.mu.Unlock()

	b.log.WithField("video", video).Debug("Local answer created")
	return janus.Answer(sdp), nil
}

// HandleRemoteJsep applies inbound SDP. An answer is only valid while a
// local offer is outstanding and an offer only while none is.
func (b *handle) HandleRemoteJsep(ctx context.Context, jsep *janus.JSEP) error {
	if jsep == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch jsep.Type {
	case "offer":
		if b.negotiation == negotiationHaveLocalOffer {
			return softphonesdk.NewUnexpectedJsepError(jsep.Type, b.negotiation)
		}
		engine, err := b.ensureEngineLocked()
		if err != nil {
			return fmt.Errorf("failed to prepare media for remote offer: %w", err)
		}
		if err := engine.SetRemoteOffer(jsep.SDP); err != nil {
			return err
		}
		b.negotiation = negotiationHaveRemoteOffer
	case "answer":
		if b.negotiation != negotiationHaveLocalOffer || b.engine == nil {
			return softphonesdk.NewUnexpectedJsepError(jsep.Type, b.negotiation)
		}
		if err := b.engine.SetRemoteAnswer(jsep.SDP); err != nil {
			return err
		}
		b.negotiation = negotiationStable
	default:
		return softphonesdk.NewUnexpectedJsepError(jsep.Type, b.negotiation)
	}
	return nil
}

// HangupMedia closes the local PeerConnection and asks the gateway to close
// its side
func (b *handle) HangupMedia(ctx context.Context) error {
	b.closeMedia("local hangup")
	if b.h.IsDetached() {
		return nil
	}
	if err := b.h.Hangup(ctx); err != nil {
		return fmt.Errorf("failed to hang up media: %w", err)
	}
	return nil
}

// closeMedia closes the engine and emits cleanup if one was open
func (b *handle) closeMedia(reason string) {
	b.mu.Lock()
	engine := b.engine
	off := b.engineOff
	b.engine = nil
	b.engineOff = nil
	b.local = nil
	b.negotiation = negotiationStable
	b.mu.Unlock()

	if engine == nil {
		return
	}
	if off != nil {
		off()
	}
	if err := engine.Close(); err != nil {
		b.log.Warnf("Closing PeerConnection failed: %v", err)
	}
	b.log.WithField("reason", reason).Debug("PeerConnection closed")
	b.emitter.Emit(EventCleanup, reason)
}

// LocalStream returns the stream added by the last offer or answer
func (b *handle) LocalStream() *media.Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.local
}

// RemoteStream returns the stream remote tracks are collected in
func (b *handle) RemoteStream() *media.Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engine == nil {
		return nil
	}
	return b.engine.RemoteStream()
}

func (b *handle) Detach(ctx context.Context) error {
	b.closeMedia("detach")
	return b.h.Detach(ctx)
}

func (b *handle) onEvent(msg *janus.Message) {
	ev, err := b.decode(msg)
	if err != nil {
		b.log.Warnf("Ignoring undecodable plugin event: %v", err)
		return
	}
	if ev == nil {
		return
	}
	ev.Transaction = msg.Transaction
	ev.Request = b.requestFor(msg.Transaction)
	b.log.WithFields(logrus.Fields{"event": ev.Name, "request": ev.Request, "jsep": ev.JSEP != nil}).Debug("Plugin event")
	b.emitter.Emit(EventMessage, ev)
}

func (b *handle) onMediaHangup(msg *janus.Message) {
	b.closeMedia(msg.Reason)
}

func (b *handle) onDetached(*janus.Message) {
	b.closeMedia("detached")

	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()
	for _, off := range unsubs {
		off()
	}
	b.emitter.Emit(EventDetached, nil)
}
