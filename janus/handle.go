/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janus

import (
	"context"
	"fmt"
	"sync"

	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// EventHandler handles a gateway frame routed to a handle
type EventHandler func(msg *Message)

// Handle is a plugin handle attached to the gateway session. Events are
// routed to it by sender id and re-emitted under their janus type
// (TypeEvent, TypeWebRTCUp, TypeMedia, TypeSlowLink, TypeHangup, TypeDetached).
type Handle struct {
	client  *Client
	id      uint64
	plugin  string
	emitter *softphonesdk.EventEmitter

	mu       sync.Mutex
	detached bool
}

func newHandle(client *Client, id uint64, plugin string) *Handle {
	return &Handle{
		client:  client,
		id:      id,
		plugin:  plugin,
		emitter: softphonesdk.NewEventEmitter(),
	}
}

// ID returns the gateway handle id
func (h *Handle) ID() uint64 {
	return h.id
}

// Plugin returns the plugin package name (e.g. janus.plugin.sip)
func (h *Handle) Plugin() string {
	return h.plugin
}

// IsDetached reports whether the handle has been detached or lost with its session
func (h *Handle) IsDetached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detached
}

// On registers a handler for frames of the given janus type
func (h *Handle) On(janusType string, handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}
	return h.emitter.On(janusType, func(data interface{}) {
		if msg, ok := data.(*Message); ok {
			handler(msg)
		}
	})
}

// Message sends a plugin message with an optional JSEP and waits for the
// gateway to acknowledge it. A synchronous plugin reply (success with
// plugindata) is also emitted as a TypeEvent so listeners see it.
func (h *Handle) Message(ctx context.Context, body interface{}, jsep *JSEP) (*Message, error) {
	return h.MessageTx(ctx, "", body, jsep)
}

// MessageTx is Message with a caller-chosen transaction, so that plugin
// events answering the request can be matched before the reply arrives. An
// empty transaction gets a generated one.
func (h *Handle) MessageTx(ctx context.Context, transaction string, body interface{}, jsep *JSEP) (*Message, error) {
	if h.IsDetached() {
		return nil, fmt.Errorf("handle %d: %w", h.id, softphonesdk.ErrSessionClosed)
	}

	reply, err := h.client.request(ctx, &Message{
		Janus: TypeMessage, HandleID: h.id, Transaction: transaction, Body: body, JSEP: jsep,
	})
	if err != nil {
		return nil, err
	}

	if reply.Janus == TypeSuccess && reply.PluginData != nil {
		event := *reply
		event.Janus = TypeEvent
		event.Sender = h.id
		h.dispatch(&event)
	}
	return reply, nil
}

// Hangup asks the gateway to tear down the handle's PeerConnection
func (h *Handle) Hangup(ctx context.Context) error {
	if h.IsDetached() {
		return nil
	}
	_, err := h.client.request(ctx, &Message{Janus: TypeHangup, HandleID: h.id})
	return err
}

// Detach detaches the handle from the session. Local listeners always see a
// TypeDetached event, even when the request itself fails.
func (h *Handle) Detach(ctx context.Context) error {
	h.mu.Lock()
	if h.detached {
		h.mu.Unlock()
		return nil
	}
	h.detached = true
	h.mu.Unlock()

	_, err := h.client.request(ctx, &Message{Janus: TypeDetach, HandleID: h.id})
	h.client.removeHandle(h.id)
	h.emitter.Emit(TypeDetached, &Message{Janus: TypeDetached, Sender: h.id})
	return err
}

// dispatch re-emits a routed frame to listeners
func (h *Handle) dispatch(msg *Message) {
	if msg.Janus == TypeDetached {
		h.mu.Lock()
		already := h.detached
		h.detached = true
		h.mu.Unlock()
		h.client.removeHandle(h.id)
		if already {
			return
		}
	}
	h.emitter.Emit(msg.Janus, msg)
}

// sessionClosed marks the handle dead after its session went away
func (h *Handle) sessionClosed() {
	h.mu.Lock()
	if h.detached {
		h.mu.Unlock()
		return
	}
	h.detached = true
	h.mu.Unlock()
	h.emitter.Emit(TypeDetached, &Message{Janus: TypeDetached, Sender: h.id, Reason: "session closed"})
}
