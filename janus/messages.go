/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janus

import "encoding/json"

// Janus message discriminators ("janus" field)
const (
	TypeCreate    = "create"
	TypeAttach    = "attach"
	TypeMessage   = "message"
	TypeTrickle   = "trickle"
	TypeHangup    = "hangup"
	TypeDetach    = "detach"
	TypeDestroy   = "destroy"
	TypeKeepalive = "keepalive"

	TypeSuccess   = "success"
	TypeError     = "error"
	TypeAck       = "ack"
	TypeEvent     = "event"
	TypeWebRTCUp  = "webrtcup"
	TypeMedia     = "media"
	TypeSlowLink  = "slowlink"
	TypeDetached  = "detached"
	TypeTimeout   = "timeout"
	TypeServerErr = "server_error"
)

// Subprotocol is the websocket subprotocol spoken by the Janus gateway
const Subprotocol = "janus-protocol"

// JSEP is an SDP payload attached to a plugin message
type JSEP struct {
	Type    string `json:"type"`
	SDP     string `json:"sdp"`
	Trickle *bool  `json:"trickle,omitempty"`
}

// Offer returns a non-trickle JSEP offer
func Offer(sdp string) *JSEP {
	noTrickle := false
	return &JSEP{Type: "offer", SDP: sdp, Trickle: &noTrickle}
}

// Answer returns a non-trickle JSEP answer
func Answer(sdp string) *JSEP {
	noTrickle := false
	return &JSEP{Type: "answer", SDP: sdp, Trickle: &noTrickle}
}

// IDData is the data payload of create/attach success replies
type IDData struct {
	ID uint64 `json:"id"`
}

// PluginData carries a plugin's response or event payload
type PluginData struct {
	Plugin string          `json:"plugin"`
	Data   json.RawMessage `json:"data"`
}

// ErrorInfo is the payload of a janus "error" reply
type ErrorInfo struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// Message is a single frame exchanged with the gateway, in either direction
type Message struct {
	Janus       string `json:"janus"`
	Transaction string `json:"transaction,omitempty"`
	SessionID   uint64 `json:"session_id,omitempty"`
	HandleID    uint64 `json:"handle_id,omitempty"`
	Sender      uint64 `json:"sender,omitempty"`

	// Requests
	Plugin    string      `json:"plugin,omitempty"`
	Body      interface{} `json:"body,omitempty"`
	APISecret string      `json:"apisecret,omitempty"`
	Token     string      `json:"token,omitempty"`

	// Both directions
	JSEP *JSEP `json:"jsep,omitempty"`

	// Replies and events
	Data       *IDData     `json:"data,omitempty"`
	PluginData *PluginData `json:"plugindata,omitempty"`
	Error      *ErrorInfo  `json:"error,omitempty"`

	// media / slowlink / hangup details
	Type      string `json:"type,omitempty"`
	Receiving *bool  `json:"receiving,omitempty"`
	Uplink    *bool  `json:"uplink,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
