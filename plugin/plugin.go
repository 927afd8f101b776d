/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package plugin attaches call-capable plugin handles to a gateway session
// and exposes them through the CallPlugin interface.
package plugin

import (
	"context"
	"encoding/json"

	"github.com/tejzpr/janus-sip-go-sdk/janus"
	"github.com/tejzpr/janus-sip-go-sdk/media"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// Plugin package names on the gateway
const (
	SIPPackage      = "janus.plugin.sip"
	EchoTestPackage = "janus.plugin.echotest"
)

// Events published through CallPlugin.Subscribe
const (
	// EventMessage carries a decoded *Event for every plugin message
	EventMessage = "message"
	// EventLocalStream carries the *media.Stream added to the PeerConnection
	EventLocalStream = "localstream"
	// EventRemoteStream carries the remote *media.Stream as tracks arrive
	EventRemoteStream = "remotestream"
	// EventCleanup fires after the PeerConnection was closed
	EventCleanup = "cleanup"
	// EventWebRTCUp fires when the gateway reports the PeerConnection up
	EventWebRTCUp = "webrtcup"
	// EventMedia carries a *janus.Message about media starting or stopping
	EventMedia = "media"
	// EventDetached fires once the handle is gone
	EventDetached = "detached"
)

// Signal names carried in Event.Name. The SIP plugin uses these names on the
// wire; other variants translate their own results into them.
const (
	SignalRegistering        = "registering"
	SignalRegistered         = "registered"
	SignalRegistrationFailed = "registration_failed"
	SignalUnregistering      = "unregistering"
	SignalUnregistered       = "unregistered"
	SignalCalling            = "calling"
	SignalIncomingCall       = "incomingcall"
	SignalRinging            = "ringing"
	SignalProgress           = "progress"
	SignalAccepted           = "accepted"
	SignalUpdatingCall       = "updatingcall"
	SignalHangingUp          = "hangingup"
	SignalHangup             = "hangup"
	SignalDeclining          = "declining"
	SignalInfo               = "info"
	// SignalError is a plugin-level error (error_code in the payload)
	SignalError = "error"
)

// Plugin error codes worth acting on
const (
	ErrorCodeAlreadyRegistered = 445
	ErrorCodeInvalidAddress    = 446
	ErrorCodeUnknown           = 499
)

// Event is one decoded plugin message
type Event struct {
	Plugin string
	Name   string
	// Transaction is the gateway transaction the event answers, empty for
	// unsolicited events
	Transaction string
	// Request names the plugin request sent under Transaction, when this
	// handle sent it
	Request     string
	Code        int
	Reason      string
	Username    string
	DisplayName string
	CallID      string
	JSEP        *janus.JSEP
	Raw         json.RawMessage
}

// Answers reports whether the event answers one of the named requests
func (e *Event) Answers(requests ...string) bool {
	for _, r := range requests {
		if e.Request == r {
			return true
		}
	}
	return false
}

// HasOffer reports whether the event carries a remote offer
func (e *Event) HasOffer() bool {
	return e.JSEP != nil && e.JSEP.Type == "offer"
}

// HasAnswer reports whether the event carries a remote answer
func (e *Event) HasAnswer() bool {
	return e.JSEP != nil && e.JSEP.Type == "answer"
}

// CallPlugin is the capability every call-capable plugin variant provides
type CallPlugin interface {
	// Kind is the configured variant name (softphonesdk.PluginSIP, ...)
	Kind() string
	HandleID() uint64

	// Send transmits a raw plugin request; failures are *softphonesdk.SignalingError
	Send(ctx context.Context, body map[string]interface{}, jsep *janus.JSEP) error
	// CreateOffer adds local media and returns a complete, non-trickle offer
	CreateOffer(ctx context.Context, local *media.Stream, video bool) (*janus.JSEP, error)
	// CreateAnswer answers the remote offer applied through HandleRemoteJsep
	CreateAnswer(ctx context.Context, local *media.Stream, video bool) (*janus.JSEP, error)
	// HandleRemoteJsep applies inbound SDP; it must see every payload in order
	HandleRemoteJsep(ctx context.Context, jsep *janus.JSEP) error
	// HangupMedia closes the PeerConnection and resets negotiation
	HangupMedia(ctx context.Context) error
	Subscribe(event string, handler softphonesdk.EventHandler) func()
	Detach(ctx context.Context) error

	Call(ctx context.Context, uri string, video bool, offer *janus.JSEP) error
	Accept(ctx context.Context, answer *janus.JSEP) error
	Decline(ctx context.Context, code int) error
	Hangup(ctx context.Context) error
	SendDTMF(ctx context.Context, digit string) error
	// Update answers a mid-call offer
	Update(ctx context.Context, answer *janus.JSEP) error
}

// RegisterRequest is the payload of a SIP register request
type RegisterRequest struct {
	Username    string
	Secret      string
	Proxy       string
	AuthUser    string
	DisplayName string
	Expires     int
	Refresh     bool
}

// Registrar is implemented by plugin variants that can bind a SIP identity
type Registrar interface {
	Register(ctx context.Context, req RegisterRequest) error
	Unregister(ctx context.Context) error
}
