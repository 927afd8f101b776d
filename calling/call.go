/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package calling runs the single-call state machine on top of a CallPlugin.
package calling

import (
	"context"
	"sync"
	"time"

	"github.com/tejzpr/janus-sip-go-sdk/janus"
	"github.com/tejzpr/janus-sip-go-sdk/media"
)

// State is the call state
type State string

const (
	StateIdle     State = "idle"
	StateOutgoing State = "outgoing"
	StateIncoming State = "incoming"
	StateActive   State = "active"
	StateEnded    State = "ended"
)

// Direction of a call
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Events published by the Manager
const (
	// EventIncomingCall carries a Call waiting for AcceptCall or Decline
	EventIncomingCall = "incoming_call"
	// EventState carries a StateChange
	EventState = "state"
	// EventSent carries a Call once its call or accept request went out
	EventSent = "sent"
	// EventConnected carries a Call that became active
	EventConnected = "connected"
	// EventEnded carries the final Call snapshot
	EventEnded = "ended"
	// EventError carries a *CallError
	EventError = "error"
	// EventRemoteStream carries the remote *media.Stream
	EventRemoteStream = "remote_stream"
)

// End reasons recorded on a Call
const (
	ReasonLocalHangup  = "local_hangup"
	ReasonRemoteHangup = "remote_hangup"
	ReasonDeclined     = "declined"
	ReasonCancelled    = "cancelled"
	ReasonFailed       = "failed"
)

// Call is a snapshot of one call attempt
type Call struct {
	ID        string
	Direction Direction
	// Peer is the dialed URI or the caller's URI
	Peer          string
	DisplayName   string
	GatewayCallID string
	Video         bool
	Muted         bool
	State         State

	Offer  string
	Answer string

	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time

	EndReason string
	EndCode   int
	Err       error
}

// Duration is how long the call was connected
func (c Call) Duration() time.Duration {
	if c.ConnectedAt.IsZero() {
		return 0
	}
	end := c.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(c.ConnectedAt)
}

// StateChange describes one transition
type StateChange struct {
	From State
	To   State
	Call Call
}

// CallError reports a failure that ended or disturbed a call
type CallError struct {
	Call Call
	Err  error
}

func (e *CallError) Error() string {
	return "call " + e.Call.ID + ": " + e.Err.Error()
}

func (e *CallError) Unwrap() error { return e.Err }

// session is the live state behind a Call
type session struct {
	mu   sync.Mutex
	call Call

	ctx    context.Context
	cancel context.CancelFunc

	local  *media.Stream
	remote *media.Stream
	// offer is the pending remote offer of an incoming call
	offer *janus.JSEP

	accepting bool
	hangingUp bool
	sentOnce  sync.Once
	ended     bool
	// done is closed once the call has transitioned to ended
	done     chan struct{}
	cooldown *time.Timer
}

func (s *session) snapshot() Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

func (s *session) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// isCancelled reports whether the call ended or a hangup is under way
func (s *session) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended || s.hangingUp
}
