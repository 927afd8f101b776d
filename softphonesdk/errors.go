/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package softphonesdk

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors returned by the managers
var (
	ErrNotConnected   = errors.New("gateway session is not connected")
	ErrSessionClosed  = errors.New("gateway session closed")
	ErrRequestTimeout = errors.New("gateway request timed out")
	ErrNotRegistered  = errors.New("not registered")
	ErrSuperseded     = errors.New("registration superseded by a newer request")
	ErrCallInProgress = errors.New("another call is in progress")
	ErrNoActiveCall   = errors.New("no active call")
	ErrNoIncomingCall = errors.New("no incoming call to accept")
	ErrCallCancelled  = errors.New("call was ended before setup completed")
)

// SoftphoneError is the base error type for all structured SDK errors.
// Every specific error sub-type embeds this struct, so consumers can use
// errors.As(err, &base) to reach the operation and cause regardless of
// the specific type.
type SoftphoneError struct {
	// Op is the operation that failed (e.g. "register", "call", "attach").
	Op string

	// Message is the human readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *SoftphoneError) Error() string {
	msg := e.Op + ": " + e.Message
	if e.Op == "" {
		msg = e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error, if any.
func (e *SoftphoneError) Unwrap() error {
	return e.Err
}

// --- Specific error sub-types ---

// ConnectionError is returned when the gateway session could not be
// established within the retry budget.
type ConnectionError struct {
	*SoftphoneError
	URL      string
	Attempts int
}

// Unwrap returns the underlying SoftphoneError for errors.As traversal.
func (e *ConnectionError) Unwrap() error { return e.SoftphoneError }

// NewConnectionError builds a ConnectionError for a failed connect.
func NewConnectionError(url string, attempts int, err error) *ConnectionError {
	return &ConnectionError{
		SoftphoneError: &SoftphoneError{
			Op:      "connect",
			Message: fmt.Sprintf("could not reach gateway %s after %d attempts", url, attempts),
			Err:     err,
		},
		URL:      url,
		Attempts: attempts,
	}
}

// AttachError is returned when a plugin handle could not be attached.
type AttachError struct {
	*SoftphoneError
	Plugin string
}

// Unwrap returns the underlying SoftphoneError for errors.As traversal.
func (e *AttachError) Unwrap() error { return e.SoftphoneError }

// NewAttachError builds an AttachError for the given plugin package name.
func NewAttachError(plugin string, err error) *AttachError {
	return &AttachError{
		SoftphoneError: &SoftphoneError{Op: "attach", Message: "failed to attach " + plugin, Err: err},
		Plugin:         plugin,
	}
}

// GatewayError is a Janus-level error reply (janus: "error").
type GatewayError struct {
	*SoftphoneError
	Code   int
	Reason string
}

// Unwrap returns the underlying SoftphoneError for errors.As traversal.
func (e *GatewayError) Unwrap() error { return e.SoftphoneError }

// NewGatewayError builds a GatewayError from a Janus error reply.
func NewGatewayError(op string, code int, reason string) *GatewayError {
	return &GatewayError{
		SoftphoneError: &SoftphoneError{Op: op, Message: fmt.Sprintf("gateway error %d: %s", code, reason)},
		Code:           code,
		Reason:         reason,
	}
}

// SignalingError is a send/receive failure at the plugin layer. Reason
// carries the raw failure text reported by the gateway or plugin.
type SignalingError struct {
	*SoftphoneError
	Request string
	Code    int
	Reason  string
}

// Unwrap returns the underlying SoftphoneError for errors.As traversal.
func (e *SignalingError) Unwrap() error { return e.SoftphoneError }

// NewSignalingError builds a SignalingError for a plugin request.
func NewSignalingError(request string, code int, reason string, err error) *SignalingError {
	msg := fmt.Sprintf("%s request failed", request)
	if reason != "" {
		msg += " (" + reason + ")"
	}
	return &SignalingError{
		SoftphoneError: &SoftphoneError{Op: request, Message: msg, Err: err},
		Request:        request,
		Code:           code,
		Reason:         reason,
	}
}

// RegistrationErrorKind classifies a registration failure.
type RegistrationErrorKind string

const (
	RegistrationAuthFailed             RegistrationErrorKind = "auth_failed"
	RegistrationForbidden              RegistrationErrorKind = "forbidden"
	RegistrationNotFound               RegistrationErrorKind = "not_found"
	RegistrationRequestTimeout         RegistrationErrorKind = "request_timeout"
	RegistrationIntervalTooBrief       RegistrationErrorKind = "interval_too_brief"
	RegistrationMalformedIdentity      RegistrationErrorKind = "malformed_identity"
	RegistrationTemporarilyUnavailable RegistrationErrorKind = "temporarily_unavailable"
	RegistrationServerNotReady         RegistrationErrorKind = "server_not_ready"
	RegistrationAlreadyRegistered      RegistrationErrorKind = "already_registered"
	RegistrationGeneric                RegistrationErrorKind = "generic"
)

var registrationMessages = map[RegistrationErrorKind]string{
	RegistrationAuthFailed:             "Authentication failed: check the username and password",
	RegistrationForbidden:              "Registration forbidden: this account may not register from here",
	RegistrationNotFound:               "Account not found on the SIP server",
	RegistrationRequestTimeout:         "The SIP server did not respond in time",
	RegistrationIntervalTooBrief:       "The registration interval is too short for this server",
	RegistrationMalformedIdentity:      "The SIP identity is malformed",
	RegistrationTemporarilyUnavailable: "The account is temporarily unavailable",
	RegistrationServerNotReady:         "The SIP gateway is not ready yet, try again shortly",
	RegistrationAlreadyRegistered:      "This handle is already registered",
	RegistrationGeneric:                "Registration failed",
}

// RegistrationError is a registration failure mapped from a SIP response
// code or a plugin error code.
type RegistrationError struct {
	*SoftphoneError
	Kind   RegistrationErrorKind
	Code   int
	Reason string
}

// Unwrap returns the underlying SoftphoneError for errors.As traversal.
func (e *RegistrationError) Unwrap() error { return e.SoftphoneError }

// HumanMessage returns the user-facing description of the failure.
func (e *RegistrationError) HumanMessage() string {
	return registrationMessages[e.Kind]
}

// ClassifyRegistrationFailure maps a SIP response code or plugin error code,
// plus the reason text, to a RegistrationErrorKind.
func ClassifyRegistrationFailure(code int, reason string) RegistrationErrorKind {
	lower := strings.ToLower(reason)
	if strings.Contains(lower, "sofia stack") || strings.Contains(lower, "missing session") {
		return RegistrationServerNotReady
	}
	if strings.Contains(lower, "already registered") {
		return RegistrationAlreadyRegistered
	}
	switch code {
	case 401, 407:
		return RegistrationAuthFailed
	case 403:
		return RegistrationForbidden
	case 404:
		return RegistrationNotFound
	case 408, 504:
		return RegistrationRequestTimeout
	case 423:
		return RegistrationIntervalTooBrief
	case 445:
		return RegistrationAlreadyRegistered
	case 446:
		return RegistrationMalformedIdentity
	case 480:
		return RegistrationTemporarilyUnavailable
	case 499:
		return RegistrationServerNotReady
	default:
		return RegistrationGeneric
	}
}

// NewRegistrationError creates a RegistrationError with the kind derived
// from code and reason.
func NewRegistrationError(code int, reason string) *RegistrationError {
	kind := ClassifyRegistrationFailure(code, reason)
	msg := registrationMessages[kind]
	switch {
	case code != 0 && reason != "":
		msg = fmt.Sprintf("%s (%d %s)", msg, code, reason)
	case code != 0:
		msg = fmt.Sprintf("%s (%d)", msg, code)
	case reason != "":
		msg = fmt.Sprintf("%s (%s)", msg, reason)
	}
	return &RegistrationError{
		SoftphoneError: &SoftphoneError{Op: "register", Message: msg},
		Kind:           kind,
		Code:           code,
		Reason:         reason,
	}
}

// RegistrationTimeout is returned when no registration outcome arrives
// within the configured window.
type RegistrationTimeout struct {
	*SoftphoneError
	After time.Duration
}

// Unwrap returns the underlying SoftphoneError for errors.As traversal.
func (e *RegistrationTimeout) Unwrap() error { return e.SoftphoneError }

// NewRegistrationTimeout builds a RegistrationTimeout for the given window.
func NewRegistrationTimeout(identity string, after time.Duration) *RegistrationTimeout {
	return &RegistrationTimeout{
		SoftphoneError: &SoftphoneError{
			Op:      "register",
			Message: fmt.Sprintf("no registration response for %s within %v", identity, after),
		},
		After: after,
	}
}

// MediaAcquisitionError is returned when local capture fails.
type MediaAcquisitionError struct {
	*SoftphoneError
}

// Unwrap returns the underlying SoftphoneError for errors.As traversal.
func (e *MediaAcquisitionError) Unwrap() error { return e.SoftphoneError }

// NewMediaAcquisitionError wraps a capture failure.
func NewMediaAcquisitionError(op string, err error) *MediaAcquisitionError {
	return &MediaAcquisitionError{
		SoftphoneError: &SoftphoneError{Op: op, Message: "could not acquire local media", Err: err},
	}
}

// OfferCreationError is returned when an SDP offer or answer cannot be produced.
type OfferCreationError struct {
	*SoftphoneError
}

// Unwrap returns the underlying SoftphoneError for errors.As traversal.
func (e *OfferCreationError) Unwrap() error { return e.SoftphoneError }

// NewOfferCreationError wraps an SDP creation failure.
func NewOfferCreationError(op string, err error) *OfferCreationError {
	return &OfferCreationError{
		SoftphoneError: &SoftphoneError{Op: op, Message: "could not create session description", Err: err},
	}
}

// UnexpectedJsepError is returned when remote SDP arrives out of sequence.
type UnexpectedJsepError struct {
	*SoftphoneError
	Type  string
	State string
}

// Unwrap returns the underlying SoftphoneError for errors.As traversal.
func (e *UnexpectedJsepError) Unwrap() error { return e.SoftphoneError }

// NewUnexpectedJsepError describes a remote description of jsepType received
// while the negotiation was in state.
func NewUnexpectedJsepError(jsepType, state string) *UnexpectedJsepError {
	return &UnexpectedJsepError{
		SoftphoneError: &SoftphoneError{
			Op:      "jsep",
			Message: fmt.Sprintf("unexpected remote %s in negotiation state %s", jsepType, state),
		},
		Type:  jsepType,
		State: state,
	}
}

// InvalidDtmfError is returned for a digit outside 0-9, * and #.
type InvalidDtmfError struct {
	*SoftphoneError
	Digit string
}

// Unwrap returns the underlying SoftphoneError for errors.As traversal.
func (e *InvalidDtmfError) Unwrap() error { return e.SoftphoneError }

// NewInvalidDtmfError builds an InvalidDtmfError for digit.
func NewInvalidDtmfError(digit string) *InvalidDtmfError {
	return &InvalidDtmfError{
		SoftphoneError: &SoftphoneError{Op: "dtmf", Message: fmt.Sprintf("invalid DTMF digit %q", digit)},
		Digit:          digit,
	}
}

// --- Convenience functions ---

// IsConnectionError reports whether err is a ConnectionError.
func IsConnectionError(err error) bool {
	var e *ConnectionError
	return errors.As(err, &e)
}

// IsAttachError reports whether err is an AttachError.
func IsAttachError(err error) bool {
	var e *AttachError
	return errors.As(err, &e)
}

// IsSignalingError reports whether err is a SignalingError.
func IsSignalingError(err error) bool {
	var e *SignalingError
	return errors.As(err, &e)
}

// IsRegistrationError reports whether err is a RegistrationError.
func IsRegistrationError(err error) bool {
	var e *RegistrationError
	return errors.As(err, &e)
}

// IsRegistrationTimeout reports whether err is timeout-classed: either the
// client-side RegistrationTimeout or a 408/504 from the registrar.
func IsRegistrationTimeout(err error) bool {
	var t *RegistrationTimeout
	if errors.As(err, &t) {
		return true
	}
	var r *RegistrationError
	return errors.As(err, &r) && r.Kind == RegistrationRequestTimeout
}

// IsMediaAcquisitionError reports whether err is a MediaAcquisitionError.
func IsMediaAcquisitionError(err error) bool {
	var e *MediaAcquisitionError
	return errors.As(err, &e)
}

// IsOfferCreationError reports whether err is an OfferCreationError.
func IsOfferCreationError(err error) bool {
	var e *OfferCreationError
	return errors.As(err, &e)
}

// IsUnexpectedJsep reports whether err is an UnexpectedJsepError.
func IsUnexpectedJsep(err error) bool {
	var e *UnexpectedJsepError
	return errors.As(err, &e)
}

// IsInvalidDtmf reports whether err is an InvalidDtmfError.
func IsInvalidDtmf(err error) bool {
	var e *InvalidDtmfError
	return errors.As(err, &e)
}
