/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janustest

import (
	"sync"
	"time"

	"github.com/tejzpr/janus-sip-go-sdk/janus"
)

// SIPPluginName is the package name of the Janus SIP plugin
const SIPPluginName = "janus.plugin.sip"

// SIPScript controls how the scripted SIP plugin answers requests. The zero
// value registers every identity and lets every call be answered.
type SIPScript struct {
	mu sync.Mutex

	// RegisterFailure, when non-zero, answers register with registration_failed
	RegisterFailure int
	RegisterReason  string
	// RegisterErrorCode answers register with a plugin error instead
	RegisterErrorCode int
	RegisterError     string
	// RegisterErrorTimes limits RegisterErrorCode to that many requests; zero
	// applies it to every request
	RegisterErrorTimes int
	// RegisterDelay holds the register outcome back, like a slow registrar
	RegisterDelay time.Duration
	// SilentRegister acknowledges register without any outcome event
	SilentRegister bool
	// SilentUnregister acknowledges unregister without the unregistered event
	SilentUnregister bool
	// RingOnly stops outgoing calls at "ringing" instead of answering them
	RingOnly bool
	// CallErrorCode answers call with a plugin error instead of dialing
	CallErrorCode int
	// DTMFErrorCode answers dtmf_info with a plugin error
	DTMFErrorCode int
	// HangupAckDelay sends the hangup events first and acknowledges the
	// request only after the delay
	HangupAckDelay time.Duration
}

// Set changes the script under its lock
func (sc *SIPScript) Set(fn func(sc *SIPScript)) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	fn(sc)
}

// registerError reports whether the next register should get the plugin error
func (sc *SIPScript) registerError() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.RegisterErrorCode == 0 {
		return false
	}
	if sc.RegisterErrorTimes > 0 {
		sc.RegisterErrorTimes--
		if sc.RegisterErrorTimes == 0 {
			sc.RegisterErrorCode = 0
		}
	}
	return true
}

func (sc *SIPScript) snapshot() SIPScript {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return SIPScript{
		RegisterFailure:   sc.RegisterFailure,
		RegisterReason:    sc.RegisterReason,
		RegisterErrorCode: sc.RegisterErrorCode,
		RegisterError:     sc.RegisterError,
		RegisterDelay:     sc.RegisterDelay,
		SilentRegister:    sc.SilentRegister,
		SilentUnregister:  sc.SilentUnregister,
		RingOnly:          sc.RingOnly,
		CallErrorCode:     sc.CallErrorCode,
		DTMFErrorCode:     sc.DTMFErrorCode,
		HangupAckDelay:    sc.HangupAckDelay,
	}
}

// SIPResult builds a SIP plugin event payload
func SIPResult(result map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"sip": "event", "result": result}
}

// InstallSIP scripts janus.plugin.sip on the server and returns the script
func (s *Server) InstallSIP() *SIPScript {
	script := &SIPScript{}
	s.Handle(SIPPluginName, func(ex *Exchange) {
		sc := script.snapshot()
		if ex.String("request") == "hangup" && sc.HangupAckDelay > 0 {
			hangupEvents(ex)
			time.Sleep(sc.HangupAckDelay)
			ex.Ack()
			return
		}
		ex.Ack()

		switch ex.String("request") {
		case "register":
			if script.registerError() {
				ex.Event(pluginError(sc.RegisterErrorCode, sc.RegisterError), nil)
				return
			}
			ex.Event(SIPResult(map[string]interface{}{"event": "registering"}), nil)
			if sc.RegisterDelay > 0 {
				// the gateway handles one request per handle at a time
				time.Sleep(sc.RegisterDelay)
			}
			switch {
			case sc.SilentRegister:
			case sc.RegisterFailure != 0:
				ex.Event(SIPResult(map[string]interface{}{
					"event":    "registration_failed",
					"code":     sc.RegisterFailure,
					"reason":   sc.RegisterReason,
					"username": ex.String("username"),
				}), nil)
			default:
				ex.Event(SIPResult(map[string]interface{}{
					"event":         "registered",
					"username":      ex.String("username"),
					"register_sent": true,
				}), nil)
			}
		case "unregister":
			if !sc.SilentUnregister {
				ex.Event(SIPResult(map[string]interface{}{"event": "unregistered"}), nil)
			}
		case "call":
			if sc.CallErrorCode != 0 {
				ex.Event(pluginError(sc.CallErrorCode, "Invalid user address"), nil)
				return
			}
			ex.Event(map[string]interface{}{
				"sip": "event", "call_id": "call-" + ex.String("uri"),
				"result": map[string]interface{}{"event": "calling"},
			}, nil)
			if sc.RingOnly || ex.Request.JSEP == nil {
				ex.Event(SIPResult(map[string]interface{}{"event": "ringing"}), nil)
				return
			}
			answer, err := s.AnswerOffer(ex.Request.HandleID, ex.Request.JSEP.SDP)
			if err != nil {
				ex.Event(pluginError(448, err.Error()), nil)
				return
			}
			ex.Event(SIPResult(map[string]interface{}{
				"event":    "accepted",
				"username": ex.String("uri"),
			}), janus.Answer(answer))
		case "accept":
			if ex.Request.JSEP != nil {
				_ = s.ApplyAnswer(ex.Request.HandleID, ex.Request.JSEP.SDP)
			}
			ex.Event(SIPResult(map[string]interface{}{"event": "accepted"}), nil)
		case "decline":
			ex.Event(SIPResult(map[string]interface{}{"event": "declining", "code": ex.Body["code"]}), nil)
		case "hangup":
			hangupEvents(ex)
		case "dtmf_info":
			if sc.DTMFErrorCode != 0 {
				ex.Event(pluginError(sc.DTMFErrorCode, "Wrong state (not in a call?)"), nil)
			}
		}
	})
	return script
}

func hangupEvents(ex *Exchange) {
	ex.Event(SIPResult(map[string]interface{}{"event": "hangingup"}), nil)
	ex.Event(SIPResult(map[string]interface{}{
		"event": "hangup", "code": 200, "reason": "Session Terminated",
	}), nil)
}

// pluginError builds a SIP plugin error payload
func pluginError(code int, reason string) map[string]interface{} {
	return map[string]interface{}{"sip": "event", "error_code": code, "error": reason}
}

// RingIncoming pushes an incomingcall event carrying a gateway offer
func (s *Server) RingIncoming(handleID uint64, caller string, video bool) error {
	offer, err := s.CreateOffer(handleID, video)
	if err != nil {
		return err
	}
	s.Push(handleID, map[string]interface{}{
		"sip":     "event",
		"call_id": "incoming-" + caller,
		"result": map[string]interface{}{
			"event":       "incomingcall",
			"username":    caller,
			"displayname": caller,
		},
	}, janus.Offer(offer))
	return nil
}

// RemoteHangup pushes a far-end hangup to a handle
func (s *Server) RemoteHangup(handleID uint64, code int, reason string) {
	s.Push(handleID, SIPResult(map[string]interface{}{
		"event": "hangup", "code": code, "reason": reason,
	}), nil)
}
