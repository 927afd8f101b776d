/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tejzpr/janus-sip-go-sdk/janus"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// SIP is the janus.plugin.sip variant
type SIP struct {
	*handle
}

var (
	_ CallPlugin = (*SIP)(nil)
	_ Registrar  = (*SIP)(nil)
)

// sipPayload is the plugindata.data object of the SIP plugin
type sipPayload struct {
	SIP       string     `json:"sip"`
	CallID    string     `json:"call_id,omitempty"`
	ErrorCode int        `json:"error_code,omitempty"`
	Error     string     `json:"error,omitempty"`
	Result    *sipResult `json:"result,omitempty"`
}

type sipResult struct {
	Event       string `json:"event"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayname,omitempty"`
	Code        int    `json:"code,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// NewSIP wraps an attached janus.plugin.sip handle
func NewSIP(h *janus.Handle, iceServers []string, log logrus.FieldLogger) *SIP {
	return &SIP{handle: newHandle(softphonesdk.PluginSIP, h, iceServers, log, decodeSIP)}
}

func decodeSIP(msg *janus.Message) (*Event, error) {
	if msg.PluginData == nil {
		return nil, nil
	}
	var payload sipPayload
	if err := json.Unmarshal(msg.PluginData.Data, &payload); err != nil {
		return nil, fmt.Errorf("malformed SIP payload: %w", err)
	}

	ev := &Event{
		Plugin: SIPPackage,
		CallID: payload.CallID,
		JSEP:   msg.JSEP,
		Raw:    msg.PluginData.Data,
	}
	switch {
	case payload.ErrorCode != 0 || payload.Error != "":
		ev.Name = SignalError
		ev.Code = payload.ErrorCode
		ev.Reason = payload.Error
	case payload.Result != nil:
		ev.Name = payload.Result.Event
		ev.Code = payload.Result.Code
		ev.Reason = payload.Result.Reason
		ev.Username = payload.Result.Username
		ev.DisplayName = payload.Result.DisplayName
	default:
		return nil, fmt.Errorf("SIP payload has neither result nor error")
	}
	return ev, nil
}

// Register sends a register request. A Refresh request re-sends the
// current binding.
func (s *SIP) Register(ctx context.Context, req RegisterRequest) error {
	body := map[string]interface{}{
		"request":  "register",
		"username": req.Username,
		"secret":   req.Secret,
	}
	if req.Proxy != "" {
		body["proxy"] = req.Proxy
	}
	if req.AuthUser != "" {
		body["authuser"] = req.AuthUser
	}
	if req.DisplayName != "" {
		body["display_name"] = req.DisplayName
	}
	if req.Expires > 0 {
		body["register_ttl"] = req.Expires
	}
	if req.Refresh {
		body["refresh"] = true
	}
	return s.Send(ctx, body, nil)
}

func (s *SIP) Unregister(ctx context.Context) error {
	return s.Send(ctx, map[string]interface{}{"request": "unregister"}, nil)
}

func (s *SIP) Call(ctx context.Context, uri string, video bool, offer *janus.JSEP) error {
	return s.Send(ctx, map[string]interface{}{
		"request": "call",
		"uri":     uri,
		"video":   video,
	}, offer)
}

func (s *SIP) Accept(ctx context.Context, answer *janus.JSEP) error {
	return s.Send(ctx, map[string]interface{}{"request": "accept"}, answer)
}

func (s *SIP) Decline(ctx context.Context, code int) error {
	body := map[string]interface{}{"request": "decline"}
	if code != 0 {
		body["code"] = code
	}
	return s.Send(ctx, body, nil)
}

func (s *SIP) Hangup(ctx context.Context) error {
	return s.Send(ctx, map[string]interface{}{"request": "hangup"}, nil)
}

func (s *SIP) SendDTMF(ctx context.Context, digit string) error {
	return s.Send(ctx, map[string]interface{}{"request": "dtmf_info", "digit": digit}, nil)
}

func (s *SIP) Update(ctx context.Context, answer *janus.JSEP) error {
	return s.Send(ctx, map[string]interface{}{"request": "update"}, answer)
}
