/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tejzpr/janus-sip-go-sdk/janus"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// ErrUnsupported is returned for operations a plugin variant cannot perform
var ErrUnsupported = errors.New("operation not supported by plugin")

// EchoTest is the janus.plugin.echotest variant. A "call" loops local media
// back through the gateway, which makes it a media-path diagnostic.
type EchoTest struct {
	*handle
}

var _ CallPlugin = (*EchoTest)(nil)

type echoPayload struct {
	EchoTest  string `json:"echotest"`
	Result    string `json:"result,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewEchoTest wraps an attached janus.plugin.echotest handle
func NewEchoTest(h *janus.Handle, iceServers []string, log logrus.FieldLogger) *EchoTest {
	return &EchoTest{handle: newHandle(softphonesdk.PluginEchoTest, h, iceServers, log, decodeEchoTest)}
}

func decodeEchoTest(msg *janus.Message) (*Event, error) {
	if msg.PluginData == nil {
		return nil, nil
	}
	var payload echoPayload
	if err := json.Unmarshal(msg.PluginData.Data, &payload); err != nil {
		return nil, fmt.Errorf("malformed echotest payload: %w", err)
	}

	ev := &Event{Plugin: EchoTestPackage, JSEP: msg.JSEP, Raw: msg.PluginData.Data}
	switch {
	case payload.ErrorCode != 0 || payload.Error != "":
		ev.Name = SignalError
		ev.Code = payload.ErrorCode
		ev.Reason = payload.Error
	case payload.Result == "done":
		ev.Name = SignalHangup
		ev.Code = 200
		ev.Reason = "Echo test finished"
	case msg.JSEP != nil && msg.JSEP.Type == "answer":
		ev.Name = SignalAccepted
	default:
		ev.Name = SignalInfo
		ev.Reason = payload.Result
	}
	return ev, nil
}

// Call starts the echo session; uri is ignored
func (e *EchoTest) Call(ctx context.Context, uri string, video bool, offer *janus.JSEP) error {
	return e.Send(ctx, map[string]interface{}{
		"request": "echotest",
		"audio":   true,
		"video":   video,
	}, offer)
}

func (e *EchoTest) Accept(context.Context, *janus.JSEP) error {
	return fmt.Errorf("echotest accept: %w", ErrUnsupported)
}

func (e *EchoTest) Decline(context.Context, int) error {
	return fmt.Errorf("echotest decline: %w", ErrUnsupported)
}

// Hangup ends the echo session by closing the gateway PeerConnection
func (e *EchoTest) Hangup(ctx context.Context) error {
	if e.h.IsDetached() {
		return nil
	}
	if err := e.h.Hangup(ctx); err != nil {
		return softphonesdk.NewSignalingError("hangup", 0, err.Error(), err)
	}
	return nil
}

func (e *EchoTest) SendDTMF(context.Context, string) error {
	return fmt.Errorf("echotest dtmf: %w", ErrUnsupported)
}

func (e *EchoTest) Update(context.Context, *janus.JSEP) error {
	return fmt.Errorf("echotest update: %w", ErrUnsupported)
}
