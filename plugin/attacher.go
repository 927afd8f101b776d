/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tejzpr/janus-sip-go-sdk/janus"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// Transport is the part of the gateway client the attacher needs
type Transport interface {
	IsConnected() bool
	Attach(ctx context.Context, plugin string) (*janus.Handle, error)
	ICEServers() []string
}

// Attacher keeps the single plugin handle of a session. Attaching always
// detaches the previous handle first.
type Attacher struct {
	transport Transport
	config    *softphonesdk.Config
	log       logrus.FieldLogger

	opMu    sync.Mutex
	mu      sync.Mutex
	current CallPlugin
}

// NewAttacher creates an attacher over a gateway transport
func NewAttacher(transport Transport, config *softphonesdk.Config) *Attacher {
	if config == nil {
		config = softphonesdk.DefaultConfig()
	}
	return &Attacher{
		transport: transport,
		config:    config,
		log:       config.LoggerFor("plugin"),
	}
}

// Attach attaches the variant selected by Config.Plugin
func (a *Attacher) Attach(ctx context.Context) (CallPlugin, error) {
	switch a.config.Plugin {
	case softphonesdk.PluginEchoTest:
		return a.AttachEchoTest(ctx)
	case softphonesdk.PluginSIP, "":
		return a.AttachSIP(ctx)
	default:
		return nil, softphonesdk.NewAttachError(a.config.Plugin, fmt.Errorf("unknown plugin kind %q", a.config.Plugin))
	}
}

// AttachSIP attaches janus.plugin.sip
func (a *Attacher) AttachSIP(ctx context.Context) (*SIP, error) {
	p, err := a.attach(ctx, SIPPackage, func(h *janus.Handle, ice []string) CallPlugin {
		return NewSIP(h, ice, a.log)
	})
	if err != nil {
		return nil, err
	}
	return p.(*SIP), nil
}

// AttachEchoTest attaches janus.plugin.echotest
func (a *Attacher) AttachEchoTest(ctx context.Context) (*EchoTest, error) {
	p, err := a.attach(ctx, EchoTestPackage, func(h *janus.Handle, ice []string) CallPlugin {
		return NewEchoTest(h, ice, a.log)
	})
	if err != nil {
		return nil, err
	}
	return p.(*EchoTest), nil
}

func (a *Attacher) attach(ctx context.Context, pkg string, build func(*janus.Handle, []string) CallPlugin) (CallPlugin, error) {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	if !a.transport.IsConnected() {
		return nil, softphonesdk.NewAttachError(pkg, softphonesdk.ErrNotConnected)
	}

	if err := a.detachCurrent(ctx); err != nil {
		a.log.Warnf("Detaching previous handle failed: %v", err)
	}

	h, err := a.transport.Attach(ctx, pkg)
	if err != nil {
		if softphonesdk.IsAttachError(err) {
			return nil, err
		}
		return nil, softphonesdk.NewAttachError(pkg, err)
	}

	p := build(h, a.transport.ICEServers())
	a.mu.Lock()
	a.current = p
	a.mu.Unlock()

	a.log.WithFields(logrus.Fields{"plugin": pkg, "handle": h.ID()}).Info("Call plugin ready")
	return p, nil
}

// Current returns the attached plugin, nil when none is attached
func (a *Attacher) Current() CallPlugin {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Detach detaches the current handle if any
func (a *Attacher) Detach(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	return a.detachCurrent(ctx)
}

func (a *Attacher) detachCurrent(ctx context.Context) error {
	a.mu.Lock()
	p := a.current
	a.current = nil
	a.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Detach(ctx)
}
