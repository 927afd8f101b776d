/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package metrics exports softphone counters to Prometheus.
//
// Every method is safe to call on a nil *Collector, so components take an
// optional collector and record unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config names the exported series
type Config struct {
	Namespace string
	Subsystem string
	// Registerer defaults to a fresh registry when nil
	Registerer prometheus.Registerer
}

// DefaultConfig returns the default metric naming
func DefaultConfig() *Config {
	return &Config{Namespace: "softphone"}
}

// Collector holds every softphone series
type Collector struct {
	registry prometheus.Gatherer

	connectAttempts     prometheus.Counter
	connectFailures     prometheus.Counter
	sessionsLost        prometheus.Counter
	connectionState     *prometheus.GaugeVec
	registrations       *prometheus.CounterVec
	registrationLatency prometheus.Histogram
	registrationState   *prometheus.GaugeVec
	calls               *prometheus.CounterVec
	callsEnded          *prometheus.CounterVec
	callDuration        prometheus.Histogram
	callsActive         prometheus.Gauge
	dtmfSent            prometheus.Counter
	playbackAttempts    *prometheus.CounterVec
	audioHealthChecks   *prometheus.CounterVec
}

// New creates and registers the collectors
func New(config *Config) *Collector {
	if config == nil {
		config = DefaultConfig()
	}
	reg := config.Registerer
	c := &Collector{}
	if reg == nil {
		r := prometheus.NewRegistry()
		reg = r
		c.registry = r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		c.registry = g
	}
	f := promauto.With(reg)
	ns, sub := config.Namespace, config.Subsystem

	c.connectAttempts = f.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "gateway_connect_attempts_total",
		Help: "Gateway session creation attempts",
	})
	c.connectFailures = f.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "gateway_connect_failures_total",
		Help: "Connect calls that exhausted their retry budget",
	})
	c.sessionsLost = f.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "gateway_sessions_lost_total",
		Help: "Gateway sessions lost to timeouts or dropped sockets",
	})
	c.connectionState = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "gateway_connection_state",
		Help: "1 for the current gateway connection state",
	}, []string{"state"})
	c.registrations = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "registrations_total",
		Help: "Registration outcomes by result",
	}, []string{"result"})
	c.registrationLatency = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub,
		Name:    "registration_duration_seconds",
		Help:    "Time from REGISTER to registered",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
	c.registrationState = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "registration_state",
		Help: "1 for the current registration state",
	}, []string{"state"})
	c.calls = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "calls_total",
		Help: "Calls started by direction",
	}, []string{"direction"})
	c.callsEnded = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "calls_ended_total",
		Help: "Calls ended by reason",
	}, []string{"reason"})
	c.callDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub,
		Name:    "call_duration_seconds",
		Help:    "Duration of connected calls",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
	})
	c.callsActive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "calls_active",
		Help: "Calls currently connected",
	})
	c.dtmfSent = f.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "dtmf_digits_sent_total",
		Help: "DTMF digits sent",
	})
	c.playbackAttempts = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "audio_playback_attempts_total",
		Help: "Playback attempts by outcome",
	}, []string{"outcome"})
	c.audioHealthChecks = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "audio_health_checks_total",
		Help: "Audio flow checks by result",
	}, []string{"result"})
	return c
}

// Gatherer returns the registry the collector writes to, if it can be gathered
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ConnectAttempt() {
	if c == nil {
		return
	}
	c.connectAttempts.Inc()
}

func (c *Collector) ConnectFailed() {
	if c == nil {
		return
	}
	c.connectFailures.Inc()
}

func (c *Collector) SessionLost() {
	if c == nil {
		return
	}
	c.sessionsLost.Inc()
}

// ConnectionState marks state as current among all
func (c *Collector) ConnectionState(state string, all ...string) {
	if c == nil {
		return
	}
	setOneHot(c.connectionState, state, all)
}

// RegistrationResult counts one registration outcome
func (c *Collector) RegistrationResult(result string) {
	if c == nil {
		return
	}
	c.registrations.WithLabelValues(result).Inc()
}

func (c *Collector) RegistrationLatency(d time.Duration) {
	if c == nil {
		return
	}
	c.registrationLatency.Observe(d.Seconds())
}

// RegistrationState marks state as current among all
func (c *Collector) RegistrationState(state string, all ...string) {
	if c == nil {
		return
	}
	setOneHot(c.registrationState, state, all)
}

func (c *Collector) CallStarted(direction string) {
	if c == nil {
		return
	}
	c.calls.WithLabelValues(direction).Inc()
}

func (c *Collector) CallConnected() {
	if c == nil {
		return
	}
	c.callsActive.Inc()
}

// CallEnded records the end of a call; connected is how long it was active,
// zero if it never connected.
func (c *Collector) CallEnded(reason string, connected time.Duration) {
	if c == nil {
		return
	}
	c.callsEnded.WithLabelValues(reason).Inc()
	if connected > 0 {
		c.callsActive.Dec()
		c.callDuration.Observe(connected.Seconds())
	}
}

func (c *Collector) DTMFSent() {
	if c == nil {
		return
	}
	c.dtmfSent.Inc()
}

func (c *Collector) PlaybackAttempt(outcome string) {
	if c == nil {
		return
	}
	c.playbackAttempts.WithLabelValues(outcome).Inc()
}

func (c *Collector) AudioHealth(result string) {
	if c == nil {
		return
	}
	c.audioHealthChecks.WithLabelValues(result).Inc()
}

func setOneHot(g *prometheus.GaugeVec, current string, all []string) {
	for _, s := range all {
		if s != current {
			g.WithLabelValues(s).Set(0)
		}
	}
	g.WithLabelValues(current).Set(1)
}
