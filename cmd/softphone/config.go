/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"flag"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// options holds the command line configuration
type options struct {
	Gateway     string
	ICEServers  []string
	Plugin      string
	LogLevel    string
	PrefsPath   string
	MetricsAddr string
	AudioOut    string
	ToneHz      float64

	Username    string
	Secret      string
	Registrar   string
	DisplayName string

	Dial       string
	AutoAnswer bool
	NoConsole  bool
}

// loadOptions parses args, then lets SOFTPHONE_* environment variables
// override the flags
func loadOptions(args []string, getenv func(string) string, stderr io.Writer) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("softphone", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var ice string
	fs.StringVar(&o.Gateway, "gateway", "ws://localhost:8188", "Janus websocket URL")
	fs.StringVar(&ice, "ice", "", "STUN/TURN URIs (comma-separated)")
	fs.StringVar(&o.Plugin, "plugin", softphonesdk.PluginSIP, "Call plugin (sip, echotest)")
	fs.StringVar(&o.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&o.PrefsPath, "prefs", "", "Preference file; in-memory when empty")
	fs.StringVar(&o.MetricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&o.AudioOut, "audio-out", "", "Write received audio as raw 8kHz 16-bit PCM to this file")
	fs.Float64Var(&o.ToneHz, "tone", 0, "Send a test tone of this frequency instead of silence")
	fs.StringVar(&o.Username, "user", "", "SIP username")
	fs.StringVar(&o.Secret, "secret", "", "SIP password")
	fs.StringVar(&o.Registrar, "registrar", "", "SIP registrar host[:port]")
	fs.StringVar(&o.DisplayName, "name", "", "SIP display name")
	fs.StringVar(&o.Dial, "dial", "", "Destination to call once registered")
	fs.BoolVar(&o.AutoAnswer, "answer", false, "Answer incoming calls automatically")
	fs.BoolVar(&o.NoConsole, "nc", false, "No console mode")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	str := map[string]*string{
		"SOFTPHONE_GATEWAY":   &o.Gateway,
		"SOFTPHONE_PLUGIN":    &o.Plugin,
		"SOFTPHONE_LOGLEVEL":  &o.LogLevel,
		"SOFTPHONE_PREFS":     &o.PrefsPath,
		"SOFTPHONE_METRICS":   &o.MetricsAddr,
		"SOFTPHONE_AUDIO_OUT": &o.AudioOut,
		"SOFTPHONE_USER":      &o.Username,
		"SOFTPHONE_SECRET":    &o.Secret,
		"SOFTPHONE_REGISTRAR": &o.Registrar,
		"SOFTPHONE_NAME":      &o.DisplayName,
		"SOFTPHONE_DIAL":      &o.Dial,
	}
	for key, dst := range str {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	if v := getenv("SOFTPHONE_ICE"); v != "" {
		ice = v
	}
	if v := getenv("SOFTPHONE_TONE"); v != "" {
		if hz, err := strconv.ParseFloat(v, 64); err == nil {
			o.ToneHz = hz
		}
	}
	if v := getenv("SOFTPHONE_ANSWER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			o.AutoAnswer = b
		}
	}
	o.ICEServers = parseList(ice)
	return o, nil
}

// config builds the SDK configuration
func (o *options) config() *softphonesdk.Config {
	cfg := softphonesdk.DefaultConfig()
	cfg.GatewayURL = o.Gateway
	cfg.ICEServers = o.ICEServers
	cfg.Plugin = o.Plugin
	cfg.LogLevel = o.LogLevel
	return cfg
}

// parseList splits a comma-separated list, dropping blanks
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// osEnv is the default getenv
var osEnv = os.Getenv
