/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package prefs reads the persisted settings the softphone core depends on:
// SIP credentials, selected devices and audio processing toggles.
package prefs

import (
	"strconv"
	"strings"

	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// Keys written by the settings UI
const (
	KeySIPUsername      = "sip.username"
	KeySIPSecret        = "sip.secret"
	KeySIPRegistrar     = "sip.registrar"
	KeySIPDisplayName   = "sip.display_name"
	KeySIPAuthUser      = "sip.auth_user"
	KeyAudioInput       = "device.audio_input"
	KeyAudioOutput      = "device.audio_output"
	KeyVideoInput       = "device.video_input"
	KeyEchoCancellation = "audio.echo_cancellation"
	KeyNoiseSuppression = "audio.noise_suppression"
	KeyAutoGainControl  = "audio.auto_gain_control"
)

// Store is a flat key/value preference store
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// SIPCredentials are the stored registration settings
type SIPCredentials struct {
	Username    string
	Secret      string
	Registrar   string
	DisplayName string
	AuthUser    string
}

// Complete reports whether enough is stored to register
func (c SIPCredentials) Complete() bool {
	return c.Username != "" && c.Registrar != ""
}

// Preferences is a typed snapshot of the store
type Preferences struct {
	SIP SIPCredentials

	// Empty device ids mean "no preference"
	AudioInputID  string
	AudioOutputID string
	VideoInputID  string

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Defaults returns the preferences used when nothing is stored
func Defaults() Preferences {
	return Preferences{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Load reads preferences from store. Missing entries and malformed toggles
// fall back to Defaults; a nil store yields Defaults.
func Load(store Store) Preferences {
	p := Defaults()
	if store == nil {
		return p
	}

	str := func(key string) string {
		v, _ := store.Get(key)
		return strings.TrimSpace(v)
	}
	p.SIP = SIPCredentials{
		Username:    str(KeySIPUsername),
		Secret:      str(KeySIPSecret),
		Registrar:   str(KeySIPRegistrar),
		DisplayName: str(KeySIPDisplayName),
		AuthUser:    str(KeySIPAuthUser),
	}
	p.AudioInputID = str(KeyAudioInput)
	p.AudioOutputID = str(KeyAudioOutput)
	p.VideoInputID = str(KeyVideoInput)

	p.EchoCancellation = toggle(store, KeyEchoCancellation, p.EchoCancellation)
	p.NoiseSuppression = toggle(store, KeyNoiseSuppression, p.NoiseSuppression)
	p.AutoGainControl = toggle(store, KeyAutoGainControl, p.AutoGainControl)
	return p
}

func toggle(store Store, key string, def bool) bool {
	raw, ok := store.Get(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		softphonesdk.NewLogger("prefs").WithField("key", key).Warnf("Ignoring malformed toggle %q", raw)
		return def
	}
	return v
}

// SaveSIP stores SIP credentials; empty optional fields are deleted
func SaveSIP(store Store, c SIPCredentials) error {
	fields := map[string]string{
		KeySIPUsername:    c.Username,
		KeySIPSecret:      c.Secret,
		KeySIPRegistrar:   c.Registrar,
		KeySIPDisplayName: c.DisplayName,
		KeySIPAuthUser:    c.AuthUser,
	}
	for key, value := range fields {
		var err error
		if value == "" {
			err = store.Delete(key)
		} else {
			err = store.Set(key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
