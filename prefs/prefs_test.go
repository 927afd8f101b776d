/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("nil store", func(t *testing.T) {
		assert.Equal(t, Defaults(), Load(nil))
	})

	t.Run("empty store uses defaults", func(t *testing.T) {
		p := Load(NewMemoryStore(nil))
		assert.True(t, p.EchoCancellation)
		assert.True(t, p.NoiseSuppression)
		assert.True(t, p.AutoGainControl)
		assert.Empty(t, p.AudioInputID)
		assert.False(t, p.SIP.Complete())
	})

	t.Run("stored values", func(t *testing.T) {
		p := Load(NewMemoryStore(map[string]string{
			KeySIPUsername:      "alice",
			KeySIPSecret:        "secret",
			KeySIPRegistrar:     " example.com:5060 ",
			KeyAudioInput:       "mic-1",
			KeyAudioOutput:      "speaker-2",
			KeyEchoCancellation: "false",
			KeyNoiseSuppression: "0",
		}))
		assert.Equal(t, "alice", p.SIP.Username)
		assert.Equal(t, "example.com:5060", p.SIP.Registrar)
		assert.True(t, p.SIP.Complete())
		assert.Equal(t, "mic-1", p.AudioInputID)
		assert.Equal(t, "speaker-2", p.AudioOutputID)
		assert.False(t, p.EchoCancellation)
		assert.False(t, p.NoiseSuppression)
		assert.True(t, p.AutoGainControl)
	})

	t.Run("malformed toggles fall back", func(t *testing.T) {
		p := Load(NewMemoryStore(map[string]string{
			KeyEchoCancellation: "maybe",
			KeyAutoGainControl:  "",
		}))
		assert.True(t, p.EchoCancellation)
		assert.True(t, p.AutoGainControl)
	})
}

func TestSaveSIP(t *testing.T) {
	store := NewMemoryStore(map[string]string{KeySIPDisplayName: "Old"})
	require.NoError(t, SaveSIP(store, SIPCredentials{Username: "bob", Secret: "pw", Registrar: "sip.example.com"}))

	p := Load(store)
	assert.Equal(t, SIPCredentials{Username: "bob", Secret: "pw", Registrar: "sip.example.com"}, p.SIP)
	_, ok := store.Get(KeySIPDisplayName)
	assert.False(t, ok)
}

func TestFileStore(t *testing.T) {
	t.Run("round trip across instances", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prefs", "softphone.json")
		s := NewFileStore(path)
		require.NoError(t, s.Set(KeyAudioInput, "mic-7"))
		require.NoError(t, s.Set(KeyAutoGainControl, "false"))

		reopened := NewFileStore(path)
		v, ok := reopened.Get(KeyAudioInput)
		assert.True(t, ok)
		assert.Equal(t, "mic-7", v)
		assert.False(t, Load(reopened).AutoGainControl)

		require.NoError(t, reopened.Delete(KeyAudioInput))
		_, ok = NewFileStore(path).Get(KeyAudioInput)
		assert.False(t, ok)
	})

	t.Run("missing file reads empty", func(t *testing.T) {
		s := NewFileStore(filepath.Join(t.TempDir(), "none.json"))
		_, ok := s.Get(KeySIPUsername)
		assert.False(t, ok)
		assert.Equal(t, Defaults(), Load(s))
	})

	t.Run("corrupt file reads empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		assert.Equal(t, Defaults(), Load(NewFileStore(path)))
	})

	t.Run("non-string json values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "typed.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"audio.echo_cancellation": false, "sip.username": "carol"}`), 0o600))
		p := Load(NewFileStore(path))
		assert.False(t, p.EchoCancellation)
		assert.Equal(t, "carol", p.SIP.Username)
	})
}
