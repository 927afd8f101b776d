/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sessionstate

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

func TestStore(t *testing.T) {
	s := New()
	snap := s.Snapshot()
	assert.Equal(t, "disconnected", snap.Connection)
	assert.Equal(t, "unregistered", snap.Registration)
	assert.Equal(t, "idle", snap.Call)

	var seen []Snapshot
	off := s.Subscribe(func(snap Snapshot) { seen = append(seen, snap) })

	s.SetConnection("connected")
	s.SetConnection("connected")
	require.Len(t, seen, 1)
	assert.Equal(t, "connected", seen[0].Connection)
	assert.True(t, seen[0].UpdatedAt.After(snap.UpdatedAt) || seen[0].UpdatedAt.Equal(snap.UpdatedAt))

	s.SetRegistration("registered", "sip:alice@example.com")
	assert.Equal(t, "sip:alice@example.com", s.Snapshot().Identity)

	t.Run("call details survive idle", func(t *testing.T) {
		s.SetCall("active", "c1", "sip:bob@example.com", "outgoing")
		s.SetMuted(true)
		assert.True(t, s.Snapshot().Muted)
		s.SetCall("idle", "", "", "")
		snap := s.Snapshot()
		assert.Equal(t, "idle", snap.Call)
		assert.Equal(t, "c1", snap.CallID)
		assert.False(t, snap.Muted)
	})

	t.Run("audio", func(t *testing.T) {
		s.SetAudio("blocked", true)
		assert.True(t, s.Snapshot().AudioBlocked)
	})

	off()
	s.SetConnection("failed")
	assert.Len(t, seen, 6)
}

func TestSetError(t *testing.T) {
	s := New()
	s.SetError(errors.New("boom"))
	assert.Equal(t, "boom", s.Snapshot().LastError)

	regErr := softphonesdk.NewRegistrationError(403, "Forbidden")
	s.SetError(fmt.Errorf("login: %w", regErr))
	assert.Equal(t, regErr.HumanMessage(), s.Snapshot().LastError)

	s.SetError(nil)
	assert.Empty(t, s.Snapshot().LastError)
}
