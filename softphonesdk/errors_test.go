/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package softphonesdk

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRegistrationFailure(t *testing.T) {
	tests := []struct {
		code   int
		reason string
		want   RegistrationErrorKind
	}{
		{401, "Unauthorized", RegistrationAuthFailed},
		{407, "Proxy Authentication Required", RegistrationAuthFailed},
		{403, "Forbidden", RegistrationForbidden},
		{404, "Not Found", RegistrationNotFound},
		{408, "Request Timeout", RegistrationRequestTimeout},
		{504, "Server Time-out", RegistrationRequestTimeout},
		{423, "Interval Too Brief", RegistrationIntervalTooBrief},
		{446, "Invalid user address", RegistrationMalformedIdentity},
		{480, "Temporarily Unavailable", RegistrationTemporarilyUnavailable},
		{499, "Unknown error", RegistrationServerNotReady},
		{500, "Sofia stack not ready", RegistrationServerNotReady},
		{0, "Missing session or Sofia stack", RegistrationServerNotReady},
		{445, "Already registered", RegistrationAlreadyRegistered},
		{500, "Server Internal Error", RegistrationGeneric},
		{0, "", RegistrationGeneric},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.code, tt.reason), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyRegistrationFailure(tt.code, tt.reason))
		})
	}
}

func TestRegistrationErrorMessages(t *testing.T) {
	kinds := []RegistrationErrorKind{
		RegistrationAuthFailed, RegistrationForbidden, RegistrationNotFound,
		RegistrationRequestTimeout, RegistrationIntervalTooBrief, RegistrationMalformedIdentity,
		RegistrationTemporarilyUnavailable, RegistrationServerNotReady, RegistrationGeneric,
	}
	seen := make(map[string]RegistrationErrorKind)
	for _, k := range kinds {
		msg := registrationMessages[k]
		require.NotEmpty(t, msg, "kind %s has no message", k)
		prev, dup := seen[msg]
		assert.False(t, dup, "kinds %s and %s share a message", k, prev)
		seen[msg] = k
	}

	err := NewRegistrationError(403, "Forbidden")
	assert.Equal(t, RegistrationForbidden, err.Kind)
	assert.Equal(t, registrationMessages[RegistrationForbidden], err.HumanMessage())
	assert.Contains(t, err.Error(), "403 Forbidden")
	assert.NotContains(t, NewRegistrationError(404, "").Error(), "404 )")
}

func TestErrorTypesAndHelpers(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")

	t.Run("ConnectionError unwraps to cause", func(t *testing.T) {
		err := fmt.Errorf("start: %w", NewConnectionError("ws://gw", 3, cause))
		assert.True(t, IsConnectionError(err))
		assert.ErrorIs(t, err, cause)

		var base *SoftphoneError
		require.True(t, errors.As(err, &base))
		assert.Equal(t, "connect", base.Op)
	})

	t.Run("AttachError", func(t *testing.T) {
		err := NewAttachError("janus.plugin.sip", ErrNotConnected)
		assert.True(t, IsAttachError(err))
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.False(t, IsConnectionError(err))
	})

	t.Run("SignalingError carries raw reason", func(t *testing.T) {
		err := NewSignalingError("call", 443, "Missing element (uri)", nil)
		assert.True(t, IsSignalingError(err))
		assert.Contains(t, err.Error(), "Missing element (uri)")
		assert.Equal(t, 443, err.Code)
	})

	t.Run("timeout classification", func(t *testing.T) {
		assert.True(t, IsRegistrationTimeout(NewRegistrationTimeout("sip:alice@example.com", time.Second)))
		assert.True(t, IsRegistrationTimeout(NewRegistrationError(408, "Request Timeout")))
		assert.False(t, IsRegistrationTimeout(NewRegistrationError(403, "Forbidden")))
		assert.True(t, IsRegistrationError(NewRegistrationError(403, "Forbidden")))
	})

	t.Run("call setup errors", func(t *testing.T) {
		assert.True(t, IsMediaAcquisitionError(NewMediaAcquisitionError("call", cause)))
		assert.True(t, IsOfferCreationError(NewOfferCreationError("call", cause)))
		assert.True(t, IsUnexpectedJsep(NewUnexpectedJsepError("answer", "stable")))
		assert.True(t, IsInvalidDtmf(NewInvalidDtmfError("A")))
		assert.False(t, IsInvalidDtmf(cause))
	})
}
