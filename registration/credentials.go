/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package registration

import (
	"errors"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/tejzpr/janus-sip-go-sdk/phonenumber"
	"github.com/tejzpr/janus-sip-go-sdk/prefs"
)

var (
	ErrMissingUsername  = errors.New("registration: username is required")
	ErrMissingRegistrar = errors.New("registration: registrar host is required")
)

// Credentials identify one SIP binding
type Credentials struct {
	Username string
	Secret   string
	// Registrar is the registrar host, optionally with a port
	// (e.g. "example.com:5060")
	Registrar   string
	DisplayName string
	AuthUser    string
}

// CredentialsFromPreferences reads the stored SIP settings
func CredentialsFromPreferences(p prefs.Preferences) Credentials {
	return Credentials{
		Username:    p.SIP.Username,
		Secret:      p.SIP.Secret,
		Registrar:   p.SIP.Registrar,
		DisplayName: p.SIP.DisplayName,
		AuthUser:    p.SIP.AuthUser,
	}
}

// Equal compares field by field
func (c Credentials) Equal(o Credentials) bool {
	return c.Username == o.Username &&
		c.Secret == o.Secret &&
		c.Registrar == o.Registrar &&
		c.DisplayName == o.DisplayName &&
		c.AuthUser == o.AuthUser
}

// User is the bare user part of Username, without scheme or domain
func (c Credentials) User() string {
	user := strings.TrimSpace(c.Username)
	lower := strings.ToLower(user)
	switch {
	case strings.HasPrefix(lower, "sips:"):
		user = user[len("sips:"):]
	case strings.HasPrefix(lower, "sip:"):
		user = user[len("sip:"):]
	}
	if i := strings.IndexByte(user, '@'); i >= 0 {
		user = user[:i]
	}
	return user
}

func (c Credentials) validate() error {
	if c.User() == "" {
		return ErrMissingUsername
	}
	if strings.TrimSpace(c.Registrar) == "" {
		return ErrMissingRegistrar
	}
	return nil
}

// Identity is the canonical SIP identity, always on the registrar host
// rather than any domain embedded in Username.
func (c Credentials) Identity() (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	host, port, err := phonenumber.SplitHost(c.Registrar)
	if err != nil {
		return "", err
	}
	uri := sip.Uri{Scheme: "sip", User: c.User(), Host: host, Port: port}
	return uri.String(), nil
}

// Proxy is the outbound proxy URI for the registrar host
func (c Credentials) Proxy() (string, error) {
	host, port, err := phonenumber.SplitHost(c.Registrar)
	if err != nil {
		return "", err
	}
	uri := sip.Uri{Scheme: "sip", Host: host, Port: port}
	return uri.String(), nil
}

// Host is the registrar host with port, as entered
func (c Credentials) Host() string {
	h := strings.TrimSpace(c.Registrar)
	h = strings.TrimPrefix(strings.TrimPrefix(h, "sips:"), "sip:")
	return h
}
