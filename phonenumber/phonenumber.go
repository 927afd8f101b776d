/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package phonenumber turns user-entered destinations into canonical SIP URIs
package phonenumber

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode"

	"github.com/emiago/sipgo/sip"
)

// Kind is how a dialed number was interpreted
type Kind string

const (
	KindURI           Kind = "uri"
	KindName          Kind = "name"
	KindFeatureCode   Kind = "feature_code"
	KindShortCode     Kind = "short_code"
	KindExtension     Kind = "extension"
	KindNational      Kind = "national"
	KindInternational Kind = "international"
	KindE164          Kind = "e164"
)

var (
	ErrEmptyDestination = errors.New("empty destination")
	ErrMissingHost      = errors.New("no SIP host to dial through")
)

// Normalizer builds SIP URIs for destinations dialed through Host
type Normalizer struct {
	// Host is the registrar host, optionally with a port
	Host string
	// CountryCode is prefixed to national-format numbers, digits only
	CountryCode string
}

// Result is a normalized destination
type Result struct {
	URI  sip.Uri
	Kind Kind
}

// String renders the URI
func (r Result) String() string {
	return r.URI.String()
}

// Normalize is a shorthand for Normalizer{host, countryCode}.Normalize
func Normalize(destination, host, countryCode string) (string, error) {
	res, err := Normalizer{Host: host, CountryCode: countryCode}.Normalize(destination)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// Normalize interprets destination:
//   - sip:/sips: URIs and anything containing "@" pass through
//   - names (letters) become sip:name@host
//   - numbers with a leading "+" are E.164
//   - up to three digits are short codes, kept as dialed
//   - "00" is the international prefix, a single "0" the national trunk prefix
//   - four to six digits are extensions
//   - eleven or more digits already carry a country code
//   - seven to ten digits get the default country code
//
// Every E.164 result carries ;user=phone.
func (n Normalizer) Normalize(destination string) (Result, error) {
	dest := strings.TrimSpace(destination)
	if dest == "" {
		return Result{}, ErrEmptyDestination
	}

	lower := strings.ToLower(dest)
	if strings.HasPrefix(lower, "sip:") || strings.HasPrefix(lower, "sips:") {
		return parseURI(dest)
	}
	if strings.Contains(dest, "@") {
		return parseURI("sip:" + dest)
	}
	if strings.HasPrefix(lower, "tel:") {
		dest = strings.TrimSpace(dest[len("tel:"):])
	}

	host, port, err := splitHost(n.Host)
	if err != nil {
		return Result{}, err
	}
	build := func(user string, kind Kind) Result {
		uri := sip.Uri{Scheme: "sip", User: user, Host: host, Port: port, UriParams: sip.NewParams()}
		if strings.HasPrefix(user, "+") {
			uri.UriParams.Add("user", "phone")
		}
		return Result{URI: uri, Kind: kind}
	}

	plus, digits, other := scan(dest)
	switch {
	case other.letters:
		return build(strings.Join(strings.Fields(dest), ""), KindName), nil
	case other.feature:
		return build(strings.Map(keepDialable, dest), KindFeatureCode), nil
	case digits == "":
		return Result{}, fmt.Errorf("destination %q has no digits", destination)
	}

	cc := strings.TrimLeft(strings.Map(keepDigits, n.CountryCode), "0")
	switch {
	case plus:
		return build("+"+digits, KindE164), nil
	case len(digits) <= 3:
		return build(digits, KindShortCode), nil
	case strings.HasPrefix(digits, "00"):
		return build("+"+digits[2:], KindInternational), nil
	case strings.HasPrefix(digits, "0"):
		if cc == "" {
			return build(digits, KindNational), nil
		}
		return build("+"+cc+digits[1:], KindNational), nil
	case len(digits) <= 6:
		return build(digits, KindExtension), nil
	case len(digits) >= 11:
		return build("+"+digits, KindE164), nil
	default:
		if cc == "" {
			return build(digits, KindNational), nil
		}
		return build("+"+cc+digits, KindNational), nil
	}
}

type extras struct {
	letters bool
	feature bool
}

// scan extracts digits, ignoring visual separators
func scan(s string) (plus bool, digits string, other extras) {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0 && i == strings.IndexRune(s, '+'):
			plus = true
		case r == '*' || r == '#':
			other.feature = true
		case unicode.IsLetter(r):
			other.letters = true
		}
	}
	return plus, b.String(), other
}

func keepDigits(r rune) rune {
	if r >= '0' && r <= '9' {
		return r
	}
	return -1
}

func keepDialable(r rune) rune {
	if (r >= '0' && r <= '9') || r == '*' || r == '#' {
		return r
	}
	return -1
}

func parseURI(raw string) (Result, error) {
	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		return Result{}, fmt.Errorf("invalid SIP URI %q: %w", raw, err)
	}
	return Result{URI: uri, Kind: KindURI}, nil
}

// splitHost separates an optional port from host
func splitHost(hostport string) (string, int, error) {
	hostport = strings.TrimSpace(hostport)
	hostport = strings.TrimPrefix(strings.TrimPrefix(hostport, "sips:"), "sip:")
	if hostport == "" {
		return "", 0, ErrMissingHost
	}
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// no port
		return hostport, 0, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in host %q", hostport)
	}
	return host, port, nil
}

// SplitHost separates the port from a registrar host argument
func SplitHost(hostport string) (host string, port int, err error) {
	return splitHost(hostport)
}
