// Package origin resolves and matches the web origin of the page hosting the
// embed iframe.
//
// Resolution walks an ordered list of evidence: the explicit hint supplied by
// the embed page (obtained over the cross-frame handshake), then the Referer and
// Origin headers of the verification request. Header evidence is a weaker trust
// signal than the hint; tenants may insist on the hint (see tenants.Tenant).
package origin

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

// Source names where a resolved origin came from.
type Source string

const (
	SourceHint    Source = "hint"
	SourceReferer Source = "referer"
	SourceOrigin  Source = "origin"
)

var (
	ErrUndeterminable = errors.New("host origin undeterminable")
	ErrInvalidPattern = errors.New("invalid origin pattern")
)

// Evidence is everything a verification request carries about its host page.
type Evidence struct {
	Hint    string
	Referer string
	Origin  string
}

// Resolved is a scheme://host[:port] origin plus the evidence it came from.
type Resolved struct {
	Origin string
	Source Source
}

// Resolve applies the fallback chain: hint, Referer, Origin. The first usable
// value wins; unparsable values are skipped. It never defaults to allow.
func Resolve(ev Evidence) (Resolved, error) {
	if o, ok := Normalize(ev.Hint); ok {
		return Resolved{Origin: o, Source: SourceHint}, nil
	}
	if o, ok := Normalize(ev.Referer); ok {
		return Resolved{Origin: o, Source: SourceReferer}, nil
	}
	if o, ok := Normalize(ev.Origin); ok {
		return Resolved{Origin: o, Source: SourceOrigin}, nil
	}
	return Resolved{}, ErrUndeterminable
}

// Normalize reduces a URL or origin string to lowercase scheme://host[:port]
// with default ports removed. Opaque origins ("null") and anything without
// an http(s) scheme and host are rejected.
func Normalize(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host, true
}

// Hostname returns the lowercase hostname of a normalized origin.
func Hostname(o string) string {
	u, err := url.Parse(o)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
