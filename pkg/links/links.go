// Package links rewrites hypermedia hrefs into absolute URLs.
package links

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidLink is returned for hrefs that can be neither prefixed nor passed through.
var ErrInvalidLink = errors.New("invalid link")

// Absolutizer prefixes path-only hrefs with a fixed scheme and host.
type Absolutizer struct {
	base string
}

// New creates an Absolutizer for baseURL (e.g. "https://hardware.api.keil.arm.com").
// Any trailing slash or path on baseURL is dropped; only scheme and host are kept.
func New(baseURL string) (*Absolutizer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !isHTTP(u) {
		return nil, fmt.Errorf("%w: base url %q must be http(s) with a host", ErrInvalidLink, baseURL)
	}

	return &Absolutizer{base: u.Scheme + "://" + u.Host}, nil
}

// Base returns the scheme+host prefix.
func (a *Absolutizer) Base() string {
	return a.base
}

// Absolute returns href as an absolute URL.
//
//   - "/path" becomes base+"/path"
//   - an href that is already absolute http(s) is returned unchanged
//   - anything else fails with ErrInvalidLink
func (a *Absolutizer) Absolute(href string) (string, error) {
	if strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//") {
		return a.base + href, nil
	}

	if IsAbsolute(href) {
		return href, nil
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidLink, href)
}

// IsAbsolute reports whether href carries its own http(s) scheme and host.
func IsAbsolute(href string) bool {
	u, err := url.Parse(href)
	return err == nil && isHTTP(u)
}

func isHTTP(u *url.URL) bool {
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
