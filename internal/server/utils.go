package server

import (
	"net/url"
	"strings"
)

// hostOf returns the host[:port] part of an origin, which is what origin
// patterns are matched against. Bare hosts are returned unchanged.
func hostOf(origin string) string {
	if !strings.Contains(origin, "://") {
		return origin
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return u.Host
}
