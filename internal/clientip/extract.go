// Package clientip derives a single public client IP from layered proxy
// headers. The gateway sits behind Cloudflare and assorted PaaS proxies,
// so the transport peer is almost never the real visitor.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// Header priority. X-Forwarded-For is handled separately because it can
// carry a chain of hops.
var directHeaders = []string{
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Real-IP",
}

var vendorHeaders = []string{
	"X-Envoy-External-Address",
	"X-Zeabur-Client-IP",
}

// FromRequest returns the best candidate for the visitor's public IP.
// Private and loopback addresses in a header cause fallthrough to the
// next source; the transport peer is the last resort and is returned
// even when private so localhost testing still works.
func FromRequest(r *http.Request) string {
	for _, h := range directHeaders {
		if ip := Normalize(r.Header.Get(h)); ip != "" && !IsPrivate(ip) {
			return ip
		}
	}

	// First public hop of the X-Forwarded-For chain.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, hop := range strings.Split(xff, ",") {
			if ip := Normalize(hop); ip != "" && !IsPrivate(ip) {
				return ip
			}
		}
	}

	for _, h := range vendorHeaders {
		if ip := Normalize(r.Header.Get(h)); ip != "" && !IsPrivate(ip) {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return Normalize(host)
}

// Normalize trims whitespace and strips the IPv4-mapped IPv6 prefix.
// Returns "" for anything that does not parse as an IP.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "::ffff:")
	if net.ParseIP(s) == nil {
		return ""
	}
	return s
}

var privateNets = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// IsPrivate reports whether ip falls in RFC1918 space or loopback.
func IsPrivate(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	if parsed.To4() == nil {
		return parsed.IsLoopback() || parsed.IsPrivate()
	}
	for _, n := range privateNets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// IsLoopback reports whether ip is a loopback address. Loopback traffic
// is never classified or cached.
func IsLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
