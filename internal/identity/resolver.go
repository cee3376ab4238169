// Package identity derives stable abuse-tracking identities for remote peers.
//
// The raw network address alone is a weak key: NATed clients share one, and a
// client behind rotating proxies sheds it cheaply. Combining the address with
// forwarded-for style header signals raises the cost of evading failure
// tracking without a full fingerprinting subsystem.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// secondarySignals are the header names inspected for additional client
// signals, in order of preference.
var secondarySignals = []string{
	"True-Client-Ip",
	"X-Forwarded-For",
	"X-Real-Ip",
}

// Resolve derives a stable client identity from the peer address and request
// headers. It never fails: with no usable secondary signal the bare address is
// returned as-is.
func Resolve(remoteAddr string, header http.Header) string {
	addr := stripPort(remoteAddr)

	var extra []string
	for _, name := range secondarySignals {
		if v := strings.TrimSpace(header.Get(name)); v != "" {
			extra = append(extra, v)
		}
	}

	if len(extra) == 0 {
		return addr
	}

	sum := sha256.Sum256([]byte(addr + "|" + strings.Join(extra, "|")))
	return hex.EncodeToString(sum[:16])
}

// FromRequest resolves the client identity for an HTTP request.
func FromRequest(r *http.Request) string {
	return Resolve(r.RemoteAddr, r.Header)
}

// ClientIP extracts the most plausible client IP for logging and event
// payloads: forwarded headers first, then the peer address.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("True-Client-Ip"); ip != "" {
		return ip
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP (original client)
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}

	return stripPort(r.RemoteAddr)
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
