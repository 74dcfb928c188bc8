package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the origin address: the first X-Forwarded-For hop, then
// X-Real-IP, then the transport peer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Device identifies the client device of a login.
type Device struct {
	ID    string
	Label string
}

// DeviceFromRequest reads X-Device-ID and X-Device-Name. Missing values are
// derived from the User-Agent.
func DeviceFromRequest(r *http.Request) Device {
	ua := r.UserAgent()
	d := Device{
		ID:    strings.TrimSpace(r.Header.Get("X-Device-ID")),
		Label: strings.TrimSpace(r.Header.Get("X-Device-Name")),
	}
	if d.ID == "" {
		if ua == "" {
			d.ID = "unknown"
		} else {
			sum := sha256.Sum256([]byte(ua))
			d.ID = "ua-" + hex.EncodeToString(sum[:8])
		}
	}
	if d.Label == "" {
		if ua == "" {
			d.Label = "Unknown Device"
		} else {
			d.Label = deviceType(ua) + " Device"
		}
	}
	return d
}

func deviceType(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "android"),
		strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		return "Mobile"
	case strings.Contains(ua, "tablet"):
		return "Tablet"
	default:
		return "Desktop"
	}
}

// bearerToken extracts the token of an Authorization header. present is
// true whenever the header is set, even if it is not a usable bearer value.
func bearerToken(value string) (token string, present bool) {
	if value == "" {
		return "", false
	}
	scheme, rest, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(rest), true
}
