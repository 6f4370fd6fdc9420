package quota

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nhalm/quota/ratelimit"
)

// KeyFunc extracts a rate limit identifier from a request.
// Returning an empty string means the value is missing.
type KeyFunc func(*http.Request) string

// KeyByIP identifies callers by RemoteAddr: "ip:<addr>".
// Use this for direct connections without a proxy.
func KeyByIP() KeyFunc {
	return func(r *http.Request) string {
		return ratelimit.IPKey(remoteIP(r))
	}
}

// KeyByRealIP identifies callers by X-Forwarded-For (first entry) or
// X-Real-IP: "ip:<addr>". Missing when neither header is set.
//
// SECURITY: Only use this behind a trusted reverse proxy that sets these headers.
// Without a proxy, clients can spoof X-Forwarded-For to bypass rate limits.
func KeyByRealIP() KeyFunc {
	return func(r *http.Request) string {
		ip := forwardedIP(r)
		if ip == "" {
			return ""
		}
		return ratelimit.IPKey(ip)
	}
}

// KeyByRoute identifies a caller on one route: "path:<ip>:<route>". The
// route is the chi pattern when the limiter runs after routing (r.With or
// inside r.Route), so /users/1 and /users/2 share a quota under
// /users/{id}. Otherwise the raw path is used.
func KeyByRoute() KeyFunc {
	return func(r *http.Request) string {
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		return ratelimit.PathKey(remoteIP(r), route)
	}
}

// KeyByUser identifies callers by the user id fn returns: "user:<id>".
// Missing when fn returns "".
func KeyByUser(fn func(*http.Request) string) KeyFunc {
	return func(r *http.Request) string {
		id := fn(r)
		if id == "" {
			return ""
		}
		return ratelimit.UserKey(id)
	}
}

// KeyByHeader identifies callers by a header value: "<header>:<value>".
// Missing when the header is absent.
func KeyByHeader(header string) KeyFunc {
	prefix := strings.ToLower(header) + ":"
	return func(r *http.Request) string {
		v := r.Header.Get(header)
		if v == "" {
			return ""
		}
		return prefix + v
	}
}

// KeyGlobal puts every request under one shared identifier.
func KeyGlobal() KeyFunc {
	return func(*http.Request) string {
		return ratelimit.GlobalKey
	}
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func forwardedIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	return ""
}
