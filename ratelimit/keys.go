package ratelimit

import "strings"

// GlobalKey is the identifier shared by every caller of a global limit.
const GlobalKey = "global"

// IPKey returns the identifier for a client address: "ip:<addr>".
func IPKey(addr string) string {
	return "ip:" + addr
}

// UserKey returns the identifier for an authenticated user: "user:<id>".
func UserKey(id string) string {
	return "user:" + id
}

// PathKey returns the identifier for a client on one route: "path:<ip>:<route>".
func PathKey(ip, route string) string {
	var b strings.Builder
	b.Grow(6 + len(ip) + len(route))
	b.WriteString("path:")
	b.WriteString(ip)
	b.WriteByte(':')
	b.WriteString(route)
	return b.String()
}
