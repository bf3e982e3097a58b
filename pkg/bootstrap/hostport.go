package bootstrap

import (
	"net"
	"strings"
)

// NormalizeHostPort strips an http:// or https:// prefix and adds defPort when the
// address carries no port. Bare IPv6 addresses are bracketed.
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}
	addr = strings.TrimSuffix(addr, "/")

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), defPort)
}

// HostOnly drops any scheme and port from addr.
func HostOnly(addr string) string {
	hp := NormalizeHostPort(addr, "0")
	host, _, err := net.SplitHostPort(hp)
	if err != nil {
		return addr
	}
	return host
}
