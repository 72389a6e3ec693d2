package redact

import (
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// SanitizeIP truncates an address so it no longer identifies a household. IPv4 keeps
// the first three octets, IPv6 the first four groups. Host:port forms are accepted.
// Empty input yields an empty string; anything unparseable yields MarkerIP.
func SanitizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	raw = strings.Trim(raw, "[]")
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return MarkerIP
	}
	addr = addr.WithZone("")
	if addr.Is4() || addr.Is4In6() {
		octets := addr.Unmap().As4()
		return strconv.Itoa(int(octets[0])) + "." + strconv.Itoa(int(octets[1])) + "." + strconv.Itoa(int(octets[2])) + ".xxx"
	}
	groups := strings.Split(addr.StringExpanded(), ":")
	return strings.Join(groups[:4], ":") + "::xxxx"
}
