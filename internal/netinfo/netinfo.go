// Package netinfo reports the address the panel is reachable on.
package netinfo

import (
	"net"
)

// LocalIP returns the first IPv4 address of an interface that is up and
// not a loopback, or "" when none is configured yet.
func LocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ip := FirstIPv4(addrs); ip != "" {
			return ip
		}
	}
	return ""
}

// FirstIPv4 picks the first non-loopback, non-link-local IPv4 address
func FirstIPv4(addrs []net.Addr) string {
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		ip = ip.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		return ip.String()
	}
	return ""
}
