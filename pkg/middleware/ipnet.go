package middleware

import (
	"log/slog"
	"net"
	"net/netip"
)

// ParseCIDRs parses cidrs into masked prefixes. Invalid entries are logged
// and skipped.
func ParseCIDRs(cidrs []string, logger *slog.Logger) []netip.Prefix {
	var prefixes []netip.Prefix
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			logger.Warn("invalid CIDR, skipping",
				slog.String("cidr", cidr),
				slog.String("error", err.Error()),
			)
			continue
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes
}

// RemoteHost returns the host part of a RemoteAddr, or the value itself when
// it carries no port.
func RemoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// InPrefixes reports whether host is an IP address inside one of prefixes.
// IPv4-mapped IPv6 addresses match their IPv4 form.
func InPrefixes(prefixes []netip.Prefix, host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
