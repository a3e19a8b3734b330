package client

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// localHostnames are accepted without resolution.
var localHostnames = map[string]bool{
	"localhost": true,
}

// checkEndpoint verifies the configured endpoint resolves to loopback
// or private address space. It runs before every network interaction,
// not only at construction, so reconfiguring the client to a remote
// target is rejected on the next call.
func (c *Client) checkEndpoint(ctx context.Context) error {
	host, _, err := net.SplitHostPort(c.cfg.Endpoint)
	if err != nil {
		// Endpoint without a port: treat the whole value as the host.
		host = c.cfg.Endpoint
	}

	if host == "" {
		return fmt.Errorf("%w: empty endpoint", ErrConnectivity)
	}

	if localHostnames[strings.ToLower(host)] {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if !localIP(ip) {
			return fmt.Errorf("%w: %s", ErrConnectivity, host)
		}
		return nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve %s:\n%v", ErrConnectivity, host, err)
	}

	// Every resolved address must be local; one public address is
	// enough to leak the commit off-host.
	for _, addr := range addrs {
		if !localIP(addr.IP) {
			return fmt.Errorf("%w: %s resolves to %s", ErrConnectivity, host, addr.IP)
		}
	}

	return nil
}

// localIP reports whether the address is loopback (127.0.0.0/8, ::1)
// or private (10.0.0.0/8, 172.16.0.0/12, 192.168.0.0/16). Link-local
// addresses are rejected: they can reach other hosts on the segment.
func localIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate()
}
