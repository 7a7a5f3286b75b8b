package util

import (
	"errors"
	"net"

	"github.com/wlynxg/anet"
)

// ErrNoLANAddress is returned when no interface carries a private IPv4.
var ErrNoLANAddress = errors.New("no LAN IPv4 address found")

// LocalIPv4 returns the first private IPv4 address on an up, non-loopback
// interface. anet is used instead of net.Interfaces because the latter fails
// on Android.
func LocalIPv4() (net.IP, error) {
	ifaces, err := anet.Interfaces()
	if err != nil {
		return nil, err
	}

	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := anet.InterfaceAddrsByInterface(iface)
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil && ip4.IsPrivate() {
				return ip4, nil
			}
		}
	}

	return nil, ErrNoLANAddress
}

// SplitHost returns the host part of a "host:port" string, or the input
// unchanged when it carries no port.
func SplitHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
