//go:build !linux

package tproxy

import (
	"net"
	"net/netip"
)

// IsSupported is true where OriginalDst can return a real answer.
const IsSupported = false

func OriginalDst(_ net.Conn) (netip.AddrPort, error) {
	return netip.AddrPort{}, ErrNotSupported
}
