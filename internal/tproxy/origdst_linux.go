//go:build linux

package tproxy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// IsSupported is true where OriginalDst can return a real answer.
const IsSupported = true

// ip6tSOOriginalDst is IP6T_SO_ORIGINAL_DST from linux/netfilter_ipv6/ip6_tables.h,
// which x/sys/unix does not export.
const ip6tSOOriginalDst = 80

// OriginalDst returns the address c was sent to before it was redirected. The
// kernel also answers for connections that conntrack saw but nothing
// redirected; in that case the result equals c's local address.
func OriginalDst(c net.Conn) (netip.AddrPort, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("%w: %T has no socket", ErrNotRedirected, c)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %w", ErrNotRedirected, err)
	}

	var (
		ap     netip.AddrPort
		optErr error
	)
	err = rc.Control(func(fd uintptr) {
		ap, optErr = originalDst(int(fd))
	})
	if err == nil {
		err = optErr
	}
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %w", ErrNotRedirected, err)
	}
	return ap, nil
}

func originalDst(fd int) (netip.AddrPort, error) {
	// IPv6Mreq is the only getsockopt helper whose struct is big enough to
	// hold a sockaddr_in.
	mreq, err4 := unix.GetsockoptIPv6Mreq(fd, unix.SOL_IP, unix.SO_ORIGINAL_DST)
	if err4 == nil {
		raw := mreq.Multiaddr
		addr := netip.AddrFrom4([4]byte(raw[4:8]))
		return netip.AddrPortFrom(addr, binary.BigEndian.Uint16(raw[2:4])), nil
	}

	info, err6 := unix.GetsockoptIPv6MTUInfo(fd, unix.SOL_IPV6, ip6tSOOriginalDst)
	if err6 != nil {
		return netip.AddrPort{}, fmt.Errorf("getsockopt SO_ORIGINAL_DST: %w", errors.Join(err4, err6))
	}
	if info.Addr.Family != unix.AF_INET6 {
		return netip.AddrPort{}, fmt.Errorf("getsockopt IP6T_SO_ORIGINAL_DST: unexpected family %d", info.Addr.Family)
	}
	// Port is in network byte order.
	port := (*[2]byte)(unsafe.Pointer(&info.Addr.Port))
	return netip.AddrPortFrom(netip.AddrFrom16(info.Addr.Addr), binary.BigEndian.Uint16(port[:])), nil
}
