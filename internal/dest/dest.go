// Package dest holds the address model shared by destination discovery, the
// SOCKS5 codec and the upstream dialers.
package dest

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// MaxDomainLen is the longest name a SOCKS5 domain address can carry.
const MaxDomainLen = 255

// Kind identifies the variant held by an Address.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindIPv4
	KindIPv6
	KindDomain
)

func (k Kind) String() string {
	switch k {
	case KindIPv4:
		return "ipv4"
	case KindIPv6:
		return "ipv6"
	case KindDomain:
		return "domain"
	default:
		return "invalid"
	}
}

// Address is an IPv4 address, an IPv6 address or a domain name. The zero
// value is invalid.
type Address struct {
	ip     netip.Addr
	domain string
}

// IP returns an Address for ip. IPv4-mapped IPv6 addresses are unmapped.
func IP(ip netip.Addr) Address {
	return Address{ip: ip.Unmap()}
}

// Domain returns an Address for name. It does not validate the name.
func Domain(name string) Address {
	return Address{domain: name}
}

// ParseHost returns an IP Address if host parses as an IP, and a Domain
// otherwise.
func ParseHost(host string) Address {
	if ip, err := netip.ParseAddr(host); err == nil {
		return IP(ip)
	}
	return Domain(host)
}

func (a Address) Kind() Kind {
	switch {
	case a.domain != "":
		return KindDomain
	case a.ip.Is4():
		return KindIPv4
	case a.ip.Is6():
		return KindIPv6
	default:
		return KindInvalid
	}
}

// Addr returns the IP held by a, or the zero netip.Addr for domains.
func (a Address) Addr() netip.Addr { return a.ip }

// Name returns the domain held by a, or "" for IP addresses.
func (a Address) Name() string { return a.domain }

func (a Address) String() string {
	if a.domain != "" {
		return a.domain
	}
	if !a.ip.IsValid() {
		return "invalid"
	}
	return a.ip.String()
}

// Destination is the resolved target of a proxied connection.
type Destination struct {
	Host Address
	Port uint16
}

// FromAddrPort converts a socket address into a Destination.
func FromAddrPort(ap netip.AddrPort) Destination {
	return Destination{Host: IP(ap.Addr()), Port: ap.Port()}
}

// Parse parses a "host:port" string.
func Parse(hostport string) (Destination, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Destination{}, fmt.Errorf("parse destination %q: %w", hostport, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Destination{}, fmt.Errorf("parse destination %q: invalid port: %w", hostport, err)
	}
	if host == "" {
		return Destination{}, fmt.Errorf("parse destination %q: %w", hostport, errEmptyHost)
	}
	return Destination{Host: ParseHost(host), Port: uint16(port)}, nil
}

var errEmptyHost = errors.New("empty host")

// WithHost returns a copy of d pointing at host, keeping the port.
func (d Destination) WithHost(host Address) Destination {
	return Destination{Host: host, Port: d.Port}
}

// String returns the destination in net.Dial form.
func (d Destination) String() string {
	return net.JoinHostPort(d.Host.String(), strconv.Itoa(int(d.Port)))
}
