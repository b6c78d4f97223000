package tproxy

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// ErrNotRedirected is matched by every error OriginalDst returns. Callers treat
// it as "the client connected to us on purpose".
var ErrNotRedirected = errors.New("tproxy: connection was not redirected")

// ErrNotSupported is returned on platforms without an original-destination
// lookup. It matches ErrNotRedirected.
var ErrNotSupported = fmt.Errorf("%w: lookup not supported on this platform", ErrNotRedirected)

// Lookup is the platform original-destination lookup as a value that can be
// injected into the proxy.
type Lookup struct{}

func (Lookup) OriginalDst(c net.Conn) (netip.AddrPort, error) {
	return OriginalDst(c)
}
