package proxy

import (
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/redirsocks/internal/dialer"
	"github.com/die-net/redirsocks/internal/metrics"
	"github.com/die-net/redirsocks/internal/relay"
)

// Lookup returns the address an accepted connection was sent to before it
// was redirected. tproxy.Lookup is the platform implementation.
type Lookup interface {
	OriginalDst(c net.Conn) (netip.AddrPort, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(c net.Conn) (netip.AddrPort, error)

func (f LookupFunc) OriginalDst(c net.Conn) (netip.AddrPort, error) {
	return f(c)
}

type Config struct {
	Dialer dialer.Dialer
	Lookup Lookup

	NegotiationTimeout time.Duration
	SniffTimeout       time.Duration
	HalfCloseTimeout   time.Duration

	Scratch *relay.ScratchPool
	Metrics *metrics.Metrics
	Log     *zap.SugaredLogger
}
