package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/redirsocks/internal/dest"
	"github.com/die-net/redirsocks/internal/metrics"
	"github.com/die-net/redirsocks/internal/socks5"
)

const (
	DefaultNegotiationTimeout = 10 * time.Second
	DefaultSniffTimeout       = 500 * time.Millisecond

	httpsPort = 443
)

// aLongTimeAgo is a deadline in the past, used to abort blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Via names how a session's destination was found.
type Via string

const (
	ViaRedirect Via = "redirect"
	ViaSNI      Via = "sni"
	ViaSOCKS5   Via = "socks5"
)

// Session is an accepted connection whose destination is known.
type Session struct {
	Conn   net.Conn
	Source netip.AddrPort
	Dest   dest.Destination

	// Pending holds bytes read from Conn while sniffing. They must reach
	// upstream before anything else read from Conn.
	Pending []byte

	LocalPort uint16
	Via       Via
}

// Negotiator finds the destination of accepted connections.
type Negotiator struct {
	Lookup             Lookup
	NegotiationTimeout time.Duration
	SniffTimeout       time.Duration
	Metrics            *metrics.Metrics
	Log                *zap.SugaredLogger
}

func (n *Negotiator) log() *zap.SugaredLogger {
	if n.Log == nil {
		return zap.NewNop().Sugar()
	}
	return n.Log
}

// Negotiate resolves c's destination. Redirected connections need no client
// interaction unless they are headed for port 443, in which case the first
// read is sniffed for a TLS server name. Everything else goes through the
// SOCKS5 server handshake.
func (n *Negotiator) Negotiate(ctx context.Context, c net.Conn) (*Session, error) {
	local := addrPortOf(c.LocalAddr())
	s := &Session{
		Conn:      c,
		Source:    addrPortOf(c.RemoteAddr()),
		LocalPort: local.Port(),
	}

	if orig, ok := n.redirected(c, local); ok {
		s.Dest = dest.FromAddrPort(orig)
		s.Via = ViaRedirect
		if s.Dest.Port == httpsPort {
			n.sniff(ctx, s)
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
		}
		return s, nil
	}

	d, err := n.socks5(ctx, c)
	if err != nil {
		return nil, err
	}
	s.Dest = d
	s.Via = ViaSOCKS5
	return s, nil
}

// redirected reports whether c arrived through a redirect, and where it was
// originally going.
func (n *Negotiator) redirected(c net.Conn, local netip.AddrPort) (netip.AddrPort, bool) {
	if n.Lookup == nil {
		return netip.AddrPort{}, false
	}
	orig, err := n.Lookup.OriginalDst(c)
	if err != nil {
		n.log().Debugf("proxy: %s: %v", c.RemoteAddr(), err)
		return netip.AddrPort{}, false
	}
	if canonical(orig) == canonical(local) {
		return netip.AddrPort{}, false
	}
	return orig, true
}

func (n *Negotiator) socks5(ctx context.Context, c net.Conn) (dest.Destination, error) {
	timeout := n.NegotiationTimeout
	if timeout <= 0 {
		timeout = DefaultNegotiationTimeout
	}
	_ = c.SetDeadline(time.Now().Add(timeout))
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(aLongTimeAgo)
	})

	d, err := handshake(c)
	if !stop() {
		return dest.Destination{}, fmt.Errorf("socks5 handshake: %w", context.Cause(ctx))
	}
	if err != nil {
		return dest.Destination{}, fmt.Errorf("socks5 handshake: %w", err)
	}
	_ = c.SetDeadline(time.Time{})
	return d, nil
}

func handshake(c net.Conn) (dest.Destination, error) {
	var first [1]byte
	if _, err := io.ReadFull(c, first[:]); err != nil {
		return dest.Destination{}, fmt.Errorf("read version: %w", err)
	}
	return socks5.ServerHandshake(c, first[0])
}

// canonical maps IPv4 addresses to their IPv4-mapped IPv6 form so addresses
// from v4 and dual-stack sockets compare equal.
func canonical(ap netip.AddrPort) netip.AddrPort {
	a := ap.Addr()
	if a.Is4() {
		a = netip.AddrFrom16(a.As16())
	}
	return netip.AddrPortFrom(a.WithZone(""), ap.Port())
}

func addrPortOf(a net.Addr) netip.AddrPort {
	if ta, ok := a.(*net.TCPAddr); ok {
		return ta.AddrPort()
	}
	if a == nil {
		return netip.AddrPort{}
	}
	ap, _ := netip.ParseAddrPort(a.String())
	return ap
}
