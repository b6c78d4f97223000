package dialer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/die-net/redirsocks/internal/dest"
	"github.com/die-net/redirsocks/internal/socks5"
)

// aLongTimeAgo is a deadline in the past, used to abort blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// SOCKS5ProxyDialer reaches destinations through an upstream SOCKS5 proxy.
type SOCKS5ProxyDialer struct {
	cfg       Config
	proxyAddr string
	auth      socks5.Auth
}

// NewSOCKS5ProxyDialer constructs a dialer for the SOCKS5 proxy at proxyAddr.
// A non-empty username enables RFC 1929 username/password authentication.
func NewSOCKS5ProxyDialer(cfg Config, proxyAddr, username, password string) *SOCKS5ProxyDialer {
	return &SOCKS5ProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		auth:      socks5.Auth{Username: username, Password: password},
	}
}

// ProxyAddr returns the upstream proxy host:port.
func (f *SOCKS5ProxyDialer) ProxyAddr() string {
	return f.proxyAddr
}

// Dial connects to the upstream proxy, asks it to CONNECT to d, and writes
// pending once the proxy reports success.
//
// If NegotiationTimeout is set, it bounds the handshake and the pending write;
// the deadline is cleared before returning.
func (f *SOCKS5ProxyDialer) Dial(ctx context.Context, d dest.Destination, pending []byte) (net.Conn, error) {
	c, err := dialTCP(ctx, f.cfg, f.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(aLongTimeAgo)
	})

	if err := socks5.ClientDial(c, f.auth, d); err != nil {
		stop()
		_ = c.Close()
		return nil, fmt.Errorf("socks5 proxy %s connect %s: %w", f.proxyAddr, d, err)
	}
	if err := writePending(c, pending); err != nil {
		stop()
		_ = c.Close()
		return nil, fmt.Errorf("socks5 proxy %s: %w", f.proxyAddr, err)
	}

	if !stop() {
		_ = c.Close()
		return nil, fmt.Errorf("socks5 proxy %s connect %s: %w", f.proxyAddr, d, context.Cause(ctx))
	}
	_ = c.SetDeadline(time.Time{})
	return c, nil
}
