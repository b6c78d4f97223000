package proxy

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/die-net/redirsocks/internal/dest"
	"github.com/die-net/redirsocks/internal/tlssni"
)

// sniffBufSize fits the largest TLS record plus its header.
const sniffBufSize = 5 + 16<<10

// Sniff results, as counted in metrics.
const (
	sniffFound     = "sni"
	sniffNoName    = "no_sni"
	sniffMalformed = "malformed"
	sniffBadName   = "bad_name"
	sniffTimeout   = "timeout"
	sniffClosed    = "closed"
)

// sniff does a single bounded read on s.Conn and, if it holds a ClientHello
// with a usable server name, points s at that name. Whatever was read is kept
// in s.Pending.
func (n *Negotiator) sniff(ctx context.Context, s *Session) {
	timeout := n.SniffTimeout
	if timeout <= 0 {
		timeout = DefaultSniffTimeout
	}

	buf := make([]byte, sniffBufSize)
	_ = s.Conn.SetReadDeadline(time.Now().Add(timeout))
	stop := context.AfterFunc(ctx, func() {
		_ = s.Conn.SetReadDeadline(aLongTimeAgo)
	})
	nr, err := s.Conn.Read(buf)
	stop()
	_ = s.Conn.SetReadDeadline(time.Time{})

	if nr > 0 {
		s.Pending = buf[:nr:nr]
	}

	var result string
	switch {
	case nr > 0:
		var name string
		name, result = serverName(s.Pending)
		if result == sniffFound {
			s.Dest = s.Dest.WithHost(dest.Domain(name))
			s.Via = ViaSNI
		}
	case errors.Is(err, os.ErrDeadlineExceeded):
		result = sniffTimeout
	default:
		result = sniffClosed
		if !errors.Is(err, io.EOF) {
			n.log().Debugf("proxy: %s: sniff read: %v", s.Conn.RemoteAddr(), err)
		}
	}

	if n.Metrics != nil {
		n.Metrics.Sniffs.WithLabelValues(result).Inc()
	}
	n.log().Debugf("proxy: %s: sniff %s: %d bytes, destination %s", s.Conn.RemoteAddr(), result, nr, s.Dest)
}

// serverName returns the server name in the ClientHello at the start of data
// and the sniff result.
func serverName(data []byte) (string, string) {
	hello, err := tlssni.ParseClientHello(data)
	if err != nil {
		return "", sniffMalformed
	}
	name := strings.TrimSuffix(hello.ServerName, ".")
	if name == "" {
		return "", sniffNoName
	}
	if _, err := netip.ParseAddr(name); err == nil {
		return "", sniffBadName
	}
	if _, ok := dns.IsDomainName(name); !ok || len(name) > dest.MaxDomainLen {
		return "", sniffBadName
	}
	return name, sniffFound
}
