package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	utls "github.com/refraction-networking/utls"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/redirsocks/internal/dest"
	"github.com/die-net/redirsocks/internal/metrics"
	"github.com/die-net/redirsocks/internal/socks5"
	rstestutil "github.com/die-net/redirsocks/internal/testutil"
	"github.com/die-net/redirsocks/internal/tproxy"
)

func redirectTo(ap string) Lookup {
	orig := netip.MustParseAddrPort(ap)
	return LookupFunc(func(net.Conn) (netip.AddrPort, error) {
		return orig, nil
	})
}

var notRedirected = LookupFunc(func(net.Conn) (netip.AddrPort, error) {
	return netip.AddrPort{}, tproxy.ErrNotRedirected
})

func TestNegotiateRedirectSNI(t *testing.T) {
	t.Parallel()

	hello := rstestutil.ClientHelloRecord(t, utls.HelloChrome_Auto, "example.com")

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go func() { _, _ = client.Write(hello) }()

	m := metrics.New(nil)
	n := &Negotiator{Lookup: redirectTo("93.184.216.34:443"), SniffTimeout: 5 * time.Second, Metrics: m}
	s, err := n.Negotiate(context.Background(), server)
	if err != nil {
		t.Fatal(err)
	}

	want := dest.Destination{Host: dest.Domain("example.com"), Port: 443}
	if s.Dest != want {
		t.Fatalf("destination %v want %v", s.Dest, want)
	}
	if s.Via != ViaSNI {
		t.Fatalf("via %q want %q", s.Via, ViaSNI)
	}
	if !bytes.Equal(s.Pending, hello) {
		t.Fatalf("pending %d bytes, want the %d byte ClientHello", len(s.Pending), len(hello))
	}
	if got := testutil.ToFloat64(m.Sniffs.WithLabelValues(sniffFound)); got != 1 {
		t.Fatalf("sni sniffs %v want 1", got)
	}
}

func TestNegotiateRedirectFallbacks(t *testing.T) {
	t.Parallel()

	httpReq := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")

	tests := []struct {
		name        string
		orig        string
		send        []byte
		closeClient bool
		wantPending []byte
		wantResult  string
	}{
		{name: "peek timeout", orig: "93.184.216.34:443", wantResult: sniffTimeout},
		{name: "not tls", orig: "93.184.216.34:443", send: httpReq, wantPending: httpReq, wantResult: sniffMalformed},
		{name: "client closed", orig: "93.184.216.34:443", closeClient: true, wantResult: sniffClosed},
		{name: "not https", orig: "93.184.216.34:80"},
		{name: "ipv6", orig: "[2001:db8::1]:8443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()
			switch {
			case tt.send != nil:
				go func() { _, _ = client.Write(tt.send) }()
			case tt.closeClient:
				_ = client.Close()
			}

			m := metrics.New(nil)
			n := &Negotiator{Lookup: redirectTo(tt.orig), SniffTimeout: 50 * time.Millisecond, Metrics: m}
			s, err := n.Negotiate(context.Background(), server)
			if err != nil {
				t.Fatal(err)
			}

			want := dest.FromAddrPort(netip.MustParseAddrPort(tt.orig))
			if s.Dest != want {
				t.Fatalf("destination %v want %v", s.Dest, want)
			}
			if s.Via != ViaRedirect {
				t.Fatalf("via %q want %q", s.Via, ViaRedirect)
			}
			if !bytes.Equal(s.Pending, tt.wantPending) {
				t.Fatalf("pending %q want %q", s.Pending, tt.wantPending)
			}
			if tt.wantResult != "" {
				if got := testutil.ToFloat64(m.Sniffs.WithLabelValues(tt.wantResult)); got != 1 {
					t.Fatalf("%s sniffs %v want 1", tt.wantResult, got)
				}
			} else if got := testutil.CollectAndCount(m.Sniffs); got != 0 {
				t.Fatalf("sniffed %d times on a non-https port", got)
			}
		})
	}
}

func TestNegotiateSOCKS5(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fixedReply := []byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}

	g := errgroup.Group{}
	g.Go(func() error {
		if _, err := client.Write([]byte{0x05, 0x01, 0x00}); err != nil {
			return err
		}
		rep := make([]byte, 2)
		if _, err := io.ReadFull(client, rep); err != nil {
			return err
		}
		if !bytes.Equal(rep, []byte{0x05, 0x00}) {
			return fmt.Errorf("method reply %x", rep)
		}
		req := append([]byte{0x05, 0x01, 0x00, 0x03, byte(len("test.local"))}, "test.local"...)
		req = append(req, 0x1f, 0x90)
		if _, err := client.Write(req); err != nil {
			return err
		}
		rep = make([]byte, len(fixedReply))
		if _, err := io.ReadFull(client, rep); err != nil {
			return err
		}
		if !bytes.Equal(rep, fixedReply) {
			return fmt.Errorf("connect reply %x want %x", rep, fixedReply)
		}
		return nil
	})

	n := &Negotiator{Lookup: notRedirected}
	s, err := n.Negotiate(context.Background(), server)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	want := dest.Destination{Host: dest.Domain("test.local"), Port: 8080}
	if s.Dest != want {
		t.Fatalf("destination %v want %v", s.Dest, want)
	}
	if s.Via != ViaSOCKS5 {
		t.Fatalf("via %q want %q", s.Via, ViaSOCKS5)
	}
	if s.Pending != nil {
		t.Fatalf("unexpected pending bytes %q", s.Pending)
	}
}

func TestNegotiateUnredirectedMappedAddress(t *testing.T) {
	t.Parallel()

	accepted := make(chan net.Conn, 1)
	done := make(chan struct{})
	ln, wait := rstestutil.StartSingleAcceptServer(t, context.Background(), func(c net.Conn) {
		accepted <- c
		<-done
	})
	defer wait()
	defer close(done)

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	server := <-accepted

	// The kernel can report an IPv4 destination in IPv4-mapped form.
	mapped := LookupFunc(func(c net.Conn) (netip.AddrPort, error) {
		local := c.LocalAddr().(*net.TCPAddr).AddrPort()
		return netip.AddrPortFrom(netip.AddrFrom16(local.Addr().As16()), local.Port()), nil
	})

	want := dest.Destination{Host: dest.IP(netip.MustParseAddr("10.1.2.3")), Port: 22}
	g := errgroup.Group{}
	g.Go(func() error {
		return socks5.ClientDial(client, socks5.Auth{}, want)
	})

	n := &Negotiator{Lookup: mapped}
	s, err := n.Negotiate(context.Background(), server)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if s.Via != ViaSOCKS5 || s.Dest != want {
		t.Fatalf("got %v via %s, want %v via socks5", s.Dest, s.Via, want)
	}
	if s.LocalPort != uint16(ln.Addr().(*net.TCPAddr).Port) {
		t.Fatalf("local port %d", s.LocalPort)
	}
}

func TestNegotiateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		send     []byte
		timeout  time.Duration
		cancel   bool
		wantErr  error
		wantKind string
	}{
		{name: "not socks5", send: []byte("GET / HTTP/1.1\r\n"), wantErr: socks5.ErrProtocol, wantKind: "protocol"},
		{name: "socks4", send: []byte{0x04, 0x01, 0x00, 0x50}, wantErr: socks5.ErrProtocol, wantKind: "protocol"},
		{name: "silent client", timeout: 30 * time.Millisecond, wantErr: os.ErrDeadlineExceeded, wantKind: "timeout"},
		{name: "canceled", cancel: true, wantErr: context.Canceled, wantKind: "canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()
			if tt.send != nil {
				go func() { _, _ = client.Write(tt.send) }()
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				time.AfterFunc(20*time.Millisecond, cancel)
			}

			n := &Negotiator{Lookup: notRedirected, NegotiationTimeout: tt.timeout}
			_, err := n.Negotiate(ctx, server)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err=%v want %v", err, tt.wantErr)
			}
			if got := ErrorKind(err); got != tt.wantKind {
				t.Fatalf("ErrorKind(%v) = %q want %q", err, got, tt.wantKind)
			}
		})
	}
}

func TestServerName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		sni    string
		want   string
		result string
	}{
		{name: "domain", sni: "example.com", want: "example.com", result: sniffFound},
		{name: "trailing dot", sni: "example.com.", want: "example.com", result: sniffFound},
		{name: "ip literal", sni: "93.184.216.34", result: sniffBadName},
		{name: "long label", sni: string(bytes.Repeat([]byte("a"), 64)) + ".com", result: sniffBadName},
		{name: "empty", sni: "", result: sniffMalformed},
		{name: "root", sni: ".", result: sniffNoName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, result := serverName(rstestutil.MinimalClientHello(tt.sni))
			if got != tt.want || result != tt.result {
				t.Fatalf("serverName = %q, %q want %q, %q", got, result, tt.want, tt.result)
			}
		})
	}
}
