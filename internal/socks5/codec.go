package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/redirsocks/internal/dest"
)

const (
	// Version is the SOCKS protocol version byte.
	Version = txsocks5.Ver

	// CmdConnect is the SOCKS5 CONNECT command value.
	CmdConnect = txsocks5.CmdConnect

	MethodNone             = txsocks5.MethodNone
	MethodUsernamePassword = txsocks5.MethodUsernamePassword
)

// ErrProtocol is matched by errors caused by a peer that does not speak the
// expected subset of SOCKS5.
var ErrProtocol = errors.New("socks5: protocol violation")

// NewConnectRequest encodes a CONNECT request for d. Domain names longer than
// dest.MaxDomainLen cannot be encoded.
func NewConnectRequest(d dest.Destination) (*txsocks5.Request, error) {
	var (
		atyp byte
		addr []byte
	)
	switch d.Host.Kind() {
	case dest.KindIPv4:
		a := d.Host.Addr().As4()
		atyp, addr = txsocks5.ATYPIPv4, a[:]
	case dest.KindIPv6:
		a := d.Host.Addr().As16()
		atyp, addr = txsocks5.ATYPIPv6, a[:]
	case dest.KindDomain:
		if len(d.Host.Name()) > dest.MaxDomainLen {
			return nil, fmt.Errorf("encode %s: domain longer than %d bytes", d, dest.MaxDomainLen)
		}
		// NewRequest adds the length prefix for domains.
		atyp, addr = txsocks5.ATYPDomain, []byte(d.Host.Name())
	default:
		return nil, fmt.Errorf("encode %s: invalid address", d)
	}

	port := binary.BigEndian.AppendUint16(nil, d.Port)
	return txsocks5.NewRequest(txsocks5.CmdConnect, atyp, addr, port), nil
}

// WriteConnectRequest writes a CONNECT request for d to w.
func WriteConnectRequest(w io.Writer, d dest.Destination) error {
	req, err := NewConnectRequest(d)
	if err != nil {
		return err
	}
	if _, err := req.WriteTo(w); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// ReadConnectRequest reads a request from r and decodes its destination. Any
// command other than CONNECT is a protocol violation.
func ReadConnectRequest(r io.Reader) (dest.Destination, error) {
	req, err := txsocks5.NewRequestFrom(r)
	if err != nil {
		return dest.Destination{}, frameError("request", err)
	}
	if req.Cmd != txsocks5.CmdConnect {
		return dest.Destination{}, fmt.Errorf("%w: unsupported command %#x", ErrProtocol, req.Cmd)
	}
	return destinationFromRequest(req)
}

// ReadNegotiationReply reads a method-selection reply and checks that the
// server picked want.
func ReadNegotiationReply(r io.Reader, want byte) error {
	rep, err := txsocks5.NewNegotiationReplyFrom(r)
	if err != nil {
		return frameError("negotiation reply", err)
	}
	if rep.Ver != Version || rep.Method != want {
		return fmt.Errorf("%w: negotiation reply %#x %#x", ErrProtocol, rep.Ver, rep.Method)
	}
	return nil
}

// ReadConnectReply reads a CONNECT reply and checks that it reports success.
func ReadConnectReply(r io.Reader) error {
	rep, err := txsocks5.NewReplyFrom(r)
	if err != nil {
		return frameError("reply", err)
	}
	if rep.Ver != Version || rep.Rep != txsocks5.RepSuccess {
		return fmt.Errorf("%w: connect reply %#x %#x", ErrProtocol, rep.Ver, rep.Rep)
	}
	return nil
}

func destinationFromRequest(req *txsocks5.Request) (dest.Destination, error) {
	if len(req.DstPort) != 2 {
		return dest.Destination{}, fmt.Errorf("%w: bad port length %d", ErrProtocol, len(req.DstPort))
	}
	port := binary.BigEndian.Uint16(req.DstPort)

	switch req.Atyp {
	case txsocks5.ATYPIPv4:
		if len(req.DstAddr) != 4 {
			return dest.Destination{}, fmt.Errorf("%w: bad ipv4 length %d", ErrProtocol, len(req.DstAddr))
		}
		return dest.Destination{Host: dest.IP(netip.AddrFrom4([4]byte(req.DstAddr))), Port: port}, nil
	case txsocks5.ATYPIPv6:
		if len(req.DstAddr) != 16 {
			return dest.Destination{}, fmt.Errorf("%w: bad ipv6 length %d", ErrProtocol, len(req.DstAddr))
		}
		return dest.Destination{Host: dest.IP(netip.AddrFrom16([16]byte(req.DstAddr))), Port: port}, nil
	case txsocks5.ATYPDomain:
		name := domainFromWire(req.DstAddr)
		if name == "" {
			return dest.Destination{}, fmt.Errorf("%w: empty domain", ErrProtocol)
		}
		return dest.Destination{Host: dest.Domain(name), Port: port}, nil
	default:
		return dest.Destination{}, fmt.Errorf("%w: unsupported address type %#x", ErrProtocol, req.Atyp)
	}
}

// domainFromWire strips the length prefix txsocks5 keeps on decoded domains.
func domainFromWire(b []byte) string {
	if len(b) > 0 && int(b[0]) == len(b)-1 {
		return string(b[1:])
	}
	return string(b)
}

// frameError wraps a frame decoding error. Transport failures pass through;
// anything else the frame parser rejected is a protocol violation.
func frameError(op string, err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed),
		errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &ne):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrProtocol, err)
	}
}
