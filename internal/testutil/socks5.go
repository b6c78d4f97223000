package testutil

import (
	"context"
	"io"
	"net"

	"github.com/txthinking/socks5"
)

// SOCKS5Upstream is a minimal upstream SOCKS5 proxy for tests.
type SOCKS5Upstream struct {
	User string
	Pass string

	// Dial connects to the requested address. Nil dials it for real.
	Dial func(ctx context.Context, address string) (net.Conn, error)

	// Requests, if set, receives every requested address.
	Requests chan<- string
}

// Serve handles one client connection: negotiation, CONNECT, then a relay
// that propagates half-closes.
func (u *SOCKS5Upstream) Serve(ctx context.Context, c net.Conn) error {
	if _, err := socks5.NewNegotiationRequestFrom(c); err != nil {
		return err
	}

	if u.User == "" && u.Pass == "" {
		if _, err := socks5.NewNegotiationReply(socks5.MethodNone).WriteTo(c); err != nil {
			return err
		}
	} else {
		if _, err := socks5.NewNegotiationReply(socks5.MethodUsernamePassword).WriteTo(c); err != nil {
			return err
		}

		urq, err := socks5.NewUserPassNegotiationRequestFrom(c)
		if err != nil {
			return err
		}
		if string(urq.Uname) != u.User || string(urq.Passwd) != u.Pass {
			_, _ = socks5.NewUserPassNegotiationReply(socks5.UserPassStatusFailure).WriteTo(c)
			return nil
		}
		if _, err := socks5.NewUserPassNegotiationReply(socks5.UserPassStatusSuccess).WriteTo(c); err != nil {
			return err
		}
	}

	req, err := socks5.NewRequestFrom(c)
	if err != nil {
		return err
	}
	if req.Cmd != socks5.CmdConnect {
		_, _ = socks5.NewReply(socks5.RepCommandNotSupported, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return nil
	}
	if u.Requests != nil {
		u.Requests <- req.Address()
	}

	dial := u.Dial
	if dial == nil {
		dial = func(ctx context.Context, address string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "tcp", address)
		}
	}
	dst, err := dial(ctx, req.Address())
	if err != nil {
		_, _ = socks5.NewReply(socks5.RepHostUnreachable, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return nil
	}
	defer dst.Close()

	if _, err := socks5.NewReply(socks5.RepSuccess, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(dst, c)
		CloseWrite(dst)
	}()
	_, _ = io.Copy(c, dst)
	CloseWrite(c)
	<-done

	return nil
}

// CloseWrite half-closes c if it supports it, and fully closes it otherwise.
func CloseWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = c.Close()
}
