package socks5

import (
	"fmt"
	"io"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/redirsocks/internal/dest"
)

// ClientDial negotiates with an upstream SOCKS5 server over rw and asks it to
// CONNECT to d.
func ClientDial(rw io.ReadWriter, auth Auth, d dest.Destination) error {
	if err := ClientNegotiate(rw, auth); err != nil {
		return err
	}
	if err := ClientConnect(rw, d); err != nil {
		return err
	}
	return nil
}

func ClientNegotiate(rw io.ReadWriter, auth Auth) error {
	method := byte(txsocks5.MethodNone)
	if auth.Username != "" {
		method = txsocks5.MethodUsernamePassword
	}

	if _, err := txsocks5.NewNegotiationRequest([]byte{method}).WriteTo(rw); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}
	if err := ReadNegotiationReply(rw, method); err != nil {
		return err
	}
	if method == txsocks5.MethodNone {
		return nil
	}

	if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(rw); err != nil {
		return fmt.Errorf("write userpass: %w", err)
	}
	rep, err := txsocks5.NewUserPassNegotiationReplyFrom(rw)
	if err != nil {
		return frameError("read userpass", err)
	}
	if rep.Status != txsocks5.UserPassStatusSuccess {
		return fmt.Errorf("%w: upstream rejected credentials", ErrProtocol)
	}
	return nil
}

func ClientConnect(rw io.ReadWriter, d dest.Destination) error {
	if err := WriteConnectRequest(rw, d); err != nil {
		return err
	}
	return ReadConnectReply(rw)
}
