package socks5

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/redirsocks/internal/dest"
)

// ServerNegotiate runs method negotiation with a local client. first is the
// version byte the caller already consumed while deciding whether the client
// speaks SOCKS5. Only "no auth" is accepted.
func ServerNegotiate(rw io.ReadWriter, first byte) error {
	if first != Version {
		return fmt.Errorf("%w: version %#x", ErrProtocol, first)
	}

	neg, err := txsocks5.NewNegotiationRequestFrom(io.MultiReader(bytes.NewReader([]byte{first}), rw))
	if err != nil {
		return frameError("negotiation request", err)
	}

	if !slices.Contains(neg.Methods, txsocks5.MethodNone) {
		writeNoAcceptableMethods(rw)
		return fmt.Errorf("%w: client does not support no-auth", ErrProtocol)
	}
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(rw); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}
	return nil
}

// ServerHandshake runs the whole server-role handshake: negotiation, the
// CONNECT request, and the fixed success reply. It returns the destination
// the client asked for.
func ServerHandshake(rw io.ReadWriter, first byte) (dest.Destination, error) {
	if err := ServerNegotiate(rw, first); err != nil {
		return dest.Destination{}, err
	}

	req, err := txsocks5.NewRequestFrom(rw)
	if err != nil {
		err = frameError("request", err)
		if errors.Is(err, ErrProtocol) {
			WriteAddressNotSupportedReply(rw)
		}
		return dest.Destination{}, err
	}
	if req.Cmd != txsocks5.CmdConnect {
		WriteCommandNotSupportedReply(rw, req.Atyp)
		return dest.Destination{}, fmt.Errorf("%w: unsupported command %#x", ErrProtocol, req.Cmd)
	}

	d, err := destinationFromRequest(req)
	if err != nil {
		WriteAddressNotSupportedReply(rw)
		return dest.Destination{}, err
	}

	if err := WriteSuccessReply(rw); err != nil {
		return dest.Destination{}, err
	}
	return d, nil
}
