// Package tlssni extracts the Server Name Indication from a TLS ClientHello.
//
// The parser only looks at the first TLS record in the buffer it is given.
// A ClientHello that is split across several records, or that has not fully
// arrived yet, is reported as ErrTruncated rather than reassembled.
package tlssni

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/cryptobyte"
)

const (
	recordHeaderLen = 5

	contentTypeHandshake = 22
	handshakeClientHello = 1

	extensionServerName = 0
	nameTypeHostName    = 0
)

// ErrMalformed is matched by every error ParseClientHello returns.
var ErrMalformed = errors.New("tlssni: malformed client hello")

var (
	ErrShortRecord        = fmt.Errorf("%w: record shorter than header", ErrMalformed)
	ErrTruncated          = fmt.Errorf("%w: truncated", ErrMalformed)
	ErrNotHandshake       = fmt.Errorf("%w: not a handshake record", ErrMalformed)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrMalformed)
	ErrNotClientHello     = fmt.Errorf("%w: not a client hello", ErrMalformed)
	ErrBadServerName      = fmt.Errorf("%w: bad server name", ErrMalformed)
)

// ClientHello is the part of a ClientHello this package cares about.
type ClientHello struct {
	// ServerName is the first host_name entry of the server_name extension,
	// or "" if the extension is absent.
	ServerName string
}

// ParseClientHello parses the TLS record at the start of data.
func ParseClientHello(data []byte) (*ClientHello, error) {
	if len(data) < recordHeaderLen {
		return nil, ErrShortRecord
	}

	s := cryptobyte.String(data)
	var contentType, major, minor uint8
	var fragment cryptobyte.String
	if !s.ReadUint8(&contentType) || !s.ReadUint8(&major) || !s.ReadUint8(&minor) {
		return nil, ErrShortRecord
	}
	if contentType != contentTypeHandshake {
		return nil, ErrNotHandshake
	}
	if major != 3 {
		return nil, ErrUnsupportedVersion
	}
	if !s.ReadUint16LengthPrefixed(&fragment) {
		return nil, fmt.Errorf("%w: record fragment", ErrTruncated)
	}

	var hsType uint8
	var body cryptobyte.String
	if !fragment.ReadUint8(&hsType) {
		return nil, fmt.Errorf("%w: handshake header", ErrTruncated)
	}
	if hsType != handshakeClientHello {
		return nil, ErrNotClientHello
	}
	if !fragment.ReadUint24LengthPrefixed(&body) {
		return nil, fmt.Errorf("%w: handshake body", ErrTruncated)
	}

	var versionMajor uint8
	if !body.ReadUint8(&versionMajor) {
		return nil, fmt.Errorf("%w: client version", ErrTruncated)
	}
	if versionMajor != 3 {
		return nil, ErrUnsupportedVersion
	}

	var sessionID, cipherSuites, compression cryptobyte.String
	if !body.Skip(1) || !body.Skip(32) {
		return nil, fmt.Errorf("%w: random", ErrTruncated)
	}
	if !body.ReadUint8LengthPrefixed(&sessionID) {
		return nil, fmt.Errorf("%w: session id", ErrTruncated)
	}
	if !body.ReadUint16LengthPrefixed(&cipherSuites) {
		return nil, fmt.Errorf("%w: cipher suites", ErrTruncated)
	}
	if !body.ReadUint8LengthPrefixed(&compression) {
		return nil, fmt.Errorf("%w: compression methods", ErrTruncated)
	}

	hello := &ClientHello{}
	if body.Empty() {
		// Extensions are optional.
		return hello, nil
	}

	var exts cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&exts) {
		return nil, fmt.Errorf("%w: extensions", ErrTruncated)
	}
	for !exts.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !exts.ReadUint16(&extType) || !exts.ReadUint16LengthPrefixed(&extData) {
			return nil, fmt.Errorf("%w: extension", ErrTruncated)
		}
		if extType != extensionServerName || hello.ServerName != "" {
			continue
		}
		name, err := parseServerName(extData)
		if err != nil {
			return nil, err
		}
		hello.ServerName = name
	}

	return hello, nil
}

func parseServerName(ext cryptobyte.String) (string, error) {
	var list cryptobyte.String
	if !ext.ReadUint16LengthPrefixed(&list) {
		return "", fmt.Errorf("%w: server name list", ErrTruncated)
	}
	for !list.Empty() {
		var nameType uint8
		var name cryptobyte.String
		if !list.ReadUint8(&nameType) || !list.ReadUint16LengthPrefixed(&name) {
			return "", fmt.Errorf("%w: server name entry", ErrTruncated)
		}
		if nameType != nameTypeHostName {
			continue
		}
		if len(name) == 0 || !utf8.Valid(name) {
			return "", ErrBadServerName
		}
		return string(name), nil
	}
	return "", nil
}
