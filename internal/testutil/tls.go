package testutil

import (
	"net"
	"testing"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/crypto/cryptobyte"
)

// ClientHelloRecord returns a TLS handshake record carrying the ClientHello
// that a client with fingerprint id would send to serverName.
func ClientHelloRecord(t *testing.T, id utls.ClientHelloID, serverName string) []byte {
	t.Helper()

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	uc := utls.UClient(c1, &utls.Config{ServerName: serverName}, id)
	if err := uc.BuildHandshakeState(); err != nil {
		t.Fatal(err)
	}

	var b cryptobyte.Builder
	b.AddUint8(22) // handshake
	b.AddUint16(0x0301)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(uc.HandshakeState.Hello.Raw)
	})
	return b.BytesOrPanic()
}

// MinimalClientHello returns a handshake record with a bare TLS 1.2
// ClientHello whose only extension is server_name carrying name.
func MinimalClientHello(name string) []byte {
	var b cryptobyte.Builder
	b.AddUint8(22)
	b.AddUint16(0x0301)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint8(1) // client_hello
		b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16(0x0303)
			b.AddBytes(make([]byte, 32))
			b.AddUint8(0) // session id
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint16(0xc02f)
			})
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint8(0)
			})
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint16(0) // server_name
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddUint8(0) // host_name
						b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
							b.AddBytes([]byte(name))
						})
					})
				})
			})
		})
	})
	return b.BytesOrPanic()
}
