package dialer

import (
	"context"
	"net"

	"github.com/die-net/redirsocks/internal/dest"
)

type directDialer struct {
	cfg Config
}

// NewDirectDialer returns a Dialer that connects straight to the destination.
func NewDirectDialer(cfg Config) Dialer {
	return &directDialer{cfg: cfg}
}

func (f *directDialer) Dial(ctx context.Context, d dest.Destination, pending []byte) (net.Conn, error) {
	conn, err := dialTCP(ctx, f.cfg, d.String())
	if err != nil {
		return nil, err
	}
	if err := writePending(conn, pending); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
