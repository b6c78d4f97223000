package proxy

import (
	"context"
	"fmt"
	"net"
)

// Listen listens for TCP on addr. Accepted connections get keepAlive
// applied; a disabled config turns keepalives off rather than leaving the
// system default.
func Listen(ctx context.Context, addr string, keepAlive net.KeepAliveConfig) (net.Listener, error) {
	lc := net.ListenConfig{KeepAliveConfig: keepAlive}
	if !keepAlive.Enable {
		lc.KeepAlive = -1
	}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}
