// Package relay copies bytes both ways between a client connection and its
// upstream connection.
//
// Reads go into scratch buffers shared through a ScratchPool. A direction
// whose peer is slow to accept a write moves the unwritten bytes into its own
// buffer, so a scratch buffer never sits in a stalled write.
package relay

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultHalfCloseTimeout = 60 * time.Second
	DefaultHandoffWait      = 5 * time.Millisecond
)

// Conn is the part of net.Conn the relay needs. Implementations must stay
// usable after a write deadline expires, which rules out *tls.Conn. A Conn
// that also has CloseWrite is half-closed when its input is exhausted.
type Conn interface {
	io.ReadWriteCloser
	SetWriteDeadline(t time.Time) error
}

// Relay holds the settings shared by every relayed connection.
type Relay struct {
	// Scratch supplies read buffers. Nil means a private pool per Relay.
	Scratch *ScratchPool

	// HalfCloseTimeout bounds how long one direction may stay open after
	// the other has finished.
	HalfCloseTimeout time.Duration

	// HandoffWait is how long a write from a scratch buffer may take before
	// the bytes move to a private buffer.
	HandoffWait time.Duration

	Log *zap.SugaredLogger

	once sync.Once
}

// Stats describes a finished relay.
type Stats struct {
	// Sent counts bytes written to upstream, Received bytes written to local.
	Sent     int64
	Received int64

	// Handoffs counts scratch buffers given up because a write stalled.
	Handoffs int

	// HalfCloseExpired is set when one direction never finished and the
	// relay was ended by the half-close timer.
	HalfCloseExpired bool
}

func (r *Relay) init() {
	r.once.Do(func() {
		if r.Scratch == nil {
			r.Scratch = NewScratchPool(ScratchSize)
		}
		if r.HalfCloseTimeout <= 0 {
			r.HalfCloseTimeout = DefaultHalfCloseTimeout
		}
		if r.HandoffWait <= 0 {
			r.HandoffWait = DefaultHandoffWait
		}
		if r.Log == nil {
			r.Log = zap.NewNop().Sugar()
		}
	})
}

// Run relays between local and upstream until both directions reach
// end-of-input, the half-close timer fires, an I/O error occurs, or ctx is
// done. Both connections are closed when Run returns. Reaching the
// half-close timeout is not an error.
func (r *Relay) Run(ctx context.Context, local, upstream Conn) (Stats, error) {
	r.init()

	up := r.direction("local->upstream", local, upstream)
	down := r.direction("upstream->local", upstream, local)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = local.Close()
			_ = upstream.Close()
		})
	}
	defer closeBoth()

	results := make(chan error, 2)
	go func() { results <- up.run() }()
	go func() { results <- down.run() }()

	running := 2
	abort := func() {
		closeBoth()
		for ; running > 0; running-- {
			<-results
		}
	}
	stats := func(expired bool) Stats {
		return Stats{
			Sent:             up.written,
			Received:         down.written,
			Handoffs:         up.handoffs + down.handoffs,
			HalfCloseExpired: expired,
		}
	}

	var expired <-chan time.Time
	for running > 0 {
		select {
		case err := <-results:
			running--
			if err != nil {
				abort()
				return stats(false), err
			}
			if running == 1 {
				t := time.NewTimer(r.HalfCloseTimeout)
				defer t.Stop()
				expired = t.C
			}
		case <-expired:
			r.Log.Debugf("relay: half-close timeout after %v", r.HalfCloseTimeout)
			abort()
			return stats(true), nil
		case <-ctx.Done():
			abort()
			return stats(false), context.Cause(ctx)
		}
	}
	return stats(false), nil
}

func (r *Relay) direction(name string, src, dst Conn) *direction {
	return &direction{
		name:        name,
		src:         src,
		dst:         dst,
		pool:        r.Scratch,
		handoffWait: r.HandoffWait,
		log:         r.Log,
	}
}
