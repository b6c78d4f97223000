package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/redirsocks/internal/metrics"
	"github.com/die-net/redirsocks/internal/relay"
	"github.com/die-net/redirsocks/internal/socks5"
)

// ErrUpstream is matched by errors from connecting to a destination through
// the upstream dialer.
var ErrUpstream = errors.New("upstream dial failed")

type Server struct {
	ctx        context.Context
	cfg        Config
	negotiator *Negotiator
	relay      *relay.Relay
	metrics    *metrics.Metrics
	log        *zap.SugaredLogger
}

func NewServer(ctx context.Context, cfg Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}

	return &Server{
		ctx: ctx,
		cfg: cfg,
		negotiator: &Negotiator{
			Lookup:             cfg.Lookup,
			NegotiationTimeout: cfg.NegotiationTimeout,
			SniffTimeout:       cfg.SniffTimeout,
			Metrics:            cfg.Metrics,
			Log:                cfg.Log,
		},
		relay: &relay.Relay{
			Scratch:          cfg.Scratch,
			HalfCloseTimeout: cfg.HalfCloseTimeout,
			Log:              cfg.Log,
		},
		metrics: cfg.Metrics,
		log:     cfg.Log,
	}
}

// Serve accepts connections on ln until it fails, handling each one in its
// own goroutine. Per-connection errors are logged and counted.
func (s *Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go s.handle(c)
	}
}

func (s *Server) handle(c net.Conn) {
	s.metrics.Active.Inc()
	defer s.metrics.Active.Dec()

	if err := s.serveConn(c); err != nil {
		kind := ErrorKind(err)
		s.metrics.Errors.WithLabelValues(kind).Inc()
		s.log.Warnf("proxy: %s: %s: %v", c.RemoteAddr(), kind, err)
	}
}

func (s *Server) serveConn(c net.Conn) error {
	defer c.Close()
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	start := time.Now()
	sess, err := s.negotiator.Negotiate(ctx, c)
	if err != nil {
		return fmt.Errorf("negotiate: %w", err)
	}
	s.metrics.Connections.WithLabelValues(string(sess.Via)).Inc()
	s.log.Debugf("proxy: %s -> %s via %s on port %d", sess.Source, sess.Dest, sess.Via, sess.LocalPort)

	up, err := s.cfg.Dialer.Dial(ctx, sess.Dest, sess.Pending)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	stats, err := s.relay.Run(ctx, c, up)
	s.metrics.Bytes.WithLabelValues("sent").Add(float64(stats.Sent + int64(len(sess.Pending))))
	s.metrics.Bytes.WithLabelValues("received").Add(float64(stats.Received))
	s.metrics.Handoffs.Add(float64(stats.Handoffs))
	if stats.HalfCloseExpired {
		s.metrics.HalfCloseTimeouts.Inc()
	}
	if err != nil {
		return fmt.Errorf("relay %s: %w", sess.Dest, err)
	}

	s.log.Debugf("proxy: %s -> %s done in %v: sent %d, received %d, half-close expired %t",
		sess.Source, sess.Dest, time.Since(start).Round(time.Millisecond),
		stats.Sent+int64(len(sess.Pending)), stats.Received, stats.HalfCloseExpired)
	return nil
}

// ErrorKind names the class of a per-connection error for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.Is(err, socks5.ErrProtocol):
		return "protocol"
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, relay.ErrWriteZero):
		return "write_zero"
	default:
		return "io"
	}
}
