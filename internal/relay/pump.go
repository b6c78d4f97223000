package relay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
)

// ErrWriteZero is returned when a peer accepts a write of zero bytes without
// reporting an error.
var ErrWriteZero = errors.New("relay: write accepted zero bytes")

// direction moves bytes from src to dst. buf[off:end] holds bytes read from
// src that have not been written to dst yet.
type direction struct {
	name        string
	src, dst    Conn
	pool        *ScratchPool
	handoffWait time.Duration
	log         *zap.SugaredLogger

	lease   *scratch
	private []byte
	buf     []byte
	off     int
	end     int
	eof     bool
	done    bool

	written  int64
	handoffs int
}

func (d *direction) run() error {
	for !d.done {
		if err := d.step(); err != nil {
			d.discard()
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	d.release()
	return nil
}

func (d *direction) step() error {
	if d.off == d.end && !d.eof {
		if err := d.fill(); err != nil {
			return err
		}
	}
	if d.off < d.end {
		if err := d.flush(); err != nil {
			return err
		}
	}
	if d.eof && d.off == d.end {
		if err := closeWrite(d.dst); err != nil {
			d.log.Debugf("relay: %s: shutdown: %v", d.name, err)
		}
		d.done = true
	}
	return nil
}

// fill reads once from src into the private buffer, or into a leased scratch
// buffer if no private buffer exists yet.
func (d *direction) fill() error {
	if d.private != nil {
		d.buf = d.private
	} else {
		d.lease = d.pool.get()
		d.buf = d.lease.buf
	}

	n, err := d.src.Read(d.buf)
	d.off, d.end = 0, n
	if d.lease != nil {
		if n > 0 {
			d.lease.dirty = true
		} else {
			d.release()
		}
	}

	switch {
	case errors.Is(err, io.EOF):
		d.eof = true
	case err != nil:
		return fmt.Errorf("read: %w", err)
	}
	return nil
}

// flush writes buf[off:end] to dst. Bytes in a scratch buffer get handoffWait
// to drain; whatever is left after that moves to a private buffer so the
// scratch buffer can go back to the pool before the write blocks.
func (d *direction) flush() error {
	if d.lease == nil {
		return d.write()
	}

	_ = d.dst.SetWriteDeadline(time.Now().Add(d.handoffWait))
	err := d.write()
	_ = d.dst.SetWriteDeadline(time.Time{})
	if err == nil {
		d.release()
		return nil
	}
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		return err
	}

	d.handoff()
	return d.write()
}

func (d *direction) write() error {
	for d.off < d.end {
		n, err := d.dst.Write(d.buf[d.off:d.end])
		d.off += n
		d.written += int64(n)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		if n == 0 {
			return ErrWriteZero
		}
	}
	return nil
}

func (d *direction) handoff() {
	rem := d.end - d.off
	private := make([]byte, max(MinPrivateSize, rem))
	copy(private, d.buf[d.off:d.end])
	d.off = d.end
	d.release()

	d.private = private
	d.buf, d.off, d.end = private, 0, rem
	d.handoffs++
}

// release returns a leased scratch buffer to the pool. The pool panics if
// buf[off:end] still holds bytes from it.
func (d *direction) release() {
	if d.lease == nil {
		return
	}
	if d.off == d.end {
		d.lease.dirty = false
	}
	d.pool.put(d.lease)
	d.lease = nil
}

// discard drops unwritten bytes once the direction has failed, so its scratch
// buffer can go back to the pool.
func (d *direction) discard() {
	if d.off < d.end {
		d.log.Debugf("relay: %s: dropping %d unwritten bytes", d.name, d.end-d.off)
		d.off = d.end
	}
	d.release()
}

func closeWrite(c Conn) error {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}
