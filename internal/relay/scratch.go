package relay

import "sync"

const (
	// ScratchSize is the size of a pooled scratch buffer.
	ScratchSize = 32 << 10

	// MinPrivateSize is the smallest private buffer a direction allocates
	// when it gives its scratch buffer back with bytes still unwritten.
	MinPrivateSize = 4 << 10
)

// scratch is a read buffer leased from a ScratchPool.
type scratch struct {
	buf []byte
	// dirty is set while buf holds bytes that have not reached the peer.
	dirty bool
}

// ScratchPool hands out shared read buffers. A buffer is leased for a single
// read and the attempt to flush it; it must be empty when it comes back.
type ScratchPool struct {
	pool sync.Pool
}

func NewScratchPool(size int) *ScratchPool {
	if size <= 0 {
		size = ScratchSize
	}
	p := &ScratchPool{}
	p.pool.New = func() any {
		return &scratch{buf: make([]byte, size)}
	}
	return p
}

func (p *ScratchPool) get() *scratch {
	return p.pool.Get().(*scratch)
}

func (p *ScratchPool) put(s *scratch) {
	if s.dirty {
		panic("relay: scratch buffer returned with unflushed bytes")
	}
	p.pool.Put(s)
}
