// Package bufpool recycles fixed-size chunk buffers between the file loop
// and the hash worker.
package bufpool

import (
	"sync"
	"sync/atomic"
)

// Pool hands out buffers of exactly BufSize bytes. A buffer taken with Get
// is owned by the caller until it is returned with Put.
type Pool struct {
	pool        sync.Pool
	bufSize     int
	outstanding atomic.Int64
}

// New creates a pool of bufSize-byte buffers.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		panic("bufpool: bufSize must be positive")
	}
	p := &Pool{bufSize: bufSize}
	p.pool.New = func() any {
		buf := make([]byte, bufSize)
		return &buf
	}
	return p
}

// Get returns a buffer of length BufSize.
func (p *Pool) Get() []byte {
	bp := p.pool.Get().(*[]byte)
	p.outstanding.Add(1)
	return (*bp)[:p.bufSize]
}

// Put returns buf to the pool. Buffers with a smaller capacity than BufSize
// are dropped.
func (p *Pool) Put(buf []byte) {
	p.outstanding.Add(-1)
	if cap(buf) < p.bufSize {
		return
	}
	buf = buf[:p.bufSize]
	p.pool.Put(&buf)
}

// BufSize returns the size of buffers in this pool.
func (p *Pool) BufSize() int {
	return p.bufSize
}

// Outstanding reports buffers handed out and not yet returned.
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Load()
}

var (
	poolsMu sync.Mutex
	pools   = map[int]*Pool{}
)

// For returns the shared pool for bufSize, creating it on first use.
func For(bufSize int) *Pool {
	poolsMu.Lock()
	defer poolsMu.Unlock()
	if p, ok := pools[bufSize]; ok {
		return p
	}
	p := New(bufSize)
	pools[bufSize] = p
	return p
}
