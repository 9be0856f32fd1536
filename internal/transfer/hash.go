package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
	"sync"

	"github.com/sheerbytes/quicshare/internal/bufpool"
)

// hashWorker digests chunks handed over by a single chunk loop. The queue
// is bounded so the producer blocks when hashing falls behind. Every chunk
// submitted becomes owned by the worker, which returns it to the pool.
type hashWorker struct {
	queue     chan []byte
	pool      *bufpool.Pool
	done      chan struct{}
	closeOnce sync.Once
	h         hash.Hash
	sum       string
}

func newHashWorker(depth int, pool *bufpool.Pool) *hashWorker {
	if depth <= 0 {
		depth = DefaultHashQueueDepth
	}
	w := &hashWorker{
		queue: make(chan []byte, depth),
		pool:  pool,
		done:  make(chan struct{}),
		h:     sha256.New(),
	}
	go w.run()
	return w
}

func (w *hashWorker) run() {
	defer close(w.done)
	for chunk := range w.queue {
		w.h.Write(chunk)
		w.pool.Put(chunk)
	}
	w.sum = hex.EncodeToString(w.h.Sum(nil))
}

func (w *hashWorker) submit(ctx context.Context, chunk []byte) error {
	select {
	case w.queue <- chunk:
		return nil
	case <-ctx.Done():
		w.pool.Put(chunk)
		return ctx.Err()
	}
}

// finish closes the queue and waits for the final lowercase hex digest.
func (w *hashWorker) finish(ctx context.Context) (string, error) {
	w.close()
	select {
	case <-w.done:
		return w.sum, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// close stops the worker without waiting. Safe to call after finish.
func (w *hashWorker) close() {
	w.closeOnce.Do(func() { close(w.queue) })
}

// HashesEqual compares two hex digests case-insensitively.
func HashesEqual(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
