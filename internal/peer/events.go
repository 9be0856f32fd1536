package peer

import "sync"

// eventQueue runs handler callbacks in submission order on one goroutine,
// so a slow handler never stalls the protocol loops.
type eventQueue struct {
	mu     sync.Mutex
	items  []func()
	signal chan struct{}
	closed bool
	done   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *eventQueue) push(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// close stops accepting events; queued ones still run.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, fn := range items {
			fn()
		}
		if closed && len(items) == 0 {
			return
		}
		if len(items) == 0 {
			<-q.signal
		}
	}
}
