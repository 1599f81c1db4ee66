package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/signalsfoundry/meshgraph/packet"
)

// errQueueClosed is returned by pop when the queue was closed without a
// cause.
var errQueueClosed = errors.New("packet queue closed")

// packetQueue is the unbounded FIFO between a device's reader and its
// consumer. The reader never blocks on push; a slow consumer builds backlog.
type packetQueue struct {
	mu     sync.Mutex
	items  []packet.Packet
	closed bool
	cause  error
	signal chan struct{}
}

func newPacketQueue() *packetQueue {
	return &packetQueue{signal: make(chan struct{}, 1)}
}

// push appends p. It reports false once the queue is closed.
func (q *packetQueue) push(p packet.Packet) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, p)
	q.mu.Unlock()
	q.wake()
	return true
}

// close stops further pushes. Items already queued are still delivered;
// after them pop reports cause. Only the first close sets the cause.
func (q *packetQueue) close(cause error) {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cause = cause
	}
	q.mu.Unlock()
	q.wake()
}

// pop blocks for the next item. Once the queue is closed and drained it
// returns the close cause; when ctx is done it returns ctx.Err().
func (q *packetQueue) pop(ctx context.Context) (packet.Packet, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			p := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return p, nil
		}
		if q.closed {
			cause := q.cause
			q.mu.Unlock()
			if cause == nil {
				cause = errQueueClosed
			}
			return nil, cause
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// len returns the current backlog.
func (q *packetQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *packetQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
