package imsession

import (
	"container/list"
	"sync"
)

// outboundQueue is the FIFO of messages waiting for the transport.
//
// Only the head is ever written. A head that was partially written stays at
// the head, with its byte offset, until every byte is accepted; no later
// message is attempted before that.
type outboundQueue struct {
	mu        sync.Mutex
	items     *list.List
	index     map[*MessageHandle]*list.Element
	limit     int
	accepting bool
	// writing is the head whose write is in progress outside the lock.
	writing *MessageHandle

	// wake has capacity one and is signaled on every enqueue.
	wake chan struct{}
}

func newOutboundQueue(limit int) *outboundQueue {
	return &outboundQueue{
		items: list.New(),
		index: make(map[*MessageHandle]*list.Element),
		limit: limit,
		wake:  make(chan struct{}, 1),
	}
}

// open starts accepting messages for a new connection attempt.
func (q *outboundQueue) open() {
	q.mu.Lock()
	q.accepting = true
	q.mu.Unlock()
}

// seal stops accepting new messages but keeps the queued ones for a flush.
func (q *outboundQueue) seal() {
	q.mu.Lock()
	q.accepting = false
	q.mu.Unlock()
}

// enqueue appends h at the tail.
func (q *outboundQueue) enqueue(h *MessageHandle) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.accepting {
		return ErrNotConnected
	}
	if q.limit > 0 && q.items.Len() >= q.limit {
		return ErrBufferFull
	}

	q.index[h] = q.items.PushBack(h)
	q.notify()
	return nil
}

func (q *outboundQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// cancel removes h if no write of it was attempted yet.
func (q *outboundQueue) cancel(h *MessageHandle) bool {
	if h == nil {
		return false
	}

	q.mu.Lock()
	e, ok := q.index[h]
	if !ok || q.writing == h || h.State() != Queued {
		q.mu.Unlock()
		return false
	}
	q.items.Remove(e)
	delete(q.index, h)
	q.mu.Unlock()

	h.finish(Canceled, ErrCanceled)
	return true
}

// front returns the head without removing it, or nil when empty.
func (q *outboundQueue) front() *MessageHandle {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e := q.items.Front(); e != nil {
		return e.Value.(*MessageHandle)
	}
	return nil
}

// started reports whether a write of h was already attempted.
func (q *outboundQueue) started(h *MessageHandle) bool {
	return h.State() != Queued
}

// writeHead writes the unwritten remainder of h through w. h must be the
// current head; if it was canceled meanwhile nothing is written. sent is true
// once the last byte was accepted, at which point h leaves the queue.
// ErrWouldBlock is returned unchanged so the caller retries h later.
func (q *outboundQueue) writeHead(w Transport, h *MessageHandle) (n int, sent bool, err error) {
	q.mu.Lock()
	if e := q.items.Front(); e == nil || e.Value.(*MessageHandle) != h {
		q.mu.Unlock()
		return 0, false, nil
	}
	q.writing = h
	h.setState(Sending)
	q.mu.Unlock()

	if h.off < len(h.data) {
		n, err = w.Write(h.data[h.off:])
		if n < 0 {
			n = 0
		}
	}

	q.mu.Lock()
	h.off += n
	q.writing = nil
	if h.off >= len(h.data) && err == nil {
		// h is gone if a concurrent discard already finished it
		if e, ok := q.index[h]; ok {
			q.items.Remove(e)
			delete(q.index, h)
			sent = true
		}
	}
	q.mu.Unlock()

	if sent {
		h.finish(Sent, nil)
	}
	return n, sent, err
}

// discard drops every queued message, stops accepting, and returns how many
// messages were dropped.
func (q *outboundQueue) discard() int {
	q.mu.Lock()
	q.accepting = false
	dropped := make([]*MessageHandle, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		dropped = append(dropped, e.Value.(*MessageHandle))
	}
	q.items.Init()
	q.index = make(map[*MessageHandle]*list.Element)
	q.mu.Unlock()

	for _, h := range dropped {
		h.finish(Discarded, ErrDiscarded)
	}
	return len(dropped)
}

func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
