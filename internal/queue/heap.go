// Package queue implements the admission pipeline: a priority message
// queue, per-session rate limiting, and the manager that ties them to the
// opaque processing handler.
package queue

import (
	"container/heap"
	"time"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/router"
	"github.com/nextlevelbuilder/relaygate/internal/session"
)

// Item is one admitted-but-not-yet-processed message. Between Enqueue and
// Dequeue it is owned exclusively by the MessageQueue; afterwards by the
// Manager until its result channel is resolved.
type Item struct {
	ID         string
	Message    bus.InboundMessage
	Session    *session.Session // snapshot at admission time
	Priority   int
	Seq        uint64 // monotonic enqueue counter, breaks priority ties FIFO
	EnqueuedAt time.Time
	Routing    *router.Decision

	// done carries the single completion result back to the submitter.
	// Buffered (capacity 1) so resolution never blocks the tick loop.
	done chan Result
}

// Result is the terminal outcome of one submitted message.
type Result struct {
	Response *Response
	Err      error
}

// Response is what the processing handler (or a canned degraded path)
// produces for the original caller.
type Response struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (it *Item) resolve(r Result) {
	select {
	case it.done <- r:
	default: // already resolved; completion is single-shot
	}
}

// items implements container/heap ordered by (Priority, Seq): lower
// priority value dequeues first, FIFO among equal priorities.
type items []*Item

func (h items) Len() int { return len(h) }
func (h items) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}
func (h items) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *items) Push(x any) { *h = append(*h, x.(*Item)) }

func (h *items) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// MessageQueue is a binary min-heap of pending items. Not goroutine-safe on
// its own — the Manager serializes access under its mutex.
type MessageQueue struct {
	h       items
	nextSeq uint64
}

// NewMessageQueue returns an empty queue.
func NewMessageQueue() *MessageQueue {
	return &MessageQueue{}
}

// Enqueue adds an item, stamping its sequence number.
func (q *MessageQueue) Enqueue(it *Item) {
	it.Seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.h, it)
}

// Dequeue removes and returns the most urgent item, nil when empty.
func (q *MessageQueue) Dequeue() *Item {
	if len(q.h) == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*Item)
}

// Peek returns the most urgent item without removing it, nil when empty.
func (q *MessageQueue) Peek() *Item {
	if len(q.h) == 0 {
		return nil
	}
	return q.h[0]
}

// Size returns the number of pending items.
func (q *MessageQueue) Size() int { return len(q.h) }
