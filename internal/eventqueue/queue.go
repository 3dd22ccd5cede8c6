package eventqueue

import (
	"sync"
	"sync/atomic"

	"github.com/rishav/marketsim/internal/model"
)

// OverflowPolicy controls what happens when Push is called against a full
// bounded queue.
type OverflowPolicy int

const (
	// Block rejects the new event, increments the dropped counter, and
	// returns false. This is the default.
	Block OverflowPolicy = iota
	// DropOldest evicts the earliest queued event to make room, then
	// inserts the new one.
	DropOldest
)

// Queue is a bounded, chronologically ordered event queue. A capacity of 0
// means unbounded. Sequence numbers are assigned inside Push by a
// monotonic, queue-scoped counter, so ordering is total even across
// feeders that don't themselves deliver events in order.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	tree     *rbTree

	capacity int
	policy   OverflowPolicy

	seq     uint64
	dropped uint64

	stopped atomic.Bool
}

// New creates a queue with the given capacity (0 = unbounded) and overflow
// policy.
func New(capacity int, policy OverflowPolicy) *Queue {
	q := &Queue{
		tree:     newRBTree(),
		capacity: capacity,
		policy:   policy,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push stamps ev with the next sequence number and inserts it. Returns
// false if the queue was full under the Block policy (the event is
// dropped and the dropped counter is incremented).
func (q *Queue) Push(ts int64, kind model.EventKind, symbol string, payload interface{}) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped.Load() {
		return false
	}

	if q.capacity > 0 && q.tree.Size() >= q.capacity {
		switch q.policy {
		case DropOldest:
			q.tree.PopMin()
			q.dropped++
		default: // Block
			q.dropped++
			return false
		}
	}

	seq := q.seq
	q.seq++

	ev := model.Event{Timestamp: ts, Sequence: seq, Symbol: symbol, Kind: kind, Payload: payload}
	q.tree.Insert(ev)
	q.notEmpty.Signal()
	return true
}

// Pop removes and returns the earliest event without blocking. The second
// return value is false if the queue was empty.
func (q *Queue) Pop() (model.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.PopMin()
}

// WaitAndPop blocks until an event is available or the queue is stopped.
// Returns (zero Event, false) once stopped with nothing left to drain.
func (q *Queue) WaitAndPop() (model.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.tree.IsEmpty() && !q.stopped.Load() {
		q.notEmpty.Wait()
	}
	if q.tree.IsEmpty() {
		return model.Event{}, false
	}
	return q.tree.PopMin()
}

// Peek returns the earliest event without removing it.
func (q *Queue) Peek() (model.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Min()
}

// Size returns the number of queued events.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Size()
}

// DroppedCount returns the number of events rejected or evicted due to
// overflow since the queue was created; Reset and Clear do not zero it.
func (q *Queue) DroppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear empties the queue's contents without affecting the stopped flag or
// sequence counter.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tree.Clear()
}

// Stop wakes every blocked WaitAndPop caller with (zero, false). Subsequent
// Push calls are rejected until Reset.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped.Store(true)
	q.notEmpty.Broadcast()
}

// Reset re-arms the queue for further Push/WaitAndPop calls without
// clearing its contents.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped.Store(false)
}
