package simnet

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veluca93/distsim/pkg/rng"
)

type delayedItem[T any] struct {
	due time.Time
	msg Message[T]
}

// delayedQueue is a min-heap ordered by delivery time, the same
// container/heap.Interface shape the consensus mempool uses for its
// fee-ordered heap, here ordering by due time instead of fee.
type delayedQueue[T any] []delayedItem[T]

func (d delayedQueue[T]) Len() int            { return len(d) }
func (d delayedQueue[T]) Less(i, j int) bool  { return d[i].due.Before(d[j].due) }
func (d delayedQueue[T]) Swap(i, j int)       { d[i], d[j] = d[j], d[i] }
func (d *delayedQueue[T]) Push(x interface{}) { *d = append(*d, x.(delayedItem[T])) }
func (d *delayedQueue[T]) Pop() interface{} {
	old := *d
	n := len(old)
	item := old[n-1]
	*d = old[:n-1]
	return item
}

// drainResult is the outcome of one dequeue attempt against a node's
// inbox, mirroring the tri-state handle_one_message triage in the
// original: keep draining, stop because there is genuinely nothing left,
// or stop and re-announce the node because it holds a delayed message
// that is not due yet.
type drainResult int

const (
	drainedMessage drainResult = iota
	drainEmpty
	drainNotDue
)

// nodeEntry is the dispatcher-owned state backing one registered node: its
// protocol handler, its per-node RNG stream, its inboxes, and the lock that
// serializes handler invocations for that node.
type nodeEntry[T any] struct {
	id      NodeID
	handler Handler[T]
	rng     *rng.RNG

	inboxMu   sync.Mutex
	immediate []Message[T]
	delayed   delayedQueue[T]

	handleMu sync.Mutex
}

func newNodeEntry[T any](id NodeID, handler Handler[T], r *rng.RNG) *nodeEntry[T] {
	return &nodeEntry[T]{id: id, handler: handler, rng: r}
}

// enqueue offers msg to the node's inbox, consulting CheckEnqueue first.
// Rejected messages are dropped without affecting the progress counters.
// queued/all only track delayed, in-flight messages -- immediate messages
// are delivered inline by the worker pool and never show up as "in
// flight" progress.
func (e *nodeEntry[T]) enqueue(msg Message[T], queued, all *atomic.Int64) bool {
	if !e.handler.CheckEnqueue(msg) {
		return false
	}
	e.inboxMu.Lock()
	if msg.Delay > 0 {
		heap.Push(&e.delayed, delayedItem[T]{due: time.Now().Add(msg.Delay), msg: msg})
		e.inboxMu.Unlock()
		queued.Add(1)
		all.Add(1)
	} else {
		e.immediate = append(e.immediate, msg)
		e.inboxMu.Unlock()
	}
	return true
}

// drainOne pops at most one deliverable message and returns it; the caller
// hands it to the handler. It must be called with handleMu already held by
// the caller.
func (e *nodeEntry[T]) drainOne(queued *atomic.Int64) (drainResult, Message[T]) {
	e.inboxMu.Lock()
	switch {
	case len(e.immediate) > 0:
		msg := e.immediate[0]
		e.immediate = e.immediate[1:]
		e.inboxMu.Unlock()
		return drainedMessage, msg
	case len(e.delayed) > 0 && !e.delayed[0].due.After(time.Now()):
		item := heap.Pop(&e.delayed).(delayedItem[T])
		e.inboxMu.Unlock()
		queued.Add(-1)
		return drainedMessage, item.msg
	case len(e.delayed) > 0:
		e.inboxMu.Unlock()
		return drainNotDue, Message[T]{}
	default:
		e.inboxMu.Unlock()
		return drainEmpty, Message[T]{}
	}
}
