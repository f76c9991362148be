package simnet

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/veluca93/distsim/internal/logging"
	"github.com/veluca93/distsim/pkg/rng"
)

// handleBatchSize bounds how many messages a worker drains from a single
// node before yielding it back to the ready queue, so one very chatty node
// cannot starve the rest of the population.
const handleBatchSize = 128

// pauseSpinInterval is the literal busy-wait step pause() uses to observe
// runningThreads settle to zero, matching the run_lock spin in the
// original rather than the cond-variable substitution used for the ready
// queue.
const pauseSpinInterval = 10 * time.Microsecond

// engine is the machinery shared by Dispatcher and GraphDispatcher: node
// registry, worker pool, ready queue, pause/resume/stop, and the progress
// counters. The two public types differ only in how they assign ids and
// decide reachability between nodes, expressed as the canSend/iterNeighbours
// callbacks below (composition standing in for the virtual overrides the
// original expresses through inheritance).
type engine[T any] struct {
	muNodes sync.RWMutex
	nodes   map[NodeID]*nodeEntry[T]

	canSend        func(a, b NodeID) bool
	iterNeighbours func(n NodeID, visit func(NodeID) bool)

	linkFailChance float64
	nthreads       int
	globalSeed     uint64

	queue          *readyQueue
	stopping       atomic.Bool
	pausing        atomic.Bool
	runningThreads atomic.Int32
	wg             sync.WaitGroup
	started        bool

	linkRNGMu sync.Mutex
	linkRNG   *rng.RNG

	queuedMessages atomic.Int64
	allMessages    atomic.Int64
}

func newEngine[T any](nthreads int, seed uint64) *engine[T] {
	if nthreads < 1 {
		nthreads = 1
	}
	return &engine[T]{
		nodes:      make(map[NodeID]*nodeEntry[T]),
		nthreads:   nthreads,
		globalSeed: seed,
		queue:      newReadyQueue(),
		linkRNG:    rng.New(seed, ^seed),
	}
}

// SetLinkFailChance configures the probability, evaluated per send, that a
// message is silently dropped before it reaches the destination's inbox.
func (e *engine[T]) SetLinkFailChance(p float64) { e.linkFailChance = p }

// run starts the worker pool. It is idempotent; calling it twice is a
// no-op.
func (e *engine[T]) run() {
	if e.started {
		return
	}
	e.started = true
	for i := 0; i < e.nthreads; i++ {
		e.wg.Add(1)
		go e.workerLoop(i)
	}
}

// stop tells every worker to exit once its current batch finishes and
// waits for them to do so.
func (e *engine[T]) stop() {
	e.stopping.Store(true)
	e.queue.close()
	e.wg.Wait()
}

// pause blocks new handler invocations from starting and waits for every
// currently-running worker to finish its in-flight batch. Structural
// mutations (add_node, fail) must happen between pause() and resume().
func (e *engine[T]) pause() {
	e.pausing.Store(true)
	for e.runningThreads.Load() > 0 {
		time.Sleep(pauseSpinInterval)
	}
}

func (e *engine[T]) resume() {
	e.pausing.Store(false)
}

func (e *engine[T]) workerLoop(_ int) {
	defer e.wg.Done()

	for {
		if e.stopping.Load() {
			return
		}
		id, ok := e.queue.pop()
		if !ok {
			return
		}
		// Count this worker as running before checking the pause flag, so a
		// concurrent pause() either sees it running or it sees pausing.
		e.runningThreads.Add(1)
		for e.pausing.Load() {
			e.runningThreads.Add(-1)
			for e.pausing.Load() {
				time.Sleep(pauseSpinInterval)
			}
			e.runningThreads.Add(1)
		}
		e.handleNode(id)
		e.runningThreads.Add(-1)
	}
}

// handleNode drains up to handleBatchSize ready messages from one node. If
// another worker is already handling this node (a duplicate wakeup from a
// second send racing the first), it waits for the node's handler lock and
// then drains whatever is left, so a message enqueued just after the other
// worker's last drain is not stranded.
func (e *engine[T]) handleNode(id NodeID) {
	e.muNodes.RLock()
	entry, ok := e.nodes[id]
	e.muNodes.RUnlock()
	if !ok {
		return
	}
	entry.handleMu.Lock()
	defer entry.handleMu.Unlock()

	for i := 0; i < handleBatchSize; i++ {
		result, msg := entry.drainOne(&e.queuedMessages)
		switch result {
		case drainedMessage:
			e.invokeHandler(entry, func() { entry.handler.HandleMessage(msg) })
		case drainNotDue:
			e.queue.push(id)
			return
		case drainEmpty:
			return
		}
	}
	// Batch cap hit with more work potentially remaining; re-announce.
	e.queue.push(id)
}

// invokeHandler runs fn, recovering and logging any panic so a bug in one
// protocol handler cannot take down the whole simulation.
func (e *engine[T]) invokeHandler(entry *nodeEntry[T], fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.WithField("node", entry.id).Errorf("handler panic: %v", r)
		}
	}()
	fn()
}

// addNode registers a node under the given id, built by newHandler, while
// the worker pool is paused, then resumes the pool and runs the node's
// Init() under its handler lock.
// onInserted runs while the node map write lock is still held, letting
// callers maintain auxiliary structures (sorted id index, adjacency lists)
// atomically with the insertion.
func (e *engine[T]) addNode(id NodeID, handler Handler[T], r *rng.RNG, onInserted func() error) error {
	e.pause()
	e.muNodes.Lock()
	if _, exists := e.nodes[id]; exists {
		e.muNodes.Unlock()
		e.resume()
		return errors.Errorf("simnet: node %d already registered", id)
	}
	entry := newNodeEntry[T](id, handler, r)
	e.nodes[id] = entry
	if onInserted != nil {
		if err := onInserted(); err != nil {
			delete(e.nodes, id)
			e.muNodes.Unlock()
			e.resume()
			return err
		}
	}
	e.muNodes.Unlock()
	e.resume()

	entry.handleMu.Lock()
	e.invokeHandler(entry, entry.handler.Init)
	entry.handleMu.Unlock()
	return nil
}

// fail removes a node from the registry. Any message already queued to it
// is simply never delivered; senders observe failure only indirectly, via
// CanSend or a subsequent SendMessage error.
func (e *engine[T]) fail(id NodeID, onRemoved func()) error {
	e.muNodes.RLock()
	_, exists := e.nodes[id]
	e.muNodes.RUnlock()
	if !exists {
		return errors.Errorf("simnet: node %d does not exist", id)
	}
	e.pause()
	defer e.resume()
	e.muNodes.Lock()
	defer e.muNodes.Unlock()
	delete(e.nodes, id)
	if onRemoved != nil {
		onRemoved()
	}
	return nil
}

// sendMessage is the shared implementation behind Dispatcher.SendMessage
// and GraphDispatcher.SendMessage: validate reachability, roll the link
// failure check, bump hop count, and hand the message to the receiver's
// inbox.
func (e *engine[T]) sendMessage(src, dst NodeID, msg Message[T]) error {
	e.muNodes.RLock()
	_, srcOK := e.nodes[src]
	dstEntry, dstOK := e.nodes[dst]
	e.muNodes.RUnlock()
	if !srcOK {
		return errors.Errorf("simnet: unknown sender %d", src)
	}
	if !dstOK {
		return errors.Errorf("simnet: unknown receiver %d", dst)
	}
	if !e.canSend(src, dst) {
		return errors.Errorf("simnet: node %d cannot reach node %d", src, dst)
	}

	if e.linkFailChance > 0 {
		e.linkRNGMu.Lock()
		dropped := e.linkRNG.Chance(e.linkFailChance)
		e.linkRNGMu.Unlock()
		if dropped {
			return nil
		}
	}

	msg.Hops++
	dstEntry.enqueue(msg, &e.queuedMessages, &e.allMessages)
	e.queue.push(dst)
	return nil
}

// genMessage invokes a node's StartMessage directly, outside of message
// delivery, to seed protocol activity (e.g. a driver injecting a
// transaction or kicking off a Chord lookup).
func (e *engine[T]) genMessage(id NodeID, msg Message[T]) error {
	e.muNodes.RLock()
	entry, ok := e.nodes[id]
	e.muNodes.RUnlock()
	if !ok {
		return errors.Errorf("simnet: unknown node %d", id)
	}
	entry.handleMu.Lock()
	e.invokeHandler(entry, func() { entry.handler.StartMessage(msg) })
	entry.handleMu.Unlock()
	return nil
}

func (e *engine[T]) getNeighbours(id NodeID) []NodeID {
	var out []NodeID
	e.iterNeighbours(id, func(n NodeID) bool {
		out = append(out, n)
		return true
	})
	return out
}

func (e *engine[T]) countNeighbours(id NodeID) int {
	count := 0
	e.iterNeighbours(id, func(NodeID) bool {
		count++
		return true
	})
	return count
}

func (e *engine[T]) nodeExists(id NodeID) bool {
	e.muNodes.RLock()
	defer e.muNodes.RUnlock()
	_, ok := e.nodes[id]
	return ok
}

func (e *engine[T]) nodeCount() int {
	e.muNodes.RLock()
	defer e.muNodes.RUnlock()
	return len(e.nodes)
}

func (e *engine[T]) queuedMessageCount() int64 { return e.queuedMessages.Load() }
func (e *engine[T]) allMessageCount() int64    { return e.allMessages.Load() }

func (e *engine[T]) handlerOf(id NodeID) (Handler[T], bool) {
	e.muNodes.RLock()
	defer e.muNodes.RUnlock()
	entry, ok := e.nodes[id]
	if !ok {
		return nil, false
	}
	return entry.handler, true
}
