package simnet

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/veluca93/distsim/pkg/rng"
)

// Dispatcher is the default worker-pool engine: any node can reach any
// other node (full mesh, CanSend is simply a != b), and ids are either
// chosen by the caller or drawn at random from [0, maxID) via GenID. This
// is what Chord and most direct point-to-point protocols run over.
type Dispatcher[T any] struct {
	*engine[T]

	idMu      sync.RWMutex
	maxID     NodeID
	sortedIDs []NodeID

	genRNGMu sync.Mutex
	genRNG   *rng.RNG
}

// NewDispatcher builds a Dispatcher whose node ids live in [0, maxID).
// nthreads is the size of the worker pool; seed drives both GenID's random
// probing and every node's per-node RNG stream.
func NewDispatcher[T any](maxID NodeID, nthreads int, seed uint64, opts ...Option[T]) *Dispatcher[T] {
	e := newEngine[T](nthreads, seed)
	d := &Dispatcher[T]{
		engine: e,
		maxID:  maxID,
		genRNG: rng.New(seed+1, ^seed-1),
	}
	e.canSend = func(a, b NodeID) bool { return a != b }
	e.iterNeighbours = func(n NodeID, visit func(NodeID) bool) {
		d.idMu.RLock()
		ids := append([]NodeID(nil), d.sortedIDs...)
		d.idMu.RUnlock()
		for _, id := range ids {
			if id != n {
				if !visit(id) {
					return
				}
			}
		}
	}
	apply(e, opts)
	return d
}

// Run starts the worker pool.
func (d *Dispatcher[T]) Run() { d.run() }

// Stop signals every worker to exit and waits for them to do so.
func (d *Dispatcher[T]) Stop() { d.stop() }

// AddNode registers id, built by newHandler, against this dispatcher.
func (d *Dispatcher[T]) AddNode(id NodeID, newHandler func(net Network[T], id NodeID, r *rng.RNG) Handler[T]) error {
	if id >= d.maxID {
		return errors.Errorf("simnet: node id %d exceeds max id %d", id, d.maxID)
	}
	nodeRNG := rng.New(id+1, d.globalSeed)
	handler := newHandler(d, id, nodeRNG)
	return d.addNode(id, handler, nodeRNG, func() error {
		d.idMu.Lock()
		defer d.idMu.Unlock()
		i := sort.Search(len(d.sortedIDs), func(i int) bool { return d.sortedIDs[i] >= id })
		d.sortedIDs = append(d.sortedIDs, 0)
		copy(d.sortedIDs[i+1:], d.sortedIDs[i:])
		d.sortedIDs[i] = id
		return nil
	})
}

// Fail permanently removes a node from the simulation.
func (d *Dispatcher[T]) Fail(id NodeID) error {
	return d.fail(id, func() {
		d.idMu.Lock()
		defer d.idMu.Unlock()
		i := sort.Search(len(d.sortedIDs), func(i int) bool { return d.sortedIDs[i] >= id })
		if i < len(d.sortedIDs) && d.sortedIDs[i] == id {
			d.sortedIDs = append(d.sortedIDs[:i], d.sortedIDs[i+1:]...)
		}
	})
}

// GenID draws a random unused id in [0, maxID). It fails once the id space
// is more than 75% full, mirroring the original's refusal to keep probing
// an almost-saturated space.
func (d *Dispatcher[T]) GenID() (NodeID, error) {
	d.idMu.RLock()
	used := len(d.sortedIDs)
	d.idMu.RUnlock()
	if uint64(used) > d.maxID*3/4 {
		return 0, errors.New("simnet: id space more than 75% full, refusing to generate a new id")
	}
	for {
		d.genRNGMu.Lock()
		candidate := d.genRNG.Uint64n(d.maxID)
		d.genRNGMu.Unlock()
		if !d.nodeExists(candidate) {
			return candidate, nil
		}
	}
}

// HasBiggerID reports whether any registered node has an id strictly
// greater than id.
func (d *Dispatcher[T]) HasBiggerID(id NodeID) bool {
	d.idMu.RLock()
	defer d.idMu.RUnlock()
	i := sort.Search(len(d.sortedIDs), func(i int) bool { return d.sortedIDs[i] > id })
	return i < len(d.sortedIDs)
}

// NextID returns the smallest registered id strictly greater than id,
// wrapping around to the smallest registered id if none exists -- the
// ring-successor lookup Chord's successor() is built on.
func (d *Dispatcher[T]) NextID(id NodeID) (NodeID, error) {
	d.idMu.RLock()
	defer d.idMu.RUnlock()
	if len(d.sortedIDs) == 0 {
		return 0, errors.New("simnet: no nodes registered")
	}
	i := sort.Search(len(d.sortedIDs), func(i int) bool { return d.sortedIDs[i] > id })
	if i < len(d.sortedIDs) {
		return d.sortedIDs[i], nil
	}
	return d.sortedIDs[0], nil
}

// GetRandomNode returns a uniformly chosen registered node id.
func (d *Dispatcher[T]) GetRandomNode() (NodeID, error) {
	d.idMu.RLock()
	defer d.idMu.RUnlock()
	if len(d.sortedIDs) == 0 {
		return 0, errors.New("simnet: no nodes registered")
	}
	d.genRNGMu.Lock()
	idx := d.genRNG.Intn(len(d.sortedIDs))
	d.genRNGMu.Unlock()
	return d.sortedIDs[idx], nil
}

func (d *Dispatcher[T]) SendMessage(src, dst NodeID, msg Message[T]) error {
	return d.sendMessage(src, dst, msg)
}

func (d *Dispatcher[T]) GenMessage(id NodeID, payload T) error {
	return d.genMessage(id, Message[T]{Payload: payload})
}

func (d *Dispatcher[T]) CanSend(a, b NodeID) bool { return a != b }

func (d *Dispatcher[T]) IterNeighbours(n NodeID, visit func(NodeID) bool) {
	d.engine.iterNeighbours(n, visit)
}

func (d *Dispatcher[T]) GetNeighbours(n NodeID) []NodeID { return d.getNeighbours(n) }
func (d *Dispatcher[T]) CountNeighbours(n NodeID) int    { return d.countNeighbours(n) }

// Exists reports whether id is currently registered.
func (d *Dispatcher[T]) Exists(id NodeID) bool { return d.nodeExists(id) }

// Handler returns the handler registered under id, for driver code and
// tests that need to inspect a specific node's protocol state directly.
func (d *Dispatcher[T]) Handler(id NodeID) (Handler[T], bool) { return d.handlerOf(id) }

// QueuedMessages returns the number of delayed messages currently in
// flight, i.e. enqueued but not yet due for delivery. It does not count
// immediate messages, which are delivered inline and never sit "in
// flight".
func (d *Dispatcher[T]) QueuedMessages() int64 { return d.queuedMessageCount() }

// AllMessages returns the cumulative count of every delayed message ever
// enqueued.
func (d *Dispatcher[T]) AllMessages() int64 { return d.allMessageCount() }

// NodeCount returns the number of currently registered nodes.
func (d *Dispatcher[T]) NodeCount() int { return d.nodeCount() }

var _ Network[int] = (*Dispatcher[int])(nil)
var _ RingNetwork[int] = (*Dispatcher[int])(nil)
