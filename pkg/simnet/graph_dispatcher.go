package simnet

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/veluca93/distsim/pkg/rng"
)

// GraphDispatcher specialises the engine with an explicit adjacency
// structure instead of a full mesh: CanSend(a, b) holds only if b is a
// neighbour of a on a graph built ahead of time (gen_conn_erdos,
// gen_barabasi_albert, or hand-built edges). Node ids are assigned
// sequentially as nodes are added; GenID is disabled, matching the
// original's GraphHardwareManager.
type GraphDispatcher[T any] struct {
	*engine[T]

	adjMu     sync.RWMutex
	adjacency []map[NodeID]bool
	directed  bool

	genRNGMu sync.Mutex
	genRNG   *rng.RNG
}

// NewGraphDispatcher builds a dispatcher with no nodes and no edges;
// AddNode assigns ids sequentially starting at 0 and AddEdge grows the
// adjacency structure.
func NewGraphDispatcher[T any](nthreads int, seed uint64, directed bool, opts ...Option[T]) *GraphDispatcher[T] {
	e := newEngine[T](nthreads, seed)
	g := &GraphDispatcher[T]{
		engine:   e,
		directed: directed,
		genRNG:   rng.New(seed+1, ^seed-1),
	}
	e.canSend = g.CanSend
	e.iterNeighbours = g.IterNeighbours
	apply(e, opts)
	return g
}

// Run starts the worker pool.
func (g *GraphDispatcher[T]) Run() { g.run() }

// Stop signals every worker to exit and waits for them to do so.
func (g *GraphDispatcher[T]) Stop() { g.stop() }

// AddNode allocates the next sequential id, builds a handler for it via
// newHandler, and registers it.
func (g *GraphDispatcher[T]) AddNode(newHandler func(net Network[T], id NodeID, r *rng.RNG) Handler[T]) (NodeID, error) {
	g.adjMu.Lock()
	id := NodeID(len(g.adjacency))
	g.adjacency = append(g.adjacency, map[NodeID]bool{})
	g.adjMu.Unlock()

	nodeRNG := rng.New(id+1, g.globalSeed)
	handler := newHandler(g, id, nodeRNG)
	if err := g.addNode(id, handler, nodeRNG, nil); err != nil {
		return 0, err
	}
	return id, nil
}

// AddEdge connects a and b. For an undirected graph (the default) the edge
// is symmetric; for a directed one only a -> b is added.
func (g *GraphDispatcher[T]) AddEdge(a, b NodeID) error {
	g.adjMu.Lock()
	defer g.adjMu.Unlock()
	if int(a) >= len(g.adjacency) || int(b) >= len(g.adjacency) {
		return errors.Errorf("simnet: edge (%d,%d) references an unregistered node", a, b)
	}
	g.adjacency[a][b] = true
	if !g.directed {
		g.adjacency[b][a] = true
	}
	return nil
}

// GenID is disabled: GraphDispatcher ids are always assigned sequentially
// by AddNode.
func (g *GraphDispatcher[T]) GenID() (NodeID, error) {
	return 0, errors.New("simnet: GenID is disabled on GraphDispatcher, ids are assigned sequentially by AddNode")
}

// Fail removes a node and every edge referencing it.
func (g *GraphDispatcher[T]) Fail(id NodeID) error {
	return g.fail(id, func() {
		g.adjMu.Lock()
		defer g.adjMu.Unlock()
		if int(id) < len(g.adjacency) {
			g.adjacency[id] = map[NodeID]bool{}
		}
		for _, neighbours := range g.adjacency {
			delete(neighbours, id)
		}
	})
}

func (g *GraphDispatcher[T]) CanSend(a, b NodeID) bool {
	g.adjMu.RLock()
	defer g.adjMu.RUnlock()
	if int(a) >= len(g.adjacency) {
		return false
	}
	return g.adjacency[a][b]
}

func (g *GraphDispatcher[T]) IterNeighbours(n NodeID, visit func(NodeID) bool) {
	g.adjMu.RLock()
	if int(n) >= len(g.adjacency) {
		g.adjMu.RUnlock()
		return
	}
	neighbours := make([]NodeID, 0, len(g.adjacency[n]))
	for neigh := range g.adjacency[n] {
		neighbours = append(neighbours, neigh)
	}
	g.adjMu.RUnlock()
	for _, neigh := range neighbours {
		if !visit(neigh) {
			return
		}
	}
}

func (g *GraphDispatcher[T]) GetNeighbours(n NodeID) []NodeID { return g.getNeighbours(n) }
func (g *GraphDispatcher[T]) CountNeighbours(n NodeID) int    { return g.countNeighbours(n) }

// Handler returns the handler registered under id, for driver code and
// tests that need to inspect a specific node's protocol state directly.
func (g *GraphDispatcher[T]) Handler(id NodeID) (Handler[T], bool) { return g.handlerOf(id) }

// GetRandomNode returns a uniformly chosen node index in [0, NodeCount()).
func (g *GraphDispatcher[T]) GetRandomNode() (NodeID, error) {
	count := g.nodeCount()
	if count == 0 {
		return 0, errors.New("simnet: no nodes registered")
	}
	g.genRNGMu.Lock()
	defer g.genRNGMu.Unlock()
	return NodeID(g.genRNG.Intn(count)), nil
}

func (g *GraphDispatcher[T]) SendMessage(src, dst NodeID, msg Message[T]) error {
	return g.sendMessage(src, dst, msg)
}

func (g *GraphDispatcher[T]) GenMessage(id NodeID, payload T) error {
	return g.genMessage(id, Message[T]{Payload: payload})
}

// QueuedMessages returns the number of delayed messages currently in
// flight, i.e. enqueued but not yet due for delivery. It does not count
// immediate messages, which are delivered inline and never sit "in
// flight".
func (g *GraphDispatcher[T]) QueuedMessages() int64 { return g.queuedMessageCount() }

// AllMessages returns the cumulative count of every delayed message ever
// enqueued.
func (g *GraphDispatcher[T]) AllMessages() int64 { return g.allMessageCount() }

// NodeCount returns the number of currently registered nodes.
func (g *GraphDispatcher[T]) NodeCount() int { return g.nodeCount() }

var _ Network[int] = (*GraphDispatcher[int])(nil)
