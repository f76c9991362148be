// Package chord implements greedy finger-table routing over a ring of
// node ids, the way the original protocol examples route lookups across a
// Dispatcher-backed population: each hop jumps to the furthest known node
// that does not overshoot the target, until the node responsible for the
// target answers.
package chord

import (
	"github.com/veluca93/distsim/pkg/rng"
	"github.com/veluca93/distsim/pkg/simnet"
)

// CompletionFunc is invoked, once per lookup, on the node that turns out
// to own the searched-for ring position. hops counts network sends
// consumed by the lookup, not counting the originating node's own local
// routing decision.
type CompletionFunc func(owner, target simnet.NodeID, hops uint64)

// Node is a Chord ring participant. Its ring position is its own
// simnet.NodeID; Bits controls the size of the ring (2^Bits) and so how
// many fingers it considers per hop.
type Node struct {
	simnet.BaseHandler[simnet.NodeID]

	net  simnet.RingNetwork[simnet.NodeID]
	id   simnet.NodeID
	rng  *rng.RNG
	bits uint

	onComplete CompletionFunc
}

// New builds a Chord node bound to net. It is meant to be passed as the
// factory argument to Dispatcher.AddNode.
func New(bits uint, onComplete CompletionFunc) func(simnet.Network[simnet.NodeID], simnet.NodeID, *rng.RNG) simnet.Handler[simnet.NodeID] {
	return func(net simnet.Network[simnet.NodeID], id simnet.NodeID, r *rng.RNG) simnet.Handler[simnet.NodeID] {
		ring, ok := net.(simnet.RingNetwork[simnet.NodeID])
		if !ok {
			panic("chord: Node requires a RingNetwork-capable dispatcher")
		}
		return &Node{net: ring, id: id, rng: r, bits: bits, onComplete: onComplete}
	}
}

func (n *Node) ringSize() simnet.NodeID { return simnet.NodeID(1) << n.bits }

// dist returns the clockwise distance from a to b on the ring.
func (n *Node) dist(a, b simnet.NodeID) simnet.NodeID {
	size := n.ringSize()
	return ((b - a) % size + size) % size
}

// Successor returns the node responsible for ring position target: target
// itself if it is a registered node, otherwise the next registered id
// clockwise, wrapping around the ring.
func (n *Node) Successor(target simnet.NodeID) simnet.NodeID {
	if n.net.Exists(target) {
		return target
	}
	next, err := n.net.NextID(target)
	if err != nil {
		return n.id
	}
	return next
}

// StartMessage picks a random ring position not already owned by this
// node and routes a lookup towards it, beginning with this node's own
// finger table -- exactly as if the first hop had just arrived, except the
// local routing decision doesn't count as a network hop.
func (n *Node) StartMessage(msg simnet.Message[simnet.NodeID]) {
	var target simnet.NodeID
	for {
		target = n.rng.Uint64n(n.ringSize())
		if n.Successor(target) != n.id {
			break
		}
	}
	n.route(simnet.Message[simnet.NodeID]{Payload: target, Hops: msg.Hops})
}

// HandleMessage routes a lookup one hop further, or completes it if this
// node is the target's owner.
func (n *Node) HandleMessage(msg simnet.Message[simnet.NodeID]) {
	n.route(msg)
}

func (n *Node) route(msg simnet.Message[simnet.NodeID]) {
	target := msg.Payload
	dst := n.Successor(target)
	if dst == n.id {
		if n.onComplete != nil {
			n.onComplete(n.id, target, msg.Hops)
		}
		return
	}

	// The cutoff is distance to the resolved owner dst, not the raw
	// target: any finger at least that close to dst is a legal jump,
	// even if it overshoots the (possibly unregistered) target itself.
	targetDist := n.dist(n.id, dst)
	size := n.ringSize()
	best := n.id
	bestDist := simnet.NodeID(0)
	for i := int(n.bits) - 1; i >= 0; i-- {
		fingerPos := (n.id + (simnet.NodeID(1) << uint(i))) % size
		owner := n.Successor(fingerPos)
		if owner == n.id {
			// A finger that maps back to ourselves carries no routing
			// information; skipping it (rather than greedily picking it,
			// which would spin in place) keeps hop counts from exploding
			// on sparse rings.
			continue
		}
		d := n.dist(n.id, owner)
		if d <= targetDist && d > bestDist {
			best = owner
			bestDist = d
		}
	}
	if best == n.id {
		best, _ = n.net.NextID(n.id)
	}
	_ = n.net.SendMessage(n.id, best, msg)
}
