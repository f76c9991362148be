// Package simnet is the discrete-event simulation engine: typed messages,
// per-node inboxes, and a dispatcher that drives a worker pool over a
// population of nodes until quiescence. It is protocol-agnostic; the
// chord, tinycoin and selfish packages are built on top of it.
package simnet

import "time"

// NodeID identifies a node within a single Dispatcher/GraphDispatcher. Ids
// are unique among a dispatcher's currently registered nodes; on a
// Dispatcher, the id of a failed node can be registered again.
type NodeID = uint64

// Message carries a typed payload between nodes. Hops counts the number of
// times the message has been forwarded via SendMessage; StartMessage does
// not increment it, so a message that completes at its origin has
// Hops == 0 (spec.md §8 invariant 1). Delay controls how long the
// destination's inbox must hold the message before it becomes eligible for
// delivery; zero means immediate delivery.
type Message[T any] struct {
	Hops    uint64
	Delay   time.Duration
	Payload T
}
