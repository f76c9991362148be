// Package tinycoin implements a minimal proof-of-work ledger protocol on
// top of pkg/simnet: nodes gossip transactions and blocks, track a
// longest-chain head, and maintain a running balance ledger that is
// rolled back and replayed whenever the head moves across a fork.
package tinycoin

import (
	"sync/atomic"

	"github.com/veluca93/distsim/pkg/simnet"
)

// BlockID identifies a block across the whole simulation. Negative values
// are reserved sentinels rather than real blocks.
type BlockID = int64

// TxID identifies a transaction across the whole simulation.
type TxID = int64

const (
	// BlockUninitialized marks a block id a node has never heard of.
	BlockUninitialized BlockID = -1
	// BlockPending marks a block a node has received but cannot yet place
	// on its chain because it is missing the block's parent.
	BlockPending BlockID = -2
	// GenesisParent is the parent id of the chain's genesis block.
	GenesisParent BlockID = -1
)

// IDAllocator hands out globally unique block and transaction ids for one
// simulation run. It replaces the original's process-wide atomic
// counters: a struct instance, threaded explicitly into every node's
// constructor, keeps simulation runs (and their tests) from leaking
// counter state into one another.
type IDAllocator struct {
	nextBlock atomic.Int64
	nextTx    atomic.Int64
}

// NewIDAllocator creates an allocator whose first block id is 0 (the
// genesis block a driver mints before wiring up any node) and whose first
// transaction id is also 0.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

func (a *IDAllocator) NextBlockID() BlockID { return a.nextBlock.Add(1) - 1 }
func (a *IDAllocator) NextTxID() TxID       { return a.nextTx.Add(1) - 1 }

// Transaction moves Amount from Sender to Recipient.
type Transaction struct {
	ID        TxID
	Sender    simnet.NodeID
	Recipient simnet.NodeID
	Amount    float64
}

// Block extends Parent with a batch of transactions mined by Miner.
type Block struct {
	ID           BlockID
	Parent       BlockID
	Miner        simnet.NodeID
	Transactions []Transaction
}

// MessageKind distinguishes the two ways a node can be externally told to
// do something via StartMessage; it is meaningless for messages that carry
// an actual Block or Transaction (those are routed by which payload field
// is set).
type MessageKind int

const (
	// KindOriginateTx is the zero value, so an externally generated
	// message with a default payload asks the node to mint and gossip a
	// brand new transaction -- the steady background traffic of the
	// network.
	KindOriginateTx MessageKind = iota
	// KindMine asks a TinyMiner to attempt to extend its current head
	// with a new block. Plain TinyNodes ignore it.
	KindMine
)

// Data is the payload type every tinycoin node exchanges: either a
// command (for StartMessage) or a gossiped Block/Transaction (for
// HandleMessage).
type Data struct {
	Kind  MessageKind
	Block *Block
	Tx    *Transaction
}
