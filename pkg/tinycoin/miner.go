package tinycoin

import (
	"sort"
	"sync"

	"github.com/veluca93/distsim/pkg/rng"
	"github.com/veluca93/distsim/pkg/simnet"
)

// MinerPolicy decides what a miner does with a block it has just mined
// (OnMined), a block it has just learned about from the network
// (OnBlock), and a transaction it has just accepted into its mempool
// (OnTransaction). HonestPolicy broadcasts immediately; selfish.Policy
// defers to a coalition coordinator instead.
type MinerPolicy interface {
	OnMined(b *Block)
	OnBlock(b *Block)
	OnTransaction(tx *Transaction)
}

// HonestPolicy is the default strategy: publish every mined block right
// away and otherwise stay out of the way.
type HonestPolicy struct {
	send func(*Block)
}

// NewHonestPolicy builds a policy that hands every mined block to send.
func NewHonestPolicy(send func(*Block)) *HonestPolicy {
	return &HonestPolicy{send: send}
}

func (p *HonestPolicy) OnMined(b *Block)           { p.send(b) }
func (p *HonestPolicy) OnBlock(*Block)             {}
func (p *HonestPolicy) OnTransaction(*Transaction) {}

// TinyMiner extends TinyNode with a mempool and a pluggable mining
// policy. It only overrides StartMessage (to add the "attempt to mine"
// command); block and transaction handling are inherited unchanged from
// TinyNode, which calls back into the hooks wired up below.
type TinyMiner struct {
	*TinyNode

	// Power is this miner's relative hash-rate weight, set by the driver
	// from internal/hashpower. Nothing reads it back: the driver picks
	// which miner a mining event lands on from its own copy of the
	// weights, and the miner itself never consults it.
	Power float64

	mempoolMu           sync.Mutex
	pendingTransactions map[TxID]*Transaction

	policy MinerPolicy
}

// NewMiner returns a node factory producing a TinyMiner. newPolicy builds
// the miner's MinerPolicy given the miner itself (so the policy can call
// back into it, e.g. for coalition bookkeeping); pass nil to default to
// HonestPolicy.
func NewMiner(ids *IDAllocator, genesis *Block, power float64, newPolicy func(m *TinyMiner) MinerPolicy, opts ...Option) func(simnet.Network[Data], simnet.NodeID, *rng.RNG) simnet.Handler[Data] {
	return func(net simnet.Network[Data], id simnet.NodeID, r *rng.RNG) simnet.Handler[Data] {
		base := newTinyNode(net, id, r, ids, genesis, opts...)
		m := &TinyMiner{
			TinyNode:            base,
			Power:               power,
			pendingTransactions: map[TxID]*Transaction{},
		}

		base.onTransactionAccepted = func(tx *Transaction) {
			m.mempoolMu.Lock()
			m.pendingTransactions[tx.ID] = tx
			m.mempoolMu.Unlock()
			m.policy.OnTransaction(tx)
		}
		// A newly observed block is only worth telling the policy about
		// when it arrived from the network; blocks this node applies to
		// itself (its own mined blocks, or coalition bookkeeping via
		// ApplyBlock) don't need a second opinion from the policy.
		base.onNewBlock = func(b *Block, external bool) {
			if external {
				m.policy.OnBlock(b)
			}
		}
		// Mempool membership tracks the adopted chain, not mere receipt:
		// a block's transactions only leave the pool once that block is
		// confirmed on the head path, and come back if the head later
		// moves away from it.
		base.onConfirm = func(b *Block) {
			m.mempoolMu.Lock()
			for _, tx := range b.Transactions {
				delete(m.pendingTransactions, tx.ID)
			}
			m.mempoolMu.Unlock()
		}
		base.onUnconfirm = func(b *Block) {
			m.mempoolMu.Lock()
			for i := range b.Transactions {
				tx := b.Transactions[i]
				m.pendingTransactions[tx.ID] = &tx
			}
			m.mempoolMu.Unlock()
		}

		if newPolicy != nil {
			m.policy = newPolicy(m)
		} else {
			m.policy = NewHonestPolicy(m.Broadcast)
		}
		return m
	}
}

// StartMessage adds the mining command on top of TinyNode's default
// (originate a transaction) behavior.
func (m *TinyMiner) StartMessage(msg simnet.Message[Data]) {
	if msg.Payload.Kind == KindMine {
		m.mine()
		return
	}
	m.TinyNode.StartMessage(msg)
}

// mine assembles a block extending the miner's current head from up to
// txPerBlock pending transactions and hands it to the policy. Candidate
// ids are sorted before truncating so that a run is reproducible given a
// fixed seed: map iteration order is randomized per-process and is not
// tied to the simulation's RNG stream.
func (m *TinyMiner) mine() {
	head := m.Head()

	m.mempoolMu.Lock()
	ids := make([]TxID, 0, len(m.pendingTransactions))
	for id := range m.pendingTransactions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > m.txPerBlock {
		ids = ids[:m.txPerBlock]
	}
	txs := make([]Transaction, 0, len(ids))
	for _, id := range ids {
		txs = append(txs, *m.pendingTransactions[id])
	}
	m.mempoolMu.Unlock()

	b := &Block{ID: m.ids.NextBlockID(), Parent: head, Miner: m.id, Transactions: txs}
	m.policy.OnMined(b)
}

// Broadcast incorporates b into this miner's own chain view and then
// gossips it to every neighbour. It is both HonestPolicy's default send
// function and the network fan-out primitive a selfish coalition uses
// once it decides to publish.
func (m *TinyMiner) Broadcast(b *Block) {
	m.ApplyBlock(b)
	m.broadcast(Data{Block: b}, m.blockDelay(b))
}

var _ simnet.Handler[Data] = (*TinyMiner)(nil)
