package tinycoin

import (
	"sync"
	"time"

	bloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/veluca93/distsim/pkg/rng"
	"github.com/veluca93/distsim/pkg/simnet"
)

// defaultBlockReward and defaultTransactionReward match the config
// defaults in spec.md's external-interfaces table (block_reward,
// transaction_reward); a driver overrides them with Option values built
// from the parsed config file.
const (
	defaultBlockReward       = 1.0
	defaultTransactionReward = 0.01
	defaultBaseDelay         = 100 * time.Nanosecond
	defaultDelayPerTx        = 20 * time.Nanosecond
	defaultTxPerBlock        = 50
)

// initialBalanceFloor/Span mirror the original's `rng() % 1024 + 16`
// starting balance.
const (
	initialBalanceFloor = 16
	initialBalanceSpan  = 1024
)


// Option configures a TinyNode (or, via NewMiner, a TinyMiner) at
// construction time, the way pkg/simnet's functional options configure a
// dispatcher.
type Option func(*TinyNode)

// WithBlockReward overrides the reward credited to a node's own balance
// when a block it mined is confirmed.
func WithBlockReward(r float64) Option { return func(n *TinyNode) { n.blockReward = r } }

// WithTransactionReward overrides the per-transaction reward a miner
// earns, multiplied by the number of transactions in a confirmed block it
// mined.
func WithTransactionReward(r float64) Option { return func(n *TinyNode) { n.txReward = r } }

// WithDelays overrides the flat per-block delay and the per-transaction
// delay contribution (also used as the fixed delay for transaction
// messages themselves, matching the original's reuse of
// delay_per_transaction for both).
func WithDelays(base, perTx time.Duration) Option {
	return func(n *TinyNode) { n.baseDelay = base; n.delayPerTx = perTx }
}

// WithTransactionsPerBlock overrides how many pending mempool
// transactions a miner packs into a single block it mines.
func WithTransactionsPerBlock(n int) Option {
	return func(node *TinyNode) { node.txPerBlock = n }
}

// TinyNode is a non-mining participant: it validates and gossips blocks
// and transactions, and maintains its own view of its balance implied by
// whichever chain its head currently points at.
type TinyNode struct {
	simnet.BaseHandler[Data]

	net     simnet.Network[Data]
	id      simnet.NodeID
	rng     *rng.RNG
	ids     *IDAllocator
	genesis *Block

	blockReward float64
	txReward    float64
	baseDelay   time.Duration
	delayPerTx  time.Duration
	txPerBlock  int

	chainMu       sync.Mutex
	blocks        map[BlockID]*Block
	lengths       map[BlockID]int64
	pendingBlocks map[BlockID][]BlockID
	head          BlockID

	txMu       sync.Mutex
	txFilter   *bloom.BloomFilter
	receivedTx map[TxID]bool

	balanceMu sync.Mutex
	balance   float64

	// onNewBlock, onConfirm, onUnconfirm and onTransactionAccepted are the
	// extension points TinyMiner hooks to feed its mempool and its mining
	// policy without TinyNode needing to know miners exist.
	onNewBlock            func(b *Block, external bool)
	onConfirm             func(b *Block)
	onUnconfirm           func(b *Block)
	onTransactionAccepted func(tx *Transaction)
}

// New returns a node factory suitable for Dispatcher.AddNode/
// GraphDispatcher.AddNode: every node it builds shares the same id
// allocator and genesis block, the way every participant in one
// simulation run must.
func New(ids *IDAllocator, genesis *Block, opts ...Option) func(simnet.Network[Data], simnet.NodeID, *rng.RNG) simnet.Handler[Data] {
	return func(net simnet.Network[Data], id simnet.NodeID, r *rng.RNG) simnet.Handler[Data] {
		return newTinyNode(net, id, r, ids, genesis, opts...)
	}
}

func newTinyNode(net simnet.Network[Data], id simnet.NodeID, r *rng.RNG, ids *IDAllocator, genesis *Block, opts ...Option) *TinyNode {
	n := &TinyNode{
		net:           net,
		id:            id,
		rng:           r,
		ids:           ids,
		genesis:       genesis,
		blockReward:   defaultBlockReward,
		txReward:      defaultTransactionReward,
		baseDelay:     defaultBaseDelay,
		delayPerTx:    defaultDelayPerTx,
		txPerBlock:    defaultTxPerBlock,
		blocks:        map[BlockID]*Block{},
		lengths:       map[BlockID]int64{},
		pendingBlocks: map[BlockID][]BlockID{},
		receivedTx:    map[TxID]bool{},
		txFilter:      bloom.NewWithEstimates(10000, 0.01),
		balance:       float64(r.IntRange(initialBalanceFloor, initialBalanceFloor+initialBalanceSpan)),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.onNewBlock = func(*Block, bool) {}
	n.onConfirm = func(*Block) {}
	n.onUnconfirm = func(*Block) {}
	n.onTransactionAccepted = func(*Transaction) {}
	return n
}

// Init seeds the node's chain with the shared genesis block.
func (n *TinyNode) Init() {
	n.chainMu.Lock()
	defer n.chainMu.Unlock()
	n.blocks[n.genesis.ID] = n.genesis
	n.lengths[n.genesis.ID] = 0
	n.head = n.genesis.ID
}

// ID returns this node's simnet identity.
func (n *TinyNode) ID() simnet.NodeID { return n.id }

// Head returns the block id this node currently considers the chain tip.
func (n *TinyNode) Head() BlockID {
	n.chainMu.Lock()
	defer n.chainMu.Unlock()
	return n.head
}

// ChainLength returns the chain length recorded for id, or
// BlockUninitialized/BlockPending if the node hasn't resolved it yet.
func (n *TinyNode) ChainLength(id BlockID) int64 {
	n.chainMu.Lock()
	defer n.chainMu.Unlock()
	return n.lengthLocked(id)
}

func (n *TinyNode) lengthLocked(id BlockID) int64 {
	if l, ok := n.lengths[id]; ok {
		return l
	}
	return BlockUninitialized
}

// Blockchain returns a snapshot of every block this node knows about,
// keyed by id, and the id of its current head. Used by drivers to compute
// an end-of-run fork/split report.
func (n *TinyNode) Blockchain() (map[BlockID]*Block, BlockID) {
	n.chainMu.Lock()
	defer n.chainMu.Unlock()
	out := make(map[BlockID]*Block, len(n.blocks))
	for id, b := range n.blocks {
		out[id] = b
	}
	return out, n.head
}

// Balance returns this node's own current balance.
func (n *TinyNode) Balance() float64 {
	n.balanceMu.Lock()
	defer n.balanceMu.Unlock()
	return n.balance
}

func (n *TinyNode) HandleMessage(msg simnet.Message[Data]) {
	switch {
	case msg.Payload.Block != nil:
		n.handleBlock(msg.Payload.Block, true)
	case msg.Payload.Tx != nil:
		n.handleTransaction(msg.Payload.Tx, true)
	}
}

func (n *TinyNode) StartMessage(msg simnet.Message[Data]) {
	switch msg.Payload.Kind {
	case KindMine:
		// Plain TinyNodes never mine; only TinyMiner overrides this case.
	default:
		n.originateTransaction()
	}
}

// originateTransaction mints a transaction for a random amount up to this
// node's current balance, debits the balance immediately (the original
// does not wait for confirmation, trusting nodes not to double-spend),
// and gossips it the same way a received transaction would be.
func (n *TinyNode) originateTransaction() {
	recipient, err := n.net.GetRandomNode()
	if err != nil {
		return
	}
	for recipient == n.id {
		recipient, err = n.net.GetRandomNode()
		if err != nil {
			return
		}
	}

	balance := n.Balance()
	amount := balance * n.rng.Float64() * 0.99
	if amount < 0 {
		amount = 0
	}

	n.balanceMu.Lock()
	n.balance -= amount
	n.balanceMu.Unlock()

	tx := &Transaction{
		ID:        n.ids.NextTxID(),
		Sender:    n.id,
		Recipient: recipient,
		Amount:    amount,
	}
	n.handleTransaction(tx, true)
}

// handleTransaction dedups tx against a bloom-filter fast path backed by
// an exact set, runs the accepted-transaction hook, and optionally
// gossips it onward with the fixed transaction delay.
func (n *TinyNode) handleTransaction(tx *Transaction, forward bool) {
	n.txMu.Lock()
	key := txKey(tx.ID)
	if n.txFilter.Test(key) && n.receivedTx[tx.ID] {
		n.txMu.Unlock()
		return
	}
	n.txFilter.Add(key)
	n.receivedTx[tx.ID] = true
	n.txMu.Unlock()

	n.onTransactionAccepted(tx)
	if forward {
		n.broadcast(Data{Tx: tx}, n.delayPerTx)
	}
}

// handleBlock validates b against the node's current chain view: dedups
// it, queues it as pending if its parent hasn't resolved yet, or finalizes
// it (and recursively any pending children waiting on it) otherwise. The
// onNewBlock hook fires exactly once per newly-observed block, whether or
// not it could be placed on the chain immediately, matching the
// original's "if new" gossip/policy hook.
func (n *TinyNode) handleBlock(b *Block, external bool) {
	n.chainMu.Lock()
	if _, seen := n.lengths[b.ID]; seen {
		n.chainMu.Unlock()
		return
	}
	n.blocks[b.ID] = b

	parentLen, parentKnown := n.lengths[b.Parent]
	if !parentKnown || parentLen == BlockPending {
		n.lengths[b.ID] = BlockPending
		n.pendingBlocks[b.Parent] = append(n.pendingBlocks[b.Parent], b.ID)
		n.chainMu.Unlock()
		n.onNewBlock(b, external)
		if external {
			n.broadcast(Data{Block: b}, n.blockDelay(b))
		}
		return
	}

	n.finalizeBlockLocked(b, parentLen)
	n.chainMu.Unlock()
	n.onNewBlock(b, external)
	if external {
		n.broadcast(Data{Block: b}, n.blockDelay(b))
	}
}

// finalizeBlockLocked must be called with chainMu held. It computes b's
// chain length, maybe moves the head, and drains any children that were
// waiting on b to resolve.
func (n *TinyNode) finalizeBlockLocked(b *Block, parentLen int64) {
	length := parentLen + 1
	n.lengths[b.ID] = length
	if length > n.lengthLocked(n.head) {
		n.updateHeadLocked(b.ID)
	}

	children := n.pendingBlocks[b.ID]
	delete(n.pendingBlocks, b.ID)
	for _, childID := range children {
		n.finalizeBlockLocked(n.blocks[childID], length)
	}
}

// updateHeadLocked walks the old and new head back to their common
// ancestor, unconfirming the abandoned branch and confirming the adopted
// one, then commits newHead. Must be called with chainMu held.
func (n *TinyNode) updateHeadLocked(newHead BlockID) {
	oldPath := n.pathToGenesisLocked(n.head)
	newPath := n.pathToGenesisLocked(newHead)

	oldIndex := make(map[BlockID]int, len(oldPath))
	for i, id := range oldPath {
		oldIndex[id] = i
	}

	lcaOldIdx := len(oldPath) - 1 // genesis is always a common ancestor
	lcaID := oldPath[lcaOldIdx]
	for _, id := range newPath {
		if idx, ok := oldIndex[id]; ok {
			lcaOldIdx = idx
			lcaID = id
			break
		}
	}

	for i := 0; i < lcaOldIdx; i++ {
		n.unconfirmLocked(n.blocks[oldPath[i]])
	}

	newLcaIdx := 0
	for i, id := range newPath {
		if id == lcaID {
			newLcaIdx = i
			break
		}
	}
	for i := newLcaIdx - 1; i >= 0; i-- {
		n.confirmLocked(n.blocks[newPath[i]])
	}

	n.head = newHead
}

// pathToGenesisLocked returns [id, parent(id), ..., genesis.ID]. Must be
// called with chainMu held; every block on the path is guaranteed present
// because a block only becomes resolvable once its whole ancestry is.
func (n *TinyNode) pathToGenesisLocked(id BlockID) []BlockID {
	path := make([]BlockID, 0, 8)
	cur := id
	for {
		path = append(path, cur)
		if cur == n.genesis.ID {
			return path
		}
		cur = n.blocks[cur].Parent
	}
}

// blockValue is this node's own view of what block b is worth to it: the
// sum of every transaction in b that pays this node, plus the mining
// reward if this node mined b.
func (n *TinyNode) blockValue(b *Block) float64 {
	var val float64
	for _, tx := range b.Transactions {
		if tx.Recipient == n.id {
			val += tx.Amount
		}
	}
	if b.Miner == n.id {
		val += n.blockReward + n.txReward*float64(len(b.Transactions))
	}
	return val
}

func (n *TinyNode) confirmLocked(b *Block) {
	n.balanceMu.Lock()
	n.balance += n.blockValue(b)
	n.balanceMu.Unlock()
	n.onConfirm(b)
}

func (n *TinyNode) unconfirmLocked(b *Block) {
	n.balanceMu.Lock()
	n.balance -= n.blockValue(b)
	n.balanceMu.Unlock()
	n.onUnconfirm(b)
}

// ApplyBlock runs a block through chain validation without gossiping it,
// used by the selfish-mining coordinator to keep a coalition member's own
// ledger in sync with blocks it already knows about through the
// coordinator rather than through the network.
func (n *TinyNode) ApplyBlock(b *Block) {
	n.handleBlock(b, false)
}

func (n *TinyNode) broadcast(d Data, delay time.Duration) {
	for _, neigh := range n.net.GetNeighbours(n.id) {
		_ = n.net.SendMessage(n.id, neigh, simnet.Message[Data]{Payload: d, Delay: delay})
	}
}

// blockDelay is the propagation delay a block's gossip message carries:
// a flat per-block cost plus a per-transaction cost for how much data the
// block holds.
func (n *TinyNode) blockDelay(b *Block) time.Duration {
	return n.baseDelay + time.Duration(len(b.Transactions))*n.delayPerTx
}

func txKey(id TxID) []byte {
	b := make([]byte, 8)
	u := uint64(id)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
	return b
}

var _ simnet.Handler[Data] = (*TinyNode)(nil)
