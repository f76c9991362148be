package tinycoin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veluca93/distsim/pkg/simnet"
)

func newTestGenesis(ids *IDAllocator) *Block {
	return &Block{ID: ids.NextBlockID(), Parent: GenesisParent, Miner: 0}
}

func mustHandler(t *testing.T, d *simnet.GraphDispatcher[Data], id simnet.NodeID) *TinyNode {
	handler, ok := d.Handler(id)
	require.True(t, ok)
	return handler.(*TinyNode)
}

func mustMinerHandler(t *testing.T, d *simnet.GraphDispatcher[Data], id simnet.NodeID) *TinyMiner {
	handler, ok := d.Handler(id)
	require.True(t, ok)
	return handler.(*TinyMiner)
}

func TestTinyNodeAcceptsLinearChain(t *testing.T) {
	d := simnet.NewGraphDispatcher[Data](1, 1, false)
	ids := NewIDAllocator()
	genesis := newTestGenesis(ids)

	a, err := d.AddNode(New(ids, genesis))
	require.NoError(t, err)
	b, err := d.AddNode(New(ids, genesis))
	require.NoError(t, err)
	require.NoError(t, d.AddEdge(a, b))

	node := mustHandler(t, d, a)
	assert.Equal(t, genesis.ID, node.Head())

	block1 := &Block{ID: ids.NextBlockID(), Parent: genesis.ID, Miner: a}
	node.handleBlock(block1, false)
	assert.Equal(t, block1.ID, node.Head())
	assert.Equal(t, int64(1), node.ChainLength(block1.ID))

	_ = b
}

func TestTinyNodeQueuesOrphanBlockUntilParentArrives(t *testing.T) {
	d := simnet.NewGraphDispatcher[Data](1, 2, false)
	ids := NewIDAllocator()
	genesis := newTestGenesis(ids)
	a, err := d.AddNode(New(ids, genesis))
	require.NoError(t, err)
	node := mustHandler(t, d, a)

	parent := &Block{ID: ids.NextBlockID(), Parent: genesis.ID, Miner: a}
	child := &Block{ID: ids.NextBlockID(), Parent: parent.ID, Miner: a}

	node.handleBlock(child, false)
	assert.Equal(t, BlockPending, node.ChainLength(child.ID))
	assert.Equal(t, genesis.ID, node.Head(), "an orphan must not move the head")

	node.handleBlock(parent, false)
	assert.Equal(t, int64(2), node.ChainLength(child.ID), "child must resolve once its parent arrives")
	assert.Equal(t, child.ID, node.Head())
}

func TestTinyNodeReorgsBalanceAcrossFork(t *testing.T) {
	d := simnet.NewGraphDispatcher[Data](1, 3, false)
	ids := NewIDAllocator()
	genesis := newTestGenesis(ids)
	a, err := d.AddNode(New(ids, genesis))
	require.NoError(t, err)
	node := mustHandler(t, d, a)

	startBalance := node.Balance()

	// Node a mines (from its own perspective) the short branch, so its
	// balance should rise by one block_value while that branch is head.
	shortBranch := &Block{ID: ids.NextBlockID(), Parent: genesis.ID, Miner: a}
	node.handleBlock(shortBranch, false)
	assert.Equal(t, shortBranch.ID, node.Head())
	assert.InDelta(t, startBalance+node.blockReward, node.Balance(), 1e-9)

	// A longer branch mined by someone else overtakes it; a's reward from
	// the abandoned branch must be reverted, leaving the starting balance.
	minerY := simnet.NodeID(200)
	longBranch1 := &Block{ID: ids.NextBlockID(), Parent: genesis.ID, Miner: minerY}
	longBranch2 := &Block{ID: ids.NextBlockID(), Parent: longBranch1.ID, Miner: minerY}
	node.handleBlock(longBranch1, false)
	node.handleBlock(longBranch2, false)

	assert.Equal(t, longBranch2.ID, node.Head(), "the longer branch must win")
	assert.InDelta(t, startBalance, node.Balance(), 1e-9, "reward from the abandoned branch must be reverted")
}

func TestTinyNodeDedupsTransactions(t *testing.T) {
	d := simnet.NewGraphDispatcher[Data](1, 4, false)
	ids := NewIDAllocator()
	genesis := newTestGenesis(ids)
	a, err := d.AddNode(New(ids, genesis))
	require.NoError(t, err)
	node := mustHandler(t, d, a)

	tx := &Transaction{ID: ids.NextTxID(), Sender: 1, Recipient: 2, Amount: 5}
	seen := 0
	node.onTransactionAccepted = func(*Transaction) { seen++ }

	node.handleTransaction(tx, false)
	node.handleTransaction(tx, false)
	assert.Equal(t, 1, seen, "the same transaction id must only be accepted once")
}

func TestTinyMinerMinesAndAppliesOwnBlock(t *testing.T) {
	d := simnet.NewGraphDispatcher[Data](1, 5, false)
	ids := NewIDAllocator()
	genesis := newTestGenesis(ids)

	a, err := d.AddNode(NewMiner(ids, genesis, 1.0, nil))
	require.NoError(t, err)
	b, err := d.AddNode(New(ids, genesis))
	require.NoError(t, err)
	require.NoError(t, d.AddEdge(a, b))
	d.Run()
	defer d.Stop()

	miner := mustMinerHandler(t, d, a)
	startBalance := miner.Balance()
	tx := &Transaction{ID: ids.NextTxID(), Sender: b, Recipient: a, Amount: 10}
	miner.handleTransaction(tx, false)

	require.NoError(t, d.GenMessage(a, Data{Kind: KindMine}))

	assert.NotEqual(t, genesis.ID, miner.Head())
	// Mining its own block earns the reward plus the transaction reward
	// for the one mempool transaction it packed in, plus that
	// transaction's own amount since the recipient is also a.
	assert.InDelta(t, startBalance+miner.blockReward+miner.txReward+10, miner.Balance(), 1e-9)
}

func TestTinyMinerMempoolUnconfirmsOnReorg(t *testing.T) {
	d := simnet.NewGraphDispatcher[Data](1, 6, false)
	ids := NewIDAllocator()
	genesis := newTestGenesis(ids)

	a, err := d.AddNode(NewMiner(ids, genesis, 1.0, nil))
	require.NoError(t, err)
	miner := mustMinerHandler(t, d, a)

	tx := &Transaction{ID: ids.NextTxID(), Sender: 1, Recipient: 2, Amount: 5}
	miner.handleTransaction(tx, false)

	own := &Block{ID: ids.NextBlockID(), Parent: genesis.ID, Miner: a, Transactions: []Transaction{*tx}}
	miner.handleBlock(own, false)
	miner.mempoolMu.Lock()
	_, stillPending := miner.pendingTransactions[tx.ID]
	miner.mempoolMu.Unlock()
	assert.False(t, stillPending, "a confirmed block's transactions must leave the mempool")

	minerY := simnet.NodeID(300)
	rival1 := &Block{ID: ids.NextBlockID(), Parent: genesis.ID, Miner: minerY}
	rival2 := &Block{ID: ids.NextBlockID(), Parent: rival1.ID, Miner: minerY}
	miner.handleBlock(rival1, false)
	miner.handleBlock(rival2, false)

	assert.Equal(t, rival2.ID, miner.Head())
	miner.mempoolMu.Lock()
	_, backInPool := miner.pendingTransactions[tx.ID]
	miner.mempoolMu.Unlock()
	assert.True(t, backInPool, "unconfirming the abandoned block must return its transaction to the mempool")
}
