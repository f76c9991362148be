package selfish

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veluca93/distsim/pkg/simnet"
	"github.com/veluca93/distsim/pkg/tinycoin"
)

func newCoalitionMiner(t *testing.T, d *simnet.GraphDispatcher[tinycoin.Data], ids *tinycoin.IDAllocator, genesis *tinycoin.Block, coord *Coordinator) (simnet.NodeID, *tinycoin.TinyMiner) {
	id, err := d.AddNode(tinycoin.NewMiner(ids, genesis, 1.0, NewPolicy(coord)))
	require.NoError(t, err)
	handler, ok := d.Handler(id)
	require.True(t, ok)
	return id, handler.(*tinycoin.TinyMiner)
}

func TestCoalitionKeepsFirstBlockPrivate(t *testing.T) {
	d := simnet.NewGraphDispatcher[tinycoin.Data](1, 1, false)
	ids := tinycoin.NewIDAllocator()
	genesis := &tinycoin.Block{ID: ids.NextBlockID(), Parent: tinycoin.GenesisParent}
	coord := NewCoordinator()

	a, minerA := newCoalitionMiner(t, d, ids, genesis, coord)
	outsider, err := d.AddNode(tinycoin.New(ids, genesis))
	require.NoError(t, err)
	require.NoError(t, d.AddEdge(a, outsider))

	privateBlock := &tinycoin.Block{ID: ids.NextBlockID(), Parent: genesis.ID, Miner: a}
	coord.OurBlock(privateBlock)

	assert.Equal(t, 1, coord.Lead(), "a fresh coalition's very first block must stay private, or it can never build a lead")
	assert.Equal(t, privateBlock.ID, minerA.Head(), "the miner still applies its own block locally even though it isn't published")
}

func TestCoalitionKeepsNextBlockPrivateAfterAFlush(t *testing.T) {
	d := simnet.NewGraphDispatcher[tinycoin.Data](1, 2, false)
	ids := tinycoin.NewIDAllocator()
	genesis := &tinycoin.Block{ID: ids.NextBlockID(), Parent: tinycoin.GenesisParent}
	coord := NewCoordinator()

	a, _ := newCoalitionMiner(t, d, ids, genesis, coord)

	first := &tinycoin.Block{ID: ids.NextBlockID(), Parent: genesis.ID, Miner: a}
	coord.OurBlock(first) // fresh coalition -> stays private, lead 1

	rival := &tinycoin.Block{ID: ids.NextBlockID(), Parent: genesis.ID, Miner: 999}
	coord.OthersBlock(rival) // lead 1 -> publish everything to win the tie

	require.Equal(t, 0, coord.Lead())

	second := &tinycoin.Block{ID: ids.NextBlockID(), Parent: first.ID, Miner: a}
	coord.OurBlock(second) // tied again, but a full flush clears the published baseline too

	assert.Equal(t, 1, coord.Lead(), "a flush resets the published baseline, so the next tie must stay private just like a fresh coalition's first block")
}

func TestCoalitionKeepsLeadPrivateWhenAhead(t *testing.T) {
	d := simnet.NewGraphDispatcher[tinycoin.Data](1, 3, false)
	ids := tinycoin.NewIDAllocator()
	genesis := &tinycoin.Block{ID: ids.NextBlockID(), Parent: tinycoin.GenesisParent}
	coord := NewCoordinator()

	a, _ := newCoalitionMiner(t, d, ids, genesis, coord)

	first := &tinycoin.Block{ID: ids.NextBlockID(), Parent: genesis.ID, Miner: a}
	coord.OurBlock(first) // fresh coalition -> stays private, lead 1

	second := &tinycoin.Block{ID: ids.NextBlockID(), Parent: first.ID, Miner: a}
	coord.OurBlock(second) // lead 1 before this block -> stays private, lead 2

	assert.Equal(t, 2, coord.Lead(), "the second block should extend the lead without publishing")
}

func TestCoalitionAbandonsForkWithNoLead(t *testing.T) {
	d := simnet.NewGraphDispatcher[tinycoin.Data](1, 4, false)
	ids := tinycoin.NewIDAllocator()
	genesis := &tinycoin.Block{ID: ids.NextBlockID(), Parent: tinycoin.GenesisParent}
	coord := NewCoordinator()

	newCoalitionMiner(t, d, ids, genesis, coord)

	publicBlock := &tinycoin.Block{ID: ids.NextBlockID(), Parent: genesis.ID, Miner: 999}
	coord.OthersBlock(publicBlock)

	assert.Equal(t, 0, coord.Lead())
}

func TestCoalitionFlushesFullBacklogWhenLeadOfTwoDropsToOne(t *testing.T) {
	d := simnet.NewGraphDispatcher[tinycoin.Data](1, 5, false)
	ids := tinycoin.NewIDAllocator()
	genesis := &tinycoin.Block{ID: ids.NextBlockID(), Parent: tinycoin.GenesisParent}
	coord := NewCoordinator()

	a, _ := newCoalitionMiner(t, d, ids, genesis, coord)

	b1 := &tinycoin.Block{ID: ids.NextBlockID(), Parent: genesis.ID, Miner: a}
	coord.OurBlock(b1) // fresh coalition -> stays private, lead 1
	b2 := &tinycoin.Block{ID: ids.NextBlockID(), Parent: b1.ID, Miner: a}
	coord.OurBlock(b2) // lead 1 before this block -> stays private, lead 2

	require.Equal(t, 2, coord.Lead())

	publicCatchUp := &tinycoin.Block{ID: ids.NextBlockID(), Parent: genesis.ID, Miner: 999}
	coord.OthersBlock(publicCatchUp)

	assert.Equal(t, 0, coord.Lead(), "a lead of two must not be wasted on releasing only one block")
}

func TestCoalitionReleasesOnlyOneBlockWhenFarAhead(t *testing.T) {
	d := simnet.NewGraphDispatcher[tinycoin.Data](1, 6, false)
	ids := tinycoin.NewIDAllocator()
	genesis := &tinycoin.Block{ID: ids.NextBlockID(), Parent: tinycoin.GenesisParent}
	coord := NewCoordinator()

	a, _ := newCoalitionMiner(t, d, ids, genesis, coord)

	b1 := &tinycoin.Block{ID: ids.NextBlockID(), Parent: genesis.ID, Miner: a}
	coord.OurBlock(b1) // fresh coalition -> stays private, lead 1
	b2 := &tinycoin.Block{ID: ids.NextBlockID(), Parent: b1.ID, Miner: a}
	coord.OurBlock(b2) // lead 2
	b3 := &tinycoin.Block{ID: ids.NextBlockID(), Parent: b2.ID, Miner: a}
	coord.OurBlock(b3) // lead 3

	require.Equal(t, 3, coord.Lead())

	publicBlock := &tinycoin.Block{ID: ids.NextBlockID(), Parent: genesis.ID, Miner: 999}
	coord.OthersBlock(publicBlock)

	assert.Equal(t, 2, coord.Lead(), "with a lead of three or more, only one block should be released to match the public chain")
}
