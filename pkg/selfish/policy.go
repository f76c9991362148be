package selfish

import "github.com/veluca93/distsim/pkg/tinycoin"

// Policy binds one TinyMiner into a Coordinator's coalition: mined blocks
// go to the coordinator instead of straight to the network, and observed
// public blocks are reported to it unless they turn out to be the
// coalition's own publications coming back through gossip.
type Policy struct {
	coord *Coordinator
}

// NewPolicy returns a MinerPolicy constructor suitable for
// tinycoin.NewMiner: every miner built with it joins coord's coalition.
func NewPolicy(coord *Coordinator) func(m *tinycoin.TinyMiner) tinycoin.MinerPolicy {
	return func(m *tinycoin.TinyMiner) tinycoin.MinerPolicy {
		coord.Join(m)
		return &Policy{coord: coord}
	}
}

func (p *Policy) OnMined(b *tinycoin.Block) {
	p.coord.OurBlock(b)
}

func (p *Policy) OnBlock(b *tinycoin.Block) {
	if p.coord.IsOurs(b.ID) {
		return
	}
	p.coord.OthersBlock(b)
}

func (p *Policy) OnTransaction(*tinycoin.Transaction) {}

var _ tinycoin.MinerPolicy = (*Policy)(nil)
