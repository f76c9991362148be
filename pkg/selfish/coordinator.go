// Package selfish implements an Eyal-Sirer style selfish-mining coalition
// on top of pkg/tinycoin: a group of miners shares a coordinator that
// decides, on every newly mined or newly observed block, whether the
// coalition should keep mining privately or publish some of its backlog.
package selfish

import (
	"sync"

	"github.com/veluca93/distsim/pkg/tinycoin"
)

// Member is the surface a coalition miner needs to expose to the
// coordinator: apply a block to its own chain view without gossiping it,
// and broadcast a block both into its own chain and onto the network.
// *tinycoin.TinyMiner satisfies this directly.
type Member interface {
	ApplyBlock(b *tinycoin.Block)
	Broadcast(b *tinycoin.Block)
}

// Coordinator holds the coalition's shared private chain and decides,
// centrally, when to publish some prefix of it. Every decision is made
// while mu is held; the actual network fan-out that follows a decision
// runs after mu is released, so a coalition member reacting to the
// resulting broadcast (and calling back into the coordinator from inside
// its own handler lock) can never deadlock against this lock.
type Coordinator struct {
	mu sync.Mutex

	members     []Member
	broadcaster Member

	private   []*tinycoin.Block
	published int

	ours            map[tinycoin.BlockID]bool
	reactedExternal map[tinycoin.BlockID]bool
}

// NewCoordinator builds a coalition with no members yet; call Join for
// each miner that should share this coordinator's strategy.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		ours:            map[tinycoin.BlockID]bool{},
		reactedExternal: map[tinycoin.BlockID]bool{},
	}
}

// Join registers m as a coalition member. The first member joined is used
// as the representative that actually performs network sends when the
// coalition publishes, since every member already shares the same view
// once ApplyBlock has run on each of them.
func (c *Coordinator) Join(m Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members = append(c.members, m)
	if c.broadcaster == nil {
		c.broadcaster = m
	}
}

// IsOurs reports whether id was mined by this coalition, so a member can
// recognize its own (possibly already-published) block coming back
// through gossip and avoid reacting to it as outside progress.
func (c *Coordinator) IsOurs(id tinycoin.BlockID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ours[id]
}

// OurBlock records a block one of the coalition's own miners just
// produced, applies it to every member's chain view, and -- if the
// coalition had no lead before this block *and* published is still
// nonzero from an in-progress, not-yet-fully-flushed round -- immediately
// publishes to claim the race it was tied in. published resets to 0 on
// every full flush (see flushLocked), so a block mined right after a
// flush, or from a fresh coalition that has never mined at all, always
// stays private instead: publishing it on the spot would never let the
// coalition build any lead at all.
func (c *Coordinator) OurBlock(b *tinycoin.Block) {
	c.mu.Lock()
	lead := len(c.private) - c.published
	tieRaceWin := lead == 0 && c.published > 0
	c.private = append(c.private, b)
	c.ours[b.ID] = true
	members := append([]Member(nil), c.members...)

	var toPublish []*tinycoin.Block
	if tieRaceWin {
		toPublish = c.flushLocked(len(c.private))
	}
	c.mu.Unlock()

	for _, m := range members {
		m.ApplyBlock(b)
	}
	c.publish(toPublish)
}

// OthersBlock reacts to a block mined outside the coalition. With no
// lead, the coalition gives up its fork and resets onto the public chain.
// With a lead of exactly one, it publishes everything to resolve the
// resulting tie in its favor. With a lead of exactly two, the external
// block only narrows that to a lead of one -- too valuable to waste, so
// it also publishes everything rather than trickling out a single block.
// With a lead of three or more, it publishes only enough of its backlog
// to match the public chain's new length, keeping the rest of its lead
// private.
func (c *Coordinator) OthersBlock(b *tinycoin.Block) {
	c.mu.Lock()
	if c.reactedExternal[b.ID] {
		c.mu.Unlock()
		return
	}
	c.reactedExternal[b.ID] = true

	lead := len(c.private) - c.published
	var toPublish []*tinycoin.Block
	switch {
	case lead == 0:
		c.private = nil
		c.published = 0
	case lead == 1, lead == 2:
		toPublish = c.flushLocked(len(c.private))
	default:
		toPublish = c.flushLocked(c.published + 1)
	}
	c.mu.Unlock()

	c.publish(toPublish)
}

// flushLocked must be called with mu held. It marks private[:n] as
// published and returns the newly-published slice. A flush that drains
// the entire backlog also clears the chain: private is emptied and
// published resets back to 0, the same clear_chain step the original
// runs after every full flush, not just a give-up. Without this, a
// published count that only ever grows would make every later tie look
// like a race the coalition has already won, even though nothing has
// been mined privately since the last flush.
func (c *Coordinator) flushLocked(n int) []*tinycoin.Block {
	if n <= c.published {
		return nil
	}
	blocks := append([]*tinycoin.Block(nil), c.private[c.published:n]...)
	if n >= len(c.private) {
		c.private = nil
		c.published = 0
	} else {
		c.published = n
	}
	return blocks
}

func (c *Coordinator) publish(blocks []*tinycoin.Block) {
	c.mu.Lock()
	broadcaster := c.broadcaster
	c.mu.Unlock()
	if broadcaster == nil {
		return
	}
	for _, b := range blocks {
		broadcaster.Broadcast(b)
	}
}

// Lead returns the coalition's current private lead over its last
// publication, mostly useful for driver-side reporting.
func (c *Coordinator) Lead() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.private) - c.published
}

// FlushChain publishes every block the coalition is still withholding, so
// a driver winding down a run doesn't leave private blocks that never
// made it onto any node's view. After it returns, Lead is always 0.
func (c *Coordinator) FlushChain() {
	c.mu.Lock()
	toPublish := c.flushLocked(len(c.private))
	c.mu.Unlock()
	c.publish(toPublish)
}
