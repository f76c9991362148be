package cli

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/veluca93/distsim/internal/logging"
	"github.com/veluca93/distsim/pkg/chord"
	"github.com/veluca93/distsim/pkg/simnet"
)

// pollInterval is how often the driver checks whether every generated
// lookup has completed, mirroring the original example's 10ms sleep loop.
const pollInterval = 10 * time.Millisecond

var chordCmd = &cobra.Command{
	Use:   "chordsim bits nodes messages",
	Short: "run a Chord ring lookup simulation and print its hop-count histogram",
	Args:  cobra.ExactArgs(3),
	RunE:  runChord,
}

func runChord(cmd *cobra.Command, args []string) error {
	bits, err := strconv.ParseUint(args[0], 10, 6)
	if err != nil {
		return errors.Wrap(err, "parsing bits")
	}
	nodes, err := strconv.Atoi(args[1])
	if err != nil {
		return errors.Wrap(err, "parsing nodes")
	}
	messages, err := strconv.Atoi(args[2])
	if err != nil {
		return errors.Wrap(err, "parsing messages")
	}

	maxID := simnet.NodeID(1) << bits

	var mu sync.Mutex
	// Sized to 2*bits+1 as headroom. Greedy finger routing in pkg/chord
	// takes at most bits hops (each hop at least halves the remaining ring
	// distance to the owner), so only indexes 0..bits are ever used; an
	// out-of-bounds index would panic inside onComplete before
	// received.Add(1) runs, hanging the poll loop below forever.
	counts := make([]int64, 2*bits+1)
	var received atomic.Int64

	onComplete := func(_, _ simnet.NodeID, hops uint64) {
		mu.Lock()
		counts[hops]++
		mu.Unlock()
		received.Add(1)
	}

	d := simnet.NewDispatcher[simnet.NodeID](maxID, 4, 1)
	for i := 0; i < nodes; i++ {
		id, err := d.GenID()
		if err != nil {
			return errors.Wrap(err, "generating node id")
		}
		if err := d.AddNode(id, chord.New(uint(bits), onComplete)); err != nil {
			return errors.Wrap(err, "adding node")
		}
	}

	d.Run()
	defer d.Stop()

	for i := 0; i < messages; i++ {
		target, err := d.GetRandomNode()
		if err != nil {
			return errors.Wrap(err, "picking a node to originate a lookup")
		}
		if err := d.GenMessage(target, 0); err != nil {
			logging.WithError(err).Error("generating lookup")
		}
	}

	for received.Load() < int64(messages) {
		time.Sleep(pollInterval)
	}

	total := received.Load()
	for i := 1; i <= int(bits); i++ {
		fmt.Fprintf(cmd.OutOrStdout(), "%.3f ", float64(counts[i])/float64(total))
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
