package cli

import (
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/veluca93/distsim/internal/config"
	"github.com/veluca93/distsim/internal/hashpower"
	"github.com/veluca93/distsim/internal/logging"
	"github.com/veluca93/distsim/pkg/graph"
	"github.com/veluca93/distsim/pkg/rng"
	"github.com/veluca93/distsim/pkg/selfish"
	"github.com/veluca93/distsim/pkg/simnet"
	"github.com/veluca93/distsim/pkg/tinycoin"
)

const statusInterval = 100 * time.Millisecond

var tinycoinCmd = &cobra.Command{
	Use:   "tinycoinsim config-file",
	Short: "run a TinyCoin proof-of-work simulation and print a fork/split report",
	Args:  cobra.ExactArgs(1),
	RunE:  runTinycoin,
}

func runTinycoin(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return errors.Wrap(err, "loading config")
	}
	// The config file's log_level applies unless --log-level was given.
	if !cmd.Flags().Changed("log-level") {
		if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
			logging.SetLevel(level)
		}
	}

	var edges graph.EdgeList
	switch cfg.NetworkKind {
	case "erdos":
		edges = graph.GenConnectedErdos(cfg.NetworkSize, cfg.NetworkConnectivity, int64(cfg.Seed))
	case "barabasi":
		edges = graph.GenBarabasiAlbert(cfg.NetworkSize, cfg.NetworkConnectivity, int64(cfg.Seed))
	default:
		return errors.Errorf("unknown network_kind %q", cfg.NetworkKind)
	}

	numMiners := int(float64(cfg.NetworkSize) * cfg.MinersPercent)
	numSelfish := int(float64(numMiners) * cfg.SelfishPercent)
	numHonest := numMiners - numSelfish

	placementRNG := rng.New(cfg.Seed+1, ^cfg.Seed)
	placement, err := hashpower.ChooseMiners(cfg.NetworkSize, numHonest, numSelfish, edges, cfg.SelfishAlgo, placementRNG)
	if err != nil {
		return errors.Wrap(err, "choosing miner placement")
	}
	weights, err := hashpower.Distribute(numHonest, numSelfish, cfg.SelfishPowerPercent, placementRNG)
	if err != nil {
		return errors.Wrap(err, "distributing hash power")
	}

	honestSet := map[simnet.NodeID]bool{}
	selfishSet := map[simnet.NodeID]bool{}
	for _, id := range placement.Honest {
		honestSet[id] = true
	}
	for _, id := range placement.Selfish {
		selfishSet[id] = true
	}

	var honestPower, selfishPower uint64
	for _, p := range weights.Honest {
		honestPower += p
	}
	for _, p := range weights.Selfish {
		selfishPower += p
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "There are %d nodes and %d edges.\n", cfg.NetworkSize, len(edges))
	fmt.Fprintf(out, "%d honest miners have %d mining power.\n", numHonest, honestPower)
	fmt.Fprintf(out, "%d selfish miners have %d mining power.\n", numSelfish, selfishPower)
	if numHonest+numSelfish > 0 {
		fmt.Fprintf(out, "%.2f%% of the miners are selfish.\n", 100*float64(numSelfish)/float64(numHonest+numSelfish))
	}
	if honestPower+selfishPower > 0 {
		fmt.Fprintf(out, "They control %.2f%% of the total mining power.\n", 100*float64(selfishPower)/float64(honestPower+selfishPower))
	}

	nthreads := cfg.NThreads
	if nthreads == -1 {
		nthreads = runtime.NumCPU()
	}

	opts := []tinycoin.Option{
		tinycoin.WithBlockReward(cfg.BlockReward),
		tinycoin.WithTransactionReward(cfg.TransactionReward),
		tinycoin.WithDelays(cfg.BaseDelay, cfg.DelayPerTransaction),
		tinycoin.WithTransactionsPerBlock(cfg.TransactionsPerBlk),
	}

	ids := tinycoin.NewIDAllocator()
	genesis := &tinycoin.Block{ID: ids.NextBlockID(), Parent: tinycoin.GenesisParent}
	coord := selfish.NewCoordinator()

	d := simnet.NewGraphDispatcher[tinycoin.Data](nthreads, cfg.Seed, false)

	honestPowers := append([]uint64(nil), weights.Honest...)
	selfishPowers := append([]uint64(nil), weights.Selfish...)
	weightPrefixSums := make([]uint64, 0, cfg.NetworkSize)
	var cumulative uint64
	for i := 0; i < cfg.NetworkSize; i++ {
		id := simnet.NodeID(i)
		var nodeID simnet.NodeID
		var buildErr error
		switch {
		case honestSet[id]:
			pwr := honestPowers[len(honestPowers)-1]
			honestPowers = honestPowers[:len(honestPowers)-1]
			nodeID, buildErr = d.AddNode(tinycoin.NewMiner(ids, genesis, float64(pwr), nil, opts...))
			cumulative += pwr
		case selfishSet[id]:
			pwr := selfishPowers[len(selfishPowers)-1]
			selfishPowers = selfishPowers[:len(selfishPowers)-1]
			nodeID, buildErr = d.AddNode(tinycoin.NewMiner(ids, genesis, float64(pwr), selfish.NewPolicy(coord), opts...))
			cumulative += pwr
		default:
			nodeID, buildErr = d.AddNode(tinycoin.New(ids, genesis, opts...))
		}
		if buildErr != nil {
			return errors.Wrap(buildErr, "adding node")
		}
		if nodeID != id {
			return errors.Errorf("internal error: node %d was assigned id %d", i, nodeID)
		}
		weightPrefixSums = append(weightPrefixSums, cumulative)
	}

	for _, e := range edges {
		if err := d.AddEdge(simnet.NodeID(e.A), simnet.NodeID(e.B)); err != nil {
			return errors.Wrap(err, "adding edge")
		}
	}

	d.Run()

	var blocksDone, txDone int64
	var mu sync.Mutex
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				mu.Lock()
				b, tx := blocksDone, txDone
				mu.Unlock()
				logging.WithFields(logging.Fields{
					"blocks": b, "transactions": tx,
					"queued": d.QueuedMessages(), "total_events": d.AllMessages(),
				}).Debug("simulation progress")
			}
		}
	}()

	pickRNG := rng.New(^cfg.Seed, cfg.Seed+7)
	lastBlock := time.Now()
	for {
		mu.Lock()
		done := blocksDone >= int64(cfg.BlockNum)
		mu.Unlock()
		if done {
			break
		}

		now := time.Now()
		if weightPrefixSums[len(weightPrefixSums)-1] > 0 && now.Sub(lastBlock) >= cfg.BlockInterval {
			miner := pickRNG.ChooseWeighted(weightPrefixSums)
			if err := d.GenMessage(simnet.NodeID(miner), tinycoin.Data{Kind: tinycoin.KindMine}); err != nil {
				logging.WithError(err).Warn("generating mine trigger")
			} else {
				mu.Lock()
				blocksDone++
				mu.Unlock()
			}
			lastBlock = now
		}

		if origin, err := d.GetRandomNode(); err == nil {
			if err := d.GenMessage(origin, tinycoin.Data{Kind: tinycoin.KindOriginateTx}); err != nil {
				logging.WithError(err).Warn("generating transaction origination")
			} else {
				mu.Lock()
				txDone++
				mu.Unlock()
			}
		}
		time.Sleep(cfg.TransactionInterval)
	}

	time.Sleep(cfg.FinalWait)
	coord.FlushChain()
	close(stop)
	wg.Wait()
	d.Stop()

	return printTinycoinReport(out, d, honestSet, selfishSet)
}

// printTinycoinReport walks node 0's resolved view of the chain and prints
// the same fork/split/miner-class breakdown the original example reports.
func printTinycoinReport(out io.Writer, d *simnet.GraphDispatcher[tinycoin.Data], honest, selfishSet map[simnet.NodeID]bool) error {
	handler, ok := d.Handler(0)
	if !ok {
		return errors.New("node 0 is no longer registered")
	}
	node, ok := handler.(*tinycoin.TinyNode)
	if !ok {
		if m, ok := handler.(*tinycoin.TinyMiner); ok {
			node = m.TinyNode
		} else {
			return errors.New("node 0 has an unexpected handler type")
		}
	}
	blocks, head := node.Blockchain()

	mainChain := map[tinycoin.BlockID]bool{}
	for id := head; ; {
		mainChain[id] = true
		b, ok := blocks[id]
		if !ok || b.Parent == tinycoin.GenesisParent {
			break
		}
		id = b.Parent
	}

	splitNum := map[tinycoin.BlockID]int{}
	splitLen := map[tinycoin.BlockID]int{}
	var honestBlocks, selfishBlocks, totalSplits, maxSplitLen int

	// Blocks must be visited in id order (parent ids are always lower than
	// their children's, since ids are handed out in mint order), so that
	// splitLen[blk.Parent] is always already computed when blk is visited.
	orderedIDs := make([]tinycoin.BlockID, 0, len(blocks))
	for id := range blocks {
		orderedIDs = append(orderedIDs, id)
	}
	sort.Slice(orderedIDs, func(i, j int) bool { return orderedIDs[i] < orderedIDs[j] })

	for _, id := range orderedIDs {
		blk := blocks[id]
		if blk.Parent == tinycoin.GenesisParent {
			continue
		}
		if mainChain[id] {
			if honest[blk.Miner] {
				honestBlocks++
			} else if selfishSet[blk.Miner] {
				selfishBlocks++
			}
		}
		if (splitNum[blk.Parent] > 0 && !mainChain[id]) || (mainChain[blk.Parent] && !mainChain[id]) {
			splitLen[id] = 1
			totalSplits++
			if maxSplitLen < splitLen[id] {
				maxSplitLen = splitLen[id]
			}
		}
		splitNum[blk.Parent]++
		if splitLen[blk.Parent] > 0 {
			splitLen[id] = splitLen[blk.Parent] + 1
			if maxSplitLen < splitLen[id] {
				maxSplitLen = splitLen[id]
			}
		}
	}

	fmt.Fprintf(out, "There were %d blockchain splits.\n", totalSplits)
	fmt.Fprintf(out, "The longest split lasted for %d blocks.\n", maxSplitLen)
	fmt.Fprintf(out, "Honest miners have mined %d real blocks.\n", honestBlocks)
	fmt.Fprintf(out, "Selfish miners have mined %d real blocks.\n", selfishBlocks)
	if honestBlocks+selfishBlocks > 0 {
		fmt.Fprintf(out, "%.2f%% of real blocks were mined by selfish miners.\n", 100*float64(selfishBlocks)/float64(honestBlocks+selfishBlocks))
	}
	return nil
}
