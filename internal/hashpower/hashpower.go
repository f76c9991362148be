// Package hashpower turns the config-level miners_percent/selfish_percent/
// selfish_power_percent knobs into a concrete assignment: which node ids
// mine at all, which of those are in the selfish coalition, and how much
// simulated hash power each miner carries.
package hashpower

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/veluca93/distsim/pkg/graph"
	"github.com/veluca93/distsim/pkg/rng"
)

// deviceWeightPrefixSums are the prefix-sum weights of the compute device
// classes a miner might be running on: CPU, GPU, FPGA, ASIC, ASIC-2,
// ASIC-3. CPU and GPU are equally common; from FPGA on, each class is
// rarer than the last. Each class is 10x more powerful than the last.
var deviceWeightPrefixSums = []uint64{
	0b0100000,
	0b1000000,
	0b1001000,
	0b1001100,
	0b1001110,
	0b1001111,
}

func drawOneWeight(r *rng.RNG) uint64 {
	class := r.ChooseWeighted(deviceWeightPrefixSums)
	multiplier := uint64(1)
	for i := 0; i < class; i++ {
		multiplier *= 10
	}
	return uint64(r.IntRange(1, 11)) * multiplier
}

// Weights is the hash-power assignment for one coalition: Honest holds one
// weight per honest miner, Selfish one per selfish miner, in the order
// they should be zipped with the corresponding node ids.
type Weights struct {
	Honest  []uint64
	Selfish []uint64
}

// Distribute draws random per-device hash power for numHonest honest
// miners and numSelfish selfish miners, then repeatedly swaps the weight
// furthest from the target share for a freshly drawn one until the
// selfish coalition's share of total hash power is within 1% of
// selfishPercent. Mirrors the original's iterative swap-until-converged
// heuristic rather than solving for an exact distribution analytically,
// since the device-class weights are not evenly divisible.
func Distribute(numHonest, numSelfish int, selfishPercent float64, r *rng.RNG) (Weights, error) {
	if selfishPercent != 0 && numSelfish == 0 {
		return Weights{}, errors.New("hashpower: selfish_power_percent is nonzero but there are no selfish miners")
	}

	if numHonest == 0 && numSelfish == 0 {
		return Weights{}, nil
	}

	selfish := make([]uint64, 0, numSelfish)
	honest := make([]uint64, 0, numHonest)
	var selfishTotal, honestTotal uint64
	for i := 0; i < numSelfish; i++ {
		w := drawOneWeight(r)
		selfish = append(selfish, w)
		selfishTotal += w
	}
	for i := 0; i < numHonest; i++ {
		w := drawOneWeight(r)
		honest = append(honest, w)
		honestTotal += w
	}

	for {
		total := float64(selfishTotal + honestTotal)
		share := float64(selfishTotal) / total
		switch {
		case share < selfishPercent-0.01:
			if r.Bool() || numHonest == 0 {
				idx := minIndex(selfish)
				selfishTotal -= selfish[idx]
				w := drawOneWeight(r)
				selfish[idx] = w
				selfishTotal += w
			} else {
				idx := maxIndex(honest)
				honestTotal -= honest[idx]
				w := drawOneWeight(r)
				honest[idx] = w
				honestTotal += w
			}
		case share > selfishPercent+0.01:
			if r.Bool() || numHonest == 0 {
				idx := maxIndex(selfish)
				selfishTotal -= selfish[idx]
				w := drawOneWeight(r)
				selfish[idx] = w
				selfishTotal += w
			} else {
				idx := minIndex(honest)
				honestTotal -= honest[idx]
				w := drawOneWeight(r)
				honest[idx] = w
				honestTotal += w
			}
		default:
			r.Shuffle(len(selfish), func(i, j int) { selfish[i], selfish[j] = selfish[j], selfish[i] })
			r.Shuffle(len(honest), func(i, j int) { honest[i], honest[j] = honest[j], honest[i] })
			return Weights{Honest: honest, Selfish: selfish}, nil
		}
	}
}

func minIndex(vs []uint64) int {
	best := 0
	for i, v := range vs {
		if v < vs[best] {
			best = i
		}
	}
	return best
}

func maxIndex(vs []uint64) int {
	best := 0
	for i, v := range vs {
		if v > vs[best] {
			best = i
		}
	}
	return best
}

// Placement is which node ids mine at all, split into the honest and
// selfish coalitions.
type Placement struct {
	Honest  []uint64
	Selfish []uint64
}

// ChooseMiners selects numSelfish+numHonest miner node ids out of the n
// nodes in the topology described by edges, according to algo ("random"
// or "highdegree"). "random" draws a uniform distinct sample; "highdegree"
// picks the selfish coalition from the highest-degree nodes first (the
// nodes easiest to reach quickly, and so most valuable to a coalition
// trying to propagate a withheld block fast once it decides to publish),
// then fills the honest set with a uniform sample of whatever remains.
func ChooseMiners(n, numHonest, numSelfish int, edges graph.EdgeList, algo string, r *rng.RNG) (Placement, error) {
	var selfish []uint64
	switch algo {
	case "random":
		selfish = r.DistinctSample(numSelfish, uint64(n), nil)
	case "highdegree":
		degree := make([]int, n)
		for _, e := range edges {
			degree[e.A]++
			degree[e.B]++
		}
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(i, j int) bool {
			if degree[order[i]] != degree[order[j]] {
				return degree[order[i]] > degree[order[j]]
			}
			return order[i] < order[j]
		})
		selfish = make([]uint64, 0, numSelfish)
		for i := 0; i < numSelfish; i++ {
			selfish = append(selfish, uint64(order[i]))
		}
	default:
		return Placement{}, errors.Errorf("hashpower: unknown selfish_algo %q, valid values are random, highdegree", algo)
	}

	honest := r.DistinctSample(numHonest, uint64(n), selfish)
	return Placement{Honest: honest, Selfish: selfish}, nil
}
