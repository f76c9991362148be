package cli

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/veluca93/distsim/pkg/graph"
)

var graphgenCmd = &cobra.Command{
	Use:   "graphgen (erdos|barabasi) N (M|K) [seed]",
	Short: "generate a random topology and print its edge list as a;b per line",
	Args:  cobra.RangeArgs(3, 4),
	RunE:  runGraphgen,
}

func runGraphgen(cmd *cobra.Command, args []string) error {
	kind := args[0]
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return errors.Wrap(err, "parsing N")
	}
	param, err := strconv.Atoi(args[2])
	if err != nil {
		return errors.Wrap(err, "parsing M/K")
	}
	var seed int64
	if len(args) > 3 {
		seed, err = strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			return errors.Wrap(err, "parsing seed")
		}
	}

	var edges graph.EdgeList
	switch kind {
	case "erdos":
		edges = graph.GenConnectedErdos(n, param, seed)
	case "barabasi":
		edges = graph.GenBarabasiAlbert(n, param, seed)
	default:
		return errors.Errorf("unknown graph type %q, valid types are: erdos, barabasi", kind)
	}

	out := cmd.OutOrStdout()
	for _, e := range edges {
		fmt.Fprintf(out, "%d;%d\n", e.A, e.B)
	}
	return nil
}
