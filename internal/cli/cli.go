// Package cli wires the three simulation drivers -- chordsim, tinycoinsim
// and graphgen -- onto a shared cobra root command, the way the teacher's
// root command binds its daemon/em/p2p subcommands.
package cli

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/veluca93/distsim/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "distsim",
	Short: "discrete-event simulator for Chord routing and TinyCoin mining",
}

func init() {
	regCommands()
}

func regCommands() {
	rootCmd.AddCommand(chordCmd)
	rootCmd.AddCommand(tinycoinCmd)
	rootCmd.AddCommand(graphgenCmd)
}

func init() {
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	cobra.OnInitialize(configureLogging)
}

func configureLogging() {
	level, err := logrus.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logging.SetLevel(level)
}

// Execute runs the combined "distsim" multi-tool, dispatching to whichever
// of chordsim/tinycoinsim/graphgen subcommand was named on the command
// line.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteChord, ExecuteTinycoin and ExecuteGraphgen run a single driver as
// a standalone binary, for cmd/chordsim, cmd/tinycoinsim and cmd/graphgen
// respectively: the process arguments are passed to rootCmd behind the
// driver's subcommand name, so the binary takes the driver's own arguments
// directly and still accepts the shared --log-level persistent flag.
func ExecuteChord() error    { return executeAs(chordCmd) }
func ExecuteTinycoin() error { return executeAs(tinycoinCmd) }
func ExecuteGraphgen() error { return executeAs(graphgenCmd) }

func executeAs(cmd *cobra.Command) error {
	rootCmd.SetArgs(append([]string{cmd.Name()}, os.Args[1:]...))
	return rootCmd.Execute()
}
