package main

import (
	"os"

	"github.com/veluca93/distsim/internal/cli"
)

func main() {
	if err := cli.ExecuteGraphgen(); err != nil {
		os.Exit(1)
	}
}
