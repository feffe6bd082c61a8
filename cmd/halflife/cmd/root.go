package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is the release version stamped at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "halflife",
	Short: "halflife is a temporal fragmentation engine",
	Long: `A temporal fragmentation engine: secrets are split into time-bounded
fragments that become permanently unrecoverable after a configured
interval, enforced by coordinated trapdoor destruction and storage
erasure. Complete documentation is available at
https://github.com/jmcleod/halflife`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
