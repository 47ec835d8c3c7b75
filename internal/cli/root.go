package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "orco",
	Short: "Drive a dependency-aware task queue to completion",
	Long: `orco is a dependency-aware task orchestrator. It drives a persistent JSON
work queue to completion by spawning isolated sub-agent workers in disjoint
git worktrees, supervising their lifecycle via sentinel files, and keeping
the queue, a session log, and git history in lockstep.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config file layered beneath flags and ORCO_* env vars")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("orco %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
