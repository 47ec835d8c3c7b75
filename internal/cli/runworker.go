package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/orco-dev/orco/internal/worker"
)

func init() {
	runWorkerCmd.Flags().String("task-id", "", "")
	runWorkerCmd.Flags().String("run-dir", "", "")
	runWorkerCmd.Flags().String("work-dir", "", "")
	runWorkerCmd.Flags().String("shell-line", "", "")
	runWorkerCmd.Hidden = true
	rootCmd.AddCommand(runWorkerCmd)
}

// runWorkerCmd is the re-exec target the orchestrator spawns as a detached
// process for each admitted task (internal/orchestrator.startSupervisor).
// It is not part of the public CLI surface: it exists so the worker
// supervisor outlives the orchestrator process that spawned it.
var runWorkerCmd = &cobra.Command{
	Use:    "__run-worker",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID, _ := cmd.Flags().GetString("task-id")
		runDir, _ := cmd.Flags().GetString("run-dir")
		workDir, _ := cmd.Flags().GetString("work-dir")
		shellLine, _ := cmd.Flags().GetString("shell-line")

		run := worker.NewRunRoot(runDir)
		promptText := ""
		if data, err := os.ReadFile(run.PromptPath); err == nil {
			promptText = string(data)
		}

		return worker.Run(worker.Spec{
			TaskID:     taskID,
			Command:    "bash",
			Args:       []string{"-lc", shellLine},
			WorkDir:    workDir,
			PromptText: promptText,
			Run:        run,
		})
	},
}
