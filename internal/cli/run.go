package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/orco-dev/orco/internal/cliconfig"
	"github.com/orco-dev/orco/internal/orchestrator"
)

func init() {
	cliconfig.BindFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive the task queue to completion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cliconfig.Load(cmd.Flags(), configFile)
		if err != nil {
			return err
		}

		repoRoot, err := resolveRepoRoot(cfg.RepoRoot)
		if err != nil {
			return err
		}

		scope, err := scopeFromConfig(cfg)
		if err != nil {
			return err
		}

		queuePath := cfg.Queue
		if !filepath.IsAbs(queuePath) {
			queuePath = filepath.Join(repoRoot, queuePath)
		}
		runRoot := cfg.RunRoot
		if !filepath.IsAbs(runRoot) {
			runRoot = filepath.Join(repoRoot, runRoot)
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		orc := orchestrator.New(orchestrator.Config{
			RepoRoot:      repoRoot,
			QueuePath:     queuePath,
			RunRoot:       runRoot,
			MaxWorkers:    cfg.MaxWorkers,
			PerWorkstream: cfg.PerWorkstream,
			WatchTimeout:  cfg.WatchTimeout(),
			StopOnBlocked: cfg.StopOnBlocked,
			DryRun:        cfg.DryRun,
			Scope:         scope,
			CodexCmd:      cfg.CodexCmd,
			Logger:        logger,
		})

		err = orc.Run()
		if err == nil {
			return nil
		}

		var oerr *orchestrator.Error
		if errors.As(err, &oerr) {
			switch oerr.Kind {
			case orchestrator.ErrMissingSpawnHelper, orchestrator.ErrStartupStuckInProgress, orchestrator.ErrInstanceLocked:
				fmt.Fprintf(os.Stderr, "orco: %s\n", oerr)
				os.Exit(2)
			case orchestrator.ErrStopOnBlocked:
				fmt.Fprintf(os.Stderr, "orco: %s\n", oerr)
				os.Exit(1)
			}
		}
		return err
	},
}
