// Package cliconfig layers orchestrator invocation settings the way the
// CLI command tree wants them: flag > environment variable > optional YAML
// config file > built-in default, via viper.
package cliconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RunConfig is the fully-resolved set of settings for one `orco run`
// invocation, per spec.md §4.8.
type RunConfig struct {
	RepoRoot      string
	Queue         string
	RunRoot       string
	MaxWorkers    int
	PerWorkstream int
	WatchTimeoutS int
	StopOnBlocked bool
	DryRun        bool
	OnlyTaskIDs   string
	IDRegex       string
	CodexCmd      string
}

// Defaults mirror spec.md §4.8's literal defaults.
var Defaults = RunConfig{
	RepoRoot:      ".",
	Queue:         "tasks.json",
	RunRoot:       ".runs",
	MaxWorkers:    2,
	PerWorkstream: 1,
	WatchTimeoutS: 600,
	StopOnBlocked: false,
	DryRun:        false,
	CodexCmd:      "codex exec",
}

// BindFlags registers every RunConfig field as a flag on fs with Defaults'
// values, for use by the cobra command that owns fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("repo-root", Defaults.RepoRoot, "repository root the orchestrator operates on")
	fs.String("queue", Defaults.Queue, "path to the task queue JSON file, relative to repo-root")
	fs.String("run-root", Defaults.RunRoot, "directory for per-task run artifacts, relative to repo-root")
	fs.Int("max-workers", Defaults.MaxWorkers, "maximum concurrently running tasks")
	fs.Int("per-workstream", Defaults.PerWorkstream, "maximum concurrently running tasks per workstream (0 disables the gate)")
	fs.Int("watch-timeout-s", Defaults.WatchTimeoutS, "fallback timeout in seconds for the run-root filesystem watch")
	fs.Bool("stop-on-blocked", Defaults.StopOnBlocked, "exit with failure as soon as any in-scope task is blocked")
	fs.Bool("dry-run", Defaults.DryRun, "compute and print the admission set for one tick without mutating anything")
	fs.String("only-task-ids", "", "comma-separated allowlist of task ids to consider")
	fs.String("id-regex", "", "regex allowlist of task ids to consider")
	fs.String("codex-cmd", Defaults.CodexCmd, "shell prefix invoked as the sub-agent command")
}

// Load resolves a RunConfig from fs (already parsed), binding environment
// variables under the ORCO_ prefix and, if configFile is non-empty,
// layering in a YAML config file beneath flags and environment.
//
// Precedence, highest first: explicit flag > ORCO_* env var > YAML config
// file > built-in default.
func Load(fs *pflag.FlagSet, configFile string) (RunConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("ORCO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return RunConfig{}, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return RunConfig{}, fmt.Errorf("binding flags: %w", err)
	}

	return RunConfig{
		RepoRoot:      v.GetString("repo-root"),
		Queue:         v.GetString("queue"),
		RunRoot:       v.GetString("run-root"),
		MaxWorkers:    v.GetInt("max-workers"),
		PerWorkstream: v.GetInt("per-workstream"),
		WatchTimeoutS: v.GetInt("watch-timeout-s"),
		StopOnBlocked: v.GetBool("stop-on-blocked"),
		DryRun:        v.GetBool("dry-run"),
		OnlyTaskIDs:   v.GetString("only-task-ids"),
		IDRegex:       v.GetString("id-regex"),
		CodexCmd:      v.GetString("codex-cmd"),
	}, nil
}

// WatchTimeout returns WatchTimeoutS as a time.Duration.
func (c RunConfig) WatchTimeout() time.Duration {
	return time.Duration(c.WatchTimeoutS) * time.Second
}
