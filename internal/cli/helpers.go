package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/orco-dev/orco/internal/cliconfig"
	"github.com/orco-dev/orco/internal/scheduler"
)

// findGitRoot walks up from dir looking for a .git entry.
func findGitRoot(dir string) string {
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// resolveRepoRoot turns a --repo-root flag value into an absolute path,
// falling back to the nearest git root above the current directory when
// the flag is left at its default of ".".
func resolveRepoRoot(flagValue string) (string, error) {
	abs, err := filepath.Abs(flagValue)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(abs, ".git")); err == nil {
		return abs, nil
	}
	if root := findGitRoot(abs); root != "" {
		return root, nil
	}
	return "", fmt.Errorf("could not find a git repository at or above %s", abs)
}

// scopeFromConfig builds a scheduler.Scope from the --only-task-ids /
// --id-regex flags.
func scopeFromConfig(cfg cliconfig.RunConfig) (scheduler.Scope, error) {
	scope := scheduler.Scope{}
	if cfg.OnlyTaskIDs != "" {
		ids := map[string]bool{}
		for _, id := range strings.Split(cfg.OnlyTaskIDs, ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				ids[id] = true
			}
		}
		scope.OnlyTaskIDs = ids
	}
	if cfg.IDRegex != "" {
		re, err := regexp.Compile(cfg.IDRegex)
		if err != nil {
			return scope, fmt.Errorf("invalid --id-regex: %w", err)
		}
		scope.IDRegex = re
	}
	return scope, nil
}
