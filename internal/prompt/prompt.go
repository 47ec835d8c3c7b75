// Package prompt resolves a task's kickoff reference and assembles the
// worker prompt that gets piped to the sub-agent's stdin.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// looksLikePath decides whether a kickoff reference should be treated as a
// repo-relative path (contains a slash, or ends in .md/.txt, and does not
// start with "#") rather than inline text.
func looksLikePath(ref string) bool {
	s := strings.TrimSpace(ref)
	if strings.HasPrefix(s, "#") {
		return false
	}
	return strings.Contains(s, "/") || strings.HasSuffix(s, ".md") || strings.HasSuffix(s, ".txt")
}

// ResolveKickoff returns the literal prompt body for a kickoff reference. A
// reference that looks like a path is read from repoRoot; if the file
// doesn't exist, the reference itself is used verbatim as inline text so a
// typo in the queue never aborts the run (spec.md §4.3, B4).
func ResolveKickoff(repoRoot, kickoffRef string) string {
	ref := strings.TrimSpace(kickoffRef)
	if ref == "" {
		return ""
	}
	if looksLikePath(ref) {
		p := filepath.Join(repoRoot, ref)
		if data, err := os.ReadFile(p); err == nil {
			return string(data)
		}
	}
	return ref
}

// hardRulesPreamble enumerates the fixed constraints every worker prompt
// carries, per spec.md §4.3.
const hardRulesPreamble = `Hard rules:
- Do not proceed to any other task IDs.
- Do NOT edit the task queue file, the session log, or any run-root
  artifacts owned by the orchestrator (prompt.md, base_sha.txt, *.done).
- Do NOT create or remove git worktrees; the orchestrator handles that.
- Do NOT update task statuses; the orchestrator handles that.
- Do NOT run "git checkout" / "git pull" or otherwise switch branches; the
  orchestrator already prepared the worktree on the task branch.
- Work only in the provided worktree (or repo root, if no worktree).
- Run the commands listed under "Commands (required)" in the kickoff prompt,
  if present.
- End with a concise final report including: files changed, branch/worktree,
  commits made, commands run with pass/fail, and any blockers.`

// Params carries everything Assemble needs to build one worker prompt.
type Params struct {
	TaskID       string
	RepoRoot     string
	WorktreePath string // absolute; empty means "run in repo root"
	BaseBranch   string
	KickoffRef   string
	KickoffText  string
}

// Assemble synthesizes the full worker prompt: a fixed hard-rules preamble
// followed by the kickoff body verbatim.
func Assemble(p Params) string {
	workDir := p.WorktreePath
	if workDir == "" {
		workDir = p.RepoRoot
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a coding agent executing exactly one task: %s.\n", p.TaskID)
	fmt.Fprintf(&b, "Base repo: %s\n", p.RepoRoot)
	fmt.Fprintf(&b, "Task worktree: %s\n", workDir)
	fmt.Fprintf(&b, "Base branch: %s\n\n", p.BaseBranch)
	b.WriteString(hardRulesPreamble)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Kickoff prompt reference: %s\n\n", p.KickoffRef)
	b.WriteString("Kickoff prompt (verbatim):\n")
	b.WriteString(strings.TrimSpace(p.KickoffText))
	b.WriteString("\n")
	return b.String()
}

var commandsSectionHeader = regexp.MustCompile(`(?i)^#+\s*commands \(required\)\s*$`)
var otherSectionHeader = regexp.MustCompile(`^#{1,6}\s`)
var bulletLine = regexp.MustCompile(`^-\s+(.*)$`)

// ExtractRequiredCommands is a best-effort, informational-only parse of a
// kickoff prompt's "## Commands (required)" section. The orchestrator never
// executes these commands itself (spec.md §1 treats content validators and
// command execution as the sub-agent's job) — this is surfaced purely so a
// dry-run preview can show what a task declares as required.
func ExtractRequiredCommands(kickoffPrompt string) []string {
	var commands []string
	inSection := false
	for _, raw := range strings.Split(kickoffPrompt, "\n") {
		line := strings.TrimSpace(raw)
		if !inSection {
			if commandsSectionHeader.MatchString(line) {
				inSection = true
			}
			continue
		}
		if otherSectionHeader.MatchString(line) && !commandsSectionHeader.MatchString(line) {
			break
		}
		m := bulletLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		item := strings.TrimSpace(m[1])
		if strings.HasPrefix(item, "`") && strings.HasSuffix(item, "`") && len(item) >= 2 {
			item = item[1 : len(item)-1]
		}
		if item != "" {
			commands = append(commands, item)
		}
	}
	return commands
}
