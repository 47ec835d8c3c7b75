// Package sessionlog appends START/END markdown entries to session_log.md,
// the human-readable record of every task a run touches. Entries are
// append-only: each write keeps the existing content unchanged and adds the
// new entry after it, so a reader can always see the full run history even
// if the orchestrator is later restarted.
package sessionlog

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// roleForType maps a task type to the label used in the "<Role> Agent"
// heading, per spec.md §5.
func roleForType(taskType string) string {
	switch taskType {
	case "code":
		return "Code"
	case "test":
		return "Test"
	case "integration":
		return "Integration"
	default:
		return "Agent"
	}
}

func timestamp() string {
	return time.Now().UTC().Format("2006-01-02 15:04") + " UTC"
}

func appendText(path string, text string) error {
	existing := ""
	if data, err := os.ReadFile(path); err == nil {
		existing = string(data)
	}
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		existing += "\n"
	}
	return os.WriteFile(path, []byte(existing+text), 0644)
}

// StartParams describes a task transitioning to in_progress.
type StartParams struct {
	SessionLogPath string
	TaskID         string
	TaskType       string
	BaseBranch     string
	KickoffRef     string
	Worktree       string
}

// WriteStart appends a "START" entry recording the orchestrator's decision
// to admit a task. It always writes, creating SessionLogPath if it does not
// exist yet.
func WriteStart(p StartParams) error {
	worktreeLine := "- Worktree: N/A"
	if p.Worktree != "" {
		worktreeLine = fmt.Sprintf("- Worktree: `%s`", p.Worktree)
	}
	lines := []string{
		fmt.Sprintf("## [%s] %s Agent – %s – START", timestamp(), roleForType(p.TaskType), p.TaskID),
		fmt.Sprintf("- Orchestrator: set `%s` → `in_progress` in `tasks.json`", p.TaskID),
		fmt.Sprintf("- Base branch: `%s`", p.BaseBranch),
		fmt.Sprintf("- Kickoff prompt: `%s`", p.KickoffRef),
		worktreeLine,
		"- Blockers: none",
		"",
	}
	return appendText(p.SessionLogPath, strings.Join(lines, "\n"))
}

// blockerLine matches a "- **Blocker(s)**: <text>" line in a worker's final
// report. The upstream tooling this was ported from carried a
// double-escaped version of this pattern that could never match a real
// markdown bullet; this version matches the bullet as actually written.
var blockerLine = regexp.MustCompile(`(?im)^-\s*\*\*Blockers?\*\*:\s*(.*)$`)

func extractBlockers(lastMessage string) string {
	m := blockerLine.FindStringSubmatch(lastMessage)
	if m == nil {
		return "none"
	}
	tail := strings.TrimSpace(m[1])
	if tail == "" {
		return "none"
	}
	switch strings.ToLower(tail) {
	case "none", "<none>":
		return "none"
	default:
		return tail
	}
}

func snippet(lastMessage string, maxLines int) string {
	trimmed := strings.TrimSpace(lastMessage)
	if trimmed == "" {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// EndParams describes a task's terminal outcome for one run.
type EndParams struct {
	SessionLogPath  string
	TaskID          string
	TaskType        string
	Worktree        string
	LastMessagePath string
	Extra           []string // extra bullet lines (e.g. failure reason)
}

// WriteEnd appends an "END" entry: worktree, pointer to the worker's raw
// output, a ≤40-line snippet of its final report, any Extra bullets, and a
// Blockers line parsed out of that report.
func WriteEnd(p EndParams) error {
	lastMessage := ""
	haveLastMessage := false
	if data, err := os.ReadFile(p.LastMessagePath); err == nil {
		lastMessage = string(data)
		haveLastMessage = true
	}

	worktreeLine := "- Worktree: N/A"
	if p.Worktree != "" {
		worktreeLine = fmt.Sprintf("- Worktree: `%s`", p.Worktree)
	}

	lines := []string{
		fmt.Sprintf("## [%s] %s Agent – %s – END", timestamp(), roleForType(p.TaskType), p.TaskID),
		worktreeLine,
		fmt.Sprintf("- Worker output: `%s`", p.LastMessagePath),
	}
	lines = append(lines, p.Extra...)

	if snip := snippet(lastMessage, 40); snip != "" {
		lines = append(lines, "- Worker summary (first ~40 lines):", "```text", snip, "```")
	}

	blockers := "none"
	if haveLastMessage {
		blockers = extractBlockers(lastMessage)
	}
	lines = append(lines, fmt.Sprintf("- Blockers: %s", blockers), "")

	return appendText(p.SessionLogPath, strings.Join(lines, "\n"))
}
