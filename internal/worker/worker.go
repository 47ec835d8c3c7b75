// Package worker supervises a single sub-agent process for one task: it
// spawns the agent command against a prompt, captures its combined output to
// a log file, and writes the DONE sentinel the orchestrator polls for. The
// supervisor never touches the task queue, the session log, or git state —
// those stay the orchestrator's responsibility.
package worker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mattn/go-isatty"
)

// Status values written into the DONE sentinel's status= field.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Sentinel is the parsed contents of a task's DONE file, the sole
// machine-readable contract between a worker process and the orchestrator.
type Sentinel struct {
	Status         string
	TaskID         string
	FinishedAt     string
	LogPath        string
	LastMessageRel string
	ExitCode       int
	Error          string
}

// RunRoot is the set of paths a worker supervises for a single task run,
// rooted at <run-root>/<task-id>/.
type RunRoot struct {
	Dir             string
	PromptPath      string
	LogPath         string
	PIDPath         string
	LastMessagePath string
	DonePath        string
}

// NewRunRoot lays out the fixed filenames under dir. The DONE sentinel
// itself is named after the task id (donePathFor), not DonePath.
func NewRunRoot(dir string) RunRoot {
	return RunRoot{
		Dir:             dir,
		PromptPath:      filepath.Join(dir, "prompt.md"),
		LogPath:         filepath.Join(dir, "worker.log"),
		PIDPath:         filepath.Join(dir, "worker.pid"),
		LastMessagePath: filepath.Join(dir, "last_message.md"),
		DonePath:        filepath.Join(dir, "done"),
	}
}

func (r RunRoot) donePathFor(taskID string) string {
	return filepath.Join(r.Dir, taskID+".done")
}

// Spec describes what to run.
type Spec struct {
	TaskID      string
	Command     string
	Args        []string
	WorkDir     string
	PromptText  string
	Run         RunRoot
	UsePTY      bool // caller's preference; honored only when a PTY can be opened
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// writeSentinel serializes a DONE sentinel in the fixed key=value format the
// orchestrator parses, one field per line.
func writeSentinel(path string, s Sentinel) error {
	var b strings.Builder
	fmt.Fprintf(&b, "status=%s\n", s.Status)
	fmt.Fprintf(&b, "task_id=%s\n", s.TaskID)
	fmt.Fprintf(&b, "finished_at=%s\n", s.FinishedAt)
	fmt.Fprintf(&b, "log_path=%s\n", s.LogPath)
	fmt.Fprintf(&b, "last_message_path=%s\n", s.LastMessageRel)
	fmt.Fprintf(&b, "exit_code=%d\n", s.ExitCode)
	if s.Error != "" {
		fmt.Fprintf(&b, "error=%s\n", strings.ReplaceAll(s.Error, "\n", " "))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ParseSentinel reads and decodes a DONE sentinel file.
func ParseSentinel(path string) (Sentinel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sentinel{}, err
	}
	s := Sentinel{}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := scanner.Text()
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch k {
		case "status":
			s.Status = v
		case "task_id":
			s.TaskID = v
		case "finished_at":
			s.FinishedAt = v
		case "log_path":
			s.LogPath = v
		case "last_message_path":
			s.LastMessageRel = v
		case "exit_code":
			n, convErr := strconv.Atoi(v)
			if convErr == nil {
				s.ExitCode = n
			}
		case "error":
			s.Error = v
		}
	}
	return s, nil
}

// failSentinel short-circuits a worker run that never gets to spawn a
// process at all (missing prompt, missing repo), per spec.md §4.4 edge
// cases. It writes the DONE sentinel directly, with no PID file and no log.
func failSentinel(run RunRoot, taskID, reason string) error {
	return writeSentinel(run.donePathFor(taskID), Sentinel{
		Status:     StatusFailed,
		TaskID:     taskID,
		FinishedAt: time.Now().UTC().Format(time.RFC3339),
		LogPath:    run.LogPath,
		ExitCode:   -1,
		Error:      reason,
	})
}

// Run executes one worker supervision cycle synchronously: write the
// prompt, spawn the agent, tee its output to the log, then write the DONE
// sentinel. Run is meant to be invoked from a detached subprocess (the
// orchestrator starts it and moves on to watching for the sentinel); it
// does not itself background anything.
func Run(spec Spec) error {
	if err := ensureDir(spec.Run.Dir); err != nil {
		return fmt.Errorf("preparing run root: %w", err)
	}

	if strings.TrimSpace(spec.PromptText) == "" {
		return failSentinel(spec.Run, spec.TaskID, "empty kickoff prompt")
	}
	if err := os.WriteFile(spec.Run.PromptPath, []byte(spec.PromptText), 0644); err != nil {
		return fmt.Errorf("writing prompt: %w", err)
	}

	if info, err := os.Stat(spec.WorkDir); err != nil || !info.IsDir() {
		return failSentinel(spec.Run, spec.TaskID, fmt.Sprintf("work directory missing: %s", spec.WorkDir))
	}

	logFile, err := os.Create(spec.Run.LogPath)
	if err != nil {
		return fmt.Errorf("creating log file: %w", err)
	}
	defer logFile.Close()

	exitCode, runErr := spawn(spec, logFile)

	if _, statErr := os.Stat(spec.Run.LastMessagePath); os.IsNotExist(statErr) {
		if lastMessage := tailLines(spec.Run.LogPath, 40); lastMessage != "" {
			_ = os.WriteFile(spec.Run.LastMessagePath, []byte(lastMessage), 0644)
		}
	}

	os.Remove(spec.Run.PIDPath)

	status := StatusSuccess
	errMsg := ""
	if runErr != nil {
		status = StatusFailed
		errMsg = runErr.Error()
	} else if exitCode != 0 {
		status = StatusFailed
		errMsg = fmt.Sprintf("agent exited with status %d", exitCode)
	}

	return writeSentinel(spec.Run.donePathFor(spec.TaskID), Sentinel{
		Status:         status,
		TaskID:         spec.TaskID,
		FinishedAt:     time.Now().UTC().Format(time.RFC3339),
		LogPath:        spec.Run.LogPath,
		LastMessageRel: filepath.Base(spec.Run.LastMessagePath),
		ExitCode:       exitCode,
		Error:          errMsg,
	})
}

// spawn starts the agent command. When spec.UsePTY is set or the
// supervisor's own stdout is a terminal, it gives the agent a PTY for
// stdout/stderr so agents that batch or line-buffer based on TTY detection
// behave the same way they would under an interactive shell (grounded on
// the teacher's invokeAgent). Otherwise, or if a PTY cannot be opened (no
// /dev/ptmx, e.g. in a minimal container), it uses plain pipes.
func spawn(spec Spec, log io.Writer) (exitCode int, err error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Stdin = strings.NewReader(spec.PromptText)

	if err := os.WriteFile(spec.Run.PIDPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return -1, fmt.Errorf("writing pid file: %w", err)
	}

	usePTY := spec.UsePTY
	if !usePTY {
		usePTY = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	}

	if usePTY {
		if code, perr, handled := spawnPTY(cmd, log); handled {
			return code, perr
		}
	}
	return spawnPipe(cmd, log)
}

func spawnPTY(cmd *exec.Cmd, log io.Writer) (exitCode int, err error, handled bool) {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return 0, nil, false
	}
	defer ptmx.Close()

	if _, copyErr := io.Copy(log, ptmx); copyErr != nil {
		var pathErr *os.PathError
		if !(errors.As(copyErr, &pathErr) && pathErr.Err == syscall.EIO) {
			waitErr := cmd.Wait()
			return exitCodeOf(waitErr), copyErr, true
		}
	}
	waitErr := cmd.Wait()
	return exitCodeOf(waitErr), waitErrOrNil(waitErr), true
}

func spawnPipe(cmd *exec.Cmd, log io.Writer) (int, error) {
	cmd.Stdout = log
	cmd.Stderr = log
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("starting agent: %w", err)
	}
	waitErr := cmd.Wait()
	return exitCodeOf(waitErr), waitErrOrNil(waitErr)
}

func exitCodeOf(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// waitErrOrNil demotes an *exec.ExitError to nil: a nonzero exit is a normal
// "worker failed" outcome recorded via status=failed/exit_code, not a
// supervisor-level error.
func waitErrOrNil(waitErr error) error {
	var exitErr *exec.ExitError
	if waitErr == nil || errors.As(waitErr, &exitErr) {
		return nil
	}
	return waitErr
}

// tailLines returns at most n trailing lines from path, or "" if the file
// is absent or empty. Used to populate last_message.md from the worker log
// when the agent doesn't write a structured final report.
func tailLines(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n") + "\n"
}
