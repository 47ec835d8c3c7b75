// Package orchestrator drives the event loop described in spec.md §4.7: it
// loads the queue, admits ready tasks, prepares worktrees, spawns worker
// supervisors, waits for completion, classifies outcomes, and keeps the
// queue, the session log, and git history in lockstep.
package orchestrator

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orco-dev/orco/internal/prompt"
	"github.com/orco-dev/orco/internal/queue"
	"github.com/orco-dev/orco/internal/scheduler"
	"github.com/orco-dev/orco/internal/sessionlog"
	"github.com/orco-dev/orco/internal/worker"
	"github.com/orco-dev/orco/internal/worktree"
)

// ErrorKind identifies a fatal orchestrator-level failure (spec.md §7).
type ErrorKind string

const (
	ErrMissingSpawnHelper     ErrorKind = "MISSING_SPAWN_HELPER"
	ErrStartupStuckInProgress ErrorKind = "STARTUP_STUCK_IN_PROGRESS"
	ErrStopOnBlocked          ErrorKind = "STOP_ON_BLOCKED"
	ErrInstanceLocked         ErrorKind = "INSTANCE_LOCKED"
)

// Error is a fatal, typed orchestrator failure. The CLI maps Kind to an
// exit code.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Config is one orchestrator run's full invocation surface, mirroring the
// CLI flags in spec.md §4.8.
type Config struct {
	RepoRoot      string
	QueuePath     string
	RunRoot       string
	MaxWorkers    int
	PerWorkstream int
	WatchTimeout  time.Duration
	StopOnBlocked bool
	DryRun        bool
	Scope         scheduler.Scope
	CodexCmd      string

	Logger *slog.Logger
}

func (c Config) sessionLogPath() string {
	return filepath.Join(filepath.Dir(c.QueuePath), "session_log.md")
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// runningTask tracks one admitted task's in-flight state across ticks.
type runningTask struct {
	task         *queue.Task
	workDir      string
	worktreeUsed bool
	baseSHA      string
	runDir       string
	cmd          *exec.Cmd
	exited       chan struct{}
	exitErr      error
}

func (r *runningTask) hasExited() bool {
	select {
	case <-r.exited:
		return true
	default:
		return false
	}
}

// Orchestrator owns one run's mutable state: the worktree manager, the set
// of in-flight tasks, and per-workstream occupancy.
type Orchestrator struct {
	cfg               Config
	wt                *worktree.Manager
	running           map[string]*runningTask
	activeWorkstreams map[string]bool
	watcher           *watcher

	// mu guards the queue file, the session log, and o.running/
	// o.activeWorkstreams against the concurrent admissions spawnAdmitted
	// fans out within one tick. Worktree creation and prompt assembly for
	// distinct tasks touch distinct paths and run outside mu.
	mu sync.Mutex
}

// New constructs an Orchestrator for cfg. It does not touch disk.
func New(cfg Config) *Orchestrator {
	if cfg.RunRoot == "" {
		cfg.RunRoot = filepath.Join(cfg.RepoRoot, ".runs")
	}
	return &Orchestrator{
		cfg:               cfg,
		wt:                worktree.NewManager(cfg.RepoRoot),
		running:           map[string]*runningTask{},
		activeWorkstreams: map[string]bool{},
	}
}

// checkSpawnHelper verifies bash is available before any non-dry-run
// invocation; its absence is a startup-fatal MISSING_SPAWN_HELPER per
// spec.md §7.
func checkSpawnHelper() error {
	if _, err := exec.LookPath("bash"); err != nil {
		return &Error{Kind: ErrMissingSpawnHelper, Err: fmt.Errorf("bash not found on PATH: %w", err)}
	}
	return nil
}

// checkStartupRecovery refuses to start if the queue already has
// in_progress tasks: a prior orchestrator run was interrupted and no
// supervisor exists for them in this process, so blind resumption would
// violate the "in_progress ⇒ supervised process" invariant (spec.md §3).
// Recovery is an operator responsibility (spec.md §5); the loop does not
// guess.
func checkStartupRecovery(q *queue.Queue) error {
	var stuck []string
	for _, t := range q.Tasks {
		if t.Status == queue.StatusInProgress {
			stuck = append(stuck, t.ID)
		}
	}
	if len(stuck) > 0 {
		return &Error{
			Kind: ErrStartupStuckInProgress,
			Err:  fmt.Errorf("queue has in_progress tasks with no live supervisor: %s (repair manually before restarting)", strings.Join(stuck, ", ")),
		}
	}
	return nil
}

// Run drives the event loop to completion (success) or a fatal error.
func (o *Orchestrator) Run() error {
	if !o.cfg.DryRun {
		if err := checkSpawnHelper(); err != nil {
			return err
		}
	}

	q, err := queue.Load(o.cfg.QueuePath)
	if err != nil {
		return err
	}
	if !o.cfg.DryRun {
		if err := checkStartupRecovery(q); err != nil {
			return err
		}
	}

	if o.cfg.DryRun {
		return o.dryRunTick(q)
	}

	lock, err := Acquire(o.cfg.RunRoot)
	if err != nil {
		return &Error{Kind: ErrInstanceLocked, Err: err}
	}
	defer lock.Release()

	var wch *watcher
	if wch, err = newWatcher(o.cfg.RunRoot); err == nil {
		defer wch.Close()
		o.watcher = wch
	} else {
		o.cfg.logger().Warn("run-root watch unavailable, falling back to timeout-only polling", "error", err)
	}

	for {
		q, err := queue.Load(o.cfg.QueuePath)
		if err != nil {
			return err
		}

		if o.cfg.StopOnBlocked && scheduler.ShouldStopOnBlocked(q, o.cfg.Scope) {
			return &Error{Kind: ErrStopOnBlocked, Err: fmt.Errorf("a task is blocked and --stop-on-blocked is set")}
		}

		ready := scheduler.ReadySet(q, o.cfg.Scope)
		if scheduler.Done(ready, len(o.running)) {
			o.cfg.logger().Info("orchestration complete")
			return nil
		}

		admitted := scheduler.Admit(ready, scheduler.Caps{
			MaxWorkers:    o.cfg.MaxWorkers,
			PerWorkstream: o.cfg.PerWorkstream,
		}, len(o.running), o.activeWorkstreams)

		o.spawnAdmitted(q, admitted)

		if len(admitted) == 0 && len(o.running) > 0 {
			if wch != nil {
				wch.WaitForActivity(o.cfg.WatchTimeout)
			} else {
				time.Sleep(o.cfg.WatchTimeout)
			}
		}

		o.reapFinished(q)
	}
}

// dryRunTick computes and prints the admission set for a single tick
// without mutating anything, per spec.md §4.8.
func (o *Orchestrator) dryRunTick(q *queue.Queue) error {
	ready := scheduler.ReadySet(q, o.cfg.Scope)
	admitted := scheduler.Admit(ready, scheduler.Caps{
		MaxWorkers:    o.cfg.MaxWorkers,
		PerWorkstream: o.cfg.PerWorkstream,
	}, 0, nil)

	for _, c := range admitted {
		t := q.Find(c.ID)
		workDir := o.cfg.RepoRoot
		if t != nil && t.HasWorktree() {
			workDir = filepath.Join(o.cfg.RepoRoot, t.Worktree)
		}
		fmt.Printf("would spawn %s  workstream=%s  workdir=%s\n", c.ID, c.Workstream, workDir)
		if t != nil {
			kickoffText := prompt.ResolveKickoff(o.cfg.RepoRoot, t.KickoffPrompt)
			if cmds := prompt.ExtractRequiredCommands(kickoffText); len(cmds) > 0 {
				fmt.Printf("  required commands: %s\n", strings.Join(cmds, ", "))
			}
		}
	}
	return nil
}

// spawnAdmitted spawns every admitted candidate concurrently: worktree
// creation and prompt assembly for distinct tasks touch distinct paths and
// gain nothing from running one at a time. The queue file, session log, and
// docs-start commit are still serialized inside spawnTask via o.mu.
func (o *Orchestrator) spawnAdmitted(q *queue.Queue, admitted []scheduler.Candidate) {
	if len(admitted) == 0 {
		return
	}
	var g errgroup.Group
	for _, c := range admitted {
		t := q.Find(c.ID)
		if t == nil {
			continue
		}
		g.Go(func() error {
			if err := o.spawnTask(q, t); err != nil {
				o.cfg.logger().Error("spawn failed", "task_id", t.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// spawnTask performs one admission: flip status, docs-start commit,
// worktree creation, prompt assembly, and process spawn, in the order
// spec.md §4.7 step 4 requires. The status-flip/save/docs-commit prefix
// runs under o.mu since it touches the shared queue file and base branch;
// worktree creation and prompt assembly do not, so spawnAdmitted's
// concurrent callers overlap on the actually expensive part.
func (o *Orchestrator) spawnTask(q *queue.Queue, t *queue.Task) error {
	o.mu.Lock()
	status := queue.StatusInProgress
	startedAt := queue.NowUTC()
	if err := q.Update(t.ID, queue.Patch{Status: &status, StartedAt: &startedAt}); err != nil {
		o.mu.Unlock()
		return err
	}
	if err := q.Save(o.cfg.QueuePath); err != nil {
		o.mu.Unlock()
		return err
	}

	baseBranch, err := o.wt.CurrentBranch()
	if err != nil {
		o.mu.Unlock()
		return err
	}

	if err := sessionlog.WriteStart(sessionlog.StartParams{
		SessionLogPath: o.cfg.sessionLogPath(),
		TaskID:         t.ID,
		TaskType:       t.Type,
		BaseBranch:     baseBranch,
		KickoffRef:     t.KickoffPrompt,
		Worktree:       t.Worktree,
	}); err != nil {
		o.mu.Unlock()
		return err
	}

	if err := o.commitDocs(fmt.Sprintf("docs: start %s", t.ID)); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	workDir := o.cfg.RepoRoot
	worktreeUsed := t.HasWorktree()
	var baseSHA string
	if worktreeUsed {
		absPath, _, err := o.wt.Ensure(baseBranch, t.Worktree)
		if err != nil {
			return err
		}
		baseSHA, err = o.wt.RecordBaseSHA(filepath.Base(t.Worktree))
		if err != nil {
			return err
		}
		workDir = absPath
	}

	runDir := filepath.Join(o.cfg.RunRoot, t.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("preparing run dir for %s: %w", t.ID, err)
	}
	// A leftover sentinel from an earlier run of the same task id would be
	// mistaken for this run's outcome.
	_ = os.Remove(filepath.Join(runDir, t.ID+".done"))
	if o.watcher != nil {
		o.watcher.Add(runDir)
	}
	run := worker.NewRunRoot(runDir)
	if worktreeUsed {
		_ = os.WriteFile(filepath.Join(runDir, "base_sha.txt"), []byte(baseSHA+"\n"), 0644)
	}

	kickoffText := prompt.ResolveKickoff(o.cfg.RepoRoot, t.KickoffPrompt)
	promptText := prompt.Assemble(prompt.Params{
		TaskID:       t.ID,
		RepoRoot:     o.cfg.RepoRoot,
		WorktreePath: workDir,
		BaseBranch:   baseBranch,
		KickoffRef:   t.KickoffPrompt,
		KickoffText:  kickoffText,
	})

	cmd, err := o.startSupervisor(t.ID, workDir, promptText, run)
	if err != nil {
		return err
	}

	rt := &runningTask{
		task:         t,
		workDir:      workDir,
		worktreeUsed: worktreeUsed,
		baseSHA:      baseSHA,
		runDir:       runDir,
		cmd:          cmd,
		exited:       make(chan struct{}),
	}
	o.mu.Lock()
	o.running[t.ID] = rt
	if o.cfg.PerWorkstream > 0 {
		o.activeWorkstreams[t.EffectiveWorkstream()] = true
	}
	o.mu.Unlock()

	go func() {
		rt.exitErr = cmd.Wait()
		close(rt.exited)
	}()

	return nil
}

var shellMeta = regexp.MustCompile(`[^A-Za-z0-9_./:-]`)

// shellQuote single-quotes an argument for embedding in a bash -lc string,
// escaping any embedded single quotes.
func shellQuote(s string) string {
	if !shellMeta.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// startSupervisor re-execs this binary as a detached "run-worker" helper so
// the supervisor process outlives the orchestrator's own tick (and, per
// spec.md §5, outlives the orchestrator itself if it is killed). The
// orchestrator tracks only the PID/exit channel; all sentinel and log
// writing is the supervisor's job (internal/worker).
func (o *Orchestrator) startSupervisor(taskID, workDir, promptText string, run worker.RunRoot) (*exec.Cmd, error) {
	if err := os.MkdirAll(run.Dir, 0755); err != nil {
		return nil, fmt.Errorf("preparing run root for %s: %w", taskID, err)
	}
	if err := os.WriteFile(run.PromptPath, []byte(promptText), 0644); err != nil {
		return nil, fmt.Errorf("writing prompt for %s: %w", taskID, err)
	}

	shellLine := fmt.Sprintf("%s -o %s - < %s", o.cfg.CodexCmd, shellQuote(run.LastMessagePath), shellQuote(run.PromptPath))

	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}
	cmd := exec.Command(self, "__run-worker",
		"--task-id", taskID,
		"--run-dir", run.Dir,
		"--work-dir", workDir,
		"--shell-line", shellLine,
	)
	cmd.Stdout = nil
	cmd.Stderr = nil
	devnull, derr := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if derr == nil {
		cmd.Stdout = devnull
		cmd.Stderr = devnull
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning worker supervisor for %s: %w", taskID, err)
	}
	return cmd, nil
}

// commitDocs stages the queue file and (if present) the session log, and
// commits them with message on the current (base) branch. A no-op add is
// silently skipped (CommitPaths never produces an empty commit).
func (o *Orchestrator) commitDocs(message string) error {
	paths := []string{relTo(o.cfg.RepoRoot, o.cfg.QueuePath)}
	slPath := o.cfg.sessionLogPath()
	if _, err := os.Stat(slPath); err == nil {
		paths = append(paths, relTo(o.cfg.RepoRoot, slPath))
	}
	return o.wt.CommitPaths(paths, message)
}

func relTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

// reapFinished checks every running task for completion and classifies the
// outcome (spec.md §4.7 steps 6-7).
func (o *Orchestrator) reapFinished(q *queue.Queue) {
	for id, rt := range o.running {
		donePath := filepath.Join(rt.runDir, id+".done")
		sentinelExists := fileExists(donePath)

		if !sentinelExists && !rt.hasExited() {
			continue // still running
		}

		delete(o.running, id)
		if o.cfg.PerWorkstream > 0 {
			delete(o.activeWorkstreams, rt.task.EffectiveWorkstream())
		}

		o.finishTask(q, rt, donePath, sentinelExists)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// finishTask classifies one completed task's outcome and applies the
// corresponding queue/session-log/git transition.
func (o *Orchestrator) finishTask(q *queue.Queue, rt *runningTask, donePath string, sentinelExists bool) {
	t := rt.task
	logger := o.cfg.logger()

	if !sentinelExists {
		o.blockTask(q, rt, "Worker exited without writing DONE sentinel.",
			[]string{fmt.Sprintf("Inspect %s", filepath.Join(rt.runDir, "worker.log"))})
		_ = os.WriteFile(filepath.Join(rt.runDir, "failure.md"), []byte(tailFile(filepath.Join(rt.runDir, "worker.log"), 80)), 0644)
		logger.Warn("worker exited without sentinel", "task_id", t.ID)
		return
	}

	sentinel, err := worker.ParseSentinel(donePath)
	if err != nil {
		o.blockTask(q, rt, fmt.Sprintf("Could not parse DONE sentinel: %v", err), nil)
		return
	}

	if sentinel.Status != worker.StatusSuccess {
		o.blockTask(q, rt, fmt.Sprintf("Worker reported status=%s: %s", sentinel.Status, sentinel.Error),
			[]string{fmt.Sprintf("Inspect %s and %s", filepath.Join(rt.runDir, "worker.log"), donePath)})
		return
	}

	if rt.worktreeUsed {
		branch := filepath.Base(t.Worktree)
		tip := o.wt.BranchTip(branch)
		if tip == rt.baseSHA {
			o.blockTask(q, rt, fmt.Sprintf("No commit produced on branch '%s' (likely commit failed).", branch),
				[]string{fmt.Sprintf("Worktree preserved at %s; make a commit or mark the task complete manually", rt.workDir)})
			return
		}
	}

	var extras []string
	if rt.worktreeUsed && t.Type == "integration" {
		branch := filepath.Base(t.Worktree)
		baseBranch, err := o.wt.CurrentBranch()
		if err == nil {
			if mergeErr := o.wt.FastForwardMerge(baseBranch, branch); mergeErr != nil {
				o.blockTask(q, rt, fmt.Sprintf("Fast-forward merge failed: %v", mergeErr),
					[]string{fmt.Sprintf("Worktree preserved at %s; resolve and merge manually", rt.workDir)})
				return
			}
			extras = append(extras, fmt.Sprintf("- Fast-forward merged `%s` into `%s`", branch, baseBranch))
		}
	}

	o.completeTask(q, rt, extras)
}

// blockTask records a per-task blocker: data, not an exception (spec.md
// §7). The worktree, if any, is preserved for inspection.
func (o *Orchestrator) blockTask(q *queue.Queue, rt *runningTask, reason string, unblockSteps []string) {
	t := rt.task
	status := queue.StatusBlocked
	blockedAt := queue.NowUTC()
	blockers := []string{reason}
	_ = q.Update(t.ID, queue.Patch{
		Status:       &status,
		BlockedAt:    &blockedAt,
		Blockers:     blockers,
		UnblockSteps: unblockSteps,
	})
	_ = q.Save(o.cfg.QueuePath)

	_ = sessionlog.WriteEnd(sessionlog.EndParams{
		SessionLogPath:  o.cfg.sessionLogPath(),
		TaskID:          t.ID,
		TaskType:        t.Type,
		Worktree:        t.Worktree,
		LastMessagePath: filepath.Join(rt.runDir, "last_message.md"),
		Extra:           []string{fmt.Sprintf("- Blocked: %s", reason)},
	})

	_ = o.commitDocs(fmt.Sprintf("docs: finish %s (blocked)", t.ID))
	o.cfg.logger().Warn("task blocked", "task_id", t.ID, "reason", reason)
}

// completeTask records a clean finish: completed_at, END session log,
// commit, and worktree removal. For integration tasks the branch itself
// has already been fast-forward merged into base by the caller, so it
// survives; the worktree checkout is removed the same as any other task.
func (o *Orchestrator) completeTask(q *queue.Queue, rt *runningTask, extras []string) {
	t := rt.task
	status := queue.StatusCompleted
	completedAt := queue.NowUTC()
	_ = q.Update(t.ID, queue.Patch{Status: &status, CompletedAt: &completedAt})
	_ = q.Save(o.cfg.QueuePath)

	_ = sessionlog.WriteEnd(sessionlog.EndParams{
		SessionLogPath:  o.cfg.sessionLogPath(),
		TaskID:          t.ID,
		TaskType:        t.Type,
		Worktree:        t.Worktree,
		LastMessagePath: filepath.Join(rt.runDir, "last_message.md"),
		Extra:           extras,
	})

	_ = o.commitDocs(fmt.Sprintf("docs: finish %s", t.ID))

	if rt.worktreeUsed {
		o.wt.Remove(t.Worktree)
	}
	o.cfg.logger().Info("task completed", "task_id", t.ID)
}

// tailFile returns the last n lines of path, or a placeholder if it cannot
// be read.
func tailFile(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return "(worker.log unavailable)\n"
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return strings.Join(lines, "\n") + "\n"
}
