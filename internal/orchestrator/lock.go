package orchestrator

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

// instanceLockPath is the path of the single-writer lock for a given run
// root, enforcing spec.md §3's "exactly one orchestrator instance operates
// on a given queue" invariant.
func instanceLockPath(runRoot string) string {
	return runRoot + "/orchestrator.lock"
}

// isProcessAlive reports whether pid names a live process, ported from the
// teacher's runner liveness check (signal 0 probe, no actual delivery).
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Lock guards a run root against a second concurrent orchestrator process.
type Lock struct {
	path  string
	token string
}

// Acquire writes an instance lock file (pid + a uuid instance token) after
// checking no live holder already exists. It fails loudly rather than
// silently stealing the lock.
func Acquire(runRoot string) (*Lock, error) {
	if err := os.MkdirAll(runRoot, 0755); err != nil {
		return nil, fmt.Errorf("preparing run root: %w", err)
	}
	path := instanceLockPath(runRoot)

	if data, err := os.ReadFile(path); err == nil {
		if pid, _ := parseLockFile(string(data)); isProcessAlive(pid) {
			return nil, fmt.Errorf("orchestrator already running against this run root (pid %d)", pid)
		}
	}

	token := uuid.NewString()
	content := fmt.Sprintf("%d\n%s\n", os.Getpid(), token)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	return &Lock{path: path, token: token}, nil
}

func parseLockFile(data string) (pid int, token string) {
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) == 0 {
		return 0, ""
	}
	pid, _ = strconv.Atoi(strings.TrimSpace(lines[0]))
	if len(lines) > 1 {
		token = strings.TrimSpace(lines[1])
	}
	return pid, token
}

// Release removes the lock file, but only if it still carries this lock's
// instance token (so a lock stolen or rewritten by another process isn't
// clobbered on our way out).
func (l *Lock) Release() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	if _, token := parseLockFile(string(data)); token != l.token {
		return
	}
	os.Remove(l.path)
}
