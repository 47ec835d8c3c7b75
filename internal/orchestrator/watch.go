package orchestrator

import (
	"time"

	"github.com/fsnotify/fsnotify"
	gitignore "github.com/sabhiram/go-gitignore"
)

// runRootNoise filters out filesystem events a tick doesn't care about:
// worker.log grows continuously while an agent runs, and editors/tools drop
// lock/swap files in watched directories. Listening to every line of log
// growth would turn the watch into a busy-loop, so known noise patterns are
// suppressed the same way a .gitignore suppresses paths from `git status`.
var runRootNoise = gitignore.CompileIgnoreLines(
	"*.swp",
	"*.tmp",
	".DS_Store",
	"worker.log",
)

// watcher wraps fsnotify with the run-root noise filter and a timeout
// fallback, per spec.md §4.7 step 5.
type watcher struct {
	fs *fsnotify.Watcher
}

func newWatcher(runRoot string) (*watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(runRoot); err != nil {
		fs.Close()
		return nil, err
	}
	return &watcher{fs: fs}, nil
}

func (w *watcher) Close() error {
	return w.fs.Close()
}

// Add starts watching an additional directory (a per-task run dir created
// after the initial watch was set up). fsnotify does not watch recursively,
// so every new run dir needs its own explicit Add. Errors are ignored: a
// missed watch just means this task's completion is caught by the timeout
// fallback instead of the fs event.
func (w *watcher) Add(dir string) {
	_ = w.fs.Add(dir)
}

// WaitForActivity blocks until a non-noise filesystem event arrives under
// the run root, or timeout elapses, whichever comes first. It never
// returns an error for a timeout — that is the expected, common case.
func (w *watcher) WaitForActivity(timeout time.Duration) {
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if runRootNoise.MatchesPath(ev.Name) {
				continue
			}
			return
		case <-w.fs.Errors:
			return
		case <-deadline:
			return
		}
	}
}
