// Package scheduler computes the ready set and admission decisions for one
// orchestrator tick. It is a pure function of the queue and the current
// active-workstream set: it never touches the filesystem or git.
package scheduler

import (
	"regexp"
	"sort"

	"github.com/orco-dev/orco/internal/queue"
)

// Scope restricts which tasks are eligible for scheduling at all, per
// spec.md §4.6 step 1 (--only-task-ids / --id-regex).
type Scope struct {
	OnlyTaskIDs map[string]bool
	IDRegex     *regexp.Regexp
}

// InScope reports whether id passes the configured allowlists. An empty
// Scope admits everything.
func (s Scope) InScope(id string) bool {
	if len(s.OnlyTaskIDs) > 0 && !s.OnlyTaskIDs[id] {
		return false
	}
	if s.IDRegex != nil && !s.IDRegex.MatchString(id) {
		return false
	}
	return true
}

// Caps bounds concurrent admission.
type Caps struct {
	MaxWorkers    int
	PerWorkstream int // 0 disables the per-workstream gate
}

// Candidate is one task eligible for the ready set computation, carrying
// just the fields the scheduler needs.
type Candidate struct {
	ID         string
	Order      int
	Workstream string
	Index      int // original queue position, for stable tie-break
}

// ReadySet returns the tasks that are pending with all dependencies
// completed, restricted to scope, sorted by order ascending with ties
// broken by original queue position. Dependency satisfaction is always
// evaluated against the full, unfiltered queue's completed set (spec.md
// §4.6 step 2): scope narrows what may run, never what counts as done.
func ReadySet(q *queue.Queue, scope Scope) []Candidate {
	completed := q.CompletedSet()
	var out []Candidate
	for i, t := range q.Tasks {
		if t.Status != queue.StatusPending {
			continue
		}
		if !scope.InScope(t.ID) {
			continue
		}
		if !allDepsCompleted(t.DependsOn, completed) {
			continue
		}
		out = append(out, Candidate{
			ID:         t.ID,
			Order:      t.Order,
			Workstream: t.EffectiveWorkstream(),
			Index:      i,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func allDepsCompleted(deps []string, completed map[string]bool) bool {
	for _, d := range deps {
		if !completed[d] {
			return false
		}
	}
	return true
}

// Admit walks ready in order and greedily selects tasks to spawn this tick,
// respecting caps.MaxWorkers against runningCount and caps.PerWorkstream
// against activeWorkstreams. Within one call, a candidate admitted here
// marks its workstream busy in a private copy, so a second task on the same
// workstream in this same tick is excluded. It does not mutate its inputs;
// the caller is responsible for updating its own running count and
// activeWorkstreams as it actually spawns each admitted candidate.
func Admit(ready []Candidate, caps Caps, runningCount int, activeWorkstreams map[string]bool) []Candidate {
	if activeWorkstreams == nil {
		activeWorkstreams = map[string]bool{}
	} else {
		// Work on a copy so the caller's map is untouched until it commits
		// to actually spawning each admitted candidate.
		cp := make(map[string]bool, len(activeWorkstreams))
		for k, v := range activeWorkstreams {
			cp[k] = v
		}
		activeWorkstreams = cp
	}

	var admitted []Candidate
	running := runningCount
	for _, c := range ready {
		if running >= caps.MaxWorkers {
			break
		}
		if caps.PerWorkstream > 0 && activeWorkstreams[c.Workstream] {
			continue
		}
		admitted = append(admitted, c)
		running++
		if caps.PerWorkstream > 0 {
			activeWorkstreams[c.Workstream] = true
		}
	}
	return admitted
}

// ShouldStopOnBlocked reports whether any in-scope task in q is blocked,
// for the --stop-on-blocked fast-exit check at the top of a tick.
func ShouldStopOnBlocked(q *queue.Queue, scope Scope) bool {
	for _, t := range q.Tasks {
		if t.Status == queue.StatusBlocked && scope.InScope(t.ID) {
			return true
		}
	}
	return false
}

// Done reports whether the loop has nothing left to do: the in-scope ready
// set is empty and no workers are running (spec.md §4.6 Termination).
func Done(ready []Candidate, runningCount int) bool {
	return len(ready) == 0 && runningCount == 0
}
