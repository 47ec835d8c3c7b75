// Package queue loads, normalizes and rewrites the JSON task queue that
// drives the orchestrator. The store is not multi-writer safe: exactly one
// orchestrator instance is expected to own a given queue file at a time.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Status values a Task can hold after normalization.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusBlocked    = "blocked"
	StatusDeferred   = "deferred"
)

// Task types, used to derive the default workstream id and the session log
// role label, and to decide whether a completed task attempts a
// fast-forward merge.
const (
	TypeCode        = "code"
	TypeTest        = "test"
	TypeIntegration = "integration"
	TypeOther       = "other"
)

// Workstream ids derived from a task's type when workstream_id is unset.
const (
	WorkstreamCode    = "WS-CODE"
	WorkstreamTest    = "WS-TEST"
	WorkstreamInt     = "WS-INT"
	WorkstreamDefault = "WS-DEFAULT"
)

// Task is the persistent record for one unit of work in the queue. Unknown
// JSON fields round-trip via Extra.
type Task struct {
	ID            string   `json:"id"`
	Order         int      `json:"order"`
	Status        string   `json:"status"`
	DependsOn     []string `json:"depends_on,omitempty"`
	KickoffPrompt string   `json:"kickoff_prompt,omitempty"`
	Type          string   `json:"type,omitempty"`
	Worktree      string   `json:"worktree,omitempty"`
	WorkstreamID  string   `json:"workstream_id,omitempty"`

	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	BlockedAt   string `json:"blocked_at,omitempty"`

	Blockers     []string `json:"blockers,omitempty"`
	UnblockSteps []string `json:"unblock_steps,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// EffectiveWorkstream returns the task's explicit workstream id, or the
// default derived from its type.
func (t *Task) EffectiveWorkstream() string {
	if ws := strings.TrimSpace(t.WorkstreamID); ws != "" {
		return ws
	}
	switch strings.ToLower(strings.TrimSpace(t.Type)) {
	case TypeCode:
		return WorkstreamCode
	case TypeTest:
		return WorkstreamTest
	case TypeIntegration:
		return WorkstreamInt
	default:
		return WorkstreamDefault
	}
}

// HasWorktree reports whether the task runs in an isolated worktree rather
// than the repo root. "N/A" and the empty string both mean "no worktree".
func (t *Task) HasWorktree() bool {
	w := strings.ToUpper(strings.TrimSpace(t.Worktree))
	return w != "" && w != "N/A"
}

// NormalizeStatus maps input synonyms (todo, in-progress, done, ...) onto
// the canonical status set. Unrecognized non-empty values pass through
// unchanged so a caller can surface bad data rather than silently coercing
// it; an empty value normalizes to pending. This function is idempotent.
func NormalizeStatus(s string) string {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "todo", "pending":
		return StatusPending
	case "in_progress", "in-progress":
		return StatusInProgress
	case "done", "completed", "complete":
		return StatusCompleted
	case "blocked":
		return StatusBlocked
	case "deferred":
		return StatusDeferred
	case "":
		return StatusPending
	default:
		return v
	}
}

// Queue is the in-memory, normalized view of the queue file plus enough
// bookkeeping to rewrite it in its original container shape.
type Queue struct {
	Tasks      []*Task
	wasWrapped bool // true if the file was {"tasks": [...]}, false if a bare array
	wrapperRaw map[string]json.RawMessage
}

// ErrorKind identifies a Queue Store failure mode per spec.md §7.
type ErrorKind string

const (
	ErrQueueParse   ErrorKind = "QUEUE_PARSE"
	ErrTaskNotFound ErrorKind = "TASK_NOT_FOUND"
)

// Error is a typed queue-store failure.
type Error struct {
	Kind   ErrorKind
	TaskID string
	Err    error
}

func (e *Error) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.TaskID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Load reads and normalizes the queue file. It accepts either a top-level
// JSON array of tasks or an object with a "tasks" array.
func Load(path string) (*Queue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: ErrQueueParse, Err: fmt.Errorf("reading queue: %w", err)}
	}
	return parse(data)
}

func parse(data []byte) (*Queue, error) {
	trimmed := strings.TrimSpace(string(data))
	q := &Queue{}

	switch {
	case strings.HasPrefix(trimmed, "["):
		var raw []map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, &Error{Kind: ErrQueueParse, Err: fmt.Errorf("parsing queue array: %w", err)}
		}
		q.wasWrapped = false
		for _, r := range raw {
			t, err := taskFromRaw(r)
			if err != nil {
				return nil, &Error{Kind: ErrQueueParse, Err: err}
			}
			q.Tasks = append(q.Tasks, t)
		}
	case strings.HasPrefix(trimmed, "{"):
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, &Error{Kind: ErrQueueParse, Err: fmt.Errorf("parsing queue object: %w", err)}
		}
		q.wasWrapped = true
		q.wrapperRaw = wrapper
		tasksRaw, ok := wrapper["tasks"]
		if ok {
			var raw []map[string]json.RawMessage
			if err := json.Unmarshal(tasksRaw, &raw); err != nil {
				return nil, &Error{Kind: ErrQueueParse, Err: fmt.Errorf("parsing tasks array: %w", err)}
			}
			for _, r := range raw {
				t, err := taskFromRaw(r)
				if err != nil {
					return nil, &Error{Kind: ErrQueueParse, Err: err}
				}
				q.Tasks = append(q.Tasks, t)
			}
		}
	default:
		return nil, &Error{Kind: ErrQueueParse, Err: fmt.Errorf("queue must be a JSON array or object")}
	}

	for i, t := range q.Tasks {
		if strings.TrimSpace(t.ID) == "" {
			return nil, &Error{Kind: ErrQueueParse, Err: fmt.Errorf("task at index %d has no id", i)}
		}
		if t.Order == 0 {
			t.Order = (i + 1) * 10
		}
		t.Status = NormalizeStatus(t.Status)
	}

	return q, nil
}

// taskFromRaw decodes one task object, keeping unrecognized fields in Extra
// so a round trip preserves them.
func taskFromRaw(raw map[string]json.RawMessage) (*Task, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var t Task
	if err := json.Unmarshal(buf, &t); err != nil {
		return nil, fmt.Errorf("parsing task: %w", err)
	}

	known := map[string]bool{
		"id": true, "order": true, "status": true, "depends_on": true,
		"kickoff_prompt": true, "type": true, "worktree": true,
		"workstream_id": true, "started_at": true, "completed_at": true,
		"blocked_at": true, "blockers": true, "unblock_steps": true,
	}
	extra := map[string]json.RawMessage{}
	for k, v := range raw {
		if !known[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		t.Extra = extra
	}
	return &t, nil
}

// Save rewrites the queue file as two-space-indented JSON with a trailing
// newline, preserving the original container shape (bare array vs
// {"tasks": [...]}) when feasible.
func (q *Queue) Save(path string) error {
	data, err := q.marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (q *Queue) marshal() ([]byte, error) {
	tasksJSON := make([]json.RawMessage, 0, len(q.Tasks))
	for _, t := range q.Tasks {
		raw, err := taskToRaw(t)
		if err != nil {
			return nil, err
		}
		tasksJSON = append(tasksJSON, raw)
	}

	var out []byte
	var err error
	if q.wasWrapped {
		wrapper := map[string]json.RawMessage{}
		for k, v := range q.wrapperRaw {
			wrapper[k] = v
		}
		tasksRaw, merr := json.Marshal(tasksJSON)
		if merr != nil {
			return nil, merr
		}
		wrapper["tasks"] = tasksRaw
		out, err = marshalIndentOrdered(wrapper, "tasks")
	} else {
		out, err = json.MarshalIndent(tasksJSON, "", "  ")
	}
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// marshalIndentOrdered marshals a wrapper map with "tasks" placed last,
// which keeps diffs stable when the wrapper carries other top-level keys.
func marshalIndentOrdered(wrapper map[string]json.RawMessage, lastKey string) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString("{\n")
	keys := make([]string, 0, len(wrapper))
	for k := range wrapper {
		if k != lastKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	keys = append(keys, lastKey)
	for i, k := range keys {
		indented, err := indentBlock(wrapper[k], "  ")
		if err != nil {
			return nil, err
		}
		sb.WriteString("  ")
		kb, _ := json.Marshal(k)
		sb.Write(kb)
		sb.WriteString(": ")
		sb.Write(indented)
		if i < len(keys)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}")
	return []byte(sb.String()), nil
}

func indentBlock(raw json.RawMessage, prefix string) ([]byte, error) {
	var buf strings.Builder
	if err := json.Indent(&buf, raw, prefix, "  "); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

func taskToRaw(t *Task) (json.RawMessage, error) {
	buf, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, err
	}
	for k, v := range t.Extra {
		if _, exists := m[k]; !exists {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// Find returns the task with the given id, or nil.
func (q *Queue) Find(id string) *Task {
	for _, t := range q.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Patch is a set of field updates applied atomically to one task.
type Patch struct {
	Status       *string
	StartedAt    *string
	CompletedAt  *string
	BlockedAt    *string
	Blockers     []string
	UnblockSteps []string
}

// Update applies patch to the task identified by id (compare-and-set on
// task id) and returns ErrTaskNotFound if no such task exists.
func (q *Queue) Update(id string, patch Patch) error {
	t := q.Find(id)
	if t == nil {
		return &Error{Kind: ErrTaskNotFound, TaskID: id, Err: fmt.Errorf("task not found")}
	}
	if patch.Status != nil {
		t.Status = NormalizeStatus(*patch.Status)
	}
	if patch.StartedAt != nil {
		t.StartedAt = *patch.StartedAt
	}
	if patch.CompletedAt != nil {
		t.CompletedAt = *patch.CompletedAt
	}
	if patch.BlockedAt != nil {
		t.BlockedAt = *patch.BlockedAt
	}
	if patch.Blockers != nil {
		t.Blockers = patch.Blockers
	}
	if patch.UnblockSteps != nil {
		t.UnblockSteps = patch.UnblockSteps
	}
	return nil
}

// CompletedSet returns the ids of all tasks currently completed.
func (q *Queue) CompletedSet() map[string]bool {
	done := make(map[string]bool)
	for _, t := range q.Tasks {
		if t.Status == StatusCompleted {
			done[t.ID] = true
		}
	}
	return done
}

// ActiveWorkstreams returns the set of workstream ids with at least one
// in_progress task.
func (q *Queue) ActiveWorkstreams() map[string]bool {
	active := make(map[string]bool)
	for _, t := range q.Tasks {
		if t.Status == StatusInProgress {
			active[t.EffectiveWorkstream()] = true
		}
	}
	return active
}

// NowUTC returns the current time formatted per spec.md's ISO-8601 UTC,
// seconds precision, "Z" suffix timestamp convention.
func NowUTC() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}
