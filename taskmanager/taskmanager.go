// Package taskmanager implements TaskManager: an ordered, tagged registry
// of pluggable rendering stages with deferred parameter commit and
// selective execution by tag mask.
package taskmanager

import (
	"fmt"
	"sync"

	"github.com/meridian-gfx/viewport/contracts"
	"github.com/meridian-gfx/viewport/diag"
)

// CommitFn lifts application state into a task's parameter block each
// frame. get/set are closures over the sync delegate rooted at the task's
// path; a commit function may read its own current parameter block to
// merge with new values.
type CommitFn func(get func(key string) (any, bool), set func(key string, value any))

// Anchor positions a new task relative to an existing one.
type Anchor int

const (
	AnchorEnd Anchor = iota
	AnchorBefore
	AnchorAfter
)

// record is the internal TaskRecord: a path derived from the owning pass's
// path plus a task token, the task object, its commit function, enabled
// state, and classification bits.
type record struct {
	path     string
	token    string
	task     contracts.Task
	commitFn CommitFn
	enabled  bool
	tags     contracts.TagBits
}

// TaskManager maintains an ordered list of render-pipeline stages, each with
// its own deferred parameter update step, and evaluates subsets filtered by
// bit tags.
type TaskManager interface {
	// AddTask inserts a task at the end, before, or after an existing anchor
	// path. Fails with diag.ErrAlreadyExists if token is already present.
	// initialParams is stored in the sync delegate keyed (path, "params")
	// before the task ever runs.
	AddTask(token string, initialParams map[string]any, task contracts.Task, commitFn CommitFn, anchor Anchor, anchorPath string, tags contracts.TagBits) (string, error)

	// RemoveTask removes the record at path and clears its sync-delegate state.
	RemoveTask(path string)

	// EnableTask marks the record identified by path or token enabled/disabled.
	// Idempotent.
	EnableTask(pathOrToken string, enabled bool)

	// SetTaskValue stores a value under (path, key) in the sync delegate.
	// No-op if path is unknown.
	SetTaskValue(path, key string, value any)

	// GetTaskValue retrieves a value stored under (path, key). Returns the
	// zero value and ok=false if path or key is unknown.
	GetTaskValue(path, key string) (any, bool)

	// SetTaskCommitFn replaces the commit function for path.
	SetTaskCommitFn(path string, fn CommitFn)

	// CommitTaskValues invokes the commit function of every enabled record
	// matching tagMask, in registration order. Must not add/remove tasks.
	CommitTaskValues(tagMask contracts.TagBits)

	// GetTasks returns enabled task objects matching tagMask, in registration
	// order (modulo insertions/removals).
	GetTasks(tagMask contracts.TagBits) []contracts.Task

	// Execute commits the executable subset and hands it to the render
	// delegate.
	Execute(index *contracts.RenderIndex) error

	// PathFor returns the path that would be assigned to token if added now,
	// without mutating state. Used by FramePass to look up well-known task
	// paths before they are created.
	PathFor(token string) string
}

type taskManager struct {
	mu sync.Mutex

	passPath string
	sync     contracts.SyncDelegate

	order   []string // paths, in registration order
	records map[string]*record
	byToken map[string]string // token -> path
}

var _ TaskManager = &taskManager{}

// NewTaskManager creates a TaskManager rooted at passPath, backed by sync
// for parameter storage.
func NewTaskManager(passPath string, sync contracts.SyncDelegate) TaskManager {
	return &taskManager{
		passPath: passPath,
		sync:     sync,
		records:  make(map[string]*record),
		byToken:  make(map[string]string),
	}
}

func (m *taskManager) PathFor(token string) string {
	return fmt.Sprintf("%s/%s", m.passPath, token)
}

func (m *taskManager) AddTask(token string, initialParams map[string]any, task contracts.Task, commitFn CommitFn, anchor Anchor, anchorPath string, tags contracts.TagBits) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byToken[token]; exists {
		diag.Report(diag.Programming, m.passPath, "AddTask: token %q already registered", token)
		return "", diag.ErrAlreadyExists
	}

	if tags == 0 {
		tags = contracts.TagExecutable
	}

	path := m.PathFor(token)
	rec := &record{
		path:     path,
		token:    token,
		task:     task,
		commitFn: commitFn,
		enabled:  true,
		tags:     tags,
	}
	m.records[path] = rec
	m.byToken[token] = path
	m.sync.SetValue(path, "params", initialParams)

	switch anchor {
	case AnchorEnd:
		m.order = append(m.order, path)
	case AnchorBefore:
		m.order = insertAt(m.order, path, indexOf(m.order, anchorPath))
	case AnchorAfter:
		idx := indexOf(m.order, anchorPath)
		if idx < 0 {
			m.order = append(m.order, path)
		} else {
			m.order = insertAt(m.order, path, idx+1)
		}
	default:
		m.order = append(m.order, path)
	}

	return path, nil
}

func insertAt(order []string, path string, idx int) []string {
	if idx < 0 || idx > len(order) {
		return append(order, path)
	}
	out := make([]string, 0, len(order)+1)
	out = append(out, order[:idx]...)
	out = append(out, path)
	out = append(out, order[idx:]...)
	return out
}

func indexOf(order []string, path string) int {
	for i, p := range order {
		if p == path {
			return i
		}
	}
	return -1
}

func (m *taskManager) RemoveTask(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[path]
	if !ok {
		return
	}
	delete(m.records, path)
	delete(m.byToken, rec.token)
	m.order = removeString(m.order, path)
	m.sync.Clear(path)
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func (m *taskManager) resolvePath(pathOrToken string) (string, bool) {
	if _, ok := m.records[pathOrToken]; ok {
		return pathOrToken, true
	}
	if p, ok := m.byToken[pathOrToken]; ok {
		return p, true
	}
	return "", false
}

func (m *taskManager) EnableTask(pathOrToken string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, ok := m.resolvePath(pathOrToken)
	if !ok {
		return
	}
	m.records[path].enabled = enabled
}

func (m *taskManager) SetTaskValue(path, key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[path]; !ok {
		return
	}
	m.sync.SetValue(path, key, value)
}

func (m *taskManager) GetTaskValue(path, key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[path]; !ok {
		return nil, false
	}
	return m.sync.GetValue(path, key)
}

func (m *taskManager) SetTaskCommitFn(path string, fn CommitFn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[path]; ok {
		rec.commitFn = fn
	}
}

func (m *taskManager) CommitTaskValues(tagMask contracts.TagBits) {
	m.mu.Lock()
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	for _, path := range order {
		m.mu.Lock()
		rec, ok := m.records[path]
		m.mu.Unlock()
		if !ok || !rec.enabled || !rec.tags.Has(tagMask) || rec.commitFn == nil {
			continue
		}

		get := func(key string) (any, bool) { return m.sync.GetValue(path, key) }
		set := func(key string, value any) { m.sync.SetValue(path, key, value) }
		rec.commitFn(get, set)
	}
}

func (m *taskManager) GetTasks(tagMask contracts.TagBits) []contracts.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks := make([]contracts.Task, 0, len(m.order))
	for _, path := range m.order {
		rec := m.records[path]
		if rec == nil || !rec.enabled || !rec.tags.Has(tagMask) {
			continue
		}
		tasks = append(tasks, rec.task)
	}
	return tasks
}

func (m *taskManager) Execute(index *contracts.RenderIndex) error {
	m.CommitTaskValues(contracts.TagExecutable)
	tasks := m.GetTasks(contracts.TagExecutable)
	return index.Delegate.Execute(index, tasks)
}
