package taskmanager

import (
	"testing"

	"github.com/meridian-gfx/viewport/contracts"
)

type fakeSyncDelegate struct {
	values map[string]map[string]any
}

func newFakeSyncDelegate() *fakeSyncDelegate {
	return &fakeSyncDelegate{values: make(map[string]map[string]any)}
}

func (d *fakeSyncDelegate) SetValue(path, key string, value any) {
	if d.values[path] == nil {
		d.values[path] = make(map[string]any)
	}
	d.values[path][key] = value
}

func (d *fakeSyncDelegate) GetValue(path, key string) (any, bool) {
	m, ok := d.values[path]
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

func (d *fakeSyncDelegate) Clear(path string) {
	delete(d.values, path)
}

type fakeTask struct{ token string }

func (f *fakeTask) Token() string                              { return f.token }
func (f *fakeTask) Sync(ctx *contracts.TaskContext) error       { return nil }
func (f *fakeTask) Prepare(ctx *contracts.TaskContext) error    { return nil }
func (f *fakeTask) Execute(ctx *contracts.TaskContext) error    { return nil }

func TestAddTaskDuplicateTokenFails(t *testing.T) {
	tm := NewTaskManager("/pass0", newFakeSyncDelegate())

	if _, err := tm.AddTask("shadow", nil, &fakeTask{token: "shadow"}, nil, AnchorEnd, "", 0); err != nil {
		t.Fatalf("unexpected error on first AddTask: %v", err)
	}
	if _, err := tm.AddTask("shadow", nil, &fakeTask{token: "shadow"}, nil, AnchorEnd, "", 0); err == nil {
		t.Fatalf("expected AlreadyExists error on duplicate token")
	}
}

func TestSetGetTaskValueRoundTrip(t *testing.T) {
	tm := NewTaskManager("/pass0", newFakeSyncDelegate())
	path, err := tm.AddTask("present", nil, &fakeTask{token: "present"}, nil, AnchorEnd, "", 0)
	if err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	tm.SetTaskValue(path, "enabled", true)
	v, ok := tm.GetTaskValue(path, "enabled")
	if !ok || v != true {
		t.Fatalf("expected round-trip true, got %v ok=%v", v, ok)
	}
}

func TestAddTaskStoresInitialParamsUnderParamsKey(t *testing.T) {
	tm := NewTaskManager("/pass0", newFakeSyncDelegate())
	initial := map[string]any{"radius": 4.0}
	path, err := tm.AddTask("ssao", initial, &fakeTask{token: "ssao"}, nil, AnchorEnd, "", 0)
	if err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	v, ok := tm.GetTaskValue(path, "params")
	if !ok {
		t.Fatalf("expected initial params to be stored under (path, \"params\")")
	}
	params, ok := v.(map[string]any)
	if !ok || params["radius"] != 4.0 {
		t.Fatalf("expected stored params to match initialParams, got %v", v)
	}
}

func TestGetTasksRespectsRegistrationOrderAndTags(t *testing.T) {
	tm := NewTaskManager("/pass0", newFakeSyncDelegate())
	tm.AddTask("a", nil, &fakeTask{token: "a"}, nil, AnchorEnd, "", contracts.TagExecutable)
	tm.AddTask("b", nil, &fakeTask{token: "b"}, nil, AnchorEnd, "", contracts.TagPicking)
	tm.AddTask("c", nil, &fakeTask{token: "c"}, nil, AnchorEnd, "", contracts.TagExecutable)

	tasks := tm.GetTasks(contracts.TagExecutable)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 executable tasks, got %d", len(tasks))
	}
	if tasks[0].Token() != "a" || tasks[1].Token() != "c" {
		t.Fatalf("expected order [a, c], got [%s, %s]", tasks[0].Token(), tasks[1].Token())
	}
}

func TestDisabledTaskSkippedByCommitAndGetTasks(t *testing.T) {
	tm := NewTaskManager("/pass0", newFakeSyncDelegate())
	committed := false
	path, _ := tm.AddTask("fx", nil, &fakeTask{token: "fx"}, func(get func(string) (any, bool), set func(string, any)) {
		committed = true
	}, AnchorEnd, "", contracts.TagExecutable)

	tm.EnableTask(path, false)
	tm.CommitTaskValues(contracts.TagExecutable)

	if committed {
		t.Fatalf("disabled task's commit function should not run")
	}
	if len(tm.GetTasks(contracts.TagExecutable)) != 0 {
		t.Fatalf("disabled task should not appear in GetTasks")
	}
}

func TestRemoveTaskAllowsTokenReuse(t *testing.T) {
	tm := NewTaskManager("/pass0", newFakeSyncDelegate())
	path, _ := tm.AddTask("shadow", nil, &fakeTask{token: "shadow"}, nil, AnchorEnd, "", 0)
	tm.RemoveTask(path)

	if _, err := tm.AddTask("shadow", nil, &fakeTask{token: "shadow"}, nil, AnchorEnd, "", 0); err != nil {
		t.Fatalf("expected token reuse after removal to succeed, got %v", err)
	}
}
