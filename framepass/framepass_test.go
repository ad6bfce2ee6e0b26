package framepass

import (
	"testing"

	"github.com/meridian-gfx/viewport/contracts"
	"github.com/meridian-gfx/viewport/lighting"
	"github.com/meridian-gfx/viewport/selection"
)

type fakeDelegate struct {
	rendererName   string
	executedTasks  [][]contracts.Task
	renderSettings map[string]any
}

func (d *fakeDelegate) Execute(index *contracts.RenderIndex, tasks []contracts.Task) error {
	d.executedTasks = append(d.executedTasks, tasks)
	for _, t := range tasks {
		ctx := &contracts.TaskContext{Index: index}
		if err := t.Sync(ctx); err != nil {
			return err
		}
		if err := t.Prepare(ctx); err != nil {
			return err
		}
		if err := t.Execute(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *fakeDelegate) GetDefaultAovDescriptor(name contracts.AovName) contracts.AovDescriptor {
	switch name {
	case contracts.AovColor, contracts.AovDepth, contracts.AovNormal:
		return contracts.AovDescriptor{Format: contracts.FormatRGBA16Float}
	default:
		return contracts.AovDescriptor{Format: contracts.FormatInvalid}
	}
}

func (d *fakeDelegate) IsSprimTypeSupported(kind contracts.SprimKind) bool { return true }
func (d *fakeDelegate) IsBprimTypeSupported(kind contracts.BprimKind) bool { return true }
func (d *fakeDelegate) GetRendererDisplayName() string                    { return d.rendererName }

func (d *fakeDelegate) GetRenderSetting(key string) (any, bool) {
	v, ok := d.renderSettings[key]
	return v, ok
}

func (d *fakeDelegate) SetRenderSetting(key string, value any) {
	if d.renderSettings == nil {
		d.renderSettings = make(map[string]any)
	}
	d.renderSettings[key] = value
}

type fakeScene struct {
	prims map[string]map[string]any
	dirty map[string]uint32
}

func newFakeScene() *fakeScene {
	return &fakeScene{prims: make(map[string]map[string]any), dirty: make(map[string]uint32)}
}

func (s *fakeScene) InsertPrim(path string, kind string, dataSource map[string]any) {
	s.prims[path] = dataSource
}
func (s *fakeScene) RemovePrim(path string) { delete(s.prims, path) }
func (s *fakeScene) MarkDirty(path string, dirtyBits uint32) {
	s.dirty[path] |= dirtyBits
}
func (s *fakeScene) Prim(path string) map[string]any { return s.prims[path] }

type fakeSync struct {
	values map[string]map[string]any
}

func newFakeSync() *fakeSync { return &fakeSync{values: make(map[string]map[string]any)} }

func (s *fakeSync) SetValue(path, key string, value any) {
	if s.values[path] == nil {
		s.values[path] = make(map[string]any)
	}
	s.values[path][key] = value
}

func (s *fakeSync) GetValue(path, key string) (any, bool) {
	m, ok := s.values[path]
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

func (s *fakeSync) Clear(path string) { delete(s.values, path) }

func newTestPass(t *testing.T, rendererName string) (FramePass, *fakeDelegate) {
	t.Helper()
	delegate := &fakeDelegate{rendererName: rendererName}
	index := &contracts.RenderIndex{Delegate: delegate, Scene: newFakeScene(), Sync: newFakeSync()}

	p := New()
	if err := p.Initialize(FramePassDescriptor{Index: index, PassPath: "/pass0"}); err != nil {
		t.Fatalf("unexpected error initializing: %v", err)
	}
	return p, delegate
}

func TestInitializeRequiresIndexAndPath(t *testing.T) {
	p := New()
	if err := p.Initialize(FramePassDescriptor{PassPath: "/pass0"}); err == nil {
		t.Fatalf("expected error without a render index")
	}
	if err := p.Initialize(FramePassDescriptor{Index: &contracts.RenderIndex{}}); err == nil {
		t.Fatalf("expected error without a pass path")
	}
}

func TestInitializeRejectsDoubleInitialization(t *testing.T) {
	p, _ := newTestPass(t, "Storm")
	index := &contracts.RenderIndex{Delegate: &fakeDelegate{}, Scene: newFakeScene(), Sync: newFakeSync()}
	if err := p.Initialize(FramePassDescriptor{Index: index, PassPath: "/pass1"}); err == nil {
		t.Fatalf("expected error re-initializing an already-initialized pass")
	}
}

func TestGetRenderTasksBeforeInitializeErrors(t *testing.T) {
	p := New()
	if _, err := p.GetRenderTasks(nil); err == nil {
		t.Fatalf("expected error calling GetRenderTasks before Initialize")
	}
}

func TestRegisterDefaultTasksUsesStormOrderForStormDelegate(t *testing.T) {
	p, _ := newTestPass(t, "Storm")
	if err := p.RegisterDefaultTasks("Storm", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	executable := p.GetTaskManager().GetTasks(contracts.TagExecutable)
	if len(executable) == 0 {
		t.Fatalf("expected registered executable tasks")
	}
	// "pick" is tagged TagPicking only, so it's excluded from the executable set.
	for _, task := range executable {
		if task.Token() == "pick" {
			t.Fatalf("expected pick task to be excluded from the executable tag")
		}
	}
	picking := p.GetTaskManager().GetTasks(contracts.TagPicking)
	if len(picking) != 1 || picking[0].Token() != "pick" {
		t.Fatalf("expected only the pick task registered under the picking tag, got %v", picking)
	}
}

func TestRegisterDefaultTasksUsesPathTracerOrderOtherwise(t *testing.T) {
	p, _ := newTestPass(t, "PathTracer")
	if err := p.RegisterDefaultTasks("PathTracer", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	picking := p.GetTaskManager().GetTasks(contracts.TagPicking)
	if len(picking) != 1 || picking[0].Token() != "pickFromRenderBuffer" {
		t.Fatalf("expected pickFromRenderBuffer registered under the picking tag, got %v", picking)
	}
}

func TestGetRenderTasksDisablesColorCorrectionWhenColorspaceDisabled(t *testing.T) {
	p, _ := newTestPass(t, "Storm")
	if err := p.RegisterDefaultTasks("Storm", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	params := p.Params()
	params.VisualizeAOV = contracts.AovColor
	params.Colorspace = ColorspaceDisabled

	tasks, err := p.GetRenderTasks(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, task := range tasks {
		if task.Token() == "colorCorrection" {
			t.Fatalf("expected colorCorrection task disabled when colorspace is disabled")
		}
	}
}

func TestGetRenderTasksEnablesVisualizeAovWhenNotColor(t *testing.T) {
	p, _ := newTestPass(t, "Storm")
	if err := p.RegisterDefaultTasks("Storm", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	params := p.Params()
	params.VisualizeAOV = contracts.AovDepth

	tasks, err := p.GetRenderTasks(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, task := range tasks {
		if task.Token() == "visualizeAov" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected visualizeAov task enabled when viewport AOV is not color")
	}
}

func TestPickCommitsAndExecutesOnlyPickingTaggedTasks(t *testing.T) {
	p, delegate := newTestPass(t, "Storm")
	if err := p.RegisterDefaultTasks("Storm", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var hits []selection.Hit
	_, err := p.Pick(selection.PickParams{
		PickTarget: selection.PickPrimsAndInstances,
		Collection: "geometry",
		Hits:       &hits,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(delegate.executedTasks) != 1 {
		t.Fatalf("expected exactly one Execute call, got %d", len(delegate.executedTasks))
	}
	for _, task := range delegate.executedTasks[0] {
		if task.Token() != "pick" {
			t.Fatalf("expected only the pick task to execute, got %q", task.Token())
		}
	}
}

func TestFilterExcludedLightsDropsMatchingPath(t *testing.T) {
	delegate := &fakeDelegate{rendererName: "Storm"}
	index := &contracts.RenderIndex{Delegate: delegate, Scene: newFakeScene(), Sync: newFakeSync()}

	p := New().(*framePass)
	if err := p.Initialize(FramePassDescriptor{Index: index, PassPath: "/pass0", ExcludedLightPaths: []string{"/lights/key"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lights := []lighting.ActiveLight{
		{Kind: lighting.LightDistant, Params: map[string]any{"path": "/lights/key"}},
		{Kind: lighting.LightDistant, Params: map[string]any{"path": "/lights/fill"}},
	}

	filtered := p.filterExcludedLights(lights)
	if len(filtered) != 1 || filtered[0].Params["path"] != "/lights/fill" {
		t.Fatalf("expected only the fill light to survive filtering, got %+v", filtered)
	}
}

func TestUninitializeClearsSyncStateAndAllowsReinitialize(t *testing.T) {
	p, _ := newTestPass(t, "Storm")
	p.Uninitialize()

	if _, err := p.GetRenderTasks(nil); err == nil {
		t.Fatalf("expected error calling GetRenderTasks after Uninitialize")
	}

	index := &contracts.RenderIndex{Delegate: &fakeDelegate{}, Scene: newFakeScene(), Sync: newFakeSync()}
	if err := p.Initialize(FramePassDescriptor{Index: index, PassPath: "/pass0"}); err != nil {
		t.Fatalf("expected re-initialize to succeed after Uninitialize, got %v", err)
	}
}

func TestGetRenderBufferReflectsRegisteredOutputs(t *testing.T) {
	p, _ := newTestPass(t, "Storm")
	params := p.Params()
	params.VisualizeAOV = contracts.AovColor

	if _, err := p.GetRenderTasks(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := p.GetRenderBuffer(contracts.AovColor); !ok {
		t.Fatalf("expected a registered color AOV buffer")
	}
}
