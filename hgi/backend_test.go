package hgi

import (
	"errors"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/meridian-gfx/viewport/contracts"
	"github.com/meridian-gfx/viewport/engine/renderer"
	"github.com/meridian-gfx/viewport/engine/renderer/bind_group_provider"
)

// fakeRenderer embeds the renderer.Renderer interface (left nil) so the test
// only needs to override the handful of methods the reduction dispatch path
// actually calls; any unimplemented call panics via the nil embedded value,
// which is acceptable since those paths are never exercised here.
type fakeRenderer struct {
	renderer.Renderer

	beginComputeCalls int
	dispatchCalls     []string
	endComputeCalls   int
	beginErr          error
}

func (f *fakeRenderer) BeginComputeFrame() error {
	f.beginComputeCalls++
	return f.beginErr
}

func (f *fakeRenderer) EndComputeFrame() {
	f.endComputeCalls++
}

func (f *fakeRenderer) DispatchCompute(pipelineKey string, provider bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) {
	f.dispatchCalls = append(f.dispatchCalls, pipelineKey)
}

type fakeTask struct {
	token             string
	syncErr, execErr  error
	syncRan, execRan  bool
}

func (t *fakeTask) Token() string { return t.token }
func (t *fakeTask) Sync(ctx *contracts.TaskContext) error {
	t.syncRan = true
	return t.syncErr
}
func (t *fakeTask) Prepare(ctx *contracts.TaskContext) error { return nil }
func (t *fakeTask) Execute(ctx *contracts.TaskContext) error {
	t.execRan = true
	return t.execErr
}

func TestExecuteRunsTasksInOrderAndStopsOnError(t *testing.T) {
	b := NewBackend(&fakeRenderer{}, "Storm", nil)

	ok := &fakeTask{token: "present"}
	failing := &fakeTask{token: "pick", execErr: errors.New("boom")}
	never := &fakeTask{token: "after"}

	err := b.Execute(&contracts.RenderIndex{}, []contracts.Task{ok, failing, never})
	if err == nil {
		t.Fatalf("expected error from failing task")
	}
	if !ok.execRan || !failing.execRan {
		t.Fatalf("expected ok and failing tasks to run")
	}
	if never.syncRan || never.execRan {
		t.Fatalf("expected task after the failure to be skipped")
	}
}

func TestGetDefaultAovDescriptorKnownAndUnknown(t *testing.T) {
	b := NewBackend(&fakeRenderer{}, "Storm", nil)

	desc := b.GetDefaultAovDescriptor(contracts.AovColor)
	if desc.Format != contracts.FormatRGBA16Float {
		t.Fatalf("expected color AOV format RGBA16Float, got %v", desc.Format)
	}

	unknown := b.GetDefaultAovDescriptor(contracts.AovName("bogus"))
	if unknown.Format != contracts.FormatInvalid {
		t.Fatalf("expected FormatInvalid for unknown AOV name")
	}
}

func TestIsSprimAndBprimTypeSupported(t *testing.T) {
	b := NewBackend(&fakeRenderer{}, "Storm", nil)

	if !b.IsSprimTypeSupported(contracts.SprimDistantLight) {
		t.Fatalf("expected distant light support")
	}
	if b.IsSprimTypeSupported(contracts.SprimKind("madeUp")) {
		t.Fatalf("expected unknown sprim kind unsupported")
	}
	if !b.IsBprimTypeSupported(contracts.BprimRenderBuffer) {
		t.Fatalf("expected render buffer bprim support")
	}
}

func TestRenderSettingRoundTrip(t *testing.T) {
	b := NewBackend(&fakeRenderer{}, "Storm", nil)

	if _, ok := b.GetRenderSetting("aovBindings"); ok {
		t.Fatalf("expected no setting before SetRenderSetting")
	}
	b.SetRenderSetting("aovBindings", 4)
	v, ok := b.GetRenderSetting("aovBindings")
	if !ok || v != 4 {
		t.Fatalf("expected round-tripped setting, got %v ok=%v", v, ok)
	}
}

type countingProvider struct {
	bind_group_provider.BindGroupProvider
	buf *wgpu.Buffer
}

func (p *countingProvider) Buffer(binding int) *wgpu.Buffer { return p.buf }

func TestDispatchTileAndBufferDriveComputeFrame(t *testing.T) {
	r := &fakeRenderer{}
	b := NewBackend(r, "Storm", nil)
	provider := &countingProvider{}

	buf, length, err := b.DispatchTile(provider, 1920, 1080)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantGroups := ((1920 + 15) / 16) * ((1080 + 15) / 16)
	if length != wantGroups {
		t.Fatalf("expected %d tile groups, got %d", wantGroups, length)
	}
	if r.beginComputeCalls != 1 || r.endComputeCalls != 1 {
		t.Fatalf("expected one begin/end compute frame pair, got begin=%d end=%d", r.beginComputeCalls, r.endComputeCalls)
	}

	_, reduced, err := b.DispatchBuffer(buf, length)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reduced >= length {
		t.Fatalf("expected buffer pass to reduce length, got %d from %d", reduced, length)
	}
}

func TestDispatchTileRejectsWrongType(t *testing.T) {
	b := NewBackend(&fakeRenderer{}, "Storm", nil)
	if _, _, err := b.DispatchTile("not a provider", 64, 64); err == nil {
		t.Fatalf("expected type error")
	}
}

type fakeReader struct {
	gotBuf   *wgpu.Buffer
	gotCount int
}

func (r *fakeReader) ReadFloats(buf *wgpu.Buffer, count int) ([]float32, error) {
	r.gotBuf = buf
	r.gotCount = count
	return []float32{0.1, 0.9}, nil
}

func TestReadBackDelegatesToConfiguredReader(t *testing.T) {
	reader := &fakeReader{}
	b := NewBackend(&fakeRenderer{}, "Storm", reader)

	var sentinel wgpu.Buffer
	provider := &countingProvider{buf: &sentinel}

	pairs, readErr := b.ReadBack(provider, 1)
	if readErr != nil {
		t.Fatalf("unexpected error: %v", readErr)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected 2 values, got %d", len(pairs))
	}
	if reader.gotBuf != &sentinel {
		t.Fatalf("expected reader to receive the provider's underlying buffer")
	}
	if reader.gotCount != 2 {
		t.Fatalf("expected readback count 2 for a single min/max pair, got %d", reader.gotCount)
	}
}

func TestReadBackWithoutReaderErrors(t *testing.T) {
	b := NewBackend(&fakeRenderer{}, "Storm", nil)
	provider := &countingProvider{buf: &wgpu.Buffer{}}
	if _, err := b.ReadBack(provider, 1); err == nil {
		t.Fatalf("expected error when no BufferReader is configured")
	}
}
