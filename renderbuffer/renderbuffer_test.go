package renderbuffer

import (
	"testing"

	"github.com/meridian-gfx/viewport/contracts"
)

type fakeDelegate struct {
	rendererName string
	aovs         map[contracts.AovName]contracts.AovDescriptor
}

func (d *fakeDelegate) Execute(index *contracts.RenderIndex, tasks []contracts.Task) error { return nil }
func (d *fakeDelegate) GetDefaultAovDescriptor(name contracts.AovName) contracts.AovDescriptor {
	if desc, ok := d.aovs[name]; ok {
		return desc
	}
	return contracts.AovDescriptor{Format: contracts.FormatInvalid}
}
func (d *fakeDelegate) IsSprimTypeSupported(kind contracts.SprimKind) bool { return true }
func (d *fakeDelegate) IsBprimTypeSupported(kind contracts.BprimKind) bool { return true }
func (d *fakeDelegate) GetRendererDisplayName() string                    { return d.rendererName }
func (d *fakeDelegate) GetRenderSetting(key string) (any, bool)           { return nil, false }
func (d *fakeDelegate) SetRenderSetting(key string, value any)            {}

type fakeScene struct {
	prims map[string]map[string]any
}

func newFakeScene() *fakeScene { return &fakeScene{prims: make(map[string]map[string]any)} }

func (s *fakeScene) InsertPrim(path, kind string, ds map[string]any) { s.prims[path] = ds }
func (s *fakeScene) RemovePrim(path string)                          { delete(s.prims, path) }
func (s *fakeScene) MarkDirty(path string, bits uint32)              {}
func (s *fakeScene) Prim(path string) map[string]any                 { return s.prims[path] }

type fakeSync struct{ values map[string]map[string]any }

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

func newTestIndex() *contracts.RenderIndex {
	return &contracts.RenderIndex{
		Delegate: &fakeDelegate{
			rendererName: "Storm",
			aovs: map[contracts.AovName]contracts.AovDescriptor{
				contracts.AovColor: {Format: contracts.FormatRGBA16Float},
				contracts.AovDepth: {Format: contracts.FormatDepth32Float},
			},
		},
		Scene: newFakeScene(),
		Sync:  newFakeSync(),
	}
}

func TestSetRenderOutputsAcceptsKnownNamesOnly(t *testing.T) {
	idx := newTestIndex()
	m := NewRenderBufferManager("/pass0", idx)

	m.SetRenderOutputs([]contracts.AovName{contracts.AovColor, contracts.AovName("bogus")}, nil, [4]int{0, 0, 1024, 768})

	if _, ok := m.GetRenderOutput(contracts.AovColor); !ok {
		t.Fatalf("expected color AOV to be accepted")
	}
	if _, ok := m.GetRenderOutput(contracts.AovName("bogus")); ok {
		t.Fatalf("expected unknown AOV to be dropped")
	}
}

func TestSetRenderOutputsEmptyReleasesAll(t *testing.T) {
	idx := newTestIndex()
	m := NewRenderBufferManager("/pass0", idx)
	m.SetRenderOutputs([]contracts.AovName{contracts.AovColor}, nil, [4]int{})
	m.SetRenderOutputs(nil, nil, [4]int{})

	if _, ok := m.GetRenderOutput(contracts.AovColor); ok {
		t.Fatalf("expected color AOV to be released after empty SetRenderOutputs")
	}
}

func TestSetBufferSizeAndMsaaIdempotent(t *testing.T) {
	idx := newTestIndex()
	m := NewRenderBufferManager("/pass0", idx)
	m.SetRenderOutputs([]contracts.AovName{contracts.AovColor}, nil, [4]int{})

	m.SetBufferSizeAndMsaa([2]int{1024, 768}, 4, true)
	b1, _ := m.GetRenderOutput(contracts.AovColor)
	size1 := b1.Dimensions

	m.SetBufferSizeAndMsaa([2]int{1024, 768}, 4, true)
	b2, _ := m.GetRenderOutput(contracts.AovColor)

	if size1 != b2.Dimensions {
		t.Fatalf("expected idempotent resize to leave dimensions unchanged")
	}
}

func TestDepthInputRebindWhenRendererMatches(t *testing.T) {
	idx := newTestIndex()
	m := NewRenderBufferManager("/pass0", idx)

	m.SetRenderOutputs([]contracts.AovName{contracts.AovDepth}, []InputAov{
		{Name: contracts.AovDepth, RendererName: "Storm", Buffer: "prev-depth-handle"},
	}, [4]int{})

	b, ok := m.GetRenderOutput(contracts.AovDepth)
	if !ok {
		t.Fatalf("expected depth AOV present")
	}
	if !b.ExternalBuffer {
		t.Fatalf("expected depth to be rebound (ExternalBuffer=true) when renderer names match")
	}
}

func TestReduceMinMaxDepthDrainsToSinglePair(t *testing.T) {
	calls := 0
	d := &fakeDispatcher{
		tileLength: 4,
		bufferSteps: []int{1},
		finalPairs:  []float32{0.1, 0.9},
		onDispatch:  func() { calls++ },
	}

	min, max, err := ReduceMinMaxDepth(d, "depth-tex", 64, 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if min != 0.1 || max != 0.9 {
		t.Fatalf("expected (0.1, 0.9), got (%v, %v)", min, max)
	}
	if calls == 0 {
		t.Fatalf("expected dispatcher to be invoked")
	}
}

type fakeDispatcher struct {
	tileLength  int
	bufferSteps []int
	finalPairs  []float32
	onDispatch  func()
	step        int
}

func (f *fakeDispatcher) DispatchTile(tex any, w, h int) (any, int, error) {
	f.onDispatch()
	return "buf0", f.tileLength, nil
}

func (f *fakeDispatcher) DispatchBuffer(src any, length int) (any, int, error) {
	f.onDispatch()
	next := f.bufferSteps[f.step]
	f.step++
	return "buf-next", next, nil
}

func (f *fakeDispatcher) ReadBack(buf any, length int) ([]float32, error) {
	return f.finalPairs, nil
}
