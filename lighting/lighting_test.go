package lighting

import (
	"testing"

	"github.com/meridian-gfx/viewport/common"
	"github.com/meridian-gfx/viewport/contracts"
)

type fakeDelegate struct {
	rendererName     string
	simpleLightOK    bool
	renderSettings   map[string]any
}

func (d *fakeDelegate) Execute(index *contracts.RenderIndex, tasks []contracts.Task) error {
	return nil
}
func (d *fakeDelegate) GetDefaultAovDescriptor(name contracts.AovName) contracts.AovDescriptor {
	return contracts.AovDescriptor{}
}
func (d *fakeDelegate) IsSprimTypeSupported(kind contracts.SprimKind) bool {
	if kind == contracts.SprimCameraLight {
		return d.simpleLightOK
	}
	return true
}
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
func (s *fakeScene) InsertPrim(path, kind string, ds map[string]any) { s.prims[path] = ds }
func (s *fakeScene) RemovePrim(path string)                          { delete(s.prims, path); delete(s.dirty, path) }
func (s *fakeScene) MarkDirty(path string, bits uint32)              { s.dirty[path] |= bits }
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

func newTestIndex(rendererName string, simpleLightOK bool) (*contracts.RenderIndex, *fakeScene) {
	scene := newFakeScene()
	return &contracts.RenderIndex{
		Delegate: &fakeDelegate{rendererName: rendererName, simpleLightOK: simpleLightOK},
		Scene:    scene,
		Sync:     newFakeSync(),
	}, scene
}

func identity() [16]float32 {
	var m [16]float32
	out := m[:]
	common.Identity(out)
	return m
}

func TestSetLightingGrowsOwnedPathList(t *testing.T) {
	idx, _ := newTestIndex("Storm", true)
	m := NewLightingManager("/pass0", idx)

	lights := []ActiveLight{
		{Kind: LightDistant, Intensity: 1, Transform: identity()},
		{Kind: LightDome, Intensity: 1, Transform: identity()},
	}

	if err := m.SetLighting(lights, common.AABB{Max: [3]float32{1, 1, 1}}, CameraState{ViewInverse: identity()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	paths := m.LightPaths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 owned light paths, got %d", len(paths))
	}
	if paths[0] != "/pass0/light0" || paths[1] != "/pass0/light1" {
		t.Fatalf("unexpected paths: %v", paths)
	}
	if !m.UseLighting() {
		t.Fatalf("expected UseLighting true with non-empty active lights")
	}
}

func TestSetLightingShrinksOwnedPathList(t *testing.T) {
	idx, scene := newTestIndex("Storm", true)
	m := NewLightingManager("/pass0", idx)

	two := []ActiveLight{
		{Kind: LightDistant, Transform: identity()},
		{Kind: LightDistant, Transform: identity()},
	}
	if err := m.SetLighting(two, common.AABB{}, CameraState{ViewInverse: identity()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.SetLighting(two[:1], common.AABB{}, CameraState{ViewInverse: identity()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(m.LightPaths()) != 1 {
		t.Fatalf("expected 1 owned light path after shrink, got %d", len(m.LightPaths()))
	}
	if _, ok := scene.prims["/pass0/light1"]; ok {
		t.Fatalf("expected /pass0/light1 to be removed from the scene")
	}
}

func TestSetLightingEmptyDisablesUseLighting(t *testing.T) {
	idx, _ := newTestIndex("Storm", true)
	m := NewLightingManager("/pass0", idx)

	if err := m.SetLighting(nil, common.AABB{}, CameraState{ViewInverse: identity()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.UseLighting() {
		t.Fatalf("expected UseLighting false for empty active lights")
	}
	if len(m.LightPaths()) != 0 {
		t.Fatalf("expected no owned light paths")
	}
}

func TestCameraLightFallsBackToDistantWhenSimpleLightUnsupported(t *testing.T) {
	idx, scene := newTestIndex("Storm", false)
	m := NewLightingManager("/pass0", idx)

	lights := []ActiveLight{{Kind: LightCamera, Intensity: 5, Transform: identity()}}
	if err := m.SetLighting(lights, common.AABB{}, CameraState{ViewInverse: identity()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ds := scene.prims["/pass0/light0"]
	if ds == nil {
		t.Fatalf("expected light0 data source to be populated")
	}
}

func TestShadowParamsRecomputedOnlyBeyondEpsilon(t *testing.T) {
	idx, sync := newTestIndex("Storm", true)
	_ = sync
	m := NewLightingManager("/pass0", idx).(*lightingManager)

	light := ActiveLight{Kind: LightDistant, Transform: identity(), CastsShadows: true}
	box := common.AABB{Min: [3]float32{-1, -1, -1}, Max: [3]float32{1, 1, 1}}

	if err := m.SetLighting([]ActiveLight{light}, box, CameraState{ViewInverse: identity()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstMatrix := m.lights[0].shadow.matrix

	// Recompute with an imperceptible box change: memoized result reused.
	tinyBox := box
	tinyBox.Max[0] += 1e-6
	if err := m.SetLighting([]ActiveLight{light}, tinyBox, CameraState{ViewInverse: identity()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.lights[0].shadow.matrix != firstMatrix {
		t.Fatalf("expected shadow matrix to be memoized for sub-epsilon box change")
	}

	// A real box change forces recomputation.
	biggerBox := common.AABB{Min: [3]float32{-5, -5, -5}, Max: [3]float32{5, 5, 5}}
	if err := m.SetLighting([]ActiveLight{light}, biggerBox, CameraState{ViewInverse: identity()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.lights[0].shadow.matrix == firstMatrix {
		t.Fatalf("expected shadow matrix to be recomputed for box change beyond epsilon")
	}
}

func TestDomeLightGetsMaterialNetworkUnderHighQualityRenderer(t *testing.T) {
	idx, scene := newTestIndex("PathTracer", false)
	m := NewLightingManager("/pass0", idx)

	lights := []ActiveLight{{Kind: LightDome, TextureFile: "env.hdr", Transform: identity()}}
	if err := m.SetLighting(lights, common.AABB{}, CameraState{ViewInverse: identity()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ds := scene.prims["/pass0/light0"]
	if ds == nil {
		t.Fatalf("expected light0 data source to be populated")
	}
	if ds["textureFile"] != "env.hdr" {
		t.Fatalf("expected dome texture file to be carried, got %v", ds["textureFile"])
	}
	if got := ds["materialNetworkMap"]; got != "PxrDomeLight" {
		t.Fatalf("expected dome light material network terminal PxrDomeLight, got %v", got)
	}
}

func TestDistantLightMaterialNetworkTerminalUnderHighQualityRenderer(t *testing.T) {
	idx, scene := newTestIndex("PathTracer", false)
	m := NewLightingManager("/pass0", idx)

	lights := []ActiveLight{{Kind: LightDistant, Transform: identity()}}
	if err := m.SetLighting(lights, common.AABB{}, CameraState{ViewInverse: identity()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ds := scene.prims["/pass0/light0"]
	if got := ds["materialNetworkMap"]; got != "PxrDistantLight" {
		t.Fatalf("expected distant light material network terminal PxrDistantLight, got %v", got)
	}
}
