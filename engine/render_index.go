package engine

import "sync"

// prim is one entry of the scene index: a kind token and its data source
// container, mirroring how LightingManager/RenderBufferManager describe
// SPrims/BPrims before handing them to the render delegate.
type prim struct {
	kind       string
	dataSource map[string]any
	dirtyBits  uint32
}

// sceneIndex is the engine's in-memory implementation of
// contracts.SceneIndex. Mutations only ever originate from the
// single-threaded-cooperative FramePass/manager call chain (§5), so a plain
// mutex-guarded map is sufficient — no concurrent-map is required here, in
// contrast to PageableBufferManager's genuinely parallel buffer population.
type sceneIndex struct {
	mu    sync.Mutex
	prims map[string]*prim
}

func newSceneIndex() *sceneIndex {
	return &sceneIndex{prims: make(map[string]*prim)}
}

func (s *sceneIndex) InsertPrim(path string, kind string, dataSource map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prims[path] = &prim{kind: kind, dataSource: dataSource}
}

func (s *sceneIndex) RemovePrim(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prims, path)
}

func (s *sceneIndex) MarkDirty(path string, dirtyBits uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.prims[path]; ok {
		p.dirtyBits |= dirtyBits
	}
}

func (s *sceneIndex) Prim(path string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.prims[path]; ok {
		return p.dataSource
	}
	return nil
}

// syncDelegate is the engine's in-memory implementation of
// contracts.SyncDelegate: a per-path key/value store backing task parameter
// blocks and BPrim/SPrim descriptors.
type syncDelegate struct {
	mu     sync.Mutex
	values map[string]map[string]any
}

func newSyncDelegate() *syncDelegate {
	return &syncDelegate{values: make(map[string]map[string]any)}
}

func (d *syncDelegate) SetValue(path, key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bucket, ok := d.values[path]
	if !ok {
		bucket = make(map[string]any)
		d.values[path] = bucket
	}
	bucket[key] = value
}

func (d *syncDelegate) GetValue(path, key string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bucket, ok := d.values[path]
	if !ok {
		return nil, false
	}
	v, ok := bucket[key]
	return v, ok
}

func (d *syncDelegate) Clear(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.values, path)
}
