// Package pageable implements PageableBufferManager: a three-tier (scene,
// renderer, disk) residency manager for large buffers whose combined
// footprint can exceed either GPU or CPU memory, with age-plus-pressure
// eviction and optional asynchronous tier transitions.
package pageable

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"golang.org/x/sync/errgroup"
)

// Tier is a bit in a buffer's residency bitset.
type Tier uint8

const (
	TierScene Tier = 1 << iota
	TierRenderer
	TierDisk
)

func (t Tier) has(bit Tier) bool { return t&bit == bit }

// BufferStore performs the actual tier I/O; the manager only tracks
// residency and schedules transitions against it.
type BufferStore interface {
	LoadFromDisk(id string) ([]byte, error)
	SaveToDisk(id string, data []byte) error
	UploadToRenderer(id string, data []byte) (handle any, err error)
	DownloadFromRenderer(id string, handle any) ([]byte, error)
	ReleaseRenderer(handle any) error
}

// MemoryMonitor reports current memory pressure in [0,1] for each tier the
// eviction trigger consults.
type MemoryMonitor interface {
	ScenePressure() float64
	RendererPressure() float64
}

// PagingAction is the decision a paging strategy returns for one candidate.
type PagingAction int

const (
	ActionNone PagingAction = iota
	ActionSwapSceneToDisk
	ActionSwapRendererToDisk
	ActionSwapToSceneMemory
	ActionReleaseRendererBuffer
)

// PagingDecision is the result of evaluating a paging strategy for a buffer.
type PagingDecision struct {
	ShouldPage     bool
	Action         PagingAction
	ForceOperation bool
}

// PagingContext carries the state a paging or selection strategy needs.
type PagingContext struct {
	ScenePressure    float64
	RendererPressure float64
	CurrentFrame     uint64
	AgeLimit         uint64
}

// PagingStrategy decides what to do with one aged candidate buffer.
type PagingStrategy func(b *Buffer, ctx PagingContext) PagingDecision

// SelectionStrategy orders candidate buffers for the eviction trigger to
// consider, most-evictable first.
type SelectionStrategy func(candidates []*Buffer, ctx PagingContext) []*Buffer

// Buffer is one managed, pageable allocation. Its residency transitions are
// guarded by its own lock so FreeCrawl can walk the buffer map concurrently
// with application code touching individual buffers.
type Buffer struct {
	mu sync.Mutex

	ID         string
	Size       int64
	residency  Tier
	frameStamp uint64

	sceneData      []byte
	rendererHandle any

	store BufferStore
}

func (b *Buffer) Residency() Tier {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.residency
}

func (b *Buffer) touch(frame uint64) {
	b.mu.Lock()
	b.frameStamp = frame
	b.mu.Unlock()
}

func (b *Buffer) age(currentFrame uint64) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if currentFrame < b.frameStamp {
		return 0
	}
	return currentFrame - b.frameStamp
}

func (b *Buffer) pageToScene(force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.residency.has(TierScene) && !force {
		return nil
	}

	switch {
	case b.residency.has(TierDisk):
		data, err := b.store.LoadFromDisk(b.ID)
		if err != nil {
			return fmt.Errorf("pageable: load %q from disk: %w", b.ID, err)
		}
		b.sceneData = data
	case b.residency.has(TierRenderer):
		data, err := b.store.DownloadFromRenderer(b.ID, b.rendererHandle)
		if err != nil {
			return fmt.Errorf("pageable: download %q from renderer: %w", b.ID, err)
		}
		b.sceneData = data
	}

	b.residency |= TierScene
	return nil
}

func (b *Buffer) pageToRenderer(force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.residency.has(TierRenderer) && !force {
		return nil
	}

	if b.sceneData == nil {
		if b.residency.has(TierDisk) {
			data, err := b.store.LoadFromDisk(b.ID)
			if err != nil {
				return fmt.Errorf("pageable: load %q from disk: %w", b.ID, err)
			}
			b.sceneData = data
		} else {
			return fmt.Errorf("pageable: %q has no scene data to upload to renderer", b.ID)
		}
	}

	handle, err := b.store.UploadToRenderer(b.ID, b.sceneData)
	if err != nil {
		return fmt.Errorf("pageable: upload %q to renderer: %w", b.ID, err)
	}
	b.rendererHandle = handle
	b.residency |= TierRenderer
	return nil
}

func (b *Buffer) pageToDisk(force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.residency.has(TierDisk) && !force {
		return nil
	}

	data := b.sceneData
	if data == nil && b.residency.has(TierRenderer) {
		d, err := b.store.DownloadFromRenderer(b.ID, b.rendererHandle)
		if err != nil {
			return fmt.Errorf("pageable: download %q from renderer: %w", b.ID, err)
		}
		data = d
	}
	if data == nil {
		return fmt.Errorf("pageable: %q has no data to page to disk", b.ID)
	}

	if err := b.store.SaveToDisk(b.ID, data); err != nil {
		return fmt.Errorf("pageable: save %q to disk: %w", b.ID, err)
	}
	b.residency |= TierDisk
	return nil
}

func (b *Buffer) releaseTier(t Tier) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.has(TierScene) {
		b.sceneData = nil
	}
	if t.has(TierRenderer) && b.rendererHandle != nil {
		_ = b.store.ReleaseRenderer(b.rendererHandle)
		b.rendererHandle = nil
	}
	b.residency &^= t
}

// Future is a handle to the result of an asynchronous operation submitted by
// one of the Async methods.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(v T, err error) {
	f.val = v
	f.err = err
	close(f.done)
}

// Wait blocks until the operation completes and returns its result.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.val, f.err
}

// invalidFuture returns a Future that is already resolved with an error,
// used when async operations are disabled (numThreads == 0).
func invalidFuture[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.resolve(zero, err)
	return f
}

// ErrAsyncDisabled is returned by Async futures when the manager was
// constructed with numThreads == 0.
var ErrAsyncDisabled = fmt.Errorf("pageable: async operations disabled (numThreads == 0)")

// PageableBufferManager manages a population of pageable buffers with
// bounded memory use via age-plus-pressure eviction.
type PageableBufferManager interface {
	AddBuffer(id string, size int64) *Buffer
	RemoveBuffer(id string)
	GetBuffer(id string) (*Buffer, bool)

	PageToSceneMemory(id string, force bool) error
	PageToRendererMemory(id string, force bool) error
	PageToDisk(id string, force bool) error
	SwapSceneToDisk(id string, force bool) error
	SwapRendererToDisk(id string, force bool) error
	SwapToSceneMemory(id string, force bool, releaseBits Tier) error
	SwapToRendererMemory(id string, force bool, releaseBits Tier) error

	PageToSceneMemoryAsync(id string, force bool) *Future[error]
	PageToRendererMemoryAsync(id string, force bool) *Future[error]
	PageToDiskAsync(id string, force bool) *Future[error]

	FreeCrawl(percent float64) error
	FreeCrawlAsync(percent float64) *Future[error]

	AdvanceFrame(n uint64)
	PendingOperations() int
	WaitForAllOperations()
}

type pageableBufferManager struct {
	mu      sync.RWMutex
	buffers sync.Map // string -> *Buffer
	count   int64    // approximate len(buffers), maintained alongside sync.Map

	store   BufferStore
	monitor MemoryMonitor

	currentFrame uint64 // accessed via atomic

	lowThreshold  float64
	minCheckCount int
	ageLimit      uint64

	paging    PagingStrategy
	selection SelectionStrategy

	pool    worker.DynamicWorkerPool
	pending int64    // accessed via atomic
	chains  sync.Map // string (buffer id) -> chan struct{}, tail of that buffer's async op chain
}

var _ PageableBufferManager = &pageableBufferManager{}

// Config configures a new PageableBufferManager.
type Config struct {
	Store         BufferStore
	Monitor       MemoryMonitor
	LowThreshold  float64
	MinCheckCount int
	AgeLimit      uint64
	Paging        PagingStrategy
	Selection     SelectionStrategy
	NumThreads    int
}

// NewPageableBufferManager creates a PageableBufferManager per cfg. When
// cfg.NumThreads == 0, all Async methods return already-resolved futures
// carrying ErrAsyncDisabled.
func NewPageableBufferManager(cfg Config) PageableBufferManager {
	m := &pageableBufferManager{
		store:         cfg.Store,
		monitor:       cfg.Monitor,
		lowThreshold:  cfg.LowThreshold,
		minCheckCount: cfg.MinCheckCount,
		ageLimit:      cfg.AgeLimit,
		paging:        cfg.Paging,
		selection:     cfg.Selection,
	}
	if cfg.NumThreads > 0 {
		m.pool = worker.NewDynamicWorkerPool(cfg.NumThreads, 256, 5*time.Second)
	}
	return m
}

func (m *pageableBufferManager) AddBuffer(id string, size int64) *Buffer {
	b := &Buffer{ID: id, Size: size, store: m.store}
	if _, loaded := m.buffers.LoadOrStore(id, b); !loaded {
		atomic.AddInt64(&m.count, 1)
	}
	existing, _ := m.buffers.Load(id)
	return existing.(*Buffer)
}

func (m *pageableBufferManager) RemoveBuffer(id string) {
	if _, ok := m.buffers.LoadAndDelete(id); ok {
		atomic.AddInt64(&m.count, -1)
	}
	m.chains.Delete(id)
}

func (m *pageableBufferManager) GetBuffer(id string) (*Buffer, bool) {
	v, ok := m.buffers.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Buffer), true
}

func (m *pageableBufferManager) touchBuffer(b *Buffer) {
	b.touch(atomic.LoadUint64(&m.currentFrame))
}

func (m *pageableBufferManager) PageToSceneMemory(id string, force bool) error {
	b, ok := m.GetBuffer(id)
	if !ok {
		return fmt.Errorf("pageable: unknown buffer %q", id)
	}
	m.touchBuffer(b)
	return b.pageToScene(force)
}

func (m *pageableBufferManager) PageToRendererMemory(id string, force bool) error {
	b, ok := m.GetBuffer(id)
	if !ok {
		return fmt.Errorf("pageable: unknown buffer %q", id)
	}
	m.touchBuffer(b)
	return b.pageToRenderer(force)
}

func (m *pageableBufferManager) PageToDisk(id string, force bool) error {
	b, ok := m.GetBuffer(id)
	if !ok {
		return fmt.Errorf("pageable: unknown buffer %q", id)
	}
	m.touchBuffer(b)
	return b.pageToDisk(force)
}

func (m *pageableBufferManager) SwapSceneToDisk(id string, force bool) error {
	b, ok := m.GetBuffer(id)
	if !ok {
		return fmt.Errorf("pageable: unknown buffer %q", id)
	}
	if !force && !b.Residency().has(TierScene) {
		return fmt.Errorf("pageable: %q has no scene-tier data to swap to disk", id)
	}
	if err := b.pageToDisk(force); err != nil {
		return err
	}
	b.releaseTier(TierScene)
	return nil
}

func (m *pageableBufferManager) SwapRendererToDisk(id string, force bool) error {
	b, ok := m.GetBuffer(id)
	if !ok {
		return fmt.Errorf("pageable: unknown buffer %q", id)
	}
	if !force && !b.Residency().has(TierRenderer) {
		return fmt.Errorf("pageable: %q has no renderer-tier data to swap to disk", id)
	}
	if err := b.pageToDisk(force); err != nil {
		return err
	}
	b.releaseTier(TierRenderer)
	return nil
}

func (m *pageableBufferManager) SwapToSceneMemory(id string, force bool, releaseBits Tier) error {
	b, ok := m.GetBuffer(id)
	if !ok {
		return fmt.Errorf("pageable: unknown buffer %q", id)
	}
	if err := b.pageToScene(force); err != nil {
		return err
	}
	b.releaseTier(releaseBits &^ TierScene)
	return nil
}

func (m *pageableBufferManager) SwapToRendererMemory(id string, force bool, releaseBits Tier) error {
	b, ok := m.GetBuffer(id)
	if !ok {
		return fmt.Errorf("pageable: unknown buffer %q", id)
	}
	if err := b.pageToRenderer(force); err != nil {
		return err
	}
	b.releaseTier(releaseBits &^ TierRenderer)
	return nil
}

// asyncOp submits op to the worker pool and returns a future for its error.
// When chainID is non-empty, op is chained behind whatever asyncOp call was
// previously submitted for the same chainID: the submitted task first waits
// on the predecessor's completion signal before running, so two futures
// returned for the same buffer always resolve in submission order even
// though the pool may hand them to different workers. chainID is empty for
// operations (like FreeCrawlAsync) that aren't scoped to one buffer.
func (m *pageableBufferManager) asyncOp(chainID string, op func() error) *Future[error] {
	f := newFuture[error]()
	if m.pool == nil {
		return invalidFuture[error](ErrAsyncDisabled)
	}

	var prev chan struct{}
	var next chan struct{}
	if chainID != "" {
		next = make(chan struct{})
		if prevAny, loaded := m.chains.Swap(chainID, next); loaded {
			prev = prevAny.(chan struct{})
		}
	}

	atomic.AddInt64(&m.pending, 1)
	m.pool.SubmitTask(worker.Task{
		ID: int(atomic.LoadInt64(&m.pending)),
		Do: func() (any, error) {
			defer atomic.AddInt64(&m.pending, -1)
			if prev != nil {
				<-prev
			}
			err := op()
			f.resolve(err, nil)
			if next != nil {
				close(next)
			}
			return nil, nil
		},
	})
	return f
}

func (m *pageableBufferManager) PageToSceneMemoryAsync(id string, force bool) *Future[error] {
	return m.asyncOp(id, func() error { return m.PageToSceneMemory(id, force) })
}

func (m *pageableBufferManager) PageToRendererMemoryAsync(id string, force bool) *Future[error] {
	return m.asyncOp(id, func() error { return m.PageToRendererMemory(id, force) })
}

func (m *pageableBufferManager) PageToDiskAsync(id string, force bool) *Future[error] {
	return m.asyncOp(id, func() error { return m.PageToDisk(id, force) })
}

func (m *pageableBufferManager) AdvanceFrame(n uint64) {
	for {
		old := atomic.LoadUint64(&m.currentFrame)
		next := old + n
		if next < old {
			next = old // saturate rather than wrap
		}
		if atomic.CompareAndSwapUint64(&m.currentFrame, old, next) {
			return
		}
	}
}

func (m *pageableBufferManager) PendingOperations() int {
	return int(atomic.LoadInt64(&m.pending))
}

func (m *pageableBufferManager) WaitForAllOperations() {
	for atomic.LoadInt64(&m.pending) > 0 {
		time.Sleep(time.Millisecond)
	}
}

// collectCandidates prunes nil entries and snapshots the remaining buffers.
func (m *pageableBufferManager) collectCandidates() []*Buffer {
	var out []*Buffer
	m.buffers.Range(func(key, value any) bool {
		b, _ := value.(*Buffer)
		if b == nil {
			m.buffers.Delete(key)
			atomic.AddInt64(&m.count, -1)
			return true
		}
		out = append(out, b)
		return true
	})
	return out
}

func (m *pageableBufferManager) FreeCrawl(percent float64) error {
	if m.monitor == nil {
		return nil
	}

	scenePressure := m.monitor.ScenePressure()
	rendererPressure := m.monitor.RendererPressure()
	if scenePressure < m.lowThreshold && rendererPressure < m.lowThreshold {
		return nil
	}

	candidates := m.collectCandidates()
	size := len(candidates)
	n := int(float64(size) * percent / 100)
	if n < m.minCheckCount {
		n = m.minCheckCount
	}
	if n > size {
		n = size
	}

	ctx := PagingContext{
		ScenePressure:    scenePressure,
		RendererPressure: rendererPressure,
		CurrentFrame:     atomic.LoadUint64(&m.currentFrame),
		AgeLimit:         m.ageLimit,
	}

	ordered := candidates
	if m.selection != nil {
		ordered = m.selection(candidates, ctx)
	}
	if n < len(ordered) {
		ordered = ordered[:n]
	}

	for _, b := range ordered {
		b.touch(ctx.CurrentFrame)

		if b.age(ctx.CurrentFrame) < m.ageLimit {
			continue
		}
		if m.paging == nil {
			continue
		}

		decision := m.paging(b, ctx)
		if !decision.ShouldPage {
			continue
		}

		switch decision.Action {
		case ActionSwapSceneToDisk:
			if err := b.pageToDisk(decision.ForceOperation); err != nil {
				return err
			}
			b.releaseTier(TierScene)
		case ActionSwapRendererToDisk:
			if err := b.pageToDisk(decision.ForceOperation); err != nil {
				return err
			}
			b.releaseTier(TierRenderer)
		case ActionSwapToSceneMemory:
			if err := b.pageToScene(decision.ForceOperation); err != nil {
				return err
			}
		case ActionReleaseRendererBuffer:
			b.releaseTier(TierRenderer)
		case ActionNone:
		}
	}

	return nil
}

func (m *pageableBufferManager) FreeCrawlAsync(percent float64) *Future[error] {
	return m.asyncOp("", func() error { return m.FreeCrawl(percent) })
}

// freeCrawlParallel is an alternate entry point that fans candidate
// evaluation out across at most concurrency goroutines via errgroup instead
// of the worker pool. Not part of the public interface, and nothing in the
// package calls it.
func (m *pageableBufferManager) freeCrawlParallel(percent float64, concurrency int) error {
	if m.monitor == nil {
		return nil
	}

	scenePressure := m.monitor.ScenePressure()
	rendererPressure := m.monitor.RendererPressure()
	if scenePressure < m.lowThreshold && rendererPressure < m.lowThreshold {
		return nil
	}

	candidates := m.collectCandidates()
	n := int(float64(len(candidates)) * percent / 100)
	if n < m.minCheckCount {
		n = m.minCheckCount
	}
	if n > len(candidates) {
		n = len(candidates)
	}

	ctx := PagingContext{
		ScenePressure:    scenePressure,
		RendererPressure: rendererPressure,
		CurrentFrame:     atomic.LoadUint64(&m.currentFrame),
		AgeLimit:         m.ageLimit,
	}

	ordered := candidates
	if m.selection != nil {
		ordered = m.selection(candidates, ctx)
	}
	if n < len(ordered) {
		ordered = ordered[:n]
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, b := range ordered {
		b := b
		g.Go(func() error {
			b.touch(ctx.CurrentFrame)
			if b.age(ctx.CurrentFrame) < m.ageLimit || m.paging == nil {
				return nil
			}
			decision := m.paging(b, ctx)
			if !decision.ShouldPage {
				return nil
			}
			switch decision.Action {
			case ActionSwapSceneToDisk:
				if err := b.pageToDisk(decision.ForceOperation); err != nil {
					return err
				}
				b.releaseTier(TierScene)
			case ActionSwapRendererToDisk:
				if err := b.pageToDisk(decision.ForceOperation); err != nil {
					return err
				}
				b.releaseTier(TierRenderer)
			case ActionSwapToSceneMemory:
				return b.pageToScene(decision.ForceOperation)
			case ActionReleaseRendererBuffer:
				b.releaseTier(TierRenderer)
			}
			return nil
		})
	}
	return g.Wait()
}

// Built-in selection strategies.

// SelectLRU orders candidates oldest-frame-stamp-first.
func SelectLRU(candidates []*Buffer, ctx PagingContext) []*Buffer {
	out := append([]*Buffer(nil), candidates...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].age(ctx.CurrentFrame) > out[j].age(ctx.CurrentFrame)
	})
	return out
}

// SelectFIFO orders candidates by ascending ID, matching a
// first-allocated-first-evicted policy under the assumption that a buffer's
// ID encodes allocation order.
func SelectFIFO(candidates []*Buffer, ctx PagingContext) []*Buffer {
	out := append([]*Buffer(nil), candidates...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SelectOldestFirst is an alias of SelectLRU kept distinct so callers can
// name the policy they intend even though both order by age.
func SelectOldestFirst(candidates []*Buffer, ctx PagingContext) []*Buffer {
	return SelectLRU(candidates, ctx)
}

// SelectLargestFirst orders candidates largest-size-first, maximizing memory
// reclaimed per eviction pass.
func SelectLargestFirst(candidates []*Buffer, ctx PagingContext) []*Buffer {
	out := append([]*Buffer(nil), candidates...)
	sort.Slice(out, func(i, j int) bool { return out[i].Size > out[j].Size })
	return out
}

// Built-in paging strategies.

// PagingHybrid balances scene and renderer pressure: under high renderer
// pressure it evicts GPU residency first; under high scene pressure it
// writes through to disk.
func PagingHybrid(b *Buffer, ctx PagingContext) PagingDecision {
	res := b.Residency()
	switch {
	case ctx.RendererPressure > 0.8 && res.has(TierRenderer):
		return PagingDecision{ShouldPage: true, Action: ActionReleaseRendererBuffer}
	case ctx.ScenePressure > 0.8 && res.has(TierScene):
		return PagingDecision{ShouldPage: true, Action: ActionSwapSceneToDisk}
	default:
		return PagingDecision{}
	}
}

// PagingPressureBased pages the most memory-constrained tier to disk
// whenever its pressure exceeds the low threshold, regardless of age.
func PagingPressureBased(b *Buffer, ctx PagingContext) PagingDecision {
	res := b.Residency()
	if ctx.RendererPressure >= ctx.ScenePressure && res.has(TierRenderer) {
		return PagingDecision{ShouldPage: true, Action: ActionSwapRendererToDisk}
	}
	if res.has(TierScene) {
		return PagingDecision{ShouldPage: true, Action: ActionSwapSceneToDisk}
	}
	return PagingDecision{}
}

// PagingConservative only pages once both pressures exceed 0.9, and always
// prefers releasing the renderer tier (GPU memory is scarcer).
func PagingConservative(b *Buffer, ctx PagingContext) PagingDecision {
	if ctx.ScenePressure < 0.9 || ctx.RendererPressure < 0.9 {
		return PagingDecision{}
	}
	if b.Residency().has(TierRenderer) {
		return PagingDecision{ShouldPage: true, Action: ActionReleaseRendererBuffer}
	}
	return PagingDecision{}
}

// PagingAgeBased ignores pressure entirely and pages any candidate that has
// already cleared the manager's age limit (the caller only invokes paging
// strategies on aged candidates, so this always fires).
func PagingAgeBased(b *Buffer, ctx PagingContext) PagingDecision {
	if b.Residency().has(TierRenderer) {
		return PagingDecision{ShouldPage: true, Action: ActionSwapRendererToDisk}
	}
	if b.Residency().has(TierScene) {
		return PagingDecision{ShouldPage: true, Action: ActionSwapSceneToDisk}
	}
	return PagingDecision{}
}
