// Package hgi adapts the engine's renderer.Renderer into the abstract GPU
// backend the orchestration core consumes: contracts.RenderDelegate for
// task execution and renderbuffer.ReductionDispatcher for the depth min/max
// reduction.
package hgi

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/meridian-gfx/viewport/contracts"
	"github.com/meridian-gfx/viewport/engine/renderer"
	"github.com/meridian-gfx/viewport/engine/renderer/bind_group_provider"
)

// reductionBufferBinding is the binding index at which the reduction
// compute shaders expose their output buffer on the provider passed to
// DispatchTile/DispatchBuffer.
const reductionBufferBinding = 0

// aovFormats maps a well-known AOV name to the format/clear-value/MSAA
// capability the backend reports to RenderBufferManager. Unlisted names are
// rejected (FormatInvalid).
var aovFormats = map[contracts.AovName]contracts.AovDescriptor{
	contracts.AovColor:      {Format: contracts.FormatRGBA16Float, MultiSample: true},
	contracts.AovDepth:      {Format: contracts.FormatDepth32Float, MultiSample: true, ClearValue: [4]float32{1, 0, 0, 0}},
	contracts.AovNormal:     {Format: contracts.FormatRGBA16Float, MultiSample: true},
	contracts.AovPrimID:     {Format: contracts.FormatR32Uint},
	contracts.AovElementID:  {Format: contracts.FormatR32Uint},
	contracts.AovInstanceID: {Format: contracts.FormatR32Uint},
	contracts.AovEdgeID:     {Format: contracts.FormatR32Float},
	contracts.AovPointID:    {Format: contracts.FormatR32Float},
}

// BufferReader performs the CPU-visible readback of a mapped GPU buffer.
// The cogentcore/webgpu-backed renderer.Renderer interface kept from the
// teacher's engine exposes bind_group_provider.BindGroupProvider.Buffer for
// writes but no mapping/readback surface of its own (it is built around
// draw/dispatch calls, not CPU readback); a concrete BufferReader bridges
// that gap using the backend's device/queue directly against the raw
// *wgpu.Buffer. Backend is usable without one for everything except the
// compute-shader reduction's final ReadBack step.
type BufferReader interface {
	ReadFloats(buf *wgpu.Buffer, count int) ([]float32, error)
}

// Backend wraps a renderer.Renderer and a BufferReader to implement
// contracts.RenderDelegate and renderbuffer.ReductionDispatcher.
type Backend struct {
	mu sync.Mutex

	r              renderer.Renderer
	displayName    string
	reader         BufferReader
	renderSettings map[string]any
}

var _ contracts.RenderDelegate = &Backend{}

// NewBackend creates a Backend over r, reporting displayName (e.g. "Storm")
// to cross-pass compatibility checks. reader may be nil if the reduction's
// ReadBack step is never exercised (e.g. path-tracing delegates that skip
// the depth visualize kernel).
func NewBackend(r renderer.Renderer, displayName string, reader BufferReader) *Backend {
	return &Backend{r: r, displayName: displayName, reader: reader, renderSettings: make(map[string]any)}
}

func (b *Backend) Execute(index *contracts.RenderIndex, tasks []contracts.Task) error {
	for _, t := range tasks {
		ctx := &contracts.TaskContext{Index: index}
		if err := t.Sync(ctx); err != nil {
			return fmt.Errorf("hgi: task %q sync: %w", t.Token(), err)
		}
		if err := t.Prepare(ctx); err != nil {
			return fmt.Errorf("hgi: task %q prepare: %w", t.Token(), err)
		}
		if err := t.Execute(ctx); err != nil {
			return fmt.Errorf("hgi: task %q execute: %w", t.Token(), err)
		}
	}
	return nil
}

func (b *Backend) GetDefaultAovDescriptor(name contracts.AovName) contracts.AovDescriptor {
	desc, ok := aovFormats[name]
	if !ok {
		return contracts.AovDescriptor{Format: contracts.FormatInvalid}
	}
	return desc
}

func (b *Backend) IsSprimTypeSupported(kind contracts.SprimKind) bool {
	switch kind {
	case contracts.SprimCameraLight, contracts.SprimDistantLight, contracts.SprimDomeLight, contracts.SprimCamera:
		return true
	default:
		return false
	}
}

func (b *Backend) IsBprimTypeSupported(kind contracts.BprimKind) bool {
	return kind == contracts.BprimRenderBuffer
}

func (b *Backend) GetRendererDisplayName() string { return b.displayName }

func (b *Backend) GetRenderSetting(key string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.renderSettings[key]
	return v, ok
}

func (b *Backend) SetRenderSetting(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.renderSettings[key] = value
}

// reductionTilePipelineKey/reductionBufferPipelineKey name the compute pipelines
// the depth min/max reduction dispatches; registered by the caller's scene
// setup alongside the rest of the pipeline cache.
const (
	reductionTilePipelineKey   = "reduction.tileToBuffer"
	reductionBufferPipelineKey = "reduction.bufferToBuffer"
)

// DispatchTile implements renderbuffer.ReductionDispatcher's tex->buffer
// pass: one workgroup per ReductionTileSize x ReductionTileSize tile.
func (b *Backend) DispatchTile(depthTexture any, width, height int) (any, int, error) {
	provider, ok := depthTexture.(bind_group_provider.BindGroupProvider)
	if !ok {
		return nil, 0, fmt.Errorf("hgi: DispatchTile requires a BindGroupProvider, got %T", depthTexture)
	}

	groupsX := (width + 15) / 16
	groupsY := (height + 15) / 16

	if err := b.r.BeginComputeFrame(); err != nil {
		return nil, 0, fmt.Errorf("hgi: begin compute frame: %w", err)
	}
	b.r.DispatchCompute(reductionTilePipelineKey, provider, [3]uint32{uint32(groupsX), uint32(groupsY), 1})
	b.r.EndComputeFrame()

	return provider, groupsX * groupsY, nil
}

// DispatchBuffer implements renderbuffer.ReductionDispatcher's buffer->buffer
// pass: reduces srcLen elements by ReductionTileSize^2 per dispatch.
func (b *Backend) DispatchBuffer(src any, srcLen int) (any, int, error) {
	provider, ok := src.(bind_group_provider.BindGroupProvider)
	if !ok {
		return nil, 0, fmt.Errorf("hgi: DispatchBuffer requires a BindGroupProvider, got %T", src)
	}

	const factor = 16 * 16
	groups := (srcLen + factor - 1) / factor
	if groups < 1 {
		groups = 1
	}

	if err := b.r.BeginComputeFrame(); err != nil {
		return nil, 0, fmt.Errorf("hgi: begin compute frame: %w", err)
	}
	b.r.DispatchCompute(reductionBufferPipelineKey, provider, [3]uint32{uint32(groups), 1, 1})
	b.r.EndComputeFrame()

	return provider, groups, nil
}

// ReadBack implements renderbuffer.ReductionDispatcher's final step,
// delegating the actual buffer-to-CPU transfer to the configured
// BufferReader.
func (b *Backend) ReadBack(buf any, length int) ([]float32, error) {
	if b.reader == nil {
		return nil, fmt.Errorf("hgi: no BufferReader configured for reduction readback")
	}
	provider, ok := buf.(bind_group_provider.BindGroupProvider)
	if !ok {
		return nil, fmt.Errorf("hgi: ReadBack requires a BindGroupProvider, got %T", buf)
	}
	raw := provider.Buffer(reductionBufferBinding)
	if raw == nil {
		return nil, fmt.Errorf("hgi: reduction provider has no buffer at binding %d", reductionBufferBinding)
	}
	return b.reader.ReadFloats(raw, length*2) // (min, max) pairs
}
