// Package renderbuffer implements RenderBufferManager: the AOV lifecycle
// engine. It allocates, resizes, and rebinds GPU attachments, and handles
// cross-pass buffer sharing with copy-when-needed semantics.
package renderbuffer

import (
	"sync"

	"github.com/meridian-gfx/viewport/contracts"
	"github.com/meridian-gfx/viewport/diag"
)

// AovBinding is the AOV Binding Entry of the data model: the per-AOV
// bookkeeping RenderBufferManager owns for its pass.
type AovBinding struct {
	Name             contracts.AovName
	Path             string // BPrim path
	Format           contracts.Format
	Dimensions       [2]int
	MultiSampled     bool
	ClearValue       [4]float32
	ExternalBuffer   bool // true when bound to a previous pass's buffer rather than owned
}

// InputAov names a cross-pass AOV supplied as input to GetRenderTasks,
// carrying the producing delegate's display name so depth re-bind-vs-copy
// can be decided (§4.3, §9 open question).
type InputAov struct {
	Name         contracts.AovName
	RendererName string
	// Buffer is an opaque handle to the producing pass's GPU texture; the
	// manager either rebinds it directly (depth, matching renderer) or
	// issues a copy-shader blit (color, or mismatched renderer).
	Buffer any
}

// RenderBufferManager owns the set of AOV buffers for its pass.
type RenderBufferManager interface {
	// SetRenderOutputs declares the target AOV set. names for which the
	// delegate's GetDefaultAovDescriptor reports FormatInvalid are dropped.
	SetRenderOutputs(names []contracts.AovName, inputs []InputAov, viewport [4]int)

	// SetBufferSizeAndMsaa walks all owned AOV paths updating dimensions and
	// the multisample flag, marking each BPrim dirty. Idempotent: calling
	// twice with identical arguments produces no further change.
	SetBufferSizeAndMsaa(size [2]int, sampleCount int, enabled bool)

	// SetRenderOutputClearColor stores or clears (value==nil) the clear color
	// for name, consulted by the first render task.
	SetRenderOutputClearColor(name contracts.AovName, value *[4]float32)

	// GetAovTexture resolves the current GPU texture handle for name from the
	// task context published values.
	GetAovTexture(name contracts.AovName, ctx *contracts.TaskContext) (any, bool)

	GetRenderOutput(name contracts.AovName) (*AovBinding, bool)
	GetViewportAov() contracts.AovName
	SetViewportAov(name contracts.AovName)
	GetRenderBufferSize() [2]int

	// IsAovSupported reports whether the render delegate supports BPrim-based
	// AOVs at all. When false, every other method is a no-op.
	IsAovSupported() bool

	// AovParams returns the clear and no-clear binding lists plus the
	// volume-rendering input-binding list (depth only), per §4.3. The clear
	// and no-clear lists carry identical entries, clear values included;
	// AovBinding has no field that marks an entry as not to be cleared.
	AovParams() (clearBindings, noClearBindings []AovBinding, inputBindings []AovBinding)
}

type renderBufferManager struct {
	mu sync.Mutex

	passPath string
	index    *contracts.RenderIndex

	owned       map[contracts.AovName]*AovBinding
	order       []contracts.AovName // accepted names, in declaration order
	clearColors map[contracts.AovName]*[4]float32
	viewportAov contracts.AovName

	renderBufferSize [2]int
	sampleCount      int
	msaaEnabled      bool

	aovSupported bool

	// lastNames/lastInputs cache the arguments of the previous SetRenderOutputs
	// call for idempotence.
	lastNames  []contracts.AovName
	lastInputs []InputAov
}

var _ RenderBufferManager = &renderBufferManager{}

// NewRenderBufferManager creates a RenderBufferManager rooted at passPath,
// backed by index for BPrim insertion and render-delegate AOV queries.
func NewRenderBufferManager(passPath string, index *contracts.RenderIndex) RenderBufferManager {
	return &renderBufferManager{
		passPath:     passPath,
		index:        index,
		owned:        make(map[contracts.AovName]*AovBinding),
		clearColors:  make(map[contracts.AovName]*[4]float32),
		aovSupported: index.Delegate.IsBprimTypeSupported(contracts.BprimRenderBuffer),
	}
}

func sameNameSet(a, b []contracts.AovName) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameInputs(a, b []InputAov) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].RendererName != b[i].RendererName {
			return false
		}
	}
	return true
}

func (m *renderBufferManager) SetRenderOutputs(names []contracts.AovName, inputs []InputAov, viewport [4]int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.aovSupported {
		return
	}

	if sameNameSet(names, m.lastNames) && sameInputs(inputs, m.lastInputs) {
		// Round-trip idempotence: §8 boundary behavior.
		return
	}

	// Release existing owned buffers and input bindings before reconciling.
	for name, b := range m.owned {
		if !b.ExternalBuffer {
			m.index.Scene.RemovePrim(b.Path)
		}
		delete(m.owned, name)
	}
	m.order = m.order[:0]

	inputByName := make(map[contracts.AovName]InputAov, len(inputs))
	for _, in := range inputs {
		inputByName[in.Name] = in
	}

	rendererName := m.index.Delegate.GetRendererDisplayName()

	for _, name := range names {
		desc := m.index.Delegate.GetDefaultAovDescriptor(name)
		if desc.Format == contracts.FormatInvalid {
			diag.Report(diag.Configuration, m.passPath, "AOV %q rejected by render delegate", name)
			continue
		}

		binding := &AovBinding{
			Name:         name,
			Path:         m.passPath + "/" + string(name),
			Format:       desc.Format,
			Dimensions:   m.renderBufferSize,
			MultiSampled: m.msaaEnabled,
			ClearValue:   desc.ClearValue,
		}

		if in, ok := inputByName[name]; ok {
			if name == contracts.AovDepth && in.RendererName == rendererName {
				// Depth re-bind rather than copy, to retain sub-pixel
				// resolution (§9 open question: correct only so long as no
				// intervening task writes the depth buffer).
				binding.ExternalBuffer = true
			} else {
				m.runCopyShader(name, in, binding)
			}
		}

		if !binding.ExternalBuffer {
			m.index.Scene.InsertPrim(binding.Path, "renderBuffer", map[string]any{
				"format":     desc.Format,
				"dimensions": binding.Dimensions,
				"clearValue": desc.ClearValue,
			})
		}

		m.owned[name] = binding
		m.order = append(m.order, name)
	}

	m.lastNames = append([]contracts.AovName(nil), names...)
	m.lastInputs = append([]InputAov(nil), inputs...)
}

// runCopyShader models the full-screen fragment program that blits an
// input color (and optionally depth) AOV from a previous pass into this
// pass's owned buffer (§4.3). The concrete draw call is issued by the Hgi
// backend; here we only record that a copy is pending so FramePass can
// schedule it ahead of the first render task.
func (m *renderBufferManager) runCopyShader(name contracts.AovName, in InputAov, binding *AovBinding) {
	binding.ExternalBuffer = false
	m.index.Sync.SetValue(binding.Path, "copySource", in.Buffer)
}

func (m *renderBufferManager) SetBufferSizeAndMsaa(size [2]int, sampleCount int, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.aovSupported {
		return
	}

	if m.renderBufferSize == size && m.sampleCount == sampleCount && m.msaaEnabled == enabled {
		return
	}

	m.renderBufferSize = size
	m.sampleCount = sampleCount
	m.msaaEnabled = enabled

	for _, name := range m.order {
		b := m.owned[name]
		b.Dimensions = size
		b.MultiSampled = enabled
		m.index.Scene.MarkDirty(b.Path, 1)
	}
}

func (m *renderBufferManager) SetRenderOutputClearColor(name contracts.AovName, value *[4]float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if value == nil {
		delete(m.clearColors, name)
		return
	}
	m.clearColors[name] = value
}

func (m *renderBufferManager) GetAovTexture(name contracts.AovName, ctx *contracts.TaskContext) (any, bool) {
	return ctx.Get("aovTexture:" + string(name))
}

func (m *renderBufferManager) GetRenderOutput(name contracts.AovName) (*AovBinding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.owned[name]
	return b, ok
}

func (m *renderBufferManager) GetViewportAov() contracts.AovName {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewportAov
}

func (m *renderBufferManager) SetViewportAov(name contracts.AovName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewportAov = name
}

func (m *renderBufferManager) GetRenderBufferSize() [2]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renderBufferSize
}

func (m *renderBufferManager) IsAovSupported() bool {
	return m.aovSupported
}

func (m *renderBufferManager) AovParams() (clear, noClear, input []AovBinding) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear = make([]AovBinding, 0, len(m.order))
	noClear = make([]AovBinding, 0, len(m.order))
	for _, name := range m.order {
		b := *m.owned[name]
		if cc, ok := m.clearColors[name]; ok {
			b.ClearValue = *cc
		}
		clear = append(clear, b)
		noClear = append(noClear, b)
	}
	if depth, ok := m.owned[contracts.AovDepth]; ok {
		input = append(input, *depth)
	}
	return clear, noClear, input
}
