// Package framepass implements FramePass: the per-viewport facade that owns
// one of each subsystem manager (TaskManager, RenderBufferManager,
// LightingManager, SelectionHelper) and exposes a single GetRenderTasks/
// Render/Pick surface composing them per the pass's current parameters.
package framepass

import (
	"fmt"
	"sync"

	"github.com/meridian-gfx/viewport/common"
	"github.com/meridian-gfx/viewport/contracts"
	"github.com/meridian-gfx/viewport/lighting"
	"github.com/meridian-gfx/viewport/renderbuffer"
	"github.com/meridian-gfx/viewport/selection"
	"github.com/meridian-gfx/viewport/taskmanager"
	"github.com/meridian-gfx/viewport/tasks"
)

// pickTokens names the tasks in a default order that run only against the
// picking tag, never during the normal executable frame.
var pickTokens = map[string]bool{
	"pick":                 true,
	"pickFromRenderBuffer": true,
}

// isRenderToken reports whether token names a task that produces pixels
// (render-tagged) rather than being purely ancillary.
func isRenderToken(token string) bool {
	return len(token) >= len("renderTask") && token[:len("renderTask")] == "renderTask"
}

// Colorspace selects the color-correction task's transfer function.
type Colorspace int

const (
	ColorspaceDisabled Colorspace = iota
	ColorspaceSRGB
	ColorspaceOpenColorIO
)

// ViewInfo carries camera and illumination state for a frame.
type ViewInfo struct {
	ViewMatrix       [16]float32
	ProjectionMatrix [16]float32
	Framing          [4]int // x, y, width, height
	Viewport         [4]int
	Lights           []lighting.ActiveLight
	Material         map[string]any
	Ambient          map[string]any
}

// FramePassParams is the caller-mutable per-frame parameter block (§4.2).
type FramePassParams struct {
	RenderBufferSize [2]int
	ViewInfo         ViewInfo

	Colorspace Colorspace
	OCIO       OCIOSettings

	BackgroundColor      [4]float32
	ClearBackgroundColor bool
	BackgroundDepth      float32
	ClearBackgroundDepth bool

	VisualizeAOV contracts.AovName

	EnableSelection  bool
	EnableOutline    bool
	SelectionColor   [4]float32
	LocateColor      [4]float32
	OutlineRadius    float32

	EnablePresentation  bool
	EnableMultisampling bool
	MSAASampleCount     int

	CollectionRoot    string
	CollectionExclude []string
	RenderTags        []string

	WorldExtent common.AABB
}

// OCIOSettings mirrors tasks.OCIOParams to keep this package independent of
// the tasks package's concrete types in its public surface.
type OCIOSettings struct {
	Display    string
	View       string
	Colorspace string
	Looks      string
	LUTSize    int
}

// FramePassDescriptor carries the construction-time state of a pass:
// Initialize is the only way to make a pass live.
type FramePassDescriptor struct {
	Index              *contracts.RenderIndex
	PassPath           string
	ExcludedLightPaths []string
}

// FramePass is the per-viewport orchestrator (§4.2).
type FramePass interface {
	Initialize(desc FramePassDescriptor) error
	Uninitialize()

	Params() *FramePassParams

	// GetRenderTasks runs the ten-step reconciliation protocol and returns
	// the executable task subset. inputAOVs, if non-empty, are taken as
	// input from a previously rendered pass.
	GetRenderTasks(inputAOVs []renderbuffer.InputAov) ([]contracts.Task, error)

	// Render delegates execution of tasks (typically the result of
	// GetRenderTasks) to the render delegate.
	Render(tasks []contracts.Task) error

	// Pick runs the full pick protocol and returns the aggregated selection.
	Pick(params selection.PickParams) (selection.Selection, error)

	// PickWithTarget is the (pickTarget, resolveMode, filter) convenience
	// overload.
	PickWithTarget(target selection.PickTarget, mode selection.ResolveMode, filter func(objectID string) []string) (selection.Selection, error)

	SetSelection(sel selection.Selection)
	GetSelection() selection.Selection

	GetRenderBuffer(name contracts.AovName) (*renderbuffer.AovBinding, bool)
	GetRenderTexture(name contracts.AovName, ctx *contracts.TaskContext) (any, bool)
	GetRenderOutputs() (clearBindings, noClearBindings []renderbuffer.AovBinding)

	GetTaskManager() taskmanager.TaskManager

	LightingManager() lighting.LightingManager
	RenderBufferManager() renderbuffer.RenderBufferManager
	SelectionHelper() selection.SelectionHelper

	SetEnableShadows(enabled bool)
	GetEnableShadows() bool

	// RegisterDefaultTasks registers the canonical task set for the pass's
	// render delegate in its default order (§4.7): Storm-like names when
	// displayName == "Storm", the path-tracer order otherwise. dispatcher
	// backs the depth min/max reduction the visualizeAov task may need and
	// may be nil if the pass never visualizes depth.
	RegisterDefaultTasks(displayName string, dispatcher renderbuffer.ReductionDispatcher) error
}

type framePass struct {
	mu sync.Mutex

	initialized        bool
	index              *contracts.RenderIndex
	passPath           string
	excludedLightPaths []string

	params FramePassParams

	taskMgr taskmanager.TaskManager
	rbm     renderbuffer.RenderBufferManager
	lm      lighting.LightingManager
	sel     selection.SelectionHelper

	enableShadows bool
	selection     selection.Selection
}

var _ FramePass = &framePass{}

// New creates an inert FramePass; call Initialize before use.
func New() FramePass {
	return &framePass{}
}

func (p *framePass) Initialize(desc FramePassDescriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return fmt.Errorf("framepass: already initialized")
	}
	if desc.Index == nil {
		return fmt.Errorf("framepass: descriptor requires a render index")
	}
	if desc.PassPath == "" {
		return fmt.Errorf("framepass: descriptor requires a pass path")
	}

	p.index = desc.Index
	p.passPath = desc.PassPath
	p.excludedLightPaths = append([]string(nil), desc.ExcludedLightPaths...)

	p.taskMgr = taskmanager.NewTaskManager(desc.PassPath, desc.Index.Sync)
	p.rbm = renderbuffer.NewRenderBufferManager(desc.PassPath, desc.Index)
	p.lm = lighting.NewLightingManager(desc.PassPath, desc.Index)
	p.sel = selection.NewSelectionHelper(desc.PassPath, desc.Index.Sync)

	p.params = FramePassParams{EnablePresentation: true}
	p.initialized = true
	return nil
}

func (p *framePass) Uninitialize() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return
	}
	p.rbm.SetRenderOutputs(nil, nil, [4]int{})
	p.lm.SetLighting(nil, common.AABB{}, lighting.CameraState{})
	p.index.Sync.Clear(p.passPath)
	p.initialized = false
}

func (p *framePass) Params() *FramePassParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &p.params
}

// GetRenderTasks implements the ten-step protocol of §4.2.
func (p *framePass) GetRenderTasks(inputAOVs []renderbuffer.InputAov) ([]contracts.Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, fmt.Errorf("framepass: not initialized")
	}
	params := p.params

	// 1. Apply MSAA and size updates.
	p.rbm.SetBufferSizeAndMsaa(params.RenderBufferSize, params.MSAASampleCount, params.EnableMultisampling)

	// 2. Declare output set; pass through input AOVs.
	names := p.aovNamesFromViewport()
	viewport := [4]int(params.ViewInfo.Viewport)
	p.rbm.SetRenderOutputs(names, inputAOVs, viewport)

	// 3. Push visualizeAOV to buffer and selection managers.
	p.rbm.SetViewportAov(params.VisualizeAOV)
	p.sel.SetVisualizeAOV(params.VisualizeAOV)

	// 4. Camera matrices: published via the sync delegate for the free
	// camera delegate's commit function to pick up.
	p.index.Sync.SetValue(p.passPath, "camera:viewMatrix", params.ViewInfo.ViewMatrix)
	p.index.Sync.SetValue(p.passPath, "camera:projectionMatrix", params.ViewInfo.ProjectionMatrix)

	// 5. Reconcile lights, dropping any the descriptor excluded by path.
	var viewInverse [16]float32
	common.Invert4(viewInverse[:], params.ViewInfo.ViewMatrix[:])
	cameraState := lighting.CameraState{ViewInverse: viewInverse}
	activeLights := p.filterExcludedLights(params.ViewInfo.Lights)
	if err := p.lm.SetLighting(activeLights, params.WorldExtent, cameraState); err != nil {
		return nil, fmt.Errorf("framepass: reconcile lighting: %w", err)
	}

	// 6. Clear color, if visualizing color.
	if params.ClearBackgroundColor && params.VisualizeAOV == contracts.AovColor {
		p.rbm.SetRenderOutputClearColor(contracts.AovColor, &params.BackgroundColor)
	} else {
		p.rbm.SetRenderOutputClearColor(contracts.AovColor, nil)
	}

	// 7. Push selection settings.
	p.sel.SetSettings(selection.SelectionSettings{
		Enabled:             params.EnableSelection,
		SelectionColor:      params.SelectionColor,
		LocateColor:         params.LocateColor,
		ShowOccludedEnabled: params.EnableOutline,
	})

	// 8. Enable/disable conditional tasks by policy.
	p.applyTaskPolicy(params)

	// 9. Publish selection-tracker state.
	p.taskMgr.SetTaskValue(p.taskMgr.PathFor("colorizeSelection"), selection.TaskContextSelectionTrackerKey, p.sel.Tracker())

	// 10. Commit the executable subset, return it.
	p.taskMgr.CommitTaskValues(contracts.TagExecutable)
	return p.taskMgr.GetTasks(contracts.TagExecutable), nil
}

// filterExcludedLights drops lights whose "path" param matches one of the
// descriptor's excluded-light paths, so app-level light groups can be hidden
// from a specific pass (e.g. a reflection pass excluding the key light).
func (p *framePass) filterExcludedLights(lights []lighting.ActiveLight) []lighting.ActiveLight {
	if len(p.excludedLightPaths) == 0 {
		return lights
	}
	excluded := make(map[string]bool, len(p.excludedLightPaths))
	for _, path := range p.excludedLightPaths {
		excluded[path] = true
	}

	filtered := make([]lighting.ActiveLight, 0, len(lights))
	for _, light := range lights {
		if path, ok := light.Params["path"].(string); ok && excluded[path] {
			continue
		}
		filtered = append(filtered, light)
	}
	return filtered
}

func (p *framePass) aovNamesFromViewport() []contracts.AovName {
	names := []contracts.AovName{contracts.AovColor, contracts.AovDepth}
	if p.params.VisualizeAOV != "" && p.params.VisualizeAOV != contracts.AovColor && p.params.VisualizeAOV != contracts.AovDepth {
		names = append(names, p.params.VisualizeAOV)
	}
	return names
}

func (p *framePass) applyTaskPolicy(params FramePassParams) {
	p.taskMgr.EnableTask("shadow", p.lm.UseLighting() && p.enableShadows)
	p.taskMgr.EnableTask("selection", len(p.taskMgr.GetTasks(contracts.TagRender)) > 0)
	p.taskMgr.EnableTask("colorizeSelection", params.VisualizeAOV == contracts.AovColor)
	p.taskMgr.EnableTask("colorCorrection", params.Colorspace != ColorspaceDisabled)
	p.taskMgr.EnableTask("visualizeAov", params.VisualizeAOV != contracts.AovColor)
}

func (p *framePass) Render(tasks []contracts.Task) error {
	p.mu.Lock()
	index := p.index
	p.mu.Unlock()

	if index == nil {
		return fmt.Errorf("framepass: not initialized")
	}
	return index.Delegate.Execute(index, tasks)
}

func (p *framePass) Pick(params selection.PickParams) (selection.Selection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return selection.Selection{}, fmt.Errorf("framepass: not initialized")
	}

	ctx := &contracts.TaskContext{Index: p.index}
	if err := p.sel.Pick(ctx, params); err != nil {
		return selection.Selection{}, err
	}

	p.taskMgr.CommitTaskValues(contracts.TagPicking)
	if err := p.index.Delegate.Execute(p.index, p.taskMgr.GetTasks(contracts.TagPicking)); err != nil {
		return selection.Selection{}, fmt.Errorf("framepass: execute picking tasks: %w", err)
	}

	hits := []selection.Hit{}
	if params.Hits != nil {
		hits = *params.Hits
	}
	return p.sel.PrepareSelection(hits, params.PickTarget, nil)
}

func (p *framePass) PickWithTarget(target selection.PickTarget, mode selection.ResolveMode, filter func(objectID string) []string) (selection.Selection, error) {
	resolvedMode := selection.ResolveUnique
	if target == selection.PickPrimsAndInstances {
		resolvedMode = mode
	}

	collection := "geometry"
	if target != selection.PickPrimsAndInstances {
		collection = "geometry:meshPoints"
	}

	var hits []selection.Hit
	params := selection.PickParams{
		PickTarget:   target,
		ResolveMode:  resolvedMode,
		Collection:   collection,
		ExcludePaths: []string{"/frozen"},
		Hits:         &hits,
	}

	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return selection.Selection{}, fmt.Errorf("framepass: not initialized")
	}
	ctx := &contracts.TaskContext{Index: p.index}
	if err := p.sel.Pick(ctx, params); err != nil {
		p.mu.Unlock()
		return selection.Selection{}, err
	}
	p.taskMgr.CommitTaskValues(contracts.TagPicking)
	pickTasks := p.taskMgr.GetTasks(contracts.TagPicking)
	index := p.index
	sel := p.sel
	p.mu.Unlock()

	if err := index.Delegate.Execute(index, pickTasks); err != nil {
		return selection.Selection{}, fmt.Errorf("framepass: execute picking tasks: %w", err)
	}

	return sel.PrepareSelection(hits, target, filter)
}

func (p *framePass) SetSelection(sel selection.Selection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selection = sel
}

func (p *framePass) GetSelection() selection.Selection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selection
}

func (p *framePass) GetRenderBuffer(name contracts.AovName) (*renderbuffer.AovBinding, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rbm.GetRenderOutput(name)
}

func (p *framePass) GetRenderTexture(name contracts.AovName, ctx *contracts.TaskContext) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rbm.GetAovTexture(name, ctx)
}

func (p *framePass) GetRenderOutputs() (clearBindings, noClearBindings []renderbuffer.AovBinding) {
	p.mu.Lock()
	defer p.mu.Unlock()
	clearBindings, noClearBindings, _ = p.rbm.AovParams()
	return clearBindings, noClearBindings
}

func (p *framePass) GetTaskManager() taskmanager.TaskManager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.taskMgr
}

func (p *framePass) LightingManager() lighting.LightingManager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lm
}

func (p *framePass) RenderBufferManager() renderbuffer.RenderBufferManager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rbm
}

func (p *framePass) SelectionHelper() selection.SelectionHelper {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sel
}

func (p *framePass) SetEnableShadows(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enableShadows = enabled
}

func (p *framePass) GetEnableShadows() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enableShadows
}

func (p *framePass) RegisterDefaultTasks(displayName string, dispatcher renderbuffer.ReductionDispatcher) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return fmt.Errorf("framepass: not initialized")
	}

	order := tasks.DefaultOrderPathTracer
	if displayName == "Storm" {
		order = tasks.DefaultOrderStorm
	}

	for _, token := range order {
		tagBits := contracts.TagExecutable
		switch {
		case pickTokens[token]:
			tagBits = contracts.TagPicking
		case isRenderToken(token):
			tagBits = contracts.TagExecutable | contracts.TagRender
		}

		var task contracts.Task
		switch token {
		case "colorCorrection":
			mode := tasks.ColorCorrectionDisabled
			switch p.params.Colorspace {
			case ColorspaceSRGB:
				mode = tasks.ColorCorrectionSRGB
			case ColorspaceOpenColorIO:
				mode = tasks.ColorCorrectionOCIO
			}
			task = tasks.NewColorCorrectionTask(p.rbm, mode, tasks.OCIOParams{
				Display:    p.params.OCIO.Display,
				View:       p.params.OCIO.View,
				Colorspace: p.params.OCIO.Colorspace,
				Looks:      p.params.OCIO.Looks,
				LUTSize:    p.params.OCIO.LUTSize,
			})
		case "visualizeAov":
			task = tasks.NewVisualizeAovTask(p.rbm, dispatcher)
		default:
			task = tasks.NewThinTask(token, nil)
		}

		if _, err := p.taskMgr.AddTask(token, nil, task, nil, taskmanager.AnchorEnd, "", tagBits); err != nil {
			return fmt.Errorf("framepass: register task %q: %w", token, err)
		}
	}
	return nil
}
