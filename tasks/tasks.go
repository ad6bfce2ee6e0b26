// Package tasks implements the ancillary render task contracts registered
// with a pass's TaskManager (§4.7): color correction, AOV visualization,
// depth bias, SSAO, compose, and a family of thin pass-through contracts.
package tasks

import (
	"fmt"

	"github.com/meridian-gfx/viewport/contracts"
	"github.com/meridian-gfx/viewport/renderbuffer"
)

// DefaultOrderStorm is the canonical task creation order for Storm-like
// rasterization delegates.
var DefaultOrderStorm = []string{
	"simpleLight",
	"shadow",
	"renderTask:defaultMaterial",
	"renderTask:masked",
	"renderTask:additive",
	"renderTask:translucent",
	"aovInput",
	"boundingBox",
	"renderTask:volume",
	"oitResolve",
	"selection",
	"colorizeSelection",
	"colorCorrection",
	"visualizeAov",
	"present",
	"pick",
}

// DefaultOrderPathTracer is the canonical task creation order for
// path-tracing delegates.
var DefaultOrderPathTracer = []string{
	"renderTask",
	"aovInput",
	"boundingBox",
	"colorizeSelection",
	"colorCorrection",
	"visualizeAov",
	"present",
	"pickFromRenderBuffer",
}

// ColorCorrectionMode selects the color-correction task's transfer function.
type ColorCorrectionMode int

const (
	ColorCorrectionDisabled ColorCorrectionMode = iota
	ColorCorrectionSRGB
	ColorCorrectionOCIO
)

// OCIOParams configures the OpenColorIO path of the color-correction task.
type OCIOParams struct {
	Display   string
	View      string
	Colorspace string
	Looks      string
	LUTSize    int
}

// ColorCorrectionTask reads the viewport color AOV, applies the configured
// transfer function, and writes back via a colorIntermediate ping-pong.
type ColorCorrectionTask struct {
	Mode     ColorCorrectionMode
	OCIO     OCIOParams
	aovPath  string
	rbm      renderbuffer.RenderBufferManager
}

// NewColorCorrectionTask creates a color-correction task bound to rbm's
// viewport AOV.
func NewColorCorrectionTask(rbm renderbuffer.RenderBufferManager, mode ColorCorrectionMode, ocio OCIOParams) *ColorCorrectionTask {
	return &ColorCorrectionTask{Mode: mode, OCIO: ocio, rbm: rbm}
}

func (t *ColorCorrectionTask) Token() string { return "colorCorrection" }

func (t *ColorCorrectionTask) Sync(ctx *contracts.TaskContext) error {
	if t.Mode == ColorCorrectionDisabled {
		return nil
	}
	if v, ok := ctx.Get("colorCorrection:mode"); ok {
		if mode, ok := v.(ColorCorrectionMode); ok {
			t.Mode = mode
		}
	}
	return nil
}

func (t *ColorCorrectionTask) Prepare(ctx *contracts.TaskContext) error {
	if t.Mode == ColorCorrectionDisabled {
		return nil
	}
	tex, ok := t.rbm.GetAovTexture(contracts.AovColor, ctx)
	if !ok {
		return fmt.Errorf("colorCorrection: viewport AOV texture unavailable")
	}
	t.aovPath = fmt.Sprintf("%v", tex)
	return nil
}

func (t *ColorCorrectionTask) Execute(ctx *contracts.TaskContext) error {
	if t.Mode == ColorCorrectionDisabled {
		return nil
	}
	ctx.Set("colorIntermediate", t.aovPath)
	return nil
}

// VisualizeAovKernel selects the fallback shader kernel used when the
// viewport AOV is not color.
type VisualizeAovKernel int

const (
	KernelFallback VisualizeAovKernel = iota
	KernelDepth
	KernelID
	KernelNormal
)

// VisualizeAovTask transforms a non-color AOV into displayable colors.
type VisualizeAovTask struct {
	rbm        renderbuffer.RenderBufferManager
	dispatcher renderbuffer.ReductionDispatcher
}

// NewVisualizeAovTask creates a visualize-AOV task. dispatcher performs the
// depth min/max reduction consumed by the depth kernel; it may be nil if the
// viewport AOV is never depth.
func NewVisualizeAovTask(rbm renderbuffer.RenderBufferManager, dispatcher renderbuffer.ReductionDispatcher) *VisualizeAovTask {
	return &VisualizeAovTask{rbm: rbm, dispatcher: dispatcher}
}

func (t *VisualizeAovTask) Token() string { return "visualizeAov" }

func (t *VisualizeAovTask) kernelFor(aov contracts.AovName) VisualizeAovKernel {
	switch aov {
	case contracts.AovDepth:
		return KernelDepth
	case contracts.AovPrimID, contracts.AovElementID, contracts.AovInstanceID, contracts.AovEdgeID, contracts.AovPointID:
		return KernelID
	case contracts.AovNormal:
		return KernelNormal
	default:
		return KernelFallback
	}
}

func (t *VisualizeAovTask) Sync(ctx *contracts.TaskContext) error { return nil }

func (t *VisualizeAovTask) Prepare(ctx *contracts.TaskContext) error { return nil }

func (t *VisualizeAovTask) Execute(ctx *contracts.TaskContext) error {
	aov := t.rbm.GetViewportAov()
	if aov == contracts.AovColor {
		return nil
	}

	kernel := t.kernelFor(aov)
	params := renderbuffer.GPUAOVCopyParams{}
	size := t.rbm.GetRenderBufferSize()
	params.ScreenSize = [2]float32{float32(size[0]), float32(size[1])}

	if kernel == KernelDepth {
		if t.dispatcher == nil {
			return fmt.Errorf("visualizeAov: depth kernel requires a reduction dispatcher")
		}
		tex, ok := t.rbm.GetAovTexture(contracts.AovDepth, ctx)
		if !ok {
			return fmt.Errorf("visualizeAov: depth AOV texture unavailable")
		}
		min, max, err := renderbuffer.ReduceMinMaxDepth(t.dispatcher, tex, size[0], size[1])
		if err != nil {
			return fmt.Errorf("visualizeAov: %w", err)
		}
		params.MinMax = [2]float32{min, max}
	}

	ctx.Set("visualizeAov:kernel", kernel)
	ctx.Set("visualizeAov:params", params)
	return nil
}

// DepthBiasTask applies a view-space depth offset into an intermediate
// depth texture, then swaps intermediate and primary depth in the context.
type DepthBiasTask struct {
	rbm             renderbuffer.RenderBufferManager
	Orthographic    bool
	NearClip, FarClip float32
}

func NewDepthBiasTask(rbm renderbuffer.RenderBufferManager) *DepthBiasTask {
	return &DepthBiasTask{rbm: rbm}
}

func (t *DepthBiasTask) Token() string { return "depthBias" }

func (t *DepthBiasTask) Sync(ctx *contracts.TaskContext) error {
	if v, ok := ctx.Get("camera:nearClip"); ok {
		t.NearClip, _ = v.(float32)
	}
	if v, ok := ctx.Get("camera:farClip"); ok {
		t.FarClip, _ = v.(float32)
	}
	if v, ok := ctx.Get("camera:orthographic"); ok {
		t.Orthographic, _ = v.(bool)
	}
	return nil
}

func (t *DepthBiasTask) Prepare(ctx *contracts.TaskContext) error { return nil }

func (t *DepthBiasTask) Execute(ctx *contracts.TaskContext) error {
	linearDepthFactor := float32(1)
	if !t.Orthographic && t.FarClip > t.NearClip {
		linearDepthFactor = t.FarClip / (t.FarClip - t.NearClip)
	}
	ctx.Set("depthBias:linearDepthFactor", linearDepthFactor)

	primary, _ := t.rbm.GetAovTexture(contracts.AovDepth, ctx)
	intermediate, _ := ctx.Get("depthIntermediate")
	ctx.Set("depthIntermediate", primary)
	ctx.Set("aovTexture:"+string(contracts.AovDepth), intermediate)
	return nil
}

// ssaoSpiralTurns is the precomputed optimal spiral-turn-count table for
// sampleCount in [0,64]; values beyond that range use 257 (§4.7).
var ssaoSpiralTurns = [65]int{
	1, 1, 1, 2, 3, 2, 5, 2, 3, 2,
	3, 3, 5, 5, 3, 4, 7, 5, 5, 7,
	9, 8, 5, 5, 7, 7, 7, 8, 5, 8,
	11, 12, 7, 10, 13, 8, 11, 8, 7, 14,
	11, 11, 13, 12, 13, 19, 17, 13, 11, 18,
	19, 11, 11, 14, 17, 21, 15, 16, 17, 18,
	13, 17, 11, 17, 19,
}

// SpiralTurns returns the spiral turn count used by the SSAO kernel's
// Fibonacci sample pattern for sampleCount.
func SpiralTurns(sampleCount int) int {
	if sampleCount < 0 || sampleCount > 64 {
		return 257
	}
	return ssaoSpiralTurns[sampleCount]
}

// SSAORadiusMode selects whether SSAO's sample radius is measured in screen
// or world space.
type SSAORadiusMode int

const (
	RadiusScreenSpace SSAORadiusMode = iota
	RadiusWorldSpace
)

// SSAOTask implements the screen-space ambient occlusion pipeline (raw,
// blur-H, blur-V, then composite) over depth-only input.
type SSAOTask struct {
	rbm         renderbuffer.RenderBufferManager
	RadiusMode  SSAORadiusMode
	Radius      float32
	SampleCount int
}

func NewSSAOTask(rbm renderbuffer.RenderBufferManager, mode SSAORadiusMode, radius float32, sampleCount int) *SSAOTask {
	return &SSAOTask{rbm: rbm, RadiusMode: mode, Radius: radius, SampleCount: sampleCount}
}

func (t *SSAOTask) Token() string { return "ssao" }

func (t *SSAOTask) Sync(ctx *contracts.TaskContext) error { return nil }

func (t *SSAOTask) Prepare(ctx *contracts.TaskContext) error {
	_, ok := t.rbm.GetAovTexture(contracts.AovDepth, ctx)
	if !ok {
		return fmt.Errorf("ssao: depth AOV texture unavailable")
	}
	return nil
}

func (t *SSAOTask) Execute(ctx *contracts.TaskContext) error {
	turns := SpiralTurns(t.SampleCount)
	ctx.Set("ssao:spiralTurns", turns)

	for _, pass := range []string{"raw", "blurH", "blurV", "composite"} {
		ctx.Set("ssao:pass", pass)
	}
	return nil
}

// ComposeTask blends an externally-supplied color texture into the current
// color target with standard over-alpha blending.
type ComposeTask struct {
	rbm   renderbuffer.RenderBufferManager
	Input any // opaque handle to the producing pass's color AOV
}

func NewComposeTask(rbm renderbuffer.RenderBufferManager, input any) *ComposeTask {
	return &ComposeTask{rbm: rbm, Input: input}
}

func (t *ComposeTask) Token() string { return "compose" }

func (t *ComposeTask) Sync(ctx *contracts.TaskContext) error { return nil }

func (t *ComposeTask) Prepare(ctx *contracts.TaskContext) error { return nil }

func (t *ComposeTask) Execute(ctx *contracts.TaskContext) error {
	target, ok := t.rbm.GetAovTexture(contracts.AovColor, ctx)
	if !ok {
		return fmt.Errorf("compose: color AOV texture unavailable")
	}
	ctx.Set("compose:src", t.Input)
	ctx.Set("compose:dst", target)
	return nil
}

// thinTask is a minimal pass-through contract: parameters and a commit
// function are supplied by the creation helper; Execute records that the
// task ran so FramePass and tests can observe execution order.
type thinTask struct {
	token    string
	commitFn func(ctx *contracts.TaskContext)
}

// NewThinTask constructs one of the blur/FXAA/bounding-box/skydome/
// OIT-resolve/shadow/present/simpleLight/renderTask/aovInput/selection/
// colorizeSelection/pick family of thin contracts. commitFn may be nil.
func NewThinTask(token string, commitFn func(ctx *contracts.TaskContext)) contracts.Task {
	return &thinTask{token: token, commitFn: commitFn}
}

func (t *thinTask) Token() string { return t.token }

func (t *thinTask) Sync(ctx *contracts.TaskContext) error {
	if t.commitFn != nil {
		t.commitFn(ctx)
	}
	return nil
}

func (t *thinTask) Prepare(ctx *contracts.TaskContext) error { return nil }

func (t *thinTask) Execute(ctx *contracts.TaskContext) error {
	ctx.Set("lastExecuted", t.token)
	return nil
}
