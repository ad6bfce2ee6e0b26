package renderbuffer

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

// ReductionTileSize is the tile dimension (T×T) used by the tex->buffer
// pass of the depth min/max reduction, and the per-dispatch reduction
// factor (T²) of the buffer->buffer passes (§4.8).
const ReductionTileSize = 16

// GraphicsFallbackTileSize is the reduction factor used by the
// graphics-shader fallback for backends without compute atomics; it stops
// at residuals of ≤4×4 and reads the remainder back to the CPU.
const GraphicsFallbackTileSize = 8

// GraphicsFallbackResidual is the residual dimension at which the
// graphics-shader fallback stops dispatching and reads back to the CPU.
const GraphicsFallbackResidual = 4

// GPUReductionParamsSource is the canonical WGSL definition of the
// ReductionParams struct driving each dispatch of the depth min/max
// reduction compute shader.
//
//go:embed assets/reduction_params.wgsl
var GPUReductionParamsSource string

// GPUReductionParams is the GPU-aligned uniform for one reduction dispatch.
// Matches the WGSL ReductionParams struct layout exactly (see
// GPUReductionParamsSource). Size: 16 bytes.
type GPUReductionParams struct {
	InputWidth  uint32
	InputHeight uint32
	TileSize    uint32
	_pad        uint32
}

// Size returns the size of the GPUReductionParams struct in bytes.
func (p *GPUReductionParams) Size() int {
	return int(unsafe.Sizeof(*p))
}

// Marshal serializes GPUReductionParams into a 16-byte buffer for GPU upload.
func (p *GPUReductionParams) Marshal() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], p.InputWidth)
	binary.LittleEndian.PutUint32(buf[4:8], p.InputHeight)
	binary.LittleEndian.PutUint32(buf[8:12], p.TileSize)
	binary.LittleEndian.PutUint32(buf[12:16], 0)
	return buf
}

// GPUAOVCopyParamsSource is the canonical WGSL definition of the
// AOVCopyParams struct driving the visualize-AOV fallback copy shader.
//
//go:embed assets/aov_copy_params.wgsl
var GPUAOVCopyParamsSource string

// GPUAOVCopyParams is the GPU-aligned uniform for the visualize-AOV copy
// shader. Matches the WGSL AOVCopyParams struct layout exactly (see
// GPUAOVCopyParamsSource). Size: 16 bytes.
type GPUAOVCopyParams struct {
	ScreenSize [2]float32
	MinMax     [2]float32 // depth kernel rescale range; unused by id/normal/fallback kernels
}

// Size returns the size of the GPUAOVCopyParams struct in bytes.
func (p *GPUAOVCopyParams) Size() int {
	return int(unsafe.Sizeof(*p))
}

// Marshal serializes GPUAOVCopyParams into a 16-byte buffer for GPU upload.
func (p *GPUAOVCopyParams) Marshal() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(p.ScreenSize[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(p.ScreenSize[1]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(p.MinMax[0]))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(p.MinMax[1]))
	return buf
}

// ReductionDispatcher issues the GPU work for one stage of the depth
// min/max reduction; the concrete implementation lives in the Hgi backend.
// DispatchTile performs the tex->buffer pass; DispatchBuffer performs one
// buffer->buffer pass, reducing srcLen elements by ReductionTileSize² into
// the returned length.
type ReductionDispatcher interface {
	DispatchTile(depthTexture any, width, height int) (buffer any, length int, err error)
	DispatchBuffer(src any, length int) (dst any, newLength int, err error)
	ReadBack(buf any, length int) ([]float32, error) // pairs of (min, max)
}

// ReduceMinMaxDepth produces a (minDepth, maxDepth) pair from depthTexture
// of size width×height using the compute-shader variant: a tex->buffer
// pass followed by successive buffer->buffer passes until a single (min,
// max) pair remains. Deterministic for a given input, independent of clear
// order (§4.8 contract).
func ReduceMinMaxDepth(d ReductionDispatcher, depthTexture any, width, height int) (min, max float32, err error) {
	buf, length, err := d.DispatchTile(depthTexture, width, height)
	if err != nil {
		return 0, 0, fmt.Errorf("depth reduction tile pass: %w", err)
	}

	for length > 1 {
		buf, length, err = d.DispatchBuffer(buf, length)
		if err != nil {
			return 0, 0, fmt.Errorf("depth reduction buffer pass: %w", err)
		}
	}

	pairs, err := d.ReadBack(buf, length)
	if err != nil {
		return 0, 0, fmt.Errorf("depth reduction readback: %w", err)
	}
	if len(pairs) < 2 {
		return 0, 0, fmt.Errorf("depth reduction produced %d values, want 2", len(pairs))
	}
	return pairs[0], pairs[1], nil
}

// ReduceMinMaxDepthCPU implements the graphics-shader fallback's final
// step: once the GPU passes have reduced the residual to at most
// GraphicsFallbackResidual×GraphicsFallbackResidual, the caller reads the
// RGBA32F residual texture back to the CPU (R=min, G=max per texel) and
// this function folds it into the final pair.
func ReduceMinMaxDepthCPU(residual [][2]float32) (min, max float32, err error) {
	if len(residual) == 0 {
		return 0, 0, fmt.Errorf("empty residual")
	}
	min, max = residual[0][0], residual[0][1]
	for _, v := range residual[1:] {
		if v[0] < min {
			min = v[0]
		}
		if v[1] > max {
			max = v[1]
		}
	}
	return min, max, nil
}
