package selection

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUSelectionParamsSource is the canonical WGSL definition of the
// SelectionParams struct driving the selection-coloring fragment shader that
// reads back the primId/instanceId/elementId ID buffers.
//
//go:embed assets/selection_params.wgsl
var GPUSelectionParamsSource string

// GPUSelectionParams is the GPU-aligned uniform for selection coloring.
// Matches the WGSL SelectionParams struct layout exactly (see
// GPUSelectionParamsSource). Size: 48 bytes (two vec4 colors plus a padded
// scalar flag, respecting WGSL's 16-byte uniform alignment).
type GPUSelectionParams struct {
	SelectionColor      [4]float32
	LocateColor         [4]float32
	ShowOccludedEnabled uint32
	_pad                [3]uint32
}

// Size returns the size of the GPUSelectionParams struct in bytes.
func (p *GPUSelectionParams) Size() int {
	return int(unsafe.Sizeof(*p))
}

// Marshal serializes GPUSelectionParams into a 48-byte buffer for GPU upload.
func (p *GPUSelectionParams) Marshal() []byte {
	buf := make([]byte, 48)
	for i, v := range p.SelectionColor {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	for i, v := range p.LocateColor {
		binary.LittleEndian.PutUint32(buf[16+i*4:16+i*4+4], math.Float32bits(v))
	}
	occluded := uint32(0)
	if p.ShowOccludedEnabled != 0 {
		occluded = 1
	}
	binary.LittleEndian.PutUint32(buf[32:36], occluded)
	return buf
}
