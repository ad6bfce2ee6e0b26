package geometry

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUVertexSource is the canonical WGSL definition of the VertexInput struct
// consumed by the mesh vertex shader.
//
//go:embed assets/vertex.wgsl
var GPUVertexSource string

// GPUVertex is the GPU-aligned representation of a single mesh vertex.
// Matches the WGSL VertexInput struct layout exactly (see GPUVertexSource).
// Size: 32 bytes.
type GPUVertex struct {
	Position [3]float32 // offset  0: object-space position
	Normal   [3]float32 // offset 12: object-space normal
	UV       [2]float32 // offset 24: texture coordinates
}

// Size returns the size of the GPUVertex struct in bytes.
func (v *GPUVertex) Size() int {
	return int(unsafe.Sizeof(*v))
}

// Marshal serializes the GPUVertex struct into a byte buffer suitable for
// GPU vertex-buffer upload.
func (v *GPUVertex) Marshal() []byte {
	buf := make([]byte, 32)
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v.Position[i]))
	}
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(buf[12+i*4:], math.Float32bits(v.Normal[i]))
	}
	for i := 0; i < 2; i++ {
		binary.LittleEndian.PutUint32(buf[24+i*4:], math.Float32bits(v.UV[i]))
	}
	return buf
}

// GPUModelDataSource is the canonical WGSL definition of the ModelData
// struct holding per-instance model matrices for instanced draw calls.
//
//go:embed assets/model_data.wgsl
var GPUModelDataSource string

// GPUModelData is the GPU-aligned representation of a single instance's
// model matrix, written into the instancer's per-instance storage buffer.
// Matches the WGSL ModelData struct layout exactly (see GPUModelDataSource).
// Size: 64 bytes.
type GPUModelData struct {
	ModelMatrix [16]float32
}

// Size returns the size of the GPUModelData struct in bytes.
func (m *GPUModelData) Size() int {
	return int(unsafe.Sizeof(*m))
}

// Marshal serializes the GPUModelData struct into a byte buffer suitable for
// GPU storage-buffer upload.
func (m *GPUModelData) Marshal() []byte {
	buf := make([]byte, 64)
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(m.ModelMatrix[i]))
	}
	return buf
}

// MarshalInstances packs a slice of per-instance model matrices into a
// single storage-buffer-ready byte slice, 64 bytes per matrix.
func MarshalInstances(matrices [][16]float32) []byte {
	buf := make([]byte, len(matrices)*64)
	for i, m := range matrices {
		gm := GPUModelData{ModelMatrix: m}
		copy(buf[i*64:(i+1)*64], gm.Marshal())
	}
	return buf
}
