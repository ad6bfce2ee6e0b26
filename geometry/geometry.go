// Package geometry synthesizes scene-index data source containers from
// plain-old-data descriptors, grounded on original_source/geometry.cpp's
// four builder shapes: mesh, basis-curve, instancer, and material. Skinning
// weights are out of scope per the animation Non-goal, so the mesh builder
// only carries the static-topology shape.
package geometry

import "github.com/meridian-gfx/viewport/common"

// MeshDescriptor is the plain-data shape of a static mesh, matched against
// the scene index's "mesh" schema token.
type MeshDescriptor struct {
	Points    [][3]float32
	Normals   [][3]float32
	UVs       [][2]float32
	Indices   []uint32
	// FaceVertexCounts mirrors USD's polygon soup representation; for a
	// purely triangulated mesh every entry is 3, but curved or n-gon sources
	// may carry larger counts before server-side triangulation.
	FaceVertexCounts []int
}

// BasisCurveDescriptor is the plain-data shape of a polyline/basis-curve
// primitive, matched against the "basisCurves" schema token.
type BasisCurveDescriptor struct {
	Points       [][3]float32
	Widths       []float32
	VertexCounts []int
	Closed       bool
}

// InstancerDescriptor is the plain-data shape of a point instancer, matched
// against the "instancerTopology" schema token.
type InstancerDescriptor struct {
	PrototypePaths     []string
	ProtoIndices       []int
	InstanceTransforms [][16]float32
}

// MaterialDescriptor is the plain-data shape of a small preview-surface
// material network, matched against the "materialBindings" schema token.
type MaterialDescriptor struct {
	Material common.ImportedMaterial
}

// BuildMesh synthesizes the "mesh"/"primvars" data source container for a
// static mesh descriptor, ready for contracts.SceneIndex.InsertPrim.
func BuildMesh(d MeshDescriptor) map[string]any {
	return map[string]any{
		"mesh": map[string]any{
			"points":           d.Points,
			"faceVertexIndices": d.Indices,
			"faceVertexCounts": d.FaceVertexCounts,
		},
		"primvars": map[string]any{
			"normals": d.Normals,
			"st":      d.UVs,
		},
	}
}

// BuildBasisCurves synthesizes the "basisCurves" data source container for a
// polyline descriptor.
func BuildBasisCurves(d BasisCurveDescriptor) map[string]any {
	return map[string]any{
		"basisCurves": map[string]any{
			"points":       d.Points,
			"widths":       d.Widths,
			"vertexCounts": d.VertexCounts,
			"closed":       d.Closed,
		},
	}
}

// BuildInstancer synthesizes the "instancerTopology" data source container
// for a point-instancer descriptor.
func BuildInstancer(d InstancerDescriptor) map[string]any {
	return map[string]any{
		"instancerTopology": map[string]any{
			"prototypes":   d.PrototypePaths,
			"protoIndices": d.ProtoIndices,
			"transforms":   d.InstanceTransforms,
		},
	}
}

// BuildMaterial synthesizes the "materialBindings" data source container for
// a preview-surface material descriptor.
func BuildMaterial(d MaterialDescriptor) map[string]any {
	return map[string]any{
		"materialBindings": map[string]any{
			"baseColor": d.Material.BaseColor,
			"metallic":  d.Material.Metallic,
			"roughness": d.Material.Roughness,
			"diffuse":   d.Material.DiffuseTexturePath,
			"normal":    d.Material.NormalTexturePath,
		},
	}
}
