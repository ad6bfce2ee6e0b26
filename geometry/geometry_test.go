package geometry

import "testing"

func TestBuildMeshProducesMeshAndPrimvars(t *testing.T) {
	d := MeshDescriptor{
		Points:           [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Normals:          [][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		UVs:              [][2]float32{{0, 0}, {1, 0}, {0, 1}},
		Indices:          []uint32{0, 1, 2},
		FaceVertexCounts: []int{3},
	}

	ds := BuildMesh(d)

	mesh, ok := ds["mesh"].(map[string]any)
	if !ok {
		t.Fatalf("expected mesh data source container")
	}
	if pts, ok := mesh["points"].([][3]float32); !ok || len(pts) != 3 {
		t.Fatalf("expected 3 points in mesh data source, got %v", mesh["points"])
	}

	primvars, ok := ds["primvars"].(map[string]any)
	if !ok {
		t.Fatalf("expected primvars data source container")
	}
	if normals, ok := primvars["normals"].([][3]float32); !ok || len(normals) != 3 {
		t.Fatalf("expected 3 normals in primvars, got %v", primvars["normals"])
	}
}

func TestBuildInstancerCarriesTransformsInOrder(t *testing.T) {
	d := InstancerDescriptor{
		PrototypePaths:     []string{"/proto/cube"},
		ProtoIndices:       []int{0, 0, 0},
		InstanceTransforms: [][16]float32{{}, {}, {}},
	}

	ds := BuildInstancer(d)
	topo := ds["instancerTopology"].(map[string]any)
	transforms := topo["transforms"].([][16]float32)
	if len(transforms) != 3 {
		t.Fatalf("expected 3 instance transforms, got %d", len(transforms))
	}
}

func TestGPUVertexMarshalSize(t *testing.T) {
	v := GPUVertex{Position: [3]float32{1, 2, 3}, Normal: [3]float32{0, 1, 0}, UV: [2]float32{0.5, 0.5}}
	buf := v.Marshal()
	if len(buf) != v.Size() {
		t.Fatalf("marshaled buffer length %d does not match Size() %d", len(buf), v.Size())
	}
}

func TestMarshalInstancesLength(t *testing.T) {
	matrices := make([][16]float32, 4)
	buf := MarshalInstances(matrices)
	if len(buf) != 4*64 {
		t.Fatalf("expected %d bytes, got %d", 4*64, len(buf))
	}
}
