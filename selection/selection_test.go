package selection

import (
	"reflect"
	"sort"
	"testing"
)

func TestPrepareSelectionPrimsUnionsAcrossHits(t *testing.T) {
	h := NewSelectionHelper("/pass0", nil).(*selectionHelper)

	hits := []Hit{
		{ObjectID: "/mesh0", FaceIndex: -1, EdgeIndex: -1, PointIndex: -1},
		{ObjectID: "/mesh1", FaceIndex: -1, EdgeIndex: -1, PointIndex: -1},
		{ObjectID: "/mesh0", FaceIndex: -1, EdgeIndex: -1, PointIndex: -1}, // duplicate hash
	}

	sel, err := h.PrepareSelection(hits, PickPrimsAndInstances, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sort.Strings(sel.Rprims)
	want := []string{"/mesh0", "/mesh1"}
	if !reflect.DeepEqual(sel.Rprims, want) {
		t.Fatalf("got %v, want %v", sel.Rprims, want)
	}
}

func TestPrepareSelectionInstancerRecordsInstance(t *testing.T) {
	h := NewSelectionHelper("/pass0", nil).(*selectionHelper)

	hits := []Hit{
		{ObjectID: "/proto0", InstancerPath: "/instancer0", InstanceIndex: 3, FaceIndex: -1, EdgeIndex: -1, PointIndex: -1},
	}

	sel, err := h.PrepareSelection(hits, PickPrimsAndInstances, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sel.Instances) != 1 {
		t.Fatalf("expected one instance selection, got %d", len(sel.Instances))
	}
	if sel.Instances[0].ObjectID != "/instancer0" || sel.Instances[0].InstanceIndex[0] != 3 {
		t.Fatalf("unexpected instance selection: %+v", sel.Instances[0])
	}
}

func TestPrepareSelectionFacesUnionIndices(t *testing.T) {
	h := NewSelectionHelper("/pass0", nil).(*selectionHelper)

	hits := []Hit{
		{ObjectID: "/mesh0", FaceIndex: 2, EdgeIndex: -1, PointIndex: -1},
		{ObjectID: "/mesh0", FaceIndex: 5, EdgeIndex: -1, PointIndex: -1},
		{ObjectID: "/mesh0", FaceIndex: 2, EdgeIndex: -1, PointIndex: -1},
	}

	sel, err := h.PrepareSelection(hits, PickFaces, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sel.Faces) != 1 {
		t.Fatalf("expected one face group, got %d", len(sel.Faces))
	}
	want := []int{2, 5}
	if !reflect.DeepEqual(sel.Faces[0].Indices, want) {
		t.Fatalf("got %v, want %v", sel.Faces[0].Indices, want)
	}
}

func TestPrepareSelectionEdgesExcludesEmptyGroups(t *testing.T) {
	h := NewSelectionHelper("/pass0", nil).(*selectionHelper)

	hits := []Hit{
		{ObjectID: "/mesh0", FaceIndex: -1, EdgeIndex: -1, PointIndex: -1},
	}

	sel, err := h.PrepareSelection(hits, PickEdges, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sel.Edges) != 0 {
		t.Fatalf("expected no edge selections when all edge indices are -1, got %d", len(sel.Edges))
	}
}

func TestPrepareSelectionUnrecognizedTargetErrors(t *testing.T) {
	h := NewSelectionHelper("/pass0", nil).(*selectionHelper)

	_, err := h.PrepareSelection([]Hit{{ObjectID: "/mesh0", FaceIndex: -1, EdgeIndex: -1, PointIndex: -1}}, PickTarget(99), nil)
	if err == nil {
		t.Fatalf("expected error for unrecognized pick target")
	}
}

func TestSetVisualizeAOVDerivesAndClearsPaths(t *testing.T) {
	h := NewSelectionHelper("/pass0", nil)

	h.SetVisualizeAOV("color")
	impl := h.(*selectionHelper)
	if impl.primIDPath == "" || impl.instanceIDPath == "" || impl.elementIDPath == "" || impl.depthPath == "" {
		t.Fatalf("expected buffer paths to be derived when visualized AOV is color")
	}

	h.SetVisualizeAOV("Neye")
	if impl.primIDPath != "" || impl.instanceIDPath != "" || impl.elementIDPath != "" || impl.depthPath != "" {
		t.Fatalf("expected buffer paths to be cleared when visualized AOV is not color")
	}
}

func TestGPUSelectionParamsMarshalSize(t *testing.T) {
	p := &GPUSelectionParams{
		SelectionColor:      [4]float32{1, 1, 0, 1},
		LocateColor:         [4]float32{0, 1, 1, 1},
		ShowOccludedEnabled: 1,
	}
	if p.Size() != 48 {
		t.Fatalf("expected 48-byte struct, got %d", p.Size())
	}
	if len(p.Marshal()) != 48 {
		t.Fatalf("expected 48-byte marshaled buffer, got %d", len(p.Marshal()))
	}
}
