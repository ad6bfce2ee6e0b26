// Package selection implements SelectionHelper: ownership of the selection
// tracker and picking buffer paths for a pass, and the GPU ID-buffer hit
// aggregation algorithm that turns a raw hit vector into a selection.
package selection

import (
	"fmt"
	"sort"
	"sync"

	"github.com/meridian-gfx/viewport/contracts"
)

// TaskContextSelectionTrackerKey is the well-known TaskContext key under
// which SelectionHelper publishes its SelectionTracker for selection-coloring
// tasks to read.
const TaskContextSelectionTrackerKey = "selection:tracker"

// PickTarget selects what kind of selection entries Pick aggregates hits into.
type PickTarget int

const (
	PickPrimsAndInstances PickTarget = iota
	PickFaces
	PickEdges
	PickPoints
	PickPointsAndInstances
)

// ResolveMode controls how overlapping hits along the same ray are resolved.
type ResolveMode int

const (
	ResolveUnique ResolveMode = iota
	ResolveNearestToCamera
	ResolveDeep
)

// Hit is one raw sample read back from the ID buffers for a single pixel.
type Hit struct {
	ObjectID      string
	DelegateID    string
	InstancerPath string
	InstanceIndex int
	FaceIndex     int // -1 if not applicable
	EdgeIndex     int // -1 if not applicable
	PointIndex    int // -1 if not applicable
}

// PickParams describes one Pick invocation (§4.5 protocol step 1).
type PickParams struct {
	PickTarget   PickTarget
	ResolveMode  ResolveMode
	Collection   string
	ExcludePaths []string
	Hits         *[]Hit // output-hit vector pointer
}

// SelectionSettings holds the per-pass toggles SelectionHelper publishes
// alongside the tracker (enable flag, colors, occluded-selection visibility).
type SelectionSettings struct {
	Enabled             bool
	SelectionColor      [4]float32
	LocateColor         [4]float32
	ShowOccludedEnabled bool
}

// InstanceSelection records a selected instance of an instancer prim.
type InstanceSelection struct {
	ObjectID       string
	InstanceIndex  []int
}

// SubPrimSelection records selected sub-entities (faces/edges/points) of a
// single prim.
type SubPrimSelection struct {
	ObjectID string
	Indices  []int
}

// Selection is the aggregated result of a Pick call.
type Selection struct {
	Rprims    []string
	Instances []InstanceSelection
	Faces     []SubPrimSelection
	Edges     []SubPrimSelection
	Points    []SubPrimSelection
}

// SelectionTracker is the mutable selection state published into the task
// context for selection-coloring tasks to read back each frame.
type SelectionTracker struct {
	mu        sync.Mutex
	selection Selection
	version   int
}

// SetSelection replaces the tracked selection, bumping the version counter.
func (t *SelectionTracker) SetSelection(s Selection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selection = s
	t.version++
}

// GetSelection returns the currently tracked selection.
func (t *SelectionTracker) GetSelection() Selection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selection
}

// Version returns the number of times SetSelection has been called, so
// downstream tasks can detect changes cheaply.
func (t *SelectionTracker) Version() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// SelectionHelper owns the pick buffer paths and picking protocol for one
// pass, and aggregates the raw GPU hit vector into a Selection.
type SelectionHelper interface {
	// SetVisualizeAOV derives primId/instanceId/elementId/depth buffer paths
	// from the pass path when aov is contracts.AovColor; otherwise clears them.
	SetVisualizeAOV(aov contracts.AovName)

	Tracker() *SelectionTracker
	Settings() SelectionSettings
	SetSettings(s SelectionSettings)

	// Pick performs the helper's part of the §4.5 pick protocol: it stores
	// params in ctx and publishes params.Collection through the sync
	// delegate. It does not commit or execute tasks; FramePass.Pick commits
	// the picking bit and executes the picking task subset after calling it.
	Pick(ctx *contracts.TaskContext, params PickParams) error

	// PickConvenience is the (pickTarget, resolveMode, filter) overload: it
	// resolves mode/collection defaults, runs Pick, then PrepareSelection.
	PickConvenience(ctx *contracts.TaskContext, target PickTarget, mode ResolveMode, filter func(objectID string) []string) (Selection, error)

	// PrepareSelection aggregates hits into a Selection per §4.5.
	PrepareSelection(hits []Hit, target PickTarget, filter func(objectID string) []string) (Selection, error)
}

type selectionHelper struct {
	mu sync.Mutex

	passPath string
	sync     contracts.SyncDelegate

	primIDPath     string
	instanceIDPath string
	elementIDPath  string
	depthPath      string

	tracker  *SelectionTracker
	settings SelectionSettings
}

var _ SelectionHelper = &selectionHelper{}

// NewSelectionHelper creates a SelectionHelper rooted at passPath.
func NewSelectionHelper(passPath string, sync contracts.SyncDelegate) SelectionHelper {
	return &selectionHelper{
		passPath: passPath,
		sync:     sync,
		tracker:  &SelectionTracker{},
	}
}

func (h *selectionHelper) SetVisualizeAOV(aov contracts.AovName) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if aov != contracts.AovColor {
		h.primIDPath, h.instanceIDPath, h.elementIDPath, h.depthPath = "", "", "", ""
		return
	}

	h.primIDPath = h.passPath + "/" + string(contracts.AovPrimID)
	h.instanceIDPath = h.passPath + "/" + string(contracts.AovInstanceID)
	h.elementIDPath = h.passPath + "/" + string(contracts.AovElementID)
	h.depthPath = h.passPath + "/" + string(contracts.AovDepth)
}

func (h *selectionHelper) Tracker() *SelectionTracker {
	return h.tracker
}

func (h *selectionHelper) Settings() SelectionSettings {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings
}

func (h *selectionHelper) SetSettings(s SelectionSettings) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settings = s
}

func (h *selectionHelper) Pick(ctx *contracts.TaskContext, params PickParams) error {
	ctx.Set("selection:pickParams", params)
	h.sync.SetValue(h.passPath, "pickCollection", params.Collection)
	return nil
}

func (h *selectionHelper) PickConvenience(ctx *contracts.TaskContext, target PickTarget, mode ResolveMode, filter func(string) []string) (Selection, error) {
	resolvedMode := ResolveUnique
	if target == PickPrimsAndInstances {
		resolvedMode = mode
	}

	collection := "geometry"
	if target != PickPrimsAndInstances {
		// Non-prim targets render through the auxiliary meshPoints repr in
		// wireframe+points mode so per-face/edge/point IDs are sampleable.
		collection = "geometry:meshPoints"
	}

	excludePaths := []string{"/frozen"}

	var hits []Hit
	params := PickParams{
		PickTarget:   target,
		ResolveMode:  resolvedMode,
		Collection:   collection,
		ExcludePaths: excludePaths,
		Hits:         &hits,
	}

	if err := h.Pick(ctx, params); err != nil {
		return Selection{}, err
	}

	return h.PrepareSelection(hits, target, filter)
}

type hitGroup struct {
	objectID      string
	delegateID    string
	instancerPath string
	instanceIndex int
	faces         map[int]struct{}
	edges         map[int]struct{}
	points        map[int]struct{}
}

func hashHit(h Hit) string {
	return fmt.Sprintf("%s|%s|%s|%d", h.ObjectID, h.DelegateID, h.InstancerPath, h.InstanceIndex)
}

func (h *selectionHelper) PrepareSelection(hits []Hit, target PickTarget, filter func(string) []string) (Selection, error) {
	groups := make(map[string]*hitGroup)

	for _, hit := range hits {
		key := hashHit(hit)
		g, ok := groups[key]
		if !ok {
			g = &hitGroup{
				objectID:      hit.ObjectID,
				delegateID:    hit.DelegateID,
				instancerPath: hit.InstancerPath,
				instanceIndex: hit.InstanceIndex,
				faces:         make(map[int]struct{}),
				edges:         make(map[int]struct{}),
				points:        make(map[int]struct{}),
			}
			groups[key] = g
		}
		if hit.FaceIndex >= 0 {
			g.faces[hit.FaceIndex] = struct{}{}
		}
		if hit.EdgeIndex >= 0 {
			g.edges[hit.EdgeIndex] = struct{}{}
		}
		if hit.PointIndex >= 0 {
			g.points[hit.PointIndex] = struct{}{}
		}
	}

	// Flatten to a slice and sort on a total order over (objectID,
	// instancerPath, instanceIndex, delegateID) so repeated picks against
	// identical GPU readback contents always aggregate in the same order,
	// independent of map iteration.
	ordered := make([]*hitGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.objectID != b.objectID {
			return a.objectID < b.objectID
		}
		if a.instancerPath != b.instancerPath {
			return a.instancerPath < b.instancerPath
		}
		if a.instanceIndex != b.instanceIndex {
			return a.instanceIndex < b.instanceIndex
		}
		return a.delegateID < b.delegateID
	})

	var sel Selection

	for _, g := range ordered {

		switch target {
		case PickPrimsAndInstances:
			if g.instancerPath != "" {
				sel.Instances = append(sel.Instances, InstanceSelection{
					ObjectID:      g.instancerPath,
					InstanceIndex: []int{g.instanceIndex},
				})
				continue
			}
			if filter != nil {
				sel.Rprims = append(sel.Rprims, filter(g.objectID)...)
			} else {
				sel.Rprims = append(sel.Rprims, g.objectID)
			}

		case PickFaces:
			sel.Faces = append(sel.Faces, SubPrimSelection{
				ObjectID: g.objectID,
				Indices:  sortedKeys(g.faces),
			})

		case PickEdges:
			if len(g.edges) > 0 {
				sel.Edges = append(sel.Edges, SubPrimSelection{
					ObjectID: g.objectID,
					Indices:  sortedKeys(g.edges),
				})
			}

		case PickPoints, PickPointsAndInstances:
			if g.instancerPath != "" {
				sel.Instances = append(sel.Instances, InstanceSelection{
					ObjectID:      g.instancerPath,
					InstanceIndex: []int{g.instanceIndex},
				})
				continue
			}
			if len(g.points) > 0 {
				sel.Points = append(sel.Points, SubPrimSelection{
					ObjectID: g.objectID,
					Indices:  sortedKeys(g.points),
				})
			}

		default:
			return sel, fmt.Errorf("selection: unrecognized pick target %v", target)
		}
	}

	return sel, nil
}

func sortedKeys(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
