// Package contracts defines the interfaces the orchestration core consumes
// but never implements: the render delegate, the scene index, and the
// shared render index that binds a frame pass to both. Individual task
// implementations and the concrete Hgi backend live outside this package;
// contracts only describes their shape.
package contracts

// AovName identifies a named auxiliary output buffer (color, depth, Neye,
// primId, elementId, instanceId, edgeId, pointId, ...).
type AovName string

// Well-known AOV names used by the default task creation helpers.
const (
	AovColor      AovName = "color"
	AovDepth      AovName = "depth"
	AovNormal     AovName = "Neye"
	AovPrimID     AovName = "primId"
	AovElementID  AovName = "elementId"
	AovInstanceID AovName = "instanceId"
	AovEdgeID     AovName = "edgeId"
	AovPointID    AovName = "pointId"
)

// TagBits classifies a task by the frame phases it participates in.
// Bits are independent and may be combined.
type TagBits uint32

const (
	// TagExecutable marks tasks that run during the normal frame.
	TagExecutable TagBits = 1 << iota
	// TagRender marks the subset of executable tasks that produce pixels.
	TagRender
	// TagPicking marks tasks that run only in isolation during a pick query.
	TagPicking
)

// Has reports whether all bits of mask are set in t.
func (t TagBits) Has(mask TagBits) bool {
	return t&mask == mask
}

// Format identifies a GPU pixel format for an AOV buffer, independent of
// any particular Hgi backend's native format enum.
type Format int

const (
	FormatInvalid Format = iota
	FormatRGBA8Unorm
	FormatRGBA16Float
	FormatRGBA32Float
	FormatR32Float
	FormatRG32Float
	FormatDepth32Float
	FormatR32Uint
)

// AovDescriptor is what a render delegate reports for a requested AOV name.
// A Format of FormatInvalid means the delegate does not support that AOV at
// all and the caller must drop it.
type AovDescriptor struct {
	Format     Format
	ClearValue [4]float32
	MultiSample bool
}

// SprimKind identifies the kind of state prim (SPrim) a light or camera is
// represented as in the scene index.
type SprimKind string

const (
	SprimCameraLight  SprimKind = "simpleLight"
	SprimDistantLight SprimKind = "distantLight"
	SprimDomeLight    SprimKind = "domeLight"
	SprimCamera       SprimKind = "camera"
)

// BprimKind identifies the kind of buffer prim (BPrim) a render buffer is
// represented as in the scene index.
type BprimKind string

const (
	BprimRenderBuffer BprimKind = "renderBuffer"
)

// Task is implemented by every pipeline stage registered with a TaskManager.
// The three-phase Sync/Prepare/Execute split mirrors the render index's own
// per-frame update cycle: Sync pulls dirtied parameters, Prepare reserves GPU
// resources, Execute records draw or compute commands.
type Task interface {
	// Token identifies the task's registered type, independent of its path.
	Token() string

	// Sync is invoked once per frame for enabled tasks, in registration order,
	// before Prepare/Execute. It should pull any dirtied parameters out of the
	// sync delegate via the closure installed by the task's commit function.
	Sync(ctx *TaskContext) error

	// Prepare reserves or validates GPU resources (AOV texture handles,
	// pipelines) the task will need during Execute. Safe to call every frame;
	// implementations should no-op when resources are already valid.
	Prepare(ctx *TaskContext) error

	// Execute records the task's GPU work against the render index's Hgi.
	// Errors are handled per the resource/runtime-graphics error taxonomy:
	// the task should return early and retry on the next frame rather than
	// aborting the whole render.
	Execute(ctx *TaskContext) error
}

// TaskContext is the per-frame scratch state threaded through Sync/Prepare/
// Execute. It is intentionally not an interface: tasks need concrete access
// to the shared Hgi, the active render index, and a small bag of well-known
// values (the selection tracker, pick params) published by FramePass and
// SelectionHelper ahead of execution.
type TaskContext struct {
	Index *RenderIndex

	// Values holds well-known published state keyed by a small set of string
	// constants (see selection.TaskContextSelectionTrackerKey and similar).
	// A plain map mirrors the render index's own task-context pattern in the
	// original toolkit, where arbitrary typed blackboard entries are looked
	// up by token rather than through dedicated interface methods.
	Values map[string]any
}

// Get retrieves a published value by key, returning ok=false if absent.
func (c *TaskContext) Get(key string) (any, bool) {
	if c.Values == nil {
		return nil, false
	}
	v, ok := c.Values[key]
	return v, ok
}

// Set publishes a value under key for downstream tasks to consume.
func (c *TaskContext) Set(key string, v any) {
	if c.Values == nil {
		c.Values = make(map[string]any)
	}
	c.Values[key] = v
}

// SyncDelegate is the per-pass key-value store backing task parameter blocks
// and BPrim/SPrim descriptors. TaskManager, RenderBufferManager and
// LightingManager are the only writers; tasks read through commit-function
// closures captured over it.
type SyncDelegate interface {
	SetValue(path, key string, value any)
	GetValue(path, key string) (any, bool)
	// Clear removes every key recorded under path. Used when a BPrim/SPrim or
	// task record is removed.
	Clear(path string)
}

// RenderDelegate is the external collaborator that turns a render index's
// task list into draw calls. The core only calls it through this contract.
type RenderDelegate interface {
	// Execute runs tasks in order against index.
	Execute(index *RenderIndex, tasks []Task) error

	// GetDefaultAovDescriptor returns the format/clear-value/settings the
	// delegate would use for name. A Format of FormatInvalid rejects the AOV.
	GetDefaultAovDescriptor(name AovName) AovDescriptor

	// IsSprimTypeSupported reports whether the delegate can represent the
	// given SPrim kind (used for light-kind fallback: simpleLight -> distantLight).
	IsSprimTypeSupported(kind SprimKind) bool

	// IsBprimTypeSupported reports whether the delegate supports BPrim-backed
	// AOVs at all. When false, RenderBufferManager self-disables.
	IsBprimTypeSupported(kind BprimKind) bool

	// GetRendererDisplayName identifies the delegate for cross-pass
	// compatibility checks (depth re-bind vs copy).
	GetRendererDisplayName() string

	// GetRenderSetting/SetRenderSetting expose renderer-specific toggles
	// (e.g. Storm vs path-tracer material-network lighting mode).
	GetRenderSetting(key string) (any, bool)
	SetRenderSetting(key string, value any)
}

// SceneIndex is a lazy tree of prims, each exposing a container of typed
// data sources keyed by schema token. The core's geometry builders
// synthesize such containers from plain descriptors; it never walks an
// externally-populated tree itself beyond what LightingManager/
// RenderBufferManager insert.
type SceneIndex interface {
	// InsertPrim adds a prim of kind at path with the given data source
	// container (typically built by the geometry package). Re-inserting an
	// existing path replaces its data source.
	InsertPrim(path string, kind string, dataSource map[string]any)

	// RemovePrim removes the prim at path, if present.
	RemovePrim(path string)

	// MarkDirty records which schema-token fields changed for path so the
	// render delegate can selectively re-pull them during Execute.
	MarkDirty(path string, dirtyBits uint32)

	// Prim returns the data source container at path, or nil if absent.
	Prim(path string) map[string]any
}

// RenderIndex is the shared container of prims, change tracker, and task
// registry against which rendering executes. Multiple FramePass instances
// may reference the same RenderIndex; callers are responsible for
// serializing mutations across passes per the single-threaded-cooperative
// concurrency model.
type RenderIndex struct {
	Delegate RenderDelegate
	Scene    SceneIndex
	Sync     SyncDelegate
}
