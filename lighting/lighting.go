// Package lighting implements LightingManager: reconciliation of a pass's
// light SPrims against the application-supplied active light list, and
// shadow frustum computation for shadow-casting lights.
package lighting

import (
	"fmt"
	"math"
	"sync"

	"github.com/meridian-gfx/viewport/common"
	"github.com/meridian-gfx/viewport/contracts"
)

// Dirty bits marked on a light SPrim after reconciliation.
const (
	DirtyParams       uint32 = 1 << 0
	DirtyTransform    uint32 = 1 << 1
	DirtyShadowParams uint32 = 1 << 2
)

// defaultCameraLightAngle/Intensity are the fallback parameters used when a
// camera light is represented as a distantLight because the delegate does
// not support simpleLight.
const (
	defaultCameraLightAngle     = 0.53
	defaultCameraLightIntensity = 15000
)

// epsilon is the per-component change threshold below which the shadow
// matrix computation is skipped and the memoized result is reused.
const epsilon = 1e-4

// LightKind selects which SPrim kind an ActiveLight reconciles to.
type LightKind int

const (
	LightCamera LightKind = iota
	LightDistant
	LightDome
)

// ShadowParams describes a shadow-casting light's shadow map configuration.
type ShadowParams struct {
	Resolution int
	Blur       float32
	Matrix     ShadowMatrix
}

// ShadowMatrix is an orthographic view-projection computed to cover a world
// bounding box from a light's point of view.
type ShadowMatrix struct {
	View       [16]float32
	Projection [16]float32
}

// ActiveLight is the application-supplied description of one light for the
// current frame.
type ActiveLight struct {
	Kind         LightKind
	Intensity    float32
	Exposure     float32
	Normalize    bool
	Color        [3]float32
	Transform    [16]float32
	Params       map[string]any
	TextureFile  string // dome lights only
	CastsShadows bool
}

func (a ActiveLight) equalParams(b ActiveLight) bool {
	if a.Kind != b.Kind || a.Intensity != b.Intensity || a.Exposure != b.Exposure ||
		a.Normalize != b.Normalize || a.Color != b.Color || a.Transform != b.Transform ||
		a.TextureFile != b.TextureFile || a.CastsShadows != b.CastsShadows {
		return false
	}
	if len(a.Params) != len(b.Params) {
		return false
	}
	for k, v := range a.Params {
		if bv, ok := b.Params[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// CameraState is the subset of camera state LightingManager needs to build
// per-frame material-network light transforms.
type CameraState struct {
	ViewInverse [16]float32
}

type shadowMemo struct {
	valid     bool
	box       common.AABB
	direction [3]float32
	position  [3]float32
	matrix    ShadowMatrix
}

type ownedLight struct {
	path       string
	sprimKind  contracts.SprimKind
	current    ActiveLight
	frameXform [16]float32
	haveFrame  bool
	shadow     shadowMemo
}

// LightingManager owns a pass's light SPrims and reconciles them against the
// application-supplied active light list every frame.
type LightingManager interface {
	// SetLighting reconciles the owned light SPrims against activeLights per
	// the growth/diff/dirty protocol. worldExtent and camera feed shadow
	// matrix computation and material-network transform generation.
	SetLighting(activeLights []ActiveLight, worldExtent common.AABB, camera CameraState) error

	// UseLighting reports whether any lights are currently active.
	UseLighting() bool

	// LightPaths returns the owned light SPrim paths in index order.
	LightPaths() []string
}

type lightingManager struct {
	mu sync.Mutex

	passPath string
	index    *contracts.RenderIndex

	lights      []ownedLight
	useLighting bool
}

var _ LightingManager = &lightingManager{}

// NewLightingManager creates a LightingManager rooted at passPath.
func NewLightingManager(passPath string, index *contracts.RenderIndex) LightingManager {
	return &lightingManager{passPath: passPath, index: index}
}

func sprimKindFor(kind LightKind, delegate contracts.RenderDelegate) contracts.SprimKind {
	switch kind {
	case LightCamera:
		if delegate.IsSprimTypeSupported(contracts.SprimCameraLight) {
			return contracts.SprimCameraLight
		}
		return contracts.SprimDistantLight
	case LightDome:
		return contracts.SprimDomeLight
	default:
		return contracts.SprimDistantLight
	}
}

func (m *lightingManager) SetLighting(activeLights []ActiveLight, worldExtent common.AABB, camera CameraState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delegate := m.index.Delegate
	materialNetworkLighting := delegate.GetRendererDisplayName() != "Storm"

	// Step 1: grow/shrink the owned light-path list.
	for len(m.lights) < len(activeLights) {
		i := len(m.lights)
		path := fmt.Sprintf("%s/light%d", m.passPath, i)
		kind := sprimKindFor(activeLights[i].Kind, delegate)
		m.index.Scene.InsertPrim(path, string(kind), nil)
		m.lights = append(m.lights, ownedLight{path: path, sprimKind: kind})
	}
	for len(m.lights) > len(activeLights) {
		last := m.lights[len(m.lights)-1]
		m.index.Scene.RemovePrim(last.path)
		m.lights = m.lights[:len(m.lights)-1]
	}

	m.useLighting = len(activeLights) > 0

	for i, want := range activeLights {
		owned := &m.lights[i]
		wantKind := sprimKindFor(want.Kind, delegate)

		dirty := uint32(0)
		paramsChanged := owned.sprimKind != wantKind || !owned.current.equalParams(want)

		if paramsChanged {
			if owned.sprimKind != wantKind {
				m.index.Scene.RemovePrim(owned.path)
				m.index.Scene.InsertPrim(owned.path, string(wantKind), nil)
				owned.sprimKind = wantKind
			}

			ds := map[string]any{
				"intensity": want.Intensity,
				"exposure":  want.Exposure,
				"normalize": want.Normalize,
				"color":     want.Color,
				"transform": want.Transform,
				"params":    want.Params,
			}
			dirty |= DirtyParams | DirtyTransform

			if want.Kind == LightDome {
				ds["textureFile"] = want.TextureFile
				ds["shadowEnable"] = false
			} else {
				var translation [16]float32
				common.Translate(translation[:], want.Transform[12], want.Transform[13], want.Transform[14])
				ds["transform"] = translation
				if want.Kind == LightCamera && owned.sprimKind == contracts.SprimDistantLight {
					ds["angle"] = defaultCameraLightAngle
					ds["intensity"] = defaultCameraLightIntensity
				}
				ds["shadowEnable"] = false
			}

			// A material network node is built for every light kind once the
			// delegate isn't Storm, picking the terminal by kind the same
			// way the dome/non-dome Sprim type is picked above.
			if materialNetworkLighting {
				if want.Kind == LightDome {
					ds["materialNetworkMap"] = "PxrDomeLight"
				} else {
					ds["materialNetworkMap"] = "PxrDistantLight"
				}
			}

			m.index.Scene.InsertPrim(owned.path, string(owned.sprimKind), ds)
			owned.current = want
		}

		// Shadow matrix: memoized independently of the general param diff,
		// recomputed only when box/direction/position move beyond epsilon.
		if want.CastsShadows {
			direction := [3]float32{-want.Transform[8], -want.Transform[9], -want.Transform[10]}
			position := [3]float32{want.Transform[12], want.Transform[13], want.Transform[14]}

			if !owned.shadow.valid ||
				boxChangedBeyondEpsilon(owned.shadow.box, worldExtent) ||
				changedBeyondEpsilon(owned.shadow.direction, direction) ||
				changedBeyondEpsilon(owned.shadow.position, position) {

				matrix := computeShadowMatrix(worldExtent, want, direction, position)
				owned.shadow = shadowMemo{
					valid:     true,
					box:       worldExtent,
					direction: direction,
					position:  position,
					matrix:    matrix,
				}

				m.index.Sync.SetValue(owned.path, "shadowParams", ShadowParams{
					Resolution: 1024,
					Blur:       0.0,
					Matrix:     matrix,
				})
				dirty |= DirtyShadowParams
			}
		} else if owned.shadow.valid {
			owned.shadow = shadowMemo{}
			m.index.Sync.SetValue(owned.path, "shadowParams", nil)
			dirty |= DirtyShadowParams
		}

		// Step 3: per-frame material-network transform.
		if want.Kind != LightDome && materialNetworkLighting {
			var frame [16]float32
			common.Mul4(frame[:], camera.ViewInverse[:], want.Transform[:])
			if !owned.haveFrame || frame != owned.frameXform {
				owned.frameXform = frame
				owned.haveFrame = true
				m.index.Sync.SetValue(owned.path, "frameTransform", frame)
				dirty |= DirtyTransform
			}
		}

		if dirty != 0 {
			m.index.Scene.MarkDirty(owned.path, dirty)
		}
	}

	return nil
}

func (m *lightingManager) UseLighting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.useLighting
}

func (m *lightingManager) LightPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.lights))
	for i, l := range m.lights {
		out[i] = l.path
	}
	return out
}

func changedBeyondEpsilon(a, b [3]float32) bool {
	for i := 0; i < 3; i++ {
		if float32(math.Abs(float64(a[i]-b[i]))) > epsilon {
			return true
		}
	}
	return false
}

func boxChangedBeyondEpsilon(a, b common.AABB) bool {
	return changedBeyondEpsilon(a.Min, b.Min) || changedBeyondEpsilon(a.Max, b.Max)
}

// Shadow frustum fitting constants (§4.4).
const (
	// shadowPushOutFactor and shadowFrustumPadding together set how far a
	// distant light's virtual position is pushed back from the scene
	// midpoint, in units of the world-extent diagonal.
	shadowPushOutFactor  = 1.1
	shadowFrustumPadding = 0.55
	shadowFarPadding     = 1.01
	shadowNearPlane      = 0.1
)

// computeShadowMatrix implements the §4.4 shadow matrix computation: an
// orthographic view-projection covering box from the light's point of view.
func computeShadowMatrix(box common.AABB, light ActiveLight, direction, position [3]float32) ShadowMatrix {
	worldSize := box.Diagonal()

	var lightPos [3]float32
	if light.Kind == LightDistant {
		mid := box.Midpoint()
		pushOut := worldSize * shadowPushOutFactor * shadowFrustumPadding
		lightPos = [3]float32{
			mid[0] - direction[0]*pushOut,
			mid[1] - direction[1]*pushOut,
			mid[2] - direction[2]*pushOut,
		}
	} else {
		lightPos = position
	}

	enclosing := box.UnionPoint(lightPos)
	far := shadowFarPadding * enclosing.Diagonal()
	near := float32(shadowNearPlane)

	var view [16]float32
	var rot [16]float32
	common.RotateToAlign(rot[:], direction)
	var translation [16]float32
	common.Translate(translation[:], -lightPos[0], -lightPos[1], -lightPos[2])
	common.Mul4(view[:], rot[:], translation[:])

	projected := common.TransformAABB(view[:], box)
	sizeX := (projected.Max[0] - projected.Min[0]) * shadowFrustumPadding
	sizeY := (projected.Max[1] - projected.Min[1]) * shadowFrustumPadding

	var proj [16]float32
	common.OrthographicOffCenter(proj[:], -sizeX, sizeX, -sizeY, sizeY, near, far)

	return ShadowMatrix{View: view, Projection: proj}
}
