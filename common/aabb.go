package common

import "math"

// AABB is an axis-aligned bounding box in world space.
type AABB struct {
	Min [3]float32
	Max [3]float32
}

// Midpoint returns the center of the box.
func (b AABB) Midpoint() [3]float32 {
	return [3]float32{
		(b.Min[0] + b.Max[0]) * 0.5,
		(b.Min[1] + b.Max[1]) * 0.5,
		(b.Min[2] + b.Max[2]) * 0.5,
	}
}

// Size returns the box's extent along each axis.
func (b AABB) Size() [3]float32 {
	return [3]float32{
		b.Max[0] - b.Min[0],
		b.Max[1] - b.Min[1],
		b.Max[2] - b.Min[2],
	}
}

// Diagonal returns the Euclidean length of the box's diagonal, used as the
// scalar "worldSize" in shadow frustum sizing.
func (b AABB) Diagonal() float32 {
	s := b.Size()
	return float32(math.Sqrt(float64(s[0]*s[0] + s[1]*s[1] + s[2]*s[2])))
}

// UnionPoint grows b to include p.
func (b AABB) UnionPoint(p [3]float32) AABB {
	out := b
	for i := 0; i < 3; i++ {
		if p[i] < out.Min[i] {
			out.Min[i] = p[i]
		}
		if p[i] > out.Max[i] {
			out.Max[i] = p[i]
		}
	}
	return out
}

// Union returns the smallest box containing both a and b.
func Union(a, b AABB) AABB {
	out := a
	out = out.UnionPoint(b.Min)
	out = out.UnionPoint(b.Max)
	return out
}

// TransformPoint applies a column-major 4x4 matrix to a point, performing
// the perspective divide.
func TransformPoint(m []float32, p [3]float32) [3]float32 {
	x := m[0]*p[0] + m[4]*p[1] + m[8]*p[2] + m[12]
	y := m[1]*p[0] + m[5]*p[1] + m[9]*p[2] + m[13]
	z := m[2]*p[0] + m[6]*p[1] + m[10]*p[2] + m[14]
	w := m[3]*p[0] + m[7]*p[1] + m[11]*p[2] + m[15]
	if w != 0 && w != 1 {
		x, y, z = x/w, y/w, z/w
	}
	return [3]float32{x, y, z}
}

// TransformAABB transforms all eight corners of b by m and returns the
// smallest axis-aligned box containing the result.
func TransformAABB(m []float32, b AABB) AABB {
	corners := [8][3]float32{
		{b.Min[0], b.Min[1], b.Min[2]},
		{b.Max[0], b.Min[1], b.Min[2]},
		{b.Min[0], b.Max[1], b.Min[2]},
		{b.Max[0], b.Max[1], b.Min[2]},
		{b.Min[0], b.Min[1], b.Max[2]},
		{b.Max[0], b.Min[1], b.Max[2]},
		{b.Min[0], b.Max[1], b.Max[2]},
		{b.Max[0], b.Max[1], b.Max[2]},
	}

	out := AABB{Min: TransformPoint(m, corners[0]), Max: TransformPoint(m, corners[0])}
	for _, c := range corners[1:] {
		out = out.UnionPoint(TransformPoint(m, c))
	}
	return out
}

// Translate writes a column-major 4x4 translation matrix into out.
func Translate(out []float32, x, y, z float32) {
	Identity(out)
	out[12], out[13], out[14] = x, y, z
}

// RotateToAlign writes a column-major 4x4 rotation matrix into out that
// rotates the +Z axis to align with dir (assumed non-zero). Used to build a
// shadow-casting light's view rotation from its direction vector.
func RotateToAlign(out []float32, dir [3]float32) {
	length := float32(math.Sqrt(float64(dir[0]*dir[0] + dir[1]*dir[1] + dir[2]*dir[2])))
	if length == 0 {
		Identity(out)
		return
	}
	fz := [3]float32{dir[0] / length, dir[1] / length, dir[2] / length}

	up := [3]float32{0, 1, 0}
	if math.Abs(float64(fz[1])) > 0.999 {
		up = [3]float32{1, 0, 0}
	}

	fx := cross(up, fz)
	fx = normalize(fx)
	fy := cross(fz, fx)

	Identity(out)
	out[0], out[1], out[2] = fx[0], fx[1], fx[2]
	out[4], out[5], out[6] = fy[0], fy[1], fy[2]
	out[8], out[9], out[10] = fz[0], fz[1], fz[2]
}

func cross(a, b [3]float32) [3]float32 {
	return [3]float32{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(v [3]float32) [3]float32 {
	length := float32(math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])))
	if length == 0 {
		return v
	}
	return [3]float32{v[0] / length, v[1] / length, v[2] / length}
}

// OrthographicOffCenter writes a column-major off-center orthographic
// projection matrix into out, per the WebGPU [0,1] depth-range convention.
func OrthographicOffCenter(out []float32, left, right, bottom, top, near, far float32) {
	Identity(out)
	out[0] = 2.0 / (right - left)
	out[5] = 2.0 / (top - bottom)
	out[10] = 1.0 / (near - far)
	out[12] = (left + right) / (left - right)
	out[13] = (bottom + top) / (bottom - top)
	out[14] = near / (near - far)
	out[15] = 1.0
}
