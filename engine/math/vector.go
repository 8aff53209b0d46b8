package math

import m "math"

const (
	PI             float32 = 3.14159265358979323846
	DEG2RAD_FACTOR float32 = PI / 180.0
	FLOAT_EPSILON  float32 = 1.192092896e-07
)

func NewVec3(x, y, z float32) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func NewVec3Up() Vec3 {
	return Vec3{Y: 1}
}

func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

func (v Vec3) MulScalar(scalar float32) Vec3 {
	return Vec3{X: v.X * scalar, Y: v.Y * scalar, Z: v.Z * scalar}
}

func (v Vec3) Dot(other Vec3) float32 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

func (v Vec3) Length() float32 {
	return float32(m.Sqrt(float64(v.Dot(v))))
}

// Normalized returns v scaled to unit length. The zero vector is returned
// unchanged.
func (v Vec3) Normalized() Vec3 {
	l := v.Length()
	if l < FLOAT_EPSILON {
		return v
	}
	return v.MulScalar(1 / l)
}

// Compare reports whether every component is within tolerance.
func (v Vec3) Compare(other Vec3, tolerance float32) bool {
	d := v.Sub(other)
	return abs(d.X) <= tolerance && abs(d.Y) <= tolerance && abs(d.Z) <= tolerance
}

func abs(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func DegToRad(degrees float32) float32 {
	return degrees * DEG2RAD_FACTOR
}
