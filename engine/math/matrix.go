package math

import (
	"encoding/binary"
	m "math"
)

func NewMat4Identity() Mat4 {
	out := Mat4{}
	out.Data[0] = 1.0
	out.Data[5] = 1.0
	out.Data[10] = 1.0
	out.Data[15] = 1.0
	return out
}

// Mul returns mt * other, so other is applied first.
func (mt Mat4) Mul(other Mat4) Mat4 {
	out := Mat4{}
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float32
			for i := 0; i < 4; i++ {
				sum += mt.Data[i*4+row] * other.Data[col*4+i]
			}
			out.Data[col*4+row] = sum
		}
	}
	return out
}

// NewMat4Perspective builds a right-handed projection into Vulkan clip
// space: depth in [0, 1] and Y pointing down.
func NewMat4Perspective(fovRadians, aspectRatio, nearClip, farClip float32) Mat4 {
	halfTanFov := float32(m.Tan(float64(fovRadians * 0.5)))
	out := Mat4{}
	out.Data[0] = 1.0 / (aspectRatio * halfTanFov)
	out.Data[5] = -1.0 / halfTanFov
	out.Data[10] = farClip / (nearClip - farClip)
	out.Data[11] = -1.0
	out.Data[14] = (nearClip * farClip) / (nearClip - farClip)
	return out
}

// NewMat4LookAt builds the view matrix of an eye at position looking at
// target.
func NewMat4LookAt(position, target, up Vec3) Mat4 {
	f := target.Sub(position).Normalized()
	s := f.Cross(up).Normalized()
	u := s.Cross(f)

	out := NewMat4Identity()
	out.Data[0] = s.X
	out.Data[4] = s.Y
	out.Data[8] = s.Z
	out.Data[1] = u.X
	out.Data[5] = u.Y
	out.Data[9] = u.Z
	out.Data[2] = -f.X
	out.Data[6] = -f.Y
	out.Data[10] = -f.Z
	out.Data[12] = -s.Dot(position)
	out.Data[13] = -u.Dot(position)
	out.Data[14] = f.Dot(position)
	return out
}

func NewMat4Translation(position Vec3) Mat4 {
	out := NewMat4Identity()
	out.Data[12] = position.X
	out.Data[13] = position.Y
	out.Data[14] = position.Z
	return out
}

func NewMat4EulerY(angleRadians float32) Mat4 {
	out := NewMat4Identity()
	c := float32(m.Cos(float64(angleRadians)))
	s := float32(m.Sin(float64(angleRadians)))
	out.Data[0] = c
	out.Data[2] = -s
	out.Data[8] = s
	out.Data[10] = c
	return out
}

// Transform applies mt to the point v.
func (mt Mat4) Transform(v Vec3) Vec4 {
	d := mt.Data
	return Vec4{
		X: d[0]*v.X + d[4]*v.Y + d[8]*v.Z + d[12],
		Y: d[1]*v.X + d[5]*v.Y + d[9]*v.Z + d[13],
		Z: d[2]*v.X + d[6]*v.Y + d[10]*v.Z + d[14],
		W: d[3]*v.X + d[7]*v.Y + d[11]*v.Z + d[15],
	}
}

// AppendBytes appends the little-endian encoding of the matrix, as laid
// out in a std140/std430 block.
func (mt Mat4) AppendBytes(b []byte) []byte {
	for _, f := range mt.Data {
		b = binary.LittleEndian.AppendUint32(b, m.Float32bits(f))
	}
	return b
}
