package math

import (
	"encoding/binary"
	m "math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMat4MulIdentity(t *testing.T) {
	tr := NewMat4Translation(NewVec3(1, 2, 3))
	assert.Equal(t, tr, NewMat4Identity().Mul(tr))
	assert.Equal(t, tr, tr.Mul(NewMat4Identity()))
}

func TestMat4MulOrder(t *testing.T) {
	// Rotate first, then translate.
	model := NewMat4Translation(NewVec3(10, 0, 0)).Mul(NewMat4EulerY(DegToRad(90)))
	p := model.Transform(NewVec3(1, 0, 0))
	assert.True(t, NewVec3(p.X, p.Y, p.Z).Compare(NewVec3(10, 0, -1), 1e-5), "got %+v", p)
}

func TestLookAtMovesEyeToOrigin(t *testing.T) {
	eye := NewVec3(0, 2, 5)
	view := NewMat4LookAt(eye, NewVec3(0, 0, 0), NewVec3Up())

	p := view.Transform(eye)
	assert.True(t, NewVec3(p.X, p.Y, p.Z).Compare(NewVec3(0, 0, 0), 1e-5))

	// The target lies straight ahead, on the negative Z axis.
	p = view.Transform(NewVec3(0, 0, 0))
	assert.InDelta(t, 0, p.X, 1e-5)
	assert.InDelta(t, 0, p.Y, 1e-5)
	assert.InDelta(t, -eye.Length(), p.Z, 1e-5)
}

func TestPerspectiveDepthRange(t *testing.T) {
	proj := NewMat4Perspective(DegToRad(60), 16.0/9.0, 0.1, 100)

	near := proj.Transform(NewVec3(0, 0, -0.1))
	assert.InDelta(t, 0, near.Z/near.W, 1e-5)

	far := proj.Transform(NewVec3(0, 0, -100))
	assert.InDelta(t, 1, far.Z/far.W, 1e-5)

	// Y points down in clip space.
	up := proj.Transform(NewVec3(0, 1, -1))
	assert.Less(t, up.Y/up.W, float32(0))
}

func TestAppendBytes(t *testing.T) {
	b := NewMat4Identity().AppendBytes(nil)
	assert.Len(t, b, 64)
	assert.Equal(t, float32(1), m.Float32frombits(binary.LittleEndian.Uint32(b[0:])))
	assert.Equal(t, float32(0), m.Float32frombits(binary.LittleEndian.Uint32(b[4:])))
	assert.Equal(t, float32(1), m.Float32frombits(binary.LittleEndian.Uint32(b[60:])))
}

func TestNormalizedZero(t *testing.T) {
	assert.Equal(t, Vec3{}, Vec3{}.Normalized())
	assert.InDelta(t, 1, NewVec3(3, 4, 0).Normalized().Length(), 1e-6)
}
