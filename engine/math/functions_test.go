package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func mat4Near(t *testing.T, want, got Mat4) {
	t.Helper()
	for i := range want.Data {
		assert.InDelta(t, want.Data[i], got.Data[i], 1e-4, "element %d", i)
	}
}

func TestLookAtMapsTargetToNegativeZ(t *testing.T) {
	view := NewMat4LookAt(NewVec3(0, 0, 5), NewVec3Zero(), NewVec3Up())
	p := NewVec3Zero().Transform(view)
	assert.True(t, p.Compare(NewVec3(0, 0, -5), 1e-5), "got %v", p)
	assert.True(t, view.Forward().Compare(NewVec3(0, 0, -1), 1e-5))
	assert.True(t, view.Right().Compare(NewVec3(1, 0, 0), 1e-5))
}

func TestPerspectiveDepthRange(t *testing.T) {
	near, far := float32(0.1), float32(100)
	proj := NewMat4Perspective(DegToRad(90), 1, near, far)

	depth := func(z float32) float32 {
		// clip = proj * (0, 0, z, 1)
		clipZ := z*proj.Data[10] + proj.Data[14]
		clipW := z * proj.Data[11]
		return clipZ / clipW
	}
	assert.InDelta(t, 0.0, depth(-near), 1e-5)
	assert.InDelta(t, 1.0, depth(-far), 1e-4)
}

func TestInverseRoundTrip(t *testing.T) {
	m := NewMat4Scale(NewVec3(2, 3, 4)).
		Mul(NewMat4EulerY(0.7)).
		Mul(NewMat4Translation(NewVec3(1, -2, 3)))
	mat4Near(t, NewMat4Identity(), m.Mul(m.Inverse()))
}

func TestMulAppliesLeftFirst(t *testing.T) {
	m := NewMat4Scale(NewVec3(2, 2, 2)).Mul(NewMat4Translation(NewVec3(1, 0, 0)))
	p := NewVec3(1, 0, 0).Transform(m)
	assert.True(t, p.Compare(NewVec3(3, 0, 0), 1e-6), "got %v", p)
}

func TestQuaternionMatchesEuler(t *testing.T) {
	q := NewQuatFromAxisAngle(NewVec3Right(), 0.5, true)
	mat4Near(t, NewMat4EulerX(0.5), q.ToMat4())
}

func TestSlerpEndpoints(t *testing.T) {
	a := NewQuatIdentity()
	b := NewQuatFromAxisAngle(NewVec3Up(), K_HALF_PI, true)
	assert.InDelta(t, 1.0, a.Slerp(b, 0).Dot(a), 1e-5)
	assert.InDelta(t, 1.0, a.Slerp(b, 1).Dot(b), 1e-5)
}

func TestAABBTransform(t *testing.T) {
	box := NewAABBEmpty().ExpandPoint(NewVec3(-1, -1, -1)).ExpandPoint(NewVec3(1, 1, 1))
	moved := box.Transform(NewMat4Translation(NewVec3(10, 0, 0)))
	assert.Equal(t, NewVec3(9, -1, -1), moved.Min)
	assert.Equal(t, NewVec3(11, 1, 1), moved.Max)
	assert.Equal(t, box, box.Merge(NewAABBEmpty()))
	assert.True(t, NewAABBEmpty().IsEmpty())
}

func TestDeduplicateVertices(t *testing.T) {
	v := []Vertex3D{
		{Position: NewVec3(0, 0, 0)},
		{Position: NewVec3(1, 0, 0)},
		{Position: NewVec3(0, 0, 0)},
	}
	idx := []uint32{0, 1, 2}
	out := GeometryDeduplicateVertices(v, idx)
	assert.Len(t, out, 2)
	assert.Equal(t, []uint32{0, 1, 0}, idx)
}
