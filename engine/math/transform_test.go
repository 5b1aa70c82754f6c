package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformWorldPositionFollowsParent(t *testing.T) {
	root := TransformFromPosition(NewVec3(1, 0, 0))
	child := TransformFromPosition(NewVec3(0, 2, 0))
	child.SetParent(root, false)

	assert.Equal(t, NewVec3(1, 2, 0), child.WorldPosition())

	root.SetLocalPosition(NewVec3(5, 0, 0))
	assert.True(t, child.IsDirty())
	assert.Equal(t, NewVec3(5, 2, 0), child.WorldPosition())

	m := child.WorldMatrix()
	assert.Equal(t, float32(5), m.Data[12])
	assert.Equal(t, float32(2), m.Data[13])
}

func TestTransformRecomputesOncePerDirtyNode(t *testing.T) {
	root := TransformCreate()
	a := TransformCreate()
	b := TransformCreate()
	a.SetParent(root, false)
	b.SetParent(a, false)

	for _, n := range []*Transform{root, a, b} {
		n.WorldMatrix()
		n.WorldMatrix()
	}
	assert.Equal(t, uint64(1), root.Recomputes())
	assert.Equal(t, uint64(1), a.Recomputes())
	assert.Equal(t, uint64(1), b.Recomputes())

	// Dirtying the middle node leaves the root clean.
	a.SetLocalScale(NewVec3(2, 2, 2))
	assert.False(t, root.IsDirty())
	assert.True(t, a.IsDirty())
	assert.True(t, b.IsDirty())

	for i := 0; i < 3; i++ {
		b.WorldMatrix()
		a.WorldMatrix()
		root.WorldMatrix()
	}
	assert.Equal(t, uint64(1), root.Recomputes())
	assert.Equal(t, uint64(2), a.Recomputes())
	assert.Equal(t, uint64(2), b.Recomputes())
	assert.Equal(t, NewVec3(2, 2, 2), b.WorldScale())
}

func TestTransformSetParentKeepsWorldPosition(t *testing.T) {
	root := TransformFromPosition(NewVec3(10, 0, 0))
	child := TransformFromPosition(NewVec3(3, 0, 0))
	child.SetParent(root, true)

	assert.Equal(t, NewVec3(3, 0, 0), child.WorldPosition())
	assert.Equal(t, NewVec3(-7, 0, 0), child.LocalPosition())

	child.SetParent(nil, true)
	assert.Equal(t, NewVec3(3, 0, 0), child.LocalPosition())
	assert.Empty(t, root.Children())
}

func TestTransformRejectsCycles(t *testing.T) {
	root := TransformCreate()
	child := TransformCreate()
	child.SetParent(root, false)

	root.SetParent(child, false)
	assert.Nil(t, root.Parent())
	root.SetParent(root, false)
	assert.Nil(t, root.Parent())
	require.Len(t, root.Children(), 1)
}

func TestTransformWorldRotationComposes(t *testing.T) {
	root := TransformCreate()
	child := TransformCreate()
	child.SetParent(root, false)

	quarter := NewQuatFromAxisAngle(NewVec3Up(), K_HALF_PI, true)
	root.SetLocalRotation(quarter)
	child.SetLocalRotation(quarter)

	v := child.WorldRotation().Rotate(NewVec3(1, 0, 0))
	assert.True(t, v.Compare(NewVec3(-1, 0, 0), 1e-5), "got %v", v)

	child.SetWorldRotation(NewQuatIdentity())
	v = child.WorldRotation().Rotate(NewVec3(1, 0, 0))
	assert.True(t, v.Compare(NewVec3(1, 0, 0), 1e-5), "got %v", v)
}
