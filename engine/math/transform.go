package math

/**
 * @brief Represents the transform of an object in the world. Transforms form
 * a tree; world values are derived lazily from the local values and the
 * parent chain, gated by dirty flags that propagate to children.
 *
 * World position is the parent world position plus the local position. The
 * parent's rotation and scale are not applied to the offset.
 */
type Transform struct {
	localPosition Vec3
	localRotation Quaternion
	localScale    Vec3

	worldPosition Vec3
	worldRotation Quaternion
	worldScale    Vec3
	worldMatrix   Mat4

	positionDirty bool
	rotationDirty bool
	scaleDirty    bool
	matrixDirty   bool

	parent   *Transform
	children []*Transform

	// number of world matrix rebuilds, for profiling
	recomputes uint64
}

func TransformCreate() *Transform {
	return TransformFromPositionRotationScale(NewVec3Zero(), NewQuatIdentity(), NewVec3One())
}

func TransformFromPosition(position Vec3) *Transform {
	return TransformFromPositionRotationScale(position, NewQuatIdentity(), NewVec3One())
}

func TransformFromPositionRotationScale(position Vec3, rotation Quaternion, scale Vec3) *Transform {
	t := &Transform{
		localPosition: position,
		localRotation: rotation,
		localScale:    scale,
	}
	t.setPositionDirty()
	t.setRotationDirty()
	t.setScaleDirty()
	return t
}

func (t *Transform) Parent() *Transform {
	return t.parent
}

func (t *Transform) Children() []*Transform {
	return t.children
}

func (t *Transform) LocalPosition() Vec3 {
	return t.localPosition
}

func (t *Transform) LocalRotation() Quaternion {
	return t.localRotation
}

func (t *Transform) LocalScale() Vec3 {
	return t.localScale
}

func (t *Transform) SetLocalPosition(position Vec3) {
	t.localPosition = position
	t.setPositionDirty()
}

func (t *Transform) SetLocalRotation(rotation Quaternion) {
	t.localRotation = rotation
	t.setRotationDirty()
}

// SetLocalRotationEuler takes degrees, applied X then Y then Z.
func (t *Transform) SetLocalRotationEuler(x, y, z float32) {
	qx := NewQuatFromAxisAngle(NewVec3Right(), DegToRad(x), true)
	qy := NewQuatFromAxisAngle(NewVec3Up(), DegToRad(y), true)
	qz := NewQuatFromAxisAngle(NewVec3Back(), DegToRad(z), true)
	t.SetLocalRotation(qz.Mul(qy).Mul(qx))
}

func (t *Transform) SetLocalScale(scale Vec3) {
	t.localScale = scale
	t.setScaleDirty()
}

func (t *Transform) SetWorldPosition(position Vec3) {
	if t.parent == nil {
		t.SetLocalPosition(position)
		return
	}
	t.SetLocalPosition(position.Sub(t.parent.WorldPosition()))
}

func (t *Transform) SetWorldRotation(rotation Quaternion) {
	if t.parent == nil {
		t.SetLocalRotation(rotation)
		return
	}
	t.SetLocalRotation(t.parent.WorldRotation().Inverse().Mul(rotation))
}

func (t *Transform) SetWorldScale(scale Vec3) {
	if t.parent == nil {
		t.SetLocalScale(scale)
		return
	}
	t.SetLocalScale(scale.Div(t.parent.WorldScale()))
}

func (t *Transform) WorldPosition() Vec3 {
	if t.positionDirty {
		if t.parent != nil {
			t.worldPosition = t.parent.WorldPosition().Add(t.localPosition)
		} else {
			t.worldPosition = t.localPosition
		}
		t.positionDirty = false
	}
	return t.worldPosition
}

func (t *Transform) WorldRotation() Quaternion {
	if t.rotationDirty {
		if t.parent != nil {
			t.worldRotation = t.parent.WorldRotation().Mul(t.localRotation)
		} else {
			t.worldRotation = t.localRotation
		}
		t.rotationDirty = false
	}
	return t.worldRotation
}

func (t *Transform) WorldScale() Vec3 {
	if t.scaleDirty {
		if t.parent != nil {
			t.worldScale = t.localScale.Mul(t.parent.WorldScale())
		} else {
			t.worldScale = t.localScale
		}
		t.scaleDirty = false
	}
	return t.worldScale
}

// WorldMatrix returns translate * rotate * scale of the world values.
func (t *Transform) WorldMatrix() Mat4 {
	if t.matrixDirty {
		s := NewMat4Scale(t.WorldScale())
		r := t.WorldRotation().ToMat4()
		tr := NewMat4Translation(t.WorldPosition())
		t.worldMatrix = s.Mul(r).Mul(tr)
		t.matrixDirty = false
		t.recomputes++
	}
	return t.worldMatrix
}

func (t *Transform) IsDirty() bool {
	return t.matrixDirty
}

func (t *Transform) Recomputes() uint64 {
	return t.recomputes
}

// SetParent reparents t. A nil parent detaches it. When keepWorld is set the
// world position is preserved. Reparenting under a descendant is ignored.
func (t *Transform) SetParent(parent *Transform, keepWorld bool) {
	if parent == t.parent || parent == t || t.isAncestorOf(parent) {
		return
	}

	worldPosition := t.WorldPosition()
	if t.parent != nil {
		t.parent.removeChild(t)
	}
	t.parent = parent
	if parent != nil {
		parent.children = append(parent.children, t)
	}

	switch {
	case parent == nil:
		t.localPosition = worldPosition
	case keepWorld:
		t.localPosition = worldPosition.Sub(parent.WorldPosition())
	}

	t.setPositionDirty()
	t.setRotationDirty()
	t.setScaleDirty()
}

// Detach removes t from the tree, leaving its children parented to nothing.
func (t *Transform) Detach() {
	t.SetParent(nil, true)
	for len(t.children) > 0 {
		t.children[0].SetParent(nil, true)
	}
}

func (t *Transform) isAncestorOf(other *Transform) bool {
	for p := other; p != nil; p = p.parent {
		if p == t {
			return true
		}
	}
	return false
}

func (t *Transform) removeChild(child *Transform) {
	for i, c := range t.children {
		if c == child {
			t.children = append(t.children[:i], t.children[i+1:]...)
			return
		}
	}
}

func (t *Transform) setPositionDirty() {
	t.positionDirty = true
	t.matrixDirty = true
	for _, c := range t.children {
		c.setPositionDirty()
	}
}

func (t *Transform) setRotationDirty() {
	t.rotationDirty = true
	t.matrixDirty = true
	for _, c := range t.children {
		c.setRotationDirty()
	}
}

func (t *Transform) setScaleDirty() {
	t.scaleDirty = true
	t.matrixDirty = true
	for _, c := range t.children {
		c.setScaleDirty()
	}
}
