package math

// AABB is an axis-aligned bounding box. An empty box has Min > Max.
type AABB struct {
	Min Vec3
	Max Vec3
}

func NewAABBEmpty() AABB {
	return AABB{
		Min: Vec3{K_INFINITY, K_INFINITY, K_INFINITY},
		Max: Vec3{-K_INFINITY, -K_INFINITY, -K_INFINITY},
	}
}

func (b AABB) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

func (b AABB) ExpandPoint(p Vec3) AABB {
	return AABB{Min: b.Min.Min(p), Max: b.Max.Max(p)}
}

func (b AABB) Merge(other AABB) AABB {
	if other.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return other
	}
	return AABB{Min: b.Min.Min(other.Min), Max: b.Max.Max(other.Max)}
}

func (b AABB) Center() Vec3 {
	return b.Min.Add(b.Max).MulScalar(0.5)
}

func (b AABB) Size() Vec3 {
	return b.Max.Sub(b.Min)
}

// Transform returns the box enclosing the eight transformed corners.
func (b AABB) Transform(m Mat4) AABB {
	if b.IsEmpty() {
		return b
	}
	out := NewAABBEmpty()
	for i := 0; i < 8; i++ {
		corner := Vec3{b.Min.X, b.Min.Y, b.Min.Z}
		if i&1 != 0 {
			corner.X = b.Max.X
		}
		if i&2 != 0 {
			corner.Y = b.Max.Y
		}
		if i&4 != 0 {
			corner.Z = b.Max.Z
		}
		out = out.ExpandPoint(corner.Transform(m))
	}
	return out
}
