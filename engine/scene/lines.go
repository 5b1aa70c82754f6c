package scene

import (
	"fmt"

	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
)

// MaxLineVertices is the capacity of the line overlay vertex buffer.
const MaxLineVertices = 1_000_000

// LineVertex is one end of a line segment, as laid out in the line pass
// vertex buffer.
type LineVertex struct {
	Position math.Vec3
	Colour   math.Vec3
}

/**
 * @brief Accumulates debug line segments for the line overlay. Segments are
 * stored as vertex pairs of a line list and kept until Clear.
 */
type LineManager struct {
	vertices []LineVertex
	capacity int
}

// NewLineManager creates an accumulator holding at most capacity vertices.
// A non-positive capacity selects MaxLineVertices.
func NewLineManager(capacity int) *LineManager {
	if capacity <= 0 {
		capacity = MaxLineVertices
	}
	return &LineManager{capacity: capacity}
}

func (l *LineManager) reserve(count int) error {
	if len(l.vertices)+count > l.capacity {
		return fmt.Errorf("%d line vertices requested, %d of %d in use: %w", count, len(l.vertices), l.capacity, core.ErrLineCapacity)
	}
	return nil
}

func (l *LineManager) AddLine(from, to, colour math.Vec3) error {
	if err := l.reserve(2); err != nil {
		return err
	}
	l.vertices = append(l.vertices,
		LineVertex{Position: from, Colour: colour},
		LineVertex{Position: to, Colour: colour})
	return nil
}

// AddBezier samples the cubic curve p0..p3 into segments line segments.
func (l *LineManager) AddBezier(p0, p1, p2, p3, colour math.Vec3, segments int) error {
	if segments < 1 {
		segments = 1
	}
	if err := l.reserve(segments * 2); err != nil {
		return err
	}
	prev := p0
	for i := 1; i <= segments; i++ {
		t := float32(i) / float32(segments)
		point := bezierPoint(p0, p1, p2, p3, t)
		l.vertices = append(l.vertices,
			LineVertex{Position: prev, Colour: colour},
			LineVertex{Position: point, Colour: colour})
		prev = point
	}
	return nil
}

func bezierPoint(p0, p1, p2, p3 math.Vec3, t float32) math.Vec3 {
	u := 1 - t
	b0 := u * u * u
	b1 := 3 * u * u * t
	b2 := 3 * u * t * t
	b3 := t * t * t
	return p0.MulScalar(b0).
		Add(p1.MulScalar(b1)).
		Add(p2.MulScalar(b2)).
		Add(p3.MulScalar(b3))
}

// AddBox outlines box with its twelve edges.
func (l *LineManager) AddBox(box math.AABB, colour math.Vec3) error {
	if box.IsEmpty() {
		return nil
	}
	if err := l.reserve(24); err != nil {
		return err
	}
	corner := func(i int) math.Vec3 {
		c := box.Min
		if i&1 != 0 {
			c.X = box.Max.X
		}
		if i&2 != 0 {
			c.Y = box.Max.Y
		}
		if i&4 != 0 {
			c.Z = box.Max.Z
		}
		return c
	}
	for i := 0; i < 8; i++ {
		for _, bit := range []int{1, 2, 4} {
			if i&bit == 0 {
				l.AddLine(corner(i), corner(i|bit), colour)
			}
		}
	}
	return nil
}

func (l *LineManager) Vertices() []LineVertex { return l.vertices }

func (l *LineManager) Len() int { return len(l.vertices) }

func (l *LineManager) Capacity() int { return l.capacity }

func (l *LineManager) Clear() {
	l.vertices = l.vertices[:0]
}
