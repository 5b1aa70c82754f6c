package scene

import (
	"github.com/google/uuid"
	"github.com/spaghettifunk/penumbra/engine/math"
)

/**
 * @brief An instance of a model placed in the scene. ObjectID is the small
 * integer written to the selection attachment for picking.
 */
type GameObject struct {
	ID        uuid.UUID
	ObjectID  uint32
	Name      string
	Transform *math.Transform
	Model     *Model
	Visible   bool
}

// WorldBounds is the model bounds moved into world space.
func (g *GameObject) WorldBounds() math.AABB {
	if g.Model == nil {
		return math.NewAABBEmpty()
	}
	return g.Model.Bounds().Transform(g.Transform.WorldMatrix())
}
