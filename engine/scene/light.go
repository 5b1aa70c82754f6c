package scene

import "github.com/spaghettifunk/penumbra/engine/math"

type DirectionalLight struct {
	/** @brief The direction the light travels in, world space. */
	Direction math.Vec3
	Colour    math.Vec3
	Intensity float32
}

func NewDirectionalLight() DirectionalLight {
	return DirectionalLight{
		Direction: math.NewVec3(-0.3, -1.0, -0.2).Normalize(),
		Colour:    math.NewVec3One(),
		Intensity: 1.0,
	}
}

/**
 * @brief A point light. The field order matches the std430 layout of the
 * lighting pass light buffer: two vec4s per light.
 */
type PointLight struct {
	Position  math.Vec3
	Radius    float32
	Colour    math.Vec3
	Intensity float32
}
