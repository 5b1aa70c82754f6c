package components

import (
	"github.com/chewxy/math32"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
)

/**
 * @brief Represents the scene camera: a fly camera with a perspective
 * projection and a physical exposure model.
 */
type Camera struct {
	/**
	 * @brief The position of this camera.
	 * NOTE: Do not set this directly, use SetPosition() instead
	 * so the view matrix is recalculated when needed.
	 */
	Position math.Vec3
	/**
	 * @brief The rotation of this camera using Euler angles (pitch, yaw, roll).
	 * NOTE: Do not set this directly, use SetEulerRotation() instead
	 * so the view matrix is recalculated when needed.
	 */
	EulerRotation math.Vec3
	/** @brief Internal flag used to determine when the view matrix needs to be rebuilt. */
	IsDirty bool
	/**
	 * @brief The view matrix of this camera.
	 * NOTE: IMPORTANT: Do not get this directly, use GetView() instead
	 * so the view matrix is recalculated when needed.
	 */
	ViewMatrix math.Mat4

	/** @brief Vertical field of view in radians. */
	FOV  float32
	Near float32
	Far  float32

	/** @brief Lens aperture in f-stops. */
	Aperture float32
	/** @brief Shutter speed in seconds. */
	ShutterSpeed float32
	/** @brief Sensor sensitivity. */
	ISO float32

	/** @brief Fly speed in units per second. */
	MoveSpeed float32
	/** @brief Turn speed in radians per second. */
	TurnSpeed float32
}

/** @brief The name of the default camera. */
const DEFAULT_CAMERA_NAME string = "default"

// 89 degrees, keeps the view away from gimbal lock.
const pitchLimit float32 = 1.55334306

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.EulerRotation = math.NewVec3Zero()
	c.Position = math.NewVec3Zero()
	c.IsDirty = true
	c.ViewMatrix = math.NewMat4Identity()
	c.FOV = math.DegToRad(45.0)
	c.Near = 0.1
	c.Far = 1000.0
	c.Aperture = 2.8
	c.ShutterSpeed = 1.0 / 60.0
	c.ISO = 100.0
	c.MoveSpeed = 5.0
	c.TurnSpeed = 1.5
}

func (c *Camera) GetPosition() math.Vec3 {
	return c.Position
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.Position = position
	c.IsDirty = true
}

func (c *Camera) GetEulerRotation() math.Vec3 {
	return c.EulerRotation
}

func (c *Camera) SetEulerRotation(rotation math.Vec3) {
	c.EulerRotation = rotation
	c.EulerRotation.X = math.Clamp(c.EulerRotation.X, -pitchLimit, pitchLimit)
	c.IsDirty = true
}

// direction is the unit forward vector for the current pitch and yaw. Zero
// rotation looks down -Z.
func (c *Camera) direction() math.Vec3 {
	pitch, yaw := c.EulerRotation.X, c.EulerRotation.Y
	return math.NewVec3(
		-math32.Sin(yaw)*math32.Cos(pitch),
		math32.Sin(pitch),
		-math32.Cos(yaw)*math32.Cos(pitch),
	).Normalize()
}

func (c *Camera) GetView() math.Mat4 {
	if c.IsDirty {
		c.ViewMatrix = math.NewMat4LookAt(c.Position, c.Position.Add(c.direction()), math.NewVec3Up())
		c.IsDirty = false
	}
	return c.ViewMatrix
}

// Projection is a right-handed [0, 1] depth perspective without the Vulkan
// Y flip; passes apply the flip when they fill their uniforms.
func (c *Camera) Projection(aspect float32) math.Mat4 {
	return math.NewMat4Perspective(c.FOV, aspect, c.Near, c.Far)
}

func (c *Camera) Forward() math.Vec3 {
	view := c.GetView()
	return view.Forward()
}

func (c *Camera) Backward() math.Vec3 {
	return c.Forward().MulScalar(-1)
}

func (c *Camera) Left() math.Vec3 {
	return c.Right().MulScalar(-1)
}

func (c *Camera) Right() math.Vec3 {
	view := c.GetView()
	return view.Right()
}

func (c *Camera) move(direction math.Vec3, amount float32) {
	c.Position = c.Position.Add(direction.MulScalar(amount))
	c.IsDirty = true
}

func (c *Camera) MoveForward(amount float32)  { c.move(c.Forward(), amount) }
func (c *Camera) MoveBackward(amount float32) { c.move(c.Backward(), amount) }
func (c *Camera) MoveLeft(amount float32)     { c.move(c.Left(), amount) }
func (c *Camera) MoveRight(amount float32)    { c.move(c.Right(), amount) }
func (c *Camera) MoveUp(amount float32)       { c.move(math.NewVec3Up(), amount) }
func (c *Camera) MoveDown(amount float32)     { c.move(math.NewVec3Down(), amount) }

func (c *Camera) Yaw(amount float32) {
	c.EulerRotation.Y += amount
	c.IsDirty = true
}

func (c *Camera) Pitch(amount float32) {
	c.EulerRotation.X += amount

	// Clamp to avoid Gimbal lock.
	c.EulerRotation.X = math.Clamp(c.EulerRotation.X, -pitchLimit, pitchLimit)

	c.IsDirty = true
}

// EV100 is the exposure value at ISO 100 for the camera settings.
func (c *Camera) EV100() float32 {
	return math32.Log2((c.Aperture * c.Aperture) / c.ShutterSpeed * 100.0 / c.ISO)
}

// Exposure is the scale applied to scene luminance before tone mapping.
func (c *Camera) Exposure() float32 {
	return 1.0 / (1.2 * math32.Pow(2.0, c.EV100()))
}

// FocusOn places the camera so that the box fits in the view, keeping the
// current orientation.
func (c *Camera) FocusOn(bounds math.AABB) {
	if bounds.IsEmpty() {
		return
	}
	radius := bounds.Size().Length() * 0.5
	distance := radius / math32.Sin(c.FOV*0.5)
	c.SetPosition(bounds.Center().Sub(c.direction().MulScalar(distance)))
}

// UpdateFlyControls applies WASD/QE movement and arrow key rotation.
func (c *Camera) UpdateFlyControls(input *core.Input, deltaTime float32) {
	step := c.MoveSpeed * deltaTime
	turn := c.TurnSpeed * deltaTime

	if input.IsKeyDown(core.KEY_W) {
		c.MoveForward(step)
	}
	if input.IsKeyDown(core.KEY_S) {
		c.MoveBackward(step)
	}
	if input.IsKeyDown(core.KEY_A) {
		c.MoveLeft(step)
	}
	if input.IsKeyDown(core.KEY_D) {
		c.MoveRight(step)
	}
	if input.IsKeyDown(core.KEY_E) {
		c.MoveUp(step)
	}
	if input.IsKeyDown(core.KEY_Q) {
		c.MoveDown(step)
	}
	if input.IsKeyDown(core.KEY_LEFT) {
		c.Yaw(turn)
	}
	if input.IsKeyDown(core.KEY_RIGHT) {
		c.Yaw(-turn)
	}
	if input.IsKeyDown(core.KEY_UP) {
		c.Pitch(turn)
	}
	if input.IsKeyDown(core.KEY_DOWN) {
		c.Pitch(-turn)
	}
}
