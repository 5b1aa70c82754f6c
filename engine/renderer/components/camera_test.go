package components

import (
	"testing"

	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/stretchr/testify/assert"
)

func TestCameraExposure(t *testing.T) {
	c := NewCamera()
	// f/2.8, 1/60s, ISO 100.
	assert.InDelta(t, 8.878, c.EV100(), 1e-3)
	assert.InDelta(t, 1.0/(1.2*470.4), c.Exposure(), 1e-5)
}

func TestCameraLooksDownNegativeZ(t *testing.T) {
	c := NewCamera()
	assert.True(t, c.Forward().Compare(math.NewVec3(0, 0, -1), 1e-5))
	assert.True(t, c.Right().Compare(math.NewVec3(1, 0, 0), 1e-5))

	c.MoveForward(2)
	assert.True(t, c.GetPosition().Compare(math.NewVec3(0, 0, -2), 1e-5))
	assert.True(t, c.IsDirty)
	c.GetView()
	assert.False(t, c.IsDirty)
}

func TestCameraPitchIsClamped(t *testing.T) {
	c := NewCamera()
	c.Pitch(10)
	assert.Less(t, c.GetEulerRotation().X, math.K_HALF_PI)
}

func TestCameraFocusOn(t *testing.T) {
	c := NewCamera()
	box := math.AABB{Min: math.NewVec3(-1, -1, -11), Max: math.NewVec3(1, 1, -9)}
	c.FocusOn(box)

	pos := c.GetPosition()
	assert.InDelta(t, 0, pos.X, 1e-4)
	assert.Greater(t, pos.Z, box.Max.Z, "camera backs away from the box")

	before := c.GetPosition()
	c.FocusOn(math.NewAABBEmpty())
	assert.Equal(t, before, c.GetPosition())
}

func TestCameraFlyControls(t *testing.T) {
	c := NewCamera()
	input := core.NewInput(core.NewEventBus())
	input.ProcessKey(core.KEY_W, true)
	c.UpdateFlyControls(input, 1)
	assert.InDelta(t, -c.MoveSpeed, c.GetPosition().Z, 1e-4)

	input.ProcessKey(core.KEY_W, false)
	input.ProcessKey(core.KEY_LEFT, true)
	c.UpdateFlyControls(input, 1)
	assert.InDelta(t, c.TurnSpeed, c.GetEulerRotation().Y, 1e-5)
}
