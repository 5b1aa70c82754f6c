package platform

import (
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/stretchr/testify/assert"
)

func TestTranslateKey(t *testing.T) {
	for key, want := range map[glfw.Key]core.KeyCode{
		glfw.KeyA:         core.KEY_A,
		glfw.KeyW:         core.KEY_W,
		glfw.KeyZ:         core.KEY_Z,
		glfw.Key7:         core.KeyCode('7'),
		glfw.KeyF5:        core.KEY_F5,
		glfw.KeyKP3:       core.KEY_NUMPAD3,
		glfw.KeyEscape:    core.KEY_ESCAPE,
		glfw.KeyLeftShift: core.KEY_LSHIFT,
		glfw.KeySpace:     core.KEY_SPACE,
	} {
		got, ok := TranslateKey(key)
		assert.True(t, ok, "key %d", key)
		assert.Equal(t, want, got, "key %d", key)
	}

	_, ok := TranslateKey(glfw.KeyUnknown)
	assert.False(t, ok)
}

func TestInputCallbacksReachTheBus(t *testing.T) {
	bus := core.NewEventBus()
	input := core.NewInput(bus)
	p := New(bus, input)

	var resized *core.ResizeEvent
	var quit bool
	bus.Register(core.EVENT_CODE_RESIZED, p, func(listener interface{}, ctx core.EventContext) bool {
		resized = ctx.Data.(*core.ResizeEvent)
		return true
	})
	bus.Register(core.EVENT_CODE_APPLICATION_QUIT, p, func(listener interface{}, ctx core.EventContext) bool {
		quit = true
		return true
	})

	p.keyCallback(nil, glfw.KeyW, 0, glfw.Press, 0)
	assert.True(t, input.IsKeyDown(core.KEY_W))
	p.keyCallback(nil, glfw.KeyW, 0, glfw.Repeat, 0)
	assert.True(t, input.IsKeyDown(core.KEY_W))
	p.keyCallback(nil, glfw.KeyW, 0, glfw.Release, 0)
	assert.False(t, input.IsKeyDown(core.KEY_W))

	p.mouseButtonCallback(nil, glfw.MouseButtonRight, glfw.Press, 0)
	assert.True(t, input.IsButtonDown(core.BUTTON_RIGHT))

	p.cursorPosCallback(nil, -4, 70000)
	x, y := input.MousePosition()
	assert.Equal(t, int32(0), x)
	assert.Equal(t, int32(65535), y)

	p.framebufferSizeCallback(nil, 640, 480)
	if assert.NotNil(t, resized) {
		assert.Equal(t, core.ResizeEvent{Width: 640, Height: 480}, *resized)
	}
	p.closeCallback(nil)
	assert.True(t, quit)
}
