package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type listener struct{ name string }

func TestEventBusStopsAtFirstHandler(t *testing.T) {
	bus := NewEventBus()
	a, b := &listener{"a"}, &listener{"b"}
	var calls []string

	handler := func(handled bool) FnOnEvent {
		return func(l interface{}, ctx EventContext) bool {
			calls = append(calls, l.(*listener).name)
			return handled
		}
	}
	assert.True(t, bus.Register(EVENT_CODE_RESIZED, a, handler(true)))
	assert.True(t, bus.Register(EVENT_CODE_RESIZED, b, handler(false)))
	assert.False(t, bus.Register(EVENT_CODE_RESIZED, a, handler(false)), "duplicate listener")

	assert.True(t, bus.Fire(EventContext{Type: EVENT_CODE_RESIZED, Data: &ResizeEvent{Width: 1, Height: 1}}))
	assert.Equal(t, []string{"a"}, calls)

	assert.True(t, bus.Unregister(EVENT_CODE_RESIZED, a))
	assert.False(t, bus.Unregister(EVENT_CODE_RESIZED, a))

	calls = nil
	assert.False(t, bus.Fire(EventContext{Type: EVENT_CODE_RESIZED}))
	assert.Equal(t, []string{"b"}, calls)
}

func TestInputFiresOnlyOnChange(t *testing.T) {
	bus := NewEventBus()
	in := NewInput(bus)
	var keys []KeyCode
	bus.Register(EVENT_CODE_KEY_PRESSED, in, func(_ interface{}, ctx EventContext) bool {
		keys = append(keys, ctx.Data.(*KeyEvent).KeyCode)
		return true
	})

	in.ProcessKey(KEY_W, true)
	in.ProcessKey(KEY_W, true)
	assert.Equal(t, []KeyCode{KEY_W}, keys)
	assert.True(t, in.IsKeyDown(KEY_W))
	assert.True(t, in.WasKeyUp(KEY_W))

	in.Update()
	assert.True(t, in.WasKeyDown(KEY_W))
}
