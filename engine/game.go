package engine

import (
	"github.com/spaghettifunk/penumbra/engine/renderer/metadata"
)

// Game plugs application code into the engine loop. Every hook is optional
// and runs on the main thread.
type Game struct {
	Config       Config
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

type Initialize func(e *Engine) error
type Update func(e *Engine, deltaTime float64) error

// Render runs after the packet is built and before it is drawn.
type Render func(packet *metadata.RenderPacket, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
