package testbed

import (
	"github.com/chewxy/math32"
	"github.com/spaghettifunk/penumbra/engine"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/spaghettifunk/penumbra/engine/renderer/metadata"
)

const gridHalfSize = 10

var (
	gridColour   = math.NewVec3(0.35, 0.35, 0.35)
	boundsColour = math.NewVec3(0.2, 0.8, 0.2)
	curveColour  = math.NewVec3(0.9, 0.2, 0.6)
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	engine *engine.Engine

	width  uint32
	height uint32

	showGrid   bool
	showBounds bool
	curveTime  float64
}

func NewTestGame(config engine.Config) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Config: config,
			State: &gameState{
				showGrid: true,
			},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(e *engine.Engine) error {
	core.LogDebug("TestGame Initialize fn....")
	state := g.state()
	state.engine = e
	e.EventBus().Register(core.EVENT_CODE_KEY_PRESSED, g, g.gameOnKey)
	core.LogInfo("Controls: WASD/QE move, arrows turn, F1 debug view, F5 reload shaders, F focus, G grid, B bounds, P camera.")
	return nil
}

func (g *TestGame) Update(e *engine.Engine, deltaTime float64) error {
	g.state().curveTime += deltaTime
	return nil
}

// Render adds this frame's debug lines. The engine clears the line manager
// before calling it.
func (g *TestGame) Render(packet *metadata.RenderPacket, deltaTime float64) error {
	state := g.state()
	lines := state.engine.Renderer().Lines()

	if state.showGrid {
		for i := -gridHalfSize; i <= gridHalfSize; i++ {
			f := float32(i)
			if err := lines.AddLine(math.NewVec3(f, 0, -gridHalfSize), math.NewVec3(f, 0, gridHalfSize), gridColour); err != nil {
				return err
			}
			if err := lines.AddLine(math.NewVec3(-gridHalfSize, 0, f), math.NewVec3(gridHalfSize, 0, f), gridColour); err != nil {
				return err
			}
		}
		lift := math32.Sin(float32(state.curveTime)) * 2
		if err := lines.AddBezier(
			math.NewVec3(-gridHalfSize, 0.1, 0),
			math.NewVec3(-3, 3+lift, 4),
			math.NewVec3(3, 3-lift, -4),
			math.NewVec3(gridHalfSize, 0.1, 0),
			curveColour, 64); err != nil {
			return err
		}
	}

	if state.showBounds && packet.Scene != nil {
		for _, obj := range packet.Scene.Objects {
			if err := lines.AddBox(obj.WorldBounds(), boundsColour); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.state()
	state.width = width
	state.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.state()
	if state.engine != nil {
		state.engine.EventBus().Unregister(core.EVENT_CODE_KEY_PRESSED, g)
	}
	return nil
}

func (g *TestGame) gameOnKey(listener interface{}, context core.EventContext) bool {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok {
		return false
	}
	state := g.state()
	switch ke.KeyCode {
	case core.KEY_G:
		state.showGrid = !state.showGrid
		return true
	case core.KEY_B:
		state.showBounds = !state.showBounds
		return true
	case core.KEY_P:
		camera := state.engine.Camera()
		pos := camera.GetPosition()
		rot := camera.GetEulerRotation()
		fps, ms := state.engine.Metrics().Frame()
		core.LogInfo("Camera Pos: [%.3f, %.3f, %.3f] Rot: [%.3f, %.3f, %.3f] | %.0f fps, %.3f ms",
			pos.X, pos.Y, pos.Z, math.RadToDeg(rot.X), math.RadToDeg(rot.Y), math.RadToDeg(rot.Z), fps, ms)
		return true
	}
	return false
}
