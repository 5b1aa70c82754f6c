package engine

import (
	"errors"
	"fmt"
	"sync/atomic"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/spaghettifunk/penumbra/engine/platform"
	"github.com/spaghettifunk/penumbra/engine/renderer"
	"github.com/spaghettifunk/penumbra/engine/renderer/components"
	"github.com/spaghettifunk/penumbra/engine/renderer/metadata"
	"github.com/spaghettifunk/penumbra/engine/renderer/passes"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/spaghettifunk/penumbra/engine/scene"
	"github.com/spaghettifunk/penumbra/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// metricsLogInterval is how often, in seconds, frame metrics are logged.
const metricsLogInterval = 5.0

var selectionColour = math.NewVec3(1, 0.6, 0)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       Config
	isRunning    atomic.Bool
	isSuspended  bool

	bus           *core.EventBus
	input         *core.Input
	platform      *platform.Platform
	systemManager *systems.SystemManager
	driver        *vulkan.VkDriver
	device        *vulkan.Device
	renderer      *renderer.Renderer

	scene    *scene.Scene
	camera   *components.Camera
	spinners []*Spinner
	selected *scene.GameObject

	width  uint32
	height uint32

	clock         *core.Clock
	metrics       *core.Metrics
	lastTime      float64
	sinceMetrics  float64
	pickRequested bool
}

func New(g *Game) (*Engine, error) {
	if err := g.Config.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	core.SetLogLevel(g.Config.Application.LogLevel)

	bus := core.NewEventBus()
	input := core.NewInput(bus)
	return &Engine{
		currentStage: EngineStageBootComplete,
		gameInstance: g,
		config:       g.Config,
		bus:          bus,
		input:        input,
		platform:     platform.New(bus, input),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		camera:       components.NewCamera(),
		width:        g.Config.Application.StartWidth,
		height:       g.Config.Application.StartHeight,
	}, nil
}

func (e *Engine) EventBus() *core.EventBus { return e.bus }

func (e *Engine) Input() *core.Input { return e.input }

func (e *Engine) Renderer() *renderer.Renderer { return e.renderer }

func (e *Engine) Systems() *systems.SystemManager { return e.systemManager }

func (e *Engine) Scene() *scene.Scene { return e.scene }

func (e *Engine) Camera() *components.Camera { return e.camera }

func (e *Engine) Metrics() *core.Metrics { return e.metrics }

// Selected is the object last picked with the left mouse button.
func (e *Engine) Selected() *scene.GameObject { return e.selected }

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageBootComplete {
		return fmt.Errorf("engine cannot initialize from stage %d", e.currentStage)
	}
	e.currentStage = EngineStageInitializing

	app := e.config.Application
	rc := e.config.Renderer

	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.bus.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.bus.Register(core.EVENT_CODE_BUTTON_PRESSED, e, e.onButton)
	e.bus.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	e.bus.Register(core.EVENT_CODE_DEBUG_VIEW_CYCLE, e, e.onDebugViewCycle)

	if err := e.platform.Startup(app.Name, app.StartPosX, app.StartPosY, app.StartWidth, app.StartHeight); err != nil {
		return err
	}
	e.width, e.height = e.platform.FramebufferSize()

	sm, err := systems.NewSystemManager(systems.SystemManagerConfig{
		AssetsDir: rc.AssetsDir,
		ShaderDir: rc.ShaderDir,
		Workers:   rc.Workers,
		FlipY:     rc.FlipTextures,
		Watch:     rc.WatchAssets,
	})
	if err != nil {
		return err
	}
	e.systemManager = sm

	driver, err := vulkan.NewVkDriver(e.platform, vulkan.VkDriverConfig{
		ApplicationName: app.Name,
		Validation:      rc.Validation,
		Requirements:    vulkan.DefaultDeviceRequirements(),
	})
	if err != nil {
		return err
	}
	e.driver = driver

	device, err := vulkan.NewDevice(driver, rc.FenceTimeout.Duration)
	if err != nil {
		driver.Destroy()
		e.driver = nil
		return err
	}
	e.device = device

	r, err := renderer.New(device, renderer.Config{
		Extent:  vk.Extent2D{Width: e.width, Height: e.height},
		VSync:   rc.VSync,
		Shaders: sm.Shaders,
		Shadow: passes.ShadowConfig{
			Size:      rc.ShadowMapSize,
			OrthoSize: rc.ShadowOrthoSize,
			Distance:  rc.ShadowDistance,
		},
		ClearColour: rc.ClearColor,
	})
	if err != nil {
		return err
	}
	e.renderer = r
	r.OnResize = e.onRendererResize

	s, spinners, err := LoadScene(r, sm, e.config.Scene)
	if err != nil {
		return err
	}
	e.scene = s
	e.spinners = spinners
	if len(s.Objects) > 0 {
		e.camera.FocusOn(s.Bounds())
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine cannot run from stage %d", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if e.isSuspended {
			if !e.platform.WaitMessages() {
				e.isRunning.Store(false)
			}
			continue
		}
		if !e.platform.PumpMessages() {
			e.isRunning.Store(false)
			break
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStartTime := e.platform.AbsoluteTime()

		if err := e.frame(delta); err != nil {
			core.LogError("Frame failed, shutting down: %s", err)
			e.isRunning.Store(false)
			return err
		}

		frameElapsedTime := e.platform.AbsoluteTime() - frameStartTime
		e.metrics.Update(frameElapsedTime)
		e.sinceMetrics += delta
		if e.sinceMetrics >= metricsLogInterval {
			e.sinceMetrics = 0
			fps, ms := e.metrics.Frame()
			core.LogDebug("%.0f fps, %.3f ms/frame", fps, ms)
		}

		e.input.Update()
		e.lastTime = currentTime
	}
	return nil
}

// frame runs one iteration of the main loop: asset changes, game update,
// drawing and picking.
func (e *Engine) frame(delta float64) error {
	sm := e.systemManager
	HandleAssetEvents(sm.Assets.Events(), sm.Shaders, e.renderer.RequestPipelineReload)
	if _, err := sm.Textures.Update(e.renderer.Textures()); err != nil {
		return err
	}

	for _, s := range e.spinners {
		s.Update(float32(delta))
	}
	e.camera.UpdateFlyControls(e.input, float32(delta))

	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(e, delta); err != nil {
			return fmt.Errorf("game update: %w", err)
		}
	}

	lines := e.renderer.Lines()
	lines.Clear()
	if e.selected != nil {
		if err := lines.AddBox(e.selected.WorldBounds(), selectionColour); err != nil {
			core.LogWarn(err.Error())
		}
	}

	packet := &metadata.RenderPacket{
		DeltaTime: float32(delta),
		Scene:     e.scene,
		Camera:    e.camera,
	}
	if e.gameInstance.FnRender != nil {
		if err := e.gameInstance.FnRender(packet, delta); err != nil {
			return fmt.Errorf("game render: %w", err)
		}
	}
	if err := e.renderer.DrawFrame(packet); err != nil {
		return err
	}

	if e.pickRequested {
		e.pickRequested = false
		x, y := e.input.MousePosition()
		obj, err := e.renderer.Pick(e.scene, uint32(x), uint32(y))
		if err != nil {
			core.LogWarn("pick at %d,%d failed: %s", x, y, err)
		} else {
			e.selected = obj
			if obj != nil {
				core.LogInfo("Selected '%s' (id %d).", obj.Name, obj.ObjectID)
			}
		}
	}
	return nil
}

// Shutdown tears everything down in reverse creation order. It must run on
// the main thread after Run returned.
func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	var errs []error

	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.scene != nil {
		if e.device != nil {
			errs = append(errs, e.device.WaitIdle())
		}
		e.scene.Destroy()
		e.scene = nil
	}
	if e.renderer != nil {
		e.renderer.Destroy()
		e.renderer = nil
	}
	if e.device != nil {
		errs = append(errs, e.device.Destroy())
		e.device = nil
		e.driver = nil
	} else if e.driver != nil {
		e.driver.Destroy()
		e.driver = nil
	}
	if e.systemManager != nil {
		errs = append(errs, e.systemManager.Shutdown())
	}
	e.bus.Shutdown()
	errs = append(errs, e.platform.Shutdown())
	e.currentStage = EngineStageUninitialized
	return errors.Join(errs...)
}

func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

// Quit asks the main loop to stop. Safe to call from any goroutine.
func (e *Engine) Quit() {
	e.bus.Fire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
}

func (e *Engine) onEvent(listener interface{}, context core.EventContext) bool {
	switch context.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onKey(listener interface{}, context core.EventContext) bool {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}

	switch ke.KeyCode {
	case core.KEY_ESCAPE:
		e.Quit()
		return true
	case core.KEY_F1:
		e.bus.Fire(core.EventContext{Type: core.EVENT_CODE_DEBUG_VIEW_CYCLE})
		return true
	case core.KEY_F5:
		e.renderer.RequestPipelineReload()
		return true
	case core.KEY_F:
		if e.selected != nil {
			e.camera.FocusOn(e.selected.WorldBounds())
		} else if len(e.scene.Objects) > 0 {
			e.camera.FocusOn(e.scene.Bounds())
		}
		return true
	}
	return false
}

func (e *Engine) onButton(listener interface{}, context core.EventContext) bool {
	me, ok := context.Data.(*core.MouseEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	if me.Button == core.BUTTON_LEFT {
		e.pickRequested = true
		return true
	}
	return false
}

func (e *Engine) onDebugViewCycle(listener interface{}, context core.EventContext) bool {
	if e.renderer == nil {
		return false
	}
	e.renderer.CycleDebugView()
	// Games may listen too.
	return false
}

func (e *Engine) onResized(listener interface{}, context core.EventContext) bool {
	re, ok := context.Data.(*core.ResizeEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	width, height := re.Width, re.Height
	if width == e.width && height == e.height {
		return true
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	e.renderer.Resize(width, height)
	return true
}

// onRendererResize runs inside the renderer's rebuild, once the device is
// idle and before the swapchain is recreated.
func (e *Engine) onRendererResize(extent vk.Extent2D) {
	if e.gameInstance.FnOnResize == nil {
		return
	}
	if err := e.gameInstance.FnOnResize(extent.Width, extent.Height); err != nil {
		core.LogError(err.Error())
	}
}
