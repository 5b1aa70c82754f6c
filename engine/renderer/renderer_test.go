package renderer_test

import (
	"errors"
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/spaghettifunk/penumbra/engine/renderer"
	"github.com/spaghettifunk/penumbra/engine/renderer/components"
	"github.com/spaghettifunk/penumbra/engine/renderer/metadata"
	"github.com/spaghettifunk/penumbra/engine/renderer/passes"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan/vulkantest"
	"github.com/spaghettifunk/penumbra/engine/resources"
	"github.com/spaghettifunk/penumbra/engine/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingShaders struct {
	loads   int
	missing string
}

func (s *countingShaders) Load(name string) ([]uint32, error) {
	if name == s.missing {
		return nil, errors.New("compile error")
	}
	s.loads++
	return []uint32{0x07230203}, nil
}

type fixture struct {
	renderer *renderer.Renderer
	device   *vulkan.Device
	driver   *vulkantest.Driver
	shaders  *countingShaders
	model    *scene.Model
	scene    *scene.Scene
	packet   *metadata.RenderPacket
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	device, driver := vulkantest.NewDevice(t)
	// Let the window decide the extent.
	driver.Extent = vk.Extent2D{Width: ^uint32(0), Height: ^uint32(0)}

	f := &fixture{device: device, driver: driver, shaders: &countingShaders{}}
	var err error
	f.renderer, err = renderer.New(device, renderer.Config{
		Extent:       vk.Extent2D{Width: 64, Height: 48},
		Shaders:      f.shaders,
		LineCapacity: 32,
	})
	require.NoError(t, err)

	f.model, err = scene.NewModel(device, f.renderer.Textures(), "tri.obj", &resources.ModelResourceData{
		Name: "tri",
		Meshes: []resources.MeshConfig{{
			Name: "tri",
			Vertices: []math.Vertex3D{
				{Position: math.NewVec3(-1, -1, 0)},
				{Position: math.NewVec3(1, -1, 0)},
				{Position: math.NewVec3(0, 1, 0)},
			},
			Indices:  []uint32{0, 1, 2},
			Bounds:   math.NewAABBEmpty(),
			Material: resources.MaterialConfig{Name: "red"},
		}},
	})
	require.NoError(t, err)
	require.NoError(t, f.renderer.PrepareModel(f.model))

	f.scene = f.renderer.NewScene("test")
	f.scene.AddGameObject("tri", f.model, math.TransformFromPosition(math.NewVec3(0, 0, -3)))
	f.packet = &metadata.RenderPacket{DeltaTime: 1.0 / 60, Scene: f.scene, Camera: components.NewCamera()}
	return f
}

func (f *fixture) destroy(t *testing.T) {
	t.Helper()
	f.renderer.Destroy()
	f.model.Destroy()
	require.NoError(t, f.device.Destroy())
	assert.Empty(t, f.driver.Live())
}

func TestDrawFramePresentsEveryImage(t *testing.T) {
	f := newFixture(t)
	f.driver.Reset()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.renderer.DrawFrame(f.packet))
	}

	assert.Empty(t, f.driver.Violations)
	require.Len(t, f.driver.Presents, 3)
	require.Len(t, f.driver.Submits, 3)
	assert.Equal(t, uint32(0), f.driver.Presents[0].ImageIndex)
	assert.Equal(t, uint32(1), f.driver.Presents[1].ImageIndex)
	assert.Equal(t, uint32(0), f.driver.Presents[2].ImageIndex)
	assert.True(t, f.driver.Submits[0].Buffers[0] != f.driver.Submits[1].Buffers[0], "frame slots use their own command buffers")
	assert.True(t, f.driver.Submits[0].Buffers[0] == f.driver.Submits[2].Buffers[0])

	f.destroy(t)
}

func TestFrameStateMachine(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.renderer.EndFrame(), core.ErrFrameNotInProgress)

	cb, err := f.renderer.BeginFrame()
	require.NoError(t, err)
	require.NotNil(t, cb)
	_, err = f.renderer.BeginFrame()
	assert.ErrorIs(t, err, core.ErrFrameInProgress)
	_, err = f.renderer.Pick(f.scene, 1, 1)
	assert.ErrorIs(t, err, core.ErrFrameInProgress)

	require.NoError(t, f.renderer.EndFrame())
	assert.ErrorIs(t, f.renderer.EndFrame(), core.ErrFrameNotInProgress)

	f.destroy(t)
}

func TestDrawFrameRequiresCamera(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.renderer.DrawFrame(&metadata.RenderPacket{Scene: f.scene}))
	assert.Error(t, f.renderer.DrawFrame(nil))
	f.destroy(t)
}

func TestAcquireOutOfDateRecreatesAndSkips(t *testing.T) {
	f := newFixture(t)
	f.driver.Reset()
	f.driver.AcquireResults = []vk.Result{vk.ErrorOutOfDate}

	require.NoError(t, f.renderer.DrawFrame(f.packet))
	assert.Empty(t, f.driver.Presents, "the frame is skipped")
	assert.Len(t, f.driver.SwapchainCreates, 2)

	require.NoError(t, f.renderer.DrawFrame(f.packet))
	assert.Len(t, f.driver.Presents, 1)
	assert.Empty(t, f.driver.Violations)

	f.destroy(t)
}

func TestPresentOutOfDateRecreatesNextFrame(t *testing.T) {
	f := newFixture(t)
	f.driver.PresentResults = []vk.Result{vk.ErrorOutOfDate}

	require.NoError(t, f.renderer.DrawFrame(f.packet))
	assert.Len(t, f.driver.SwapchainCreates, 1)

	require.NoError(t, f.renderer.DrawFrame(f.packet))
	assert.Len(t, f.driver.SwapchainCreates, 2)
	assert.Len(t, f.driver.Presents, 2)
	assert.Empty(t, f.driver.Violations)

	f.destroy(t)
}

func TestResizeBetweenFrames(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.renderer.DrawFrame(f.packet))

	f.renderer.Resize(128, 96)
	assert.Equal(t, vk.Extent2D{Width: 64, Height: 48}, f.renderer.Extent(), "applied at the next frame")

	f.driver.Reset()
	require.NoError(t, f.renderer.DrawFrame(f.packet))
	assert.Equal(t, vk.Extent2D{Width: 128, Height: 96}, f.renderer.Extent())
	assert.Len(t, f.driver.SwapchainCreates, 2)
	assert.Len(t, f.driver.Presents, 1)
	assert.Empty(t, f.driver.Violations)
	for _, c := range f.driver.CommandsOf(vulkantest.OpBeginRenderPass) {
		if c.Extent.Width == 128 {
			continue
		}
		// Only the shadow pass keeps its own resolution.
		assert.Equal(t, vk.Extent2D{Width: 2048, Height: 2048}, c.Extent)
	}

	f.destroy(t)
}

func TestResizeRunsHookBeforeSwapchainRebuild(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.renderer.DrawFrame(f.packet))

	var hooked []vk.Extent2D
	var createsAtHook []int
	var lightingAtHook []uint32
	f.renderer.OnResize = func(extent vk.Extent2D) {
		hooked = append(hooked, extent)
		createsAtHook = append(createsAtHook, len(f.driver.SwapchainCreates))
		lightingAtHook = append(lightingAtHook, f.renderer.LightingPass().Output(0).Width)
	}
	f.renderer.Resize(128, 96)
	require.NoError(t, f.renderer.DrawFrame(f.packet))

	assert.Equal(t, []vk.Extent2D{{Width: 128, Height: 96}}, hooked)
	assert.Equal(t, []int{1}, createsAtHook, "the hook runs before the swapchain is recreated")
	assert.Equal(t, []uint32{64}, lightingAtHook, "and before any pass is resized")
	assert.Equal(t, uint32(128), f.renderer.LightingPass().Output(0).Width)
	assert.Len(t, f.driver.SwapchainCreates, 2)
	assert.Empty(t, f.driver.Violations)

	f.destroy(t)
}

func TestResizeWhileFrameInFlight(t *testing.T) {
	f := newFixture(t)
	f.driver.Reset()

	cb, err := f.renderer.BeginFrame()
	require.NoError(t, err)
	require.NotNil(t, cb)
	require.Len(t, f.driver.Acquires, 1)
	target, err := f.renderer.Swapchain().Image(f.driver.Acquires[0].ImageIndex)
	require.NoError(t, err)
	target.DiscardContents()
	target.Transition(cb.Handle, vk.ImageLayoutPresentSrc)

	f.renderer.Resize(128, 96)
	require.NoError(t, f.renderer.EndFrame(), "the frame in flight completes at the old extent")
	assert.Equal(t, vk.Extent2D{Width: 64, Height: 48}, f.renderer.Extent())
	assert.Len(t, f.driver.SwapchainCreates, 1)
	require.Len(t, f.driver.Presents, 1)

	require.NoError(t, f.renderer.DrawFrame(f.packet))
	assert.Equal(t, vk.Extent2D{Width: 128, Height: 96}, f.renderer.Extent())
	require.Len(t, f.driver.SwapchainCreates, 2)
	assert.Equal(t, vk.Extent2D{Width: 128, Height: 96}, f.driver.SwapchainCreates[1].ImageExtent)
	assert.Len(t, f.driver.Presents, 2)
	begins := f.driver.CommandsOf(vulkantest.OpBeginRenderPass)
	require.NotEmpty(t, begins)
	for _, c := range begins {
		if c.Extent.Width == 2048 {
			continue
		}
		assert.Equal(t, vk.Extent2D{Width: 128, Height: 96}, c.Extent)
	}
	assert.Empty(t, f.driver.Violations)

	f.destroy(t)
}

func TestFrameRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.scene.Light = scene.DirectionalLight{
		Direction: math.NewVec3(0, -1, 0),
		Colour:    math.NewVec3(1, 0.5, 0.25),
		Intensity: 3,
	}
	f.scene.AddPointLight(scene.PointLight{Position: math.NewVec3(0, 2, 0), Radius: 5, Colour: math.NewVec3One(), Intensity: 1})
	f.driver.Reset()

	for i := 0; i < vulkan.MAX_FRAMES_IN_FLIGHT; i++ {
		require.NoError(t, f.renderer.DrawFrame(f.packet))
	}
	require.Len(t, f.driver.Presents, vulkan.MAX_FRAMES_IN_FLIGHT)
	assert.Empty(t, f.driver.Violations)

	for frame := uint32(0); frame < vulkan.MAX_FRAMES_IN_FLIGHT; frame++ {
		raw := f.renderer.LightingPass().Uniform(frame).Bytes()
		require.GreaterOrEqual(t, len(raw), int(unsafe.Sizeof(passes.LightingUniform{})))
		ubo := *(*passes.LightingUniform)(unsafe.Pointer(&raw[0]))
		assert.Equal(t, f.scene.Light.Direction, ubo.LightDirection, "frame %d", frame)
		assert.Equal(t, f.scene.Light.Colour, ubo.LightColour, "frame %d", frame)
		assert.Equal(t, float32(3), ubo.LightIntensity, "frame %d", frame)
		assert.Equal(t, uint32(1), ubo.PointLightCount, "frame %d", frame)
		assert.Equal(t, math.Vec2{X: 64, Y: 48}, ubo.ViewportSize, "frame %d", frame)
	}

	for _, present := range f.driver.Presents {
		img, err := f.renderer.Swapchain().Image(present.ImageIndex)
		require.NoError(t, err)
		assert.Equal(t, vk.ImageLayoutPresentSrc, f.driver.Layout(img.Handle), "image %d", present.ImageIndex)
	}

	f.destroy(t)
}

func TestFailedRecordAbandonsFrame(t *testing.T) {
	f := newFixture(t)
	f.driver.Reset()
	f.driver.Failures["CreateFramebuffer"] = errors.New("out of memory")

	assert.Error(t, f.renderer.DrawFrame(f.packet))
	assert.Len(t, f.driver.Acquires, 1)
	assert.Empty(t, f.driver.Submits, "nothing is submitted")
	assert.Empty(t, f.driver.Presents)

	delete(f.driver.Failures, "CreateFramebuffer")
	require.NoError(t, f.renderer.DrawFrame(f.packet), "no frame is left in progress")
	assert.Len(t, f.driver.SwapchainCreates, 2, "the acquired image is released by a rebuild")
	assert.Len(t, f.driver.Acquires, 2)
	assert.Len(t, f.driver.Submits, 1)
	assert.Len(t, f.driver.Presents, 1)
	assert.Empty(t, f.driver.Violations)

	f.destroy(t)
}

func TestSurfaceFormatChangeRebuildsBlit(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.renderer.DrawFrame(f.packet))
	assert.Equal(t, vk.FormatB8g8r8a8Unorm, f.renderer.BlitPass().Format())

	f.driver.SurfaceFormat = vk.FormatR8g8b8a8Unorm
	f.renderer.Resize(96, 64)
	f.driver.Reset()
	require.NoError(t, f.renderer.DrawFrame(f.packet))

	require.Len(t, f.driver.SwapchainCreates, 2)
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, f.driver.SwapchainCreates[1].ImageFormat)
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, f.renderer.BlitPass().Format())
	assert.Len(t, f.driver.Presents, 1)
	assert.Empty(t, f.driver.Violations)

	f.destroy(t)
}

func TestZeroExtentPausesRendering(t *testing.T) {
	f := newFixture(t)
	f.renderer.Resize(0, 0)

	f.driver.Reset()
	require.NoError(t, f.renderer.DrawFrame(f.packet))
	require.NoError(t, f.renderer.DrawFrame(f.packet))
	assert.Empty(t, f.driver.Acquires)
	assert.Empty(t, f.driver.Presents)

	f.renderer.Resize(64, 48)
	require.NoError(t, f.renderer.DrawFrame(f.packet))
	assert.Len(t, f.driver.Presents, 1)
	assert.Empty(t, f.driver.Violations)

	f.destroy(t)
}

func TestPipelineReloadAtFrameBoundary(t *testing.T) {
	f := newFixture(t)
	loads := f.shaders.loads

	f.renderer.RequestPipelineReload()
	assert.Equal(t, loads, f.shaders.loads, "nothing happens until the next frame")

	require.NoError(t, f.renderer.DrawFrame(f.packet))
	assert.Equal(t, loads+12, f.shaders.loads, "six passes, two stages each")

	require.NoError(t, f.renderer.DrawFrame(f.packet))
	assert.Equal(t, loads+12, f.shaders.loads, "reload runs once per request")

	f.destroy(t)
}

func TestFailedReloadKeepsRendering(t *testing.T) {
	f := newFixture(t)
	f.shaders.missing = "lighting.frag"
	f.renderer.RequestPipelineReload()

	assert.Error(t, f.renderer.DrawFrame(f.packet))

	f.shaders.missing = ""
	f.driver.Reset()
	require.NoError(t, f.renderer.DrawFrame(f.packet))
	assert.Len(t, f.driver.Presents, 1)
	assert.Empty(t, f.driver.Violations)

	f.destroy(t)
}

func TestPickResolvesObject(t *testing.T) {
	f := newFixture(t)

	obj, err := f.renderer.Pick(f.scene, 10, 10)
	require.NoError(t, err)
	assert.Nil(t, obj, "nothing has been drawn yet")

	require.NoError(t, f.renderer.DrawFrame(f.packet))
	tri := f.scene.Objects[0]
	f.driver.Readback = []byte{byte(tri.ObjectID), 0, 0, 0xff}

	obj, err = f.renderer.Pick(f.scene, 10, 10)
	require.NoError(t, err)
	assert.Same(t, tri, obj)

	f.driver.Readback = []byte{0, 0, 0, 0}
	obj, err = f.renderer.Pick(f.scene, 10, 10)
	require.NoError(t, err)
	assert.Nil(t, obj, "background")

	_, err = f.renderer.Pick(f.scene, 640, 10)
	assert.Error(t, err)

	f.destroy(t)
}

func TestCycleDebugView(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, metadata.DebugViewNone, f.renderer.DebugView)
	assert.Equal(t, metadata.DebugViewAlbedo, f.renderer.CycleDebugView())
	f.destroy(t)
}
