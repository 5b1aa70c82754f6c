package passes_test

import (
	"encoding/binary"
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
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

var testExtent = vk.Extent2D{Width: 64, Height: 48}

type fakeShaders struct {
	loaded  []string
	missing string
}

func (s *fakeShaders) Load(name string) ([]uint32, error) {
	if name == s.missing {
		return nil, errors.New("no such shader")
	}
	s.loaded = append(s.loaded, name)
	return []uint32{0x07230203}, nil
}

func testConfig(device *vulkan.Device) passes.Config {
	return passes.Config{
		Device:  device,
		Frames:  2,
		Extent:  testExtent,
		Shaders: &fakeShaders{},
	}
}

// graph is every pass plus a scene with one quad, wired the way the
// renderer wires them.
type graph struct {
	device   *vulkan.Device
	driver   *vulkantest.Driver
	textures *scene.TextureCache
	model    *scene.Model
	scene    *scene.Scene
	camera   *components.Camera
	lines    *scene.LineManager
	shaders  *fakeShaders

	depth    *passes.DepthPrePass
	geometry *passes.GeometryPass
	shadow   *passes.ShadowPass
	lighting *passes.LightingPass
	overlay  *passes.LinePass
	blit     *passes.BlitPass
	target   *vulkan.Image
}

func newGraph(t *testing.T) *graph {
	t.Helper()
	device, driver := vulkantest.NewDevice(t)
	g := &graph{device: device, driver: driver, camera: components.NewCamera(), lines: scene.NewLineManager(64)}

	var err error
	g.textures, err = scene.NewTextureCache(device)
	require.NoError(t, err)
	g.model, err = scene.NewModel(device, g.textures, "quad.obj", &resources.ModelResourceData{
		Name: "quad",
		Meshes: []resources.MeshConfig{{
			Name: "quad",
			Vertices: []math.Vertex3D{
				{Position: math.NewVec3(-1, -1, 0)},
				{Position: math.NewVec3(1, -1, 0)},
				{Position: math.NewVec3(1, 1, 0)},
			},
			Indices:  []uint32{0, 1, 2},
			Bounds:   math.NewAABBEmpty(),
			Material: resources.MaterialConfig{Name: "paint"},
		}},
	})
	require.NoError(t, err)
	g.scene = scene.NewScene("test", core.NewIdentifierPool())
	g.scene.AddGameObject("quad", g.model, math.TransformFromPosition(math.NewVec3(0, 0, -5)))

	config := testConfig(device)
	g.shaders = config.Shaders.(*fakeShaders)
	g.depth, err = passes.NewDepthPrePass(config)
	require.NoError(t, err)
	g.geometry, err = passes.NewGeometryPass(config)
	require.NoError(t, err)
	g.shadow, err = passes.NewShadowPass(config, passes.ShadowConfig{Size: 32, OrthoSize: 10, Distance: 20})
	require.NoError(t, err)
	g.lighting, err = passes.NewLightingPass(config, g.shadow.LightViewProjection)
	require.NoError(t, err)
	g.overlay, err = passes.NewLinePass(config, g.lines)
	require.NoError(t, err)
	g.blit, err = passes.NewBlitPass(config, vk.FormatB8g8r8a8Unorm)
	require.NoError(t, err)

	for _, m := range g.model.Materials {
		require.NoError(t, g.geometry.PrepareMaterial(m))
	}
	g.bind(t)

	g.newTarget(t, testExtent)
	return g
}

// newTarget replaces the image standing in for the acquired swapchain image.
func (g *graph) newTarget(t *testing.T, extent vk.Extent2D) {
	t.Helper()
	if g.target != nil {
		g.target.Destroy()
	}
	var err error
	g.target, err = vulkan.NewImage(g.device, vulkan.ImageConfig{
		Name:   "swapchain_stand_in",
		Width:  extent.Width,
		Height: extent.Height,
		Format: vk.FormatB8g8r8a8Unorm,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
	})
	require.NoError(t, err)
}

func (g *graph) bind(t *testing.T) {
	t.Helper()
	for f := uint32(0); f < 2; f++ {
		geo := g.geometry.GeoBuffer(f)
		require.NoError(t, g.lighting.UpdateDescriptor(f,
			geo.Albedo(), geo.Normal(), geo.Specular(), geo.Position(), geo.Selection(),
			g.depth.Depth(f), g.shadow.ShadowMap(f)))
		require.NoError(t, g.blit.UpdateDescriptor(f, g.lighting.Output(f), g.overlay.Overlay(f)))
	}
}

func (g *graph) frame(t *testing.T, index uint32) *metadata.FrameContext {
	t.Helper()
	cb, err := vulkan.NewVulkanCommandBuffer(g.device.Driver, g.device.CommandPool(), true)
	require.NoError(t, err)
	require.NoError(t, cb.Begin(false, false, false))
	return &metadata.FrameContext{
		FrameIndex:    index,
		CommandBuffer: cb,
		Scene:         g.scene,
		Camera:        g.camera,
		Extent:        g.depth.Extent(),
	}
}

func (g *graph) record(t *testing.T, frame *metadata.FrameContext) {
	t.Helper()
	f := frame.FrameIndex
	require.NoError(t, g.depth.Record(frame))
	require.NoError(t, g.geometry.Record(frame, g.depth.Depth(f)))
	require.NoError(t, g.shadow.Record(frame))
	require.NoError(t, g.lighting.Record(frame))
	require.NoError(t, g.overlay.Record(frame, g.depth.Depth(f)))
	g.target.DiscardContents()
	require.NoError(t, g.blit.Record(frame, g.target))
}

func (g *graph) destroy(t *testing.T) {
	t.Helper()
	g.target.Destroy()
	g.blit.Destroy()
	g.overlay.Destroy()
	g.lighting.Destroy()
	g.shadow.Destroy()
	g.geometry.Destroy()
	g.depth.Destroy()
	g.model.Destroy()
	g.textures.Destroy()
	require.NoError(t, g.device.Destroy())
	assert.Empty(t, g.driver.Live())
}

func TestFullFrameKeepsLayoutsConsistent(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.lines.AddLine(math.NewVec3Zero(), math.NewVec3(0, 1, 0), math.NewVec3(1, 0, 0)))
	g.driver.Reset()

	for _, index := range []uint32{0, 1, 0} {
		frame := g.frame(t, index)
		g.record(t, frame)
		require.NoError(t, frame.CommandBuffer.End())
	}
	assert.Empty(t, g.driver.Violations)

	// Depth, geometry and shadow draw the quad once each per frame.
	indexed := g.driver.CommandsOf(vulkantest.OpDrawIndexed)
	assert.Len(t, indexed, 9)

	draws := g.driver.CommandsOf(vulkantest.OpDraw)
	require.Len(t, draws, 9)
	assert.Equal(t, uint32(3), draws[0].Count, "lighting draws a full-screen triangle")
	assert.Equal(t, uint32(2), draws[1].Count, "one line")
	assert.Equal(t, uint32(3), draws[2].Count, "blit draws a full-screen triangle")

	assert.Len(t, g.driver.CommandsOf(vulkantest.OpCopyBuffer), 3)
	assert.Len(t, g.driver.CommandsOf(vulkantest.OpBufferBarrier), 3)

	for f := uint32(0); f < 2; f++ {
		assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, g.depth.Depth(f).Layout())
		assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, g.shadow.ShadowMap(f).Layout())
		assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, g.lighting.Output(f).Layout())
		assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, g.overlay.Overlay(f).Layout())
		for _, img := range g.geometry.GeoBuffer(f).Targets {
			assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, img.Layout())
		}
	}
	assert.Equal(t, vk.ImageLayoutColorAttachmentOptimal, g.target.Layout(), "left for the overlay hook")

	g.destroy(t)
}

func TestObjectIDIsPushedPerDraw(t *testing.T) {
	g := newGraph(t)
	g.driver.Reset()

	frame := g.frame(t, 0)
	require.NoError(t, g.depth.Record(frame))
	pushes := g.driver.CommandsOf(vulkantest.OpPushConstants)
	require.Len(t, pushes, 1)
	require.Len(t, pushes[0].Push, 80)
	id := binary.LittleEndian.Uint32(pushes[0].Push[64:])
	assert.Equal(t, g.scene.Objects[0].ObjectID, id)

	g.destroy(t)
}

func TestFrameSlotOutOfRange(t *testing.T) {
	g := newGraph(t)

	frame := g.frame(t, 2)
	assert.ErrorIs(t, g.depth.Record(frame), core.ErrFrameSlotOutOfRange)
	assert.ErrorIs(t, g.shadow.Record(frame), core.ErrFrameSlotOutOfRange)
	assert.ErrorIs(t, g.lighting.Record(frame), core.ErrFrameSlotOutOfRange)
	assert.ErrorIs(t, g.blit.Record(frame, g.target), core.ErrFrameSlotOutOfRange)
	assert.ErrorIs(t, g.blit.UpdateDescriptor(5, g.target, g.target), core.ErrFrameSlotOutOfRange)
	_, err := g.geometry.ReadPixel(2, 0, 0)
	assert.ErrorIs(t, err, core.ErrFrameSlotOutOfRange)

	g.destroy(t)
}

func TestUpdateDescriptorCountMismatch(t *testing.T) {
	g := newGraph(t)

	geo := g.geometry.GeoBuffer(0)
	err := g.lighting.UpdateDescriptor(0, geo.Albedo(), geo.Normal(), geo.Specular())
	assert.ErrorIs(t, err, core.ErrDescriptorCountMismatch)
	err = g.blit.UpdateDescriptor(0, g.lighting.Output(0))
	assert.ErrorIs(t, err, core.ErrDescriptorCountMismatch)

	g.destroy(t)
}

func TestResizeIsIdempotent(t *testing.T) {
	g := newGraph(t)
	live := len(g.driver.Live())

	require.NoError(t, g.depth.Resize(testExtent))
	require.NoError(t, g.geometry.Resize(testExtent))
	require.NoError(t, g.lighting.Resize(testExtent))
	require.NoError(t, g.overlay.Resize(testExtent))
	require.NoError(t, g.blit.Resize(testExtent))
	assert.Equal(t, live, len(g.driver.Live()), "same extent recreates nothing")

	bigger := vk.Extent2D{Width: 96, Height: 72}
	for i := 0; i < 2; i++ {
		require.NoError(t, g.depth.Resize(bigger))
		require.NoError(t, g.geometry.Resize(bigger))
		require.NoError(t, g.shadow.Resize(bigger))
		require.NoError(t, g.lighting.Resize(bigger))
		require.NoError(t, g.overlay.Resize(bigger))
		require.NoError(t, g.blit.Resize(bigger))
	}
	assert.Equal(t, bigger, g.depth.Depth(1).Extent())
	assert.Equal(t, bigger, g.geometry.GeoBuffer(1).Extent)
	assert.Equal(t, bigger, g.lighting.Output(0).Extent())
	assert.Equal(t, bigger, g.overlay.Overlay(0).Extent())
	assert.Equal(t, vk.Extent2D{Width: 32, Height: 32}, g.shadow.ShadowMap(0).Extent())

	// The inputs point at destroyed images until they are re-bound.
	frame := g.frame(t, 0)
	frame.Extent = bigger
	assert.Error(t, g.lighting.Record(frame))
	g.driver.Reset()
	g.bind(t)
	first := writtenViews(g.driver.DescriptorWrites)
	require.NotEmpty(t, first)

	// A second identical cycle binds exactly the same images.
	require.NoError(t, g.depth.Resize(bigger))
	require.NoError(t, g.geometry.Resize(bigger))
	require.NoError(t, g.lighting.Resize(bigger))
	require.NoError(t, g.overlay.Resize(bigger))
	require.NoError(t, g.blit.Resize(bigger))
	g.driver.Reset()
	g.bind(t)
	second := writtenViews(g.driver.DescriptorWrites)
	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i] == second[i], "descriptor image %d was rewritten to another view", i)
	}
	g.newTarget(t, bigger)

	g.driver.Reset()
	g.record(t, frame)
	assert.Empty(t, g.driver.Violations)
	for _, begin := range g.driver.CommandsOf(vulkantest.OpBeginRenderPass) {
		if begin.Extent.Width != 32 {
			assert.Equal(t, bigger, begin.Extent)
		}
	}

	g.destroy(t)
}

func writtenViews(writes []vk.WriteDescriptorSet) []vk.ImageView {
	var views []vk.ImageView
	for _, w := range writes {
		for _, info := range w.PImageInfo {
			views = append(views, info.ImageView)
		}
	}
	return views
}

func TestGeometryResizeFailureKeepsBuffers(t *testing.T) {
	g := newGraph(t)
	live := len(g.driver.Live())
	outstanding := g.device.Allocator.Outstanding()
	before := [2][]vk.ImageView{g.geometry.GeoBuffer(0).Views(), g.geometry.GeoBuffer(1).Views()}

	// The first frame's buffers build, the second frame's fail halfway.
	g.driver.FailAfter["CreateImage"] = vulkan.GeoAttachmentCount + 2
	assert.Error(t, g.geometry.Resize(vk.Extent2D{Width: 96, Height: 72}))
	delete(g.driver.FailAfter, "CreateImage")

	assert.Equal(t, live, len(g.driver.Live()), "partially built buffers are released")
	assert.Equal(t, outstanding, g.device.Allocator.Outstanding())
	for f := uint32(0); f < 2; f++ {
		geo := g.geometry.GeoBuffer(f)
		assert.Equal(t, testExtent, geo.Extent)
		views := geo.Views()
		for i := range views {
			assert.True(t, views[i] == before[f][i], "frame %d attachment %d", f, i)
		}
	}

	g.driver.Reset()
	g.record(t, g.frame(t, 0))
	assert.Empty(t, g.driver.Violations)

	require.NoError(t, g.geometry.Resize(vk.Extent2D{Width: 96, Height: 72}))
	assert.Equal(t, vk.Extent2D{Width: 96, Height: 72}, g.geometry.GeoBuffer(1).Extent)

	g.destroy(t)
}

func TestBlitFormatChange(t *testing.T) {
	g := newGraph(t)
	g.driver.Reset()
	g.record(t, g.frame(t, 0))
	firstPass := g.driver.CommandsOf(vulkantest.OpBeginRenderPass)
	require.NotEmpty(t, firstPass)
	oldBlit := firstPass[len(firstPass)-1].RenderPass

	require.NoError(t, g.blit.SetFormat(vk.FormatB8g8r8a8Unorm), "same format is a no-op")
	require.NoError(t, g.blit.SetFormat(vk.FormatR8g8b8a8Unorm))
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, g.blit.Format())

	g.driver.Reset()
	g.record(t, g.frame(t, 1))
	begins := g.driver.CommandsOf(vulkantest.OpBeginRenderPass)
	require.NotEmpty(t, begins)
	assert.True(t, oldBlit != begins[len(begins)-1].RenderPass, "blit draws with the rebuilt render pass")
	assert.Empty(t, g.driver.Violations)

	g.shaders.missing = "blit.vert"
	assert.Error(t, g.blit.SetFormat(vk.FormatB8g8r8a8Srgb))
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, g.blit.Format(), "a failed rebuild keeps the working pass")

	g.destroy(t)
}

func TestPointLightBufferGrows(t *testing.T) {
	g := newGraph(t)
	for i := 0; i < 40; i++ {
		g.scene.AddPointLight(scene.PointLight{Position: math.NewVec3(float32(i), 0, 0), Radius: 1, Colour: math.NewVec3One(), Intensity: 1})
	}
	assert.Equal(t, passes.InitialPointLightCapacity, g.lighting.PointLightCapacity(0))

	g.driver.Reset()
	frame := g.frame(t, 0)
	g.record(t, frame)
	assert.Empty(t, g.driver.Violations)
	assert.Equal(t, 64, g.lighting.PointLightCapacity(0))
	assert.Equal(t, passes.InitialPointLightCapacity, g.lighting.PointLightCapacity(1), "other frames grow on their own turn")

	rewritten := 0
	for _, w := range g.driver.DescriptorWrites {
		if w.DescriptorType == vk.DescriptorTypeStorageBuffer {
			rewritten++
		}
	}
	assert.Equal(t, 1, rewritten)

	g.destroy(t)
}

func TestLightingEnvironmentFallsBackToPlaceholders(t *testing.T) {
	g := newGraph(t)
	env, err := vulkan.NewSolidTexture(g.device, "environment", [4]byte{10, 20, 30, 255})
	require.NoError(t, err)

	g.driver.Reset()
	require.NoError(t, g.lighting.SetEnvironment(env, nil))
	require.Len(t, g.driver.DescriptorWrites, 2)

	environment, irradiance := g.driver.DescriptorWrites[0], g.driver.DescriptorWrites[1]
	assert.Equal(t, uint32(0), environment.DstBinding)
	assert.True(t, env.View == environment.PImageInfo[0].ImageView)
	assert.Equal(t, uint32(1), irradiance.DstBinding)
	assert.True(t, env.View != irradiance.PImageInfo[0].ImageView)
	assert.NotNil(t, irradiance.PImageInfo[0].ImageView)

	// Back to the placeholders before env goes away.
	require.NoError(t, g.lighting.SetEnvironment(nil, nil))
	env.Destroy()
	g.record(t, g.frame(t, 0))
	assert.Empty(t, g.driver.Violations)

	g.destroy(t)
}

func TestReadPixelDecodesObjectID(t *testing.T) {
	g := newGraph(t)
	g.driver.Readback = []byte{0x2a, 0x01, 0x00, 0xff}

	id, err := g.geometry.ReadPixel(0, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x012a), id)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, g.geometry.GeoBuffer(0).Selection().Layout())
	assert.Len(t, g.driver.CommandsOf(vulkantest.OpCopyImageToBuffer), 1)
	assert.Empty(t, g.driver.Violations)

	_, err = g.geometry.ReadPixel(0, testExtent.Width, 0)
	assert.Error(t, err)

	g.destroy(t)
}

func TestLinePassWithoutLinesDrawsNothing(t *testing.T) {
	g := newGraph(t)
	g.driver.Reset()

	frame := g.frame(t, 1)
	require.NoError(t, g.overlay.Record(frame, g.depth.Depth(1)))
	assert.Empty(t, g.driver.CommandsOf(vulkantest.OpCopyBuffer))
	assert.Empty(t, g.driver.CommandsOf(vulkantest.OpDraw))
	assert.Len(t, g.driver.CommandsOf(vulkantest.OpBeginRenderPass), 1, "the overlay is still cleared")
	assert.Empty(t, g.driver.Violations)

	g.destroy(t)
}

func TestMissingShaderFailsCleanly(t *testing.T) {
	device, driver := vulkantest.NewDevice(t)
	config := testConfig(device)
	config.Shaders = &fakeShaders{missing: "geometry.frag"}

	_, err := passes.NewGeometryPass(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geometry.frag")

	config.Frames = 3
	_, err = passes.NewDepthPrePass(config)
	assert.Error(t, err)

	require.NoError(t, device.Destroy())
	assert.Empty(t, driver.Live())
}

func TestShadowLightMatrices(t *testing.T) {
	device, _ := vulkantest.NewDevice(t)
	shadow, err := passes.NewShadowPass(testConfig(device), passes.ShadowConfig{Size: 16, OrthoSize: 10, Distance: 20})
	require.NoError(t, err)

	// Straight down exercises the up-vector fallback.
	light := scene.DirectionalLight{Direction: math.NewVec3(0, -1, 0), Colour: math.NewVec3One(), Intensity: 1}
	view, proj := shadow.LightMatrices(light)
	origin := math.NewVec3Zero().Transform(view)
	assert.True(t, origin.Compare(math.NewVec3(0, 0, -20), 1e-4), "origin sits Distance in front of the light")
	assert.Less(t, proj.Data[5], float32(0), "projection is Y-flipped")

	shadow.Destroy()
	require.NoError(t, device.Destroy())
}
