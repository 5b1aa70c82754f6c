package vulkan_test

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan/vulkantest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func beginCommands(t *testing.T, device *vulkan.Device) *vulkan.VulkanCommandBuffer {
	t.Helper()
	cb, err := vulkan.NewVulkanCommandBuffer(device.Driver, device.CommandPool(), true)
	require.NoError(t, err)
	require.NoError(t, cb.Begin(false, false, false))
	return cb
}

func TestImageTransitionTracksLayout(t *testing.T) {
	device, driver := vulkantest.NewDevice(t)

	img, err := vulkan.NewImage(device, vulkan.ImageConfig{
		Name:   "target",
		Width:  64,
		Height: 32,
		Format: vk.FormatR8g8b8a8Unorm,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) | vk.ImageUsageFlags(vk.ImageUsageSampledBit),
	})
	require.NoError(t, err)
	assert.Equal(t, vk.ImageLayoutUndefined, img.Layout())

	cb := beginCommands(t, device)
	img.Transition(cb.Handle, vk.ImageLayoutColorAttachmentOptimal)
	img.Transition(cb.Handle, vk.ImageLayoutColorAttachmentOptimal)
	img.Transition(cb.Handle, vk.ImageLayoutShaderReadOnlyOptimal)

	assert.Equal(t, [][2]vk.ImageLayout{
		{vk.ImageLayoutUndefined, vk.ImageLayoutColorAttachmentOptimal},
		{vk.ImageLayoutColorAttachmentOptimal, vk.ImageLayoutShaderReadOnlyOptimal},
	}, driver.Transitions(img.Handle), "same-layout transition records nothing")
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, img.Layout())
	assert.Equal(t, driver.Layout(img.Handle), img.Layout())

	img.DiscardContents()
	img.Transition(cb.Handle, vk.ImageLayoutColorAttachmentOptimal)
	assert.Empty(t, driver.Violations)

	img.Destroy()
	cb.Free(device.CommandPool())
	require.NoError(t, device.Destroy())
}

func TestDepthStencilTransitionsBothAspects(t *testing.T) {
	device, driver := vulkantest.NewDevice(t)
	depth := vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	both := depth | vk.ImageAspectFlags(vk.ImageAspectStencilBit)

	assert.Equal(t, depth, vulkan.AspectFromFormat(vk.FormatD32Sfloat))
	for _, format := range []vk.Format{vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint, vk.FormatD16UnormS8Uint} {
		assert.Equal(t, both, vulkan.AspectFromFormat(format), "format %d", format)
		assert.True(t, vulkan.IsDepthFormat(format))
		assert.True(t, vulkan.HasStencil(format))
	}
	assert.False(t, vulkan.HasStencil(vk.FormatD32Sfloat))
	assert.False(t, vulkan.IsDepthFormat(vk.FormatR8g8b8a8Unorm))

	img, err := vulkan.NewImage(device, vulkan.ImageConfig{
		Name:   "depth",
		Width:  16,
		Height: 16,
		Format: vk.FormatD24UnormS8Uint,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit) | vk.ImageUsageFlags(vk.ImageUsageSampledBit),
	})
	require.NoError(t, err)
	assert.Equal(t, both, img.Aspect)
	assert.Equal(t, depth, driver.ViewAspect(img.View), "sampled views select depth only")

	cb := beginCommands(t, device)
	img.Transition(cb.Handle, vk.ImageLayoutDepthStencilAttachmentOptimal)
	img.Transition(cb.Handle, vk.ImageLayoutShaderReadOnlyOptimal)

	barriers := driver.CommandsOf(vulkantest.OpBarrier)
	require.Len(t, barriers, 2)
	for _, cmd := range barriers {
		require.Len(t, cmd.Barriers, 1)
		assert.Equal(t, both, cmd.Barriers[0].SubresourceRange.AspectMask)
	}
	assert.Empty(t, driver.Violations)

	img.Destroy()
	cb.Free(device.CommandPool())
	require.NoError(t, device.Destroy())
}

func TestImageCreationCleansUpOnFailure(t *testing.T) {
	device, driver := vulkantest.NewDevice(t)
	driver.Failures["CreateImageView"] = errors.New("boom")

	_, err := vulkan.NewImage(device, vulkan.ImageConfig{
		Name:   "broken",
		Width:  4,
		Height: 4,
		Format: vk.FormatR8g8b8a8Unorm,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageSampledBit),
	})
	require.Error(t, err)
	assert.Equal(t, 0, device.Allocator.Outstanding())
	assert.NotContains(t, driver.Live(), "image")
}

func TestGeoBufferResize(t *testing.T) {
	device, driver := vulkantest.NewDevice(t)

	gb, err := vulkan.NewGeoBuffer(device, vk.Extent2D{Width: 320, Height: 240})
	require.NoError(t, err)
	assert.Len(t, gb.Views(), vulkan.GeoAttachmentCount)
	assert.Equal(t, vulkan.GeoAttachmentCount, device.Allocator.Outstanding())
	for i, format := range vulkan.GeoBufferFormats() {
		assert.Equal(t, format, gb.Targets[i].Format)
	}

	before := gb.Albedo()
	require.NoError(t, gb.Resize(vk.Extent2D{Width: 320, Height: 240}))
	assert.Same(t, before, gb.Albedo(), "same extent keeps the images")

	require.NoError(t, gb.Resize(vk.Extent2D{Width: 640, Height: 480}))
	assert.NotSame(t, before, gb.Albedo())
	for _, target := range gb.Targets {
		assert.Equal(t, uint32(640), target.Width)
		assert.Equal(t, uint32(480), target.Height)
	}
	assert.Equal(t, vulkan.GeoAttachmentCount, device.Allocator.Outstanding())

	// A failed rebuild keeps the previous attachments.
	current := gb.Albedo()
	driver.Failures["CreateImage"] = errors.New("out of memory")
	assert.Error(t, gb.Resize(vk.Extent2D{Width: 800, Height: 600}))
	assert.Same(t, current, gb.Albedo())
	assert.Equal(t, vk.Extent2D{Width: 640, Height: 480}, gb.Extent)
	assert.Equal(t, vulkan.GeoAttachmentCount, device.Allocator.Outstanding())
	delete(driver.Failures, "CreateImage")

	gb.Destroy()
	require.NoError(t, device.Destroy())
}

func TestRenderPassChecksAttachmentLayouts(t *testing.T) {
	device, driver := vulkantest.NewDevice(t)

	gb, err := vulkan.NewGeoBuffer(device, vk.Extent2D{Width: 128, Height: 128})
	require.NoError(t, err)

	colors := make([]vulkan.AttachmentConfig, 0, vulkan.GeoAttachmentCount)
	for _, format := range vulkan.GeoBufferFormats() {
		colors = append(colors, vulkan.AttachmentConfig{
			Format:  format,
			LoadOp:  vk.AttachmentLoadOpClear,
			StoreOp: vk.AttachmentStoreOpStore,
		})
	}
	rp, err := vulkan.NewRenderPass(device, vulkan.RenderPassConfig{Name: "gbuffer", Colors: colors})
	require.NoError(t, err)
	assert.Equal(t, vulkan.GeoAttachmentCount, rp.ColorAttachmentCount())

	cache := vulkan.NewFramebufferCache(device, rp)
	fb, err := cache.Get(128, 128, gb.Views()...)
	require.NoError(t, err)
	again, err := cache.Get(128, 128, gb.Views()...)
	require.NoError(t, err)
	assert.Same(t, fb, again)
	assert.Equal(t, 1, cache.Len())

	// Keys compare view handles, so a rebuilt target gets a new framebuffer.
	other, err := vulkan.NewGeoBuffer(device, vk.Extent2D{Width: 128, Height: 128})
	require.NoError(t, err)
	rebuilt, err := cache.Get(128, 128, other.Views()...)
	require.NoError(t, err)
	assert.NotSame(t, fb, rebuilt)
	assert.Equal(t, 2, cache.Len())
	_, err = cache.Get(128, 128, make([]vk.ImageView, vulkan.MaxFramebufferAttachments+1)...)
	assert.Error(t, err)
	assert.Equal(t, 2, cache.Len())

	_, err = cache.Get(128, 128, gb.Views()[:2]...)
	assert.Error(t, err, "attachment count mismatch")

	cb := beginCommands(t, device)
	gb.Transition(cb.Handle, vk.ImageLayoutColorAttachmentOptimal)
	rp.Begin(cb, fb)
	assert.Equal(t, vulkan.COMMAND_BUFFER_STATE_IN_RENDER_PASS, cb.State)
	rp.End(cb)
	assert.Equal(t, vulkan.COMMAND_BUFFER_STATE_RECORDING, cb.State)
	assert.Empty(t, driver.Violations)

	// Beginning with the targets still in shader-read layout is flagged.
	gb.Transition(cb.Handle, vk.ImageLayoutShaderReadOnlyOptimal)
	rp.Begin(cb, fb)
	rp.End(cb)
	assert.NotEmpty(t, driver.Violations)

	begins := driver.CommandsOf(vulkantest.OpBeginRenderPass)
	require.Len(t, begins, 2)
	assert.Equal(t, vk.Extent2D{Width: 128, Height: 128}, begins[0].Extent)

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
	cb.Free(device.CommandPool())
	rp.Destroy()
	gb.Destroy()
	other.Destroy()
	require.NoError(t, device.Destroy())
	assert.Empty(t, driver.Live())
}

func TestGraphicsPipeline(t *testing.T) {
	device, driver := vulkantest.NewDevice(t)

	rp, err := vulkan.NewRenderPass(device, vulkan.RenderPassConfig{
		Name: "depth",
		Depth: &vulkan.AttachmentConfig{
			Format:     device.DepthFormat,
			LoadOp:     vk.AttachmentLoadOpClear,
			StoreOp:    vk.AttachmentStoreOpStore,
			ClearDepth: 1,
		},
	})
	require.NoError(t, err)

	stride, attributes := vulkan.Vertex3DAttributes()
	assert.Equal(t, uint32(68), stride)
	require.Len(t, attributes, 6)
	assert.Equal(t, uint32(24), attributes[2].Offset)
	assert.Equal(t, uint32(56), attributes[5].Offset)

	config := vulkan.PipelineConfig{
		Name:         "depth",
		RenderPass:   rp,
		VertexCode:   []uint32{0x07230203},
		FragmentCode: []uint32{0x07230203},
		Stride:       stride,
		Attributes:   attributes,
		PushConstantRanges: []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit),
			Size:       68,
		}},
		DepthTest:      true,
		DepthWrite:     true,
		DepthCompareOp: vk.CompareOpLessOrEqual,
	}
	pipeline, err := vulkan.NewGraphicsPipeline(device, config)
	require.NoError(t, err)
	assert.NotContains(t, driver.Live(), "shader_module", "modules are released after creation")

	config.PushConstantRanges[0].Size = 256
	_, err = vulkan.NewGraphicsPipeline(device, config)
	assert.Error(t, err)

	driver.Failures["CreateGraphicsPipeline"] = errors.New("bad spirv")
	config.PushConstantRanges[0].Size = 68
	_, err = vulkan.NewGraphicsPipeline(device, config)
	assert.Error(t, err)
	assert.Len(t, filter(driver.Live(), "pipeline_layout"), 1, "failed pipeline releases its layout")

	pipeline.Destroy()
	rp.Destroy()
}

func TestSpirvFromBytes(t *testing.T) {
	code, err := vulkan.SpirvFromBytes([]byte{0x03, 0x02, 0x23, 0x07, 0, 0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x07230203, 0x00010000}, code)

	_, err = vulkan.SpirvFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
	_, err = vulkan.SpirvFromBytes([]byte{0, 0, 0, 0})
	assert.Error(t, err)
}

func filter(kinds []string, kind string) []string {
	var out []string
	for _, k := range kinds {
		if k == kind {
			out = append(out, k)
		}
	}
	return out
}

func TestTextureUpload(t *testing.T) {
	device, driver := vulkantest.NewDevice(t)

	pixels := make([]byte, 4*2*2)
	tex, err := vulkan.NewTexture(device, "checker", 2, 2, pixels)
	require.NoError(t, err)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, tex.Layout())
	assert.NotNil(t, tex.Sampler)

	copies := driver.CommandsOf(vulkantest.OpCopyBufferToImage)
	require.Len(t, copies, 1)
	assert.True(t, tex.Handle == copies[0].Image)
	assert.Equal(t, [][2]vk.ImageLayout{
		{vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal},
		{vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal},
	}, driver.Transitions(tex.Handle))
	assert.Empty(t, driver.Violations)

	_, err = vulkan.NewTexture(device, "short", 2, 2, pixels[:4])
	assert.Error(t, err)

	white, err := vulkan.NewSolidTexture(device, "white", [4]byte{255, 255, 255, 255})
	require.NoError(t, err)
	assert.Equal(t, vk.Extent2D{Width: 1, Height: 1}, white.Extent())

	tex.Destroy()
	white.Destroy()
	require.NoError(t, device.Destroy())
	assert.Empty(t, driver.Live())
}
