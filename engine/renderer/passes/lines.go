package passes

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/spaghettifunk/penumbra/engine/renderer/metadata"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/spaghettifunk/penumbra/engine/scene"
)

const LineOverlayFormat = vk.FormatR8g8b8a8Unorm

type LineUniform struct {
	ViewProjection math.Mat4
	CameraPosition math.Vec3
	_              float32
}

type linePush struct {
	Model math.Mat4
}

/**
 * @brief Draws the LineManager contents as a line list over a transparent
 * per-frame overlay, depth tested against the scene depth. Vertex data is
 * copied from a per-frame staging buffer into a device local buffer at the
 * start of the pass.
 */
type LinePass struct {
	device  *vulkan.Device
	frames  int
	extent  vk.Extent2D
	shaders ShaderSource
	lines   *scene.LineManager

	pool         *vulkan.DescriptorPool
	layout       *vulkan.DescriptorSetLayout
	renderPass   *vulkan.RenderPass
	pipeline     *vulkan.Pipeline
	framebuffers *vulkan.FramebufferCache
	sets         []vk.DescriptorSet
	uniforms     []*vulkan.Buffer
	staging      []*vulkan.Buffer
	vertices     []*vulkan.Buffer
	targets      []*vulkan.Image
	capacity     int
}

// NewLinePass sizes its vertex buffers to the capacity of lines.
func NewLinePass(config Config, lines *scene.LineManager) (*LinePass, error) {
	if err := config.validate("line pass"); err != nil {
		return nil, err
	}
	if lines == nil {
		return nil, fmt.Errorf("line pass: no line manager")
	}
	p := &LinePass{
		device:   config.Device,
		frames:   config.Frames,
		extent:   config.Extent,
		shaders:  config.Shaders,
		lines:    lines,
		capacity: lines.Capacity(),
	}
	if err := p.create(); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

func (p *LinePass) create() error {
	frames := uint32(p.frames)
	var err error
	p.pool, err = vulkan.NewDescriptorPoolBuilder().
		SetMaxSets(frames).
		AddPoolSize(vk.DescriptorTypeUniformBuffer, frames).
		Build(p.device)
	if err != nil {
		return err
	}
	p.layout, err = vulkan.NewDescriptorSetLayoutBuilder().
		AddBinding(0, vk.DescriptorTypeUniformBuffer, objectPushStages, 1).
		Build(p.device)
	if err != nil {
		return err
	}
	p.renderPass, err = vulkan.NewRenderPass(p.device, vulkan.RenderPassConfig{
		Name: "lines",
		Colors: []vulkan.AttachmentConfig{{
			Format:  LineOverlayFormat,
			LoadOp:  vk.AttachmentLoadOpClear,
			StoreOp: vk.AttachmentStoreOpStore,
		}},
		Depth: &vulkan.AttachmentConfig{
			Format:  p.device.DepthFormat,
			LoadOp:  vk.AttachmentLoadOpLoad,
			StoreOp: vk.AttachmentStoreOpStore,
		},
	})
	if err != nil {
		return err
	}
	p.framebuffers = vulkan.NewFramebufferCache(p.device, p.renderPass)

	if err := p.ReloadPipeline(); err != nil {
		return err
	}

	p.uniforms, err = newUniformBuffers(p.device, p.frames, vk.DeviceSize(unsafe.Sizeof(LineUniform{})))
	if err != nil {
		return err
	}
	size := vk.DeviceSize(p.capacity) * vk.DeviceSize(unsafe.Sizeof(scene.LineVertex{}))
	for i := 0; i < p.frames; i++ {
		set, err := vulkan.NewDescriptorWriter(p.layout, p.pool).
			WriteBuffer(0, p.uniforms[i].DescriptorInfo()).
			Build()
		if err != nil {
			return err
		}
		p.sets = append(p.sets, set)

		staging, err := vulkan.NewBuffer(p.device, size,
			vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
		if err != nil {
			return err
		}
		p.staging = append(p.staging, staging)
		if err := staging.Map(); err != nil {
			return err
		}
		vertices, err := vulkan.NewBuffer(p.device, size,
			vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
		if err != nil {
			return err
		}
		p.vertices = append(p.vertices, vertices)
	}

	p.targets, err = p.newTargets(p.extent)
	return err
}

func (p *LinePass) newTargets(extent vk.Extent2D) ([]*vulkan.Image, error) {
	sampler := vulkan.AttachmentSamplerConfig()
	return newTargets(p.device, p.frames, vulkan.ImageConfig{
		Name:    "line_overlay",
		Width:   extent.Width,
		Height:  extent.Height,
		Format:  LineOverlayFormat,
		Usage:   vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) | vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		Sampler: &sampler,
	})
}

func lineAttributes() (uint32, []vk.VertexInputAttributeDescription) {
	var v scene.LineVertex
	return uint32(unsafe.Sizeof(v)), []vk.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: uint32(unsafe.Offsetof(v.Position))},
		{Location: 1, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: uint32(unsafe.Offsetof(v.Colour))},
	}
}

func (p *LinePass) ReloadPipeline() error {
	vert, frag, err := loadShaders(p.shaders, "lines")
	if err != nil {
		return err
	}
	stride, attributes := lineAttributes()
	var push linePush
	pipeline, err := vulkan.NewGraphicsPipeline(p.device, vulkan.PipelineConfig{
		Name:                 "lines",
		RenderPass:           p.renderPass,
		VertexCode:           vert,
		FragmentCode:         frag,
		Stride:               stride,
		Attributes:           attributes,
		DescriptorSetLayouts: []*vulkan.DescriptorSetLayout{p.layout},
		PushConstantRanges: []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit),
			Size:       uint32(len(vulkan.AsBytes(&push))),
		}},
		Topology:       vk.PrimitiveTopologyLineList,
		CullMode:       metadata.FaceCullModeNone.VulkanCullMode(),
		DepthTest:      true,
		DepthWrite:     false,
		DepthCompareOp: vk.CompareOpLess,
	})
	if err != nil {
		return err
	}
	if p.pipeline != nil {
		p.pipeline.Destroy()
	}
	p.pipeline = pipeline
	return nil
}

// Overlay is the line image of frame, in SHADER_READ_ONLY_OPTIMAL after
// Record.
func (p *LinePass) Overlay(frame uint32) *vulkan.Image {
	return p.targets[frame]
}

// Record uploads and draws the accumulated lines. The manager is not
// cleared; the caller decides when lines expire.
func (p *LinePass) Record(frame *metadata.FrameContext, depth *vulkan.Image) error {
	if err := checkFrame("line pass", frame, p.frames); err != nil {
		return err
	}
	cb := frame.CommandBuffer
	f := frame.FrameIndex
	driver := p.device.Driver

	count := p.lines.Len()
	if count > p.capacity {
		err := fmt.Errorf("line pass: %d vertices, buffer holds %d: %w", count, p.capacity, core.ErrLineCapacity)
		core.LogError(err.Error())
		return err
	}

	ubo := LineUniform{
		ViewProjection: frame.View().Mul(frame.Projection()),
		CameraPosition: frame.Camera.GetPosition(),
	}
	if err := p.uniforms[f].WriteToBuffer(vulkan.AsBytes(&ubo), 0); err != nil {
		return fmt.Errorf("line pass: %w", err)
	}

	if count > 0 {
		data := vulkan.SliceAsBytes(p.lines.Vertices())
		if err := p.staging[f].WriteToBuffer(data, 0); err != nil {
			return fmt.Errorf("line pass: %w", err)
		}
		size := vk.DeviceSize(len(data))
		driver.CmdCopyBuffer(cb.Handle, p.staging[f].Handle, p.vertices[f].Handle, []vk.BufferCopy{{Size: size}})
		driver.CmdBufferBarrier(cb.Handle,
			vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
			[]vk.BufferMemoryBarrier{{
				SType:               vk.StructureTypeBufferMemoryBarrier,
				SrcAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
				DstAccessMask:       vk.AccessFlags(vk.AccessVertexAttributeReadBit),
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Buffer:              p.vertices[f].Handle,
				Size:                size,
			}})
	}

	target := p.targets[f]
	target.Transition(cb.Handle, vk.ImageLayoutColorAttachmentOptimal)
	depth.Transition(cb.Handle, vk.ImageLayoutDepthStencilAttachmentOptimal)

	fb, err := p.framebuffers.Get(p.extent.Width, p.extent.Height, target.View, depth.View)
	if err != nil {
		return fmt.Errorf("line pass: %w", err)
	}
	p.renderPass.Begin(cb, fb)
	if count > 0 {
		p.pipeline.Bind(cb.Handle)
		p.pipeline.BindDescriptorSets(cb.Handle, 0, p.sets[f])
		push := linePush{Model: math.NewMat4Identity()}
		p.pipeline.PushConstants(cb.Handle, vk.ShaderStageFlags(vk.ShaderStageVertexBit), vulkan.AsBytes(&push))
		driver.CmdBindVertexBuffers(cb.Handle, []vk.Buffer{p.vertices[f].Handle}, []vk.DeviceSize{0})
		driver.CmdDraw(cb.Handle, uint32(count), 1, 0, 0)
	}
	p.renderPass.End(cb)

	target.Transition(cb.Handle, vk.ImageLayoutShaderReadOnlyOptimal)
	depth.Transition(cb.Handle, vk.ImageLayoutShaderReadOnlyOptimal)
	return nil
}

func (p *LinePass) Resize(extent vk.Extent2D) error {
	if extent == p.extent {
		return nil
	}
	targets, err := p.newTargets(extent)
	if err != nil {
		core.LogError("line pass resize to %dx%d failed: %s", extent.Width, extent.Height, err)
		return err
	}
	p.framebuffers.Clear()
	destroyImages(p.targets)
	p.targets = targets
	p.extent = extent
	return nil
}

func (p *LinePass) Destroy() {
	if p.framebuffers != nil {
		p.framebuffers.Clear()
	}
	destroyImages(p.targets)
	p.targets = nil
	destroyBuffers(p.uniforms)
	destroyBuffers(p.staging)
	destroyBuffers(p.vertices)
	p.uniforms, p.staging, p.vertices = nil, nil, nil
	p.sets = nil
	if p.pipeline != nil {
		p.pipeline.Destroy()
	}
	if p.renderPass != nil {
		p.renderPass.Destroy()
	}
	if p.layout != nil {
		p.layout.Destroy()
	}
	if p.pool != nil {
		p.pool.Destroy()
	}
}
