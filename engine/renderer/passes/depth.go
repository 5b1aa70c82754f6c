package passes

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/renderer/metadata"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
)

/**
 * @brief Fills the scene depth once per frame so later passes can test
 * against it. Owns one viewport sized depth image per frame slot.
 */
type DepthPrePass struct {
	device  *vulkan.Device
	frames  int
	extent  vk.Extent2D
	shaders ShaderSource

	pool         *vulkan.DescriptorPool
	layout       *vulkan.DescriptorSetLayout
	renderPass   *vulkan.RenderPass
	pipeline     *vulkan.Pipeline
	framebuffers *vulkan.FramebufferCache
	sets         []vk.DescriptorSet
	uniforms     []*vulkan.Buffer
	depth        []*vulkan.Image
}

func NewDepthPrePass(config Config) (*DepthPrePass, error) {
	if err := config.validate("depth prepass"); err != nil {
		return nil, err
	}
	p := &DepthPrePass{
		device:  config.Device,
		frames:  config.Frames,
		extent:  config.Extent,
		shaders: config.Shaders,
	}
	if err := p.create(); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

func (p *DepthPrePass) create() error {
	frames := uint32(p.frames)
	var err error
	p.pool, err = vulkan.NewDescriptorPoolBuilder().
		SetMaxSets(frames*2).
		AddPoolSize(vk.DescriptorTypeUniformBuffer, frames*2).
		Build(p.device)
	if err != nil {
		return err
	}
	p.layout, err = vulkan.NewDescriptorSetLayoutBuilder().
		AddBinding(0, vk.DescriptorTypeUniformBuffer, vk.ShaderStageFlags(vk.ShaderStageVertexBit), 1).
		Build(p.device)
	if err != nil {
		return err
	}

	p.renderPass, err = vulkan.NewRenderPass(p.device, vulkan.RenderPassConfig{
		Name: "depth_prepass",
		Depth: &vulkan.AttachmentConfig{
			Format:     p.device.DepthFormat,
			LoadOp:     vk.AttachmentLoadOpClear,
			StoreOp:    vk.AttachmentStoreOpStore,
			ClearDepth: 1.0,
		},
	})
	if err != nil {
		return err
	}
	p.framebuffers = vulkan.NewFramebufferCache(p.device, p.renderPass)

	if err := p.ReloadPipeline(); err != nil {
		return err
	}

	p.uniforms, err = newUniformBuffers(p.device, p.frames, vk.DeviceSize(unsafe.Sizeof(CameraUniform{})))
	if err != nil {
		return err
	}
	for i := 0; i < p.frames; i++ {
		set, err := vulkan.NewDescriptorWriter(p.layout, p.pool).
			WriteBuffer(0, p.uniforms[i].DescriptorInfo()).
			Build()
		if err != nil {
			return err
		}
		p.sets = append(p.sets, set)
	}

	p.depth, err = p.newDepthImages(p.extent)
	return err
}

func (p *DepthPrePass) newDepthImages(extent vk.Extent2D) ([]*vulkan.Image, error) {
	sampler := vulkan.AttachmentSamplerConfig()
	return newTargets(p.device, p.frames, vulkan.ImageConfig{
		Name:    "scene_depth",
		Width:   extent.Width,
		Height:  extent.Height,
		Format:  p.device.DepthFormat,
		Usage:   vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit) | vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		Sampler: &sampler,
	})
}

// ReloadPipeline rebuilds the pipeline from the shader source. The device
// must be idle.
func (p *DepthPrePass) ReloadPipeline() error {
	vert, frag, err := loadShaders(p.shaders, "depth")
	if err != nil {
		return err
	}
	stride, attributes := vulkan.Vertex3DAttributes()
	pipeline, err := vulkan.NewGraphicsPipeline(p.device, vulkan.PipelineConfig{
		Name:                 "depth_prepass",
		RenderPass:           p.renderPass,
		VertexCode:           vert,
		FragmentCode:         frag,
		Stride:               stride,
		Attributes:           attributes,
		DescriptorSetLayouts: []*vulkan.DescriptorSetLayout{p.layout},
		PushConstantRanges:   objectPushRange(),
		CullMode:             metadata.FaceCullModeBack.VulkanCullMode(),
		DepthTest:            true,
		DepthWrite:           true,
		DepthCompareOp:       vk.CompareOpLessOrEqual,
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

// Depth is the depth image of frame. It is in SHADER_READ_ONLY_OPTIMAL
// after Record.
func (p *DepthPrePass) Depth(frame uint32) *vulkan.Image {
	return p.depth[frame]
}

func (p *DepthPrePass) Extent() vk.Extent2D { return p.extent }

func (p *DepthPrePass) Record(frame *metadata.FrameContext) error {
	if err := checkFrame("depth prepass", frame, p.frames); err != nil {
		return err
	}
	cb := frame.CommandBuffer
	f := frame.FrameIndex

	ubo := CameraUniform{View: frame.View(), Projection: frame.Projection()}
	if err := p.uniforms[f].WriteToBuffer(vulkan.AsBytes(&ubo), 0); err != nil {
		return fmt.Errorf("depth prepass: %w", err)
	}

	depth := p.depth[f]
	depth.Transition(cb.Handle, vk.ImageLayoutDepthStencilAttachmentOptimal)

	fb, err := p.framebuffers.Get(p.extent.Width, p.extent.Height, depth.View)
	if err != nil {
		return fmt.Errorf("depth prepass: %w", err)
	}
	p.renderPass.Begin(cb, fb)
	p.pipeline.Bind(cb.Handle)
	p.pipeline.BindDescriptorSets(cb.Handle, 0, p.sets[f])
	drawObjects(p.device.Driver, cb.Handle, p.pipeline, frame.DrawList(), false)
	p.renderPass.End(cb)

	depth.Transition(cb.Handle, vk.ImageLayoutShaderReadOnlyOptimal)
	return nil
}

// Resize rebuilds the depth images. Resizing to the current extent does
// nothing; on failure the previous images are kept.
func (p *DepthPrePass) Resize(extent vk.Extent2D) error {
	if extent == p.extent {
		return nil
	}
	depth, err := p.newDepthImages(extent)
	if err != nil {
		core.LogError("depth prepass resize to %dx%d failed: %s", extent.Width, extent.Height, err)
		return err
	}
	p.framebuffers.Clear()
	destroyImages(p.depth)
	p.depth = depth
	p.extent = extent
	return nil
}

func (p *DepthPrePass) Destroy() {
	if p.framebuffers != nil {
		p.framebuffers.Clear()
	}
	destroyImages(p.depth)
	p.depth = nil
	destroyBuffers(p.uniforms)
	p.uniforms = nil
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
