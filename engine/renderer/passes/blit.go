package passes

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/renderer/metadata"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
)

const BlitInputCount = 2

const defaultGamma = 2.2

type ExposureUniform struct {
	Exposure  float32
	Gamma     float32
	DebugView uint32
	_         uint32
}

// BlitPass tone maps the lighting output, composites the line overlay on
// top and writes the result into the acquired swapchain image.
type BlitPass struct {
	device  *vulkan.Device
	frames  int
	extent  vk.Extent2D
	format  vk.Format
	shaders ShaderSource

	pool         *vulkan.DescriptorPool
	layout       *vulkan.DescriptorSetLayout
	renderPass   *vulkan.RenderPass
	pipeline     *vulkan.Pipeline
	framebuffers *vulkan.FramebufferCache
	sets         []vk.DescriptorSet
	uniforms     []*vulkan.Buffer
	inputs       [][]*vulkan.Image

	Gamma float32
}

// NewBlitPass creates the pass for swapchain images of the given format.
func NewBlitPass(config Config, format vk.Format) (*BlitPass, error) {
	if err := config.validate("blit pass"); err != nil {
		return nil, err
	}
	p := &BlitPass{
		device:  config.Device,
		frames:  config.Frames,
		extent:  config.Extent,
		format:  format,
		shaders: config.Shaders,
		Gamma:   defaultGamma,
	}
	if err := p.create(); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

func (p *BlitPass) create() error {
	frames := uint32(p.frames)
	fragment := vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	var err error
	p.pool, err = vulkan.NewDescriptorPoolBuilder().
		SetMaxSets(frames).
		AddPoolSize(vk.DescriptorTypeUniformBuffer, frames).
		AddPoolSize(vk.DescriptorTypeCombinedImageSampler, frames*BlitInputCount).
		Build(p.device)
	if err != nil {
		return err
	}
	p.layout, err = vulkan.NewDescriptorSetLayoutBuilder().
		AddBinding(0, vk.DescriptorTypeUniformBuffer, fragment, 1).
		AddBinding(1, vk.DescriptorTypeCombinedImageSampler, fragment, 1).
		AddBinding(2, vk.DescriptorTypeCombinedImageSampler, fragment, 1).
		Build(p.device)
	if err != nil {
		return err
	}
	p.renderPass, err = p.newRenderPass(p.format)
	if err != nil {
		return err
	}
	p.framebuffers = vulkan.NewFramebufferCache(p.device, p.renderPass)

	if err := p.ReloadPipeline(); err != nil {
		return err
	}

	p.uniforms, err = newUniformBuffers(p.device, p.frames, vk.DeviceSize(unsafe.Sizeof(ExposureUniform{})))
	if err != nil {
		return err
	}
	p.inputs = make([][]*vulkan.Image, p.frames)
	for i := 0; i < p.frames; i++ {
		set, err := vulkan.NewDescriptorWriter(p.layout, p.pool).
			WriteBuffer(0, p.uniforms[i].DescriptorInfo()).
			Build()
		if err != nil {
			return err
		}
		p.sets = append(p.sets, set)
	}
	return nil
}

func (p *BlitPass) newRenderPass(format vk.Format) (*vulkan.RenderPass, error) {
	return vulkan.NewRenderPass(p.device, vulkan.RenderPassConfig{
		Name: "blit",
		Colors: []vulkan.AttachmentConfig{{
			Format:  format,
			LoadOp:  vk.AttachmentLoadOpDontCare,
			StoreOp: vk.AttachmentStoreOpStore,
		}},
	})
}

func (p *BlitPass) Format() vk.Format { return p.format }

// SetFormat rebuilds the render pass, pipeline and framebuffers for
// swapchain images of a new format. On failure the pass keeps drawing
// with the previous format.
func (p *BlitPass) SetFormat(format vk.Format) error {
	if format == p.format {
		return nil
	}
	renderPass, err := p.newRenderPass(format)
	if err != nil {
		return fmt.Errorf("blit pass: %w", err)
	}
	oldPass, oldPipeline := p.renderPass, p.pipeline
	p.renderPass, p.pipeline = renderPass, nil
	if err := p.ReloadPipeline(); err != nil {
		renderPass.Destroy()
		p.renderPass, p.pipeline = oldPass, oldPipeline
		return fmt.Errorf("blit pass: %w", err)
	}
	p.framebuffers.Clear()
	oldPipeline.Destroy()
	oldPass.Destroy()
	p.framebuffers = vulkan.NewFramebufferCache(p.device, p.renderPass)
	p.format = format
	core.LogDebug("Blit pass rebuilt for swapchain format %d.", format)
	return nil
}

func (p *BlitPass) ReloadPipeline() error {
	vert, frag, err := loadShaders(p.shaders, "blit")
	if err != nil {
		return err
	}
	pipeline, err := vulkan.NewGraphicsPipeline(p.device, vulkan.PipelineConfig{
		Name:                 "blit",
		RenderPass:           p.renderPass,
		VertexCode:           vert,
		FragmentCode:         frag,
		DescriptorSetLayouts: []*vulkan.DescriptorSetLayout{p.layout},
		CullMode:             metadata.FaceCullModeNone.VulkanCullMode(),
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

// UpdateDescriptor points frame at the lighting output and the line
// overlay, in that order.
func (p *BlitPass) UpdateDescriptor(frame uint32, images ...*vulkan.Image) error {
	if err := checkSlot("blit pass", frame, p.frames); err != nil {
		return err
	}
	if len(images) != BlitInputCount {
		err := fmt.Errorf("blit pass: %d images, want %d: %w", len(images), BlitInputCount, core.ErrDescriptorCountMismatch)
		core.LogError(err.Error())
		return err
	}
	writer := vulkan.NewDescriptorWriter(p.layout, p.pool)
	for i, img := range images {
		if img == nil {
			return fmt.Errorf("blit pass: input %d is nil", i)
		}
		writer.WriteImage(1+uint32(i), img.DescriptorInfo())
	}
	if err := writer.Overwrite(p.sets[frame]); err != nil {
		return fmt.Errorf("blit pass: %w", err)
	}
	p.inputs[frame] = append([]*vulkan.Image(nil), images...)
	return nil
}

// Record draws into target, which must be the acquired swapchain image.
// target is left in COLOR_ATTACHMENT_OPTIMAL so overlays can draw on top.
func (p *BlitPass) Record(frame *metadata.FrameContext, target *vulkan.Image) error {
	if err := checkFrame("blit pass", frame, p.frames); err != nil {
		return err
	}
	f := frame.FrameIndex
	if p.inputs[f] == nil {
		return fmt.Errorf("blit pass: inputs of frame %d were never bound", f)
	}
	cb := frame.CommandBuffer

	ubo := ExposureUniform{
		Exposure:  frame.Camera.Exposure(),
		Gamma:     p.Gamma,
		DebugView: uint32(frame.DebugView),
	}
	if err := p.uniforms[f].WriteToBuffer(vulkan.AsBytes(&ubo), 0); err != nil {
		return fmt.Errorf("blit pass: %w", err)
	}

	for _, img := range p.inputs[f] {
		img.Transition(cb.Handle, vk.ImageLayoutShaderReadOnlyOptimal)
	}
	target.Transition(cb.Handle, vk.ImageLayoutColorAttachmentOptimal)

	fb, err := p.framebuffers.Get(target.Width, target.Height, target.View)
	if err != nil {
		return fmt.Errorf("blit pass: %w", err)
	}
	p.renderPass.Begin(cb, fb)
	p.pipeline.Bind(cb.Handle)
	p.pipeline.BindDescriptorSets(cb.Handle, 0, p.sets[f])
	p.device.Driver.CmdDraw(cb.Handle, 3, 1, 0, 0)
	p.renderPass.End(cb)
	return nil
}

// Resize forgets the swapchain framebuffers and the input bindings, which
// both refer to images about to be replaced.
func (p *BlitPass) Resize(extent vk.Extent2D) error {
	if extent == p.extent {
		return nil
	}
	p.InvalidateFramebuffers()
	for i := range p.inputs {
		p.inputs[i] = nil
	}
	p.extent = extent
	return nil
}

// InvalidateFramebuffers drops the cached swapchain framebuffers. Called
// whenever the swapchain is recreated, even at the same extent.
func (p *BlitPass) InvalidateFramebuffers() {
	p.framebuffers.Clear()
}

func (p *BlitPass) Destroy() {
	if p.framebuffers != nil {
		p.framebuffers.Clear()
	}
	destroyBuffers(p.uniforms)
	p.uniforms = nil
	p.sets = nil
	p.inputs = nil
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
