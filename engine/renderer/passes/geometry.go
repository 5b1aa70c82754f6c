package passes

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/renderer/metadata"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/spaghettifunk/penumbra/engine/resources"
	"github.com/spaghettifunk/penumbra/engine/scene"
)

// MaxMaterials bounds the material descriptor pool of the geometry pass.
const MaxMaterials = 512

const materialStages = vk.ShaderStageFlags(vk.ShaderStageFragmentBit)

/**
 * @brief Writes albedo, normal, position, specular and object id into the
 * per-frame geometry buffer. Depth comes from the pre-pass and is only
 * tested for equality here.
 */
type GeometryPass struct {
	device  *vulkan.Device
	frames  int
	extent  vk.Extent2D
	shaders ShaderSource

	cameraPool     *vulkan.DescriptorPool
	materialPool   *vulkan.DescriptorPool
	cameraLayout   *vulkan.DescriptorSetLayout
	materialLayout *vulkan.DescriptorSetLayout
	renderPass     *vulkan.RenderPass
	pipeline       *vulkan.Pipeline
	framebuffers   *vulkan.FramebufferCache
	sets           []vk.DescriptorSet
	uniforms       []*vulkan.Buffer
	geo            []*vulkan.GeoBuffer
	materials      int
}

func NewGeometryPass(config Config) (*GeometryPass, error) {
	if err := config.validate("geometry pass"); err != nil {
		return nil, err
	}
	p := &GeometryPass{
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

func (p *GeometryPass) create() error {
	frames := uint32(p.frames)
	var err error
	p.cameraPool, err = vulkan.NewDescriptorPoolBuilder().
		SetMaxSets(frames).
		AddPoolSize(vk.DescriptorTypeUniformBuffer, frames).
		Build(p.device)
	if err != nil {
		return err
	}
	p.materialPool, err = vulkan.NewDescriptorPoolBuilder().
		SetMaxSets(MaxMaterials).
		AddPoolSize(vk.DescriptorTypeUniformBuffer, MaxMaterials).
		AddPoolSize(vk.DescriptorTypeCombinedImageSampler, MaxMaterials*uint32(resources.TextureUseCount)).
		Build(p.device)
	if err != nil {
		return err
	}

	p.cameraLayout, err = vulkan.NewDescriptorSetLayoutBuilder().
		AddBinding(0, vk.DescriptorTypeUniformBuffer, objectPushStages, 1).
		Build(p.device)
	if err != nil {
		return err
	}
	materialLayout := vulkan.NewDescriptorSetLayoutBuilder().
		AddBinding(0, vk.DescriptorTypeUniformBuffer, materialStages, 1)
	for use := uint32(0); use < uint32(resources.TextureUseCount); use++ {
		materialLayout = materialLayout.AddBinding(1+use, vk.DescriptorTypeCombinedImageSampler, materialStages, 1)
	}
	if p.materialLayout, err = materialLayout.Build(p.device); err != nil {
		return err
	}

	colors := make([]vulkan.AttachmentConfig, 0, vulkan.GeoAttachmentCount)
	for _, format := range vulkan.GeoBufferFormats() {
		colors = append(colors, vulkan.AttachmentConfig{
			Format:  format,
			LoadOp:  vk.AttachmentLoadOpClear,
			StoreOp: vk.AttachmentStoreOpStore,
		})
	}
	p.renderPass, err = vulkan.NewRenderPass(p.device, vulkan.RenderPassConfig{
		Name:   "geometry",
		Colors: colors,
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

	p.uniforms, err = newUniformBuffers(p.device, p.frames, vk.DeviceSize(unsafe.Sizeof(CameraUniform{})))
	if err != nil {
		return err
	}
	for i := 0; i < p.frames; i++ {
		set, err := vulkan.NewDescriptorWriter(p.cameraLayout, p.cameraPool).
			WriteBuffer(0, p.uniforms[i].DescriptorInfo()).
			Build()
		if err != nil {
			return err
		}
		p.sets = append(p.sets, set)
	}

	for i := 0; i < p.frames; i++ {
		geo, err := vulkan.NewGeoBuffer(p.device, p.extent)
		if err != nil {
			return err
		}
		p.geo = append(p.geo, geo)
	}
	return nil
}

// ReloadPipeline rebuilds the pipeline from the shader source. The device
// must be idle.
func (p *GeometryPass) ReloadPipeline() error {
	vert, frag, err := loadShaders(p.shaders, "geometry")
	if err != nil {
		return err
	}
	stride, attributes := vulkan.Vertex3DAttributes()
	pipeline, err := vulkan.NewGraphicsPipeline(p.device, vulkan.PipelineConfig{
		Name:                 "geometry",
		RenderPass:           p.renderPass,
		VertexCode:           vert,
		FragmentCode:         frag,
		Stride:               stride,
		Attributes:           attributes,
		DescriptorSetLayouts: []*vulkan.DescriptorSetLayout{p.cameraLayout, p.materialLayout},
		PushConstantRanges:   objectPushRange(),
		CullMode:             metadata.FaceCullModeBack.VulkanCullMode(),
		DepthTest:            true,
		DepthWrite:           false,
		DepthCompareOp:       vk.CompareOpEqual,
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

// PrepareMaterial creates the uniform buffer and descriptor set of m.
// Preparing an already prepared material only refreshes its uniform.
func (p *GeometryPass) PrepareMaterial(m *scene.Material) error {
	data := m.UniformData()
	if m.IsPrepared() {
		return m.Uniform.WriteToBuffer(vulkan.AsBytes(&data), 0)
	}
	if p.materials >= MaxMaterials {
		err := fmt.Errorf("material %s: %d materials prepared: %w", m.Name, p.materials, core.ErrOutOfPoolMemory)
		core.LogError(err.Error())
		return err
	}

	uniform, err := vulkan.NewUniformBuffer(p.device, vk.DeviceSize(unsafe.Sizeof(data)))
	if err != nil {
		return err
	}
	if err := uniform.WriteToBuffer(vulkan.AsBytes(&data), 0); err != nil {
		uniform.Destroy()
		return err
	}

	writer := vulkan.NewDescriptorWriter(p.materialLayout, p.materialPool).
		WriteBuffer(0, uniform.DescriptorInfo())
	for use, texture := range m.Textures {
		writer.WriteImage(1+uint32(use), texture.DescriptorInfo())
	}
	set, err := writer.Build()
	if err != nil {
		uniform.Destroy()
		return fmt.Errorf("material %s: %w", m.Name, err)
	}
	m.Uniform = uniform
	m.Set = set
	p.materials++
	return nil
}

// GeoBuffer is the geometry buffer of frame, in SHADER_READ_ONLY_OPTIMAL
// after Record.
func (p *GeometryPass) GeoBuffer(frame uint32) *vulkan.GeoBuffer {
	return p.geo[frame]
}

func (p *GeometryPass) Record(frame *metadata.FrameContext, depth *vulkan.Image) error {
	if err := checkFrame("geometry pass", frame, p.frames); err != nil {
		return err
	}
	cb := frame.CommandBuffer
	f := frame.FrameIndex

	ubo := CameraUniform{View: frame.View(), Projection: frame.Projection()}
	if err := p.uniforms[f].WriteToBuffer(vulkan.AsBytes(&ubo), 0); err != nil {
		return fmt.Errorf("geometry pass: %w", err)
	}

	geo := p.geo[f]
	geo.Transition(cb.Handle, vk.ImageLayoutColorAttachmentOptimal)
	depth.Transition(cb.Handle, vk.ImageLayoutDepthStencilAttachmentOptimal)

	fb, err := p.framebuffers.Get(p.extent.Width, p.extent.Height, append(geo.Views(), depth.View)...)
	if err != nil {
		return fmt.Errorf("geometry pass: %w", err)
	}
	p.renderPass.Begin(cb, fb)
	p.pipeline.Bind(cb.Handle)
	p.pipeline.BindDescriptorSets(cb.Handle, 0, p.sets[f])
	drawObjects(p.device.Driver, cb.Handle, p.pipeline, frame.DrawList(), true)
	p.renderPass.End(cb)

	geo.Transition(cb.Handle, vk.ImageLayoutShaderReadOnlyOptimal)
	depth.Transition(cb.Handle, vk.ImageLayoutShaderReadOnlyOptimal)
	return nil
}

// ReadPixel returns the object id rendered at (x, y) in the selection target
// of frame, zero when nothing was drawn there. It submits and waits on its
// own command buffer, so it must not be called while frame is recording.
func (p *GeometryPass) ReadPixel(frame uint32, x, y uint32) (uint32, error) {
	if err := checkSlot("geometry pass", frame, p.frames); err != nil {
		return 0, err
	}
	if x >= p.extent.Width || y >= p.extent.Height {
		return 0, fmt.Errorf("pixel (%d, %d) outside %dx%d viewport", x, y, p.extent.Width, p.extent.Height)
	}
	selection := p.geo[frame].Selection()

	staging, err := vulkan.NewBuffer(p.device, 4,
		vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return 0, err
	}
	defer staging.Destroy()

	cb, err := p.device.BeginSingleTimeCommands()
	if err != nil {
		return 0, err
	}
	selection.Transition(cb.Handle, vk.ImageLayoutTransferSrcOptimal)
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageOffset: vk.Offset3D{X: int32(x), Y: int32(y)},
		ImageExtent: vk.Extent3D{Width: 1, Height: 1, Depth: 1},
	}
	p.device.Driver.CmdCopyImageToBuffer(cb.Handle, selection.Handle, vk.ImageLayoutTransferSrcOptimal, staging.Handle, []vk.BufferImageCopy{region})
	selection.Transition(cb.Handle, vk.ImageLayoutShaderReadOnlyOptimal)
	if err := p.device.EndSingleTimeCommands(cb); err != nil {
		return 0, err
	}

	if err := staging.Map(); err != nil {
		return 0, err
	}
	texel := staging.Bytes()
	return uint32(texel[0]) | uint32(texel[1])<<8 | uint32(texel[2])<<16, nil
}

// Resize rebuilds every geometry buffer. Resizing to the current extent
// does nothing.
// Resize builds the geobuffers of every frame at extent before releasing
// any of the current ones. On failure the pass is left untouched.
func (p *GeometryPass) Resize(extent vk.Extent2D) error {
	if extent == p.extent {
		return nil
	}
	next := make([]*vulkan.GeoBuffer, 0, len(p.geo))
	for range p.geo {
		geo, err := vulkan.NewGeoBuffer(p.device, extent)
		if err != nil {
			for _, built := range next {
				built.Destroy()
			}
			core.LogError("geometry pass resize to %dx%d failed: %s", extent.Width, extent.Height, err)
			return err
		}
		next = append(next, geo)
	}
	p.framebuffers.Clear()
	for _, geo := range p.geo {
		geo.Destroy()
	}
	p.geo = next
	p.extent = extent
	return nil
}

func (p *GeometryPass) Destroy() {
	if p.framebuffers != nil {
		p.framebuffers.Clear()
	}
	for _, geo := range p.geo {
		geo.Destroy()
	}
	p.geo = nil
	destroyBuffers(p.uniforms)
	p.uniforms = nil
	p.sets = nil
	if p.pipeline != nil {
		p.pipeline.Destroy()
	}
	if p.renderPass != nil {
		p.renderPass.Destroy()
	}
	for _, layout := range []*vulkan.DescriptorSetLayout{p.cameraLayout, p.materialLayout} {
		if layout != nil {
			layout.Destroy()
		}
	}
	for _, pool := range []*vulkan.DescriptorPool{p.cameraPool, p.materialPool} {
		if pool != nil {
			pool.Destroy()
		}
	}
}
