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

const (
	LightingOutputFormat = vk.FormatR16g16b16a16Sfloat

	// LightingInputCount is the number of sampled inputs in set 1: albedo,
	// normal, specular, position, selection, depth and shadow map.
	LightingInputCount = 7

	// InitialPointLightCapacity is the first size of each point light
	// buffer. Buffers double when a scene has more lights.
	InitialPointLightCapacity = 16
)

const (
	lightingSetFrame = iota
	lightingSetInputs
	lightingSetEnvironment
	lightingSetPointLights
)

/**
 * @brief The lighting pass uniform block, set 0 binding 0. 256 bytes,
 * std140.
 */
type LightingUniform struct {
	View            math.Mat4
	Projection      math.Mat4
	LightViewProj   math.Mat4
	CameraPosition  math.Vec3
	Exposure        float32
	LightDirection  math.Vec3
	LightIntensity  float32
	LightColour     math.Vec3
	PointLightCount uint32
	ViewportSize    math.Vec2
	DebugView       uint32
	_               uint32
}

/**
 * @brief Resolves the geometry buffer into a single HDR image with a
 * full-screen triangle. Reads the scene depth, the shadow map, the
 * environment images and the scene point lights.
 */
type LightingPass struct {
	device  *vulkan.Device
	frames  int
	extent  vk.Extent2D
	shaders ShaderSource
	clear   [4]float32

	pool              *vulkan.DescriptorPool
	frameLayout       *vulkan.DescriptorSetLayout
	inputLayout       *vulkan.DescriptorSetLayout
	environmentLayout *vulkan.DescriptorSetLayout
	lightLayout       *vulkan.DescriptorSetLayout
	renderPass        *vulkan.RenderPass
	pipeline          *vulkan.Pipeline
	framebuffers      *vulkan.FramebufferCache

	frameSets     []vk.DescriptorSet
	inputSets     []vk.DescriptorSet
	lightSets     []vk.DescriptorSet
	uniforms      []*vulkan.Buffer
	lights        []*vulkan.Buffer
	lightCaps     []int
	inputs        [][]*vulkan.Image
	outputs       []*vulkan.Image
	lightViewProj func(scene.DirectionalLight) math.Mat4

	environmentSet vk.DescriptorSet
	placeholders   [2]*vulkan.Image
}

// NewLightingPass creates the pass. lightViewProj maps the scene light to
// the transform the shadow map was rendered with; it is usually
// ShadowPass.LightViewProjection.
func NewLightingPass(config Config, lightViewProj func(scene.DirectionalLight) math.Mat4) (*LightingPass, error) {
	if err := config.validate("lighting pass"); err != nil {
		return nil, err
	}
	if lightViewProj == nil {
		return nil, fmt.Errorf("lighting pass: no light transform")
	}
	p := &LightingPass{
		device:        config.Device,
		frames:        config.Frames,
		extent:        config.Extent,
		shaders:       config.Shaders,
		clear:         config.ClearColour,
		lightViewProj: lightViewProj,
	}
	if err := p.create(); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

func (p *LightingPass) create() error {
	frames := uint32(p.frames)
	fragment := vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	var err error

	p.pool, err = vulkan.NewDescriptorPoolBuilder().
		SetMaxSets(frames*3+1).
		AddPoolSize(vk.DescriptorTypeUniformBuffer, frames).
		AddPoolSize(vk.DescriptorTypeCombinedImageSampler, frames*LightingInputCount+2).
		AddPoolSize(vk.DescriptorTypeStorageBuffer, frames).
		Build(p.device)
	if err != nil {
		return err
	}

	if p.frameLayout, err = vulkan.NewDescriptorSetLayoutBuilder().
		AddBinding(0, vk.DescriptorTypeUniformBuffer, objectPushStages, 1).
		Build(p.device); err != nil {
		return err
	}
	inputs := vulkan.NewDescriptorSetLayoutBuilder()
	for b := uint32(0); b < LightingInputCount; b++ {
		inputs = inputs.AddBinding(b, vk.DescriptorTypeCombinedImageSampler, fragment, 1)
	}
	if p.inputLayout, err = inputs.Build(p.device); err != nil {
		return err
	}
	if p.environmentLayout, err = vulkan.NewDescriptorSetLayoutBuilder().
		AddBinding(0, vk.DescriptorTypeCombinedImageSampler, fragment, 1).
		AddBinding(1, vk.DescriptorTypeCombinedImageSampler, fragment, 1).
		Build(p.device); err != nil {
		return err
	}
	if p.lightLayout, err = vulkan.NewDescriptorSetLayoutBuilder().
		AddBinding(0, vk.DescriptorTypeStorageBuffer, fragment, 1).
		Build(p.device); err != nil {
		return err
	}

	p.renderPass, err = vulkan.NewRenderPass(p.device, vulkan.RenderPassConfig{
		Name: "lighting",
		Colors: []vulkan.AttachmentConfig{{
			Format:     LightingOutputFormat,
			LoadOp:     vk.AttachmentLoadOpClear,
			StoreOp:    vk.AttachmentStoreOpStore,
			ClearColor: p.clear,
		}},
	})
	if err != nil {
		return err
	}
	p.framebuffers = vulkan.NewFramebufferCache(p.device, p.renderPass)

	if err := p.ReloadPipeline(); err != nil {
		return err
	}

	p.uniforms, err = newUniformBuffers(p.device, p.frames, vk.DeviceSize(unsafe.Sizeof(LightingUniform{})))
	if err != nil {
		return err
	}
	p.inputs = make([][]*vulkan.Image, p.frames)
	p.lights = make([]*vulkan.Buffer, p.frames)
	p.lightCaps = make([]int, p.frames)
	for i := 0; i < p.frames; i++ {
		set, err := vulkan.NewDescriptorWriter(p.frameLayout, p.pool).
			WriteBuffer(0, p.uniforms[i].DescriptorInfo()).
			Build()
		if err != nil {
			return err
		}
		p.frameSets = append(p.frameSets, set)

		// Samplers are written by UpdateDescriptor.
		set, err = p.pool.Allocate(p.inputLayout)
		if err != nil {
			return err
		}
		p.inputSets = append(p.inputSets, set)

		if p.lights[i], err = newPointLightBuffer(p.device, InitialPointLightCapacity); err != nil {
			return err
		}
		p.lightCaps[i] = InitialPointLightCapacity
		set, err = vulkan.NewDescriptorWriter(p.lightLayout, p.pool).
			WriteBuffer(0, p.lights[i].DescriptorInfo()).
			Build()
		if err != nil {
			return err
		}
		p.lightSets = append(p.lightSets, set)
	}

	for i, name := range []string{"environment_placeholder", "irradiance_placeholder"} {
		if p.placeholders[i], err = vulkan.NewSolidTexture(p.device, name, [4]byte{0, 0, 0, 255}); err != nil {
			return err
		}
	}
	if p.environmentSet, err = p.pool.Allocate(p.environmentLayout); err != nil {
		return err
	}
	if err := p.SetEnvironment(nil, nil); err != nil {
		return err
	}

	p.outputs, err = p.newOutputs(p.extent)
	return err
}

func (p *LightingPass) newOutputs(extent vk.Extent2D) ([]*vulkan.Image, error) {
	sampler := vulkan.AttachmentSamplerConfig()
	return newTargets(p.device, p.frames, vulkan.ImageConfig{
		Name:    "lighting",
		Width:   extent.Width,
		Height:  extent.Height,
		Format:  LightingOutputFormat,
		Usage:   vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) | vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		Sampler: &sampler,
	})
}

func newPointLightBuffer(device *vulkan.Device, capacity int) (*vulkan.Buffer, error) {
	size := vk.DeviceSize(capacity) * vk.DeviceSize(unsafe.Sizeof(scene.PointLight{}))
	b, err := vulkan.NewBuffer(device, size,
		vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, err
	}
	if err := b.Map(); err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

func (p *LightingPass) ReloadPipeline() error {
	vert, frag, err := loadShaders(p.shaders, "lighting")
	if err != nil {
		return err
	}
	pipeline, err := vulkan.NewGraphicsPipeline(p.device, vulkan.PipelineConfig{
		Name:         "lighting",
		RenderPass:   p.renderPass,
		VertexCode:   vert,
		FragmentCode: frag,
		DescriptorSetLayouts: []*vulkan.DescriptorSetLayout{
			p.frameLayout, p.inputLayout, p.environmentLayout, p.lightLayout,
		},
		CullMode: metadata.FaceCullModeNone.VulkanCullMode(),
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

// UpdateDescriptor points the input samplers of frame at images, in the
// order albedo, normal, specular, position, selection, depth, shadow map.
func (p *LightingPass) UpdateDescriptor(frame uint32, images ...*vulkan.Image) error {
	if err := checkSlot("lighting pass", frame, p.frames); err != nil {
		return err
	}
	if len(images) != LightingInputCount {
		err := fmt.Errorf("lighting pass: %d images, want %d: %w", len(images), LightingInputCount, core.ErrDescriptorCountMismatch)
		core.LogError(err.Error())
		return err
	}
	writer := vulkan.NewDescriptorWriter(p.inputLayout, p.pool)
	for b, img := range images {
		if img == nil {
			return fmt.Errorf("lighting pass: input %d is nil", b)
		}
		writer.WriteImage(uint32(b), img.DescriptorInfo())
	}
	if err := writer.Overwrite(p.inputSets[frame]); err != nil {
		return fmt.Errorf("lighting pass: %w", err)
	}
	p.inputs[frame] = append([]*vulkan.Image(nil), images...)
	return nil
}

// SetEnvironment binds an environment and an irradiance image. A nil image
// selects the black placeholder. The device must be idle, since the set is
// shared by every frame.
func (p *LightingPass) SetEnvironment(environment, irradiance *vulkan.Image) error {
	if environment == nil {
		environment = p.placeholders[0]
	}
	if irradiance == nil {
		irradiance = p.placeholders[1]
	}
	return vulkan.NewDescriptorWriter(p.environmentLayout, p.pool).
		WriteImage(0, environment.DescriptorInfo()).
		WriteImage(1, irradiance.DescriptorInfo()).
		Overwrite(p.environmentSet)
}

// PointLightCapacity is the number of lights the buffer of frame holds
// before it has to grow.
func (p *LightingPass) PointLightCapacity(frame uint32) int {
	return p.lightCaps[frame]
}

// writePointLights uploads lights, growing the frame's buffer by doubling
// when they do not fit. The frame's fence has been waited, so the old
// buffer is no longer in use.
func (p *LightingPass) writePointLights(frame uint32, lights []scene.PointLight) error {
	if len(lights) > p.lightCaps[frame] {
		capacity := p.lightCaps[frame]
		for capacity < len(lights) {
			capacity *= 2
		}
		buffer, err := newPointLightBuffer(p.device, capacity)
		if err != nil {
			return err
		}
		err = vulkan.NewDescriptorWriter(p.lightLayout, p.pool).
			WriteBuffer(0, buffer.DescriptorInfo()).
			Overwrite(p.lightSets[frame])
		if err != nil {
			buffer.Destroy()
			return err
		}
		p.lights[frame].Destroy()
		p.lights[frame] = buffer
		p.lightCaps[frame] = capacity
		core.LogDebug("Point light buffer %d grown to %d lights.", frame, capacity)
	}
	if len(lights) == 0 {
		return nil
	}
	return p.lights[frame].WriteToBuffer(vulkan.SliceAsBytes(lights), 0)
}

// Output is the HDR image of frame, in SHADER_READ_ONLY_OPTIMAL after
// Record.
func (p *LightingPass) Output(frame uint32) *vulkan.Image {
	return p.outputs[frame]
}

// Uniform is frame's mapped LightingUniform buffer.
func (p *LightingPass) Uniform(frame uint32) *vulkan.Buffer {
	return p.uniforms[frame]
}

func (p *LightingPass) Record(frame *metadata.FrameContext) error {
	if err := checkFrame("lighting pass", frame, p.frames); err != nil {
		return err
	}
	f := frame.FrameIndex
	if p.inputs[f] == nil {
		return fmt.Errorf("lighting pass: inputs of frame %d were never bound", f)
	}
	cb := frame.CommandBuffer

	var pointLights []scene.PointLight
	if frame.Scene != nil {
		pointLights = frame.Scene.PointLights
	}
	if err := p.writePointLights(f, pointLights); err != nil {
		return fmt.Errorf("lighting pass: %w", err)
	}

	light := sceneLight(frame)
	ubo := LightingUniform{
		View:            frame.View(),
		Projection:      frame.Projection(),
		LightViewProj:   p.lightViewProj(light),
		CameraPosition:  frame.Camera.GetPosition(),
		Exposure:        frame.Camera.Exposure(),
		LightDirection:  light.Direction,
		LightIntensity:  light.Intensity,
		LightColour:     light.Colour,
		PointLightCount: uint32(len(pointLights)),
		ViewportSize:    math.NewVec2(float32(p.extent.Width), float32(p.extent.Height)),
		DebugView:       uint32(frame.DebugView),
	}
	if err := p.uniforms[f].WriteToBuffer(vulkan.AsBytes(&ubo), 0); err != nil {
		return fmt.Errorf("lighting pass: %w", err)
	}

	for _, img := range p.inputs[f] {
		img.Transition(cb.Handle, vk.ImageLayoutShaderReadOnlyOptimal)
	}
	output := p.outputs[f]
	output.Transition(cb.Handle, vk.ImageLayoutColorAttachmentOptimal)

	fb, err := p.framebuffers.Get(p.extent.Width, p.extent.Height, output.View)
	if err != nil {
		return fmt.Errorf("lighting pass: %w", err)
	}
	p.renderPass.Begin(cb, fb)
	p.pipeline.Bind(cb.Handle)
	p.pipeline.BindDescriptorSets(cb.Handle, lightingSetFrame,
		p.frameSets[f], p.inputSets[f], p.environmentSet, p.lightSets[f])
	p.device.Driver.CmdDraw(cb.Handle, 3, 1, 0, 0)
	p.renderPass.End(cb)

	output.Transition(cb.Handle, vk.ImageLayoutShaderReadOnlyOptimal)
	return nil
}

// Resize rebuilds the HDR targets. The input bindings refer to the
// producers' old images, so every frame must be re-bound with
// UpdateDescriptor afterwards.
func (p *LightingPass) Resize(extent vk.Extent2D) error {
	if extent == p.extent {
		return nil
	}
	outputs, err := p.newOutputs(extent)
	if err != nil {
		core.LogError("lighting pass resize to %dx%d failed: %s", extent.Width, extent.Height, err)
		return err
	}
	p.framebuffers.Clear()
	destroyImages(p.outputs)
	p.outputs = outputs
	p.extent = extent
	for i := range p.inputs {
		p.inputs[i] = nil
	}
	return nil
}

func (p *LightingPass) Destroy() {
	if p.framebuffers != nil {
		p.framebuffers.Clear()
	}
	destroyImages(p.outputs)
	p.outputs = nil
	destroyImages(p.placeholders[:])
	p.placeholders = [2]*vulkan.Image{}
	destroyBuffers(p.uniforms)
	p.uniforms = nil
	destroyBuffers(p.lights)
	p.lights = nil
	p.frameSets, p.inputSets, p.lightSets = nil, nil, nil
	p.inputs = nil
	if p.pipeline != nil {
		p.pipeline.Destroy()
	}
	if p.renderPass != nil {
		p.renderPass.Destroy()
	}
	for _, layout := range []*vulkan.DescriptorSetLayout{p.frameLayout, p.inputLayout, p.environmentLayout, p.lightLayout} {
		if layout != nil {
			layout.Destroy()
		}
	}
	if p.pool != nil {
		p.pool.Destroy()
	}
}
