package passes

import (
	"fmt"
	"unsafe"

	"github.com/chewxy/math32"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/spaghettifunk/penumbra/engine/renderer/metadata"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/spaghettifunk/penumbra/engine/scene"
)

const ShadowMapFormat = vk.FormatD32Sfloat

// ShadowConfig fixes the shadow map resolution and the light frustum. The
// frustum is not fitted to the scene.
type ShadowConfig struct {
	Size      uint32
	OrthoSize float32
	Distance  float32
}

func DefaultShadowConfig() ShadowConfig {
	return ShadowConfig{Size: 2048, OrthoSize: 20, Distance: 50}
}

type ShadowUniform struct {
	LightView       math.Mat4
	LightProjection math.Mat4
}

// ShadowPass renders scene depth from the directional light into a square
// per-frame shadow map.
type ShadowPass struct {
	device  *vulkan.Device
	frames  int
	config  ShadowConfig
	shaders ShaderSource

	pool         *vulkan.DescriptorPool
	layout       *vulkan.DescriptorSetLayout
	renderPass   *vulkan.RenderPass
	pipeline     *vulkan.Pipeline
	framebuffers *vulkan.FramebufferCache
	sets         []vk.DescriptorSet
	uniforms     []*vulkan.Buffer
	maps         []*vulkan.Image
}

func NewShadowPass(config Config, shadow ShadowConfig) (*ShadowPass, error) {
	if err := config.validate("shadow pass"); err != nil {
		return nil, err
	}
	if shadow.Size == 0 || shadow.OrthoSize <= 0 || shadow.Distance <= 0 {
		return nil, fmt.Errorf("shadow pass: invalid shadow config %+v", shadow)
	}
	p := &ShadowPass{
		device:  config.Device,
		frames:  config.Frames,
		config:  shadow,
		shaders: config.Shaders,
	}
	if err := p.create(); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

func (p *ShadowPass) create() error {
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
		AddBinding(0, vk.DescriptorTypeUniformBuffer, objectPushStages, 1).
		Build(p.device)
	if err != nil {
		return err
	}
	p.renderPass, err = vulkan.NewRenderPass(p.device, vulkan.RenderPassConfig{
		Name: "shadow",
		Depth: &vulkan.AttachmentConfig{
			Format:     ShadowMapFormat,
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

	p.uniforms, err = newUniformBuffers(p.device, p.frames, vk.DeviceSize(unsafe.Sizeof(ShadowUniform{})))
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

	sampler := vulkan.AttachmentSamplerConfig()
	p.maps, err = newTargets(p.device, p.frames, vulkan.ImageConfig{
		Name:    "shadow_map",
		Width:   p.config.Size,
		Height:  p.config.Size,
		Format:  ShadowMapFormat,
		Usage:   vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit) | vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		Sampler: &sampler,
	})
	return err
}

func (p *ShadowPass) ReloadPipeline() error {
	vert, frag, err := loadShaders(p.shaders, "shadow")
	if err != nil {
		return err
	}
	stride, attributes := vulkan.Vertex3DAttributes()
	pipeline, err := vulkan.NewGraphicsPipeline(p.device, vulkan.PipelineConfig{
		Name:                 "shadow",
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

// LightMatrices returns the light view and the Y-flipped orthographic
// projection for light. The light sits Distance units back along its
// direction, looking at the origin.
func (p *ShadowPass) LightMatrices(light scene.DirectionalLight) (math.Mat4, math.Mat4) {
	dir := light.Direction.Normalize()
	eye := dir.MulScalar(-p.config.Distance)
	up := math.NewVec3Up()
	if math32.Abs(dir.Dot(up)) > 0.99 {
		up = math.NewVec3(0, 0, 1)
	}
	view := math.NewMat4LookAt(eye, math.NewVec3Zero(), up)

	s := p.config.OrthoSize
	proj := math.NewMat4Orthographic(-s, s, -s, s, 0.1, 2*p.config.Distance)
	proj.Data[5] *= -1
	return view, proj
}

// LightViewProjection is the combined light transform the lighting pass
// uses to look up the shadow map.
func (p *ShadowPass) LightViewProjection(light scene.DirectionalLight) math.Mat4 {
	view, proj := p.LightMatrices(light)
	return view.Mul(proj)
}

func (p *ShadowPass) ShadowMap(frame uint32) *vulkan.Image {
	return p.maps[frame]
}

func (p *ShadowPass) Record(frame *metadata.FrameContext) error {
	if err := checkFrame("shadow pass", frame, p.frames); err != nil {
		return err
	}
	cb := frame.CommandBuffer
	f := frame.FrameIndex

	view, proj := p.LightMatrices(sceneLight(frame))
	ubo := ShadowUniform{LightView: view, LightProjection: proj}
	if err := p.uniforms[f].WriteToBuffer(vulkan.AsBytes(&ubo), 0); err != nil {
		return fmt.Errorf("shadow pass: %w", err)
	}

	shadowMap := p.maps[f]
	shadowMap.Transition(cb.Handle, vk.ImageLayoutDepthStencilAttachmentOptimal)
	fb, err := p.framebuffers.Get(p.config.Size, p.config.Size, shadowMap.View)
	if err != nil {
		return fmt.Errorf("shadow pass: %w", err)
	}
	p.renderPass.Begin(cb, fb)
	p.pipeline.Bind(cb.Handle)
	p.pipeline.BindDescriptorSets(cb.Handle, 0, p.sets[f])
	drawObjects(p.device.Driver, cb.Handle, p.pipeline, frame.DrawList(), false)
	p.renderPass.End(cb)

	shadowMap.Transition(cb.Handle, vk.ImageLayoutShaderReadOnlyOptimal)
	return nil
}

// Resize does nothing: the shadow map does not follow the viewport.
func (p *ShadowPass) Resize(extent vk.Extent2D) error {
	return nil
}

func (p *ShadowPass) Destroy() {
	if p.framebuffers != nil {
		p.framebuffers.Clear()
	}
	destroyImages(p.maps)
	p.maps = nil
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

func sceneLight(frame *metadata.FrameContext) scene.DirectionalLight {
	if frame.Scene == nil {
		return scene.NewDirectionalLight()
	}
	return frame.Scene.Light
}
