package renderer

import (
	"fmt"
	"sync/atomic"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/renderer/metadata"
	"github.com/spaghettifunk/penumbra/engine/renderer/passes"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/spaghettifunk/penumbra/engine/scene"
)

type Config struct {
	Extent       vk.Extent2D
	VSync        bool
	Shaders      passes.ShaderSource
	Shadow       passes.ShadowConfig
	ClearColour  [4]float32
	LineCapacity int
}

// OverlayFunc draws on top of the composited image before it is presented.
// target is in COLOR_ATTACHMENT_OPTIMAL and must be left there.
type OverlayFunc func(frame *metadata.FrameContext, target *vulkan.Image) error

/**
 * @brief Drives the deferred frame: acquires a swapchain image, records the
 * depth, geometry, shadow, lighting, line and blit passes in that order,
 * then submits and presents. Owns every pass and the per-frame command
 * buffers. All methods except RequestPipelineReload and Resize must be
 * called from the render thread.
 */
type Renderer struct {
	device    *vulkan.Device
	swapchain *vulkan.Swapchain
	config    Config

	depth    *passes.DepthPrePass
	geometry *passes.GeometryPass
	shadow   *passes.ShadowPass
	lighting *passes.LightingPass
	lines    *passes.LinePass
	blit     *passes.BlitPass

	commandBuffers []*vulkan.VulkanCommandBuffer
	lineManager    *scene.LineManager
	textures       *scene.TextureCache
	ids            *core.IdentifierPool

	frameInProgress bool
	frameIndex      uint32
	imageIndex      uint32
	extent          vk.Extent2D
	lastFrame       uint32
	hasFrame        bool

	resizePending  atomic.Bool
	pendingExtent  atomic.Uint64
	reloadPending  atomic.Bool
	recreateNeeded bool

	DebugView metadata.DebugView
	Overlay   OverlayFunc
	// OnResize runs during a rebuild once the device is idle, before any
	// pass or the swapchain is recreated, with the extent being built.
	OnResize func(extent vk.Extent2D)
}

func New(device *vulkan.Device, config Config) (*Renderer, error) {
	if config.Extent.Width == 0 || config.Extent.Height == 0 {
		return nil, fmt.Errorf("renderer: empty extent %dx%d", config.Extent.Width, config.Extent.Height)
	}
	if config.Shadow == (passes.ShadowConfig{}) {
		config.Shadow = passes.DefaultShadowConfig()
	}
	r := &Renderer{
		device:      device,
		config:      config,
		extent:      config.Extent,
		lineManager: scene.NewLineManager(config.LineCapacity),
		ids:         core.NewIdentifierPool(),
	}
	if err := r.create(); err != nil {
		r.Destroy()
		return nil, err
	}
	return r, nil
}

func (r *Renderer) create() error {
	var err error
	if r.textures, err = scene.NewTextureCache(r.device); err != nil {
		return err
	}
	r.swapchain, err = vulkan.NewSwapchain(r.device, vulkan.SwapchainConfig{Extent: r.extent, VSync: r.config.VSync})
	if err != nil {
		return err
	}
	// The surface may override the requested extent.
	r.extent = r.swapchain.Extent

	for i := 0; i < vulkan.MAX_FRAMES_IN_FLIGHT; i++ {
		cb, err := vulkan.NewVulkanCommandBuffer(r.device.Driver, r.device.CommandPool(), true)
		if err != nil {
			return err
		}
		r.commandBuffers = append(r.commandBuffers, cb)
	}

	config := passes.Config{
		Device:      r.device,
		Frames:      vulkan.MAX_FRAMES_IN_FLIGHT,
		Extent:      r.extent,
		Shaders:     r.config.Shaders,
		ClearColour: r.config.ClearColour,
	}
	if r.depth, err = passes.NewDepthPrePass(config); err != nil {
		return err
	}
	if r.geometry, err = passes.NewGeometryPass(config); err != nil {
		return err
	}
	if r.shadow, err = passes.NewShadowPass(config, r.config.Shadow); err != nil {
		return err
	}
	if r.lighting, err = passes.NewLightingPass(config, r.shadow.LightViewProjection); err != nil {
		return err
	}
	if r.lines, err = passes.NewLinePass(config, r.lineManager); err != nil {
		return err
	}
	if r.blit, err = passes.NewBlitPass(config, r.swapchain.ImageFormat.Format); err != nil {
		return err
	}
	if err := r.bindPassInputs(); err != nil {
		return err
	}
	core.LogInfo("Renderer created at %dx%d with %d swapchain images.", r.extent.Width, r.extent.Height, r.swapchain.ImageCount())
	return nil
}

// bindPassInputs points every consumer at its producers' current images.
func (r *Renderer) bindPassInputs() error {
	for f := uint32(0); f < vulkan.MAX_FRAMES_IN_FLIGHT; f++ {
		geo := r.geometry.GeoBuffer(f)
		err := r.lighting.UpdateDescriptor(f,
			geo.Albedo(), geo.Normal(), geo.Specular(), geo.Position(), geo.Selection(),
			r.depth.Depth(f), r.shadow.ShadowMap(f))
		if err != nil {
			return err
		}
		if err := r.blit.UpdateDescriptor(f, r.lighting.Output(f), r.lines.Overlay(f)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) Device() *vulkan.Device { return r.device }

func (r *Renderer) Swapchain() *vulkan.Swapchain { return r.swapchain }

func (r *Renderer) Extent() vk.Extent2D { return r.extent }

func (r *Renderer) Lines() *scene.LineManager { return r.lineManager }

func (r *Renderer) Textures() *scene.TextureCache { return r.textures }

func (r *Renderer) IdentifierPool() *core.IdentifierPool { return r.ids }

// NewScene creates a scene whose object ids are pickable through this
// renderer.
func (r *Renderer) NewScene(name string) *scene.Scene {
	return scene.NewScene(name, r.ids)
}

// PrepareModel creates the material descriptor sets of model. Meshes of an
// unprepared model are skipped by the geometry pass.
func (r *Renderer) PrepareModel(model *scene.Model) error {
	for _, m := range model.Materials {
		if err := r.geometry.PrepareMaterial(m); err != nil {
			return fmt.Errorf("model %s: %w", model.Name, err)
		}
	}
	return nil
}

func (r *Renderer) SetEnvironment(environment, irradiance *vulkan.Image) error {
	if r.frameInProgress {
		return core.ErrFrameInProgress
	}
	if err := r.device.WaitIdle(); err != nil {
		return err
	}
	return r.lighting.SetEnvironment(environment, irradiance)
}

// Resize records a new window extent. The swapchain and passes are rebuilt
// at the next frame boundary. Safe to call from any goroutine.
func (r *Renderer) Resize(width, height uint32) {
	r.pendingExtent.Store(uint64(width)<<32 | uint64(height))
	r.resizePending.Store(true)
}

// RequestPipelineReload rebuilds every pipeline from the shader source at
// the next frame boundary. Safe to call from any goroutine.
func (r *Renderer) RequestPipelineReload() {
	r.reloadPending.Store(true)
}

func (r *Renderer) CycleDebugView() metadata.DebugView {
	r.DebugView = r.DebugView.Next()
	core.LogInfo("Debug view: %s", r.DebugView)
	return r.DebugView
}

// BeginFrame acquires the next image and starts recording its command
// buffer. A nil command buffer with a nil error means the frame is skipped,
// e.g. because the swapchain was just recreated or the window is minimized.
func (r *Renderer) BeginFrame() (*vulkan.VulkanCommandBuffer, error) {
	if r.frameInProgress {
		return nil, core.ErrFrameInProgress
	}
	if r.recreateNeeded || r.resizePending.Load() {
		recreated, err := r.recreate()
		if err != nil || !recreated {
			return nil, err
		}
	}
	if r.reloadPending.Swap(false) {
		if err := r.reloadPipelines(); err != nil {
			return nil, err
		}
	}

	imageIndex, result, err := r.swapchain.AcquireNextImage()
	if err != nil {
		core.LogError("Failed to acquire swapchain image: %s", err)
		return nil, err
	}
	if result == vk.ErrorOutOfDate {
		r.recreateNeeded = true
		_, err := r.recreate()
		return nil, err
	}

	r.frameIndex = r.swapchain.CurrentFrame()
	r.imageIndex = imageIndex
	cb := r.commandBuffers[r.frameIndex]
	if err := cb.Reset(); err != nil {
		return nil, err
	}
	if err := cb.Begin(false, false, false); err != nil {
		return nil, err
	}
	r.frameInProgress = true
	return cb, nil
}

// EndFrame submits and presents the frame started by BeginFrame. An
// out-of-date or suboptimal swapchain is rebuilt at the next frame.
func (r *Renderer) EndFrame() error {
	if !r.frameInProgress {
		return core.ErrFrameNotInProgress
	}
	r.frameInProgress = false
	cb := r.commandBuffers[r.frameIndex]
	if err := cb.End(); err != nil {
		return err
	}

	result, err := r.swapchain.SubmitCommandBuffers([]vk.CommandBuffer{cb.Handle}, r.imageIndex)
	if vulkan.IsOutOfDate(result, err) {
		r.recreateNeeded = true
		err = nil
	}
	if err != nil {
		core.LogError("Failed to submit frame: %s", err)
		return err
	}
	cb.UpdateSubmitted()
	r.lastFrame = r.frameIndex
	r.hasFrame = true
	return nil
}

// DrawFrame records and presents one full frame.
func (r *Renderer) DrawFrame(packet *metadata.RenderPacket) error {
	if packet == nil || packet.Camera == nil {
		return fmt.Errorf("renderer: render packet without camera")
	}
	cb, err := r.BeginFrame()
	if err != nil {
		return err
	}
	if cb == nil {
		return nil
	}

	frame := &metadata.FrameContext{
		FrameIndex:    r.frameIndex,
		ImageIndex:    r.imageIndex,
		DeltaTime:     packet.DeltaTime,
		CommandBuffer: cb,
		Scene:         packet.Scene,
		Camera:        packet.Camera,
		DebugView:     r.DebugView,
		Extent:        r.extent,
	}
	target, err := r.swapchain.Image(r.imageIndex)
	if err != nil {
		return err
	}
	if err := r.record(frame, target); err != nil {
		core.LogError("Frame %d abandoned: %s", r.frameIndex, err)
		r.abandonFrame(cb)
		return err
	}
	target.Transition(cb.Handle, vk.ImageLayoutPresentSrc)
	return r.EndFrame()
}

// abandonFrame drops a partially recorded frame without submitting it. The
// slot's fence was never reset, so it stays signaled. The acquired image and
// its semaphore are released by rebuilding the swapchain before the next
// frame.
func (r *Renderer) abandonFrame(cb *vulkan.VulkanCommandBuffer) {
	r.frameInProgress = false
	if err := cb.Reset(); err != nil {
		core.LogWarn("resetting abandoned command buffer: %s", err)
	}
	// Layouts recorded into the dropped commands never happened.
	f := r.frameIndex
	r.depth.Depth(f).DiscardContents()
	r.geometry.GeoBuffer(f).DiscardContents()
	r.shadow.ShadowMap(f).DiscardContents()
	r.lighting.Output(f).DiscardContents()
	r.lines.Overlay(f).DiscardContents()
	r.recreateNeeded = true
}

func (r *Renderer) record(frame *metadata.FrameContext, target *vulkan.Image) error {
	f := frame.FrameIndex
	if err := r.depth.Record(frame); err != nil {
		return err
	}
	if err := r.geometry.Record(frame, r.depth.Depth(f)); err != nil {
		return err
	}
	if err := r.shadow.Record(frame); err != nil {
		return err
	}
	if err := r.lighting.Record(frame); err != nil {
		return err
	}
	if err := r.lines.Record(frame, r.depth.Depth(f)); err != nil {
		return err
	}

	// The previous contents of the acquired image are never read.
	target.DiscardContents()
	target.Transition(frame.CommandBuffer.Handle, vk.ImageLayoutColorAttachmentOptimal)
	if err := r.blit.Record(frame, target); err != nil {
		return err
	}
	if r.Overlay != nil {
		return r.Overlay(frame, target)
	}
	return nil
}

// recreate rebuilds every pass and then the swapchain at the extent the
// surface settles on. It reports false when the window has no area, in
// which case the rebuild stays pending.
func (r *Renderer) recreate() (bool, error) {
	requested := r.extent
	if r.resizePending.Load() {
		packed := r.pendingExtent.Load()
		requested = vk.Extent2D{Width: uint32(packed >> 32), Height: uint32(packed)}
	}
	if requested.Width == 0 || requested.Height == 0 {
		return false, nil
	}
	extent, err := vulkan.SurfaceExtent(r.device, requested)
	if err != nil {
		return false, err
	}
	if extent.Width == 0 || extent.Height == 0 {
		return false, nil
	}
	r.resizePending.Store(false)

	if err := r.device.WaitIdle(); err != nil {
		return false, err
	}
	start := time.Now()
	if r.OnResize != nil {
		r.OnResize(extent)
	}
	if err := r.resizePasses(extent); err != nil {
		return false, err
	}

	swapchain, err := r.swapchain.Recreate(extent)
	if err != nil {
		core.LogError("Failed to recreate swapchain: %s", err)
		return false, err
	}
	r.swapchain = swapchain
	if swapchain.Extent != extent {
		extent = swapchain.Extent
		if err := r.resizePasses(extent); err != nil {
			return false, err
		}
	}
	if err := r.blit.SetFormat(swapchain.ImageFormat.Format); err != nil {
		return false, err
	}
	r.blit.InvalidateFramebuffers()
	if err := r.bindPassInputs(); err != nil {
		return false, err
	}
	r.extent = extent
	r.recreateNeeded = false
	r.hasFrame = false

	core.LogDebug("Swapchain recreated at %dx%d in %s.", extent.Width, extent.Height, time.Since(start))
	return true, nil
}

func (r *Renderer) resizePasses(extent vk.Extent2D) error {
	for _, resize := range []func(vk.Extent2D) error{
		r.depth.Resize, r.geometry.Resize, r.shadow.Resize,
		r.lighting.Resize, r.lines.Resize, r.blit.Resize,
	} {
		if err := resize(extent); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) reloadPipelines() error {
	if err := r.device.WaitIdle(); err != nil {
		return err
	}
	reloads := []struct {
		name   string
		reload func() error
	}{
		{"depth", r.depth.ReloadPipeline},
		{"geometry", r.geometry.ReloadPipeline},
		{"shadow", r.shadow.ReloadPipeline},
		{"lighting", r.lighting.ReloadPipeline},
		{"lines", r.lines.ReloadPipeline},
		{"blit", r.blit.ReloadPipeline},
	}
	for _, p := range reloads {
		if err := p.reload(); err != nil {
			core.LogError("Pipeline reload of %s pass failed, keeping the previous pipeline: %s", p.name, err)
			return err
		}
	}
	core.LogInfo("Pipelines reloaded.")
	return nil
}

// Pick returns the object drawn at window pixel (x, y) in the last
// presented frame, or nil. Must be called between frames.
func (r *Renderer) Pick(s *scene.Scene, x, y uint32) (*scene.GameObject, error) {
	if r.frameInProgress {
		return nil, core.ErrFrameInProgress
	}
	if !r.hasFrame {
		return nil, nil
	}
	id, err := r.geometry.ReadPixel(r.lastFrame, x, y)
	if err != nil || id == 0 {
		return nil, err
	}
	return s.ObjectByID(id), nil
}

func (r *Renderer) Destroy() {
	if r.device == nil {
		return
	}
	if err := r.device.WaitIdle(); err != nil {
		core.LogWarn("device wait idle failed during renderer shutdown: %s", err)
	}
	if r.blit != nil {
		r.blit.Destroy()
	}
	if r.lines != nil {
		r.lines.Destroy()
	}
	if r.lighting != nil {
		r.lighting.Destroy()
	}
	if r.shadow != nil {
		r.shadow.Destroy()
	}
	if r.geometry != nil {
		r.geometry.Destroy()
	}
	if r.depth != nil {
		r.depth.Destroy()
	}
	for _, cb := range r.commandBuffers {
		cb.Free(r.device.CommandPool())
	}
	r.commandBuffers = nil
	if r.swapchain != nil {
		r.swapchain.Destroy()
		r.swapchain = nil
	}
	if r.textures != nil {
		r.textures.Destroy()
		r.textures = nil
	}
	core.LogInfo("Renderer destroyed.")
}
