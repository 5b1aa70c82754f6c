// Package vulkantest provides a recording vulkan.Driver for tests that
// exercise the renderer without a GPU.
package vulkantest

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
)

// Command ops recorded into Driver.Commands.
const (
	OpBarrier           = "barrier"
	OpBufferBarrier     = "buffer_barrier"
	OpBeginRenderPass   = "begin_render_pass"
	OpEndRenderPass     = "end_render_pass"
	OpBindPipeline      = "bind_pipeline"
	OpBindSets          = "bind_descriptor_sets"
	OpPushConstants     = "push_constants"
	OpSetViewport       = "set_viewport"
	OpSetScissor        = "set_scissor"
	OpBindVertexBuffers = "bind_vertex_buffers"
	OpBindIndexBuffer   = "bind_index_buffer"
	OpDraw              = "draw"
	OpDrawIndexed       = "draw_indexed"
	OpCopyBuffer        = "copy_buffer"
	OpCopyBufferToImage = "copy_buffer_to_image"
	OpCopyImageToBuffer = "copy_image_to_buffer"
)

// Command is one recorded vkCmd* call. Only the fields relevant to Op are set.
type Command struct {
	Op          string
	CB          vk.CommandBuffer
	Barriers    []vk.ImageMemoryBarrier
	RenderPass  vk.RenderPass
	Framebuffer vk.Framebuffer
	Extent      vk.Extent2D
	Pipeline    vk.Pipeline
	Sets        []vk.DescriptorSet
	Push        []byte
	Count       uint32
	Instances   uint32
	Image       vk.Image
	Layout      vk.ImageLayout
}

type Submit struct {
	Buffers []vk.CommandBuffer
	Wait    []vk.Semaphore
	Signal  []vk.Semaphore
	Fence   vk.Fence
}

type Present struct {
	ImageIndex uint32
	Wait       []vk.Semaphore
	Result     vk.Result
}

type Acquire struct {
	Semaphore  vk.Semaphore
	ImageIndex uint32
	Result     vk.Result
}

type renderPassInfo struct {
	layouts []vk.ImageLayout
}

type poolInfo struct {
	maxSets   uint32
	allocated uint32
}

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
)

// Driver is an in-memory vulkan.Driver. Handles are distinct C addresses,
// memory is backed by byte slices, and every command is appended to
// Commands. Violations collects API misuse the validation layers would
// report: wrong old layouts, attachments in the wrong layout at render pass
// begin, recording outside Begin/End and double submits.
type Driver struct {
	// ImageCount is the number of presentable images per swapchain.
	ImageCount int
	// Extent is reported as the surface's current extent.
	Extent vk.Extent2D
	// SurfaceFormat is the only format the surface offers.
	SurfaceFormat vk.Format
	// AcquireResults and PresentResults are consumed one per call; when
	// empty the call succeeds.
	AcquireResults []vk.Result
	PresentResults []vk.Result
	// FenceWaitResult is returned by every fence wait.
	FenceWaitResult vk.Result
	// Failures makes the named Driver method fail, e.g. "CreateImage".
	Failures map[string]error
	// FailAfter lets the named method succeed the given number of times
	// more, then fail until the entry is removed.
	FailAfter map[string]int
	// Readback is written to the destination buffer of every image to
	// buffer copy, standing in for the texels the GPU would copy.
	Readback []byte

	Commands         []Command
	Submits          []Submit
	Presents         []Present
	Acquires         []Acquire
	FenceWaits       []vk.Fence
	DescriptorWrites []vk.WriteDescriptorSet
	SwapchainCreates []vk.SwapchainCreateInfo
	DeviceWaitIdles  int
	QueueWaitIdles   int
	Violations       []string
	Destroyed        bool

	mu            sync.Mutex
	arena         arena
	live          map[unsafe.Pointer]string
	memory        map[vk.DeviceMemory][]byte
	bufferSizes   map[vk.Buffer]vk.DeviceSize
	bufferMemory  map[vk.Buffer]vk.DeviceMemory
	imageSizes    map[vk.Image]vk.DeviceSize
	viewImages    map[vk.ImageView]vk.Image
	viewAspects   map[vk.ImageView]vk.ImageAspectFlags
	framebuffers  map[vk.Framebuffer][]vk.ImageView
	renderPasses  map[vk.RenderPass]renderPassInfo
	pools         map[vk.DescriptorPool]*poolInfo
	fences        map[vk.Fence]bool
	layouts       map[vk.Image]vk.ImageLayout
	cbStates      map[vk.CommandBuffer]cbState
	swapchainImgs map[vk.Swapchain][]vk.Image
	nextImage     uint32
}

var _ vulkan.Driver = (*Driver)(nil)

// New returns a driver with two presentable images and an 800x600 surface.
func New() *Driver {
	return &Driver{
		ImageCount:      2,
		Extent:          vk.Extent2D{Width: 800, Height: 600},
		SurfaceFormat:   vk.FormatB8g8r8a8Unorm,
		FenceWaitResult: vk.Success,
		Failures:        make(map[string]error),
		FailAfter:       make(map[string]int),
		live:            make(map[unsafe.Pointer]string),
		memory:          make(map[vk.DeviceMemory][]byte),
		bufferSizes:     make(map[vk.Buffer]vk.DeviceSize),
		bufferMemory:    make(map[vk.Buffer]vk.DeviceMemory),
		imageSizes:      make(map[vk.Image]vk.DeviceSize),
		viewImages:      make(map[vk.ImageView]vk.Image),
		viewAspects:     make(map[vk.ImageView]vk.ImageAspectFlags),
		framebuffers:    make(map[vk.Framebuffer][]vk.ImageView),
		renderPasses:    make(map[vk.RenderPass]renderPassInfo),
		pools:           make(map[vk.DescriptorPool]*poolInfo),
		fences:          make(map[vk.Fence]bool),
		layouts:         make(map[vk.Image]vk.ImageLayout),
		cbStates:        make(map[vk.CommandBuffer]cbState),
		swapchainImgs:   make(map[vk.Swapchain][]vk.Image),
	}
}

func (d *Driver) handle(kind string) unsafe.Pointer {
	p := d.arena.alloc()
	d.live[p] = kind
	return p
}

func (d *Driver) release(p unsafe.Pointer) {
	if p != nil {
		delete(d.live, p)
	}
}

func (d *Driver) fail(op string) error {
	if err, ok := d.Failures[op]; ok {
		return err
	}
	if n, ok := d.FailAfter[op]; ok {
		if n == 0 {
			return fmt.Errorf("vulkantest: %s failed after its allowed calls", op)
		}
		d.FailAfter[op] = n - 1
	}
	return nil
}

func (d *Driver) violate(format string, args ...any) {
	d.Violations = append(d.Violations, fmt.Sprintf(format, args...))
}

// Live returns the kinds of every handle created and not yet destroyed.
// Command buffers freed with their pool and swapchain images are excluded.
func (d *Driver) Live() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, kind := range d.live {
		out = append(out, kind)
	}
	return out
}

// ViewAspect is the aspect mask view was created with.
func (d *Driver) ViewAspect(view vk.ImageView) vk.ImageAspectFlags {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewAspects[view]
}

// Layout is the layout image was last transitioned to by a recorded barrier.
func (d *Driver) Layout(image vk.Image) vk.ImageLayout {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.layouts[image]
}

// CommandsOf returns the recorded commands with the given op, in order.
func (d *Driver) CommandsOf(op string) []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Command
	for _, c := range d.Commands {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Transitions returns every (old, new) layout pair recorded for image.
func (d *Driver) Transitions(image vk.Image) [][2]vk.ImageLayout {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out [][2]vk.ImageLayout
	for _, c := range d.Commands {
		for _, b := range c.Barriers {
			if b.Image == image {
				out = append(out, [2]vk.ImageLayout{b.OldLayout, b.NewLayout})
			}
		}
	}
	return out
}

// Reset drops recorded commands and calls but keeps all object state.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Commands = nil
	d.Submits = nil
	d.Presents = nil
	d.Acquires = nil
	d.FenceWaits = nil
	d.DescriptorWrites = nil
	d.Violations = nil
}

// physical device and surface

func (d *Driver) DeviceName() string { return "vulkantest" }

func (d *Driver) Limits() vk.PhysicalDeviceLimits {
	return vk.PhysicalDeviceLimits{
		MaxSamplerAnisotropy: 16,
		MaxPushConstantsSize: 128,
	}
}

// MemoryProperties reports a device local type and a host visible,
// coherent type.
func (d *Driver) MemoryProperties() vk.PhysicalDeviceMemoryProperties {
	var props vk.PhysicalDeviceMemoryProperties
	props.MemoryTypeCount = 2
	props.MemoryTypes[0] = vk.MemoryType{
		PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		HeapIndex:     0,
	}
	props.MemoryTypes[1] = vk.MemoryType{
		PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) | vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit),
		HeapIndex:     1,
	}
	props.MemoryHeapCount = 2
	props.MemoryHeaps[0] = vk.MemoryHeap{Size: 1 << 30, Flags: vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit)}
	props.MemoryHeaps[1] = vk.MemoryHeap{Size: 1 << 30}
	return props
}

func (d *Driver) FormatProperties(format vk.Format) vk.FormatProperties {
	all := ^vk.FormatFeatureFlags(0)
	return vk.FormatProperties{
		LinearTilingFeatures:  all,
		OptimalTilingFeatures: all,
		BufferFeatures:        all,
	}
}

func (d *Driver) SwapchainSupport() (vulkan.SwapchainSupportInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("SwapchainSupport"); err != nil {
		return vulkan.SwapchainSupportInfo{}, err
	}
	count := uint32(d.ImageCount)
	return vulkan.SwapchainSupportInfo{
		Capabilities: vk.SurfaceCapabilities{
			MinImageCount:           count,
			MaxImageCount:           count,
			CurrentExtent:           d.Extent,
			MinImageExtent:          vk.Extent2D{Width: 1, Height: 1},
			MaxImageExtent:          vk.Extent2D{Width: 16384, Height: 16384},
			MaxImageArrayLayers:     1,
			CurrentTransform:        vk.SurfaceTransformIdentityBit,
			SupportedCompositeAlpha: vk.CompositeAlphaFlags(vk.CompositeAlphaOpaqueBit),
		},
		Formats: []vk.SurfaceFormat{{
			Format:     d.SurfaceFormat,
			ColorSpace: vk.ColorSpaceSrgbNonlinear,
		}},
		PresentModes: []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox},
	}, nil
}

func (d *Driver) Surface() vk.Surface { return nil }

func (d *Driver) QueueFamilies() vulkan.QueueFamilyIndices {
	return vulkan.QueueFamilyIndices{}
}

func (d *Driver) GraphicsQueue() vk.Queue { return nil }
func (d *Driver) PresentQueue() vk.Queue  { return nil }

// memory

func (d *Driver) AllocateMemory(info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("AllocateMemory"); err != nil {
		return nil, err
	}
	mem := vk.DeviceMemory(d.handle("memory"))
	d.memory[mem] = make([]byte, info.AllocationSize)
	return mem, nil
}

func (d *Driver) FreeMemory(memory vk.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.memory, memory)
	d.release(unsafe.Pointer(memory))
}

func (d *Driver) MapMemory(memory vk.DeviceMemory, offset, size vk.DeviceSize) (unsafe.Pointer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.memory[memory]
	if !ok || int(offset) >= len(data) {
		return nil, &vulkan.VulkanError{Op: "vkMapMemory", Result: vk.ErrorMemoryMapFailed}
	}
	return unsafe.Pointer(&data[offset]), nil
}

func (d *Driver) UnmapMemory(memory vk.DeviceMemory) {}

func (d *Driver) FlushMemory(memory vk.DeviceMemory, offset, size vk.DeviceSize) error {
	return nil
}

// Memory returns the bytes backing an allocation.
func (d *Driver) Memory(memory vk.DeviceMemory) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.memory[memory]
}

// buffers and images

func (d *Driver) CreateBuffer(info *vk.BufferCreateInfo) (vk.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateBuffer"); err != nil {
		return nil, err
	}
	buf := vk.Buffer(d.handle("buffer"))
	d.bufferSizes[buf] = info.Size
	return buf, nil
}

func (d *Driver) DestroyBuffer(buffer vk.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bufferSizes, buffer)
	delete(d.bufferMemory, buffer)
	d.release(unsafe.Pointer(buffer))
}

func (d *Driver) BufferMemoryRequirements(buffer vk.Buffer) vk.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	return vk.MemoryRequirements{Size: d.bufferSizes[buffer], Alignment: 256, MemoryTypeBits: 0b11}
}

func (d *Driver) BindBufferMemory(buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bufferMemory[buffer] = memory
	return nil
}

func (d *Driver) CreateImage(info *vk.ImageCreateInfo) (vk.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateImage"); err != nil {
		return nil, err
	}
	img := vk.Image(d.handle("image"))
	d.imageSizes[img] = vk.DeviceSize(info.Extent.Width) * vk.DeviceSize(info.Extent.Height) * 16
	d.layouts[img] = info.InitialLayout
	return img, nil
}

func (d *Driver) DestroyImage(image vk.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.imageSizes, image)
	delete(d.layouts, image)
	d.release(unsafe.Pointer(image))
}

func (d *Driver) ImageMemoryRequirements(image vk.Image) vk.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	return vk.MemoryRequirements{Size: d.imageSizes[image], Alignment: 256, MemoryTypeBits: 0b11}
}

func (d *Driver) BindImageMemory(image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	return nil
}

func (d *Driver) CreateImageView(info *vk.ImageViewCreateInfo) (vk.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateImageView"); err != nil {
		return nil, err
	}
	view := vk.ImageView(d.handle("image_view"))
	d.viewImages[view] = info.Image
	d.viewAspects[view] = info.SubresourceRange.AspectMask
	return view, nil
}

func (d *Driver) DestroyImageView(view vk.ImageView) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.viewImages, view)
	delete(d.viewAspects, view)
	d.release(unsafe.Pointer(view))
}

func (d *Driver) CreateSampler(info *vk.SamplerCreateInfo) (vk.Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateSampler"); err != nil {
		return nil, err
	}
	return vk.Sampler(d.handle("sampler")), nil
}

func (d *Driver) DestroySampler(sampler vk.Sampler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.release(unsafe.Pointer(sampler))
}

// descriptors

func (d *Driver) CreateDescriptorSetLayout(info *vk.DescriptorSetLayoutCreateInfo) (vk.DescriptorSetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateDescriptorSetLayout"); err != nil {
		return nil, err
	}
	return vk.DescriptorSetLayout(d.handle("descriptor_set_layout")), nil
}

func (d *Driver) DestroyDescriptorSetLayout(layout vk.DescriptorSetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.release(unsafe.Pointer(layout))
}

func (d *Driver) CreateDescriptorPool(info *vk.DescriptorPoolCreateInfo) (vk.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateDescriptorPool"); err != nil {
		return nil, err
	}
	pool := vk.DescriptorPool(d.handle("descriptor_pool"))
	d.pools[pool] = &poolInfo{maxSets: info.MaxSets}
	return pool, nil
}

func (d *Driver) DestroyDescriptorPool(pool vk.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pools, pool)
	d.release(unsafe.Pointer(pool))
}

func (d *Driver) ResetDescriptorPool(pool vk.DescriptorPool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pools[pool]; ok {
		p.allocated = 0
	}
	return nil
}

// AllocateDescriptorSet fails with VK_ERROR_OUT_OF_POOL_MEMORY once the
// pool's MaxSets are in use. Sets are not tracked as live handles; they go
// away with their pool.
func (d *Driver) AllocateDescriptorSet(pool vk.DescriptorPool, layout vk.DescriptorSetLayout) (vk.DescriptorSet, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	if !ok {
		d.violate("allocate from unknown descriptor pool")
		return nil, vk.ErrorUnknown
	}
	if p.allocated >= p.maxSets {
		return nil, vk.ErrorOutOfPoolMemory
	}
	p.allocated++
	return vk.DescriptorSet(d.arena.alloc()), vk.Success
}

func (d *Driver) UpdateDescriptorSets(writes []vk.WriteDescriptorSet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DescriptorWrites = append(d.DescriptorWrites, writes...)
}

// pipelines

func (d *Driver) CreateShaderModule(code []uint32) (vk.ShaderModule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateShaderModule"); err != nil {
		return nil, err
	}
	return vk.ShaderModule(d.handle("shader_module")), nil
}

func (d *Driver) DestroyShaderModule(module vk.ShaderModule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.release(unsafe.Pointer(module))
}

func (d *Driver) CreatePipelineLayout(info *vk.PipelineLayoutCreateInfo) (vk.PipelineLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreatePipelineLayout"); err != nil {
		return nil, err
	}
	return vk.PipelineLayout(d.handle("pipeline_layout")), nil
}

func (d *Driver) DestroyPipelineLayout(layout vk.PipelineLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.release(unsafe.Pointer(layout))
}

func (d *Driver) CreateGraphicsPipeline(info *vk.GraphicsPipelineCreateInfo) (vk.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateGraphicsPipeline"); err != nil {
		return nil, err
	}
	return vk.Pipeline(d.handle("pipeline")), nil
}

func (d *Driver) DestroyPipeline(pipeline vk.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.release(unsafe.Pointer(pipeline))
}

func (d *Driver) CreateRenderPass(info *vk.RenderPassCreateInfo) (vk.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateRenderPass"); err != nil {
		return nil, err
	}
	rp := vk.RenderPass(d.handle("render_pass"))
	layouts := make([]vk.ImageLayout, len(info.PAttachments))
	for i, a := range info.PAttachments {
		layouts[i] = a.InitialLayout
	}
	d.renderPasses[rp] = renderPassInfo{layouts: layouts}
	return rp, nil
}

func (d *Driver) DestroyRenderPass(renderPass vk.RenderPass) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.renderPasses, renderPass)
	d.release(unsafe.Pointer(renderPass))
}

func (d *Driver) CreateFramebuffer(info *vk.FramebufferCreateInfo) (vk.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateFramebuffer"); err != nil {
		return nil, err
	}
	fb := vk.Framebuffer(d.handle("framebuffer"))
	d.framebuffers[fb] = append([]vk.ImageView(nil), info.PAttachments...)
	return fb, nil
}

func (d *Driver) DestroyFramebuffer(framebuffer vk.Framebuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.framebuffers, framebuffer)
	d.release(unsafe.Pointer(framebuffer))
}

// command buffers

func (d *Driver) CreateCommandPool(info *vk.CommandPoolCreateInfo) (vk.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateCommandPool"); err != nil {
		return nil, err
	}
	return vk.CommandPool(d.handle("command_pool")), nil
}

func (d *Driver) DestroyCommandPool(pool vk.CommandPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.release(unsafe.Pointer(pool))
}

func (d *Driver) AllocateCommandBuffers(pool vk.CommandPool, level vk.CommandBufferLevel, count uint32) ([]vk.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("AllocateCommandBuffers"); err != nil {
		return nil, err
	}
	out := make([]vk.CommandBuffer, count)
	for i := range out {
		out[i] = vk.CommandBuffer(d.arena.alloc())
		d.cbStates[out[i]] = cbInitial
	}
	return out, nil
}

func (d *Driver) FreeCommandBuffers(pool vk.CommandPool, buffers []vk.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cb := range buffers {
		delete(d.cbStates, cb)
	}
}

func (d *Driver) BeginCommandBuffer(cb vk.CommandBuffer, info *vk.CommandBufferBeginInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cbStates[cb] == cbRecording {
		d.violate("begin on a command buffer that is already recording")
	}
	d.cbStates[cb] = cbRecording
	return nil
}

func (d *Driver) EndCommandBuffer(cb vk.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cbStates[cb] != cbRecording {
		d.violate("end on a command buffer that is not recording")
	}
	d.cbStates[cb] = cbExecutable
	return nil
}

func (d *Driver) ResetCommandBuffer(cb vk.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cbStates[cb] = cbInitial
	return nil
}

// synchronization

func (d *Driver) CreateFence(signaled bool) (vk.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateFence"); err != nil {
		return nil, err
	}
	f := vk.Fence(d.handle("fence"))
	d.fences[f] = signaled
	return f, nil
}

func (d *Driver) DestroyFence(fence vk.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, fence)
	d.release(unsafe.Pointer(fence))
}

// WaitForFence returns FenceWaitResult. Submitted work completes
// immediately, so a successful wait always finds the fence signaled.
func (d *Driver) WaitForFence(fence vk.Fence, timeout uint64) vk.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.FenceWaits = append(d.FenceWaits, fence)
	if timeout == vk.MaxUint64 {
		d.violate("unbounded fence wait")
	}
	if d.FenceWaitResult == vk.Success && !d.fences[fence] {
		d.violate("waited on a fence that was never submitted")
	}
	return d.FenceWaitResult
}

func (d *Driver) ResetFence(fence vk.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fences[fence] = false
	return nil
}

func (d *Driver) CreateSemaphore() (vk.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateSemaphore"); err != nil {
		return nil, err
	}
	return vk.Semaphore(d.handle("semaphore")), nil
}

func (d *Driver) DestroySemaphore(semaphore vk.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.release(unsafe.Pointer(semaphore))
}

// swapchain and queues

func (d *Driver) CreateSwapchain(info *vk.SwapchainCreateInfo) (vk.Swapchain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateSwapchain"); err != nil {
		return vk.NullSwapchain, err
	}
	d.SwapchainCreates = append(d.SwapchainCreates, *info)
	sc := vk.Swapchain(d.handle("swapchain"))
	images := make([]vk.Image, d.ImageCount)
	for i := range images {
		images[i] = vk.Image(d.arena.alloc())
		d.layouts[images[i]] = vk.ImageLayoutUndefined
	}
	d.swapchainImgs[sc] = images
	d.nextImage = 0
	return sc, nil
}

func (d *Driver) DestroySwapchain(swapchain vk.Swapchain) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, img := range d.swapchainImgs[swapchain] {
		delete(d.layouts, img)
	}
	delete(d.swapchainImgs, swapchain)
	d.release(unsafe.Pointer(swapchain))
}

func (d *Driver) SwapchainImages(swapchain vk.Swapchain) ([]vk.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	images, ok := d.swapchainImgs[swapchain]
	if !ok {
		return nil, &vulkan.VulkanError{Op: "vkGetSwapchainImagesKHR", Result: vk.ErrorSurfaceLost}
	}
	return append([]vk.Image(nil), images...), nil
}

// AcquireNextImage hands out images round robin.
func (d *Driver) AcquireNextImage(swapchain vk.Swapchain, timeout uint64, semaphore vk.Semaphore) (uint32, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	result := vk.Success
	if len(d.AcquireResults) > 0 {
		result = d.AcquireResults[0]
		d.AcquireResults = d.AcquireResults[1:]
	}
	var index uint32
	if result == vk.Success || result == vk.Suboptimal {
		index = d.nextImage
		d.nextImage = (d.nextImage + 1) % uint32(max(d.ImageCount, 1))
	}
	d.Acquires = append(d.Acquires, Acquire{Semaphore: semaphore, ImageIndex: index, Result: result})
	return index, result
}

func (d *Driver) QueueSubmit(queue vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("QueueSubmit"); err != nil {
		return err
	}
	for _, s := range submits {
		for _, cb := range s.PCommandBuffers {
			if d.cbStates[cb] != cbExecutable {
				d.violate("submitted a command buffer that is not executable")
			}
		}
		d.Submits = append(d.Submits, Submit{
			Buffers: append([]vk.CommandBuffer(nil), s.PCommandBuffers...),
			Wait:    append([]vk.Semaphore(nil), s.PWaitSemaphores...),
			Signal:  append([]vk.Semaphore(nil), s.PSignalSemaphores...),
			Fence:   fence,
		})
	}
	if fence != vk.NullFence {
		if d.fences[fence] {
			d.violate("submitted with a fence that is still signaled")
		}
		d.fences[fence] = true
	}
	return nil
}

func (d *Driver) QueuePresent(queue vk.Queue, info *vk.PresentInfo) vk.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	result := vk.Success
	if len(d.PresentResults) > 0 {
		result = d.PresentResults[0]
		d.PresentResults = d.PresentResults[1:]
	}
	var index uint32
	if len(info.PImageIndices) > 0 {
		index = info.PImageIndices[0]
		if len(info.PSwapchains) > 0 {
			images := d.swapchainImgs[info.PSwapchains[0]]
			if int(index) < len(images) && d.layouts[images[index]] != vk.ImageLayoutPresentSrc {
				d.violate("presented image %d in layout %d", index, d.layouts[images[index]])
			}
		}
	}
	d.Presents = append(d.Presents, Present{
		ImageIndex: index,
		Wait:       append([]vk.Semaphore(nil), info.PWaitSemaphores...),
		Result:     result,
	})
	return result
}

func (d *Driver) QueueWaitIdle(queue vk.Queue) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.QueueWaitIdles++
	return nil
}

func (d *Driver) DeviceWaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DeviceWaitIdles++
	return nil
}

// recording

func (d *Driver) record(c Command) {
	if d.cbStates[c.CB] != cbRecording {
		d.violate("%s recorded outside Begin/End", c.Op)
	}
	d.Commands = append(d.Commands, c)
}

func (d *Driver) CmdPipelineBarrier(cb vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, barriers []vk.ImageMemoryBarrier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range barriers {
		current := d.layouts[b.Image]
		if b.OldLayout != vk.ImageLayoutUndefined && b.OldLayout != current {
			d.violate("barrier old layout %d but image is in %d", b.OldLayout, current)
		}
		d.layouts[b.Image] = b.NewLayout
	}
	d.record(Command{Op: OpBarrier, CB: cb, Barriers: append([]vk.ImageMemoryBarrier(nil), barriers...)})
}

func (d *Driver) CmdBufferBarrier(cb vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, barriers []vk.BufferMemoryBarrier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpBufferBarrier, CB: cb, Count: uint32(len(barriers))})
}

func (d *Driver) CmdBeginRenderPass(cb vk.CommandBuffer, info *vk.RenderPassBeginInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rp, ok := d.renderPasses[info.RenderPass]
	views, fbOK := d.framebuffers[info.Framebuffer]
	switch {
	case !ok || !fbOK:
		d.violate("begin render pass with unknown pass or framebuffer")
	case len(views) != len(rp.layouts):
		d.violate("framebuffer has %d attachments, pass expects %d", len(views), len(rp.layouts))
	default:
		for i, view := range views {
			img := d.viewImages[view]
			if got := d.layouts[img]; got != rp.layouts[i] {
				d.violate("attachment %d in layout %d, pass expects %d", i, got, rp.layouts[i])
			}
		}
	}
	d.record(Command{
		Op:          OpBeginRenderPass,
		CB:          cb,
		RenderPass:  info.RenderPass,
		Framebuffer: info.Framebuffer,
		Extent:      info.RenderArea.Extent,
	})
}

func (d *Driver) CmdEndRenderPass(cb vk.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpEndRenderPass, CB: cb})
}

func (d *Driver) CmdBindPipeline(cb vk.CommandBuffer, pipeline vk.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpBindPipeline, CB: cb, Pipeline: pipeline})
}

func (d *Driver) CmdBindDescriptorSets(cb vk.CommandBuffer, layout vk.PipelineLayout, firstSet uint32, sets []vk.DescriptorSet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpBindSets, CB: cb, Count: firstSet, Sets: append([]vk.DescriptorSet(nil), sets...)})
}

func (d *Driver) CmdPushConstants(cb vk.CommandBuffer, layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpPushConstants, CB: cb, Push: append([]byte(nil), data...)})
}

func (d *Driver) CmdSetViewport(cb vk.CommandBuffer, viewport vk.Viewport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpSetViewport, CB: cb, Extent: vk.Extent2D{Width: uint32(viewport.Width), Height: uint32(viewport.Height)}})
}

func (d *Driver) CmdSetScissor(cb vk.CommandBuffer, scissor vk.Rect2D) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpSetScissor, CB: cb, Extent: scissor.Extent})
}

func (d *Driver) CmdBindVertexBuffers(cb vk.CommandBuffer, buffers []vk.Buffer, offsets []vk.DeviceSize) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpBindVertexBuffers, CB: cb, Count: uint32(len(buffers))})
}

func (d *Driver) CmdBindIndexBuffer(cb vk.CommandBuffer, buffer vk.Buffer, offset vk.DeviceSize) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpBindIndexBuffer, CB: cb})
}

func (d *Driver) CmdDraw(cb vk.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpDraw, CB: cb, Count: vertexCount, Instances: instanceCount})
}

func (d *Driver) CmdDrawIndexed(cb vk.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpDrawIndexed, CB: cb, Count: indexCount, Instances: instanceCount})
}

func (d *Driver) CmdCopyBuffer(cb vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpCopyBuffer, CB: cb, Count: uint32(len(regions))})
}

func (d *Driver) CmdCopyBufferToImage(cb vk.CommandBuffer, src vk.Buffer, dst vk.Image, layout vk.ImageLayout, regions []vk.BufferImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.layouts[dst] != layout {
		d.violate("copy to image in layout %d, declared %d", d.layouts[dst], layout)
	}
	d.record(Command{Op: OpCopyBufferToImage, CB: cb, Image: dst, Layout: layout})
}

func (d *Driver) CmdCopyImageToBuffer(cb vk.CommandBuffer, src vk.Image, layout vk.ImageLayout, dst vk.Buffer, regions []vk.BufferImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.layouts[src] != layout {
		d.violate("copy from image in layout %d, declared %d", d.layouts[src], layout)
	}
	if mem, ok := d.bufferMemory[dst]; ok {
		copy(d.memory[mem], d.Readback)
	}
	d.record(Command{Op: OpCopyImageToBuffer, CB: cb, Image: src, Layout: layout})
}

func (d *Driver) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Destroyed = true
}
