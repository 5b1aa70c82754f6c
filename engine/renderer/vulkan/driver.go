package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// QueueFamilyIndices names the queue families the device was created with.
type QueueFamilyIndices struct {
	Graphics uint32
	Present  uint32
	Transfer uint32
}

type SwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

// Driver is the thin seam between the renderer and the Vulkan API. The
// production implementation forwards each call to goki/vulkan against the
// logical device it owns; vulkantest.Driver records calls for tests.
//
// Create functions receive fully populated create infos. Destroy functions
// accept nil handles.
type Driver interface {
	// physical device and surface
	DeviceName() string
	Limits() vk.PhysicalDeviceLimits
	MemoryProperties() vk.PhysicalDeviceMemoryProperties
	FormatProperties(format vk.Format) vk.FormatProperties
	SwapchainSupport() (SwapchainSupportInfo, error)
	Surface() vk.Surface
	QueueFamilies() QueueFamilyIndices
	GraphicsQueue() vk.Queue
	PresentQueue() vk.Queue

	// memory
	AllocateMemory(info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error)
	FreeMemory(memory vk.DeviceMemory)
	MapMemory(memory vk.DeviceMemory, offset, size vk.DeviceSize) (unsafe.Pointer, error)
	UnmapMemory(memory vk.DeviceMemory)
	FlushMemory(memory vk.DeviceMemory, offset, size vk.DeviceSize) error

	// buffers and images
	CreateBuffer(info *vk.BufferCreateInfo) (vk.Buffer, error)
	DestroyBuffer(buffer vk.Buffer)
	BufferMemoryRequirements(buffer vk.Buffer) vk.MemoryRequirements
	BindBufferMemory(buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) error
	CreateImage(info *vk.ImageCreateInfo) (vk.Image, error)
	DestroyImage(image vk.Image)
	ImageMemoryRequirements(image vk.Image) vk.MemoryRequirements
	BindImageMemory(image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize) error
	CreateImageView(info *vk.ImageViewCreateInfo) (vk.ImageView, error)
	DestroyImageView(view vk.ImageView)
	CreateSampler(info *vk.SamplerCreateInfo) (vk.Sampler, error)
	DestroySampler(sampler vk.Sampler)

	// descriptors
	CreateDescriptorSetLayout(info *vk.DescriptorSetLayoutCreateInfo) (vk.DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(layout vk.DescriptorSetLayout)
	CreateDescriptorPool(info *vk.DescriptorPoolCreateInfo) (vk.DescriptorPool, error)
	DestroyDescriptorPool(pool vk.DescriptorPool)
	ResetDescriptorPool(pool vk.DescriptorPool) error
	// AllocateDescriptorSet returns the raw result so callers can tell pool
	// exhaustion apart from other failures.
	AllocateDescriptorSet(pool vk.DescriptorPool, layout vk.DescriptorSetLayout) (vk.DescriptorSet, vk.Result)
	UpdateDescriptorSets(writes []vk.WriteDescriptorSet)

	// pipelines
	CreateShaderModule(code []uint32) (vk.ShaderModule, error)
	DestroyShaderModule(module vk.ShaderModule)
	CreatePipelineLayout(info *vk.PipelineLayoutCreateInfo) (vk.PipelineLayout, error)
	DestroyPipelineLayout(layout vk.PipelineLayout)
	CreateGraphicsPipeline(info *vk.GraphicsPipelineCreateInfo) (vk.Pipeline, error)
	DestroyPipeline(pipeline vk.Pipeline)
	CreateRenderPass(info *vk.RenderPassCreateInfo) (vk.RenderPass, error)
	DestroyRenderPass(renderPass vk.RenderPass)
	CreateFramebuffer(info *vk.FramebufferCreateInfo) (vk.Framebuffer, error)
	DestroyFramebuffer(framebuffer vk.Framebuffer)

	// command buffers
	CreateCommandPool(info *vk.CommandPoolCreateInfo) (vk.CommandPool, error)
	DestroyCommandPool(pool vk.CommandPool)
	AllocateCommandBuffers(pool vk.CommandPool, level vk.CommandBufferLevel, count uint32) ([]vk.CommandBuffer, error)
	FreeCommandBuffers(pool vk.CommandPool, buffers []vk.CommandBuffer)
	BeginCommandBuffer(cb vk.CommandBuffer, info *vk.CommandBufferBeginInfo) error
	EndCommandBuffer(cb vk.CommandBuffer) error
	ResetCommandBuffer(cb vk.CommandBuffer) error

	// synchronization
	CreateFence(signaled bool) (vk.Fence, error)
	DestroyFence(fence vk.Fence)
	WaitForFence(fence vk.Fence, timeout uint64) vk.Result
	ResetFence(fence vk.Fence) error
	CreateSemaphore() (vk.Semaphore, error)
	DestroySemaphore(semaphore vk.Semaphore)

	// swapchain and queues
	CreateSwapchain(info *vk.SwapchainCreateInfo) (vk.Swapchain, error)
	DestroySwapchain(swapchain vk.Swapchain)
	SwapchainImages(swapchain vk.Swapchain) ([]vk.Image, error)
	AcquireNextImage(swapchain vk.Swapchain, timeout uint64, semaphore vk.Semaphore) (uint32, vk.Result)
	QueueSubmit(queue vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) error
	QueuePresent(queue vk.Queue, info *vk.PresentInfo) vk.Result
	QueueWaitIdle(queue vk.Queue) error
	DeviceWaitIdle() error

	// recording
	CmdPipelineBarrier(cb vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, barriers []vk.ImageMemoryBarrier)
	CmdBufferBarrier(cb vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, barriers []vk.BufferMemoryBarrier)
	CmdBeginRenderPass(cb vk.CommandBuffer, info *vk.RenderPassBeginInfo)
	CmdEndRenderPass(cb vk.CommandBuffer)
	CmdBindPipeline(cb vk.CommandBuffer, pipeline vk.Pipeline)
	CmdBindDescriptorSets(cb vk.CommandBuffer, layout vk.PipelineLayout, firstSet uint32, sets []vk.DescriptorSet)
	CmdPushConstants(cb vk.CommandBuffer, layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte)
	CmdSetViewport(cb vk.CommandBuffer, viewport vk.Viewport)
	CmdSetScissor(cb vk.CommandBuffer, scissor vk.Rect2D)
	CmdBindVertexBuffers(cb vk.CommandBuffer, buffers []vk.Buffer, offsets []vk.DeviceSize)
	CmdBindIndexBuffer(cb vk.CommandBuffer, buffer vk.Buffer, offset vk.DeviceSize)
	CmdDraw(cb vk.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32)
	CmdDrawIndexed(cb vk.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	CmdCopyBuffer(cb vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy)
	CmdCopyBufferToImage(cb vk.CommandBuffer, src vk.Buffer, dst vk.Image, layout vk.ImageLayout, regions []vk.BufferImageCopy)
	CmdCopyImageToBuffer(cb vk.CommandBuffer, src vk.Image, layout vk.ImageLayout, dst vk.Buffer, regions []vk.BufferImageCopy)

	// Destroy tears down the logical device, surface, debug callback and
	// instance, in that order.
	Destroy()
}
