package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
)

// MAX_FRAMES_IN_FLIGHT bounds how many frames the CPU may record ahead of the
// GPU.
const MAX_FRAMES_IN_FLIGHT = 2

type SwapchainConfig struct {
	Extent vk.Extent2D
	VSync  bool
}

// Swapchain owns the presentable images, one depth image per presentable
// image, the sync objects and the single frame slot counter.
type Swapchain struct {
	Handle      vk.Swapchain
	ImageFormat vk.SurfaceFormat
	Extent      vk.Extent2D
	Images      []*Image
	DepthImages []*Image

	device *Device
	config SwapchainConfig

	// Indexed by frame slot at acquire time, one per presentable image.
	imageAvailable []vk.Semaphore
	// Indexed by the acquired image.
	renderFinished []vk.Semaphore
	inFlightFences []*VulkanFence
	// Image index -> fence of the frame that last rendered to it. Not owned.
	imagesInFlight []*VulkanFence

	currentFrame uint32
}

func NewSwapchain(device *Device, config SwapchainConfig) (*Swapchain, error) {
	return newSwapchain(device, config, vk.NullSwapchain)
}

// Recreate builds a new swapchain for the new extent, handing the current one
// over as the old swapchain, then destroys the current one.
func (s *Swapchain) Recreate(extent vk.Extent2D) (*Swapchain, error) {
	config := s.config
	config.Extent = extent
	next, err := newSwapchain(s.device, config, s.Handle)
	if err != nil {
		return nil, err
	}
	s.Destroy()
	return next, nil
}

func newSwapchain(device *Device, config SwapchainConfig, old vk.Swapchain) (*Swapchain, error) {
	support, err := device.Driver.SwapchainSupport()
	if err != nil {
		err = fmt.Errorf("failed to query swapchain support: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return nil, fmt.Errorf("surface reports no formats or present modes")
	}

	s := &Swapchain{
		device:      device,
		config:      config,
		ImageFormat: chooseSurfaceFormat(support.Formats),
		Extent:      chooseExtent(support.Capabilities, config.Extent),
	}
	presentMode := choosePresentMode(support.PresentModes, config.VSync)

	imageCount := support.Capabilities.MinImageCount + 1
	if support.Capabilities.MaxImageCount > 0 && imageCount > support.Capabilities.MaxImageCount {
		imageCount = support.Capabilities.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          device.Driver.Surface(),
		MinImageCount:    imageCount,
		ImageFormat:      s.ImageFormat.Format,
		ImageColorSpace:  s.ImageFormat.ColorSpace,
		ImageExtent:      s.Extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     old,
	}

	queues := device.Driver.QueueFamilies()
	if queues.Graphics != queues.Present {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{queues.Graphics, queues.Present}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	handle, err := device.Driver.CreateSwapchain(&createInfo)
	if err != nil {
		err = fmt.Errorf("failed to create swapchain: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	s.Handle = handle

	if err := s.createImages(); err != nil {
		s.Destroy()
		return nil, err
	}
	if err := s.createSyncObjects(); err != nil {
		s.Destroy()
		return nil, err
	}

	core.LogInfo("Swapchain created: %dx%d, %d images.", s.Extent.Width, s.Extent.Height, len(s.Images))
	return s, nil
}

func (s *Swapchain) createImages() error {
	handles, err := s.device.Driver.SwapchainImages(s.Handle)
	if err != nil {
		err = fmt.Errorf("failed to get swapchain images: %w", err)
		core.LogError(err.Error())
		return err
	}
	for _, handle := range handles {
		img, err := WrapSwapchainImage(s.device, handle, s.ImageFormat.Format, s.Extent.Width, s.Extent.Height)
		if err != nil {
			return err
		}
		s.Images = append(s.Images, img)
	}

	sampler := AttachmentSamplerConfig()
	for i := range handles {
		depth, err := NewImage(s.device, ImageConfig{
			Name:   fmt.Sprintf("swapchain_depth_%d", i),
			Width:  s.Extent.Width,
			Height: s.Extent.Height,
			Format: s.device.DepthFormat,
			Usage: vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit) |
				vk.ImageUsageFlags(vk.ImageUsageSampledBit),
			Sampler: &sampler,
		})
		if err != nil {
			return err
		}
		s.DepthImages = append(s.DepthImages, depth)
	}
	return nil
}

func (s *Swapchain) createSyncObjects() error {
	imageCount := len(s.Images)
	s.imageAvailable = make([]vk.Semaphore, imageCount)
	s.renderFinished = make([]vk.Semaphore, imageCount)
	s.imagesInFlight = make([]*VulkanFence, imageCount)
	s.inFlightFences = make([]*VulkanFence, MAX_FRAMES_IN_FLIGHT)

	for i := 0; i < imageCount; i++ {
		sem, err := s.device.Driver.CreateSemaphore()
		if err != nil {
			return fmt.Errorf("failed to create semaphore on image available: %w", err)
		}
		s.imageAvailable[i] = sem
		sem, err = s.device.Driver.CreateSemaphore()
		if err != nil {
			return fmt.Errorf("failed to create semaphore on render finished: %w", err)
		}
		s.renderFinished[i] = sem
	}

	for i := 0; i < MAX_FRAMES_IN_FLIGHT; i++ {
		// Created signaled so the first wait on each slot does not block.
		f, err := NewFence(s.device.Driver, true)
		if err != nil {
			return err
		}
		s.inFlightFences[i] = f
	}
	return nil
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, format := range formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	return formats[0]
}

func choosePresentMode(modes []vk.PresentMode, vsync bool) vk.PresentMode {
	if vsync {
		return vk.PresentModeFifo
	}
	for _, mode := range modes {
		if mode == vk.PresentModeMailbox {
			return mode
		}
	}
	return vk.PresentModeFifo
}

func chooseExtent(caps vk.SurfaceCapabilities, window vk.Extent2D) vk.Extent2D {
	if caps.CurrentExtent.Width != ^uint32(0) {
		return caps.CurrentExtent
	}
	// Clamp to the value allowed by the GPU.
	return vk.Extent2D{
		Width:  math.Clamp(window.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: math.Clamp(window.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// SurfaceExtent is the extent a swapchain built for a window of the given
// size would get from the surface.
func SurfaceExtent(device *Device, window vk.Extent2D) (vk.Extent2D, error) {
	support, err := device.Driver.SwapchainSupport()
	if err != nil {
		return vk.Extent2D{}, fmt.Errorf("failed to query swapchain support: %w", err)
	}
	return chooseExtent(support.Capabilities, window), nil
}

func (s *Swapchain) ImageCount() int { return len(s.Images) }

// CurrentFrame is the frame slot in [0, MAX_FRAMES_IN_FLIGHT). It is not an
// image index.
func (s *Swapchain) CurrentFrame() uint32 { return s.currentFrame }

func (s *Swapchain) AspectRatio() float32 {
	return float32(s.Extent.Width) / float32(s.Extent.Height)
}

func (s *Swapchain) Image(index uint32) (*Image, error) {
	if int(index) >= len(s.Images) {
		return nil, fmt.Errorf("swapchain image %d of %d: %w", index, len(s.Images), core.ErrFrameSlotOutOfRange)
	}
	return s.Images[index], nil
}

func (s *Swapchain) DepthImage(index uint32) (*Image, error) {
	if int(index) >= len(s.DepthImages) {
		return nil, fmt.Errorf("depth image %d of %d: %w", index, len(s.DepthImages), core.ErrFrameSlotOutOfRange)
	}
	return s.DepthImages[index], nil
}

// AcquireNextImage waits for the current slot's fence, then acquires an image
// signaling the slot's image-available semaphore. An out-of-date swapchain is
// reported as vk.ErrorOutOfDate with a nil error; anything else that is not
// success or suboptimal comes back as an error.
func (s *Swapchain) AcquireNextImage() (uint32, vk.Result, error) {
	if err := s.inFlightFences[s.currentFrame].Wait(s.device.FenceTimeoutNs()); err != nil {
		return 0, vk.Timeout, fmt.Errorf("frame %d fence: %w", s.currentFrame, err)
	}

	index, result := s.device.Driver.AcquireNextImage(s.Handle, s.device.FenceTimeoutNs(), s.imageAvailable[s.currentFrame])
	switch result {
	case vk.Success, vk.Suboptimal:
		if int(index) >= len(s.Images) {
			return 0, result, fmt.Errorf("acquired image %d of %d: %w", index, len(s.Images), core.ErrFrameSlotOutOfRange)
		}
		return index, result, nil
	case vk.ErrorOutOfDate:
		return 0, result, nil
	}
	err := &VulkanError{Op: "vkAcquireNextImageKHR", Result: result}
	core.LogError(err.Error())
	return 0, result, err
}

// SubmitCommandBuffers submits the frame and presents imageIndex. The frame
// slot advances whether or not presentation succeeds. The returned result is
// the present result; out-of-date and suboptimal come back with a nil error.
func (s *Swapchain) SubmitCommandBuffers(buffers []vk.CommandBuffer, imageIndex uint32) (vk.Result, error) {
	if int(imageIndex) >= len(s.Images) {
		return vk.ErrorUnknown, fmt.Errorf("image %d of %d: %w", imageIndex, len(s.Images), core.ErrFrameSlotOutOfRange)
	}
	defer func() {
		s.currentFrame = (s.currentFrame + 1) % MAX_FRAMES_IN_FLIGHT
	}()

	// Make sure the previous frame is not using this image.
	if previous := s.imagesInFlight[imageIndex]; previous != nil {
		if err := previous.Wait(s.device.FenceTimeoutNs()); err != nil {
			return vk.Timeout, fmt.Errorf("image %d fence: %w", imageIndex, err)
		}
	}
	fence := s.inFlightFences[s.currentFrame]
	s.imagesInFlight[imageIndex] = fence

	if err := fence.Reset(); err != nil {
		return vk.ErrorUnknown, err
	}

	// COLOR_ATTACHMENT_OUTPUT keeps color writes from starting before the
	// image is available.
	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{s.imageAvailable[s.currentFrame]},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		CommandBufferCount:   uint32(len(buffers)),
		PCommandBuffers:      buffers,
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{s.renderFinished[imageIndex]},
	}
	if err := s.device.SubmitGraphics([]vk.SubmitInfo{submitInfo}, fence.Handle); err != nil {
		return vk.ErrorUnknown, err
	}

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{s.renderFinished[imageIndex]},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.Handle},
		PImageIndices:      []uint32{imageIndex},
	}
	result := s.device.Present(&presentInfo)
	switch result {
	case vk.Success, vk.Suboptimal, vk.ErrorOutOfDate:
		return result, nil
	}
	err := &VulkanError{Op: "vkQueuePresentKHR", Result: result}
	core.LogError(err.Error())
	return result, err
}

// IsOutOfDate reports whether err or result asks for a rebuild.
func IsOutOfDate(result vk.Result, err error) bool {
	return result == vk.ErrorOutOfDate || result == vk.Suboptimal || errors.Is(err, core.ErrSwapchainOutOfDate)
}

func (s *Swapchain) Destroy() {
	for _, f := range s.inFlightFences {
		if f != nil {
			f.Destroy()
		}
	}
	s.inFlightFences = nil
	s.imagesInFlight = nil
	for _, sem := range s.imageAvailable {
		s.device.Driver.DestroySemaphore(sem)
	}
	for _, sem := range s.renderFinished {
		s.device.Driver.DestroySemaphore(sem)
	}
	s.imageAvailable = nil
	s.renderFinished = nil

	for _, img := range s.DepthImages {
		img.Destroy()
	}
	s.DepthImages = nil
	// Only destroy the views, not the images, since those are owned by the
	// swapchain and are thus destroyed when it is.
	for _, img := range s.Images {
		img.Destroy()
	}
	s.Images = nil

	if s.Handle != vk.NullSwapchain {
		s.device.Driver.DestroySwapchain(s.Handle)
		s.Handle = vk.NullSwapchain
	}
}
