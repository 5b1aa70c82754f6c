package vulkan

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
)

// DefaultFenceTimeout bounds every fence wait when the config does not.
const DefaultFenceTimeout = 5 * time.Second

// Device owns the driver, the memory allocator and the graphics command pool.
// It is created once after physical device selection and destroyed last.
type Device struct {
	Driver       Driver
	Allocator    *Allocator
	DepthFormat  vk.Format
	FenceTimeout time.Duration

	locks       *VulkanLockPool
	commandPool vk.CommandPool
	queues      QueueFamilyIndices
}

func NewDevice(driver Driver, fenceTimeout time.Duration) (*Device, error) {
	if fenceTimeout <= 0 {
		fenceTimeout = DefaultFenceTimeout
	}
	locks := NewVulkanLockPool()
	d := &Device{
		Driver:       driver,
		Allocator:    NewAllocator(driver, locks),
		FenceTimeout: fenceTimeout,
		locks:        locks,
		queues:       driver.QueueFamilies(),
	}

	// Create command pool for graphics queue.
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.queues.Graphics,
		Flags: vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit) |
			vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	pool, err := driver.CreateCommandPool(&poolCreateInfo)
	if err != nil {
		err = fmt.Errorf("failed to create graphics command pool: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	d.commandPool = pool
	core.LogInfo("Graphics command pool created.")

	format, ok := d.detectDepthFormat()
	if !ok {
		driver.DestroyCommandPool(pool)
		err := fmt.Errorf("failed to find a supported depth format")
		core.LogError(err.Error())
		return nil, err
	}
	d.DepthFormat = format
	return d, nil
}

func (d *Device) CommandPool() vk.CommandPool { return d.commandPool }

// FenceTimeoutNs is the finite timeout handed to every fence wait.
func (d *Device) FenceTimeoutNs() uint64 {
	return uint64(d.FenceTimeout.Nanoseconds())
}

func (d *Device) detectDepthFormat() (vk.Format, bool) {
	return d.FindSupportedFormat(
		[]vk.Format{
			vk.FormatD32Sfloat,
			vk.FormatD32SfloatS8Uint,
			vk.FormatD24UnormS8Uint,
		},
		vk.ImageTilingOptimal,
		vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit),
	)
}

// FindSupportedFormat returns the first candidate whose tiling features
// include all of features.
func (d *Device) FindSupportedFormat(candidates []vk.Format, tiling vk.ImageTiling, features vk.FormatFeatureFlags) (vk.Format, bool) {
	for _, format := range candidates {
		props := d.Driver.FormatProperties(format)
		if tiling == vk.ImageTilingLinear && props.LinearTilingFeatures&features == features {
			return format, true
		}
		if tiling == vk.ImageTilingOptimal && props.OptimalTilingFeatures&features == features {
			return format, true
		}
	}
	return vk.FormatUndefined, false
}

/**
 * Allocates a primary command buffer from the graphics pool and begins
 * recording it for one submission. Setup time only.
 */
func (d *Device) BeginSingleTimeCommands() (*VulkanCommandBuffer, error) {
	cb, err := NewVulkanCommandBuffer(d.Driver, d.commandPool, true)
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(true, false, false); err != nil {
		cb.Free(d.commandPool)
		return nil, err
	}
	return cb, nil
}

/**
 * Ends recording, submits to and waits for the graphics queue and frees the
 * command buffer.
 */
func (d *Device) EndSingleTimeCommands(cb *VulkanCommandBuffer) error {
	defer cb.Free(d.commandPool)

	if err := cb.End(); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	if err := d.SubmitGraphics([]vk.SubmitInfo{submitInfo}, vk.NullFence); err != nil {
		return err
	}
	cb.UpdateSubmitted()

	return d.locks.SafeQueueCall(d.queues.Graphics, func() error {
		if err := d.Driver.QueueWaitIdle(d.Driver.GraphicsQueue()); err != nil {
			err = fmt.Errorf("queue failed to wait in idle mode: %w", err)
			core.LogError(err.Error())
			return err
		}
		return nil
	})
}

// SubmitGraphics serializes submissions to the graphics queue.
func (d *Device) SubmitGraphics(submits []vk.SubmitInfo, fence vk.Fence) error {
	return d.locks.SafeQueueCall(d.queues.Graphics, func() error {
		if err := d.Driver.QueueSubmit(d.Driver.GraphicsQueue(), submits, fence); err != nil {
			err = fmt.Errorf("failed submit info to queue: %w", err)
			core.LogError(err.Error())
			return err
		}
		return nil
	})
}

// Present hands an image back to the presentation engine.
func (d *Device) Present(info *vk.PresentInfo) vk.Result {
	var result vk.Result
	d.locks.SafeQueueCall(d.queues.Present, func() error {
		result = d.Driver.QueuePresent(d.Driver.PresentQueue(), info)
		return nil
	})
	return result
}

func (d *Device) CopyBuffer(src, dst vk.Buffer, size vk.DeviceSize) error {
	cb, err := d.BeginSingleTimeCommands()
	if err != nil {
		return err
	}
	d.Driver.CmdCopyBuffer(cb.Handle, src, dst, []vk.BufferCopy{{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      size,
	}})
	return d.EndSingleTimeCommands(cb)
}

// CopyBufferToImage expects the image to be in TRANSFER_DST_OPTIMAL.
func (d *Device) CopyBufferToImage(buffer vk.Buffer, image vk.Image, width, height uint32) error {
	cb, err := d.BeginSingleTimeCommands()
	if err != nil {
		return err
	}
	d.Driver.CmdCopyBufferToImage(cb.Handle, buffer, image, vk.ImageLayoutTransferDstOptimal, []vk.BufferImageCopy{{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageOffset: vk.Offset3D{X: 0, Y: 0, Z: 0},
		ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: 1},
	}})
	return d.EndSingleTimeCommands(cb)
}

func (d *Device) CreateBuffer(size vk.DeviceSize, usage vk.BufferUsageFlags, properties vk.MemoryPropertyFlags) (*Buffer, error) {
	return NewBuffer(d, size, usage, properties)
}

// CreateImageWithInfo creates an image and binds dedicated memory to it. The
// image is destroyed again if the allocation fails.
func (d *Device) CreateImageWithInfo(info *vk.ImageCreateInfo, properties vk.MemoryPropertyFlags) (vk.Image, *Allocation, error) {
	image, err := d.Driver.CreateImage(info)
	if err != nil {
		err = fmt.Errorf("failed to create image: %w", err)
		core.LogError(err.Error())
		return nil, nil, err
	}
	alloc, err := d.Allocator.AllocateForImage(image, properties)
	if err != nil {
		d.Driver.DestroyImage(image)
		err = fmt.Errorf("failed to allocate image memory: %w", err)
		core.LogError(err.Error())
		return nil, nil, err
	}
	return image, alloc, nil
}

func (d *Device) WaitIdle() error {
	return d.Driver.DeviceWaitIdle()
}

// Destroy releases the command pool, checks that every allocation was freed
// and tears down the driver. It must run after every wrapper is destroyed.
func (d *Device) Destroy() error {
	if err := d.WaitIdle(); err != nil {
		core.LogWarn("device wait idle failed during shutdown: %s", err)
	}
	core.LogInfo("Destroying command pools...")
	d.Driver.DestroyCommandPool(d.commandPool)
	d.commandPool = nil

	err := d.Allocator.Destroy()
	d.Driver.Destroy()
	return err
}
