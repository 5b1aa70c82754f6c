package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// TextureFormat is the format of every uploaded texture. Pixels are tightly
// packed RGBA, four bytes each.
const TextureFormat = vk.FormatR8g8b8a8Unorm

/**
 * @brief Creates a sampled RGBA8 image and uploads pixels into it.
 * The image is left in SHADER_READ_ONLY_OPTIMAL. Setup time only, since the
 * upload waits for the graphics queue.
 */
func NewTexture(device *Device, name string, width, height uint32, pixels []byte) (*Image, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("texture %q: empty extent %dx%d", name, width, height)
	}
	if want := int(width) * int(height) * 4; len(pixels) != want {
		return nil, fmt.Errorf("texture %q: got %d bytes of pixel data, want %d", name, len(pixels), want)
	}

	staging, err := NewBuffer(device, vk.DeviceSize(len(pixels)),
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, fmt.Errorf("texture %q: %w", name, err)
	}
	defer staging.Destroy()
	if err := staging.Map(); err != nil {
		return nil, fmt.Errorf("texture %q: %w", name, err)
	}
	if err := staging.WriteToBuffer(pixels, 0); err != nil {
		return nil, fmt.Errorf("texture %q: %w", name, err)
	}

	sampler := DefaultSamplerConfig()
	img, err := NewImage(device, ImageConfig{
		Name:    name,
		Width:   width,
		Height:  height,
		Format:  TextureFormat,
		Usage:   vk.ImageUsageFlags(vk.ImageUsageTransferDstBit) | vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		Sampler: &sampler,
	})
	if err != nil {
		return nil, err
	}

	cb, err := device.BeginSingleTimeCommands()
	if err != nil {
		img.Destroy()
		return nil, err
	}
	img.Transition(cb.Handle, vk.ImageLayoutTransferDstOptimal)
	device.Driver.CmdCopyBufferToImage(cb.Handle, staging.Handle, img.Handle, vk.ImageLayoutTransferDstOptimal, []vk.BufferImageCopy{{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: 1},
	}})
	img.Transition(cb.Handle, vk.ImageLayoutShaderReadOnlyOptimal)
	if err := device.EndSingleTimeCommands(cb); err != nil {
		img.Destroy()
		return nil, fmt.Errorf("texture %q: %w", name, err)
	}
	return img, nil
}

// NewSolidTexture creates a 1x1 texture of a single colour.
func NewSolidTexture(device *Device, name string, rgba [4]byte) (*Image, error) {
	return NewTexture(device, name, 1, 1, rgba[:])
}
