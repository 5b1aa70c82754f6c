package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
)

type ImageConfig struct {
	Name   string
	Width  uint32
	Height uint32
	Format vk.Format
	Usage  vk.ImageUsageFlags
	// Aspect defaults to AspectFromFormat(Format).
	Aspect vk.ImageAspectFlags
	// Properties defaults to device local.
	Properties vk.MemoryPropertyFlags
	// Sampler, when set, creates a sampler owned by the image.
	Sampler *SamplerConfig
}

// Image is an allocation with one view, an optional sampler and its current
// layout. The tracked layout is the only source of truth for barriers; images
// sized to the viewport are rebuilt on resize, never mutated.
type Image struct {
	Name    string
	Handle  vk.Image
	View    vk.ImageView
	Sampler *Sampler
	Width   uint32
	Height  uint32
	Format  vk.Format
	Aspect  vk.ImageAspectFlags

	device *Device
	alloc  *Allocation
	layout vk.ImageLayout
	owned  bool
}

func NewImage(device *Device, config ImageConfig) (*Image, error) {
	if config.Aspect == 0 {
		config.Aspect = AspectFromFormat(config.Format)
	}
	if config.Properties == 0 {
		config.Properties = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	}

	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    config.Format,
		Extent: vk.Extent3D{
			Width:  config.Width,
			Height: config.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         config.Usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	handle, alloc, err := device.CreateImageWithInfo(&info, config.Properties)
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", config.Name, err)
	}

	img := &Image{
		Name:   config.Name,
		Handle: handle,
		Width:  config.Width,
		Height: config.Height,
		Format: config.Format,
		Aspect: config.Aspect,
		device: device,
		alloc:  alloc,
		layout: vk.ImageLayoutUndefined,
		owned:  true,
	}

	view, err := createImageView(device.Driver, handle, config.Format, viewAspect(config.Aspect))
	if err != nil {
		img.Destroy()
		return nil, fmt.Errorf("image %q: %w", config.Name, err)
	}
	img.View = view

	if config.Sampler != nil {
		sampler, err := NewSampler(device, *config.Sampler)
		if err != nil {
			img.Destroy()
			return nil, fmt.Errorf("image %q: %w", config.Name, err)
		}
		img.Sampler = sampler
	}
	return img, nil
}

// WrapSwapchainImage adopts an image owned by the presentation engine. Only
// the view is created and destroyed by the wrapper.
func WrapSwapchainImage(device *Device, handle vk.Image, format vk.Format, width, height uint32) (*Image, error) {
	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	view, err := createImageView(device.Driver, handle, format, aspect)
	if err != nil {
		return nil, err
	}
	return &Image{
		Name:   "swapchain",
		Handle: handle,
		View:   view,
		Width:  width,
		Height: height,
		Format: format,
		Aspect: aspect,
		device: device,
		layout: vk.ImageLayoutUndefined,
		owned:  false,
	}, nil
}

func createImageView(driver Driver, image vk.Image, format vk.Format, aspect vk.ImageAspectFlags) (vk.ImageView, error) {
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	view, err := driver.CreateImageView(&viewInfo)
	if err != nil {
		err = fmt.Errorf("failed to create image view: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	return view, nil
}

func (i *Image) Layout() vk.ImageLayout { return i.layout }

func (i *Image) Extent() vk.Extent2D {
	return vk.Extent2D{Width: i.Width, Height: i.Height}
}

// DiscardContents forgets the current layout, so the next transition starts
// from UNDEFINED. Used for images whose previous contents are never read,
// such as an acquired swapchain image.
func (i *Image) DiscardContents() {
	i.layout = vk.ImageLayoutUndefined
}

// Transition records a barrier from the tracked layout to newLayout and
// updates the tracked layout. Transitioning to the current layout records
// nothing.
func (i *Image) Transition(cb vk.CommandBuffer, newLayout vk.ImageLayout) {
	if i.layout == newLayout {
		return
	}
	srcAccess, srcStage := layoutAccess(i.layout)
	dstAccess, dstStage := layoutAccess(newLayout)

	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           i.layout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               i.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     i.Aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		SrcAccessMask: srcAccess,
		DstAccessMask: dstAccess,
	}
	i.device.Driver.CmdPipelineBarrier(cb, srcStage, dstStage, []vk.ImageMemoryBarrier{barrier})
	i.layout = newLayout
}

// layoutAccess maps a layout to the access mask and pipeline stage that use
// an image in that layout.
func layoutAccess(layout vk.ImageLayout) (vk.AccessFlags, vk.PipelineStageFlags) {
	switch layout {
	case vk.ImageLayoutUndefined:
		return 0, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	case vk.ImageLayoutColorAttachmentOptimal:
		return vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	case vk.ImageLayoutDepthStencilAttachmentOptimal:
		return vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit) | vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit) | vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit)
	case vk.ImageLayoutShaderReadOnlyOptimal:
		return vk.AccessFlags(vk.AccessShaderReadBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	case vk.ImageLayoutTransferSrcOptimal:
		return vk.AccessFlags(vk.AccessTransferReadBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case vk.ImageLayoutTransferDstOptimal:
		return vk.AccessFlags(vk.AccessTransferWriteBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case vk.ImageLayoutPresentSrc:
		return 0, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}
	return vk.AccessFlags(vk.AccessMemoryReadBit) | vk.AccessFlags(vk.AccessMemoryWriteBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
}

// DescriptorInfo describes the image for a combined image sampler binding.
// The image is expected to be in SHADER_READ_ONLY_OPTIMAL when sampled.
func (i *Image) DescriptorInfo() vk.DescriptorImageInfo {
	info := vk.DescriptorImageInfo{
		ImageView:   i.View,
		ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
	}
	if i.Sampler != nil {
		info.Sampler = i.Sampler.Handle
	}
	return info
}

func (i *Image) Destroy() {
	if i.Sampler != nil {
		i.Sampler.Destroy()
		i.Sampler = nil
	}
	if i.View != nil {
		i.device.Driver.DestroyImageView(i.View)
		i.View = nil
	}
	if i.owned && i.Handle != nil {
		i.device.Driver.DestroyImage(i.Handle)
		i.device.Allocator.Free(i.alloc)
		i.alloc = nil
	}
	i.Handle = nil
}

// AspectFromFormat is the aspect covered by barriers on an image of format.
// Combined depth-stencil formats transition both aspects together.
func AspectFromFormat(format vk.Format) vk.ImageAspectFlags {
	switch format {
	case vk.FormatD32Sfloat, vk.FormatD16Unorm, vk.FormatX8D24UnormPack32:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	case vk.FormatD32SfloatS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD16UnormS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit) | vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	case vk.FormatS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

// viewAspect narrows a depth-stencil aspect to depth; sampled views may
// only select one aspect.
func viewAspect(aspect vk.ImageAspectFlags) vk.ImageAspectFlags {
	depth := vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	if aspect&depth != 0 {
		return depth
	}
	return aspect
}

func IsDepthFormat(format vk.Format) bool {
	return AspectFromFormat(format)&vk.ImageAspectFlags(vk.ImageAspectDepthBit) != 0
}

func HasStencil(format vk.Format) bool {
	return AspectFromFormat(format)&vk.ImageAspectFlags(vk.ImageAspectStencilBit) != 0
}
