package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// GeoBuffer attachment order, matching the geometry pass outputs.
const (
	GeoAlbedo = iota
	GeoNormal
	GeoPosition
	GeoSpecular
	GeoSelection
	GeoAttachmentCount
)

var geoBufferTargets = [GeoAttachmentCount]struct {
	name   string
	format vk.Format
}{
	GeoAlbedo:    {"albedo", vk.FormatR32g32b32a32Sfloat},
	GeoNormal:    {"normal", vk.FormatR8g8b8a8Unorm},
	GeoPosition:  {"position", vk.FormatR32g32b32a32Sfloat},
	GeoSpecular:  {"specular", vk.FormatR32g32b32a32Sfloat},
	GeoSelection: {"selection", vk.FormatR8g8b8a8Unorm},
}

// GeoBufferFormats lists the attachment formats in attachment order.
func GeoBufferFormats() []vk.Format {
	formats := make([]vk.Format, GeoAttachmentCount)
	for i, t := range geoBufferTargets {
		formats[i] = t.format
	}
	return formats
}

/**
 * @brief The geometry pass render targets. All attachments share one
 * extent and are rebuilt together.
 */
type GeoBuffer struct {
	Extent  vk.Extent2D
	Targets [GeoAttachmentCount]*Image

	device *Device
}

func NewGeoBuffer(device *Device, extent vk.Extent2D) (*GeoBuffer, error) {
	g := &GeoBuffer{device: device}
	targets, err := g.create(extent)
	if err != nil {
		return nil, err
	}
	g.Targets = targets
	g.Extent = extent
	return g, nil
}

func (g *GeoBuffer) create(extent vk.Extent2D) ([GeoAttachmentCount]*Image, error) {
	var targets [GeoAttachmentCount]*Image
	sampler := AttachmentSamplerConfig()
	for i, t := range geoBufferTargets {
		usage := vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) | vk.ImageUsageFlags(vk.ImageUsageSampledBit)
		if i == GeoSelection {
			usage |= vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit)
		}
		img, err := NewImage(g.device, ImageConfig{
			Name:    "gbuffer_" + t.name,
			Width:   extent.Width,
			Height:  extent.Height,
			Format:  t.format,
			Usage:   usage,
			Sampler: &sampler,
		})
		if err != nil {
			destroyImages(targets[:])
			return targets, fmt.Errorf("geobuffer: %w", err)
		}
		targets[i] = img
	}
	return targets, nil
}

// Resize replaces every attachment. On failure the previous attachments
// are kept.
func (g *GeoBuffer) Resize(extent vk.Extent2D) error {
	if extent == g.Extent {
		return nil
	}
	targets, err := g.create(extent)
	if err != nil {
		return err
	}
	destroyImages(g.Targets[:])
	g.Targets = targets
	g.Extent = extent
	return nil
}

func (g *GeoBuffer) Albedo() *Image    { return g.Targets[GeoAlbedo] }
func (g *GeoBuffer) Normal() *Image    { return g.Targets[GeoNormal] }
func (g *GeoBuffer) Position() *Image  { return g.Targets[GeoPosition] }
func (g *GeoBuffer) Specular() *Image  { return g.Targets[GeoSpecular] }
func (g *GeoBuffer) Selection() *Image { return g.Targets[GeoSelection] }

func (g *GeoBuffer) Views() []vk.ImageView {
	views := make([]vk.ImageView, GeoAttachmentCount)
	for i, t := range g.Targets {
		views[i] = t.View
	}
	return views
}

// Transition moves every attachment to layout.
func (g *GeoBuffer) Transition(cb vk.CommandBuffer, layout vk.ImageLayout) {
	for _, t := range g.Targets {
		t.Transition(cb, layout)
	}
}

// DiscardContents forgets the layout of every attachment.
func (g *GeoBuffer) DiscardContents() {
	for _, t := range g.Targets {
		t.DiscardContents()
	}
}

func (g *GeoBuffer) Destroy() {
	destroyImages(g.Targets[:])
}

func destroyImages(images []*Image) {
	for i, img := range images {
		if img != nil {
			img.Destroy()
			images[i] = nil
		}
	}
}
