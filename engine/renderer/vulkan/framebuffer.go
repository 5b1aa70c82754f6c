package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
)

type Framebuffer struct {
	Handle      vk.Framebuffer
	Width       uint32
	Height      uint32
	Attachments []vk.ImageView

	driver Driver
}

func NewFramebuffer(device *Device, renderpass *RenderPass, width, height uint32, attachments []vk.ImageView) (*Framebuffer, error) {
	if len(attachments) != renderpass.AttachmentCount() {
		return nil, fmt.Errorf("render pass %s expects %d attachments, got %d", renderpass.Name, renderpass.AttachmentCount(), len(attachments))
	}
	out := &Framebuffer{
		Width:       width,
		Height:      height,
		Attachments: append([]vk.ImageView(nil), attachments...),
		driver:      device.Driver,
	}

	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(out.Attachments)),
		PAttachments:    out.Attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	}
	handle, err := device.Driver.CreateFramebuffer(&info)
	if err != nil {
		err = fmt.Errorf("failed to create framebuffer: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	out.Handle = handle
	return out, nil
}

func (f *Framebuffer) Destroy() {
	if f.Handle != nil {
		f.driver.DestroyFramebuffer(f.Handle)
	}
	f.Handle = nil
	f.Attachments = nil
}

// MaxFramebufferAttachments bounds the views a cached framebuffer may use.
const MaxFramebufferAttachments = 8

// framebufferKey compares handles by address without formatting them.
type framebufferKey struct {
	width, height uint32
	count         int
	views         [MaxFramebufferAttachments]vk.ImageView
}

// FramebufferCache hands out one framebuffer per distinct set of views
// and extent for a single render pass.
type FramebufferCache struct {
	device     *Device
	renderpass *RenderPass
	entries    map[framebufferKey]*Framebuffer
}

func NewFramebufferCache(device *Device, renderpass *RenderPass) *FramebufferCache {
	return &FramebufferCache{
		device:     device,
		renderpass: renderpass,
		entries:    make(map[framebufferKey]*Framebuffer),
	}
}

func newFramebufferKey(width, height uint32, views []vk.ImageView) (framebufferKey, error) {
	key := framebufferKey{width: width, height: height, count: len(views)}
	if len(views) > MaxFramebufferAttachments {
		return key, fmt.Errorf("framebuffer: %d attachments exceed the limit of %d", len(views), MaxFramebufferAttachments)
	}
	copy(key.views[:], views)
	return key, nil
}

func (c *FramebufferCache) Get(width, height uint32, views ...vk.ImageView) (*Framebuffer, error) {
	key, err := newFramebufferKey(width, height, views)
	if err != nil {
		return nil, err
	}
	if fb, ok := c.entries[key]; ok {
		return fb, nil
	}
	fb, err := NewFramebuffer(c.device, c.renderpass, width, height, views)
	if err != nil {
		return nil, err
	}
	c.entries[key] = fb
	return fb, nil
}

func (c *FramebufferCache) Len() int { return len(c.entries) }

// Clear destroys every cached framebuffer. Call after the views they
// reference have been recreated.
func (c *FramebufferCache) Clear() {
	for key, fb := range c.entries {
		fb.Destroy()
		delete(c.entries, key)
	}
}
