package scene

import (
	"fmt"

	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/spaghettifunk/penumbra/engine/resources"
)

// Default texel per material slot, used when a material names no texture
// or its texture failed to load.
var defaultTexels = [resources.TextureUseCount][4]byte{
	resources.TextureUseAlbedo:   {255, 255, 255, 255},
	resources.TextureUseNormal:   {128, 128, 255, 255},
	resources.TextureUseSpecular: {0, 0, 0, 255},
	resources.TextureUseBump:     {128, 128, 255, 255},
}

/**
 * @brief Owns every texture uploaded to the GPU, keyed by path, plus the
 * per-slot default textures. Materials borrow images from the cache and
 * never destroy them.
 */
type TextureCache struct {
	device   *vulkan.Device
	textures map[string]*vulkan.Image
	defaults [resources.TextureUseCount]*vulkan.Image
}

func NewTextureCache(device *vulkan.Device) (*TextureCache, error) {
	c := &TextureCache{
		device:   device,
		textures: make(map[string]*vulkan.Image),
	}
	for use, texel := range defaultTexels {
		name := fmt.Sprintf("default_%s", resources.TextureUse(use))
		img, err := vulkan.NewSolidTexture(device, name, texel)
		if err != nil {
			c.Destroy()
			return nil, err
		}
		c.defaults[use] = img
	}
	return c, nil
}

// Upload creates the texture for path, or returns the one already uploaded.
// Must be called on the render thread.
func (c *TextureCache) Upload(path string, data *resources.ImageResourceData) (*vulkan.Image, error) {
	if img, ok := c.textures[path]; ok {
		return img, nil
	}
	img, err := vulkan.NewTexture(c.device, path, data.Width, data.Height, data.Pixels)
	if err != nil {
		return nil, err
	}
	c.textures[path] = img
	core.LogDebug("Texture '%s' uploaded (%dx%d).", path, data.Width, data.Height)
	return img, nil
}

func (c *TextureCache) Get(path string) (*vulkan.Image, bool) {
	img, ok := c.textures[path]
	return img, ok
}

func (c *TextureCache) Default(use resources.TextureUse) *vulkan.Image {
	return c.defaults[use]
}

// Resolve returns the texture for path, falling back to the slot default.
// The bool reports whether a real texture was found.
func (c *TextureCache) Resolve(use resources.TextureUse, path string) (*vulkan.Image, bool) {
	if path != "" {
		if img, ok := c.textures[path]; ok {
			return img, true
		}
	}
	return c.defaults[use], false
}

func (c *TextureCache) Len() int { return len(c.textures) }

func (c *TextureCache) Destroy() {
	for path, img := range c.textures {
		img.Destroy()
		delete(c.textures, path)
	}
	for i, img := range c.defaults {
		if img != nil {
			img.Destroy()
			c.defaults[i] = nil
		}
	}
}
