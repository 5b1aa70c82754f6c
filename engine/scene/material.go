package scene

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/spaghettifunk/penumbra/engine/resources"
)

/**
 * @brief The per-material uniform block of the geometry pass (set 1,
 * binding 0). TextureFlags has bit n set when slot n holds a loaded texture
 * rather than a default.
 */
type MaterialUniform struct {
	DiffuseColour math.Vec4
	TextureFlags  uint32
	Shininess     float32
	_             [2]float32
}

type Material struct {
	Name     string
	Config   resources.MaterialConfig
	Textures [resources.TextureUseCount]*vulkan.Image
	Flags    uint32

	/** @brief Written by the geometry pass when the material is prepared. */
	Uniform *vulkan.Buffer
	Set     vk.DescriptorSet
}

// NewMaterial resolves the configured texture paths against the cache.
func NewMaterial(config resources.MaterialConfig, textures *TextureCache) *Material {
	m := &Material{
		Name:   config.Name,
		Config: config,
	}
	for use := resources.TextureUse(0); use < resources.TextureUseCount; use++ {
		img, loaded := textures.Resolve(use, config.TexturePaths[use])
		m.Textures[use] = img
		if loaded {
			m.Flags |= 1 << uint32(use)
		}
	}
	return m
}

func (m *Material) UniformData() MaterialUniform {
	colour := m.Config.DiffuseColour
	if colour == (math.Vec4{}) {
		colour = math.NewVec4One()
	}
	return MaterialUniform{
		DiffuseColour: colour,
		TextureFlags:  m.Flags,
		Shininess:     m.Config.Shininess,
	}
}

// IsPrepared reports whether the material has a descriptor set.
func (m *Material) IsPrepared() bool {
	return m.Set != nil
}

// Destroy frees the uniform buffer. Textures belong to the cache and the set
// to the pool that allocated it.
func (m *Material) Destroy() {
	if m.Uniform != nil {
		m.Uniform.Destroy()
		m.Uniform = nil
	}
	m.Set = nil
}
