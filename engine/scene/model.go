package scene

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/spaghettifunk/penumbra/engine/resources"
)

/** @brief A loaded model: its meshes and the materials they share. */
type Model struct {
	ID        uuid.UUID
	Name      string
	Path      string
	Meshes    []*Mesh
	Materials []*Material
}

// NewModel uploads every mesh of data. Textures must already be in the cache;
// missing ones resolve to the defaults. Nothing is leaked on failure.
func NewModel(device *vulkan.Device, textures *TextureCache, path string, data *resources.ModelResourceData) (*Model, error) {
	m := &Model{
		ID:   uuid.New(),
		Name: data.Name,
		Path: path,
	}
	materials := make(map[string]*Material)
	for _, config := range data.Meshes {
		material, ok := materials[config.Material.Name]
		if !ok {
			material = NewMaterial(config.Material, textures)
			materials[config.Material.Name] = material
			m.Materials = append(m.Materials, material)
		}
		mesh, err := NewMesh(device, config, material)
		if err != nil {
			m.Destroy()
			return nil, fmt.Errorf("model %s: %w", path, err)
		}
		m.Meshes = append(m.Meshes, mesh)
	}
	core.LogInfo("Model '%s' loaded: %d meshes, %d materials.", m.Name, len(m.Meshes), len(m.Materials))
	return m, nil
}

// Bounds is the union of the mesh bounds in model space.
func (m *Model) Bounds() math.AABB {
	out := math.NewAABBEmpty()
	for _, mesh := range m.Meshes {
		out = out.Merge(mesh.Bounds)
	}
	return out
}

func (m *Model) Destroy() {
	for _, mesh := range m.Meshes {
		mesh.Destroy()
	}
	m.Meshes = nil
	for _, material := range m.Materials {
		material.Destroy()
	}
	m.Materials = nil
}
