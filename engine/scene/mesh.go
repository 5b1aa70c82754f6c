package scene

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/spaghettifunk/penumbra/engine/resources"
)

/** @brief GPU geometry of one mesh plus the material it is drawn with. */
type Mesh struct {
	Name         string
	VertexBuffer *vulkan.Buffer
	IndexBuffer  *vulkan.Buffer
	VertexCount  uint32
	IndexCount   uint32
	Bounds       math.AABB
	Material     *Material
}

func NewMesh(device *vulkan.Device, config resources.MeshConfig, material *Material) (*Mesh, error) {
	if len(config.Vertices) == 0 || len(config.Indices) == 0 {
		return nil, fmt.Errorf("mesh %q has no geometry", config.Name)
	}
	vb, err := vulkan.NewDeviceLocalBuffer(device, vulkan.SliceAsBytes(config.Vertices),
		vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	if err != nil {
		return nil, fmt.Errorf("mesh %q: %w", config.Name, err)
	}
	ib, err := vulkan.NewDeviceLocalBuffer(device, vulkan.SliceAsBytes(config.Indices),
		vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit))
	if err != nil {
		vb.Destroy()
		return nil, fmt.Errorf("mesh %q: %w", config.Name, err)
	}

	bounds := config.Bounds
	if bounds.IsEmpty() {
		for _, v := range config.Vertices {
			bounds = bounds.ExpandPoint(v.Position)
		}
	}
	return &Mesh{
		Name:         config.Name,
		VertexBuffer: vb,
		IndexBuffer:  ib,
		VertexCount:  uint32(len(config.Vertices)),
		IndexCount:   uint32(len(config.Indices)),
		Bounds:       bounds,
		Material:     material,
	}, nil
}

// Draw binds the buffers and records one indexed draw.
func (m *Mesh) Draw(driver vulkan.Driver, cb vk.CommandBuffer) {
	driver.CmdBindVertexBuffers(cb, []vk.Buffer{m.VertexBuffer.Handle}, []vk.DeviceSize{0})
	driver.CmdBindIndexBuffer(cb, m.IndexBuffer.Handle, 0)
	driver.CmdDrawIndexed(cb, m.IndexCount, 1, 0, 0, 0)
}

func (m *Mesh) Destroy() {
	if m.VertexBuffer != nil {
		m.VertexBuffer.Destroy()
		m.VertexBuffer = nil
	}
	if m.IndexBuffer != nil {
		m.IndexBuffer.Destroy()
		m.IndexBuffer = nil
	}
}
