package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
)

// Buffer is a VkBuffer with dedicated memory and an optional persistent
// mapping.
type Buffer struct {
	Handle vk.Buffer
	Size   vk.DeviceSize
	Usage  vk.BufferUsageFlags

	device *Device
	alloc  *Allocation
	mapped unsafe.Pointer
}

func NewBuffer(device *Device, size vk.DeviceSize, usage vk.BufferUsageFlags, properties vk.MemoryPropertyFlags) (*Buffer, error) {
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	handle, err := device.Driver.CreateBuffer(&info)
	if err != nil {
		err = fmt.Errorf("failed to create buffer: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	alloc, err := device.Allocator.AllocateForBuffer(handle, properties)
	if err != nil {
		device.Driver.DestroyBuffer(handle)
		err = fmt.Errorf("failed to allocate buffer memory: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	return &Buffer{
		Handle: handle,
		Size:   size,
		Usage:  usage,
		device: device,
		alloc:  alloc,
	}, nil
}

// NewUniformBuffer creates a host visible, coherent, persistently mapped
// uniform buffer of the given size.
func NewUniformBuffer(device *Device, size vk.DeviceSize) (*Buffer, error) {
	b, err := NewBuffer(device, size,
		vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, err
	}
	if err := b.Map(); err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

// NewDeviceLocalBuffer uploads data through a staging buffer into a new
// device local buffer. Setup time only.
func NewDeviceLocalBuffer(device *Device, data []byte, usage vk.BufferUsageFlags) (*Buffer, error) {
	size := vk.DeviceSize(len(data))
	staging, err := NewBuffer(device, size,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	if err := staging.Map(); err != nil {
		return nil, err
	}
	if err := staging.WriteToBuffer(data, 0); err != nil {
		return nil, err
	}

	b, err := NewBuffer(device, size,
		usage|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return nil, err
	}
	if err := device.CopyBuffer(staging.Handle, b.Handle, size); err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

func (b *Buffer) Map() error {
	ptr, err := b.device.Allocator.Map(b.alloc)
	if err != nil {
		err = fmt.Errorf("failed to map buffer: %w", err)
		core.LogError(err.Error())
		return err
	}
	b.mapped = ptr
	return nil
}

func (b *Buffer) Unmap() {
	if b.mapped == nil {
		return
	}
	b.device.Allocator.Unmap(b.alloc)
	b.mapped = nil
}

func (b *Buffer) IsMapped() bool { return b.mapped != nil }

// Bytes is a view of the mapped memory, nil when unmapped.
func (b *Buffer) Bytes() []byte {
	if b.mapped == nil {
		return nil
	}
	return unsafe.Slice((*byte)(b.mapped), int(b.Size))
}

// WriteToBuffer copies data into the mapping at offset.
func (b *Buffer) WriteToBuffer(data []byte, offset vk.DeviceSize) error {
	if b.mapped == nil {
		return core.ErrBufferNotMapped
	}
	if offset+vk.DeviceSize(len(data)) > b.Size {
		return fmt.Errorf("write of %d bytes at offset %d overflows buffer of %d bytes", len(data), offset, b.Size)
	}
	copy(b.Bytes()[offset:], data)
	if !b.alloc.HostCoherent {
		return b.device.Driver.FlushMemory(b.alloc.Memory, offset, vk.DeviceSize(len(data)))
	}
	return nil
}

func (b *Buffer) DescriptorInfo() vk.DescriptorBufferInfo {
	return vk.DescriptorBufferInfo{
		Buffer: b.Handle,
		Offset: 0,
		Range:  b.Size,
	}
}

func (b *Buffer) Destroy() {
	if b.Handle == nil {
		return
	}
	b.Unmap()
	b.device.Driver.DestroyBuffer(b.Handle)
	b.device.Allocator.Free(b.alloc)
	b.Handle = nil
	b.alloc = nil
}

// AsBytes views a value as its raw bytes.
func AsBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// SliceAsBytes views a slice as its raw bytes.
func SliceAsBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
}
