package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
)

// Allocation is one dedicated device memory block.
type Allocation struct {
	Memory       vk.DeviceMemory
	Size         vk.DeviceSize
	MemoryType   uint32
	HostCoherent bool

	mapped unsafe.Pointer
}

// Allocator hands out dedicated allocations and keeps track of the live ones
// so teardown order mistakes are caught at Destroy.
type Allocator struct {
	driver Driver
	locks  *VulkanLockPool
	memory vk.PhysicalDeviceMemoryProperties
	live   map[vk.DeviceMemory]*Allocation
}

func NewAllocator(driver Driver, locks *VulkanLockPool) *Allocator {
	return &Allocator{
		driver: driver,
		locks:  locks,
		memory: driver.MemoryProperties(),
		live:   make(map[vk.DeviceMemory]*Allocation),
	}
}

// FindMemoryType returns the first memory type allowed by typeFilter that has
// all the requested property flags.
func (a *Allocator) FindMemoryType(typeFilter uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < a.memory.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		if (typeFilter&(1<<i)) != 0 && a.memory.MemoryTypes[i].PropertyFlags&properties == properties {
			return i, nil
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return 0, core.ErrNoMemoryType
}

func (a *Allocator) allocate(req vk.MemoryRequirements, properties vk.MemoryPropertyFlags) (*Allocation, error) {
	memoryType, err := a.FindMemoryType(req.MemoryTypeBits, properties)
	if err != nil {
		return nil, err
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: memoryType,
	}

	var alloc *Allocation
	err = a.locks.SafeCall(MemoryManagement, func() error {
		memory, err := a.driver.AllocateMemory(&info)
		if err != nil {
			return err
		}
		alloc = &Allocation{
			Memory:       memory,
			Size:         req.Size,
			MemoryType:   memoryType,
			HostCoherent: properties&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit) != 0,
		}
		a.live[memory] = alloc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return alloc, nil
}

// AllocateForBuffer allocates and binds memory for the buffer.
func (a *Allocator) AllocateForBuffer(buffer vk.Buffer, properties vk.MemoryPropertyFlags) (*Allocation, error) {
	alloc, err := a.allocate(a.driver.BufferMemoryRequirements(buffer), properties)
	if err != nil {
		return nil, err
	}
	if err := a.driver.BindBufferMemory(buffer, alloc.Memory, 0); err != nil {
		a.Free(alloc)
		return nil, err
	}
	return alloc, nil
}

// AllocateForImage allocates and binds memory for the image.
func (a *Allocator) AllocateForImage(image vk.Image, properties vk.MemoryPropertyFlags) (*Allocation, error) {
	alloc, err := a.allocate(a.driver.ImageMemoryRequirements(image), properties)
	if err != nil {
		return nil, err
	}
	if err := a.driver.BindImageMemory(image, alloc.Memory, 0); err != nil {
		a.Free(alloc)
		return nil, err
	}
	return alloc, nil
}

// Map maps the whole allocation. Mapping an already mapped allocation returns
// the existing pointer.
func (a *Allocator) Map(alloc *Allocation) (unsafe.Pointer, error) {
	if alloc.mapped != nil {
		return alloc.mapped, nil
	}
	ptr, err := a.driver.MapMemory(alloc.Memory, 0, alloc.Size)
	if err != nil {
		return nil, err
	}
	alloc.mapped = ptr
	return ptr, nil
}

func (a *Allocator) Unmap(alloc *Allocation) {
	if alloc.mapped == nil {
		return
	}
	a.driver.UnmapMemory(alloc.Memory)
	alloc.mapped = nil
}

func (a *Allocator) Free(alloc *Allocation) {
	if alloc == nil || alloc.Memory == nil {
		return
	}
	a.Unmap(alloc)
	a.locks.SafeCall(MemoryManagement, func() error {
		delete(a.live, alloc.Memory)
		a.driver.FreeMemory(alloc.Memory)
		return nil
	})
	alloc.Memory = nil
}

// Outstanding is the number of allocations not yet freed.
func (a *Allocator) Outstanding() int {
	n := 0
	a.locks.SafeCall(MemoryManagement, func() error {
		n = len(a.live)
		return nil
	})
	return n
}

// Destroy fails if anything allocated through this allocator is still alive.
func (a *Allocator) Destroy() error {
	if n := a.Outstanding(); n > 0 {
		err := fmt.Errorf("%d allocations still alive: %w", n, core.ErrAllocationsOutstanding)
		core.LogError(err.Error())
		return err
	}
	return nil
}
