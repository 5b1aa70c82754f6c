package vulkan_test

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan/vulkantest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformBufferWrites(t *testing.T) {
	device, _ := vulkantest.NewDevice(t)

	ubo, err := vulkan.NewUniformBuffer(device, 16)
	require.NoError(t, err)
	require.True(t, ubo.IsMapped())

	value := [4]float32{1, 2, 3, 4}
	require.NoError(t, ubo.WriteToBuffer(vulkan.AsBytes(&value), 0))
	assert.Equal(t, vulkan.AsBytes(&value), ubo.Bytes())

	assert.Error(t, ubo.WriteToBuffer(make([]byte, 8), 12), "overflow")

	ubo.Unmap()
	assert.ErrorIs(t, ubo.WriteToBuffer([]byte{1}, 0), core.ErrBufferNotMapped)

	ubo.Destroy()
	require.NoError(t, device.Destroy())
}

func TestDeviceLocalBufferUploadsThroughStaging(t *testing.T) {
	device, driver := vulkantest.NewDevice(t)

	data := vulkan.SliceAsBytes([]uint32{0, 1, 2, 2, 3, 0})
	buf, err := vulkan.NewDeviceLocalBuffer(device, data, vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit))
	require.NoError(t, err)
	assert.Equal(t, vk.DeviceSize(24), buf.Size)

	assert.Len(t, driver.CommandsOf(vulkantest.OpCopyBuffer), 1)
	assert.Equal(t, 1, driver.QueueWaitIdles)
	assert.Equal(t, 1, device.Allocator.Outstanding(), "staging memory is released")
	assert.Empty(t, driver.Violations)

	buf.Destroy()
	require.NoError(t, device.Destroy())
}

func TestAllocatorReportsLeaksOnDestroy(t *testing.T) {
	device, _ := vulkantest.NewDevice(t)

	buf, err := device.CreateBuffer(64,
		vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	require.NoError(t, err)

	assert.ErrorIs(t, device.Allocator.Destroy(), core.ErrAllocationsOutstanding)
	buf.Destroy()
	assert.NoError(t, device.Allocator.Destroy())
}

func TestAllocatorMemoryTypeSelection(t *testing.T) {
	device, _ := vulkantest.NewDevice(t)

	index, err := device.Allocator.FindMemoryType(0b11, vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), index)

	_, err = device.Allocator.FindMemoryType(0b01, vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit))
	assert.ErrorIs(t, err, core.ErrNoMemoryType)
}
