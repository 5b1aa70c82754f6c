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

var allStages = vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit)

func TestDescriptorSetLayoutBuilderIsValueType(t *testing.T) {
	device, _ := vulkantest.NewDevice(t)

	base := vulkan.NewDescriptorSetLayoutBuilder().
		AddBinding(0, vk.DescriptorTypeUniformBuffer, allStages, 1)
	withSampler := base.AddBinding(1, vk.DescriptorTypeCombinedImageSampler, allStages, 1)

	a, err := base.Build(device)
	require.NoError(t, err)
	b, err := withSampler.Build(device)
	require.NoError(t, err)
	assert.Equal(t, 1, a.BindingCount())
	assert.Equal(t, 2, b.BindingCount())

	_, err = base.AddBinding(0, vk.DescriptorTypeStorageBuffer, allStages, 1).Build(device)
	assert.Error(t, err, "duplicate binding")

	shuffled, err := vulkan.NewDescriptorSetLayoutBuilder().
		AddBinding(2, vk.DescriptorTypeStorageBuffer, allStages, 1).
		AddBinding(0, vk.DescriptorTypeUniformBuffer, allStages, 1).
		AddBinding(1, vk.DescriptorTypeCombinedImageSampler, allStages, 1).
		Build(device)
	require.NoError(t, err)
	var order []uint32
	for _, binding := range shuffled.Bindings() {
		order = append(order, binding.Binding)
	}
	assert.Equal(t, []uint32{0, 1, 2}, order)
	shuffled.Destroy()

	a.Destroy()
	b.Destroy()
}

func TestDescriptorWriterBindingContract(t *testing.T) {
	device, driver := vulkantest.NewDevice(t)

	layout, err := vulkan.NewDescriptorSetLayoutBuilder().
		AddBinding(0, vk.DescriptorTypeUniformBuffer, allStages, 1).
		AddBinding(1, vk.DescriptorTypeCombinedImageSampler, allStages, 1).
		AddBinding(2, vk.DescriptorTypeCombinedImageSampler, allStages, 4).
		Build(device)
	require.NoError(t, err)
	pool, err := vulkan.NewDescriptorPoolBuilder().
		SetMaxSets(4).
		AddPoolSize(vk.DescriptorTypeUniformBuffer, 4).
		AddPoolSize(vk.DescriptorTypeCombinedImageSampler, 20).
		Build(device)
	require.NoError(t, err)

	ubo, err := vulkan.NewUniformBuffer(device, 64)
	require.NoError(t, err)

	t.Run("undeclared binding", func(t *testing.T) {
		w := vulkan.NewDescriptorWriter(layout, pool).WriteBuffer(7, ubo.DescriptorInfo())
		assert.ErrorIs(t, w.Err(), core.ErrUndeclaredBinding)
		_, err := w.Build()
		assert.ErrorIs(t, err, core.ErrUndeclaredBinding)
	})

	t.Run("array binding", func(t *testing.T) {
		w := vulkan.NewDescriptorWriter(layout, pool).WriteImage(2, vk.DescriptorImageInfo{})
		assert.ErrorIs(t, w.Err(), core.ErrDescriptorCountMismatch)
	})

	t.Run("partial writes", func(t *testing.T) {
		driver.Reset()
		set, err := vulkan.NewDescriptorWriter(layout, pool).WriteBuffer(0, ubo.DescriptorInfo()).Build()
		require.NoError(t, err)
		require.Len(t, driver.DescriptorWrites, 1)
		assert.Equal(t, uint32(0), driver.DescriptorWrites[0].DstBinding)
		assert.Equal(t, vk.DescriptorTypeUniformBuffer, driver.DescriptorWrites[0].DescriptorType)

		// Re-pointing one binding leaves the others alone.
		driver.Reset()
		err = vulkan.NewDescriptorWriter(layout, pool).WriteImage(1, vk.DescriptorImageInfo{}).Overwrite(set)
		require.NoError(t, err)
		require.Len(t, driver.DescriptorWrites, 1)
		assert.Equal(t, uint32(1), driver.DescriptorWrites[0].DstBinding)
		assert.True(t, set == driver.DescriptorWrites[0].DstSet)
	})

	t.Run("first error sticks", func(t *testing.T) {
		driver.Reset()
		w := vulkan.NewDescriptorWriter(layout, pool).
			WriteBuffer(9, ubo.DescriptorInfo()).
			WriteBuffer(0, ubo.DescriptorInfo())
		_, err := w.Build()
		assert.ErrorIs(t, err, core.ErrUndeclaredBinding)
		assert.Empty(t, driver.DescriptorWrites)
	})

	ubo.Destroy()
	pool.Destroy()
	layout.Destroy()
	require.NoError(t, device.Destroy())
}

func TestDescriptorPoolExhaustion(t *testing.T) {
	device, _ := vulkantest.NewDevice(t)

	layout, err := vulkan.NewDescriptorSetLayoutBuilder().
		AddBinding(0, vk.DescriptorTypeUniformBuffer, allStages, 1).
		Build(device)
	require.NoError(t, err)
	pool, err := vulkan.NewDescriptorPoolBuilder().
		SetMaxSets(2).
		AddPoolSize(vk.DescriptorTypeUniformBuffer, 2).
		Build(device)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := pool.Allocate(layout)
		require.NoError(t, err)
	}
	_, err = pool.Allocate(layout)
	assert.ErrorIs(t, err, core.ErrOutOfPoolMemory)

	require.NoError(t, pool.Reset())
	_, err = pool.Allocate(layout)
	assert.NoError(t, err)

	pool.Destroy()
	layout.Destroy()
}
