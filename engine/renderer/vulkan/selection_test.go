package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(name string, t vk.PhysicalDeviceType) PhysicalDeviceCandidate {
	return PhysicalDeviceCandidate{
		Name: name,
		Type: t,
		QueueFamilies: []QueueFamilyCandidate{
			{Flags: vk.QueueFlags(vk.QueueGraphicsBit) | vk.QueueFlags(vk.QueueComputeBit) | vk.QueueFlags(vk.QueueTransferBit), SupportsPresent: true},
			{Flags: vk.QueueFlags(vk.QueueTransferBit)},
		},
		Extensions:        []string{vk.KhrSwapchainExtensionName},
		FormatCount:       1,
		PresentModeCount:  1,
		SamplerAnisotropy: true,
	}
}

func TestSelectPhysicalDevicePrefersDiscrete(t *testing.T) {
	candidates := []PhysicalDeviceCandidate{
		candidate("igpu", vk.PhysicalDeviceTypeIntegratedGpu),
		candidate("dgpu", vk.PhysicalDeviceTypeDiscreteGpu),
	}
	index, queues, err := SelectPhysicalDevice(candidates, DefaultDeviceRequirements())
	require.NoError(t, err)
	assert.Equal(t, 1, index)
	assert.Equal(t, uint32(0), queues.Graphics)
	assert.Equal(t, uint32(0), queues.Present)
	assert.Equal(t, uint32(1), queues.Transfer, "dedicated transfer family wins")
}

func TestSelectPhysicalDeviceFallsBackToIntegrated(t *testing.T) {
	broken := candidate("dgpu", vk.PhysicalDeviceTypeDiscreteGpu)
	broken.Extensions = nil
	candidates := []PhysicalDeviceCandidate{
		broken,
		candidate("cpu", vk.PhysicalDeviceTypeCpu),
		candidate("igpu", vk.PhysicalDeviceTypeIntegratedGpu),
	}
	index, _, err := SelectPhysicalDevice(candidates, DefaultDeviceRequirements())
	require.NoError(t, err)
	assert.Equal(t, 2, index)
}

func TestSelectPhysicalDeviceFailsWithoutCandidates(t *testing.T) {
	noPresent := candidate("dgpu", vk.PhysicalDeviceTypeDiscreteGpu)
	for i := range noPresent.QueueFamilies {
		noPresent.QueueFamilies[i].SupportsPresent = false
	}
	noFormats := candidate("igpu", vk.PhysicalDeviceTypeIntegratedGpu)
	noFormats.FormatCount = 0
	noAniso := candidate("igpu2", vk.PhysicalDeviceTypeIntegratedGpu)
	noAniso.SamplerAnisotropy = false

	_, _, err := SelectPhysicalDevice([]PhysicalDeviceCandidate{noPresent, noFormats, noAniso}, DefaultDeviceRequirements())
	assert.ErrorIs(t, err, core.ErrNoSuitableDevice)

	_, _, err = SelectPhysicalDevice(nil, DefaultDeviceRequirements())
	assert.ErrorIs(t, err, core.ErrNoSuitableDevice)
}

func TestMeetsRequirementsSeparatePresentFamily(t *testing.T) {
	c := candidate("dgpu", vk.PhysicalDeviceTypeDiscreteGpu)
	c.QueueFamilies[0].SupportsPresent = false
	c.QueueFamilies[1].SupportsPresent = true

	queues, ok := MeetsRequirements(c, DefaultDeviceRequirements())
	require.True(t, ok)
	assert.Equal(t, uint32(0), queues.Graphics)
	assert.Equal(t, uint32(1), queues.Present)
}
