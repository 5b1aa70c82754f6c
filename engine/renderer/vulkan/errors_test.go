package vulkan

import (
	"errors"
	"fmt"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/stretchr/testify/assert"
)

func TestVulkanErrorUnwrapsToSentinels(t *testing.T) {
	cases := map[vk.Result]error{
		vk.ErrorOutOfPoolMemory: core.ErrOutOfPoolMemory,
		vk.ErrorFragmentedPool:  core.ErrOutOfPoolMemory,
		vk.ErrorOutOfDate:       core.ErrSwapchainOutOfDate,
		vk.Suboptimal:           core.ErrSwapchainSuboptimal,
		vk.ErrorDeviceLost:      core.ErrDeviceLost,
		vk.Timeout:              core.ErrFenceTimeout,
	}
	for result, sentinel := range cases {
		err := fmt.Errorf("frame: %w", &VulkanError{Op: "vkTest", Result: result})
		assert.ErrorIs(t, err, sentinel)

		var vkErr *VulkanError
		assert.True(t, errors.As(err, &vkErr))
		assert.Equal(t, result, vkErr.Result)
	}

	err := &VulkanError{Op: "vkCreateBuffer", Result: vk.ErrorOutOfDeviceMemory}
	assert.Nil(t, err.Unwrap())
	assert.Contains(t, err.Error(), "vkCreateBuffer failed with")
}

func TestCheckResult(t *testing.T) {
	assert.NoError(t, checkResult("vkTest", vk.Success))
	assert.ErrorIs(t, checkResult("vkTest", vk.ErrorDeviceLost), core.ErrDeviceLost)
}

func TestVulkanResultString(t *testing.T) {
	assert.Equal(t, "VK_ERROR_OUT_OF_DATE_KHR", VulkanResultString(vk.ErrorOutOfDate, false))
	assert.Contains(t, VulkanResultString(vk.ErrorOutOfPoolMemory, true), "descriptor pool")
	assert.Equal(t, "VkResult(-12345)", VulkanResultString(vk.Result(-12345), false))
}

func TestVulkanSafeStrings(t *testing.T) {
	in := []string{"VK_KHR_surface", "main\x00", ""}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"VK_KHR_surface\x00", "main\x00", "\x00"}, out)
	assert.Equal(t, "VK_KHR_surface", in[0], "input is not modified")
}
