package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
)

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool

	driver Driver
}

func NewFence(driver Driver, createSignaled bool) (*VulkanFence, error) {
	handle, err := driver.CreateFence(createSignaled)
	if err != nil {
		err = fmt.Errorf("failed to create fence: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	return &VulkanFence{
		Handle: handle,
		// Make sure to signal the fence if required.
		IsSignaled: createSignaled,
		driver:     driver,
	}, nil
}

func (vf *VulkanFence) Destroy() {
	if vf.Handle != nil {
		vf.driver.DestroyFence(vf.Handle)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}

// Wait blocks until the fence is signaled or the timeout expires. A fence
// already known to be signaled returns immediately.
func (vf *VulkanFence) Wait(timeoutNs uint64) error {
	if vf.IsSignaled {
		return nil
	}
	result := vf.driver.WaitForFence(vf.Handle, timeoutNs)
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return nil
	case vk.Timeout:
		core.LogError("vk_fence_wait - Timed out after %dns", timeoutNs)
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	case vk.ErrorOutOfHostMemory:
		core.LogError("vk_fence_wait - VK_ERROR_OUT_OF_HOST_MEMORY.")
	case vk.ErrorOutOfDeviceMemory:
		core.LogError("vk_fence_wait - VK_ERROR_OUT_OF_DEVICE_MEMORY.")
	default:
		core.LogError("vk_fence_wait - An unknown error has occurred.")
	}
	return &VulkanError{Op: "vkWaitForFences", Result: result}
}

func (vf *VulkanFence) Reset() error {
	if !vf.IsSignaled {
		return nil
	}
	if err := vf.driver.ResetFence(vf.Handle); err != nil {
		err = fmt.Errorf("failed to reset fence: %w", err)
		core.LogError(err.Error())
		return err
	}
	vf.IsSignaled = false
	return nil
}
