package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
)

// VulkanError carries the failing call and the raw result. errors.Is works
// against the core sentinels for the results the renderer reacts to.
type VulkanError struct {
	Op     string
	Result vk.Result
}

func (e *VulkanError) Error() string {
	return fmt.Sprintf("%s failed with %s", e.Op, VulkanResultString(e.Result, false))
}

func (e *VulkanError) Unwrap() error {
	switch e.Result {
	case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
		return core.ErrOutOfPoolMemory
	case vk.ErrorOutOfDate:
		return core.ErrSwapchainOutOfDate
	case vk.Suboptimal:
		return core.ErrSwapchainSuboptimal
	case vk.ErrorDeviceLost:
		return core.ErrDeviceLost
	case vk.Timeout:
		return core.ErrFenceTimeout
	}
	return nil
}

// checkResult returns nil on vk.Success and a *VulkanError otherwise.
func checkResult(op string, res vk.Result) error {
	if res == vk.Success {
		return nil
	}
	return &VulkanError{Op: op, Result: res}
}
