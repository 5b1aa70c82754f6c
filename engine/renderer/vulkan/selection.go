package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"golang.org/x/exp/slices"
)

type PhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	Transfer             bool
	SamplerAnisotropy    bool
	DeviceExtensionNames []string
}

// DefaultDeviceRequirements is what the deferred renderer needs from a GPU.
func DefaultDeviceRequirements() PhysicalDeviceRequirements {
	return PhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		Transfer:             true,
		SamplerAnisotropy:    true,
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}
}

type QueueFamilyCandidate struct {
	Flags           vk.QueueFlags
	SupportsPresent bool
}

// PhysicalDeviceCandidate is everything device selection looks at, gathered
// up front so the selection itself is a pure function.
type PhysicalDeviceCandidate struct {
	Name              string
	Type              vk.PhysicalDeviceType
	QueueFamilies     []QueueFamilyCandidate
	Extensions        []string
	FormatCount       int
	PresentModeCount  int
	SamplerAnisotropy bool
}

// queueIndices picks a graphics family, a present family (preferring the
// graphics one) and the transfer family with the fewest other capabilities.
func (c PhysicalDeviceCandidate) queueIndices() (QueueFamilyIndices, bool, bool, bool) {
	var out QueueFamilyIndices
	hasGraphics, hasPresent, hasTransfer := false, false, false
	minTransferScore := 255

	for i, family := range c.QueueFamilies {
		currentTransferScore := 0
		if vk.QueueFlagBits(family.Flags)&vk.QueueGraphicsBit != 0 {
			if !hasGraphics {
				out.Graphics = uint32(i)
				hasGraphics = true
			}
			currentTransferScore++
		}
		if vk.QueueFlagBits(family.Flags)&vk.QueueComputeBit != 0 {
			currentTransferScore++
		}
		if vk.QueueFlagBits(family.Flags)&vk.QueueTransferBit != 0 {
			if currentTransferScore <= minTransferScore {
				minTransferScore = currentTransferScore
				out.Transfer = uint32(i)
				hasTransfer = true
			}
		}
		if family.SupportsPresent {
			if !hasPresent || (hasGraphics && out.Graphics == uint32(i)) {
				out.Present = uint32(i)
				hasPresent = true
			}
		}
	}
	return out, hasGraphics, hasPresent, hasTransfer
}

// MeetsRequirements reports whether the candidate is usable, and with which
// queue families.
func MeetsRequirements(c PhysicalDeviceCandidate, req PhysicalDeviceRequirements) (QueueFamilyIndices, bool) {
	indices, graphics, present, transfer := c.queueIndices()

	core.LogDebug("Graphics | Present | Transfer | Name")
	core.LogDebug("       %t |       %t |        %t | %s", graphics, present, transfer, c.Name)

	if (req.Graphics && !graphics) || (req.Present && !present) || (req.Transfer && !transfer) {
		core.LogInfo("Device '%s' does not meet queue requirements, skipping.", c.Name)
		return indices, false
	}
	if c.FormatCount < 1 || c.PresentModeCount < 1 {
		core.LogInfo("Required swapchain support not present on '%s', skipping device.", c.Name)
		return indices, false
	}
	for _, name := range req.DeviceExtensionNames {
		if !slices.Contains(c.Extensions, name) {
			core.LogInfo("Required extension not found: '%s', skipping device.", name)
			return indices, false
		}
	}
	if req.SamplerAnisotropy && !c.SamplerAnisotropy {
		core.LogInfo("Device '%s' does not support samplerAnisotropy, skipping.", c.Name)
		return indices, false
	}
	return indices, true
}

// SelectPhysicalDevice returns the index of the best suitable candidate.
// Discrete GPUs win over integrated ones; other device types are skipped.
func SelectPhysicalDevice(candidates []PhysicalDeviceCandidate, req PhysicalDeviceRequirements) (int, QueueFamilyIndices, error) {
	best, bestRank := -1, -1
	var bestIndices QueueFamilyIndices

	for i, c := range candidates {
		indices, ok := MeetsRequirements(c, req)
		if !ok {
			continue
		}
		rank := deviceTypeRank(c.Type)
		if rank == 0 {
			core.LogInfo("Device '%s' is neither discrete nor integrated, skipping.", c.Name)
			continue
		}
		if rank > bestRank {
			best, bestRank, bestIndices = i, rank, indices
		}
	}

	if best < 0 {
		core.LogError("No physical devices were found which meet the requirements.")
		return -1, QueueFamilyIndices{}, core.ErrNoSuitableDevice
	}
	core.LogInfo("Selected device: '%s' (%s).", candidates[best].Name, deviceTypeName(candidates[best].Type))
	return best, bestIndices, nil
}

func deviceTypeRank(t vk.PhysicalDeviceType) int {
	switch t {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return 2
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return 1
	}
	return 0
}

func deviceTypeName(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "Integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "Discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "Virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "CPU"
	}
	return "Unknown"
}
