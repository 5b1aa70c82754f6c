package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
)

const spirvMagic uint32 = 0x07230203

// SpirvFromBytes reinterprets a compiled .spv file as SPIR-V words.
func SpirvFromBytes(data []byte) ([]uint32, error) {
	if len(data) < 4 || len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid SPIR-V size %d", len(data))
	}
	code := make([]uint32, len(data)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	if code[0] != spirvMagic {
		return nil, fmt.Errorf("invalid SPIR-V magic 0x%08x", code[0])
	}
	return code, nil
}

/**
 * @brief Represents a single shader stage.
 */
type VulkanShaderStage struct {
	/** @brief The internal shader module Handle. */
	Handle vk.ShaderModule
	/** @brief The pipeline shader stage creation info. */
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

func NewShaderStage(driver Driver, code []uint32, stage vk.ShaderStageFlagBits) (*VulkanShaderStage, error) {
	module, err := driver.CreateShaderModule(code)
	if err != nil {
		err = fmt.Errorf("unable to create shader module: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	return &VulkanShaderStage{
		Handle: module,
		ShaderStageCreateInfo: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stage,
			Module: module,
			PName:  VulkanSafeString("main"),
		},
	}, nil
}

func (s *VulkanShaderStage) Destroy(driver Driver) {
	if s.Handle != nil {
		driver.DestroyShaderModule(s.Handle)
		s.Handle = nil
	}
}
