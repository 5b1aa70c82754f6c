package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
)

type SamplerConfig struct {
	Filter      vk.Filter
	AddressMode vk.SamplerAddressMode
	Anisotropy  bool
	// CompareEnable turns the sampler into a depth comparison sampler.
	CompareEnable bool
	CompareOp     vk.CompareOp
}

// DefaultSamplerConfig is linear filtering, repeat addressing and the
// device's maximum anisotropy.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Filter:      vk.FilterLinear,
		AddressMode: vk.SamplerAddressModeRepeat,
		Anisotropy:  true,
		CompareOp:   vk.CompareOpAlways,
	}
}

// AttachmentSamplerConfig samples render targets texel-exact.
func AttachmentSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Filter:      vk.FilterNearest,
		AddressMode: vk.SamplerAddressModeClampToEdge,
		CompareOp:   vk.CompareOpAlways,
	}
}

type Sampler struct {
	Handle vk.Sampler

	driver Driver
}

func NewSampler(device *Device, config SamplerConfig) (*Sampler, error) {
	info := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               config.Filter,
		MinFilter:               config.Filter,
		AddressModeU:            config.AddressMode,
		AddressModeV:            config.AddressMode,
		AddressModeW:            config.AddressMode,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1.0,
		BorderColor:             vk.BorderColorFloatOpaqueWhite,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               config.CompareOp,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		MipLodBias:              0.0,
		MinLod:                  0.0,
		MaxLod:                  0.0,
	}
	if config.Anisotropy {
		info.AnisotropyEnable = vk.True
		info.MaxAnisotropy = device.Driver.Limits().MaxSamplerAnisotropy
	}
	if config.CompareEnable {
		info.CompareEnable = vk.True
	}

	handle, err := device.Driver.CreateSampler(&info)
	if err != nil {
		err = fmt.Errorf("failed to create sampler: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	return &Sampler{Handle: handle, driver: device.Driver}, nil
}

func (s *Sampler) Destroy() {
	if s.Handle != nil {
		s.driver.DestroySampler(s.Handle)
		s.Handle = nil
	}
}
