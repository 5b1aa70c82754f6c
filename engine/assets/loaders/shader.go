package loaders

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/spaghettifunk/penumbra/engine/resources"
)

// ShaderLoader reads a compiled .spv file.
type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string, params interface{}) (*resources.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	code, err := vulkan.SpirvFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("shader %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), ".spv")
	return &resources.Resource{
		Type:     resources.ResourceTypeShader,
		Name:     name,
		FullPath: path,
		DataSize: uint64(len(data)),
		Data:     &resources.ShaderResourceData{Name: name, Code: code},
	}, nil
}

func (sl *ShaderLoader) Unload(resource *resources.Resource) error {
	return unload(resource)
}
