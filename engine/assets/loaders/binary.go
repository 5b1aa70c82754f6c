package loaders

import (
	"os"
	"path/filepath"

	"github.com/spaghettifunk/penumbra/engine/resources"
)

// BinaryLoader reads a file as raw bytes. Used for text and binary assets
// that have no dedicated loader.
type BinaryLoader struct {
	Type resources.ResourceType
}

func (bl *BinaryLoader) Load(path string, params interface{}) (*resources.Resource, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &resources.Resource{
		Type:     bl.Type,
		Name:     filepath.Base(path),
		FullPath: path,
		DataSize: uint64(len(buf)),
		Data:     buf,
	}, nil
}

func (bl *BinaryLoader) Unload(resource *resources.Resource) error {
	return unload(resource)
}

func unload(resource *resources.Resource) error {
	if resource == nil {
		return nil
	}
	resource.Data = nil
	resource.DataSize = 0
	resource.FullPath = ""
	return nil
}
