package systems

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/penumbra/engine/assets"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/resources"
)

/**
 * @brief Serves compiled SPIR-V to the render passes. A shader named
 * "geometry.vert" is read from <dir>/geometry.vert.spv through the asset
 * manager on every call, so a pipeline reload always sees the file on disk.
 */
type ShaderSystem struct {
	assetManager *assets.AssetManager
	dir          string
}

func NewShaderSystem(am *assets.AssetManager, dir string) (*ShaderSystem, error) {
	if am == nil {
		return nil, fmt.Errorf("shader system requires an asset manager")
	}
	if dir == "" {
		dir = "shaders"
	}
	return &ShaderSystem{assetManager: am, dir: dir}, nil
}

func (ss *ShaderSystem) path(name string) string {
	return filepath.Join(ss.dir, name+".spv")
}

// Load implements passes.ShaderSource.
func (ss *ShaderSystem) Load(name string) ([]uint32, error) {
	res, err := ss.assetManager.Load(ss.path(name), nil)
	if err != nil {
		return nil, fmt.Errorf("shader %s: %w", name, err)
	}
	defer ss.assetManager.Unload(res)

	shader, ok := res.Data.(*resources.ShaderResourceData)
	if !ok {
		return nil, fmt.Errorf("shader %s: unexpected resource data %T", name, res.Data)
	}
	code := make([]uint32, len(shader.Code))
	copy(code, shader.Code)
	core.LogDebug("Shader '%s' loaded (%d words).", name, len(code))
	return code, nil
}

// IsShader reports whether event touches a compiled shader this system
// serves.
func (ss *ShaderSystem) IsShader(event assets.AssetEvent) bool {
	if event.Type != resources.ResourceTypeShader {
		return false
	}
	dir := ss.dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(ss.assetManager.Root(), dir)
	}
	rel, err := filepath.Rel(dir, event.Path)
	return err == nil && !strings.HasPrefix(rel, "..")
}
