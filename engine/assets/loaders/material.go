package loaders

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/spaghettifunk/penumbra/engine/resources"
)

// MaterialLoader reads a Wavefront .mtl material library. The resource data
// is a []resources.MaterialConfig in file order.
type MaterialLoader struct{}

func (ml *MaterialLoader) Load(path string, params interface{}) (*resources.Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	configs, err := ParseMaterialLibrary(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("material library %s: %w", path, err)
	}
	return &resources.Resource{
		Type:     resources.ResourceTypeMaterial,
		Name:     filepath.Base(path),
		FullPath: path,
		DataSize: uint64(len(configs)),
		Data:     configs,
	}, nil
}

func (ml *MaterialLoader) Unload(resource *resources.Resource) error {
	return unload(resource)
}

func defaultMaterialConfig(name string) resources.MaterialConfig {
	return resources.MaterialConfig{
		Name:          name,
		DiffuseColour: math.NewVec4(1, 1, 1, 1),
		Shininess:     8,
	}
}

// ParseMaterialLibrary parses .mtl statements. Texture paths are resolved
// against dir. Statements the renderer has no use for are skipped.
func ParseMaterialLibrary(r io.Reader, dir string) ([]resources.MaterialConfig, error) {
	var (
		configs []resources.MaterialConfig
		current *resources.MaterialConfig
	)
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		key, args := fields[0], fields[1:]

		if key == "newmtl" {
			if len(args) == 0 {
				return nil, fmt.Errorf("line %d: newmtl without a name", lineNo)
			}
			configs = append(configs, defaultMaterialConfig(strings.Join(args, " ")))
			current = &configs[len(configs)-1]
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("line %d: '%s' before newmtl", lineNo, key)
		}

		switch key {
		case "Kd":
			rgb, err := parseFloats(args, 3)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			current.DiffuseColour = math.NewVec4(rgb[0], rgb[1], rgb[2], current.DiffuseColour.W)
		case "d":
			v, err := parseFloats(args, 1)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			current.DiffuseColour.W = v[0]
		case "Tr":
			v, err := parseFloats(args, 1)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			current.DiffuseColour.W = 1 - v[0]
		case "Ns":
			v, err := parseFloats(args, 1)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			current.Shininess = v[0]
		case "map_Kd":
			current.TexturePaths[resources.TextureUseAlbedo] = texturePath(dir, args)
		case "map_Bump", "map_bump", "bump", "norm":
			current.TexturePaths[resources.TextureUseNormal] = texturePath(dir, args)
		case "map_Ks":
			current.TexturePaths[resources.TextureUseSpecular] = texturePath(dir, args)
		case "disp", "map_disp":
			current.TexturePaths[resources.TextureUseBump] = texturePath(dir, args)
		default:
			core.LogDebug("mtl line %d: ignoring '%s'", lineNo, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return configs, nil
}

// texturePath keeps the last argument, dropping map options such as
// "-bm 1.0".
func texturePath(dir string, args []string) string {
	if len(args) == 0 {
		return ""
	}
	p := filepath.FromSlash(strings.ReplaceAll(args[len(args)-1], "\\", "/"))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func parseFloats(args []string, n int) ([]float32, error) {
	if len(args) < n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(args))
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(args[i], 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(v)
	}
	return out, nil
}
