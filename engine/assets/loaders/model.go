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

const defaultMaterialName = "default"

// ModelLoader reads Wavefront .obj files together with the material
// libraries they reference.
type ModelLoader struct{}

func (ml *ModelLoader) Load(path string, params interface{}) (*resources.Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	data, err := ParseOBJ(f, filepath.Dir(path), name)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return &resources.Resource{
		Type:     resources.ResourceTypeModel,
		Name:     name,
		FullPath: path,
		DataSize: uint64(len(data.Meshes)),
		Data:     data,
	}, nil
}

func (ml *ModelLoader) Unload(resource *resources.Resource) error {
	return unload(resource)
}

type objIndex struct {
	position, texcoord, normal int
}

// meshBuilder collects the faces of one (group, material) run.
type meshBuilder struct {
	name       string
	material   string
	vertices   []math.Vertex3D
	indices    []uint32
	lookup     map[objIndex]uint32
	hasNormals bool
}

func newMeshBuilder(name, material string) *meshBuilder {
	return &meshBuilder{
		name:       name,
		material:   material,
		lookup:     make(map[objIndex]uint32),
		hasNormals: true,
	}
}

type objParser struct {
	dir       string
	positions []math.Vec3
	texcoords []math.Vec2
	normals   []math.Vec3
	materials map[string]resources.MaterialConfig
	meshes    []*meshBuilder
	current   *meshBuilder
	group     string
}

// ParseOBJ parses positions, texture coordinates, normals and polygonal faces.
// Faces are triangulated as fans. A new mesh starts whenever the group or
// the material changes. Missing normals are generated flat and tangents are
// always generated. Material libraries are resolved against dir.
func ParseOBJ(r io.Reader, dir, name string) (*resources.ModelResourceData, error) {
	p := &objParser{
		dir:       dir,
		materials: make(map[string]resources.MaterialConfig),
		group:     name,
	}
	p.current = newMeshBuilder(name, defaultMaterialName)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := p.parseLine(strings.Fields(line)); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	p.flush()

	data := &resources.ModelResourceData{Name: name}
	for _, b := range p.meshes {
		data.Meshes = append(data.Meshes, p.finish(b))
	}
	if len(data.Meshes) == 0 {
		return nil, fmt.Errorf("no faces")
	}
	return data, nil
}

func (p *objParser) parseLine(fields []string) error {
	key, args := fields[0], fields[1:]
	switch key {
	case "v":
		v, err := parseFloats(args, 3)
		if err != nil {
			return err
		}
		p.positions = append(p.positions, math.NewVec3(v[0], v[1], v[2]))
	case "vt":
		v, err := parseFloats(args, 2)
		if err != nil {
			return err
		}
		// Vulkan samples with v pointing down.
		p.texcoords = append(p.texcoords, math.NewVec2(v[0], 1-v[1]))
	case "vn":
		v, err := parseFloats(args, 3)
		if err != nil {
			return err
		}
		p.normals = append(p.normals, math.NewVec3(v[0], v[1], v[2]).Normalized())
	case "f":
		return p.parseFace(args)
	case "o", "g":
		if len(args) > 0 {
			p.group = strings.Join(args, " ")
			p.switchMesh(p.group, p.current.material)
		}
	case "usemtl":
		if len(args) == 0 {
			return fmt.Errorf("usemtl without a name")
		}
		p.switchMesh(p.group, strings.Join(args, " "))
	case "mtllib":
		for _, lib := range args {
			p.loadLibrary(lib)
		}
	case "s", "l", "p":
	default:
		core.LogDebug("obj: ignoring '%s'", key)
	}
	return nil
}

func (p *objParser) loadLibrary(lib string) {
	path := texturePath(p.dir, []string{lib})
	f, err := os.Open(path)
	if err != nil {
		core.LogWarn("obj: material library %s not loaded: %s", path, err)
		return
	}
	defer f.Close()

	configs, err := ParseMaterialLibrary(f, filepath.Dir(path))
	if err != nil {
		core.LogWarn("obj: material library %s: %s", path, err)
		return
	}
	for _, c := range configs {
		p.materials[c.Name] = c
	}
}

func (p *objParser) switchMesh(name, material string) {
	if p.current.name == name && p.current.material == material {
		return
	}
	p.flush()
	p.current = newMeshBuilder(name, material)
}

func (p *objParser) flush() {
	if len(p.current.indices) > 0 {
		p.meshes = append(p.meshes, p.current)
	}
}

func (p *objParser) parseFace(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("face with %d vertices", len(args))
	}
	corners := make([]uint32, len(args))
	for i, token := range args {
		idx, err := p.parseIndex(token)
		if err != nil {
			return err
		}
		corners[i] = p.current.vertex(idx, p)
	}
	for i := 1; i+1 < len(corners); i++ {
		p.current.indices = append(p.current.indices, corners[0], corners[i], corners[i+1])
	}
	return nil
}

// parseIndex reads v, v/vt, v//vn or v/vt/vn. Indices are 1 based and may be
// negative, counting back from the last element. -1 marks an absent index.
func (p *objParser) parseIndex(token string) (objIndex, error) {
	parts := strings.Split(token, "/")
	out := objIndex{position: -1, texcoord: -1, normal: -1}
	counts := []int{len(p.positions), len(p.texcoords), len(p.normals)}
	targets := []*int{&out.position, &out.texcoord, &out.normal}
	for i, part := range parts {
		if i >= 3 {
			return out, fmt.Errorf("bad face vertex '%s'", token)
		}
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return out, fmt.Errorf("bad face vertex '%s': %w", token, err)
		}
		switch {
		case n > 0:
			n--
		case n < 0:
			n += counts[i]
		default:
			return out, fmt.Errorf("zero index in '%s'", token)
		}
		if n < 0 || n >= counts[i] {
			return out, fmt.Errorf("index out of range in '%s'", token)
		}
		*targets[i] = n
	}
	if out.position < 0 {
		return out, fmt.Errorf("face vertex '%s' without position", token)
	}
	return out, nil
}

func (b *meshBuilder) vertex(idx objIndex, p *objParser) uint32 {
	if i, ok := b.lookup[idx]; ok {
		return i
	}
	v := math.Vertex3D{
		Position: p.positions[idx.position],
		Colour:   math.NewVec3One(),
	}
	if idx.texcoord >= 0 {
		v.Texcoord = p.texcoords[idx.texcoord]
	}
	if idx.normal >= 0 {
		v.Normal = p.normals[idx.normal]
	} else {
		b.hasNormals = false
	}
	i := uint32(len(b.vertices))
	b.vertices = append(b.vertices, v)
	b.lookup[idx] = i
	return i
}

func (p *objParser) finish(b *meshBuilder) resources.MeshConfig {
	if !b.hasNormals {
		// Flat normals need one vertex per face corner; welded again after.
		unwelded := make([]math.Vertex3D, len(b.indices))
		for i, idx := range b.indices {
			unwelded[i] = b.vertices[idx]
			b.indices[i] = uint32(i)
		}
		math.GeometryGenerateNormals(unwelded, b.indices)
		math.GeometryGenerateTangents(unwelded, b.indices)
		b.vertices = math.GeometryDeduplicateVertices(unwelded, b.indices)
	} else {
		math.GeometryGenerateTangents(b.vertices, b.indices)
	}

	bounds := math.NewAABBEmpty()
	for _, v := range b.vertices {
		bounds = bounds.ExpandPoint(v.Position)
	}

	material, ok := p.materials[b.material]
	if !ok {
		if b.material != defaultMaterialName {
			core.LogWarn("obj: material '%s' not found, using defaults", b.material)
		}
		material = defaultMaterialConfig(b.material)
	}
	return resources.MeshConfig{
		Name:     b.name,
		Vertices: b.vertices,
		Indices:  b.indices,
		Bounds:   bounds,
		Material: material,
	}
}
