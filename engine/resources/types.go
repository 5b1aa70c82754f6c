package resources

import "github.com/spaghettifunk/penumbra/engine/math"

type ResourceType int

/** @brief Pre-defined resource types. */
const (
	/** @brief Text resource type. */
	ResourceTypeText ResourceType = iota
	/** @brief Binary resource type. */
	ResourceTypeBinary
	/** @brief Image resource type. */
	ResourceTypeImage
	/** @brief Material library resource type (.mtl). */
	ResourceTypeMaterial
	/** @brief Compiled SPIR-V shader resource type. */
	ResourceTypeShader
	/** @brief Model resource type (collection of mesh configs). */
	ResourceTypeModel
	/** @brief Bitmap font resource type. */
	ResourceTypeBitmapFont
	/** @brief Unknown or unsupported files. */
	ResourceTypeUnknown
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeText:
		return "text"
	case ResourceTypeBinary:
		return "binary"
	case ResourceTypeImage:
		return "image"
	case ResourceTypeMaterial:
		return "material"
	case ResourceTypeShader:
		return "shader"
	case ResourceTypeModel:
		return "model"
	case ResourceTypeBitmapFont:
		return "bitmap_font"
	}
	return "unknown"
}

/**
 * @brief A generic structure for a resource. All resource loaders
 * load data into these.
 */
type Resource struct {
	/** @brief The type of the resource, which selects its loader. */
	Type ResourceType
	/** @brief The name of the resource. */
	Name string
	/** @brief The full file path of the resource. */
	FullPath string
	/** @brief The size of the resource data in bytes. */
	DataSize uint64
	/** @brief The resource data. */
	Data interface{}
}

/**
 * @brief A structure to hold image resource data. Pixels are always
 * tightly packed RGBA8.
 */
type ImageResourceData struct {
	/** @brief The number of channels. */
	ChannelCount uint8
	/** @brief The width of the image. */
	Width uint32
	/** @brief The height of the image. */
	Height uint32
	/** @brief The pixel data of the image. */
	Pixels []uint8
}

/** @brief Parameters used when loading an image. */
type ImageResourceParams struct {
	/** @brief Indicates if the image should be flipped on the y-axis when loaded. */
	FlipY bool
}

/** @brief The slot a texture occupies in a material. */
type TextureUse int

const (
	TextureUseAlbedo TextureUse = iota
	TextureUseNormal
	TextureUseSpecular
	TextureUseBump
	TextureUseCount
)

func (u TextureUse) String() string {
	switch u {
	case TextureUseAlbedo:
		return "albedo"
	case TextureUseNormal:
		return "normal"
	case TextureUseSpecular:
		return "specular"
	case TextureUseBump:
		return "bump"
	}
	return "unknown"
}

/**
 * @brief Material configuration as read from a material library.
 * Empty texture paths fall back to the renderer defaults.
 */
type MaterialConfig struct {
	Name          string
	DiffuseColour math.Vec4
	Shininess     float32
	TexturePaths  [TextureUseCount]string
}

/** @brief The geometry and material of one mesh of a model. */
type MeshConfig struct {
	Name     string
	Vertices []math.Vertex3D
	Indices  []uint32
	Bounds   math.AABB
	Material MaterialConfig
}

/** @brief The result of loading a model file. */
type ModelResourceData struct {
	Name   string
	Meshes []MeshConfig
}

// Bounds is the union of the mesh bounds.
func (m *ModelResourceData) Bounds() math.AABB {
	out := math.NewAABBEmpty()
	for _, mesh := range m.Meshes {
		out = out.Merge(mesh.Bounds)
	}
	return out
}

// TexturePaths lists every distinct texture path referenced by the model's
// materials.
func (m *ModelResourceData) TexturePaths() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, mesh := range m.Meshes {
		for _, p := range mesh.Material.TexturePaths {
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

/** @brief Compiled shader code. */
type ShaderResourceData struct {
	Name string
	Code []uint32
}

type FontGlyph struct {
	Codepoint rune
	X         uint16
	Y         uint16
	Width     uint16
	Height    uint16
	XOffset   int16
	YOffset   int16
	XAdvance  int16
	PageID    uint8
}

type FontKerning struct {
	Codepoint0 rune
	Codepoint1 rune
	Amount     int16
}

/** @brief A bitmap font description and the paths of its atlas pages. */
type BitmapFontResourceData struct {
	Face       string
	Size       int
	LineHeight int
	Baseline   int
	AtlasSizeX int
	AtlasSizeY int
	Pages      []string
	Glyphs     []FontGlyph
	Kernings   []FontKerning
}
