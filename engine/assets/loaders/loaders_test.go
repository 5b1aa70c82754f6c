package loaders_test

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spaghettifunk/penumbra/engine/assets/loaders"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/spaghettifunk/penumbra/engine/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quadOBJ = `# a quad and a triangle
mtllib scene.mtl
v -1 -1 0
v 1 -1 0
v 1 1 0
v -1 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 0 1
o quad
usemtl brick
f 1/1/1 2/2/1 3/3/1 4/4/1
o tri
usemtl missing
f -4 -3 -2
`

const sceneMTL = `newmtl brick
Kd 0.5 0.25 1
d 0.5
Ns 32
map_Kd textures/brick.png
map_Bump -bm 1.0 textures/brick_n.png
map_Ks textures\brick_s.png
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseOBJ(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scene.mtl", sceneMTL)

	data, err := loaders.ParseOBJ(strings.NewReader(quadOBJ), dir, "scene")
	require.NoError(t, err)
	require.Len(t, data.Meshes, 2)

	quad := data.Meshes[0]
	assert.Equal(t, "quad", quad.Name)
	assert.Len(t, quad.Vertices, 4)
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, quad.Indices, "fan triangulation")
	assert.Equal(t, math.NewVec3(-1, -1, 0), quad.Bounds.Min)
	assert.Equal(t, math.NewVec3(1, 1, 0), quad.Bounds.Max)
	assert.Equal(t, float32(1), quad.Vertices[0].Texcoord.Y, "v is flipped")
	for _, v := range quad.Vertices {
		assert.InDelta(t, 1, v.Tangent.Length(), 1e-4)
	}

	assert.Equal(t, "brick", quad.Material.Name)
	assert.Equal(t, math.NewVec4(0.5, 0.25, 1, 0.5), quad.Material.DiffuseColour)
	assert.Equal(t, float32(32), quad.Material.Shininess)
	assert.Equal(t, filepath.Join(dir, "textures", "brick.png"), quad.Material.TexturePaths[resources.TextureUseAlbedo])
	assert.Equal(t, filepath.Join(dir, "textures", "brick_n.png"), quad.Material.TexturePaths[resources.TextureUseNormal])
	assert.Equal(t, filepath.Join(dir, "textures", "brick_s.png"), quad.Material.TexturePaths[resources.TextureUseSpecular])

	tri := data.Meshes[1]
	assert.Equal(t, "tri", tri.Name)
	assert.Equal(t, "missing", tri.Material.Name)
	assert.Empty(t, tri.Material.TexturePaths[resources.TextureUseAlbedo])
	assert.Equal(t, math.NewVec3(0, 0, 1), tri.Vertices[0].Normal, "normals generated when absent")

	assert.Equal(t, []string{quad.Material.TexturePaths[0], quad.Material.TexturePaths[1], quad.Material.TexturePaths[2]}, data.TexturePaths())
}

func TestParseOBJFlatNormalsSplitSharedCorners(t *testing.T) {
	src := "v 0 0 0\nv 1 0 0\nv 0 1 0\nv 0 0 1\nv 1 1 0\nf 1 2 3\nf 1 3 4\nf 2 5 3\n"
	data, err := loaders.ParseOBJ(strings.NewReader(src), t.TempDir(), "corner")
	require.NoError(t, err)
	require.Len(t, data.Meshes, 1)

	mesh := data.Meshes[0]
	require.Len(t, mesh.Indices, 9)
	// The two coplanar faces share an edge, the third face is folded away.
	assert.Len(t, mesh.Vertices, 7)
	assert.Equal(t, math.NewVec3(0, 0, 1), mesh.Vertices[mesh.Indices[0]].Normal)
	assert.Equal(t, math.NewVec3(1, 0, 0), mesh.Vertices[mesh.Indices[3]].Normal)
	assert.Equal(t, math.NewVec3(0, 0, 1), mesh.Vertices[mesh.Indices[6]].Normal)
	assert.Equal(t, mesh.Indices[1], mesh.Indices[6], "shared corner of the coplanar faces is welded")
}

func TestParseOBJErrors(t *testing.T) {
	for name, src := range map[string]string{
		"out of range": "v 0 0 0\nf 1 2 3\n",
		"zero index":   "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 0 1 2\n",
		"short face":   "v 0 0 0\nv 1 0 0\nf 1 2\n",
		"bad float":    "v 0 zero 0\n",
		"no faces":     "v 0 0 0\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := loaders.ParseOBJ(strings.NewReader(src), t.TempDir(), "bad")
			assert.Error(t, err)
		})
	}
}

func TestModelLoaderMissingLibraryFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tri.obj", "mtllib nowhere.mtl\nv 0 0 0\nv 1 0 0\nv 0 1 0\nusemtl red\nf 1 2 3\n")

	res, err := (&loaders.ModelLoader{}).Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, resources.ResourceTypeModel, res.Type)
	assert.Equal(t, "tri", res.Name)
	data := res.Data.(*resources.ModelResourceData)
	require.Len(t, data.Meshes, 1)
	assert.Equal(t, "red", data.Meshes[0].Material.Name)
	assert.Equal(t, math.NewVec4(1, 1, 1, 1), data.Meshes[0].Material.DiffuseColour)
}

func TestParseMaterialLibraryRequiresNewmtl(t *testing.T) {
	_, err := loaders.ParseMaterialLibrary(strings.NewReader("Kd 1 1 1\n"), "")
	assert.Error(t, err)

	configs, err := loaders.ParseMaterialLibrary(strings.NewReader("newmtl a\nTr 0.25\nillum 2\nnewmtl b\n"), "")
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, float32(0.75), configs[0].DiffuseColour.W)
	assert.Equal(t, "b", configs[1].Name)
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{G: 255, A: 255})
	img.Set(0, 1, color.NRGBA{B: 255, A: 255})
	img.Set(1, 1, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeImage(t *testing.T) {
	data, err := loaders.DecodeImage(bytes.NewReader(encodePNG(t)), false)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), data.Width)
	assert.Equal(t, uint32(2), data.Height)
	assert.Equal(t, uint8(4), data.ChannelCount)
	require.Len(t, data.Pixels, 16)
	assert.Equal(t, []uint8{255, 0, 0, 255}, data.Pixels[0:4])
	assert.Equal(t, []uint8{0, 0, 255, 255}, data.Pixels[8:12])

	flipped, err := loaders.DecodeImage(bytes.NewReader(encodePNG(t)), true)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 0, 255, 255}, flipped.Pixels[0:4])
	assert.Equal(t, []uint8{255, 0, 0, 255}, flipped.Pixels[8:12])

	_, err = loaders.DecodeImage(strings.NewReader("not an image"), false)
	assert.Error(t, err)
}

func TestImageLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tex.png")
	require.NoError(t, os.WriteFile(path, encodePNG(t), 0o644))

	res, err := (&loaders.ImageLoader{}).Load(path, &resources.ImageResourceParams{FlipY: true})
	require.NoError(t, err)
	assert.Equal(t, resources.ResourceTypeImage, res.Type)
	assert.Equal(t, uint64(16), res.DataSize)

	require.NoError(t, (&loaders.ImageLoader{}).Unload(res))
	assert.Nil(t, res.Data)
}

func TestShaderLoader(t *testing.T) {
	dir := t.TempDir()
	code := []uint32{0x07230203, 0x00010000, 7}
	buf := make([]byte, 4*len(code))
	for i, w := range code {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	path := filepath.Join(dir, "blit.frag.spv")
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	res, err := (&loaders.ShaderLoader{}).Load(path, nil)
	require.NoError(t, err)
	shader := res.Data.(*resources.ShaderResourceData)
	assert.Equal(t, "blit.frag", shader.Name)
	assert.Equal(t, code, shader.Code)

	bad := filepath.Join(dir, "bad.spv")
	require.NoError(t, os.WriteFile(bad, []byte{1, 2, 3, 4}, 0o644))
	_, err = (&loaders.ShaderLoader{}).Load(bad, nil)
	assert.Error(t, err)
}

func TestBinaryLoader(t *testing.T) {
	path := writeFile(t, t.TempDir(), "notes.txt", "hello")
	res, err := (&loaders.BinaryLoader{Type: resources.ResourceTypeText}).Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, resources.ResourceTypeText, res.Type)
	assert.Equal(t, []byte("hello"), res.Data)
}
