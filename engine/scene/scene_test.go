package scene_test

import (
	"testing"

	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan/vulkantest"
	"github.com/spaghettifunk/penumbra/engine/resources"
	"github.com/spaghettifunk/penumbra/engine/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quad(name, material string) resources.MeshConfig {
	return resources.MeshConfig{
		Name: name,
		Vertices: []math.Vertex3D{
			{Position: math.NewVec3(-1, -1, 0)},
			{Position: math.NewVec3(1, -1, 0)},
			{Position: math.NewVec3(1, 1, 0)},
			{Position: math.NewVec3(-1, 1, 0)},
		},
		Indices:  []uint32{0, 1, 2, 2, 3, 0},
		Bounds:   math.NewAABBEmpty(),
		Material: resources.MaterialConfig{Name: material},
	}
}

func TestModelSharesMaterialsAndComputesBounds(t *testing.T) {
	device, driver := vulkantest.NewDevice(t)
	textures, err := scene.NewTextureCache(device)
	require.NoError(t, err)

	data := &resources.ModelResourceData{
		Name:   "quads",
		Meshes: []resources.MeshConfig{quad("a", "paint"), quad("b", "paint")},
	}
	data.Meshes[0].Material.TexturePaths[resources.TextureUseAlbedo] = "missing.png"

	model, err := scene.NewModel(device, textures, "quads.obj", data)
	require.NoError(t, err)
	require.Len(t, model.Meshes, 2)
	assert.Len(t, model.Materials, 1)
	assert.Same(t, model.Meshes[0].Material, model.Meshes[1].Material)

	material := model.Materials[0]
	assert.Zero(t, material.Flags, "missing texture falls back to the default")
	assert.Same(t, textures.Default(resources.TextureUseAlbedo), material.Textures[resources.TextureUseAlbedo])
	assert.Equal(t, math.NewVec4One(), material.UniformData().DiffuseColour)

	bounds := model.Bounds()
	assert.Equal(t, math.NewVec3(-1, -1, 0), bounds.Min)
	assert.Equal(t, math.NewVec3(1, 1, 0), bounds.Max)

	model.Destroy()
	textures.Destroy()
	require.NoError(t, device.Destroy())
	assert.Empty(t, driver.Live())
}

func TestModelCreationReleasesOnFailure(t *testing.T) {
	device, _ := vulkantest.NewDevice(t)
	textures, err := scene.NewTextureCache(device)
	require.NoError(t, err)
	baseline := device.Allocator.Outstanding()

	broken := quad("broken", "paint")
	broken.Indices = nil
	_, err = scene.NewModel(device, textures, "broken.obj", &resources.ModelResourceData{
		Name:   "broken",
		Meshes: []resources.MeshConfig{quad("ok", "paint"), broken},
	})
	require.Error(t, err)
	assert.Equal(t, baseline, device.Allocator.Outstanding())

	textures.Destroy()
	require.NoError(t, device.Destroy())
}

func TestTextureCacheUploadsOnce(t *testing.T) {
	device, _ := vulkantest.NewDevice(t)
	textures, err := scene.NewTextureCache(device)
	require.NoError(t, err)

	data := &resources.ImageResourceData{ChannelCount: 4, Width: 1, Height: 1, Pixels: []byte{1, 2, 3, 4}}
	first, err := textures.Upload("brick.png", data)
	require.NoError(t, err)
	second, err := textures.Upload("brick.png", data)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, textures.Len())

	material := scene.NewMaterial(resources.MaterialConfig{
		Name:         "brick",
		TexturePaths: [resources.TextureUseCount]string{resources.TextureUseAlbedo: "brick.png"},
	}, textures)
	assert.Equal(t, uint32(1), material.Flags)
	assert.Same(t, first, material.Textures[resources.TextureUseAlbedo])

	textures.Destroy()
	require.NoError(t, device.Destroy())
}

func TestSceneObjectIDs(t *testing.T) {
	s := scene.NewScene("test", core.NewIdentifierPool())

	a := s.AddGameObject("a", nil, nil)
	b := s.AddGameObject("b", nil, nil)
	assert.Equal(t, uint32(1), a.ObjectID)
	assert.Equal(t, uint32(2), b.ObjectID)
	assert.Same(t, b, s.ObjectByID(b.ObjectID))
	assert.Nil(t, s.ObjectByID(0))

	require.NoError(t, s.RemoveGameObject(a))
	assert.Nil(t, s.ObjectByID(1))
	assert.Error(t, s.RemoveGameObject(a))

	c := s.AddGameObject("c", nil, nil)
	assert.Equal(t, uint32(1), c.ObjectID, "released ids are reused")
}

func TestSceneDrawListAndBounds(t *testing.T) {
	device, _ := vulkantest.NewDevice(t)
	textures, err := scene.NewTextureCache(device)
	require.NoError(t, err)

	model, err := scene.NewModel(device, textures, "quad.obj", &resources.ModelResourceData{
		Name:   "quad",
		Meshes: []resources.MeshConfig{quad("q", "paint")},
	})
	require.NoError(t, err)

	s := scene.NewScene("test", core.NewIdentifierPool())
	left := s.AddGameObject("left", model, math.TransformFromPosition(math.NewVec3(-5, 0, 0)))
	right := s.AddGameObject("right", model, math.TransformFromPosition(math.NewVec3(5, 0, 0)))
	hidden := s.AddGameObject("hidden", model, math.TransformFromPosition(math.NewVec3(0, 50, 0)))
	hidden.Visible = false

	items := s.DrawList()
	require.Len(t, items, 2)
	assert.Equal(t, left.ObjectID, items[0].ObjectID)
	assert.Equal(t, right.ObjectID, items[1].ObjectID)
	assert.Same(t, model.Meshes[0], items[1].Mesh)

	bounds := s.Bounds()
	assert.InDelta(t, -6, bounds.Min.X, 1e-5)
	assert.InDelta(t, 6, bounds.Max.X, 1e-5)
	assert.InDelta(t, 1, bounds.Max.Y, 1e-5, "hidden objects do not count")

	assert.Len(t, s.Models(), 1)
	s.Destroy()
	textures.Destroy()
	require.NoError(t, device.Destroy())
}

func TestLineManager(t *testing.T) {
	lines := scene.NewLineManager(8)
	red := math.NewVec3(1, 0, 0)

	require.NoError(t, lines.AddLine(math.NewVec3Zero(), math.NewVec3One(), red))
	assert.Equal(t, 2, lines.Len())

	p0, p3 := math.NewVec3(0, 0, 0), math.NewVec3(3, 0, 0)
	require.NoError(t, lines.AddBezier(p0, math.NewVec3(1, 1, 0), math.NewVec3(2, 1, 0), p3, red, 3))
	vertices := lines.Vertices()
	require.Len(t, vertices, 8)
	assert.Equal(t, p0, vertices[2].Position)
	assert.True(t, p3.Compare(vertices[7].Position, 1e-5))

	err := lines.AddLine(math.NewVec3Zero(), math.NewVec3One(), red)
	assert.ErrorIs(t, err, core.ErrLineCapacity)
	assert.Equal(t, 8, lines.Len(), "a rejected segment adds nothing")

	lines.Clear()
	assert.Zero(t, lines.Len())
	assert.ErrorIs(t, lines.AddBox(math.AABB{Min: math.NewVec3Zero(), Max: math.NewVec3One()}, red), core.ErrLineCapacity)

	box := scene.NewLineManager(0)
	assert.Equal(t, scene.MaxLineVertices, box.Capacity())
	require.NoError(t, box.AddBox(math.AABB{Min: math.NewVec3Zero(), Max: math.NewVec3One()}, red))
	assert.Equal(t, 24, box.Len())
}
