package engine_test

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine"
	"github.com/spaghettifunk/penumbra/engine/assets"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/spaghettifunk/penumbra/engine/renderer"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan/vulkantest"
	"github.com/spaghettifunk/penumbra/engine/resources"
	"github.com/spaghettifunk/penumbra/engine/scene"
	"github.com/spaghettifunk/penumbra/engine/systems"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func newAssetTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, pass := range []string{"depth", "geometry", "shadow", "lighting", "lines", "blit"} {
		for _, stage := range []string{"vert", "frag"} {
			write(t, filepath.Join(root, "shaders", pass+"."+stage+".spv"), []byte{0x03, 0x02, 0x23, 0x07})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	write(t, filepath.Join(root, "models", "crate.png"), buf.Bytes())
	write(t, filepath.Join(root, "models", "crate.mtl"), []byte("newmtl wood\nKd 1 1 1\nmap_Kd crate.png\n"))
	write(t, filepath.Join(root, "models", "crate.obj"), []byte(
		"mtllib crate.mtl\nv -1 -1 0\nv 1 -1 0\nv 1 1 0\nv -1 1 0\nusemtl wood\nf 1 2 3 4\n"))
	return root
}

func newRenderer(t *testing.T, sm *systems.SystemManager) *renderer.Renderer {
	t.Helper()
	device, _ := vulkantest.NewDevice(t)
	r, err := renderer.New(device, renderer.Config{
		Extent:  vk.Extent2D{Width: 800, Height: 600},
		Shaders: sm.Shaders,
	})
	require.NoError(t, err)
	return r
}

func TestLoadScene(t *testing.T) {
	sm, err := systems.NewSystemManager(systems.SystemManagerConfig{AssetsDir: newAssetTree(t), Workers: 2})
	require.NoError(t, err)
	defer sm.Shutdown()
	r := newRenderer(t, sm)
	defer r.Destroy()

	config := engine.DefaultConfig().Scene
	config.Models = []engine.ModelConfig{
		{Name: "left", Path: "models/crate.obj", Position: [3]float32{-2, 0, 0}},
		{Path: "models/crate.obj", Position: [3]float32{2, 0, 0}, Scale: [3]float32{2, 2, 2}, Spin: 45},
	}
	config.PointLights = []engine.PointLightConfig{{Position: [3]float32{0, 3, 0}, Colour: [3]float32{1, 1, 1}, Radius: 5, Intensity: 2}}

	s, spinners, err := engine.LoadScene(r, sm, config)
	require.NoError(t, err)
	defer s.Destroy()

	require.Len(t, s.Objects, 2)
	assert.Equal(t, "left", s.Objects[0].Name)
	assert.Equal(t, "crate", s.Objects[1].Name, "unnamed objects take the model name")
	assert.Equal(t, math.NewVec3(2, 2, 2), s.Objects[1].Transform.LocalScale())
	assert.Equal(t, math.NewVec3One(), s.Objects[0].Transform.LocalScale())
	require.Len(t, s.PointLights, 1)
	assert.Equal(t, float32(5), s.PointLights[0].Radius)
	assert.InDelta(t, 1, s.Light.Direction.Length(), 1e-5)

	assert.Equal(t, 1, r.Textures().Len(), "the shared texture is uploaded once")
	assert.Equal(t, 0, sm.Textures.Pending())
	for _, m := range s.Objects[0].Model.Materials {
		assert.True(t, m.IsPrepared())
	}

	require.Len(t, spinners, 1)
	assert.Same(t, s.Objects[1], spinners[0].Object)
	before := s.Objects[1].Transform.LocalRotation()
	spinners[0].Update(1)
	assert.NotEqual(t, before, s.Objects[1].Transform.LocalRotation())
}

func TestLoadSceneFailsOnMissingModel(t *testing.T) {
	sm, err := systems.NewSystemManager(systems.SystemManagerConfig{AssetsDir: newAssetTree(t), Workers: 1})
	require.NoError(t, err)
	defer sm.Shutdown()
	r := newRenderer(t, sm)
	defer r.Destroy()

	config := engine.DefaultConfig().Scene
	config.Models = []engine.ModelConfig{{Path: "models/missing.obj"}}
	_, _, err = engine.LoadScene(r, sm, config)
	assert.Error(t, err)

	config.Models = []engine.ModelConfig{{Path: "models/crate.png"}}
	_, _, err = engine.LoadScene(r, sm, config)
	assert.Error(t, err, "not a model")
}

func TestHandleAssetEvents(t *testing.T) {
	root := newAssetTree(t)
	am, err := assets.NewAssetManager(root)
	require.NoError(t, err)
	defer am.Shutdown()
	shaders, err := systems.NewShaderSystem(am, "shaders")
	require.NoError(t, err)

	events := make(chan assets.AssetEvent, 8)
	events <- assets.AssetEvent{Path: filepath.Join(root, "shaders", "blit.frag.spv"), Type: resources.ResourceTypeShader, Op: assets.AssetModified}
	events <- assets.AssetEvent{Path: filepath.Join(root, "shaders", "depth.vert.spv"), Type: resources.ResourceTypeShader, Op: assets.AssetCreated}
	events <- assets.AssetEvent{Path: filepath.Join(root, "models", "crate.png"), Type: resources.ResourceTypeImage, Op: assets.AssetModified}

	reloads := 0
	assert.Equal(t, 3, engine.HandleAssetEvents(events, shaders, func() { reloads++ }))
	assert.Equal(t, 1, reloads, "one reload per drain")

	assert.Equal(t, 0, engine.HandleAssetEvents(events, shaders, func() { reloads++ }), "does not block when empty")

	events <- assets.AssetEvent{Path: filepath.Join(root, "models", "crate.obj"), Type: resources.ResourceTypeModel}
	close(events)
	assert.Equal(t, 1, engine.HandleAssetEvents(events, shaders, func() { reloads++ }))
	assert.Equal(t, 1, reloads)
}

func TestSpinnerRotatesAroundUp(t *testing.T) {
	obj := &scene.GameObject{Transform: math.TransformCreate()}
	s := &engine.Spinner{Object: obj, Speed: 90}
	s.Update(1)
	v := obj.Transform.LocalRotation().Rotate(math.NewVec3(1, 0, 0))
	assert.InDelta(t, 0, v.Y, 1e-5)
	assert.InDelta(t, 1, math.NewVec3(v.X, 0, v.Z).Length(), 1e-5)
	assert.InDelta(t, 0, v.X, 1e-5)
}
