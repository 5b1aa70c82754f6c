package engine_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spaghettifunk/penumbra/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sceneTOML = `
[application]
name = "sponza"
start_width = 1920
start_height = 1080

[renderer]
vsync = false
fence_timeout = "250ms"
shadow_map_size = 4096
clear_color = [0.1, 0.2, 0.3, 1.0]

[scene]
name = "atrium"

[[scene.models]]
name = "sponza"
path = "models/sponza.obj"
scale = [0.01, 0.01, 0.01]

[[scene.point_lights]]
position = [0.0, 2.0, 0.0]
colour = [1.0, 0.5, 0.25]
radius = 8.0
intensity = 3.0
`

func TestDecodeConfigOverridesDefaults(t *testing.T) {
	config, err := engine.DecodeConfig(strings.NewReader(sceneTOML))
	require.NoError(t, err)

	assert.Equal(t, "sponza", config.Application.Name)
	assert.Equal(t, uint32(1920), config.Application.StartWidth)
	assert.Equal(t, "info", config.Application.LogLevel, "untouched keys keep their default")

	assert.False(t, config.Renderer.VSync)
	assert.Equal(t, 250*time.Millisecond, config.Renderer.FenceTimeout.Duration)
	assert.Equal(t, uint32(4096), config.Renderer.ShadowMapSize)
	assert.Equal(t, float32(20), config.Renderer.ShadowOrthoSize)
	assert.Equal(t, [4]float32{0.1, 0.2, 0.3, 1}, config.Renderer.ClearColor)
	assert.Equal(t, 2, config.Renderer.FramesInFlight)

	require.Len(t, config.Scene.Models, 1)
	assert.Equal(t, "models/sponza.obj", config.Scene.Models[0].Path)
	require.Len(t, config.Scene.PointLights, 1)
	assert.Equal(t, float32(8), config.Scene.PointLights[0].Radius)
	assert.Equal(t, float32(1), config.Scene.Sun.Intensity)
}

func TestDecodeConfigRejects(t *testing.T) {
	for name, src := range map[string]string{
		"unknown key":        "[renderer]\nshadows = true\n",
		"frames in flight":   "[renderer]\nframes_in_flight = 3\n",
		"bad duration":       "[renderer]\nfence_timeout = \"soon\"\n",
		"zero timeout":       "[renderer]\nfence_timeout = \"0s\"\n",
		"zero shadow map":    "[renderer]\nshadow_map_size = 0\n",
		"model without path": "[[scene.models]]\nname = \"x\"\n",
		"malformed":          "[renderer\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := engine.DecodeConfig(strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	config, err := engine.LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultConfig(), config)
	assert.Equal(t, 5*time.Second, config.Renderer.FenceTimeout.Duration)

	path := filepath.Join(t.TempDir(), "penumbra.toml")
	require.NoError(t, os.WriteFile(path, []byte(sceneTOML), 0o644))
	config, err = engine.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "atrium", config.Scene.Name)
}

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, engine.DefaultConfig().Validate())
}
