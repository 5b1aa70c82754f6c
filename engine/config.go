package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
)

// Duration decodes TOML strings such as "5s" or "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ApplicationConfig struct {
	// Window starting position x axis, if applicable.
	StartPosX uint32 `toml:"start_pos_x"`
	// Window starting position y axis, if applicable.
	StartPosY uint32 `toml:"start_pos_y"`
	// Window starting width, if applicable.
	StartWidth uint32 `toml:"start_width"`
	// Window starting height, if applicable.
	StartHeight uint32 `toml:"start_height"`
	// The application name used in windowing, if applicable.
	Name     string `toml:"name"`
	LogLevel string `toml:"log_level"`
}

type RendererConfig struct {
	FramesInFlight int  `toml:"frames_in_flight"`
	VSync          bool `toml:"vsync"`
	Validation     bool `toml:"validation"`
	// FenceTimeout bounds every wait on a frame fence.
	FenceTimeout    Duration   `toml:"fence_timeout"`
	ShadowMapSize   uint32     `toml:"shadow_map_size"`
	ShadowOrthoSize float32    `toml:"shadow_ortho_size"`
	ShadowDistance  float32    `toml:"shadow_distance"`
	ClearColor      [4]float32 `toml:"clear_color"`
	// ShaderDir holds compiled SPIR-V, relative to AssetsDir.
	ShaderDir string `toml:"shader_dir"`
	AssetsDir string `toml:"assets_dir"`
	// WatchAssets reloads pipelines when compiled shaders change on disk.
	WatchAssets  bool `toml:"watch_assets"`
	FlipTextures bool `toml:"flip_textures"`
	Workers      int  `toml:"workers"`
}

type ModelConfig struct {
	Name string `toml:"name"`
	// Path of the .obj file, relative to the assets directory.
	Path     string     `toml:"path"`
	Position [3]float32 `toml:"position"`
	// Rotation in degrees, applied as euler angles.
	Rotation [3]float32 `toml:"rotation"`
	Scale    [3]float32 `toml:"scale"`
	Spin     float32    `toml:"spin"`
}

type DirectionalLightConfig struct {
	Direction [3]float32 `toml:"direction"`
	Colour    [3]float32 `toml:"colour"`
	Intensity float32    `toml:"intensity"`
}

type PointLightConfig struct {
	Position  [3]float32 `toml:"position"`
	Colour    [3]float32 `toml:"colour"`
	Radius    float32    `toml:"radius"`
	Intensity float32    `toml:"intensity"`
}

type SceneConfig struct {
	Name        string                 `toml:"name"`
	Models      []ModelConfig          `toml:"models"`
	Sun         DirectionalLightConfig `toml:"sun"`
	PointLights []PointLightConfig     `toml:"point_lights"`
}

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Renderer    RendererConfig    `toml:"renderer"`
	Scene       SceneConfig       `toml:"scene"`
}

func DefaultConfig() Config {
	return Config{
		Application: ApplicationConfig{
			StartPosX:   100,
			StartPosY:   100,
			StartWidth:  1280,
			StartHeight: 720,
			Name:        "Penumbra",
			LogLevel:    "info",
		},
		Renderer: RendererConfig{
			FramesInFlight:  vulkan.MAX_FRAMES_IN_FLIGHT,
			VSync:           true,
			FenceTimeout:    Duration{5 * time.Second},
			ShadowMapSize:   2048,
			ShadowOrthoSize: 20,
			ShadowDistance:  50,
			ClearColor:      [4]float32{0, 0, 0, 1},
			ShaderDir:       "shaders",
			AssetsDir:       "assets",
			WatchAssets:     true,
		},
		Scene: SceneConfig{
			Name: "main",
			Sun: DirectionalLightConfig{
				Direction: [3]float32{-0.3, -1, -0.2},
				Colour:    [3]float32{1, 1, 1},
				Intensity: 1,
			},
		},
	}
}

/**
 * @brief Reads a TOML configuration on top of DefaultConfig. A missing file
 * yields the defaults; unknown keys are an error.
 */
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		core.LogInfo("No configuration at '%s', using defaults.", path)
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	config, err := DecodeConfig(f)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

func DecodeConfig(r io.Reader) (Config, error) {
	config := DefaultConfig()
	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&config); err != nil {
		return Config{}, err
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	r := c.Renderer
	switch {
	case r.FramesInFlight != vulkan.MAX_FRAMES_IN_FLIGHT:
		return fmt.Errorf("renderer.frames_in_flight must be %d, got %d", vulkan.MAX_FRAMES_IN_FLIGHT, r.FramesInFlight)
	case r.FenceTimeout.Duration <= 0:
		return fmt.Errorf("renderer.fence_timeout must be positive")
	case r.ShadowMapSize == 0:
		return fmt.Errorf("renderer.shadow_map_size must be greater than 0")
	case r.ShadowOrthoSize <= 0 || r.ShadowDistance <= 0:
		return fmt.Errorf("renderer.shadow_ortho_size and renderer.shadow_distance must be positive")
	case r.AssetsDir == "":
		return fmt.Errorf("renderer.assets_dir is empty")
	case c.Application.StartWidth == 0 || c.Application.StartHeight == 0:
		return fmt.Errorf("application window size must be non-zero")
	}
	for i, m := range c.Scene.Models {
		if m.Path == "" {
			return fmt.Errorf("scene.models[%d] has no path", i)
		}
	}
	return nil
}
