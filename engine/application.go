package engine

import (
	"fmt"

	"github.com/spaghettifunk/penumbra/engine/assets"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/spaghettifunk/penumbra/engine/renderer"
	"github.com/spaghettifunk/penumbra/engine/resources"
	"github.com/spaghettifunk/penumbra/engine/scene"
	"github.com/spaghettifunk/penumbra/engine/systems"
)

// Spinner rotates a game object around the world up axis every frame.
type Spinner struct {
	Object *scene.GameObject
	// Speed in degrees per second.
	Speed float32
}

func (s *Spinner) Update(deltaTime float32) {
	rotation := math.NewQuatFromAxisAngle(math.NewVec3Up(), math.DegToRad(s.Speed*deltaTime), true)
	t := s.Object.Transform
	t.SetLocalRotation(rotation.Mul(t.LocalRotation()))
}

func vec3(v [3]float32) math.Vec3 {
	return math.NewVec3(v[0], v[1], v[2])
}

/**
 * @brief Builds the scene described by config. Model files are parsed
 * first, their textures decoded on the job system and uploaded, then the
 * meshes are uploaded and the materials prepared. A model that fails to
 * load aborts the whole scene.
 */
func LoadScene(r *renderer.Renderer, sm *systems.SystemManager, config SceneConfig) (*scene.Scene, []*Spinner, error) {
	type parsed struct {
		config ModelConfig
		path   string
		data   *resources.ModelResourceData
	}
	models := make([]parsed, 0, len(config.Models))
	for _, mc := range config.Models {
		res, err := sm.Assets.Load(mc.Path, nil)
		if err != nil {
			return nil, nil, err
		}
		data, ok := res.Data.(*resources.ModelResourceData)
		if !ok {
			return nil, nil, fmt.Errorf("%s is a %s asset, not a model", mc.Path, res.Type)
		}
		if err := sm.Textures.Request(data.TexturePaths()...); err != nil {
			return nil, nil, err
		}
		models = append(models, parsed{config: mc, path: res.FullPath, data: data})
	}

	sm.Textures.Wait()
	if _, err := sm.Textures.Update(r.Textures()); err != nil {
		return nil, nil, err
	}

	s := r.NewScene(config.Name)
	var spinners []*Spinner
	for _, m := range models {
		model, err := scene.NewModel(r.Device(), r.Textures(), m.path, m.data)
		if err != nil {
			s.Destroy()
			return nil, nil, err
		}
		if err := r.PrepareModel(model); err != nil {
			model.Destroy()
			s.Destroy()
			return nil, nil, err
		}

		name := m.config.Name
		if name == "" {
			name = m.data.Name
		}
		scale := vec3(m.config.Scale)
		if m.config.Scale == [3]float32{} {
			scale = math.NewVec3One()
		}
		transform := math.TransformFromPosition(vec3(m.config.Position))
		transform.SetLocalRotationEuler(m.config.Rotation[0], m.config.Rotation[1], m.config.Rotation[2])
		transform.SetLocalScale(scale)

		obj := s.AddGameObject(name, model, transform)
		if m.config.Spin != 0 {
			spinners = append(spinners, &Spinner{Object: obj, Speed: m.config.Spin})
		}
	}

	if dir := vec3(config.Sun.Direction); dir.Length() > 0 {
		s.Light.Direction = dir.Normalized()
	}
	s.Light.Colour = vec3(config.Sun.Colour)
	s.Light.Intensity = config.Sun.Intensity
	for _, pl := range config.PointLights {
		s.AddPointLight(scene.PointLight{
			Position:  vec3(pl.Position),
			Radius:    pl.Radius,
			Colour:    vec3(pl.Colour),
			Intensity: pl.Intensity,
		})
	}

	core.LogInfo("Scene '%s' loaded: %d objects, %d point lights.", s.Name, len(s.Objects), len(s.PointLights))
	return s, spinners, nil
}

/**
 * @brief Drains pending asset events without blocking. Any change to a
 * compiled shader requests one pipeline reload. Returns the number of
 * events handled.
 */
func HandleAssetEvents(events <-chan assets.AssetEvent, shaders *systems.ShaderSystem, reload func()) int {
	handled := 0
	reloadRequested := false
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return handled
			}
			handled++
			switch {
			case shaders.IsShader(event):
				core.LogInfo("Shader '%s' %s, reloading pipelines.", event.Path, event.Op)
				if !reloadRequested {
					reload()
					reloadRequested = true
				}
			case event.Type == resources.ResourceTypeImage:
				// Textures are uploaded once; a changed file is picked up on
				// the next scene load.
				core.LogDebug("Texture '%s' %s.", event.Path, event.Op)
			default:
				core.LogDebug("Asset '%s' %s.", event.Path, event.Op)
			}
		default:
			return handled
		}
	}
}
