package scene

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
)

// DrawItem is one mesh draw: what the passes iterate each frame.
type DrawItem struct {
	Model    math.Mat4
	Mesh     *Mesh
	Set      vk.DescriptorSet
	ObjectID uint32
}

/**
 * @brief The scene graph: game objects, a directional light and point
 * lights. The renderer only reads it while recording a frame.
 */
type Scene struct {
	Name        string
	Objects     []*GameObject
	Light       DirectionalLight
	PointLights []PointLight

	ids *core.IdentifierPool
}

// NewScene creates an empty scene whose object ids come from ids.
func NewScene(name string, ids *core.IdentifierPool) *Scene {
	return &Scene{
		Name:  name,
		Light: NewDirectionalLight(),
		ids:   ids,
	}
}

// AddGameObject places model in the scene. A nil transform means identity.
func (s *Scene) AddGameObject(name string, model *Model, transform *math.Transform) *GameObject {
	if transform == nil {
		transform = math.TransformCreate()
	}
	obj := &GameObject{
		ID:        uuid.New(),
		Name:      name,
		Transform: transform,
		Model:     model,
		Visible:   true,
	}
	obj.ObjectID = s.ids.Acquire(obj)
	s.Objects = append(s.Objects, obj)
	return obj
}

// RemoveGameObject takes obj out of the scene and releases its id. The model
// is not destroyed since other objects may share it.
func (s *Scene) RemoveGameObject(obj *GameObject) error {
	for i, o := range s.Objects {
		if o != obj {
			continue
		}
		s.Objects = append(s.Objects[:i], s.Objects[i+1:]...)
		obj.Transform.Detach()
		return s.ids.Release(obj.ObjectID)
	}
	return fmt.Errorf("game object '%s' is not part of scene '%s'", obj.Name, s.Name)
}

// ObjectByID resolves a picking id back to its object.
func (s *Scene) ObjectByID(id uint32) *GameObject {
	if id == 0 {
		return nil
	}
	obj, ok := s.ids.Owner(id).(*GameObject)
	if !ok {
		return nil
	}
	for _, o := range s.Objects {
		if o == obj {
			return obj
		}
	}
	return nil
}

func (s *Scene) AddPointLight(light PointLight) {
	s.PointLights = append(s.PointLights, light)
}

// Bounds is the world space box around every visible object.
func (s *Scene) Bounds() math.AABB {
	out := math.NewAABBEmpty()
	for _, obj := range s.Objects {
		if !obj.Visible {
			continue
		}
		out = out.Merge(obj.WorldBounds())
	}
	return out
}

// DrawList flattens the visible objects into one item per mesh.
func (s *Scene) DrawList() []DrawItem {
	var items []DrawItem
	for _, obj := range s.Objects {
		if !obj.Visible || obj.Model == nil {
			continue
		}
		world := obj.Transform.WorldMatrix()
		for _, mesh := range obj.Model.Meshes {
			item := DrawItem{
				Model:    world,
				Mesh:     mesh,
				ObjectID: obj.ObjectID,
			}
			if mesh.Material != nil {
				item.Set = mesh.Material.Set
			}
			items = append(items, item)
		}
	}
	return items
}

// Models lists each distinct model referenced by the scene.
func (s *Scene) Models() []*Model {
	seen := make(map[*Model]struct{})
	var out []*Model
	for _, obj := range s.Objects {
		if obj.Model == nil {
			continue
		}
		if _, ok := seen[obj.Model]; ok {
			continue
		}
		seen[obj.Model] = struct{}{}
		out = append(out, obj.Model)
	}
	return out
}

// Destroy releases every object id and destroys each model once.
func (s *Scene) Destroy() {
	for _, model := range s.Models() {
		model.Destroy()
	}
	for _, obj := range s.Objects {
		if err := s.ids.Release(obj.ObjectID); err != nil {
			core.LogWarn(err.Error())
		}
	}
	s.Objects = nil
	s.PointLights = nil
}
