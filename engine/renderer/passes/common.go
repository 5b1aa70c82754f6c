// Package passes holds the deferred frame graph: depth pre-pass, geometry,
// shadow, lighting, line overlay and blit. Every pass owns its descriptor
// pool, layouts, pipeline, per-frame sets and uniform buffers, and records
// against a metadata.FrameContext.
package passes

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/spaghettifunk/penumbra/engine/renderer/metadata"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/spaghettifunk/penumbra/engine/scene"
)

// ShaderSource returns SPIR-V for a shader name such as "geometry.vert".
type ShaderSource interface {
	Load(name string) ([]uint32, error)
}

// Config is shared by every pass constructor.
type Config struct {
	Device *vulkan.Device
	// Frames is the number of frames in flight; one copy of every per-frame
	// resource is created per frame.
	Frames  int
	Extent  vk.Extent2D
	Shaders ShaderSource
	// ClearColour is what the lighting pass clears to where no geometry was
	// drawn.
	ClearColour [4]float32
}

func (c Config) validate(pass string) error {
	switch {
	case c.Device == nil:
		return fmt.Errorf("%s: no device", pass)
	case c.Shaders == nil:
		return fmt.Errorf("%s: no shader source", pass)
	case c.Frames < 1 || c.Frames > vulkan.MAX_FRAMES_IN_FLIGHT:
		return fmt.Errorf("%s: %d frames in flight, want 1..%d", pass, c.Frames, vulkan.MAX_FRAMES_IN_FLIGHT)
	case c.Extent.Width == 0 || c.Extent.Height == 0:
		return fmt.Errorf("%s: empty extent %dx%d", pass, c.Extent.Width, c.Extent.Height)
	}
	return nil
}

// CameraUniform is the {view, proj} block shared by the scene passes.
type CameraUniform struct {
	View       math.Mat4
	Projection math.Mat4
}

// ObjectPushConstant is pushed once per draw by the depth, geometry and
// shadow passes.
type ObjectPushConstant struct {
	Model    math.Mat4
	ObjectID uint32
	_        [3]uint32
}

const objectPushStages = vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit)

func objectPushRange() []vk.PushConstantRange {
	var push ObjectPushConstant
	return []vk.PushConstantRange{{
		StageFlags: objectPushStages,
		Offset:     0,
		Size:       uint32(len(vulkan.AsBytes(&push))),
	}}
}

// loadShaders fetches name.vert and name.frag.
func loadShaders(shaders ShaderSource, name string) (vert, frag []uint32, err error) {
	if vert, err = shaders.Load(name + ".vert"); err != nil {
		return nil, nil, fmt.Errorf("shader %s.vert: %w", name, err)
	}
	if frag, err = shaders.Load(name + ".frag"); err != nil {
		return nil, nil, fmt.Errorf("shader %s.frag: %w", name, err)
	}
	return vert, frag, nil
}

func checkFrame(pass string, frame *metadata.FrameContext, frames int) error {
	if frame == nil || frame.CommandBuffer == nil {
		return fmt.Errorf("%s: frame has no command buffer", pass)
	}
	if int(frame.FrameIndex) >= frames {
		err := fmt.Errorf("%s: frame %d of %d: %w", pass, frame.FrameIndex, frames, core.ErrFrameSlotOutOfRange)
		core.LogError(err.Error())
		return err
	}
	return nil
}

func checkSlot(pass string, frame uint32, frames int) error {
	if int(frame) >= frames {
		err := fmt.Errorf("%s: frame %d of %d: %w", pass, frame, frames, core.ErrFrameSlotOutOfRange)
		core.LogError(err.Error())
		return err
	}
	return nil
}

func newUniformBuffers(device *vulkan.Device, frames int, size vk.DeviceSize) ([]*vulkan.Buffer, error) {
	out := make([]*vulkan.Buffer, 0, frames)
	for i := 0; i < frames; i++ {
		b, err := vulkan.NewUniformBuffer(device, size)
		if err != nil {
			destroyBuffers(out)
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func destroyBuffers(buffers []*vulkan.Buffer) {
	for _, b := range buffers {
		if b != nil {
			b.Destroy()
		}
	}
}

func destroyImages(images []*vulkan.Image) {
	for _, img := range images {
		if img != nil {
			img.Destroy()
		}
	}
}

// newTargets creates one viewport sized image per frame. Either all images
// are returned or none.
func newTargets(device *vulkan.Device, frames int, config vulkan.ImageConfig) ([]*vulkan.Image, error) {
	out := make([]*vulkan.Image, 0, frames)
	base := config.Name
	for i := 0; i < frames; i++ {
		config.Name = fmt.Sprintf("%s_%d", base, i)
		img, err := vulkan.NewImage(device, config)
		if err != nil {
			destroyImages(out)
			return nil, err
		}
		out = append(out, img)
	}
	return out, nil
}

// drawObjects records one draw per item with the object push constant. When
// materialSet is set, items without a prepared material are skipped and the
// material set is bound at set index 1.
func drawObjects(driver vulkan.Driver, cb vk.CommandBuffer, pipeline *vulkan.Pipeline, items []scene.DrawItem, materialSet bool) int {
	drawn := 0
	for _, item := range items {
		if materialSet {
			if item.Set == nil {
				continue
			}
			pipeline.BindDescriptorSets(cb, 1, item.Set)
		}
		push := ObjectPushConstant{Model: item.Model, ObjectID: item.ObjectID}
		pipeline.PushConstants(cb, objectPushStages, vulkan.AsBytes(&push))
		item.Mesh.Draw(driver, cb)
		drawn++
	}
	return drawn
}
