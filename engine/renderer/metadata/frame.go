package metadata

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/math"
	"github.com/spaghettifunk/penumbra/engine/renderer/components"
	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/spaghettifunk/penumbra/engine/scene"
)

/**
 * @brief Everything a pass needs to record one frame. Built by the renderer
 * after the image is acquired and dropped when the frame is submitted.
 */
type FrameContext struct {
	/** @brief The frame slot, in [0, MAX_FRAMES_IN_FLIGHT). Selects per-frame resources. */
	FrameIndex uint32
	/** @brief The acquired swapchain image. Only the blit pass uses it. */
	ImageIndex    uint32
	DeltaTime     float32
	CommandBuffer *vulkan.VulkanCommandBuffer
	Scene         *scene.Scene
	Camera        *components.Camera
	DebugView     DebugView
	/** @brief The viewport extent the passes render at. */
	Extent vk.Extent2D
}

func (f *FrameContext) Aspect() float32 {
	if f.Extent.Height == 0 {
		return 1
	}
	return float32(f.Extent.Width) / float32(f.Extent.Height)
}

func (f *FrameContext) View() math.Mat4 {
	return f.Camera.GetView()
}

// Projection is the camera projection with the Vulkan Y flip applied.
func (f *FrameContext) Projection() math.Mat4 {
	proj := f.Camera.Projection(f.Aspect())
	proj.Data[5] *= -1
	return proj
}

// DrawList is the scene draw list, empty without a scene.
func (f *FrameContext) DrawList() []scene.DrawItem {
	if f.Scene == nil {
		return nil
	}
	return f.Scene.DrawList()
}

// RenderPacket is what the application hands the renderer once per frame.
type RenderPacket struct {
	DeltaTime float32
	Scene     *scene.Scene
	Camera    *components.Camera
}
