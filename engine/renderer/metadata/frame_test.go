package metadata

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/renderer/components"
	"github.com/stretchr/testify/assert"
)

func TestDebugViewCycle(t *testing.T) {
	assert.Equal(t, DebugViewAlbedo, DebugViewNone.Next())
	assert.Equal(t, DebugViewNone, DebugViewShadowMap.Next())
	assert.Equal(t, "diffuse_lighting", DebugViewDiffuseLighting.String())

	view, ok := ParseDebugView("shadow_map")
	assert.True(t, ok)
	assert.Equal(t, DebugViewShadowMap, view)
	_, ok = ParseDebugView("bogus")
	assert.False(t, ok)
}

func TestFrameContextProjectionFlipsY(t *testing.T) {
	camera := components.NewCamera()
	frame := FrameContext{Camera: camera, Extent: vk.Extent2D{Width: 800, Height: 600}}

	raw := camera.Projection(frame.Aspect())
	flipped := frame.Projection()
	assert.Equal(t, -raw.Data[5], flipped.Data[5])
	assert.Equal(t, raw.Data[0], flipped.Data[0])
	assert.Empty(t, frame.DrawList())
}

func TestFaceCullMode(t *testing.T) {
	assert.Equal(t, vk.CullModeBackBit, FaceCullModeBack.VulkanCullMode())
	assert.Equal(t, vk.CullModeNone, FaceCullModeNone.VulkanCullMode())
}
