package metadata

import vk "github.com/goki/vulkan"

/** @brief Determines face culling mode during rendering. */
type FaceCullMode int

const (
	/** @brief No faces are culled. */
	FaceCullModeNone FaceCullMode = 0x0
	/** @brief Only front faces are culled. */
	FaceCullModeFront FaceCullMode = 0x1
	/** @brief Only back faces are culled. */
	FaceCullModeBack FaceCullMode = 0x2
	/** @brief Both front and back faces are culled. */
	FaceCullModeFrontAndBack FaceCullMode = 0x3
)

func (m FaceCullMode) VulkanCullMode() vk.CullModeFlagBits {
	switch m {
	case FaceCullModeFront:
		return vk.CullModeFrontBit
	case FaceCullModeBack:
		return vk.CullModeBackBit
	case FaceCullModeFrontAndBack:
		return vk.CullModeFrontAndBack
	}
	return vk.CullModeNone
}

/** @brief Selects which intermediate result the lighting pass outputs. */
type DebugView uint32

const (
	DebugViewNone DebugView = iota
	DebugViewAlbedo
	DebugViewNormal
	DebugViewSpecular
	DebugViewRoughness
	DebugViewMetalness
	DebugViewDepth
	DebugViewPosition
	DebugViewUV
	DebugViewDiffuseLighting
	DebugViewSpecularLighting
	DebugViewShadowMap
	debugViewCount
)

var debugViewNames = [debugViewCount]string{
	"none",
	"albedo",
	"normal",
	"specular",
	"roughness",
	"metalness",
	"depth",
	"position",
	"uv",
	"diffuse_lighting",
	"specular_lighting",
	"shadow_map",
}

func (v DebugView) String() string {
	if v >= debugViewCount {
		return "unknown"
	}
	return debugViewNames[v]
}

// Next cycles through the views, wrapping back to none.
func (v DebugView) Next() DebugView {
	return (v + 1) % debugViewCount
}

// ParseDebugView maps a name as returned by String back to its view.
func ParseDebugView(name string) (DebugView, bool) {
	for i, n := range debugViewNames {
		if n == name {
			return DebugView(i), true
		}
	}
	return DebugViewNone, false
}
