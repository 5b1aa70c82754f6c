package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/math"
)

type PipelineConfig struct {
	/** @brief Used in log messages only. */
	Name string
	/** @brief The renderpass the pipeline is used with. */
	RenderPass *RenderPass
	/** @brief SPIR-V words for the vertex and fragment stages. */
	VertexCode   []uint32
	FragmentCode []uint32
	/** @brief The stride of the vertex data. Zero disables vertex input. */
	Stride uint32
	/** @brief An array of attributes. */
	Attributes []vk.VertexInputAttributeDescription
	/** @brief Descriptor set layouts in set order. */
	DescriptorSetLayouts []*DescriptorSetLayout
	PushConstantRanges   []vk.PushConstantRange
	Topology             vk.PrimitiveTopology
	CullMode             vk.CullModeFlagBits
	DepthTest            bool
	DepthWrite           bool
	DepthCompareOp       vk.CompareOp
	/** @brief Enables alpha blending on every color attachment. */
	Blend       bool
	IsWireframe bool
}

/**
 * @brief Holds a Vulkan pipeline and its layout.
 */
type Pipeline struct {
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	Layout vk.PipelineLayout

	driver Driver
}

func NewGraphicsPipeline(device *Device, config PipelineConfig) (*Pipeline, error) {
	driver := device.Driver
	out := &Pipeline{driver: driver}

	vertexStage, err := NewShaderStage(driver, config.VertexCode, vk.ShaderStageVertexBit)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", config.Name, err)
	}
	defer vertexStage.Destroy(driver)
	fragmentStage, err := NewShaderStage(driver, config.FragmentCode, vk.ShaderStageFragmentBit)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", config.Name, err)
	}
	defer fragmentStage.Destroy(driver)

	// Viewport and scissor are dynamic.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	// Rasterizer
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(config.CullMode),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	if config.IsWireframe {
		rasterizerCreateInfo.PolygonMode = vk.PolygonModeLine
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	// Depth and stencil testing.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       vk.False,
		DepthWriteEnable:      vk.False,
		DepthCompareOp:        config.DepthCompareOp,
		DepthBoundsTestEnable: vk.False,
		StencilTestEnable:     vk.False,
		MinDepthBounds:        0.0,
		MaxDepthBounds:        1.0,
	}
	if config.DepthTest {
		depthStencil.DepthTestEnable = vk.True
	}
	if config.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	colorCount := 0
	if config.RenderPass != nil {
		colorCount = config.RenderPass.ColorAttachmentCount()
	}
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, colorCount)
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vk.False,
			SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
			DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorOne,
			DstAlphaBlendFactor: vk.BlendFactorZero,
			AlphaBlendOp:        vk.BlendOpAdd,
			ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
				vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
		}
		if config.Blend {
			blendAttachments[i].BlendEnable = vk.True
		}
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	// Dynamic state
	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if config.Stride > 0 {
		vertexInputInfo.VertexBindingDescriptionCount = 1
		vertexInputInfo.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    config.Stride,
			InputRate: vk.VertexInputRateVertex,
		}}
		vertexInputInfo.VertexAttributeDescriptionCount = uint32(len(config.Attributes))
		vertexInputInfo.PVertexAttributeDescriptions = config.Attributes
	}

	topology := config.Topology
	if topology == 0 {
		topology = vk.PrimitiveTopologyTriangleList
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               topology,
		PrimitiveRestartEnable: vk.False,
	}

	// NOTE: 128 bytes is the guaranteed Vulkan minimum for push constants.
	var pushTotal uint32
	for _, r := range config.PushConstantRanges {
		pushTotal = max(pushTotal, r.Offset+r.Size)
	}
	if pushTotal > 128 {
		return nil, fmt.Errorf("pipeline %s: push constant ranges need %d bytes, 128 max", config.Name, pushTotal)
	}

	setLayouts := make([]vk.DescriptorSetLayout, len(config.DescriptorSetLayouts))
	for i, l := range config.DescriptorSetLayouts {
		setLayouts[i] = l.Handle
	}
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            setLayouts,
		PushConstantRangeCount: uint32(len(config.PushConstantRanges)),
		PPushConstantRanges:    config.PushConstantRanges,
	}

	err = device.locks.SafeCall(PipelineManagement, func() error {
		layout, err := driver.CreatePipelineLayout(&pipelineLayoutCreateInfo)
		if err != nil {
			return err
		}
		out.Layout = layout

		var renderPass vk.RenderPass
		if config.RenderPass != nil {
			renderPass = config.RenderPass.Handle
		}
		pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
			SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
			StageCount:          2,
			PStages:             []vk.PipelineShaderStageCreateInfo{vertexStage.ShaderStageCreateInfo, fragmentStage.ShaderStageCreateInfo},
			PVertexInputState:   &vertexInputInfo,
			PInputAssemblyState: &inputAssembly,
			PViewportState:      &viewportState,
			PRasterizationState: &rasterizerCreateInfo,
			PMultisampleState:   &multisamplingCreateInfo,
			PDepthStencilState:  &depthStencil,
			PColorBlendState:    &colorBlendStateCreateInfo,
			PDynamicState:       &dynamicStateCreateInfo,
			Layout:              out.Layout,
			RenderPass:          renderPass,
			Subpass:             0,
			BasePipelineHandle:  vk.NullPipeline,
			BasePipelineIndex:   -1,
		}
		handle, err := driver.CreateGraphicsPipeline(&pipelineCreateInfo)
		if err != nil {
			return err
		}
		out.Handle = handle
		return nil
	})
	if err != nil {
		out.Destroy()
		err = fmt.Errorf("pipeline %s: %w", config.Name, err)
		core.LogError(err.Error())
		return nil, err
	}

	core.LogDebug("Graphics pipeline '%s' created!", config.Name)
	return out, nil
}

func (p *Pipeline) Bind(cb vk.CommandBuffer) {
	p.driver.CmdBindPipeline(cb, p.Handle)
}

func (p *Pipeline) BindDescriptorSets(cb vk.CommandBuffer, firstSet uint32, sets ...vk.DescriptorSet) {
	p.driver.CmdBindDescriptorSets(cb, p.Layout, firstSet, sets)
}

func (p *Pipeline) PushConstants(cb vk.CommandBuffer, stages vk.ShaderStageFlags, data []byte) {
	p.driver.CmdPushConstants(cb, p.Layout, stages, 0, data)
}

func (p *Pipeline) Destroy() {
	if p.Handle != nil {
		p.driver.DestroyPipeline(p.Handle)
		p.Handle = nil
	}
	if p.Layout != nil {
		p.driver.DestroyPipelineLayout(p.Layout)
		p.Layout = nil
	}
}

// Vertex3DAttributes describes math.Vertex3D at binding 0.
func Vertex3DAttributes() (uint32, []vk.VertexInputAttributeDescription) {
	var v math.Vertex3D
	attr := func(location uint32, format vk.Format, offset uintptr) vk.VertexInputAttributeDescription {
		return vk.VertexInputAttributeDescription{
			Location: location,
			Binding:  0,
			Format:   format,
			Offset:   uint32(offset),
		}
	}
	return uint32(unsafe.Sizeof(v)), []vk.VertexInputAttributeDescription{
		attr(0, vk.FormatR32g32b32Sfloat, unsafe.Offsetof(v.Position)),
		attr(1, vk.FormatR32g32b32Sfloat, unsafe.Offsetof(v.Colour)),
		attr(2, vk.FormatR32g32Sfloat, unsafe.Offsetof(v.Texcoord)),
		attr(3, vk.FormatR32g32b32Sfloat, unsafe.Offsetof(v.Normal)),
		attr(4, vk.FormatR32g32b32Sfloat, unsafe.Offsetof(v.Tangent)),
		attr(5, vk.FormatR32g32b32Sfloat, unsafe.Offsetof(v.Bitangent)),
	}
}
