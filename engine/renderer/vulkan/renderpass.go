package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
)

/**
 * @brief Describes one attachment of a single-subpass render pass.
 * The attachment enters and leaves the pass in Layout; callers
 * transition images explicitly before Begin.
 */
type AttachmentConfig struct {
	Format  vk.Format
	LoadOp  vk.AttachmentLoadOp
	StoreOp vk.AttachmentStoreOp
	Layout  vk.ImageLayout
	/** @brief RGBA clear colour, used when LoadOp is clear. */
	ClearColor [4]float32
	/** @brief Depth clear value, used when LoadOp is clear. */
	ClearDepth float32
}

type RenderPassConfig struct {
	Name   string
	Colors []AttachmentConfig
	Depth  *AttachmentConfig
}

type RenderPass struct {
	Handle vk.RenderPass
	Name   string

	clearValues []vk.ClearValue
	colorCount  int
	hasDepth    bool
	driver      Driver
}

func NewRenderPass(device *Device, config RenderPassConfig) (*RenderPass, error) {
	out := &RenderPass{
		Name:       config.Name,
		colorCount: len(config.Colors),
		hasDepth:   config.Depth != nil,
		driver:     device.Driver,
	}

	attachments := make([]vk.AttachmentDescription, 0, len(config.Colors)+1)
	colorRefs := make([]vk.AttachmentReference, 0, len(config.Colors))
	for i, c := range config.Colors {
		layout := c.Layout
		if layout == vk.ImageLayoutUndefined {
			layout = vk.ImageLayoutColorAttachmentOptimal
		}
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         c.Format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         c.LoadOp,
			StoreOp:        c.StoreOp,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  layout,
			FinalLayout:    layout,
		})
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
		out.clearValues = append(out.clearValues, vk.NewClearValue(c.ClearColor[:]))
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}

	// Depth attachment, if there is one
	if config.Depth != nil {
		d := config.Depth
		layout := d.Layout
		if layout == vk.ImageLayoutUndefined {
			layout = vk.ImageLayoutDepthStencilAttachmentOptimal
		}
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         d.Format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         d.LoadOp,
			StoreOp:        d.StoreOp,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  layout,
			FinalLayout:    layout,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(colorRefs)),
			Layout:     layout,
		}
		out.clearValues = append(out.clearValues, vk.NewClearDepthStencil(d.ClearDepth, 0))
	}

	dependency := vk.SubpassDependency{
		SrcSubpass: vk.SubpassExternal,
		DstSubpass: 0,
		SrcStageMask: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit) |
			vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit),
		DstStageMask: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit) |
			vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit) |
			vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	handle, err := device.Driver.CreateRenderPass(&info)
	if err != nil {
		err = fmt.Errorf("render pass %s: %w", config.Name, err)
		core.LogError(err.Error())
		return nil, err
	}
	out.Handle = handle
	return out, nil
}

func (rp *RenderPass) ColorAttachmentCount() int { return rp.colorCount }

func (rp *RenderPass) AttachmentCount() int {
	if rp.hasDepth {
		return rp.colorCount + 1
	}
	return rp.colorCount
}

// Begin starts the pass over the whole framebuffer and sets a matching
// viewport and scissor.
func (rp *RenderPass) Begin(cb *VulkanCommandBuffer, fb *Framebuffer) {
	area := vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{Width: fb.Width, Height: fb.Height},
	}
	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      rp.Handle,
		Framebuffer:     fb.Handle,
		RenderArea:      area,
		ClearValueCount: uint32(len(rp.clearValues)),
		PClearValues:    rp.clearValues,
	}
	rp.driver.CmdBeginRenderPass(cb.Handle, &beginInfo)
	rp.driver.CmdSetViewport(cb.Handle, vk.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(fb.Width),
		Height:   float32(fb.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	rp.driver.CmdSetScissor(cb.Handle, area)
	cb.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (rp *RenderPass) End(cb *VulkanCommandBuffer) {
	rp.driver.CmdEndRenderPass(cb.Handle)
	cb.State = COMMAND_BUFFER_STATE_RECORDING
}

func (rp *RenderPass) Destroy() {
	if rp.Handle != nil {
		rp.driver.DestroyRenderPass(rp.Handle)
		rp.Handle = nil
	}
}
