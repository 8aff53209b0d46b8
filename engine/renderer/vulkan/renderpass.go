package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type VulkanRenderPass struct {
	Handle vk.RenderPass
	info   gpu.RenderPassInfo
}

func (rp *VulkanRenderPass) Info() gpu.RenderPassInfo { return rp.info }

func attachmentDescription(a gpu.AttachmentInfo) vk.AttachmentDescription {
	return vk.AttachmentDescription{
		Format:         vk.Format(a.Format),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOp(a.Load),
		StoreOp:        vk.AttachmentStoreOp(a.Store),
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayout(a.Initial),
		FinalLayout:    vk.ImageLayout(a.Final),
	}
}

// RenderpassCreate builds a single subpass render pass. Layout transitions
// outside the pass are recorded as barriers by the caller, so the initial
// and final layouts are taken as given.
func RenderpassCreate(context *VulkanContext, info gpu.RenderPassInfo) (*VulkanRenderPass, error) {
	attachments := make([]vk.AttachmentDescription, 0, info.ColorCount+1)
	colorReferences := make([]vk.AttachmentReference, 0, info.ColorCount)
	for i := uint32(0); i < info.ColorCount; i++ {
		attachments = append(attachments, attachmentDescription(info.Colors[i]))
		colorReferences = append(colorReferences, vk.AttachmentReference{
			Attachment: i, // Attachment description array index
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	// Main subpass
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorReferences)),
		PColorAttachments:    colorReferences,
	}

	// Depth attachment, if there is one
	if info.HasDepth {
		attachments = append(attachments, attachmentDescription(info.Depth))
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(attachments) - 1),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	attachmentStages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
	attachmentAccess := vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit |
		vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit)
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  attachmentStages,
		DstStageMask:  attachmentStages,
		DstAccessMask: attachmentAccess,
	}

	// Render pass create.
	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var pRenderPass vk.RenderPass
	if res := vk.CreateRenderPass(context.Device.LogicalDevice, &renderpassCreateInfo, context.Allocator, &pRenderPass); res != vk.Success {
		return nil, resultError("vkCreateRenderPass", res)
	}
	return &VulkanRenderPass{Handle: pRenderPass, info: info}, nil
}

func (vr *VulkanRenderPass) RenderpassDestroy(context *VulkanContext) {
	if vr.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(context.Device.LogicalDevice, vr.Handle, context.Allocator)
		vr.Handle = vk.NullRenderPass
	}
}

// clearValues lays out clears in attachment order, depth last.
func clearValues(info gpu.RenderPassInfo, clears []gpu.ClearValue) []vk.ClearValue {
	count := int(info.ColorCount)
	if info.HasDepth {
		count++
	}
	out := make([]vk.ClearValue, count)
	for i := 0; i < count && i < len(clears); i++ {
		if info.HasDepth && i == count-1 {
			out[i].SetDepthStencil(clears[i].Depth, clears[i].Stencil)
			continue
		}
		out[i].SetColor(clears[i].Color[:])
	}
	return out
}
