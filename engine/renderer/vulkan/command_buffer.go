package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState

	context *VulkanContext
	queries vk.QueryPool
}

func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles); res != vk.Success {
		err := resultError("vkAllocateCommandBuffers", res)
		core.LogError(err.Error())
		return nil, err
	}
	return &VulkanCommandBuffer{
		Handle:  handles[0],
		State:   COMMAND_BUFFER_STATE_READY,
		context: context,
	}, nil
}

func (v *VulkanCommandBuffer) Free(context *VulkanContext, pool vk.CommandPool) {
	if v.Handle != nil {
		vk.FreeCommandBuffers(context.Device.LogicalDevice, pool, 1, []vk.CommandBuffer{v.Handle})
		v.Handle = nil
	}
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(isSingleUse bool) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if isSingleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if res := vk.BeginCommandBuffer(v.Handle, &beginInfo); res != vk.Success {
		err := resultError("vkBeginCommandBuffer", res)
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		err := resultError("vkEndCommandBuffer", res)
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() error {
	if res := vk.ResetCommandBuffer(v.Handle, 0); res != vk.Success {
		return resultError("vkResetCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

// AllocateAndBeginSingleUse allocates a one-off command buffer and starts
// recording.
func AllocateAndBeginSingleUse(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	cb, err := NewVulkanCommandBuffer(context, pool)
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(true); err != nil {
		cb.Free(context, pool)
		return nil, err
	}
	return cb, nil
}

// EndSingleUse ends recording, submits, waits on fence and frees the
// command buffer.
func (v *VulkanCommandBuffer) EndSingleUse(context *VulkanContext, pool vk.CommandPool, queue vk.Queue, fence *VulkanFence, timeoutNs uint64) error {
	defer v.Free(context, pool)
	if err := v.End(); err != nil {
		return err
	}
	if err := fence.FenceReset(context); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{v.Handle},
	}
	if err := context.locks.SafeCall(QueueManagement, func() error {
		return resultError("vkQueueSubmit", vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle))
	}); err != nil {
		core.LogError(err.Error())
		return err
	}
	v.UpdateSubmitted()

	return fence.FenceWait(context, timeoutNs)
}

func (v *VulkanCommandBuffer) BindPipeline(p gpu.Pipeline) {
	pipeline := p.(*VulkanPipeline)
	vk.CmdBindPipeline(v.Handle, vk.PipelineBindPoint(pipeline.bindPoint), pipeline.Handle)
}

func (v *VulkanCommandBuffer) BindDescriptorSets(bindPoint gpu.PipelineBindPoint, layout gpu.PipelineLayout, first uint32, sets []gpu.DescriptorSet) {
	handles := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		handles[i] = s.(*DescriptorSet).Handle
	}
	vk.CmdBindDescriptorSets(v.Handle, vk.PipelineBindPoint(bindPoint), layout.(*PipelineLayout).Handle,
		first, uint32(len(handles)), handles, 0, nil)
}

func (v *VulkanCommandBuffer) BindVertexBuffers(first uint32, buffers []gpu.Buffer, offsets []uint64) {
	handles := make([]vk.Buffer, len(buffers))
	offs := make([]vk.DeviceSize, len(buffers))
	for i, b := range buffers {
		handles[i] = b.(*Buffer).Handle
		if i < len(offsets) {
			offs[i] = vk.DeviceSize(offsets[i])
		}
	}
	vk.CmdBindVertexBuffers(v.Handle, first, uint32(len(handles)), handles, offs)
}

func (v *VulkanCommandBuffer) BindIndexBuffer(buffer gpu.Buffer, offset uint64, indexType gpu.IndexType) {
	vk.CmdBindIndexBuffer(v.Handle, buffer.(*Buffer).Handle, vk.DeviceSize(offset), vk.IndexType(indexType))
}

func (v *VulkanCommandBuffer) PushConstants(layout gpu.PipelineLayout, stages gpu.ShaderStage, offset uint32, data []byte) {
	vk.CmdPushConstants(v.Handle, layout.(*PipelineLayout).Handle, vk.ShaderStageFlags(stages), offset, uint32(len(data)), unsafePointer(data))
}

func (v *VulkanCommandBuffer) SetViewport(vp gpu.Viewport) {
	vk.CmdSetViewport(v.Handle, 0, 1, []vk.Viewport{{
		X:        vp.X,
		Y:        vp.Y,
		Width:    vp.Width,
		Height:   vp.Height,
		MinDepth: vp.MinDepth,
		MaxDepth: vp.MaxDepth,
	}})
}

func (v *VulkanCommandBuffer) SetScissor(r gpu.Rect2D) {
	vk.CmdSetScissor(v.Handle, 0, 1, []vk.Rect2D{rect(r)})
}

func rect(r gpu.Rect2D) vk.Rect2D {
	return vk.Rect2D{
		Offset: vk.Offset2D{X: r.Offset.X, Y: r.Offset.Y},
		Extent: vk.Extent2D{Width: r.Extent.Width, Height: r.Extent.Height},
	}
}

func (v *VulkanCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(v.Handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (v *VulkanCommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(v.Handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (v *VulkanCommandBuffer) DrawIndirect(buffer gpu.Buffer, offset uint64, drawCount, stride uint32) {
	vk.CmdDrawIndirect(v.Handle, buffer.(*Buffer).Handle, vk.DeviceSize(offset), drawCount, stride)
}

func (v *VulkanCommandBuffer) DrawIndexedIndirect(buffer gpu.Buffer, offset uint64, drawCount, stride uint32) {
	vk.CmdDrawIndexedIndirect(v.Handle, buffer.(*Buffer).Handle, vk.DeviceSize(offset), drawCount, stride)
}

func (v *VulkanCommandBuffer) DrawIndirectCount(buffer gpu.Buffer, offset uint64, count gpu.Buffer, countOffset uint64, maxDraws, stride uint32) {
	vk.CmdDrawIndirectCount(v.Handle, buffer.(*Buffer).Handle, vk.DeviceSize(offset),
		count.(*Buffer).Handle, vk.DeviceSize(countOffset), maxDraws, stride)
}

func (v *VulkanCommandBuffer) DrawIndexedIndirectCount(buffer gpu.Buffer, offset uint64, count gpu.Buffer, countOffset uint64, maxDraws, stride uint32) {
	vk.CmdDrawIndexedIndirectCount(v.Handle, buffer.(*Buffer).Handle, vk.DeviceSize(offset),
		count.(*Buffer).Handle, vk.DeviceSize(countOffset), maxDraws, stride)
}

func (v *VulkanCommandBuffer) Dispatch(x, y, z uint32) {
	vk.CmdDispatch(v.Handle, x, y, z)
}

func (v *VulkanCommandBuffer) DispatchIndirect(buffer gpu.Buffer, offset uint64) {
	vk.CmdDispatchIndirect(v.Handle, buffer.(*Buffer).Handle, vk.DeviceSize(offset))
}

func (v *VulkanCommandBuffer) PipelineBarrier(buffers []gpu.BufferBarrier, images []gpu.ImageBarrier) {
	if len(buffers) == 0 && len(images) == 0 {
		return
	}
	var src, dst gpu.PipelineStage
	bufferBarriers := make([]vk.BufferMemoryBarrier, len(buffers))
	for i, b := range buffers {
		src |= b.SrcStage
		dst |= b.DstStage
		size := vk.DeviceSize(b.Size)
		if b.Size == 0 {
			size = vk.DeviceSize(vk.WholeSize)
		}
		bufferBarriers[i] = vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(b.SrcAccess),
			DstAccessMask:       vk.AccessFlags(b.DstAccess),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              b.Buffer.(*Buffer).Handle,
			Offset:              vk.DeviceSize(b.Offset),
			Size:                size,
		}
	}
	imageBarriers := make([]vk.ImageMemoryBarrier, len(images))
	for i, b := range images {
		src |= b.SrcStage
		dst |= b.DstStage
		img := b.Image.(*Image)
		imageBarriers[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(b.SrcAccess),
			DstAccessMask:       vk.AccessFlags(b.DstAccess),
			OldLayout:           vk.ImageLayout(b.OldLayout),
			NewLayout:           vk.ImageLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle,
			SubresourceRange:    img.subresources(img.barrierAspect()),
		}
	}
	if src == gpu.StageNone {
		src = gpu.StageTopOfPipe
	}
	if dst == gpu.StageNone {
		dst = gpu.StageBottomOfPipe
	}
	vk.CmdPipelineBarrier(v.Handle, vk.PipelineStageFlags(src), vk.PipelineStageFlags(dst), 0,
		0, nil,
		uint32(len(bufferBarriers)), bufferBarriers,
		uint32(len(imageBarriers)), imageBarriers)
}

func (v *VulkanCommandBuffer) BeginRenderPass(rp gpu.RenderPass, fb gpu.Framebuffer, area gpu.Rect2D, clears []gpu.ClearValue) {
	renderpass := rp.(*VulkanRenderPass)
	values := clearValues(renderpass.info, clears)
	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      renderpass.Handle,
		Framebuffer:     fb.(*VulkanFramebuffer).Handle,
		RenderArea:      rect(area),
		ClearValueCount: uint32(len(values)),
		PClearValues:    values,
	}
	vk.CmdBeginRenderPass(v.Handle, &beginInfo, vk.SubpassContentsInline)
	v.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (v *VulkanCommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(v.Handle)
	v.State = COMMAND_BUFFER_STATE_RECORDING
}

func (v *VulkanCommandBuffer) BeginLabel(name string, colour [4]float32) {
	if !v.context.debugUtils {
		return
	}
	label := vk.DebugUtilsLabel{
		SType:      vk.StructureTypeDebugUtilsLabel,
		PLabelName: VulkanSafeString(name),
		Color:      colour,
	}
	vk.CmdBeginDebugUtilsLabel(v.Handle, &label)
}

func (v *VulkanCommandBuffer) EndLabel() {
	if v.context.debugUtils {
		vk.CmdEndDebugUtilsLabel(v.Handle)
	}
}

func (v *VulkanCommandBuffer) WriteTimestamp(stage gpu.PipelineStage, query uint32) {
	if v.queries == vk.NullQueryPool || query >= maxTimestamps {
		return
	}
	vk.CmdWriteTimestamp(v.Handle, vk.PipelineStageFlagBits(stage), v.queries, query)
}

func (v *VulkanCommandBuffer) CopyBuffer(src, dst gpu.Buffer, regions []gpu.BufferCopy) {
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(v.Handle, src.(*Buffer).Handle, dst.(*Buffer).Handle, uint32(len(copies)), copies)
}

func (v *VulkanCommandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image, layout gpu.ImageLayout, regions []gpu.BufferImageCopy) {
	img := dst.(*Image)
	copies := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferImageCopy{
			BufferOffset: vk.DeviceSize(r.BufferOffset),
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: img.aspect(),
				MipLevel:   r.MipLevel,
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{
				Width:  r.Extent.Width,
				Height: r.Extent.Height,
				Depth:  max(r.Extent.Depth, 1),
			},
		}
	}
	vk.CmdCopyBufferToImage(v.Handle, src.(*Buffer).Handle, img.Handle, vk.ImageLayout(layout), uint32(len(copies)), copies)
}

var _ gpu.CommandBuffer = (*VulkanCommandBuffer)(nil)
