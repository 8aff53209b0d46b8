package gputest

import (
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// Op is one recorded command. Only the fields relevant to Kind are set.
type Op struct {
	Kind string

	Pipeline    gpu.Pipeline
	Sets        []gpu.DescriptorSet
	Buffers     []gpu.Buffer
	Buffer      gpu.Buffer
	Image       gpu.Image
	RenderPass  gpu.RenderPass
	Framebuffer gpu.Framebuffer
	Clears      []gpu.ClearValue

	BufferBarriers []gpu.BufferBarrier
	ImageBarriers  []gpu.ImageBarrier

	Label  string
	Colour [4]float32
	Data   []byte
	Args   [4]uint32
	Offset uint64
}

// CommandBuffer records every call. It implements gpu.MeshCommandBuffer.
type CommandBuffer struct {
	Ops []Op
}

func (c *CommandBuffer) record(op Op) {
	c.Ops = append(c.Ops, op)
}

// Count returns the number of ops of the given kind.
func (c *CommandBuffer) Count(kind string) int {
	n := 0
	for _, op := range c.Ops {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// Find returns every op of the given kind, in recording order.
func (c *CommandBuffer) Find(kind string) []Op {
	var ops []Op
	for _, op := range c.Ops {
		if op.Kind == kind {
			ops = append(ops, op)
		}
	}
	return ops
}

// Kinds lists the recorded op kinds in order.
func (c *CommandBuffer) Kinds() []string {
	kinds := make([]string, len(c.Ops))
	for i, op := range c.Ops {
		kinds[i] = op.Kind
	}
	return kinds
}

func (c *CommandBuffer) BindPipeline(p gpu.Pipeline) {
	c.record(Op{Kind: "BindPipeline", Pipeline: p})
}

func (c *CommandBuffer) BindDescriptorSets(bindPoint gpu.PipelineBindPoint, layout gpu.PipelineLayout, first uint32, sets []gpu.DescriptorSet) {
	c.record(Op{Kind: "BindDescriptorSets", Sets: append([]gpu.DescriptorSet(nil), sets...), Args: [4]uint32{uint32(bindPoint), first}})
}

func (c *CommandBuffer) BindVertexBuffers(first uint32, buffers []gpu.Buffer, offsets []uint64) {
	c.record(Op{Kind: "BindVertexBuffers", Buffers: append([]gpu.Buffer(nil), buffers...), Args: [4]uint32{first}})
}

func (c *CommandBuffer) BindIndexBuffer(buffer gpu.Buffer, offset uint64, indexType gpu.IndexType) {
	c.record(Op{Kind: "BindIndexBuffer", Buffer: buffer, Offset: offset, Args: [4]uint32{uint32(indexType)}})
}

func (c *CommandBuffer) PushConstants(layout gpu.PipelineLayout, stages gpu.ShaderStage, offset uint32, data []byte) {
	c.record(Op{Kind: "PushConstants", Data: append([]byte(nil), data...), Args: [4]uint32{uint32(stages), offset}})
}

func (c *CommandBuffer) SetViewport(vp gpu.Viewport) {
	c.record(Op{Kind: "SetViewport", Args: [4]uint32{uint32(vp.Width), uint32(vp.Height)}})
}

func (c *CommandBuffer) SetScissor(r gpu.Rect2D) {
	c.record(Op{Kind: "SetScissor", Args: [4]uint32{r.Extent.Width, r.Extent.Height}})
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.record(Op{Kind: "Draw", Args: [4]uint32{vertexCount, instanceCount, firstVertex, firstInstance}})
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.record(Op{Kind: "DrawIndexed", Args: [4]uint32{indexCount, instanceCount, firstIndex, firstInstance}})
}

func (c *CommandBuffer) DrawIndirect(buffer gpu.Buffer, offset uint64, drawCount, stride uint32) {
	c.record(Op{Kind: "DrawIndirect", Buffer: buffer, Offset: offset, Args: [4]uint32{drawCount, stride}})
}

func (c *CommandBuffer) DrawIndexedIndirect(buffer gpu.Buffer, offset uint64, drawCount, stride uint32) {
	c.record(Op{Kind: "DrawIndexedIndirect", Buffer: buffer, Offset: offset, Args: [4]uint32{drawCount, stride}})
}

func (c *CommandBuffer) DrawIndirectCount(buffer gpu.Buffer, offset uint64, count gpu.Buffer, countOffset uint64, maxDraws, stride uint32) {
	c.record(Op{Kind: "DrawIndirectCount", Buffer: buffer, Buffers: []gpu.Buffer{count}, Offset: offset, Args: [4]uint32{maxDraws, stride}})
}

func (c *CommandBuffer) DrawIndexedIndirectCount(buffer gpu.Buffer, offset uint64, count gpu.Buffer, countOffset uint64, maxDraws, stride uint32) {
	c.record(Op{Kind: "DrawIndexedIndirectCount", Buffer: buffer, Buffers: []gpu.Buffer{count}, Offset: offset, Args: [4]uint32{maxDraws, stride}})
}

func (c *CommandBuffer) Dispatch(x, y, z uint32) {
	c.record(Op{Kind: "Dispatch", Args: [4]uint32{x, y, z}})
}

func (c *CommandBuffer) DispatchIndirect(buffer gpu.Buffer, offset uint64) {
	c.record(Op{Kind: "DispatchIndirect", Buffer: buffer, Offset: offset})
}

func (c *CommandBuffer) DrawMeshTasks(x, y, z uint32) {
	c.record(Op{Kind: "DrawMeshTasks", Args: [4]uint32{x, y, z}})
}

func (c *CommandBuffer) DrawMeshTasksIndirect(buffer gpu.Buffer, offset uint64, drawCount, stride uint32) {
	c.record(Op{Kind: "DrawMeshTasksIndirect", Buffer: buffer, Offset: offset, Args: [4]uint32{drawCount, stride}})
}

func (c *CommandBuffer) DrawMeshTasksIndirectCount(buffer gpu.Buffer, offset uint64, count gpu.Buffer, countOffset uint64, maxDraws, stride uint32) {
	c.record(Op{Kind: "DrawMeshTasksIndirectCount", Buffer: buffer, Buffers: []gpu.Buffer{count}, Offset: offset, Args: [4]uint32{maxDraws, stride}})
}

func (c *CommandBuffer) PipelineBarrier(buffers []gpu.BufferBarrier, images []gpu.ImageBarrier) {
	c.record(Op{
		Kind:           "PipelineBarrier",
		BufferBarriers: append([]gpu.BufferBarrier(nil), buffers...),
		ImageBarriers:  append([]gpu.ImageBarrier(nil), images...),
	})
}

func (c *CommandBuffer) BeginRenderPass(rp gpu.RenderPass, fb gpu.Framebuffer, area gpu.Rect2D, clears []gpu.ClearValue) {
	c.record(Op{Kind: "BeginRenderPass", RenderPass: rp, Framebuffer: fb, Clears: append([]gpu.ClearValue(nil), clears...)})
}

func (c *CommandBuffer) EndRenderPass() {
	c.record(Op{Kind: "EndRenderPass"})
}

func (c *CommandBuffer) BeginLabel(name string, colour [4]float32) {
	c.record(Op{Kind: "BeginLabel", Label: name, Colour: colour})
}

func (c *CommandBuffer) EndLabel() {
	c.record(Op{Kind: "EndLabel"})
}

func (c *CommandBuffer) WriteTimestamp(stage gpu.PipelineStage, query uint32) {
	c.record(Op{Kind: "WriteTimestamp", Args: [4]uint32{uint32(stage), query}})
}

func (c *CommandBuffer) CopyBuffer(src, dst gpu.Buffer, regions []gpu.BufferCopy) {
	var size uint64
	for _, r := range regions {
		size += r.Size
	}
	c.record(Op{Kind: "CopyBuffer", Buffers: []gpu.Buffer{src, dst}, Offset: size})
	if s, ok := src.(*Buffer); ok {
		if d, ok := dst.(*Buffer); ok && s.data != nil && d.data != nil {
			for _, r := range regions {
				copy(d.data[r.DstOffset:r.DstOffset+r.Size], s.data[r.SrcOffset:r.SrcOffset+r.Size])
			}
		}
	}
}

func (c *CommandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image, layout gpu.ImageLayout, regions []gpu.BufferImageCopy) {
	c.record(Op{Kind: "CopyBufferToImage", Buffer: src, Image: dst, Args: [4]uint32{uint32(layout), uint32(len(regions))}})
}
