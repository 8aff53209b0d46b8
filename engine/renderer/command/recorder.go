package command

import (
	"fmt"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

type vertexBinding struct {
	buffer resources.Ref
	offset uint64
}

type indexBinding struct {
	buffer    resources.Ref
	offset    uint64
	indexType gpu.IndexType
}

// Recorder records into one frame slot's command buffer. State binders only
// edit the pipeline and descriptor keys; native objects are resolved on
// BindPipeline and BindDescriptors.
//
// Misuse, such as drawing with a compute pipeline bound or closing a label
// that was never opened, panics.
type Recorder struct {
	ctx   *Context
	frame int
	cmd   gpu.CommandBuffer

	program    *Program
	key        PipelineKey
	renderPass gpu.RenderPass

	bound       gpu.Pipeline
	boundLayout gpu.PipelineLayout
	boundSets   [gpu.MaxDescriptorSets + 1]gpu.DescriptorSet

	sets   [gpu.MaxDescriptorSets]DescriptorKey
	vertex [gpu.MaxVertexBindings]vertexBinding
	index  indexBinding
	labels int
}

func (r *Recorder) Frame() int                       { return r.frame }
func (r *Recorder) CommandBuffer() gpu.CommandBuffer { return r.cmd }
func (r *Recorder) Context() *Context                { return r.ctx }

// Reset forgets all tracked state, used at pass boundaries.
func (r *Recorder) Reset() {
	frame, ctx, cmd, labels := r.frame, r.ctx, r.cmd, r.labels
	*r = Recorder{ctx: ctx, frame: frame, cmd: cmd, labels: labels}
	r.key.Raster = gpu.DefaultRasterState()
	r.key.Depth = gpu.DefaultDepthState()
	for i := range r.key.Blend {
		r.key.Blend[i] = gpu.DefaultBlendState()
	}
}

func (r *Recorder) BindProgram(p *Program) {
	r.program = p
	refs := p.Shaders()
	r.key.Shaders = [maxProgramStages]resources.Ref{}
	copy(r.key.Shaders[:], refs)
	r.key.ShaderCount = uint8(len(refs))
	r.key.Compute = p.IsCompute()
	r.key.Layout = p.Interface.Hash()
}

func (r *Recorder) BindRasterState(s gpu.RasterState) { r.key.Raster = s }
func (r *Recorder) BindDepthState(s gpu.DepthState)   { r.key.Depth = s }

// BindBlendState sets the blend state of one colour attachment.
func (r *Recorder) BindBlendState(attachment int, s gpu.BlendState) {
	r.key.Blend[attachment] = s
}

func (r *Recorder) BindAttributes(attrs []gpu.VertexAttribute) {
	if len(attrs) > gpu.MaxVertexAttributes {
		panic(fmt.Sprintf("command: %d vertex attributes, at most %d", len(attrs), gpu.MaxVertexAttributes))
	}
	r.key.Attributes = [gpu.MaxVertexAttributes]gpu.VertexAttribute{}
	copy(r.key.Attributes[:], attrs)
	r.key.AttributeCount = uint8(len(attrs))
}

func (r *Recorder) BindBindings(bindings []gpu.VertexBinding) {
	if len(bindings) > gpu.MaxVertexBindings {
		panic(fmt.Sprintf("command: %d vertex bindings, at most %d", len(bindings), gpu.MaxVertexBindings))
	}
	r.key.Bindings = [gpu.MaxVertexBindings]gpu.VertexBinding{}
	copy(r.key.Bindings[:], bindings)
	r.key.BindingCount = uint8(len(bindings))
}

// BindRenderTarget sets the render pass graphics pipelines are built
// against. BeginRenderPass calls it.
func (r *Recorder) BindRenderTarget(rp gpu.RenderPass) {
	r.renderPass = rp
	if rp == nil {
		r.key.RenderPass = gpu.RenderPassInfo{}
		return
	}
	r.key.RenderPass = rp.Info()
}

// SetViewport sets the dynamic viewport and a matching scissor.
func (r *Recorder) SetViewport(vp gpu.Viewport) {
	r.cmd.SetViewport(vp)
	r.cmd.SetScissor(gpu.Rect2D{
		Offset: gpu.Offset2D{X: int32(vp.X), Y: int32(vp.Y)},
		Extent: gpu.Extent2D{Width: uint32(vp.Width), Height: uint32(vp.Height)},
	})
}

// Key returns a copy of the current pipeline key.
func (r *Recorder) Key() PipelineKey {
	return r.key.effective()
}

// BindPipeline resolves the current key to a pipeline and binds it unless
// it is already bound.
func (r *Recorder) BindPipeline() (gpu.Pipeline, error) {
	if r.program == nil {
		panic("command: BindPipeline without a program")
	}
	if !r.key.Compute && r.renderPass == nil {
		panic(fmt.Sprintf("command: graphics program %s bound outside of a render pass", r.program.Name))
	}
	layout, err := r.ctx.PipelineLayout(r.program.Interface)
	if err != nil {
		return nil, err
	}
	key := r.key.effective()
	hash := key.Hash()
	p := r.ctx.lookupPipeline(&key, hash, layout)
	if p == nil {
		if p, err = r.ctx.createPipeline(&key, hash, layout, r.program, r.renderPass); err != nil {
			return nil, err
		}
	}
	if p != r.bound {
		r.cmd.BindPipeline(p)
		r.bound = p
	}
	if layout != r.boundLayout {
		r.boundLayout = layout
		r.boundSets = [gpu.MaxDescriptorSets + 1]gpu.DescriptorSet{}
	}
	return p, nil
}

func checkSlot(set, binding uint32) {
	if set >= gpu.MaxDescriptorSets {
		panic(fmt.Sprintf("command: descriptor set %d out of range [0, %d)", set, gpu.MaxDescriptorSets))
	}
	if binding >= gpu.MaxDescriptorBindings {
		panic(fmt.Sprintf("command: binding %d out of range [0, %d)", binding, gpu.MaxDescriptorBindings))
	}
}

// BindBuffer puts a buffer range in a descriptor slot. A zero size binds
// the whole buffer.
func (r *Recorder) BindBuffer(set, binding uint32, buffer resources.Ref, offset, size uint64) {
	checkSlot(set, binding)
	r.sets[set].Bindings[binding] = descriptorBinding{Set: true, Buffer: buffer, Offset: offset, Range: size}
}

func (r *Recorder) BindImage(set, binding uint32, image, sampler resources.Ref, storage bool) {
	checkSlot(set, binding)
	r.sets[set].Bindings[binding] = descriptorBinding{Set: true, Image: image, Sampler: sampler, Storage: storage}
}

// ClearDescriptors empties every set, so bindings do not leak between
// passes.
func (r *Recorder) ClearDescriptors() {
	for i := range r.sets {
		r.sets[i].clear()
	}
}

// BindDescriptors resolves each set to a cached or newly written
// descriptor set and binds them, with the bindless table, in one call.
func (r *Recorder) BindDescriptors() error {
	if r.bound == nil {
		panic("command: BindDescriptors without a bound pipeline")
	}
	iface := r.program.Interface
	var sets [gpu.MaxDescriptorSets + 1]gpu.DescriptorSet
	for i := range r.sets {
		key := &r.sets[i]
		key.Layout = r.key.Layout
		key.Set = uint32(i)
		hash := key.Hash()
		set := r.ctx.lookupDescriptorSet(r.frame, key, hash, r.boundLayout)
		if set == nil {
			var err error
			if set, err = r.ctx.allocateDescriptorSet(r.frame, key, hash, r.boundLayout); err != nil {
				return err
			}
			writes, err := r.descriptorWrites(set, iface, uint32(i))
			if err != nil {
				return err
			}
			if len(writes) > 0 {
				r.ctx.device.UpdateDescriptorSets(writes)
			}
		}
		sets[i] = set
	}
	sets[gpu.BindlessSetIndex] = r.ctx.bindless.Set()
	if sets == r.boundSets {
		return nil
	}
	r.cmd.BindDescriptorSets(r.bound.BindPoint(), r.boundLayout, 0, sets[:])
	r.boundSets = sets
	return nil
}

func (r *Recorder) descriptorWrites(set gpu.DescriptorSet, iface *gpu.ShaderInterface, index uint32) ([]gpu.DescriptorWrite, error) {
	var writes []gpu.DescriptorWrite
	res := r.ctx.resources
	for b, binding := range r.sets[index].Bindings {
		if !binding.Set {
			continue
		}
		decl, declared := iface.Binding(index, uint32(b))
		w := gpu.DescriptorWrite{Set: set, Binding: uint32(b)}
		switch {
		case binding.Buffer.IsValid():
			buf, err := res.Buffer(binding.Buffer)
			if err != nil {
				return nil, fmt.Errorf("set %d binding %d: %w", index, b, err)
			}
			w.Type = gpu.DescriptorStorageBuffer
			if declared && decl.Type == gpu.DescriptorUniformBuffer {
				w.Type = gpu.DescriptorUniformBuffer
			}
			w.Buffer, w.Offset, w.Range = buf.Native, binding.Offset, binding.Range
			if w.Range == 0 {
				w.Range = buf.Info.Size - binding.Offset
			}
		case binding.Image.IsValid():
			img, err := res.Image(binding.Image)
			if err != nil {
				return nil, fmt.Errorf("set %d binding %d: %w", index, b, err)
			}
			w.Image = img.Native
			switch {
			case binding.Storage:
				w.Type, w.Layout = gpu.DescriptorStorageImage, gpu.LayoutGeneral
			case binding.Sampler.IsValid():
				s, err := res.Sampler(binding.Sampler)
				if err != nil {
					return nil, fmt.Errorf("set %d binding %d: %w", index, b, err)
				}
				w.Type, w.Layout, w.Sampler = gpu.DescriptorCombinedImageSampler, gpu.LayoutShaderReadOnly, s.Native
			default:
				w.Type, w.Layout = gpu.DescriptorSampledImage, gpu.LayoutShaderReadOnly
			}
			if img.Info.Format.IsDepth() && !binding.Storage {
				w.Layout = gpu.LayoutDepthStencilReadOnly
			}
		default:
			continue
		}
		writes = append(writes, w)
	}
	return writes, nil
}

func (r *Recorder) buffer(ref resources.Ref) gpu.Buffer {
	b, err := r.ctx.resources.Buffer(ref)
	if err != nil {
		panic(err)
	}
	return b.Native
}

func (r *Recorder) BindVertexBuffer(binding uint32, buffer resources.Ref, offset uint64) {
	next := vertexBinding{buffer: buffer, offset: offset}
	if r.vertex[binding] == next {
		return
	}
	r.cmd.BindVertexBuffers(binding, []gpu.Buffer{r.buffer(buffer)}, []uint64{offset})
	r.vertex[binding] = next
}

func (r *Recorder) BindIndexBuffer(buffer resources.Ref, offset uint64, indexType gpu.IndexType) {
	next := indexBinding{buffer: buffer, offset: offset, indexType: indexType}
	if r.index == next {
		return
	}
	r.cmd.BindIndexBuffer(r.buffer(buffer), offset, indexType)
	r.index = next
}

func (r *Recorder) PushConstants(data []byte) {
	if r.bound == nil {
		panic("command: PushConstants without a bound pipeline")
	}
	iface := r.program.Interface
	if uint32(len(data)) > iface.PushConstantSize {
		panic(fmt.Sprintf("command: %d bytes of push constants, program %s declares %d", len(data), r.program.Name, iface.PushConstantSize))
	}
	r.cmd.PushConstants(r.boundLayout, iface.Stages, 0, data)
}

func (r *Recorder) require(bindPoint gpu.PipelineBindPoint, call string) {
	if r.bound == nil {
		panic(fmt.Sprintf("command: %s without a bound pipeline", call))
	}
	if r.bound.BindPoint() != bindPoint {
		panic(fmt.Sprintf("command: %s with a %s pipeline bound", call, r.bound.BindPoint()))
	}
}

func (r *Recorder) mesh(call string) gpu.MeshCommandBuffer {
	r.require(gpu.BindPointGraphics, call)
	m, ok := r.cmd.(gpu.MeshCommandBuffer)
	if !ok {
		panic(fmt.Sprintf("command: %s on a device without mesh shaders", call))
	}
	return m
}

func (r *Recorder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	r.require(gpu.BindPointGraphics, "Draw")
	r.cmd.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

func (r *Recorder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	r.require(gpu.BindPointGraphics, "DrawIndexed")
	r.cmd.DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (r *Recorder) DrawIndirect(buffer resources.Ref, offset uint64, drawCount, stride uint32) {
	r.require(gpu.BindPointGraphics, "DrawIndirect")
	r.cmd.DrawIndirect(r.buffer(buffer), offset, drawCount, stride)
}

func (r *Recorder) DrawIndexedIndirect(buffer resources.Ref, offset uint64, drawCount, stride uint32) {
	r.require(gpu.BindPointGraphics, "DrawIndexedIndirect")
	r.cmd.DrawIndexedIndirect(r.buffer(buffer), offset, drawCount, stride)
}

func (r *Recorder) DrawIndirectCount(buffer resources.Ref, offset uint64, count resources.Ref, countOffset uint64, maxDraws, stride uint32) {
	r.require(gpu.BindPointGraphics, "DrawIndirectCount")
	r.cmd.DrawIndirectCount(r.buffer(buffer), offset, r.buffer(count), countOffset, maxDraws, stride)
}

func (r *Recorder) DrawIndexedIndirectCount(buffer resources.Ref, offset uint64, count resources.Ref, countOffset uint64, maxDraws, stride uint32) {
	r.require(gpu.BindPointGraphics, "DrawIndexedIndirectCount")
	r.cmd.DrawIndexedIndirectCount(r.buffer(buffer), offset, r.buffer(count), countOffset, maxDraws, stride)
}

func (r *Recorder) DrawMeshTasks(x, y, z uint32) {
	r.mesh("DrawMeshTasks").DrawMeshTasks(x, y, z)
}

func (r *Recorder) DrawMeshTasksIndirect(buffer resources.Ref, offset uint64, drawCount, stride uint32) {
	r.mesh("DrawMeshTasksIndirect").DrawMeshTasksIndirect(r.buffer(buffer), offset, drawCount, stride)
}

func (r *Recorder) DrawMeshTasksIndirectCount(buffer resources.Ref, offset uint64, count resources.Ref, countOffset uint64, maxDraws, stride uint32) {
	r.mesh("DrawMeshTasksIndirectCount").DrawMeshTasksIndirectCount(r.buffer(buffer), offset, r.buffer(count), countOffset, maxDraws, stride)
}

func (r *Recorder) Dispatch(x, y, z uint32) {
	r.require(gpu.BindPointCompute, "Dispatch")
	r.cmd.Dispatch(x, y, z)
}

// DispatchThreads dispatches enough workgroups to cover x*y*z invocations
// with the local size of the bound program.
func (r *Recorder) DispatchThreads(x, y, z uint32) {
	r.require(gpu.BindPointCompute, "DispatchThreads")
	local := r.program.Interface.LocalSize
	groups := func(n, size uint32) uint32 {
		if size == 0 {
			size = 1
		}
		return (n + size - 1) / size
	}
	r.cmd.Dispatch(groups(x, local[0]), groups(y, local[1]), groups(z, local[2]))
}

func (r *Recorder) DispatchIndirect(buffer resources.Ref, offset uint64) {
	r.require(gpu.BindPointCompute, "DispatchIndirect")
	r.cmd.DispatchIndirect(r.buffer(buffer), offset)
}

// PipelineBarrier issues every barrier in one native call.
func (r *Recorder) PipelineBarrier(buffers []gpu.BufferBarrier, images []gpu.ImageBarrier) {
	if len(buffers) == 0 && len(images) == 0 {
		return
	}
	r.cmd.PipelineBarrier(buffers, images)
}

func (r *Recorder) BeginLabel(name string, colour [4]float32) {
	r.cmd.BeginLabel(name, colour)
	r.labels++
}

func (r *Recorder) EndLabel() {
	if r.labels == 0 {
		panic("command: EndLabel without a matching BeginLabel")
	}
	r.labels--
	r.cmd.EndLabel()
}

// OpenLabels returns the number of labels that were begun but not ended.
func (r *Recorder) OpenLabels() int {
	return r.labels
}

func (r *Recorder) WriteTimestamp(stage gpu.PipelineStage, query uint32) {
	r.cmd.WriteTimestamp(stage, query)
}

func (r *Recorder) BeginRenderPass(rp gpu.RenderPass, fb gpu.Framebuffer, clears []gpu.ClearValue) {
	extent := fb.Extent()
	r.cmd.BeginRenderPass(rp, fb, gpu.Rect2D{Extent: extent}, clears)
	r.BindRenderTarget(rp)
	r.SetViewport(gpu.FullViewport(extent))
}

func (r *Recorder) EndRenderPass() {
	r.cmd.EndRenderPass()
	r.BindRenderTarget(nil)
}

func (r *Recorder) CopyBuffer(src, dst resources.Ref, regions []gpu.BufferCopy) {
	r.cmd.CopyBuffer(r.buffer(src), r.buffer(dst), regions)
}

func (r *Recorder) CopyBufferToImage(src, dst resources.Ref, regions []gpu.BufferImageCopy) {
	img, err := r.ctx.resources.Image(dst)
	if err != nil {
		panic(err)
	}
	r.cmd.CopyBufferToImage(r.buffer(src), img.Native, gpu.LayoutTransferDst, regions)
}
