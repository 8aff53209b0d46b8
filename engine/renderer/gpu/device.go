package gpu

import "context"

// Native objects are opaque to the render core. Each backend hands out its
// own implementations and only accepts the ones it created.

type Buffer interface {
	Info() BufferInfo
	// Mapped returns the host visible memory of the buffer, or nil when the
	// buffer lives in device local memory.
	Mapped() []byte
}

type Image interface {
	Info() ImageInfo
}

type Sampler interface {
	Info() SamplerInfo
}

type ShaderModule interface {
	Stage() ShaderStage
}

type RenderPass interface {
	Info() RenderPassInfo
}

type Framebuffer interface {
	Extent() Extent2D
}

type Pipeline interface {
	BindPoint() PipelineBindPoint
}

type PipelineLayout interface {
	Interface() *ShaderInterface
}

type DescriptorSet interface {
	SetIndex() uint32
}

type DescriptorPool interface {
	// Allocate returns ErrOutOfPoolMemory when the pool is exhausted.
	Allocate(layout PipelineLayout, set uint32) (DescriptorSet, error)
	Reset() error
}

// BindlessTable is the global descriptor set every pipeline layout binds at
// BindlessSetIndex.
type BindlessTable interface {
	Capacity() BindlessCapacity
	Write(writes []DescriptorWrite)
	Set() DescriptorSet
}

type DescriptorWrite struct {
	// Nil targets the bindless table the write is handed to.
	Set          DescriptorSet
	Binding      uint32
	ArrayElement uint32
	Type         DescriptorType

	Buffer Buffer
	Offset uint64
	Range  uint64

	Image   Image
	Layout  ImageLayout
	Sampler Sampler
}

type GraphicsPipelineInfo struct {
	Layout     PipelineLayout
	Shaders    []ShaderModule
	Attributes []VertexAttribute
	Bindings   []VertexBinding
	Raster     RasterState
	Depth      DepthState
	Blend      [MaxColorAttachments]BlendState
	RenderPass RenderPass
	Label      string
}

type ComputePipelineInfo struct {
	Layout PipelineLayout
	Shader ShaderModule
	Label  string
}

// Frame is the per frame slot state returned by BeginFrame.
type Frame struct {
	// Frame slot in [0, FramesInFlight).
	Index           int
	Cmd             CommandBuffer
	Backbuffer      Image
	BackbufferIndex uint32
	Extent          Extent2D
}

type CommandBuffer interface {
	BindPipeline(p Pipeline)
	BindDescriptorSets(bindPoint PipelineBindPoint, layout PipelineLayout, first uint32, sets []DescriptorSet)
	BindVertexBuffers(first uint32, buffers []Buffer, offsets []uint64)
	BindIndexBuffer(buffer Buffer, offset uint64, indexType IndexType)
	PushConstants(layout PipelineLayout, stages ShaderStage, offset uint32, data []byte)
	SetViewport(vp Viewport)
	SetScissor(r Rect2D)

	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	DrawIndirect(buffer Buffer, offset uint64, drawCount, stride uint32)
	DrawIndexedIndirect(buffer Buffer, offset uint64, drawCount, stride uint32)
	DrawIndirectCount(buffer Buffer, offset uint64, count Buffer, countOffset uint64, maxDraws, stride uint32)
	DrawIndexedIndirectCount(buffer Buffer, offset uint64, count Buffer, countOffset uint64, maxDraws, stride uint32)
	Dispatch(x, y, z uint32)
	DispatchIndirect(buffer Buffer, offset uint64)

	PipelineBarrier(buffers []BufferBarrier, images []ImageBarrier)
	BeginRenderPass(rp RenderPass, fb Framebuffer, area Rect2D, clears []ClearValue)
	EndRenderPass()

	BeginLabel(name string, colour [4]float32)
	EndLabel()
	WriteTimestamp(stage PipelineStage, query uint32)

	CopyBuffer(src, dst Buffer, regions []BufferCopy)
	CopyBufferToImage(src Buffer, dst Image, layout ImageLayout, regions []BufferImageCopy)
}

// MeshCommandBuffer is implemented by command buffers of devices that
// report Limits.MeshShaders.
type MeshCommandBuffer interface {
	DrawMeshTasks(x, y, z uint32)
	DrawMeshTasksIndirect(buffer Buffer, offset uint64, drawCount, stride uint32)
	DrawMeshTasksIndirectCount(buffer Buffer, offset uint64, count Buffer, countOffset uint64, maxDraws, stride uint32)
}

// Device is the boundary between the render core and a graphics backend.
// All methods are called from the render thread.
type Device interface {
	Limits() Limits
	FramesInFlight() int
	SwapchainFormat() Format
	DepthFormat() Format

	CreateBuffer(info BufferInfo) (Buffer, error)
	DestroyBuffer(b Buffer)
	CreateImage(info ImageInfo) (Image, error)
	DestroyImage(img Image)
	CreateSampler(info SamplerInfo) (Sampler, error)
	DestroySampler(s Sampler)
	CreateShaderModule(stage ShaderStage, code []byte) (ShaderModule, error)
	DestroyShaderModule(m ShaderModule)

	CreateRenderPass(info RenderPassInfo) (RenderPass, error)
	DestroyRenderPass(rp RenderPass)
	CreateFramebuffer(rp RenderPass, attachments []Image, extent Extent2D) (Framebuffer, error)
	DestroyFramebuffer(fb Framebuffer)

	CreatePipelineLayout(iface *ShaderInterface, bindless BindlessTable) (PipelineLayout, error)
	DestroyPipelineLayout(l PipelineLayout)
	CreateGraphicsPipeline(info *GraphicsPipelineInfo) (Pipeline, error)
	CreateComputePipeline(info *ComputePipelineInfo) (Pipeline, error)
	DestroyPipeline(p Pipeline)

	CreateDescriptorPool(maxSets uint32) (DescriptorPool, error)
	DestroyDescriptorPool(p DescriptorPool)
	UpdateDescriptorSets(writes []DescriptorWrite)
	CreateBindlessTable(capacity BindlessCapacity) (BindlessTable, error)
	DestroyBindlessTable(t BindlessTable)

	// WaitFrame blocks until the GPU finished the work last submitted on
	// the frame slot. It returns ErrTimeout or ErrDeviceLost.
	WaitFrame(ctx context.Context, frame int) error
	// BeginFrame acquires the next swapchain image and starts recording the
	// slot's command buffer. ErrSwapchainOutOfDate asks for a Resize.
	BeginFrame(ctx context.Context, frame int) (*Frame, error)
	Submit(frame *Frame) error
	// Discard gives up a frame whose recording failed. The acquired image
	// is presented untouched and the slot's fence is signalled, so the slot
	// can be waited on again.
	Discard(frame *Frame) error
	// Immediate records fn into a one-off command buffer and blocks until
	// it completed.
	Immediate(ctx context.Context, fn func(cmd CommandBuffer)) error
	// TimestampResults reads the first count queries written on the frame
	// slot. Values are raw ticks, see Limits.TimestampPeriod.
	TimestampResults(frame int, count uint32) ([]uint64, error)

	Resize(width, height uint32) error
	WaitIdle() error
	Destroy()
}
