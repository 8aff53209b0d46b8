package gpu

const (
	// MaxDescriptorSets is the number of per-draw descriptor sets a program
	// may use. The bindless table is bound right after them.
	MaxDescriptorSets     = 3
	BindlessSetIndex      = MaxDescriptorSets
	MaxDescriptorBindings = 16
	MaxColorAttachments   = 8
	MaxVertexAttributes   = 16
	MaxVertexBindings     = 8
)

// Bindless table bindings.
const (
	BindlessStorageBuffers uint32 = 0
	BindlessSampledImages  uint32 = 1
	BindlessStorageImages  uint32 = 2
	BindlessSamplers       uint32 = 3
)

type Extent2D struct {
	Width, Height uint32
}

type Extent3D struct {
	Width, Height, Depth uint32
}

// To2D drops the depth component.
func (e Extent3D) To2D() Extent2D {
	return Extent2D{Width: e.Width, Height: e.Height}
}

type Offset2D struct {
	X, Y int32
}

type Rect2D struct {
	Offset Offset2D
	Extent Extent2D
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// FullViewport covers extent with the [0, 1] depth range.
func FullViewport(extent Extent2D) Viewport {
	return Viewport{Width: float32(extent.Width), Height: float32(extent.Height), MaxDepth: 1}
}

type BufferInfo struct {
	Size        uint64
	Usage       BufferUsage
	HostVisible bool
	Label       string
}

type ImageInfo struct {
	Format      Format
	Extent      Extent3D
	MipLevels   uint32
	ArrayLayers uint32
	Usage       ImageUsage
	Label       string
}

// SamplerInfo is comparable so equal configurations can share one sampler.
type SamplerInfo struct {
	MagFilter     Filter
	MinFilter     Filter
	Mipmap        MipmapMode
	AddressU      AddressMode
	AddressV      AddressMode
	AddressW      AddressMode
	MaxAnisotropy float32
	CompareEnable bool
	Compare       CompareOp
	MinLod        float32
	MaxLod        float32
	Border        BorderColor
}

// DefaultSamplerInfo is a linear, repeating sampler.
func DefaultSamplerInfo() SamplerInfo {
	return SamplerInfo{
		MagFilter: FilterLinear,
		MinFilter: FilterLinear,
		Mipmap:    MipmapLinear,
		AddressU:  AddressRepeat,
		AddressV:  AddressRepeat,
		AddressW:  AddressRepeat,
		MaxLod:    1000,
		Compare:   CompareAlways,
	}
}

type RasterState struct {
	Polygon   PolygonMode
	Cull      CullMode
	FrontFace FrontFace
	Topology  Topology
	DepthBias bool
	LineWidth float32
}

func DefaultRasterState() RasterState {
	return RasterState{
		Polygon:   PolygonFill,
		Cull:      CullBack,
		FrontFace: FrontFaceCounterClockwise,
		Topology:  TopologyTriangleList,
		LineWidth: 1,
	}
}

type DepthState struct {
	Test    bool
	Write   bool
	Compare CompareOp
}

func DefaultDepthState() DepthState {
	return DepthState{Test: true, Write: true, Compare: CompareGreaterOrEqual}
}

type BlendState struct {
	Enable    bool
	SrcColor  BlendFactor
	DstColor  BlendFactor
	ColorOp   BlendOp
	SrcAlpha  BlendFactor
	DstAlpha  BlendFactor
	AlphaOp   BlendOp
	WriteMask ColorComponent
}

func DefaultBlendState() BlendState {
	return BlendState{
		SrcColor:  BlendOne,
		DstColor:  BlendZero,
		SrcAlpha:  BlendOne,
		DstAlpha:  BlendZero,
		WriteMask: ColorComponentRGBA,
	}
}

// AlphaBlendState is the usual "over" operator.
func AlphaBlendState() BlendState {
	return BlendState{
		Enable:    true,
		SrcColor:  BlendSrcAlpha,
		DstColor:  BlendOneMinusSrcAlpha,
		SrcAlpha:  BlendOne,
		DstAlpha:  BlendOneMinusSrcAlpha,
		WriteMask: ColorComponentRGBA,
	}
}

type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   Format
	Offset   uint32
}

type VertexBinding struct {
	Binding uint32
	Stride  uint32
	Rate    VertexInputRate
}

type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

type AttachmentInfo struct {
	Format  Format
	Load    LoadOp
	Store   StoreOp
	Initial ImageLayout
	Final   ImageLayout
}

// RenderPassInfo is comparable and doubles as the render pass cache key.
type RenderPassInfo struct {
	ColorCount uint32
	Colors     [MaxColorAttachments]AttachmentInfo
	HasDepth   bool
	Depth      AttachmentInfo
}

type BufferBarrier struct {
	Buffer    Buffer
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess Access
	DstAccess Access
	Offset    uint64
	// Zero means the whole buffer.
	Size uint64
}

type ImageBarrier struct {
	Image     Image
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess Access
	DstAccess Access
	OldLayout ImageLayout
	NewLayout ImageLayout
}

type BufferCopy struct {
	SrcOffset, DstOffset, Size uint64
}

type BufferImageCopy struct {
	BufferOffset uint64
	MipLevel     uint32
	Extent       Extent3D
}

// Limits are queried once at device creation.
type Limits struct {
	MaxBindlessBuffers  uint32
	MaxBindlessImages   uint32
	MaxBindlessSamplers uint32
	MaxPushConstantSize uint32
	MaxTimestamps       uint32
	// Nanoseconds per timestamp tick.
	TimestampPeriod                 float32
	MinStorageBufferOffsetAlignment uint64
	MeshShaders                     bool
}

type BindlessCapacity struct {
	Buffers  uint32
	Images   uint32
	Samplers uint32
}
