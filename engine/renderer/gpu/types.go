package gpu

// The numeric values of the enums and flags below match their Vulkan
// counterparts so the vulkan backend converts them with a plain cast.

type Format uint32

const (
	FormatUndefined          Format = 0
	FormatR8G8B8A8Unorm      Format = 37
	FormatR8G8B8A8Srgb       Format = 43
	FormatB8G8R8A8Unorm      Format = 44
	FormatB8G8R8A8Srgb       Format = 50
	FormatR16G16Sfloat       Format = 83
	FormatR16G16B16A16Sfloat Format = 97
	FormatR32Uint            Format = 98
	FormatR32Sfloat          Format = 100
	FormatR32G32Uint         Format = 101
	FormatR32G32Sfloat       Format = 103
	FormatR32G32B32Sfloat    Format = 106
	FormatR32G32B32A32Sfloat Format = 109
	FormatB10G11R11Ufloat    Format = 122
	FormatD16Unorm           Format = 124
	FormatD32Sfloat          Format = 126
	FormatD24UnormS8Uint     Format = 129
	FormatD32SfloatS8Uint    Format = 130
)

// IsDepth reports whether f has a depth aspect.
func (f Format) IsDepth() bool {
	switch f {
	case FormatD16Unorm, FormatD32Sfloat, FormatD24UnormS8Uint, FormatD32SfloatS8Uint:
		return true
	}
	return false
}

// HasStencil reports whether f has a stencil aspect.
func (f Format) HasStencil() bool {
	return f == FormatD24UnormS8Uint || f == FormatD32SfloatS8Uint
}

type BufferUsage uint32

const (
	BufferUsageTransferSrc  BufferUsage = 0x00000001
	BufferUsageTransferDst  BufferUsage = 0x00000002
	BufferUsageUniformTexel BufferUsage = 0x00000004
	BufferUsageStorageTexel BufferUsage = 0x00000008
	BufferUsageUniform      BufferUsage = 0x00000010
	BufferUsageStorage      BufferUsage = 0x00000020
	BufferUsageIndex        BufferUsage = 0x00000040
	BufferUsageVertex       BufferUsage = 0x00000080
	BufferUsageIndirect     BufferUsage = 0x00000100
)

type ImageUsage uint32

const (
	ImageUsageTransferSrc     ImageUsage = 0x00000001
	ImageUsageTransferDst     ImageUsage = 0x00000002
	ImageUsageSampled         ImageUsage = 0x00000004
	ImageUsageStorage         ImageUsage = 0x00000008
	ImageUsageColorAttachment ImageUsage = 0x00000010
	ImageUsageDepthAttachment ImageUsage = 0x00000020
	ImageUsageTransient       ImageUsage = 0x00000040
	ImageUsageInputAttachment ImageUsage = 0x00000080
)

type PipelineStage uint32

const (
	StageNone                  PipelineStage = 0
	StageTopOfPipe             PipelineStage = 0x00000001
	StageDrawIndirect          PipelineStage = 0x00000002
	StageVertexInput           PipelineStage = 0x00000004
	StageVertexShader          PipelineStage = 0x00000008
	StageFragmentShader        PipelineStage = 0x00000080
	StageEarlyFragmentTests    PipelineStage = 0x00000100
	StageLateFragmentTests     PipelineStage = 0x00000200
	StageColorAttachmentOutput PipelineStage = 0x00000400
	StageComputeShader         PipelineStage = 0x00000800
	StageTransfer              PipelineStage = 0x00001000
	StageBottomOfPipe          PipelineStage = 0x00002000
	StageHost                  PipelineStage = 0x00004000
	StageAllGraphics           PipelineStage = 0x00008000
	StageAllCommands           PipelineStage = 0x00010000
	StageTaskShader            PipelineStage = 0x00080000
	StageMeshShader            PipelineStage = 0x00100000
)

type Access uint32

const (
	AccessNone                        Access = 0
	AccessIndirectCommandRead         Access = 0x00000001
	AccessIndexRead                   Access = 0x00000002
	AccessVertexAttributeRead         Access = 0x00000004
	AccessUniformRead                 Access = 0x00000008
	AccessInputAttachmentRead         Access = 0x00000010
	AccessShaderRead                  Access = 0x00000020
	AccessShaderWrite                 Access = 0x00000040
	AccessColorAttachmentRead         Access = 0x00000080
	AccessColorAttachmentWrite        Access = 0x00000100
	AccessDepthStencilAttachmentRead  Access = 0x00000200
	AccessDepthStencilAttachmentWrite Access = 0x00000400
	AccessTransferRead                Access = 0x00000800
	AccessTransferWrite               Access = 0x00001000
	AccessHostRead                    Access = 0x00002000
	AccessHostWrite                   Access = 0x00004000
	AccessMemoryRead                  Access = 0x00008000
	AccessMemoryWrite                 Access = 0x00010000
)

const accessWriteMask = AccessShaderWrite | AccessColorAttachmentWrite |
	AccessDepthStencilAttachmentWrite | AccessTransferWrite | AccessHostWrite | AccessMemoryWrite

// IsWrite reports whether a contains any write access.
func (a Access) IsWrite() bool {
	return a&accessWriteMask != 0
}

type ImageLayout uint32

const (
	LayoutUndefined              ImageLayout = 0
	LayoutGeneral                ImageLayout = 1
	LayoutColorAttachment        ImageLayout = 2
	LayoutDepthStencilAttachment ImageLayout = 3
	LayoutDepthStencilReadOnly   ImageLayout = 4
	LayoutShaderReadOnly         ImageLayout = 5
	LayoutTransferSrc            ImageLayout = 6
	LayoutTransferDst            ImageLayout = 7
	LayoutPresentSrc             ImageLayout = 1000001002
)

type LoadOp uint32

const (
	LoadOpLoad     LoadOp = 0
	LoadOpClear    LoadOp = 1
	LoadOpDontCare LoadOp = 2
)

type StoreOp uint32

const (
	StoreOpStore    StoreOp = 0
	StoreOpDontCare StoreOp = 1
)

type PipelineBindPoint uint32

const (
	BindPointGraphics PipelineBindPoint = 0
	BindPointCompute  PipelineBindPoint = 1
)

func (p PipelineBindPoint) String() string {
	if p == BindPointCompute {
		return "compute"
	}
	return "graphics"
}

type ShaderStage uint32

const (
	ShaderStageVertex   ShaderStage = 0x00000001
	ShaderStageGeometry ShaderStage = 0x00000008
	ShaderStageFragment ShaderStage = 0x00000010
	ShaderStageCompute  ShaderStage = 0x00000020
	ShaderStageTask     ShaderStage = 0x00000040
	ShaderStageMesh     ShaderStage = 0x00000080

	ShaderStageAllGraphics ShaderStage = 0x0000001F
	ShaderStageAll         ShaderStage = 0x7FFFFFFF
)

type IndexType uint32

const (
	IndexTypeUint16 IndexType = 0
	IndexTypeUint32 IndexType = 1
)

type DescriptorType uint32

const (
	DescriptorSampler              DescriptorType = 0
	DescriptorCombinedImageSampler DescriptorType = 1
	DescriptorSampledImage         DescriptorType = 2
	DescriptorStorageImage         DescriptorType = 3
	DescriptorUniformBuffer        DescriptorType = 6
	DescriptorStorageBuffer        DescriptorType = 7
)

type Filter uint32

const (
	FilterNearest Filter = 0
	FilterLinear  Filter = 1
)

type MipmapMode uint32

const (
	MipmapNearest MipmapMode = 0
	MipmapLinear  MipmapMode = 1
)

type AddressMode uint32

const (
	AddressRepeat         AddressMode = 0
	AddressMirroredRepeat AddressMode = 1
	AddressClampToEdge    AddressMode = 2
	AddressClampToBorder  AddressMode = 3
)

type CompareOp uint32

const (
	CompareNever          CompareOp = 0
	CompareLess           CompareOp = 1
	CompareEqual          CompareOp = 2
	CompareLessOrEqual    CompareOp = 3
	CompareGreater        CompareOp = 4
	CompareNotEqual       CompareOp = 5
	CompareGreaterOrEqual CompareOp = 6
	CompareAlways         CompareOp = 7
)

type BorderColor uint32

const (
	BorderTransparentBlack BorderColor = 0
	BorderOpaqueBlack      BorderColor = 2
	BorderOpaqueWhite      BorderColor = 4
)

type PolygonMode uint32

const (
	PolygonFill  PolygonMode = 0
	PolygonLine  PolygonMode = 1
	PolygonPoint PolygonMode = 2
)

type CullMode uint32

const (
	CullNone         CullMode = 0
	CullFront        CullMode = 1
	CullBack         CullMode = 2
	CullFrontAndBack CullMode = 3
)

type FrontFace uint32

const (
	FrontFaceCounterClockwise FrontFace = 0
	FrontFaceClockwise        FrontFace = 1
)

type Topology uint32

const (
	TopologyPointList     Topology = 0
	TopologyLineList      Topology = 1
	TopologyTriangleList  Topology = 3
	TopologyTriangleStrip Topology = 4
)

type BlendFactor uint32

const (
	BlendZero             BlendFactor = 0
	BlendOne              BlendFactor = 1
	BlendSrcColor         BlendFactor = 2
	BlendOneMinusSrcColor BlendFactor = 3
	BlendSrcAlpha         BlendFactor = 6
	BlendOneMinusSrcAlpha BlendFactor = 7
)

type BlendOp uint32

const (
	BlendOpAdd      BlendOp = 0
	BlendOpSubtract BlendOp = 1
	BlendOpMin      BlendOp = 3
	BlendOpMax      BlendOp = 4
)

type ColorComponent uint32

const (
	ColorComponentR    ColorComponent = 0x1
	ColorComponentG    ColorComponent = 0x2
	ColorComponentB    ColorComponent = 0x4
	ColorComponentA    ColorComponent = 0x8
	ColorComponentRGBA ColorComponent = 0xF
)

type VertexInputRate uint32

const (
	InputRateVertex   VertexInputRate = 0
	InputRateInstance VertexInputRate = 1
)
