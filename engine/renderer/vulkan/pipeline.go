package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// PipelineLayout owns the per-draw set layouts. The bindless set layout
// belongs to its table.
type PipelineLayout struct {
	Handle     vk.PipelineLayout
	SetLayouts [gpu.MaxDescriptorSets]vk.DescriptorSetLayout
	iface      *gpu.ShaderInterface
}

func (l *PipelineLayout) Interface() *gpu.ShaderInterface { return l.iface }

type VulkanPipeline struct {
	Handle    vk.Pipeline
	bindPoint gpu.PipelineBindPoint
}

func (p *VulkanPipeline) BindPoint() gpu.PipelineBindPoint { return p.bindPoint }

func PipelineLayoutCreate(context *VulkanContext, iface *gpu.ShaderInterface, bindless *BindlessTable) (*PipelineLayout, error) {
	layout := &PipelineLayout{iface: iface}
	setLayouts := make([]vk.DescriptorSetLayout, 0, gpu.MaxDescriptorSets+1)
	for i := range iface.Sets {
		sl, err := descriptorSetLayout(context, iface.Sets[i])
		if err != nil {
			layout.Destroy(context)
			return nil, err
		}
		layout.SetLayouts[i] = sl
		setLayouts = append(setLayouts, sl)
	}
	if bindless != nil {
		setLayouts = append(setLayouts, bindless.Layout)
	}

	// Pipeline layout
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}

	// Push constants
	if iface.PushConstantSize > 0 {
		limit := context.Device.Properties.Limits.MaxPushConstantsSize
		if iface.PushConstantSize > limit {
			layout.Destroy(context)
			return nil, fmt.Errorf("push constants of %d bytes exceed the device limit of %d", iface.PushConstantSize, limit)
		}
		pipelineLayoutCreateInfo.PushConstantRangeCount = 1
		pipelineLayoutCreateInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(iface.Stages),
			Size:       iface.PushConstantSize,
		}}
	}

	var pPipelineLayout vk.PipelineLayout
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		result := vk.CreatePipelineLayout(
			context.Device.LogicalDevice,
			&pipelineLayoutCreateInfo,
			context.Allocator,
			&pPipelineLayout)
		return resultError("vkCreatePipelineLayout", result)
	}); err != nil {
		layout.Destroy(context)
		return nil, err
	}
	layout.Handle = pPipelineLayout
	return layout, nil
}

func (l *PipelineLayout) Destroy(context *VulkanContext) {
	if l.Handle != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(context.Device.LogicalDevice, l.Handle, context.Allocator)
		l.Handle = vk.NullPipelineLayout
	}
	for i, sl := range l.SetLayouts {
		if sl != vk.NullDescriptorSetLayout {
			vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, sl, context.Allocator)
			l.SetLayouts[i] = vk.NullDescriptorSetLayout
		}
	}
}

func boolean(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

func NewGraphicsPipeline(context *VulkanContext, info *gpu.GraphicsPipelineInfo) (*VulkanPipeline, error) {
	layout, ok := info.Layout.(*PipelineLayout)
	if !ok {
		return nil, fmt.Errorf("graphics pipeline %q: invalid layout", info.Label)
	}
	renderpass, ok := info.RenderPass.(*VulkanRenderPass)
	if !ok {
		return nil, fmt.Errorf("graphics pipeline %q: invalid render pass", info.Label)
	}
	stages := make([]vk.PipelineShaderStageCreateInfo, 0, len(info.Shaders))
	for _, m := range info.Shaders {
		stages = append(stages, m.(*VulkanShaderStage).createInfo())
	}

	// Viewport and scissor are dynamic.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	// Rasterizer
	raster := info.Raster
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:           vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode:     vk.PolygonMode(raster.Polygon),
		CullMode:        vk.CullModeFlags(raster.Cull),
		FrontFace:       vk.FrontFace(raster.FrontFace),
		LineWidth:       max(raster.LineWidth, 1),
		DepthBiasEnable: boolean(raster.DepthBias),
	}
	if raster.DepthBias {
		rasterizerCreateInfo.DepthBiasConstantFactor = depthBiasConstant
		rasterizerCreateInfo.DepthBiasSlopeFactor = depthBiasSlope
	}

	// Multisampling.
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	// Depth and stencil testing.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:  boolean(info.Depth.Test),
		DepthWriteEnable: boolean(info.Depth.Write),
		DepthCompareOp:   vk.CompareOp(info.Depth.Compare),
	}

	colorCount := renderpass.info.ColorCount
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, colorCount)
	for i := range blendAttachments {
		b := info.Blend[i]
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         boolean(b.Enable),
			SrcColorBlendFactor: vk.BlendFactor(b.SrcColor),
			DstColorBlendFactor: vk.BlendFactor(b.DstColor),
			ColorBlendOp:        vk.BlendOp(b.ColorOp),
			SrcAlphaBlendFactor: vk.BlendFactor(b.SrcAlpha),
			DstAlphaBlendFactor: vk.BlendFactor(b.DstAlpha),
			AlphaBlendOp:        vk.BlendOp(b.AlphaOp),
			ColorWriteMask:      vk.ColorComponentFlags(b.WriteMask),
		}
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: colorCount,
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

	// Vertex input
	bindings := make([]vk.VertexInputBindingDescription, len(info.Bindings))
	for i, b := range info.Bindings {
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   b.Binding,
			Stride:    b.Stride,
			InputRate: vk.VertexInputRate(b.Rate),
		}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(info.Attributes))
	for i, a := range info.Attributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Binding,
			Format:   vk.Format(a.Format),
			Offset:   a.Offset,
		}
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	// Input assembly
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopology(raster.Topology),
	}

	// Pipeline create
	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              layout.Handle,
		RenderPass:          renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pPipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		result := vk.CreateGraphicsPipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pPipelines)
		return resultError("vkCreateGraphicsPipelines", result)
	}); err != nil {
		return nil, fmt.Errorf("graphics pipeline %q: %w", info.Label, err)
	}

	core.LogDebug("Graphics pipeline %q created!", info.Label)
	return &VulkanPipeline{Handle: pPipelines[0], bindPoint: gpu.BindPointGraphics}, nil
}

func NewComputePipeline(context *VulkanContext, info *gpu.ComputePipelineInfo) (*VulkanPipeline, error) {
	layout, ok := info.Layout.(*PipelineLayout)
	if !ok {
		return nil, fmt.Errorf("compute pipeline %q: invalid layout", info.Label)
	}
	shader, ok := info.Shader.(*VulkanShaderStage)
	if !ok {
		return nil, fmt.Errorf("compute pipeline %q: invalid shader", info.Label)
	}
	createInfo := vk.ComputePipelineCreateInfo{
		SType:             vk.StructureTypeComputePipelineCreateInfo,
		Stage:             shader.createInfo(),
		Layout:            layout.Handle,
		BasePipelineIndex: -1,
	}
	pPipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		result := vk.CreateComputePipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.ComputePipelineCreateInfo{createInfo},
			context.Allocator,
			pPipelines)
		return resultError("vkCreateComputePipelines", result)
	}); err != nil {
		return nil, fmt.Errorf("compute pipeline %q: %w", info.Label, err)
	}

	core.LogDebug("Compute pipeline %q created!", info.Label)
	return &VulkanPipeline{Handle: pPipelines[0], bindPoint: gpu.BindPointCompute}, nil
}

func (pipeline *VulkanPipeline) Destroy(context *VulkanContext) {
	if pipeline.Handle != vk.NullPipeline {
		vk.DestroyPipeline(context.Device.LogicalDevice, pipeline.Handle, context.Allocator)
		pipeline.Handle = vk.NullPipeline
	}
}
