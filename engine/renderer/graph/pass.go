package graph

import (
	"fmt"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type PassType uint8

const (
	PassGraphics PassType = iota
	PassCompute
	PassTransfer
)

func (t PassType) String() string {
	switch t {
	case PassGraphics:
		return "graphics"
	case PassCompute:
		return "compute"
	case PassTransfer:
		return "transfer"
	}
	return fmt.Sprintf("PassType(%d)", uint8(t))
}

type attachmentKind uint8

const (
	attachmentNone attachmentKind = iota
	attachmentColour
	attachmentDepth
)

type access struct {
	resource   int
	stage      gpu.PipelineStage
	access     gpu.Access
	layout     gpu.ImageLayout
	attachment attachmentKind
	clear      gpu.ClearValue

	// Set by Compile: first access of the resource in the frame, and
	// whether a later access follows.
	first bool
	later bool
}

// Barrier moves a resource from the state of its previous access to the
// state of the access of the pass it is attached to. Layouts are only
// meaningful for images.
type Barrier struct {
	Resource  int
	SrcStage  gpu.PipelineStage
	DstStage  gpu.PipelineStage
	SrcAccess gpu.Access
	DstAccess gpu.Access
	OldLayout gpu.ImageLayout
	NewLayout gpu.ImageLayout
}

type Attachment struct {
	Resource int
	Info     gpu.AttachmentInfo
	Clear    gpu.ClearValue
}

// Pass is a node of the graph. The Add methods declare what it touches and
// return the pass, so declarations chain.
type Pass struct {
	graph *Graph
	index int

	Label string
	Type  PassType

	group       string
	colour      [4]float32
	callback    Callback
	sideEffects bool
	accesses    []access

	barriers    []Barrier
	attachments []Attachment
	renderPass  gpu.RenderPass
	framebuffer gpu.Framebuffer
	extent      gpu.Extent2D
}

// AddPass appends a pass. Passes can only be added while declaring.
func (g *Graph) AddPass(label string, t PassType) *Pass {
	g.mustDeclare("AddPass")
	p := &Pass{
		graph:  g,
		index:  len(g.passes),
		Label:  label,
		Type:   t,
		colour: [4]float32{1, 1, 1, 1},
	}
	g.passes = append(g.passes, p)
	return p
}

func (g *Graph) Passes() []*Pass { return g.passes }

func (p *Pass) Index() int { return p.index }

func (p *Pass) SetDebugGroup(group string) *Pass {
	p.group = group
	return p
}

func (p *Pass) SetColour(colour [4]float32) *Pass {
	p.colour = colour
	return p
}

func (p *Pass) SetCallback(cb Callback) *Pass {
	p.callback = cb
	return p
}

// SetSideEffects keeps the pass alive even when nothing it writes reaches
// the backbuffer, e.g. uploads and readbacks.
func (p *Pass) SetSideEffects(enabled bool) *Pass {
	p.sideEffects = enabled
	return p
}

// Barriers returns the barriers emitted before the pass. Valid after
// Compile.
func (p *Pass) Barriers() []Barrier { return p.barriers }

// Attachments lists the render pass attachments of a graphics pass, colour
// attachments first.
func (p *Pass) Attachments() []Attachment { return p.attachments }

func (p *Pass) RenderPass() gpu.RenderPass   { return p.renderPass }
func (p *Pass) Framebuffer() gpu.Framebuffer { return p.framebuffer }

// Reads lists the resources the pass reads without writing.
func (p *Pass) Reads() []int {
	var out []int
	for _, a := range p.accesses {
		if !a.access.IsWrite() {
			out = append(out, a.resource)
		}
	}
	return out
}

func (p *Pass) Writes() []int {
	var out []int
	for _, a := range p.accesses {
		if a.access.IsWrite() {
			out = append(out, a.resource)
		}
	}
	return out
}

func (p *Pass) shaderStage() gpu.PipelineStage {
	switch p.Type {
	case PassCompute:
		return gpu.StageComputeShader
	case PassTransfer:
		return gpu.StageTransfer
	}
	return gpu.StageVertexShader | gpu.StageFragmentShader
}

func (p *Pass) add(res int, kind ResourceKind, a access, imageUsage gpu.ImageUsage, bufferUsage gpu.BufferUsage) *Pass {
	g := p.graph
	g.mustDeclare("adding an access to pass " + p.Label)
	r := g.resource(res)
	if r.Kind != kind {
		panic(fmt.Sprintf("graph: pass %s uses %s %q as %s", p.Label, r.Kind, r.Label, kind))
	}
	if a.attachment != attachmentNone && p.Type != PassGraphics {
		panic(fmt.Sprintf("graph: %s pass %s declares attachment %q", p.Type, p.Label, r.Label))
	}
	r.ImageUsage |= imageUsage
	r.BufferUsage |= bufferUsage
	a.resource = res

	for i := range p.accesses {
		prev := &p.accesses[i]
		if prev.resource != res {
			continue
		}
		prev.stage |= a.stage
		prev.access |= a.access
		if prev.layout != a.layout {
			prev.layout = gpu.LayoutGeneral
		}
		if a.attachment > prev.attachment {
			prev.attachment = a.attachment
			prev.clear = a.clear
		}
		return p
	}
	p.accesses = append(p.accesses, a)
	return p
}

func (p *Pass) AddColourWrite(res int, clear gpu.ClearValue) *Pass {
	return p.add(res, KindImage, access{
		stage:      gpu.StageColorAttachmentOutput,
		access:     gpu.AccessColorAttachmentRead | gpu.AccessColorAttachmentWrite,
		layout:     gpu.LayoutColorAttachment,
		attachment: attachmentColour,
		clear:      clear,
	}, gpu.ImageUsageColorAttachment, 0)
}

func (p *Pass) AddDepthWrite(res int, clear gpu.ClearValue) *Pass {
	return p.add(res, KindImage, access{
		stage:      gpu.StageEarlyFragmentTests | gpu.StageLateFragmentTests,
		access:     gpu.AccessDepthStencilAttachmentRead | gpu.AccessDepthStencilAttachmentWrite,
		layout:     gpu.LayoutDepthStencilAttachment,
		attachment: attachmentDepth,
		clear:      clear,
	}, gpu.ImageUsageDepthAttachment, 0)
}

// AddDepthRead binds a read only depth attachment: depth tests run, writes
// do not.
func (p *Pass) AddDepthRead(res int) *Pass {
	return p.add(res, KindImage, access{
		stage:      gpu.StageEarlyFragmentTests | gpu.StageLateFragmentTests,
		access:     gpu.AccessDepthStencilAttachmentRead,
		layout:     gpu.LayoutDepthStencilReadOnly,
		attachment: attachmentDepth,
	}, gpu.ImageUsageDepthAttachment, 0)
}

func (p *Pass) AddSampledImageRead(res int) *Pass {
	layout := gpu.LayoutShaderReadOnly
	if p.graph.resource(res).Image.Format.IsDepth() {
		layout = gpu.LayoutDepthStencilReadOnly
	}
	return p.add(res, KindImage, access{
		stage:  p.shaderStage(),
		access: gpu.AccessShaderRead,
		layout: layout,
	}, gpu.ImageUsageSampled, 0)
}

func (p *Pass) AddStorageImageRead(res int) *Pass {
	return p.add(res, KindImage, access{
		stage:  p.shaderStage(),
		access: gpu.AccessShaderRead,
		layout: gpu.LayoutGeneral,
	}, gpu.ImageUsageStorage, 0)
}

func (p *Pass) AddStorageImageWrite(res int) *Pass {
	return p.add(res, KindImage, access{
		stage:  p.shaderStage(),
		access: gpu.AccessShaderWrite,
		layout: gpu.LayoutGeneral,
	}, gpu.ImageUsageStorage, 0)
}

func (p *Pass) AddStorageBufferRead(res int) *Pass {
	return p.add(res, KindBuffer, access{
		stage:  p.shaderStage(),
		access: gpu.AccessShaderRead,
	}, 0, gpu.BufferUsageStorage)
}

func (p *Pass) AddStorageBufferWrite(res int) *Pass {
	return p.add(res, KindBuffer, access{
		stage:  p.shaderStage(),
		access: gpu.AccessShaderWrite,
	}, 0, gpu.BufferUsageStorage)
}

func (p *Pass) AddUniformBufferRead(res int) *Pass {
	return p.add(res, KindBuffer, access{
		stage:  p.shaderStage(),
		access: gpu.AccessUniformRead,
	}, 0, gpu.BufferUsageUniform)
}

// AddIndirectRead declares a buffer of indirect draw or dispatch arguments,
// including the count buffer of the Count variants.
func (p *Pass) AddIndirectRead(res int) *Pass {
	return p.add(res, KindBuffer, access{
		stage:  gpu.StageDrawIndirect,
		access: gpu.AccessIndirectCommandRead,
	}, 0, gpu.BufferUsageIndirect)
}

func (p *Pass) AddVertexBufferRead(res int) *Pass {
	return p.add(res, KindBuffer, access{
		stage:  gpu.StageVertexInput,
		access: gpu.AccessVertexAttributeRead,
	}, 0, gpu.BufferUsageVertex)
}

func (p *Pass) AddIndexBufferRead(res int) *Pass {
	return p.add(res, KindBuffer, access{
		stage:  gpu.StageVertexInput,
		access: gpu.AccessIndexRead,
	}, 0, gpu.BufferUsageIndex)
}

func (p *Pass) AddTransferRead(res int) *Pass {
	kind := p.graph.resource(res).Kind
	return p.add(res, kind, access{
		stage:  gpu.StageTransfer,
		access: gpu.AccessTransferRead,
		layout: imageLayout(kind, gpu.LayoutTransferSrc),
	}, imageUsage(kind, gpu.ImageUsageTransferSrc), bufferUsage(kind, gpu.BufferUsageTransferSrc))
}

func (p *Pass) AddTransferWrite(res int) *Pass {
	kind := p.graph.resource(res).Kind
	return p.add(res, kind, access{
		stage:  gpu.StageTransfer,
		access: gpu.AccessTransferWrite,
		layout: imageLayout(kind, gpu.LayoutTransferDst),
	}, imageUsage(kind, gpu.ImageUsageTransferDst), bufferUsage(kind, gpu.BufferUsageTransferDst))
}

func imageLayout(kind ResourceKind, layout gpu.ImageLayout) gpu.ImageLayout {
	if kind == KindImage {
		return layout
	}
	return gpu.LayoutUndefined
}

func imageUsage(kind ResourceKind, usage gpu.ImageUsage) gpu.ImageUsage {
	if kind == KindImage {
		return usage
	}
	return 0
}

func bufferUsage(kind ResourceKind, usage gpu.BufferUsage) gpu.BufferUsage {
	if kind == KindBuffer {
		return usage
	}
	return 0
}
