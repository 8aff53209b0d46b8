package graph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

type ResourceKind uint8

const (
	KindImage ResourceKind = iota
	KindBuffer
)

func (k ResourceKind) String() string {
	if k == KindBuffer {
		return "buffer"
	}
	return "image"
}

type ImageDesc struct {
	Format    gpu.Format
	Extent    gpu.Extent2D
	MipLevels uint32
}

type BufferDesc struct {
	Size        uint64
	HostVisible bool
}

// Resource is one slot of the graph. Kind selects which of Image and
// Buffer is meaningful.
type Resource struct {
	Kind   ResourceKind
	Label  string
	Image  ImageDesc
	Buffer BufferDesc

	// Usage ORed in by the passes declared this frame.
	ImageUsage  gpu.ImageUsage
	BufferUsage gpu.BufferUsage

	index    int
	declared bool
	free     bool
	imported bool

	// Handles bound by the caller. Resources without one are allocated by
	// the graph on Compile.
	image  resources.ImageHandle
	buffer resources.BufferHandle
	ref    resources.Ref
	// Layout the frame leaves the image in.
	layout gpu.ImageLayout
	// Layout requested for the end of the frame, if any.
	final gpu.ImageLayout
}

// bindingKey identifies a physical resource bound to a slot this frame.
type bindingKey struct {
	kind ResourceKind
	ref  resources.Ref
}

func (r *Resource) Index() int { return r.index }

// External reports whether the caller supplied the physical resource.
func (r *Resource) External() bool {
	return r.image.IsValid() || r.buffer.IsValid()
}

// Ref is the physical resource the slot resolved to on the last Compile.
func (r *Resource) Ref() resources.Ref { return r.ref }

func (g *Graph) resource(index int) *Resource {
	if index < 0 || index >= len(g.resources) {
		panic(fmt.Sprintf("graph: resource %d out of range [0, %d)", index, len(g.resources)))
	}
	return g.resources[index]
}

func (g *Graph) declare(label string, kind ResourceKind) *Resource {
	if index, ok := g.labels[label]; ok {
		r := g.resources[index]
		if r.Kind != kind {
			panic(fmt.Sprintf("graph: %q redeclared as %s, was %s", label, kind, r.Kind))
		}
		r.declared = true
		return r
	}
	r := &Resource{Kind: kind, Label: label, index: len(g.resources), declared: true}
	g.resources = append(g.resources, r)
	g.labels[label] = r.index
	return r
}

// AddImageResource declares an image. Declaring a label again updates the
// existing slot, and rebinds it when handle is not empty, so a persistent
// image keeps its index from frame to frame. A handle already bound to
// another slot this frame makes label name that slot until the next Reset,
// so every access of the image is ordered against the others.
func (g *Graph) AddImageResource(label string, desc ImageDesc, handle resources.ImageHandle) int {
	g.mustDeclare("AddImageResource")
	if index, ok := g.boundTo(KindImage, handle.Ref()); ok {
		return g.share(label, index)
	}
	r := g.declare(label, KindImage)
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	r.Image = desc
	if handle.IsValid() && handle.Ref() != r.image.Ref() {
		r.image.Release()
		r.image = handle.Clone()
	}
	if r.image.IsValid() {
		g.bind(KindImage, r.image.Ref(), r.index)
	}
	return r.index
}

func (g *Graph) AddBufferResource(label string, desc BufferDesc, handle resources.BufferHandle) int {
	g.mustDeclare("AddBufferResource")
	if index, ok := g.boundTo(KindBuffer, handle.Ref()); ok {
		return g.share(label, index)
	}
	r := g.declare(label, KindBuffer)
	r.Buffer = desc
	if handle.IsValid() && handle.Ref() != r.buffer.Ref() {
		r.buffer.Release()
		r.buffer = handle.Clone()
	}
	if r.buffer.IsValid() {
		g.bind(KindBuffer, r.buffer.Ref(), r.index)
	}
	return r.index
}

// ImportImage binds an image for this frame only. The slot is anonymous and
// its handle is released by the next Reset. Importing an image already
// bound this frame returns that slot.
func (g *Graph) ImportImage(handle resources.ImageHandle) int {
	g.mustDeclare("ImportImage")
	if !handle.IsValid() {
		panic("graph: ImportImage of an empty handle")
	}
	if index, ok := g.boundTo(KindImage, handle.Ref()); ok {
		return index
	}
	info := handle.Get().Info
	r := g.anonymousSlot(KindImage, true)
	r.Image = ImageDesc{Format: info.Format, Extent: info.Extent.To2D(), MipLevels: max(info.MipLevels, 1)}
	r.image = handle.Clone()
	g.bind(KindImage, handle.Ref(), r.index)
	return r.index
}

func (g *Graph) ImportBuffer(handle resources.BufferHandle) int {
	g.mustDeclare("ImportBuffer")
	if !handle.IsValid() {
		panic("graph: ImportBuffer of an empty handle")
	}
	if index, ok := g.boundTo(KindBuffer, handle.Ref()); ok {
		return index
	}
	info := handle.Get().Info
	r := g.anonymousSlot(KindBuffer, true)
	r.Buffer = BufferDesc{Size: info.Size, HostVisible: info.HostVisible}
	r.buffer = handle.Clone()
	g.bind(KindBuffer, handle.Ref(), r.index)
	return r.index
}

// SetFinalLayout asks for an image to be left in layout once the frame is
// done with it. Images the frame does not touch keep their layout.
func (g *Graph) SetFinalLayout(index int, layout gpu.ImageLayout) {
	g.mustDeclare("SetFinalLayout")
	r := g.resource(index)
	if r.Kind != KindImage {
		panic(fmt.Sprintf("graph: final layout of %s %q", r.Kind, r.Label))
	}
	r.final = layout
}

func (g *Graph) boundTo(kind ResourceKind, ref resources.Ref) (int, bool) {
	if !ref.IsValid() {
		return 0, false
	}
	index, ok := g.bound[bindingKey{kind: kind, ref: ref}]
	return index, ok
}

func (g *Graph) bind(kind ResourceKind, ref resources.Ref, index int) {
	g.bound[bindingKey{kind: kind, ref: ref}] = index
}

// share points label at index for the frame, remembering what it named
// before so Reset can restore it.
func (g *Graph) share(label string, index int) int {
	current, ok := g.labels[label]
	if ok && current == index {
		return index
	}
	if _, saved := g.shared[label]; !saved {
		if !ok {
			current = -1
		}
		g.shared[label] = current
	}
	g.labels[label] = index
	return index
}

// anonymousSlot hands out a slot freed by the last Reset, keeping its
// label so the allocation behind it is reused. Imported and transient
// slots are pooled apart so imports never take over an allocation.
func (g *Graph) anonymousSlot(kind ResourceKind, imported bool) *Resource {
	for _, index := range g.anonymous {
		r := g.resources[index]
		if r.free && r.Kind == kind && r.imported == imported {
			r.free = false
			r.declared = true
			g.labels[r.Label] = index
			return r
		}
	}
	r := g.declare(uuid.NewString(), kind)
	r.imported = imported
	g.anonymous = append(g.anonymous, r.index)
	return r
}

// AddTransientImage declares an image that only lives for the frame.
func (g *Graph) AddTransientImage(desc ImageDesc) int {
	g.mustDeclare("AddTransientImage")
	r := g.anonymousSlot(KindImage, false)
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	r.Image = desc
	return r.index
}

func (g *Graph) AddTransientBuffer(desc BufferDesc) int {
	g.mustDeclare("AddTransientBuffer")
	r := g.anonymousSlot(KindBuffer, false)
	r.Buffer = desc
	return r.index
}

// AddAlias makes alias resolve to the resource of label.
func (g *Graph) AddAlias(label, alias string) int {
	index, ok := g.labels[label]
	if !ok {
		panic(fmt.Sprintf("graph: alias %q of unknown resource %q", alias, label))
	}
	if other, taken := g.labels[alias]; taken && other != index {
		panic(fmt.Sprintf("graph: alias %q already names resource %d", alias, other))
	}
	g.labels[alias] = index
	return index
}

// Lookup returns the index of a label or alias.
func (g *Graph) Lookup(label string) (int, bool) {
	index, ok := g.labels[label]
	return index, ok
}

func (g *Graph) Resource(index int) *Resource {
	return g.resource(index)
}

func (g *Graph) Resources() []*Resource {
	return g.resources
}

// Image returns the physical image of a resource. It is the zero Ref for
// buffers and for graph owned resources no pass used this frame.
func (g *Graph) Image(index int) resources.Ref {
	g.mustBeCompiled("Image")
	if index < 0 || index >= len(g.resources) {
		return resources.Ref{}
	}
	r := g.resources[index]
	if r.Kind != KindImage {
		return resources.Ref{}
	}
	return r.ref
}

func (g *Graph) ImageByLabel(label string) resources.Ref {
	index, ok := g.labels[label]
	if !ok {
		g.mustBeCompiled("ImageByLabel")
		return resources.Ref{}
	}
	return g.Image(index)
}

func (g *Graph) Buffer(index int) resources.Ref {
	g.mustBeCompiled("Buffer")
	if index < 0 || index >= len(g.resources) {
		return resources.Ref{}
	}
	r := g.resources[index]
	if r.Kind != KindBuffer {
		return resources.Ref{}
	}
	return r.ref
}

func (g *Graph) BufferByLabel(label string) resources.Ref {
	index, ok := g.labels[label]
	if !ok {
		g.mustBeCompiled("BufferByLabel")
		return resources.Ref{}
	}
	return g.Buffer(index)
}
