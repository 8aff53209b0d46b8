package gputest

import (
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// Every fake object carries the id it was created with. Ids are assigned
// from a single per-device counter, in creation order.

type Buffer struct {
	ID        int
	info      gpu.BufferInfo
	data      []byte
	Destroyed bool
}

func (b *Buffer) Info() gpu.BufferInfo { return b.info }

func (b *Buffer) Mapped() []byte {
	if !b.info.HostVisible {
		return nil
	}
	return b.data
}

// Contents returns the backing memory regardless of visibility.
func (b *Buffer) Contents() []byte { return b.data }

type Image struct {
	ID        int
	info      gpu.ImageInfo
	Swapchain bool
	Destroyed bool
}

func (i *Image) Info() gpu.ImageInfo { return i.info }

type Sampler struct {
	ID        int
	info      gpu.SamplerInfo
	Destroyed bool
}

func (s *Sampler) Info() gpu.SamplerInfo { return s.info }

type ShaderModule struct {
	ID        int
	stage     gpu.ShaderStage
	Code      []byte
	Destroyed bool
}

func (m *ShaderModule) Stage() gpu.ShaderStage { return m.stage }

type RenderPass struct {
	ID        int
	info      gpu.RenderPassInfo
	Destroyed bool
}

func (r *RenderPass) Info() gpu.RenderPassInfo { return r.info }

type Framebuffer struct {
	ID          int
	RenderPass  gpu.RenderPass
	Attachments []gpu.Image
	extent      gpu.Extent2D
	Destroyed   bool
}

func (f *Framebuffer) Extent() gpu.Extent2D { return f.extent }

type PipelineLayout struct {
	ID        int
	iface     *gpu.ShaderInterface
	Destroyed bool
}

func (l *PipelineLayout) Interface() *gpu.ShaderInterface { return l.iface }

type Pipeline struct {
	ID        int
	bindPoint gpu.PipelineBindPoint
	Graphics  *gpu.GraphicsPipelineInfo
	Compute   *gpu.ComputePipelineInfo
	Destroyed bool
}

func (p *Pipeline) BindPoint() gpu.PipelineBindPoint { return p.bindPoint }

type DescriptorSet struct {
	ID     int
	set    uint32
	Layout gpu.PipelineLayout
	Writes []gpu.DescriptorWrite
}

func (s *DescriptorSet) SetIndex() uint32 { return s.set }

type DescriptorPool struct {
	ID        int
	dev       *Device
	MaxSets   uint32
	Allocated uint32
	Resets    int
	Destroyed bool
}

func (p *DescriptorPool) Allocate(layout gpu.PipelineLayout, set uint32) (gpu.DescriptorSet, error) {
	if p.Allocated >= p.MaxSets {
		return nil, gpu.ErrOutOfPoolMemory
	}
	p.Allocated++
	return &DescriptorSet{ID: p.dev.nextID(), set: set, Layout: layout}, nil
}

func (p *DescriptorPool) Reset() error {
	p.Allocated = 0
	p.Resets++
	return nil
}

type slotKey struct {
	binding, element uint32
}

type BindlessTable struct {
	ID        int
	capacity  gpu.BindlessCapacity
	set       *DescriptorSet
	Writes    []gpu.DescriptorWrite
	slots     map[slotKey]gpu.DescriptorWrite
	Destroyed bool
}

func (t *BindlessTable) Capacity() gpu.BindlessCapacity { return t.capacity }
func (t *BindlessTable) Set() gpu.DescriptorSet         { return t.set }

func (t *BindlessTable) Write(writes []gpu.DescriptorWrite) {
	for _, w := range writes {
		t.Writes = append(t.Writes, w)
		t.slots[slotKey{w.Binding, w.ArrayElement}] = w
	}
}

// Slot returns the last write made to an array element of binding.
func (t *BindlessTable) Slot(binding, element uint32) (gpu.DescriptorWrite, bool) {
	w, ok := t.slots[slotKey{binding, element}]
	return w, ok
}
