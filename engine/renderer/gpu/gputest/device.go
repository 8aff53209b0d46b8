// Package gputest provides an in-memory gpu.Device for tests. It creates
// no native objects and records every call so tests can assert on what the
// render core asked the backend to do.
package gputest

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

const swapchainImages = 3

type Device struct {
	Limit  gpu.Limits
	frames int
	ids    int

	extent     gpu.Extent2D
	swapchain  []*Image
	imageIndex uint32

	// fail maps a method name to the error its next call returns.
	fail map[string]error

	Buffers      []*Buffer
	Images       []*Image
	Samplers     []*Sampler
	Shaders      []*ShaderModule
	RenderPasses []*RenderPass
	Framebuffers []*Framebuffer
	Layouts      []*PipelineLayout
	Pipelines    []*Pipeline
	Pools        []*DescriptorPool
	Bindless     *BindlessTable

	// Writes collects UpdateDescriptorSets calls.
	Writes []gpu.DescriptorWrite
	// Destroyed lists destroyed objects in destruction order.
	Destroyed []any

	Frames     []*gpu.Frame
	Immediates []*CommandBuffer
	Submitted  int
	Discarded  int
	Waits      int
	Resizes    []gpu.Extent2D
	Idle       int
	Closed     bool
}

// NewDevice returns a fake device with framesInFlight slots and a
// 1280x720 swapchain.
func NewDevice(framesInFlight int) *Device {
	d := &Device{
		Limit: gpu.Limits{
			MaxBindlessBuffers:              1024,
			MaxBindlessImages:               1024,
			MaxBindlessSamplers:             64,
			MaxPushConstantSize:             128,
			MaxTimestamps:                   256,
			TimestampPeriod:                 1,
			MinStorageBufferOffsetAlignment: 16,
			MeshShaders:                     true,
		},
		frames: framesInFlight,
		extent: gpu.Extent2D{Width: 1280, Height: 720},
		fail:   make(map[string]error),
	}
	d.createSwapchain()
	return d
}

func (d *Device) nextID() int {
	d.ids++
	return d.ids
}

func (d *Device) createSwapchain() {
	d.swapchain = d.swapchain[:0]
	for i := 0; i < swapchainImages; i++ {
		d.swapchain = append(d.swapchain, &Image{
			ID: d.nextID(),
			info: gpu.ImageInfo{
				Format:      d.SwapchainFormat(),
				Extent:      gpu.Extent3D{Width: d.extent.Width, Height: d.extent.Height, Depth: 1},
				MipLevels:   1,
				ArrayLayers: 1,
				Usage:       gpu.ImageUsageColorAttachment | gpu.ImageUsageTransferDst,
				Label:       fmt.Sprintf("swapchain-%d", i),
			},
			Swapchain: true,
		})
	}
}

// FailNext makes the next call of method return err.
func (d *Device) FailNext(method string, err error) {
	d.fail[method] = err
}

func (d *Device) failed(method string) error {
	err, ok := d.fail[method]
	if !ok {
		return nil
	}
	delete(d.fail, method)
	return err
}

// LastFrame returns the command buffer of the most recent BeginFrame.
func (d *Device) LastFrame() *CommandBuffer {
	if len(d.Frames) == 0 {
		return nil
	}
	return d.Frames[len(d.Frames)-1].Cmd.(*CommandBuffer)
}

// LiveBuffers counts buffers that have not been destroyed.
func LiveBuffers(d *Device) int {
	n := 0
	for _, b := range d.Buffers {
		if !b.Destroyed {
			n++
		}
	}
	return n
}

func LiveImages(d *Device) int {
	n := 0
	for _, i := range d.Images {
		if !i.Destroyed {
			n++
		}
	}
	return n
}

func (d *Device) Limits() gpu.Limits          { return d.Limit }
func (d *Device) FramesInFlight() int         { return d.frames }
func (d *Device) SwapchainFormat() gpu.Format { return gpu.FormatB8G8R8A8Srgb }
func (d *Device) DepthFormat() gpu.Format     { return gpu.FormatD32Sfloat }

func (d *Device) CreateBuffer(info gpu.BufferInfo) (gpu.Buffer, error) {
	if err := d.failed("CreateBuffer"); err != nil {
		return nil, err
	}
	b := &Buffer{ID: d.nextID(), info: info, data: make([]byte, info.Size)}
	d.Buffers = append(d.Buffers, b)
	return b, nil
}

func (d *Device) DestroyBuffer(b gpu.Buffer) {
	b.(*Buffer).Destroyed = true
	d.Destroyed = append(d.Destroyed, b)
}

func (d *Device) CreateImage(info gpu.ImageInfo) (gpu.Image, error) {
	if err := d.failed("CreateImage"); err != nil {
		return nil, err
	}
	img := &Image{ID: d.nextID(), info: info}
	d.Images = append(d.Images, img)
	return img, nil
}

func (d *Device) DestroyImage(img gpu.Image) {
	img.(*Image).Destroyed = true
	d.Destroyed = append(d.Destroyed, img)
}

func (d *Device) CreateSampler(info gpu.SamplerInfo) (gpu.Sampler, error) {
	if err := d.failed("CreateSampler"); err != nil {
		return nil, err
	}
	s := &Sampler{ID: d.nextID(), info: info}
	d.Samplers = append(d.Samplers, s)
	return s, nil
}

func (d *Device) DestroySampler(s gpu.Sampler) {
	s.(*Sampler).Destroyed = true
	d.Destroyed = append(d.Destroyed, s)
}

func (d *Device) CreateShaderModule(stage gpu.ShaderStage, code []byte) (gpu.ShaderModule, error) {
	if err := d.failed("CreateShaderModule"); err != nil {
		return nil, err
	}
	m := &ShaderModule{ID: d.nextID(), stage: stage, Code: append([]byte(nil), code...)}
	d.Shaders = append(d.Shaders, m)
	return m, nil
}

func (d *Device) DestroyShaderModule(m gpu.ShaderModule) {
	m.(*ShaderModule).Destroyed = true
	d.Destroyed = append(d.Destroyed, m)
}

func (d *Device) CreateRenderPass(info gpu.RenderPassInfo) (gpu.RenderPass, error) {
	if err := d.failed("CreateRenderPass"); err != nil {
		return nil, err
	}
	rp := &RenderPass{ID: d.nextID(), info: info}
	d.RenderPasses = append(d.RenderPasses, rp)
	return rp, nil
}

func (d *Device) DestroyRenderPass(rp gpu.RenderPass) {
	rp.(*RenderPass).Destroyed = true
	d.Destroyed = append(d.Destroyed, rp)
}

func (d *Device) CreateFramebuffer(rp gpu.RenderPass, attachments []gpu.Image, extent gpu.Extent2D) (gpu.Framebuffer, error) {
	if err := d.failed("CreateFramebuffer"); err != nil {
		return nil, err
	}
	fb := &Framebuffer{ID: d.nextID(), RenderPass: rp, Attachments: append([]gpu.Image(nil), attachments...), extent: extent}
	d.Framebuffers = append(d.Framebuffers, fb)
	return fb, nil
}

func (d *Device) DestroyFramebuffer(fb gpu.Framebuffer) {
	fb.(*Framebuffer).Destroyed = true
	d.Destroyed = append(d.Destroyed, fb)
}

func (d *Device) CreatePipelineLayout(iface *gpu.ShaderInterface, bindless gpu.BindlessTable) (gpu.PipelineLayout, error) {
	if err := d.failed("CreatePipelineLayout"); err != nil {
		return nil, err
	}
	l := &PipelineLayout{ID: d.nextID(), iface: iface}
	d.Layouts = append(d.Layouts, l)
	return l, nil
}

func (d *Device) DestroyPipelineLayout(l gpu.PipelineLayout) {
	l.(*PipelineLayout).Destroyed = true
	d.Destroyed = append(d.Destroyed, l)
}

func (d *Device) CreateGraphicsPipeline(info *gpu.GraphicsPipelineInfo) (gpu.Pipeline, error) {
	if err := d.failed("CreateGraphicsPipeline"); err != nil {
		return nil, err
	}
	cp := *info
	p := &Pipeline{ID: d.nextID(), bindPoint: gpu.BindPointGraphics, Graphics: &cp}
	d.Pipelines = append(d.Pipelines, p)
	return p, nil
}

func (d *Device) CreateComputePipeline(info *gpu.ComputePipelineInfo) (gpu.Pipeline, error) {
	if err := d.failed("CreateComputePipeline"); err != nil {
		return nil, err
	}
	cp := *info
	p := &Pipeline{ID: d.nextID(), bindPoint: gpu.BindPointCompute, Compute: &cp}
	d.Pipelines = append(d.Pipelines, p)
	return p, nil
}

func (d *Device) DestroyPipeline(p gpu.Pipeline) {
	p.(*Pipeline).Destroyed = true
	d.Destroyed = append(d.Destroyed, p)
}

func (d *Device) CreateDescriptorPool(maxSets uint32) (gpu.DescriptorPool, error) {
	if err := d.failed("CreateDescriptorPool"); err != nil {
		return nil, err
	}
	p := &DescriptorPool{ID: d.nextID(), dev: d, MaxSets: maxSets}
	d.Pools = append(d.Pools, p)
	return p, nil
}

func (d *Device) DestroyDescriptorPool(p gpu.DescriptorPool) {
	p.(*DescriptorPool).Destroyed = true
	d.Destroyed = append(d.Destroyed, p)
}

func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) {
	for _, w := range writes {
		if s, ok := w.Set.(*DescriptorSet); ok {
			s.Writes = append(s.Writes, w)
		}
	}
	d.Writes = append(d.Writes, writes...)
}

func (d *Device) CreateBindlessTable(capacity gpu.BindlessCapacity) (gpu.BindlessTable, error) {
	if err := d.failed("CreateBindlessTable"); err != nil {
		return nil, err
	}
	d.Bindless = &BindlessTable{
		ID:       d.nextID(),
		capacity: capacity,
		set:      &DescriptorSet{ID: d.nextID(), set: gpu.BindlessSetIndex},
		slots:    make(map[slotKey]gpu.DescriptorWrite),
	}
	return d.Bindless, nil
}

func (d *Device) DestroyBindlessTable(t gpu.BindlessTable) {
	t.(*BindlessTable).Destroyed = true
	d.Destroyed = append(d.Destroyed, t)
}

func (d *Device) WaitFrame(ctx context.Context, frame int) error {
	if frame < 0 || frame >= d.frames {
		panic(fmt.Sprintf("gputest: frame slot %d out of range", frame))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.Waits++
	return d.failed("WaitFrame")
}

func (d *Device) BeginFrame(ctx context.Context, frame int) (*gpu.Frame, error) {
	if err := d.failed("BeginFrame"); err != nil {
		return nil, err
	}
	f := &gpu.Frame{
		Index:           frame,
		Cmd:             &CommandBuffer{},
		Backbuffer:      d.swapchain[d.imageIndex],
		BackbufferIndex: d.imageIndex,
		Extent:          d.extent,
	}
	d.imageIndex = (d.imageIndex + 1) % swapchainImages
	d.Frames = append(d.Frames, f)
	return f, nil
}

func (d *Device) Submit(frame *gpu.Frame) error {
	if err := d.failed("Submit"); err != nil {
		return err
	}
	d.Submitted++
	return nil
}

func (d *Device) Discard(frame *gpu.Frame) error {
	if err := d.failed("Discard"); err != nil {
		return err
	}
	d.Discarded++
	return nil
}

func (d *Device) Immediate(ctx context.Context, fn func(cmd gpu.CommandBuffer)) error {
	if err := d.failed("Immediate"); err != nil {
		return err
	}
	cmd := &CommandBuffer{}
	fn(cmd)
	d.Immediates = append(d.Immediates, cmd)
	return nil
}

// TimestampResults returns ticks 0, 10, 20, ... so every timed pass takes
// ten ticks.
func (d *Device) TimestampResults(frame int, count uint32) ([]uint64, error) {
	if err := d.failed("TimestampResults"); err != nil {
		return nil, err
	}
	out := make([]uint64, count)
	for i := range out {
		out[i] = uint64(i) * 10
	}
	return out, nil
}

func (d *Device) Resize(width, height uint32) error {
	if err := d.failed("Resize"); err != nil {
		return err
	}
	d.extent = gpu.Extent2D{Width: width, Height: height}
	d.Resizes = append(d.Resizes, d.extent)
	d.imageIndex = 0
	d.createSwapchain()
	return nil
}

func (d *Device) WaitIdle() error {
	d.Idle++
	return nil
}

func (d *Device) Destroy() {
	d.Closed = true
}

var (
	_ gpu.Device            = (*Device)(nil)
	_ gpu.CommandBuffer     = (*CommandBuffer)(nil)
	_ gpu.MeshCommandBuffer = (*CommandBuffer)(nil)
)
