// Package command records GPU work for one frame. The Recorder tracks bound
// state so that pipelines and descriptor sets are created once, looked up
// by content hash, and only bound when they change.
package command

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima/engine/containers"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

var ErrPoolExhausted = errors.New("descriptor pool exhausted")

const defaultSetsPerFrame = 1024

type Config struct {
	// Descriptor sets one frame slot may allocate.
	SetsPerFrame uint32
}

type Stats struct {
	PipelineHits     uint64
	PipelineMisses   uint64
	LayoutHits       uint64
	LayoutMisses     uint64
	DescriptorHits   uint64
	DescriptorMisses uint64
}

// The key only carries the interface hash; the layout tells colliding
// interfaces apart.
type pipelineEntry struct {
	key      PipelineKey
	layout   gpu.PipelineLayout
	pipeline gpu.Pipeline
}

type layoutEntry struct {
	iface  *gpu.ShaderInterface
	layout gpu.PipelineLayout
}

type descriptorEntry struct {
	key    DescriptorKey
	layout gpu.PipelineLayout
	set    gpu.DescriptorSet
}

type frameDescriptors struct {
	pool  gpu.DescriptorPool
	cache map[uint64][]descriptorEntry
}

type retiredPipeline struct {
	pipeline gpu.Pipeline
	frames   int
}

// Context holds the caches shared by every Recorder of a device.
type Context struct {
	device    gpu.Device
	resources *resources.Manager
	bindless  gpu.BindlessTable

	pipelines map[uint64][]pipelineEntry
	layouts   map[uint64][]layoutEntry
	frames    []frameDescriptors
	retired   *containers.RingQueue[retiredPipeline]
	delay     int

	stats Stats
}

func NewContext(device gpu.Device, res *resources.Manager, bindless gpu.BindlessTable, config Config) (*Context, error) {
	if config.SetsPerFrame == 0 {
		config.SetsPerFrame = defaultSetsPerFrame
	}
	c := &Context{
		device:    device,
		resources: res,
		bindless:  bindless,
		pipelines: make(map[uint64][]pipelineEntry),
		layouts:   make(map[uint64][]layoutEntry),
		frames:    make([]frameDescriptors, device.FramesInFlight()),
		retired:   containers.NewGrowableRingQueue[retiredPipeline](8),
		delay:     resources.DestroyDelay(device.FramesInFlight()),
	}
	for i := range c.frames {
		pool, err := device.CreateDescriptorPool(config.SetsPerFrame)
		if err != nil {
			c.Destroy()
			return nil, fmt.Errorf("create descriptor pool for frame %d: %w", i, err)
		}
		c.frames[i] = frameDescriptors{pool: pool, cache: make(map[uint64][]descriptorEntry)}
	}
	return c, nil
}

func (c *Context) Device() gpu.Device            { return c.device }
func (c *Context) Resources() *resources.Manager { return c.resources }
func (c *Context) Stats() Stats                  { return c.stats }

// BeginFrame recycles the descriptor sets of a frame slot whose GPU work
// has completed, and ages pipelines retired by EvictShader.
func (c *Context) BeginFrame(frame int) error {
	f := &c.frames[frame]
	if err := f.pool.Reset(); err != nil {
		return fmt.Errorf("reset descriptor pool: %w", err)
	}
	clear(f.cache)

	n := c.retired.Len()
	for i := 0; i < n; i++ {
		r, err := c.retired.Dequeue()
		if err != nil {
			break
		}
		r.frames--
		if r.frames > 0 {
			_ = c.retired.Enqueue(r)
			continue
		}
		c.device.DestroyPipeline(r.pipeline)
	}
	return nil
}

// Recorder wraps the command buffer of a frame slot.
func (c *Context) Recorder(frame int, cmd gpu.CommandBuffer) *Recorder {
	r := &Recorder{ctx: c, frame: frame, cmd: cmd}
	r.Reset()
	return r
}

// PipelineLayout returns the layout for iface, creating it on first use.
func (c *Context) PipelineLayout(iface *gpu.ShaderInterface) (gpu.PipelineLayout, error) {
	hash := iface.Hash()
	for _, e := range c.layouts[hash] {
		if e.iface.Equal(iface) {
			c.stats.LayoutHits++
			return e.layout, nil
		}
	}
	c.stats.LayoutMisses++
	layout, err := c.device.CreatePipelineLayout(iface, c.bindless)
	if err != nil {
		return nil, fmt.Errorf("create pipeline layout: %w", err)
	}
	c.layouts[hash] = append(c.layouts[hash], layoutEntry{iface: iface, layout: layout})
	return layout, nil
}

func (c *Context) lookupPipeline(key *PipelineKey, hash uint64, layout gpu.PipelineLayout) gpu.Pipeline {
	for _, e := range c.pipelines[hash] {
		if e.key == *key && e.layout == layout {
			c.stats.PipelineHits++
			return e.pipeline
		}
	}
	return nil
}

func (c *Context) createPipeline(key *PipelineKey, hash uint64, layout gpu.PipelineLayout, program *Program, renderPass gpu.RenderPass) (gpu.Pipeline, error) {
	c.stats.PipelineMisses++
	modules := make([]gpu.ShaderModule, key.ShaderCount)
	for i := range modules {
		s, err := c.resources.Shader(key.Shaders[i])
		if err != nil {
			return nil, fmt.Errorf("program %s: %w", program.Name, err)
		}
		modules[i] = s.Native
	}

	var p gpu.Pipeline
	var err error
	if key.Compute {
		p, err = c.device.CreateComputePipeline(&gpu.ComputePipelineInfo{
			Layout: layout,
			Shader: modules[0],
			Label:  program.Name,
		})
	} else {
		p, err = c.device.CreateGraphicsPipeline(&gpu.GraphicsPipelineInfo{
			Layout:     layout,
			Shaders:    modules,
			Attributes: append([]gpu.VertexAttribute(nil), key.Attributes[:key.AttributeCount]...),
			Bindings:   append([]gpu.VertexBinding(nil), key.Bindings[:key.BindingCount]...),
			Raster:     key.Raster,
			Depth:      key.Depth,
			Blend:      key.Blend,
			RenderPass: renderPass,
			Label:      program.Name,
		})
	}
	if err != nil {
		core.LogError("pipeline for program %s: %s", program.Name, err)
		return nil, err
	}
	c.pipelines[hash] = append(c.pipelines[hash], pipelineEntry{key: *key, layout: layout, pipeline: p})
	core.LogDebug("created %s pipeline for program %s (%016x)", p.BindPoint(), program.Name, hash)
	return p, nil
}

func (c *Context) lookupDescriptorSet(frame int, key *DescriptorKey, hash uint64, layout gpu.PipelineLayout) gpu.DescriptorSet {
	for _, e := range c.frames[frame].cache[hash] {
		if e.key == *key && e.layout == layout {
			c.stats.DescriptorHits++
			return e.set
		}
	}
	return nil
}

func (c *Context) allocateDescriptorSet(frame int, key *DescriptorKey, hash uint64, layout gpu.PipelineLayout) (gpu.DescriptorSet, error) {
	c.stats.DescriptorMisses++
	f := &c.frames[frame]
	set, err := f.pool.Allocate(layout, key.Set)
	if err != nil {
		if errors.Is(err, gpu.ErrOutOfPoolMemory) {
			return nil, fmt.Errorf("%w: frame %d", ErrPoolExhausted, frame)
		}
		return nil, err
	}
	f.cache[hash] = append(f.cache[hash], descriptorEntry{key: *key, layout: layout, set: set})
	return set, nil
}

// EvictShader drops every cached pipeline built from shader. The pipelines
// are destroyed once the frames that may still use them completed. It
// returns the number of evicted pipelines.
func (c *Context) EvictShader(shader resources.Ref) int {
	evicted := 0
	for hash, entries := range c.pipelines {
		kept := entries[:0]
		for _, e := range entries {
			if usesShader(&e.key, shader) {
				_ = c.retired.Enqueue(retiredPipeline{pipeline: e.pipeline, frames: c.delay})
				evicted++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(c.pipelines, hash)
		} else {
			c.pipelines[hash] = kept
		}
	}
	if evicted > 0 {
		core.LogInfo("evicted %d pipelines using shader %s", evicted, shader)
	}
	return evicted
}

func usesShader(key *PipelineKey, shader resources.Ref) bool {
	for i := uint8(0); i < key.ShaderCount; i++ {
		if key.Shaders[i] == shader {
			return true
		}
	}
	return false
}

// Destroy frees every cached object. The device must be idle.
func (c *Context) Destroy() {
	for !c.retired.IsEmpty() {
		r, _ := c.retired.Dequeue()
		c.device.DestroyPipeline(r.pipeline)
	}
	for _, entries := range c.pipelines {
		for _, e := range entries {
			c.device.DestroyPipeline(e.pipeline)
		}
	}
	for _, entries := range c.layouts {
		for _, e := range entries {
			c.device.DestroyPipelineLayout(e.layout)
		}
	}
	for _, f := range c.frames {
		if f.pool != nil {
			c.device.DestroyDescriptorPool(f.pool)
		}
	}
	c.pipelines = make(map[uint64][]pipelineEntry)
	c.layouts = make(map[uint64][]layoutEntry)
	c.frames = nil
}
