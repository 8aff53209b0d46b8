// Package graph schedules the passes of one frame. Passes declare the
// resources they read and write; Compile orders them, culls what does not
// reach the backbuffer, allocates transient resources and synthesizes the
// barriers and render passes between them. Execute replays the result on
// a command recorder.
package graph

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/command"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

var ErrCyclicDependency = errors.New("cyclic pass dependency")

type State uint8

const (
	StateDeclaration State = iota
	StateCompiled
	StateExecuting
)

func (s State) String() string {
	switch s {
	case StateDeclaration:
		return "declaration"
	case StateCompiled:
		return "compiled"
	case StateExecuting:
		return "executing"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

type Config struct {
	// Frames a cached render pass, framebuffer or transient allocation may
	// go unused before it is destroyed. Zero picks DestroyDelay+1.
	EvictAfter int
	// Record a pair of timestamps around every pass.
	Timestamps bool
}

// Callback records the work of a pass. It runs between the pass barriers
// and, for graphics passes, inside its render pass.
type Callback func(rec *command.Recorder, g *Graph) error

type Graph struct {
	res    *resources.Manager
	device gpu.Device
	config Config

	state State
	frame uint64

	resources  []*Resource
	labels     map[string]int
	anonymous  []int
	backbuffer int
	// Physical resources bound this frame, and the labels pointed at one
	// of them with the slot they named before.
	bound  map[bindingKey]int
	shared map[string]int

	passes []*Pass
	order  []*Pass
	// Transitions applied after the last pass, such as the backbuffer
	// going to PresentSrc.
	final []Barrier

	allocations  map[string]*allocation
	renderPasses map[gpu.RenderPassInfo]*cachedRenderPass
	framebuffers map[framebufferKey]*cachedFramebuffer

	// Pass labels timed by each frame slot, in query order.
	timed [][]string
}

func New(res *resources.Manager, config Config) *Graph {
	device := res.Device()
	if config.EvictAfter <= 0 {
		config.EvictAfter = resources.DestroyDelay(device.FramesInFlight()) + 1
	}
	return &Graph{
		res:          res,
		device:       device,
		config:       config,
		labels:       make(map[string]int),
		backbuffer:   -1,
		bound:        make(map[bindingKey]int),
		shared:       make(map[string]int),
		allocations:  make(map[string]*allocation),
		renderPasses: make(map[gpu.RenderPassInfo]*cachedRenderPass),
		framebuffers: make(map[framebufferKey]*cachedFramebuffer),
		timed:        make([][]string, device.FramesInFlight()),
	}
}

func (g *Graph) State() State { return g.state }

// Frame counts the compiled frames.
func (g *Graph) Frame() uint64 { return g.frame }

func (g *Graph) mustDeclare(call string) {
	if g.state != StateDeclaration {
		panic(fmt.Sprintf("graph: %s while %s", call, g.state))
	}
}

func (g *Graph) mustBeCompiled(call string) {
	if g.state == StateDeclaration {
		panic(fmt.Sprintf("graph: %s before Compile", call))
	}
}

// SetBackbuffer marks the resource the frame is presented from. Passes
// that do not contribute to it, and have no side effects, are culled.
func (g *Graph) SetBackbuffer(index int) {
	g.mustDeclare("SetBackbuffer")
	g.resource(index)
	g.backbuffer = index
}

func (g *Graph) Backbuffer() int { return g.backbuffer }

// Reset starts the declaration of a new frame. Labels, aliases, bound
// handles and descriptors survive, declared usage and passes do not.
// Imported handles are released.
func (g *Graph) Reset() {
	for _, r := range g.resources {
		r.ImageUsage = 0
		r.BufferUsage = 0
		r.declared = false
		r.ref = resources.Ref{}
		r.layout = gpu.LayoutUndefined
		r.final = gpu.LayoutUndefined
	}
	for _, index := range g.anonymous {
		r := g.resources[index]
		delete(g.labels, r.Label)
		r.free = true
		if r.imported {
			r.image.Release()
			r.buffer.Release()
		}
	}
	for label, index := range g.shared {
		if index < 0 {
			delete(g.labels, label)
		} else {
			g.labels[label] = index
		}
		delete(g.shared, label)
	}
	clear(g.bound)
	g.passes = nil
	g.order = nil
	g.final = nil
	g.state = StateDeclaration
}

// Flush destroys every cached render pass and framebuffer. The device
// must be idle, e.g. after a swapchain resize.
func (g *Graph) Flush() {
	for key, fb := range g.framebuffers {
		g.device.DestroyFramebuffer(fb.framebuffer)
		delete(g.framebuffers, key)
	}
	for key, rp := range g.renderPasses {
		g.device.DestroyRenderPass(rp.renderPass)
		delete(g.renderPasses, key)
	}
}

// Destroy releases every handle the graph holds. The device must be idle.
func (g *Graph) Destroy() {
	g.Flush()
	for _, r := range g.resources {
		r.image.Release()
		r.buffer.Release()
	}
	for label, a := range g.allocations {
		a.release()
		delete(g.allocations, label)
	}
	g.resources = nil
	g.labels = make(map[string]int)
	g.anonymous = nil
	clear(g.bound)
	clear(g.shared)
	g.passes = nil
	g.order = nil
	core.LogDebug("render graph destroyed after %d frames", g.frame)
}
