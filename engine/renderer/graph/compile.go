package graph

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

const (
	unvisited uint8 = iota
	visiting
	visited
)

// Compile freezes the frame. It orders the passes that contribute to the
// backbuffer, or have side effects, so that every pass runs after the
// passes writing what it uses; allocates graph owned resources; attaches
// a barrier to every access; and builds the render pass and framebuffer of
// graphics passes. Independent passes keep their declaration order.
//
// A dependency cycle fails with ErrCyclicDependency and leaves the graph
// in declaration.
func (g *Graph) Compile() error {
	g.mustDeclare("Compile")
	order, err := g.schedule()
	if err != nil {
		return err
	}
	g.frame++
	g.order = order

	if err := g.resolve(); err != nil {
		return err
	}
	g.synthesizeBarriers()
	if err := g.buildRenderPasses(); err != nil {
		return err
	}
	g.evict()
	g.state = StateCompiled
	core.LogDebug("render graph frame %d: %d of %d passes scheduled", g.frame, len(g.order), len(g.passes))
	return nil
}

// Order returns the scheduled passes.
func (g *Graph) Order() []*Pass {
	g.mustBeCompiled("Order")
	return g.order
}

// FinalBarriers are emitted after the last pass.
func (g *Graph) FinalBarriers() []Barrier {
	g.mustBeCompiled("FinalBarriers")
	return g.final
}

// dependencies returns the passes p waits on, in declaration order. A
// write waits on every earlier writer of the resource and on every earlier
// reader of a version written before it. A read waits on the earlier
// writers, or on all other writers when it is declared before any of them.
func (g *Graph) dependencies(p *Pass, writers, readers map[int][]int) []int {
	seen := make(map[int]bool)
	var deps []int
	pick := func(i int) {
		if i != p.index && !seen[i] {
			seen[i] = true
			deps = append(deps, i)
		}
	}
	for _, a := range p.accesses {
		ws := writers[a.resource]
		earlier := 0
		for _, w := range ws {
			if w < p.index {
				earlier++
				pick(w)
			}
		}
		if !a.access.IsWrite() {
			if earlier == 0 {
				for _, w := range ws {
					pick(w)
				}
			}
			continue
		}
		for _, r := range readers[a.resource] {
			if r < p.index && len(ws) > 0 && ws[0] < r {
				pick(r)
			}
		}
	}
	slices.Sort(deps)
	return deps
}

func (g *Graph) schedule() ([]*Pass, error) {
	writers := make(map[int][]int)
	readers := make(map[int][]int)
	for _, p := range g.passes {
		for _, a := range p.accesses {
			if a.access.IsWrite() {
				writers[a.resource] = append(writers[a.resource], p.index)
			} else {
				readers[a.resource] = append(readers[a.resource], p.index)
			}
		}
	}

	roots := make([]bool, len(g.passes))
	if g.backbuffer < 0 {
		for i := range roots {
			roots[i] = true
		}
	} else {
		for _, w := range writers[g.backbuffer] {
			roots[w] = true
		}
	}
	for _, p := range g.passes {
		if p.sideEffects {
			roots[p.index] = true
		}
	}

	marks := make([]uint8, len(g.passes))
	order := make([]*Pass, 0, len(g.passes))
	var visit func(i int) error
	visit = func(i int) error {
		switch marks[i] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("%w: pass %s depends on itself", ErrCyclicDependency, g.passes[i].Label)
		}
		marks[i] = visiting
		for _, d := range g.dependencies(g.passes[i], writers, readers) {
			if marks[d] == visiting {
				return fmt.Errorf("%w: %s and %s", ErrCyclicDependency, g.passes[i].Label, g.passes[d].Label)
			}
			if err := visit(d); err != nil {
				return err
			}
		}
		marks[i] = visited
		order = append(order, g.passes[i])
		return nil
	}
	for i, root := range roots {
		if !root {
			continue
		}
		if err := visit(i); err != nil {
			core.LogError("render graph: %s", err)
			return nil, err
		}
	}
	return order, nil
}

// resolve binds every resource used by a scheduled pass to its physical
// image or buffer.
func (g *Graph) resolve() error {
	used := make([]bool, len(g.resources))
	for _, p := range g.order {
		for _, a := range p.accesses {
			used[a.resource] = true
		}
	}
	for i, r := range g.resources {
		switch {
		case r.image.IsValid():
			r.ref = r.image.Ref()
		case r.buffer.IsValid():
			r.ref = r.buffer.Ref()
		case used[i] && r.declared:
			if err := g.allocate(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Graph) initialLayout(r *Resource) gpu.ImageLayout {
	if r.Kind != KindImage || !r.image.IsValid() {
		return gpu.LayoutUndefined
	}
	img, err := g.res.Image(r.ref)
	if err != nil {
		return gpu.LayoutUndefined
	}
	return img.Layout
}

type resourceState struct {
	stage  gpu.PipelineStage
	access gpu.Access
	layout gpu.ImageLayout
	last   *access
}

func (g *Graph) synthesizeBarriers() {
	states := make([]resourceState, len(g.resources))
	for _, p := range g.order {
		p.barriers = p.barriers[:0]
		for i := range p.accesses {
			a := &p.accesses[i]
			r := g.resources[a.resource]
			s := &states[a.resource]
			b := Barrier{
				Resource:  a.resource,
				DstStage:  a.stage,
				DstAccess: a.access,
				NewLayout: a.layout,
			}
			a.first = s.last == nil
			a.later = false
			if a.first {
				b.SrcStage = gpu.StageTopOfPipe
				b.SrcAccess = gpu.AccessMemoryRead | gpu.AccessMemoryWrite
				b.OldLayout = g.initialLayout(r)
			} else {
				s.last.later = true
				b.SrcStage, b.SrcAccess, b.OldLayout = s.stage, s.access, s.layout
			}
			if r.Kind == KindBuffer {
				b.OldLayout, b.NewLayout = gpu.LayoutUndefined, gpu.LayoutUndefined
			}
			p.barriers = append(p.barriers, b)
			*s = resourceState{stage: a.stage, access: a.access, layout: a.layout, last: a}
			r.layout = a.layout
		}
	}

	g.final = g.final[:0]
	for i, r := range g.resources {
		s := states[i]
		if i == g.backbuffer || r.final == gpu.LayoutUndefined || s.last == nil || s.layout == r.final {
			continue
		}
		s.last.later = true
		// Later submissions wait on the transition.
		g.final = append(g.final, Barrier{
			Resource:  i,
			SrcStage:  s.stage,
			SrcAccess: s.access,
			DstStage:  gpu.StageAllCommands,
			DstAccess: gpu.AccessMemoryRead,
			OldLayout: s.layout,
			NewLayout: r.final,
		})
		r.layout = r.final
	}

	if g.backbuffer < 0 {
		return
	}
	bb := g.resources[g.backbuffer]
	s := states[g.backbuffer]
	if bb.Kind != KindImage || s.last == nil {
		return
	}
	s.last.later = true
	g.final = append(g.final, Barrier{
		Resource:  g.backbuffer,
		SrcStage:  s.stage,
		SrcAccess: s.access,
		DstStage:  gpu.StageBottomOfPipe,
		OldLayout: s.layout,
		NewLayout: gpu.LayoutPresentSrc,
	})
	bb.layout = gpu.LayoutPresentSrc
}

func (g *Graph) buildRenderPasses() error {
	for _, p := range g.order {
		p.attachments, p.renderPass, p.framebuffer = nil, nil, nil
		if p.Type != PassGraphics {
			continue
		}
		var colours, depth []Attachment
		for _, a := range p.accesses {
			if a.attachment == attachmentNone {
				continue
			}
			r := g.resources[a.resource]
			format := r.Image.Format
			if img, err := g.res.Image(r.ref); err == nil {
				format = img.Info.Format
			}
			att := Attachment{
				Resource: a.resource,
				Clear:    a.clear,
				Info: gpu.AttachmentInfo{
					Format:  format,
					Load:    gpu.LoadOpLoad,
					Store:   gpu.StoreOpDontCare,
					Initial: a.layout,
					Final:   a.layout,
				},
			}
			if a.first {
				att.Info.Load = gpu.LoadOpClear
			}
			if a.later {
				att.Info.Store = gpu.StoreOpStore
			}
			if a.attachment == attachmentDepth {
				depth = append(depth, att)
			} else {
				colours = append(colours, att)
			}
		}
		if len(colours) > gpu.MaxColorAttachments || len(depth) > 1 {
			panic(fmt.Sprintf("graph: pass %s has %d colour and %d depth attachments", p.Label, len(colours), len(depth)))
		}
		if len(colours)+len(depth) == 0 {
			panic(fmt.Sprintf("graph: graphics pass %s has no attachments", p.Label))
		}
		p.attachments = append(colours, depth...)

		var info gpu.RenderPassInfo
		key := framebufferKey{count: len(p.attachments)}
		images := make([]gpu.Image, 0, len(p.attachments))
		for i, att := range p.attachments {
			r := g.resources[att.Resource]
			img, err := g.res.Image(r.ref)
			if err != nil {
				return fmt.Errorf("pass %s attachment %q: %w", p.Label, r.Label, err)
			}
			if i < len(colours) {
				info.Colors[info.ColorCount] = att.Info
				info.ColorCount++
			} else {
				info.HasDepth = true
				info.Depth = att.Info
			}
			if i == 0 {
				key.extent = img.Info.Extent.To2D()
			}
			key.attachments[i] = r.ref
			images = append(images, img.Native)
		}
		key.renderPass = info

		rp, err := g.renderPass(info)
		if err != nil {
			return fmt.Errorf("render pass for %s: %w", p.Label, err)
		}
		fb, err := g.framebuffer(key, rp, images)
		if err != nil {
			return fmt.Errorf("framebuffer for %s: %w", p.Label, err)
		}
		p.renderPass, p.framebuffer, p.extent = rp, fb, key.extent
	}
	return nil
}

// LayoutOf returns the layout a resource is left in by the compiled frame.
func (g *Graph) LayoutOf(index int) gpu.ImageLayout {
	g.mustBeCompiled("LayoutOf")
	return g.resource(index).layout
}
