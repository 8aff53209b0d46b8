package graph

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/command"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// Execute records the compiled frame. For every pass it emits the pass
// barriers in one call, opens the debug labels, begins the render pass of
// graphics passes and runs the callback. Consecutive passes sharing a
// debug group are nested under one label.
//
// When a pass fails, the scopes it opened are closed before returning so
// the command buffer stays well formed. Nothing is timed for that frame.
func (g *Graph) Execute(rec *command.Recorder) error {
	if g.state != StateCompiled {
		panic(fmt.Sprintf("graph: Execute while %s", g.state))
	}
	g.state = StateExecuting

	frame := rec.Frame()
	timed := g.timed[frame][:0]
	maxQueries := g.device.Limits().MaxTimestamps

	fail := func(p *Pass, inRenderPass bool, err error) error {
		if inRenderPass {
			rec.EndRenderPass()
		}
		for rec.OpenLabels() > 0 {
			rec.EndLabel()
		}
		g.timed[frame] = nil
		return fmt.Errorf("pass %s: %w", p.Label, err)
	}

	group := ""
	for _, p := range g.order {
		if p.group != group {
			if group != "" {
				rec.EndLabel()
			}
			if p.group != "" {
				rec.BeginLabel(p.group, p.colour)
			}
			group = p.group
		}
		if err := g.emitBarriers(rec, p.barriers); err != nil {
			return fail(p, false, err)
		}
		rec.BeginLabel(p.Label, p.colour)
		query := uint32(2 * len(timed))
		timestamp := g.config.Timestamps && query+2 <= maxQueries
		if timestamp {
			rec.WriteTimestamp(gpu.StageTopOfPipe, query)
		}

		rec.Reset()
		if p.renderPass != nil {
			clears := make([]gpu.ClearValue, len(p.attachments))
			for i, att := range p.attachments {
				clears[i] = att.Clear
			}
			rec.BeginRenderPass(p.renderPass, p.framebuffer, clears)
		}
		if p.callback != nil {
			if err := p.callback(rec, g); err != nil {
				return fail(p, p.renderPass != nil, err)
			}
		}
		if p.renderPass != nil {
			rec.EndRenderPass()
		}

		if timestamp {
			rec.WriteTimestamp(gpu.StageBottomOfPipe, query+1)
			timed = append(timed, p.Label)
		}
		rec.EndLabel()
	}
	if group != "" {
		rec.EndLabel()
	}
	if err := g.emitBarriers(rec, g.final); err != nil {
		g.timed[frame] = nil
		return err
	}
	g.timed[frame] = timed
	g.trackLayouts()
	return nil
}

func (g *Graph) emitBarriers(rec *command.Recorder, barriers []Barrier) error {
	var buffers []gpu.BufferBarrier
	var images []gpu.ImageBarrier
	for _, b := range barriers {
		r := g.resources[b.Resource]
		if r.Kind == KindBuffer {
			buf, err := g.res.Buffer(r.ref)
			if err != nil {
				return fmt.Errorf("barrier on %q: %w", r.Label, err)
			}
			buffers = append(buffers, gpu.BufferBarrier{
				Buffer:    buf.Native,
				SrcStage:  b.SrcStage,
				DstStage:  b.DstStage,
				SrcAccess: b.SrcAccess,
				DstAccess: b.DstAccess,
				Size:      buf.Info.Size,
			})
			continue
		}
		img, err := g.res.Image(r.ref)
		if err != nil {
			return fmt.Errorf("barrier on %q: %w", r.Label, err)
		}
		images = append(images, gpu.ImageBarrier{
			Image:     img.Native,
			SrcStage:  b.SrcStage,
			DstStage:  b.DstStage,
			SrcAccess: b.SrcAccess,
			DstAccess: b.DstAccess,
			OldLayout: b.OldLayout,
			NewLayout: b.NewLayout,
		})
	}
	rec.PipelineBarrier(buffers, images)
	return nil
}

// trackLayouts stores the layout each image was left in, so the first
// barrier of the next frame starts from it.
func (g *Graph) trackLayouts() {
	for _, r := range g.resources {
		if r.Kind != KindImage || !r.ref.IsValid() || r.layout == gpu.LayoutUndefined {
			continue
		}
		if img, err := g.res.Image(r.ref); err == nil {
			img.Layout = r.layout
		}
	}
}

// Timings returns the GPU time of every pass recorded in the frame slot.
// Call it once the slot's fence has been waited on.
func (g *Graph) Timings(frame int) ([]core.PassTiming, error) {
	labels := g.timed[frame]
	if len(labels) == 0 {
		return nil, nil
	}
	ticks, err := g.device.TimestampResults(frame, uint32(2*len(labels)))
	if err != nil {
		return nil, fmt.Errorf("timestamps of frame %d: %w", frame, err)
	}
	period := float64(g.device.Limits().TimestampPeriod)
	out := make([]core.PassTiming, 0, len(labels))
	for i, label := range labels {
		if 2*i+1 >= len(ticks) {
			break
		}
		start, end := ticks[2*i], ticks[2*i+1]
		var d time.Duration
		if end > start {
			d = time.Duration(float64(end-start) * period)
		}
		out = append(out, core.PassTiming{Name: label, Duration: d})
	}
	return out, nil
}
