package graph

import (
	"fmt"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

// allocation is a graph owned image or buffer, kept under its label across
// frames while the resource keeps the same shape.
type allocation struct {
	kind       ResourceKind
	imageInfo  gpu.ImageInfo
	bufferInfo gpu.BufferInfo
	image      resources.ImageHandle
	buffer     resources.BufferHandle
	lastUsed   uint64
}

func (a *allocation) ref() resources.Ref {
	if a.kind == KindBuffer {
		return a.buffer.Ref()
	}
	return a.image.Ref()
}

func (a *allocation) release() {
	a.image.Release()
	a.buffer.Release()
}

type cachedRenderPass struct {
	renderPass gpu.RenderPass
	lastUsed   uint64
}

type framebufferKey struct {
	renderPass  gpu.RenderPassInfo
	count       int
	attachments [gpu.MaxColorAttachments + 1]resources.Ref
	extent      gpu.Extent2D
}

type cachedFramebuffer struct {
	framebuffer gpu.Framebuffer
	lastUsed    uint64
}

func imageInfo(r *Resource) gpu.ImageInfo {
	return gpu.ImageInfo{
		Format:      r.Image.Format,
		Extent:      gpu.Extent3D{Width: r.Image.Extent.Width, Height: r.Image.Extent.Height, Depth: 1},
		MipLevels:   r.Image.MipLevels,
		ArrayLayers: 1,
		Usage:       r.ImageUsage,
		Label:       r.Label,
	}
}

func bufferInfo(r *Resource) gpu.BufferInfo {
	return gpu.BufferInfo{
		Size:        r.Buffer.Size,
		Usage:       r.BufferUsage,
		HostVisible: r.Buffer.HostVisible,
		Label:       r.Label,
	}
}

// allocate resolves r to a physical resource, reusing the allocation made
// under the same label on an earlier frame when it still fits.
func (g *Graph) allocate(r *Resource) error {
	a := g.allocations[r.Label]
	switch r.Kind {
	case KindImage:
		info := imageInfo(r)
		if a != nil && a.kind == KindImage && a.imageInfo == info {
			break
		}
		h, err := g.res.CreateImage(info)
		if err != nil {
			return fmt.Errorf("allocate %q: %w", r.Label, err)
		}
		if a != nil {
			a.release()
		}
		a = &allocation{kind: KindImage, imageInfo: info, image: h}
		g.allocations[r.Label] = a
	case KindBuffer:
		info := bufferInfo(r)
		if a != nil && a.kind == KindBuffer && a.bufferInfo == info {
			break
		}
		h, err := g.res.CreateBuffer(info)
		if err != nil {
			return fmt.Errorf("allocate %q: %w", r.Label, err)
		}
		if a != nil {
			a.release()
		}
		a = &allocation{kind: KindBuffer, bufferInfo: info, buffer: h}
		g.allocations[r.Label] = a
	}
	a.lastUsed = g.frame
	r.ref = a.ref()
	return nil
}

func (g *Graph) renderPass(info gpu.RenderPassInfo) (gpu.RenderPass, error) {
	if c, ok := g.renderPasses[info]; ok {
		c.lastUsed = g.frame
		return c.renderPass, nil
	}
	rp, err := g.device.CreateRenderPass(info)
	if err != nil {
		return nil, err
	}
	g.renderPasses[info] = &cachedRenderPass{renderPass: rp, lastUsed: g.frame}
	return rp, nil
}

func (g *Graph) framebuffer(key framebufferKey, rp gpu.RenderPass, images []gpu.Image) (gpu.Framebuffer, error) {
	if c, ok := g.framebuffers[key]; ok {
		c.lastUsed = g.frame
		return c.framebuffer, nil
	}
	fb, err := g.device.CreateFramebuffer(rp, images, key.extent)
	if err != nil {
		return nil, err
	}
	g.framebuffers[key] = &cachedFramebuffer{framebuffer: fb, lastUsed: g.frame}
	return fb, nil
}

// evict drops what has not been used for EvictAfter frames. Framebuffers
// go first since they reference render passes.
func (g *Graph) evict() {
	stale := func(lastUsed uint64) bool {
		return lastUsed+uint64(g.config.EvictAfter) <= g.frame
	}
	evicted := 0
	for key, c := range g.framebuffers {
		if stale(c.lastUsed) {
			g.device.DestroyFramebuffer(c.framebuffer)
			delete(g.framebuffers, key)
			evicted++
		}
	}
	for key, c := range g.renderPasses {
		if stale(c.lastUsed) {
			g.device.DestroyRenderPass(c.renderPass)
			delete(g.renderPasses, key)
			evicted++
		}
	}
	for label, a := range g.allocations {
		if stale(a.lastUsed) {
			a.release()
			delete(g.allocations, label)
			evicted++
		}
	}
	if evicted > 0 {
		core.LogDebug("render graph evicted %d unused objects", evicted)
	}
}
