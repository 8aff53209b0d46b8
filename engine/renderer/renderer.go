package renderer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/assets/loaders"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/bindless"
	"github.com/spaghettifunk/anima/engine/renderer/command"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/graph"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

// swapchainImage is a backbuffer imported into the image table.
type swapchainImage struct {
	native gpu.Image
	handle resources.ImageHandle
}

// Renderer drives one frame slot after the other through the device. It
// owns every object of the render core; nothing is global.
type Renderer struct {
	device  gpu.Device
	config  *core.Config
	metrics *core.Metrics

	resources *resources.Manager
	bindless  *bindless.Manager
	commands  *command.Context
	graph     *graph.Graph
	library   *Library

	frames    int
	slot      int
	swapchain map[uint32]swapchainImage

	linear  resources.SamplerHandle
	nearest resources.SamplerHandle
	// Source of the draw count reset.
	zero resources.BufferHandle
	// Indirect commands written by culling. Grows with the draw count.
	indirect resources.BufferHandle
	uploads  []upload
}

// New builds the render core on top of an initialized device.
func New(ctx context.Context, device gpu.Device, config *core.Config, metrics *core.Metrics) (*Renderer, error) {
	r := &Renderer{
		device:    device,
		config:    config,
		metrics:   metrics,
		frames:    device.FramesInFlight(),
		swapchain: make(map[uint32]swapchainImage),
	}

	r.resources = resources.NewManager(device, resources.ManagerConfig{
		FramesInFlight: r.frames,
		DestroyDelay:   config.Renderer.DeferredDestroyFrames,
		MaxBuffers:     config.Bindless.MaxBuffers,
		MaxImages:      config.Bindless.MaxImages,
		MaxSamplers:    config.Bindless.MaxSamplers,
	})
	bl, err := bindless.New(ctx, device, bindless.Config{
		MaxBuffers:  config.Bindless.MaxBuffers,
		MaxImages:   config.Bindless.MaxImages,
		MaxSamplers: config.Bindless.MaxSamplers,
	})
	if err != nil {
		return nil, err
	}
	r.bindless = bl
	r.resources.SetDescriptors(bl)

	if r.commands, err = command.NewContext(device, r.resources, bl.Table(), command.Config{}); err != nil {
		r.resources.Destroy()
		bl.Destroy()
		return nil, err
	}
	r.graph = graph.New(r.resources, graph.Config{
		EvictAfter: config.Renderer.FramebufferEvictFrames,
		Timestamps: device.Limits().MaxTimestamps > 0,
	})
	r.library = NewLibrary(r.resources, r.commands)

	if err := r.createDefaults(); err != nil {
		r.destroy()
		return nil, err
	}
	core.LogInfo("renderer initialized with %d frames in flight", r.frames)
	return r, nil
}

func (r *Renderer) createDefaults() error {
	linear := gpu.DefaultSamplerInfo()
	linear.AddressU = gpu.AddressClampToEdge
	linear.AddressV = gpu.AddressClampToEdge
	linear.AddressW = gpu.AddressClampToEdge
	nearest := linear
	nearest.MagFilter = gpu.FilterNearest
	nearest.MinFilter = gpu.FilterNearest
	nearest.Mipmap = gpu.MipmapNearest

	var err error
	if r.linear, err = r.resources.GetSampler(linear); err != nil {
		return err
	}
	if r.nearest, err = r.resources.GetSampler(nearest); err != nil {
		return err
	}
	r.zero, err = r.resources.CreateBuffer(gpu.BufferInfo{
		Size:        drawCountSize,
		HostVisible: true,
		Label:       labelZero,
	})
	if err != nil {
		return err
	}
	clear(r.zero.Get().Native.Mapped())
	r.indirect, err = r.resources.CreateBuffer(gpu.BufferInfo{
		Size:  initialDrawCommands * drawCommandSize,
		Usage: gpu.BufferUsageStorage | gpu.BufferUsageIndirect,
		Label: labelCommands,
	})
	return err
}

func (r *Renderer) Device() gpu.Device            { return r.device }
func (r *Renderer) Resources() *resources.Manager { return r.resources }
func (r *Renderer) Library() *Library             { return r.library }
func (r *Renderer) Graph() *graph.Graph           { return r.graph }
func (r *Renderer) Stats() command.Stats          { return r.commands.Stats() }

// Slot is the frame slot the next DrawFrame records into.
func (r *Renderer) Slot() int { return r.slot }

// LoadPrograms adds every program manifest found in dir to the library.
func (r *Renderer) LoadPrograms(dir string) error {
	programs, err := loaders.LoadPrograms(dir)
	if err != nil {
		return err
	}
	for _, p := range programs {
		if err := r.library.Add(p); err != nil {
			return err
		}
	}
	core.LogInfo("loaded %d programs from %s", len(programs), dir)
	return nil
}

// ApplyChange reloads a shader module or a program manifest that changed
// on disk. Other assets are ignored.
func (r *Renderer) ApplyChange(c assets.Change) error {
	switch c.Kind {
	case assets.KindShader:
		code, err := loaders.LoadSPIRV(c.Path)
		if err != nil {
			return err
		}
		_, err = r.library.Reload(c.Path, code)
		return err
	case assets.KindProgram:
		p, err := loaders.LoadProgram(c.Path)
		if err != nil {
			return err
		}
		return r.library.Add(p)
	}
	return nil
}

func (r *Renderer) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ms := r.config.Renderer.TimeoutMS; ms > 0 {
		return context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
	}
	return ctx, func() {}
}

// DrawFrame records and submits one frame of scene. A nil scene, or one
// the loaded programs cannot draw, clears the backbuffer.
//
// It returns core.ErrSwapchainBooting when the swapchain must be resized
// first. Errors wrapping gpu.ErrDeviceLost are fatal.
func (r *Renderer) DrawFrame(ctx context.Context, scene *Scene) error {
	wait, cancel := r.waitContext(ctx)
	err := r.device.WaitFrame(wait, r.slot)
	cancel()
	if err != nil {
		if errors.Is(err, gpu.ErrDeviceLost) {
			core.LogError("device lost while waiting for frame %d", r.slot)
		}
		return fmt.Errorf("wait frame %d: %w", r.slot, err)
	}
	r.recordTimings()
	r.resources.EndFrame()
	if err := r.commands.BeginFrame(r.slot); err != nil {
		return err
	}

	frame, err := r.device.BeginFrame(ctx, r.slot)
	if err != nil {
		if errors.Is(err, gpu.ErrSwapchainOutOfDate) {
			return core.ErrSwapchainBooting
		}
		core.LogError("begin frame %d: %s", r.slot, err)
		return err
	}

	if err := r.record(ctx, frame, scene); err != nil {
		core.LogError("record frame %d: %s", r.slot, err)
		// The acquired image and the slot's fence still have to go through
		// the queue. Pending uploads are retried by the next frame.
		if derr := r.device.Discard(frame); derr != nil && !errors.Is(derr, gpu.ErrSwapchainOutOfDate) {
			err = errors.Join(err, fmt.Errorf("discard frame %d: %w", r.slot, derr))
		}
		r.slot = (r.slot + 1) % r.frames
		return err
	}
	r.finishUploads()

	if err := r.device.Submit(frame); err != nil {
		if errors.Is(err, gpu.ErrSwapchainOutOfDate) {
			r.slot = (r.slot + 1) % r.frames
			return core.ErrSwapchainBooting
		}
		if errors.Is(err, gpu.ErrDeviceLost) {
			core.LogError("device lost while submitting frame %d", r.slot)
		}
		return fmt.Errorf("submit frame %d: %w", r.slot, err)
	}
	r.slot = (r.slot + 1) % r.frames
	return nil
}

// recordTimings reads the pass timestamps of the slot, whose previous
// frame has just completed.
func (r *Renderer) recordTimings() {
	if r.metrics == nil {
		return
	}
	timings, err := r.graph.Timings(r.slot)
	if err != nil {
		core.LogWarn("%s", err)
		return
	}
	for _, t := range timings {
		r.metrics.RecordPass(t.Name, t.Duration)
	}
}

func (r *Renderer) record(ctx context.Context, frame *gpu.Frame, scene *Scene) error {
	backbuffer, err := r.backbuffer(frame)
	if err != nil {
		return err
	}

	g := r.graph
	g.Reset()
	f := &frameResources{
		extent:   frame.Extent,
		lights:   -1,
		lines:    -1,
		clusters: -1,
		shadow:   -1,
	}
	f.backbuffer = g.AddImageResource(labelBackbuffer, graph.ImageDesc{
		Format: r.device.SwapchainFormat(),
		Extent: frame.Extent,
	}, backbuffer)
	g.SetBackbuffer(f.backbuffer)
	f.overlay = g.AddAlias(labelBackbuffer, labelOverlay)

	r.declareUploads()
	if err := r.declarePasses(ctx, f, scene); err != nil {
		return err
	}

	if err := g.Compile(); err != nil {
		if errors.Is(err, graph.ErrCyclicDependency) {
			panic(err)
		}
		return err
	}
	return g.Execute(r.commands.Recorder(frame.Index, frame.Cmd))
}

// backbuffer imports the acquired swapchain image once and reuses the
// handle until the swapchain is recreated.
func (r *Renderer) backbuffer(frame *gpu.Frame) (resources.ImageHandle, error) {
	if img, ok := r.swapchain[frame.BackbufferIndex]; ok && img.native == frame.Backbuffer {
		return img.handle, nil
	}
	if img, ok := r.swapchain[frame.BackbufferIndex]; ok {
		img.handle.Release()
	}
	h, err := r.resources.ImportImage(frame.Backbuffer, gpu.LayoutUndefined)
	if err != nil {
		return resources.ImageHandle{}, fmt.Errorf("import backbuffer %d: %w", frame.BackbufferIndex, err)
	}
	r.swapchain[frame.BackbufferIndex] = swapchainImage{native: frame.Backbuffer, handle: h}
	return h, nil
}

func (r *Renderer) releaseSwapchain() {
	for index, img := range r.swapchain {
		img.handle.Release()
		delete(r.swapchain, index)
	}
}

// Resize recreates the swapchain. Cached framebuffers point at the old
// images and are flushed; graph images sized by the backbuffer are
// reallocated on the next frame.
func (r *Renderer) Resize(width, height uint32) error {
	if err := r.device.WaitIdle(); err != nil {
		return err
	}
	if err := r.device.Resize(width, height); err != nil {
		return fmt.Errorf("resize swapchain to %dx%d: %w", width, height, err)
	}
	r.releaseSwapchain()
	r.graph.Flush()
	core.LogInfo("swapchain resized to %dx%d", width, height)
	return nil
}

// Shutdown waits for the device and destroys everything in reverse
// creation order, the device last.
func (r *Renderer) Shutdown() error {
	err := r.device.WaitIdle()
	r.destroy()
	r.device.Destroy()
	return err
}

func (r *Renderer) destroy() {
	for i := range r.uploads {
		r.uploads[i].release()
	}
	r.uploads = nil
	r.releaseSwapchain()
	r.linear.Release()
	r.nearest.Release()
	r.zero.Release()
	r.indirect.Release()

	r.library.Destroy()
	r.graph.Destroy()
	r.commands.Destroy()
	r.resources.Destroy()
	r.bindless.Destroy()
}
