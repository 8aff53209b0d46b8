package renderer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/assets/loaders"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/anima/engine/renderer/graph"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

type fixture struct {
	dev     *gputest.Device
	r       *Renderer
	metrics *core.Metrics
	dir     string
	owned   []resources.BufferHandle
}

func newFixture(t *testing.T, configure func(*core.Config)) *fixture {
	t.Helper()
	dev := gputest.NewDevice(2)
	config := core.DefaultConfig()
	if configure != nil {
		configure(config)
	}
	metrics := core.NewMetrics()
	r, err := New(context.Background(), dev, config, metrics)
	require.NoError(t, err)
	f := &fixture{dev: dev, r: r, metrics: metrics, dir: t.TempDir()}
	t.Cleanup(func() {
		if !dev.Closed {
			f.release()
			_ = r.Shutdown()
		}
	})
	return f
}

// release drops the buffers created by buffer. Scenes built from them
// must not be drawn afterwards.
func (f *fixture) release() {
	for i := range f.owned {
		f.owned[i].Release()
	}
	f.owned = nil
}

func spirv(words ...uint32) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, append([]uint32{0x07230203, 0x00010500, 0, 16, 0}, words...))
	return buf.Bytes()
}

type manifest struct {
	graphics bool
	push     int
	bindings []string
}

// Descriptor layouts of the standard pipeline programs.
var standardPrograms = map[string]manifest{
	ProgramCluster:    {push: 16, bindings: []string{"uniform_buffer", "storage_buffer", "storage_buffer"}},
	ProgramCull:       {push: 4, bindings: []string{"uniform_buffer", "storage_buffer", "storage_buffer", "storage_buffer"}},
	ProgramShadow:     {graphics: true, bindings: []string{"uniform_buffer", "storage_buffer", "storage_buffer"}},
	ProgramVisibility: {graphics: true, bindings: []string{"uniform_buffer", "storage_buffer", "storage_buffer"}},
	ProgramShade: {push: 12, bindings: []string{
		"uniform_buffer", "storage_buffer", "storage_buffer",
		"combined_image_sampler", "combined_image_sampler",
		"storage_buffer", "storage_buffer",
		"combined_image_sampler", "storage_image",
	}},
	ProgramBloomDown: {push: 8, bindings: []string{"combined_image_sampler", "storage_image"}},
	ProgramBloomUp:   {push: 8, bindings: []string{"combined_image_sampler", "storage_image"}},
	ProgramTonemap:   {graphics: true, push: 4, bindings: []string{"combined_image_sampler", "combined_image_sampler"}},
	ProgramOverlay:   {graphics: true, bindings: []string{"uniform_buffer"}},
}

// writeProgram writes the manifest and the shader modules of a program.
func (f *fixture) writeProgram(t *testing.T, name string) {
	t.Helper()
	m := standardPrograms[name]
	write := func(file string, data []byte) {
		require.NoError(t, os.WriteFile(filepath.Join(f.dir, file), data, 0o644))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "name = %q\npush_constant_size = %d\n", name, m.push)
	stages := []string{name + ".comp.spv"}
	if m.graphics {
		stages = []string{name + ".vert.spv", name + ".frag.spv"}
	} else {
		b.WriteString("local_size = [8, 8, 1]\n")
	}
	for i, path := range stages {
		fmt.Fprintf(&b, "[[stages]]\npath = %q\n", path)
		write(path, spirv(uint32(i)))
	}
	for i, kind := range m.bindings {
		fmt.Fprintf(&b, "[[bindings]]\nbinding = %d\ntype = %q\n", i, kind)
	}
	write(name+".program.toml", []byte(b.String()))
}

func (f *fixture) loadPrograms(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		f.writeProgram(t, name)
	}
	require.NoError(t, f.r.LoadPrograms(f.dir))
}

func (f *fixture) loadAllPrograms(t *testing.T) {
	t.Helper()
	names := make([]string, 0, len(standardPrograms))
	for name := range standardPrograms {
		names = append(names, name)
	}
	f.loadPrograms(t, names...)
}

func (f *fixture) buffer(t *testing.T, label string, size uint64, usage gpu.BufferUsage) resources.BufferHandle {
	t.Helper()
	h, err := f.r.Resources().CreateBuffer(gpu.BufferInfo{Size: size, Usage: usage, Label: label})
	require.NoError(t, err)
	f.owned = append(f.owned, h)
	return h
}

func (f *fixture) scene(t *testing.T) *Scene {
	return &Scene{
		Camera:         f.buffer(t, "camera", 256, gpu.BufferUsageUniform),
		Draws:          f.buffer(t, "draws", 4*64, gpu.BufferUsageStorage),
		DrawCount:      4,
		Vertices:       f.buffer(t, "vertices", 4096, gpu.BufferUsageStorage),
		Indices:        f.buffer(t, "indices", 1024, gpu.BufferUsageIndex),
		Lights:         f.buffer(t, "lights", 256, gpu.BufferUsageStorage),
		LightCount:     2,
		DebugLines:     f.buffer(t, "lines", 64, gpu.BufferUsageVertex),
		DebugLineCount: 2,
		ClearColour:    [4]float32{0.1, 0.2, 0.3, 1},
	}
}

func order(g *graph.Graph) []string {
	var out []string
	for _, p := range g.Order() {
		out = append(out, p.Label)
	}
	return out
}

func TestClearFrameWithoutScene(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.r.DrawFrame(context.Background(), nil))

	assert.Equal(t, []string{"clear"}, order(f.r.Graph()))
	assert.Equal(t, 1, f.dev.Submitted)
	assert.Equal(t, 1, f.r.Slot())

	cmd := f.dev.LastFrame()
	begins := cmd.Find("BeginRenderPass")
	require.Len(t, begins, 1)
	assert.Equal(t, []gpu.ClearValue{{}}, begins[0].Clears)

	barriers := cmd.Find("PipelineBarrier")
	last := barriers[len(barriers)-1].ImageBarriers
	require.Len(t, last, 1)
	assert.Equal(t, gpu.LayoutPresentSrc, last[0].NewLayout)
}

func TestMissingProgramsClearToSceneColour(t *testing.T) {
	f := newFixture(t, nil)
	f.loadPrograms(t, ProgramCull, ProgramShade)
	scene := f.scene(t)
	require.NoError(t, f.r.DrawFrame(context.Background(), scene))

	assert.Equal(t, []string{"clear"}, order(f.r.Graph()))
	begins := f.dev.LastFrame().Find("BeginRenderPass")
	require.Len(t, begins, 1)
	assert.Equal(t, scene.ClearColour, begins[0].Clears[0].Color)
}

func TestStandardPipeline(t *testing.T) {
	f := newFixture(t, nil)
	f.loadAllPrograms(t)
	require.NoError(t, f.r.DrawFrame(context.Background(), f.scene(t)))

	assert.Equal(t, []string{
		"cluster", "cull-reset", "cull", "shadow", "visibility", "shade",
		"bloom-down-0", "bloom-down-1", "bloom-down-2", "bloom-down-3", "bloom-down-4",
		"bloom-up-3", "bloom-up-2", "bloom-up-1", "bloom-up-0",
		"tonemap",
	}, order(f.r.Graph()))

	cmd := f.dev.LastFrame()
	assert.Equal(t, 1+1+1+5+4, cmd.Count("Dispatch"))
	assert.Equal(t, 2, cmd.Count("DrawIndexedIndirectCount"))
	assert.Equal(t, 1, cmd.Count("CopyBuffer"), "draw count reset")

	draws := cmd.Find("Draw")
	require.Len(t, draws, 1)
	assert.Equal(t, [4]uint32{3, 1, 0, 0}, draws[0].Args)

	pushes := cmd.Find("PushConstants")
	assert.Equal(t, []byte{1, 0, 0, 0}, pushes[len(pushes)-1].Data, "tonemap sees bloom")

	// Shade runs at 1280x720 with an 8x8 local size.
	dispatches := cmd.Find("Dispatch")
	assert.Equal(t, [4]uint32{160, 90, 1, 0}, dispatches[2].Args)

	var groups []string
	for _, op := range cmd.Find("BeginLabel") {
		if op.Label == "culling" || op.Label == "bloom" {
			groups = append(groups, op.Label)
		}
	}
	assert.Equal(t, []string{"culling", "bloom"}, groups)
}

func TestOptionalPassesFollowSettings(t *testing.T) {
	f := newFixture(t, func(c *core.Config) {
		c.Settings.Shadows = false
		c.Settings.Bloom = false
		c.Settings.DebugOverlay = true
	})
	f.loadAllPrograms(t)
	scene := f.scene(t)
	scene.Lights = resources.BufferHandle{}
	scene.LightCount = 0
	require.NoError(t, f.r.DrawFrame(context.Background(), scene))

	assert.Equal(t, []string{"cull-reset", "cull", "visibility", "shade", "tonemap", "overlay"}, order(f.r.Graph()))

	cmd := f.dev.LastFrame()
	draws := cmd.Find("Draw")
	require.Len(t, draws, 2)
	assert.Equal(t, uint32(2*scene.DebugLineCount), draws[1].Args[0])
	assert.Equal(t, 1, cmd.Count("BindVertexBuffers"))
	pushes := cmd.Find("PushConstants")
	assert.Equal(t, []byte{0, 0, 0, 0}, pushes[len(pushes)-1].Data, "tonemap without bloom")
}

func TestEmptySceneSkipsWork(t *testing.T) {
	f := newFixture(t, func(c *core.Config) {
		c.Settings.Bloom = false
		c.Settings.Shadows = false
	})
	f.loadAllPrograms(t)
	scene := f.scene(t)
	scene.DrawCount = 0
	require.NoError(t, f.r.DrawFrame(context.Background(), scene))

	cmd := f.dev.LastFrame()
	assert.Zero(t, cmd.Count("DrawIndexedIndirectCount"))
	// Clustering and shading still run.
	assert.Equal(t, 2, cmd.Count("Dispatch"))
}

func TestDeviceLostIsFatal(t *testing.T) {
	for _, method := range []string{"WaitFrame", "Submit"} {
		t.Run(method, func(t *testing.T) {
			f := newFixture(t, nil)
			f.dev.FailNext(method, gpu.ErrDeviceLost)
			err := f.r.DrawFrame(context.Background(), nil)
			assert.ErrorIs(t, err, gpu.ErrDeviceLost)
			assert.Zero(t, f.dev.Submitted)
			assert.Equal(t, 0, f.r.Slot())
		})
	}
}

func TestOutOfDateSwapchainBoots(t *testing.T) {
	f := newFixture(t, nil)
	f.dev.FailNext("BeginFrame", gpu.ErrSwapchainOutOfDate)
	assert.ErrorIs(t, f.r.DrawFrame(context.Background(), nil), core.ErrSwapchainBooting)
	assert.Zero(t, f.dev.Submitted)

	require.NoError(t, f.r.Resize(800, 600))
	assert.Equal(t, []gpu.Extent2D{{Width: 800, Height: 600}}, f.dev.Resizes)

	require.NoError(t, f.r.DrawFrame(context.Background(), nil))
	fbs := f.dev.Framebuffers
	require.NotEmpty(t, fbs)
	assert.Equal(t, gpu.Extent2D{Width: 800, Height: 600}, fbs[len(fbs)-1].Extent())
}

func TestResizeFlushesFramebuffers(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.r.DrawFrame(context.Background(), nil))
	require.Len(t, f.dev.Framebuffers, 1)

	require.NoError(t, f.r.Resize(640, 480))
	assert.True(t, f.dev.Framebuffers[0].Destroyed)
	assert.True(t, f.dev.RenderPasses[0].Destroyed)
	assert.Equal(t, 1, f.dev.Idle)
}

func TestResizeReallocatesTargets(t *testing.T) {
	f := newFixture(t, func(c *core.Config) {
		c.Settings.Bloom = false
		c.Settings.Shadows = false
	})
	f.loadAllPrograms(t)
	scene := f.scene(t)
	require.NoError(t, f.r.DrawFrame(context.Background(), scene))
	images := len(f.dev.Images)

	require.NoError(t, f.r.DrawFrame(context.Background(), scene))
	assert.Len(t, f.dev.Images, images, "targets are reused")

	require.NoError(t, f.r.Resize(640, 480))
	require.NoError(t, f.r.DrawFrame(context.Background(), scene))
	// Visibility, depth and HDR.
	assert.Len(t, f.dev.Images, images+3)
	hdr := f.dev.Images[len(f.dev.Images)-1].Info()
	assert.Equal(t, gpu.Extent3D{Width: 640, Height: 480, Depth: 1}, hdr.Extent)
}

func TestPassTimingsReachMetrics(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.r.DrawFrame(context.Background(), nil))
	}
	assert.Equal(t, []core.PassTiming{{Name: "clear", Duration: 10 * time.Nanosecond}}, f.metrics.PassTimings())
}

func TestUploadBuffer(t *testing.T) {
	f := newFixture(t, nil)
	data := []byte("sixteen bytes!!!")
	h, err := f.r.UploadBuffer("material-params", data, gpu.BufferUsageStorage)
	require.NoError(t, err)
	defer h.Release()

	require.NoError(t, f.r.DrawFrame(context.Background(), nil))
	assert.Equal(t, []string{"upload-0", "clear"}, order(f.r.Graph()))
	native := h.Get().Native.(*gputest.Buffer)
	assert.Equal(t, data, native.Contents())
	assert.Nil(t, native.Mapped(), "destination is device local")

	require.NoError(t, f.r.DrawFrame(context.Background(), nil))
	assert.Equal(t, []string{"clear"}, order(f.r.Graph()))

	_, err = f.r.UploadBuffer("empty", nil, gpu.BufferUsageStorage)
	assert.ErrorIs(t, err, ErrEmptyUpload)
}

func TestUploadImage(t *testing.T) {
	f := newFixture(t, nil)
	h, err := f.r.UploadImage(&loaders.ImageData{Name: "albedo", Width: 2, Height: 2, Pixels: make([]byte, 16)})
	require.NoError(t, err)
	defer h.Release()

	require.NoError(t, f.r.DrawFrame(context.Background(), nil))
	assert.Equal(t, []string{"upload-0", "clear"}, order(f.r.Graph()))
	assert.Equal(t, 1, f.dev.LastFrame().Count("CopyBufferToImage"))
	final := f.r.Graph().FinalBarriers()
	require.Len(t, final, 2, "the image, then the backbuffer")
	assert.Equal(t, gpu.LayoutTransferDst, final[0].OldLayout)
	assert.Equal(t, gpu.LayoutShaderReadOnly, final[0].NewLayout)

	img, err := f.r.Resources().Image(h.Ref())
	require.NoError(t, err)
	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout)
	_, ok := f.dev.Bindless.Slot(gpu.BindlessSampledImages, h.Index())
	assert.True(t, ok, "readable by index")
}

func barrierOn(t *testing.T, g *graph.Graph, pass, label string) graph.Barrier {
	t.Helper()
	index, ok := g.Lookup(label)
	require.True(t, ok, label)
	for _, p := range g.Order() {
		if p.Label != pass {
			continue
		}
		for _, b := range p.Barriers() {
			if b.Resource == index {
				return b
			}
		}
	}
	require.Failf(t, "no barrier", "%s has no barrier on %s", pass, label)
	return graph.Barrier{}
}

func TestUploadsAreOrderedBeforeTheirReaders(t *testing.T) {
	f := newFixture(t, func(c *core.Config) {
		c.Settings.Bloom = false
		c.Settings.Shadows = false
	})
	f.loadAllPrograms(t)
	scene := f.scene(t)
	draws, err := f.r.UploadBuffer("draws", make([]byte, 4*64), gpu.BufferUsageStorage)
	require.NoError(t, err)
	defer draws.Release()
	albedo, err := f.r.UploadImage(&loaders.ImageData{Name: "albedo", Width: 2, Height: 2, Pixels: make([]byte, 16)})
	require.NoError(t, err)
	defer albedo.Release()
	scene.Draws = draws
	scene.Textures = []resources.ImageHandle{albedo}

	require.NoError(t, f.r.DrawFrame(context.Background(), scene))
	g := f.r.Graph()
	assert.Equal(t, []string{"upload-0", "upload-1"}, order(g)[:2])

	cull := barrierOn(t, g, "cull", labelDraws)
	assert.Equal(t, gpu.StageTransfer, cull.SrcStage, "culling waits on the copy")
	assert.Equal(t, gpu.AccessTransferWrite, cull.SrcAccess)

	shade := barrierOn(t, g, "shade", "texture-0")
	assert.Equal(t, gpu.StageTransfer, shade.SrcStage)
	assert.Equal(t, gpu.LayoutTransferDst, shade.OldLayout)
	assert.Equal(t, gpu.LayoutShaderReadOnly, shade.NewLayout)
	assert.Len(t, g.FinalBarriers(), 1, "shading already left the texture readable")

	require.NoError(t, f.r.DrawFrame(context.Background(), scene))
	cull = barrierOn(t, g, "cull", labelDraws)
	assert.Equal(t, gpu.StageTopOfPipe, cull.SrcStage, "nothing to wait on once uploaded")
}

func TestUploadStagingIsReleased(t *testing.T) {
	f := newFixture(t, nil)
	live := gputest.LiveBuffers(f.dev)
	h, err := f.r.UploadBuffer("params", make([]byte, 64), gpu.BufferUsageStorage)
	require.NoError(t, err)
	defer h.Release()

	require.NoError(t, f.r.DrawFrame(context.Background(), nil))
	assert.Equal(t, live+2, gputest.LiveBuffers(f.dev), "destination and staging")
	for i := 0; i < 8; i++ {
		require.NoError(t, f.r.DrawFrame(context.Background(), nil))
	}
	assert.Equal(t, live+1, gputest.LiveBuffers(f.dev), "the staging buffer is gone")
}

func TestRecordFailureDiscardsTheFrame(t *testing.T) {
	f := newFixture(t, func(c *core.Config) {
		c.Settings.Bloom = false
		c.Settings.Shadows = false
	})
	f.loadAllPrograms(t)
	scene := f.scene(t)
	boom := errors.New("pipeline creation failed")
	f.dev.FailNext("CreateComputePipeline", boom)

	err := f.r.DrawFrame(context.Background(), scene)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, f.dev.Discarded, "the acquired image goes back through the queue")
	assert.Zero(t, f.dev.Submitted)
	assert.Equal(t, 1, f.r.Slot())
	cmd := f.dev.LastFrame()
	assert.Equal(t, cmd.Count("BeginLabel"), cmd.Count("EndLabel"))

	require.NoError(t, f.r.DrawFrame(context.Background(), scene))
	assert.Equal(t, 1, f.dev.Submitted)
	assert.Equal(t, 0, f.r.Slot())
}

func TestDrawCommandsGrowWithTheDrawCount(t *testing.T) {
	f := newFixture(t, func(c *core.Config) {
		c.Settings.Bloom = false
		c.Settings.Shadows = false
	})
	f.loadAllPrograms(t)
	scene := f.scene(t)
	require.NoError(t, f.r.DrawFrame(context.Background(), scene))
	small := f.r.Graph().BufferByLabel(labelCommands)
	buf, err := f.r.Resources().Buffer(small)
	require.NoError(t, err)
	assert.Equal(t, uint64(initialDrawCommands*drawCommandSize), buf.Info.Size)

	scene.DrawCount = 2*initialDrawCommands + 1
	require.NoError(t, f.r.DrawFrame(context.Background(), scene))
	grown := f.r.Graph().BufferByLabel(labelCommands)
	require.NotEqual(t, small, grown)
	buf, err = f.r.Resources().Buffer(grown)
	require.NoError(t, err)
	assert.Equal(t, uint64(scene.DrawCount)*drawCommandSize, buf.Info.Size)
	assert.NotZero(t, buf.Info.Usage&gpu.BufferUsageIndirect)

	for i := 0; i < 4; i++ {
		require.NoError(t, f.r.DrawFrame(context.Background(), scene))
	}
	assert.Equal(t, grown, f.r.Graph().BufferByLabel(labelCommands), "no regrowth for the same count")
	_, err = f.r.Resources().Buffer(small)
	assert.Error(t, err, "the old buffer was destroyed")
}

func TestShaderChangeRebuildsPipelines(t *testing.T) {
	f := newFixture(t, func(c *core.Config) {
		c.Settings.Bloom = false
		c.Settings.Shadows = false
	})
	f.loadPrograms(t, ProgramCull, ProgramVisibility, ProgramShade, ProgramTonemap)
	scene := f.scene(t)
	scene.Lights = resources.BufferHandle{}
	require.NoError(t, f.r.DrawFrame(context.Background(), scene))
	require.Len(t, f.dev.Pipelines, 4)

	cull, ok := f.r.Library().Program(ProgramCull)
	require.True(t, ok)
	before := cull.Shaders()

	path := filepath.Join(f.dir, "cull.comp.spv")
	require.NoError(t, os.WriteFile(path, spirv(42), 0o644))
	require.NoError(t, f.r.ApplyChange(assets.Change{Path: path, Kind: assets.KindShader}))
	assert.NotEqual(t, before, cull.Shaders())

	require.NoError(t, f.r.DrawFrame(context.Background(), scene))
	assert.Len(t, f.dev.Pipelines, 5, "only cull is rebuilt")

	assert.Error(t, f.r.ApplyChange(assets.Change{Path: filepath.Join(f.dir, "missing.comp.spv"), Kind: assets.KindShader}))
	assert.NoError(t, f.r.ApplyChange(assets.Change{Path: "albedo.png", Kind: assets.KindImage}))
}

func TestProgramChangeReplacesProgram(t *testing.T) {
	f := newFixture(t, nil)
	f.loadPrograms(t, ProgramTonemap)
	old, _ := f.r.Library().Program(ProgramTonemap)

	require.NoError(t, f.r.ApplyChange(assets.Change{
		Path: filepath.Join(f.dir, "tonemap.program.toml"),
		Kind: assets.KindProgram,
	}))
	next, ok := f.r.Library().Program(ProgramTonemap)
	require.True(t, ok)
	assert.NotSame(t, old, next)
	assert.Equal(t, []string{ProgramTonemap}, f.r.Library().Names())
}

func TestShutdownDestroysEverything(t *testing.T) {
	f := newFixture(t, nil)
	f.loadAllPrograms(t)
	scene := f.scene(t)
	require.NoError(t, f.r.DrawFrame(context.Background(), scene))
	require.NoError(t, f.r.DrawFrame(context.Background(), scene))
	f.release()

	require.NoError(t, f.r.Shutdown())
	assert.True(t, f.dev.Closed)
	assert.Zero(t, gputest.LiveBuffers(f.dev))
	assert.Zero(t, gputest.LiveImages(f.dev))
	for _, p := range f.dev.Pipelines {
		assert.True(t, p.Destroyed)
	}
}
