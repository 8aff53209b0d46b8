package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/engine/renderer/bindless"
	"github.com/spaghettifunk/anima/engine/renderer/command"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

var (
	screen  = gpu.Extent2D{Width: 1280, Height: 720}
	hdrDesc = ImageDesc{Format: gpu.FormatR16G16B16A16Sfloat, Extent: screen}
	depDesc = ImageDesc{Format: gpu.FormatD32Sfloat, Extent: screen}
)

type fixture struct {
	dev  *gputest.Device
	res  *resources.Manager
	cmds *command.Context
	g    *Graph
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()
	dev := gputest.NewDevice(2)
	res := resources.NewManager(dev, resources.ManagerConfig{FramesInFlight: dev.FramesInFlight()})
	bl, err := bindless.New(context.Background(), dev, bindless.Config{})
	require.NoError(t, err)
	res.SetDescriptors(bl)
	cmds, err := command.NewContext(dev, res, bl.Table(), command.Config{})
	require.NoError(t, err)
	g := New(res, config)
	t.Cleanup(func() {
		g.Destroy()
		cmds.Destroy()
		res.Destroy()
		bl.Destroy()
	})
	return &fixture{dev: dev, res: res, cmds: cmds, g: g}
}

// backbuffer declares the next swapchain image as "backbuffer".
func (f *fixture) backbuffer(t *testing.T) int {
	t.Helper()
	frame, err := f.dev.BeginFrame(context.Background(), 0)
	require.NoError(t, err)
	h, err := f.res.ImportImage(frame.Backbuffer, gpu.LayoutUndefined)
	require.NoError(t, err)
	defer h.Release()
	index := f.g.AddImageResource("backbuffer", ImageDesc{Format: f.dev.SwapchainFormat(), Extent: screen}, h)
	f.g.SetBackbuffer(index)
	return index
}

func (f *fixture) recorder() (*command.Recorder, *gputest.CommandBuffer) {
	cmd := &gputest.CommandBuffer{}
	return f.cmds.Recorder(0, cmd), cmd
}

func labels(passes []*Pass) []string {
	out := make([]string, len(passes))
	for i, p := range passes {
		out[i] = p.Label
	}
	return out
}

func TestCycleFailsCompile(t *testing.T) {
	f := newFixture(t, Config{})
	x := f.g.AddBufferResource("x", BufferDesc{Size: 64}, resources.BufferHandle{})
	y := f.g.AddBufferResource("y", BufferDesc{Size: 64}, resources.BufferHandle{})
	f.g.AddPass("a", PassCompute).AddStorageBufferWrite(x).AddStorageBufferRead(y)
	f.g.AddPass("b", PassCompute).AddStorageBufferWrite(y).AddStorageBufferRead(x)

	err := f.g.Compile()
	assert.ErrorIs(t, err, ErrCyclicDependency)
	assert.Equal(t, StateDeclaration, f.g.State())
}

func TestCompileOrdersPassesAfterTheirWriters(t *testing.T) {
	f := newFixture(t, Config{})
	bb := f.backbuffer(t)
	clusters := f.g.AddBufferResource("clusters", BufferDesc{Size: 4096}, resources.BufferHandle{})
	draws := f.g.AddBufferResource("draws", BufferDesc{Size: 4096}, resources.BufferHandle{})
	visibility := f.g.AddImageResource("visibility", ImageDesc{Format: gpu.FormatR32G32Uint, Extent: screen}, resources.ImageHandle{})
	depth := f.g.AddImageResource("depth", depDesc, resources.ImageHandle{})
	hdr := f.g.AddImageResource("hdr", hdrDesc, resources.ImageHandle{})
	unused := f.g.AddBufferResource("unused", BufferDesc{Size: 16}, resources.BufferHandle{})

	// Declared consumers first so that every edge points forward.
	f.g.AddPass("tonemap", PassGraphics).AddSampledImageRead(hdr).AddColourWrite(bb, gpu.ClearValue{})
	f.g.AddPass("shading", PassCompute).
		AddStorageImageRead(visibility).
		AddSampledImageRead(depth).
		AddStorageBufferRead(clusters).
		AddStorageImageWrite(hdr)
	f.g.AddPass("debug", PassCompute).AddStorageBufferWrite(unused)
	f.g.AddPass("visibility", PassGraphics).
		AddIndirectRead(draws).
		AddColourWrite(visibility, gpu.ClearValue{}).
		AddDepthWrite(depth, gpu.ClearValue{})
	f.g.AddPass("cull", PassCompute).AddStorageBufferWrite(draws)
	f.g.AddPass("clusters", PassCompute).AddStorageBufferWrite(clusters)

	require.NoError(t, f.g.Compile())
	order := f.g.Order()
	assert.NotContains(t, labels(order), "debug", "passes that do not reach the backbuffer are culled")
	assert.Len(t, order, 5)

	position := make(map[int]int)
	for i, p := range order {
		position[p.Index()] = i
	}
	for _, p := range order {
		for _, read := range p.Reads() {
			for _, w := range f.g.Passes() {
				if _, scheduled := position[w.Index()]; !scheduled || w == p {
					continue
				}
				for _, written := range w.Writes() {
					if written == read {
						assert.Less(t, position[w.Index()], position[p.Index()], "%s writes what %s reads", w.Label, p.Label)
					}
				}
			}
		}
	}
	assert.Equal(t, "tonemap", order[len(order)-1].Label)
}

func TestIndependentPassesKeepDeclarationOrder(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.g.AddBufferResource("a", BufferDesc{Size: 16}, resources.BufferHandle{})
	b := f.g.AddBufferResource("b", BufferDesc{Size: 16}, resources.BufferHandle{})
	c := f.g.AddBufferResource("c", BufferDesc{Size: 16}, resources.BufferHandle{})
	f.g.AddPass("first", PassCompute).AddStorageBufferWrite(a)
	f.g.AddPass("second", PassCompute).AddStorageBufferWrite(b)
	f.g.AddPass("third", PassCompute).AddStorageBufferWrite(c)

	require.NoError(t, f.g.Compile())
	assert.Equal(t, []string{"first", "second", "third"}, labels(f.g.Order()))
}

func TestSideEffectPassesSurviveCulling(t *testing.T) {
	f := newFixture(t, Config{})
	bb := f.backbuffer(t)
	readback := f.g.AddBufferResource("readback", BufferDesc{Size: 64, HostVisible: true}, resources.BufferHandle{})
	f.g.AddPass("stats", PassCompute).AddStorageBufferWrite(readback).SetSideEffects(true)
	f.g.AddPass("ignored", PassCompute).AddStorageBufferWrite(readback)
	f.g.AddPass("present", PassGraphics).AddColourWrite(bb, gpu.ClearValue{})

	require.NoError(t, f.g.Compile())
	assert.Equal(t, []string{"stats", "present"}, labels(f.g.Order()))
}

func TestEveryAccessGetsOneBarrier(t *testing.T) {
	f := newFixture(t, Config{})
	x := f.g.AddBufferResource("x", BufferDesc{Size: 256}, resources.BufferHandle{})
	img := f.g.AddImageResource("img", hdrDesc, resources.ImageHandle{})
	f.g.AddPass("write", PassCompute).AddStorageBufferWrite(x).AddStorageImageWrite(img)
	f.g.AddPass("read-x", PassCompute).AddStorageBufferRead(x)
	f.g.AddPass("read-both", PassCompute).AddStorageBufferRead(x).AddSampledImageRead(img)

	require.NoError(t, f.g.Compile())
	order := f.g.Order()
	require.Equal(t, []string{"write", "read-x", "read-both"}, labels(order))

	for _, p := range order {
		assert.Len(t, p.Barriers(), len(p.accesses), p.Label)
	}

	first := order[0].Barriers()
	for _, b := range first {
		assert.Equal(t, gpu.StageTopOfPipe, b.SrcStage)
		assert.Equal(t, gpu.AccessMemoryRead|gpu.AccessMemoryWrite, b.SrcAccess)
	}
	assert.Equal(t, gpu.LayoutUndefined, first[1].OldLayout)
	assert.Equal(t, gpu.LayoutGeneral, first[1].NewLayout)

	readX := order[1].Barriers()[0]
	assert.Equal(t, gpu.AccessShaderWrite, readX.SrcAccess)
	assert.Equal(t, gpu.AccessShaderRead, readX.DstAccess)

	last := order[2].Barriers()
	assert.Equal(t, gpu.AccessShaderRead, last[0].SrcAccess, "the previous access of x is the read in read-x")
	assert.Equal(t, gpu.LayoutGeneral, last[1].OldLayout)
	assert.Equal(t, gpu.LayoutShaderReadOnly, last[1].NewLayout)
}

func TestSecondWriteWaitsOnFirst(t *testing.T) {
	tests := []struct {
		name   string
		reader bool
	}{
		{"reader declared last", false},
		{"reader declared first", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			x := f.g.AddBufferResource("x", BufferDesc{Size: 256}, resources.BufferHandle{})
			if tt.reader {
				f.g.AddPass("read", PassCompute).AddStorageBufferRead(x)
			}
			f.g.AddPass("write-1", PassCompute).AddStorageBufferWrite(x)
			f.g.AddPass("write-2", PassCompute).AddStorageBufferWrite(x)
			if !tt.reader {
				f.g.AddPass("read", PassCompute).AddStorageBufferRead(x)
			}

			require.NoError(t, f.g.Compile())
			order := f.g.Order()
			require.Equal(t, []string{"write-1", "write-2", "read"}, labels(order))

			w1, w2, r := order[0].Barriers(), order[1].Barriers(), order[2].Barriers()
			require.Len(t, w1, 1)
			require.Len(t, w2, 1)
			require.Len(t, r, 1)
			assert.Equal(t, gpu.StageTopOfPipe, w1[0].SrcStage)
			assert.Equal(t, Barrier{
				Resource:  x,
				SrcStage:  gpu.StageComputeShader,
				DstStage:  gpu.StageComputeShader,
				SrcAccess: gpu.AccessShaderWrite,
				DstAccess: gpu.AccessShaderWrite,
			}, w2[0])
			assert.Equal(t, gpu.AccessShaderWrite, r[0].SrcAccess)
			assert.Equal(t, gpu.AccessShaderRead, r[0].DstAccess)
		})
	}
}

func TestAttachmentLoadAndStoreOps(t *testing.T) {
	f := newFixture(t, Config{})
	bb := f.backbuffer(t)
	scratch := f.g.AddImageResource("scratch", hdrDesc, resources.ImageHandle{})
	hdr := f.g.AddImageResource("hdr", hdrDesc, resources.ImageHandle{})

	f.g.AddPass("lighting", PassGraphics).
		AddColourWrite(hdr, gpu.ClearValue{Color: [4]float32{0, 0, 0, 1}}).
		AddColourWrite(scratch, gpu.ClearValue{})
	f.g.AddPass("overlay", PassGraphics).AddColourWrite(hdr, gpu.ClearValue{})
	f.g.AddPass("tonemap", PassGraphics).AddSampledImageRead(hdr).AddColourWrite(bb, gpu.ClearValue{})

	require.NoError(t, f.g.Compile())
	order := f.g.Order()
	require.Equal(t, []string{"lighting", "overlay", "tonemap"}, labels(order))

	lighting := order[0].Attachments()
	require.Len(t, lighting, 2)
	assert.Equal(t, hdr, lighting[0].Resource)
	assert.Equal(t, gpu.LoadOpClear, lighting[0].Info.Load)
	assert.Equal(t, gpu.StoreOpStore, lighting[0].Info.Store)
	assert.Equal(t, [4]float32{0, 0, 0, 1}, lighting[0].Clear.Color)
	assert.Equal(t, scratch, lighting[1].Resource)
	assert.Equal(t, gpu.LoadOpClear, lighting[1].Info.Load)
	assert.Equal(t, gpu.StoreOpDontCare, lighting[1].Info.Store, "never read again")

	overlay := order[1].Attachments()
	require.Len(t, overlay, 1)
	assert.Equal(t, gpu.LoadOpLoad, overlay[0].Info.Load)
	assert.Equal(t, gpu.StoreOpStore, overlay[0].Info.Store)

	present := order[2].Attachments()
	require.Len(t, present, 1)
	assert.Equal(t, gpu.StoreOpStore, present[0].Info.Store, "the backbuffer is presented")
	assert.Equal(t, gpu.FormatB8G8R8A8Srgb, present[0].Info.Format)
}

func TestRedeclarationUpdatesTheSlot(t *testing.T) {
	f := newFixture(t, Config{})
	first := f.g.AddImageResource("hdr", hdrDesc, resources.ImageHandle{})
	bigger := ImageDesc{Format: gpu.FormatB10G11R11Ufloat, Extent: gpu.Extent2D{Width: 2560, Height: 1440}}
	second := f.g.AddImageResource("hdr", bigger, resources.ImageHandle{})

	assert.Equal(t, first, second)
	assert.Len(t, f.g.Resources(), 1)

	f.g.AddPass("fill", PassCompute).AddStorageImageWrite(second).SetSideEffects(true)
	require.NoError(t, f.g.Compile())
	ref := f.g.ImageByLabel("hdr")
	img, err := f.res.Image(ref)
	require.NoError(t, err)
	assert.Equal(t, gpu.FormatB10G11R11Ufloat, img.Info.Format)
	assert.Equal(t, uint32(2560), img.Info.Extent.Width)

	assert.Panics(t, func() { f.g.AddBufferResource("x", BufferDesc{}, resources.BufferHandle{}) }, "compiled")
	f.g.Reset()
	assert.Panics(t, func() { f.g.AddBufferResource("hdr", BufferDesc{}, resources.BufferHandle{}) }, "kind mismatch")
}

func TestAliasNamesTheSameResource(t *testing.T) {
	f := newFixture(t, Config{})
	bb := f.backbuffer(t)
	overlay := f.g.AddAlias("backbuffer", "overlay")
	assert.Equal(t, bb, overlay)

	f.g.AddPass("tonemap", PassGraphics).AddColourWrite(bb, gpu.ClearValue{})
	f.g.AddPass("debug", PassGraphics).AddColourWrite(overlay, gpu.ClearValue{})

	require.NoError(t, f.g.Compile())
	assert.Equal(t, []string{"tonemap", "debug"}, labels(f.g.Order()))
	assert.Equal(t, f.g.ImageByLabel("backbuffer"), f.g.ImageByLabel("overlay"))
	assert.Equal(t, gpu.LoadOpLoad, f.g.Order()[1].Attachments()[0].Info.Load)

	assert.Panics(t, func() { f.g.AddAlias("missing", "other") })
}

func TestLookupsBeforeCompilePanic(t *testing.T) {
	f := newFixture(t, Config{})
	hdr := f.g.AddImageResource("hdr", hdrDesc, resources.ImageHandle{})
	assert.Panics(t, func() { f.g.Image(hdr) })
	assert.Panics(t, func() { f.g.BufferByLabel("nothing") })

	require.NoError(t, f.g.Compile())
	assert.Equal(t, resources.Ref{}, f.g.ImageByLabel("nothing"))
	assert.Equal(t, resources.Ref{}, f.g.Buffer(hdr), "hdr is an image")
	assert.Equal(t, resources.Ref{}, f.g.Image(hdr), "no pass used hdr")
}

func TestAddAfterCompilePanics(t *testing.T) {
	f := newFixture(t, Config{})
	bb := f.backbuffer(t)
	f.g.AddPass("present", PassGraphics).AddColourWrite(bb, gpu.ClearValue{})
	p := f.g.Passes()[0]
	require.NoError(t, f.g.Compile())

	assert.Panics(t, func() { f.g.AddPass("late", PassCompute) })
	assert.Panics(t, func() { p.AddSampledImageRead(bb) })
	assert.Panics(t, func() { _ = f.g.Compile() })
}

func TestAccessHelpersCheckKinds(t *testing.T) {
	f := newFixture(t, Config{})
	buf := f.g.AddBufferResource("buf", BufferDesc{Size: 16}, resources.BufferHandle{})
	img := f.g.AddImageResource("img", hdrDesc, resources.ImageHandle{})
	p := f.g.AddPass("compute", PassCompute)

	assert.Panics(t, func() { p.AddStorageImageWrite(buf) })
	assert.Panics(t, func() { p.AddStorageBufferRead(img) })
	assert.Panics(t, func() { p.AddColourWrite(img, gpu.ClearValue{}) }, "compute passes have no attachments")
	assert.Panics(t, func() { p.AddIndirectRead(99) })
}

func TestUsageIsMergedFromEveryPass(t *testing.T) {
	f := newFixture(t, Config{})
	buf := f.g.AddBufferResource("draws", BufferDesc{Size: 1024}, resources.BufferHandle{})
	img := f.g.AddImageResource("hdr", hdrDesc, resources.ImageHandle{})
	f.g.AddPass("cull", PassCompute).AddStorageBufferWrite(buf)
	f.g.AddPass("draw", PassGraphics).AddIndirectRead(buf).AddColourWrite(img, gpu.ClearValue{})
	f.g.AddPass("bloom", PassCompute).AddSampledImageRead(img).AddStorageImageWrite(img)

	r := f.g.Resource(buf)
	assert.Equal(t, gpu.BufferUsageStorage|gpu.BufferUsageIndirect, r.BufferUsage)
	assert.Equal(t, gpu.ImageUsageColorAttachment|gpu.ImageUsageSampled|gpu.ImageUsageStorage, f.g.Resource(img).ImageUsage)

	// The read and write of bloom collapse into one access in General.
	bloom := f.g.Passes()[2]
	require.Len(t, bloom.accesses, 1)
	assert.Equal(t, gpu.LayoutGeneral, bloom.accesses[0].layout)
	assert.Equal(t, gpu.AccessShaderRead|gpu.AccessShaderWrite, bloom.accesses[0].access)
}
