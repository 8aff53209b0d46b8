package graph

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/command"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

func TestThreePassFrame(t *testing.T) {
	f := newFixture(t, Config{})
	bb := f.backbuffer(t)
	output := f.g.AddAlias("backbuffer", "output")
	depth := f.g.AddImageResource("depth", depDesc, resources.ImageHandle{})
	colour := f.g.AddImageResource("color", hdrDesc, resources.ImageHandle{})

	var calls []string
	record := func(name string) Callback {
		return func(rec *command.Recorder, g *Graph) error {
			assert.Equal(t, StateExecuting, g.State())
			assert.True(t, g.ImageByLabel("output").IsValid())
			calls = append(calls, name)
			return nil
		}
	}
	f.g.AddPass("depth-prepass", PassGraphics).
		AddDepthWrite(depth, gpu.ClearValue{Depth: 0}).
		SetCallback(record("depth-prepass"))
	f.g.AddPass("shading", PassGraphics).
		AddSampledImageRead(depth).
		AddColourWrite(colour, gpu.ClearValue{Color: [4]float32{0.1, 0.1, 0.1, 1}}).
		SetCallback(record("shading"))
	f.g.AddPass("present", PassGraphics).
		AddSampledImageRead(colour).
		AddColourWrite(output, gpu.ClearValue{}).
		SetCallback(record("present"))

	require.NoError(t, f.g.Compile())
	order := f.g.Order()
	require.Equal(t, []string{"depth-prepass", "shading", "present"}, labels(order))

	fragment := gpu.StageVertexShader | gpu.StageFragmentShader
	depthStages := gpu.StageEarlyFragmentTests | gpu.StageLateFragmentTests
	topOfPipe := func(res int, stage gpu.PipelineStage, a gpu.Access, layout gpu.ImageLayout) Barrier {
		return Barrier{
			Resource:  res,
			SrcStage:  gpu.StageTopOfPipe,
			SrcAccess: gpu.AccessMemoryRead | gpu.AccessMemoryWrite,
			DstStage:  stage,
			DstAccess: a,
			OldLayout: gpu.LayoutUndefined,
			NewLayout: layout,
		}
	}
	depthWrite := gpu.AccessDepthStencilAttachmentRead | gpu.AccessDepthStencilAttachmentWrite
	colourWrite := gpu.AccessColorAttachmentRead | gpu.AccessColorAttachmentWrite

	assert.Equal(t, []Barrier{
		topOfPipe(depth, depthStages, depthWrite, gpu.LayoutDepthStencilAttachment),
	}, order[0].Barriers())
	assert.Equal(t, []Barrier{
		{
			Resource:  depth,
			SrcStage:  depthStages,
			SrcAccess: depthWrite,
			DstStage:  fragment,
			DstAccess: gpu.AccessShaderRead,
			OldLayout: gpu.LayoutDepthStencilAttachment,
			NewLayout: gpu.LayoutDepthStencilReadOnly,
		},
		topOfPipe(colour, gpu.StageColorAttachmentOutput, colourWrite, gpu.LayoutColorAttachment),
	}, order[1].Barriers())
	assert.Equal(t, []Barrier{
		{
			Resource:  colour,
			SrcStage:  gpu.StageColorAttachmentOutput,
			SrcAccess: colourWrite,
			DstStage:  fragment,
			DstAccess: gpu.AccessShaderRead,
			OldLayout: gpu.LayoutColorAttachment,
			NewLayout: gpu.LayoutShaderReadOnly,
		},
		topOfPipe(bb, gpu.StageColorAttachmentOutput, colourWrite, gpu.LayoutColorAttachment),
	}, order[2].Barriers())
	assert.Equal(t, []Barrier{{
		Resource:  bb,
		SrcStage:  gpu.StageColorAttachmentOutput,
		SrcAccess: colourWrite,
		DstStage:  gpu.StageBottomOfPipe,
		OldLayout: gpu.LayoutColorAttachment,
		NewLayout: gpu.LayoutPresentSrc,
	}}, f.g.FinalBarriers())

	for _, p := range order {
		atts := p.Attachments()
		require.Len(t, atts, 1, p.Label)
		assert.Equal(t, gpu.LoadOpClear, atts[0].Info.Load, p.Label)
		assert.Equal(t, gpu.StoreOpStore, atts[0].Info.Store, p.Label)
	}

	rec, cmd := f.recorder()
	require.NoError(t, f.g.Execute(rec))
	assert.Equal(t, []string{"depth-prepass", "shading", "present"}, calls)

	perPass := []string{"PipelineBarrier", "BeginLabel", "BeginRenderPass", "SetViewport", "SetScissor", "EndRenderPass", "EndLabel"}
	var want []string
	for range order {
		want = append(want, perPass...)
	}
	want = append(want, "PipelineBarrier")
	assert.Equal(t, want, cmd.Kinds())
	assert.Equal(t, 0, rec.OpenLabels())

	begins := cmd.Find("BeginRenderPass")
	require.Len(t, begins, 3)
	assert.Equal(t, []gpu.ClearValue{{Color: [4]float32{0.1, 0.1, 0.1, 1}}}, begins[1].Clears)
	assert.Same(t, order[1].Framebuffer(), begins[1].Framebuffer)

	final := cmd.Find("PipelineBarrier")[3]
	require.Len(t, final.ImageBarriers, 1)
	assert.Equal(t, gpu.LayoutPresentSrc, final.ImageBarriers[0].NewLayout)

	img, err := f.res.Image(f.g.Image(bb))
	require.NoError(t, err)
	assert.Equal(t, gpu.LayoutPresentSrc, img.Layout, "the layout is tracked for the next frame")
}

func TestExecuteRequiresCompile(t *testing.T) {
	f := newFixture(t, Config{})
	rec, _ := f.recorder()
	assert.Panics(t, func() { _ = f.g.Execute(rec) })

	require.NoError(t, f.g.Compile())
	require.NoError(t, f.g.Execute(rec))
	assert.Panics(t, func() { _ = f.g.Execute(rec) }, "a frame executes once")
}

func TestPersistentLayoutsCarryAcrossFrames(t *testing.T) {
	f := newFixture(t, Config{})
	h, err := f.res.CreateImage(gpu.ImageInfo{
		Format: gpu.FormatR16G16B16A16Sfloat,
		Extent: gpu.Extent3D{Width: 64, Height: 64},
		Usage:  gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled,
		Label:  "history",
	})
	require.NoError(t, err)
	defer h.Release()

	history := f.g.AddImageResource("history", ImageDesc{Format: gpu.FormatR16G16B16A16Sfloat, Extent: gpu.Extent2D{Width: 64, Height: 64}}, h)
	f.g.AddPass("accumulate", PassGraphics).AddColourWrite(history, gpu.ClearValue{}).SetSideEffects(true)
	require.NoError(t, f.g.Compile())
	rec, _ := f.recorder()
	require.NoError(t, f.g.Execute(rec))
	assert.Equal(t, gpu.LayoutColorAttachment, h.Get().Layout)

	f.g.Reset()
	assert.Equal(t, history, f.g.AddImageResource("history", ImageDesc{Format: gpu.FormatR16G16B16A16Sfloat, Extent: gpu.Extent2D{Width: 64, Height: 64}}, resources.ImageHandle{}))
	f.g.AddPass("reproject", PassCompute).AddSampledImageRead(history).SetSideEffects(true)
	require.NoError(t, f.g.Compile())

	b := f.g.Order()[0].Barriers()
	require.Len(t, b, 1)
	assert.Equal(t, gpu.StageTopOfPipe, b[0].SrcStage)
	assert.Equal(t, gpu.LayoutColorAttachment, b[0].OldLayout)
	assert.Equal(t, gpu.LayoutShaderReadOnly, b[0].NewLayout)
	assert.Equal(t, h.Ref(), f.g.Image(history), "the bound handle survives Reset")
}

func TestDebugGroupsNestConsecutivePasses(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.g.AddBufferResource("a", BufferDesc{Size: 16}, resources.BufferHandle{})
	b := f.g.AddBufferResource("b", BufferDesc{Size: 16}, resources.BufferHandle{})
	c := f.g.AddBufferResource("c", BufferDesc{Size: 16}, resources.BufferHandle{})
	f.g.AddPass("lights", PassCompute).AddStorageBufferWrite(a).SetDebugGroup("culling")
	f.g.AddPass("meshes", PassCompute).AddStorageBufferWrite(b).SetDebugGroup("culling")
	f.g.AddPass("shade", PassCompute).AddStorageBufferWrite(c)

	require.NoError(t, f.g.Compile())
	rec, cmd := f.recorder()
	require.NoError(t, f.g.Execute(rec))

	assert.Equal(t, []string{
		"BeginLabel", "PipelineBarrier", "BeginLabel", "EndLabel",
		"PipelineBarrier", "BeginLabel", "EndLabel", "EndLabel",
		"PipelineBarrier", "BeginLabel", "EndLabel",
	}, cmd.Kinds())
	var names []string
	for _, op := range cmd.Find("BeginLabel") {
		names = append(names, op.Label)
	}
	assert.Equal(t, []string{"culling", "lights", "meshes", "shade"}, names)
}

func TestTimestampsAroundPasses(t *testing.T) {
	f := newFixture(t, Config{Timestamps: true})
	a := f.g.AddBufferResource("a", BufferDesc{Size: 16}, resources.BufferHandle{})
	f.g.AddPass("cull", PassCompute).AddStorageBufferWrite(a)
	f.g.AddPass("shade", PassCompute).AddStorageBufferRead(a)

	require.NoError(t, f.g.Compile())
	rec, cmd := f.recorder()
	require.NoError(t, f.g.Execute(rec))

	stamps := cmd.Find("WriteTimestamp")
	require.Len(t, stamps, 4)
	for i, op := range stamps {
		assert.Equal(t, uint32(i), op.Args[1])
	}

	timings, err := f.g.Timings(rec.Frame())
	require.NoError(t, err)
	assert.Equal(t, []core.PassTiming{
		{Name: "cull", Duration: 10 * time.Nanosecond},
		{Name: "shade", Duration: 10 * time.Nanosecond},
	}, timings)

	none, err := f.g.Timings(1)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCallbackErrorsStopExecution(t *testing.T) {
	f := newFixture(t, Config{})
	bb := f.backbuffer(t)
	a := f.g.AddBufferResource("a", BufferDesc{Size: 16}, resources.BufferHandle{})
	boom := errors.New("boom")
	ran := false
	f.g.AddPass("fill", PassCompute).AddStorageBufferWrite(a).SetDebugGroup("scene")
	f.g.AddPass("fail", PassGraphics).
		AddStorageBufferRead(a).
		AddColourWrite(bb, gpu.ClearValue{}).
		SetDebugGroup("scene").
		SetCallback(func(rec *command.Recorder, _ *Graph) error {
			rec.BeginLabel("inner", [4]float32{})
			return boom
		})
	f.g.AddPass("after", PassGraphics).AddColourWrite(bb, gpu.ClearValue{}).SetCallback(func(*command.Recorder, *Graph) error {
		ran = true
		return nil
	})

	require.NoError(t, f.g.Compile())
	rec, cmd := f.recorder()
	err := f.g.Execute(rec)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)

	assert.Zero(t, rec.OpenLabels())
	assert.Len(t, cmd.Find("EndLabel"), len(cmd.Find("BeginLabel")))
	assert.Len(t, cmd.Find("BeginRenderPass"), 1)
	assert.Len(t, cmd.Find("EndRenderPass"), 1)
	kinds := cmd.Kinds()
	assert.Equal(t, "EndLabel", kinds[len(kinds)-1])

	timings, err := f.g.Timings(rec.Frame())
	require.NoError(t, err)
	assert.Empty(t, timings)
}

func TestAllocationsPersistAcrossReset(t *testing.T) {
	f := newFixture(t, Config{})
	declare := func(extent gpu.Extent2D) (int, int) {
		tmp := f.g.AddTransientImage(ImageDesc{Format: gpu.FormatR32Sfloat, Extent: screen})
		hdr := f.g.AddImageResource("hdr", ImageDesc{Format: gpu.FormatR16G16B16A16Sfloat, Extent: extent}, resources.ImageHandle{})
		f.g.AddPass("fill", PassCompute).AddStorageImageWrite(tmp).AddStorageImageWrite(hdr).SetSideEffects(true)
		return tmp, hdr
	}

	tmp, hdr := declare(screen)
	require.NoError(t, f.g.Compile())
	tmpRef, hdrRef := f.g.Image(tmp), f.g.Image(hdr)
	tmpLabel := f.g.Resource(tmp).Label
	assert.NotEmpty(t, tmpLabel)
	images := len(f.dev.Images)

	f.g.Reset()
	assert.Zero(t, f.g.Resource(hdr).ImageUsage, "declared usage does not survive Reset")
	index, ok := f.g.Lookup("hdr")
	assert.True(t, ok)
	assert.Equal(t, hdr, index)

	tmp2, hdr2 := declare(screen)
	require.NoError(t, f.g.Compile())
	assert.Equal(t, tmp, tmp2)
	assert.Equal(t, hdr, hdr2)
	assert.Equal(t, tmpLabel, f.g.Resource(tmp2).Label)
	assert.Equal(t, tmpRef, f.g.Image(tmp2))
	assert.Equal(t, hdrRef, f.g.Image(hdr2))
	assert.Len(t, f.dev.Images, images, "nothing new was allocated")

	f.g.Reset()
	_, hdr3 := declare(gpu.Extent2D{Width: 640, Height: 360})
	require.NoError(t, f.g.Compile())
	assert.NotEqual(t, hdrRef, f.g.Image(hdr3))
	assert.Equal(t, 1, f.res.Images().Pending(), "the old allocation waits in the destroy queue")
}

func TestUnusedCachesAreEvicted(t *testing.T) {
	f := newFixture(t, Config{EvictAfter: 2})
	bb := f.backbuffer(t)

	present := func() {
		f.g.AddPass("present", PassGraphics).AddColourWrite(bb, gpu.ClearValue{})
	}
	present()
	require.NoError(t, f.g.Compile())
	rp := f.g.Order()[0].RenderPass()
	fb := f.g.Order()[0].Framebuffer()

	f.g.Reset()
	present()
	require.NoError(t, f.g.Compile())
	assert.Same(t, rp, f.g.Order()[0].RenderPass())
	assert.Same(t, fb, f.g.Order()[0].Framebuffer())
	assert.Len(t, f.dev.RenderPasses, 1)
	assert.Len(t, f.dev.Framebuffers, 1)

	f.g.Reset()
	require.NoError(t, f.g.Compile())
	assert.False(t, rp.(*gputest.RenderPass).Destroyed)

	f.g.Reset()
	require.NoError(t, f.g.Compile())
	assert.True(t, rp.(*gputest.RenderPass).Destroyed)
	assert.True(t, fb.(*gputest.Framebuffer).Destroyed)
}

func TestFlushDropsCachedObjects(t *testing.T) {
	f := newFixture(t, Config{})
	bb := f.backbuffer(t)
	f.g.AddPass("present", PassGraphics).AddColourWrite(bb, gpu.ClearValue{})
	require.NoError(t, f.g.Compile())
	fb := f.g.Order()[0].Framebuffer()

	f.g.Flush()
	assert.True(t, fb.(*gputest.Framebuffer).Destroyed)

	f.g.Reset()
	f.g.AddPass("present", PassGraphics).AddColourWrite(bb, gpu.ClearValue{})
	require.NoError(t, f.g.Compile())
	assert.NotSame(t, fb, f.g.Order()[0].Framebuffer())
}
