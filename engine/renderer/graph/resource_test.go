package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

func (f *fixture) buffer(t *testing.T, label string, size uint64) resources.BufferHandle {
	t.Helper()
	h, err := f.res.CreateBuffer(gpu.BufferInfo{
		Size:  size,
		Usage: gpu.BufferUsageStorage | gpu.BufferUsageTransferDst,
		Label: label,
	})
	require.NoError(t, err)
	return h
}

func TestLabelOfAnImportedHandleSharesItsSlot(t *testing.T) {
	f := newFixture(t, Config{})
	h := f.buffer(t, "draws", 1024)
	defer h.Release()

	dst := f.g.ImportBuffer(h)
	assert.Equal(t, dst, f.g.ImportBuffer(h), "one slot per handle and frame")
	draws := f.g.AddBufferResource("draws", BufferDesc{Size: 1024}, h)
	assert.Equal(t, dst, draws)

	f.g.AddPass("upload", PassTransfer).AddTransferWrite(dst).SetSideEffects(true)
	f.g.AddPass("cull", PassCompute).AddStorageBufferRead(draws).SetSideEffects(true)
	require.NoError(t, f.g.Compile())
	assert.Equal(t, []string{"upload", "cull"}, labels(f.g.Order()))

	b := f.g.Order()[1].Barriers()
	require.Len(t, b, 1)
	assert.Equal(t, gpu.StageTransfer, b[0].SrcStage, "the read waits on the copy")
	assert.Equal(t, gpu.AccessTransferWrite, b[0].SrcAccess)

	f.g.Reset()
	_, ok := f.g.Lookup("draws")
	assert.False(t, ok, "the label only named the import")

	persistent := f.g.AddBufferResource("draws", BufferDesc{Size: 1024}, h)
	assert.NotEqual(t, dst, persistent)
	require.NoError(t, f.g.Compile())

	f.g.Reset()
	assert.Equal(t, dst, f.g.ImportBuffer(h), "the freed import slot is reused")
	assert.Equal(t, dst, f.g.AddBufferResource("draws", BufferDesc{Size: 1024}, h))
	require.NoError(t, f.g.Compile())

	f.g.Reset()
	index, ok := f.g.Lookup("draws")
	require.True(t, ok)
	assert.Equal(t, persistent, index, "Reset restores what the label named")
}

func TestResetReleasesImportedHandles(t *testing.T) {
	f := newFixture(t, Config{})
	live := gputest.LiveBuffers(f.dev)
	staging := f.buffer(t, "staging", 4096)
	src := f.g.ImportBuffer(staging)
	staging.Release()

	dst := f.g.AddTransientBuffer(BufferDesc{Size: 4096})
	f.g.AddPass("copy", PassTransfer).AddTransferRead(src).AddTransferWrite(dst).SetSideEffects(true)
	require.NoError(t, f.g.Compile())
	for i := 0; i < 4; i++ {
		f.res.EndFrame()
	}
	assert.Equal(t, live+2, gputest.LiveBuffers(f.dev), "the graph holds the import until Reset")

	f.g.Reset()
	for i := 0; i < 4; i++ {
		f.res.EndFrame()
	}
	assert.Equal(t, live+1, gputest.LiveBuffers(f.dev), "only the transient allocation is left")
	assert.False(t, f.g.Resource(src).External())
}

func TestFinalLayoutIsReachedAfterTheLastPass(t *testing.T) {
	f := newFixture(t, Config{})
	h, err := f.res.CreateImage(gpu.ImageInfo{
		Format: gpu.FormatR8G8B8A8Srgb,
		Extent: gpu.Extent3D{Width: 32, Height: 32, Depth: 1},
		Usage:  gpu.ImageUsageSampled | gpu.ImageUsageTransferDst,
		Label:  "albedo",
	})
	require.NoError(t, err)
	defer h.Release()

	img := f.g.ImportImage(h)
	assert.Equal(t, uint32(32), f.g.Resource(img).Image.Extent.Width)
	f.g.AddPass("copy", PassTransfer).AddTransferWrite(img).SetSideEffects(true)
	f.g.SetFinalLayout(img, gpu.LayoutShaderReadOnly)
	require.NoError(t, f.g.Compile())

	final := f.g.FinalBarriers()
	require.Len(t, final, 1)
	assert.Equal(t, img, final[0].Resource)
	assert.Equal(t, gpu.StageTransfer, final[0].SrcStage)
	assert.Equal(t, gpu.LayoutTransferDst, final[0].OldLayout)
	assert.Equal(t, gpu.LayoutShaderReadOnly, final[0].NewLayout)

	rec, _ := f.recorder()
	require.NoError(t, f.g.Execute(rec))
	assert.Equal(t, gpu.LayoutShaderReadOnly, h.Get().Layout)

	f.g.Reset()
	img = f.g.ImportImage(h)
	f.g.AddPass("copy", PassTransfer).AddTransferWrite(img).SetSideEffects(true)
	f.g.AddPass("sample", PassCompute).AddSampledImageRead(img).SetSideEffects(true)
	f.g.SetFinalLayout(img, gpu.LayoutShaderReadOnly)
	require.NoError(t, f.g.Compile())
	assert.Empty(t, f.g.FinalBarriers(), "the last access already left it readable")

	buf := f.buffer(t, "x", 16)
	defer buf.Release()
	f.g.Reset()
	assert.Panics(t, func() { f.g.SetFinalLayout(f.g.ImportBuffer(buf), gpu.LayoutShaderReadOnly) })
}
