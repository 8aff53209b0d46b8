package resources

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/gpu/gputest"
)

var errSlotRange = errors.New("slot out of range")

// recordingDescriptors accepts indices below limit.
type recordingDescriptors struct {
	limit    uint32
	buffers  map[uint32]gpu.Buffer
	images   map[uint32]gpu.Image
	samplers map[uint32]gpu.Sampler
	resets   int
}

func newRecordingDescriptors(limit uint32) *recordingDescriptors {
	return &recordingDescriptors{
		limit:    limit,
		buffers:  make(map[uint32]gpu.Buffer),
		images:   make(map[uint32]gpu.Image),
		samplers: make(map[uint32]gpu.Sampler),
	}
}

func (d *recordingDescriptors) WriteBuffer(index uint32, b gpu.Buffer) error {
	if index >= d.limit {
		return errSlotRange
	}
	d.buffers[index] = b
	return nil
}

func (d *recordingDescriptors) WriteImage(index uint32, img gpu.Image, _ gpu.ImageUsage) error {
	if index >= d.limit {
		return errSlotRange
	}
	d.images[index] = img
	return nil
}

func (d *recordingDescriptors) WriteSampler(index uint32, s gpu.Sampler) error {
	if index >= d.limit {
		return errSlotRange
	}
	d.samplers[index] = s
	return nil
}

func (d *recordingDescriptors) ResetBuffer(index uint32) {
	delete(d.buffers, index)
	d.resets++
}

func (d *recordingDescriptors) ResetImage(index uint32, _ gpu.ImageUsage) {
	delete(d.images, index)
	d.resets++
}

func (d *recordingDescriptors) ResetSampler(index uint32) {
	delete(d.samplers, index)
	d.resets++
}

func newTestManager(t *testing.T, limit uint32) (*Manager, *gputest.Device, *recordingDescriptors) {
	t.Helper()
	dev := gputest.NewDevice(2)
	m := NewManager(dev, ManagerConfig{FramesInFlight: dev.FramesInFlight()})
	d := newRecordingDescriptors(limit)
	m.SetDescriptors(d)
	return m, dev, d
}

func TestManagerDefersNativeDestruction(t *testing.T) {
	m, _, d := newTestManager(t, 16)

	buf, err := m.CreateBuffer(gpu.BufferInfo{Size: 64, Usage: gpu.BufferUsageVertex, Label: "vertices"})
	require.NoError(t, err)
	native := buf.Get().Native
	assert.Equal(t, native, d.buffers[buf.Index()])
	assert.NotZero(t, buf.Get().Info.Usage&gpu.BufferUsageStorage)

	buf.Release()
	m.EndFrame()
	assert.False(t, native.(*gputest.Buffer).Destroyed)
	m.EndFrame()
	assert.True(t, native.(*gputest.Buffer).Destroyed)
	assert.NotContains(t, d.buffers, uint32(0))
	assert.Equal(t, 1, d.resets)
}

func TestManagerRollsBackOnDescriptorOverflow(t *testing.T) {
	m, dev, _ := newTestManager(t, 1)

	first, err := m.CreateBuffer(gpu.BufferInfo{Size: 16, Label: "first"})
	require.NoError(t, err)

	_, err = m.CreateBuffer(gpu.BufferInfo{Size: 16, Label: "second"})
	require.ErrorIs(t, err, errSlotRange)
	assert.Equal(t, 1, m.Buffers().Len())
	assert.Equal(t, 1, gputest.LiveBuffers(dev))

	first.Release()
	m.EndFrame()
	m.EndFrame()
	assert.Equal(t, 0, gputest.LiveBuffers(dev))
}

func TestManagerRollsBackOnDeviceError(t *testing.T) {
	m, dev, _ := newTestManager(t, 16)
	dev.FailNext("CreateImage", gpu.ErrOutOfDeviceMemory)

	_, err := m.CreateImage(gpu.ImageInfo{Format: gpu.FormatR8G8B8A8Unorm, Extent: gpu.Extent3D{Width: 4, Height: 4}})
	require.ErrorIs(t, err, gpu.ErrOutOfDeviceMemory)
	assert.Equal(t, 0, m.Images().Len())
}

func TestManagerSamplerDeduplication(t *testing.T) {
	m, dev, d := newTestManager(t, 16)

	a, err := m.GetSampler(gpu.DefaultSamplerInfo())
	require.NoError(t, err)
	b, err := m.GetSampler(gpu.DefaultSamplerInfo())
	require.NoError(t, err)
	assert.Equal(t, a.Index(), b.Index())
	assert.Len(t, dev.Samplers, 1)

	nearest := gpu.DefaultSamplerInfo()
	nearest.MagFilter = gpu.FilterNearest
	c, err := m.GetSampler(nearest)
	require.NoError(t, err)
	assert.NotEqual(t, a.Index(), c.Index())
	assert.Len(t, dev.Samplers, 2)
	assert.Len(t, d.samplers, 2)

	// The cache keeps its own reference.
	a.Release()
	b.Release()
	m.EndFrame()
	m.EndFrame()
	assert.False(t, dev.Samplers[0].Destroyed)
}

func TestManagerImportedImagesStayAlive(t *testing.T) {
	m, dev, _ := newTestManager(t, 16)
	native, err := dev.CreateImage(gpu.ImageInfo{Format: gpu.FormatB8G8R8A8Srgb, Usage: gpu.ImageUsageColorAttachment})
	require.NoError(t, err)

	h, err := m.ImportImage(native, gpu.LayoutPresentSrc)
	require.NoError(t, err)
	assert.True(t, h.Get().External)
	assert.Equal(t, gpu.LayoutPresentSrc, h.Get().Layout)

	h.Release()
	m.EndFrame()
	m.EndFrame()
	assert.False(t, native.(*gputest.Image).Destroyed)
	assert.Equal(t, 0, m.Images().Len())
}

func TestManagerResizeBufferCopiesContents(t *testing.T) {
	m, dev, _ := newTestManager(t, 16)

	h, err := m.CreateBuffer(gpu.BufferInfo{Size: 4, Label: "growing"})
	require.NoError(t, err)
	oldNative := h.Get().Native.(*gputest.Buffer)
	copy(oldNative.Contents(), []byte{1, 2, 3, 4})
	oldRef := h.Ref()

	require.NoError(t, m.ResizeBuffer(context.Background(), &h, 8, true))
	assert.NotEqual(t, oldRef, h.Ref())
	assert.Equal(t, uint64(8), h.Get().Info.Size)
	assert.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 0}, h.Get().Native.(*gputest.Buffer).Contents())
	require.Len(t, dev.Immediates, 1)
	assert.Equal(t, 1, dev.Immediates[0].Count("CopyBuffer"))

	m.EndFrame()
	m.EndFrame()
	assert.True(t, oldNative.Destroyed)
	_, err = m.Buffer(oldRef)
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestManagerDestroy(t *testing.T) {
	m, dev, _ := newTestManager(t, 16)
	_, err := m.CreateBuffer(gpu.BufferInfo{Size: 16})
	require.NoError(t, err)
	_, err = m.CreateShader("fullscreen.vert", gpu.ShaderStageVertex, []byte{0x03, 0x02, 0x23, 0x07})
	require.NoError(t, err)
	_, err = m.GetSampler(gpu.DefaultSamplerInfo())
	require.NoError(t, err)

	m.Destroy()
	assert.Equal(t, 0, gputest.LiveBuffers(dev))
	assert.True(t, dev.Shaders[0].Destroyed)
	assert.True(t, dev.Samplers[0].Destroyed)
}
