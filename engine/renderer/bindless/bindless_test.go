package bindless

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

func setup(t *testing.T, config Config) (*Manager, *resources.Manager, *gputest.Device) {
	t.Helper()
	dev := gputest.NewDevice(2)
	b, err := New(context.Background(), dev, config)
	require.NoError(t, err)
	res := resources.NewManager(dev, resources.ManagerConfig{FramesInFlight: 2})
	res.SetDescriptors(b)
	t.Cleanup(func() {
		res.Destroy()
		b.Destroy()
	})
	return b, res, dev
}

func TestCapacityIsClampedToDeviceLimits(t *testing.T) {
	b, _, dev := setup(t, Config{MaxBuffers: 8, MaxImages: 1 << 30})
	assert.Equal(t, uint32(8), b.Capacity().Buffers)
	assert.Equal(t, dev.Limit.MaxBindlessImages, b.Capacity().Images)
	assert.Equal(t, dev.Limit.MaxBindlessSamplers, b.Capacity().Samplers)
	assert.Equal(t, b.Capacity(), dev.Bindless.Capacity())

	// The placeholder image is moved out of the undefined layout once.
	require.Len(t, dev.Immediates, 1)
	barriers := dev.Immediates[0].Find("PipelineBarrier")
	require.Len(t, barriers, 1)
	assert.Equal(t, gpu.LayoutGeneral, barriers[0].ImageBarriers[0].NewLayout)
}

func TestBufferCreationWritesStorageSlot(t *testing.T) {
	_, res, dev := setup(t, Config{})

	h, err := res.CreateBuffer(gpu.BufferInfo{Size: 256, Usage: gpu.BufferUsageUniform, Label: "camera"})
	require.NoError(t, err)

	w, ok := dev.Bindless.Slot(gpu.BindlessStorageBuffers, h.Index())
	require.True(t, ok)
	assert.Equal(t, gpu.DescriptorStorageBuffer, w.Type)
	assert.Equal(t, h.Get().Native, w.Buffer)
	assert.Equal(t, uint64(256), w.Range)
}

func TestImageCreationFollowsUsage(t *testing.T) {
	tests := []struct {
		name           string
		usage          gpu.ImageUsage
		sampled, store bool
	}{
		{"sampled", gpu.ImageUsageSampled, true, false},
		{"storage", gpu.ImageUsageStorage, false, true},
		{"both", gpu.ImageUsageSampled | gpu.ImageUsageStorage, true, true},
		{"attachment only", gpu.ImageUsageColorAttachment, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, res, dev := setup(t, Config{})
			h, err := res.CreateImage(gpu.ImageInfo{
				Format: gpu.FormatR8G8B8A8Unorm,
				Extent: gpu.Extent3D{Width: 8, Height: 8},
				Usage:  tt.usage,
			})
			require.NoError(t, err)

			w, ok := dev.Bindless.Slot(gpu.BindlessSampledImages, h.Index())
			assert.Equal(t, tt.sampled, ok)
			if ok {
				assert.Equal(t, gpu.LayoutShaderReadOnly, w.Layout)
			}
			w, ok = dev.Bindless.Slot(gpu.BindlessStorageImages, h.Index())
			assert.Equal(t, tt.store, ok)
			if ok {
				assert.Equal(t, gpu.LayoutGeneral, w.Layout)
			}
		})
	}
}

func TestDestroyedSlotsPointAtPlaceholders(t *testing.T) {
	b, res, dev := setup(t, Config{})

	img, err := res.CreateImage(gpu.ImageInfo{
		Format: gpu.FormatR8G8B8A8Unorm,
		Extent: gpu.Extent3D{Width: 8, Height: 8},
		Usage:  gpu.ImageUsageSampled,
	})
	require.NoError(t, err)
	buf, err := res.CreateBuffer(gpu.BufferInfo{Size: 64})
	require.NoError(t, err)
	index, bufIndex := img.Index(), buf.Index()

	img.Release()
	buf.Release()
	for i := 0; i < resources.DestroyDelay(dev.FramesInFlight()); i++ {
		res.EndFrame()
	}

	w, ok := dev.Bindless.Slot(gpu.BindlessSampledImages, index)
	require.True(t, ok)
	assert.Equal(t, b.placeholderImage, w.Image)
	w, ok = dev.Bindless.Slot(gpu.BindlessStorageBuffers, bufIndex)
	require.True(t, ok)
	assert.Equal(t, b.placeholderBuffer, w.Buffer)
}

func TestSamplerSlots(t *testing.T) {
	b, res, dev := setup(t, Config{})

	s, err := res.GetSampler(gpu.DefaultSamplerInfo())
	require.NoError(t, err)
	again, err := res.GetSampler(gpu.DefaultSamplerInfo())
	require.NoError(t, err)
	assert.Equal(t, s.Index(), again.Index())

	w, ok := dev.Bindless.Slot(gpu.BindlessSamplers, s.Index())
	require.True(t, ok)
	assert.Equal(t, s.Get().Native, w.Sampler)

	b.ResetSampler(s.Index())
	w, _ = dev.Bindless.Slot(gpu.BindlessSamplers, s.Index())
	assert.Equal(t, b.defaultSampler, w.Sampler)
}

func TestCapacityExceededRollsBack(t *testing.T) {
	_, res, dev := setup(t, Config{MaxImages: 2})

	info := gpu.ImageInfo{
		Format: gpu.FormatR8G8B8A8Unorm,
		Extent: gpu.Extent3D{Width: 4, Height: 4},
		Usage:  gpu.ImageUsageSampled,
	}
	for i := 0; i < 2; i++ {
		_, err := res.CreateImage(info)
		require.NoError(t, err)
	}
	live := gputest.LiveImages(dev)

	_, err := res.CreateImage(info)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 2, res.Images().Len())
	assert.Equal(t, live, gputest.LiveImages(dev), "native image of the failed creation leaked")
}
