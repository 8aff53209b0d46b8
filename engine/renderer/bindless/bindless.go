// Package bindless keeps the global descriptor table in sync with the
// resource tables. Shaders reach any buffer, image or sampler through the
// index of its handle.
package bindless

import (
	"context"
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

var ErrCapacityExceeded = errors.New("bindless capacity exceeded")

const placeholderBufferSize = 16

// Config caps the table below the device limits. Zero keeps the limit.
type Config struct {
	MaxBuffers  uint32
	MaxImages   uint32
	MaxSamplers uint32
}

type Manager struct {
	device   gpu.Device
	table    gpu.BindlessTable
	capacity gpu.BindlessCapacity

	// Destroyed slots point at these so a shader racing ahead of a
	// destruction reads defined data.
	placeholderBuffer gpu.Buffer
	placeholderImage  gpu.Image
	defaultSampler    gpu.Sampler
}

func capped(limit, want uint32) uint32 {
	if want == 0 {
		return limit
	}
	return min(limit, want)
}

// New creates the global table and its placeholder resources.
func New(ctx context.Context, device gpu.Device, config Config) (*Manager, error) {
	limits := device.Limits()
	m := &Manager{
		device: device,
		capacity: gpu.BindlessCapacity{
			Buffers:  capped(limits.MaxBindlessBuffers, config.MaxBuffers),
			Images:   capped(limits.MaxBindlessImages, config.MaxImages),
			Samplers: capped(limits.MaxBindlessSamplers, config.MaxSamplers),
		},
	}

	var err error
	if m.table, err = device.CreateBindlessTable(m.capacity); err != nil {
		return nil, fmt.Errorf("create bindless table: %w", err)
	}
	if m.placeholderBuffer, err = device.CreateBuffer(gpu.BufferInfo{
		Size:  placeholderBufferSize,
		Usage: gpu.BufferUsageStorage,
		Label: "bindless-placeholder",
	}); err != nil {
		m.Destroy()
		return nil, fmt.Errorf("create placeholder buffer: %w", err)
	}
	if m.placeholderImage, err = device.CreateImage(gpu.ImageInfo{
		Format:      gpu.FormatR8G8B8A8Unorm,
		Extent:      gpu.Extent3D{Width: 1, Height: 1, Depth: 1},
		MipLevels:   1,
		ArrayLayers: 1,
		Usage:       gpu.ImageUsageSampled | gpu.ImageUsageStorage,
		Label:       "bindless-placeholder",
	}); err != nil {
		m.Destroy()
		return nil, fmt.Errorf("create placeholder image: %w", err)
	}
	if m.defaultSampler, err = device.CreateSampler(gpu.DefaultSamplerInfo()); err != nil {
		m.Destroy()
		return nil, fmt.Errorf("create default sampler: %w", err)
	}

	img := m.placeholderImage
	err = device.Immediate(ctx, func(cmd gpu.CommandBuffer) {
		cmd.PipelineBarrier(nil, []gpu.ImageBarrier{{
			Image:     img,
			SrcStage:  gpu.StageTopOfPipe,
			DstStage:  gpu.StageAllCommands,
			DstAccess: gpu.AccessShaderRead,
			OldLayout: gpu.LayoutUndefined,
			NewLayout: gpu.LayoutGeneral,
		}})
	})
	if err != nil {
		m.Destroy()
		return nil, fmt.Errorf("transition placeholder image: %w", err)
	}

	core.LogInfo("bindless table: %d buffers, %d images, %d samplers", m.capacity.Buffers, m.capacity.Images, m.capacity.Samplers)
	return m, nil
}

func (m *Manager) Capacity() gpu.BindlessCapacity { return m.capacity }
func (m *Manager) Table() gpu.BindlessTable       { return m.table }

func (m *Manager) WriteBuffer(index uint32, b gpu.Buffer) error {
	if index >= m.capacity.Buffers {
		return fmt.Errorf("%w: buffer index %d, capacity %d", ErrCapacityExceeded, index, m.capacity.Buffers)
	}
	m.table.Write([]gpu.DescriptorWrite{bufferWrite(index, b)})
	return nil
}

// WriteImage makes img visible as a sampled image, a storage image or both,
// following its usage.
func (m *Manager) WriteImage(index uint32, img gpu.Image, usage gpu.ImageUsage) error {
	if index >= m.capacity.Images {
		return fmt.Errorf("%w: image index %d, capacity %d", ErrCapacityExceeded, index, m.capacity.Images)
	}
	m.table.Write(imageWrites(index, img, usage, gpu.LayoutShaderReadOnly))
	return nil
}

func (m *Manager) WriteSampler(index uint32, s gpu.Sampler) error {
	if index >= m.capacity.Samplers {
		return fmt.Errorf("%w: sampler index %d, capacity %d", ErrCapacityExceeded, index, m.capacity.Samplers)
	}
	m.table.Write([]gpu.DescriptorWrite{samplerWrite(index, s)})
	return nil
}

func (m *Manager) ResetBuffer(index uint32) {
	if index < m.capacity.Buffers {
		m.table.Write([]gpu.DescriptorWrite{bufferWrite(index, m.placeholderBuffer)})
	}
}

func (m *Manager) ResetImage(index uint32, usage gpu.ImageUsage) {
	if index < m.capacity.Images {
		m.table.Write(imageWrites(index, m.placeholderImage, usage, gpu.LayoutGeneral))
	}
}

func (m *Manager) ResetSampler(index uint32) {
	if index < m.capacity.Samplers {
		m.table.Write([]gpu.DescriptorWrite{samplerWrite(index, m.defaultSampler)})
	}
}

func (m *Manager) Destroy() {
	if m.defaultSampler != nil {
		m.device.DestroySampler(m.defaultSampler)
		m.defaultSampler = nil
	}
	if m.placeholderImage != nil {
		m.device.DestroyImage(m.placeholderImage)
		m.placeholderImage = nil
	}
	if m.placeholderBuffer != nil {
		m.device.DestroyBuffer(m.placeholderBuffer)
		m.placeholderBuffer = nil
	}
	if m.table != nil {
		m.device.DestroyBindlessTable(m.table)
		m.table = nil
	}
}

func bufferWrite(index uint32, b gpu.Buffer) gpu.DescriptorWrite {
	return gpu.DescriptorWrite{
		Binding:      gpu.BindlessStorageBuffers,
		ArrayElement: index,
		Type:         gpu.DescriptorStorageBuffer,
		Buffer:       b,
		Range:        b.Info().Size,
	}
}

func imageWrites(index uint32, img gpu.Image, usage gpu.ImageUsage, sampledLayout gpu.ImageLayout) []gpu.DescriptorWrite {
	writes := make([]gpu.DescriptorWrite, 0, 2)
	if usage&gpu.ImageUsageSampled != 0 {
		writes = append(writes, gpu.DescriptorWrite{
			Binding:      gpu.BindlessSampledImages,
			ArrayElement: index,
			Type:         gpu.DescriptorSampledImage,
			Image:        img,
			Layout:       sampledLayout,
		})
	}
	if usage&gpu.ImageUsageStorage != 0 {
		writes = append(writes, gpu.DescriptorWrite{
			Binding:      gpu.BindlessStorageImages,
			ArrayElement: index,
			Type:         gpu.DescriptorStorageImage,
			Image:        img,
			Layout:       gpu.LayoutGeneral,
		})
	}
	return writes
}

func samplerWrite(index uint32, s gpu.Sampler) gpu.DescriptorWrite {
	return gpu.DescriptorWrite{
		Binding:      gpu.BindlessSamplers,
		ArrayElement: index,
		Type:         gpu.DescriptorSampler,
		Sampler:      s,
	}
}

var _ resources.Descriptors = (*Manager)(nil)
