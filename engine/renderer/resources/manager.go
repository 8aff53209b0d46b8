package resources

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type Buffer struct {
	Native gpu.Buffer
	Info   gpu.BufferInfo
}

type Image struct {
	Native gpu.Image
	Info   gpu.ImageInfo
	// External images are owned by someone else (the swapchain) and are
	// never destroyed natively.
	External bool
	// Layout the image is left in at the end of the last executed frame.
	Layout gpu.ImageLayout
}

type Sampler struct {
	Native gpu.Sampler
	Info   gpu.SamplerInfo
}

type Shader struct {
	Native gpu.ShaderModule
	Stage  gpu.ShaderStage
	Name   string
}

type (
	BufferHandle  = Handle[Buffer]
	ImageHandle   = Handle[Image]
	SamplerHandle = Handle[Sampler]
	ShaderHandle  = Handle[Shader]
)

// Descriptors mirrors table slots into the shader visible descriptor
// table. Write calls fail when the index does not fit.
type Descriptors interface {
	WriteBuffer(index uint32, b gpu.Buffer) error
	WriteImage(index uint32, img gpu.Image, usage gpu.ImageUsage) error
	WriteSampler(index uint32, s gpu.Sampler) error
	ResetBuffer(index uint32)
	ResetImage(index uint32, usage gpu.ImageUsage)
	ResetSampler(index uint32)
}

type ManagerConfig struct {
	FramesInFlight int
	// Overrides DestroyDelay(FramesInFlight) when positive.
	DestroyDelay int
	// Table capacities, zero means unbounded.
	MaxBuffers  uint32
	MaxImages   uint32
	MaxSamplers uint32
	MaxShaders  uint32
}

func (c ManagerConfig) delay() int {
	if c.DestroyDelay > 0 {
		return c.DestroyDelay
	}
	return DestroyDelay(c.FramesInFlight)
}

// Manager owns every buffer, image, sampler and shader module of a device.
type Manager struct {
	device      gpu.Device
	descriptors Descriptors

	buffers  *Table[Buffer]
	images   *Table[Image]
	samplers *Table[Sampler]
	shaders  *Table[Shader]

	// One reference per distinct sampler configuration, released on Destroy.
	samplerCache map[gpu.SamplerInfo]SamplerHandle
}

func NewManager(device gpu.Device, config ManagerConfig) *Manager {
	delay := config.delay()
	return &Manager{
		device:       device,
		buffers:      NewTable[Buffer]("buffers", config.MaxBuffers, delay),
		images:       NewTable[Image]("images", config.MaxImages, delay),
		samplers:     NewTable[Sampler]("samplers", config.MaxSamplers, delay),
		shaders:      NewTable[Shader]("shaders", config.MaxShaders, delay),
		samplerCache: make(map[gpu.SamplerInfo]SamplerHandle),
	}
}

// SetDescriptors attaches the bindless table. Resources created before the
// call are not written to it.
func (m *Manager) SetDescriptors(d Descriptors) {
	m.descriptors = d
}

func (m *Manager) Device() gpu.Device        { return m.device }
func (m *Manager) Buffers() *Table[Buffer]   { return m.buffers }
func (m *Manager) Images() *Table[Image]     { return m.images }
func (m *Manager) Samplers() *Table[Sampler] { return m.samplers }
func (m *Manager) Shaders() *Table[Shader]   { return m.shaders }

func (m *Manager) CreateBuffer(info gpu.BufferInfo) (BufferHandle, error) {
	// Every buffer is reachable from shaders by index and can take part in
	// a copy, which ResizeBuffer relies on.
	info.Usage |= gpu.BufferUsageStorage | gpu.BufferUsageTransferSrc | gpu.BufferUsageTransferDst
	index, err := m.buffers.Insert()
	if err != nil {
		return BufferHandle{}, err
	}
	native, err := m.device.CreateBuffer(info)
	if err != nil {
		m.buffers.Discard(index)
		return BufferHandle{}, fmt.Errorf("create buffer %q: %w", info.Label, err)
	}
	if m.descriptors != nil {
		if err := m.descriptors.WriteBuffer(index, native); err != nil {
			m.device.DestroyBuffer(native)
			m.buffers.Discard(index)
			core.LogError("buffer %q does not fit the bindless table: %s", info.Label, err)
			return BufferHandle{}, err
		}
	}
	*m.buffers.Resource(index) = Buffer{Native: native, Info: info}
	core.LogDebug("created buffer %q (%d bytes) at index %d", info.Label, info.Size, index)
	return m.buffers.Handle(index), nil
}

func (m *Manager) CreateImage(info gpu.ImageInfo) (ImageHandle, error) {
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}
	if info.ArrayLayers == 0 {
		info.ArrayLayers = 1
	}
	if info.Extent.Depth == 0 {
		info.Extent.Depth = 1
	}
	native, err := m.device.CreateImage(info)
	if err != nil {
		return ImageHandle{}, fmt.Errorf("create image %q: %w", info.Label, err)
	}
	h, err := m.insertImage(native, info, false)
	if err != nil {
		m.device.DestroyImage(native)
		return ImageHandle{}, err
	}
	core.LogDebug("created image %q %dx%d at index %d", info.Label, info.Extent.Width, info.Extent.Height, h.Index())
	return h, nil
}

// ImportImage wraps an image the manager does not own, such as a
// swapchain image. The native image is left alone when the entry dies.
func (m *Manager) ImportImage(native gpu.Image, layout gpu.ImageLayout) (ImageHandle, error) {
	h, err := m.insertImage(native, native.Info(), true)
	if err != nil {
		return ImageHandle{}, err
	}
	h.Get().Layout = layout
	return h, nil
}

func (m *Manager) insertImage(native gpu.Image, info gpu.ImageInfo, external bool) (ImageHandle, error) {
	index, err := m.images.Insert()
	if err != nil {
		return ImageHandle{}, err
	}
	if m.descriptors != nil && info.Usage&(gpu.ImageUsageSampled|gpu.ImageUsageStorage) != 0 {
		if err := m.descriptors.WriteImage(index, native, info.Usage); err != nil {
			m.images.Discard(index)
			core.LogError("image %q does not fit the bindless table: %s", info.Label, err)
			return ImageHandle{}, err
		}
	}
	*m.images.Resource(index) = Image{Native: native, Info: info, External: external}
	return m.images.Handle(index), nil
}

// GetSampler returns a sampler for info. Equal configurations share one
// slot; the returned handle is a new reference either way.
func (m *Manager) GetSampler(info gpu.SamplerInfo) (SamplerHandle, error) {
	if h, ok := m.samplerCache[info]; ok {
		return h.Clone(), nil
	}
	index, err := m.samplers.Insert()
	if err != nil {
		return SamplerHandle{}, err
	}
	native, err := m.device.CreateSampler(info)
	if err != nil {
		m.samplers.Discard(index)
		return SamplerHandle{}, fmt.Errorf("create sampler: %w", err)
	}
	if m.descriptors != nil {
		if err := m.descriptors.WriteSampler(index, native); err != nil {
			m.device.DestroySampler(native)
			m.samplers.Discard(index)
			return SamplerHandle{}, err
		}
	}
	*m.samplers.Resource(index) = Sampler{Native: native, Info: info}
	h := m.samplers.Handle(index)
	m.samplerCache[info] = h
	return h.Clone(), nil
}

func (m *Manager) CreateShader(name string, stage gpu.ShaderStage, code []byte) (ShaderHandle, error) {
	index, err := m.shaders.Insert()
	if err != nil {
		return ShaderHandle{}, err
	}
	native, err := m.device.CreateShaderModule(stage, code)
	if err != nil {
		m.shaders.Discard(index)
		return ShaderHandle{}, fmt.Errorf("create shader %q: %w", name, err)
	}
	*m.shaders.Resource(index) = Shader{Native: native, Stage: stage, Name: name}
	return m.shaders.Handle(index), nil
}

func (m *Manager) Buffer(ref Ref) (*Buffer, error)   { return m.buffers.Lookup(ref) }
func (m *Manager) Image(ref Ref) (*Image, error)     { return m.images.Lookup(ref) }
func (m *Manager) Sampler(ref Ref) (*Sampler, error) { return m.samplers.Lookup(ref) }
func (m *Manager) Shader(ref Ref) (*Shader, error)   { return m.shaders.Lookup(ref) }

// ResizeBuffer replaces *h with a buffer of the given size. Buffers never
// grow in place: a new one is allocated, the old contents are optionally
// copied over with an immediate command buffer and the old handle is
// released.
func (m *Manager) ResizeBuffer(ctx context.Context, h *BufferHandle, size uint64, copyContents bool) error {
	old := h.Get()
	info := old.Info
	info.Size = size
	next, err := m.CreateBuffer(info)
	if err != nil {
		return err
	}
	if copyContents {
		src, dst := old.Native, next.Get().Native
		n := min(old.Info.Size, size)
		err := m.device.Immediate(ctx, func(cmd gpu.CommandBuffer) {
			cmd.CopyBuffer(src, dst, []gpu.BufferCopy{{Size: n}})
		})
		if err != nil {
			next.Release()
			return fmt.Errorf("copy on resize of %q: %w", info.Label, err)
		}
	}
	h.Release()
	*h = next
	return nil
}

// EndFrame ages every destroy queue by one frame.
func (m *Manager) EndFrame() {
	m.buffers.ClearDestroyQueue(m.destroyBuffer)
	m.images.ClearDestroyQueue(m.destroyImage)
	m.samplers.ClearDestroyQueue(m.destroySampler)
	m.shaders.ClearDestroyQueue(m.destroyShader)
}

// Destroy frees every entry right away. The device must be idle.
func (m *Manager) Destroy() {
	m.samplerCache = make(map[gpu.SamplerInfo]SamplerHandle)
	m.buffers.DestroyAll(m.destroyBuffer)
	m.images.DestroyAll(m.destroyImage)
	m.samplers.DestroyAll(m.destroySampler)
	m.shaders.DestroyAll(m.destroyShader)
}

func (m *Manager) destroyBuffer(index uint32, b *Buffer) {
	if m.descriptors != nil {
		m.descriptors.ResetBuffer(index)
	}
	m.device.DestroyBuffer(b.Native)
}

func (m *Manager) destroyImage(index uint32, img *Image) {
	if m.descriptors != nil && img.Info.Usage&(gpu.ImageUsageSampled|gpu.ImageUsageStorage) != 0 {
		m.descriptors.ResetImage(index, img.Info.Usage)
	}
	if !img.External {
		m.device.DestroyImage(img.Native)
	}
}

func (m *Manager) destroySampler(index uint32, s *Sampler) {
	if m.descriptors != nil {
		m.descriptors.ResetSampler(index)
	}
	m.device.DestroySampler(s.Native)
}

func (m *Manager) destroyShader(_ uint32, s *Shader) {
	m.device.DestroyShaderModule(s.Native)
}
