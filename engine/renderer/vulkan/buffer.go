package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type Buffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory

	info   gpu.BufferInfo
	mapped []byte
}

func (b *Buffer) Info() gpu.BufferInfo { return b.info }
func (b *Buffer) Mapped() []byte       { return b.mapped }

// BufferCreate allocates device local memory, or persistently mapped
// coherent host memory for host visible buffers.
func BufferCreate(context *VulkanContext, info gpu.BufferInfo) (*Buffer, error) {
	b := &Buffer{info: info}
	// Every buffer may be a copy source or destination of a transfer pass.
	usage := vk.BufferUsageFlags(info.Usage | gpu.BufferUsageTransferSrc | gpu.BufferUsageTransferDst)
	if info.Usage == 0 {
		usage |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(info.Size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(context.Device.LogicalDevice, &bufferInfo, context.Allocator, &handle); res != vk.Success {
		return nil, resultError("vkCreateBuffer", res)
	}
	b.Handle = handle

	properties := vk.MemoryPropertyDeviceLocalBit
	if info.HostVisible {
		properties = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, b.Handle, &requirements)
	memory, err := context.allocate(requirements, properties)
	if err != nil {
		b.BufferDestroy(context)
		return nil, err
	}
	b.Memory = memory
	if res := vk.BindBufferMemory(context.Device.LogicalDevice, b.Handle, b.Memory, 0); res != vk.Success {
		b.BufferDestroy(context)
		return nil, resultError("vkBindBufferMemory", res)
	}

	if info.HostVisible {
		var ptr unsafe.Pointer
		if res := vk.MapMemory(context.Device.LogicalDevice, b.Memory, 0, vk.DeviceSize(info.Size), 0, &ptr); res != vk.Success {
			b.BufferDestroy(context)
			return nil, resultError("vkMapMemory", res)
		}
		b.mapped = mappedBytes(ptr, info.Size)
	}
	return b, nil
}

func (b *Buffer) BufferDestroy(context *VulkanContext) {
	if b.mapped != nil {
		vk.UnmapMemory(context.Device.LogicalDevice, b.Memory)
		b.mapped = nil
	}
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(context.Device.LogicalDevice, b.Memory, context.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(context.Device.LogicalDevice, b.Handle, context.Allocator)
		b.Handle = vk.NullBuffer
	}
}
