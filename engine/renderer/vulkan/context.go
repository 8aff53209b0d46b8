package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
)

type VulkanContext struct {
	// The framebuffer's current size, updated by Resize.
	FramebufferWidth  uint32
	FramebufferHeight uint32

	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback
	// Set when VK_EXT_debug_utils is enabled, gates command buffer labels.
	debugUtils bool

	Device    *VulkanDevice
	Swapchain *VulkanSwapchain

	// One entry per frame slot.
	Frames []*frameSync

	locks *VulkanLockPool
}

// frameSync is everything a frame slot owns on the device.
type frameSync struct {
	Cmd            *VulkanCommandBuffer
	ImageAvailable vk.Semaphore
	RenderFinished vk.Semaphore
	InFlight       *VulkanFence
	Queries        vk.QueryPool
	ImageIndex     uint32
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	memoryProperties := vc.Device.Memory
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// allocate binds fresh device memory matching requirements.
func (vc *VulkanContext) allocate(requirements vk.MemoryRequirements, properties vk.MemoryPropertyFlagBits) (vk.DeviceMemory, error) {
	requirements.Deref()
	index := vc.FindMemoryIndex(requirements.MemoryTypeBits, uint32(properties))
	if index < 0 {
		return nil, resultError("vkAllocateMemory", vk.ErrorOutOfDeviceMemory)
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(vc.Device.LogicalDevice, &info, vc.Allocator, &memory); res != vk.Success {
		return nil, resultError("vkAllocateMemory", res)
	}
	return memory, nil
}
