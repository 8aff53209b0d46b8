package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

func VulkanResultString(result vk.Result) string {
	switch result {
	case vk.Success:
		return "VK_SUCCESS"
	case vk.NotReady:
		return "VK_NOT_READY"
	case vk.Timeout:
		return "VK_TIMEOUT"
	case vk.Incomplete:
		return "VK_INCOMPLETE"
	case vk.Suboptimal:
		return "VK_SUBOPTIMAL_KHR"
	case vk.ErrorOutOfHostMemory:
		return "VK_ERROR_OUT_OF_HOST_MEMORY"
	case vk.ErrorOutOfDeviceMemory:
		return "VK_ERROR_OUT_OF_DEVICE_MEMORY"
	case vk.ErrorInitializationFailed:
		return "VK_ERROR_INITIALIZATION_FAILED"
	case vk.ErrorDeviceLost:
		return "VK_ERROR_DEVICE_LOST"
	case vk.ErrorMemoryMapFailed:
		return "VK_ERROR_MEMORY_MAP_FAILED"
	case vk.ErrorLayerNotPresent:
		return "VK_ERROR_LAYER_NOT_PRESENT"
	case vk.ErrorExtensionNotPresent:
		return "VK_ERROR_EXTENSION_NOT_PRESENT"
	case vk.ErrorFeatureNotPresent:
		return "VK_ERROR_FEATURE_NOT_PRESENT"
	case vk.ErrorIncompatibleDriver:
		return "VK_ERROR_INCOMPATIBLE_DRIVER"
	case vk.ErrorFormatNotSupported:
		return "VK_ERROR_FORMAT_NOT_SUPPORTED"
	case vk.ErrorFragmentedPool:
		return "VK_ERROR_FRAGMENTED_POOL"
	case vk.ErrorOutOfPoolMemory:
		return "VK_ERROR_OUT_OF_POOL_MEMORY"
	case vk.ErrorSurfaceLost:
		return "VK_ERROR_SURFACE_LOST_KHR"
	case vk.ErrorOutOfDate:
		return "VK_ERROR_OUT_OF_DATE_KHR"
	}
	return fmt.Sprintf("VkResult(%d)", int32(result))
}

func VulkanResultIsSuccess(result vk.Result) bool {
	return result >= 0
}

// resultError turns a failed call into an error. The conditions the render
// core reacts to wrap the matching gpu sentinel.
func resultError(call string, result vk.Result) error {
	if VulkanResultIsSuccess(result) {
		return nil
	}
	var sentinel error
	switch result {
	case vk.ErrorDeviceLost:
		sentinel = gpu.ErrDeviceLost
	case vk.ErrorOutOfHostMemory:
		sentinel = gpu.ErrOutOfHostMemory
	case vk.ErrorOutOfDeviceMemory:
		sentinel = gpu.ErrOutOfDeviceMemory
	case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
		sentinel = gpu.ErrOutOfPoolMemory
	case vk.ErrorOutOfDate:
		sentinel = gpu.ErrSwapchainOutOfDate
	default:
		return fmt.Errorf("%s failed with %s", call, VulkanResultString(result))
	}
	return fmt.Errorf("%s failed with %s: %w", call, VulkanResultString(result), sentinel)
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// cString converts a fixed size, NUL terminated name from a Vulkan struct.
func cString(arr []byte) string {
	for i, b := range arr {
		if b == 0 {
			return string(arr[:i])
		}
	}
	return string(arr)
}

// mappedBytes views size bytes of mapped device memory.
func mappedBytes(ptr unsafe.Pointer, size uint64) []byte {
	if ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(ptr), size)
}

func unsafePointer(data []byte) unsafe.Pointer {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Pointer(&data[0])
}
