package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// Queries in each frame slot's timestamp pool.
const maxTimestamps = 512

type VulkanDevice struct {
	PhysicalDevice   vk.PhysicalDevice
	LogicalDevice    vk.Device
	SwapchainSupport VulkanSwapchainSupportInfo

	// Graphics and compute share one family.
	GraphicsQueueIndex int32
	PresentQueueIndex  int32

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue

	GraphicsCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties
	// Descriptor indexing limits of the update-after-bind table.
	Indexing vk.PhysicalDeviceVulkan12Properties

	DepthFormat vk.Format
}

type VulkanPhysicalDeviceRequirements struct {
	DeviceExtensionNames []string
	SamplerAnisotropy    bool
	DiscreteGPU          bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
}

// Limits reports what the render core may rely on.
func (d *VulkanDevice) Limits() gpu.Limits {
	limits := d.Properties.Limits
	l := gpu.Limits{
		MaxBindlessBuffers:              d.Indexing.MaxDescriptorSetUpdateAfterBindStorageBuffers,
		MaxBindlessImages:               min(d.Indexing.MaxDescriptorSetUpdateAfterBindSampledImages, d.Indexing.MaxDescriptorSetUpdateAfterBindStorageImages),
		MaxBindlessSamplers:             d.Indexing.MaxDescriptorSetUpdateAfterBindSamplers,
		MaxPushConstantSize:             limits.MaxPushConstantsSize,
		TimestampPeriod:                 limits.TimestampPeriod,
		MinStorageBufferOffsetAlignment: uint64(limits.MinStorageBufferOffsetAlignment),
	}
	if limits.TimestampComputeAndGraphics == vk.True {
		l.MaxTimestamps = maxTimestamps
	}
	return l
}

func DeviceCreate(context *VulkanContext) error {
	if err := SelectPhysicalDevice(context); err != nil {
		return err
	}

	core.LogInfo("Creating logical device...")

	// NOTE: Do not create additional queues for shared indices.
	indices := []uint32{uint32(context.Device.GraphicsQueueIndex)}
	if context.Device.PresentQueueIndex != context.Device.GraphicsQueueIndex {
		indices = append(indices, uint32(context.Device.PresentQueueIndex))
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: indices[i],
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	// Request device features.
	deviceFeatures := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy:                      context.Device.Features.SamplerAnisotropy,
		FillModeNonSolid:                       context.Device.Features.FillModeNonSolid,
		WideLines:                              context.Device.Features.WideLines,
		MultiDrawIndirect:                      vk.True,
		ShaderInt64:                            context.Device.Features.ShaderInt64,
		ShaderStorageImageWriteWithoutFormat:   context.Device.Features.ShaderStorageImageWriteWithoutFormat,
		ShaderSampledImageArrayDynamicIndexing: vk.True,
	}
	// Bindless needs descriptor indexing with update after bind, culling
	// needs the indirect count draws.
	features12 := vk.PhysicalDeviceVulkan12Features{
		SType:                           vk.StructureTypePhysicalDeviceVulkan12Features,
		DrawIndirectCount:               vk.True,
		DescriptorIndexing:              vk.True,
		RuntimeDescriptorArray:          vk.True,
		DescriptorBindingPartiallyBound: vk.True,
		DescriptorBindingSampledImageUpdateAfterBind:  vk.True,
		DescriptorBindingStorageImageUpdateAfterBind:  vk.True,
		DescriptorBindingStorageBufferUpdateAfterBind: vk.True,
		ShaderSampledImageArrayNonUniformIndexing:     vk.True,
		ShaderStorageBufferArrayNonUniformIndexing:    vk.True,
		ShaderStorageImageArrayNonUniformIndexing:     vk.True,
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if hasDeviceExtension(context.Device.PhysicalDevice, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   unsafe.Pointer(&features12),
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	// Create the device.
	if res := vk.CreateDevice(
		context.Device.PhysicalDevice,
		&deviceCreateInfo,
		context.Allocator,
		&context.Device.LogicalDevice); res != vk.Success {
		err := resultError("vkCreateDevice", res)
		core.LogError(err.Error())
		return err
	}

	core.LogInfo("Logical device created.")

	// Get queues.
	var graphics, present vk.Queue
	vk.GetDeviceQueue(context.Device.LogicalDevice, uint32(context.Device.GraphicsQueueIndex), 0, &graphics)
	vk.GetDeviceQueue(context.Device.LogicalDevice, uint32(context.Device.PresentQueueIndex), 0, &present)
	context.Device.GraphicsQueue = graphics
	context.Device.PresentQueue = present
	core.LogInfo("Queues obtained.")

	// Create command pool for graphics queue.
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(context.Device.GraphicsQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(context.Device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
		err := resultError("vkCreateCommandPool", res)
		core.LogError(err.Error())
		return err
	}
	context.Device.GraphicsCommandPool = pool
	core.LogInfo("Graphics command pool created.")

	if !DeviceDetectDepthFormat(context.Device) {
		return fmt.Errorf("no supported depth format: %w", gpu.ErrUnsupported)
	}
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	// Unset queues
	context.Device.GraphicsQueue = nil
	context.Device.PresentQueue = nil

	core.LogInfo("Destroying command pools...")
	if context.Device.GraphicsCommandPool != nil {
		vk.DestroyCommandPool(context.Device.LogicalDevice, context.Device.GraphicsCommandPool, context.Allocator)
		context.Device.GraphicsCommandPool = nil
	}

	// Destroy logical device
	core.LogInfo("Destroying logical device...")
	if context.Device.LogicalDevice != nil {
		vk.DestroyDevice(context.Device.LogicalDevice, context.Allocator)
		context.Device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	context.Device.PhysicalDevice = nil
	context.Device.SwapchainSupport = VulkanSwapchainSupportInfo{}
	context.Device.GraphicsQueueIndex = -1
	context.Device.PresentQueueIndex = -1
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *VulkanSwapchainSupportInfo) error {
	// Surface capabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities); res != vk.Success {
		return resultError("vkGetPhysicalDeviceSurfaceCapabilitiesKHR", res)
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	// Surface formats
	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil); res != vk.Success {
		return resultError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
	}
	supportInfo.Formats = make([]vk.SurfaceFormat, formatCount)
	if formatCount != 0 {
		if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, supportInfo.Formats); res != vk.Success {
			return resultError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}

	// Present modes
	var modeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, nil); res != vk.Success {
		return resultError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
	}
	supportInfo.PresentModes = make([]vk.PresentMode, modeCount)
	if modeCount != 0 {
		if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, supportInfo.PresentModes); res != vk.Success {
			return resultError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
		}
	}
	return nil
}

func DeviceDetectDepthFormat(device *VulkanDevice) bool {
	// Format candidates
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit | vk.FormatFeatureSampledImageBit)
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if properties.OptimalTilingFeatures&flags == flags {
			device.DepthFormat = candidate
			return true
		}
	}
	return false
}

func hasDeviceExtension(device vk.PhysicalDevice, name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

func SelectPhysicalDevice(context *VulkanContext) error {
	var physicalDeviceCount uint32 = 0
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil); res != vk.Success {
		return resultError("vkEnumeratePhysicalDevices", res)
	}

	if physicalDeviceCount == 0 {
		return fmt.Errorf("no devices which support Vulkan were found: %w", gpu.ErrUnsupported)
	}

	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		return resultError("vkEnumeratePhysicalDevices", res)
	}

	requirements := VulkanPhysicalDeviceRequirements{
		SamplerAnisotropy:    true,
		DiscreteGPU:          true,
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}
	if runtime.GOOS == "darwin" {
		requirements.DiscreteGPU = false
	}

	// A second round accepts integrated GPUs when no discrete one fits.
	for _, discrete := range []bool{requirements.DiscreteGPU, false} {
		requirements.DiscreteGPU = discrete
		for i := range physicalDevices {
			if selectDevice(context, physicalDevices[i], &requirements) {
				core.LogInfo("Physical device selected.")
				return nil
			}
		}
	}

	core.LogError("No physical devices were found which meet the requirements.")
	return fmt.Errorf("no physical device meets the requirements: %w", gpu.ErrUnsupported)
}

func selectDevice(context *VulkanContext, device vk.PhysicalDevice, requirements *VulkanPhysicalDeviceRequirements) bool {
	properties := vk.PhysicalDeviceProperties{}
	vk.GetPhysicalDeviceProperties(device, &properties)
	properties.Deref()
	properties.Limits.Deref()

	features := vk.PhysicalDeviceFeatures{}
	vk.GetPhysicalDeviceFeatures(device, &features)
	features.Deref()

	features12 := vk.PhysicalDeviceVulkan12Features{SType: vk.StructureTypePhysicalDeviceVulkan12Features}
	features2 := vk.PhysicalDeviceFeatures2{
		SType: vk.StructureTypePhysicalDeviceFeatures2,
		PNext: unsafe.Pointer(&features12),
	}
	vk.GetPhysicalDeviceFeatures2(device, &features2)

	indexing := vk.PhysicalDeviceVulkan12Properties{SType: vk.StructureTypePhysicalDeviceVulkan12Properties}
	properties2 := vk.PhysicalDeviceProperties2{
		SType: vk.StructureTypePhysicalDeviceProperties2,
		PNext: unsafe.Pointer(&indexing),
	}
	vk.GetPhysicalDeviceProperties2(device, &properties2)

	memory := vk.PhysicalDeviceMemoryProperties{}
	vk.GetPhysicalDeviceMemoryProperties(device, &memory)
	memory.Deref()

	queueInfo := VulkanPhysicalDeviceQueueFamilyInfo{}
	support := VulkanSwapchainSupportInfo{}
	if !PhysicalDeviceMeetsRequirements(device, context.Surface, &properties, &features, &features12, requirements, &queueInfo, &support) {
		return false
	}

	name := cString(properties.DeviceName[:])
	core.LogInfo("Selected device: '%s'.", name)
	// GPU type, etc.
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}

	core.LogInfo(
		"GPU Driver version: %d.%d.%d",
		vk.Version(properties.DriverVersion).Major(),
		vk.Version(properties.DriverVersion).Minor(),
		vk.Version(properties.DriverVersion).Patch(),
	)
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version(properties.ApiVersion).Major(),
		vk.Version(properties.ApiVersion).Minor(),
		vk.Version(properties.ApiVersion).Patch(),
	)

	// Memory information
	for j := 0; j < int(memory.MemoryHeapCount); j++ {
		memory.MemoryHeaps[j].Deref()
		memorySizeGib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", memorySizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", memorySizeGib)
		}
	}

	context.Device.PhysicalDevice = device
	context.Device.GraphicsQueueIndex = queueInfo.GraphicsFamilyIndex
	context.Device.PresentQueueIndex = queueInfo.PresentFamilyIndex
	context.Device.SwapchainSupport = support

	// Keep a copy of properties, features and memory info for later use.
	context.Device.Properties = properties
	context.Device.Features = features
	context.Device.Memory = memory
	context.Device.Indexing = indexing
	return true
}

func PhysicalDeviceMeetsRequirements(
	device vk.PhysicalDevice,
	surface vk.Surface,
	properties *vk.PhysicalDeviceProperties,
	features *vk.PhysicalDeviceFeatures,
	features12 *vk.PhysicalDeviceVulkan12Features,
	requirements *VulkanPhysicalDeviceRequirements,
	outQueueInfo *VulkanPhysicalDeviceQueueFamilyInfo,
	outSwapchainSupport *VulkanSwapchainSupportInfo,
) bool {
	outQueueInfo.GraphicsFamilyIndex = -1
	outQueueInfo.PresentFamilyIndex = -1

	// Discrete GPU?
	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogInfo("Device is not a discrete GPU, and one is required. Skipping.")
		return false
	}
	if vk.Version(properties.ApiVersion).Minor() < 2 && vk.Version(properties.ApiVersion).Major() == 1 {
		core.LogInfo("Device does not support Vulkan 1.2, skipping.")
		return false
	}

	var queueFamilyCount uint32 = 0
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	// Look at each queue and see what queues it supports
	core.LogInfo("Graphics+Compute | Present | Name")
	graphicsCompute := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit)
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		if outQueueInfo.GraphicsFamilyIndex < 0 && queueFamilies[i].QueueFlags&graphicsCompute == graphicsCompute {
			outQueueInfo.GraphicsFamilyIndex = int32(i)
		}

		var supportsPresent vk.Bool32 = vk.False
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			return false
		}
		// Prefer presenting from the graphics family.
		if supportsPresent == vk.True && (outQueueInfo.PresentFamilyIndex < 0 || outQueueInfo.GraphicsFamilyIndex == int32(i)) {
			outQueueInfo.PresentFamilyIndex = int32(i)
		}
	}

	// Print out some info about the device
	core.LogInfo("               %t |    %t | %s",
		outQueueInfo.GraphicsFamilyIndex >= 0,
		outQueueInfo.PresentFamilyIndex >= 0,
		cString(properties.DeviceName[:]))

	if outQueueInfo.GraphicsFamilyIndex < 0 || outQueueInfo.PresentFamilyIndex < 0 {
		return false
	}
	core.LogInfo("Device meets queue requirements.")
	core.LogDebug("Graphics Family Index: %d", outQueueInfo.GraphicsFamilyIndex)
	core.LogDebug("Present Family Index:  %d", outQueueInfo.PresentFamilyIndex)

	// Query swapchain support.
	if err := DeviceQuerySwapchainSupport(device, surface, outSwapchainSupport); err != nil {
		core.LogWarn("%s", err)
		return false
	}
	if len(outSwapchainSupport.Formats) < 1 || len(outSwapchainSupport.PresentModes) < 1 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return false
	}

	// Device extensions.
	for _, name := range requirements.DeviceExtensionNames {
		if !hasDeviceExtension(device, name) {
			core.LogInfo("Required extension not found: '%s', skipping device.", name)
			return false
		}
	}
	// Sampler anisotropy
	if requirements.SamplerAnisotropy && features.SamplerAnisotropy == vk.False {
		core.LogInfo("Device does not support samplerAnisotropy, skipping.")
		return false
	}
	if features12.DescriptorIndexing == vk.False ||
		features12.RuntimeDescriptorArray == vk.False ||
		features12.DescriptorBindingPartiallyBound == vk.False ||
		features12.DrawIndirectCount == vk.False {
		core.LogInfo("Device does not support descriptor indexing with indirect count draws, skipping.")
		return false
	}
	// Device meets all requirements.
	return true
}
