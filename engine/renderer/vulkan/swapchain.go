package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type VulkanSwapchain struct {
	ImageFormat vk.SurfaceFormat
	Handle      vk.Swapchain
	Extent      vk.Extent2D
	// Owned by the swapchain, only the views are destroyed with it.
	Images []*Image
}

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

func SwapchainCreate(context *VulkanContext, width, height uint32, vsync bool) (*VulkanSwapchain, error) {
	// Simply create a new one.
	return createSwapchain(context, width, height, vsync, nil)
}

// SwapchainRecreate builds a new swapchain from the old one and destroys
// the old one. The device must be idle.
func (vs *VulkanSwapchain) SwapchainRecreate(context *VulkanContext, width, height uint32, vsync bool) (*VulkanSwapchain, error) {
	if err := DeviceQuerySwapchainSupport(context.Device.PhysicalDevice, context.Surface, &context.Device.SwapchainSupport); err != nil {
		return nil, err
	}
	sc, err := createSwapchain(context, width, height, vsync, vs)
	vs.destroySwapchain(context)
	return sc, err
}

func (vs *VulkanSwapchain) SwapchainDestroy(context *VulkanContext) {
	vs.destroySwapchain(context)
}

// SwapchainAcquireNextImageIndex returns gpu.ErrSwapchainOutOfDate when the
// swapchain has to be recreated before rendering.
func (vs *VulkanSwapchain) SwapchainAcquireNextImageIndex(context *VulkanContext, timeoutNS uint64, imageAvailableSemaphore vk.Semaphore) (uint32, error) {
	var index uint32
	result := vk.AcquireNextImage(context.Device.LogicalDevice, vs.Handle, timeoutNS, imageAvailableSemaphore, vk.NullFence, &index)
	switch result {
	case vk.Success, vk.Suboptimal:
		return index, nil
	case vk.Timeout, vk.NotReady:
		return 0, fmt.Errorf("acquire swapchain image: %w", gpu.ErrTimeout)
	}
	return 0, resultError("vkAcquireNextImageKHR", result)
}

// SwapchainPresent returns gpu.ErrSwapchainOutOfDate when the surface
// changed, including when presenting was suboptimal.
func (vs *VulkanSwapchain) SwapchainPresent(context *VulkanContext, presentQueue vk.Queue, renderCompleteSemaphore vk.Semaphore, presentImageIndex uint32) error {
	// Return the image to the swapchain for presentation.
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{renderCompleteSemaphore},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{vs.Handle},
		PImageIndices:      []uint32{presentImageIndex},
	}

	var result vk.Result
	context.locks.SafeCall(QueueManagement, func() error {
		result = vk.QueuePresent(presentQueue, &presentInfo)
		return nil
	})
	if result == vk.Suboptimal {
		return fmt.Errorf("present: suboptimal swapchain: %w", gpu.ErrSwapchainOutOfDate)
	}
	return resultError("vkQueuePresentKHR", result)
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	// Preferred formats
	for _, format := range formats {
		if format.Format == vk.FormatB8g8r8a8Srgb && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	for _, format := range formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	return formats[0]
}

func choosePresentMode(modes []vk.PresentMode, vsync bool) vk.PresentMode {
	if vsync {
		return vk.PresentModeFifo
	}
	presentMode := vk.PresentModeFifo
	for _, mode := range modes {
		switch mode {
		case vk.PresentModeMailbox:
			return mode
		case vk.PresentModeImmediate:
			presentMode = mode
		}
	}
	return presentMode
}

func createSwapchain(context *VulkanContext, width, height uint32, vsync bool, old *VulkanSwapchain) (*VulkanSwapchain, error) {
	support := &context.Device.SwapchainSupport
	swapchain := &VulkanSwapchain{
		ImageFormat: chooseSurfaceFormat(support.Formats),
		Extent:      vk.Extent2D{Width: width, Height: height},
	}
	presentMode := choosePresentMode(support.PresentModes, vsync)

	// Swapchain extent
	if support.Capabilities.CurrentExtent.Width != math.MaxUint32 {
		swapchain.Extent = support.Capabilities.CurrentExtent
	}

	// Clamp to the value allowed by the GPU.
	minExtent := support.Capabilities.MinImageExtent
	maxExtent := support.Capabilities.MaxImageExtent
	swapchain.Extent.Width = core.Clamp(swapchain.Extent.Width, minExtent.Width, maxExtent.Width)
	swapchain.Extent.Height = core.Clamp(swapchain.Extent.Height, minExtent.Height, maxExtent.Height)

	imageCount := support.Capabilities.MinImageCount + 1
	if support.Capabilities.MaxImageCount > 0 && imageCount > support.Capabilities.MaxImageCount {
		imageCount = support.Capabilities.MaxImageCount
	}

	// Storage lets compute passes write the backbuffer directly.
	usage := vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit
	if vk.ImageUsageFlagBits(support.Capabilities.SupportedUsageFlags)&vk.ImageUsageStorageBit != 0 {
		usage |= vk.ImageUsageStorageBit
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      swapchain.ImageFormat.Format,
		ImageColorSpace:  swapchain.ImageFormat.ColorSpace,
		ImageExtent:      swapchain.Extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(usage),
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
	}
	if old != nil {
		swapchainCreateInfo.OldSwapchain = old.Handle
	}

	// Setup the queue family indices
	if context.Device.GraphicsQueueIndex != context.Device.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{
			uint32(context.Device.GraphicsQueueIndex),
			uint32(context.Device.PresentQueueIndex),
		}
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var swapchainHandle vk.Swapchain
	if res := vk.CreateSwapchain(context.Device.LogicalDevice, &swapchainCreateInfo, context.Allocator, &swapchainHandle); res != vk.Success {
		err := resultError("vkCreateSwapchainKHR", res)
		core.LogError(err.Error())
		return nil, err
	}
	swapchain.Handle = swapchainHandle

	// Images
	var count uint32
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, swapchain.Handle, &count, nil); res != vk.Success {
		return nil, resultError("vkGetSwapchainImagesKHR", res)
	}
	handles := make([]vk.Image, count)
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, swapchain.Handle, &count, handles); res != vk.Success {
		return nil, resultError("vkGetSwapchainImagesKHR", res)
	}

	info := gpu.ImageInfo{
		Format:      gpu.Format(swapchain.ImageFormat.Format),
		Extent:      gpu.Extent3D{Width: swapchain.Extent.Width, Height: swapchain.Extent.Height, Depth: 1},
		MipLevels:   1,
		ArrayLayers: 1,
		Usage:       gpu.ImageUsage(usage),
	}
	for i, handle := range handles {
		info.Label = fmt.Sprintf("swapchain-%d", i)
		img := &Image{Handle: handle, info: info, swapchain: true}
		if err := img.createView(context); err != nil {
			swapchain.destroySwapchain(context)
			return nil, err
		}
		swapchain.Images = append(swapchain.Images, img)
	}

	core.LogInfo("Swapchain created: %dx%d, %d images.", swapchain.Extent.Width, swapchain.Extent.Height, count)
	return swapchain, nil
}

func (vs *VulkanSwapchain) destroySwapchain(context *VulkanContext) {
	// Only destroy the views, not the images, since those are owned by the swapchain and are thus
	// destroyed when it is.
	for _, img := range vs.Images {
		img.destroyView(context)
	}
	vs.Images = nil
	if vs.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(context.Device.LogicalDevice, vs.Handle, context.Allocator)
		vs.Handle = vk.NullSwapchain
	}
}
