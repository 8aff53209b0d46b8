package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type Image struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView

	info      gpu.ImageInfo
	swapchain bool
}

func (img *Image) Info() gpu.ImageInfo { return img.info }

func (img *Image) aspect() vk.ImageAspectFlags {
	if img.info.Format.IsDepth() {
		// Views of combined formats only read the depth aspect.
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

// barrierAspect covers every aspect of the format.
func (img *Image) barrierAspect() vk.ImageAspectFlags {
	aspect := img.aspect()
	if img.info.Format.HasStencil() {
		aspect |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return aspect
}

func (img *Image) subresources(aspect vk.ImageAspectFlags) vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask: aspect,
		LevelCount: max(img.info.MipLevels, 1),
		LayerCount: max(img.info.ArrayLayers, 1),
	}
}

func (img *Image) createView(context *VulkanContext) error {
	viewType := vk.ImageViewType2d
	if img.info.ArrayLayers > 1 {
		viewType = vk.ImageViewType2dArray
	}
	viewInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            img.Handle,
		ViewType:         viewType,
		Format:           vk.Format(img.info.Format),
		SubresourceRange: img.subresources(img.aspect()),
	}
	var view vk.ImageView
	if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &view); res != vk.Success {
		return resultError("vkCreateImageView", res)
	}
	img.View = view
	return nil
}

func (img *Image) destroyView(context *VulkanContext) {
	if img.View != vk.NullImageView {
		vk.DestroyImageView(context.Device.LogicalDevice, img.View, context.Allocator)
		img.View = vk.NullImageView
	}
}

func ImageCreate(context *VulkanContext, info gpu.ImageInfo) (*Image, error) {
	img := &Image{info: info}
	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
			Depth:  max(info.Extent.Depth, 1),
		},
		MipLevels:     max(info.MipLevels, 1),
		ArrayLayers:   max(info.ArrayLayers, 1),
		Format:        vk.Format(info.Format),
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         imageUsage(info.Usage),
		Samples:       vk.SampleCount1Bit,
		SharingMode:   vk.SharingModeExclusive,
	}
	var handle vk.Image
	if res := vk.CreateImage(context.Device.LogicalDevice, &imageCreateInfo, context.Allocator, &handle); res != vk.Success {
		return nil, resultError("vkCreateImage", res)
	}
	img.Handle = handle

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(context.Device.LogicalDevice, img.Handle, &requirements)
	memory, err := context.allocate(requirements, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		img.ImageDestroy(context)
		return nil, err
	}
	img.Memory = memory
	if res := vk.BindImageMemory(context.Device.LogicalDevice, img.Handle, img.Memory, 0); res != vk.Success {
		img.ImageDestroy(context)
		return nil, resultError("vkBindImageMemory", res)
	}
	if err := img.createView(context); err != nil {
		img.ImageDestroy(context)
		return nil, err
	}
	return img, nil
}

// imageUsage translates usage flags, which share the Vulkan bit values.
func imageUsage(usage gpu.ImageUsage) vk.ImageUsageFlags {
	return vk.ImageUsageFlags(usage)
}

func (img *Image) ImageDestroy(context *VulkanContext) {
	img.destroyView(context)
	if img.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(context.Device.LogicalDevice, img.Memory, context.Allocator)
		img.Memory = vk.NullDeviceMemory
	}
	if img.Handle != vk.NullImage {
		vk.DestroyImage(context.Device.LogicalDevice, img.Handle, context.Allocator)
		img.Handle = vk.NullImage
	}
}

type Sampler struct {
	Handle vk.Sampler
	info   gpu.SamplerInfo
}

func (s *Sampler) Info() gpu.SamplerInfo { return s.info }

func SamplerCreate(context *VulkanContext, info gpu.SamplerInfo) (*Sampler, error) {
	samplerInfo := vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    vk.Filter(info.MagFilter),
		MinFilter:    vk.Filter(info.MinFilter),
		MipmapMode:   vk.SamplerMipmapMode(info.Mipmap),
		AddressModeU: vk.SamplerAddressMode(info.AddressU),
		AddressModeV: vk.SamplerAddressMode(info.AddressV),
		AddressModeW: vk.SamplerAddressMode(info.AddressW),
		CompareOp:    vk.CompareOp(info.Compare),
		MinLod:       info.MinLod,
		MaxLod:       info.MaxLod,
		BorderColor:  vk.BorderColor(info.Border),
	}
	if info.MaxAnisotropy > 1 && context.Device.Features.SamplerAnisotropy == vk.True {
		samplerInfo.AnisotropyEnable = vk.True
		samplerInfo.MaxAnisotropy = min(info.MaxAnisotropy, context.Device.Properties.Limits.MaxSamplerAnisotropy)
	}
	if info.CompareEnable {
		samplerInfo.CompareEnable = vk.True
	}
	var handle vk.Sampler
	if res := vk.CreateSampler(context.Device.LogicalDevice, &samplerInfo, context.Allocator, &handle); res != vk.Success {
		return nil, resultError("vkCreateSampler", res)
	}
	return &Sampler{Handle: handle, info: info}, nil
}

func (s *Sampler) SamplerDestroy(context *VulkanContext) {
	if s.Handle != vk.NullSampler {
		vk.DestroySampler(context.Device.LogicalDevice, s.Handle, context.Allocator)
		s.Handle = vk.NullSampler
	}
}
