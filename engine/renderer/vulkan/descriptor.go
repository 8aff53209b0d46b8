package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type DescriptorSet struct {
	Handle vk.DescriptorSet
	set    uint32
}

func (s *DescriptorSet) SetIndex() uint32 { return s.set }

// descriptorSetLayout creates the layout of one set. An empty binding list
// is valid and fills the gaps below the bindless set.
func descriptorSetLayout(context *VulkanContext, bindings []gpu.DescriptorBinding) (vk.DescriptorSetLayout, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.Type),
			DescriptorCount: max(b.Count, 1),
			StageFlags:      vk.ShaderStageFlags(b.Stages),
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	var layout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &info, context.Allocator, &layout); res != vk.Success {
		return vk.NullDescriptorSetLayout, resultError("vkCreateDescriptorSetLayout", res)
	}
	return layout, nil
}

type DescriptorPool struct {
	Handle  vk.DescriptorPool
	context *VulkanContext
}

func DescriptorPoolCreate(context *VulkanContext, maxSets uint32) (*DescriptorPool, error) {
	types := []vk.DescriptorType{
		vk.DescriptorTypeUniformBuffer,
		vk.DescriptorTypeStorageBuffer,
		vk.DescriptorTypeCombinedImageSampler,
		vk.DescriptorTypeSampledImage,
		vk.DescriptorTypeStorageImage,
		vk.DescriptorTypeSampler,
	}
	sizes := make([]vk.DescriptorPoolSize, len(types))
	for i, t := range types {
		sizes[i] = vk.DescriptorPoolSize{Type: t, DescriptorCount: maxSets * poolDescriptorsPerSet}
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var handle vk.DescriptorPool
	if res := vk.CreateDescriptorPool(context.Device.LogicalDevice, &info, context.Allocator, &handle); res != vk.Success {
		return nil, resultError("vkCreateDescriptorPool", res)
	}
	return &DescriptorPool{Handle: handle, context: context}, nil
}

func (p *DescriptorPool) Allocate(layout gpu.PipelineLayout, set uint32) (gpu.DescriptorSet, error) {
	l, ok := layout.(*PipelineLayout)
	if !ok || set >= gpu.MaxDescriptorSets {
		return nil, fmt.Errorf("allocate descriptor set %d: invalid layout", set)
	}
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.Handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{l.SetLayouts[set]},
	}
	var handle vk.DescriptorSet
	var res vk.Result
	p.context.locks.SafeCall(DescriptorManagement, func() error {
		res = vk.AllocateDescriptorSets(p.context.Device.LogicalDevice, &info, &handle)
		return nil
	})
	if res != vk.Success {
		return nil, resultError("vkAllocateDescriptorSets", res)
	}
	return &DescriptorSet{Handle: handle, set: set}, nil
}

func (p *DescriptorPool) Reset() error {
	return resultError("vkResetDescriptorPool", vk.ResetDescriptorPool(p.context.Device.LogicalDevice, p.Handle, 0))
}

func (p *DescriptorPool) Destroy() {
	if p.Handle != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(p.context.Device.LogicalDevice, p.Handle, p.context.Allocator)
		p.Handle = vk.NullDescriptorPool
	}
}

// writeDescriptorSets converts writes and applies them in one call. The
// info slices stay referenced until the call returns.
func writeDescriptorSets(context *VulkanContext, writes []gpu.DescriptorWrite, fallback *DescriptorSet) {
	if len(writes) == 0 {
		return
	}
	out := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		set := fallback
		if s, ok := w.Set.(*DescriptorSet); ok {
			set = s
		}
		if set == nil {
			continue
		}
		vw := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set.Handle,
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorType(w.Type),
		}
		switch w.Type {
		case gpu.DescriptorUniformBuffer, gpu.DescriptorStorageBuffer:
			b := w.Buffer.(*Buffer)
			size := vk.DeviceSize(w.Range)
			if w.Range == 0 {
				size = vk.DeviceSize(vk.WholeSize)
			}
			vw.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: b.Handle,
				Offset: vk.DeviceSize(w.Offset),
				Range:  size,
			}}
		default:
			info := vk.DescriptorImageInfo{ImageLayout: vk.ImageLayout(w.Layout)}
			if img, ok := w.Image.(*Image); ok {
				info.ImageView = img.View
			}
			if s, ok := w.Sampler.(*Sampler); ok {
				info.Sampler = s.Handle
			}
			vw.PImageInfo = []vk.DescriptorImageInfo{info}
		}
		out = append(out, vw)
	}
	context.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(context.Device.LogicalDevice, uint32(len(out)), out, 0, nil)
		return nil
	})
}

// BindlessTable is one update-after-bind set with a partially bound array
// per resource kind.
type BindlessTable struct {
	Layout   vk.DescriptorSetLayout
	Pool     vk.DescriptorPool
	set      *DescriptorSet
	capacity gpu.BindlessCapacity
	context  *VulkanContext
}

func (t *BindlessTable) Capacity() gpu.BindlessCapacity { return t.capacity }
func (t *BindlessTable) Set() gpu.DescriptorSet         { return t.set }

func (t *BindlessTable) Write(writes []gpu.DescriptorWrite) {
	writeDescriptorSets(t.context, writes, t.set)
}

func BindlessTableCreate(context *VulkanContext, capacity gpu.BindlessCapacity) (*BindlessTable, error) {
	t := &BindlessTable{capacity: capacity, context: context}
	stages := vk.ShaderStageFlags(gpu.ShaderStageAll)
	bindings := []vk.DescriptorSetLayoutBinding{
		{Binding: gpu.BindlessStorageBuffers, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: capacity.Buffers, StageFlags: stages},
		{Binding: gpu.BindlessSampledImages, DescriptorType: vk.DescriptorTypeSampledImage, DescriptorCount: capacity.Images, StageFlags: stages},
		{Binding: gpu.BindlessStorageImages, DescriptorType: vk.DescriptorTypeStorageImage, DescriptorCount: capacity.Images, StageFlags: stages},
		{Binding: gpu.BindlessSamplers, DescriptorType: vk.DescriptorTypeSampler, DescriptorCount: capacity.Samplers, StageFlags: stages},
	}
	flag := vk.DescriptorBindingFlags(vk.DescriptorBindingPartiallyBoundBit | vk.DescriptorBindingUpdateAfterBindBit)
	flags := vk.DescriptorSetLayoutBindingFlagsCreateInfo{
		SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
		BindingCount:  uint32(len(bindings)),
		PBindingFlags: []vk.DescriptorBindingFlags{flag, flag, flag, flag},
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		PNext:        unsafe.Pointer(&flags),
		Flags:        vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreateUpdateAfterBindPoolBit),
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &layoutInfo, context.Allocator, &t.Layout); res != vk.Success {
		return nil, resultError("vkCreateDescriptorSetLayout", res)
	}

	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: capacity.Buffers},
		{Type: vk.DescriptorTypeSampledImage, DescriptorCount: capacity.Images},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: capacity.Images},
		{Type: vk.DescriptorTypeSampler, DescriptorCount: capacity.Samplers},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateUpdateAfterBindBit),
		MaxSets:       1,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	if res := vk.CreateDescriptorPool(context.Device.LogicalDevice, &poolInfo, context.Allocator, &t.Pool); res != vk.Success {
		t.Destroy()
		return nil, resultError("vkCreateDescriptorPool", res)
	}

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     t.Pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{t.Layout},
	}
	var handle vk.DescriptorSet
	if res := vk.AllocateDescriptorSets(context.Device.LogicalDevice, &allocInfo, &handle); res != vk.Success {
		t.Destroy()
		return nil, resultError("vkAllocateDescriptorSets", res)
	}
	t.set = &DescriptorSet{Handle: handle, set: gpu.BindlessSetIndex}
	return t, nil
}

func (t *BindlessTable) Destroy() {
	device := t.context.Device.LogicalDevice
	if t.Pool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(device, t.Pool, t.context.Allocator)
		t.Pool = vk.NullDescriptorPool
	}
	if t.Layout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(device, t.Layout, t.context.Allocator)
		t.Layout = vk.NullDescriptorSetLayout
	}
	t.set = nil
}
