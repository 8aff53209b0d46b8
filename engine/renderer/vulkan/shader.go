package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// VulkanShaderStage is a compiled module and the stage it runs in.
type VulkanShaderStage struct {
	Handle vk.ShaderModule
	stage  gpu.ShaderStage
}

func (s *VulkanShaderStage) Stage() gpu.ShaderStage { return s.stage }

func (s *VulkanShaderStage) createInfo() vk.PipelineShaderStageCreateInfo {
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageFlagBits(s.stage),
		Module: s.Handle,
		PName:  shaderEntryPoint,
	}
}

// NewShaderModule creates a module from SPIR-V words. The code length must
// be a multiple of four.
func NewShaderModule(context *VulkanContext, stage gpu.ShaderStage, code []byte) (*VulkanShaderStage, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("shader module: %d bytes is not SPIR-V", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[4*i:])
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	var handle vk.ShaderModule
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		return nil, resultError("vkCreateShaderModule", res)
	}
	return &VulkanShaderStage{Handle: handle, stage: stage}, nil
}

func (s *VulkanShaderStage) Destroy(context *VulkanContext) {
	if s.Handle != vk.NullShaderModule {
		vk.DestroyShaderModule(context.Device.LogicalDevice, s.Handle, context.Allocator)
		s.Handle = vk.NullShaderModule
	}
}
