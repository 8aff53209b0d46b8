package command

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

const maxProgramStages = 5

// PipelineKey is every piece of state a pipeline is baked from. Two equal
// keys always resolve to the same cached pipeline.
type PipelineKey struct {
	Shaders     [maxProgramStages]resources.Ref
	ShaderCount uint8
	Compute     bool
	Layout      uint64

	Raster gpu.RasterState
	Depth  gpu.DepthState
	Blend  [gpu.MaxColorAttachments]gpu.BlendState

	Attributes     [gpu.MaxVertexAttributes]gpu.VertexAttribute
	AttributeCount uint8
	Bindings       [gpu.MaxVertexBindings]gpu.VertexBinding
	BindingCount   uint8

	RenderPass gpu.RenderPassInfo
}

// effective drops the graphics state from compute keys so that leftover
// raster state does not split the cache.
func (k *PipelineKey) effective() PipelineKey {
	if !k.Compute {
		return *k
	}
	return PipelineKey{
		Shaders:     k.Shaders,
		ShaderCount: k.ShaderCount,
		Compute:     true,
		Layout:      k.Layout,
	}
}

// Hash is FNV-1a over the little endian encoding of the key.
func (k *PipelineKey) Hash() uint64 {
	h := fnv.New64a()
	_ = binary.Write(h, binary.LittleEndian, k)
	return h.Sum64()
}

type descriptorBinding struct {
	Set     bool
	Storage bool
	Buffer  resources.Ref
	Offset  uint64
	Range   uint64
	Image   resources.Ref
	Sampler resources.Ref
}

// DescriptorKey is the content of one descriptor set.
type DescriptorKey struct {
	Layout   uint64
	Set      uint32
	Bindings [gpu.MaxDescriptorBindings]descriptorBinding
}

func (k *DescriptorKey) Hash() uint64 {
	h := fnv.New64a()
	_ = binary.Write(h, binary.LittleEndian, k)
	return h.Sum64()
}

func (k *DescriptorKey) clear() {
	k.Bindings = [gpu.MaxDescriptorBindings]descriptorBinding{}
}
