package vulkan

// Entry point every shader module is expected to export.
const shaderEntryPoint = "main\x00"

// Descriptors of each type a regular descriptor pool reserves per set.
const poolDescriptorsPerSet uint32 = 8

// Frame fences are created signaled so the first wait on a slot returns.
const fenceSignaledOnCreate = true

// Depth bias applied by pipelines that enable it, tuned for shadow maps.
const (
	depthBiasConstant float32 = 1.25
	depthBiasSlope    float32 = 1.75
)
