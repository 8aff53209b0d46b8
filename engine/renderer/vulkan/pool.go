package vulkan

import "sync"

// LockGroup names a set of Vulkan calls that need external
// synchronization.
type LockGroup string

const (
	// vkQueueSubmit and vkQueuePresentKHR on the same queue.
	QueueManagement LockGroup = "queue_management"
	// Descriptor pool allocation and vkUpdateDescriptorSets.
	DescriptorManagement LockGroup = "descriptor_management"
	PipelineManagement   LockGroup = "pipeline_management"
)

// Mutex pool
type VulkanLockPool struct {
	mu    sync.Mutex // Protects access to the locks map
	locks map[LockGroup]*sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks: make(map[LockGroup]*sync.Mutex),
	}
}

// Get or create the mutex of a group.
func (vs *VulkanLockPool) lock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	l, ok := vs.locks[group]
	if !ok {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	return l
}

// SafeCall runs fn while holding the group's mutex.
func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.lock(group)
	l.Lock()
	defer l.Unlock()

	return fn()
}
