package core

import (
	"errors"
)

var (
	ErrSwapchainBooting  = errors.New("swapchain resized or recreated, booting")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrVulkanUnsupported = errors.New("vulkan is not supported on this system")
	ErrUnknown           = errors.New("unknown")
)
