package gpu

import "errors"

var (
	// ErrDeviceLost means the device is in an unrecoverable state. Everything
	// created from it must be destroyed; the session cannot continue.
	ErrDeviceLost = errors.New("gpu: device lost")

	ErrOutOfHostMemory   = errors.New("gpu: out of host memory")
	ErrOutOfDeviceMemory = errors.New("gpu: out of device memory")

	// ErrOutOfPoolMemory is returned by a DescriptorPool that cannot
	// allocate another set.
	ErrOutOfPoolMemory = errors.New("gpu: out of descriptor pool memory")

	// ErrTimeout is returned by a frame wait that did not complete in time.
	ErrTimeout = errors.New("gpu: wait timed out")

	// ErrSwapchainOutOfDate means the swapchain no longer matches the
	// surface and must be recreated before presenting again.
	ErrSwapchainOutOfDate = errors.New("gpu: swapchain out of date")

	ErrUnsupported = errors.New("gpu: unsupported feature")
)
