package vulkan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"time"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// Window is the part of the platform window the backend needs. A
// *glfw.Window satisfies it.
type Window interface {
	GetRequiredInstanceExtensions() []string
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error)
	GetFramebufferSize() (width, height int)
}

// VulkanBackend implements gpu.Device on top of a single graphics queue.
type VulkanBackend struct {
	context   *VulkanContext
	cfg       core.RendererConfig
	timeoutNs uint64

	immediateFence *VulkanFence
}

var _ gpu.Device = (*VulkanBackend)(nil)

func New(window Window, cfg *core.Config) (*VulkanBackend, error) {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, errors.New("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return nil, err
	}

	width, height := window.GetFramebufferSize()
	vb := &VulkanBackend{
		context: &VulkanContext{
			FramebufferWidth:  uint32(width),
			FramebufferHeight: uint32(height),
			Allocator:         nil,
			locks:             NewVulkanLockPool(),
		},
		cfg:       cfg.Renderer,
		timeoutNs: math.MaxUint64,
	}
	if cfg.Renderer.TimeoutMS > 0 {
		vb.timeoutNs = cfg.Renderer.TimeoutMS * uint64(time.Millisecond)
	}
	if vb.cfg.FramesInFlight <= 0 {
		vb.cfg.FramesInFlight = 2
	}

	if err := vb.createInstance(cfg.App.Name, window.GetRequiredInstanceExtensions()); err != nil {
		return nil, err
	}

	// Surface
	core.LogDebug("Creating Vulkan surface...")
	surface, err := window.CreateWindowSurface(vb.context.Instance, nil)
	if err != nil {
		vb.Destroy()
		return nil, fmt.Errorf("create window surface: %w", err)
	}
	vb.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	// Device creation
	if err := DeviceCreate(vb.context); err != nil {
		core.LogError("Failed to create device!")
		vb.Destroy()
		return nil, err
	}

	// Swapchain
	sc, err := SwapchainCreate(vb.context, vb.context.FramebufferWidth, vb.context.FramebufferHeight, vb.cfg.VSync)
	if err != nil {
		vb.Destroy()
		return nil, err
	}
	vb.context.Swapchain = sc

	if err := vb.createFrames(); err != nil {
		vb.Destroy()
		return nil, err
	}
	if vb.immediateFence, err = NewFence(vb.context, fenceSignaledOnCreate); err != nil {
		vb.Destroy()
		return nil, err
	}

	core.LogInfo("Vulkan renderer initialized successfully.")
	return vb, nil
}

func (vb *VulkanBackend) createInstance(appName string, windowExtensions []string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Anima Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// Obtain a list of required extensions
	requiredExtensions := []string{"VK_KHR_surface"} // Generic surface extension
	for _, ext := range windowExtensions {
		if !slices.Contains(requiredExtensions, ext) {
			requiredExtensions = append(requiredExtensions, ext)
		}
	}

	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	validation := vb.cfg.Validation
	if validation {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugUtilsExtensionName, vk.ExtDebugReportExtensionName)
	}
	core.LogDebug("Required extensions: %v", requiredExtensions)

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	// Validation layers.
	var requiredLayers []string
	if validation {
		core.LogInfo("Validation layers enabled. Enumerating...")
		requiredLayers = []string{"VK_LAYER_KHRONOS_validation"}

		var count uint32
		if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
			return resultError("vkEnumerateInstanceLayerProperties", res)
		}
		available := make([]vk.LayerProperties, count)
		if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
			return resultError("vkEnumerateInstanceLayerProperties", res)
		}
		names := make([]string, len(available))
		for i := range available {
			available[i].Deref()
			names[i] = cString(available[i].LayerName[:])
		}
		for _, layer := range requiredLayers {
			if !slices.Contains(names, layer) {
				return fmt.Errorf("required validation layer is missing: %s", layer)
			}
		}
		core.LogInfo("All required validation layers are present.")
	}

	createInfo.EnabledLayerCount = uint32(len(requiredLayers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(requiredLayers)

	if res := vk.CreateInstance(&createInfo, vb.context.Allocator, &vb.context.Instance); res != vk.Success {
		err := resultError("vkCreateInstance", res)
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(vb.context.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Vulkan Instance created.")

	// Debugger
	if validation {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(vb.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			return err
		}
		vb.context.debugMessenger = dbg
		vb.context.debugUtils = true
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func (vb *VulkanBackend) createFrames() error {
	ctx := vb.context
	timestamps := ctx.Device.Limits().MaxTimestamps > 0
	ctx.Frames = make([]*frameSync, vb.cfg.FramesInFlight)
	for i := range ctx.Frames {
		slot := &frameSync{}
		ctx.Frames[i] = slot

		cmd, err := NewVulkanCommandBuffer(ctx, ctx.Device.GraphicsCommandPool)
		if err != nil {
			return err
		}
		slot.Cmd = cmd

		semaphoreCreateInfo := vk.SemaphoreCreateInfo{
			SType: vk.StructureTypeSemaphoreCreateInfo,
		}
		if res := vk.CreateSemaphore(ctx.Device.LogicalDevice, &semaphoreCreateInfo, ctx.Allocator, &slot.ImageAvailable); res != vk.Success {
			return resultError("vkCreateSemaphore", res)
		}
		if res := vk.CreateSemaphore(ctx.Device.LogicalDevice, &semaphoreCreateInfo, ctx.Allocator, &slot.RenderFinished); res != vk.Success {
			return resultError("vkCreateSemaphore", res)
		}

		// Signaled so the first wait on the slot returns at once.
		if slot.InFlight, err = NewFence(ctx, fenceSignaledOnCreate); err != nil {
			return err
		}

		if timestamps {
			queryInfo := vk.QueryPoolCreateInfo{
				SType:      vk.StructureTypeQueryPoolCreateInfo,
				QueryType:  vk.QueryTypeTimestamp,
				QueryCount: maxTimestamps,
			}
			if res := vk.CreateQueryPool(ctx.Device.LogicalDevice, &queryInfo, ctx.Allocator, &slot.Queries); res != vk.Success {
				return resultError("vkCreateQueryPool", res)
			}
		}
	}
	return nil
}

func (vb *VulkanBackend) destroyFrames() {
	ctx := vb.context
	for _, slot := range ctx.Frames {
		if slot == nil {
			continue
		}
		if slot.ImageAvailable != vk.NullSemaphore {
			vk.DestroySemaphore(ctx.Device.LogicalDevice, slot.ImageAvailable, ctx.Allocator)
		}
		if slot.RenderFinished != vk.NullSemaphore {
			vk.DestroySemaphore(ctx.Device.LogicalDevice, slot.RenderFinished, ctx.Allocator)
		}
		if slot.InFlight != nil {
			slot.InFlight.FenceDestroy(ctx)
		}
		if slot.Queries != vk.NullQueryPool {
			vk.DestroyQueryPool(ctx.Device.LogicalDevice, slot.Queries, ctx.Allocator)
		}
		if slot.Cmd != nil {
			slot.Cmd.Free(ctx, ctx.Device.GraphicsCommandPool)
		}
	}
	ctx.Frames = nil
}

func (vb *VulkanBackend) Limits() gpu.Limits  { return vb.context.Device.Limits() }
func (vb *VulkanBackend) FramesInFlight() int { return vb.cfg.FramesInFlight }

func (vb *VulkanBackend) SwapchainFormat() gpu.Format {
	return gpu.Format(vb.context.Swapchain.ImageFormat.Format)
}

func (vb *VulkanBackend) DepthFormat() gpu.Format {
	return gpu.Format(vb.context.Device.DepthFormat)
}

func (vb *VulkanBackend) CreateBuffer(info gpu.BufferInfo) (gpu.Buffer, error) {
	return BufferCreate(vb.context, info)
}

func (vb *VulkanBackend) DestroyBuffer(b gpu.Buffer) {
	if buf, ok := b.(*Buffer); ok {
		buf.BufferDestroy(vb.context)
	}
}

func (vb *VulkanBackend) CreateImage(info gpu.ImageInfo) (gpu.Image, error) {
	return ImageCreate(vb.context, info)
}

func (vb *VulkanBackend) DestroyImage(img gpu.Image) {
	if i, ok := img.(*Image); ok {
		i.ImageDestroy(vb.context)
	}
}

func (vb *VulkanBackend) CreateSampler(info gpu.SamplerInfo) (gpu.Sampler, error) {
	return SamplerCreate(vb.context, info)
}

func (vb *VulkanBackend) DestroySampler(s gpu.Sampler) {
	if sampler, ok := s.(*Sampler); ok {
		sampler.SamplerDestroy(vb.context)
	}
}

func (vb *VulkanBackend) CreateShaderModule(stage gpu.ShaderStage, code []byte) (gpu.ShaderModule, error) {
	return NewShaderModule(vb.context, stage, code)
}

func (vb *VulkanBackend) DestroyShaderModule(m gpu.ShaderModule) {
	if s, ok := m.(*VulkanShaderStage); ok {
		s.Destroy(vb.context)
	}
}

func (vb *VulkanBackend) CreateRenderPass(info gpu.RenderPassInfo) (gpu.RenderPass, error) {
	return RenderpassCreate(vb.context, info)
}

func (vb *VulkanBackend) DestroyRenderPass(rp gpu.RenderPass) {
	if r, ok := rp.(*VulkanRenderPass); ok {
		r.RenderpassDestroy(vb.context)
	}
}

func (vb *VulkanBackend) CreateFramebuffer(rp gpu.RenderPass, attachments []gpu.Image, extent gpu.Extent2D) (gpu.Framebuffer, error) {
	r, ok := rp.(*VulkanRenderPass)
	if !ok {
		return nil, errors.New("create framebuffer: invalid render pass")
	}
	return FramebufferCreate(vb.context, r, extent, attachments)
}

func (vb *VulkanBackend) DestroyFramebuffer(fb gpu.Framebuffer) {
	if f, ok := fb.(*VulkanFramebuffer); ok {
		f.Destroy(vb.context)
	}
}

func (vb *VulkanBackend) CreatePipelineLayout(iface *gpu.ShaderInterface, bindless gpu.BindlessTable) (gpu.PipelineLayout, error) {
	table, _ := bindless.(*BindlessTable)
	return PipelineLayoutCreate(vb.context, iface, table)
}

func (vb *VulkanBackend) DestroyPipelineLayout(l gpu.PipelineLayout) {
	if layout, ok := l.(*PipelineLayout); ok {
		layout.Destroy(vb.context)
	}
}

func (vb *VulkanBackend) CreateGraphicsPipeline(info *gpu.GraphicsPipelineInfo) (gpu.Pipeline, error) {
	return NewGraphicsPipeline(vb.context, info)
}

func (vb *VulkanBackend) CreateComputePipeline(info *gpu.ComputePipelineInfo) (gpu.Pipeline, error) {
	return NewComputePipeline(vb.context, info)
}

func (vb *VulkanBackend) DestroyPipeline(p gpu.Pipeline) {
	if pipeline, ok := p.(*VulkanPipeline); ok {
		pipeline.Destroy(vb.context)
	}
}

func (vb *VulkanBackend) CreateDescriptorPool(maxSets uint32) (gpu.DescriptorPool, error) {
	return DescriptorPoolCreate(vb.context, maxSets)
}

func (vb *VulkanBackend) DestroyDescriptorPool(p gpu.DescriptorPool) {
	if pool, ok := p.(*DescriptorPool); ok {
		pool.Destroy()
	}
}

func (vb *VulkanBackend) UpdateDescriptorSets(writes []gpu.DescriptorWrite) {
	writeDescriptorSets(vb.context, writes, nil)
}

func (vb *VulkanBackend) CreateBindlessTable(capacity gpu.BindlessCapacity) (gpu.BindlessTable, error) {
	return BindlessTableCreate(vb.context, capacity)
}

func (vb *VulkanBackend) DestroyBindlessTable(t gpu.BindlessTable) {
	if table, ok := t.(*BindlessTable); ok {
		table.Destroy()
	}
}

// timeout is the smaller of the context deadline and the configured bound.
func (vb *VulkanBackend) timeout(ctx context.Context) uint64 {
	timeout := vb.timeoutNs
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left < 0 {
			left = 0
		}
		timeout = min(timeout, uint64(left))
	}
	return timeout
}

func (vb *VulkanBackend) slot(frame int) (*frameSync, error) {
	if frame < 0 || frame >= len(vb.context.Frames) {
		return nil, fmt.Errorf("frame slot %d out of range", frame)
	}
	return vb.context.Frames[frame], nil
}

func (vb *VulkanBackend) WaitFrame(ctx context.Context, frame int) error {
	slot, err := vb.slot(frame)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return slot.InFlight.FenceWait(vb.context, vb.timeout(ctx))
}

func (vb *VulkanBackend) BeginFrame(ctx context.Context, frame int) (*gpu.Frame, error) {
	slot, err := vb.slot(frame)
	if err != nil {
		return nil, err
	}
	sc := vb.context.Swapchain
	if sc == nil {
		return nil, fmt.Errorf("no swapchain: %w", gpu.ErrSwapchainOutOfDate)
	}
	index, err := sc.SwapchainAcquireNextImageIndex(vb.context, vb.timeout(ctx), slot.ImageAvailable)
	if err != nil {
		return nil, err
	}
	slot.ImageIndex = index

	if err := slot.Cmd.Reset(); err != nil {
		return nil, err
	}
	if err := slot.Cmd.Begin(false); err != nil {
		return nil, err
	}
	slot.Cmd.queries = slot.Queries
	if slot.Queries != vk.NullQueryPool {
		vk.CmdResetQueryPool(slot.Cmd.Handle, slot.Queries, 0, maxTimestamps)
	}

	return &gpu.Frame{
		Index:           frame,
		Cmd:             slot.Cmd,
		Backbuffer:      sc.Images[index],
		BackbufferIndex: index,
		Extent:          gpu.Extent2D{Width: sc.Extent.Width, Height: sc.Extent.Height},
	}, nil
}

// Submit ends the frame's command buffer, submits it and presents the
// backbuffer. The slot's fence is reset only here, so a frame that never
// reaches Submit leaves the slot waitable.
func (vb *VulkanBackend) Submit(frame *gpu.Frame) error {
	slot, err := vb.slot(frame.Index)
	if err != nil {
		return err
	}
	return vb.submit(slot)
}

// Discard drops what was recorded for the frame and presents the acquired
// image untouched. The wait on the acquire semaphore and the fence signal
// still happen, which keeps the slot usable.
func (vb *VulkanBackend) Discard(frame *gpu.Frame) error {
	slot, err := vb.slot(frame.Index)
	if err != nil {
		return err
	}
	// Resetting is valid in the recording state, whatever was left open.
	if err := slot.Cmd.Reset(); err != nil {
		return err
	}
	if err := slot.Cmd.Begin(false); err != nil {
		return err
	}
	slot.Cmd.PipelineBarrier(nil, []gpu.ImageBarrier{{
		Image:     frame.Backbuffer,
		SrcStage:  gpu.StageColorAttachmentOutput,
		DstStage:  gpu.StageBottomOfPipe,
		OldLayout: gpu.LayoutUndefined,
		NewLayout: gpu.LayoutPresentSrc,
	}})
	core.LogWarn("frame slot %d discarded", frame.Index)
	return vb.submit(slot)
}

func (vb *VulkanBackend) submit(slot *frameSync) error {
	if err := slot.Cmd.End(); err != nil {
		return err
	}
	if err := slot.InFlight.FenceReset(vb.context); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{slot.ImageAvailable},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{slot.Cmd.Handle},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{slot.RenderFinished},
	}
	device := vb.context.Device
	if err := vb.context.locks.SafeCall(QueueManagement, func() error {
		return resultError("vkQueueSubmit", vk.QueueSubmit(device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, slot.InFlight.Handle))
	}); err != nil {
		core.LogError(err.Error())
		return err
	}
	slot.Cmd.UpdateSubmitted()

	return vb.context.Swapchain.SwapchainPresent(vb.context, device.PresentQueue, slot.RenderFinished, slot.ImageIndex)
}

func (vb *VulkanBackend) Immediate(ctx context.Context, fn func(cmd gpu.CommandBuffer)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	device := vb.context.Device
	cb, err := AllocateAndBeginSingleUse(vb.context, device.GraphicsCommandPool)
	if err != nil {
		return err
	}
	fn(cb)
	return cb.EndSingleUse(vb.context, device.GraphicsCommandPool, device.GraphicsQueue, vb.immediateFence, vb.timeout(ctx))
}

func (vb *VulkanBackend) TimestampResults(frame int, count uint32) ([]uint64, error) {
	slot, err := vb.slot(frame)
	if err != nil {
		return nil, err
	}
	if slot.Queries == vk.NullQueryPool || count == 0 {
		return nil, nil
	}
	count = min(count, maxTimestamps)
	data := make([]uint64, count)
	res := vk.GetQueryPoolResults(vb.context.Device.LogicalDevice, slot.Queries, 0, count,
		uint(count)*8, unsafe.Pointer(&data[0]), 8, vk.QueryResultFlags(vk.QueryResult64Bit))
	if res == vk.NotReady {
		return nil, fmt.Errorf("timestamps of frame slot %d: %w", frame, gpu.ErrTimeout)
	}
	if err := resultError("vkGetQueryPoolResults", res); err != nil {
		return nil, err
	}
	return data, nil
}

// Resize recreates the swapchain. A zero size, as reported while the
// window is minimized, is ignored.
func (vb *VulkanBackend) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		core.LogDebug("Skipping resize to %dx%d", width, height)
		return nil
	}
	if err := vb.WaitIdle(); err != nil {
		return err
	}
	sc, err := vb.context.Swapchain.SwapchainRecreate(vb.context, width, height, vb.cfg.VSync)
	if err != nil {
		vb.context.Swapchain = nil
		return err
	}
	vb.context.Swapchain = sc
	vb.context.FramebufferWidth = sc.Extent.Width
	vb.context.FramebufferHeight = sc.Extent.Height
	core.LogInfo("Vulkan renderer backend->resized: w/h: %d/%d", sc.Extent.Width, sc.Extent.Height)
	return nil
}

func (vb *VulkanBackend) WaitIdle() error {
	return resultError("vkDeviceWaitIdle", vk.DeviceWaitIdle(vb.context.Device.LogicalDevice))
}

// Destroy tears everything down in the opposite order of creation. It is
// safe on a partially initialized backend.
func (vb *VulkanBackend) Destroy() {
	ctx := vb.context
	if ctx.Device != nil && ctx.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(ctx.Device.LogicalDevice)

		if vb.immediateFence != nil {
			vb.immediateFence.FenceDestroy(ctx)
			vb.immediateFence = nil
		}
		vb.destroyFrames()

		if ctx.Swapchain != nil {
			ctx.Swapchain.SwapchainDestroy(ctx)
			ctx.Swapchain = nil
		}

		core.LogDebug("Destroying Vulkan device...")
		DeviceDestroy(ctx)
	}

	if ctx.Instance == nil {
		return
	}
	core.LogDebug("Destroying Vulkan surface...")
	if ctx.Surface != vk.NullSurface {
		vk.DestroySurface(ctx.Instance, ctx.Surface, ctx.Allocator)
		ctx.Surface = vk.NullSurface
	}

	if ctx.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugMessenger, ctx.Allocator)
		ctx.debugMessenger = vk.NullDebugReportCallback
	}

	core.LogDebug("Destroying Vulkan instance...")
	vk.DestroyInstance(ctx.Instance, ctx.Allocator)
	ctx.Instance = nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		core.LogDebug("DEBUG: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
