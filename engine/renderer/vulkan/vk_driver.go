package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"golang.org/x/exp/slices"
)

const portabilitySubsetExtensionName = "VK_KHR_portability_subset"

var _ Driver = (*VkDriver)(nil)

// SurfaceSource is implemented by the platform window.
type SurfaceSource interface {
	RequiredInstanceExtensions() []string
	CreateSurface(instance vk.Instance) (vk.Surface, error)
}

type VkDriverConfig struct {
	ApplicationName string
	Validation      bool
	Requirements    PhysicalDeviceRequirements
}

// VkDriver is the production Driver. It owns the instance, the surface, the
// debug callback and the logical device.
type VkDriver struct {
	instance      vk.Instance
	allocator     *vk.AllocationCallbacks
	surface       vk.Surface
	debugCallback vk.DebugReportCallback
	validation    bool

	physicalDevice vk.PhysicalDevice
	device         vk.Device
	properties     vk.PhysicalDeviceProperties
	memory         vk.PhysicalDeviceMemoryProperties
	indices        QueueFamilyIndices

	graphicsQueue vk.Queue
	presentQueue  vk.Queue
	transferQueue vk.Queue
}

func NewVkDriver(window SurfaceSource, config VkDriverConfig) (*VkDriver, error) {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, fmt.Errorf("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize vk: %w", err)
	}

	d := &VkDriver{validation: config.Validation}
	if err := d.createInstance(config.ApplicationName, window.RequiredInstanceExtensions()); err != nil {
		return nil, err
	}

	if d.validation {
		if err := d.createDebugCallback(); err != nil {
			d.Destroy()
			return nil, err
		}
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := window.CreateSurface(d.instance)
	if err != nil {
		d.Destroy()
		return nil, fmt.Errorf("failed to create platform surface: %w", err)
	}
	d.surface = surface
	core.LogDebug("Vulkan surface created.")

	if err := d.selectPhysicalDevice(config.Requirements); err != nil {
		d.Destroy()
		return nil, err
	}
	if err := d.createLogicalDevice(); err != nil {
		d.Destroy()
		return nil, err
	}
	return d, nil
}

func (d *VkDriver) createInstance(appName string, windowExtensions []string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Penumbra Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := []string{"VK_KHR_surface"}
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
	if d.validation {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	core.LogDebug("Required extensions: %v", requiredExtensions)

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	var layers []string
	if d.validation {
		core.LogInfo("Validation layers enabled. Enumerating...")
		layers = []string{"VK_LAYER_KHRONOS_validation"}

		var count uint32
		if err := checkResult("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
			return err
		}
		available := make([]vk.LayerProperties, count)
		if err := checkResult("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, available)); err != nil {
			return err
		}
		names := make([]string, 0, count)
		for i := range available {
			available[i].Deref()
			names = append(names, vk.ToString(available[i].LayerName[:]))
		}
		for _, layer := range layers {
			if !slices.Contains(names, layer) {
				return fmt.Errorf("required validation layer is missing: %s", layer)
			}
		}
		core.LogInfo("All required validation layers are present.")
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if err := checkResult("vkCreateInstance", vk.CreateInstance(&createInfo, d.allocator, &d.instance)); err != nil {
		return err
	}
	if err := vk.InitInstance(d.instance); err != nil {
		return err
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func (d *VkDriver) createDebugCallback() error {
	core.LogDebug("Creating Vulkan debugger...")
	debugCreateInfo := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: dbgCallbackFunc,
	}
	var dbg vk.DebugReportCallback
	if err := checkResult("vkCreateDebugReportCallback", vk.CreateDebugReportCallback(d.instance, &debugCreateInfo, d.allocator, &dbg)); err != nil {
		return err
	}
	d.debugCallback = dbg
	core.LogDebug("Vulkan debugger created.")
	return nil
}

func (d *VkDriver) selectPhysicalDevice(req PhysicalDeviceRequirements) error {
	var count uint32
	if err := checkResult("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(d.instance, &count, nil)); err != nil {
		return err
	}
	if count == 0 {
		core.LogError("No devices which support Vulkan were found.")
		return core.ErrNoSuitableDevice
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := checkResult("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(d.instance, &count, devices)); err != nil {
		return err
	}

	candidates := make([]PhysicalDeviceCandidate, len(devices))
	for i, pd := range devices {
		candidates[i] = d.describe(pd)
	}

	selected, indices, err := SelectPhysicalDevice(candidates, req)
	if err != nil {
		return err
	}

	d.physicalDevice = devices[selected]
	d.indices = indices
	vk.GetPhysicalDeviceProperties(d.physicalDevice, &d.properties)
	d.properties.Deref()
	d.properties.Limits.Deref()
	vk.GetPhysicalDeviceMemoryProperties(d.physicalDevice, &d.memory)
	d.memory.Deref()
	for i := uint32(0); i < d.memory.MemoryTypeCount; i++ {
		d.memory.MemoryTypes[i].Deref()
	}
	for i := uint32(0); i < d.memory.MemoryHeapCount; i++ {
		d.memory.MemoryHeaps[i].Deref()
	}

	core.LogInfo(
		"GPU Driver version: %d.%d.%d",
		vk.Version(d.properties.DriverVersion).Major(),
		vk.Version(d.properties.DriverVersion).Minor(),
		vk.Version(d.properties.DriverVersion).Patch(),
	)
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version(d.properties.ApiVersion).Major(),
		vk.Version(d.properties.ApiVersion).Minor(),
		vk.Version(d.properties.ApiVersion).Patch(),
	)
	for i := uint32(0); i < d.memory.MemoryHeapCount; i++ {
		heap := d.memory.MemoryHeaps[i]
		sizeGib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", sizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", sizeGib)
		}
	}
	return nil
}

func (d *VkDriver) describe(pd vk.PhysicalDevice) PhysicalDeviceCandidate {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &props)
	props.Deref()
	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(pd, &features)
	features.Deref()

	c := PhysicalDeviceCandidate{
		Name:              vk.ToString(props.DeviceName[:]),
		Type:              props.DeviceType,
		SamplerAnisotropy: features.SamplerAnisotropy == vk.True,
	}

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, families)
	for i := range families {
		families[i].Deref()
		var supportsPresent vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), d.surface, &supportsPresent)
		c.QueueFamilies = append(c.QueueFamilies, QueueFamilyCandidate{
			Flags:           families[i].QueueFlags,
			SupportsPresent: supportsPresent == vk.True,
		})
	}

	c.Extensions = deviceExtensions(pd)

	if support, err := querySwapchainSupport(pd, d.surface); err == nil {
		c.FormatCount = len(support.Formats)
		c.PresentModeCount = len(support.PresentModes)
	}
	return c
}

func deviceExtensions(pd vk.PhysicalDevice) []string {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil); res != vk.Success || count == 0 {
		return nil
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, available); res != vk.Success {
		return nil
	}
	names := make([]string, 0, count)
	for i := range available {
		available[i].Deref()
		names = append(names, vk.ToString(available[i].ExtensionName[:]))
	}
	return names
}

func querySwapchainSupport(pd vk.PhysicalDevice, surface vk.Surface) (SwapchainSupportInfo, error) {
	var info SwapchainSupportInfo
	if err := checkResult("vkGetPhysicalDeviceSurfaceCapabilities", vk.GetPhysicalDeviceSurfaceCapabilities(pd, surface, &info.Capabilities)); err != nil {
		return info, err
	}
	info.Capabilities.Deref()
	info.Capabilities.CurrentExtent.Deref()
	info.Capabilities.MinImageExtent.Deref()
	info.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if err := checkResult("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, nil)); err != nil {
		return info, err
	}
	if formatCount != 0 {
		info.Formats = make([]vk.SurfaceFormat, formatCount)
		if err := checkResult("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, info.Formats)); err != nil {
			return info, err
		}
		for i := range info.Formats {
			info.Formats[i].Deref()
		}
	}

	var modeCount uint32
	if err := checkResult("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &modeCount, nil)); err != nil {
		return info, err
	}
	if modeCount != 0 {
		info.PresentModes = make([]vk.PresentMode, modeCount)
		if err := checkResult("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &modeCount, info.PresentModes)); err != nil {
			return info, err
		}
	}
	return info, nil
}

func (d *VkDriver) createLogicalDevice() error {
	core.LogInfo("Creating logical device...")

	// Do not create additional queues for shared indices.
	unique := []uint32{d.indices.Graphics}
	for _, index := range []uint32{d.indices.Present, d.indices.Transfer} {
		if !slices.Contains(unique, index) {
			unique = append(unique, index)
		}
	}
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(unique))
	for i, index := range unique {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	deviceFeatures := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: vk.True,
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if slices.Contains(deviceExtensions(d.physicalDevice), portabilitySubsetExtensionName) {
		core.LogInfo("Adding required extension '%s'.", portabilitySubsetExtensionName)
		extensionNames = append(extensionNames, portabilitySubsetExtensionName)
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var device vk.Device
	if err := checkResult("vkCreateDevice", vk.CreateDevice(d.physicalDevice, &deviceCreateInfo, d.allocator, &device)); err != nil {
		return err
	}
	d.device = device
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(d.device, d.indices.Graphics, 0, &d.graphicsQueue)
	vk.GetDeviceQueue(d.device, d.indices.Present, 0, &d.presentQueue)
	vk.GetDeviceQueue(d.device, d.indices.Transfer, 0, &d.transferQueue)
	core.LogInfo("Queues obtained.")
	return nil
}

func (d *VkDriver) DeviceName() string {
	return vk.ToString(d.properties.DeviceName[:])
}

func (d *VkDriver) Limits() vk.PhysicalDeviceLimits {
	return d.properties.Limits
}

func (d *VkDriver) MemoryProperties() vk.PhysicalDeviceMemoryProperties {
	return d.memory
}

func (d *VkDriver) FormatProperties(format vk.Format) vk.FormatProperties {
	var props vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(d.physicalDevice, format, &props)
	props.Deref()
	return props
}

func (d *VkDriver) SwapchainSupport() (SwapchainSupportInfo, error) {
	return querySwapchainSupport(d.physicalDevice, d.surface)
}

func (d *VkDriver) Surface() vk.Surface              { return d.surface }
func (d *VkDriver) QueueFamilies() QueueFamilyIndices { return d.indices }
func (d *VkDriver) GraphicsQueue() vk.Queue           { return d.graphicsQueue }
func (d *VkDriver) PresentQueue() vk.Queue            { return d.presentQueue }

func (d *VkDriver) AllocateMemory(info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error) {
	var memory vk.DeviceMemory
	if err := checkResult("vkAllocateMemory", vk.AllocateMemory(d.device, info, d.allocator, &memory)); err != nil {
		return nil, err
	}
	return memory, nil
}

func (d *VkDriver) FreeMemory(memory vk.DeviceMemory) {
	if memory != nil {
		vk.FreeMemory(d.device, memory, d.allocator)
	}
}

func (d *VkDriver) MapMemory(memory vk.DeviceMemory, offset, size vk.DeviceSize) (unsafe.Pointer, error) {
	var data unsafe.Pointer
	if err := checkResult("vkMapMemory", vk.MapMemory(d.device, memory, offset, size, 0, &data)); err != nil {
		return nil, err
	}
	return data, nil
}

func (d *VkDriver) UnmapMemory(memory vk.DeviceMemory) {
	vk.UnmapMemory(d.device, memory)
}

func (d *VkDriver) FlushMemory(memory vk.DeviceMemory, offset, size vk.DeviceSize) error {
	ranges := []vk.MappedMemoryRange{{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: memory,
		Offset: offset,
		Size:   size,
	}}
	return checkResult("vkFlushMappedMemoryRanges", vk.FlushMappedMemoryRanges(d.device, 1, ranges))
}

func (d *VkDriver) CreateBuffer(info *vk.BufferCreateInfo) (vk.Buffer, error) {
	var buffer vk.Buffer
	if err := checkResult("vkCreateBuffer", vk.CreateBuffer(d.device, info, d.allocator, &buffer)); err != nil {
		return nil, err
	}
	return buffer, nil
}

func (d *VkDriver) DestroyBuffer(buffer vk.Buffer) {
	if buffer != nil {
		vk.DestroyBuffer(d.device, buffer, d.allocator)
	}
}

func (d *VkDriver) BufferMemoryRequirements(buffer vk.Buffer) vk.MemoryRequirements {
	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, buffer, &req)
	req.Deref()
	return req
}

func (d *VkDriver) BindBufferMemory(buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	return checkResult("vkBindBufferMemory", vk.BindBufferMemory(d.device, buffer, memory, offset))
}

func (d *VkDriver) CreateImage(info *vk.ImageCreateInfo) (vk.Image, error) {
	var image vk.Image
	if err := checkResult("vkCreateImage", vk.CreateImage(d.device, info, d.allocator, &image)); err != nil {
		return nil, err
	}
	return image, nil
}

func (d *VkDriver) DestroyImage(image vk.Image) {
	if image != nil {
		vk.DestroyImage(d.device, image, d.allocator)
	}
}

func (d *VkDriver) ImageMemoryRequirements(image vk.Image) vk.MemoryRequirements {
	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, image, &req)
	req.Deref()
	return req
}

func (d *VkDriver) BindImageMemory(image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	return checkResult("vkBindImageMemory", vk.BindImageMemory(d.device, image, memory, offset))
}

func (d *VkDriver) CreateImageView(info *vk.ImageViewCreateInfo) (vk.ImageView, error) {
	var view vk.ImageView
	if err := checkResult("vkCreateImageView", vk.CreateImageView(d.device, info, d.allocator, &view)); err != nil {
		return nil, err
	}
	return view, nil
}

func (d *VkDriver) DestroyImageView(view vk.ImageView) {
	if view != nil {
		vk.DestroyImageView(d.device, view, d.allocator)
	}
}

func (d *VkDriver) CreateSampler(info *vk.SamplerCreateInfo) (vk.Sampler, error) {
	var sampler vk.Sampler
	if err := checkResult("vkCreateSampler", vk.CreateSampler(d.device, info, d.allocator, &sampler)); err != nil {
		return nil, err
	}
	return sampler, nil
}

func (d *VkDriver) DestroySampler(sampler vk.Sampler) {
	if sampler != nil {
		vk.DestroySampler(d.device, sampler, d.allocator)
	}
}

func (d *VkDriver) CreateDescriptorSetLayout(info *vk.DescriptorSetLayoutCreateInfo) (vk.DescriptorSetLayout, error) {
	var layout vk.DescriptorSetLayout
	if err := checkResult("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(d.device, info, d.allocator, &layout)); err != nil {
		return nil, err
	}
	return layout, nil
}

func (d *VkDriver) DestroyDescriptorSetLayout(layout vk.DescriptorSetLayout) {
	if layout != nil {
		vk.DestroyDescriptorSetLayout(d.device, layout, d.allocator)
	}
}

func (d *VkDriver) CreateDescriptorPool(info *vk.DescriptorPoolCreateInfo) (vk.DescriptorPool, error) {
	var pool vk.DescriptorPool
	if err := checkResult("vkCreateDescriptorPool", vk.CreateDescriptorPool(d.device, info, d.allocator, &pool)); err != nil {
		return nil, err
	}
	return pool, nil
}

func (d *VkDriver) DestroyDescriptorPool(pool vk.DescriptorPool) {
	if pool != nil {
		vk.DestroyDescriptorPool(d.device, pool, d.allocator)
	}
}

func (d *VkDriver) ResetDescriptorPool(pool vk.DescriptorPool) error {
	return checkResult("vkResetDescriptorPool", vk.ResetDescriptorPool(d.device, pool, 0))
}

func (d *VkDriver) AllocateDescriptorSet(pool vk.DescriptorPool, layout vk.DescriptorSetLayout) (vk.DescriptorSet, vk.Result) {
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	var set vk.DescriptorSet
	res := vk.AllocateDescriptorSets(d.device, &info, &set)
	return set, res
}

func (d *VkDriver) UpdateDescriptorSets(writes []vk.WriteDescriptorSet) {
	if len(writes) == 0 {
		return
	}
	vk.UpdateDescriptorSets(d.device, uint32(len(writes)), writes, 0, nil)
}

func (d *VkDriver) CreateShaderModule(code []uint32) (vk.ShaderModule, error) {
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code) * 4),
		PCode:    code,
	}
	var module vk.ShaderModule
	if err := checkResult("vkCreateShaderModule", vk.CreateShaderModule(d.device, &info, d.allocator, &module)); err != nil {
		return nil, err
	}
	return module, nil
}

func (d *VkDriver) DestroyShaderModule(module vk.ShaderModule) {
	if module != nil {
		vk.DestroyShaderModule(d.device, module, d.allocator)
	}
}

func (d *VkDriver) CreatePipelineLayout(info *vk.PipelineLayoutCreateInfo) (vk.PipelineLayout, error) {
	var layout vk.PipelineLayout
	if err := checkResult("vkCreatePipelineLayout", vk.CreatePipelineLayout(d.device, info, d.allocator, &layout)); err != nil {
		return nil, err
	}
	return layout, nil
}

func (d *VkDriver) DestroyPipelineLayout(layout vk.PipelineLayout) {
	if layout != nil {
		vk.DestroyPipelineLayout(d.device, layout, d.allocator)
	}
}

func (d *VkDriver) CreateGraphicsPipeline(info *vk.GraphicsPipelineCreateInfo) (vk.Pipeline, error) {
	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(d.device, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{*info}, d.allocator, pipelines)
	if err := checkResult("vkCreateGraphicsPipelines", res); err != nil {
		return nil, err
	}
	return pipelines[0], nil
}

func (d *VkDriver) DestroyPipeline(pipeline vk.Pipeline) {
	if pipeline != nil {
		vk.DestroyPipeline(d.device, pipeline, d.allocator)
	}
}

func (d *VkDriver) CreateRenderPass(info *vk.RenderPassCreateInfo) (vk.RenderPass, error) {
	var renderPass vk.RenderPass
	if err := checkResult("vkCreateRenderPass", vk.CreateRenderPass(d.device, info, d.allocator, &renderPass)); err != nil {
		return nil, err
	}
	return renderPass, nil
}

func (d *VkDriver) DestroyRenderPass(renderPass vk.RenderPass) {
	if renderPass != nil {
		vk.DestroyRenderPass(d.device, renderPass, d.allocator)
	}
}

func (d *VkDriver) CreateFramebuffer(info *vk.FramebufferCreateInfo) (vk.Framebuffer, error) {
	var framebuffer vk.Framebuffer
	if err := checkResult("vkCreateFramebuffer", vk.CreateFramebuffer(d.device, info, d.allocator, &framebuffer)); err != nil {
		return nil, err
	}
	return framebuffer, nil
}

func (d *VkDriver) DestroyFramebuffer(framebuffer vk.Framebuffer) {
	if framebuffer != nil {
		vk.DestroyFramebuffer(d.device, framebuffer, d.allocator)
	}
}

func (d *VkDriver) CreateCommandPool(info *vk.CommandPoolCreateInfo) (vk.CommandPool, error) {
	var pool vk.CommandPool
	if err := checkResult("vkCreateCommandPool", vk.CreateCommandPool(d.device, info, d.allocator, &pool)); err != nil {
		return nil, err
	}
	return pool, nil
}

func (d *VkDriver) DestroyCommandPool(pool vk.CommandPool) {
	if pool != nil {
		vk.DestroyCommandPool(d.device, pool, d.allocator)
	}
}

func (d *VkDriver) AllocateCommandBuffers(pool vk.CommandPool, level vk.CommandBufferLevel, count uint32) ([]vk.CommandBuffer, error) {
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              level,
		CommandBufferCount: count,
	}
	buffers := make([]vk.CommandBuffer, count)
	if err := checkResult("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(d.device, &info, buffers)); err != nil {
		return nil, err
	}
	return buffers, nil
}

func (d *VkDriver) FreeCommandBuffers(pool vk.CommandPool, buffers []vk.CommandBuffer) {
	if len(buffers) > 0 {
		vk.FreeCommandBuffers(d.device, pool, uint32(len(buffers)), buffers)
	}
}

func (d *VkDriver) BeginCommandBuffer(cb vk.CommandBuffer, info *vk.CommandBufferBeginInfo) error {
	return checkResult("vkBeginCommandBuffer", vk.BeginCommandBuffer(cb, info))
}

func (d *VkDriver) EndCommandBuffer(cb vk.CommandBuffer) error {
	return checkResult("vkEndCommandBuffer", vk.EndCommandBuffer(cb))
}

func (d *VkDriver) ResetCommandBuffer(cb vk.CommandBuffer) error {
	return checkResult("vkResetCommandBuffer", vk.ResetCommandBuffer(cb, 0))
}

func (d *VkDriver) CreateFence(signaled bool) (vk.Fence, error) {
	info := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := checkResult("vkCreateFence", vk.CreateFence(d.device, &info, d.allocator, &fence)); err != nil {
		return nil, err
	}
	return fence, nil
}

func (d *VkDriver) DestroyFence(fence vk.Fence) {
	if fence != nil {
		vk.DestroyFence(d.device, fence, d.allocator)
	}
}

func (d *VkDriver) WaitForFence(fence vk.Fence, timeout uint64) vk.Result {
	return vk.WaitForFences(d.device, 1, []vk.Fence{fence}, vk.True, timeout)
}

func (d *VkDriver) ResetFence(fence vk.Fence) error {
	return checkResult("vkResetFences", vk.ResetFences(d.device, 1, []vk.Fence{fence}))
}

func (d *VkDriver) CreateSemaphore() (vk.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if err := checkResult("vkCreateSemaphore", vk.CreateSemaphore(d.device, &info, d.allocator, &semaphore)); err != nil {
		return nil, err
	}
	return semaphore, nil
}

func (d *VkDriver) DestroySemaphore(semaphore vk.Semaphore) {
	if semaphore != nil {
		vk.DestroySemaphore(d.device, semaphore, d.allocator)
	}
}

func (d *VkDriver) CreateSwapchain(info *vk.SwapchainCreateInfo) (vk.Swapchain, error) {
	var swapchain vk.Swapchain
	if err := checkResult("vkCreateSwapchainKHR", vk.CreateSwapchain(d.device, info, d.allocator, &swapchain)); err != nil {
		return vk.NullSwapchain, err
	}
	return swapchain, nil
}

func (d *VkDriver) DestroySwapchain(swapchain vk.Swapchain) {
	if swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(d.device, swapchain, d.allocator)
	}
}

func (d *VkDriver) SwapchainImages(swapchain vk.Swapchain) ([]vk.Image, error) {
	var count uint32
	if err := checkResult("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(d.device, swapchain, &count, nil)); err != nil {
		return nil, err
	}
	images := make([]vk.Image, count)
	if err := checkResult("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(d.device, swapchain, &count, images)); err != nil {
		return nil, err
	}
	return images, nil
}

func (d *VkDriver) AcquireNextImage(swapchain vk.Swapchain, timeout uint64, semaphore vk.Semaphore) (uint32, vk.Result) {
	var index uint32
	res := vk.AcquireNextImage(d.device, swapchain, timeout, semaphore, vk.NullFence, &index)
	return index, res
}

func (d *VkDriver) QueueSubmit(queue vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) error {
	return checkResult("vkQueueSubmit", vk.QueueSubmit(queue, uint32(len(submits)), submits, fence))
}

func (d *VkDriver) QueuePresent(queue vk.Queue, info *vk.PresentInfo) vk.Result {
	return vk.QueuePresent(queue, info)
}

func (d *VkDriver) QueueWaitIdle(queue vk.Queue) error {
	return checkResult("vkQueueWaitIdle", vk.QueueWaitIdle(queue))
}

func (d *VkDriver) DeviceWaitIdle() error {
	return checkResult("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.device))
}

func (d *VkDriver) CmdPipelineBarrier(cb vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, barriers []vk.ImageMemoryBarrier) {
	vk.CmdPipelineBarrier(cb, srcStage, dstStage, 0, 0, nil, 0, nil, uint32(len(barriers)), barriers)
}

func (d *VkDriver) CmdBufferBarrier(cb vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, barriers []vk.BufferMemoryBarrier) {
	vk.CmdPipelineBarrier(cb, srcStage, dstStage, 0, 0, nil, uint32(len(barriers)), barriers, 0, nil)
}

func (d *VkDriver) CmdBeginRenderPass(cb vk.CommandBuffer, info *vk.RenderPassBeginInfo) {
	vk.CmdBeginRenderPass(cb, info, vk.SubpassContentsInline)
}

func (d *VkDriver) CmdEndRenderPass(cb vk.CommandBuffer) {
	vk.CmdEndRenderPass(cb)
}

func (d *VkDriver) CmdBindPipeline(cb vk.CommandBuffer, pipeline vk.Pipeline) {
	vk.CmdBindPipeline(cb, vk.PipelineBindPointGraphics, pipeline)
}

func (d *VkDriver) CmdBindDescriptorSets(cb vk.CommandBuffer, layout vk.PipelineLayout, firstSet uint32, sets []vk.DescriptorSet) {
	vk.CmdBindDescriptorSets(cb, vk.PipelineBindPointGraphics, layout, firstSet, uint32(len(sets)), sets, 0, nil)
}

func (d *VkDriver) CmdPushConstants(cb vk.CommandBuffer, layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(cb, layout, stages, offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (d *VkDriver) CmdSetViewport(cb vk.CommandBuffer, viewport vk.Viewport) {
	vk.CmdSetViewport(cb, 0, 1, []vk.Viewport{viewport})
}

func (d *VkDriver) CmdSetScissor(cb vk.CommandBuffer, scissor vk.Rect2D) {
	vk.CmdSetScissor(cb, 0, 1, []vk.Rect2D{scissor})
}

func (d *VkDriver) CmdBindVertexBuffers(cb vk.CommandBuffer, buffers []vk.Buffer, offsets []vk.DeviceSize) {
	vk.CmdBindVertexBuffers(cb, 0, uint32(len(buffers)), buffers, offsets)
}

func (d *VkDriver) CmdBindIndexBuffer(cb vk.CommandBuffer, buffer vk.Buffer, offset vk.DeviceSize) {
	vk.CmdBindIndexBuffer(cb, buffer, offset, vk.IndexTypeUint32)
}

func (d *VkDriver) CmdDraw(cb vk.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(cb, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (d *VkDriver) CmdDrawIndexed(cb vk.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(cb, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (d *VkDriver) CmdCopyBuffer(cb vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy) {
	vk.CmdCopyBuffer(cb, src, dst, uint32(len(regions)), regions)
}

func (d *VkDriver) CmdCopyBufferToImage(cb vk.CommandBuffer, src vk.Buffer, dst vk.Image, layout vk.ImageLayout, regions []vk.BufferImageCopy) {
	vk.CmdCopyBufferToImage(cb, src, dst, layout, uint32(len(regions)), regions)
}

func (d *VkDriver) CmdCopyImageToBuffer(cb vk.CommandBuffer, src vk.Image, layout vk.ImageLayout, dst vk.Buffer, regions []vk.BufferImageCopy) {
	vk.CmdCopyImageToBuffer(cb, src, layout, dst, uint32(len(regions)), regions)
}

func (d *VkDriver) Destroy() {
	if d.device != nil {
		core.LogDebug("Destroying Vulkan device...")
		vk.DeviceWaitIdle(d.device)
		vk.DestroyDevice(d.device, d.allocator)
		d.device = nil
	}
	d.graphicsQueue, d.presentQueue, d.transferQueue = nil, nil, nil
	d.physicalDevice = nil

	if d.surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(d.instance, d.surface, d.allocator)
		d.surface = vk.NullSurface
	}
	if d.debugCallback != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(d.instance, d.debugCallback, d.allocator)
		d.debugCallback = vk.NullDebugReportCallback
	}
	if d.instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(d.instance, d.allocator)
		d.instance = nil
	}
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
