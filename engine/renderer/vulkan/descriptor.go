package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/penumbra/engine/core"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

/**
 * @brief Value-type builder for a descriptor set layout. Every call returns
 * a new builder, so a partially configured builder can be reused.
 */
type DescriptorSetLayoutBuilder struct {
	bindings map[uint32]vk.DescriptorSetLayoutBinding
	err      error
}

func NewDescriptorSetLayoutBuilder() DescriptorSetLayoutBuilder {
	return DescriptorSetLayoutBuilder{bindings: map[uint32]vk.DescriptorSetLayoutBinding{}}
}

func (b DescriptorSetLayoutBuilder) AddBinding(binding uint32, descriptorType vk.DescriptorType, stages vk.ShaderStageFlags, count uint32) DescriptorSetLayoutBuilder {
	next := DescriptorSetLayoutBuilder{bindings: maps.Clone(b.bindings), err: b.err}
	if next.bindings == nil {
		next.bindings = map[uint32]vk.DescriptorSetLayoutBinding{}
	}
	if _, exists := next.bindings[binding]; exists && next.err == nil {
		next.err = fmt.Errorf("binding %d already in use", binding)
	}
	next.bindings[binding] = vk.DescriptorSetLayoutBinding{
		Binding:         binding,
		DescriptorType:  descriptorType,
		DescriptorCount: count,
		StageFlags:      stages,
	}
	return next
}

func (b DescriptorSetLayoutBuilder) Build(device *Device) (*DescriptorSetLayout, error) {
	if b.err != nil {
		core.LogError(b.err.Error())
		return nil, b.err
	}
	bindings := sortedBindings(b.bindings)
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	handle, err := device.Driver.CreateDescriptorSetLayout(&info)
	if err != nil {
		err = fmt.Errorf("failed to create descriptor set layout: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	return &DescriptorSetLayout{
		Handle:   handle,
		bindings: maps.Clone(b.bindings),
		driver:   device.Driver,
	}, nil
}

// DescriptorSetLayout is an immutable binding schema.
type DescriptorSetLayout struct {
	Handle vk.DescriptorSetLayout

	bindings map[uint32]vk.DescriptorSetLayoutBinding
	driver   Driver
}

func (l *DescriptorSetLayout) Binding(binding uint32) (vk.DescriptorSetLayoutBinding, bool) {
	b, ok := l.bindings[binding]
	return b, ok
}

func (l *DescriptorSetLayout) BindingCount() int { return len(l.bindings) }

// Bindings lists the bindings in binding number order.
func (l *DescriptorSetLayout) Bindings() []vk.DescriptorSetLayoutBinding {
	return sortedBindings(l.bindings)
}

func sortedBindings(m map[uint32]vk.DescriptorSetLayoutBinding) []vk.DescriptorSetLayoutBinding {
	keys := maps.Keys(m)
	slices.Sort(keys)
	out := make([]vk.DescriptorSetLayoutBinding, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func (l *DescriptorSetLayout) Destroy() {
	if l.Handle != nil {
		l.driver.DestroyDescriptorSetLayout(l.Handle)
		l.Handle = nil
	}
}

/**
 * @brief Value-type builder for a descriptor pool.
 */
type DescriptorPoolBuilder struct {
	maxSets   uint32
	flags     vk.DescriptorPoolCreateFlags
	poolSizes []vk.DescriptorPoolSize
}

func NewDescriptorPoolBuilder() DescriptorPoolBuilder {
	return DescriptorPoolBuilder{maxSets: 1000}
}

func (b DescriptorPoolBuilder) AddPoolSize(descriptorType vk.DescriptorType, count uint32) DescriptorPoolBuilder {
	b.poolSizes = append(slices.Clone(b.poolSizes), vk.DescriptorPoolSize{
		Type:            descriptorType,
		DescriptorCount: count,
	})
	return b
}

func (b DescriptorPoolBuilder) SetPoolFlags(flags vk.DescriptorPoolCreateFlags) DescriptorPoolBuilder {
	b.flags = flags
	return b
}

func (b DescriptorPoolBuilder) SetMaxSets(count uint32) DescriptorPoolBuilder {
	b.maxSets = count
	return b
}

func (b DescriptorPoolBuilder) Build(device *Device) (*DescriptorPool, error) {
	sizes := slices.Clone(b.poolSizes)
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         b.flags,
		MaxSets:       b.maxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	handle, err := device.Driver.CreateDescriptorPool(&info)
	if err != nil {
		err = fmt.Errorf("failed to create descriptor pool: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	return &DescriptorPool{
		Handle:    handle,
		MaxSets:   b.maxSets,
		PoolSizes: sizes,
		device:    device,
	}, nil
}

type DescriptorPool struct {
	Handle    vk.DescriptorPool
	MaxSets   uint32
	PoolSizes []vk.DescriptorPoolSize

	device *Device
}

// Allocate returns an error wrapping core.ErrOutOfPoolMemory when the pool
// capacity is exhausted.
func (p *DescriptorPool) Allocate(layout *DescriptorSetLayout) (vk.DescriptorSet, error) {
	var set vk.DescriptorSet
	err := p.device.locks.SafeCall(DescriptorManagement, func() error {
		var result vk.Result
		set, result = p.device.Driver.AllocateDescriptorSet(p.Handle, layout.Handle)
		return checkResult("vkAllocateDescriptorSets", result)
	})
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return set, nil
}

func (p *DescriptorPool) Reset() error {
	return p.device.Driver.ResetDescriptorPool(p.Handle)
}

func (p *DescriptorPool) Destroy() {
	if p.Handle != nil {
		p.device.Driver.DestroyDescriptorPool(p.Handle)
		p.Handle = nil
	}
}

// DescriptorWriter collects writes against one layout. The first invalid
// write is remembered and returned by Build or Overwrite; nothing is written
// to the GPU in that case.
type DescriptorWriter struct {
	layout *DescriptorSetLayout
	pool   *DescriptorPool
	writes []vk.WriteDescriptorSet
	err    error
}

func NewDescriptorWriter(layout *DescriptorSetLayout, pool *DescriptorPool) *DescriptorWriter {
	return &DescriptorWriter{layout: layout, pool: pool}
}

func (w *DescriptorWriter) binding(binding uint32) (vk.DescriptorSetLayoutBinding, bool) {
	if w.err != nil {
		return vk.DescriptorSetLayoutBinding{}, false
	}
	desc, ok := w.layout.Binding(binding)
	if !ok {
		w.err = fmt.Errorf("binding %d: %w", binding, core.ErrUndeclaredBinding)
		return desc, false
	}
	if desc.DescriptorCount != 1 {
		w.err = fmt.Errorf("binding %d declares %d descriptors: %w", binding, desc.DescriptorCount, core.ErrDescriptorCountMismatch)
		return desc, false
	}
	return desc, true
}

func (w *DescriptorWriter) WriteBuffer(binding uint32, info vk.DescriptorBufferInfo) *DescriptorWriter {
	desc, ok := w.binding(binding)
	if !ok {
		return w
	}
	w.writes = append(w.writes, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  desc.DescriptorType,
		PBufferInfo:     []vk.DescriptorBufferInfo{info},
	})
	return w
}

func (w *DescriptorWriter) WriteImage(binding uint32, info vk.DescriptorImageInfo) *DescriptorWriter {
	desc, ok := w.binding(binding)
	if !ok {
		return w
	}
	w.writes = append(w.writes, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  desc.DescriptorType,
		PImageInfo:      []vk.DescriptorImageInfo{info},
	})
	return w
}

func (w *DescriptorWriter) Err() error { return w.err }

// Build allocates a set from the pool and writes into it.
func (w *DescriptorWriter) Build() (vk.DescriptorSet, error) {
	if w.err != nil {
		core.LogError(w.err.Error())
		return nil, w.err
	}
	set, err := w.pool.Allocate(w.layout)
	if err != nil {
		return nil, err
	}
	if err := w.Overwrite(set); err != nil {
		return nil, err
	}
	return set, nil
}

// Overwrite applies the collected writes to an existing set. Bindings not
// written keep their previous descriptors.
func (w *DescriptorWriter) Overwrite(set vk.DescriptorSet) error {
	if w.err != nil {
		core.LogError(w.err.Error())
		return w.err
	}
	for i := range w.writes {
		w.writes[i].DstSet = set
	}
	w.pool.device.Driver.UpdateDescriptorSets(w.writes)
	return nil
}
