package gpu

import (
	"encoding/binary"
	"hash/fnv"
)

type DescriptorBinding struct {
	Binding uint32         `toml:"binding"`
	Type    DescriptorType `toml:"type"`
	Count   uint32         `toml:"count"`
	Stages  ShaderStage    `toml:"stages"`
}

// ShaderInterface describes the resources a program expects. It comes from
// the program manifest and is what pipeline layouts are created from.
type ShaderInterface struct {
	Sets             [MaxDescriptorSets][]DescriptorBinding
	PushConstantSize uint32
	Stages           ShaderStage
	// Compute workgroup size, zero for graphics programs.
	LocalSize [3]uint32
}

// IsCompute reports whether the interface belongs to a compute program.
func (s *ShaderInterface) IsCompute() bool {
	return s.Stages&ShaderStageCompute != 0
}

// Binding returns the declared binding of set, or false.
func (s *ShaderInterface) Binding(set, binding uint32) (DescriptorBinding, bool) {
	if set >= MaxDescriptorSets {
		return DescriptorBinding{}, false
	}
	for _, b := range s.Sets[set] {
		if b.Binding == binding {
			return b, true
		}
	}
	return DescriptorBinding{}, false
}

// Hash is stable for equal interfaces and is used as the pipeline layout
// cache key.
func (s *ShaderInterface) Hash() uint64 {
	h := fnv.New64a()
	var buf [4]byte
	put := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[:], v)
		h.Write(buf[:])
	}
	for i, set := range s.Sets {
		put(uint32(i))
		put(uint32(len(set)))
		for _, b := range set {
			put(b.Binding)
			put(uint32(b.Type))
			put(b.Count)
			put(uint32(b.Stages))
		}
	}
	put(s.PushConstantSize)
	put(uint32(s.Stages))
	for _, v := range s.LocalSize {
		put(v)
	}
	return h.Sum64()
}

// Equal compares two interfaces field by field.
func (s *ShaderInterface) Equal(o *ShaderInterface) bool {
	if s.PushConstantSize != o.PushConstantSize || s.Stages != o.Stages || s.LocalSize != o.LocalSize {
		return false
	}
	for i := range s.Sets {
		if len(s.Sets[i]) != len(o.Sets[i]) {
			return false
		}
		for j := range s.Sets[i] {
			if s.Sets[i][j] != o.Sets[i][j] {
				return false
			}
		}
	}
	return true
}
