package loaders

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

const programSuffix = ".program.toml"

// ProgramManifest is the TOML description of a program: its stages and the
// descriptor interface they were compiled against.
//
//	name = "shade"
//	push_constant_size = 16
//	local_size = [8, 8, 1]
//
//	[[stages]]
//	path = "shade.comp.spv"
//
//	[[bindings]]
//	set = 0
//	binding = 0
//	type = "uniform_buffer"
type ProgramManifest struct {
	Name             string            `toml:"name"`
	PushConstantSize uint32            `toml:"push_constant_size"`
	LocalSize        [3]uint32         `toml:"local_size"`
	Stages           []StageManifest   `toml:"stages"`
	Bindings         []BindingManifest `toml:"bindings"`
}

type StageManifest struct {
	Path string `toml:"path"`
	// Read from the file name when empty.
	Stage string `toml:"stage"`
}

type BindingManifest struct {
	Set     uint32 `toml:"set"`
	Binding uint32 `toml:"binding"`
	Type    string `toml:"type"`
	Count   uint32 `toml:"count"`
	// All stages of the program when empty.
	Stages []string `toml:"stages"`
}

// Program is a manifest with its stages loaded.
type Program struct {
	Name      string
	Manifest  string
	Interface gpu.ShaderInterface
	Stages    []Stage
}

type Stage struct {
	Path  string
	Stage gpu.ShaderStage
	Code  []byte
}

func ParseDescriptorType(s string) (gpu.DescriptorType, error) {
	switch s {
	case "sampler":
		return gpu.DescriptorSampler, nil
	case "combined_image_sampler":
		return gpu.DescriptorCombinedImageSampler, nil
	case "sampled_image":
		return gpu.DescriptorSampledImage, nil
	case "storage_image":
		return gpu.DescriptorStorageImage, nil
	case "uniform_buffer":
		return gpu.DescriptorUniformBuffer, nil
	case "storage_buffer":
		return gpu.DescriptorStorageBuffer, nil
	}
	return 0, fmt.Errorf("unknown descriptor type %q", s)
}

// ParseProgram decodes a manifest and builds its interface. Stage paths are
// resolved against dir; the code is not read.
func ParseProgram(data []byte, dir string) (*Program, error) {
	var m ProgramManifest
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m.Name == "" {
		return nil, fmt.Errorf("program without a name")
	}
	if len(m.Stages) == 0 {
		return nil, fmt.Errorf("program %s has no stages", m.Name)
	}

	p := &Program{Name: m.Name}
	p.Interface.PushConstantSize = m.PushConstantSize
	p.Interface.LocalSize = m.LocalSize
	for _, s := range m.Stages {
		var stage gpu.ShaderStage
		var err error
		if s.Stage != "" {
			stage, err = ParseShaderStage(s.Stage)
		} else {
			stage, err = StageFromPath(s.Path)
		}
		if err != nil {
			return nil, fmt.Errorf("program %s: %w", m.Name, err)
		}
		if p.Interface.Stages&stage != 0 {
			return nil, fmt.Errorf("program %s: stage %s given twice", m.Name, s.Path)
		}
		p.Interface.Stages |= stage
		p.Stages = append(p.Stages, Stage{Path: filepath.Join(dir, s.Path), Stage: stage})
	}
	if p.Interface.IsCompute() && len(p.Stages) != 1 {
		return nil, fmt.Errorf("program %s: compute programs have exactly one stage", m.Name)
	}

	for _, b := range m.Bindings {
		if b.Set >= gpu.MaxDescriptorSets || b.Binding >= gpu.MaxDescriptorBindings {
			return nil, fmt.Errorf("program %s: binding %d.%d out of range", m.Name, b.Set, b.Binding)
		}
		t, err := ParseDescriptorType(b.Type)
		if err != nil {
			return nil, fmt.Errorf("program %s: %w", m.Name, err)
		}
		decl := gpu.DescriptorBinding{Binding: b.Binding, Type: t, Count: max(b.Count, 1), Stages: p.Interface.Stages}
		if len(b.Stages) > 0 {
			decl.Stages = 0
			for _, s := range b.Stages {
				stage, err := ParseShaderStage(s)
				if err != nil {
					return nil, fmt.Errorf("program %s: %w", m.Name, err)
				}
				decl.Stages |= stage
			}
		}
		p.Interface.Sets[b.Set] = append(p.Interface.Sets[b.Set], decl)
	}
	for i := range p.Interface.Sets {
		slices.SortFunc(p.Interface.Sets[i], func(a, b gpu.DescriptorBinding) int {
			return int(a.Binding) - int(b.Binding)
		})
	}
	return p, nil
}

// LoadProgram reads a manifest and every SPIR-V module it names.
func LoadProgram(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := ParseProgram(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Manifest = path
	for i := range p.Stages {
		if p.Stages[i].Code, err = LoadSPIRV(p.Stages[i].Path); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// LoadPrograms loads every manifest in dir, sorted by file name. Manifests
// and their modules are read in parallel.
func LoadPrograms(dir string) ([]*Program, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), programSuffix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, nil
	}

	js, err := core.NewJobSystem(min(runtime.NumCPU(), len(paths)), len(paths))
	if err != nil {
		return nil, err
	}
	programs := make([]*Program, len(paths))
	for i, path := range paths {
		if err := js.Submit(core.Job{
			Name: filepath.Base(path),
			Run: func() error {
				p, err := LoadProgram(path)
				programs[i] = p
				return err
			},
		}); err != nil {
			return nil, err
		}
	}
	if err := js.Shutdown(); err != nil {
		return nil, err
	}
	return programs, nil
}
