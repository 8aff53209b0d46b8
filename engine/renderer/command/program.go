package command

import (
	"fmt"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

// Program is a set of shader stages linked against one interface. It owns a
// reference to each of its shaders.
type Program struct {
	Name      string
	Interface *gpu.ShaderInterface
	shaders   []resources.ShaderHandle
}

func NewProgram(name string, iface *gpu.ShaderInterface, shaders ...resources.ShaderHandle) *Program {
	if len(shaders) == 0 || len(shaders) > maxProgramStages {
		panic(fmt.Sprintf("program %s: %d shader stages", name, len(shaders)))
	}
	return &Program{Name: name, Interface: iface, shaders: shaders}
}

func (p *Program) IsCompute() bool {
	return p.Interface.IsCompute()
}

// Shaders returns weak references to the program stages.
func (p *Program) Shaders() []resources.Ref {
	refs := make([]resources.Ref, len(p.shaders))
	for i, s := range p.shaders {
		refs[i] = s.Ref()
	}
	return refs
}

// Uses reports whether the program links the shader.
func (p *Program) Uses(shader resources.Ref) bool {
	for _, s := range p.shaders {
		if s.Ref() == shader {
			return true
		}
	}
	return false
}

// Replace swaps the stage that ref points to for next, releasing the old
// shader. It is how hot reloaded modules get into a live program.
func (p *Program) Replace(ref resources.Ref, next resources.ShaderHandle) bool {
	for i := range p.shaders {
		if p.shaders[i].Ref() == ref {
			p.shaders[i].Release()
			p.shaders[i] = next
			return true
		}
	}
	return false
}

func (p *Program) Release() {
	for i := range p.shaders {
		p.shaders[i].Release()
	}
	p.shaders = nil
}
