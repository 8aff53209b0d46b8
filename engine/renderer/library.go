package renderer

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/anima/engine/assets/loaders"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/command"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

// Library holds the programs the passes draw with, by name.
type Library struct {
	resources *resources.Manager
	commands  *command.Context
	programs  map[string]*command.Program
}

func NewLibrary(res *resources.Manager, commands *command.Context) *Library {
	return &Library{
		resources: res,
		commands:  commands,
		programs:  make(map[string]*command.Program),
	}
}

// Add creates the shader modules of a program. A program already known by
// that name is replaced and its pipelines evicted.
func (l *Library) Add(p *loaders.Program) error {
	iface := p.Interface
	shaders := make([]resources.ShaderHandle, 0, len(p.Stages))
	for _, s := range p.Stages {
		h, err := l.resources.CreateShader(s.Path, s.Stage, s.Code)
		if err != nil {
			for i := range shaders {
				shaders[i].Release()
			}
			return fmt.Errorf("program %s: %w", p.Name, err)
		}
		shaders = append(shaders, h)
	}

	if old, ok := l.programs[p.Name]; ok {
		for _, ref := range old.Shaders() {
			l.commands.EvictShader(ref)
		}
		old.Release()
	}
	l.programs[p.Name] = command.NewProgram(p.Name, &iface, shaders...)
	core.LogDebug("program %s: %d stages", p.Name, len(shaders))
	return nil
}

func (l *Library) Program(name string) (*command.Program, bool) {
	p, ok := l.programs[name]
	return p, ok
}

// Has reports whether every named program is loaded.
func (l *Library) Has(names ...string) bool {
	for _, name := range names {
		if _, ok := l.programs[name]; !ok {
			return false
		}
	}
	return true
}

func (l *Library) Names() []string {
	names := make([]string, 0, len(l.programs))
	for name := range l.programs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Reload swaps the module loaded from path for code in every program that
// uses it. Pipelines built from the old module are evicted and destroyed
// once no frame in flight can use them. It returns the number of programs
// updated.
func (l *Library) Reload(path string, code []byte) (int, error) {
	updated := 0
	for _, name := range l.Names() {
		p := l.programs[name]
		for _, ref := range p.Shaders() {
			old, err := l.resources.Shader(ref)
			if err != nil || old.Name != path {
				continue
			}
			next, err := l.resources.CreateShader(path, old.Stage, code)
			if err != nil {
				return updated, fmt.Errorf("reload %s: %w", path, err)
			}
			l.commands.EvictShader(ref)
			p.Replace(ref, next)
			updated++
		}
	}
	if updated > 0 {
		core.LogInfo("reloaded %s in %d programs", path, updated)
	}
	return updated, nil
}

func (l *Library) Destroy() {
	for name, p := range l.programs {
		p.Release()
		delete(l.programs, name)
	}
}
