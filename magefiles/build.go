//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/target"
)

const shaderDir = "assets/shaders"

var shaderExtensions = []string{".vert", ".frag", ".comp", ".task", ".mesh"}

type Build mg.Namespace

// Compiles every GLSL shader under assets/shaders to SPIR-V with glslc.
// Up to date modules are skipped.
func (Build) Shaders() error {
	sources, err := shaderSources(shaderDir)
	if err != nil {
		return err
	}
	for _, src := range sources {
		dst := src + ".spv"
		stale, err := target.Path(dst, src)
		if err != nil {
			return err
		}
		if !stale {
			continue
		}
		if _, err := executeCmd("glslc", withArgs("--target-env=vulkan1.2", "-O", src, "-o", dst), withStream()); err != nil {
			return err
		}
	}
	fmt.Printf("%d shaders checked\n", len(sources))
	return nil
}

func shaderSources(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		for _, ext := range shaderExtensions {
			if strings.HasSuffix(path, ext) {
				out = append(out, path)
				break
			}
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return out, err
}
