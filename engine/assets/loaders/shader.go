package loaders

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

const spirvMagic = 0x07230203

var ErrInvalidSPIRV = errors.New("invalid SPIR-V module")

// LoadSPIRV reads a compiled shader module.
func LoadSPIRV(path string) ([]byte, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateSPIRV(code); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return code, nil
}

// ValidateSPIRV checks the size and the magic number of the header.
func ValidateSPIRV(code []byte) error {
	if len(code) < 20 || len(code)%4 != 0 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidSPIRV, len(code))
	}
	if magic := binary.LittleEndian.Uint32(code); magic != spirvMagic {
		return fmt.Errorf("%w: magic %#08x", ErrInvalidSPIRV, magic)
	}
	return nil
}

// StageFromPath reads the stage from the glslc naming convention, where
// "cull.comp.spv" holds a compute shader.
func StageFromPath(path string) (gpu.ShaderStage, error) {
	name := strings.TrimSuffix(filepath.Base(path), ".spv")
	return ParseShaderStage(strings.TrimPrefix(filepath.Ext(name), "."))
}

func ParseShaderStage(s string) (gpu.ShaderStage, error) {
	switch s {
	case "vert", "vertex":
		return gpu.ShaderStageVertex, nil
	case "frag", "fragment":
		return gpu.ShaderStageFragment, nil
	case "comp", "compute":
		return gpu.ShaderStageCompute, nil
	case "geom", "geometry":
		return gpu.ShaderStageGeometry, nil
	case "task":
		return gpu.ShaderStageTask, nil
	case "mesh":
		return gpu.ShaderStageMesh, nil
	}
	return 0, fmt.Errorf("unknown shader stage %q", s)
}
