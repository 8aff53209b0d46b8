package loaders

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

func spirv(words ...uint32) []byte {
	header := []uint32{spirvMagic, 0x00010500, 0, 16, 0}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, append(header, words...))
	return buf.Bytes()
}

func TestValidateSPIRV(t *testing.T) {
	assert.NoError(t, ValidateSPIRV(spirv()))
	assert.ErrorIs(t, ValidateSPIRV([]byte{1, 2, 3}), ErrInvalidSPIRV)
	assert.ErrorIs(t, ValidateSPIRV(spirv()[:18]), ErrInvalidSPIRV)

	bad := spirv()
	bad[0] = 0
	assert.ErrorIs(t, ValidateSPIRV(bad), ErrInvalidSPIRV)
}

func TestStageFromPath(t *testing.T) {
	tests := []struct {
		path  string
		stage gpu.ShaderStage
	}{
		{"shaders/cull.comp.spv", gpu.ShaderStageCompute},
		{"tonemap.vert.spv", gpu.ShaderStageVertex},
		{"tonemap.frag.spv", gpu.ShaderStageFragment},
		{"meshlet.mesh.spv", gpu.ShaderStageMesh},
		{"meshlet.task.spv", gpu.ShaderStageTask},
	}
	for _, tt := range tests {
		stage, err := StageFromPath(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.stage, stage, tt.path)
	}
	_, err := StageFromPath("shade.spv")
	assert.Error(t, err)
}

const tonemapManifest = `
name = "tonemap"
push_constant_size = 8

[[stages]]
path = "tonemap.vert.spv"

[[stages]]
path = "tonemap.frag.spv"

[[bindings]]
set = 0
binding = 1
type = "combined_image_sampler"
stages = ["fragment"]

[[bindings]]
set = 0
binding = 0
type = "combined_image_sampler"
stages = ["fragment"]

[[bindings]]
set = 1
binding = 0
type = "uniform_buffer"
`

func TestParseProgram(t *testing.T) {
	p, err := ParseProgram([]byte(tonemapManifest), "shaders")
	require.NoError(t, err)

	assert.Equal(t, "tonemap", p.Name)
	require.Len(t, p.Stages, 2)
	assert.Equal(t, filepath.Join("shaders", "tonemap.vert.spv"), p.Stages[0].Path)
	assert.Equal(t, gpu.ShaderStageVertex, p.Stages[0].Stage)
	assert.Equal(t, gpu.ShaderStageFragment, p.Stages[1].Stage)

	iface := p.Interface
	assert.False(t, iface.IsCompute())
	assert.Equal(t, uint32(8), iface.PushConstantSize)
	assert.Equal(t, gpu.ShaderStageVertex|gpu.ShaderStageFragment, iface.Stages)
	assert.Equal(t, []gpu.DescriptorBinding{
		{Binding: 0, Type: gpu.DescriptorCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
		{Binding: 1, Type: gpu.DescriptorCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
	}, iface.Sets[0], "bindings are sorted")
	b, ok := iface.Binding(1, 0)
	require.True(t, ok)
	assert.Equal(t, gpu.DescriptorUniformBuffer, b.Type)
	assert.Equal(t, gpu.ShaderStageVertex|gpu.ShaderStageFragment, b.Stages)
}

func TestParseProgramRejects(t *testing.T) {
	tests := map[string]string{
		"no name":        `[[stages]]` + "\n" + `path = "a.comp.spv"`,
		"no stages":      `name = "a"`,
		"unknown field":  `name = "a"` + "\n" + `colour = 1`,
		"unknown stage":  `name = "a"` + "\n" + `[[stages]]` + "\n" + `path = "a.spv"`,
		"duplicate":      `name = "a"` + "\n" + `[[stages]]` + "\n" + `path = "a.vert.spv"` + "\n" + `[[stages]]` + "\n" + `path = "b.vert.spv"`,
		"compute mixed":  `name = "a"` + "\n" + `[[stages]]` + "\n" + `path = "a.comp.spv"` + "\n" + `[[stages]]` + "\n" + `path = "a.vert.spv"`,
		"bad type":       `name = "a"` + "\n" + `[[stages]]` + "\n" + `path = "a.comp.spv"` + "\n" + `[[bindings]]` + "\n" + `type = "texture"`,
		"set range":      `name = "a"` + "\n" + `[[stages]]` + "\n" + `path = "a.comp.spv"` + "\n" + `[[bindings]]` + "\n" + `set = 3` + "\n" + `type = "sampler"`,
		"bad stage list": `name = "a"` + "\n" + `[[stages]]` + "\n" + `path = "a.comp.spv"` + "\n" + `[[bindings]]` + "\n" + `type = "sampler"` + "\n" + `stages = ["pixel"]`,
	}
	for name, manifest := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProgram([]byte(manifest), ".")
			assert.Error(t, err)
		})
	}
}

func TestLoadPrograms(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	write("tonemap.program.toml", []byte(tonemapManifest))
	write("tonemap.vert.spv", spirv(1))
	write("tonemap.frag.spv", spirv(2))
	write("cull.program.toml", []byte("name = \"cull\"\nlocal_size = [64, 1, 1]\n[[stages]]\npath = \"cull.comp.spv\"\n"))
	write("cull.comp.spv", spirv(3))
	write("notes.toml", []byte("not = \"a program\""))

	programs, err := LoadPrograms(dir)
	require.NoError(t, err)
	require.Len(t, programs, 2)
	assert.Equal(t, "cull", programs[0].Name)
	assert.Equal(t, [3]uint32{64, 1, 1}, programs[0].Interface.LocalSize)
	assert.True(t, programs[0].Interface.IsCompute())
	assert.Equal(t, spirv(3), programs[0].Stages[0].Code)
	assert.Equal(t, "tonemap", programs[1].Name)
	assert.Equal(t, filepath.Join(dir, "tonemap.program.toml"), programs[1].Manifest)

	write("cull.comp.spv", []byte("not spirv"))
	_, err = LoadPrograms(dir)
	assert.ErrorIs(t, err, ErrInvalidSPIRV)
}

func TestDecodeImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.Set(0, 0, color.NRGBA{R: 255, A: 255})
	src.Set(1, 1, color.NRGBA{B: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	encoded := buf.Bytes()

	img, err := DecodeImage(bytes.NewReader(encoded), false)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), img.Width)
	assert.Equal(t, uint32(2), img.Height)
	require.Len(t, img.Pixels, 16)
	assert.Equal(t, []byte{255, 0, 0, 255}, img.Pixels[0:4])
	assert.Equal(t, []byte{0, 0, 255, 255}, img.Pixels[12:16])

	flipped, err := DecodeImage(bytes.NewReader(encoded), true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 255, 255}, flipped.Pixels[4:8], "rows are swapped")
	assert.Equal(t, []byte{255, 0, 0, 255}, flipped.Pixels[8:12])

	_, err = DecodeImage(bytes.NewReader([]byte("nope")), false)
	assert.Error(t, err)
}
