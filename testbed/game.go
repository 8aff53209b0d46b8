package testbed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	m "math"

	"github.com/spaghettifunk/anima/engine"
	"github.com/spaghettifunk/anima/engine/assets/loaders"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/math"
	"github.com/spaghettifunk/anima/engine/renderer"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

const (
	// view, projection, view-projection and the eye position.
	cameraBlockSize = 3*64 + 16
	cubeCount       = 3
	albedoPath      = "assets/textures/albedo.png"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	renderer *renderer.Renderer

	width  uint32
	height uint32
	angle  float32

	// One camera block per frame slot, rewritten while the other slots
	// are still in flight.
	cameras  []resources.BufferHandle
	vertices resources.BufferHandle
	indices  resources.BufferHandle
	draws    resources.BufferHandle
	lights   resources.BufferHandle
	lines    resources.BufferHandle
	albedo   resources.ImageHandle

	indexCount uint32
}

func NewTestGame(config *core.Config) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Config: config,
			State:  &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(r *renderer.Renderer) error {
	core.LogDebug("TestGame Initialize fn....")
	state := g.state()
	state.renderer = r

	for i := 0; i < r.Device().FramesInFlight(); i++ {
		h, err := r.Resources().CreateBuffer(gpu.BufferInfo{
			Size:        cameraBlockSize,
			Usage:       gpu.BufferUsageUniform,
			HostVisible: true,
			Label:       fmt.Sprintf("camera-%d", i),
		})
		if err != nil {
			return err
		}
		state.cameras = append(state.cameras, h)
	}

	vertices, indices := cube()
	state.indexCount = uint32(len(indices))

	var err error
	if state.vertices, err = r.UploadBuffer("cube-vertices", float32Bytes(vertices), gpu.BufferUsageStorage); err != nil {
		return err
	}
	if state.indices, err = r.UploadBuffer("cube-indices", uint32Bytes(indices), gpu.BufferUsageStorage|gpu.BufferUsageIndex); err != nil {
		return err
	}
	if state.lights, err = r.UploadBuffer("lights", float32Bytes([]float32{
		// position, radius, colour, intensity
		4, 4, 4, 20, 1, 0.9, 0.8, 8,
		-4, 2, -3, 15, 0.3, 0.5, 1, 4,
	}), gpu.BufferUsageStorage); err != nil {
		return err
	}
	if g.Config.Settings.DebugOverlay {
		// Axis gizmo: position and colour per vertex.
		if state.lines, err = r.UploadBuffer("axes", float32Bytes([]float32{
			0, 0, 0, 1, 1, 0, 0, 1, 2, 0, 0, 1, 1, 0, 0, 1,
			0, 0, 0, 1, 0, 1, 0, 1, 0, 2, 0, 1, 0, 1, 0, 1,
			0, 0, 0, 1, 0, 0, 1, 1, 0, 0, 2, 1, 0, 0, 1, 1,
		}), gpu.BufferUsageStorage); err != nil {
			return err
		}
	}

	img, err := loaders.LoadImage(albedoPath, true)
	if errors.Is(err, fs.ErrNotExist) {
		img = checker(64, 8)
	} else if err != nil {
		return err
	}
	if state.albedo, err = r.UploadImage(img); err != nil {
		return err
	}
	return g.uploadDraws()
}

// uploadDraws writes one record per cube: index count, first index, vertex
// offset, albedo image index, then the model matrix.
func (g *TestGame) uploadDraws() error {
	state := g.state()
	var data []byte
	for i := 0; i < cubeCount; i++ {
		data = binary.LittleEndian.AppendUint32(data, state.indexCount)
		data = binary.LittleEndian.AppendUint32(data, 0)
		data = binary.LittleEndian.AppendUint32(data, 0)
		data = binary.LittleEndian.AppendUint32(data, state.albedo.Index())
		model := math.NewMat4Translation(math.NewVec3(float32(i-1)*3, 0, 0))
		data = model.AppendBytes(data)
	}
	h, err := state.renderer.UploadBuffer("draws", data, gpu.BufferUsageStorage)
	if err != nil {
		return err
	}
	state.draws.Release()
	state.draws = h
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.state()
	state.angle += float32(0.5 * deltaTime)
	if state.angle > 2*math.PI {
		state.angle -= 2 * math.PI
	}
	return nil
}

func (g *TestGame) Render(deltaTime float64) (*renderer.Scene, error) {
	state := g.state()
	if state.width == 0 || state.height == 0 {
		return nil, nil
	}

	eye := math.NewVec3(10*float32(m.Sin(float64(state.angle))), 4, 10*float32(m.Cos(float64(state.angle))))
	view := math.NewMat4LookAt(eye, math.NewVec3(0, 0, 0), math.NewVec3Up())
	proj := math.NewMat4Perspective(math.DegToRad(60), float32(state.width)/float32(state.height), 0.1, 1000)

	block := make([]byte, 0, cameraBlockSize)
	block = view.AppendBytes(block)
	block = proj.AppendBytes(block)
	block = proj.Mul(view).AppendBytes(block)
	block = float32Append(block, eye.X, eye.Y, eye.Z, 1)

	camera := state.cameras[state.renderer.Slot()]
	copy(camera.Get().Native.Mapped(), block)

	return &renderer.Scene{
		Camera:         camera,
		Draws:          state.draws,
		DrawCount:      cubeCount,
		Vertices:       state.vertices,
		Indices:        state.indices,
		Lights:         state.lights,
		LightCount:     2,
		Textures:       []resources.ImageHandle{state.albedo},
		DebugLines:     state.lines,
		DebugLineCount: 3,
		ClearColour:    [4]float32{0.02, 0.02, 0.05, 1},
	}, nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.state()
	state.width = width
	state.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.state()
	for _, h := range state.cameras {
		h.Release()
	}
	state.cameras = nil
	state.vertices.Release()
	state.indices.Release()
	state.draws.Release()
	state.lights.Release()
	state.lines.Release()
	state.albedo.Release()
	return nil
}

// cube returns positions (xyz1) and the triangle list of a unit cube.
func cube() ([]float32, []uint32) {
	var vertices []float32
	for i := 0; i < 8; i++ {
		x := float32(i&1)*2 - 1
		y := float32(i>>1&1)*2 - 1
		z := float32(i>>2&1)*2 - 1
		vertices = append(vertices, x, y, z, 1)
	}
	indices := []uint32{
		0, 2, 1, 1, 2, 3, // -z
		4, 5, 6, 5, 7, 6, // +z
		0, 1, 4, 1, 5, 4, // -y
		2, 6, 3, 3, 6, 7, // +y
		0, 4, 2, 2, 4, 6, // -x
		1, 3, 5, 3, 7, 5, // +x
	}
	return vertices, indices
}

// checker returns a size x size grey checkerboard with cells of cell pixels.
func checker(size, cell uint32) *loaders.ImageData {
	pixels := make([]byte, 0, 4*size*size)
	for y := uint32(0); y < size; y++ {
		for x := uint32(0); x < size; x++ {
			v := byte(64)
			if (x/cell+y/cell)%2 == 0 {
				v = 192
			}
			pixels = append(pixels, v, v, v, 255)
		}
	}
	return &loaders.ImageData{Name: "checker", Width: size, Height: size, Pixels: pixels}
}

func float32Append(b []byte, values ...float32) []byte {
	for _, v := range values {
		b = binary.LittleEndian.AppendUint32(b, m.Float32bits(v))
	}
	return b
}

func float32Bytes(values []float32) []byte {
	return float32Append(make([]byte, 0, 4*len(values)), values...)
}

func uint32Bytes(values []uint32) []byte {
	b := make([]byte, 0, 4*len(values))
	for _, v := range values {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}
