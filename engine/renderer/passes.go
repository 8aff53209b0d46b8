package renderer

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/command"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/graph"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

// Programs of the standard pipeline. Their descriptors all live in set 0:
//
//	cluster           0 camera, 1 lights, 2 clusters
//	cull              0 camera, 1 draws, 2 commands, 3 count
//	shadow            0 camera, 1 vertices, 2 draws
//	visibility        0 camera, 1 vertices, 2 draws
//	shade             0 camera, 1 vertices, 2 draws, 3 visibility, 4 depth,
//	                  5 lights, 6 clusters, 7 shadow map, 8 hdr
//	bloom-downsample  0 source, 1 destination
//	bloom-upsample    0 source, 1 destination
//	tonemap           0 hdr, 1 bloom
//	overlay           0 camera
const (
	ProgramCluster    = "cluster"
	ProgramCull       = "cull"
	ProgramShadow     = "shadow"
	ProgramVisibility = "visibility"
	ProgramShade      = "shade"
	ProgramBloomDown  = "bloom-downsample"
	ProgramBloomUp    = "bloom-upsample"
	ProgramTonemap    = "tonemap"
	ProgramOverlay    = "overlay"
)

const (
	labelBackbuffer = "backbuffer"
	labelOverlay    = "overlay"
	labelZero       = "zero"
	labelCamera     = "camera"
	labelDraws      = "draws"
	labelVertices   = "vertices"
	labelIndices    = "indices"
	labelLights     = "lights"
	labelLines      = "debug-lines"
	labelCommands   = "draw-commands"
	labelShadowMap  = "shadow-map"
	labelHDR        = "hdr"
)

const (
	// Five uint32: index count, instance count, first index, vertex
	// offset and first instance.
	drawCommandSize = 20
	drawCountSize   = 16
	// Room for this many draws before the commands buffer first grows.
	initialDrawCommands = 256
	clusterSize         = 16
	maxClusterLights    = 64
)

var (
	colourScene   = [4]float32{0.3, 0.6, 1.0, 1}
	colourCulling = [4]float32{1.0, 0.6, 0.2, 1}
	colourPost    = [4]float32{0.7, 0.3, 1.0, 1}
	colourDebug   = [4]float32{1.0, 1.0, 0.2, 1}
)

// frameResources are the graph indices of one frame. Optional resources
// are -1 when their pass is not part of the frame.
type frameResources struct {
	extent     gpu.Extent2D
	backbuffer int
	overlay    int

	camera, draws, vertices, indices int
	lights, lines                    int
	zero, clusters, commands, count  int

	shadow, visibility, depth, hdr int
	bloom                          []int
	textures                       []int
}

func push(rec *command.Recorder, p *command.Program, values ...uint32) {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], v)
	}
	// Programs get as many values as they declare room for.
	if n := p.Interface.PushConstantSize; uint32(len(data)) > n {
		data = data[:n]
	}
	if len(data) > 0 {
		rec.PushConstants(data)
	}
}

func bind(rec *command.Recorder) error {
	_, err := rec.BindPipeline()
	return err
}

// declarePasses registers the standard pipeline. Frames without geometry,
// or without the programs to draw it, only clear the backbuffer.
func (r *Renderer) declarePasses(ctx context.Context, f *frameResources, scene *Scene) error {
	if !scene.drawable() || !r.library.Has(ProgramCull, ProgramVisibility, ProgramShade, ProgramTonemap) {
		var clear gpu.ClearValue
		if scene != nil {
			clear.Color = scene.ClearColour
		}
		r.graph.AddPass("clear", graph.PassGraphics).AddColourWrite(f.backbuffer, clear)
		return nil
	}
	settings := r.config.Settings

	if err := r.declareSceneResources(ctx, f, scene); err != nil {
		return err
	}
	r.addCullPasses(f, scene)
	if f.lights >= 0 && r.library.Has(ProgramCluster) {
		r.addClusterPass(f, scene)
	}
	if settings.Shadows && r.library.Has(ProgramShadow) {
		r.addShadowPass(f, scene)
	}
	r.addVisibilityPass(f, scene)
	r.addShadePass(f, scene)
	if settings.Bloom && settings.BloomMips > 0 && r.library.Has(ProgramBloomDown, ProgramBloomUp) {
		r.addBloomPasses(f)
	}
	r.addTonemapPass(f, scene)
	if settings.DebugOverlay && scene.DebugLines.IsValid() && scene.DebugLineCount > 0 && r.library.Has(ProgramOverlay) {
		r.addOverlayPass(f, scene)
	}
	return nil
}

func (r *Renderer) declareSceneResources(ctx context.Context, f *frameResources, scene *Scene) error {
	g := r.graph
	f.camera = g.AddBufferResource(labelCamera, bufferDesc(scene.Camera), scene.Camera)
	f.draws = g.AddBufferResource(labelDraws, bufferDesc(scene.Draws), scene.Draws)
	f.vertices = g.AddBufferResource(labelVertices, bufferDesc(scene.Vertices), scene.Vertices)
	f.indices = g.AddBufferResource(labelIndices, bufferDesc(scene.Indices), scene.Indices)
	if scene.lit() {
		f.lights = g.AddBufferResource(labelLights, bufferDesc(scene.Lights), scene.Lights)
	}
	if scene.DebugLines.IsValid() {
		f.lines = g.AddBufferResource(labelLines, bufferDesc(scene.DebugLines), scene.DebugLines)
	}

	f.zero = g.AddBufferResource(labelZero, bufferDesc(r.zero), r.zero)
	for i, h := range scene.Textures {
		if h.IsValid() {
			f.textures = append(f.textures, g.AddImageResource(fmt.Sprintf("texture-%d", i), imageDesc(h), h))
		}
	}

	need := uint64(max(scene.DrawCount, 1)) * drawCommandSize
	if size := r.indirect.Get().Info.Size; need > size {
		// Culling rewrites every command, the old ones are not copied.
		if err := r.resources.ResizeBuffer(ctx, &r.indirect, max(need, 2*size), false); err != nil {
			return fmt.Errorf("grow draw commands to %d bytes: %w", need, err)
		}
		core.LogDebug("draw commands grown to %d bytes for %d draws", r.indirect.Get().Info.Size, scene.DrawCount)
	}
	f.commands = g.AddBufferResource(labelCommands, bufferDesc(r.indirect), r.indirect)
	f.count = g.AddTransientBuffer(graph.BufferDesc{Size: drawCountSize})
	f.visibility = g.AddTransientImage(graph.ImageDesc{Format: gpu.FormatR32Uint, Extent: f.extent})
	f.depth = g.AddTransientImage(graph.ImageDesc{Format: r.device.DepthFormat(), Extent: f.extent})
	f.hdr = g.AddImageResource(labelHDR, graph.ImageDesc{Format: gpu.FormatR16G16B16A16Sfloat, Extent: f.extent}, resources.ImageHandle{})
	return nil
}

// addCullPasses zeroes the draw count, then turns the draw records into
// indirect commands.
func (r *Renderer) addCullPasses(f *frameResources, scene *Scene) {
	g := r.graph
	g.AddPass("cull-reset", graph.PassTransfer).
		AddTransferRead(f.zero).
		AddTransferWrite(f.count).
		SetDebugGroup("culling").
		SetColour(colourCulling).
		SetCallback(func(rec *command.Recorder, g *graph.Graph) error {
			rec.CopyBuffer(g.Buffer(f.zero), g.Buffer(f.count), []gpu.BufferCopy{{Size: drawCountSize}})
			return nil
		})

	program, _ := r.library.Program(ProgramCull)
	g.AddPass("cull", graph.PassCompute).
		AddUniformBufferRead(f.camera).
		AddStorageBufferRead(f.draws).
		AddStorageBufferWrite(f.commands).
		AddStorageBufferRead(f.count).
		AddStorageBufferWrite(f.count).
		SetDebugGroup("culling").
		SetColour(colourCulling).
		SetCallback(func(rec *command.Recorder, g *graph.Graph) error {
			if scene.DrawCount == 0 {
				return nil
			}
			rec.BindProgram(program)
			if err := bind(rec); err != nil {
				return err
			}
			rec.BindBuffer(0, 0, g.Buffer(f.camera), 0, 0)
			rec.BindBuffer(0, 1, g.Buffer(f.draws), 0, 0)
			rec.BindBuffer(0, 2, g.Buffer(f.commands), 0, 0)
			rec.BindBuffer(0, 3, g.Buffer(f.count), 0, 0)
			if err := rec.BindDescriptors(); err != nil {
				return err
			}
			push(rec, program, scene.DrawCount)
			rec.DispatchThreads(scene.DrawCount, 1, 1)
			return nil
		})
}

func (r *Renderer) addClusterPass(f *frameResources, scene *Scene) {
	g := r.graph
	grid := r.config.Settings.ClusterGrid
	clusters := uint64(grid[0]) * uint64(grid[1]) * uint64(grid[2])
	f.clusters = g.AddTransientBuffer(graph.BufferDesc{Size: clusters * (clusterSize + 4*maxClusterLights)})

	program, _ := r.library.Program(ProgramCluster)
	g.AddPass("cluster", graph.PassCompute).
		AddUniformBufferRead(f.camera).
		AddStorageBufferRead(f.lights).
		AddStorageBufferWrite(f.clusters).
		SetDebugGroup("culling").
		SetColour(colourCulling).
		SetCallback(func(rec *command.Recorder, g *graph.Graph) error {
			rec.BindProgram(program)
			if err := bind(rec); err != nil {
				return err
			}
			rec.BindBuffer(0, 0, g.Buffer(f.camera), 0, 0)
			rec.BindBuffer(0, 1, g.Buffer(f.lights), 0, 0)
			rec.BindBuffer(0, 2, g.Buffer(f.clusters), 0, 0)
			if err := rec.BindDescriptors(); err != nil {
				return err
			}
			push(rec, program, grid[0], grid[1], grid[2], scene.LightCount)
			rec.DispatchThreads(grid[0], grid[1], grid[2])
			return nil
		})
}

// drawScene records the indirect draw shared by the shadow and visibility
// passes.
func drawScene(rec *command.Recorder, g *graph.Graph, f *frameResources, scene *Scene) error {
	rec.BindBuffer(0, 0, g.Buffer(f.camera), 0, 0)
	rec.BindBuffer(0, 1, g.Buffer(f.vertices), 0, 0)
	rec.BindBuffer(0, 2, g.Buffer(f.draws), 0, 0)
	if err := rec.BindDescriptors(); err != nil {
		return err
	}
	rec.BindIndexBuffer(g.Buffer(f.indices), 0, gpu.IndexTypeUint32)
	rec.DrawIndexedIndirectCount(g.Buffer(f.commands), 0, g.Buffer(f.count), 0, scene.DrawCount, drawCommandSize)
	return nil
}

func (r *Renderer) geometryPass(name string, f *frameResources) *graph.Pass {
	return r.graph.AddPass(name, graph.PassGraphics).
		AddIndirectRead(f.commands).
		AddIndirectRead(f.count).
		AddIndexBufferRead(f.indices).
		AddStorageBufferRead(f.vertices).
		AddStorageBufferRead(f.draws).
		AddUniformBufferRead(f.camera).
		SetColour(colourScene)
}

func (r *Renderer) addShadowPass(f *frameResources, scene *Scene) {
	size := r.config.Settings.ShadowMapSize
	f.shadow = r.graph.AddImageResource(labelShadowMap, graph.ImageDesc{
		Format: r.device.DepthFormat(),
		Extent: gpu.Extent2D{Width: size, Height: size},
	}, resources.ImageHandle{})

	program, _ := r.library.Program(ProgramShadow)
	r.geometryPass("shadow", f).
		AddDepthWrite(f.shadow, gpu.ClearValue{}).
		SetCallback(func(rec *command.Recorder, g *graph.Graph) error {
			if scene.DrawCount == 0 {
				return nil
			}
			rec.BindProgram(program)
			raster := gpu.DefaultRasterState()
			raster.Cull = gpu.CullFront
			raster.DepthBias = true
			rec.BindRasterState(raster)
			if err := bind(rec); err != nil {
				return err
			}
			return drawScene(rec, g, f, scene)
		})
}

func (r *Renderer) addVisibilityPass(f *frameResources, scene *Scene) {
	program, _ := r.library.Program(ProgramVisibility)
	r.geometryPass("visibility", f).
		AddColourWrite(f.visibility, gpu.ClearValue{}).
		AddDepthWrite(f.depth, gpu.ClearValue{}).
		SetCallback(func(rec *command.Recorder, g *graph.Graph) error {
			if scene.DrawCount == 0 {
				return nil
			}
			rec.BindProgram(program)
			if err := bind(rec); err != nil {
				return err
			}
			return drawScene(rec, g, f, scene)
		})
}

func (r *Renderer) addShadePass(f *frameResources, scene *Scene) {
	program, _ := r.library.Program(ProgramShade)
	pass := r.graph.AddPass("shade", graph.PassCompute).
		AddUniformBufferRead(f.camera).
		AddStorageBufferRead(f.vertices).
		AddStorageBufferRead(f.draws).
		AddSampledImageRead(f.visibility).
		AddSampledImageRead(f.depth).
		AddStorageImageWrite(f.hdr).
		SetColour(colourScene)
	if f.lights >= 0 {
		pass.AddStorageBufferRead(f.lights)
	}
	if f.clusters >= 0 {
		pass.AddStorageBufferRead(f.clusters)
	}
	if f.lights < 0 || f.clusters < 0 {
		pass.AddStorageBufferRead(f.zero)
	}
	if f.shadow >= 0 {
		pass.AddSampledImageRead(f.shadow)
	}
	for _, tex := range f.textures {
		pass.AddSampledImageRead(tex)
	}

	pass.SetCallback(func(rec *command.Recorder, g *graph.Graph) error {
		rec.BindProgram(program)
		if err := bind(rec); err != nil {
			return err
		}
		nearest, linear := r.nearest.Ref(), r.linear.Ref()
		rec.BindBuffer(0, 0, g.Buffer(f.camera), 0, 0)
		rec.BindBuffer(0, 1, g.Buffer(f.vertices), 0, 0)
		rec.BindBuffer(0, 2, g.Buffer(f.draws), 0, 0)
		rec.BindImage(0, 3, g.Image(f.visibility), nearest, false)
		rec.BindImage(0, 4, g.Image(f.depth), nearest, false)
		// Unused slots point at something valid of the right kind.
		lights, clusters := g.Buffer(f.zero), g.Buffer(f.zero)
		if f.lights >= 0 {
			lights = g.Buffer(f.lights)
		}
		if f.clusters >= 0 {
			clusters = g.Buffer(f.clusters)
		}
		rec.BindBuffer(0, 5, lights, 0, 0)
		rec.BindBuffer(0, 6, clusters, 0, 0)
		shadow := g.Image(f.depth)
		if f.shadow >= 0 {
			shadow = g.Image(f.shadow)
		}
		rec.BindImage(0, 7, shadow, linear, false)
		rec.BindImage(0, 8, g.Image(f.hdr), resources.Ref{}, true)
		if err := rec.BindDescriptors(); err != nil {
			return err
		}
		var lightCount uint32
		if f.lights >= 0 {
			lightCount = scene.LightCount
		}
		push(rec, program, f.extent.Width, f.extent.Height, lightCount)
		rec.DispatchThreads(f.extent.Width, f.extent.Height, 1)
		return nil
	})
}

func bloomExtent(e gpu.Extent2D, level int) gpu.Extent2D {
	return gpu.Extent2D{Width: max(e.Width>>(level+1), 1), Height: max(e.Height>>(level+1), 1)}
}

// addBloomPasses builds a chain of half sized images from the HDR target,
// then adds every level back into the one above it.
func (r *Renderer) addBloomPasses(f *frameResources) {
	g := r.graph
	mips := int(r.config.Settings.BloomMips)
	f.bloom = make([]int, mips)
	for i := range f.bloom {
		f.bloom[i] = g.AddTransientImage(graph.ImageDesc{
			Format: gpu.FormatB10G11R11Ufloat,
			Extent: bloomExtent(f.extent, i),
		})
	}

	down, _ := r.library.Program(ProgramBloomDown)
	up, _ := r.library.Program(ProgramBloomUp)
	sample := func(p *command.Program, src, dst int, extent gpu.Extent2D) graph.Callback {
		return func(rec *command.Recorder, g *graph.Graph) error {
			rec.BindProgram(p)
			if err := bind(rec); err != nil {
				return err
			}
			rec.BindImage(0, 0, g.Image(src), r.linear.Ref(), false)
			rec.BindImage(0, 1, g.Image(dst), resources.Ref{}, true)
			if err := rec.BindDescriptors(); err != nil {
				return err
			}
			push(rec, p, extent.Width, extent.Height)
			rec.DispatchThreads(extent.Width, extent.Height, 1)
			return nil
		}
	}

	src := f.hdr
	for i, dst := range f.bloom {
		g.AddPass(fmt.Sprintf("bloom-down-%d", i), graph.PassCompute).
			AddSampledImageRead(src).
			AddStorageImageWrite(dst).
			SetDebugGroup("bloom").
			SetColour(colourPost).
			SetCallback(sample(down, src, dst, bloomExtent(f.extent, i)))
		src = dst
	}
	for i := mips - 2; i >= 0; i-- {
		dst := f.bloom[i]
		g.AddPass(fmt.Sprintf("bloom-up-%d", i), graph.PassCompute).
			AddSampledImageRead(f.bloom[i+1]).
			AddStorageImageRead(dst).
			AddStorageImageWrite(dst).
			SetDebugGroup("bloom").
			SetColour(colourPost).
			SetCallback(sample(up, f.bloom[i+1], dst, bloomExtent(f.extent, i)))
	}
}

func (r *Renderer) addTonemapPass(f *frameResources, scene *Scene) {
	program, _ := r.library.Program(ProgramTonemap)
	pass := r.graph.AddPass("tonemap", graph.PassGraphics).
		AddSampledImageRead(f.hdr).
		AddColourWrite(f.backbuffer, gpu.ClearValue{Color: scene.ClearColour}).
		SetColour(colourPost)
	if len(f.bloom) > 0 {
		pass.AddSampledImageRead(f.bloom[0])
	}
	pass.SetCallback(func(rec *command.Recorder, g *graph.Graph) error {
		rec.BindProgram(program)
		raster := gpu.DefaultRasterState()
		raster.Cull = gpu.CullNone
		rec.BindRasterState(raster)
		rec.BindDepthState(gpu.DepthState{})
		if err := bind(rec); err != nil {
			return err
		}
		bloom, enabled := g.Image(f.hdr), uint32(0)
		if len(f.bloom) > 0 {
			bloom, enabled = g.Image(f.bloom[0]), 1
		}
		rec.BindImage(0, 0, g.Image(f.hdr), r.linear.Ref(), false)
		rec.BindImage(0, 1, bloom, r.linear.Ref(), false)
		if err := rec.BindDescriptors(); err != nil {
			return err
		}
		push(rec, program, enabled)
		rec.Draw(3, 1, 0, 0)
		return nil
	})
}

// addOverlayPass draws debug lines on top of the tonemapped image. It
// writes the backbuffer through its "overlay" alias.
func (r *Renderer) addOverlayPass(f *frameResources, scene *Scene) {
	program, _ := r.library.Program(ProgramOverlay)
	r.graph.AddPass("overlay", graph.PassGraphics).
		AddUniformBufferRead(f.camera).
		AddVertexBufferRead(f.lines).
		AddColourWrite(f.overlay, gpu.ClearValue{}).
		SetColour(colourDebug).
		SetCallback(func(rec *command.Recorder, g *graph.Graph) error {
			rec.BindProgram(program)
			rec.BindRasterState(gpu.RasterState{
				Polygon:   gpu.PolygonFill,
				Cull:      gpu.CullNone,
				Topology:  gpu.TopologyLineList,
				LineWidth: 1,
			})
			rec.BindDepthState(gpu.DepthState{})
			rec.BindBlendState(0, gpu.AlphaBlendState())
			rec.BindAttributes([]gpu.VertexAttribute{
				{Location: 0, Binding: 0, Format: gpu.FormatR32G32B32Sfloat, Offset: 0},
				{Location: 1, Binding: 0, Format: gpu.FormatR8G8B8A8Unorm, Offset: 12},
			})
			rec.BindBindings([]gpu.VertexBinding{{Binding: 0, Stride: 16, Rate: gpu.InputRateVertex}})
			if err := bind(rec); err != nil {
				return err
			}
			rec.BindBuffer(0, 0, g.Buffer(f.camera), 0, 0)
			if err := rec.BindDescriptors(); err != nil {
				return err
			}
			rec.BindVertexBuffer(0, g.Buffer(f.lines), 0)
			rec.Draw(2*scene.DebugLineCount, 1, 0, 0)
			return nil
		})
}
