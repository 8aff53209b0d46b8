package renderer

import (
	"github.com/spaghettifunk/anima/engine/renderer/graph"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

// Scene is what the standard pipeline draws. The layout of every buffer is
// defined by the programs of the library; the renderer only routes them to
// the passes that read them.
type Scene struct {
	// Uniform block with the view and projection of the frame.
	Camera resources.BufferHandle

	// One record per draw, turned into indirect commands by culling.
	Draws     resources.BufferHandle
	DrawCount uint32
	// Pulled by index in the vertex stage.
	Vertices resources.BufferHandle
	Indices  resources.BufferHandle

	Lights     resources.BufferHandle
	LightCount uint32

	// Sampled through the bindless table by handle index. Listing them
	// orders their uploads before shading.
	Textures []resources.ImageHandle

	// Line list for the debug overlay, two vertices per line.
	DebugLines     resources.BufferHandle
	DebugLineCount uint32

	ClearColour [4]float32
}

func (s *Scene) drawable() bool {
	return s != nil && s.Camera.IsValid() && s.Draws.IsValid() && s.Vertices.IsValid() && s.Indices.IsValid()
}

func (s *Scene) lit() bool {
	return s.Lights.IsValid() && s.LightCount > 0
}

func bufferDesc(h resources.BufferHandle) graph.BufferDesc {
	info := h.Get().Info
	return graph.BufferDesc{Size: info.Size, HostVisible: info.HostVisible}
}

func imageDesc(h resources.ImageHandle) graph.ImageDesc {
	info := h.Get().Info
	return graph.ImageDesc{Format: info.Format, Extent: info.Extent.To2D(), MipLevels: info.MipLevels}
}
