package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima/engine/assets/loaders"
	"github.com/spaghettifunk/anima/engine/renderer/command"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/graph"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

var ErrEmptyUpload = errors.New("nothing to upload")

// upload is a copy from a host visible staging buffer, recorded by the
// next frame. Exactly one of buffer and image is set.
type upload struct {
	staging resources.BufferHandle
	buffer  resources.BufferHandle
	image   resources.ImageHandle
	extent  gpu.Extent3D
}

func (u *upload) release() {
	u.staging.Release()
	u.buffer.Release()
	u.image.Release()
}

func (r *Renderer) stage(label string, data []byte) (resources.BufferHandle, error) {
	h, err := r.resources.CreateBuffer(gpu.BufferInfo{
		Size:        uint64(len(data)),
		HostVisible: true,
		Label:       label + "-staging",
	})
	if err != nil {
		return resources.BufferHandle{}, err
	}
	copy(h.Get().Native.Mapped(), data)
	return h, nil
}

// UploadBuffer creates a device local buffer filled with data by the next
// frame. Its bindless index is the handle's index.
func (r *Renderer) UploadBuffer(label string, data []byte, usage gpu.BufferUsage) (resources.BufferHandle, error) {
	if len(data) == 0 {
		return resources.BufferHandle{}, fmt.Errorf("buffer %q: %w", label, ErrEmptyUpload)
	}
	dst, err := r.resources.CreateBuffer(gpu.BufferInfo{
		Size:  uint64(len(data)),
		Usage: usage | gpu.BufferUsageTransferDst,
		Label: label,
	})
	if err != nil {
		return resources.BufferHandle{}, err
	}
	staging, err := r.stage(label, data)
	if err != nil {
		dst.Release()
		return resources.BufferHandle{}, err
	}
	r.uploads = append(r.uploads, upload{staging: staging, buffer: dst.Clone()})
	return dst, nil
}

// UploadImage creates a sampled RGBA image from decoded pixels. From the
// next frame on it is in ShaderReadOnly layout and readable by index
// through the bindless table.
func (r *Renderer) UploadImage(img *loaders.ImageData) (resources.ImageHandle, error) {
	if len(img.Pixels) == 0 {
		return resources.ImageHandle{}, fmt.Errorf("image %q: %w", img.Name, ErrEmptyUpload)
	}
	extent := gpu.Extent3D{Width: img.Width, Height: img.Height, Depth: 1}
	dst, err := r.resources.CreateImage(gpu.ImageInfo{
		Format: gpu.FormatR8G8B8A8Srgb,
		Extent: extent,
		Usage:  gpu.ImageUsageSampled | gpu.ImageUsageTransferDst,
		Label:  img.Name,
	})
	if err != nil {
		return resources.ImageHandle{}, err
	}
	staging, err := r.stage(img.Name, img.Pixels)
	if err != nil {
		dst.Release()
		return resources.ImageHandle{}, err
	}
	r.uploads = append(r.uploads, upload{staging: staging, image: dst.Clone(), extent: extent})
	return dst, nil
}

// declareUploads adds a transfer pass per pending upload. They have side
// effects, so the graph keeps them although nothing reads the result this
// frame. Every pass reading the destination in the same frame uses the
// same graph slot and waits on the copy.
func (r *Renderer) declareUploads() {
	g := r.graph
	for i, u := range r.uploads {
		src := g.ImportBuffer(u.staging)
		if u.buffer.IsValid() {
			dst := g.ImportBuffer(u.buffer)
			size := u.buffer.Get().Info.Size
			g.AddPass(fmt.Sprintf("upload-%d", i), graph.PassTransfer).
				AddTransferRead(src).
				AddTransferWrite(dst).
				SetSideEffects(true).
				SetDebugGroup("uploads").
				SetCallback(func(rec *command.Recorder, g *graph.Graph) error {
					rec.CopyBuffer(g.Buffer(src), g.Buffer(dst), []gpu.BufferCopy{{Size: size}})
					return nil
				})
			continue
		}

		dst := g.ImportImage(u.image)
		extent := u.extent
		g.AddPass(fmt.Sprintf("upload-%d", i), graph.PassTransfer).
			AddTransferRead(src).
			AddTransferWrite(dst).
			SetSideEffects(true).
			SetDebugGroup("uploads").
			SetCallback(func(rec *command.Recorder, g *graph.Graph) error {
				rec.CopyBufferToImage(g.Buffer(src), g.Image(dst), []gpu.BufferImageCopy{{Extent: extent}})
				return nil
			})
		g.SetFinalLayout(dst, gpu.LayoutShaderReadOnly)
	}
}

// finishUploads drops the renderer's references once the copies are
// recorded. The graph holds the imported staging buffers until its next
// Reset, and the destroy delay covers the frames in flight after that.
func (r *Renderer) finishUploads() {
	for i := range r.uploads {
		r.uploads[i].release()
	}
	r.uploads = r.uploads[:0]
}
