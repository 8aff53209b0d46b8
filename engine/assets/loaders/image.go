package loaders

import (
	"fmt"
	"image"
	"io"
	"os"

	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageData is a decoded image as tightly packed RGBA8 rows.
type ImageData struct {
	Name   string
	Width  uint32
	Height uint32
	Pixels []byte
}

// LoadImage decodes any format registered with the image package.
func LoadImage(path string, flipY bool) (*ImageData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := DecodeImage(f, flipY)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.Name = path
	return img, nil
}

func DecodeImage(r io.Reader, flipY bool) (*ImageData, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty %s image", format)
	}
	rgba, ok := src.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	}

	out := &ImageData{Width: uint32(b.Dx()), Height: uint32(b.Dy()), Pixels: rgba.Pix}
	if flipY {
		flip(out.Pixels, 4*b.Dx(), b.Dy())
	}
	return out, nil
}

func flip(pixels []byte, stride, rows int) {
	tmp := make([]byte, stride)
	for top, bottom := 0, rows-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := pixels[top*stride : (top+1)*stride]
		b := pixels[bottom*stride : (bottom+1)*stride]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}
