package loaders

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/penumbra/engine/resources"
)

// ImageLoader decodes png, jpeg, bmp, tiff and webp files into tightly
// packed RGBA8 pixels.
type ImageLoader struct{}

func (il *ImageLoader) Load(path string, params interface{}) (*resources.Resource, error) {
	flip := false
	if p, ok := params.(*resources.ImageResourceParams); ok && p != nil {
		flip = p.FlipY
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := DecodeImage(f, flip)
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", path, err)
	}
	return &resources.Resource{
		Type:     resources.ResourceTypeImage,
		Name:     filepath.Base(path),
		FullPath: path,
		DataSize: uint64(len(data.Pixels)),
		Data:     data,
	}, nil
}

func (il *ImageLoader) Unload(resource *resources.Resource) error {
	return unload(resource)
}

// DecodeImage decodes any registered image format and converts it to RGBA8.
func DecodeImage(r io.Reader, flipY bool) (*resources.ImageResourceData, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("empty %s image", format)
	}

	rgba, ok := src.(*image.RGBA)
	if !ok || rgba.Stride != 4*bounds.Dx() {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), src, bounds.Min, draw.Src)
	}

	pixels := rgba.Pix
	if flipY {
		pixels = flipRows(pixels, rgba.Stride, bounds.Dy())
	}
	return &resources.ImageResourceData{
		ChannelCount: 4,
		Width:        uint32(bounds.Dx()),
		Height:       uint32(bounds.Dy()),
		Pixels:       pixels,
	}, nil
}

func flipRows(pixels []uint8, stride, rows int) []uint8 {
	out := make([]uint8, len(pixels))
	for y := 0; y < rows; y++ {
		copy(out[y*stride:(y+1)*stride], pixels[(rows-1-y)*stride:(rows-y)*stride])
	}
	return out
}
