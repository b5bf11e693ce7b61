package simulator

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"strings"
)

// Images renders a synthetic bed picture for any requested name, so the
// thumbnails and the mask preview have something to show in debug mode.
type Images struct {
	Width, Height int
}

func (im Images) Open(_ context.Context, name string) (io.ReadCloser, string, error) {
	w, h := im.Width, im.Height
	if w <= 0 || h <= 0 {
		w, h = 640, 480
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	// Test images get a darker band so they differ from references.
	band := strings.HasPrefix(name, "comparison")
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(80 + 120*x/w)
			if band && y > h/3 && y < h/2 {
				v /= 3
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v + 20, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, "", err
	}
	return io.NopCloser(&buf), "image/jpeg", nil
}
