package mask

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/vector"
)

var shade = color.NRGBA{A: 160}

// Overlay returns a copy of src with everything outside poly darkened, the
// way the backend blanks it before comparing. An invalid polygon shades
// nothing.
func Overlay(src image.Image, poly Polygon) *image.RGBA {
	b := src.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, src, b.Min, draw.Src)
	if !poly.Valid() || b.Empty() {
		return out
	}

	draw.Draw(out, b, image.NewUniform(shade), image.Point{}, draw.Over)

	r := vector.NewRasterizer(b.Dx(), b.Dy())
	r.MoveTo(float32(poly[0].X-b.Min.X), float32(poly[0].Y-b.Min.Y))
	for _, pt := range poly[1:] {
		r.LineTo(float32(pt.X-b.Min.X), float32(pt.Y-b.Min.Y))
	}
	r.ClosePath()
	r.Draw(out, b, src, b.Min)
	return out
}

// RenderPreview decodes a JPEG or PNG reference image from src, applies the
// polygon overlay and writes the result to w as PNG.
func RenderPreview(w io.Writer, src io.Reader, points string) error {
	img, _, err := image.Decode(src)
	if err != nil {
		return fmt.Errorf("decode reference image: %w", err)
	}
	poly, err := Parse(points)
	if err != nil {
		return err
	}
	return png.Encode(w, Overlay(img, poly))
}
