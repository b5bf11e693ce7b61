package mask

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"
)

func TestParseAcceptsBothSeparators(t *testing.T) {
	spaced, err := Parse("20,20 620,20 580,400 80,400")
	if err != nil {
		t.Fatalf("Parse spaced: %v", err)
	}
	colon, err := Parse("20,20:620,20:580,400:80,400")
	if err != nil {
		t.Fatalf("Parse colon: %v", err)
	}
	if spaced.String() != colon.String() {
		t.Fatalf("forms differ: %q vs %q", spaced, colon)
	}
	if len(spaced) != 4 || spaced[2] != (Point{X: 580, Y: 400}) {
		t.Fatalf("unexpected polygon %#v", spaced)
	}
}

func TestNormalizeRoundsPoints(t *testing.T) {
	got, err := Normalize("10.4,20.5 30.6,40.49 1.5,2")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got != "10,21 31,40 2,2" {
		t.Fatalf("unexpected normalized polygon %q", got)
	}
}

func TestParseRejectsMalformedPoints(t *testing.T) {
	for _, in := range []string{"10", "a,b", "1,2 3", "1e300,5", "5,-3e9"} {
		if _, err := Parse(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
	poly, err := Parse("")
	if err != nil || len(poly) != 0 {
		t.Fatalf("empty input: %v %#v", err, poly)
	}
}

func TestEditorToggleIsIdempotent(t *testing.T) {
	var e Editor
	if got := e.Toggle(true, "images/ref.jpg", "1,1 5,1 5,5"); got != Attached {
		t.Fatalf("first enable: got %v", got)
	}
	if got := e.Toggle(true, "images/ref.jpg", "1,1 5,1 5,5"); got != Unchanged {
		t.Fatalf("second enable: got %v", got)
	}
	if !e.Active() || len(e.Polygon()) != 3 {
		t.Fatalf("editor not active with polygon: %v %#v", e.Active(), e.Polygon())
	}
	if got := e.Toggle(false, "images/ref.jpg", ""); got != Detached {
		t.Fatalf("disable: got %v", got)
	}
	if got := e.Toggle(false, "images/ref.jpg", ""); got != Unchanged {
		t.Fatalf("second disable: got %v", got)
	}
	if e.SetPath(Polygon{{1, 1}}) {
		t.Fatal("SetPath should be ignored while inactive")
	}
}

func TestOverlayShadesOutsidePolygon(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 10))
	draw.Draw(src, src.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	poly, err := Parse("0,0 5,0 5,10 0,10")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out := Overlay(src, poly)

	inside := out.RGBAAt(2, 5)
	if inside.R != 255 || inside.G != 255 || inside.B != 255 {
		t.Fatalf("inside pixel changed: %#v", inside)
	}
	outside := out.RGBAAt(8, 5)
	if outside.R >= 200 {
		t.Fatalf("outside pixel not shaded: %#v", outside)
	}
}

func TestOverlayInvalidPolygonCopiesImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	draw.Draw(src, src.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	out := Overlay(src, Polygon{{0, 0}, {1, 1}})
	if px := out.RGBAAt(3, 3); px.R != 255 {
		t.Fatalf("expected untouched copy, got %#v", px)
	}
}

func TestRenderPreviewWritesPNG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 10))
	draw.Draw(src, src.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	var in bytes.Buffer
	if err := png.Encode(&in, src); err != nil {
		t.Fatalf("encode: %v", err)
	}

	var out bytes.Buffer
	if err := RenderPreview(&out, &in, "0,0:5,0 5,10:0,10"); err != nil {
		t.Fatalf("RenderPreview: %v", err)
	}
	img, err := png.Decode(&out)
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if img.Bounds().Dx() != 10 {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
	if r, _, _, _ := img.At(8, 5).RGBA(); r>>8 >= 200 {
		t.Fatal("outside pixel not shaded")
	}
}

func TestRenderPreviewRejectsGarbage(t *testing.T) {
	var out bytes.Buffer
	if err := RenderPreview(&out, bytes.NewReader([]byte("not an image")), "0,0 1,0 1,1"); err == nil {
		t.Fatal("expected decode error")
	}
}
