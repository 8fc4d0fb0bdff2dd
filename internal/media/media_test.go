package media

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIsImageData(t *testing.T) {
	if !IsImageData(encodePNG(t, 4, 4)) {
		t.Error("PNG not recognized")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil); err != nil {
		t.Fatal(err)
	}
	if !IsImageData(buf.Bytes()) {
		t.Error("JPEG not recognized")
	}
	if IsImageData([]byte("GIF89a not supported")) {
		t.Error("non-image accepted")
	}
	if IsImageData(nil) {
		t.Error("empty data accepted")
	}
}

func TestThumbnailScalesDown(t *testing.T) {
	src := encodePNG(t, 800, 400)
	thumb, w, h, err := Thumbnail(src)
	if err != nil {
		t.Fatal(err)
	}
	if w != 800 || h != 400 {
		t.Errorf("original dims = %dx%d", w, h)
	}
	img, _, err := image.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("thumbnail not decodable: %v", err)
	}
	tb := img.Bounds()
	if tb.Dy() != 200 || tb.Dx() != 400 {
		t.Errorf("thumbnail dims = %dx%d, want 400x200", tb.Dx(), tb.Dy())
	}
	if !IsImageData(thumb) {
		t.Error("thumbnail should be a JPEG")
	}
}

func TestThumbnailKeepsSmallImages(t *testing.T) {
	src := encodePNG(t, 120, 90)
	thumb, _, _, err := Thumbnail(src)
	if err != nil {
		t.Fatal(err)
	}
	img, _, err := image.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatal(err)
	}
	b := img.Bounds()
	if b.Dx() != 120 || b.Dy() != 90 {
		t.Errorf("dims = %dx%d, want 120x90", b.Dx(), b.Dy())
	}
}

func TestThumbnailRejectsNonImage(t *testing.T) {
	_, _, _, err := Thumbnail([]byte("just text"))
	if !errors.Is(err, ErrNotImage) {
		t.Errorf("err = %v, want ErrNotImage", err)
	}
}
