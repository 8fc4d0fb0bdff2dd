// Package media holds image helpers for uploaded attachments:
// format sniffing by magic bytes and thumbnail generation.
package media

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// ErrNotImage is returned when the payload is not a decodable image.
var ErrNotImage = errors.New("media: data is not a supported image")

// thumbSide is the target length of the shorter thumbnail edge.
const thumbSide = 200

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
)

// IsImageData reports whether data starts with a JPEG or PNG signature.
func IsImageData(data []byte) bool {
	return bytes.HasPrefix(data, jpegMagic) || bytes.HasPrefix(data, pngMagic)
}

// Thumbnail decodes src (JPEG or PNG), scales it so the shorter edge
// is at most 200px, and re-encodes as JPEG. Images already small
// enough are re-encoded without scaling. Also returns the original
// image dimensions.
func Thumbnail(src []byte) (thumb []byte, width, height int, err error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, 0, 0, ErrNotImage
	}
	bounds := img.Bounds()
	width, height = bounds.Dx(), bounds.Dy()

	short := width
	if height < short {
		short = height
	}
	out := img
	if short > thumbSide {
		scale := float64(thumbSide) / float64(short)
		dst := image.NewRGBA(image.Rect(0, 0,
			int(float64(width)*scale+0.5), int(float64(height)*scale+0.5)))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 80}); err != nil {
		return nil, 0, 0, err
	}
	return buf.Bytes(), width, height, nil
}
