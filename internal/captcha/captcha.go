// Package captcha generates the registration challenge: a 6 character
// code rendered into a PNG with light distortion.
package captcha

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// Alphabet excludes nothing; the original challenge uses the full
// uppercase letter and digit set.
const (
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	Length   = 6

	imgWidth  = 160
	imgHeight = 60
)

// NewCode returns a random challenge string.
func NewCode() (string, error) {
	buf := make([]byte, Length)
	max := big.NewInt(int64(len(Alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("captcha: %w", err)
		}
		buf[i] = Alphabet[n.Int64()]
	}
	return string(buf), nil
}

// Render draws the code into a PNG.
func Render(code string) ([]byte, error) {
	font, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("captcha: parse font: %w", err)
	}
	face, err := opentype.NewFace(font, &opentype.FaceOptions{Size: 32, DPI: 72})
	if err != nil {
		return nil, fmt.Errorf("captcha: font face: %w", err)
	}

	dc := gg.NewContext(imgWidth, imgHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetFontFace(face)

	// Noise lines behind the glyphs.
	for i := 0; i < 5; i++ {
		x1, y1 := randFloat(imgWidth), randFloat(imgHeight)
		x2, y2 := randFloat(imgWidth), randFloat(imgHeight)
		dc.SetRGBA(randFloat(0.7), randFloat(0.7), randFloat(0.7), 0.6)
		dc.SetLineWidth(1.5)
		dc.DrawLine(x1, y1, x2, y2)
		dc.Stroke()
	}

	step := float64(imgWidth) / float64(len(code)+1)
	for i, r := range code {
		dc.Push()
		x := step * float64(i+1)
		y := float64(imgHeight)/2 + randFloat(10) - 5
		dc.RotateAbout(randFloat(0.5)-0.25, x, y)
		dc.SetRGB(randFloat(0.6), randFloat(0.6), randFloat(0.6))
		dc.DrawStringAnchored(string(r), x, y, 0.5, 0.5)
		dc.Pop()
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("captcha: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func randFloat(max float64) float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<20))
	if err != nil {
		return max / 2
	}
	return max * float64(n.Int64()) / float64(1<<20)
}
