package captcher

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math/big"
	mrand "math/rand/v2"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	codeMin = 10000
	codeMax = 99999
)

// GenerateCode returns a five digit code. The lower bound keeps it free of a leading zero.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+codeMin), nil
}

var (
	fontOnce sync.Once
	fontData *opentype.Font
	fontErr  error
)

func boldFont() (*opentype.Font, error) {
	fontOnce.Do(func() {
		fontData, fontErr = opentype.Parse(gobold.TTF)
	})
	return fontData, fontErr
}

// RenderCode draws code onto a noisy PNG of the given size.
func RenderCode(code string, width, height int) ([]byte, error) {
	if code == "" {
		return nil, fmt.Errorf("render code: empty code")
	}
	parsed, err := boldFont()
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	size := float64(height) * 0.6
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("font face: %w", err)
	}
	defer face.Close()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 236, G: 238, B: 242, A: 255}), image.Point{}, draw.Src)

	rng := mrand.New(mrand.NewPCG(mrand.Uint64(), mrand.Uint64()))
	for i := 0; i < width*height/12; i++ {
		img.Set(rng.IntN(width), rng.IntN(height), randomColor(rng, 120, 220))
	}
	for i := 0; i < 6; i++ {
		drawLine(img, rng.IntN(width), rng.IntN(height), rng.IntN(width), rng.IntN(height), randomColor(rng, 90, 180))
	}

	drawer := &font.Drawer{Dst: img, Face: face}
	advance := drawer.MeasureString(code).Ceil()
	step := advance / len(code)
	x := (width - advance) / 2
	baseline := height/2 + int(size)/3
	for _, digit := range code {
		jitter := rng.IntN(height/6+1) - height/12
		drawer.Src = image.NewUniform(randomColor(rng, 10, 90))
		drawer.Dot = fixed.P(x, baseline+jitter)
		drawer.DrawString(string(digit))
		x += step
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func randomColor(rng *mrand.Rand, low, high int) color.RGBA {
	span := high - low
	return color.RGBA{
		R: uint8(low + rng.IntN(span)),
		G: uint8(low + rng.IntN(span)),
		B: uint8(low + rng.IntN(span)),
		A: 255,
	}
}

func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	errAcc := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * errAcc
		if e2 >= dy {
			errAcc += dy
			x0 += sx
		}
		if e2 <= dx {
			errAcc += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
