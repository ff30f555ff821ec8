package validator

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/draw"
)

// Tolerance bounds how far a rendered page may drift from its golden image.
// The zero value demands an exact match.
type Tolerance struct {
	// MaxChannelDelta is the largest per-channel difference (0-255) at
	// which two pixels still count as equal.
	MaxChannelDelta int `mapstructure:"max_channel_delta" yaml:"max_channel_delta"`
	// MaxDiffRatio is the fraction of differing pixels (0-1) a page may
	// have and still pass.
	MaxDiffRatio float64 `mapstructure:"max_diff_ratio" yaml:"max_diff_ratio"`
}

// Validate checks the tolerance bounds.
func (t Tolerance) Validate() error {
	if t.MaxChannelDelta < 0 || t.MaxChannelDelta > 255 {
		return fmt.Errorf("max_channel_delta must be within [0, 255], got %d", t.MaxChannelDelta)
	}
	if t.MaxDiffRatio < 0 || t.MaxDiffRatio > 1 {
		return fmt.Errorf("max_diff_ratio must be within [0, 1], got %g", t.MaxDiffRatio)
	}
	return nil
}

// Comparison is the pixel-level outcome for one page.
type Comparison struct {
	Width, Height int
	DiffPixels    int
	DiffRatio     float64
	MaxDelta      int
	// diff marks differing pixels; nil when the images are identical.
	diff *image.RGBA
}

// decodePNG decodes data and converts it to RGBA so that pages encoded
// with different colour models compare by value.
func decodePNG(data []byte) (*image.RGBA, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return toRGBA(img), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// compare assumes equal dimensions.
func compare(golden, actual *image.RGBA, tol Tolerance) Comparison {
	b := golden.Bounds()
	c := Comparison{Width: b.Dx(), Height: b.Dy()}

	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			i := golden.PixOffset(x, y)
			g := golden.Pix[i : i+4 : i+4]
			a := actual.Pix[i : i+4 : i+4]

			delta := 0
			for ch := 0; ch < 4; ch++ {
				d := int(g[ch]) - int(a[ch])
				if d < 0 {
					d = -d
				}
				if d > delta {
					delta = d
				}
			}
			if delta > c.MaxDelta {
				c.MaxDelta = delta
			}
			if delta > tol.MaxChannelDelta {
				if c.diff == nil {
					c.diff = diffBase(golden)
				}
				c.diff.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
				c.DiffPixels++
			}
		}
	}

	if total := c.Width * c.Height; total > 0 {
		c.DiffRatio = float64(c.DiffPixels) / float64(total)
	}
	return c
}

// Passed reports whether the page is within tolerance.
func (c Comparison) Passed(tol Tolerance) bool {
	return c.DiffRatio <= tol.MaxDiffRatio
}

// diffBase is a faded grayscale copy of the golden page that differing
// pixels are painted onto.
func diffBase(golden *image.RGBA) *image.RGBA {
	b := golden.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray := color.GrayModel.Convert(golden.At(x, y)).(color.Gray)
			v := 192 + gray.Y/4
			out.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return out
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
