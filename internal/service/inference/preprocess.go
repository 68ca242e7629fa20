package inference

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// InputSize is the square side the classifier expects.
const InputSize = 256

// InputChannels is the RGB channel count of the classifier input.
const InputChannels = 3

// grayTolerance absorbs chroma noise left by lossy encoders.
const grayTolerance = 2

// decodeImage decodes any registered image format.
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Preprocess resizes img to InputSize x InputSize with bilinear filtering and returns the
// RGB values scaled to [0, 1] in row-major HWC order.
func Preprocess(img image.Image) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, InputSize, InputSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	out := make([]float32, 0, InputSize*InputSize*InputChannels)
	for i := 0; i < len(dst.Pix); i += 4 {
		out = append(out,
			float32(dst.Pix[i])/255,
			float32(dst.Pix[i+1])/255,
			float32(dst.Pix[i+2])/255,
		)
	}
	return out
}

// IsGrayscale reports whether every pixel of img has equal colour channels.
func IsGrayscale(img image.Image) bool {
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		return true
	}

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if diff(c.R, c.G) > grayTolerance || diff(c.G, c.B) > grayTolerance || diff(c.R, c.B) > grayTolerance {
				return false
			}
		}
	}
	return true
}

func diff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
