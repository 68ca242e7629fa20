// Package gradcam turns classifier activations and gradients into a Guided Grad-CAM
// visualisation. It is pure computation over float tensors and has no model runtime
// dependency.
package gradcam

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/mazznoer/colorgrad"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Volume is a row-major H x W x C tensor, the layout of one NHWC batch entry.
type Volume struct {
	H, W, C int
	Data    []float32
}

// NewVolume wraps data, checking that it matches the shape.
func NewVolume(h, w, c int, data []float32) (Volume, error) {
	if h <= 0 || w <= 0 || c <= 0 {
		return Volume{}, fmt.Errorf("gradcam: invalid shape %dx%dx%d", h, w, c)
	}
	if len(data) != h*w*c {
		return Volume{}, fmt.Errorf("gradcam: %d values do not fill shape %dx%dx%d", len(data), h, w, c)
	}
	return Volume{H: h, W: w, C: c, Data: data}, nil
}

func (v Volume) at(y, x, c int) float64 {
	return float64(v.Data[(y*v.W+x)*v.C+c])
}

// Map is a single-channel H x W map.
type Map struct {
	H, W int
	Data []float64
}

// At returns the value at row y, column x.
func (m Map) At(y, x int) float64 {
	return m.Data[y*m.W+x]
}

// ErrShapeMismatch is returned when activations and gradients disagree.
var ErrShapeMismatch = errors.New("gradcam: activation and gradient shapes differ")

// Heatmap computes the Grad-CAM map of a convolutional layer: gradients are averaged per
// channel, activations are weighted by those means and summed, negatives are cut and the
// result is scaled so its maximum is 1. A map with no positive value stays all zero.
func Heatmap(activations, gradients Volume) (Map, error) {
	if activations.H != gradients.H || activations.W != gradients.W || activations.C != gradients.C {
		return Map{}, ErrShapeMismatch
	}
	h, w, c := activations.H, activations.W, activations.C
	pixels := h * w

	pooled := make([]float64, c)
	for i := 0; i < pixels; i++ {
		for k := 0; k < c; k++ {
			pooled[k] += float64(gradients.Data[i*c+k])
		}
	}
	floats.Scale(1/float64(pixels), pooled)

	acts := make([]float64, len(activations.Data))
	for i, v := range activations.Data {
		acts[i] = float64(v)
	}

	var heat mat.VecDense
	heat.MulVec(mat.NewDense(pixels, c, acts), mat.NewVecDense(c, pooled))

	out := make([]float64, pixels)
	for i := range out {
		if v := heat.AtVec(i); v > 0 {
			out[i] = v
		}
	}
	normalize(out)
	return Map{H: h, W: w, Data: out}, nil
}

// Guided multiplies the heatmap, upsampled to the input size, into the input gradients.
// The product is clipped at zero, scaled to a maximum of 1 and summed over channels.
func Guided(heatmap Map, inputGrads Volume) Map {
	up := ResizeBilinear(heatmap, inputGrads.H, inputGrads.W)
	c := inputGrads.C

	guided := make([]float64, len(inputGrads.Data))
	for i := range guided {
		if v := float64(inputGrads.Data[i]) * up.Data[i/c]; v > 0 {
			guided[i] = v
		}
	}
	normalize(guided)

	out := make([]float64, inputGrads.H*inputGrads.W)
	for i := range out {
		out[i] = floats.Sum(guided[i*c : (i+1)*c])
	}
	return Map{H: inputGrads.H, W: inputGrads.W, Data: out}
}

// ResizeBilinear resamples m to h x w with pixel-centre alignment and edge clamping.
func ResizeBilinear(m Map, h, w int) Map {
	if m.H == h && m.W == w {
		data := make([]float64, len(m.Data))
		copy(data, m.Data)
		return Map{H: h, W: w, Data: data}
	}

	ys := make([]axisSample, h)
	for y := range ys {
		ys[y] = sampleAxis(y, m.H, h)
	}
	xs := make([]axisSample, w)
	for x := range xs {
		xs[x] = sampleAxis(x, m.W, w)
	}

	out := make([]float64, h*w)
	for y, sy := range ys {
		for x, sx := range xs {
			top := m.At(sy.i0, sx.i0)*(1-sx.frac) + m.At(sy.i0, sx.i1)*sx.frac
			bottom := m.At(sy.i1, sx.i0)*(1-sx.frac) + m.At(sy.i1, sx.i1)*sx.frac
			out[y*w+x] = top*(1-sy.frac) + bottom*sy.frac
		}
	}
	return Map{H: h, W: w, Data: out}
}

type axisSample struct {
	i0, i1 int
	frac   float64
}

func sampleAxis(dst, srcN, dstN int) axisSample {
	s := (float64(dst)+0.5)*float64(srcN)/float64(dstN) - 0.5
	if s < 0 {
		s = 0
	}
	i0 := int(s)
	if i0 >= srcN-1 {
		return axisSample{i0: srcN - 1, i1: srcN - 1}
	}
	return axisSample{i0: i0, i1: i0 + 1, frac: s - float64(i0)}
}

// normalize divides values by their maximum when it is positive.
func normalize(values []float64) {
	if len(values) == 0 {
		return
	}
	if peak := floats.Max(values); peak > 0 {
		floats.Scale(1/peak, values)
	}
}

var (
	viridisOnce sync.Once
	viridisLUT  [256]color.RGBA
)

func viridis() *[256]color.RGBA {
	viridisOnce.Do(func() {
		grad := colorgrad.Viridis()
		for i := range viridisLUT {
			r, g, b := grad.At(float64(i) / 255).RGB255()
			viridisLUT[i] = color.RGBA{R: r, G: g, B: b, A: 0xff}
		}
	})
	return &viridisLUT
}

// Colorize maps m through the viridis palette. Values are clamped to [0, 1] and
// quantised to 256 levels.
func Colorize(m Map) *image.RGBA {
	lut := viridis()
	img := image.NewRGBA(image.Rect(0, 0, m.W, m.H))
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			img.SetRGBA(x, y, lut[level(m.At(y, x))])
		}
	}
	return img
}

func level(v float64) int {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	idx := int(v * 256)
	if idx > 255 {
		idx = 255
	}
	return idx
}

// Render runs the whole pipeline and returns the coloured map at the original image size.
func Render(activations, layerGrads, inputGrads Volume, width, height int) (*image.RGBA, error) {
	heat, err := Heatmap(activations, layerGrads)
	if err != nil {
		return nil, err
	}
	guided := Guided(heat, inputGrads)
	return Colorize(ResizeBilinear(guided, height, width)), nil
}
