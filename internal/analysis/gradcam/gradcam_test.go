package gradcam

import (
	"math"
	"testing"
)

func mustVolume(t *testing.T, h, w, c int, data ...float32) Volume {
	t.Helper()
	v, err := NewVolume(h, w, c, data)
	if err != nil {
		t.Fatalf("NewVolume err: %v", err)
	}
	return v
}

func assertClose(t *testing.T, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length %d, want %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("index %d: got %v want %v (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestNewVolumeRejectsBadShape(t *testing.T) {
	if _, err := NewVolume(2, 2, 1, []float32{1, 2, 3}); err == nil {
		t.Fatal("expected length mismatch error")
	}
	if _, err := NewVolume(0, 2, 1, nil); err == nil {
		t.Fatal("expected invalid shape error")
	}
}

func TestHeatmapWeightsByPooledGradients(t *testing.T) {
	acts := mustVolume(t, 1, 2, 2, 1, 0, 0, 2)
	grads := mustVolume(t, 1, 2, 2, 2, 0, 0, 2)

	heat, err := Heatmap(acts, grads)
	if err != nil {
		t.Fatalf("Heatmap err: %v", err)
	}
	assertClose(t, heat.Data, []float64{0.5, 1})
}

func TestHeatmapAllNegativeStaysZero(t *testing.T) {
	acts := mustVolume(t, 1, 2, 1, 1, 3)
	grads := mustVolume(t, 1, 2, 1, -1, -1)

	heat, err := Heatmap(acts, grads)
	if err != nil {
		t.Fatalf("Heatmap err: %v", err)
	}
	assertClose(t, heat.Data, []float64{0, 0})
}

func TestHeatmapShapeMismatch(t *testing.T) {
	if _, err := Heatmap(mustVolume(t, 1, 1, 2, 1, 1), mustVolume(t, 1, 1, 1, 1)); err != ErrShapeMismatch {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestResizeBilinearUsesPixelCentres(t *testing.T) {
	got := ResizeBilinear(Map{H: 1, W: 2, Data: []float64{0, 1}}, 1, 4)
	assertClose(t, got.Data, []float64{0, 0.25, 0.75, 1})
}

func TestResizeBilinearSameSizeCopies(t *testing.T) {
	src := Map{H: 1, W: 2, Data: []float64{3, 4}}
	got := ResizeBilinear(src, 1, 2)
	got.Data[0] = 9
	if src.Data[0] != 3 {
		t.Fatal("resize must not alias its input")
	}
}

func TestGuidedClipsAndNormalizes(t *testing.T) {
	heat := Map{H: 1, W: 1, Data: []float64{1}}
	grads := mustVolume(t, 2, 2, 1, 1, -1, 2, 0)

	got := Guided(heat, grads)
	if got.H != 2 || got.W != 2 {
		t.Fatalf("unexpected size %dx%d", got.H, got.W)
	}
	assertClose(t, got.Data, []float64{0.5, 0, 1, 0})
}

func TestGuidedSumsChannels(t *testing.T) {
	heat := Map{H: 1, W: 1, Data: []float64{1}}
	grads := mustVolume(t, 1, 1, 3, 1, 1, 2)

	got := Guided(heat, grads)
	assertClose(t, got.Data, []float64{2})
}

func TestColorizeClampsAndIsOpaque(t *testing.T) {
	img := Colorize(Map{H: 1, W: 4, Data: []float64{-1, 0, 1, 3}})
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 1 {
		t.Fatalf("unexpected bounds %v", b)
	}
	if img.RGBAAt(0, 0) != img.RGBAAt(1, 0) {
		t.Fatal("values below zero should clamp to the first colour")
	}
	if img.RGBAAt(2, 0) != img.RGBAAt(3, 0) {
		t.Fatal("values above one should clamp to the last colour")
	}
	if img.RGBAAt(0, 0) == img.RGBAAt(3, 0) {
		t.Fatal("palette ends should differ")
	}
	for x := 0; x < 4; x++ {
		if img.RGBAAt(x, 0).A != 0xff {
			t.Fatalf("pixel %d is not opaque", x)
		}
	}
}

func TestRenderProducesOriginalSize(t *testing.T) {
	acts := mustVolume(t, 2, 2, 1, 1, 2, 3, 4)
	layerGrads := mustVolume(t, 2, 2, 1, 1, 1, 1, 1)
	inputGrads := mustVolume(t, 4, 4, 3, make([]float32, 48)...)
	for i := range inputGrads.Data {
		inputGrads.Data[i] = float32(i%5) - 1
	}

	img, err := Render(acts, layerGrads, inputGrads, 7, 3)
	if err != nil {
		t.Fatalf("Render err: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 7 || b.Dy() != 3 {
		t.Fatalf("unexpected bounds %v", b)
	}
}
