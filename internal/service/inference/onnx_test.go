package inference

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/docvisionai/backend/internal/config"
)

func TestVolumeFromOutputChecksShape(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6, 7, 8}

	v, err := volumeFromOutput("mixed8_output", data, ort.NewShape(1, 2, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, v.H)
	assert.Equal(t, 2, v.W)
	assert.Equal(t, 2, v.C)

	data[0] = 99
	assert.Equal(t, float32(1), v.Data[0], "volume must own a copy of the runtime buffer")

	cases := map[string]ort.Shape{
		"batch of two": ort.NewShape(2, 2, 2, 1),
		"rank two":     ort.NewShape(1, 8),
		"too large":    ort.NewShape(1, 4, 4, 2),
	}
	for name, shape := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := volumeFromOutput("input_grad", data, shape)
			assert.ErrorContains(t, err, "input_grad")
		})
	}
}

// The exported model is not checked in; point DOCVISION_TEST_ONNX_MODEL at one to
// run this against a real runtime.
func TestONNXClassifierRunsExportedModel(t *testing.T) {
	lib := os.Getenv("ONNXRUNTIME_LIB")
	modelPath := os.Getenv("DOCVISION_TEST_ONNX_MODEL")
	if lib == "" || modelPath == "" {
		t.Skip("ONNXRUNTIME_LIB or DOCVISION_TEST_ONNX_MODEL not set")
	}

	classifier, err := NewONNXClassifier(config.ModelConfig{
		Path:           modelPath,
		RuntimeLibrary: lib,
		GradCAMLayer:   "mixed8",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = classifier.Close() })

	input := make([]float32, InputSize*InputSize*InputChannels)
	for i := range input {
		input[i] = float32(i%255) / 255
	}

	score, err := classifier.Score(context.Background(), input)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score, float32(0))
	assert.LessOrEqual(t, score, float32(1))

	again, err := classifier.Score(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, score, again)

	exp, err := classifier.Explain(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, exp.Activations.H, exp.LayerGrads.H)
	assert.Equal(t, exp.Activations.W, exp.LayerGrads.W)
	assert.Equal(t, exp.Activations.C, exp.LayerGrads.C)
	assert.Equal(t, InputSize, exp.InputGrads.H)
	assert.Equal(t, InputSize, exp.InputGrads.W)
	assert.Equal(t, InputChannels, exp.InputGrads.C)
}
