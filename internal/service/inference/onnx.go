package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/docvisionai/backend/internal/analysis/gradcam"
	"github.com/docvisionai/backend/internal/config"
)

const (
	onnxInputName = "input"
	onnxScoreName = "score"
)

var envMu sync.Mutex

// ONNXClassifier runs an exported classifier with ONNX Runtime. The exported graph
// exposes the score and, for Grad-CAM, the activations and gradients of one layer
// plus the gradient of the score with respect to the input.
type ONNXClassifier struct {
	score   *ort.DynamicAdvancedSession
	explain *ort.DynamicAdvancedSession
	layer   string
}

// NewONNXClassifier initialises the runtime and loads both sessions from cfg.Path.
func NewONNXClassifier(cfg config.ModelConfig, logger *slog.Logger) (*ONNXClassifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := initRuntime(cfg.RuntimeLibrary); err != nil {
		return nil, err
	}

	layer := cfg.GradCAMLayer
	inputs := []string{onnxInputName}

	score, err := ort.NewDynamicAdvancedSession(cfg.Path, inputs, []string{onnxScoreName}, nil)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", cfg.Path, err)
	}

	explainOutputs := []string{layer + "_output", layer + "_grad", "input_grad"}
	explain, err := ort.NewDynamicAdvancedSession(cfg.Path, inputs, explainOutputs, nil)
	if err != nil {
		_ = score.Destroy()
		return nil, fmt.Errorf("load explain outputs for layer %s: %w", layer, err)
	}

	logger.Info("model loaded successfully", "path", cfg.Path, "gradcam_layer", layer)
	return &ONNXClassifier{score: score, explain: explain, layer: layer}, nil
}

func initRuntime(library string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if library != "" {
		ort.SetSharedLibraryPath(library)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialise onnxruntime: %w", err)
	}
	return nil
}

// Score implements Classifier.
func (c *ONNXClassifier) Score(_ context.Context, input []float32) (float32, error) {
	outputs, err := c.run(c.score, input, 1)
	if err != nil {
		return 0, err
	}
	defer destroyAll(outputs)

	data, _, err := floatData(outputs[0], onnxScoreName)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, errors.New("model returned an empty score")
	}
	return data[0], nil
}

// Explain implements Classifier.
func (c *ONNXClassifier) Explain(_ context.Context, input []float32) (Explanation, error) {
	outputs, err := c.run(c.explain, input, 3)
	if err != nil {
		return Explanation{}, err
	}
	defer destroyAll(outputs)

	names := []string{c.layer + "_output", c.layer + "_grad", "input_grad"}
	volumes := make([]gradcam.Volume, len(outputs))
	for i, out := range outputs {
		data, shape, err := floatData(out, names[i])
		if err != nil {
			return Explanation{}, err
		}
		if volumes[i], err = volumeFromOutput(names[i], data, shape); err != nil {
			return Explanation{}, err
		}
	}

	return Explanation{Activations: volumes[0], LayerGrads: volumes[1], InputGrads: volumes[2]}, nil
}

func (c *ONNXClassifier) run(session *ort.DynamicAdvancedSession, input []float32, outputs int) ([]ort.Value, error) {
	tensor, err := ort.NewTensor(ort.NewShape(1, InputSize, InputSize, InputChannels), input)
	if err != nil {
		return nil, fmt.Errorf("build input tensor: %w", err)
	}
	defer tensor.Destroy()

	results := make([]ort.Value, outputs)
	if err := session.Run([]ort.Value{tensor}, results); err != nil {
		destroyAll(results)
		return nil, fmt.Errorf("run model: %w", err)
	}
	return results, nil
}

// volumeFromOutput copies a [1,H,W,C] output into a Volume. Output buffers are
// released once the run returns.
func volumeFromOutput(name string, data []float32, shape ort.Shape) (gradcam.Volume, error) {
	if len(shape) != 4 || shape[0] != 1 {
		return gradcam.Volume{}, fmt.Errorf("output %s: expected a [1,H,W,C] tensor, got %v", name, shape)
	}
	owned := make([]float32, len(data))
	copy(owned, data)
	v, err := gradcam.NewVolume(int(shape[1]), int(shape[2]), int(shape[3]), owned)
	if err != nil {
		return gradcam.Volume{}, fmt.Errorf("output %s: %w", name, err)
	}
	return v, nil
}

func floatData(v ort.Value, name string) ([]float32, ort.Shape, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("output %s is not a float32 tensor", name)
	}
	return t.GetData(), t.GetShape(), nil
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			_ = v.Destroy()
		}
	}
}

// Close releases both sessions. The runtime environment stays up for the process.
func (c *ONNXClassifier) Close() error {
	return errors.Join(c.score.Destroy(), c.explain.Destroy())
}
