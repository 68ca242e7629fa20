package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"

	"github.com/docvisionai/backend/internal/analysis/gradcam"
)

// Diagnoses returned by Predict.
const (
	DiagnosisPneumonia = "Pneumonia detected"
	DiagnosisNormal    = "Normal"
)

// Threshold separates the two diagnoses; scores strictly above it are pneumonia.
const Threshold = 0.5

// heatmapQuality matches the default JPEG quality of common imaging libraries.
const heatmapQuality = 75

var (
	// ErrNoImage is returned for an empty upload.
	ErrNoImage = errors.New("no image provided")
	// ErrNotGrayscale is returned when the grayscale gate is on and the upload has colour.
	ErrNotGrayscale = errors.New("uploaded file is not a grayscale image")
)

// Prediction is the classifier verdict with its Guided Grad-CAM visualisation.
type Prediction struct {
	Result     string  `json:"result"`
	Diagnosis  string  `json:"diagnosis"`
	Confidence float64 `json:"confidence"`
	// Heatmap is a base64 encoded JPEG at the uploaded image's size.
	Heatmap string `json:"heatmap"`
}

// Service runs pneumonia predictions.
type Service struct {
	classifier       Classifier
	requireGrayscale bool
	logger           *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithGrayscaleGate rejects uploads whose pixels carry colour.
func WithGrayscaleGate(enabled bool) Option {
	return func(s *Service) { s.requireGrayscale = enabled }
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService wraps a loaded classifier.
func NewService(classifier Classifier, opts ...Option) *Service {
	s := &Service{classifier: classifier, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Diagnose maps a raw score to a diagnosis and its confidence.
func Diagnose(score float32) (string, float64) {
	s := float64(score)
	if s > Threshold {
		return DiagnosisPneumonia, s
	}
	return DiagnosisNormal, 1 - s
}

// Predict classifies an encoded chest X-ray and renders its heatmap.
func (s *Service) Predict(ctx context.Context, imageBytes []byte) (Prediction, error) {
	if len(imageBytes) == 0 {
		return Prediction{}, ErrNoImage
	}

	img, err := decodeImage(imageBytes)
	if err != nil {
		return Prediction{}, err
	}
	if s.requireGrayscale && !IsGrayscale(img) {
		return Prediction{}, ErrNotGrayscale
	}

	input := Preprocess(img)
	score, err := s.classifier.Score(ctx, input)
	if err != nil {
		return Prediction{}, fmt.Errorf("score image: %w", err)
	}
	diagnosis, confidence := Diagnose(score)

	explanation, err := s.classifier.Explain(ctx, input)
	if err != nil {
		return Prediction{}, fmt.Errorf("explain prediction: %w", err)
	}
	bounds := img.Bounds()
	heat, err := gradcam.Render(explanation.Activations, explanation.LayerGrads, explanation.InputGrads, bounds.Dx(), bounds.Dy())
	if err != nil {
		return Prediction{}, fmt.Errorf("render heatmap: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, heat, &jpeg.Options{Quality: heatmapQuality}); err != nil {
		return Prediction{}, fmt.Errorf("encode heatmap: %w", err)
	}

	s.logger.InfoContext(ctx, "prediction finished", "diagnosis", diagnosis, "score", score, "width", bounds.Dx(), "height", bounds.Dy())
	return Prediction{
		Result:     fmt.Sprintf("%s with %.2f%% confidence", diagnosis, confidence*100),
		Diagnosis:  diagnosis,
		Confidence: confidence,
		Heatmap:    base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}
