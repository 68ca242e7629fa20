package inference

import (
	"context"

	"github.com/docvisionai/backend/internal/analysis/gradcam"
)

// Explanation carries what Grad-CAM needs from one backward pass.
type Explanation struct {
	// Activations and LayerGrads belong to the explained convolutional layer.
	Activations gradcam.Volume
	LayerGrads  gradcam.Volume
	// InputGrads is the gradient of the score with respect to the input image.
	InputGrads gradcam.Volume
}

// Classifier scores a preprocessed InputSize x InputSize x 3 image.
// Implementations must be safe for concurrent use.
type Classifier interface {
	// Score returns the pneumonia probability.
	Score(ctx context.Context, input []float32) (float32, error)
	// Explain returns layer activations and gradients for the same input.
	Explain(ctx context.Context, input []float32) (Explanation, error)
}
