package assessment

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/kyc-worker/internal/tensor"
)

// Model runs one forward pass over a frame. Implementations own resizing,
// normalization and channel layout for their input tensor.
type Model interface {
	Infer(frame Frame) (tensor.Tensor, error)
}

const (
	heuristicWeight = 0.5
	modelWeight     = 0.5
	embeddingEps    = 1e-6
)

// ProbabilityAt extracts the liveness probability at index of the squeezed
// output, falling back to the mean of all values.
func ProbabilityAt(out tensor.Tensor, index int) float64 {
	if v, ok := out.Squeeze().At(index); ok {
		return float64(v)
	}
	return out.Mean()
}

// FuseLiveness blends the heuristic score with the mean model probability.
func FuseLiveness(heuristic float64, probabilities []float64) float64 {
	if len(probabilities) == 0 {
		return heuristic
	}
	var sum float64
	for _, p := range probabilities {
		sum += p
	}
	return clamp(heuristicWeight*heuristic+modelWeight*sum/float64(len(probabilities)), 0, 1)
}

// Embedding is an L2-normalized face descriptor.
type Embedding []float32

var errEmptyEmbedding = errors.New("empty embedding")

// NewEmbedding squeezes a model output and normalizes it as v / (|v| + 1e-6).
func NewEmbedding(out tensor.Tensor) (Embedding, error) {
	v := out.Squeeze().Data
	if len(v) == 0 {
		return nil, errEmptyEmbedding
	}
	var sq float64
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, errors.New("embedding holds non-finite values")
		}
		sq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sq) + embeddingEps
	e := make(Embedding, len(v))
	for i, x := range v {
		e[i] = float32(float64(x) / norm)
	}
	return e, nil
}

// Cosine returns the dot product of two embeddings, clamped to [-1, 1].
func (e Embedding) Cosine(other Embedding) (float64, error) {
	if len(e) == 0 || len(e) != len(other) {
		return 0, fmt.Errorf("embedding length mismatch: %d vs %d", len(e), len(other))
	}
	var dot float64
	for i := range e {
		dot += float64(e[i]) * float64(other[i])
	}
	return clamp(dot, -1, 1), nil
}
