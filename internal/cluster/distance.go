package cluster

import (
	"fmt"
	"math"

	"github.com/andresmejia3/aibum/internal/types"
)

// DefaultThreshold is the Euclidean distance below which two descriptors belong to the same person.
// It is tied to the 128-d recognition model and to every group persisted with it; do not retune.
const DefaultThreshold = 0.6

// DefaultDimension is the descriptor length of the recognition model.
const DefaultDimension = 128

// Distance returns the Euclidean (L2) distance between two embeddings.
func Distance(a, b types.Embedding) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("%w: embedding length mismatch (%d vs %d)", ErrInvalidInput, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Validate checks that an embedding is usable for matching.
// A dim of 0 accepts any non-empty length.
func Validate(e types.Embedding, dim int) error {
	if len(e) == 0 {
		return fmt.Errorf("%w: face has no embedding", ErrDetectionIncomplete)
	}
	if dim > 0 && len(e) != dim {
		return fmt.Errorf("%w: expected %d-d embedding, got %d", ErrInvalidInput, dim, len(e))
	}
	for i, v := range e {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value at index %d", ErrInvalidInput, i)
		}
	}
	return nil
}
