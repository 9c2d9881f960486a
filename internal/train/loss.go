// Package train drives online training of a network stack.
package train

import (
	"fmt"

	"github.com/23skdu/longbow-lattice/internal/tensor"
)

// Loss scores a prediction against a scalar label.
type Loss interface {
	// Loss returns the loss value and its gradient w.r.t. pred.
	Loss(pred *tensor.Tensor, label float64) (float64, *tensor.Tensor, error)
}

// SquaredLoss is 0.5 * (pred - label)^2 on a single output.
type SquaredLoss struct{}

func (SquaredLoss) Loss(pred *tensor.Tensor, label float64) (float64, *tensor.Tensor, error) {
	if pred.Len() != 1 {
		return 0, nil, fmt.Errorf("squared loss: %w: %d outputs, want 1", tensor.ErrShapeMismatch, pred.Len())
	}
	d := pred.At(0) - label
	return 0.5 * d * d, tensor.Vec(d), nil
}
