package train

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-lattice/internal/network"
	"github.com/23skdu/longbow-lattice/internal/tensor"
)

// Example is one training pair.
type Example struct {
	X     *tensor.Tensor
	Label float64
}

// Trainer runs forward, loss, backward and update for one example at a time.
type Trainer struct {
	Stack     *network.Stack
	Loss      Loss
	Optimizer SGD
}

// Step trains on a single example and returns its loss.
func (t *Trainer) Step(ctx context.Context, ex Example) (float64, error) {
	pred, err := t.Stack.Forward(ctx, ex.X)
	if err != nil {
		return 0, err
	}
	loss, grad, err := t.Loss.Loss(pred, ex.Label)
	if err != nil {
		return 0, err
	}
	if _, err := t.Stack.Backward(ctx, grad, ex.Label); err != nil {
		return 0, err
	}
	t.Optimizer.Update(t.Stack.Layers())
	examplesTrained.Inc()
	return loss, nil
}

// Fit runs epochs over examples in order and returns the average loss of
// each epoch. It stops early with ctx.Err() if ctx is cancelled.
func (t *Trainer) Fit(ctx context.Context, examples []Example, epochs int) ([]float64, error) {
	history := make([]float64, 0, epochs)
	for epoch := 0; epoch < epochs; epoch++ {
		start := time.Now()
		var total float64
		for i, ex := range examples {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			loss, err := t.Step(ctx, ex)
			if err != nil {
				return history, fmt.Errorf("epoch %d example %d: %w", epoch, i, err)
			}
			total += loss
		}

		avg := 0.0
		if len(examples) > 0 {
			avg = total / float64(len(examples))
		}
		history = append(history, avg)
		epochLoss.Set(avg)

		log.Info().
			Int("epoch", epoch).
			Float64("loss", avg).
			Dur("elapsed", time.Since(start)).
			Msg("Epoch complete")
	}
	return history, nil
}

// Evaluate returns the average loss over examples without updating weights.
// Each example runs a full forward pass, so afterwards every layer holds the
// pending forward of the last example and a Backward on the stack pairs with
// it. Run the next Step or Fit before calling Backward directly.
func (t *Trainer) Evaluate(ctx context.Context, examples []Example) (float64, error) {
	if len(examples) == 0 {
		return 0, nil
	}
	var total float64
	for _, ex := range examples {
		pred, err := t.Stack.Forward(ctx, ex.X)
		if err != nil {
			return 0, err
		}
		loss, _, err := t.Loss.Loss(pred, ex.Label)
		if err != nil {
			return 0, err
		}
		total += loss
	}
	return total / float64(len(examples)), nil
}
