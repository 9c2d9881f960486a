package train

import (
	"context"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-lattice/internal/layer"
	"github.com/23skdu/longbow-lattice/internal/network"
	"github.com/23skdu/longbow-lattice/internal/tensor"
)

func TestSquaredLoss(t *testing.T) {
	loss, grad, err := SquaredLoss{}.Loss(tensor.Vec(3), 1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, loss)
	assert.Equal(t, []float64{2}, grad.Data())

	_, _, err = SquaredLoss{}.Loss(tensor.Vec(1, 2), 1)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestSGDUpdate(t *testing.T) {
	l, err := layer.New(
		layer.Config{Kind: layer.KindDense, OutputLength: 1, InputLength: 2},
		&layer.Blob{Weights: []float64{1, 1}, Biases: []float64{0}},
	)
	require.NoError(t, err)
	p := l.Params()
	require.NoError(t, p.WeightGrads.CopyFrom([]float64{1, -2}))
	require.NoError(t, p.BiasGrads.CopyFrom([]float64{4}))

	opt := SGD{LearningRate: 0.5, Momentum: 0.5}
	opt.Update([]layer.Layer{layer.NewKMax(1, 1, 1), l})
	assert.Equal(t, []float64{1, -2}, p.WeightAccum.Data())
	assert.Equal(t, []float64{0.5, 2}, p.Weights.Data())
	assert.Equal(t, []float64{-2}, p.Biases.Data())

	// Velocity carries over to the next step
	opt.Update([]layer.Layer{l})
	assert.Equal(t, []float64{1.5, -3}, p.WeightAccum.Data())
	assert.Equal(t, []float64{-0.25, 3.5}, p.Weights.Data())
}

func TestSGDWeightDecay(t *testing.T) {
	l, err := layer.New(
		layer.Config{Kind: layer.KindDense, OutputLength: 1, InputLength: 1},
		&layer.Blob{Weights: []float64{2}, Biases: []float64{0}},
	)
	require.NoError(t, err)

	SGD{LearningRate: 0.5, WeightDecay: 0.5}.Update([]layer.Layer{l})
	assert.Equal(t, []float64{1.5}, l.Params().Weights.Data())
}

func TestSynthetic(t *testing.T) {
	ex := Synthetic(rand.New(rand.NewSource(1)), 10, 2, 3, 2, 6)
	require.Len(t, ex, 10)
	for _, e := range ex {
		dims := e.X.Dims()
		require.Equal(t, 2, dims[0])
		require.Equal(t, 3, dims[2])
		require.GreaterOrEqual(t, dims[1], 2)
		require.LessOrEqual(t, dims[1], 6)
		require.GreaterOrEqual(t, e.Label, 0.0)
		require.LessOrEqual(t, e.Label, 1.0)
	}
}

func TestTrainerFitReducesLoss(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	examples := Synthetic(rng, 100, 1, 2, 1, 8)

	tr := &Trainer{
		Stack: network.NewStack(
			layer.NewKMax(1, 1, 2),
			layer.NewDense(1, 2, rng),
		),
		Loss:      SquaredLoss{},
		Optimizer: SGD{LearningRate: 0.05, Momentum: 0.5},
	}

	before := testutil.ToFloat64(examplesTrained)
	ctx := context.Background()
	initial, err := tr.Evaluate(ctx, examples)
	require.NoError(t, err)

	history, err := tr.Fit(ctx, examples, 10)
	require.NoError(t, err)
	require.Len(t, history, 10)
	assert.Equal(t, before+1000, testutil.ToFloat64(examplesTrained))

	final, err := tr.Evaluate(ctx, examples)
	require.NoError(t, err)
	assert.Less(t, final, initial)
	assert.Less(t, history[len(history)-1], history[0])
}

func TestTrainerFitStopsOnCancel(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	tr := &Trainer{
		Stack:     network.NewStack(layer.NewKMax(1, 1, 1), layer.NewDense(1, 1, rng)),
		Loss:      SquaredLoss{},
		Optimizer: SGD{LearningRate: 0.1},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	history, err := tr.Fit(ctx, Synthetic(rng, 5, 1, 1, 1, 3), 3)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, history)
}

func TestEvaluateLeavesLastForwardPending(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	tr := &Trainer{
		Stack:     network.NewStack(layer.NewKMax(1, 1, 1), layer.NewDense(1, 1, rng)),
		Loss:      SquaredLoss{},
		Optimizer: SGD{LearningRate: 0.1},
	}
	ctx := context.Background()
	examples := []Example{
		{X: tensor.Vec(1, 2), Label: 1},
		{X: tensor.Vec(0, 3, 1, 2), Label: 0},
	}

	_, err := tr.Evaluate(ctx, examples)
	require.NoError(t, err)

	// Routed through the last example's selection
	g, err := tr.Stack.Backward(ctx, tensor.Vec(1), 0)
	require.NoError(t, err)
	require.Equal(t, []int{1, 4, 1}, g.Dims())
	assert.Zero(t, g.At(0))
	assert.NotZero(t, g.At(1))

	_, err = tr.Stack.Backward(ctx, tensor.Vec(1), 0)
	require.ErrorIs(t, err, layer.ErrNoForward)

	_, err = tr.Step(ctx, examples[0])
	require.NoError(t, err)
}
