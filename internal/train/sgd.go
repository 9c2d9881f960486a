package train

import (
	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/longbow-lattice/internal/layer"
)

// SGD applies stochastic gradient descent with momentum. The velocity lives
// in each layer's weight accumulator; biases take a plain gradient step.
type SGD struct {
	LearningRate float64
	Momentum     float64
	// WeightDecay is an L2 penalty on weights only.
	WeightDecay float64
}

// Update steps every parameterized layer using its current gradients.
func (o SGD) Update(layers []layer.Layer) {
	for _, l := range layers {
		p := l.Params()
		if p == nil {
			continue
		}

		w := p.Weights.Data()
		accum := p.WeightAccum.Data()

		// accum = momentum*accum + grad + decay*w
		floats.Scale(o.Momentum, accum)
		floats.Add(accum, p.WeightGrads.Data())
		if o.WeightDecay != 0 {
			floats.AddScaled(accum, o.WeightDecay, w)
		}
		floats.AddScaled(w, -o.LearningRate, accum)

		floats.AddScaled(p.Biases.Data(), -o.LearningRate, p.BiasGrads.Data())
	}
}
